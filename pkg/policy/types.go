package policy

import (
	"time"
)

// Policy represents a Rego module that decides the retry verdict.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// DockingSummary is the parsed form of a docking result.
type DockingSummary struct {
	// Affinity is the best (lowest) binding affinity in kcal/mol, if any was reported.
	Affinity *float64 `json:"affinity"`

	// Models is the number of docked models in the result.
	Models int `json:"models"`
}

// PoseSummary is the parsed form of a pose file.
type PoseSummary struct {
	// Records is the number of coordinate records in the pose.
	Records int `json:"records"`
}

// VerdictInput is the input document every verdict policy receives.
type VerdictInput struct {
	// Docking summarizes the docking result.
	Docking DockingSummary `json:"docking"`

	// Pose summarizes the docked pose.
	Pose PoseSummary `json:"pose"`

	// Threshold is the affinity above which a candidate is considered weak.
	Threshold float64 `json:"threshold"`
}

// Decision is the combined verdict of every enabled policy.
type Decision struct {
	// Retry is true if any policy asked for a retry.
	Retry bool `json:"retry"`

	// Reasons lists the messages of the policies that asked for a retry.
	Reasons []string `json:"reasons,omitempty"`

	// Policies lists the policies that were evaluated.
	Policies []string `json:"policies"`

	// EvaluatedAt is when the decision was made.
	EvaluatedAt time.Time `json:"evaluated_at"`
}
