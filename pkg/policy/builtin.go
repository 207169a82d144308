package policy

import (
	"time"
)

// DefaultThreshold is the affinity (kcal/mol) above which a candidate is weak.
const DefaultThreshold = -6.0

// GetBuiltinPolicies returns the built-in verdict policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		weakAffinityPolicy(),
		emptyPosePolicy(),
	}
}

// weakAffinityPolicy retries when the best affinity is above the threshold.
func weakAffinityPolicy() Policy {
	return Policy{
		Name:        "weak-affinity",
		Description: "Retry candidate generation when the docked affinity is weaker than the threshold",
		Rego: `package updohilo.verdict.affinity

import rego.v1

default retry := false

retry if {
	input.docking.affinity != null
	input.docking.affinity > input.threshold
}

reasons contains msg if {
	retry
	msg := sprintf("affinity %v is above threshold %v", [input.docking.affinity, input.threshold])
}
`,
		Enabled:   true,
		Metadata:  map[string]interface{}{"source": "builtin"},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// emptyPosePolicy retries when docking produced no usable pose.
func emptyPosePolicy() Policy {
	return Policy{
		Name:        "empty-pose",
		Description: "Retry candidate generation when the docked pose has no coordinate records",
		Rego: `package updohilo.verdict.pose

import rego.v1

default retry := false

retry if {
	input.pose.records == 0
}

reasons contains "pose has no coordinate records" if {
	retry
}
`,
		Enabled:   true,
		Metadata:  map[string]interface{}{"source": "builtin"},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}
