// Package main implements the affinity verdict plugin for updohilo.
// It decides whether another candidate should be generated from the docking
// result and pose, and compiles to a WASM reactor module:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o affinity.wasm .
//
// Register it in a pipeline definition and name it as the evaluate morphism:
//
//	plugins: [{name: "affinity", kind: "wasm", path: "affinity.wasm"}]
//	morphisms: evaluate: "affinity"
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Threshold is the affinity (kcal/mol) above which a candidate is retried.
const Threshold = -6.0

// VerdictKey is the output key of the verdict.
const VerdictKey = "retry-verdict"

const vinaResultPrefix = "REMARK VINA RESULT:"

// Result is the JSON document returned to the host.
type Result struct {
	Outputs map[string]any `json:"outputs,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Assessment summarizes one docking round.
type Assessment struct {
	// Affinity is the best-ranked affinity, nil when the result has none.
	Affinity *float64

	// PoseRecords counts the ATOM and HETATM records of the pose.
	PoseRecords int
}

// Retry reports whether the candidate should be regenerated: the pose is
// empty, the affinity is unknown or it is weaker than threshold.
func (a Assessment) Retry(threshold float64) bool {
	if a.PoseRecords == 0 || a.Affinity == nil {
		return true
	}
	return *a.Affinity > threshold
}

// Assess parses the docking result and pose.
func Assess(docking, pose string) Assessment {
	var a Assessment

	scanner := bufio.NewScanner(strings.NewReader(docking))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, vinaResultPrefix) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, vinaResultPrefix))
		if len(fields) == 0 {
			continue
		}
		if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
			a.Affinity = &v
			break
		}
	}

	scanner = bufio.NewScanner(strings.NewReader(pose))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "ATOM") || strings.HasPrefix(line, "HETATM") {
			a.PoseRecords++
		}
	}
	return a
}

// Combine evaluates the JSON array [docking, pose] and returns the encoded
// Result. Errors are reported in the document, never by panicking.
func Combine(input []byte) []byte {
	result := combine(input)
	out, err := json.Marshal(result)
	if err != nil {
		out, _ = json.Marshal(Result{Error: err.Error()})
	}
	return out
}

func combine(input []byte) Result {
	var inputs []any
	if err := json.Unmarshal(input, &inputs); err != nil {
		return Result{Error: fmt.Sprintf("invalid inputs: %v", err)}
	}
	if len(inputs) != 2 {
		return Result{Error: fmt.Sprintf("expected 2 inputs (docking, pose), got %d", len(inputs))}
	}

	docking, ok := inputs[0].(string)
	if !ok {
		return Result{Error: fmt.Sprintf("docking must be text, got %T", inputs[0])}
	}
	pose, ok := inputs[1].(string)
	if !ok {
		return Result{Error: fmt.Sprintf("pose must be text, got %T", inputs[1])}
	}

	return Result{Outputs: map[string]any{
		VerdictKey: Assess(docking, pose).Retry(Threshold),
	}}
}

// main is required by the c-shared build mode; the host calls the exports.
func main() {}
