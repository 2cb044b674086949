package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RunnerResult is the aggregate outcome of one dbt invocation.
// Nodes keep the order dbt reported them in.
type RunnerResult struct {
	Success bool
	Nodes   []NodeResult
}

// NewRunnerResult creates a RunnerResult. A nil node slice is replaced by an
// empty one so the serialized form always carries a list.
func NewRunnerResult(success bool, nodes []NodeResult) RunnerResult {
	if nodes == nil {
		nodes = []NodeResult{}
	}
	return RunnerResult{Success: success, Nodes: nodes}
}

// Failed returns a new RunnerResult holding only the nodes that did not
// pass. The receiver is left untouched.
func (r RunnerResult) Failed() RunnerResult {
	nodes := make([]NodeResult, 0, len(r.Nodes))
	for _, node := range r.Nodes {
		if !node.IsPassing() {
			nodes = append(nodes, node)
		}
	}
	return RunnerResult{Success: r.Success, Nodes: nodes}
}

// String joins the display line of every node with newlines.
func (r RunnerResult) String() string {
	lines := make([]string, len(r.Nodes))
	for i, node := range r.Nodes {
		lines[i] = node.String()
	}
	return strings.Join(lines, "\n")
}

// AsDict returns the mapping form {success, nodes}.
func (r RunnerResult) AsDict() map[string]any {
	nodes := make([]any, len(r.Nodes))
	for i, node := range r.Nodes {
		nodes[i] = node.AsDict()
	}
	return map[string]any{
		"success": r.Success,
		"nodes":   nodes,
	}
}

// AsJSON serializes the result.
func (r RunnerResult) AsJSON() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal runner result: %w", err)
	}
	return string(data), nil
}

// RunnerResultFromDict rebuilds a RunnerResult from its mapping form.
// Node entries may be raw mappings or NodeResult values.
func RunnerResultFromDict(data map[string]any) (RunnerResult, error) {
	success, ok := data["success"].(bool)
	if !ok {
		return RunnerResult{}, fmt.Errorf("success must be a bool, got %T", data["success"])
	}

	var rawNodes []any
	switch v := data["nodes"].(type) {
	case nil:
	case []any:
		rawNodes = v
	case []map[string]any:
		for _, m := range v {
			rawNodes = append(rawNodes, m)
		}
	case []NodeResult:
		return NewRunnerResult(success, append([]NodeResult(nil), v...)), nil
	default:
		return RunnerResult{}, fmt.Errorf("nodes must be a list, got %T", v)
	}

	nodes := make([]NodeResult, 0, len(rawNodes))
	for i, raw := range rawNodes {
		switch v := raw.(type) {
		case NodeResult:
			nodes = append(nodes, v)
		case map[string]any:
			node, err := NodeResultFromDict(v)
			if err != nil {
				return RunnerResult{}, fmt.Errorf("node %d: %w", i, err)
			}
			nodes = append(nodes, node)
		default:
			return RunnerResult{}, fmt.Errorf("node %d: unsupported type %T", i, raw)
		}
	}

	return NewRunnerResult(success, nodes), nil
}

type runnerResultJSON struct {
	Success bool         `json:"success"`
	Nodes   []NodeResult `json:"nodes"`
}

// MarshalJSON implements json.Marshaler.
func (r RunnerResult) MarshalJSON() ([]byte, error) {
	nodes := r.Nodes
	if nodes == nil {
		nodes = []NodeResult{}
	}
	return json.Marshal(runnerResultJSON{Success: r.Success, Nodes: nodes})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RunnerResult) UnmarshalJSON(data []byte) error {
	var raw runnerResultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = NewRunnerResult(raw.Success, raw.Nodes)
	return nil
}
