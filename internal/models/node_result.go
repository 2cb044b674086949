package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Node status constants as reported by dbt (lowercase canonical form)
const (
	StatusSuccess = "success"
	StatusPass    = "pass"
	StatusWarn    = "warn"
	StatusFail    = "fail"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// MaterializedTest is the materialization kind of data tests.
const MaterializedTest = "test"

// displayWidth is the column the node name is padded to in display lines.
const displayWidth = 60

// volatileNodeInfoKeys are removed from node_info on construction.
var volatileNodeInfoKeys = []string{
	"meta",
	"node_status",
	"node_started_at",
	"node_finished_at",
	"resource_type",
}

// NodeResult is the outcome of one executed dbt node (model, test, seed, ...).
// The only way to build one is NewNodeResult, which strips volatile fields
// from the node info so the value serializes deterministically.
type NodeResult struct {
	nodeInfo      map[string]any
	status        string
	executionTime float64
	failures      *int
}

// NewNodeResult normalizes the raw node report into a NodeResult.
// The node info is deep-copied, so later changes to the input map are not
// observed. Missing volatile fields are treated as already stripped.
func NewNodeResult(nodeInfo map[string]any, status string, executionTime float64, failures *int) NodeResult {
	info := copyMap(nodeInfo)
	for _, key := range volatileNodeInfoKeys {
		delete(info, key)
	}
	if relation, ok := info["node_relation"].(map[string]any); ok {
		delete(relation, "relation_name")
	}

	var f *int
	if failures != nil {
		v := *failures
		f = &v
	}

	return NodeResult{
		nodeInfo:      info,
		status:        strings.ToLower(status),
		executionTime: executionTime,
		failures:      f,
	}
}

// NodeInfo returns a copy of the stripped node info.
func (n NodeResult) NodeInfo() map[string]any {
	return copyMap(n.nodeInfo)
}

// Status returns the lowercase status tag.
func (n NodeResult) Status() string {
	return n.status
}

// ExecutionTime returns the execution time in seconds.
func (n NodeResult) ExecutionTime() float64 {
	return n.executionTime
}

// Failures returns the failure count, or nil when the node has none.
func (n NodeResult) Failures() *int {
	if n.failures == nil {
		return nil
	}
	v := *n.failures
	return &v
}

// WithExecutionTime returns a copy with the execution time replaced.
// Used to normalize timings in tests and debug output.
func (n NodeResult) WithExecutionTime(seconds float64) NodeResult {
	n.nodeInfo = copyMap(n.nodeInfo)
	n.executionTime = seconds
	return n
}

// IsPassing reports whether the status counts as a passing outcome.
func (n NodeResult) IsPassing() bool {
	return n.status == StatusSuccess || n.status == StatusPass
}

// Name returns the display name: the unique_id for tests, otherwise
// database.schema.alias from node_relation.
func (n NodeResult) Name() string {
	if str(n.nodeInfo["materialized"]) == MaterializedTest {
		return str(n.nodeInfo["unique_id"])
	}
	relation, ok := n.nodeInfo["node_relation"].(map[string]any)
	if !ok {
		return str(n.nodeInfo["unique_id"])
	}
	return fmt.Sprintf("%s.%s.%s", str(relation["database"]), str(relation["schema"]), str(relation["alias"]))
}

// String formats the node as a single display line, e.g.
// "memory.main.test_model......................................success in 0.00s".
func (n NodeResult) String() string {
	name := n.Name()
	if pad := displayWidth - utf8.RuneCountInString(name); pad > 0 {
		name += strings.Repeat(".", pad)
	}

	failures := ""
	if n.failures != nil && *n.failures != 0 {
		failures = fmt.Sprintf("[%d]", *n.failures)
	}

	return fmt.Sprintf("%s%s%s in %.2fs", name, n.status, failures, n.executionTime)
}

// AsDict returns the mapping form used for serialization.
func (n NodeResult) AsDict() map[string]any {
	var failures any
	if n.failures != nil {
		failures = *n.failures
	}
	return map[string]any{
		"node_info":      copyMap(n.nodeInfo),
		"status":         n.status,
		"execution_time": n.executionTime,
		"failures":       failures,
	}
}

// NodeResultFromDict rebuilds a NodeResult from its mapping form.
func NodeResultFromDict(data map[string]any) (NodeResult, error) {
	info := map[string]any{}
	if raw, ok := data["node_info"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return NodeResult{}, fmt.Errorf("node_info must be a mapping, got %T", raw)
		}
		info = m
	}

	status, ok := data["status"].(string)
	if !ok {
		return NodeResult{}, fmt.Errorf("status must be a string, got %T", data["status"])
	}

	executionTime, err := toFloat(data["execution_time"])
	if err != nil {
		return NodeResult{}, fmt.Errorf("execution_time: %w", err)
	}

	var failures *int
	if raw, ok := data["failures"]; ok && raw != nil {
		f, err := toFloat(raw)
		if err != nil {
			return NodeResult{}, fmt.Errorf("failures: %w", err)
		}
		v := int(f)
		failures = &v
	}

	return NewNodeResult(info, status, executionTime, failures), nil
}

type nodeResultJSON struct {
	NodeInfo      map[string]any `json:"node_info"`
	Status        string         `json:"status"`
	ExecutionTime float64        `json:"execution_time"`
	Failures      *int           `json:"failures"`
}

// MarshalJSON implements json.Marshaler.
func (n NodeResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(nodeResultJSON{
		NodeInfo:      n.nodeInfo,
		Status:        n.status,
		ExecutionTime: n.executionTime,
		Failures:      n.failures,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The decoded value goes
// through NewNodeResult so stripping applies to untrusted input too.
func (n *NodeResult) UnmarshalJSON(data []byte) error {
	var raw nodeResultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*n = NewNodeResult(raw.NodeInfo, raw.Status, raw.ExecutionTime, raw.Failures)
	return nil
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// copyMap deep-copies nested maps and slices so NodeResult never shares
// mutable state with its caller.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return copyMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
