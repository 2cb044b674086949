package dbt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RunResultsFile is where dbt writes per-node results, relative to the project.
const RunResultsFile = "target/run_results.json"

// runCommands produce a RunExecutionResult.
var runCommands = map[string]bool{
	"build":    true,
	"run":      true,
	"test":     true,
	"seed":     true,
	"snapshot": true,
	"retry":    true,
}

// subcommands are the top-level dbt commands.
var subcommands = map[string]bool{
	"build":         true,
	"clean":         true,
	"clone":         true,
	"compile":       true,
	"debug":         true,
	"deps":          true,
	"docs":          true,
	"init":          true,
	"list":          true,
	"ls":            true,
	"parse":         true,
	"retry":         true,
	"run":           true,
	"run-operation": true,
	"seed":          true,
	"show":          true,
	"snapshot":      true,
	"source":        true,
	"test":          true,
}

// Node identifies the dbt node a RunResult belongs to.
type Node struct {
	UniqueID string
	NodeInfo map[string]any
}

// RunResult is dbt's raw report for one node.
type RunResult struct {
	Node          Node
	Status        string
	ExecutionTime float64
	Failures      *int
	Message       string
}

// RunExecutionResult is the raw result of commands that execute nodes.
// Results are in the order dbt reported them.
type RunExecutionResult struct {
	Results     []RunResult
	ElapsedTime float64
}

// Command returns the dbt subcommand in args. Leading flags and their
// values are skipped; "" means args name no known subcommand.
func Command(args []string) string {
	for _, arg := range args {
		if subcommands[arg] {
			return arg
		}
	}
	return ""
}

// IsRunCommand reports whether args invoke a command that executes nodes.
func IsRunCommand(args []string) bool {
	return runCommands[Command(args)]
}

type runResultsJSON struct {
	Results []struct {
		UniqueID      string  `json:"unique_id"`
		Status        string  `json:"status"`
		ExecutionTime float64 `json:"execution_time"`
		Failures      *int    `json:"failures"`
		Message       string  `json:"message"`
	} `json:"results"`
	ElapsedTime float64 `json:"elapsed_time"`
}

// ReadRunResults parses <projectDir>/target/run_results.json. Node info is
// taken from nodeInfos (collected from NodeFinished events); nodes without
// an event fall back to {unique_id}.
func ReadRunResults(projectDir string, nodeInfos map[string]map[string]any) (*RunExecutionResult, error) {
	path := filepath.Join(projectDir, RunResultsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var raw runResultsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	result := &RunExecutionResult{
		Results:     make([]RunResult, 0, len(raw.Results)),
		ElapsedTime: raw.ElapsedTime,
	}
	for _, r := range raw.Results {
		info, ok := nodeInfos[r.UniqueID]
		if !ok {
			info = map[string]any{"unique_id": r.UniqueID}
		}
		result.Results = append(result.Results, RunResult{
			Node:          Node{UniqueID: r.UniqueID, NodeInfo: info},
			Status:        r.Status,
			ExecutionTime: r.ExecutionTime,
			Failures:      r.Failures,
			Message:       r.Message,
		})
	}
	return result, nil
}
