package executor

import (
	"strings"

	"github.com/tatenmitdaten/dbt-lambda/internal/dbt"
	"github.com/tatenmitdaten/dbt-lambda/internal/models"
)

// MapResult converts a raw runner result into the result model. Results
// other than a run execution carry no nodes. Node order is preserved.
func MapResult(res *dbt.Result) models.RunnerResult {
	if res == nil {
		return models.NewRunnerResult(false, nil)
	}

	raw, ok := res.Result.(*dbt.RunExecutionResult)
	if !ok || raw == nil {
		return models.NewRunnerResult(res.Success, nil)
	}

	nodes := make([]models.NodeResult, 0, len(raw.Results))
	for _, r := range raw.Results {
		nodes = append(nodes, models.NewNodeResult(
			r.Node.NodeInfo,
			strings.ToLower(r.Status),
			r.ExecutionTime,
			r.Failures,
		))
	}
	return models.NewRunnerResult(res.Success, nodes)
}

// containsDocs reports whether args contain the literal "docs".
func containsDocs(args []string) bool {
	for _, arg := range args {
		if arg == "docs" {
			return true
		}
	}
	return false
}
