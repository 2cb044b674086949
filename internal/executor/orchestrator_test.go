package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tatenmitdaten/dbt-lambda/internal/dbt"
	"github.com/tatenmitdaten/dbt-lambda/internal/models"
	"github.com/tatenmitdaten/dbt-lambda/internal/mpcontext"
)

func TestMain(m *testing.M) {
	mpcontext.Install()
	os.Exit(m.Run())
}

// fakeRunner records what the orchestrator set up at invocation time.
type fakeRunner struct {
	result *dbt.Result
	err    error
	events []dbt.Event

	args        []string
	env         map[string]string
	threaded    bool
	invocations int
}

func (f *fakeRunner) Invoke(ctx context.Context, args []string, callbacks ...dbt.EventCallback) (*dbt.Result, error) {
	f.invocations++
	f.args = args
	f.env = map[string]string{}
	for _, key := range []string{"DBT_PROJECT_DIR", "DBT_PROFILES_DIR", "DBT_SEND_ANONYMOUS_USAGE_STATS", "SNOWFLAKE_USER"} {
		f.env[key] = os.Getenv(key)
	}

	mp, factory := mpcontext.Current()
	_, isThreadedCtx := mp.(*mpcontext.ThreadedContext)
	pool, err := factory(1, nil, nil)
	if err == nil {
		_, isThreadPool := pool.(*mpcontext.ThreadPool)
		f.threaded = isThreadedCtx && isThreadPool
		pool.Join()
	}

	for _, ev := range f.events {
		for _, cb := range callbacks {
			cb(ev)
		}
	}
	return f.result, f.err
}

type fakeProject struct {
	source, basePath string
	err              error
}

func (f *fakeProject) Materialize(ctx context.Context, source, basePath string) error {
	f.source, f.basePath = source, basePath
	return f.err
}

type fakeCredentials struct{ err error }

func (f *fakeCredentials) SetSnowflakeCredentials(ctx context.Context) error {
	if f.err != nil {
		return f.err
	}
	return os.Setenv("SNOWFLAKE_USER", "loader")
}

type fakeDocs struct {
	calls    int
	basePath string
	err      error
}

func (f *fakeDocs) SaveIndexHTML(ctx context.Context, basePath string) error {
	f.calls++
	f.basePath = basePath
	return f.err
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+": "+msg)
}

func (l *recordingLogger) LogInfo(msg string)  { l.record("info", msg) }
func (l *recordingLogger) LogWarn(msg string)  { l.record("warn", msg) }
func (l *recordingLogger) LogError(msg string) { l.record("error", msg) }

func intPtr(n int) *int { return &n }

// buildResult is one model plus a failing and a warning test.
func buildResult() *dbt.Result {
	return &dbt.Result{
		Success: false,
		Result: &dbt.RunExecutionResult{Results: []dbt.RunResult{
			{
				Node: dbt.Node{UniqueID: "model.demo.orders", NodeInfo: map[string]any{
					"unique_id":     "model.demo.orders",
					"materialized":  "table",
					"node_status":   "success",
					"node_relation": map[string]any{"database": "DB", "schema": "MAIN", "alias": "ORDERS", "relation_name": "DB.MAIN.ORDERS"},
				}},
				Status: "SUCCESS", ExecutionTime: 1.234,
			},
			{
				Node:   dbt.Node{UniqueID: "test.demo.unique_orders", NodeInfo: map[string]any{"unique_id": "test.demo.unique_orders", "materialized": "test"}},
				Status: "fail", ExecutionTime: 0.5, Failures: intPtr(1),
			},
			{
				Node:   dbt.Node{UniqueID: "test.demo.not_null_orders", NodeInfo: map[string]any{"unique_id": "test.demo.not_null_orders", "materialized": "test"}},
				Status: "warn", ExecutionTime: 0.25, Failures: intPtr(2),
			},
		}},
	}
}

func TestRunSingleThreaded_BuildScenario(t *testing.T) {
	t.Setenv("DBT_PROJECT_DIR", "")
	t.Setenv("DBT_PROFILES_DIR", "")
	t.Setenv("DBT_SEND_ANONYMOUS_USAGE_STATS", "")
	t.Setenv("SNOWFLAKE_USER", "")

	base := t.TempDir()
	runner := &fakeRunner{result: buildResult()}
	project := &fakeProject{}
	docs := &fakeDocs{}
	o := NewOrchestrator(runner, Collaborators{Project: project, Credentials: &fakeCredentials{}, Docs: docs}, nil)

	result, err := o.RunSingleThreaded(context.Background(), []string{"build"}, "s3", base)
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Nodes, 3)
	assert.Equal(t, "DB.MAIN.ORDERS", result.Nodes[0].Name())
	assert.Equal(t, "success", result.Nodes[0].Status())
	assert.NotContains(t, result.Nodes[0].NodeInfo(), "node_status")
	assert.Equal(t, "test.demo.unique_orders", result.Nodes[1].Name())
	assert.Equal(t, "fail", result.Nodes[1].Status())
	assert.Equal(t, "warn", result.Nodes[2].Status())

	assert.Equal(t, []string{"build", "--log-level", "none"}, runner.args)
	assert.Equal(t, "s3", project.source)
	assert.Equal(t, base, project.basePath)
	assert.Equal(t, base, runner.env["DBT_PROJECT_DIR"])
	assert.Equal(t, filepath.Join(base, "profiles"), runner.env["DBT_PROFILES_DIR"])
	assert.Equal(t, "False", runner.env["DBT_SEND_ANONYMOUS_USAGE_STATS"])
	assert.Equal(t, "loader", runner.env["SNOWFLAKE_USER"])
	assert.Equal(t, 0, docs.calls)
	assert.Equal(t, PhaseDone, o.Phase())
}

func TestRunSingleThreaded_ThreadedPrimitivesActiveAtInvoke(t *testing.T) {
	runner := &fakeRunner{result: &dbt.Result{Success: true}}
	o := NewOrchestrator(runner, Collaborators{}, nil)

	_, err := o.RunSingleThreaded(context.Background(), []string{"debug"}, "local", t.TempDir())
	require.NoError(t, err)
	assert.True(t, runner.threaded)
}

func TestRunSingleThreaded_DocsExportedOnce(t *testing.T) {
	base := t.TempDir()
	runner := &fakeRunner{result: &dbt.Result{Success: true}}
	docs := &fakeDocs{}
	o := NewOrchestrator(runner, Collaborators{Docs: docs}, nil)

	result, err := o.RunSingleThreaded(context.Background(), []string{"docs", "generate"}, "local", base)
	require.NoError(t, err)

	assert.Equal(t, 1, docs.calls)
	assert.Equal(t, base, docs.basePath)
	assert.True(t, result.Success)
	assert.Empty(t, result.Nodes)
	assert.NotNil(t, result.Nodes)
}

func TestRunSingleThreaded_RunnerException(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
		want   string
	}{
		{
			name:   "exception in result",
			runner: &fakeRunner{result: &dbt.Result{Exception: errors.New("Compilation Error")}},
			want:   "failed to run docs generate: Compilation Error",
		},
		{
			name:   "invoke error",
			runner: &fakeRunner{err: errors.New("no log file")},
			want:   "failed to run docs generate: no log file",
		},
		{
			name:   "nil result",
			runner: &fakeRunner{},
			want:   "failed to run docs generate: runner returned no result",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := &fakeDocs{}
			o := NewOrchestrator(tt.runner, Collaborators{Docs: docs}, nil)

			result, err := o.RunSingleThreaded(context.Background(), []string{"docs", "generate"}, "local", t.TempDir())
			require.Error(t, err)
			assert.EqualError(t, err, tt.want)
			assert.True(t, IsExecutionError(err))
			assert.Empty(t, result.Nodes)
			assert.Equal(t, 0, docs.calls)
			assert.Equal(t, PhaseFailed, o.Phase())
		})
	}
}

func TestRunSingleThreaded_DocsExportFailure(t *testing.T) {
	cause := errors.New("access denied")
	docs := &fakeDocs{err: cause}
	o := NewOrchestrator(&fakeRunner{result: &dbt.Result{Success: true}}, Collaborators{Docs: docs}, nil)

	_, err := o.RunSingleThreaded(context.Background(), []string{"docs", "generate"}, "local", t.TempDir())

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "export docs", stepErr.Step)
	assert.Equal(t, PhaseDelegating, stepErr.Phase)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, docs.calls)
	assert.Equal(t, PhaseFailed, o.Phase())
}

func TestRunSingleThreaded_PreparationFailures(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name          string
		collaborators Collaborators
		step          string
	}{
		{"materialize", Collaborators{Project: &fakeProject{err: cause}}, "materialize project"},
		{"credentials", Collaborators{Credentials: &fakeCredentials{err: cause}}, "inject credentials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{result: &dbt.Result{Success: true}}
			o := NewOrchestrator(runner, tt.collaborators, nil)

			_, err := o.RunSingleThreaded(context.Background(), []string{"build"}, "repo", t.TempDir())

			var stepErr *StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, tt.step, stepErr.Step)
			assert.Equal(t, PhasePreparing, stepErr.Phase)
			assert.ErrorIs(t, err, cause)
			assert.Equal(t, 0, runner.invocations)
			assert.Equal(t, PhaseFailed, o.Phase())
		})
	}
}

func TestRunSingleThreaded_EventFilter(t *testing.T) {
	runner := &fakeRunner{
		result: &dbt.Result{Success: true},
		events: []dbt.Event{
			{Info: dbt.EventInfo{Level: dbt.EventLevelDebug, Msg: "debug noise"}},
			{Info: dbt.EventInfo{Level: dbt.EventLevelInfo, Msg: "\x1b[32mOK\x1b[0m created model"}},
			{Info: dbt.EventInfo{Level: dbt.EventLevelWarn, Msg: "deprecated"}},
			{Info: dbt.EventInfo{Level: dbt.EventLevelError, Msg: "\x1b[1;31mERROR\x1b[0m"}},
		},
	}
	log := &recordingLogger{}
	o := NewOrchestrator(runner, Collaborators{}, log)

	_, err := o.RunSingleThreaded(context.Background(), []string{"run"}, "local", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, []string{"info: OK created model", "warn: deprecated", "error: ERROR"}, log.lines[2:])
}

func TestRunSingleThreaded_PanicsWithoutSubstitution(t *testing.T) {
	runner := &fakeRunner{result: &dbt.Result{Success: true}, err: nil}
	o := NewOrchestrator(&wrongPrimitivesRunner{fakeRunner: runner}, Collaborators{}, nil)

	assert.Panics(t, func() {
		_, _ = o.RunSingleThreaded(context.Background(), []string{"build"}, "local", t.TempDir())
	})
	assert.Equal(t, 0, runner.invocations)
}

// wrongPrimitivesRunner claims to hold the process-based primitives.
type wrongPrimitivesRunner struct {
	*fakeRunner
}

func (w *wrongPrimitivesRunner) Primitives() dbt.Primitives {
	return dbt.Primitives{Context: &mpcontext.ProcessContext{}, PoolFactory: mpcontext.NewProcessPool}
}

func TestNewOrchestrator_NilRunnerPanics(t *testing.T) {
	assert.Panics(t, func() { NewOrchestrator(nil, Collaborators{}, nil) })
}

func TestMapResult(t *testing.T) {
	t.Run("nil result", func(t *testing.T) {
		result := MapResult(nil)
		assert.False(t, result.Success)
		assert.Empty(t, result.Nodes)
	})

	t.Run("non execution result", func(t *testing.T) {
		result := MapResult(&dbt.Result{Success: true, Result: "catalog"})
		assert.Equal(t, models.NewRunnerResult(true, nil), result)
	})

	t.Run("display", func(t *testing.T) {
		pad := func(name string) string { return name + strings.Repeat(".", 60-len(name)) }

		result := MapResult(buildResult())
		want := []string{
			pad("DB.MAIN.ORDERS") + "success in 1.23s",
			pad("test.demo.unique_orders") + "fail[1] in 0.50s",
			pad("test.demo.not_null_orders") + "warn[2] in 0.25s",
		}
		assert.Equal(t, strings.Join(want, "\n"), result.String())
		assert.Len(t, result.Failed().Nodes, 2)
	})
}

func TestExecutionError(t *testing.T) {
	cause := errors.New("Database Error")
	err := NewExecutionError([]string{"run", "--select", "orders"}, cause)

	assert.Equal(t, "failed to run run --select orders: Database Error", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, PhaseDelegating, err.Phase)
	assert.False(t, IsExecutionError(nil))
	assert.False(t, IsExecutionError(cause))
}

func TestPhaseString(t *testing.T) {
	phases := map[Phase]string{
		PhaseIdle:       "idle",
		PhasePreparing:  "preparing",
		PhaseDelegating: "delegating",
		PhaseMapping:    "mapping",
		PhaseDone:       "done",
		PhaseFailed:     "failed",
		Phase(42):       "unknown",
	}
	for phase, want := range phases {
		assert.Equal(t, want, phase.String())
	}
}
