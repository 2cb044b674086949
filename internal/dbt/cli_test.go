package dbt

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tatenmitdaten/dbt-lambda/internal/mpcontext"
)

func TestMain(m *testing.M) {
	mpcontext.Install()
	os.Exit(m.Run())
}

// fakeDBT writes a shell script standing in for the dbt binary. The script
// finds --log-path in its arguments and exposes it as $logdir.
func fakeDBT(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake dbt binary is a shell script")
	}

	script := `#!/bin/sh
logdir=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--log-path" ]; then logdir="$a"; fi
  prev="$a"
done
echo "$@" > args.txt
` + body
	path := filepath.Join(t.TempDir(), "dbt")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const buildEvents = `cat > "$logdir/dbt.log" <<'EOF'
{"info":{"name":"MainReportVersion","level":"INFO","msg":"Running with dbt=1.8.0"},"data":{}}
{"info":{"name":"NodeFinished","level":"debug","msg":""},"data":{"node_info":{"unique_id":"model.demo.orders","materialized":"table","node_relation":{"database":"db","schema":"main","alias":"orders"}}}}
{"info":{"name":"LogTestResult","level":"warn","msg":"WARN 1 not_null"},"data":{}}
not json
{"info":{"name":"CommandCompleted","level":"info","msg":"done"},"data":{}}
EOF
mkdir -p target
cat > target/run_results.json <<'EOF'
{"results":[
 {"unique_id":"model.demo.orders","status":"success","execution_time":0.5,"failures":null,"message":"OK"},
 {"unique_id":"test.demo.not_null","status":"warn","execution_time":0.1,"failures":1,"message":"Got 1 result"}
],"elapsed_time":0.7}
EOF
`

func newTestRunner(t *testing.T, executable string) (*CLIRunner, string) {
	t.Helper()
	projectDir := t.TempDir()
	t.Setenv("DBT_PROJECT_DIR", projectDir)
	return Load(Config{Executable: executable, PollInterval: 5 * time.Millisecond}), projectDir
}

func TestLoad_ResolvesThreadedPrimitives(t *testing.T) {
	runner := Load(Config{})

	assert.True(t, mpcontext.Loaded())
	assert.IsType(t, &mpcontext.ThreadedContext{}, runner.Primitives().Context)
	assert.NotPanics(t, func() {
		mpcontext.AssertThreadedPrimitives(runner.Primitives().Context, runner.Primitives().PoolFactory)
	})

	cfg := runner.Config()
	assert.Equal(t, "dbt", cfg.Executable)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
}

func TestInvoke_BuildSuccess(t *testing.T) {
	runner, projectDir := newTestRunner(t, fakeDBT(t, buildEvents+"exit 0\n"))

	var mu sync.Mutex
	var names []string
	res, err := runner.Invoke(context.Background(), []string{"build", "--log-level", "none"}, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, ev.Info.Name)
	})
	require.NoError(t, err)
	require.NoError(t, res.Exception)
	assert.True(t, res.Success)

	assert.Equal(t, []string{"MainReportVersion", "NodeFinished", "LogTestResult", "CommandCompleted"}, names)

	raw, ok := res.Result.(*RunExecutionResult)
	require.True(t, ok, "expected *RunExecutionResult, got %T", res.Result)
	require.Len(t, raw.Results, 2)

	assert.Equal(t, "table", raw.Results[0].Node.NodeInfo["materialized"])
	assert.Equal(t, "success", raw.Results[0].Status)
	assert.Equal(t, map[string]any{"unique_id": "test.demo.not_null"}, raw.Results[1].Node.NodeInfo)
	require.NotNil(t, raw.Results[1].Failures)
	assert.Equal(t, 1, *raw.Results[1].Failures)
	assert.InDelta(t, 0.7, raw.ElapsedTime, 1e-9)

	args, err := os.ReadFile(filepath.Join(projectDir, "args.txt"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(args), "build --log-level none --log-format-file json --log-level-file debug --log-path "))
}

func TestInvoke_FailureExitCodeIsNotException(t *testing.T) {
	runner, _ := newTestRunner(t, fakeDBT(t, buildEvents+"exit 1\n"))

	res, err := runner.Invoke(context.Background(), []string{"build"})
	require.NoError(t, err)
	assert.NoError(t, res.Exception)
	assert.False(t, res.Success)
	assert.IsType(t, &RunExecutionResult{}, res.Result)
}

func TestInvoke_UnexpectedExitCode(t *testing.T) {
	body := `cat > "$logdir/dbt.log" <<'EOF'
{"info":{"name":"MainEncounteredError","level":"error","msg":"Encountered an error: profile not found"},"data":{}}
EOF
echo "traceback" >&2
exit 2
`
	runner, _ := newTestRunner(t, fakeDBT(t, body))

	res, err := runner.Invoke(context.Background(), []string{"build"})
	require.NoError(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, res.Exception, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Equal(t, "Encountered an error: profile not found", exitErr.Message)
	assert.False(t, res.Success)
}

func TestInvoke_StderrUsedWhenNoErrorEvent(t *testing.T) {
	runner, _ := newTestRunner(t, fakeDBT(t, "echo 'boom' >&2\nexit 3\n"))

	res, err := runner.Invoke(context.Background(), []string{"debug"})
	require.NoError(t, err)
	assert.EqualError(t, res.Exception, "dbt exited with code 3: boom")
}

func TestInvoke_MissingExecutable(t *testing.T) {
	runner, _ := newTestRunner(t, filepath.Join(t.TempDir(), "missing-dbt"))

	res, err := runner.Invoke(context.Background(), []string{"build"})
	require.NoError(t, err)
	assert.Error(t, res.Exception)
	assert.Nil(t, res.Result)
}

func TestInvoke_NonRunCommandHasNoRunResult(t *testing.T) {
	runner, _ := newTestRunner(t, fakeDBT(t, buildEvents+"exit 0\n"))

	res, err := runner.Invoke(context.Background(), []string{"docs", "generate"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.Result)
}

func TestInvoke_StaleRunResultsRemoved(t *testing.T) {
	runner, projectDir := newTestRunner(t, fakeDBT(t, "exit 1\n"))

	stale := filepath.Join(projectDir, RunResultsFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte(`{"results":[{"unique_id":"model.old"}]}`), 0o644))

	res, err := runner.Invoke(context.Background(), []string{"run"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Nil(t, res.Result)
	assert.NoFileExists(t, stale)
}

func TestTailLog_FollowsAppendsAndPartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), LogFileName)
	exited := make(chan struct{})

	var lines []string
	done := make(chan error, 1)
	go func() {
		done <- tailLog(path, exited, time.Millisecond, func(line []byte) {
			lines = append(lines, strings.TrimSpace(string(line)))
		})
	}()

	time.Sleep(10 * time.Millisecond)
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = f.WriteString("one\ntw")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = f.WriteString("o\nthree")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	close(exited)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}

func TestTailLog_FileNeverCreated(t *testing.T) {
	exited := make(chan struct{})
	close(exited)

	called := false
	err := tailLog(filepath.Join(t.TempDir(), LogFileName), exited, time.Millisecond, func([]byte) { called = true })
	assert.NoError(t, err)
	assert.False(t, called)
}
