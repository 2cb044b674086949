package dbt

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tatenmitdaten/dbt-lambda/internal/mpcontext"
)

// LogFileName is the file dbt writes below --log-path.
const LogFileName = "dbt.log"

// Config configures a CLIRunner.
type Config struct {
	// Executable is the dbt binary, resolved through PATH. Default "dbt".
	Executable string
	// ProjectDir is used when DBT_PROJECT_DIR is unset.
	ProjectDir string
	// Workers bounds the invocation pool. At least 2.
	Workers int
	// PollInterval is how often the JSON log is polled for new lines.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Executable == "" {
		c.Executable = "dbt"
	}
	if c.Workers < 2 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	return c
}

// CLIRunner runs dbt as a subprocess. Events are read from dbt's JSON log
// file, so console output can stay silenced with --log-level none.
type CLIRunner struct {
	config     Config
	primitives Primitives
}

// Primitives returns the concurrency primitives resolved at load time.
func (r *CLIRunner) Primitives() Primitives {
	return r.primitives
}

// Config returns the effective configuration.
func (r *CLIRunner) Config() Config {
	return r.config
}

func (r *CLIRunner) projectDir() string {
	if dir := os.Getenv("DBT_PROJECT_DIR"); dir != "" {
		return dir
	}
	return r.config.ProjectDir
}

// Invoke runs dbt with args and streams its events to callbacks in order.
// A non-nil error means the invocation could not be set up or its results
// could not be read; dbt's own failures are reported in Result.Exception.
func (r *CLIRunner) Invoke(ctx context.Context, args []string, callbacks ...EventCallback) (*Result, error) {
	projectDir := r.projectDir()
	runCommand := IsRunCommand(args)
	if runCommand {
		stale := filepath.Join(projectDir, RunResultsFile)
		if err := os.Remove(stale); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale %s: %w", stale, err)
		}
	}

	logDir, err := os.MkdirTemp("", "dbt-logs-")
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	defer os.RemoveAll(logDir)

	invocationID := uuid.NewString()
	pool, err := r.primitives.PoolFactory(r.config.Workers, nil, invocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	d := newDispatcher(r.primitives.Context, callbacks)
	if err := d.start(); err != nil {
		pool.Join()
		return nil, fmt.Errorf("failed to start event dispatcher: %w", err)
	}

	cmdArgs := append(append([]string{}, args...),
		"--log-format-file", "json",
		"--log-level-file", "debug",
		"--log-path", logDir,
	)
	cmd := exec.CommandContext(ctx, r.config.Executable, cmdArgs...)
	if projectDir != "" {
		cmd.Dir = projectDir
	}
	cmd.Env = append(os.Environ(), "DBT_INVOCATION_ID="+invocationID)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	stderr, err := cmd.StderrPipe()
	if err != nil {
		d.stop()
		pool.Join()
		return nil, fmt.Errorf("failed to open dbt stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		d.stop()
		pool.Join()
		return &Result{Exception: fmt.Errorf("failed to start %s: %w", r.config.Executable, err)}, nil
	}

	exited := make(chan struct{})
	stderrText := make(chan string, 1)
	var tailErr error

	err = pool.ApplyAsync(readAllTask, []any{stderr}, func(result any) {
		s, _ := result.(string)
		stderrText <- s
	})
	if err == nil {
		logPath := filepath.Join(logDir, LogFileName)
		err = pool.ApplyAsync(r.tailTask, []any{logPath, (<-chan struct{})(exited), d}, func(result any) {
			if e, ok := result.(error); ok {
				tailErr = e
			}
		})
	}
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		close(exited)
		pool.Join()
		d.stop()
		return nil, fmt.Errorf("failed to schedule log readers: %w", err)
	}

	stderrOut := <-stderrText
	waitErr := cmd.Wait()
	close(exited)
	pool.Close()
	pool.Join()
	d.stop()

	if tailErr != nil {
		return nil, fmt.Errorf("failed to read dbt log: %w", tailErr)
	}
	if ctx.Err() != nil {
		return &Result{Exception: ctx.Err()}, nil
	}

	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return &Result{Exception: waitErr}, nil
		}
		code = exitErr.ExitCode()
	}
	if code != 0 && code != 1 {
		msg := firstNonEmpty(d.lastError, strings.TrimSpace(stderrOut), strings.TrimSpace(stdout.String()))
		return &Result{Exception: &ExitError{Code: code, Message: msg}}, nil
	}

	result := &Result{Success: code == 0}
	if runCommand {
		raw, err := ReadRunResults(projectDir, d.nodeInfos)
		switch {
		case err == nil:
			result.Result = raw
		case errors.Is(err, fs.ErrNotExist):
			// dbt failed before any node ran.
		default:
			return nil, err
		}
	}
	return result, nil
}

func readAllTask(args ...any) any {
	data, _ := io.ReadAll(args[0].(io.Reader))
	return string(data)
}

// tailTask follows the JSON log until dbt has exited and the file is drained.
func (r *CLIRunner) tailTask(args ...any) any {
	path := args[0].(string)
	exited := args[1].(<-chan struct{})
	d := args[2].(*dispatcher)

	if err := tailLog(path, exited, r.config.PollInterval, d.put); err != nil {
		return err
	}
	return nil
}

// tailLog calls emit for every complete line appended to path. It returns
// once exited is closed and everything written so far was emitted.
func tailLog(path string, exited <-chan struct{}, poll time.Duration, emit func([]byte)) error {
	f, err := waitForFile(path, exited, poll)
	if err != nil || f == nil {
		return err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	var partial []byte
	for {
		chunk, err := reader.ReadBytes('\n')
		partial = append(partial, chunk...)
		if err == nil {
			emit(partial)
			partial = nil
			continue
		}
		if !errors.Is(err, io.EOF) {
			return err
		}

		select {
		case <-exited:
			rest, err := io.ReadAll(reader)
			if err != nil {
				return err
			}
			partial = append(partial, rest...)
			for _, line := range bytes.Split(partial, []byte("\n")) {
				if len(bytes.TrimSpace(line)) > 0 {
					emit(line)
				}
			}
			return nil
		case <-time.After(poll):
		}
	}
}

// waitForFile opens path once it exists. It returns a nil file if dbt exits
// without ever creating it.
func waitForFile(path string, exited <-chan struct{}, poll time.Duration) (*os.File, error) {
	for {
		f, err := os.Open(path)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}

		select {
		case <-exited:
			f, err := os.Open(path)
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return f, err
		case <-time.After(poll):
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// stopDispatch tells the dispatcher that no more events follow.
type stopDispatch struct{}

// dispatcher delivers events to callbacks from a single worker so callbacks
// observe them in log order.
type dispatcher struct {
	queue     mpcontext.Queue
	worker    mpcontext.Worker
	callbacks []EventCallback

	// Owned by the worker until stop returns.
	nodeInfos map[string]map[string]any
	lastError string
}

func newDispatcher(mp mpcontext.Context, callbacks []EventCallback) *dispatcher {
	d := &dispatcher{
		queue:     mp.Queue(0),
		callbacks: callbacks,
		nodeInfos: make(map[string]map[string]any),
	}
	d.worker = mp.Process(d.run)
	return d
}

func (d *dispatcher) start() error {
	return d.worker.Start()
}

func (d *dispatcher) stop() {
	_ = d.queue.Put(stopDispatch{})
	d.worker.Join()
}

// put decodes one log line and queues it. Lines that are not JSON events
// are dropped.
func (d *dispatcher) put(line []byte) {
	ev, err := ParseEvent(line)
	if err != nil {
		return
	}
	_ = d.queue.Put(ev)
}

func (d *dispatcher) run(_ ...any) {
	for {
		ev, ok := d.queue.Get().(Event)
		if !ok {
			return
		}

		if ev.Info.Name == EventNodeFinished {
			if info, id, ok := ev.NodeInfo(); ok {
				d.nodeInfos[id] = info
			}
		}
		if ev.Info.Level == EventLevelError && ev.Info.Msg != "" {
			d.lastError = ev.Info.Msg
		}
		for _, cb := range d.callbacks {
			cb(ev)
		}
	}
}
