// Package mpcontext provides the worker pool and concurrency context the dbt
// runner adapter resolves at load time.
//
// The process-based primitives need POSIX shared memory, which AWS Lambda
// does not provide (/dev/shm is missing). Install replaces them with
// goroutine-backed equivalents exposing the same call surface. It must run
// before the runner adapter is loaded; main calls it first thing.
package mpcontext

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPoolJoined is returned when work is submitted after Join.
var ErrPoolJoined = errors.New("cannot schedule new tasks after join")

// TaskFunc is a unit of work submitted to a Pool.
type TaskFunc func(args ...any) any

// Callback receives the return value of a TaskFunc.
type Callback func(result any)

// Pool is the worker pool surface the runner adapter uses. Anything else
// a process pool might offer is not needed.
type Pool interface {
	// ApplyAsync schedules fn(args...) and invokes callback exactly once
	// with its return value after fn finishes.
	ApplyAsync(fn TaskFunc, args []any, callback Callback) error
	// Close is accepted for compatibility and does nothing.
	Close()
	// Join blocks until every submitted task and its callback completed.
	Join()
}

// PoolFactory constructs a Pool with the given number of workers. The
// initializer runs once on every worker before it takes work.
type PoolFactory func(workers int, initializer func(), invocationContext any) (Pool, error)

// TaskPanic is passed to the callback when a task panicked.
type TaskPanic struct {
	Value any
}

// Error implements the error interface.
func (p *TaskPanic) Error() string {
	return fmt.Sprintf("task panicked: %v", p.Value)
}

type job struct {
	fn       TaskFunc
	args     []any
	callback Callback
}

// ThreadPool runs tasks on at most Workers goroutines. Workers are spawned
// lazily as work arrives; submission never blocks.
type ThreadPool struct {
	workers           int
	initializer       func()
	invocationContext any

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []job
	spawned int
	idle    int
	joined  bool
	wg      sync.WaitGroup
}

// NewThreadPool creates a ThreadPool. A non-positive worker count means one worker.
func NewThreadPool(workers int, initializer func(), invocationContext any) *ThreadPool {
	if workers <= 0 {
		workers = 1
	}
	p := &ThreadPool{
		workers:           workers,
		initializer:       initializer,
		invocationContext: invocationContext,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// newThreadPool adapts NewThreadPool to the PoolFactory signature.
func newThreadPool(workers int, initializer func(), invocationContext any) (Pool, error) {
	return NewThreadPool(workers, initializer, invocationContext), nil
}

// Workers returns the maximum number of worker goroutines.
func (p *ThreadPool) Workers() int {
	return p.workers
}

// InvocationContext returns the opaque value the pool was created with.
func (p *ThreadPool) InvocationContext() any {
	return p.invocationContext
}

// ApplyAsync implements Pool.
func (p *ThreadPool) ApplyAsync(fn TaskFunc, args []any, callback Callback) error {
	if fn == nil {
		return errors.New("task function is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.joined {
		return ErrPoolJoined
	}

	p.queue = append(p.queue, job{fn: fn, args: args, callback: callback})

	// Idle workers still count as idle until they wake, so compare against
	// the queued work rather than idle == 0.
	if p.idle > 0 {
		p.cond.Signal()
	}
	if len(p.queue) > p.idle && p.spawned < p.workers {
		p.spawned++
		p.wg.Add(1)
		go p.worker()
	}
	return nil
}

// Close implements Pool. There is no pending state to track.
func (p *ThreadPool) Close() {}

// Join implements Pool. It waits for the queue to drain and all workers to
// exit. There is no timeout: a hung task hangs Join.
func (p *ThreadPool) Join() {
	p.mu.Lock()
	p.joined = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *ThreadPool) worker() {
	defer p.wg.Done()

	if p.initializer != nil {
		p.initializer()
	}

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.joined {
			p.idle++
			p.cond.Wait()
			p.idle--
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		j := p.queue[0]
		p.queue[0] = job{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		result := runTask(j.fn, j.args)
		if j.callback != nil {
			runCallback(j.callback, result)
		}
	}
}

// runCallback calls cb and drops a panic so the worker keeps serving.
func runCallback(cb Callback, result any) {
	defer func() {
		_ = recover()
	}()
	cb(result)
}

// runTask calls fn and converts a panic into a *TaskPanic result.
func runTask(fn TaskFunc, args []any) (result any) {
	defer func() {
		if r := recover(); r != nil {
			result = &TaskPanic{Value: r}
		}
	}()
	return fn(args...)
}
