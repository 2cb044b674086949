package mpcontext

import (
	"fmt"
	"sync"
)

var (
	mu          sync.RWMutex
	ambient     Context     = &ProcessContext{}
	poolFactory PoolFactory = NewProcessPool
	installed   bool
	loaded      bool
)

// Install replaces the ambient context and pool factory with the threaded
// versions. Calling it again before the runner is loaded is a no-op.
// Calling it for the first time after the runner was loaded panics: the
// runner may already hold the process-based primitives.
func Install() {
	mu.Lock()
	defer mu.Unlock()

	if installed {
		return
	}
	if loaded {
		panic(&SubstitutionError{
			Point:  "install",
			Reason: "runner was loaded before the threaded context was installed",
		})
	}

	ambient = NewThreadedContext()
	poolFactory = newThreadPool
	installed = true
}

// Installed reports whether Install has run.
func Installed() bool {
	mu.RLock()
	defer mu.RUnlock()
	return installed
}

// Loaded reports whether the runner adapter has resolved its primitives.
func Loaded() bool {
	mu.RLock()
	defer mu.RUnlock()
	return loaded
}

// Resolve marks the runner as loaded and returns the ambient context and
// pool factory. Only the runner adapter's load step calls it.
func Resolve() (Context, PoolFactory) {
	mu.Lock()
	defer mu.Unlock()

	loaded = true
	return ambient, poolFactory
}

// Current returns the ambient context and pool factory without marking
// the runner as loaded.
func Current() (Context, PoolFactory) {
	mu.RLock()
	defer mu.RUnlock()
	return ambient, poolFactory
}

// AssertThreaded panics unless the ambient context is a *ThreadedContext and
// the pool factory builds *ThreadPool values.
func AssertThreaded() {
	ctx, factory := Current()
	AssertThreadedPrimitives(ctx, factory)
}

// AssertThreadedPrimitives panics unless ctx and factory are the threaded
// replacements.
func AssertThreadedPrimitives(ctx Context, factory PoolFactory) {
	if _, ok := ctx.(*ThreadedContext); !ok {
		panic(&SubstitutionError{
			Point:  "context",
			Reason: fmt.Sprintf("ambient context is %T, want *mpcontext.ThreadedContext", ctx),
		})
	}
	if factory == nil {
		panic(&SubstitutionError{Point: "pool", Reason: "pool factory is nil"})
	}

	pool, err := factory(1, nil, nil)
	if err != nil {
		panic(&SubstitutionError{Point: "pool", Reason: "pool factory failed", Err: err})
	}
	defer pool.Join()

	if _, ok := pool.(*ThreadPool); !ok {
		panic(&SubstitutionError{
			Point:  "pool",
			Reason: fmt.Sprintf("pool factory builds %T, want *mpcontext.ThreadPool", pool),
		})
	}
}
