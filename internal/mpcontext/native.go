package mpcontext

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrSharedMemoryUnavailable means the runtime has no POSIX shared memory.
var ErrSharedMemoryUnavailable = errors.New("shared memory (/dev/shm) is not available")

// SharedMemoryPath is where process-based primitives keep their semaphores.
var SharedMemoryPath = "/dev/shm"

// SharedMemoryAvailable reports whether SharedMemoryPath exists and is a directory.
func SharedMemoryAvailable() bool {
	info, err := os.Stat(SharedMemoryPath)
	return err == nil && info.IsDir()
}

// ProcessContext is the ambient context before Install runs. Its primitives
// would be process-shared semaphores; they are never built in this binary,
// so every constructor panics with a SubstitutionError.
type ProcessContext struct{}

func (c *ProcessContext) forbidden(primitive string) error {
	cause := ErrSharedMemoryUnavailable
	if SharedMemoryAvailable() {
		cause = errors.New("process-based primitives are not supported")
	}
	return &SubstitutionError{
		Point:  "context." + primitive,
		Reason: "process context used before mpcontext.Install",
		Err:    cause,
	}
}

// Process implements Context.
func (c *ProcessContext) Process(target func(args ...any), args ...any) Worker {
	panic(c.forbidden("Process"))
}

// Lock implements Context.
func (c *ProcessContext) Lock() sync.Locker {
	panic(c.forbidden("Lock"))
}

// RLock implements Context.
func (c *ProcessContext) RLock() ReentrantLock {
	panic(c.forbidden("RLock"))
}

// Queue implements Context.
func (c *ProcessContext) Queue(maxsize int) Queue {
	panic(c.forbidden("Queue"))
}

// NewProcessPool is the pool factory before Install runs. It always fails.
func NewProcessPool(workers int, initializer func(), invocationContext any) (Pool, error) {
	if !SharedMemoryAvailable() {
		return nil, fmt.Errorf("process pool with %d workers: %w", workers, ErrSharedMemoryUnavailable)
	}
	return nil, fmt.Errorf("process pool with %d workers: not supported, call mpcontext.Install first", workers)
}

// SubstitutionError reports a violated substitution precondition. It is
// raised with panic and never recovered.
type SubstitutionError struct {
	Point  string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *SubstitutionError) Error() string {
	msg := fmt.Sprintf("concurrency substitution failed at %s: %s", e.Point, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *SubstitutionError) Unwrap() error {
	return e.Err
}
