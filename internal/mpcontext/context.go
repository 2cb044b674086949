package mpcontext

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueEmpty is returned by non-blocking Queue reads when nothing is queued.
var ErrQueueEmpty = errors.New("queue is empty")

// ErrQueueFull is returned by non-blocking Queue writes on a full bounded queue.
var ErrQueueFull = errors.New("queue is full")

// Worker is a startable, joinable unit of execution.
type Worker interface {
	Start() error
	Join()
	IsAlive() bool
	Name() string
}

// ReentrantLock may be acquired repeatedly by the same owner.
type ReentrantLock interface {
	Acquire(owner string)
	Release(owner string) error
}

// Queue is a FIFO queue safe for concurrent use.
type Queue interface {
	Put(item any) error
	PutNowait(item any) error
	Get() any
	GetNowait() (any, error)
	GetTimeout(timeout time.Duration) (any, error)
	Len() int
}

// Context exposes the four concurrency primitives the runner adapter
// constructs: workers, locks, reentrant locks and queues.
type Context interface {
	Process(target func(args ...any), args ...any) Worker
	Lock() sync.Locker
	RLock() ReentrantLock
	Queue(maxsize int) Queue
}

// ThreadedContext backs every primitive with goroutines and sync.
type ThreadedContext struct{}

// NewThreadedContext returns the goroutine-backed context.
func NewThreadedContext() *ThreadedContext {
	return &ThreadedContext{}
}

// Process implements Context with a goroutine-backed Thread.
func (c *ThreadedContext) Process(target func(args ...any), args ...any) Worker {
	return NewThread(target, args...)
}

// Lock implements Context.
func (c *ThreadedContext) Lock() sync.Locker {
	return &sync.Mutex{}
}

// RLock implements Context.
func (c *ThreadedContext) RLock() ReentrantLock {
	return NewRecursiveLock()
}

// Queue implements Context. maxsize <= 0 means unbounded.
func (c *ThreadedContext) Queue(maxsize int) Queue {
	return NewFIFOQueue(maxsize)
}

// Thread runs a target function on its own goroutine.
type Thread struct {
	name   string
	target func(args ...any)
	args   []any

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// NewThread creates a Thread that has not been started yet.
func NewThread(target func(args ...any), args ...any) *Thread {
	return &Thread{
		name:   "Thread-" + uuid.NewString()[:8],
		target: target,
		args:   args,
		done:   make(chan struct{}),
	}
}

// Name returns the generated thread name.
func (t *Thread) Name() string {
	return t.name
}

// Start launches the goroutine. A thread can be started only once.
func (t *Thread) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("%s: threads can only be started once", t.name)
	}
	t.started = true

	go func() {
		defer close(t.done)
		if t.target != nil {
			t.target(t.args...)
		}
	}()
	return nil
}

// Join blocks until the thread finished. Joining a thread that was never
// started returns immediately.
func (t *Thread) Join() {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return
	}
	<-t.done
}

// IsAlive reports whether the thread was started and has not finished.
func (t *Thread) IsAlive() bool {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// RecursiveLock is a reentrant mutex keyed by an owner token. Go has no
// goroutine identity, so callers pass their own owner name (e.g. the
// Thread name).
type RecursiveLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner string
	count int
}

// NewRecursiveLock returns an unlocked RecursiveLock.
func NewRecursiveLock() *RecursiveLock {
	l := &RecursiveLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire blocks until the lock is free or already held by owner.
func (l *RecursiveLock) Acquire(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.count > 0 && l.owner != owner {
		l.cond.Wait()
	}
	l.owner = owner
	l.count++
}

// Release undoes one Acquire by owner.
func (l *RecursiveLock) Release(owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 || l.owner != owner {
		return fmt.Errorf("cannot release un-acquired lock (owner %q)", owner)
	}
	l.count--
	if l.count == 0 {
		l.owner = ""
		l.cond.Signal()
	}
	return nil
}

// FIFOQueue is a first-in first-out queue, optionally bounded.
type FIFOQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []any
	maxsize  int
}

// NewFIFOQueue creates a queue; maxsize <= 0 means unbounded.
func NewFIFOQueue(maxsize int) *FIFOQueue {
	q := &FIFOQueue{maxsize: maxsize}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

func (q *FIFOQueue) full() bool {
	return q.maxsize > 0 && len(q.items) >= q.maxsize
}

// Put appends item, blocking while a bounded queue is full.
func (q *FIFOQueue) Put(item any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.full() {
		q.notFull.Wait()
	}
	q.items = append(q.items, item)
	q.notEmpty.Signal()
	return nil
}

// PutNowait appends item or returns ErrQueueFull.
func (q *FIFOQueue) PutNowait(item any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.full() {
		return ErrQueueFull
	}
	q.items = append(q.items, item)
	q.notEmpty.Signal()
	return nil
}

// Get removes and returns the oldest item, blocking until one is available.
func (q *FIFOQueue) Get() any {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		q.notEmpty.Wait()
	}
	return q.pop()
}

// GetNowait removes and returns the oldest item or ErrQueueEmpty.
func (q *FIFOQueue) GetNowait() (any, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, ErrQueueEmpty
	}
	return q.pop(), nil
}

// GetTimeout waits up to timeout for an item.
func (q *FIFOQueue) GetTimeout(timeout time.Duration) (any, error) {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if !time.Now().Before(deadline) {
			return nil, ErrQueueEmpty
		}
		q.notEmpty.Wait()
	}
	return q.pop(), nil
}

// Len returns the number of queued items.
func (q *FIFOQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *FIFOQueue) pop() any {
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.notFull.Signal()
	return item
}
