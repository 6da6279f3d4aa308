// Package admission implements the bounded concurrency limiter fronting
// put and get activity on a node: a FIFO with a running cap and a
// waiting cap, keyed by the client handle that owns each slot so that
// handle death releases it.
package admission

import (
	"container/list"
	"sync"

	"github.com/google/uuid"
)

// Handle identifies one in-flight client connection. Production code
// constructs handles from whatever liveness signal the (out-of-scope)
// put/get listener transport exposes; Done must be closed exactly once,
// when the client dies without completing.
type Handle interface {
	ID() uuid.UUID
	Done() <-chan struct{}
}

// handle is the concrete Handle used outside of tests.
type handle struct {
	id   uuid.UUID
	done chan struct{}
}

// NewHandle returns a fresh client handle and the function that signals
// its death.
func NewHandle() (Handle, func()) {
	h := &handle{id: uuid.New(), done: make(chan struct{})}
	var once sync.Once
	kill := func() { once.Do(func() { close(h.done) }) }
	return h, kill
}

func (h *handle) ID() uuid.UUID         { return h.id }
func (h *handle) Done() <-chan struct{} { return h.done }

// AdmitResult is the outcome of Add.
type AdmitResult int

const (
	AcceptedRunning AdmitResult = iota
	AcceptedWaiting
	Full
)

func (r AdmitResult) String() string {
	switch r {
	case AcceptedRunning:
		return "accepted-running"
	case AcceptedWaiting:
		return "accepted-waiting"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

type waiter struct {
	handle Handle
	action func()
}

// Queue is a bounded concurrency coordinator. It never runs an action
// itself except by invoking the closure handed to Add; callers are
// responsible for the action's own blocking/non-blocking behavior.
type Queue struct {
	capacity   int
	maxWaiting int

	mu      sync.Mutex
	running map[uuid.UUID]Handle
	waiting *list.List // of *waiter
	index   map[uuid.UUID]*list.Element
	watched map[uuid.UUID]func() // per-handle death watcher stop
}

// New constructs a Queue admitting at most capacity concurrently running
// actions and queueing at most maxWaiting beyond that before refusing.
func New(capacity, maxWaiting int) *Queue {
	return &Queue{
		capacity:   capacity,
		maxWaiting: maxWaiting,
		running:    make(map[uuid.UUID]Handle),
		waiting:    list.New(),
		index:      make(map[uuid.UUID]*list.Element),
		watched:    make(map[uuid.UUID]func()),
	}
}

// Add admits handle's action: starting it immediately if a running slot
// is free, queueing it if only a waiting slot is free, or refusing if
// both are exhausted.
func (q *Queue) Add(h Handle, action func()) AdmitResult {
	q.mu.Lock()

	if len(q.running) < q.capacity {
		q.running[h.ID()] = h
		q.watchLocked(h)
		q.mu.Unlock()
		go action()
		return AcceptedRunning
	}

	if q.waiting.Len() < q.maxWaiting {
		elem := q.waiting.PushBack(&waiter{handle: h, action: action})
		q.index[h.ID()] = elem
		q.watchLocked(h)
		q.mu.Unlock()
		return AcceptedWaiting
	}

	q.mu.Unlock()
	return Full
}

// Remove drops handle from whichever set holds it. If it held a running
// slot and a waiter is queued, the head waiter is promoted and started.
// Removing an unknown handle is a no-op.
func (q *Queue) Remove(h Handle) {
	q.mu.Lock()

	if elem, ok := q.index[h.ID()]; ok {
		q.waiting.Remove(elem)
		delete(q.index, h.ID())
		q.stopWatchLocked(h.ID())
		q.mu.Unlock()
		return
	}

	if _, ok := q.running[h.ID()]; !ok {
		q.mu.Unlock()
		return
	}
	delete(q.running, h.ID())
	q.stopWatchLocked(h.ID())

	var promoted *waiter
	if front := q.waiting.Front(); front != nil {
		promoted = front.Value.(*waiter)
		q.waiting.Remove(front)
		delete(q.index, promoted.handle.ID())
		q.running[promoted.handle.ID()] = promoted.handle
		q.watchLocked(promoted.handle)
	}
	q.mu.Unlock()

	if promoted != nil {
		go promoted.action()
	}
}

// Running reports the number of currently running slots. Test/diagnostic
// use only.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}

// Waiting reports the number of currently queued slots. Test/diagnostic
// use only.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiting.Len()
}

// watchLocked spawns the per-handle watcher that calls Remove when the
// handle dies. Must be called with q.mu held; the watcher goroutine
// itself acquires q.mu independently.
func (q *Queue) watchLocked(h Handle) {
	if _, ok := q.watched[h.ID()]; ok {
		return
	}
	stop := make(chan struct{})
	q.watched[h.ID()] = func() { close(stop) }
	go func() {
		select {
		case <-h.Done():
			q.Remove(h)
		case <-stop:
		}
	}()
}

func (q *Queue) stopWatchLocked(id uuid.UUID) {
	if stop, ok := q.watched[id]; ok {
		stop()
		delete(q.watched, id)
	}
}
