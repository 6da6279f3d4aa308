package admission

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestAddRunsImmediatelyUnderCapacity(t *testing.T) {
	assert := assert.New(t)
	q := New(2, 2)
	h, _ := NewHandle()
	var ran sync.WaitGroup
	ran.Add(1)
	result := q.Add(h, func() { ran.Done() })
	assert.Equal(AcceptedRunning, result)
	ran.Wait()
	assert.Equal(1, q.Running())
}

func TestOverflowScenario(t *testing.T) {
	// S2: put_max=1, HTTP_QUEUE_LENGTH=1; A,B,C issue put_blob before
	// any completes.
	assert := assert.New(t)
	q := New(1, 1)
	block := make(chan struct{})

	a, _ := NewHandle()
	resA := q.Add(a, func() { <-block })
	assert.Equal(AcceptedRunning, resA)

	b, _ := NewHandle()
	resB := q.Add(b, func() { <-block })
	assert.Equal(AcceptedWaiting, resB)

	c, _ := NewHandle()
	resC := q.Add(c, func() {})
	assert.Equal(Full, resC)

	close(block)
}

func TestHandleDeathPromotesWaiter(t *testing.T) {
	// S3: after S2, kill A before it completes; B's action now runs.
	assert := assert.New(t)
	q := New(1, 1)
	aBlock := make(chan struct{})

	a, killA := NewHandle()
	assert.Equal(AcceptedRunning, q.Add(a, func() { <-aBlock }))

	var bRan sync.WaitGroup
	bRan.Add(1)
	b, _ := NewHandle()
	assert.Equal(AcceptedWaiting, q.Add(b, func() { bRan.Done() }))

	killA()
	bRan.Wait()
	waitFor(t, func() bool { return q.Running() == 1 && q.Waiting() == 0 })
	close(aBlock)
}

func TestRemoveFromWaitingDoesNotFreeRunningSlot(t *testing.T) {
	assert := assert.New(t)
	q := New(1, 2)
	block := make(chan struct{})
	defer close(block)

	a, _ := NewHandle()
	assert.Equal(AcceptedRunning, q.Add(a, func() { <-block }))

	b, _ := NewHandle()
	assert.Equal(AcceptedWaiting, q.Add(b, func() {}))

	q.Remove(b)
	assert.Equal(1, q.Running())
	assert.Equal(0, q.Waiting())
}

func TestRemoveUnknownHandleIsNoop(t *testing.T) {
	assert := assert.New(t)
	q := New(1, 1)
	h, _ := NewHandle()
	assert.NotPanics(func() { q.Remove(h) })
}

// TestInvariantsUnderAddRemoveSequence asserts property 1 on a fixed
// sequence (ten Adds against capacity 3 and maxWaiting 3, then one Remove
// of a running handle): running<=capacity and waiting<=maxWaiting hold
// after every Add, and the freed running slot promotes exactly one waiter.
func TestInvariantsUnderAddRemoveSequence(t *testing.T) {
	assert := assert.New(t)
	const capacity, maxWaiting = 3, 3
	q := New(capacity, maxWaiting)

	var admitted []Handle
	block := make(chan struct{})
	defer close(block)

	for i := 0; i < 10; i++ {
		h, _ := NewHandle()
		res := q.Add(h, func() { <-block })
		assert.LessOrEqual(q.Running(), capacity)
		assert.LessOrEqual(q.Waiting(), maxWaiting)
		if res != Full {
			admitted = append(admitted, h)
		}
	}
	assert.Equal(capacity+maxWaiting, len(admitted))

	running := q.Running()
	waiting := q.Waiting()
	assert.Equal(capacity, running)
	assert.Equal(maxWaiting, waiting)

	// Removing one running handle should promote exactly one waiter.
	q.Remove(admitted[0])
	waitFor(t, func() bool { return q.Waiting() == waiting-1 })
	assert.Equal(capacity, q.Running())
}
