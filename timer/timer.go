// Package timer implements a many-timer Alarm service: a single
// background goroutine backing every scheduled callback, ordered by a
// container/heap min-priority-queue so every component that needs a
// deadline (GapCache's delayed bootstrap check, ActiveElections'
// announcement cadence, SynCookieTable/PeerSet purges) shares one
// goroutine instead of spawning a time.Timer each.
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Callback runs on the Alarm's dispatch goroutine when its deadline
// elapses. Callbacks that block delay every later-firing entry, so
// callers that need real work done post it to their own worker instead
// of doing it inline.
type Callback func()

type entry struct {
	deadline time.Time
	seq      uint64 // tie-break for equal deadlines, and a stable handle for Cancel
	cb       Callback
	canceled bool
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Handle lets a caller cancel a scheduled callback before it fires.
type Handle struct {
	e *entry
}

// Alarm is the many-timer service: Add wakes the dispatch goroutine so
// a newly-scheduled deadline earlier than the current wakeup is honored
// immediately, rather than waiting for the next natural tick.
type Alarm struct {
	mu      sync.Mutex
	heap    entryHeap
	wake    chan struct{}
	stopped chan struct{}
	nextSeq uint64
}

// New creates and starts an Alarm's dispatch goroutine.
func New() *Alarm {
	a := &Alarm{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go a.run()
	return a
}

// Add schedules cb to run after d elapses, returning a Handle that
// Cancel can use to suppress it before it fires.
func (a *Alarm) Add(d time.Duration, cb Callback) Handle {
	a.mu.Lock()
	e := &entry{deadline: time.Now().Add(d), seq: a.nextSeq, cb: cb}
	a.nextSeq++
	heap.Push(&a.heap, e)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return Handle{e: e}
}

// Cancel suppresses h's callback if it has not already fired. The zero
// Handle is accepted and ignored.
func (a *Alarm) Cancel(h Handle) {
	if h.e == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	h.e.canceled = true
}

// Stop halts the dispatch goroutine. Already-fired callbacks are not
// affected; pending ones never run.
func (a *Alarm) Stop() {
	close(a.stopped)
}

func (a *Alarm) run() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	for {
		a.mu.Lock()
		var wait time.Duration
		hasNext := a.heap.Len() > 0
		if hasNext {
			wait = time.Until(a.heap[0].deadline)
			if wait < 0 {
				wait = 0
			}
		}
		a.mu.Unlock()

		if hasNext {
			timer.Reset(wait)
		}

		select {
		case <-a.stopped:
			timer.Stop()
			return
		case <-a.wake:
			timer.Stop()
			continue
		case <-timerFireOrBlock(timer, hasNext):
			a.fireDue()
		}
	}
}

// timerFireOrBlock returns timer.C when a deadline is pending, or a
// channel that never fires when the heap is empty -- avoids reading a
// stopped timer's channel, which would block forever anyway, but makes
// the intent explicit at the call site.
func timerFireOrBlock(timer *time.Timer, hasNext bool) <-chan time.Time {
	if hasNext {
		return timer.C
	}
	return make(chan time.Time)
}

func (a *Alarm) fireDue() {
	now := time.Now()
	var due []*entry
	a.mu.Lock()
	for a.heap.Len() > 0 && !a.heap[0].deadline.After(now) {
		due = append(due, heap.Pop(&a.heap).(*entry))
	}
	a.mu.Unlock()

	for _, e := range due {
		if !e.canceled {
			e.cb()
		}
	}
}
