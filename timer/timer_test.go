package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddFiresAfterDelay(t *testing.T) {
	a := New()
	defer a.Stop()

	done := make(chan struct{})
	a.Add(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not fire in time")
	}
}

func TestAddFiresInDeadlineOrder(t *testing.T) {
	a := New()
	defer a.Stop()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	wg.Add(3)
	record := func(n int) func() {
		return func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			wg.Done()
		}
	}

	a.Add(30*time.Millisecond, record(3))
	a.Add(10*time.Millisecond, record(1))
	a.Add(20*time.Millisecond, record(2))

	waitOrTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected firing order [1 2 3], got %v", order)
	}
}

func TestCancelSuppressesCallback(t *testing.T) {
	a := New()
	defer a.Stop()

	var fired int32
	h := a.Add(10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	a.Cancel(h)

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("expected canceled callback to not fire")
	}
}

func TestAddWakesSoonerDeadline(t *testing.T) {
	a := New()
	defer a.Stop()

	done := make(chan struct{})
	a.Add(time.Hour, func() {})
	a.Add(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sooner deadline did not preempt the earlier, longer one")
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for callbacks")
	}
}
