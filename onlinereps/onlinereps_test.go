package onlinereps

import (
	"testing"
	"time"

	"github.com/chratos-network/core/wire"
)

func TestObserveAddsWeightOnceThenEvictsAfterCutoff(t *testing.T) {
	o := New(time.Minute, wire.Amount{})
	rep := wire.Account{1}
	base := time.Now()

	o.Observe(rep, wire.Amount{Lo: 100}, base)
	if got := o.OnlineStake(); got.Lo != 100 {
		t.Fatalf("expected stake 100, got %+v", got)
	}

	// Repeat vote at the same weight should not double-count.
	o.Observe(rep, wire.Amount{Lo: 100}, base.Add(time.Second))
	if got := o.OnlineStake(); got.Lo != 100 {
		t.Fatalf("expected stake to remain 100 after repeat vote, got %+v", got)
	}

	// A different rep's vote, long after the first rep's cutoff, evicts it.
	other := wire.Account{2}
	o.Observe(other, wire.Amount{Lo: 50}, base.Add(2*time.Minute))
	if got := o.OnlineStake(); got.Lo != 50 {
		t.Fatalf("expected first rep evicted, stake 50, got %+v", got)
	}
}

func TestOnlineStakeFloorsAtMinimum(t *testing.T) {
	o := New(time.Minute, wire.Amount{Lo: 1000})
	if got := o.OnlineStake(); got.Lo != 1000 {
		t.Fatalf("expected floor of 1000 with no reps, got %+v", got)
	}

	o.Observe(wire.Account{1}, wire.Amount{Lo: 10}, time.Now())
	if got := o.OnlineStake(); got.Lo != 1000 {
		t.Fatalf("expected floor to still apply below minimum, got %+v", got)
	}
}

func TestRecalculateStakeCorrectsDrift(t *testing.T) {
	o := New(time.Minute, wire.Amount{})
	o.Observe(wire.Account{1}, wire.Amount{Lo: 100}, time.Now())
	o.running = wire.Amount{Lo: 999} // simulate drift

	o.RecalculateStake()
	if got := o.OnlineStake(); got.Lo != 100 {
		t.Fatalf("expected recalculate to rebuild from surviving set, got %+v", got)
	}
}
