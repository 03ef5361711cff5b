// Package onlinereps implements OnlineReps: a rolling set of
// representatives seen voting recently, whose combined weight is the
// core's live estimate of online stake for quorum math.
package onlinereps

import (
	"sync"
	"time"

	"github.com/chratos-network/core/wire"
)

// RecalculateInterval is how often recalculate_stake() rebuilds the
// running total from the surviving set to correct drift.
const RecalculateInterval = 5 * time.Minute

type entry struct {
	weight   wire.Amount
	lastHeard time.Time
}

// OnlineReps is the mutex-guarded rep -> last-heard map.
type OnlineReps struct {
	mu sync.Mutex

	cutoff time.Duration
	minimum wire.Amount

	reps    map[wire.Account]entry
	running wire.Amount
}

// New creates an OnlineReps. cutoff is how long a representative is
// considered online after its last vote; minimum floors OnlineStake()
// so quorum math stays meaningful while the network is small.
func New(cutoff time.Duration, minimum wire.Amount) *OnlineReps {
	return &OnlineReps{
		cutoff:  cutoff,
		minimum: minimum,
		reps:    make(map[wire.Account]entry),
	}
}

// Observe records a vote from rep at weight: evict reps whose
// last_heard+cutoff has passed (subtracting their weight, saturating at
// zero), then upsert the current rep with the current time, adding its
// weight only on first insertion (saturating at the running total's
// natural max, i.e. never double-counted on a repeat vote).
func (o *OnlineReps) Observe(rep wire.Account, weight wire.Amount, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.evictLocked(now)

	if _, existed := o.reps[rep]; !existed {
		o.running = o.running.Add(weight)
	}
	o.reps[rep] = entry{weight: weight, lastHeard: now}
}

func (o *OnlineReps) evictLocked(now time.Time) {
	for rep, e := range o.reps {
		if e.lastHeard.Add(o.cutoff).Before(now) {
			o.running = o.running.Sub(e.weight)
			delete(o.reps, rep)
		}
	}
}

// RecalculateStake rebuilds the running total from the surviving set,
// correcting any drift from repeated Add/Sub saturation.
func (o *OnlineReps) RecalculateStake() {
	o.mu.Lock()
	defer o.mu.Unlock()

	total := wire.Amount{}
	for _, e := range o.reps {
		total = total.Add(e.weight)
	}
	o.running = total
}

// OnlineStake returns the greater of the running total and the
// configured minimum.
func (o *OnlineReps) OnlineStake() wire.Amount {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running.Cmp(o.minimum) < 0 {
		return o.minimum
	}
	return o.running
}

// Len reports the number of representatives currently tracked as
// online.
func (o *OnlineReps) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.reps)
}
