// Package peerset implements the multi-indexed peer container:
// reserved-address rejection, per-IP/legacy caps, last-contact and
// representative-weight orderings, and the gossip sampling operations
// the keepalive path and RepCrawler rely on.
package peerset

import (
	"time"

	"github.com/chratos-network/core/wire"
)

// Info is one tracked peer's bookkeeping record.
type Info struct {
	Endpoint wire.Endpoint
	Version  uint8

	LastContact    time.Time
	LastAttempt    time.Time
	LastRepRequest time.Time
	LastRepResponse time.Time

	RepWeight          wire.Amount
	ProbableRepAccount wire.Account

	NodeID wire.Account

	seq int64 // insertion sequence, for the insertion-order index
}
