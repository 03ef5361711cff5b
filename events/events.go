// Package events implements a typed observer bus: each event type gets
// its own list of registered callbacks, registration happens once at
// construction, and there is no dynamic unsubscribe and no ordering
// guarantee between observers.
package events

import (
	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/ledger"
	"github.com/chratos-network/core/wire"
)

// BlockObserver is notified whenever BlockProcessor accepts a block.
type BlockObserver func(b *blocks.Block, result ledger.ProcessResult)

// VoteObserver is notified whenever a vote is admitted into an election.
type VoteObserver func(v *blocks.Vote)

// EndpointObserver is notified on peer-set lifecycle transitions, e.g.
// the disconnect observer PurgeList fires when the set empties.
type EndpointObserver func(ep wire.Endpoint)

// Bus holds one independent subscriber list per event type.
type Bus struct {
	blockObservers    []BlockObserver
	voteObservers     []VoteObserver
	endpointObservers []EndpointObserver
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// OnBlock registers a BlockObserver. Intended for one-shot registration
// during construction, not dynamic subscribe/unsubscribe.
func (b *Bus) OnBlock(o BlockObserver) {
	b.blockObservers = append(b.blockObservers, o)
}

// OnVote registers a VoteObserver.
func (b *Bus) OnVote(o VoteObserver) {
	b.voteObservers = append(b.voteObservers, o)
}

// OnEndpoint registers an EndpointObserver.
func (b *Bus) OnEndpoint(o EndpointObserver) {
	b.endpointObservers = append(b.endpointObservers, o)
}

// FireBlock fans a block event out to every registered BlockObserver, in
// registration order. There is no cross-observer ordering guarantee
// beyond that: a slow observer delays the rest.
func (b *Bus) FireBlock(blk *blocks.Block, result ledger.ProcessResult) {
	for _, o := range b.blockObservers {
		o(blk, result)
	}
}

// FireVote fans a vote event out to every registered VoteObserver.
func (b *Bus) FireVote(v *blocks.Vote) {
	for _, o := range b.voteObservers {
		o(v)
	}
}

// FireEndpoint fans an endpoint event out to every registered
// EndpointObserver.
func (b *Bus) FireEndpoint(ep wire.Endpoint) {
	for _, o := range b.endpointObservers {
		o(ep)
	}
}
