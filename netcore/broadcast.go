package netcore

import (
	"math"
	"time"

	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/wire"
)

// ConfirmReqRepBatch is how many top-weight representatives get a
// confirm_req per round when broadcasting to "all peers" degrades to a
// targeted send, and ConfirmReqSpacing is the delay between each one.
const (
	ConfirmReqRepBatch = 10
	ConfirmReqSpacing  = 50 * time.Millisecond
)

// listFanout implements list_fanout(): ceil(sqrt(N)) random peers,
// the publish fan-out width.
func (n *Network) listFanout() []wire.Endpoint {
	total := n.peers.Len()
	fanout := int(math.Ceil(math.Sqrt(float64(total))))
	if fanout < 1 {
		fanout = 1
	}
	return n.peers.RandomSet(fanout)
}

// BroadcastBlock implements the election package's Hooks.Broadcast:
// publish b to a fanout-sized random sample of peers.
func (n *Network) BroadcastBlock(b *blocks.Block) {
	body := b.Encode()
	for _, ep := range n.listFanout() {
		n.Send(ep, wire.KindPublish, 0, body)
	}
}

// BroadcastVote implements the election package's
// Hooks.GenerateAndBroadcastVote follow-up: sends an already-generated
// confirm_ack to a fanout-sized random sample of peers.
func (n *Network) BroadcastVote(v *blocks.Vote) {
	body := v.Encode()
	for _, ep := range n.listFanout() {
		n.Send(ep, wire.KindConfirmAck, 0, body)
	}
}

// RequestConfirmation implements the election package's
// Hooks.RequestConfirmation: with explicit targets, sends a confirm_req
// to each, spaced ConfirmReqSpacing apart. With no targets ("broadcast
// to all"), it prefers the top ConfirmReqRepBatch-weight representatives
// spaced the same way, degrading to a full fanout broadcast only if no
// representative endpoints are known yet.
func (n *Network) RequestConfirmation(hash wire.Hash, to []wire.Endpoint) {
	tx, err := n.oracle.Begin(false)
	if err != nil {
		return
	}
	block, ok := n.store.BlockGet(tx, hash)
	tx.Discard()
	if !ok {
		return
	}

	targets := to
	if len(targets) == 0 {
		targets = n.peers.Representatives(ConfirmReqRepBatch)
		if len(targets) == 0 {
			targets = n.listFanout()
		}
	}
	n.sendConfirmReqSpaced(block, targets)
}

func (n *Network) sendConfirmReqSpaced(block *blocks.Block, targets []wire.Endpoint) {
	body := block.Encode()
	go func() {
		for i, ep := range targets {
			if i > 0 {
				time.Sleep(ConfirmReqSpacing)
			}
			n.Send(ep, wire.KindConfirmReq, 0, body)
		}
	}()
}

// NonVotingRepresentatives implements the election package's
// Hooks.NonVotingRepresentatives: known representative endpoints whose
// account hasn't appeared in voted, plus the combined weight still
// missing.
func (n *Network) NonVotingRepresentatives(root wire.Hash, voted map[wire.Account]struct{}) ([]wire.Endpoint, wire.Amount) {
	var endpoints []wire.Endpoint
	var weight wire.Amount
	for _, ep := range n.peers.Representatives(peerset64) {
		info, ok := n.peers.Get(ep)
		if !ok {
			continue
		}
		if _, voted := voted[info.ProbableRepAccount]; voted {
			continue
		}
		endpoints = append(endpoints, ep)
		weight = weight.Add(info.RepWeight)
	}
	return endpoints, weight
}

// peerset64 bounds how many representative endpoints NonVotingRepresentatives
// scans; large enough to cover any realistic representative count.
const peerset64 = 64
