// Copyright 2025 Cynic Protocol

package gossip

import (
	"sync"

	bloomfilter "github.com/bits-and-blooms/bloom/v3"
	"github.com/cynic-protocol/cynic-node/pkg/crypto"
	"github.com/cynic-protocol/cynic-node/pkg/kernel"
)

// Transport is the send-side dependency the propagator pushes messages
// through; pkg/gossip/transport.go's Hub implements it over websockets.
type Transport interface {
	Send(peerID string, msg *Message) error
}

// Propagator disseminates blocks, votes, and knowledge deltas with
// logarithmic fanout (§4.C7).
type Propagator struct {
	mu sync.Mutex

	peers     *PeerSet
	transport Transport
	k         *kernel.Kernel

	seenThisRound *bloomfilter.BloomFilter
	roundSeenN    uint

	inbound       chan *Message
	inboundCap    int
	measuredMs    float64 // measured_propagation_ms, published to the node controller
}

// NewPropagator builds a Propagator over peers, sending through
// transport. inboundCap bounds the backpressure queue.
func NewPropagator(peers *PeerSet, transport Transport, k *kernel.Kernel, inboundCap int) *Propagator {
	p := &Propagator{
		peers:      peers,
		transport:  transport,
		k:          k,
		inbound:    make(chan *Message, inboundCap),
		inboundCap: inboundCap,
	}
	p.resetRoundFilter()
	return p
}

func (p *Propagator) resetRoundFilter() {
	// Sized for a few thousand messages/round at 1% false positive rate;
	// a false-positive dedupe only costs one redundant forward, never
	// correctness.
	p.seenThisRound = bloomfilter.NewWithEstimates(4096, 0.01)
	p.roundSeenN = 0
}

// ResetRound clears the per-round dedupe filter. Called by the node
// controller at each SLOT boundary (§4.C7: "forwards exactly once per
// round").
func (p *Propagator) ResetRound() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetRoundFilter()
}

func (p *Propagator) markSeen(key []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seenThisRound.Test(key) {
		return true
	}
	p.seenThisRound.Add(key)
	p.roundSeenN++
	return false
}

// Fanout is the per-round broadcast count: F(7) = 13 (§4.C7).
func (p *Propagator) Fanout() int {
	return int(p.k.Fib(7))
}

// AnnounceSeal pushes ANNOUNCE for a freshly sealed block to a
// peer-score-weighted reservoir of Fanout() peers.
func (p *Propagator) AnnounceSeal(blockHash crypto.Hash, slot uint64, operator []byte) {
	msg := &Message{Type: Announce, BlockHash: blockHash, Slot: slot, Operator: operator}
	p.broadcastToFanout(msg)
}

// Forward relays an already-received message to Fanout() peers, unless
// it (or its dedupe-equivalent) was already forwarded this round.
func (p *Propagator) Forward(msg *Message) {
	key := msg.DedupeKey()
	if key != nil && p.markSeen(key) {
		return
	}
	p.broadcastToFanout(msg)
}

func (p *Propagator) broadcastToFanout(msg *Message) {
	targets := p.peers.SelectFanout(p.Fanout())
	for _, peer := range targets {
		if err := p.transport.Send(peer.ID, msg); err != nil {
			p.peers.Score(peer.ID, ScoreTimeout)
		}
	}
}

// Enqueue applies backpressure (§4.C7) when the inbound queue is full.
// An incoming low-priority message (ANNOUNCE/HAVE) is rejected. Any
// other message makes room by dropping the oldest queued low-priority
// message; if none is queued it is rejected, except DATA for the next
// expected slot, which is never dropped and waits for room instead.
func (p *Propagator) Enqueue(msg *Message, nextExpectedSlot uint64) bool {
	isNextExpectedData := msg.Type == Data && msg.Slot == nextExpectedSlot
	select {
	case p.inbound <- msg:
		return true
	default:
		if isNextExpectedData {
			p.dropOneLowPriority()
			p.inbound <- msg // waits for room when nothing low-priority was queued
			return true
		}
		if msg.Type.Priority() == PriorityLow {
			return false // drop msg itself; queue already full of higher-value data
		}
		p.dropOneLowPriority()
		select {
		case p.inbound <- msg:
			return true
		default:
			return false
		}
	}
}

// dropOneLowPriority removes one queued low-priority message to make
// room, if any exists; otherwise it is a no-op (queue is all
// high-priority, so nothing safe to drop).
func (p *Propagator) dropOneLowPriority() {
	n := len(p.inbound)
	for i := 0; i < n; i++ {
		msg := <-p.inbound
		if msg.Type.Priority() == PriorityLow {
			return // dropped
		}
		p.inbound <- msg // requeue, keep looking
	}
}

// Inbound exposes the receive channel for the node controller's
// message-processing loop.
func (p *Propagator) Inbound() <-chan *Message { return p.inbound }

// RecordLatencySample folds a measured round-trip into the published
// measured_propagation_ms estimate (simple exponential moving average,
// alpha = phi^-1 so recent samples dominate without thrashing).
func (p *Propagator) RecordLatencySample(ms float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.measuredMs == 0 {
		p.measuredMs = ms
		return
	}
	alpha := p.k.PhiInv
	p.measuredMs = alpha*ms + (1-alpha)*p.measuredMs
}

// MeasuredPropagationMs returns the current published estimate. The
// API's peer status endpoint reports it; slot duration stays the
// kernel's fixed value and is not derived from it.
func (p *Propagator) MeasuredPropagationMs() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.measuredMs
}
