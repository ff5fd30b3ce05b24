// Copyright 2025 Cynic Protocol
//
// Package gossip implements the Gossip Propagator (§4.C7):
// logarithmic-fanout dissemination of blocks, votes, and knowledge
// deltas with bloom-filter dedupe and peer scoring.
package gossip

import "github.com/cynic-protocol/cynic-node/pkg/crypto"

// MessageType distinguishes the six wire message kinds (§4.C7).
type MessageType string

const (
	Announce MessageType = "ANNOUNCE" // lightweight: new block exists
	Have     MessageType = "HAVE"     // periodic bloom summary of known hashes
	Want     MessageType = "WANT"     // request bodies by hash
	Data     MessageType = "DATA"     // block | delta | vote body
	Ping     MessageType = "PING"
	Pong     MessageType = "PONG"
)

// Priority controls backpressure drop order: DATA for the next expected
// slot is never dropped; ANNOUNCE/HAVE are dropped first on overflow.
type Priority int

const (
	PriorityLow  Priority = iota // ANNOUNCE, HAVE
	PriorityHigh                 // WANT, DATA, PING, PONG
)

func (t MessageType) Priority() Priority {
	switch t {
	case Announce, Have:
		return PriorityLow
	default:
		return PriorityHigh
	}
}

// Message is one gossip wire envelope.
type Message struct {
	Type      MessageType
	From      string // sender peer id (operator pubkey hex)
	BlockHash crypto.Hash
	Slot      uint64
	Operator  []byte // pubkey, for ANNOUNCE
	Bloom     []byte // serialized bloom filter, for HAVE
	Hashes    []crypto.Hash
	Body      []byte // canonical-encoded block | delta | vote, for DATA
	Nonce     uint64 // for PING/PONG round-trip matching
}

// DedupeKey identifies a message for this-round forward deduplication.
// ANNOUNCE and DATA messages carrying the same BlockHash dedupe to the
// same key, including an ANNOUNCE and a DATA for the same block.
func (m *Message) DedupeKey() []byte {
	switch m.Type {
	case Announce, Data:
		return m.BlockHash.Bytes()
	case Have:
		return crypto.SumHash([]byte("have"), m.Bloom).Bytes()
	case Want:
		h := crypto.SumHash([]byte("want"))
		for _, hh := range m.Hashes {
			h = crypto.SumHash(h.Bytes(), hh.Bytes())
		}
		return h.Bytes()
	default:
		return nil
	}
}
