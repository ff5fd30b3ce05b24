// Copyright 2025 Cynic Protocol

package gossip

import (
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Scoring deltas (§4.C7 "Peer scoring").
const (
	ScoreValidData = 1
	ScoreInvalid   = -3
	ScoreTimeout   = -1

	// DropThreshold: peers at or below this score are evicted in favor
	// of a replacement from the discovery pool.
	DropThreshold = -10
)

// Peer is one remote node this node gossips with.
type Peer struct {
	ID             string // operator pubkey hex
	Address        string
	Score          int
	LatencyMs      float64
	LastSeenHeight uint64
}

// PeerSet tracks known peers and supports score-weighted reservoir
// sampling for fanout selection.
type PeerSet struct {
	mu    sync.RWMutex
	peers map[string]*Peer
	pool  []Peer // discovery pool of candidate replacements
}

// NewPeerSet returns an empty peer set.
func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make(map[string]*Peer)}
}

// Add inserts or updates a peer.
func (s *PeerSet) Add(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.peers[p.ID]; ok {
		existing.Address = p.Address
		return
	}
	s.peers[p.ID] = p
}

// AddToPool registers a candidate peer for later promotion when a slot
// opens up after an eviction.
func (s *PeerSet) AddToPool(p Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = append(s.pool, p)
}

// Score applies a scoring delta and evicts the peer (replacing it from
// the discovery pool, if available) once it falls to DropThreshold.
func (s *PeerSet) Score(id string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	if !ok {
		return
	}
	p.Score += delta
	if p.Score <= DropThreshold {
		delete(s.peers, id)
		if len(s.pool) > 0 {
			repl := s.pool[0]
			s.pool = s.pool[1:]
			s.peers[repl.ID] = &repl
		}
	}
}

// Get returns a peer by id.
func (s *PeerSet) Get(id string) (*Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[id]
	return p, ok
}

// Len returns the number of tracked peers.
func (s *PeerSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// SelectFanout chooses up to n peers via a score-weighted reservoir
// sample — higher-scored peers are proportionally more likely to be
// chosen, but every peer retains a chance, so a cold-started high-score
// set doesn't starve newer peers entirely.
func (s *PeerSet) SelectFanout(n int) []*Peer {
	s.mu.RLock()
	all := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		all = append(all, p)
	}
	s.mu.RUnlock()

	if len(all) <= n {
		sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
		return all
	}

	// Weighted reservoir sampling (A-Res): key_i = u_i^(1/w_i), keep top n.
	type keyed struct {
		peer *Peer
		key  float64
	}
	keys := make([]keyed, len(all))
	for i, p := range all {
		w := float64(p.Score + 11) // shift so weight is always positive (DropThreshold is -10)
		if w <= 0 {
			w = 0.01
		}
		u := rand.Float64()
		keys[i] = keyed{peer: p, key: math.Pow(u, 1/w)}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].key > keys[j].key })

	out := make([]*Peer, n)
	for i := 0; i < n; i++ {
		out[i] = keys[i].peer
	}
	return out
}
