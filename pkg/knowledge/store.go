// Copyright 2025 Cynic Protocol
//
// Package knowledge implements the Knowledge Store (§4.C4): an
// axiom-sharded, Merkle-indexed store of patterns and learnings. Four
// shards keyed by Axiom, each a Merkle tree over its ordered leaves
// (lexicographic by pattern/learning id).
package knowledge

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/cynic-protocol/cynic-node/pkg/crypto"
	"github.com/cynic-protocol/cynic-node/pkg/cynicerr"
	"github.com/cynic-protocol/cynic-node/pkg/dimension"
	"github.com/cynic-protocol/cynic-node/pkg/merkle"
)

// MinPatternSources is the distinct-operator threshold a pattern must
// cross to be confirmed (§3).
const MinPatternSources = 3

// ArchiveStrengthFloor is the strength below which a confirmed pattern
// is archived if it persists for a full epoch (§3 lifecycle).
const ArchiveStrengthFloor = 1.0 / (1.618033988749895 * 1.618033988749895 * 1.618033988749895) // phi^-3

// KV is the minimal persistence interface the store needs, matching
// pkg/kvdb.KVAdapter's shape so either cometbft-db or an in-memory
// fake can back it.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// Pattern is a recurring signal discovered independently by operators
// (§3).
type Pattern struct {
	ID            string
	ContentHash   crypto.Hash
	Axiom         dimension.Axiom
	Strength      float64 // [0,1]
	Sources       []string // distinct operator pubkeys (hex), deduplicated
	FirstSeenSlot uint64
}

// Confirmed reports whether p has crossed the distinct-source threshold
// (§3, I4).
func (p *Pattern) Confirmed() bool {
	return len(distinctSources(p.Sources)) >= MinPatternSources
}

func distinctSources(sources []string) []string {
	seen := make(map[string]struct{}, len(sources))
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// LearningOutcome classifies feedback on a judgment.
type LearningOutcome string

const (
	OutcomeCorrect   LearningOutcome = "correct"
	OutcomeIncorrect LearningOutcome = "incorrect"
	OutcomePartial   LearningOutcome = "partial"
)

// Learning links a judgment to an outcome. ContributorHash is the
// privacy-hashed contributor id (§6 hook) — the store never sees the
// contributor's cleartext identity.
type Learning struct {
	ID              string
	JudgmentID      string
	Outcome         LearningOutcome
	Axiom           dimension.Axiom
	ContributorHash crypto.Hash
}

// SyncMode controls how much of the store a node replicates.
type SyncMode string

const (
	SyncFull  SyncMode = "FULL"  // all shards
	SyncLight SyncMode = "LIGHT" // headers + proofs on demand
)

// AxiomSyncMode returns the single-shard sync mode for a, i.e. "AXIOM(A)".
func AxiomSyncMode(a dimension.Axiom) SyncMode { return SyncMode("AXIOM(" + string(a) + ")") }

// leafEntry is a uniform wrapper so patterns and learnings share one
// shard's leaf ordering.
type leafEntry struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // "pattern" | "learning"
	Data []byte `json:"data"` // canonical bytes of the underlying value
}

func (e leafEntry) canonicalLeaf() []byte {
	return crypto.Canonicalize([]crypto.Field{
		{Name: "id", Value: crypto.Str(e.ID)},
		{Name: "kind", Value: crypto.Str(e.Kind)},
		{Name: "data", Value: crypto.Bytes(e.Data)},
	})
}

// shard holds one axiom's ordered leaves and their built tree.
type shard struct {
	mu      sync.RWMutex
	axiom   dimension.Axiom
	entries map[string]leafEntry // keyed by id, superseded on re-put
	tree    *merkle.Tree
	root    [32]byte
}

func newShard(a dimension.Axiom) *shard {
	return &shard{axiom: a, entries: make(map[string]leafEntry)}
}

// rebuild recomputes the shard's Merkle tree over its entries in
// lexicographic id order (§4.C4).
func (s *shard) rebuild() {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	leaves := make([][]byte, len(ids))
	for i, id := range ids {
		leaves[i] = s.entries[id].canonicalLeaf()
	}

	root, tree, err := merkle.Build(leaves)
	if err != nil {
		// Build only errors on internal invariant violations (never on
		// empty input, which returns the zero root), so this cannot
		// happen from caller-supplied data.
		panic(err)
	}
	s.root = root
	s.tree = tree
}

func (s *shard) put(e leafEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
	s.rebuild()
}

func (s *shard) get(id string) (leafEntry, *merkle.InclusionProof, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return leafEntry{}, nil, false
	}
	if s.tree == nil {
		return e, nil, true
	}
	proof, err := s.tree.ProofForLeaf(e.canonicalLeaf())
	if err != nil {
		return e, nil, true
	}
	return e, proof, true
}

func (s *shard) Root() [32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

func (s *shard) orderedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Store is the axiom-sharded Knowledge Store.
type Store struct {
	kv     KV
	mode   SyncMode
	shards map[dimension.Axiom]*shard
}

// NewStore builds an empty store over kv in the given sync mode.
func NewStore(kv KV, mode SyncMode) *Store {
	s := &Store{kv: kv, mode: mode, shards: make(map[dimension.Axiom]*shard)}
	for _, a := range dimension.Axioms {
		s.shards[a] = newShard(a)
	}
	return s
}

func kvKey(axiom dimension.Axiom, id string) []byte {
	b := make([]byte, 0, len(axiom)+1+len(id))
	b = append(b, []byte(axiom)...)
	b = append(b, ':')
	b = append(b, []byte(id)...)
	return b
}

// PutPattern appends (or supersedes, by id) a pattern leaf in its
// axiom's shard.
func (s *Store) PutPattern(p *Pattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return cynicerr.Wrap(err, cynicerr.Integrity, "marshal pattern")
	}
	sh, ok := s.shards[p.Axiom]
	if !ok {
		return cynicerr.Newf(cynicerr.Protocol, "unknown axiom %q", p.Axiom)
	}
	entry := leafEntry{ID: p.ID, Kind: "pattern", Data: data}
	if err := s.persist(p.Axiom, p.ID, entry); err != nil {
		return err
	}
	sh.put(entry)
	return nil
}

// PutLearning appends (or supersedes, by id) a learning leaf.
func (s *Store) PutLearning(l *Learning) error {
	data, err := json.Marshal(l)
	if err != nil {
		return cynicerr.Wrap(err, cynicerr.Integrity, "marshal learning")
	}
	sh, ok := s.shards[l.Axiom]
	if !ok {
		return cynicerr.Newf(cynicerr.Protocol, "unknown axiom %q", l.Axiom)
	}
	entry := leafEntry{ID: l.ID, Kind: "learning", Data: data}
	if err := s.persist(l.Axiom, l.ID, entry); err != nil {
		return err
	}
	sh.put(entry)
	return nil
}

func (s *Store) persist(axiom dimension.Axiom, id string, entry leafEntry) error {
	if s.kv == nil {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return cynicerr.Wrap(err, cynicerr.Integrity, "marshal leaf entry")
	}
	if err := s.kv.Set(kvKey(axiom, id), b); err != nil {
		return cynicerr.Wrap(err, cynicerr.ResourceExhausted, "persist leaf entry")
	}
	return nil
}

// Get retrieves a stored value's raw leaf entry and inclusion proof,
// per §4.C4's `get(id) -> (value, inclusion_proof)`.
func (s *Store) Get(axiom dimension.Axiom, id string) (kind string, data []byte, proof *merkle.InclusionProof, err error) {
	sh, ok := s.shards[axiom]
	if !ok {
		return "", nil, nil, cynicerr.Newf(cynicerr.Protocol, "unknown axiom %q", axiom)
	}
	e, p, found := sh.get(id)
	if !found {
		return "", nil, nil, cynicerr.Newf(cynicerr.Protocol, "id %q not found in axiom %q", id, axiom)
	}
	return e.Kind, e.Data, p, nil
}

// Root returns one shard's root.
func (s *Store) Root(axiom dimension.Axiom) ([32]byte, error) {
	sh, ok := s.shards[axiom]
	if !ok {
		return [32]byte{}, cynicerr.Newf(cynicerr.Protocol, "unknown axiom %q", axiom)
	}
	return sh.Root(), nil
}

// RootAll computes the root of the 4-shard tree: a Merkle tree whose
// four leaves are the per-axiom roots, in the fixed Axioms order.
func (s *Store) RootAll() [32]byte {
	leaves := make([][]byte, len(dimension.Axioms))
	for i, a := range dimension.Axioms {
		root := s.shards[a].Root()
		leaves[i] = root[:]
	}
	root, _, err := merkle.Build(leaves)
	if err != nil {
		panic(err)
	}
	return root
}

// DeltaBundle carries, per shard, the leaves DeltaSince resends: every
// leaf of each shard whose root differs from the peer's.
type DeltaBundle struct {
	Entries map[dimension.Axiom][]DeltaEntry
}

// DeltaEntry pairs a leaf with the inclusion proof against this node's
// claimed shard root, so the receiver can verify before integrating.
type DeltaEntry struct {
	ID    string
	Kind  string
	Data  []byte
	Proof *merkle.InclusionProof
}

// DeltaSince computes the minimal set of leaves missing from a peer
// that claims peerRoots for its shards. Since shards store whole
// leaves keyed by id (not a log), a shard whose root differs from the
// peer's is resent in full — the peer's own id set lets it diff away
// leaves it already holds before calling ApplyDelta.
func (s *Store) DeltaSince(peerRoots map[dimension.Axiom][32]byte) *DeltaBundle {
	bundle := &DeltaBundle{Entries: make(map[dimension.Axiom][]DeltaEntry)}
	for _, a := range dimension.Axioms {
		sh := s.shards[a]
		if sh.Root() == peerRoots[a] {
			continue
		}
		var entries []DeltaEntry
		for _, id := range sh.orderedIDs() {
			e, proof, ok := sh.get(id)
			if !ok {
				continue
			}
			entries = append(entries, DeltaEntry{ID: e.ID, Kind: e.Kind, Data: e.Data, Proof: proof})
		}
		bundle.Entries[a] = entries
	}
	return bundle
}

// ApplyDelta verifies each leaf's inclusion proof against the
// sender-claimed root before integrating it. Any leaf that fails
// verification rejects the whole delta — a partially-applied,
// partially-forged bundle is worse than none (§4.C4 failure: a bad
// delta decrements the sender's peer score, handled by the caller).
func (s *Store) ApplyDelta(bundle *DeltaBundle, claimedRoots map[dimension.Axiom][32]byte) error {
	for axiom, entries := range bundle.Entries {
		if _, ok := s.shards[axiom]; !ok {
			return cynicerr.Newf(cynicerr.Protocol, "unknown axiom %q in delta", axiom)
		}
		claimedRoot := claimedRoots[axiom]
		for _, e := range entries {
			leaf := leafEntry{ID: e.ID, Kind: e.Kind, Data: e.Data}.canonicalLeaf()
			if !merkle.Verify(leaf, e.Proof, claimedRoot) {
				return cynicerr.Newf(cynicerr.Integrity, "InvalidProof: leaf %q in axiom %q failed verification against claimed root", e.ID, axiom)
			}
		}
	}
	// Verified — integrate every entry of every axiom.
	for axiom, entries := range bundle.Entries {
		sh := s.shards[axiom]
		for _, e := range entries {
			entry := leafEntry{ID: e.ID, Kind: e.Kind, Data: e.Data}
			if err := s.persist(axiom, e.ID, entry); err != nil {
				return err
			}
			sh.put(entry)
		}
	}
	return nil
}

