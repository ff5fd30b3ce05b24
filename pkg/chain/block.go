// Copyright 2025 Cynic Protocol
//
// Package chain implements the PoJ (Proof-of-Judgment) Chain (§4.C6):
// an append-only, operator-owned, slot-indexed log of sealed blocks.
package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cynic-protocol/cynic-node/pkg/crypto"
	"github.com/cynic-protocol/cynic-node/pkg/cynicerr"
	"github.com/cynic-protocol/cynic-node/pkg/judgment"
	"github.com/cynic-protocol/cynic-node/pkg/kernel"
	"github.com/cynic-protocol/cynic-node/pkg/merkle"
)

// KnowledgeUpdate is a pattern or learning leaf sealed into a block's
// knowledge_updates (§3).
type KnowledgeUpdate struct {
	ID   string
	Kind string // "pattern" | "learning"
	Data []byte
}

func (u KnowledgeUpdate) canonicalLeaf() []byte {
	return crypto.Canonicalize([]crypto.Field{
		{Name: "id", Value: crypto.Str(u.ID)},
		{Name: "kind", Value: crypto.Str(u.Kind)},
		{Name: "data", Value: crypto.Bytes(u.Data)},
	})
}

// Block is the header the operator signs plus its payload (§3).
type Block struct {
	Slot             uint64
	PrevHash         crypto.Hash
	TimestampMs      int64
	Judgments        []*judgment.Judgment
	KnowledgeUpdates []KnowledgeUpdate
	JudgmentsRoot    [32]byte
	KnowledgeRoot    [32]byte
	StateRoot        [32]byte
	OperatorPubkey   []byte
	OperatorSig      []byte
	BlockHash        crypto.Hash
}

// headerCanonical serializes the header fields without the signature —
// exactly what gets signed, and what block_hash is computed over.
func (b *Block) headerCanonical() []byte {
	return crypto.Canonicalize([]crypto.Field{
		{Name: "slot", Value: crypto.U64(b.Slot)},
		{Name: "prev_hash", Value: crypto.Bytes(b.PrevHash.Bytes())},
		{Name: "timestamp_ms", Value: crypto.I64(b.TimestampMs)},
		{Name: "judgments_root", Value: crypto.Bytes(b.JudgmentsRoot[:])},
		{Name: "knowledge_root", Value: crypto.Bytes(b.KnowledgeRoot[:])},
		{Name: "state_root", Value: crypto.Bytes(b.StateRoot[:])},
		{Name: "operator_pubkey", Value: crypto.Bytes(b.OperatorPubkey)},
	})
}

func judgmentLeaf(j *judgment.Judgment) []byte {
	return crypto.Canonicalize([]crypto.Field{
		{Name: "id", Value: crypto.Str(j.ID)},
		{Name: "item_hash", Value: crypto.Bytes(j.ItemHash.Bytes())},
		{Name: "signature", Value: crypto.Bytes(j.Signature)},
	})
}

// Chain is one operator's append-only PoJ log plus the set of remote
// operators' heads this node tracks for validation.
type Chain struct {
	mu sync.Mutex

	kv   KV
	keys *crypto.KeyPair
	k    *kernel.Kernel

	pendingJudgments []*judgment.Judgment
	pendingUpdates   []KnowledgeUpdate

	heads  map[string]crypto.Hash // operator pubkey hex -> head block hash
	blocks map[crypto.Hash]*Block
	slots  map[string]uint64 // operator pubkey hex -> last sealed slot
}

// KV is the minimal persistence interface, matching pkg/kvdb.KVAdapter.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// NewChain constructs a Chain for the local operator identified by keys.
func NewChain(kv KV, keys *crypto.KeyPair, k *kernel.Kernel) *Chain {
	return &Chain{
		kv:     kv,
		keys:   keys,
		k:      k,
		heads:  make(map[string]crypto.Hash),
		blocks: make(map[crypto.Hash]*Block),
		slots:  make(map[string]uint64),
	}
}

// EnqueueJudgment adds a judgment to the pending batch, to be drained
// at the next seal.
func (c *Chain) EnqueueJudgment(j *judgment.Judgment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingJudgments = append(c.pendingJudgments, j)
}

// EnqueueKnowledgeUpdate adds a pattern/learning update to the pending batch.
func (c *Chain) EnqueueKnowledgeUpdate(u KnowledgeUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingUpdates = append(c.pendingUpdates, u)
}

// PendingSize reports the current pending batch sizes, used by the
// node controller to skip the BLOCK-tick seal when both are empty. No
// heartbeat block is sealed for an idle period.
func (c *Chain) PendingSize() (judgments, updates int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pendingJudgments), len(c.pendingUpdates)
}

func operatorKey(pub []byte) string { return hex.EncodeToString(pub) }

// Seal drains the pending batch (capped at F(11) judgments and F(9)
// knowledge updates), computes roots, signs, and persists the block
// with a durable (fsync-equivalent) write before returning it (§4.C6
// sealing steps 1-6).
func (c *Chain) Seal(slot uint64, timestampMs int64, stateLeaves [][]byte) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	maxJudgments := int(c.k.Fib(11)) // 89
	maxUpdates := int(c.k.Fib(9))    // 34

	drainJ := c.pendingJudgments
	if len(drainJ) > maxJudgments {
		drainJ = drainJ[:maxJudgments]
	}
	c.pendingJudgments = c.pendingJudgments[len(drainJ):]

	drainU := c.pendingUpdates
	if len(drainU) > maxUpdates {
		drainU = drainU[:maxUpdates]
	}
	c.pendingUpdates = c.pendingUpdates[len(drainU):]

	opKey := operatorKey(c.keys.Public)
	prevHash := c.heads[opKey] // zero hash for genesis

	jLeaves := make([][]byte, len(drainJ))
	for i, j := range drainJ {
		jLeaves[i] = judgmentLeaf(j)
	}
	judgmentsRoot, _, err := merkle.Build(jLeaves)
	if err != nil {
		return nil, cynicerr.Wrap(err, cynicerr.Integrity, "build judgments root")
	}

	uLeaves := make([][]byte, len(drainU))
	for i, u := range drainU {
		uLeaves[i] = u.canonicalLeaf()
	}
	knowledgeRoot, _, err := merkle.Build(uLeaves)
	if err != nil {
		return nil, cynicerr.Wrap(err, cynicerr.Integrity, "build knowledge root")
	}

	stateRoot, _, err := merkle.Build(stateLeaves)
	if err != nil {
		return nil, cynicerr.Wrap(err, cynicerr.Integrity, "build state root")
	}

	b := &Block{
		Slot:             slot,
		PrevHash:         prevHash,
		TimestampMs:      timestampMs,
		Judgments:        drainJ,
		KnowledgeUpdates: drainU,
		JudgmentsRoot:    judgmentsRoot,
		KnowledgeRoot:    knowledgeRoot,
		StateRoot:        stateRoot,
		OperatorPubkey:   append([]byte(nil), c.keys.Public...),
	}
	b.OperatorSig = c.keys.Sign(b.headerCanonical())
	b.BlockHash = crypto.SumHash(b.headerCanonical())

	if err := c.persist(b); err != nil {
		return nil, err
	}

	c.blocks[b.BlockHash] = b
	c.heads[opKey] = b.BlockHash
	c.slots[opKey] = slot
	return b, nil
}

func (c *Chain) persist(b *Block) error {
	if c.kv == nil {
		return nil
	}
	// Persisted form omits Judgments/KnowledgeUpdates payload bodies to
	// keep the on-disk header record small; bodies are retrievable from
	// the knowledge store and judgment batch logs separately. Only the
	// header and its roots must survive a restart bit-for-bit.
	type persisted struct {
		Slot           uint64
		PrevHash       [32]byte
		TimestampMs    int64
		JudgmentsRoot  [32]byte
		KnowledgeRoot  [32]byte
		StateRoot      [32]byte
		OperatorPubkey []byte
		OperatorSig    []byte
		BlockHash      [32]byte
	}
	p := persisted{
		Slot: b.Slot, PrevHash: [32]byte(b.PrevHash), TimestampMs: b.TimestampMs,
		JudgmentsRoot: b.JudgmentsRoot, KnowledgeRoot: b.KnowledgeRoot, StateRoot: b.StateRoot,
		OperatorPubkey: b.OperatorPubkey, OperatorSig: b.OperatorSig, BlockHash: [32]byte(b.BlockHash),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return cynicerr.Wrap(err, cynicerr.Integrity, "marshal block header")
	}
	key := blockKey(operatorKey(b.OperatorPubkey), b.Slot)
	if err := c.kv.Set(key, data); err != nil {
		return cynicerr.Wrap(err, cynicerr.ResourceExhausted, "persist block header")
	}
	return nil
}

func blockKey(operatorHex string, slot uint64) []byte {
	return []byte(fmt.Sprintf("chain:%s:slot:%020d", operatorHex, slot))
}

// ValidateIncoming checks block B from operator O against every
// invariant in §4.C6's validation list. It does not mutate chain
// state; callers that accept the block separately record it via
// RecordValidated.
func (c *Chain) ValidateIncoming(b *Block, knownHead crypto.Hash, expectedSlot uint64) error {
	if !crypto.Verify(b.OperatorPubkey, b.headerCanonical(), b.OperatorSig) {
		return cynicerr.New(cynicerr.Integrity, "block signature verification failed")
	}
	if b.PrevHash != knownHead {
		return cynicerr.New(cynicerr.Protocol, "prev_hash does not match known head; request parents")
	}
	if b.Slot != expectedSlot {
		return cynicerr.Newf(cynicerr.Protocol, "slot %d != expected %d", b.Slot, expectedSlot)
	}

	maxJudgments := int(c.k.Fib(11))
	maxUpdates := int(c.k.Fib(9))
	if len(b.Judgments) > maxJudgments {
		return cynicerr.Newf(cynicerr.Protocol, "judgments cardinality %d exceeds F(11)=%d", len(b.Judgments), maxJudgments)
	}
	if len(b.KnowledgeUpdates) > maxUpdates {
		return cynicerr.Newf(cynicerr.Protocol, "knowledge_updates cardinality %d exceeds F(9)=%d", len(b.KnowledgeUpdates), maxUpdates)
	}

	jLeaves := make([][]byte, len(b.Judgments))
	for i, j := range b.Judgments {
		if err := judgment.Verify(j, c.k); err != nil {
			return cynicerr.Wrapf(err, cynicerr.Integrity, "judgment %s failed verification", j.ID)
		}
		jLeaves[i] = judgmentLeaf(j)
	}
	judgmentsRoot, _, err := merkle.Build(jLeaves)
	if err != nil {
		return cynicerr.Wrap(err, cynicerr.Integrity, "recompute judgments root")
	}
	if judgmentsRoot != b.JudgmentsRoot {
		return cynicerr.New(cynicerr.Integrity, "judgments_root does not match payload")
	}

	uLeaves := make([][]byte, len(b.KnowledgeUpdates))
	for i, u := range b.KnowledgeUpdates {
		uLeaves[i] = u.canonicalLeaf()
	}
	knowledgeRoot, _, err := merkle.Build(uLeaves)
	if err != nil {
		return cynicerr.Wrap(err, cynicerr.Integrity, "recompute knowledge root")
	}
	if knowledgeRoot != b.KnowledgeRoot {
		return cynicerr.New(cynicerr.Integrity, "knowledge_root does not match payload")
	}

	expectedHash := crypto.SumHash(b.headerCanonical())
	if expectedHash != b.BlockHash {
		return cynicerr.New(cynicerr.Integrity, "block_hash does not match recomputed header hash")
	}

	return nil
}

// RecordValidated stores a block that passed ValidateIncoming and
// advances the tracked head/slot for its operator.
func (c *Chain) RecordValidated(b *Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.persist(b); err != nil {
		return err
	}
	opKey := operatorKey(b.OperatorPubkey)
	c.blocks[b.BlockHash] = b
	c.heads[opKey] = b.BlockHash
	c.slots[opKey] = b.Slot
	return nil
}

// Head returns the current head block hash tracked for operator
// (identified by its raw pubkey).
func (c *Chain) Head(operatorPubkey []byte) (crypto.Hash, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.heads[operatorKey(operatorPubkey)]
	return h, ok
}

// GetBlock looks up a block by hash among those this node has recorded.
func (c *Chain) GetBlock(hash crypto.Hash) (*Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocks[hash]
	return b, ok
}

// Recent returns up to n most-recently-sealed/recorded blocks for
// operatorPubkey, newest first.
func (c *Chain) Recent(operatorPubkey []byte, n int) []*Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	head, ok := c.heads[operatorKey(operatorPubkey)]
	if !ok {
		return nil
	}
	out := make([]*Block, 0, n)
	cur := head
	for i := 0; i < n; i++ {
		b, ok := c.blocks[cur]
		if !ok {
			break
		}
		out = append(out, b)
		cur = b.PrevHash
		if cur.IsZero() {
			break
		}
	}
	return out
}

// VerifyChain walks the recorded chain for operator between slots
// [from, to] and confirms prev_hash continuity end to end (§4.C6
// Queries: verify_chain).
func (c *Chain) VerifyChain(operatorPubkey []byte, from, to uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	head, ok := c.heads[operatorKey(operatorPubkey)]
	if !ok {
		return cynicerr.New(cynicerr.Protocol, "no known head for operator")
	}

	byHash := make(map[crypto.Hash]*Block)
	for cur := head; ; {
		b, ok := c.blocks[cur]
		if !ok {
			break
		}
		byHash[cur] = b
		if b.Slot <= from || b.PrevHash.IsZero() {
			break
		}
		cur = b.PrevHash
	}

	bySlot := make(map[uint64]*Block, len(byHash))
	for _, b := range byHash {
		bySlot[b.Slot] = b
	}

	for s := to; s > from; s-- {
		cur, ok := bySlot[s]
		if !ok {
			return cynicerr.Newf(cynicerr.Protocol, "missing block at slot %d", s)
		}
		prev, ok := bySlot[s-1]
		if !ok {
			if s-1 == from {
				continue
			}
			return cynicerr.Newf(cynicerr.Protocol, "missing block at slot %d", s-1)
		}
		if cur.PrevHash != prev.BlockHash {
			return cynicerr.Newf(cynicerr.Integrity, "chain discontinuity between slot %d and %d", s-1, s)
		}
	}
	return nil
}
