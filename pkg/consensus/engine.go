// Copyright 2025 Cynic Protocol
//
// Hard-consensus protocol (§4.C8): PROPOSE -> PREVOTE -> PRECOMMIT ->
// COMMIT, phi^-1 weighted quorum, exponential lockout, and
// confirmation-depth finality.
package consensus

import (
	"sync"

	"github.com/cynic-protocol/cynic-node/pkg/crypto/blsagg"
	"github.com/cynic-protocol/cynic-node/pkg/cynicerr"
	"github.com/cynic-protocol/cynic-node/pkg/kernel"
)

// Stage is a proposal's position in the hard-consensus protocol.
type Stage string

const (
	StagePropose   Stage = "PROPOSE"
	StagePrevote   Stage = "PREVOTE"
	StagePrecommit Stage = "PRECOMMIT"
	StageCommit    Stage = "COMMIT"
	StageDeferred  Stage = "DEFERRED" // below quorum; not rejected
)

// Proposal is a governance or dimension-change block submitted for
// hard consensus (§4.C8 PROPOSE; wire format in §6).
type Proposal struct {
	ID              string
	ProposerPubkey  string
	ProposedAtSlot  uint64
	ConflictClass   string // proposals sharing a conflict class cannot both commit; lockout applies across it
	Body            []byte // canonical governance block payload
}

type proposalState struct {
	proposal *Proposal
	stage    Stage
	votes    map[string]*Vote // operator pubkey -> vote
}

type lockoutState struct {
	conflictClass string
	untilSlot     uint64
}

type confirmationState struct {
	depth       int
	ratioOK     []bool // per-step: was agreeWeight/totalWeight >= phi^-1 at that confirmation
}

// Engine runs the hard-consensus protocol over a frozen WeightTable.
type Engine struct {
	mu sync.Mutex

	k       *kernel.Kernel
	weights *WeightTable
	quorum  int // F(5) = 5, §4.C8 "Quorum"

	proposals     map[string]*proposalState
	lockouts      map[string]*lockoutState      // operator pubkey -> current lockout
	rapSheet      map[string]bool               // operator pubkey -> equivocated this epoch, weight zeroed
	confirmations map[string]*confirmationState // block hash hex -> confirmation tracking

	// blsKeys holds the BLS12-381 public key of every operator who has
	// opted into dual-signing (§4.C8 votes are Ed25519-signed; BLS is
	// strictly additive). Populated via RegisterBLSKey, never required.
	blsKeys map[string]*blsagg.PublicKey
}

// NewEngine builds an Engine for one epoch's frozen weight table.
// quorum should be k.Fib(5).
func NewEngine(k *kernel.Kernel, weights *WeightTable, quorum int) *Engine {
	return &Engine{
		k:             k,
		weights:       weights,
		quorum:        quorum,
		proposals:     make(map[string]*proposalState),
		lockouts:      make(map[string]*lockoutState),
		rapSheet:      make(map[string]bool),
		confirmations: make(map[string]*confirmationState),
		blsKeys:       make(map[string]*blsagg.PublicKey),
	}
}

// RegisterBLSKey opts operatorPubkeyHex into BLS dual-signing: future
// votes from that operator carrying a Vote.BLSSignature are verified
// against pk, and count toward QuorumCertificate's aggregate.
func (e *Engine) RegisterBLSKey(operatorPubkeyHex string, pk *blsagg.PublicKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blsKeys[operatorPubkeyHex] = pk
}

// SubmitProposal registers a new proposal at the PROPOSE stage.
func (e *Engine) SubmitProposal(p *Proposal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.proposals[p.ID]; exists {
		return cynicerr.New(cynicerr.Protocol, "DuplicateProposal")
	}
	e.proposals[p.ID] = &proposalState{proposal: p, stage: StagePropose, votes: make(map[string]*Vote)}
	return nil
}

func (e *Engine) operatorWeight(pubkey string) float64 {
	if e.rapSheet[pubkey] {
		return 0
	}
	return e.weights.Weight(pubkey)
}

// ClearRapSheet removes pubkey from the equivocation rap-sheet,
// restoring its weight in every later Tally, including tallies of
// votes it cast before the clear. Persistence
// of rap-sheet entries across epochs is governance-decided (§4.C8);
// this is the governance-side effect of a passed CLEAR_RAP_SHEET
// proposal.
func (e *Engine) ClearRapSheet(pubkey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rapSheet, pubkey)
}

// IsRapSheeted reports whether pubkey's weight is currently zeroed.
func (e *Engine) IsRapSheeted(pubkey string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rapSheet[pubkey]
}

// CastVote records v against its proposal, detecting equivocation
// (a second vote from the same operator on the same proposal at the
// same slot with a different choice) and enforcing any active lockout. A detected equivocation zeros the
// offending operator's weight for this engine's epoch and is fatal
// (§4.C8 "Failure").
func (e *Engine) CastVote(v *Vote) error {
	if !v.VerifySignature() {
		return cynicerr.New(cynicerr.Integrity, "InvalidVoteSignature")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(v.BLSSignature) > 0 {
		if pk, dualSigned := e.blsKeys[v.Operator]; dualSigned {
			if !v.VerifyBLS(pk) {
				return cynicerr.New(cynicerr.Integrity, "InvalidVoteBLSSignature")
			}
		}
	}

	ps, ok := e.proposals[v.ProposalID]
	if !ok {
		return cynicerr.New(cynicerr.Protocol, "UnknownProposal")
	}

	if lock, locked := e.lockouts[v.Operator]; locked && v.Choice == Disagree &&
		lock.conflictClass == ps.proposal.ConflictClass && v.Slot < lock.untilSlot {
		return cynicerr.New(cynicerr.ConsensusFault, "LockoutViolated")
	}

	if prior, voted := ps.votes[v.Operator]; voted && prior.Slot == v.Slot && prior.Choice != v.Choice {
		e.rapSheet[v.Operator] = true
		return cynicerr.New(cynicerr.ConsensusFault, "ContradictoryVote").WithContext("operator", v.Operator)
	}

	ps.votes[v.Operator] = v
	if ps.stage == StagePropose {
		ps.stage = StagePrevote
	}
	return nil
}

// Proposal returns the proposal registered under id, its current
// stage, and whether it exists at all — used by callers (pkg/api) that
// need to read back a proposal's body once it reaches COMMIT.
func (e *Engine) Proposal(id string) (*Proposal, Stage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ps, ok := e.proposals[id]
	if !ok {
		return nil, "", false
	}
	return ps.proposal, ps.stage, true
}

// Tally returns the AGREE weight, total cast weight, and distinct
// voter count for a proposal.
func (e *Engine) Tally(proposalID string) (agreeWeight, totalWeight float64, distinctVoters int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ps, ok := e.proposals[proposalID]
	if !ok {
		return 0, 0, 0
	}
	for pubkey, v := range ps.votes {
		w := e.operatorWeight(pubkey)
		totalWeight += w
		if v.Choice == Agree {
			agreeWeight += w
		}
	}
	return agreeWeight, totalWeight, len(ps.votes)
}

// AdvancePrecommit moves a proposal from PREVOTE to PRECOMMIT once
// quorum is met and the agree ratio reaches phi^-1 (§4.C8 step 3); it
// reports StageDeferred (not an error) when quorum isn't yet met.
func (e *Engine) AdvancePrecommit(proposalID string) (Stage, error) {
	agreeWeight, totalWeight, distinct := e.Tally(proposalID)

	e.mu.Lock()
	ps, ok := e.proposals[proposalID]
	e.mu.Unlock()
	if !ok {
		return "", cynicerr.New(cynicerr.Protocol, "UnknownProposal")
	}

	if !MeetsQuorum(distinct, e.quorum) {
		e.mu.Lock()
		ps.stage = StageDeferred
		e.mu.Unlock()
		return StageDeferred, nil
	}
	if !ValidateThreshold(agreeWeight, totalWeight, e.k.PhiInv) {
		return ps.stage, nil
	}

	e.mu.Lock()
	ps.stage = StagePrecommit
	e.mu.Unlock()
	return StagePrecommit, nil
}

// Commit finalizes a PRECOMMIT proposal. It checks only that the
// proposal is at PRECOMMIT; it does not wait for a further SLOT or
// re-tally for a contrary majority, and its caller in pkg/api does
// not either.
func (e *Engine) Commit(proposalID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ps, ok := e.proposals[proposalID]
	if !ok {
		return cynicerr.New(cynicerr.Protocol, "UnknownProposal")
	}
	if ps.stage != StagePrecommit {
		return cynicerr.New(cynicerr.ConsensusFault, "CommitWithoutPrecommit")
	}
	ps.stage = StageCommit
	return nil
}

// QuorumCertificate aggregates the BLS signatures of every AGREE voter
// on proposalID who dual-signed and has a registered BLS key, into one
// 48-byte proof an auditor can check with a single pairing instead of
// walking every individual Ed25519 vote signature. Only callable once
// the proposal has reached COMMIT; returns an error if no voter
// dual-signed (BLS participation is opt-in, so this is an enhancement
// over the Ed25519 votes, never a replacement for them).
func (e *Engine) QuorumCertificate(proposalID string) (*blsagg.Signature, []*blsagg.PublicKey, error) {
	e.mu.Lock()
	ps, ok := e.proposals[proposalID]
	if !ok {
		e.mu.Unlock()
		return nil, nil, cynicerr.New(cynicerr.Protocol, "UnknownProposal")
	}
	if ps.stage != StageCommit {
		e.mu.Unlock()
		return nil, nil, cynicerr.New(cynicerr.ConsensusFault, "ProposalNotCommitted")
	}

	var sigs []*blsagg.Signature
	var pks []*blsagg.PublicKey
	for pubkey, v := range ps.votes {
		if v.Choice != Agree || len(v.BLSSignature) == 0 {
			continue
		}
		pk, dualSigned := e.blsKeys[pubkey]
		if !dualSigned {
			continue
		}
		sig, err := blsagg.SignatureFromBytes(v.BLSSignature)
		if err != nil {
			continue
		}
		sigs = append(sigs, sig)
		pks = append(pks, pk)
	}
	e.mu.Unlock()

	if len(sigs) == 0 {
		return nil, nil, cynicerr.New(cynicerr.Protocol, "NoBLSQuorumParticipants")
	}
	aggSig, err := blsagg.AggregateSignatures(sigs)
	if err != nil {
		return nil, nil, cynicerr.Wrap(err, cynicerr.Integrity, "aggregate quorum signatures")
	}
	return aggSig, pks, nil
}

// RecordConfirmation counts one more confirmation of blockHash and
// applies exponential lockout (§4.C8 "Exponential lockout") to every
// operator whose AGREE vote is being counted at this confirmation
// step: locked from voting DISAGREE on blockHash's conflict class for
// phi^k slots, where k is the confirmation depth just reached.
func (e *Engine) RecordConfirmation(blockHashHex string, conflictClass string, agreeingOperators []string, currentSlot uint64, agreeWeight, totalWeight float64) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs, ok := e.confirmations[blockHashHex]
	if !ok {
		cs = &confirmationState{}
		e.confirmations[blockHashHex] = cs
	}
	cs.depth++
	cs.ratioOK = append(cs.ratioOK, ValidateThreshold(agreeWeight, totalWeight, e.k.PhiInv))

	lockSlots := uint64(intPow(kernel.Phi, cs.depth))
	for _, op := range agreeingOperators {
		e.lockouts[op] = &lockoutState{conflictClass: conflictClass, untilSlot: currentSlot + lockSlots}
	}
	return cs.depth
}

// IsFinalized reports whether blockHash has reached confirmation depth
// F(7)=13 with >= phi^-1 weight at every step (§4.C8 "Finality").
func (e *Engine) IsFinalized(blockHashHex string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.confirmations[blockHashHex]
	if !ok {
		return false
	}
	if cs.depth < int(e.k.Fib(7)) {
		return false
	}
	for _, ok := range cs.ratioOK {
		if !ok {
			return false
		}
	}
	return true
}

// intPow computes base^exp for a small non-negative integer exponent.
// The result is not rounded; RecordConfirmation truncates it to whole
// slots.
func intPow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}
