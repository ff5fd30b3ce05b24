package consensus_test

import (
	"encoding/hex"
	"testing"

	"github.com/cynic-protocol/cynic-node/pkg/consensus"
	"github.com/cynic-protocol/cynic-node/pkg/crypto"
	"github.com/cynic-protocol/cynic-node/pkg/crypto/blsagg"
	"github.com/cynic-protocol/cynic-node/pkg/kernel"
	"github.com/stretchr/testify/require"
)

func newOperator(t *testing.T) (string, *crypto.KeyPair) {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return hex.EncodeToString(kp.Public), kp
}

func signedVote(t *testing.T, proposalID, pubkeyHex string, kp *crypto.KeyPair, slot uint64, choice consensus.VoteChoice) *consensus.Vote {
	t.Helper()
	v := &consensus.Vote{ProposalID: proposalID, Operator: pubkeyHex, Slot: slot, Choice: choice, TimestampMs: int64(slot)}
	v.Sign(kp)
	return v
}

func newFiveOperatorEngine(t *testing.T) (*consensus.Engine, []string, []*crypto.KeyPair) {
	t.Helper()
	k := kernel.Must(100)
	var pubkeys []string
	var kps []*crypto.KeyPair
	var ops []*consensus.Operator
	for i := 0; i < 5; i++ {
		pub, kp := newOperator(t)
		pubkeys = append(pubkeys, pub)
		kps = append(kps, kp)
		ops = append(ops, &consensus.Operator{PubkeyHex: pub, EScore: 10, BurnTotal: 50, UptimeRatio: 1, Active: true})
	}
	wt := consensus.FreezeWeights(1, ops)
	return consensus.NewEngine(k, wt, int(k.Fib(5))), pubkeys, kps
}

func TestCastVoteRejectsBadSignature(t *testing.T) {
	e, pubkeys, _ := newFiveOperatorEngine(t)
	require.NoError(t, e.SubmitProposal(&consensus.Proposal{ID: "p1", ConflictClass: "c1"}))

	v := &consensus.Vote{ProposalID: "p1", Operator: pubkeys[0], Slot: 1, Choice: consensus.Agree}
	v.Signature = []byte("not a real signature")
	err := e.CastVote(v)
	require.Error(t, err)
}

func TestCastVoteDetectsEquivocation(t *testing.T) {
	e, pubkeys, kps := newFiveOperatorEngine(t)
	require.NoError(t, e.SubmitProposal(&consensus.Proposal{ID: "p1", ConflictClass: "c1"}))

	v1 := signedVote(t, "p1", pubkeys[0], kps[0], 1, consensus.Agree)
	require.NoError(t, e.CastVote(v1))

	v2 := signedVote(t, "p1", pubkeys[0], kps[0], 1, consensus.Disagree)
	err := e.CastVote(v2)
	require.Error(t, err)
}

func TestAdvancePrecommitDefersBelowQuorum(t *testing.T) {
	e, pubkeys, kps := newFiveOperatorEngine(t)
	require.NoError(t, e.SubmitProposal(&consensus.Proposal{ID: "p1", ConflictClass: "c1"}))

	v := signedVote(t, "p1", pubkeys[0], kps[0], 1, consensus.Agree)
	require.NoError(t, e.CastVote(v))

	stage, err := e.AdvancePrecommit("p1")
	require.NoError(t, err)
	require.Equal(t, consensus.StageDeferred, stage)
}

func TestAdvancePrecommitReachesPrecommitAtPhiInvThreshold(t *testing.T) {
	e, pubkeys, kps := newFiveOperatorEngine(t)
	require.NoError(t, e.SubmitProposal(&consensus.Proposal{ID: "p1", ConflictClass: "c1"}))

	// 4 of 5 equal-weight operators agree: ratio 0.8 >= phi^-1 (0.618...)
	for i := 0; i < 4; i++ {
		v := signedVote(t, "p1", pubkeys[i], kps[i], 1, consensus.Agree)
		require.NoError(t, e.CastVote(v))
	}
	v := signedVote(t, "p1", pubkeys[4], kps[4], 1, consensus.Disagree)
	require.NoError(t, e.CastVote(v))

	stage, err := e.AdvancePrecommit("p1")
	require.NoError(t, err)
	require.Equal(t, consensus.StagePrecommit, stage)
}

func TestCommitRequiresPrecommitStage(t *testing.T) {
	e, _, _ := newFiveOperatorEngine(t)
	require.NoError(t, e.SubmitProposal(&consensus.Proposal{ID: "p1", ConflictClass: "c1"}))
	err := e.Commit("p1")
	require.Error(t, err)
}

func TestFinalityRequiresFib7DepthWithSustainedRatio(t *testing.T) {
	e, pubkeys, _ := newFiveOperatorEngine(t)
	k := kernel.Must(100)

	for i := 0; i < int(k.Fib(7))-1; i++ {
		e.RecordConfirmation("blockA", "c1", pubkeys, uint64(i), 4, 5)
	}
	require.False(t, e.IsFinalized("blockA"))

	e.RecordConfirmation("blockA", "c1", pubkeys, uint64(k.Fib(7)), 4, 5)
	require.True(t, e.IsFinalized("blockA"))
}

func TestFinalityFailsIfAnyStepBelowThreshold(t *testing.T) {
	e, pubkeys, _ := newFiveOperatorEngine(t)
	k := kernel.Must(100)

	for i := 0; i < int(k.Fib(7)); i++ {
		ratioNum, ratioDen := 4.0, 5.0
		if i == 2 {
			ratioNum = 1 // one weak step breaks finality
		}
		e.RecordConfirmation("blockB", "c1", pubkeys, uint64(i), ratioNum, ratioDen)
	}
	require.False(t, e.IsFinalized("blockB"))
}

func TestLockoutBlocksDisagreeOnConflictingProposal(t *testing.T) {
	e, pubkeys, kps := newFiveOperatorEngine(t)
	require.NoError(t, e.SubmitProposal(&consensus.Proposal{ID: "p1", ConflictClass: "c1"}))
	require.NoError(t, e.SubmitProposal(&consensus.Proposal{ID: "p2", ConflictClass: "c1"}))

	v := signedVote(t, "p1", pubkeys[0], kps[0], 1, consensus.Agree)
	require.NoError(t, e.CastVote(v))
	// three successive confirmations at slot 12 push the lockout well past
	// the next slot: phi^3 ~= 4.2 slots of lockout from slot 12.
	e.RecordConfirmation("p1-block", "c1", []string{pubkeys[0]}, 12, 5, 5)
	e.RecordConfirmation("p1-block", "c1", []string{pubkeys[0]}, 12, 5, 5)
	e.RecordConfirmation("p1-block", "c1", []string{pubkeys[0]}, 12, 5, 5)

	disagree := signedVote(t, "p2", pubkeys[0], kps[0], 13, consensus.Disagree)
	err := e.CastVote(disagree)
	require.Error(t, err)
}

func TestCastVoteRejectsBadBLSSignatureFromRegisteredKey(t *testing.T) {
	e, pubkeys, kps := newFiveOperatorEngine(t)
	require.NoError(t, e.SubmitProposal(&consensus.Proposal{ID: "p1", ConflictClass: "c1"}))

	_, pk, err := blsagg.GenerateKeyPair()
	require.NoError(t, err)
	e.RegisterBLSKey(pubkeys[0], pk)

	v := signedVote(t, "p1", pubkeys[0], kps[0], 1, consensus.Agree)
	v.BLSSignature = []byte("not-a-real-signature-but-48-bytes-long-padded!!")
	err = e.CastVote(v)
	require.Error(t, err)
}

func TestCastVoteAcceptsUnregisteredBLSSignatureWithoutVerifying(t *testing.T) {
	e, pubkeys, kps := newFiveOperatorEngine(t)
	require.NoError(t, e.SubmitProposal(&consensus.Proposal{ID: "p1", ConflictClass: "c1"}))

	v := signedVote(t, "p1", pubkeys[0], kps[0], 1, consensus.Agree)
	v.BLSSignature = []byte("garbage")
	require.NoError(t, e.CastVote(v))
}

func TestQuorumCertificateAggregatesDualSignedAgreeVotes(t *testing.T) {
	e, pubkeys, kps := newFiveOperatorEngine(t)
	require.NoError(t, e.SubmitProposal(&consensus.Proposal{ID: "p1", ConflictClass: "c1"}))

	for i := 0; i < 4; i++ {
		sk, pk, err := blsagg.GenerateKeyPair()
		require.NoError(t, err)
		e.RegisterBLSKey(pubkeys[i], pk)

		v := signedVote(t, "p1", pubkeys[i], kps[i], 1, consensus.Agree)
		v.SignBLS(sk)
		require.NoError(t, e.CastVote(v))
	}
	v := signedVote(t, "p1", pubkeys[4], kps[4], 1, consensus.Disagree)
	require.NoError(t, e.CastVote(v))

	_, err := e.AdvancePrecommit("p1")
	require.NoError(t, err)
	require.NoError(t, e.Commit("p1"))

	sig, pks, err := e.QuorumCertificate("p1")
	require.NoError(t, err)
	require.NotNil(t, sig)
	require.Len(t, pks, 4)
}

func TestQuorumCertificateFailsBeforeCommit(t *testing.T) {
	e, _, _ := newFiveOperatorEngine(t)
	require.NoError(t, e.SubmitProposal(&consensus.Proposal{ID: "p1", ConflictClass: "c1"}))
	_, _, err := e.QuorumCertificate("p1")
	require.Error(t, err)
}

func TestQuorumCertificateFailsWithNoBLSParticipants(t *testing.T) {
	e, pubkeys, kps := newFiveOperatorEngine(t)
	require.NoError(t, e.SubmitProposal(&consensus.Proposal{ID: "p1", ConflictClass: "c1"}))

	for i := 0; i < 4; i++ {
		v := signedVote(t, "p1", pubkeys[i], kps[i], 1, consensus.Agree)
		require.NoError(t, e.CastVote(v))
	}
	v := signedVote(t, "p1", pubkeys[4], kps[4], 1, consensus.Disagree)
	require.NoError(t, e.CastVote(v))

	_, err := e.AdvancePrecommit("p1")
	require.NoError(t, err)
	require.NoError(t, e.Commit("p1"))

	_, _, err = e.QuorumCertificate("p1")
	require.Error(t, err)
}
