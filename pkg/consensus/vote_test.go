package consensus_test

import (
	"testing"

	"github.com/cynic-protocol/cynic-node/pkg/consensus"
	"github.com/cynic-protocol/cynic-node/pkg/crypto/blsagg"
	"github.com/stretchr/testify/require"
)

func TestVoteSignAndVerifyRoundTrip(t *testing.T) {
	pubkeyHex, kp := newOperator(t)
	v := &consensus.Vote{ProposalID: "p1", Operator: pubkeyHex, Slot: 3, Choice: consensus.Agree, TimestampMs: 1000}
	v.Sign(kp)
	require.True(t, v.VerifySignature())
}

func TestVoteVerifyFailsOnTamperedField(t *testing.T) {
	pubkeyHex, kp := newOperator(t)
	v := &consensus.Vote{ProposalID: "p1", Operator: pubkeyHex, Slot: 3, Choice: consensus.Agree, TimestampMs: 1000}
	v.Sign(kp)
	v.Choice = consensus.Disagree
	require.False(t, v.VerifySignature())
}

func TestVoteVerifyFailsOnMalformedOperatorHex(t *testing.T) {
	v := &consensus.Vote{ProposalID: "p1", Operator: "not-hex", Slot: 1, Choice: consensus.Agree}
	v.Signature = []byte("x")
	require.False(t, v.VerifySignature())
}

func TestVoteSignBLSAndVerifyRoundTrip(t *testing.T) {
	pubkeyHex, kp := newOperator(t)
	sk, pk, err := blsagg.GenerateKeyPair()
	require.NoError(t, err)

	v := &consensus.Vote{ProposalID: "p1", Operator: pubkeyHex, Slot: 3, Choice: consensus.Agree, TimestampMs: 1000}
	v.Sign(kp)
	v.SignBLS(sk)

	require.True(t, v.VerifySignature())
	require.True(t, v.VerifyBLS(pk))
}

func TestVoteVerifyBLSFailsOnTamperedField(t *testing.T) {
	pubkeyHex, kp := newOperator(t)
	sk, pk, err := blsagg.GenerateKeyPair()
	require.NoError(t, err)

	v := &consensus.Vote{ProposalID: "p1", Operator: pubkeyHex, Slot: 3, Choice: consensus.Agree, TimestampMs: 1000}
	v.Sign(kp)
	v.SignBLS(sk)
	v.Choice = consensus.Disagree

	require.False(t, v.VerifyBLS(pk))
}

func TestVoteVerifyBLSFalseWhenAbsent(t *testing.T) {
	pubkeyHex, kp := newOperator(t)
	_, pk, err := blsagg.GenerateKeyPair()
	require.NoError(t, err)

	v := &consensus.Vote{ProposalID: "p1", Operator: pubkeyHex, Slot: 3, Choice: consensus.Agree}
	v.Sign(kp)
	require.False(t, v.VerifyBLS(pk))
}
