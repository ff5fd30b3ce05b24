package chain_test

import (
	"testing"

	"github.com/cynic-protocol/cynic-node/pkg/chain"
	"github.com/cynic-protocol/cynic-node/pkg/crypto"
	"github.com/cynic-protocol/cynic-node/pkg/dimension"
	"github.com/cynic-protocol/cynic-node/pkg/judgment"
	"github.com/cynic-protocol/cynic-node/pkg/kernel"
	"github.com/stretchr/testify/require"
)

func newTestChain(t *testing.T) (*chain.Chain, *crypto.KeyPair, *kernel.Kernel) {
	t.Helper()
	k := kernel.Must(100)
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return chain.NewChain(nil, keys, k), keys, k
}

func sampleJudgment(t *testing.T, keys *crypto.KeyPair, k *kernel.Kernel) *judgment.Judgment {
	t.Helper()
	reg := dimension.NewRegistry()
	require.NoError(t, reg.RegisterSeed(&dimension.Dimension{
		Name: "truthfulness", Axiom: dimension.AxiomVerify, Weight: 1,
		Evaluator: func(item []byte, ctx map[string]any) (float64, error) { return 70, nil },
	}))
	engine := judgment.NewEngine(reg, k)
	j, err := engine.Judge([]byte("item"), nil, keys)
	require.NoError(t, err)
	return j
}

func TestSealGenesisBlockHasZeroPrevHash(t *testing.T) {
	c, keys, k := newTestChain(t)
	c.EnqueueJudgment(sampleJudgment(t, keys, k))

	b, err := c.Seal(0, 1000, nil)
	require.NoError(t, err)
	require.True(t, b.PrevHash.IsZero())
	require.Len(t, b.Judgments, 1)
}

func TestSealChainsPrevHash(t *testing.T) {
	c, keys, k := newTestChain(t)
	b0, err := c.Seal(0, 1000, nil)
	require.NoError(t, err)

	c.EnqueueJudgment(sampleJudgment(t, keys, k))
	b1, err := c.Seal(1, 1100, nil)
	require.NoError(t, err)

	require.Equal(t, b0.BlockHash, b1.PrevHash)
}

func TestSealRespectsCardinalityCaps(t *testing.T) {
	c, keys, k := newTestChain(t)
	for i := 0; i < 100; i++ {
		c.EnqueueJudgment(sampleJudgment(t, keys, k))
	}
	b, err := c.Seal(0, 1000, nil)
	require.NoError(t, err)
	require.LessOrEqual(t, len(b.Judgments), 89)

	pendingJ, _ := c.PendingSize()
	require.Equal(t, 100-len(b.Judgments), pendingJ)
}

func TestValidateIncomingAcceptsWellFormedBlock(t *testing.T) {
	producer, keys, k := newTestChain(t)
	producer.EnqueueJudgment(sampleJudgment(t, keys, k))
	b, err := producer.Seal(0, 1000, nil)
	require.NoError(t, err)

	validator := chain.NewChain(nil, keys, k)
	err = validator.ValidateIncoming(b, crypto.Hash{}, 0)
	require.NoError(t, err)
}

func TestValidateIncomingRejectsBadSignature(t *testing.T) {
	producer, keys, k := newTestChain(t)
	b, err := producer.Seal(0, 1000, nil)
	require.NoError(t, err)
	b.OperatorSig[0] ^= 0xFF

	validator := chain.NewChain(nil, keys, k)
	err = validator.ValidateIncoming(b, crypto.Hash{}, 0)
	require.Error(t, err)
}

func TestValidateIncomingRejectsWrongSlot(t *testing.T) {
	producer, keys, k := newTestChain(t)
	b, err := producer.Seal(5, 1000, nil)
	require.NoError(t, err)

	validator := chain.NewChain(nil, keys, k)
	err = validator.ValidateIncoming(b, crypto.Hash{}, 0)
	require.Error(t, err)
}

func TestValidateIncomingRejectsTamperedRoot(t *testing.T) {
	producer, keys, k := newTestChain(t)
	producer.EnqueueJudgment(sampleJudgment(t, keys, k))
	b, err := producer.Seal(0, 1000, nil)
	require.NoError(t, err)
	b.JudgmentsRoot[0] ^= 0xFF

	validator := chain.NewChain(nil, keys, k)
	err = validator.ValidateIncoming(b, crypto.Hash{}, 0)
	require.Error(t, err)
}

func TestHeadAndGetBlockAndRecent(t *testing.T) {
	c, keys, _ := newTestChain(t)
	b0, err := c.Seal(0, 1000, nil)
	require.NoError(t, err)
	b1, err := c.Seal(1, 1100, nil)
	require.NoError(t, err)

	head, ok := c.Head(keys.Public)
	require.True(t, ok)
	require.Equal(t, b1.BlockHash, head)

	got, ok := c.GetBlock(b0.BlockHash)
	require.True(t, ok)
	require.Equal(t, b0.Slot, got.Slot)

	recent := c.Recent(keys.Public, 10)
	require.Len(t, recent, 2)
	require.Equal(t, b1.BlockHash, recent[0].BlockHash)
	require.Equal(t, b0.BlockHash, recent[1].BlockHash)
}

func TestVerifyChainDetectsContinuity(t *testing.T) {
	c, keys, _ := newTestChain(t)
	_, err := c.Seal(0, 1000, nil)
	require.NoError(t, err)
	_, err = c.Seal(1, 1100, nil)
	require.NoError(t, err)
	_, err = c.Seal(2, 1200, nil)
	require.NoError(t, err)

	require.NoError(t, c.VerifyChain(keys.Public, 0, 2))
}
