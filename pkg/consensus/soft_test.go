package consensus_test

import (
	"testing"

	"github.com/cynic-protocol/cynic-node/pkg/consensus"
	"github.com/cynic-protocol/cynic-node/pkg/crypto"
	"github.com/cynic-protocol/cynic-node/pkg/dimension"
	"github.com/cynic-protocol/cynic-node/pkg/judgment"
	"github.com/cynic-protocol/cynic-node/pkg/kernel"
	"github.com/stretchr/testify/require"
)

func sampleJudgmentForFeatures(t *testing.T, score float64) (*judgment.Judgment, *dimension.Registry) {
	t.Helper()
	k := kernel.Must(100)
	reg := dimension.NewRegistry()
	require.NoError(t, reg.RegisterSeed(&dimension.Dimension{
		Name: "truthfulness", Axiom: dimension.AxiomVerify, Weight: 1,
		Evaluator: func(item []byte, ctx map[string]any) (float64, error) { return score, nil },
	}))
	engine := judgment.NewEngine(reg, k)
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	j, err := engine.Judge([]byte("item"), nil, keys)
	require.NoError(t, err)
	return j, reg
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	j, reg := sampleJudgmentForFeatures(t, 90)
	fv1 := consensus.ExtractFeatures(j, reg, "claim", []string{"news"})
	fv2 := consensus.ExtractFeatures(j, reg, "claim", []string{"news"})
	require.InDelta(t, 1.0, consensus.CosineSimilarity(fv1, fv2), 1e-9)
}

func TestCosineSimilarityDiffersForDifferentItemType(t *testing.T) {
	j, reg := sampleJudgmentForFeatures(t, 90)
	fv1 := consensus.ExtractFeatures(j, reg, "claim", []string{"news"})
	fv2 := consensus.ExtractFeatures(j, reg, "image", []string{"meme"})
	require.Less(t, consensus.CosineSimilarity(fv1, fv2), 1.0)
}

func TestSoftTrackerEmergesAtThreeDistinctSources(t *testing.T) {
	j, reg := sampleJudgmentForFeatures(t, 90)
	fv := consensus.ExtractFeatures(j, reg, "claim", []string{"news"})

	k := kernel.Must(100)
	tracker := consensus.NewSoftTracker(k.PhiInv)

	emerged, n := tracker.Submit("class-1", "op-a", fv)
	require.False(t, emerged)
	require.Equal(t, 1, n)

	emerged, n = tracker.Submit("class-1", "op-b", fv)
	require.False(t, emerged)
	require.Equal(t, 2, n)

	emerged, n = tracker.Submit("class-1", "op-c", fv)
	require.True(t, emerged)
	require.Equal(t, 3, n)
}

func TestSoftTrackerResubmissionFromSameOperatorDoesNotDoubleCount(t *testing.T) {
	j, reg := sampleJudgmentForFeatures(t, 90)
	fv := consensus.ExtractFeatures(j, reg, "claim", []string{"news"})

	k := kernel.Must(100)
	tracker := consensus.NewSoftTracker(k.PhiInv)

	tracker.Submit("class-1", "op-a", fv)
	emerged, n := tracker.Submit("class-1", "op-a", fv)
	require.False(t, emerged)
	require.Equal(t, 1, n)
}
