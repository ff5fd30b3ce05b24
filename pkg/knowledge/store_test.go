package knowledge_test

import (
	"testing"

	"github.com/cynic-protocol/cynic-node/pkg/crypto"
	"github.com/cynic-protocol/cynic-node/pkg/dimension"
	"github.com/cynic-protocol/cynic-node/pkg/knowledge"
	"github.com/stretchr/testify/require"
)

type memKV struct{ m map[string][]byte }

func newMemKV() *memKV { return &memKV{m: make(map[string][]byte)} }

func (k *memKV) Get(key []byte) ([]byte, error) { return k.m[string(key)], nil }
func (k *memKV) Set(key, value []byte) error {
	k.m[string(key)] = append([]byte(nil), value...)
	return nil
}

func TestPutPatternBecomesRetrievableWithProof(t *testing.T) {
	store := knowledge.NewStore(newMemKV(), knowledge.SyncFull)
	p := &knowledge.Pattern{
		ID:          "pattern-1",
		ContentHash: crypto.SumHash([]byte("content")),
		Axiom:       dimension.AxiomVerify,
		Strength:    0.8,
		Sources:     []string{"op-a", "op-b", "op-c"},
	}
	require.NoError(t, store.PutPattern(p))
	require.True(t, p.Confirmed())

	kind, data, proof, err := store.Get(dimension.AxiomVerify, "pattern-1")
	require.NoError(t, err)
	require.Equal(t, "pattern", kind)
	require.NotEmpty(t, data)
	require.NotNil(t, proof)

	root, err := store.Root(dimension.AxiomVerify)
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, root)
}

func TestPatternNotConfirmedBelowThreshold(t *testing.T) {
	p := &knowledge.Pattern{ID: "p", Sources: []string{"op-a", "op-b"}}
	require.False(t, p.Confirmed())
}

func TestRootAllCombinesFourShards(t *testing.T) {
	store := knowledge.NewStore(newMemKV(), knowledge.SyncFull)
	emptyRootAll := store.RootAll()

	require.NoError(t, store.PutPattern(&knowledge.Pattern{
		ID: "p1", Axiom: dimension.AxiomBurn, Sources: []string{"op-a"},
	}))

	changedRootAll := store.RootAll()
	require.NotEqual(t, emptyRootAll, changedRootAll)
}

func TestGetUnknownIDFails(t *testing.T) {
	store := knowledge.NewStore(newMemKV(), knowledge.SyncFull)
	_, _, _, err := store.Get(dimension.AxiomPhi, "missing")
	require.Error(t, err)
}

func TestDeltaSinceAndApplyDeltaRoundTrip(t *testing.T) {
	source := knowledge.NewStore(newMemKV(), knowledge.SyncFull)
	require.NoError(t, source.PutPattern(&knowledge.Pattern{
		ID: "p1", Axiom: dimension.AxiomCulture, Sources: []string{"op-a", "op-b", "op-c"},
	}))
	require.NoError(t, source.PutPattern(&knowledge.Pattern{
		ID: "p2", Axiom: dimension.AxiomCulture, Sources: []string{"op-d"},
	}))

	dest := knowledge.NewStore(newMemKV(), knowledge.SyncLight)

	peerRoots := map[dimension.Axiom][32]byte{}
	for _, a := range dimension.Axioms {
		r, err := dest.Root(a)
		require.NoError(t, err)
		peerRoots[a] = r
	}

	bundle := source.DeltaSince(peerRoots)
	require.NotEmpty(t, bundle.Entries[dimension.AxiomCulture])

	claimedRoots := map[dimension.Axiom][32]byte{}
	for _, a := range dimension.Axioms {
		r, err := source.Root(a)
		require.NoError(t, err)
		claimedRoots[a] = r
	}

	require.NoError(t, dest.ApplyDelta(bundle, claimedRoots))

	destRoot, err := dest.Root(dimension.AxiomCulture)
	require.NoError(t, err)
	sourceRoot, err := source.Root(dimension.AxiomCulture)
	require.NoError(t, err)
	require.Equal(t, sourceRoot, destRoot)
}

func TestApplyDeltaRejectsForgedProof(t *testing.T) {
	source := knowledge.NewStore(newMemKV(), knowledge.SyncFull)
	require.NoError(t, source.PutPattern(&knowledge.Pattern{
		ID: "p1", Axiom: dimension.AxiomPhi, Sources: []string{"op-a"},
	}))

	dest := knowledge.NewStore(newMemKV(), knowledge.SyncLight)
	peerRoots := map[dimension.Axiom][32]byte{}
	for _, a := range dimension.Axioms {
		r, _ := dest.Root(a)
		peerRoots[a] = r
	}
	bundle := source.DeltaSince(peerRoots)

	forgedRoots := map[dimension.Axiom][32]byte{dimension.AxiomPhi: crypto.SumHash([]byte("forged"))}
	err := dest.ApplyDelta(bundle, forgedRoots)
	require.Error(t, err)
}

func TestAxiomSyncModeFormatting(t *testing.T) {
	require.Equal(t, knowledge.SyncMode("AXIOM(VERIFY)"), knowledge.AxiomSyncMode(dimension.AxiomVerify))
}
