package merkle_test

import (
	"testing"

	"github.com/cynic-protocol/cynic-node/pkg/merkle"
	"github.com/stretchr/testify/require"
)

func leaves(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte(i), byte(i >> 8), 0xCA, 0xFE}
	}
	return out
}

func TestEmptyLeavesRootIsZero(t *testing.T) {
	root, tree, err := merkle.Build(nil)
	require.NoError(t, err)
	require.Nil(t, tree)
	require.Equal(t, [32]byte{}, root)
}

func TestBuildAndVerifySingleLeaf(t *testing.T) {
	root, tree, err := merkle.Build(leaves(1))
	require.NoError(t, err)
	require.Equal(t, 1, tree.LeafCount())

	proof, err := tree.Proof(0)
	require.NoError(t, err)
	require.True(t, merkle.Verify(leaves(1)[0], proof, root))
}

func TestBuildAndVerifyOddLeafCount(t *testing.T) {
	ls := leaves(5)
	root, tree, err := merkle.Build(ls)
	require.NoError(t, err)
	require.Equal(t, 5, tree.LeafCount())

	for i, l := range ls {
		proof, err := tree.Proof(i)
		require.NoError(t, err)
		require.True(t, merkle.Verify(l, proof, root), "leaf %d", i)
	}
}

func TestBuildAndVerifyPowerOfTwoLeafCount(t *testing.T) {
	ls := leaves(8)
	root, tree, err := merkle.Build(ls)
	require.NoError(t, err)

	for i, l := range ls {
		proof, err := tree.Proof(i)
		require.NoError(t, err)
		require.True(t, merkle.Verify(l, proof, root))
	}
}

func TestVerifyFailsOnFlippedLeafBit(t *testing.T) {
	ls := leaves(6)
	root, tree, err := merkle.Build(ls)
	require.NoError(t, err)

	proof, err := tree.Proof(3)
	require.NoError(t, err)

	tampered := append([]byte{}, ls[3]...)
	tampered[0] ^= 0x01
	require.False(t, merkle.Verify(tampered, proof, root))
}

func TestVerifyFailsOnFlippedProofBit(t *testing.T) {
	ls := leaves(6)
	root, tree, err := merkle.Build(ls)
	require.NoError(t, err)

	proof, err := tree.Proof(3)
	require.NoError(t, err)
	require.NotEmpty(t, proof.Path)

	tamperedHex := []byte(proof.Path[0].Hash)
	tamperedHex[0] ^= 0x01
	proof.Path[0].Hash = string(tamperedHex)

	require.False(t, merkle.Verify(ls[3], proof, root))
}

func TestProofOutOfRange(t *testing.T) {
	_, tree, err := merkle.Build(leaves(3))
	require.NoError(t, err)

	_, err = tree.Proof(-1)
	require.Error(t, err)
	_, err = tree.Proof(3)
	require.Error(t, err)
}

func TestProofForLeafNotFound(t *testing.T) {
	_, tree, err := merkle.Build(leaves(4))
	require.NoError(t, err)

	_, err = tree.ProofForLeaf([]byte("not a leaf"))
	require.ErrorIs(t, err, merkle.ErrLeafNotFound)
}

func TestReceiptRoundTripFromInclusionProof(t *testing.T) {
	ls := leaves(7)
	root, tree, err := merkle.Build(ls)
	require.NoError(t, err)

	proof, err := tree.Proof(4)
	require.NoError(t, err)

	receipt := merkle.FromInclusionProof(proof, 42)
	require.NoError(t, receipt.Validate())

	computed, err := receipt.ComputeRoot()
	require.NoError(t, err)
	require.Equal(t, root, computed)

	bin, err := receipt.ToBinary()
	require.NoError(t, err)
	require.NoError(t, bin.Validate())
	require.Equal(t, root, bin.ComputeRoot())

	back := bin.ToHex()
	require.Equal(t, receipt.Start, back.Start)
	require.Equal(t, receipt.Anchor, back.Anchor)
}

func TestReceiptValidateRejectsBadLength(t *testing.T) {
	r := &merkle.Receipt{Start: "deadbeef", Anchor: "deadbeef"}
	require.Error(t, r.Validate())
}
