package storage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cynic-protocol/cynic-node/pkg/storage"
)

func TestFileStoreRoundTrip(t *testing.T) {
	fs, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	key := []byte("chain:deadbeef:slot:00000000000000000042")
	require.NoError(t, fs.Set(key, []byte("payload")))

	got, err := fs.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)
	require.True(t, fs.Has(key))
}

func TestFileStoreGetMissingKeyReturnsNilNotError(t *testing.T) {
	fs, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	got, err := fs.Get([]byte("does:not:exist"))
	require.NoError(t, err)
	require.Nil(t, got)
	require.False(t, fs.Has([]byte("does:not:exist")))
}

func TestOperatorRecordRoundTrip(t *testing.T) {
	root := t.TempDir()
	rec := &storage.OperatorRecord{PubkeyHex: "abc123", EScore: 10, BurnTotal: 50, UptimeRatio: 0.99}
	require.NoError(t, storage.SaveOperator(root, rec))

	got, err := storage.LoadOperator(root)
	require.NoError(t, err)
	require.Equal(t, rec.PubkeyHex, got.PubkeyHex)
	require.Equal(t, rec.BurnTotal, got.BurnTotal)
}

func TestPeersRoundTrip(t *testing.T) {
	root := t.TempDir()
	peers := []storage.PeerRecord{{ID: "p1", Address: "10.0.0.1:9000", Score: 3}}
	require.NoError(t, storage.SavePeers(root, peers))

	got, err := storage.LoadPeers(root)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "p1", got[0].ID)
}

func TestLoadPeersMissingFileReturnsEmpty(t *testing.T) {
	got, err := storage.LoadPeers(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestProposalRoundTrip(t *testing.T) {
	root := t.TempDir()
	rec := &storage.ProposalRecord{ID: "p1", Action: "ADD_DIMENSION", ProposerPubkey: "op1"}
	require.NoError(t, storage.SaveProposal(root, rec))

	got, err := storage.LoadProposal(root, "p1")
	require.NoError(t, err)
	require.Equal(t, rec.Action, got.Action)
}
