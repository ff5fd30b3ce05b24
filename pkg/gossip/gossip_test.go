package gossip_test

import (
	"sync"
	"testing"

	"github.com/cynic-protocol/cynic-node/pkg/crypto"
	"github.com/cynic-protocol/cynic-node/pkg/gossip"
	"github.com/cynic-protocol/cynic-node/pkg/kernel"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu  sync.Mutex
	out map[string][]*gossip.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{out: make(map[string][]*gossip.Message)}
}

func (f *fakeTransport) Send(peerID string, msg *gossip.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out[peerID] = append(f.out[peerID], msg)
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, msgs := range f.out {
		n += len(msgs)
	}
	return n
}

func TestFanoutIsF7(t *testing.T) {
	k := kernel.Must(100)
	p := gossip.NewPropagator(gossip.NewPeerSet(), newFakeTransport(), k, 64)
	require.Equal(t, 13, p.Fanout())
}

func TestAnnounceSealBroadcastsToAtMostFanoutPeers(t *testing.T) {
	k := kernel.Must(100)
	peers := gossip.NewPeerSet()
	for i := 0; i < 30; i++ {
		peers.Add(&gossip.Peer{ID: string(rune('a' + i)), Score: 5})
	}
	transport := newFakeTransport()
	p := gossip.NewPropagator(peers, transport, k, 64)

	p.AnnounceSeal(crypto.SumHash([]byte("block")), 1, []byte("op"))
	require.Equal(t, p.Fanout(), transport.sentCount())
}

func TestForwardDedupesWithinRound(t *testing.T) {
	k := kernel.Must(100)
	peers := gossip.NewPeerSet()
	peers.Add(&gossip.Peer{ID: "p1", Score: 5})
	transport := newFakeTransport()
	p := gossip.NewPropagator(peers, transport, k, 64)

	msg := &gossip.Message{Type: gossip.Announce, BlockHash: crypto.SumHash([]byte("x"))}
	p.Forward(msg)
	p.Forward(msg)
	require.Equal(t, 1, transport.sentCount())
}

func TestForwardResendsAfterRoundReset(t *testing.T) {
	k := kernel.Must(100)
	peers := gossip.NewPeerSet()
	peers.Add(&gossip.Peer{ID: "p1", Score: 5})
	transport := newFakeTransport()
	p := gossip.NewPropagator(peers, transport, k, 64)

	msg := &gossip.Message{Type: gossip.Announce, BlockHash: crypto.SumHash([]byte("x"))}
	p.Forward(msg)
	p.ResetRound()
	p.Forward(msg)
	require.Equal(t, 2, transport.sentCount())
}

func TestPeerScoreEvictsBelowThreshold(t *testing.T) {
	peers := gossip.NewPeerSet()
	peers.Add(&gossip.Peer{ID: "bad", Score: 0})
	peers.Score("bad", gossip.ScoreInvalid)
	peers.Score("bad", gossip.ScoreInvalid)
	peers.Score("bad", gossip.ScoreInvalid)
	peers.Score("bad", gossip.ScoreInvalid)

	_, ok := peers.Get("bad")
	require.False(t, ok)
}

func TestEnqueueNeverDropsNextExpectedData(t *testing.T) {
	k := kernel.Must(100)
	p := gossip.NewPropagator(gossip.NewPeerSet(), newFakeTransport(), k, 2)

	require.True(t, p.Enqueue(&gossip.Message{Type: gossip.Have}, 5))
	require.True(t, p.Enqueue(&gossip.Message{Type: gossip.Have}, 5))
	// queue now full of low-priority HAVE messages
	ok := p.Enqueue(&gossip.Message{Type: gossip.Data, Slot: 5}, 5)
	require.True(t, ok)
}

func TestMessageDedupeKeyStableForSameBlockHash(t *testing.T) {
	h := crypto.SumHash([]byte("same"))
	m1 := &gossip.Message{Type: gossip.Announce, BlockHash: h}
	m2 := &gossip.Message{Type: gossip.Data, BlockHash: h}
	require.Equal(t, m1.DedupeKey(), m2.DedupeKey())
}

func TestRecordLatencySampleMovesTowardSample(t *testing.T) {
	k := kernel.Must(100)
	p := gossip.NewPropagator(gossip.NewPeerSet(), newFakeTransport(), k, 8)
	p.RecordLatencySample(100)
	require.Equal(t, float64(100), p.MeasuredPropagationMs())
	p.RecordLatencySample(200)
	require.Greater(t, p.MeasuredPropagationMs(), float64(100))
	require.Less(t, p.MeasuredPropagationMs(), float64(200))
}
