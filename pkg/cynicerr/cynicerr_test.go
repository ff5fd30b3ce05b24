package cynicerr_test

import (
	"errors"
	"testing"
	"time"

	"github.com/cynic-protocol/cynic-node/pkg/cynicerr"
	"github.com/stretchr/testify/require"
)

func TestNewSetsDefaults(t *testing.T) {
	err := cynicerr.New(cynicerr.Integrity, "merkle root mismatch")
	require.Equal(t, cynicerr.Integrity, err.Kind)
	require.False(t, err.Retriable)
	require.NotEmpty(t, err.CorrelationID)
	require.Equal(t, cynicerr.SeverityHigh, err.Kind.Severity())
}

func TestTransientDefaultsRetriable(t *testing.T) {
	err := cynicerr.New(cynicerr.Transient, "peer unreachable")
	require.True(t, err.Retriable)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := cynicerr.Wrap(cause, cynicerr.Transient, "gossip dial failed")
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "dial tcp")
}

func TestAsAndIs(t *testing.T) {
	err := cynicerr.New(cynicerr.ConsensusFault, "equivocation detected")
	ce, ok := cynicerr.As(err)
	require.True(t, ok)
	require.Equal(t, cynicerr.ConsensusFault, ce.Kind)
	require.True(t, cynicerr.Is(err, cynicerr.ConsensusFault))
	require.False(t, cynicerr.Is(err, cynicerr.Protocol))
}

func TestIsRetriableFalseForPlainError(t *testing.T) {
	require.False(t, cynicerr.IsRetriable(errors.New("plain")))
}

func TestWithContextAndCorrelationID(t *testing.T) {
	err := cynicerr.New(cynicerr.Protocol, "missing parent").
		WithContext("slot", 42).
		WithCorrelationID("req-123")
	require.Equal(t, "req-123", err.CorrelationID)
	require.Equal(t, 42, err.Context["slot"])
}

func TestBackoffDurationGrowsByPhi(t *testing.T) {
	base := 100 * time.Millisecond
	d0 := cynicerr.BackoffDuration(base, 0, 1.618033988749895)
	d1 := cynicerr.BackoffDuration(base, 1, 1.618033988749895)
	d2 := cynicerr.BackoffDuration(base, 2, 1.618033988749895)
	require.Equal(t, base, d0)
	require.Greater(t, d1, d0)
	require.Greater(t, d2, d1)
}
