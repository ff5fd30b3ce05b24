package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/cynic-protocol/cynic-node/pkg/metrics"
)

func TestNewRegistersAllCollectorsWithoutPanicking(t *testing.T) {
	require.NotPanics(t, func() {
		m := metrics.New()
		require.NotNil(t, m.Registry())
	})
}

func TestJudgmentsTotalIncrementsByVerdict(t *testing.T) {
	m := metrics.New()
	m.JudgmentsTotal.WithLabelValues("ACCEPT").Inc()
	m.JudgmentsTotal.WithLabelValues("ACCEPT").Inc()
	m.JudgmentsTotal.WithLabelValues("REJECT").Inc()

	require.Equal(t, float64(2), testutil.ToFloat64(m.JudgmentsTotal.WithLabelValues("ACCEPT")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.JudgmentsTotal.WithLabelValues("REJECT")))
}

func TestPeerCountGaugeSet(t *testing.T) {
	m := metrics.New()
	m.PeerCount.Set(7)
	require.Equal(t, float64(7), testutil.ToFloat64(m.PeerCount))
}
