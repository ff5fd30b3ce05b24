// Copyright 2025 Cynic Protocol
//
// Package metrics exposes the node's Prometheus collectors. All
// metrics register on a dedicated registry, never the global default,
// so a Controller can run embedded in a larger process without
// colliding with that process's own instrumentation.
//
// Metric naming convention: cynic_<subsystem>_<name>_<unit>.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the node records to.
type Metrics struct {
	registry *prometheus.Registry

	// Judgment Engine (C5)
	JudgmentsTotal       *prometheus.CounterVec // labels: verdict
	JudgmentScoreHist    prometheus.Histogram
	JudgmentDurationHist prometheus.Histogram

	// Knowledge Store (C4)
	KnowledgePatternsTotal *prometheus.GaugeVec // labels: axiom
	KnowledgeLearningsTotal *prometheus.CounterVec // labels: outcome

	// PoJ Chain (C6)
	BlocksSealedTotal  prometheus.Counter
	ChainHeadSlot      *prometheus.GaugeVec // labels: operator
	PendingJudgments   prometheus.Gauge
	PendingKnowledge   prometheus.Gauge

	// Gossip Propagator (C7)
	GossipMessagesForwardedTotal *prometheus.CounterVec // labels: type
	GossipMessagesDroppedTotal   prometheus.Counter
	GossipFanoutSize             prometheus.Gauge
	GossipPropagationLatencyMs   prometheus.Gauge
	PeerCount                    prometheus.Gauge

	// Consensus Engine (C8)
	VotesCastTotal        *prometheus.CounterVec // labels: choice
	ProposalsByStageTotal *prometheus.CounterVec // labels: stage
	EquivocationsTotal    prometheus.Counter
	SoftConsensusEmergedTotal prometheus.Counter

	// Node Controller (C9)
	ControllerStateTransitionsTotal *prometheus.CounterVec // labels: from_state, to_state
	WorkerPoolQueueDepth            prometheus.Gauge
	NodeUptimeSeconds               prometheus.Gauge

	startTime time.Time
}

// New creates and registers every CYNIC collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		JudgmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cynic", Subsystem: "judgment", Name: "total",
			Help: "Total judgments produced, by verdict.",
		}, []string{"verdict"}),

		JudgmentScoreHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cynic", Subsystem: "judgment", Name: "global_score",
			Help:    "Distribution of judgment global scores (0-100).",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),

		JudgmentDurationHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cynic", Subsystem: "judgment", Name: "duration_seconds",
			Help:    "Wall-clock time to evaluate one item across all dimensions.",
			Buckets: prometheus.DefBuckets,
		}),

		KnowledgePatternsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cynic", Subsystem: "knowledge", Name: "patterns",
			Help: "Current number of patterns stored, by axiom shard.",
		}, []string{"axiom"}),

		KnowledgeLearningsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cynic", Subsystem: "knowledge", Name: "learnings_total",
			Help: "Total feedback learnings recorded, by outcome.",
		}, []string{"outcome"}),

		BlocksSealedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cynic", Subsystem: "chain", Name: "blocks_sealed_total",
			Help: "Total PoJ blocks this operator has sealed.",
		}),

		ChainHeadSlot: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cynic", Subsystem: "chain", Name: "head_slot",
			Help: "Current chain head slot, by operator.",
		}, []string{"operator"}),

		PendingJudgments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cynic", Subsystem: "chain", Name: "pending_judgments",
			Help: "Judgments queued for the next block seal.",
		}),

		PendingKnowledge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cynic", Subsystem: "chain", Name: "pending_knowledge_updates",
			Help: "Knowledge updates queued for the next block seal.",
		}),

		GossipMessagesForwardedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cynic", Subsystem: "gossip", Name: "messages_forwarded_total",
			Help: "Total gossip messages forwarded, by message type.",
		}, []string{"type"}),

		GossipMessagesDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cynic", Subsystem: "gossip", Name: "messages_dropped_total",
			Help: "Total gossip messages dropped from the inbound backpressure queue.",
		}),

		GossipFanoutSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cynic", Subsystem: "gossip", Name: "fanout_size",
			Help: "Current F(7) fanout size used for broadcast.",
		}),

		GossipPropagationLatencyMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cynic", Subsystem: "gossip", Name: "propagation_latency_ms",
			Help: "EWMA-measured gossip propagation latency in milliseconds.",
		}),

		PeerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cynic", Subsystem: "gossip", Name: "peer_count",
			Help: "Current number of tracked peers.",
		}),

		VotesCastTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cynic", Subsystem: "consensus", Name: "votes_cast_total",
			Help: "Total hard-consensus votes cast, by choice.",
		}, []string{"choice"}),

		ProposalsByStageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cynic", Subsystem: "consensus", Name: "proposal_stage_total",
			Help: "Total proposal stage transitions, by stage reached.",
		}, []string{"stage"}),

		EquivocationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cynic", Subsystem: "consensus", Name: "equivocations_total",
			Help: "Total detected equivocations (ContradictoryVote).",
		}),

		SoftConsensusEmergedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cynic", Subsystem: "consensus", Name: "soft_emerged_total",
			Help: "Total soft-consensus pattern emergences (no network round-trip).",
		}),

		ControllerStateTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cynic", Subsystem: "node", Name: "state_transitions_total",
			Help: "Total controller state transitions, by from_state and to_state.",
		}, []string{"from_state", "to_state"}),

		WorkerPoolQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cynic", Subsystem: "node", Name: "worker_pool_queue_depth",
			Help: "Current depth of the worker pool's job queue.",
		}),

		NodeUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cynic", Subsystem: "node", Name: "uptime_seconds",
			Help: "Seconds since the metrics collectors were created, updated while Serve runs.",
		}),
	}

	reg.MustRegister(
		m.JudgmentsTotal, m.JudgmentScoreHist, m.JudgmentDurationHist,
		m.KnowledgePatternsTotal, m.KnowledgeLearningsTotal,
		m.BlocksSealedTotal, m.ChainHeadSlot, m.PendingJudgments, m.PendingKnowledge,
		m.GossipMessagesForwardedTotal, m.GossipMessagesDroppedTotal, m.GossipFanoutSize,
		m.GossipPropagationLatencyMs, m.PeerCount,
		m.VotesCastTotal, m.ProposalsByStageTotal, m.EquivocationsTotal, m.SoftConsensusEmergedTotal,
		m.ControllerStateTransitionsTotal, m.WorkerPoolQueueDepth, m.NodeUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry, e.g. for wiring into an
// existing gin router via promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Serve starts a standalone Prometheus metrics HTTP server on addr,
// blocking until ctx is cancelled or the server fails. Deployments
// that already run pkg/api's gin router may instead mount Registry()
// under /metrics there and skip this entirely.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.NodeUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
