// Copyright 2025 Cynic Protocol
//
// cynicd is the node daemon: it loads a genesis/deployment
// configuration, wires every component (§4 C1-C9) together through
// pkg/node.Controller, and serves the §6 external API over HTTP until
// signaled to shut down.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/cometbft/cometbft/libs/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cynic-protocol/cynic-node/pkg/api"
	"github.com/cynic-protocol/cynic-node/pkg/chain"
	"github.com/cynic-protocol/cynic-node/pkg/config"
	"github.com/cynic-protocol/cynic-node/pkg/consensus"
	"github.com/cynic-protocol/cynic-node/pkg/crypto"
	"github.com/cynic-protocol/cynic-node/pkg/dimension"
	"github.com/cynic-protocol/cynic-node/pkg/gossip"
	"github.com/cynic-protocol/cynic-node/pkg/governance"
	"github.com/cynic-protocol/cynic-node/pkg/judgment"
	"github.com/cynic-protocol/cynic-node/pkg/kernel"
	"github.com/cynic-protocol/cynic-node/pkg/knowledge"
	"github.com/cynic-protocol/cynic-node/pkg/kvdb"
	"github.com/cynic-protocol/cynic-node/pkg/metrics"
	"github.com/cynic-protocol/cynic-node/pkg/node"
	"github.com/cynic-protocol/cynic-node/pkg/storage"
)

func main() {
	configPath := flag.String("config", "genesis.yaml", "path to the node's genesis/deployment YAML configuration")
	flag.Parse()

	logger := log.NewTMLogger(log.NewSyncWriter(os.Stdout))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("cynicd: failed to load configuration", "path", *configPath, "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("cynicd: invalid configuration", "err", err)
		os.Exit(1)
	}
	if lvl, err := log.AllowLevel(cfg.Logging.Level); err == nil {
		logger = log.NewFilter(logger, lvl)
	}

	k := kernel.Must(cfg.Genesis.TimingBaseMillis)

	keys, err := loadOperatorKeys(cfg.Operator.PrivateKeyPath)
	if err != nil {
		logger.Error("cynicd: failed to load operator key", "err", err)
		os.Exit(1)
	}
	logger.Info("cynicd: operator identity loaded", "pubkey", hex.EncodeToString(keys.Public))

	registry := dimension.NewRegistry()
	metaDims, err := cfg.MetaDimensions(map[string]dimension.Evaluator{
		"CONFIDENCE_CEILING": confidenceCeilingEvaluator(k),
		"DOUBT_FLOOR":        doubtFloorEvaluator(k),
	})
	if err != nil {
		logger.Error("cynicd: failed to build genesis META dimensions", "err", err)
		os.Exit(1)
	}
	for _, d := range metaDims {
		if err := registry.RegisterSeed(d); err != nil {
			logger.Error("cynicd: failed to register META dimension", "dimension", d.Name, "err", err)
			os.Exit(1)
		}
	}

	if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
		logger.Error("cynicd: failed to create storage root", "err", err)
		os.Exit(1)
	}
	fileStore, err := storage.NewFileStore(filepath.Join(cfg.Storage.Root, "state"))
	if err != nil {
		logger.Error("cynicd: failed to open file store", "err", err)
		os.Exit(1)
	}
	_ = fileStore // reserved for §6 operator/peers/proposal persistence alongside the kv-backed chain/knowledge stores below

	knowledgeDB, err := dbm.NewGoLevelDB("knowledge", cfg.Storage.Root)
	if err != nil {
		logger.Error("cynicd: failed to open knowledge database", "err", err)
		os.Exit(1)
	}
	defer knowledgeDB.Close()
	kStore := knowledge.NewStore(kvdb.NewKVAdapter(knowledgeDB), knowledge.SyncFull)

	chainDB, err := dbm.NewGoLevelDB("chain", cfg.Storage.Root)
	if err != nil {
		logger.Error("cynicd: failed to open chain database", "err", err)
		os.Exit(1)
	}
	defer chainDB.Close()
	poj := chain.NewChain(kvdb.NewKVAdapter(chainDB), keys, k)

	judgmentEngine := judgment.NewEngine(registry, k)

	peers := gossip.NewPeerSet()
	for _, pr := range loadSeedPeers(cfg.Operator.DataDir) {
		peers.Add(&gossip.Peer{ID: pr.ID, Address: pr.Address, Score: pr.Score})
	}
	hub := gossip.NewHub(logger.With("component", "gossip"), nil)
	propagator := gossip.NewPropagator(peers, hub, k, cfg.Consensus.InboundQueueDepth)

	consensusEngine, err := loadConsensusEngine(cfg.Operator.DataDir, keys, k)
	if err != nil {
		logger.Error("cynicd: failed to build consensus engine", "err", err)
		os.Exit(1)
	}

	handler := api.NewHandler(nil, kStore, peers, propagator, consensusEngine)

	poolSize := cfg.Consensus.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	ctrl := node.NewController(node.Deps{
		Kernel:     k,
		Judgment:   judgmentEngine,
		Knowledge:  kStore,
		Chain:      poj,
		Propagator: propagator,
		Consensus:  consensusEngine,
		Keys:       keys,
		Logger:     logger.With("component", "node"),
		OnJudged:   handler.OnJudged,
	}, poolSize)
	handler.SetController(ctrl)

	applier := &governance.Applier{
		Registry: registry,
		Engine:   consensusEngine,
		OnTimingBaseChange: func(baseMillis float64) {
			logger.Error("cynicd: CHANGE_TIMING_BASE passed but requires a node restart to take effect", "new_base_millis", baseMillis)
		},
	}
	handler.SetGovernanceApplier(applier)

	m := metrics.New()

	router := api.SetupRouter(handler)
	router.GET("/gossip/ws/:peer_id", func(c *gin.Context) { hub.Accept(c.Param("peer_id"), c) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))

	apiServer := &http.Server{
		Addr:         cfg.API.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Start(); err != nil {
		logger.Error("cynicd: failed to start controller", "err", err)
		os.Exit(1)
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.ListenAddr); err != nil {
				logger.Error("cynicd: metrics server exited", "err", err)
			}
		}()
	}

	go func() {
		logger.Info("cynicd: serving api", "addr", cfg.API.ListenAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("cynicd: api server exited", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("cynicd: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	ctrl.Stop()
	logger.Info("cynicd: stopped")
}

// loadOperatorKeys reads a 32-byte hex-encoded Ed25519 seed written by
// cmd/cynic-keygen and derives the operator's signing keypair from it.
func loadOperatorKeys(path string) (*crypto.KeyPair, error) {
	if path == "" {
		return nil, fmt.Errorf("cynicd: operator.private_key_path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cynicd: read operator key %s: %w", path, err)
	}
	seed, err := hex.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("cynicd: decode operator key %s: %w", path, err)
	}
	return crypto.KeyPairFromSeed(seed)
}

// loadConsensusEngine loads the local operator's persisted record and
// builds a one-operator epoch-0 weight table for it. A real deployment
// freezes weights over the whole observed operator set at each EPOCH
// boundary (pkg/node's onEpoch hook); until that membership source is
// wired in, a node votes in its own epoch-0 table alone. Quorum is the
// fixed protocol constant k.Fib(5), never a deployment setting.
func loadConsensusEngine(dataDir string, keys *crypto.KeyPair, k *kernel.Kernel) (*consensus.Engine, error) {
	rec, err := storage.LoadOperator(dataDir)
	if err != nil {
		return nil, fmt.Errorf("cynicd: load operator record: %w", err)
	}

	op := &consensus.Operator{
		PubkeyHex:   hex.EncodeToString(keys.Public),
		Role:        consensus.RoleOperator,
		EScore:      rec.EScore,
		BurnTotal:   rec.BurnTotal,
		UptimeRatio: rec.UptimeRatio,
		Active:      true,
	}
	weights := consensus.FreezeWeights(0, []*consensus.Operator{op})
	return consensus.NewEngine(k, weights, int(k.Fib(5))), nil
}

func loadSeedPeers(dataDir string) []storage.PeerRecord {
	peers, err := storage.LoadPeers(dataDir)
	if err != nil {
		return nil
	}
	return peers
}

// confidenceCeilingEvaluator scores toward the genesis-fixed
// confidence ceiling φ⁻¹ (expressed on the dimension's own 0-100
// scale), anchoring the weighted geometric mean against runaway
// single-dimension scores rather than enforcing the envelope itself —
// pkg/judgment.Engine.Judge already clamps confidence centrally.
func confidenceCeilingEvaluator(k *kernel.Kernel) dimension.Evaluator {
	ceiling := k.PhiInv * 100
	return func(item []byte, ctx map[string]any) (float64, error) {
		return ceiling, nil
	}
}

// doubtFloorEvaluator scores 100 − φ⁻²·100 ≈ 61.8, the complement of
// the doubt floor φ⁻². That equals confidenceCeilingEvaluator's
// φ⁻¹·100, so the two META dimensions feed the same value into the
// weighted mean.
func doubtFloorEvaluator(k *kernel.Kernel) dimension.Evaluator {
	floor := 100 - (k.PhiInv2 * 100)
	return func(item []byte, ctx map[string]any) (float64, error) {
		return floor, nil
	}
}
