// Copyright 2025 Cynic Protocol
//
// Node Controller (§4.C9): single-owner coordinator. Spawns scheduler
// tasks at TICK, MICRO, SLOT, BLOCK, EPOCH, CYCLE intervals, routes
// messages between components, and owns the outward interfaces. Only
// the controller mutates shared component state; components expose
// handler methods the controller invokes, optionally dispatching pure
// work to the worker pool.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/cynic-protocol/cynic-node/pkg/chain"
	"github.com/cynic-protocol/cynic-node/pkg/consensus"
	"github.com/cynic-protocol/cynic-node/pkg/crypto"
	"github.com/cynic-protocol/cynic-node/pkg/gossip"
	"github.com/cynic-protocol/cynic-node/pkg/judgment"
	"github.com/cynic-protocol/cynic-node/pkg/kernel"
	"github.com/cynic-protocol/cynic-node/pkg/knowledge"
)

// State is the controller's position in its lifecycle state machine
// (§4.C9): Dormant -> Booting -> Ready -> (Judging|Sealing|Voting|
// Syncing)* -> ShuttingDown.
type State string

const (
	StateDormant      State = "DORMANT"
	StateBooting      State = "BOOTING"
	StateReady        State = "READY"
	StateJudging      State = "JUDGING"
	StateSealing      State = "SEALING"
	StateVoting       State = "VOTING"
	StateSyncing      State = "SYNCING"
	StateShuttingDown State = "SHUTTING_DOWN"
)

// Deps bundles the components the controller wires together. Every
// field is required except Consensus, which is nil until the node has
// joined an epoch's frozen weight table.
type Deps struct {
	Kernel      *kernel.Kernel
	Judgment    *judgment.Engine
	Knowledge   *knowledge.Store
	Chain       *chain.Chain
	Propagator  *gossip.Propagator
	Consensus   *consensus.Engine
	Keys        *crypto.KeyPair
	Logger      log.Logger

	// OnJudged, if set, is invoked with every judgment the controller
	// produces, after it has been enqueued into the chain. pkg/api uses
	// this to maintain its own judgment-id index without the controller
	// needing to expose internal judgment storage.
	OnJudged func(*judgment.Judgment)
}

// Controller is the single-owner coordinator described by §4.C9. It
// holds no exported mutable fields; all state transitions happen
// through its scheduler loops and handler methods, following the same
// ctx/cancel-driven loop-plus-callback shape as the teacher's
// ConsensusHealthMonitor.monitorLoop.
type Controller struct {
	mu    sync.RWMutex
	state State

	deps Deps
	pool *WorkerPool

	slot uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewController builds a Controller in the Dormant state.
func NewController(deps Deps, poolSize int) *Controller {
	return &Controller{
		state: StateDormant,
		deps:  deps,
		pool:  NewWorkerPool(poolSize),
	}
}

// Chain exposes the controller's PoJ chain for read-only inspection
// (status endpoints, tests); the controller remains the only writer.
func (c *Controller) Chain() *chain.Chain { return c.deps.Chain }

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start transitions Dormant -> Booting -> Ready and spawns the
// scheduler loops for every named interval. It returns once Ready;
// the scheduler loops continue running until Stop is called.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("node: controller already running")
	}
	c.running = true
	c.state = StateBooting
	c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.pool.Start()

	c.deps.Logger.Info("node: booting", "slot_ms", c.deps.Kernel.Slot.Milliseconds())

	c.spawnScheduler("tick", c.deps.Kernel.Tick, c.onTick)
	c.spawnScheduler("micro", c.deps.Kernel.Micro, c.onMicro)
	c.spawnScheduler("slot", c.deps.Kernel.Slot, c.onSlot)
	c.spawnScheduler("block", c.deps.Kernel.Block, c.onBlock)
	c.spawnScheduler("epoch", c.deps.Kernel.Epoch, c.onEpoch)
	c.spawnScheduler("cycle", c.deps.Kernel.Cycle, c.onCycle)

	c.setState(StateReady)
	c.deps.Logger.Info("node: ready")
	return nil
}

// Stop transitions to ShuttingDown, cancels every scheduler loop, and
// joins the worker pool.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.state = StateShuttingDown
	c.running = false
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.pool.Stop()
	c.deps.Logger.Info("node: stopped")
}

func (c *Controller) spawnScheduler(name string, interval time.Duration, fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	_ = name // retained for future per-scheduler logging/metrics labeling
}

// onTick runs the cheapest, highest-frequency housekeeping: draining
// inbound gossip into the propagator's per-round dedupe state.
func (c *Controller) onTick() {
	select {
	case msg := <-c.deps.Propagator.Inbound():
		c.handleInbound(msg)
	default:
	}
}

// onMicro samples propagation latency; in a full deployment this
// would ping a random peer subset (§4.C7 "Adaptive timing") and feed
// the result back via RecordLatencySample. Left as a hook: the actual
// ping round-trip is transport-level work outside the controller's
// single-threaded loop.
func (c *Controller) onMicro() {}

// onSlot resets the gossip round filter and advances the slot
// counter. SLOT is also the PREVOTE/PRECOMMIT cadence for any
// in-flight hard-consensus proposal (§4.C8).
func (c *Controller) onSlot() {
	c.mu.Lock()
	c.slot++
	slot := c.slot
	c.mu.Unlock()

	c.deps.Propagator.ResetRound()
	_ = slot
}

// onBlock seals a PoJ block from whatever judgments/knowledge updates
// have accumulated since the last BLOCK tick, then announces it.
func (c *Controller) onBlock() {
	c.setState(StateSealing)
	defer c.setState(StateReady)

	pendingJ, pendingU := c.deps.Chain.PendingSize()
	if pendingJ == 0 && pendingU == 0 {
		return
	}

	c.mu.RLock()
	slot := c.slot
	c.mu.RUnlock()

	b, err := c.deps.Chain.Seal(slot, time.Now().UnixMilli(), nil)
	if err != nil {
		c.deps.Logger.Error("node: seal failed", "err", err)
		return
	}
	c.deps.Propagator.AnnounceSeal(b.BlockHash, b.Slot, b.OperatorPubkey)
}

// onEpoch is a hook for epoch-boundary work: refreezing vote weights
// and applying any committed governance proposals. Wiring a live
// operator directory into FreezeWeights is left to the deployment
// composing the controller (it owns the membership source of truth).
func (c *Controller) onEpoch() {}

// onCycle is a hook for the coarsest-grained periodic work (e.g.
// knowledge-store archival sweeps below the strength floor).
func (c *Controller) onCycle() {}

// handleInbound routes one received gossip message: DATA, ANNOUNCE and
// HAVE are forwarded on the worker pool without suspending the
// controller loop (§5); other message types are ignored.
func (c *Controller) handleInbound(msg *gossip.Message) {
	switch msg.Type {
	case gossip.Data:
		c.pool.Submit(func() { c.deps.Propagator.Forward(msg) })
	case gossip.Announce, gossip.Have:
		c.pool.Submit(func() { c.deps.Propagator.Forward(msg) })
	default:
	}
}

// SubmitItem dispatches item to the Judgment Engine on the worker
// pool and, on success, enqueues the resulting judgment into the PoJ
// chain for the next BLOCK seal. The controller's own state briefly
// reflects Judging while evaluation runs.
func (c *Controller) SubmitItem(item []byte, evalCtx map[string]any) {
	c.setState(StateJudging)
	c.pool.Submit(func() {
		defer c.setState(StateReady)
		j, err := c.deps.Judgment.Judge(item, evalCtx, c.deps.Keys)
		if err != nil {
			c.deps.Logger.Error("node: judge failed", "err", err)
			return
		}
		c.deps.Chain.EnqueueJudgment(j)
		if c.deps.OnJudged != nil {
			c.deps.OnJudged(j)
		}
	})
}
