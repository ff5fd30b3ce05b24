// Copyright 2025 Cynic Protocol
//
// Package dimension holds the Axiom/Dimension data model (§3) and the
// process-wide dimension registry the Judgment Engine (C5) evaluates
// against. Dimensions may be added only through governance (C8); this
// package enforces that at the registry boundary, not by convention.
package dimension

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cynic-protocol/cynic-node/pkg/cynicerr"
)

// Axiom is one of the four fixed symbolic categories, set at genesis.
type Axiom string

const (
	AxiomPhi     Axiom = "PHI"
	AxiomVerify  Axiom = "VERIFY"
	AxiomCulture Axiom = "CULTURE"
	AxiomBurn    Axiom = "BURN"
)

// Axioms lists all four in a fixed, deterministic order — the order the
// Knowledge Store's four shards are addressed in.
var Axioms = []Axiom{AxiomPhi, AxiomVerify, AxiomCulture, AxiomBurn}

func (a Axiom) Valid() bool {
	switch a {
	case AxiomPhi, AxiomVerify, AxiomCulture, AxiomBurn:
		return true
	default:
		return false
	}
}

// Origin records how a dimension entered the registry.
type Origin string

const (
	OriginSeed       Origin = "seed"
	OriginDiscovered Origin = "discovered"
)

// Thresholds are the score bands a dimension assigns meaning to. They
// are informational to the dimension itself; the Judge computes
// verdicts off global_score, not per-dimension thresholds (§4.C5).
type Thresholds struct {
	Accept    float64
	Transform float64
	Reject    float64
}

// Evaluator scores an item against one dimension. Evaluators must be
// pure functions of item and ctx — no side effects, no hidden state
// (§4.C5 algorithm step 1).
type Evaluator func(item []byte, ctx map[string]any) (score float64, err error)

// Dimension is a named scorer bound to exactly one Axiom.
type Dimension struct {
	Name          string
	Axiom         Axiom
	Weight        float64 // phi^k for integer k
	Thresholds    Thresholds
	Evaluator     Evaluator
	Origin        Origin
	DiscovererID  string // empty unless Origin == OriginDiscovered
	Meta          bool   // META dimensions run on every judgment, never disabled
}

// Registry is the process-wide installed dimension set. Safe for
// concurrent reads during judgment evaluation and writes during
// governance application.
type Registry struct {
	mu         sync.RWMutex
	dimensions map[string]*Dimension
}

// NewRegistry returns an empty registry. Seed dimensions should be
// installed with RegisterSeed before the node starts judging.
func NewRegistry() *Registry {
	return &Registry{dimensions: make(map[string]*Dimension)}
}

// RegisterSeed installs a dimension with Origin seed, bypassing
// governance — reserved for genesis/startup wiring, never called after
// the node has begun producing judgments.
func (r *Registry) RegisterSeed(d *Dimension) error {
	d.Origin = OriginSeed
	return r.register(d)
}

// ApplyGovernance installs or replaces a dimension as the effect of a
// finalized governance proposal (§4.C8 COMMIT). discovererID identifies
// the proposing operator.
func (r *Registry) ApplyGovernance(d *Dimension, discovererID string) error {
	d.Origin = OriginDiscovered
	d.DiscovererID = discovererID
	return r.register(d)
}

func (r *Registry) register(d *Dimension) error {
	if d.Name == "" {
		return cynicerr.New(cynicerr.Configuration, "dimension name must not be empty")
	}
	if !d.Axiom.Valid() {
		return cynicerr.Newf(cynicerr.Configuration, "dimension %q: invalid axiom %q", d.Name, d.Axiom)
	}
	if d.Evaluator == nil {
		return cynicerr.Newf(cynicerr.Configuration, "dimension %q: evaluator must not be nil", d.Name)
	}
	if d.Weight <= 0 {
		return cynicerr.Newf(cynicerr.Configuration, "dimension %q: weight must be positive, got %v", d.Name, d.Weight)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.dimensions[d.Name] = d
	return nil
}

// Get returns the installed dimension by name.
func (r *Registry) Get(name string) (*Dimension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dimensions[name]
	return d, ok
}

// All returns every installed dimension, ordered deterministically by
// name — callers that fold dimensions into a canonical encoding must
// use this order, not map iteration order.
func (r *Registry) All() []*Dimension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Dimension, 0, len(r.dimensions))
	for _, d := range r.dimensions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Meta returns the distinguished META subset, in the same deterministic
// order as All.
func (r *Registry) Meta() []*Dimension {
	all := r.All()
	out := make([]*Dimension, 0, len(all))
	for _, d := range all {
		if d.Meta {
			out = append(out, d)
		}
	}
	return out
}

// Remove deletes a non-META dimension from the registry. META
// dimensions may never be disabled (§3) — Remove refuses and returns
// an error rather than silently ignoring the request.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dimensions[name]
	if !ok {
		return nil
	}
	if d.Meta {
		return cynicerr.Newf(cynicerr.Protocol, "dimension %q is META and may not be disabled", name)
	}
	delete(r.dimensions, name)
	return nil
}

func (d *Dimension) String() string {
	return fmt.Sprintf("%s(axiom=%s,weight=%.4f,meta=%v)", d.Name, d.Axiom, d.Weight, d.Meta)
}
