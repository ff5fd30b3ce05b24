// Copyright 2025 Cynic Protocol
//
// Package judgment implements the Judgment Engine (§4.C5): converts an
// Item into a signed Judgment deterministically given the installed
// dimension set.
package judgment

import (
	"math"
	"sort"
	"time"

	"github.com/cynic-protocol/cynic-node/pkg/crypto"
	"github.com/cynic-protocol/cynic-node/pkg/cynicerr"
	"github.com/cynic-protocol/cynic-node/pkg/dimension"
	"github.com/cynic-protocol/cynic-node/pkg/kernel"
	"github.com/google/uuid"
)

// Verdict buckets a judgment's global_score (§3).
type Verdict string

const (
	Howl  Verdict = "HOWL"  // >= 80
	Wag   Verdict = "WAG"   // >= 50
	Growl Verdict = "GROWL" // >= phi^-2 * 100
	Bark  Verdict = "BARK"  // < phi^-2 * 100
)

// DimensionScore is one dimension's contribution to a judgment.
type DimensionScore struct {
	Dimension string
	Score     float64 // [0,100]
}

// Judgment is the signed output of the engine (§3).
type Judgment struct {
	ID             string
	ItemHash       crypto.Hash
	Scores         []DimensionScore // ordered by dimension name, canonical order
	GlobalScore    float64          // [0,100]
	Confidence     float64          // [0, phi^-1]
	Doubt          float64          // 1 - confidence, >= phi^-2
	Verdict        Verdict
	Partial        bool // set if any non-META evaluator errored
	OperatorPubkey []byte
	Signature      []byte
	TimestampMs    int64
}

// Engine evaluates items against an installed dimension registry.
type Engine struct {
	registry *dimension.Registry
	kernel   *kernel.Kernel
}

// NewEngine builds a Judgment Engine bound to registry and the
// process-wide ratio kernel.
func NewEngine(registry *dimension.Registry, k *kernel.Kernel) *Engine {
	return &Engine{registry: registry, kernel: k}
}

// Judge runs the full §4.C5 algorithm: evaluate every installed
// dimension, fold into a phi-weighted geometric mean, apply the
// confidence envelope, assign a verdict, and sign the result.
func (e *Engine) Judge(item []byte, ctx map[string]any, keys *crypto.KeyPair) (*Judgment, error) {
	dims := e.registry.All()
	if len(dims) == 0 {
		return nil, cynicerr.New(cynicerr.Protocol, "NoDimensions: no dimensions installed")
	}

	itemHash := crypto.SumHash(item)

	var (
		scores       []DimensionScore
		weightSum    float64
		logSum       float64 // sum of w_d * ln(s_d/100), accumulated across non-skipped dims
		partial      bool
		metaFailed   bool
	)

	for _, d := range dims {
		raw, err := safeEvaluate(d, item, ctx)
		if err != nil {
			if d.Meta {
				metaFailed = true
				continue
			}
			partial = true
			continue
		}
		if raw < 0 || raw > 100 {
			// A misbehaving evaluator never corrupts the judgment silently.
			if d.Meta {
				metaFailed = true
				continue
			}
			partial = true
			continue
		}

		scores = append(scores, DimensionScore{Dimension: d.Name, Score: raw})
		weightSum += d.Weight
		frac := raw / 100
		if frac <= 0 {
			frac = math.SmallestNonzeroFloat64
		}
		logSum += d.Weight * math.Log(frac)
	}

	if metaFailed {
		return nil, cynicerr.New(cynicerr.DimensionEvaluation, "MetaEvaluationFailed")
	}
	if weightSum == 0 {
		return nil, cynicerr.New(cynicerr.Protocol, "NoDimensions: zero total weight")
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].Dimension < scores[j].Dimension })

	globalRaw := math.Exp(logSum/weightSum) * 100
	if globalRaw > 100 {
		globalRaw = 100
	}
	if globalRaw < 0 {
		globalRaw = 0
	}

	phiInv := e.kernel.PhiInv
	confidence := (globalRaw / 100) * phiInv
	if confidence > phiInv {
		confidence = phiInv
	}
	doubt := 1 - confidence
	floor := e.kernel.PhiInv2
	if doubt < floor {
		doubt = floor
		confidence = 1 - doubt
	}

	verdict := verdictFor(globalRaw, phiInv)

	j := &Judgment{
		ID:             uuid.NewString(),
		ItemHash:       itemHash,
		Scores:         scores,
		GlobalScore:    globalRaw,
		Confidence:     confidence,
		Doubt:          doubt,
		Verdict:        verdict,
		Partial:        partial,
		OperatorPubkey: append([]byte(nil), keys.Public...),
		TimestampMs:    time.Now().UnixMilli(),
	}

	msg := j.canonicalize()
	j.Signature = keys.Sign(msg)
	return j, nil
}

func safeEvaluate(d *dimension.Dimension, item []byte, ctx map[string]any) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cynicerr.Newf(cynicerr.DimensionEvaluation, "dimension %q evaluator panicked: %v", d.Name, r)
		}
	}()
	return d.Evaluator(item, ctx)
}

// verdictFor maps global_score to a verdict. Each band includes its own
// lower bound, so a score exactly at 80, 50 or phi^-2 * 100 gets the
// band that starts there; no extra downgrade is applied at a boundary.
func verdictFor(globalScore float64, phiInv float64) Verdict {
	growlFloor := phiInv * phiInv * 100 // phi^-2 * 100
	switch {
	case globalScore >= 80:
		return Howl
	case globalScore >= 50:
		return Wag
	case globalScore >= growlFloor:
		return Growl
	default:
		return Bark
	}
}

// canonicalize serializes the judgment without its signature, the
// exact bytes that get signed and later re-verified.
func (j *Judgment) canonicalize() []byte {
	fields := []crypto.Field{
		{Name: "id", Value: crypto.Str(j.ID)},
		{Name: "item_hash", Value: crypto.Bytes(j.ItemHash.Bytes())},
		{Name: "global_score", Value: crypto.I64(crypto.ToFixedPoint(j.GlobalScore))},
		{Name: "confidence", Value: crypto.I64(crypto.ToFixedPoint(j.Confidence))},
		{Name: "doubt", Value: crypto.I64(crypto.ToFixedPoint(j.Doubt))},
		{Name: "verdict", Value: crypto.Str(string(j.Verdict))},
		{Name: "partial", Value: crypto.U64(boolToU64(j.Partial))},
		{Name: "operator_pubkey", Value: crypto.Bytes(j.OperatorPubkey)},
		{Name: "timestamp_ms", Value: crypto.I64(j.TimestampMs)},
	}
	for _, s := range j.Scores {
		fields = append(fields, crypto.Field{
			Name:  "score:" + s.Dimension,
			Value: crypto.I64(crypto.ToFixedPoint(s.Score)),
		})
	}
	return crypto.Canonicalize(fields)
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Verify checks a judgment's signature and its I1 confidence invariant
// (confidence <= phi^-1, doubt >= phi^-2).
func Verify(j *Judgment, k *kernel.Kernel) error {
	if j.Confidence > k.PhiInv+1e-9 {
		return cynicerr.Newf(cynicerr.Integrity, "judgment %s: confidence %v exceeds phi^-1 ceiling", j.ID, j.Confidence)
	}
	if j.Doubt < k.PhiInv2-1e-9 {
		return cynicerr.Newf(cynicerr.Integrity, "judgment %s: doubt %v below phi^-2 floor", j.ID, j.Doubt)
	}
	if !crypto.Verify(j.OperatorPubkey, j.canonicalize(), j.Signature) {
		return cynicerr.Newf(cynicerr.Integrity, "judgment %s: signature verification failed", j.ID)
	}
	return nil
}
