// Copyright 2025 Cynic Protocol

package consensus

import (
	"github.com/cynic-protocol/cynic-node/pkg/kernel"
)

// ComputeWeight implements §4.C8's vote-weight formula:
//
//	weight(O) = e_score(O) · log_phi(1 + burn_total(O)) · uptime_ratio(O)
//
// Called once per operator at the start of each voting epoch; the
// result is frozen into Operator.Weight for the epoch's duration.
func ComputeWeight(eScore, burnTotal, uptimeRatio float64) float64 {
	return eScore * kernel.LogPhi(1+burnTotal) * uptimeRatio
}

// WeightTable is the frozen snapshot of every active operator's vote
// weight for one epoch.
type WeightTable struct {
	Epoch     uint64
	Weights   map[string]float64 // pubkey hex -> weight
	TotalSane float64            // sum of all weights, cached
}

// FreezeWeights builds a WeightTable for epoch from the current
// Operator set, recomputing each active operator's weight and summing
// the total.
func FreezeWeights(epoch uint64, operators []*Operator) *WeightTable {
	wt := &WeightTable{Epoch: epoch, Weights: make(map[string]float64, len(operators))}
	for _, o := range operators {
		if !o.Active {
			continue
		}
		w := ComputeWeight(o.EScore, o.BurnTotal, o.UptimeRatio)
		o.Weight = w
		wt.Weights[o.PubkeyHex] = w
		wt.TotalSane += w
	}
	return wt
}

// Weight returns the frozen weight for pubkeyHex, or 0 if the operator
// wasn't active at freeze time.
func (wt *WeightTable) Weight(pubkeyHex string) float64 {
	return wt.Weights[pubkeyHex]
}

// Total returns the sum of all frozen weights.
func (wt *WeightTable) Total() float64 {
	return wt.TotalSane
}
