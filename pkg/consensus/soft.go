// Copyright 2025 Cynic Protocol
//
// Soft consensus (§4.C8): pattern emergence by local cosine-similarity
// matching across independently-submitted judgments, with no network
// round-trip. The feature vector's composition (primary_axiom,
// weakest_dimension, score histogram buckets, item_type_tag,
// context_tag_set) is fixed here and must be identical network-wide —
// published as part of genesis (§9 design notes).
package consensus

import (
	"math"
	"sort"

	"github.com/cynic-protocol/cynic-node/pkg/dimension"
	"github.com/cynic-protocol/cynic-node/pkg/judgment"
)

// histogramBuckets is the number of fixed-width [0,100] score buckets
// in a feature vector's score histogram.
const histogramBuckets = 5

// FeatureVector is the normalized signature extracted from a
// judgment, compared via cosine similarity to detect pattern
// emergence.
type FeatureVector struct {
	PrimaryAxiom     dimension.Axiom
	WeakestDimension string
	ScoreHistogram   [histogramBuckets]float64 // normalized bucket occupancy, sums to 1
	ItemTypeTag      string
	ContextTagSet    []string
}

// ExtractFeatures derives a FeatureVector from j, resolving each
// scored dimension's axiom through registry. itemTypeTag/contextTags
// come from the judgment's evaluation context, supplied by the caller
// since Judgment itself carries only the scored outputs.
func ExtractFeatures(j *judgment.Judgment, registry *dimension.Registry, itemTypeTag string, contextTags []string) FeatureVector {
	fv := FeatureVector{ItemTypeTag: itemTypeTag}

	axiomTally := make(map[dimension.Axiom]int)
	weakestScore := math.Inf(1)
	for _, s := range j.Scores {
		if d, ok := registry.Get(s.Dimension); ok {
			axiomTally[d.Axiom]++
		}
		if s.Score < weakestScore {
			weakestScore = s.Score
			fv.WeakestDimension = s.Dimension
		}
		bucket := int(s.Score) * histogramBuckets / 101
		if bucket >= histogramBuckets {
			bucket = histogramBuckets - 1
		}
		fv.ScoreHistogram[bucket]++
	}
	total := float64(len(j.Scores))
	if total > 0 {
		for i := range fv.ScoreHistogram {
			fv.ScoreHistogram[i] /= total
		}
	}

	var best dimension.Axiom
	bestCount := -1
	for _, ax := range dimension.Axioms { // deterministic tie-break: genesis axiom order
		if c := axiomTally[ax]; c > bestCount {
			best, bestCount = ax, c
		}
	}
	fv.PrimaryAxiom = best

	tags := append([]string(nil), contextTags...)
	sort.Strings(tags)
	fv.ContextTagSet = tags
	return fv
}

// toVector flattens a FeatureVector into a fixed-length numeric vector
// for cosine comparison: one-hot axiom (len(Axioms)), the histogram
// buckets, and a hash-bucketed contribution from WeakestDimension /
// ItemTypeTag / ContextTagSet so textual fields participate without
// needing a shared vocabulary.
func (fv FeatureVector) toVector() []float64 {
	const tagSlots = 8
	out := make([]float64, 0, len(dimension.Axioms)+histogramBuckets+3*tagSlots)

	for _, ax := range dimension.Axioms {
		if ax == fv.PrimaryAxiom {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	}
	out = append(out, fv.ScoreHistogram[:]...)
	out = append(out, stringFold(fv.WeakestDimension, tagSlots)...)
	out = append(out, stringFold(fv.ItemTypeTag, tagSlots)...)

	contextFold := make([]float64, tagSlots)
	for _, t := range fv.ContextTagSet {
		for i, v := range stringFold(t, tagSlots) {
			contextFold[i] += v
		}
	}
	out = append(out, contextFold...)
	return out
}

// stringFold hashes s into a small fixed-width vector so arbitrary
// tags can participate in cosine similarity without a shared
// vocabulary: every node must use this exact fold, so it is part of
// the genesis-fixed feature format, not a tuning knob.
func stringFold(s string, slots int) []float64 {
	out := make([]float64, slots)
	for i, r := range s {
		out[(int(r)+i)%slots]++
	}
	return out
}

// CosineSimilarity computes cosine similarity between two feature
// vectors (1.0 = identical direction, 0 = orthogonal).
func CosineSimilarity(a, b FeatureVector) float64 {
	va, vb := a.toVector(), b.toVector()
	var dot, na, nb float64
	for i := range va {
		dot += va[i] * vb[i]
		na += va[i] * va[i]
		nb += vb[i] * vb[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// submission is one operator's feature vector contributed toward an
// item_hash class's pattern.
type submission struct {
	operator string
	features FeatureVector
}

// SoftTracker accumulates per-item_hash-class submissions and reports
// emergence once >= 3 distinct operators match within threshold
// (§4.C8 "A pattern is emerged when 3 distinct operators
// independently submit judgments whose feature-extracted signatures
// match... on the same item_hash class").
type SoftTracker struct {
	threshold   float64
	submissions map[string][]submission // item hash class -> submissions
}

// NewSoftTracker builds a tracker using threshold (spec: phi^-1).
func NewSoftTracker(threshold float64) *SoftTracker {
	return &SoftTracker{threshold: threshold, submissions: make(map[string][]submission)}
}

// Submit records operator's features for itemHashClass and reports
// whether a pattern has now emerged (>= 3 distinct operators: the
// submitting operator plus every other operator whose features match
// the submitter's within threshold; other submissions are not compared
// with each other). Re-submissions from the same operator for the same
// class replace its prior submission rather than double-counting.
func (t *SoftTracker) Submit(itemHashClass, operator string, features FeatureVector) (emerged bool, matchedSources int) {
	subs := t.submissions[itemHashClass]
	replaced := false
	for i, s := range subs {
		if s.operator == operator {
			subs[i] = submission{operator: operator, features: features}
			replaced = true
			break
		}
	}
	if !replaced {
		subs = append(subs, submission{operator: operator, features: features})
	}
	t.submissions[itemHashClass] = subs

	matched := map[string]bool{operator: true}
	for _, s := range subs {
		if s.operator == operator {
			continue
		}
		if CosineSimilarity(features, s.features) >= t.threshold {
			matched[s.operator] = true
		}
	}
	return len(matched) >= minPatternSources, len(matched)
}

// minPatternSources mirrors pkg/knowledge.MinPatternSources (kept as a
// local constant since pkg/knowledge doesn't import pkg/consensus).
const minPatternSources = 3
