package search

import (
	"math"
	"time"

	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

// Weights are the rule-based reranker's per-factor coefficients (§4.6),
// grounded on the teacher's confidence_scorer.go weighted-sum-of-factors
// pattern (there: entity/relationship/source/age; here: the spec's
// strength/recency/refs/lexical/vector/metadata set). Configured via
// reranker.weights.* (§6.3); these are the documented defaults.
type Weights struct {
	Strength float64
	Recency  float64
	Refs     float64
	Lexical  float64
	Vector   float64
	Metadata float64
}

// DefaultWeights mirrors the emphasis the teacher's calculateRelevance
// placed on text match and importance, redistributed across the spec's six
// factors with vector and lexical match carrying the most weight.
func DefaultWeights() Weights {
	return Weights{
		Strength: 0.15,
		Recency:  0.15,
		Refs:     0.10,
		Lexical:  0.25,
		Vector:   0.25,
		Metadata: 0.10,
	}
}

// defaultRefsCap bounds the refs_count component so a memory with many refs
// doesn't dominate purely on citation count (§4.6: "min(refs_count,
// refs_cap) / refs_cap").
const defaultRefsCap = 5

// tierHalfLives gives recency's exponential-decay half-life per tier, in
// hours, generalising the teacher's DecayManager (single fixed 168h
// half-life for every memory) into §4.6's "tier-specific decay coefficients
// so long-term memories decay more slowly."
var tierHalfLives = map[types.Tier]float64{
	types.TierWorking:   24,        // 1 day
	types.TierShortTerm: 168,       // 1 week — the teacher's defaultHalfLifeHours
	types.TierLongTerm:  24 * 180,  // ~6 months
}

const fallbackHalfLifeHours = 168

// recency computes the teacher's exp(-λ * hours) decay factor, λ = ln(2) /
// half_life, using the half-life for tier. Already in [0,1].
func recency(tier types.Tier, age time.Duration) float64 {
	halfLife, ok := tierHalfLives[tier]
	if !ok {
		halfLife = fallbackHalfLifeHours
	}
	hours := age.Hours()
	if hours < 0 {
		hours = 0
	}
	lambda := math.Ln2 / halfLife
	return math.Exp(-lambda * hours)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Reranker computes the rule-based combined score for a search candidate
// (§4.6). It holds no state beyond its configuration and is safe for
// concurrent use.
type Reranker struct {
	weights Weights
	refsCap int
}

// NewReranker builds a Reranker. refsCap<=0 uses defaultRefsCap.
func NewReranker(weights Weights, refsCap int) *Reranker {
	if refsCap <= 0 {
		refsCap = defaultRefsCap
	}
	return &Reranker{weights: weights, refsCap: refsCap}
}

// Score computes the weighted combination described in §4.6 for mem, given
// the raw vector similarity and normalized lexical score of its best
// representative candidate (picked during dedup, see orchestrator.go).
//
// metadataBonus is accepted as a parameter rather than computed here:
// query-attribute extraction (QAM) is wired but currently always returns
// none (§4.6), so callers pass 0 until QAM exists. Keeping the hook as a
// parameter, rather than inlining a permanent 0, is what "wired but returns
// None" means in Go terms.
func (r *Reranker) Score(mem *types.Memory, vectorSimilarity, lexicalScore, metadataBonus float64, now time.Time) float64 {
	refsComponent := math.Min(float64(len(mem.Refs)), float64(r.refsCap)) / float64(r.refsCap)

	return r.weights.Strength*clamp01(mem.Strength) +
		r.weights.Recency*recency(mem.Tier, mem.Age(now)) +
		r.weights.Refs*refsComponent +
		r.weights.Lexical*clamp01(lexicalScore) +
		r.weights.Vector*clamp01(vectorSimilarity) +
		r.weights.Metadata*clamp01(metadataBonus)
}
