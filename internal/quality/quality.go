// Package quality scores a Signal's confidence from source trust,
// freshness, location precision, and corroboration (§4.6, C7). Like
// the teacher's internal/metrics adaptive scorer, this is a pure
// function over already-loaded fields — no I/O, no external state.
package quality

import (
	"math"
	"time"

	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// HalfLife is the freshness-decay half-life: a signal's freshness
// component halves every HalfLife since ExtractedAt.
const HalfLife = 72 * time.Hour

const (
	coordinatesBonus       = 0.1
	corroborationBonusUnit = 0.05
	corroborationBonusCap  = 0.2
)

// Score computes a Signal's confidence from source trust
// (sourceWeight * sourceQualityPenalty), freshness decay relative to
// now, a flat bonus for having coordinates, and a capped per-corroboration
// bonus. The result is written into signal.Confidence and also
// returned, clamped to [0,1].
func Score(signal *models.Signal, sourceWeight, sourceQualityPenalty float64, now time.Time) float64 {
	trust := sourceWeight * sourceQualityPenalty
	freshness := freshnessDecay(signal.ExtractedAt, now)

	score := trust * freshness
	if signal.AboutLocation != nil {
		score += coordinatesBonus
	}
	score += corroborationBonus(signal.CorroborationCount)

	score = clamp(score)
	signal.Confidence = score
	return score
}

// freshnessDecay returns exp(-ln(2) * age / HalfLife), in (0, 1].
func freshnessDecay(extractedAt, now time.Time) float64 {
	age := now.Sub(extractedAt)
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 * age.Hours() / HalfLife.Hours())
}

// corroborationBonus grows with corroboration count, capped so a
// single widely-mirrored claim can't dominate the score.
func corroborationBonus(count int) float64 {
	bonus := float64(count) * corroborationBonusUnit
	if bonus > corroborationBonusCap {
		return corroborationBonusCap
	}
	return bonus
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
