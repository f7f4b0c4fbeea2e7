// Package engine provides the ranking, selection, and compaction engine for
// the Keepsake memory store.
package engine

import (
	"math"
	"time"
)

const (
	// MinAlpha and MaxAlpha bound the semantic/recency blend weight so that
	// neither term can be fully zeroed out by configuration.
	MinAlpha = 0.6
	MaxAlpha = 0.95

	// DefaultAlpha is the default blend weight for the semantic score.
	DefaultAlpha = 0.8

	// MinHalfLifeDays and MaxHalfLifeDays bound the recency half-life.
	MinHalfLifeDays = 7.0
	MaxHalfLifeDays = 90.0

	// DefaultHalfLifeDays is the default recency half-life.
	DefaultHalfLifeDays = 14.0

	hoursPerDay = 24.0
)

// ClampAlpha clamps the blend weight to [MinAlpha, MaxAlpha].
func ClampAlpha(alpha float64) float64 {
	return math.Min(math.Max(alpha, MinAlpha), MaxAlpha)
}

// ClampHalfLife clamps the half-life to [MinHalfLifeDays, MaxHalfLifeDays].
func ClampHalfLife(halfLifeDays float64) float64 {
	return math.Min(math.Max(halfLifeDays, MinHalfLifeDays), MaxHalfLifeDays)
}

// RecencyScore returns the exponential time-decay score for a record created
// at createdAt, evaluated at now:
//
//	recency = 0.5 ^ (ageDays / halfLifeDays)
//
// The score is 1.0 at age zero, exactly 0.5 at halfLifeDays, and asymptotes
// toward zero for arbitrarily old records with no discontinuity.
//
// A zero createdAt (legacy record with no timestamp) scores 1.0 — treated as
// maximally fresh rather than failing, so records that predate metadata
// collection are not penalized.
func RecencyScore(createdAt, now time.Time, halfLifeDays float64) float64 {
	if createdAt.IsZero() {
		return 1.0
	}
	halfLifeDays = ClampHalfLife(halfLifeDays)

	ageDays := now.Sub(createdAt).Hours() / hoursPerDay
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(0.5, ageDays/halfLifeDays)
}

// FinalScore blends the backend's semantic similarity with the recency score:
//
//	final = alpha*semantic + (1-alpha)*recency
//
// alpha is clamped to [MinAlpha, MaxAlpha] regardless of caller input, and
// both component scores are clamped to [0, 1], so the result is always in
// [0, 1]. Pure and deterministic; safe to call from any goroutine.
func FinalScore(semanticScore, recencyScore, alpha float64) float64 {
	alpha = ClampAlpha(alpha)
	semanticScore = clampUnit(semanticScore)
	recencyScore = clampUnit(recencyScore)
	return alpha*semanticScore + (1-alpha)*recencyScore
}

func clampUnit(v float64) float64 {
	return math.Min(math.Max(v, 0.0), 1.0)
}
