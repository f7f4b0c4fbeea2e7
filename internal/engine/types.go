package engine

import (
	"time"

	"github.com/keepsakehq/keepsake/pkg/types"
)

// RankedEntry wraps a memory record with the scores computed during one
// retrieval call. Never persisted; it exists only for the duration of the
// call that produced it.
type RankedEntry struct {
	// Record is the underlying memory record.
	Record *types.MemoryRecord `json:"record"`

	// SemanticScore is the backend's similarity estimate in [0, 1].
	SemanticScore float64 `json:"semantic_score"`

	// RecencyScore is the computed time-decay score in [0, 1].
	RecencyScore float64 `json:"recency_score"`

	// FinalScore is the blended orderable score in [0, 1].
	FinalScore float64 `json:"final_score"`
}

// NewRankedEntry scores a record against the given blend parameters.
// now is passed explicitly so scoring stays deterministic and testable.
func NewRankedEntry(record *types.MemoryRecord, semanticScore, alpha, halfLifeDays float64, now time.Time) RankedEntry {
	recency := RecencyScore(record.CreatedAt, now, halfLifeDays)
	return RankedEntry{
		Record:        record,
		SemanticScore: clampUnit(semanticScore),
		RecencyScore:  recency,
		FinalScore:    FinalScore(semanticScore, recency, alpha),
	}
}
