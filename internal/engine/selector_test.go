package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepsakehq/keepsake/internal/engine"
	"github.com/keepsakehq/keepsake/pkg/types"
)

func entry(id string, status types.RecordStatus, final float64, createdAt time.Time) engine.RankedEntry {
	return engine.RankedEntry{
		Record: &types.MemoryRecord{
			ID:        id,
			TopicID:   "topic",
			Status:    status,
			CreatedAt: createdAt,
		},
		FinalScore: final,
	}
}

// TestSelectHidesSuperseded verifies the default visibility rule: zero
// Superseded entries survive, and includeSuperseded=true returns a superset
// containing all of them.
func TestSelectHidesSuperseded(t *testing.T) {
	now := time.Now().UTC()
	entries := []engine.RankedEntry{
		entry("active-1", types.StatusActive, 0.9, now),
		entry("superseded-1", types.StatusSuperseded, 0.95, now),
		entry("consolidated-1", types.StatusConsolidated, 0.8, now),
		entry("superseded-2", types.StatusSuperseded, 0.7, now),
	}

	visible := engine.Select(entries, false)
	require.Len(t, visible, 2)
	for _, e := range visible {
		assert.NotEqual(t, types.StatusSuperseded, e.Record.Status)
	}

	all := engine.Select(entries, true)
	require.Len(t, all, 4)
	ids := make(map[string]bool)
	for _, e := range all {
		ids[e.Record.ID] = true
	}
	for _, e := range visible {
		assert.True(t, ids[e.Record.ID], "history mode must be a superset")
	}
	assert.True(t, ids["superseded-1"])
	assert.True(t, ids["superseded-2"])
}

// TestSelectKeepsActiveAlongsideConsolidated verifies consolidation does not
// retroactively hide un-migrated Active records on the same topic; only the
// Superseded status filters.
func TestSelectKeepsActiveAlongsideConsolidated(t *testing.T) {
	now := time.Now().UTC()
	entries := []engine.RankedEntry{
		entry("consolidated-1", types.StatusConsolidated, 0.9, now),
		entry("active-1", types.StatusActive, 0.6, now),
	}

	visible := engine.Select(entries, false)
	require.Len(t, visible, 2)
}

func TestSelectOrdersByFinalScore(t *testing.T) {
	now := time.Now().UTC()
	entries := []engine.RankedEntry{
		entry("low", types.StatusActive, 0.2, now),
		entry("high", types.StatusActive, 0.9, now),
		entry("mid", types.StatusActive, 0.5, now),
	}

	got := engine.Select(entries, false)
	require.Len(t, got, 3)
	assert.Equal(t, "high", got[0].Record.ID)
	assert.Equal(t, "mid", got[1].Record.ID)
	assert.Equal(t, "low", got[2].Record.ID)
}

// TestSelectTieBreakByStatusRank verifies that on equal finalScore,
// Consolidated sorts before Active, which sorts before Superseded (when
// visible). The rank applies globally, across topics.
func TestSelectTieBreakByStatusRank(t *testing.T) {
	now := time.Now().UTC()
	entries := []engine.RankedEntry{
		entry("superseded", types.StatusSuperseded, 0.5, now),
		entry("active", types.StatusActive, 0.5, now),
		entry("consolidated", types.StatusConsolidated, 0.5, now),
	}
	entries[0].Record.TopicID = "other-topic"

	got := engine.Select(entries, true)
	require.Len(t, got, 3)
	assert.Equal(t, "consolidated", got[0].Record.ID)
	assert.Equal(t, "active", got[1].Record.ID)
	assert.Equal(t, "superseded", got[2].Record.ID)
}

// TestSelectTieBreakByCreatedAt verifies the secondary tie-break: equal score
// and status, newer createdAt wins.
func TestSelectTieBreakByCreatedAt(t *testing.T) {
	now := time.Now().UTC()
	entries := []engine.RankedEntry{
		entry("older", types.StatusActive, 0.5, now.Add(-time.Hour)),
		entry("newer", types.StatusActive, 0.5, now),
	}

	got := engine.Select(entries, false)
	require.Len(t, got, 2)
	assert.Equal(t, "newer", got[0].Record.ID)
	assert.Equal(t, "older", got[1].Record.ID)
}

func TestSelectDoesNotMutateInput(t *testing.T) {
	now := time.Now().UTC()
	entries := []engine.RankedEntry{
		entry("a", types.StatusActive, 0.2, now),
		entry("b", types.StatusSuperseded, 0.9, now),
	}

	_ = engine.Select(entries, false)

	assert.Equal(t, "a", entries[0].Record.ID)
	assert.Equal(t, "b", entries[1].Record.ID)
}

func TestSelectEmptyInput(t *testing.T) {
	got := engine.Select(nil, false)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}
