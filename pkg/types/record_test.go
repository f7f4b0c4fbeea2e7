package types_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/keepsakehq/keepsake/pkg/types"
)

func TestStatusIsValid(t *testing.T) {
	for _, s := range types.ValidStatuses {
		assert.True(t, s.IsValid(), "status %q should be valid", s)
	}
	assert.False(t, types.RecordStatus("archived").IsValid())
	assert.False(t, types.RecordStatus("").IsValid())
}

func TestStatusRankOrdering(t *testing.T) {
	assert.Greater(t, types.StatusConsolidated.Rank(), types.StatusActive.Rank())
	assert.Greater(t, types.StatusActive.Rank(), types.StatusSuperseded.Rank())
}

// TestStatusTransitions verifies the forward-only lifecycle: the only legal
// transition is Active → Superseded.
func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to types.RecordStatus
		allowed  bool
	}{
		{types.StatusActive, types.StatusSuperseded, true},
		{types.StatusActive, types.StatusConsolidated, false},
		{types.StatusActive, types.StatusActive, false},
		{types.StatusSuperseded, types.StatusActive, false},
		{types.StatusSuperseded, types.StatusConsolidated, false},
		{types.StatusConsolidated, types.StatusSuperseded, false},
		{types.StatusConsolidated, types.StatusActive, false},
	}

	for _, tc := range cases {
		got := tc.from.CanTransitionTo(tc.to)
		assert.Equal(t, tc.allowed, got, "%s → %s", tc.from, tc.to)
	}
}

func TestValidate(t *testing.T) {
	now := time.Now().UTC()

	valid := types.MemoryRecord{
		ID:          "rec-1",
		TopicID:     "caching-strategy",
		Status:      types.StatusActive,
		CreatedAt:   now.Add(-time.Hour),
		UpdatedAt:   now,
		SummaryText: "Discussed cache eviction.",
	}
	assert.NoError(t, valid.Validate())

	t.Run("missing_id", func(t *testing.T) {
		r := valid
		r.ID = ""
		assert.Error(t, r.Validate())
	})

	t.Run("missing_topic", func(t *testing.T) {
		r := valid
		r.TopicID = ""
		assert.Error(t, r.Validate())
	})

	t.Run("superseded_without_backref", func(t *testing.T) {
		r := valid
		r.Status = types.StatusSuperseded
		assert.Error(t, r.Validate())

		r.SupersededBy = "rec-99"
		assert.NoError(t, r.Validate())
	})

	t.Run("backref_on_active", func(t *testing.T) {
		r := valid
		r.SupersededBy = "rec-99"
		assert.Error(t, r.Validate())
	})

	t.Run("updated_before_created", func(t *testing.T) {
		r := valid
		r.UpdatedAt = r.CreatedAt.Add(-time.Minute)
		assert.Error(t, r.Validate())
	})
}
