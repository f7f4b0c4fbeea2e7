package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepsakehq/keepsake/internal/engine"
)

func TestDetectFlagsNegatedPair(t *testing.T) {
	d := engine.NewKeywordConflictDetector()

	conflicts := d.Detect([]string{
		"Use Redis for the session cache",
		"Do not use Redis — deprecated",
	})

	require.Len(t, conflicts, 1)
	assert.Equal(t, 0, conflicts[0].EarlierIndex)
	assert.Equal(t, 1, conflicts[0].LaterIndex)
	assert.Contains(t, conflicts[0].SharedTerms, "redis")
}

// TestDetectRequiresOpposedPolarity verifies that two decisions about the
// same subject with the same polarity are not flagged.
func TestDetectRequiresOpposedPolarity(t *testing.T) {
	d := engine.NewKeywordConflictDetector()

	conflicts := d.Detect([]string{
		"Use Redis for the session cache",
		"Use Redis for rate limiting",
	})
	assert.Empty(t, conflicts)

	conflicts = d.Detect([]string{
		"Do not use Redis for sessions",
		"Avoid Redis for rate limiting",
	})
	assert.Empty(t, conflicts)
}

// TestDetectRequiresKeywordOverlap verifies that opposed polarity alone is
// not enough; the pair must share enough content keywords.
func TestDetectRequiresKeywordOverlap(t *testing.T) {
	d := engine.NewKeywordConflictDetector()

	conflicts := d.Detect([]string{
		"Use Postgres for persistence",
		"Do not retry failed webhooks",
	})
	assert.Empty(t, conflicts)
}

func TestDetectNegationVariants(t *testing.T) {
	d := engine.NewKeywordConflictDetector()

	cases := []struct {
		name  string
		later string
	}{
		{"do_not", "Do not use Redis"},
		{"dont", "Don't use Redis"},
		{"deprecated", "Redis use deprecated"},
		{"no_longer", "We no longer use Redis"},
		{"avoid", "Avoid Redis use"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conflicts := d.Detect([]string{"Use Redis", tc.later})
			assert.Len(t, conflicts, 1)
		})
	}
}

func TestDetectEmptyAndSingle(t *testing.T) {
	d := engine.NewKeywordConflictDetector()
	assert.Empty(t, d.Detect(nil))
	assert.Empty(t, d.Detect([]string{"Use Redis"}))
}

func TestDetectDeterministic(t *testing.T) {
	d := engine.NewKeywordConflictDetector()
	decisions := []string{
		"Use Redis for caching",
		"Adopt Postgres for storage",
		"Do not use Redis for caching anymore",
	}

	first := d.Detect(decisions)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, d.Detect(decisions))
	}
}
