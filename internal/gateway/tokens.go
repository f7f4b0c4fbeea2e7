package gateway

import (
	"github.com/keepsakehq/keepsake/pkg/types"
)

// charsPerToken is the rough character-to-token ratio used for budget
// accounting. Exact tokenization depends on the consumer's model; four
// characters per token is the conventional estimate for English prose.
const charsPerToken = 4

// entryOverhead covers the structural framing (field names, separators) each
// entry costs on top of its text when rendered for a consumer.
const entryOverhead = 16

// EstimateTokens returns the estimated token cost of serving one record.
// Deterministic; used by the token-budget walk so an entry is either included
// whole or not at all.
func EstimateTokens(rec *types.MemoryRecord) int {
	if rec == nil {
		return 0
	}
	chars := len(rec.SummaryText)
	for _, list := range [][]string{rec.Decisions, rec.Rationale, rec.OpenQuestions, rec.NextSteps, rec.References} {
		for _, item := range list {
			chars += len(item) + 1
		}
	}
	return entryOverhead + (chars+charsPerToken-1)/charsPerToken
}
