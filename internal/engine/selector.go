package engine

import (
	"slices"

	"github.com/keepsakehq/keepsake/pkg/types"
)

// Select applies status visibility rules to a scored result set and returns
// the caller-facing ordering. Pure over its inputs: the input slice is not
// mutated and no backend is consulted.
//
// Visibility: unless includeSuperseded is set, every Superseded entry is
// dropped. Superseded is the only visibility filter — Active records on a
// topic that already has a Consolidated record are kept, since consolidation
// hides sources by flipping their status, never retroactively.
//
// Ordering: FinalScore descending, then status rank
// (Consolidated > Active > Superseded — applied globally, not per topic),
// then CreatedAt descending so newer records win remaining ties.
func Select(entries []RankedEntry, includeSuperseded bool) []RankedEntry {
	selected := make([]RankedEntry, 0, len(entries))
	for _, e := range entries {
		if e.Record == nil {
			continue
		}
		if !includeSuperseded && e.Record.Status == types.StatusSuperseded {
			continue
		}
		selected = append(selected, e)
	}

	slices.SortStableFunc(selected, func(a, b RankedEntry) int {
		if a.FinalScore != b.FinalScore {
			if a.FinalScore > b.FinalScore {
				return -1
			}
			return 1
		}
		if ra, rb := a.Record.Status.Rank(), b.Record.Status.Rank(); ra != rb {
			return rb - ra
		}
		if !a.Record.CreatedAt.Equal(b.Record.CreatedAt) {
			if a.Record.CreatedAt.After(b.Record.CreatedAt) {
				return -1
			}
			return 1
		}
		return 0
	})

	return selected
}
