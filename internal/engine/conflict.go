package engine

import (
	"sort"
	"strings"
)

// Conflict is a pair of decisions from one topic cluster that appear lexically
// similar but semantically opposed. Both decisions are always retained in the
// merged output; a conflict only annotates, it never blocks compaction.
type Conflict struct {
	// EarlierIndex and LaterIndex are positions in the merged decisions list.
	EarlierIndex int `json:"earlier_index"`
	LaterIndex   int `json:"later_index"`

	// Earlier and Later are the decision texts, earlier-seen first.
	Earlier string `json:"earlier"`
	Later   string `json:"later"`

	// SharedTerms are the content keywords the pair has in common.
	SharedTerms []string `json:"shared_terms"`
}

// ConflictDetector flags contradictory decision pairs in a merged decisions
// list. The default keyword heuristic is intentionally crude; the interface
// exists so it can be swapped for a stronger classifier without touching the
// compactor.
type ConflictDetector interface {
	Detect(decisions []string) []Conflict
}

// KeywordConflictDetector is the default ConflictDetector. Two decisions are
// flagged when their content keywords overlap above MinOverlap (Jaccard) and
// exactly one of the pair carries a negation marker ("do not use X" vs
// "use X", "deprecated X", and similar).
type KeywordConflictDetector struct {
	// MinOverlap is the minimum Jaccard overlap of content keywords required
	// to consider two decisions to be about the same thing. Defaults to 0.4
	// when zero or out of range.
	MinOverlap float64
}

// NewKeywordConflictDetector returns the default detector with MinOverlap 0.4.
func NewKeywordConflictDetector() *KeywordConflictDetector {
	return &KeywordConflictDetector{MinOverlap: 0.4}
}

// stopwords are dropped before overlap comparison. Negation markers are kept
// out of this set: they are matched separately and also excluded from the
// content keyword set.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "of": true, "for": true,
	"in": true, "on": true, "at": true, "by": true, "with": true, "and": true,
	"or": true, "we": true, "our": true, "is": true, "are": true, "be": true,
	"was": true, "were": true, "will": true, "should": true, "shall": true,
	"this": true, "that": true, "it": true, "as": true, "from": true,
	"do": true, "does": true, "did": true,
}

// negationMarkers flag a decision as negative-polarity when present as a
// token. Multi-word markers are matched as substrings of the lowercased text.
var negationMarkers = []string{"not", "don't", "dont", "never", "deprecated", "avoid", "stop", "drop", "abandoned"}

var negationPhrases = []string{"do not", "no longer", "instead of", "moved away from", "ruled out"}

// Detect scans all pairs in order and reports conflicts with the earlier
// decision first. Detection is deterministic for a given input order.
func (d *KeywordConflictDetector) Detect(decisions []string) []Conflict {
	minOverlap := d.MinOverlap
	if minOverlap <= 0 || minOverlap > 1 {
		minOverlap = 0.4
	}

	type analyzed struct {
		keywords map[string]bool
		negated  bool
	}
	items := make([]analyzed, len(decisions))
	for i, text := range decisions {
		keywords, negated := analyzeDecision(text)
		items[i] = analyzed{keywords: keywords, negated: negated}
	}

	var conflicts []Conflict
	for i := 0; i < len(decisions); i++ {
		for j := i + 1; j < len(decisions); j++ {
			// Opposed polarity: exactly one side negates.
			if items[i].negated == items[j].negated {
				continue
			}

			shared := intersect(items[i].keywords, items[j].keywords)
			union := len(items[i].keywords) + len(items[j].keywords) - len(shared)
			if union == 0 {
				continue
			}
			if float64(len(shared))/float64(union) < minOverlap {
				continue
			}

			conflicts = append(conflicts, Conflict{
				EarlierIndex: i,
				LaterIndex:   j,
				Earlier:      decisions[i],
				Later:        decisions[j],
				SharedTerms:  shared,
			})
		}
	}
	return conflicts
}

// analyzeDecision lowercases and tokenizes one decision, returning its content
// keyword set and whether it carries a negation marker.
func analyzeDecision(text string) (map[string]bool, bool) {
	lower := strings.ToLower(text)

	negated := false
	for _, phrase := range negationPhrases {
		if strings.Contains(lower, phrase) {
			negated = true
			break
		}
	}

	keywords := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(lower, isTokenSeparator) {
		if tok == "" || stopwords[tok] {
			continue
		}
		if isNegationToken(tok) {
			negated = true
			continue
		}
		keywords[tok] = true
	}
	return keywords, negated
}

func isNegationToken(tok string) bool {
	for _, marker := range negationMarkers {
		if tok == marker {
			return true
		}
	}
	return false
}

func isTokenSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', ',', '.', ';', ':', '!', '?', '(', ')', '[', ']', '"', '—', '–', '/':
		return true
	}
	return false
}

// intersect returns the sorted-by-first-set-iteration shared keys of a and b.
// Order is made deterministic by collecting then sorting lexically.
func intersect(a, b map[string]bool) []string {
	var shared []string
	for k := range a {
		if b[k] {
			shared = append(shared, k)
		}
	}
	// Map iteration order is random; sort for stable output.
	sort.Strings(shared)
	return shared
}
