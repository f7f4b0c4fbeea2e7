package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/keepsakehq/keepsake/internal/storage"
)

// Search performs FTS5-backed full-text search over record summaries and
// decisions, returning raw matches with a normalized semantic score.
//
// The FTS5 virtual table (records_fts) is kept in sync with the records
// table via the triggers defined in schema.go. FTS5 rank values are negative
// bm25 scores (more negative == better match), so ordering by rank ASC gives
// the best results first. The raw rank is squashed into [0, 1) with
// score = r / (r + 1) where r = -rank, which preserves ordering without
// assuming a bm25 ceiling.
//
// Matches are returned regardless of record status; status filtering happens
// downstream after hydration.
func (s *RecordStore) Search(ctx context.Context, query string, limit int) ([]storage.RawMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	// Sanitise the raw query string so it is safe to pass to FTS5's MATCH
	// operator. FTS5 syntax is fragile: an unbalanced quote or stray operator
	// keyword makes SQLite return "fts5: syntax error".
	ftsQuery := sanitiseFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	const querySQL = `
		SELECT r.id, r.topic_id, r.plan_id, r.summary_text, r.decisions, r.created_at, fts.rank
		FROM records_fts fts
		JOIN records r ON r.rowid = fts.rowid
		WHERE records_fts MATCH ?
		ORDER BY fts.rank
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, querySQL, ftsQuery, limit)
	if err != nil {
		// FTS5 can still error on malformed input that slipped past
		// sanitisation. Wrap with enough context to diagnose.
		return nil, fmt.Errorf("sqlite: search MATCH %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	var matches []storage.RawMatch
	for rows.Next() {
		var (
			match             storage.RawMatch
			planID, decisions sql.NullString
			rank              float64
		)
		err := rows.Scan(
			&match.RecordID,
			&match.TopicID,
			&planID,
			&match.SummaryText,
			&decisions,
			&match.CreatedAt,
			&rank,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: search scan: %w", err)
		}

		if planID.Valid {
			match.PlanID = planID.String
		}
		if decisions.Valid && decisions.String != "" {
			if err := json.Unmarshal([]byte(decisions.String), &match.Decisions); err != nil {
				return nil, fmt.Errorf("sqlite: search unmarshal decisions: %w", err)
			}
		}

		match.SemanticScore = bm25ToScore(rank)
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: search rows: %w", err)
	}

	return matches, nil
}

// bm25ToScore squashes an FTS5 rank (negative bm25, more negative is better)
// into a similarity estimate in [0, 1).
func bm25ToScore(rank float64) float64 {
	r := -rank
	if r <= 0 {
		return 0
	}
	return r / (r + 1)
}

// sanitiseFTSQuery converts a free-form query into a safe FTS5 MATCH
// expression. It strips FTS5-special characters, removes common stop words,
// and uses prefix matching (term*) for better recall.
//
// Example: "What is the session cache?" -> "session* OR cache*"
func sanitiseFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, ` `,
		`'`, ` `,
		`(`, ` `,
		`)`, ` `,
		`*`, ` `,
		`-`, ` `,
		`^`, ` `,
		`?`, ` `,
		`:`, ` `,
	)
	cleaned := replacer.Replace(query)

	words := strings.Fields(strings.ToLower(cleaned))

	stopWords := map[string]bool{
		"a": true, "an": true, "the": true,
		"is": true, "are": true, "was": true, "were": true, "be": true,
		"do": true, "does": true, "did": true,
		"to": true, "of": true, "in": true, "on": true, "at": true,
		"by": true, "for": true, "with": true, "from": true, "as": true,
		"what": true, "how": true, "when": true, "where": true, "why": true,
		"this": true, "that": true, "these": true, "those": true,
		"and": true, "or": true, "but": true, "if": true, "not": true,
		"s": true, "t": true,
	}

	var terms []string
	for _, w := range words {
		if !stopWords[w] && len(w) >= 2 {
			terms = append(terms, w+"*")
		}
	}

	if len(terms) == 0 {
		// All words were stop words. Lowercase the cleaned text so FTS5 does
		// not interpret uppercase AND/OR/NOT as operators.
		return strings.ToLower(strings.TrimSpace(cleaned))
	}

	return strings.Join(terms, " OR ")
}
