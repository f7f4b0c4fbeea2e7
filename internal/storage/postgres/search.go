package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/keepsakehq/keepsake/internal/storage"
)

// EmbeddingFunc produces an embedding vector for a piece of text. The caller
// supplies it so the store stays agnostic of the embedding provider.
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

// StoreEmbedding stores the embedding vector for a record. Replaces any
// existing embedding for the same record.
func (s *RecordStore) StoreEmbedding(ctx context.Context, recordID string, embedding []float32) error {
	if recordID == "" {
		return fmt.Errorf("%w: record ID is required", storage.ErrInvalidInput)
	}
	if !s.pgvectorAvailable {
		return fmt.Errorf("postgres: pgvector extension not available")
	}

	const query = `
		INSERT INTO record_embeddings (record_id, embedding, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (record_id) DO UPDATE SET embedding = excluded.embedding
	`
	if _, err := s.db.ExecContext(ctx, query, recordID, pgvector.NewVector(embedding), time.Now().UTC()); err != nil {
		return fmt.Errorf("postgres: failed to store embedding: %w", err)
	}
	return nil
}

// SearchByVector returns raw matches ordered by cosine similarity to the
// query vector. Similarity is 1 - cosine distance, clamped to [0, 1].
//
// Returns an empty set when pgvector is unavailable rather than an error so
// callers degrade gracefully on servers without the extension.
func (s *RecordStore) SearchByVector(ctx context.Context, vector []float32, limit int) ([]storage.RawMatch, error) {
	if len(vector) == 0 || !s.pgvectorAvailable {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT r.id, r.topic_id, r.plan_id, r.summary_text, r.decisions, r.created_at,
		       1 - (e.embedding <=> $1::vector) AS similarity
		FROM records r
		JOIN record_embeddings e ON e.record_id = r.id
		WHERE e.embedding IS NOT NULL
		ORDER BY e.embedding <=> $1::vector
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []storage.RawMatch
	for rows.Next() {
		var (
			match             storage.RawMatch
			planID, decisions sql.NullString
			similarity        float64
		)
		err := rows.Scan(
			&match.RecordID,
			&match.TopicID,
			&planID,
			&match.SummaryText,
			&decisions,
			&match.CreatedAt,
			&similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: vector search scan: %w", err)
		}

		if planID.Valid {
			match.PlanID = planID.String
		}
		if decisions.Valid && decisions.String != "" {
			if err := json.Unmarshal([]byte(decisions.String), &match.Decisions); err != nil {
				return nil, fmt.Errorf("postgres: vector search unmarshal decisions: %w", err)
			}
		}

		match.SemanticScore = clampUnit(similarity)
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: vector search rows: %w", err)
	}

	return matches, nil
}

var _ storage.SearchBackend = (*RecordStore)(nil)

// Search performs text search over record summaries using PostgreSQL's
// built-in full-text machinery. This is the default SearchBackend when no
// embedding provider is configured; with one, wrap the store in a
// SearchAdapter for vector search instead.
func (s *RecordStore) Search(ctx context.Context, query string, limit int) ([]storage.RawMatch, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	const querySQL = `
		SELECT id, topic_id, plan_id, summary_text, decisions, created_at,
		       ts_rank(to_tsvector('english', summary_text), plainto_tsquery('english', $1)) AS score
		FROM records
		WHERE to_tsvector('english', summary_text) @@ plainto_tsquery('english', $1)
		ORDER BY score DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, querySQL, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: text search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []storage.RawMatch
	for rows.Next() {
		var (
			match             storage.RawMatch
			planID, decisions sql.NullString
			score             float64
		)
		err := rows.Scan(
			&match.RecordID,
			&match.TopicID,
			&planID,
			&match.SummaryText,
			&decisions,
			&match.CreatedAt,
			&score,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: text search scan: %w", err)
		}

		if planID.Valid {
			match.PlanID = planID.String
		}
		if decisions.Valid && decisions.String != "" {
			if err := json.Unmarshal([]byte(decisions.String), &match.Decisions); err != nil {
				return nil, fmt.Errorf("postgres: text search unmarshal decisions: %w", err)
			}
		}

		match.SemanticScore = clampUnit(score)
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: text search rows: %w", err)
	}

	return matches, nil
}

// SearchAdapter adapts the vector store into a storage.SearchBackend by
// embedding the query text with the supplied EmbeddingFunc.
type SearchAdapter struct {
	store *RecordStore
	embed EmbeddingFunc
}

var _ storage.SearchBackend = (*SearchAdapter)(nil)

// NewSearchAdapter builds a SearchBackend over the store's vector index.
func NewSearchAdapter(store *RecordStore, embed EmbeddingFunc) *SearchAdapter {
	return &SearchAdapter{store: store, embed: embed}
}

// Search embeds the query and runs a cosine-similarity search.
func (a *SearchAdapter) Search(ctx context.Context, query string, limit int) ([]storage.RawMatch, error) {
	vector, err := a.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: embedding query: %w", err)
	}
	return a.store.SearchByVector(ctx, vector, limit)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
