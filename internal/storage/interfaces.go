// Package storage defines the narrow interfaces through which the ranking
// and compaction engine reaches its external collaborators: a Store that
// appends records and flips their status, and a SearchBackend that returns
// an unordered set of semantically-matching raw records.
//
// The interfaces are intentionally small so backends can be implemented
// independently and composed as needed. A single implementation (such as the
// SQLite backend) may satisfy both.
package storage

import (
	"context"
	"time"

	"github.com/keepsakehq/keepsake/pkg/types"
)

// Store provides append and status-transition operations for memory records.
// Records are never physically deleted; the lifecycle only moves forward.
// Implementations must provide per-record atomic writes: a concurrent reader
// observes either the old or the new status, never a torn intermediate state.
type Store interface {
	// Append persists a new record and returns its ID. If the record has no
	// ID one is assigned. Returns ErrInvalidInput when record invariants are
	// violated.
	Append(ctx context.Context, record *types.MemoryRecord) (string, error)

	// Get retrieves a record by ID. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*types.MemoryRecord, error)

	// SetStatus transitions a record's status and stamps updated_at. The
	// supersededBy back-reference is required when status is Superseded.
	// Illegal transitions return ErrInvalidTransition; flipping a record to
	// the status it already holds is a no-op so bulk flips stay retryable.
	SetStatus(ctx context.Context, id string, status types.RecordStatus, supersededBy string) error

	// ListActiveByTopic returns all Active records for one topic, ordered by
	// created_at ascending.
	ListActiveByTopic(ctx context.Context, topicID string) ([]types.MemoryRecord, error)

	// ListActiveTopics returns the distinct topic IDs that currently have at
	// least one Active record.
	ListActiveTopics(ctx context.Context) ([]string, error)

	// ListByTopic returns a topic's records ordered by created_at descending.
	// Superseded records are included only when includeSuperseded is true
	// (history mode).
	ListByTopic(ctx context.Context, topicID string, includeSuperseded bool) ([]types.MemoryRecord, error)

	// Close releases any resources held by the store.
	Close() error
}

// RawMatch is one semantically-matching record as returned by a search
// backend, before any ranking or status filtering. SemanticScore is the
// backend's similarity estimate in [0, 1]. CreatedAt may be the zero value
// for legacy records that predate metadata collection.
type RawMatch struct {
	RecordID      string
	TopicID       string
	PlanID        string
	SummaryText   string
	Decisions     []string
	CreatedAt     time.Time
	SemanticScore float64
}

// SearchBackend performs raw semantic search. Matches are unordered; ranking
// is the engine's job. Backends are assumed to apply workspace isolation
// upstream. limit caps the candidate set, not the caller-facing result count.
type SearchBackend interface {
	Search(ctx context.Context, query string, limit int) ([]RawMatch, error)
}
