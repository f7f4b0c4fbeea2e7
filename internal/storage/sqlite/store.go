package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/keepsakehq/keepsake/internal/storage"
	"github.com/keepsakehq/keepsake/pkg/types"
)

// Ensure *RecordStore satisfies the storage interfaces at compile time.
var (
	_ storage.Store         = (*RecordStore)(nil)
	_ storage.SearchBackend = (*RecordStore)(nil)
)

// RecordStore implements storage.Store and storage.SearchBackend using SQLite.
type RecordStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRecordStore opens (or creates) the SQLite database at dsn, configures
// WAL mode, and applies the schema.
func NewRecordStore(dsn string, log zerolog.Logger) (*RecordStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	// WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &RecordStore{db: db, log: log}, nil
}

// Append persists a new record and returns its ID. Records enter the store
// exactly once; there is no update path for record content.
func (s *RecordStore) Append(ctx context.Context, record *types.MemoryRecord) (string, error) {
	if record == nil {
		return "", storage.ErrInvalidInput
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = types.StatusActive
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	if err := record.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	decisionsJSON, err := marshalList(record.Decisions)
	if err != nil {
		return "", fmt.Errorf("sqlite: failed to marshal decisions: %w", err)
	}
	rationaleJSON, err := marshalList(record.Rationale)
	if err != nil {
		return "", fmt.Errorf("sqlite: failed to marshal rationale: %w", err)
	}
	openQuestionsJSON, err := marshalList(record.OpenQuestions)
	if err != nil {
		return "", fmt.Errorf("sqlite: failed to marshal open_questions: %w", err)
	}
	nextStepsJSON, err := marshalList(record.NextSteps)
	if err != nil {
		return "", fmt.Errorf("sqlite: failed to marshal next_steps: %w", err)
	}
	referencesJSON, err := marshalList(record.References)
	if err != nil {
		return "", fmt.Errorf("sqlite: failed to marshal references: %w", err)
	}

	const query = `
		INSERT INTO records (
			id, topic_id, session_id, plan_id, status,
			created_at, updated_at, summary_text,
			decisions, rationale, open_questions, next_steps, record_refs,
			superseded_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.TopicID,
		nullableString(record.SessionID),
		nullableString(record.PlanID),
		string(record.Status),
		record.CreatedAt,
		record.UpdatedAt,
		record.SummaryText,
		decisionsJSON,
		rationaleJSON,
		openQuestionsJSON,
		nextStepsJSON,
		referencesJSON,
		nullableString(record.SupersededBy),
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: failed to append record: %w", err)
	}

	return record.ID, nil
}

const recordColumns = `
	id, topic_id, session_id, plan_id, status,
	created_at, updated_at, summary_text,
	decisions, rationale, open_questions, next_steps, record_refs,
	superseded_by
`

// Get retrieves a record by ID.
func (s *RecordStore) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: record ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id = ?", id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get record: %w", err)
	}
	return record, nil
}

// SetStatus transitions a record's status and stamps updated_at. Flipping a
// record to the status it already holds is a no-op so bulk flips during
// compaction stay retryable after a partial failure.
func (s *RecordStore) SetStatus(ctx context.Context, id string, status types.RecordStatus, supersededBy string) error {
	if id == "" {
		return fmt.Errorf("%w: record ID is required", storage.ErrInvalidInput)
	}
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", storage.ErrInvalidInput, status)
	}
	if status == types.StatusSuperseded && supersededBy == "" {
		return fmt.Errorf("%w: superseded status requires a superseded_by reference", storage.ErrInvalidInput)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if current.Status == status {
		return nil
	}

	if !current.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s to %s", storage.ErrInvalidTransition, current.Status, status)
	}

	const query = `
		UPDATE records
		SET status = ?, superseded_by = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, string(status), nullableString(supersededBy), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to set status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// ListActiveByTopic returns all Active records for a topic ordered by
// created_at ascending. This is the compaction cluster for the topic.
func (s *RecordStore) ListActiveByTopic(ctx context.Context, topicID string) ([]types.MemoryRecord, error) {
	if topicID == "" {
		return nil, fmt.Errorf("%w: topic ID is required", storage.ErrInvalidInput)
	}

	const query = `
		SELECT ` + recordColumns + `
		FROM records
		WHERE topic_id = ? AND status = ?
		ORDER BY created_at ASC
	`
	return s.queryRecords(ctx, query, topicID, string(types.StatusActive))
}

// ListActiveTopics returns the distinct topic IDs that currently have at
// least one Active record.
func (s *RecordStore) ListActiveTopics(ctx context.Context) ([]string, error) {
	const query = `
		SELECT DISTINCT topic_id
		FROM records
		WHERE status = ?
		ORDER BY topic_id
	`
	rows, err := s.db.QueryContext(ctx, query, string(types.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list active topics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var topics []string
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan topic: %w", err)
		}
		topics = append(topics, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating topics: %w", err)
	}
	return topics, nil
}

// ListByTopic returns a topic's records ordered by created_at descending.
// Superseded records are included only in history mode.
func (s *RecordStore) ListByTopic(ctx context.Context, topicID string, includeSuperseded bool) ([]types.MemoryRecord, error) {
	if topicID == "" {
		return nil, fmt.Errorf("%w: topic ID is required", storage.ErrInvalidInput)
	}

	if includeSuperseded {
		const query = `
			SELECT ` + recordColumns + `
			FROM records
			WHERE topic_id = ?
			ORDER BY created_at DESC
		`
		return s.queryRecords(ctx, query, topicID)
	}

	const query = `
		SELECT ` + recordColumns + `
		FROM records
		WHERE topic_id = ? AND status != ?
		ORDER BY created_at DESC
	`
	return s.queryRecords(ctx, query, topicID, string(types.StatusSuperseded))
}

// Close flushes the WAL into the main database file and releases resources.
// The TRUNCATE checkpoint removes the -shm and -wal files so another process
// can open the database without encountering stale WAL state.
func (s *RecordStore) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.log.Warn().Err(err).Msg("WAL checkpoint on close failed")
	}
	return s.db.Close()
}

func (s *RecordStore) queryRecords(ctx context.Context, query string, args ...any) ([]types.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []types.MemoryRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan record: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating records: %w", err)
	}
	return records, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.MemoryRecord, error) {
	var (
		record                                    types.MemoryRecord
		status                                    string
		sessionID, planID, supersededBy           sql.NullString
		decisions, rationale, openQuestions       sql.NullString
		nextSteps, references                     sql.NullString
	)

	err := row.Scan(
		&record.ID,
		&record.TopicID,
		&sessionID,
		&planID,
		&status,
		&record.CreatedAt,
		&record.UpdatedAt,
		&record.SummaryText,
		&decisions,
		&rationale,
		&openQuestions,
		&nextSteps,
		&references,
		&supersededBy,
	)
	if err != nil {
		return nil, err
	}

	record.Status = types.RecordStatus(status)
	if sessionID.Valid {
		record.SessionID = sessionID.String
	}
	if planID.Valid {
		record.PlanID = planID.String
	}
	if supersededBy.Valid {
		record.SupersededBy = supersededBy.String
	}

	for _, field := range []struct {
		src  sql.NullString
		dest *[]string
	}{
		{decisions, &record.Decisions},
		{rationale, &record.Rationale},
		{openQuestions, &record.OpenQuestions},
		{nextSteps, &record.NextSteps},
		{references, &record.References},
	} {
		if !field.src.Valid || field.src.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(field.src.String), field.dest); err != nil {
			return nil, fmt.Errorf("unmarshal list field: %w", err)
		}
	}

	return &record, nil
}

// marshalList encodes a string slice as a JSON column value. Empty slices
// store as NULL so the column stays readable in a raw query.
func marshalList(items []string) (sql.NullString, error) {
	if len(items) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// nullableString converts a string to sql.NullString.
// An empty string is treated as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
