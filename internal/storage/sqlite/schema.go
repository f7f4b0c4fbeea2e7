// Package sqlite provides the SQLite-backed record store and full-text
// search backend. A single store file per workspace keeps the append-only
// log, the status lifecycle columns, and the FTS5 search index together.
package sqlite

// Schema contains the SQL statements that create the record store schema.
// All statements are idempotent so the schema can be applied on every open.
const Schema = `
-- Records table: append-only memory records with lifecycle status.
CREATE TABLE IF NOT EXISTS records (
    id TEXT PRIMARY KEY,
    topic_id TEXT NOT NULL,
    session_id TEXT,
    plan_id TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    summary_text TEXT NOT NULL,

    -- Structured fields (JSON arrays of strings)
    decisions TEXT,
    rationale TEXT,
    open_questions TEXT,
    next_steps TEXT,
    record_refs TEXT,

    -- Back-reference set when status is 'superseded'
    superseded_by TEXT
);

CREATE INDEX IF NOT EXISTS idx_records_topic_status ON records(topic_id, status);
CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at);

-- FTS5 index over the searchable text. Kept in sync with the records table
-- via triggers; searches run over all records regardless of status, since
-- status filtering happens after hydration.
CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
    summary_text,
    decisions,
    content='records',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS records_fts_insert AFTER INSERT ON records BEGIN
    INSERT INTO records_fts(rowid, summary_text, decisions)
    VALUES (new.rowid, new.summary_text, new.decisions);
END;

CREATE TRIGGER IF NOT EXISTS records_fts_delete AFTER DELETE ON records BEGIN
    INSERT INTO records_fts(records_fts, rowid, summary_text, decisions)
    VALUES ('delete', old.rowid, old.summary_text, old.decisions);
END;

CREATE TRIGGER IF NOT EXISTS records_fts_update AFTER UPDATE ON records BEGIN
    INSERT INTO records_fts(records_fts, rowid, summary_text, decisions)
    VALUES ('delete', old.rowid, old.summary_text, old.decisions);
    INSERT INTO records_fts(rowid, summary_text, decisions)
    VALUES (new.rowid, new.summary_text, new.decisions);
END;
`
