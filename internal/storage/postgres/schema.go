// Package postgres provides the PostgreSQL-backed record store with
// pgvector-accelerated semantic search.
package postgres

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
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    summary_text TEXT NOT NULL,

    -- Structured fields (JSON arrays of strings)
    decisions JSONB,
    rationale JSONB,
    open_questions JSONB,
    next_steps JSONB,
    record_refs JSONB,

    -- Back-reference set when status is 'superseded'
    superseded_by TEXT
);

CREATE INDEX IF NOT EXISTS idx_records_topic_status ON records(topic_id, status);
CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at);

-- Full-text index over the summary so text search works without pgvector.
CREATE INDEX IF NOT EXISTS idx_records_fts
    ON records USING gin (to_tsvector('english', summary_text));
`

// MigrationPgvector adds the embedding column and ANN index. Applied only
// when the pgvector extension is available.
const MigrationPgvector = `
CREATE TABLE IF NOT EXISTS record_embeddings (
    record_id TEXT PRIMARY KEY REFERENCES records(id) ON DELETE CASCADE,
    embedding vector(1536),
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_record_embeddings_cosine
    ON record_embeddings USING ivfflat (embedding vector_cosine_ops);
`
