// Package postgres is the optional scale-out backend for storage.MemoryStore,
// storage.VectorStore, and storage.LexicalIndex: pgvector ivfflat cosine
// distance for V, tsvector/ts_rank for L. Selected via the storage.backend
// config key when the default SQLite backend's single-writer model and
// in-process cosine scan no longer fit the deployment.
package postgres

// Schema is the base, backend-agnostic table set. The pgvector column and
// its ivfflat index are added separately by MigrationPgvector once the
// extension's availability has been probed (it may not be installed on
// every Postgres server).
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id            TEXT PRIMARY KEY,
	schema        TEXT NOT NULL,
	tier          TEXT NOT NULL,
	content       TEXT NOT NULL,
	summary       TEXT NOT NULL DEFAULT '',
	refs          JSONB NOT NULL DEFAULT '[]',
	timestamp     TIMESTAMPTZ NOT NULL,
	last_accessed TIMESTAMPTZ,
	access_count  INTEGER NOT NULL DEFAULT 0,
	importance    REAL NOT NULL DEFAULT 0,
	strength      REAL NOT NULL DEFAULT 0,
	project_id    TEXT NOT NULL DEFAULT '',
	language      TEXT NOT NULL DEFAULT '',
	metadata      JSONB NOT NULL DEFAULT '{}',
	compressed    BOOLEAN NOT NULL DEFAULT FALSE,
	represents_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id);
CREATE INDEX IF NOT EXISTS idx_memories_tier ON memories(tier);
CREATE INDEX IF NOT EXISTS idx_memories_timestamp ON memories(timestamp);

CREATE TABLE IF NOT EXISTS vector_entries (
	id              TEXT PRIMARY KEY,
	memory_id       TEXT NOT NULL,
	is_memory_entry BOOLEAN NOT NULL,
	chunk_index     INTEGER NOT NULL DEFAULT -1,
	content         TEXT NOT NULL DEFAULT '',
	project_id      TEXT NOT NULL DEFAULT '',
	schema          TEXT NOT NULL DEFAULT '',
	tier            TEXT NOT NULL DEFAULT '',
	timestamp       TIMESTAMPTZ,
	metadata        JSONB NOT NULL DEFAULT '{}',
	content_tsv     tsvector
);

CREATE INDEX IF NOT EXISTS idx_vector_entries_memory ON vector_entries(memory_id);
CREATE INDEX IF NOT EXISTS idx_vector_entries_project ON vector_entries(project_id);
CREATE INDEX IF NOT EXISTS idx_vector_entries_tsv ON vector_entries USING GIN(content_tsv);

CREATE OR REPLACE FUNCTION vector_entries_tsv_update() RETURNS trigger AS $$
BEGIN
	NEW.content_tsv := to_tsvector('english', COALESCE(NEW.content, ''));
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_vector_entries_tsv ON vector_entries;
CREATE TRIGGER trg_vector_entries_tsv
	BEFORE INSERT OR UPDATE OF content ON vector_entries
	FOR EACH ROW EXECUTE FUNCTION vector_entries_tsv_update();
`

// MigrationPgvector adds the embedding column and its ivfflat cosine-distance
// index. Applied only when the vector extension is confirmed available;
// ivfflat requires at least one row before the index can be built, so the
// CREATE INDEX is wrapped in a guarded DO block.
const MigrationPgvector = `
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_name='vector_entries' AND column_name='embedding'
	) THEN
		ALTER TABLE vector_entries ADD COLUMN embedding vector;
	END IF;
END $$;

DO $$
BEGIN
	IF (SELECT COUNT(*) FROM vector_entries WHERE embedding IS NOT NULL) > 0
		AND NOT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_vector_entries_embedding_cosine')
	THEN
		EXECUTE 'CREATE INDEX idx_vector_entries_embedding_cosine ON vector_entries USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)';
	END IF;
END $$;
`
