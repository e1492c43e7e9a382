package sqlite

// Schema is the embedded SQLite schema for the default backend: a memories
// table for the canonical record, a vector_entries table holding both the
// per-memory metadata embedding and the per-chunk embeddings (the §3
// storage mapping), and an FTS5 virtual table over chunk content only.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id            TEXT PRIMARY KEY,
	schema        TEXT NOT NULL,
	tier          TEXT NOT NULL,
	content       TEXT NOT NULL,
	summary       TEXT NOT NULL DEFAULT '',
	refs          TEXT NOT NULL DEFAULT '[]',
	timestamp     DATETIME NOT NULL,
	last_accessed DATETIME,
	access_count  INTEGER NOT NULL DEFAULT 0,
	importance    REAL NOT NULL DEFAULT 0,
	strength      REAL NOT NULL DEFAULT 0,
	project_id    TEXT NOT NULL DEFAULT '',
	language      TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT '{}',
	compressed    INTEGER NOT NULL DEFAULT 0,
	represents_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id);
CREATE INDEX IF NOT EXISTS idx_memories_tier ON memories(tier);
CREATE INDEX IF NOT EXISTS idx_memories_timestamp ON memories(timestamp);

CREATE TABLE IF NOT EXISTS vector_entries (
	id              TEXT PRIMARY KEY,
	memory_id       TEXT NOT NULL,
	is_memory_entry INTEGER NOT NULL,
	chunk_index     INTEGER NOT NULL DEFAULT -1,
	content         TEXT NOT NULL DEFAULT '',
	embedding       BLOB,
	project_id      TEXT NOT NULL DEFAULT '',
	schema          TEXT NOT NULL DEFAULT '',
	tier            TEXT NOT NULL DEFAULT '',
	timestamp       DATETIME,
	metadata        TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_vector_entries_memory ON vector_entries(memory_id);
CREATE INDEX IF NOT EXISTS idx_vector_entries_project ON vector_entries(project_id);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	id UNINDEXED,
	memory_id UNINDEXED,
	project_id UNINDEXED,
	schema UNINDEXED,
	tier UNINDEXED,
	content
);
`
