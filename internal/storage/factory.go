package storage

import (
	"fmt"
)

// BackendConfig selects and configures the single storage backend the
// service runs against (storage.backend, §6.3). Unlike the teacher's
// per-connection database config, this is global: one backend serves every
// project, with project_id only a filter column on the shared tables.
type BackendConfig struct {
	Backend string // "sqlite" (default) or "postgresql"

	// SQLite
	Path string

	// PostgreSQL
	Host     string
	Port     int
	Username string
	Password string
	Database string
	SSLMode  string

	// Optional directory of NNN_name.up.sql files applied after the
	// backend's baseline schema. Empty disables file-based migrations.
	MigrationsDir string
}

// Stores bundles the three storage-layer interfaces a single backend
// provides. For both the sqlite and postgres backends today, MemoryStore
// and VectorStore are the same underlying value (one store implements
// both), while LexicalIndex is a thin view sharing its connection.
type Stores struct {
	Memory  MemoryStore
	Vector  VectorStore
	Lexical LexicalIndex
}

// Close closes the underlying connections once. Memory and Vector share a
// handle in both backends, so only one Close call is issued.
func (s *Stores) Close() error {
	if s.Memory != nil {
		return s.Memory.Close()
	}
	return nil
}

// DSN builds a postgres connection string, redacting nothing — callers log
// through sanitizeDSN (internal/projects) rather than logging this value
// directly.
func (c BackendConfig) DSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, port, c.Database, sslmode)
}
