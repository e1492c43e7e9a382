// Package session implements the session lifecycle collaborator named in
// §6.1 (start_session / end_session / add_command) and the
// session_log_dir/ persisted-state entry from §6.2: one append-only,
// newline-delimited JSON transcript file per session.
//
// Grounded on the teacher's data-directory file layout conventions
// (mkdir-then-append-file-under-data-dir), adapted into a per-session
// append log.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

// Manager tracks in-flight sessions and persists their event stream to
// session_log_dir/{session_id}.log.
type Manager struct {
	dir string

	mu       sync.Mutex
	sessions map[string]*types.Session
}

// NewManager builds a Manager rooted at dataDir/session_log_dir.
func NewManager(dataDir string) *Manager {
	return &Manager{
		dir:      filepath.Join(dataDir, "session_log_dir"),
		sessions: make(map[string]*types.Session),
	}
}

// Start begins a new session and returns it.
func (m *Manager) Start(now time.Time) (*types.Session, error) {
	sess := &types.Session{
		SessionID: "sess-" + uuid.New().String(),
		StartedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.sessions[sess.SessionID] = sess
	m.mu.Unlock()

	if err := m.appendEvent(sess.SessionID, types.SessionEvent{At: now, Type: "start"}); err != nil {
		return nil, err
	}
	return sess, nil
}

// AddCommand records a command event against sessionID.
func (m *Manager) AddCommand(sessionID, command string, now time.Time) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		sess.UpdatedAt = now
		sess.Events = append(sess.Events, types.SessionEvent{At: now, Type: "command", Data: command})
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session: unknown session %q", sessionID)
	}
	return m.appendEvent(sessionID, types.SessionEvent{At: now, Type: "command", Data: command})
}

// End closes sessionID and returns its final state. The session remains
// queryable in memory after End; callers that want it gone call Forget.
func (m *Manager) End(sessionID string, now time.Time) (*types.Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		sess.UpdatedAt = now
	}
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("session: unknown session %q", sessionID)
	}
	if err := m.appendEvent(sessionID, types.SessionEvent{At: now, Type: "end"}); err != nil {
		return nil, err
	}
	return sess, nil
}

// Forget drops sessionID from the in-memory table without touching its log
// file on disk.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

func (m *Manager) appendEvent(sessionID string, evt types.SessionEvent) error {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return fmt.Errorf("session: mkdir %s: %w", m.dir, err)
	}
	f, err := os.OpenFile(m.logPath(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("session: open log for %s: %w", sessionID, err)
	}
	defer f.Close()

	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("session: marshal event for %s: %w", sessionID, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("session: write log for %s: %w", sessionID, err)
	}
	return nil
}

func (m *Manager) logPath(sessionID string) string {
	return filepath.Join(m.dir, sessionID+".log")
}
