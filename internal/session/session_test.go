package session_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myo-ojin/context-orchestrator/internal/session"
)

func TestStartAddCommandEndWritesAppendOnlyLog(t *testing.T) {
	dir := t.TempDir()
	m := session.NewManager(dir)
	now := time.Now().UTC()

	sess, err := m.Start(now)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SessionID)

	require.NoError(t, m.AddCommand(sess.SessionID, "search_memory postgres", now.Add(time.Second)))
	_, err = m.End(sess.SessionID, now.Add(2*time.Second))
	require.NoError(t, err)

	data, err := os.ReadFile(dir + "/session_log_dir/" + sess.SessionID + ".log")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"start"`)
	assert.Contains(t, string(data), `"type":"command"`)
	assert.Contains(t, string(data), `"type":"end"`)
}

func TestAddCommandOnUnknownSessionFails(t *testing.T) {
	m := session.NewManager(t.TempDir())
	err := m.AddCommand("sess-does-not-exist", "foo", time.Now())
	assert.Error(t, err)
}
