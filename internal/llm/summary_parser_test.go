package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myo-ojin/context-orchestrator/internal/llm"
)

const validSummary = `Topic: Deploy pipeline broke on main
DocType: incident
Project: infra
KeyActions:
- Roll back the last deploy
- Check the CI logs for the failing step`

func TestParseSummaryValid(t *testing.T) {
	s, err := llm.ParseSummary(validSummary)
	require.NoError(t, err)
	assert.Equal(t, "Deploy pipeline broke on main", s.Topic)
	assert.Equal(t, "incident", s.DocType)
	assert.Equal(t, "infra", s.Project)
	assert.Equal(t, []string{
		"Roll back the last deploy",
		"Check the CI logs for the failing step",
	}, s.KeyActions)
}

func TestParseSummaryTrimsSurroundingWhitespace(t *testing.T) {
	s, err := llm.ParseSummary("\n\n" + validSummary + "\n\n")
	require.NoError(t, err)
	assert.Equal(t, "infra", s.Project)
}

func TestParseSummaryRejectsMissingTopic(t *testing.T) {
	bad := `DocType: incident
Project: infra
KeyActions:
- Do something`
	_, err := llm.ParseSummary(bad)
	assert.Error(t, err)
}

func TestParseSummaryRejectsNumberedKeyActions(t *testing.T) {
	bad := `Topic: X
DocType: incident
Project: Unknown
KeyActions:
1. Do something`
	_, err := llm.ParseSummary(bad)
	assert.Error(t, err)
}

func TestParseSummaryRejectsEmptyKeyActions(t *testing.T) {
	bad := `Topic: X
DocType: incident
Project: Unknown
KeyActions:`
	_, err := llm.ParseSummary(bad)
	assert.Error(t, err)
}

func TestParseSummaryRejectsWrongKeyActionsHeader(t *testing.T) {
	bad := `Topic: X
DocType: incident
Project: Unknown
Actions:
- Do something`
	_, err := llm.ParseSummary(bad)
	assert.Error(t, err)
}

func TestFallbackSummaryExtractsImperativeClauses(t *testing.T) {
	content := "The deploy failed at 3am. Restart the service. Check the logs for errors. Verify the rollback completed."
	s := llm.FallbackSummary(content)
	assert.Equal(t, "The deploy failed at 3am", s.Topic)
	assert.Equal(t, "Unknown", s.Project)
	assert.Len(t, s.KeyActions, 3)
	assert.Contains(t, s.KeyActions, "Restart the service")
}

func TestFallbackSummaryWithNoImperativeClauses(t *testing.T) {
	s := llm.FallbackSummary("Just some unstructured prose with no commands at all")
	assert.Equal(t, []string{"(no actions recorded)"}, s.KeyActions)
}

func TestSummaryPromptIncludesContent(t *testing.T) {
	prompt := llm.SummaryPrompt("the raw content")
	assert.Contains(t, prompt, "the raw content")
	assert.Contains(t, prompt, "KeyActions:")
}
