package llm

import (
	"fmt"
	"strings"
)

// Summary is the parsed form of the structured summary contract (§4.3):
// Topic, DocType, Project header lines plus a non-empty KeyActions list.
type Summary struct {
	Topic      string
	DocType    string
	Project    string
	KeyActions []string
}

// SummaryPrompt builds the strict line-grammar prompt the summariser must
// follow. The grammar is fixed-order and machine-parsed by ParseSummary, so
// the instructions spell out the exact shape rather than leaving it to the
// model's judgment.
func SummaryPrompt(content string) string {
	return fmt.Sprintf(`Summarize the following content using EXACTLY this format, nothing
else before or after it:

Topic: <one line, non-empty>
DocType: <incident|decision|checklist|guide|snippet|process|...>
Project: <project name, or "Unknown" if none is mentioned>
KeyActions:
- <imperative action line>
- <imperative action line>

Rules:
- Each KeyActions line MUST start with "- " (hyphen, space).
- Do not use numbered lists or paragraphs for KeyActions.
- Include at least one KeyActions line.
- Do not add any other headers, explanation, or markdown.

Content:
%s`, content)
}

// ParseSummary validates text against the structured summary contract and
// returns the parsed fields. Line order is fixed; leading/trailing
// whitespace on the whole text is tolerated.
func ParseSummary(text string) (*Summary, error) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	// Drop blank lines at the edges but keep internal structure intact.
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 4 {
		return nil, fmt.Errorf("summary: expected at least 4 lines, got %d", len(lines))
	}

	topic, err := requiredField(lines[0], "Topic")
	if err != nil {
		return nil, err
	}
	docType, err := requiredField(lines[1], "DocType")
	if err != nil {
		return nil, err
	}
	project, err := requiredField(lines[2], "Project")
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(lines[3]) != "KeyActions:" {
		return nil, fmt.Errorf("summary: line 4 must be %q, got %q", "KeyActions:", lines[3])
	}

	var actions []string
	for _, line := range lines[4:] {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "- ") {
			return nil, fmt.Errorf("summary: KeyActions line must start with %q, got %q", "- ", trimmed)
		}
		action := strings.TrimSpace(strings.TrimPrefix(trimmed, "- "))
		if action == "" {
			return nil, fmt.Errorf("summary: empty KeyActions line")
		}
		actions = append(actions, action)
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("summary: KeyActions must have at least one entry")
	}

	return &Summary{
		Topic:      topic,
		DocType:    docType,
		Project:    project,
		KeyActions: actions,
	}, nil
}

func requiredField(line, name string) (string, error) {
	prefix := name + ":"
	if !strings.HasPrefix(strings.TrimSpace(line), prefix) {
		return "", fmt.Errorf("summary: expected %q prefix, got %q", prefix, line)
	}
	value := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), prefix))
	if value == "" {
		return "", fmt.Errorf("summary: %s must be non-empty", name)
	}
	return value, nil
}

// FallbackSummary deterministically builds a Summary from raw content when
// the model fails validation twice (§4.3): first sentence as Topic, up to
// three imperative-looking clauses as KeyActions, or a single placeholder
// line if none are found.
func FallbackSummary(content string) *Summary {
	topic := firstSentence(content)
	if topic == "" {
		topic = "Untitled"
	}

	actions := extractImperativeClauses(content, 3)
	if len(actions) == 0 {
		actions = []string{"(no actions recorded)"}
	}

	return &Summary{
		Topic:      topic,
		DocType:    "snippet",
		Project:    "Unknown",
		KeyActions: actions,
	}
}

func firstSentence(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	end := strings.IndexAny(content, ".!?\n")
	if end == -1 {
		if len(content) > 120 {
			return content[:120]
		}
		return content
	}
	sentence := strings.TrimSpace(content[:end])
	if len(sentence) > 120 {
		sentence = sentence[:120]
	}
	return sentence
}

// imperativeVerbs is a small closed set of verbs that commonly open an
// actionable clause; this is a heuristic fallback, not a grammar parser.
var imperativeVerbs = []string{
	"run", "use", "add", "remove", "update", "fix", "check", "install",
	"configure", "set", "create", "delete", "restart", "deploy", "verify",
	"ensure", "enable", "disable", "review", "revert", "rollback",
}

func extractImperativeClauses(content string, max int) []string {
	var out []string
	for _, raw := range strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '\n' || r == ';'
	}) {
		clause := strings.TrimSpace(raw)
		if clause == "" {
			continue
		}
		firstWord := strings.ToLower(strings.Fields(clause)[0])
		for _, verb := range imperativeVerbs {
			if firstWord == verb {
				out = append(out, clause)
				break
			}
		}
		if len(out) >= max {
			break
		}
	}
	return out
}
