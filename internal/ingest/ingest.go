// Package ingest implements the ingestion service (§4.1): turns one
// conversation turn into a durable Memory plus its chunk records, running
// classification, language detection, structured summarisation, chunking,
// and embedding before handing the result to the indexer for the atomic
// V-then-L write.
//
// Grounded on the teacher's StoreMemory handler
// (internal/api/mcp/server.go) for the overall "accept input, generate id,
// persist, return id" shape, generalised from a single free-text store call
// into the fuller classify/summarise/chunk/embed pipeline original_source's
// src/services/memory_service.py ingest_conversation runs.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/myo-ojin/context-orchestrator/internal/chunk"
	"github.com/myo-ojin/context-orchestrator/internal/indexer"
	"github.com/myo-ojin/context-orchestrator/internal/llm"
	"github.com/myo-ojin/context-orchestrator/internal/router"
	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

// Config configures the ingestion pipeline. All fields have sane defaults
// via DefaultConfig.
type Config struct {
	MaxTokens        int    // chunker ceiling, §4.2 default 512
	SummaryRetryMax  int    // §4.3: "one retry with a stricter prompt"
	DefaultLanguage  string // used when no override/heuristic applies
	LanguageOverride string // CONTEXT_ORCHESTRATOR_LANG_OVERRIDE, §6.3
}

// DefaultConfig returns the pipeline's default tuning.
func DefaultConfig() Config {
	return Config{
		MaxTokens:       512,
		SummaryRetryMax: 1,
		DefaultLanguage: "en",
	}
}

// Input is one conversation record to ingest (§4.1 "Input").
type Input struct {
	User      string
	Assistant string
	Source    string // cli | obsidian | editor
	Refs      []string
	Timestamp time.Time // zero means "now"
	ProjectID string
	Language  string // explicit hint, takes priority over the override chain
	Metadata  map[string]interface{}
}

// Service runs the §4.1 pipeline end to end.
type Service struct {
	router  *router.Router
	chunker *chunk.Chunker
	indexer *indexer.Indexer
	cfg     Config
}

// New builds an ingestion Service.
func New(r *router.Router, ix *indexer.Indexer, cfg Config) *Service {
	return &Service{
		router:  r,
		chunker: chunk.New(cfg.MaxTokens),
		indexer: ix,
		cfg:     cfg,
	}
}

// Ingest runs the full order of operations in §4.1 and returns the new
// memory's id. Empty input is rejected with an InvalidRequest
// *types.KindedError; every other error is a *types.KindedError with Kind
// IngestFailed, carrying the failing step's cause.
func (s *Service) Ingest(ctx context.Context, in Input) (string, error) {
	content, refs := normalize(in)
	if strings.TrimSpace(content) == "" {
		return "", types.NewInvalidRequest("ingest_conversation: user and assistant text are both empty")
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	schema := s.classify(ctx, content)
	language := s.detectLanguage(in, content)
	summary := s.summarize(ctx, content)

	mem := &types.Memory{
		ID:        "mem-" + uuid.New().String(),
		Schema:    schema,
		Tier:      types.TierWorking,
		Content:   content,
		Summary:   formatSummary(summary),
		Refs:      refs,
		Timestamp: ts,
		Strength:  0.5,
		ProjectID: in.ProjectID,
		Language:  language,
		Metadata:  in.Metadata,
	}

	chunks, err := s.chunkAndEmbed(ctx, in, mem)
	if err != nil {
		return "", err
	}

	summaryEmbedding, err := s.router.Embed(ctx, mem.Summary)
	if err != nil {
		return "", types.NewIngestFailed(types.IngestCauseEmbedding, err)
	}

	if err := s.indexer.Index(ctx, mem, chunks, summaryEmbedding); err != nil {
		return "", types.NewIngestFailed(types.IngestCauseStorage, err)
	}

	return mem.ID, nil
}

// normalize builds the single content string and refs list from a raw
// conversation turn (§4.1 step 1).
func normalize(in Input) (string, []string) {
	var b strings.Builder
	if in.User != "" {
		b.WriteString("User: ")
		b.WriteString(in.User)
	}
	if in.Assistant != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Assistant: ")
		b.WriteString(in.Assistant)
	}
	return b.String(), in.Refs
}

// classify routes to R-local to assign a Schema (§4.1 step 2). Classifier
// failure falls back to Process, never fatal to the ingest.
func (s *Service) classify(ctx context.Context, content string) types.Schema {
	out, _, err := s.router.Route(ctx, router.TaskClassification, classifyPrompt(content))
	if err != nil {
		return types.SchemaProcess
	}
	return parseSchema(out)
}

func classifyPrompt(content string) string {
	return fmt.Sprintf(`Classify the following content as exactly one word: Incident, Snippet,
Decision, or Process. Reply with that single word and nothing else.

Content:
%s`, content)
}

func parseSchema(text string) types.Schema {
	word := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.Contains(word, "incident"):
		return types.SchemaIncident
	case strings.Contains(word, "snippet"):
		return types.SchemaSnippet
	case strings.Contains(word, "decision"):
		return types.SchemaDecision
	case strings.Contains(word, "process"), strings.Contains(word, "checklist"), strings.Contains(word, "guide"):
		return types.SchemaProcess
	default:
		return types.SchemaProcess
	}
}

// detectLanguage resolves the override chain (§4.1 step 3): explicit
// metadata hint, then the configured environment override, then a
// heuristic, then the default.
func (s *Service) detectLanguage(in Input, content string) string {
	if in.Language != "" {
		return in.Language
	}
	if s.cfg.LanguageOverride != "" {
		return s.cfg.LanguageOverride
	}
	if lang := heuristicLanguage(content); lang != "" {
		return lang
	}
	if s.cfg.DefaultLanguage != "" {
		return s.cfg.DefaultLanguage
	}
	return "en"
}

// heuristicLanguage is a minimal, dependency-free signal: non-ASCII-heavy
// content is flagged as "und" (undetermined) rather than guessing a
// specific language the core has no model for. Collaborators that need real
// language ID wire a library behind this seam.
func heuristicLanguage(content string) string {
	nonASCII := 0
	for _, r := range content {
		if r > 127 {
			nonASCII++
		}
	}
	if len(content) > 0 && float64(nonASCII)/float64(len([]rune(content))) > 0.3 {
		return "und"
	}
	return ""
}

// summarize runs the router, validates against the structured summary
// contract (§4.3), retries once with a stricter prompt, then falls back to
// a deterministic summary built from the content itself.
func (s *Service) summarize(ctx context.Context, content string) *llm.Summary {
	task := router.TaskShortSummary
	if chunk.EstimateTokens(content) > 512 {
		task = router.TaskLongSummary
	}

	prompt := llm.SummaryPrompt(content)
	for attempt := 0; attempt <= s.cfg.SummaryRetryMax; attempt++ {
		out, _, err := s.router.Route(ctx, task, prompt)
		if err == nil {
			if parsed, perr := llm.ParseSummary(out); perr == nil {
				return parsed
			}
		}
		prompt = stricterSummaryPrompt(content)
	}
	return llm.FallbackSummary(content)
}

func stricterSummaryPrompt(content string) string {
	return llm.SummaryPrompt(content) + "\n\nYour previous response did not match the format exactly. Follow it precisely this time."
}

func formatSummary(sum *llm.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", sum.Topic)
	fmt.Fprintf(&b, "DocType: %s\n", sum.DocType)
	fmt.Fprintf(&b, "Project: %s\n", sum.Project)
	b.WriteString("KeyActions:\n")
	for _, a := range sum.KeyActions {
		fmt.Fprintf(&b, "- %s\n", a)
	}
	return strings.TrimRight(b.String(), "\n")
}

// chunkAndEmbed splits content into chunks (§4.2), preferring the whole turn
// as one chunk when it fits, and embeds each one (§4.1 step 5-6). Embedder
// failure is fatal per §4.1: "embedder failure is fatal to that ingestion".
func (s *Service) chunkAndEmbed(ctx context.Context, in Input, mem *types.Memory) ([]types.Chunk, error) {
	var texts []string
	if in.User != "" || in.Assistant != "" {
		texts = s.chunker.SplitTurn(in.User, in.Assistant)
	} else {
		texts = s.chunker.Split(mem.Content)
	}
	if len(texts) == 0 {
		texts = []string{mem.Content}
	}

	chunks := make([]types.Chunk, 0, len(texts))
	for i, text := range texts {
		c := types.NewChunk(mem, i, text)
		embedding, err := s.router.Embed(ctx, text)
		if err != nil {
			return nil, types.NewIngestFailed(types.IngestCauseEmbedding, err)
		}
		c.Embedding = embedding
		chunks = append(chunks, c)
	}
	return chunks, nil
}
