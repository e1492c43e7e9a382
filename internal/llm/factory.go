package llm

// Config configures the local reasoner/embedder backend (R-local, §4.10).
// R-ext (external reasoner) is configured separately via CLIConfig in
// cliexec.go — it has no model/provider selection of its own, only a
// command to invoke.
type Config struct {
	BaseURL        string // default: http://localhost:11434
	Model          string // reasoner.local.model, default: qwen2.5:7b
	EmbeddingModel string // embedder.model, default: nomic-embed-text
}

// NewTextGenerator creates the R-local TextGenerator (Ollama).
func NewTextGenerator(cfg Config) TextGenerator {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "qwen2.5:7b"
	}
	return NewOllamaClient(OllamaConfig{BaseURL: baseURL, Model: model})
}

// NewEmbeddingGenerator creates the Embedder (E), also Ollama-backed.
func NewEmbeddingGenerator(cfg Config) EmbeddingGenerator {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.EmbeddingModel
	if model == "" {
		model = "nomic-embed-text"
	}
	return NewOllamaClient(OllamaConfig{BaseURL: baseURL, Model: model})
}
