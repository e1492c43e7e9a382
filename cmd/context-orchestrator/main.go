// cmd/context-orchestrator is the entry point for the context-orchestrator MCP
// (Model Context Protocol) server. It wires the SQLite storage backend
// through the ingestion, search, consolidation and session collaborators so
// that every MCP tool call flows through the same pipeline described in
// §4 and §6.
//
// Startup sequence:
//  1. Load configuration from environment variables / config.yaml overlay.
//  2. Open the SQLite database.
//  3. Build the R-local/R-ext router, then the ingest, search, consolidation
//     and session collaborators on top of it.
//  4. Start the consolidation scheduler as a background goroutine.
//  5. Create the MCP server, injecting every collaborator.
//  6. Serve JSON-RPC 2.0 requests from stdin, writing responses to stdout.
//
// CRITICAL: ALL logging MUST go to stderr. Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/myo-ojin/context-orchestrator/internal/api/mcp"
	"github.com/myo-ojin/context-orchestrator/internal/bookmarks"
	"github.com/myo-ojin/context-orchestrator/internal/config"
	"github.com/myo-ojin/context-orchestrator/internal/consolidation"
	"github.com/myo-ojin/context-orchestrator/internal/indexer"
	"github.com/myo-ojin/context-orchestrator/internal/ingest"
	"github.com/myo-ojin/context-orchestrator/internal/llm"
	"github.com/myo-ojin/context-orchestrator/internal/notify"
	"github.com/myo-ojin/context-orchestrator/internal/pool"
	"github.com/myo-ojin/context-orchestrator/internal/projects"
	"github.com/myo-ojin/context-orchestrator/internal/rerank"
	"github.com/myo-ojin/context-orchestrator/internal/router"
	"github.com/myo-ojin/context-orchestrator/internal/search"
	"github.com/myo-ojin/context-orchestrator/internal/session"
	"github.com/myo-ojin/context-orchestrator/internal/storage/sqlite"
)

// streamRerankerMetrics broadcasts a reranker.Metrics snapshot every few
// seconds until ctx is cancelled, so a connected progress-stream client can
// watch cache hit rates and LLM call volume move in near-real time instead
// of polling get_reranker_metrics.
func streamRerankerMetrics(ctx context.Context, hub *notify.ProgressHub, r *rerank.Reranker) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hub.Broadcast(r.GetMetrics())
		}
	}
}

// lastConsolidationPath is where the consolidation scheduler persists the
// timestamp of its last completed pass (§4.9 step 6), so a restart does not
// re-run a pass that already happened within the schedule's period.
func lastConsolidationPath(dataDir string) string {
	return filepath.Join(dataDir, "last_consolidation")
}

func loadLastConsolidation(dataDir string) func() time.Time {
	return func() time.Time {
		raw, err := os.ReadFile(lastConsolidationPath(dataDir))
		if err != nil {
			return time.Time{}
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(raw)))
		if err != nil {
			return time.Time{}
		}
		return t.UTC()
	}
}

func saveLastConsolidation(dataDir string) func(time.Time) {
	return func(t time.Time) {
		path := lastConsolidationPath(dataDir)
		if err := os.WriteFile(path, []byte(t.UTC().Format(time.RFC3339)), 0o600); err != nil {
			log.Printf("failed to persist last_consolidation: %v", err)
		}
	}
}

func main() {
	// Redirect the default logger to stderr so that any incidental log calls
	// (e.g. from imported packages) never pollute the stdout JSON-RPC stream.
	log.SetOutput(os.Stderr)
	log.SetPrefix("context-orchestrator-mcp: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
		log.Fatalf("failed to create data directory %q: %v", cfg.Storage.DataPath, err)
	}

	dbPath := fmt.Sprintf("%s/memory.db", cfg.Storage.DataPath)
	store, err := sqlite.NewMemoryStore(dbPath)
	if err != nil {
		log.Fatalf("failed to open database at %q: %v", dbPath, err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	lexical := sqlite.NewLexicalIndex(store)
	ix := indexer.New(store, lexical)

	local := llm.NewTextGenerator(llm.Config{
		BaseURL: cfg.LLM.OllamaURL,
		Model:   cfg.LLM.OllamaModel,
	})
	embedder := llm.NewEmbeddingGenerator(llm.Config{
		BaseURL:        cfg.LLM.OllamaURL,
		EmbeddingModel: cfg.LLM.OllamaEmbeddingModel,
	})

	var external *llm.CLIClient
	if cfg.LLM.ExternalCommand != "" {
		external = llm.NewCLIClient(llm.CLIConfig{Command: cfg.LLM.ExternalCommand})
		log.Printf("R-ext enabled: %s", cfg.LLM.ExternalCommand)
	}
	r := router.New(local, embedder, external, router.Config{})

	ingestSvc := ingest.New(r, ix, ingest.Config{
		MaxTokens:        512,
		SummaryRetryMax:  1,
		DefaultLanguage:  "en",
		LanguageOverride: cfg.Language.Override,
	})

	var reranker *rerank.Reranker
	var crossEncoder search.CrossEncoderReranker
	if cfg.Reranker.CrossEncoderEnabled {
		reranker = rerank.New(r, r, rerank.Config{
			CacheSize:            cfg.Reranker.CrossEncoderCacheSize,
			CacheTTL:             time.Duration(cfg.Reranker.CrossEncoderCacheTTLSec) * time.Second,
			SemanticHitThreshold: cfg.Reranker.SemanticHitThreshold,
			MaxParallel:          cfg.Reranker.CrossEncoderMaxParallel,
		})
		crossEncoder = reranker
	}
	ruleReranker := search.NewReranker(search.Weights{
		Strength: cfg.Reranker.WeightStrength,
		Recency:  cfg.Reranker.WeightRecency,
		Refs:     cfg.Reranker.WeightRefs,
		Lexical:  cfg.Reranker.WeightLexical,
		Vector:   cfg.Reranker.WeightVector,
		Metadata: cfg.Reranker.WeightMetadata,
	}, 0)
	searchOrch := search.New(store, store, lexical, r, ruleReranker, crossEncoder)

	consolidationSvc := consolidation.New(store, store, lexical, ix, consolidation.Config{
		WorkingRetention:            time.Duration(cfg.Consolidation.WorkingRetentionHours) * time.Hour,
		ClusterSimilarityThreshold:  cfg.Consolidation.ClusterSimilarityThreshold,
		MinClusterSize:              cfg.Consolidation.MinClusterSize,
		AgeThreshold:                time.Duration(cfg.Consolidation.AgeThresholdDays) * 24 * time.Hour,
		ImportanceThreshold:         cfg.Consolidation.ImportanceThreshold,
		HighAccessCountThreshold:    consolidation.DefaultConfig().HighAccessCountThreshold,
		RecentAccessWindow:          consolidation.DefaultConfig().RecentAccessWindow,
		LongTermImportanceThreshold: cfg.Consolidation.LongTermImportanceThreshold,
	})

	if cfg.Consolidation.Enabled {
		scheduler := consolidation.NewScheduler(
			consolidationSvc,
			cfg.Consolidation.Schedule,
			24*time.Hour,
			loadLastConsolidation(cfg.Storage.DataPath),
			saveLastConsolidation(cfg.Storage.DataPath),
		)
		if err := scheduler.Start(ctx); err != nil {
			log.Printf("failed to start consolidation scheduler: %v", err)
		} else {
			defer scheduler.Stop()
		}
	}

	sessions := session.NewManager(cfg.Storage.DataPath)

	poolCfg := pool.DefaultConfig()
	poolCfg.MaxMemoriesPerProject = cfg.Project.PoolSizeCap
	poolCfg.TTL = time.Duration(cfg.Project.PoolTTLSeconds) * time.Second
	projectPool := pool.New(store, r, poolCfg)

	projectsMgr, err := projects.NewManager(filepath.Join(cfg.Storage.DataPath, "projects.json"), store)
	if err != nil {
		log.Fatalf("failed to load projects registry: %v", err)
	}
	bookmarksMgr, err := bookmarks.NewManager(filepath.Join(cfg.Storage.DataPath, "bookmarks.json"))
	if err != nil {
		log.Fatalf("failed to load bookmarks registry: %v", err)
	}

	// Optional live progress stream: a WebSocket endpoint broadcasting
	// reranker metrics snapshots for collaborator tooling (§6.3
	// server.port), independent of the stdio JSON-RPC transport above.
	hub := notify.NewProgressHub()
	go hub.Run()
	defer hub.Stop()
	if reranker != nil {
		go streamRerankerMetrics(ctx, hub, reranker)
	}
	if cfg.Server.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/ws/progress", hub)
		httpSrv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("progress stream server stopped: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	srvOpts := []mcp.ServerOption{
		mcp.WithConfig(cfg),
		mcp.WithIngest(ingestSvc),
		mcp.WithSearch(searchOrch),
		mcp.WithConsolidation(consolidationSvc),
		mcp.WithSessions(sessions),
		mcp.WithProjectPool(projectPool),
		mcp.WithProjects(projectsMgr),
		mcp.WithBookmarks(bookmarksMgr),
	}
	if reranker != nil {
		srvOpts = append(srvOpts, mcp.WithReranker(reranker))
	}
	srv := mcp.NewServer(store, srvOpts...)

	// Wrap the server in a StdioTransport that reads line-delimited JSON-RPC
	// from stdin and writes responses to stdout. All logging inside the
	// transport is directed to stderr.
	transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)

	log.Println("ready — serving JSON-RPC 2.0 on stdin/stdout")

	if err := transport.Serve(ctx); err != nil {
		log.Printf("transport stopped: %v", err)
	}
}
