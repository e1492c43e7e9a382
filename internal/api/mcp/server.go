package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/myo-ojin/context-orchestrator/internal/bookmarks"
	"github.com/myo-ojin/context-orchestrator/internal/config"
	"github.com/myo-ojin/context-orchestrator/internal/consolidation"
	"github.com/myo-ojin/context-orchestrator/internal/ingest"
	"github.com/myo-ojin/context-orchestrator/internal/pool"
	"github.com/myo-ojin/context-orchestrator/internal/projects"
	"github.com/myo-ojin/context-orchestrator/internal/rerank"
	"github.com/myo-ojin/context-orchestrator/internal/search"
	"github.com/myo-ojin/context-orchestrator/internal/session"
	"github.com/myo-ojin/context-orchestrator/internal/storage"
	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

// Server implements the Model Context Protocol (MCP) for context-orchestrator.
// It exposes §6.1's JSON-RPC 2.0 tool surface over the domain packages that
// implement the core (§4): ingestion, hybrid search, consolidation, and
// session lifecycle.
type Server struct {
	memoryStore   storage.MemoryStore
	config        *config.Config
	ingestSvc     *ingest.Service
	searchOrch    *search.Orchestrator
	consolidation *consolidation.Service
	sessions      *session.Manager
	reranker      *rerank.Reranker // nil disables get_reranker_metrics (§4.7)
	projectPool   *pool.Manager    // nil disables the §4.8 degraded-search pass
	projects      *projects.Manager
	bookmarks     *bookmarks.Manager

	sessionID string // unique ID generated once per MCP server lifetime
}

// ServerOption is a functional option for configuring a Server. Following
// the teacher's pattern, NewServer(store) with no options remains valid;
// callers opt in to each domain collaborator as it becomes available.
type ServerOption func(*Server)

// WithConfig injects a *config.Config into the Server.
func WithConfig(cfg *config.Config) ServerOption {
	return func(s *Server) { s.config = cfg }
}

// WithIngest injects the ingestion pipeline (§4.1) backing
// ingest_conversation.
func WithIngest(svc *ingest.Service) ServerOption {
	return func(s *Server) { s.ingestSvc = svc }
}

// WithSearch injects the hybrid search orchestrator (§4.5) backing
// search_memory.
func WithSearch(o *search.Orchestrator) ServerOption {
	return func(s *Server) { s.searchOrch = o }
}

// WithConsolidation injects the consolidation service (§4.9) backing the
// synchronous consolidate_memories call.
func WithConsolidation(svc *consolidation.Service) ServerOption {
	return func(s *Server) { s.consolidation = svc }
}

// WithSessions injects the session lifecycle manager backing
// start_session/end_session/add_command.
func WithSessions(m *session.Manager) ServerOption {
	return func(s *Server) { s.sessions = m }
}

// WithReranker injects the cross-encoder reranker (§4.7) backing
// get_reranker_metrics. When omitted, that call returns zeroed metrics.
func WithReranker(r *rerank.Reranker) ServerOption {
	return func(s *Server) { s.reranker = r }
}

// WithProjectPool injects the project memory pool manager (§4.8), enabling
// search_memory to run its two-pass degraded workflow whenever a request
// names a project_id. When omitted, search_memory always runs a single
// plain pass over the full corpus.
func WithProjectPool(m *pool.Manager) ServerOption {
	return func(s *Server) { s.projectPool = m }
}

// WithProjects injects the projects.json CRUD collaborator (§6.2, Part C.2)
// backing create_project/list_projects.
func WithProjects(m *projects.Manager) ServerOption {
	return func(s *Server) { s.projects = m }
}

// WithBookmarks injects the bookmarks.json collaborator (§6.2, Part C.2)
// backing create_bookmark/list_bookmarks.
func WithBookmarks(m *bookmarks.Manager) ServerOption {
	return func(s *Server) { s.bookmarks = m }
}

// NewServer creates a new MCP server instance over store, the canonical
// memory record store. Domain collaborators are wired in via ServerOption.
func NewServer(store storage.MemoryStore, opts ...ServerOption) *Server {
	s := &Server{
		memoryStore: store,
		sessionID:   uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Printf("context-orchestrator-mcp: session ID: %s", s.sessionID)
	return s
}

// Config returns the configuration that was injected via WithConfig, or nil
// if no config option was provided.
func (s *Server) Config() *config.Config {
	return s.config
}

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
// This is the main entry point for MCP protocol handling.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", nil)
	}
	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\"", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized":
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	case "ingest_conversation":
		result, err = s.handleIngestConversation(ctx, req.Params)
	case "search_memory":
		result, err = s.handleSearchMemory(ctx, req.Params)
	case "get_memory":
		result, err = s.handleGetMemory(ctx, req.Params)
	case "list_recent_memories":
		result, err = s.handleListRecentMemories(ctx, req.Params)
	case "consolidate_memories":
		result, err = s.handleConsolidateMemories(ctx, req.Params)
	case "start_session":
		result, err = s.handleStartSession(ctx, req.Params)
	case "end_session":
		result, err = s.handleEndSession(ctx, req.Params)
	case "add_command":
		result, err = s.handleAddCommand(ctx, req.Params)
	case "get_reranker_metrics":
		result, err = s.handleGetRerankerMetrics(ctx, req.Params)
	case "create_project":
		result, err = s.handleCreateProject(ctx, req.Params)
	case "list_projects":
		result, err = s.handleListProjects(ctx, req.Params)
	case "create_bookmark":
		result, err = s.handleCreateBookmark(ctx, req.Params)
	case "list_bookmarks":
		result, err = s.handleListBookmarks(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		return s.errorFromErr(req.ID, err)
	}
	return s.successResponse(req.ID, result)
}

// errorFromErr maps an error to a JSON-RPC error response, carrying §7's
// Kind through the `kind` field when err is a *types.KindedError.
// InvalidRequest/NotFound map to the -32602 invalid-params client error;
// everything else is an internal server error (-32603).
func (s *Server) errorFromErr(id interface{}, err error) ([]byte, error) {
	if ke, ok := types.AsKindedError(err); ok {
		code := ErrCodeInternalError
		switch ke.Kind {
		case types.KindInvalidRequest:
			code = ErrCodeInvalidParams
		case types.KindNotFound:
			code = ErrCodeInvalidParams
		}
		resp := JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error: &JSONRPCError{
				Code:    code,
				Message: ke.Error(),
				Kind:    string(ke.Kind),
			},
		}
		return json.Marshal(resp)
	}
	return s.errorResponse(id, ErrCodeInternalError, err.Error(), nil)
}

// ---------------------------------------------------------------------------
// ingest_conversation
// ---------------------------------------------------------------------------

func (s *Server) handleIngestConversation(ctx context.Context, params interface{}) (interface{}, error) {
	var args IngestConversationArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, types.NewInvalidRequest(err.Error())
	}
	if s.ingestSvc == nil {
		return nil, types.NewInvalidRequest("ingest_conversation: server has no ingestion pipeline configured")
	}

	in := ingest.Input{
		User:      args.User,
		Assistant: args.Assistant,
		Source:    args.Source,
		Refs:      args.Refs,
		ProjectID: args.ProjectID,
		Language:  args.Language,
		Metadata:  args.Metadata,
	}
	if args.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, args.Timestamp)
		if err != nil {
			return nil, types.NewInvalidRequest(fmt.Sprintf("ingest_conversation: invalid timestamp: %v", err))
		}
		in.Timestamp = ts
	}

	memID, err := s.ingestSvc.Ingest(ctx, in)
	if err != nil {
		return nil, err
	}
	return IngestConversationResult{MemoryID: memID}, nil
}

// ---------------------------------------------------------------------------
// search_memory
// ---------------------------------------------------------------------------

func (s *Server) handleSearchMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args SearchMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, types.NewInvalidRequest(err.Error())
	}
	if args.Query == "" {
		return nil, types.NewInvalidRequest("search_memory: query is required")
	}
	if s.searchOrch == nil {
		return nil, types.NewInvalidRequest("search_memory: server has no search orchestrator configured")
	}

	topK := search.TopKUnset
	if args.TopK != nil {
		topK = *args.TopK
	}

	opts := search.Options{
		Query:                   args.Query,
		TopK:                    topK,
		ProjectID:               args.ProjectID,
		Filters:                 args.Filters,
		IncludeSessionSummaries: args.IncludeSessionSummaries,
	}

	var results []search.Result
	var warning string
	var err error
	if s.projectPool != nil && args.ProjectID != "" {
		var degraded pool.DegradedResult
		degraded, err = s.projectPool.DegradedSearch(ctx, s.searchOrch, opts)
		results, warning = degraded.Results, degraded.Warning
	} else {
		results, warning, err = s.searchOrch.Search(ctx, opts)
	}
	if err != nil {
		return nil, types.NewSearchFailed(types.SearchCauseVector, err)
	}

	items := make([]SearchResultItem, 0, len(results))
	for _, r := range results {
		items = append(items, SearchResultItem{
			ID:               r.ID,
			Content:          r.Content,
			Metadata:         r.Metadata,
			Score:            r.Score,
			VectorSimilarity: r.VectorSimilarity,
			LexicalScore:     r.LexicalScore,
			CombinedScore:    r.CombinedScore,
		})
	}
	return SearchMemoryResult{Results: items, Warning: warning}, nil
}

// ---------------------------------------------------------------------------
// get_memory
// ---------------------------------------------------------------------------

func (s *Server) handleGetMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args GetMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, types.NewInvalidRequest(err.Error())
	}
	if args.MemoryID == "" {
		return nil, types.NewInvalidRequest("get_memory: memory_id is required")
	}

	mem, err := s.memoryStore.Get(ctx, args.MemoryID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, types.NewNotFound("memory", args.MemoryID)
		}
		return nil, err
	}
	_ = s.memoryStore.Touch(ctx, args.MemoryID, time.Now().UTC())
	return GetMemoryResult{Memory: mem}, nil
}

// ---------------------------------------------------------------------------
// list_recent_memories
// ---------------------------------------------------------------------------

func (s *Server) handleListRecentMemories(ctx context.Context, params interface{}) (interface{}, error) {
	var args ListRecentMemoriesArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, types.NewInvalidRequest(err.Error())
	}

	opts := storage.ListOptions{Limit: args.Limit, SortBy: "timestamp", SortOrder: "desc"}
	if schema, ok := args.Filters["schema"].(string); ok {
		opts.Schema = schema
	}
	if tier, ok := args.Filters["tier"].(string); ok {
		opts.Tier = tier
	}
	if projectID, ok := args.Filters["project_id"].(string); ok {
		opts.ProjectID = projectID
	}

	page, err := s.memoryStore.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	return ListRecentMemoriesResult{Memories: page.Items, Total: page.Total}, nil
}

// ---------------------------------------------------------------------------
// consolidate_memories
// ---------------------------------------------------------------------------

func (s *Server) handleConsolidateMemories(ctx context.Context, params interface{}) (interface{}, error) {
	if s.consolidation == nil {
		return nil, types.NewInvalidRequest("consolidate_memories: server has no consolidation service configured")
	}
	stats, err := s.consolidation.Consolidate(ctx)
	if err != nil {
		return nil, err
	}
	return ConsolidateMemoriesResult{
		MigratedCount:           stats.MigratedCount,
		ClustersCreated:         stats.ClustersCreated,
		RepresentativesSelected: stats.RepresentativesSelected,
		MemoriesCompressed:      stats.MemoriesCompressed,
		MemoriesDeleted:         stats.MemoriesDeleted,
		OrphansRemoved:          stats.OrphansRemoved,
		DurationSeconds:         stats.DurationSeconds,
	}, nil
}

// ---------------------------------------------------------------------------
// session lifecycle: start_session / end_session / add_command
// ---------------------------------------------------------------------------

func (s *Server) handleStartSession(ctx context.Context, params interface{}) (interface{}, error) {
	if s.sessions == nil {
		return nil, types.NewInvalidRequest("start_session: server has no session manager configured")
	}
	sess, err := s.sessions.Start(time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return StartSessionResult{SessionID: sess.SessionID}, nil
}

func (s *Server) handleEndSession(ctx context.Context, params interface{}) (interface{}, error) {
	var args EndSessionArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, types.NewInvalidRequest(err.Error())
	}
	if s.sessions == nil {
		return nil, types.NewInvalidRequest("end_session: server has no session manager configured")
	}
	if args.SessionID == "" {
		return nil, types.NewInvalidRequest("end_session: session_id is required")
	}

	sess, err := s.sessions.End(args.SessionID, time.Now().UTC())
	if err != nil {
		return nil, types.NewNotFound("session", args.SessionID)
	}
	s.sessions.Forget(args.SessionID)
	return EndSessionResult{SessionID: sess.SessionID, EventsCount: len(sess.Events)}, nil
}

func (s *Server) handleAddCommand(ctx context.Context, params interface{}) (interface{}, error) {
	var args AddCommandArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, types.NewInvalidRequest(err.Error())
	}
	if s.sessions == nil {
		return nil, types.NewInvalidRequest("add_command: server has no session manager configured")
	}
	if args.SessionID == "" || args.Command == "" {
		return nil, types.NewInvalidRequest("add_command: session_id and command are required")
	}

	if err := s.sessions.AddCommand(args.SessionID, args.Command, time.Now().UTC()); err != nil {
		return nil, types.NewNotFound("session", args.SessionID)
	}
	return AddCommandResult{Recorded: true}, nil
}

// ---------------------------------------------------------------------------
// get_reranker_metrics
// ---------------------------------------------------------------------------

func (s *Server) handleGetRerankerMetrics(ctx context.Context, params interface{}) (interface{}, error) {
	var m rerank.Metrics
	if s.reranker != nil {
		m = s.reranker.GetMetrics()
	}
	return GetRerankerMetricsResult{
		Metrics:              m,
		CacheHitRate:         m.CacheHitRate(),
		KeywordCacheHitRate:  m.KeywordCacheHitRate(),
		SemanticCacheHitRate: m.SemanticCacheHitRate(),
		TotalCacheHitRate:    m.TotalCacheHitRate(),
	}, nil
}

// ---------------------------------------------------------------------------
// create_project / list_projects
// ---------------------------------------------------------------------------

func (s *Server) handleCreateProject(ctx context.Context, params interface{}) (interface{}, error) {
	var args CreateProjectArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, types.NewInvalidRequest(err.Error())
	}
	if s.projects == nil {
		return nil, types.NewInvalidRequest("create_project: server has no projects manager configured")
	}
	if args.Name == "" {
		return nil, types.NewInvalidRequest("create_project: name is required")
	}

	p, err := s.projects.Create(ctx, types.Project{
		ID:          "proj-" + uuid.New().String(),
		Name:        args.Name,
		Description: args.Description,
		Tags:        args.Tags,
		Metadata:    args.Metadata,
	}, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return CreateProjectResult{Project: p}, nil
}

func (s *Server) handleListProjects(ctx context.Context, params interface{}) (interface{}, error) {
	if s.projects == nil {
		return ListProjectsResult{Projects: []types.Project{}}, nil
	}
	list, err := s.projects.List(ctx)
	if err != nil {
		return nil, err
	}
	return ListProjectsResult{Projects: list}, nil
}

// ---------------------------------------------------------------------------
// create_bookmark / list_bookmarks
// ---------------------------------------------------------------------------

func (s *Server) handleCreateBookmark(ctx context.Context, params interface{}) (interface{}, error) {
	var args CreateBookmarkArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, types.NewInvalidRequest(err.Error())
	}
	if s.bookmarks == nil {
		return nil, types.NewInvalidRequest("create_bookmark: server has no bookmarks manager configured")
	}

	b, err := s.bookmarks.Create(ctx, args.Name, args.Query, args.Filters, args.Description, time.Now().UTC())
	if err != nil {
		return nil, types.NewInvalidRequest(err.Error())
	}
	return CreateBookmarkResult{Bookmark: b}, nil
}

func (s *Server) handleListBookmarks(ctx context.Context, params interface{}) (interface{}, error) {
	var args ListBookmarksArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, types.NewInvalidRequest(err.Error())
	}
	if s.bookmarks == nil {
		return ListBookmarksResult{Bookmarks: []types.Bookmark{}}, nil
	}
	if args.Limit > 0 {
		return ListBookmarksResult{Bookmarks: s.bookmarks.MostUsed(args.Limit)}, nil
	}
	return ListBookmarksResult{Bookmarks: s.bookmarks.List()}, nil
}

// ---------------------------------------------------------------------------
// Standard MCP protocol methods
// ---------------------------------------------------------------------------

func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    "context-orchestrator",
			Version: "1.0.0",
		},
	}, nil
}

// handleToolsList returns the list of all tools this server exposes.
func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: s.buildToolsList()}, nil
}

// handleToolsCall dispatches a tools/call request to the appropriate handler
// and wraps the result in the MCP content envelope.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	argsJSON, err := json.Marshal(p.Arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	var rawParams interface{}
	if err := json.Unmarshal(argsJSON, &rawParams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	var result interface{}
	var handlerErr error

	switch p.Name {
	case "ingest_conversation":
		result, handlerErr = s.handleIngestConversation(ctx, rawParams)
	case "search_memory":
		result, handlerErr = s.handleSearchMemory(ctx, rawParams)
	case "get_memory":
		result, handlerErr = s.handleGetMemory(ctx, rawParams)
	case "list_recent_memories":
		result, handlerErr = s.handleListRecentMemories(ctx, rawParams)
	case "consolidate_memories":
		result, handlerErr = s.handleConsolidateMemories(ctx, rawParams)
	case "start_session":
		result, handlerErr = s.handleStartSession(ctx, rawParams)
	case "end_session":
		result, handlerErr = s.handleEndSession(ctx, rawParams)
	case "add_command":
		result, handlerErr = s.handleAddCommand(ctx, rawParams)
	case "get_reranker_metrics":
		result, handlerErr = s.handleGetRerankerMetrics(ctx, rawParams)
	case "create_project":
		result, handlerErr = s.handleCreateProject(ctx, rawParams)
	case "list_projects":
		result, handlerErr = s.handleListProjects(ctx, rawParams)
	case "create_bookmark":
		result, handlerErr = s.handleCreateBookmark(ctx, rawParams)
	case "list_bookmarks":
		result, handlerErr = s.handleListBookmarks(ctx, rawParams)
	default:
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", p.Name)}},
			IsError: true,
		}, nil
	}

	if handlerErr != nil {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: handlerErr.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

// buildToolsList returns the canonical list of MCP tool definitions (§6.1).
func (s *Server) buildToolsList() []MCPTool {
	return []MCPTool{
		{
			Name:        "ingest_conversation",
			Description: "Ingest one conversation turn (user + assistant text). Runs classification, summarisation, chunking, and embedding, then stores the result as a new memory.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"user", "assistant"},
				"properties": map[string]interface{}{
					"user":       map[string]interface{}{"type": "string", "description": "The user's message"},
					"assistant":  map[string]interface{}{"type": "string", "description": "The assistant's reply"},
					"source":     map[string]interface{}{"type": "string", "description": "Where this conversation came from: cli, obsidian, or editor"},
					"refs":       map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "URLs, file paths, or commit ids referenced"},
					"timestamp":  map[string]interface{}{"type": "string", "description": "RFC-3339 timestamp; defaults to now"},
					"project_id": map[string]interface{}{"type": "string", "description": "Project to scope this memory to"},
					"language":   map[string]interface{}{"type": "string", "description": "Explicit language hint, overrides auto-detection"},
					"metadata":   map[string]interface{}{"type": "object", "description": "Arbitrary key-value metadata"},
				},
			},
		},
		{
			Name:        "search_memory",
			Description: "Hybrid vector + lexical search across memories, rule-based reranked (and optionally cross-encoder reranked).",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"query"},
				"properties": map[string]interface{}{
					"query":                      map[string]interface{}{"type": "string", "description": "Natural-language search query"},
					"top_k":                      map[string]interface{}{"type": "integer", "description": "Max results to return (default 10)"},
					"filters":                    map[string]interface{}{"type": "object", "description": "Equality filter bag, supports \"$and\": [...]"},
					"project_id":                 map[string]interface{}{"type": "string", "description": "Scope search to this project"},
					"include_session_summaries":  map[string]interface{}{"type": "boolean", "description": "Include session-summary memories in results"},
				},
			},
		},
		{
			Name:        "get_memory",
			Description: "Retrieve one memory (and its chunks) by id.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"memory_id"},
				"properties": map[string]interface{}{
					"memory_id": map[string]interface{}{"type": "string", "description": "Memory ID"},
				},
			},
		},
		{
			Name:        "list_recent_memories",
			Description: "List memories ordered by timestamp, most recent first.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit":   map[string]interface{}{"type": "integer", "description": "Max results (default 10, max 100)"},
					"filters": map[string]interface{}{"type": "object", "description": "Optional schema/tier/project_id equality filters"},
				},
			},
		},
		{
			Name:        "consolidate_memories",
			Description: "Run a consolidation pass synchronously: migrate stale working memory, cluster and compress near-duplicates, forget old low-importance memories, sweep orphans. Returns statistics.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "start_session",
			Description: "Begin a new session and return its id.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "end_session",
			Description: "End a session, finalizing its transcript log.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"session_id"},
				"properties": map[string]interface{}{
					"session_id": map[string]interface{}{"type": "string", "description": "Session ID from start_session"},
				},
			},
		},
		{
			Name:        "add_command",
			Description: "Record a command event against an active session's transcript.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"session_id", "command"},
				"properties": map[string]interface{}{
					"session_id": map[string]interface{}{"type": "string", "description": "Session ID from start_session"},
					"command":    map[string]interface{}{"type": "string", "description": "Command text to record"},
				},
			},
		},
		{
			Name:        "get_reranker_metrics",
			Description: "Return the cross-encoder reranker's cache hit rates and latency snapshot.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "create_project",
			Description: "Create a project entry in projects.json, scoping future memories via project_id.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"name"},
				"properties": map[string]interface{}{
					"name":        map[string]interface{}{"type": "string", "description": "Project name"},
					"description": map[string]interface{}{"type": "string", "description": "Optional description"},
					"tags":        map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Optional tags"},
					"metadata":    map[string]interface{}{"type": "object", "description": "Arbitrary key-value metadata"},
				},
			},
		},
		{
			Name:        "list_projects",
			Description: "List known projects from projects.json, with memory counts hydrated from the store.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "create_bookmark",
			Description: "Save a search_memory call (query + filters) by name so it can be replayed later.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"name", "query"},
				"properties": map[string]interface{}{
					"name":        map[string]interface{}{"type": "string", "description": "Bookmark name, must be unique"},
					"query":       map[string]interface{}{"type": "string", "description": "The search_memory query to save"},
					"filters":     map[string]interface{}{"type": "object", "description": "Optional filters to save alongside the query"},
					"description": map[string]interface{}{"type": "string", "description": "Optional description"},
				},
			},
		},
		{
			Name:        "list_bookmarks",
			Description: "List saved bookmarks, ordered by usage count descending then last-used descending.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit": map[string]interface{}{"type": "integer", "description": "Max results; 0 or omitted returns all"},
				},
			},
		},
	}
}

// unmarshalParams unmarshals JSON-RPC parameters into a typed struct.
func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return nil
}

// successResponse creates a JSON-RPC success response.
func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	return json.Marshal(resp)
}

// errorResponse creates a JSON-RPC error response.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	return json.Marshal(resp)
}
