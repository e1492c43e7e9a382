// Package mcp implements the Model Context Protocol (MCP) server for
// context-orchestrator. It provides a JSON-RPC 2.0 based tool surface for AI
// assistants to ingest, search, and manage memories (§6.1).
package mcp

import (
	"github.com/myo-ojin/context-orchestrator/internal/rerank"
	"github.com/myo-ojin/context-orchestrator/pkg/types"
)

// IngestConversationArgs contains arguments for the ingest_conversation tool
// (§6.1).
type IngestConversationArgs struct {
	User      string                 `json:"user"`
	Assistant string                 `json:"assistant"`
	Source    string                 `json:"source,omitempty"`
	Refs      []string               `json:"refs,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"` // RFC-3339
	ProjectID string                 `json:"project_id,omitempty"`
	Language  string                 `json:"language,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// IngestConversationResult contains the result of ingest_conversation.
type IngestConversationResult struct {
	MemoryID string `json:"memory_id"`
}

// SearchMemoryArgs contains arguments for the search_memory tool (§4.5,
// §6.1).
type SearchMemoryArgs struct {
	Query string `json:"query"`
	// TopK is a pointer so a literal 0 ("return nothing", §8) can be told
	// apart from an omitted field (apply the default limit).
	TopK                    *int                   `json:"top_k,omitempty"`
	Filters                 map[string]interface{} `json:"filters,omitempty"`
	ProjectID               string                 `json:"project_id,omitempty"`
	IncludeSessionSummaries bool                   `json:"include_session_summaries,omitempty"`
}

// SearchResultItem is one hit in a search_memory response, matching §4.5's
// output shape.
type SearchResultItem struct {
	ID               string                 `json:"id"`
	Content          string                 `json:"content"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Score            float64                `json:"score"`
	VectorSimilarity float64                `json:"vector_similarity"`
	LexicalScore     float64                `json:"lexical_score"`
	CombinedScore    float64                `json:"combined_score"`
}

// SearchMemoryResult contains the result of search_memory.
type SearchMemoryResult struct {
	Results []SearchResultItem `json:"results"`
	Warning string             `json:"warning,omitempty"`
}

// GetMemoryArgs contains arguments for the get_memory tool.
type GetMemoryArgs struct {
	MemoryID string `json:"memory_id"`
}

// GetMemoryResult contains the full memory record.
type GetMemoryResult struct {
	Memory *types.Memory `json:"memory"`
}

// ListRecentMemoriesArgs contains arguments for the list_recent_memories
// tool.
type ListRecentMemoriesArgs struct {
	Limit   int                    `json:"limit,omitempty"`
	Filters map[string]interface{} `json:"filters,omitempty"`
}

// ListRecentMemoriesResult contains a timestamp-descending list of
// memories.
type ListRecentMemoriesResult struct {
	Memories []types.Memory `json:"memories"`
	Total    int            `json:"total"`
}

// ConsolidateMemoriesResult reports the statistics of a synchronous §4.9
// consolidation pass.
type ConsolidateMemoriesResult struct {
	MigratedCount           int     `json:"migrated_count"`
	ClustersCreated         int     `json:"clusters_created"`
	RepresentativesSelected int     `json:"representatives_selected"`
	MemoriesCompressed      int     `json:"memories_compressed"`
	MemoriesDeleted         int     `json:"memories_deleted"`
	OrphansRemoved          int     `json:"orphans_removed"`
	DurationSeconds         float64 `json:"duration_seconds"`
}

// StartSessionResult contains the result of start_session.
type StartSessionResult struct {
	SessionID string `json:"session_id"`
}

// EndSessionArgs contains arguments for the end_session tool.
type EndSessionArgs struct {
	SessionID string `json:"session_id"`
}

// EndSessionResult contains the result of end_session.
type EndSessionResult struct {
	SessionID   string `json:"session_id"`
	EventsCount int    `json:"events_count"`
}

// AddCommandArgs contains arguments for the add_command tool.
type AddCommandArgs struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
}

// AddCommandResult contains the result of add_command.
type AddCommandResult struct {
	Recorded bool `json:"recorded"`
}

// CreateProjectArgs contains arguments for the create_project tool (§6.2's
// projects.json, Part C.2's project CRUD supplement).
type CreateProjectArgs struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// CreateProjectResult wraps the created project.
type CreateProjectResult struct {
	Project *types.Project `json:"project"`
}

// ListProjectsResult wraps the known projects, ordered as returned by
// internal/projects.Manager.List.
type ListProjectsResult struct {
	Projects []types.Project `json:"projects"`
}

// CreateBookmarkArgs contains arguments for the create_bookmark tool
// (§6.2's bookmarks.json, Part C.2's bookmark storage supplement).
type CreateBookmarkArgs struct {
	Name        string                 `json:"name"`
	Query       string                 `json:"query"`
	Filters     map[string]interface{} `json:"filters,omitempty"`
	Description string                 `json:"description,omitempty"`
}

// CreateBookmarkResult wraps the created bookmark.
type CreateBookmarkResult struct {
	Bookmark *types.Bookmark `json:"bookmark"`
}

// ListBookmarksArgs contains arguments for the list_bookmarks tool.
type ListBookmarksArgs struct {
	Limit int `json:"limit,omitempty"` // 0 means all
}

// ListBookmarksResult wraps the known bookmarks, ordered by usage count
// descending then last-used descending (internal/bookmarks.Manager.List).
type ListBookmarksResult struct {
	Bookmarks []types.Bookmark `json:"bookmarks"`
}

// GetRerankerMetricsResult mirrors internal/rerank.Metrics (§4.7, §6.1).
type GetRerankerMetricsResult struct {
	rerank.Metrics
	CacheHitRate         float64 `json:"cache_hit_rate"`
	KeywordCacheHitRate  float64 `json:"keyword_cache_hit_rate"`
	SemanticCacheHitRate float64 `json:"semantic_cache_hit_rate"`
	TotalCacheHitRate    float64 `json:"total_cache_hit_rate"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error. Kind carries one of §7's
// closed ErrorKind values for both client errors (-32602) and internal
// failures (-32603), letting a client
// distinguish e.g. IngestFailed from SearchFailed without string-matching
// Message.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Kind    string      `json:"kind,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via the MCP tools/list endpoint.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
