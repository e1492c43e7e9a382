package types

import "fmt"

// ErrorKind is the closed taxonomy of error shapes the core surfaces at
// service boundaries (§7). Internal causes are wrapped but never exposed to
// the client; only Kind() and Error() cross the MCP boundary.
type ErrorKind string

const (
	KindInvalidRequest     ErrorKind = "InvalidRequest"
	KindNotFound           ErrorKind = "NotFound"
	KindIngestFailed       ErrorKind = "IngestFailed"
	KindSearchFailed       ErrorKind = "SearchFailed"
	KindTimeout            ErrorKind = "Timeout"
	KindRouterFallback     ErrorKind = "RouterFallback"
	KindConsolidationError ErrorKind = "ConsolidationError"
)

// IngestCause enumerates the cause values carried by IngestFailed (§4.1,
// §7).
type IngestCause string

const (
	IngestCauseClassification IngestCause = "classification"
	IngestCauseSummary        IngestCause = "summary"
	IngestCauseEmbedding      IngestCause = "embedding"
	IngestCauseStorage        IngestCause = "storage"
)

// SearchCause enumerates the cause values carried by SearchFailed (§7).
type SearchCause string

const (
	SearchCauseEmbedding SearchCause = "embedding"
	SearchCauseVector    SearchCause = "vector"
	SearchCauseLexical   SearchCause = "lexical"
	SearchCauseRerank    SearchCause = "rerank"
)

// KindedError is a typed error carrying one of the closed ErrorKind values,
// wrapping an underlying cause that is logged but never sent to the client.
type KindedError struct {
	Kind  ErrorKind
	Cause string // IngestCause / SearchCause value, or empty
	Msg   string
	Err   error
}

func (e *KindedError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("%s{cause=%s}: %s", e.Kind, e.Cause, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *KindedError) Unwrap() error { return e.Err }

// NewInvalidRequest builds an InvalidRequest error. Never retried.
func NewInvalidRequest(msg string) *KindedError {
	return &KindedError{Kind: KindInvalidRequest, Msg: msg}
}

// NewNotFound builds a NotFound error for the given id.
func NewNotFound(what, id string) *KindedError {
	return &KindedError{Kind: KindNotFound, Msg: fmt.Sprintf("%s %q not found", what, id)}
}

// NewIngestFailed builds an IngestFailed error with the given cause.
func NewIngestFailed(cause IngestCause, err error) *KindedError {
	return &KindedError{Kind: KindIngestFailed, Cause: string(cause), Msg: err.Error(), Err: err}
}

// NewSearchFailed builds a SearchFailed error with the given cause.
func NewSearchFailed(cause SearchCause, err error) *KindedError {
	return &KindedError{Kind: KindSearchFailed, Cause: string(cause), Msg: err.Error(), Err: err}
}

// NewTimeout builds a Timeout error.
func NewTimeout(msg string) *KindedError {
	return &KindedError{Kind: KindTimeout, Msg: msg}
}

// NewConsolidationError builds a ConsolidationError, leaving last_consolidation
// unchanged so the next startup retries (§7).
func NewConsolidationError(err error) *KindedError {
	return &KindedError{Kind: KindConsolidationError, Msg: err.Error(), Err: err}
}

// AsKindedError extracts the *KindedError from err, if any.
func AsKindedError(err error) (*KindedError, bool) {
	ke, ok := err.(*KindedError)
	return ke, ok
}
