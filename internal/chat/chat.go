// Package chat is the orchestrator for conversational market queries: it
// validates the session, enforces the per-session rate limit, dispatches the
// query to the configured router, and records the exchange in the session
// history.
//
// Two routers implement the Router interface. ManualRouter is the
// deterministic pipeline (resolver, cache, market data client, formatter);
// AgentRouter delegates to the tool-calling LLM agent. Which one a Service
// uses is decided by configuration at construction time, never per request.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/finquery/finquery/internal/session"
)

// DefaultMaxQueryLength bounds inbound queries, in runes.
const DefaultMaxQueryLength = 5000

// historySummaryLimit caps the assistant text stored per history turn. The
// full answer still goes to the client; history keeps a summary so follow-up
// context stays small.
const historySummaryLimit = 200

// Response type values, as the web client knows them.
//
// Commodity listings are reported as TypeQuote and agent answers as
// TypePrice: both quirks predate this service and the deployed client
// switches on them, so they stay.
const (
	TypePrice      = "price"
	TypeQuote      = "quote"
	TypeHistorical = "historical"
	TypeIndicator  = "indicator"
	TypeConversion = "conversion"
	TypeWebSearch  = "websearch"
)

// Failure codes for conversational errors carried inside a Result.
const (
	CodeNoSymbol          = "NO_SYMBOL"
	CodeNoIndicator       = "NO_INDICATOR"
	CodeMissingCurrencies = "MISSING_CURRENCIES"
	CodeMCPError          = "MCP_ERROR"
	CodeAgentError        = "AI_AGENT_ERROR"
	CodeSearchDisabled    = "SEARCH_DISABLED"
	CodeSearchError       = "SEARCH_ERROR"
)

// Failure describes a conversational error: the request was handled, but the
// answer reports a problem instead of data. Code is machine-readable;
// Message carries the technical detail. The user-facing text lives in
// Result.Answer.
type Failure struct {
	Code    string
	Message string
}

// Result is the outcome of one routed query.
//
// Answer is always set, even when Failure is. Intent and Symbols carry the
// resolved parse for history bookkeeping (empty in agent mode). Data holds
// the intent-specific structured payload and is nil for failures.
type Result struct {
	Answer       string
	Type         string
	Data         any
	Cached       bool
	Stale        bool
	ModelUsed    string
	ToolsUsed    []string
	UsedFallback bool
	Intent       string
	Symbols      []string
	Failure      *Failure
}

// EmitFunc receives partial answer text as a router produces it. Routers
// that do not stream may ignore it; the Service guarantees the final answer
// is emitted as at least one chunk either way.
type EmitFunc func(ctx context.Context, text string) error

// Router turns one query, in the context of a session's history, into a
// Result. Conversational problems (no symbol, upstream down, model down)
// are returned as Results carrying a Failure; a non-nil error means the
// request itself died (cancellation, transport failure to the caller).
type Router interface {
	Route(ctx context.Context, query string, history []session.Turn, emit EmitFunc) (*Result, error)
}

// Streaming event types, in emission order. The Service emits processing,
// chunk and complete; the transport layer terminates the stream with done
// or, when Handle fails, error.
const (
	EventProcessing = "processing"
	EventChunk      = "chunk"
	EventComplete   = "complete"
	EventDone       = "done"
	EventError      = "error"
)

// Chunk is one increment of streamed answer text. Accumulated is the full
// text so far; Progress is the 1-based chunk counter (streams have no known
// total length).
type Chunk struct {
	Content     string `json:"content"`
	Accumulated string `json:"accumulated"`
	Progress    int    `json:"progress"`
}

// Event is one entry in a streamed response. Exactly one of Chunk and
// Result is set, matching Type; processing events carry neither.
type Event struct {
	Type   string
	Chunk  *Chunk
	Result *Result
}

// Config assembles a Service.
type Config struct {
	// Sessions validates sessions, enforces rate limits and records
	// history. Required.
	Sessions *session.Store

	// Router answers queries. Required; construct a ManualRouter or an
	// AgentRouter depending on whether tool-calling mode is enabled.
	Router Router

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// MaxQueryLength bounds queries in runes. Defaults to
	// DefaultMaxQueryLength.
	MaxQueryLength int
}

func (c *Config) validate() error {
	if c.Sessions == nil {
		return fmt.Errorf("session store is required")
	}
	if c.Router == nil {
		return fmt.Errorf("router is required")
	}
	return nil
}

// Service orchestrates chat requests. Safe for concurrent use.
type Service struct {
	sessions    *session.Store
	router      Router
	logger      *slog.Logger
	maxQueryLen int
}

// New creates a Service from cfg.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid chat config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = DefaultMaxQueryLength
	}
	return &Service{
		sessions:    cfg.Sessions,
		router:      cfg.Router,
		logger:      cfg.Logger,
		maxQueryLen: cfg.MaxQueryLength,
	}, nil
}

// Handle answers one query synchronously.
//
// Order matters: the session is validated first, then the query bounds
// (neither consumes a rate-limit slot), then the rate limit, and only then
// does the router run. Answered results are appended to the session history;
// results carrying a Failure are not, matching how failed exchanges never
// fed follow-up context before.
func (s *Service) Handle(ctx context.Context, sessionID, query string) (*Result, error) {
	return s.handle(ctx, sessionID, query, nil)
}

// HandleStream answers one query, emitting Events as the answer forms: a
// processing event immediately, a chunk per piece of streamed text (routers
// that do not stream produce a single final chunk), and a complete event
// carrying the full Result. Validation and admission errors are returned,
// not emitted; the transport layer owns their wire form.
func (s *Service) HandleStream(ctx context.Context, sessionID, query string, emit func(Event) error) error {
	if err := emit(Event{Type: EventProcessing}); err != nil {
		return fmt.Errorf("emit processing: %w", err)
	}

	var (
		chunks      int
		accumulated strings.Builder
	)
	chunkEmit := func(ctx context.Context, text string) error {
		if text == "" {
			return nil
		}
		accumulated.WriteString(text)
		chunks++
		return emit(Event{Type: EventChunk, Chunk: &Chunk{
			Content:     text,
			Accumulated: accumulated.String(),
			Progress:    chunks,
		}})
	}

	res, err := s.handle(ctx, sessionID, query, chunkEmit)
	if err != nil {
		return err
	}

	// A router that never streamed still owes the client one chunk with the
	// final text. Failures skip chunks; their answer rides in the complete
	// event alone.
	if chunks == 0 && res.Failure == nil && res.Answer != "" {
		if err := chunkEmit(ctx, res.Answer); err != nil {
			return fmt.Errorf("emit final chunk: %w", err)
		}
	}

	if err := emit(Event{Type: EventComplete, Result: res}); err != nil {
		return fmt.Errorf("emit complete: %w", err)
	}
	return nil
}

func (s *Service) handle(ctx context.Context, sessionID, query string, emit EmitFunc) (*Result, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if utf8.RuneCountInString(query) > s.maxQueryLen {
		return nil, ErrQueryTooLong
	}

	status, err := s.sessions.Allow(sessionID)
	if err != nil {
		return nil, err
	}
	if !status.Allowed {
		return nil, &RateLimitError{
			RetryAfter: status.ResetIn,
			Count:      status.Count,
			Limit:      status.Limit,
		}
	}

	res, err := s.router.Route(ctx, query, sess.History, emit)
	if err != nil {
		return nil, fmt.Errorf("route query: %w", err)
	}

	if res.Failure == nil {
		s.appendTurns(sessionID, query, res)
	} else {
		s.logger.Info("query failed conversationally",
			"session_id", sessionID, "code", res.Failure.Code)
	}
	return res, nil
}

// appendTurns records the exchange. The answer already reached the caller,
// so history problems are logged, never surfaced.
func (s *Service) appendTurns(sessionID, query string, res *Result) {
	user := session.Turn{
		Role:    session.RoleUser,
		Content: query,
		Intent:  res.Intent,
		Symbols: res.Symbols,
	}
	assistant := session.Turn{
		Role:    session.RoleAssistant,
		Content: truncate(res.Answer, historySummaryLimit),
		Model:   res.ModelUsed,
	}
	if err := s.sessions.AppendHistory(sessionID, user, assistant); err != nil {
		s.logger.Warn("failed to append session history",
			"session_id", sessionID, "error", err)
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
