// Package agent runs conversational queries through a tool-calling LLM.
//
// The agent hands the model the market data and web tools, lets it plan its
// own calls, and returns the final text along with which model answered and
// which tools it touched. Provider trouble is absorbed in layers: bounded
// retries on transient failures, a fallback model when the primary is down,
// and a circuit breaker that stops hammering a provider that keeps failing.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/finquery/finquery/internal/prompt"
	"github.com/finquery/finquery/internal/session"
)

// emptyResponseMessage is returned when the model produces no text at all.
const emptyResponseMessage = "I apologize, but I couldn't generate a response. Please try rephrasing your question."

// StreamCallback receives each chunk of a streaming response. Returning an
// error aborts the stream.
type StreamCallback func(ctx context.Context, chunk *ai.ModelResponseChunk) error

// Result is one completed agent run.
type Result struct {
	Content      string   // final model text
	ModelUsed    string   // provider-qualified model that produced the answer
	ToolsUsed    []string // unique tool names in request order
	UsedFallback bool     // answer came from the fallback model
	Success      bool
}

// HealthInfo is the agent snapshot served by the AI health endpoint.
// LastError is sticky: it keeps the most recent failure even after recovery,
// so operators can see what went wrong without tailing logs.
type HealthInfo struct {
	PrimaryModel  string `json:"primary_model"`
	FallbackModel string `json:"fallback_model,omitempty"`
	CircuitState  string `json:"circuit_state"`
	Available     bool   `json:"available"`
	LastError     string `json:"last_error,omitempty"`
	LastErrorAt   string `json:"last_error_at,omitempty"`
}

// Config carries everything the agent needs. Genkit, Prompts, PrimaryModel
// and Tools are required; the rest defaults.
type Config struct {
	Genkit  *genkit.Genkit
	Prompts prompt.Store // active system prompt source
	Logger  *slog.Logger // slog.Default() when nil

	PrimaryModel  string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	FallbackModel string // tried when the primary fails; empty disables
	MaxTurns      int    // tool-loop bound (default 5)

	Tools []ai.Tool // pre-registered via RegisterTools

	Retry   RetryConfig   // zero value uses DefaultRetryConfig
	Breaker BreakerConfig // zero value uses DefaultBreakerConfig
	Limiter *rate.Limiter // paces model calls; nil uses 10/s with burst 30
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Prompts == nil {
		return errors.New("prompt store is required")
	}
	if strings.TrimSpace(cfg.PrimaryModel) == "" {
		return errors.New("primary model is required")
	}
	if len(cfg.Tools) == 0 {
		return errors.New("at least one tool is required")
	}
	return nil
}

// Agent is the tool-calling conversational engine. All configuration is
// captured immutably at construction; Agent is safe for concurrent use.
type Agent struct {
	primaryModel  string
	fallbackModel string
	maxTurns      int

	retry   RetryConfig
	breaker *breaker
	limiter *rate.Limiter

	g       *genkit.Genkit
	prompts prompt.Store
	logger  *slog.Logger

	tools     []ai.Tool
	toolRefs  []ai.ToolRef // cached for ai.WithTools
	toolNames string       // cached comma-separated for logging

	errMu     sync.Mutex
	lastErr   string
	lastErrAt time.Time
}

// New creates an Agent from cfg.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 5
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.FailureThreshold == 0 {
		breakerCfg = DefaultBreakerConfig()
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}

	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	names := make([]string, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
		names[i] = t.Name()
	}

	a := &Agent{
		primaryModel:  cfg.PrimaryModel,
		fallbackModel: cfg.FallbackModel,
		maxTurns:      maxTurns,
		retry:         retry,
		breaker:       newBreaker(breakerCfg),
		limiter:       limiter,
		g:             cfg.Genkit,
		prompts:       cfg.Prompts,
		logger:        logger,
		tools:         cfg.Tools,
		toolRefs:      toolRefs,
		toolNames:     strings.Join(names, ", "),
	}

	a.logger.Info("agent initialized",
		"primary_model", a.primaryModel,
		"fallback_model", a.fallbackModel,
		"tools", len(a.tools),
		"max_turns", a.maxTurns,
	)
	return a, nil
}

// Run answers one query. History provides conversational context; callback,
// when non-nil, streams response chunks as they arrive.
//
// The primary model gets the full retry budget; if it still fails, the
// fallback model gets the same budget and the result is marked accordingly.
// When both are spent the error wraps ErrModelUnavailable.
func (a *Agent) Run(ctx context.Context, query string, history []session.Turn, callback StreamCallback) (*Result, error) {
	if err := a.breaker.allow(); err != nil {
		a.logger.Warn("circuit breaker rejecting request",
			"state", a.breaker.currentState().String())
		return nil, fmt.Errorf("agent unavailable: %w", err)
	}

	messages := historyMessages(history)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(query)))

	opts := []ai.GenerateOption{
		ai.WithSystem(a.systemPrompt(ctx)),
		ai.WithMessages(messages...),
		ai.WithTools(a.toolRefs...),
		ai.WithMaxTurns(a.maxTurns),
	}
	if callback != nil {
		opts = append(opts, ai.WithStreaming(ai.ModelStreamCallback(callback)))
	}

	a.logger.Debug("running agent",
		"tools", a.toolNames,
		"max_turns", a.maxTurns,
		"history_turns", len(history),
		"query_length", len(query),
	)

	resp, err := a.generateWithRetry(ctx, a.primaryModel, opts)
	modelUsed, usedFallback := a.primaryModel, false
	if err != nil {
		// Cancellation says nothing about provider health: no breaker hit,
		// no fallback attempt.
		if ctx.Err() != nil {
			return nil, err
		}

		if a.fallbackModel == "" || a.fallbackModel == a.primaryModel {
			a.breaker.failure()
			a.recordError(err)
			return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, a.primaryModel, err)
		}

		a.logger.Warn("primary model failed, trying fallback",
			"primary", a.primaryModel,
			"fallback", a.fallbackModel,
			"error", err,
		)

		resp, err = a.generateWithRetry(ctx, a.fallbackModel, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			a.breaker.failure()
			a.recordError(err)
			return nil, fmt.Errorf("%w: %s and %s both failed: %v",
				ErrModelUnavailable, a.primaryModel, a.fallbackModel, err)
		}
		modelUsed, usedFallback = a.fallbackModel, true
	}

	a.breaker.success()

	content := resp.Text()
	if strings.TrimSpace(content) == "" {
		a.logger.Warn("model returned empty response", "model", modelUsed)
		content = emptyResponseMessage
	}

	return &Result{
		Content:      content,
		ModelUsed:    modelUsed,
		ToolsUsed:    toolsUsed(resp),
		UsedFallback: usedFallback,
		Success:      true,
	}, nil
}

// HealthInfo reports the agent's current availability.
func (a *Agent) HealthInfo() HealthInfo {
	a.errMu.Lock()
	lastErr, lastAt := a.lastErr, a.lastErrAt
	a.errMu.Unlock()

	state := a.breaker.currentState()
	info := HealthInfo{
		PrimaryModel:  a.primaryModel,
		FallbackModel: a.fallbackModel,
		CircuitState:  state.String(),
		Available:     state != CircuitOpen,
		LastError:     lastErr,
	}
	if !lastAt.IsZero() {
		info.LastErrorAt = lastAt.Format(time.RFC3339)
	}
	return info
}

// systemPrompt loads the active prompt record. A missing record or a store
// error falls back to the built-in default, so a prompt-store outage never
// blocks chat.
func (a *Agent) systemPrompt(ctx context.Context) string {
	p, err := a.prompts.Active(ctx)
	if err != nil {
		if !errors.Is(err, prompt.ErrNotFound) {
			a.logger.Warn("loading active system prompt", "error", err)
		}
		return prompt.DefaultContent
	}
	if strings.TrimSpace(p.Content) == "" {
		return prompt.DefaultContent
	}
	return p.Content
}

func (a *Agent) recordError(err error) {
	a.errMu.Lock()
	a.lastErr = err.Error()
	a.lastErrAt = time.Now().UTC()
	a.errMu.Unlock()
}

// historyMessages converts stored turns into model messages. Fresh Message
// values are built for every run, so nothing here is shared across
// concurrent requests.
func historyMessages(history []session.Turn) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(history)+1)
	for _, turn := range history {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		switch turn.Role {
		case session.RoleUser:
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(turn.Content)))
		case session.RoleAssistant:
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(turn.Content)))
		}
	}
	return msgs
}

// toolsUsed recovers the unique tool names invoked during the run, in request
// order, from the conversation the final response was generated against.
func toolsUsed(resp *ai.ModelResponse) []string {
	if resp == nil {
		return nil
	}
	msgs := make([]*ai.Message, 0, 8)
	if resp.Request != nil {
		msgs = append(msgs, resp.Request.Messages...)
	}
	if resp.Message != nil {
		msgs = append(msgs, resp.Message)
	}

	var names []string
	seen := make(map[string]bool)
	for _, msg := range msgs {
		if msg == nil || msg.Role != ai.RoleModel {
			continue
		}
		for _, part := range msg.Content {
			if part == nil || part.ToolRequest == nil {
				continue
			}
			name := part.ToolRequest.Name
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
