package chat

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/ai"

	"github.com/finquery/finquery/internal/agent"
	"github.com/finquery/finquery/internal/session"
)

// agentRunner is the slice of the agent the router consumes. *agent.Agent
// satisfies it.
type agentRunner interface {
	Run(ctx context.Context, query string, history []session.Turn, cb agent.StreamCallback) (*agent.Result, error)
}

// AgentRouter hands the whole query to the tool-calling agent. The agent
// decides which market operations to invoke; the router only translates
// its result onto the wire shape.
type AgentRouter struct {
	agent  agentRunner
	logger *slog.Logger
}

// NewAgentRouter creates an AgentRouter backed by a.
func NewAgentRouter(a agentRunner, logger *slog.Logger) *AgentRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentRouter{agent: a, logger: logger}
}

// Route implements Router. Agent failures become an apologetic answer with
// an AI_AGENT_ERROR failure rather than an HTTP error; cancellation
// propagates.
func (r *AgentRouter) Route(ctx context.Context, text string, history []session.Turn, emit EmitFunc) (*Result, error) {
	var cb agent.StreamCallback
	if emit != nil {
		cb = func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return emit(ctx, chunk.Text())
		}
	}

	out, err := r.agent.Run(ctx, text, history, cb)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		r.logger.Error("agent run failed", "error", err)
		return &Result{
			Answer:  "I encountered an error processing your request. Please try again.",
			Type:    TypePrice,
			Failure: &Failure{Code: CodeAgentError, Message: err.Error()},
		}, nil
	}

	return &Result{
		Answer:       out.Content,
		Type:         TypePrice,
		ModelUsed:    out.ModelUsed,
		ToolsUsed:    out.ToolsUsed,
		UsedFallback: out.UsedFallback,
	}, nil
}
