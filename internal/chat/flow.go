package chat

import (
	"context"
	"sync"

	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"
)

// Input is the request payload for the chat flow.
type Input struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId"`
}

// Output is the response payload from the chat flow.
type Output struct {
	Answer    string `json:"answer"`
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// StreamChunk is the streaming output type for the chat flow. Each chunk
// carries the new text plus the accumulated answer so far.
type StreamChunk struct {
	Content     string `json:"content"`
	Accumulated string `json:"accumulated"`
	Progress    int    `json:"progress"`
}

// FlowName is the registered name of the chat flow in Genkit.
const FlowName = "finquery/chat"

// Flow is the chat service's Genkit streaming flow type. Exported so the
// api package can mount it with genkit.Handler().
type Flow = core.Flow[Input, Output, StreamChunk]

// Flow registration is process-global in Genkit and re-registration panics,
// so the flow lives behind a sync.Once singleton.
var (
	flowOnce sync.Once
	flow     *Flow
)

// NewFlow returns the chat flow singleton, initializing it on first call.
// Subsequent calls return the existing flow and ignore their arguments.
func NewFlow(g *genkit.Genkit, svc *Service) *Flow {
	flowOnce.Do(func() {
		flow = svc.DefineFlow(g)
	})
	return flow
}

// ResetFlowForTesting clears the flow singleton so tests can register
// against a fresh Genkit instance. Not safe for concurrent use.
func ResetFlowForTesting() {
	flowOnce = sync.Once{}
	flow = nil
}

// DefineFlow registers the streaming chat flow. Use NewFlow instead of
// calling this directly; defining the same flow name twice panics.
//
// The flow is a thin adapter over HandleStream: chunk events become stream
// chunks, the complete event becomes the flow output. Transport-level
// events (done, error) are the HTTP layer's concern and do not appear here.
func (s *Service) DefineFlow(g *genkit.Genkit) *Flow {
	return genkit.DefineStreamingFlow(g, FlowName,
		func(ctx context.Context, input Input, streamCb func(context.Context, StreamChunk) error) (Output, error) {
			var final *Result
			emit := func(ev Event) error {
				switch ev.Type {
				case EventChunk:
					if streamCb != nil && ev.Chunk != nil {
						return streamCb(ctx, StreamChunk{
							Content:     ev.Chunk.Content,
							Accumulated: ev.Chunk.Accumulated,
							Progress:    ev.Chunk.Progress,
						})
					}
				case EventComplete:
					final = ev.Result
				}
				return nil
			}

			if err := s.HandleStream(ctx, input.SessionID, input.Query, emit); err != nil {
				return Output{SessionID: input.SessionID}, err
			}

			out := Output{SessionID: input.SessionID}
			if final != nil {
				out.Answer = final.Answer
				out.Type = final.Type
			}
			return out, nil
		},
	)
}
