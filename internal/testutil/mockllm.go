package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockLLM provides deterministic model responses for tests. It matches the
// last user message against registered patterns and returns the paired
// response; the fallback text is returned when nothing matches.
//
// Tool calling: a rule registered with AddToolResponse emits its tool
// requests only while the conversation has no tool results yet. Once the
// generate loop feeds tool outputs back, the rule answers with its text
// response, closing the loop the way a real model would.
//
// Failure injection: FailNext and FailAlways make generate calls return an
// error, which exercises the retry, fallback-model, and circuit-breaker
// paths.
//
// Thread-safe for concurrent use.
type MockLLM struct {
	mu       sync.Mutex
	rules    []mockRule
	fallback string
	failures int // remaining injected failures; -1 means every call fails
	failMsg  string
	calls    []MockCall
}

type mockRule struct {
	pattern  string            // substring match in user message, lowercase
	response string            // text response
	tools    []*ai.ToolRequest // tool calls to request before answering
}

// MockCall records a single call to the mock model.
type MockCall struct {
	UserMessage string   // last user message text
	SystemText  string   // system message text, when present
	Texts       []string // every message's text, in request order
	Response    string   // response text returned
	Failed      bool     // call returned an injected error
}

// NewMockLLM creates a mock model with the given fallback response.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{fallback: fallback}
}

// AddResponse registers a pattern-response pair. When a user message
// contains the pattern (case-insensitive), the response is returned.
// Patterns are checked in registration order; first match wins.
func (m *MockLLM) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{
		pattern:  strings.ToLower(pattern),
		response: response,
	})
}

// AddToolResponse registers a pattern that first requests the given tools
// and then, once tool results are in the conversation, answers with
// textResponse.
func (m *MockLLM) AddToolResponse(pattern string, tools []*ai.ToolRequest, textResponse string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{
		pattern:  strings.ToLower(pattern),
		response: textResponse,
		tools:    tools,
	})
}

// FailNext makes the next n generate calls return an error carrying msg.
// Use a retryable message ("429 rate limited", "503 unavailable") to drive
// the retry loop, or anything else for a hard failure.
func (m *MockLLM) FailNext(n int, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
	m.failMsg = msg
}

// FailAlways makes every generate call return an error carrying msg.
func (m *MockLLM) FailAlways(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = -1
	m.failMsg = msg
}

// Calls returns a copy of all recorded calls, including failed ones.
func (m *MockLLM) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Reset clears recorded calls and injected failures (keeps registered rules).
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.failures = 0
	m.failMsg = ""
}

// RegisterModel registers the mock under "mock/test-model".
func (m *MockLLM) RegisterModel(g *genkit.Genkit) ai.Model {
	return m.RegisterModelAs(g, "mock/test-model")
}

// RegisterModelAs registers the mock under an explicit name. Register two
// mocks under different names to test primary/fallback model routing.
func (m *MockLLM) RegisterModelAs(g *genkit.Genkit, name string) ai.Model {
	return genkit.DefineModel(g, name, &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
			Media:      false,
		},
	}, m.generate)
}

// generate is the Genkit model function.
func (m *MockLLM) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText, systemText string
	texts := make([]string, 0, len(req.Messages))
	toolsRan := false
	for _, msg := range req.Messages {
		texts = append(texts, msg.Text())
		switch msg.Role {
		case ai.RoleUser:
			userText = msg.Text() // last one wins
		case ai.RoleSystem:
			systemText = msg.Text()
		case ai.RoleTool:
			// Tool results present: the generate loop already ran our
			// requested tools and is asking for the final answer.
			toolsRan = true
		}
	}

	m.mu.Lock()
	if m.failures != 0 {
		if m.failures > 0 {
			m.failures--
		}
		msg := m.failMsg
		m.calls = append(m.calls, MockCall{
			UserMessage: userText,
			SystemText:  systemText,
			Texts:       texts,
			Failed:      true,
		})
		m.mu.Unlock()
		return nil, errors.New(msg)
	}

	var matched *mockRule
	lower := strings.ToLower(userText)
	for i := range m.rules {
		if strings.Contains(lower, m.rules[i].pattern) {
			matched = &m.rules[i]
			break
		}
	}

	responseText := m.fallback
	if matched != nil {
		responseText = matched.response
	}

	m.calls = append(m.calls, MockCall{
		UserMessage: userText,
		SystemText:  systemText,
		Texts:       texts,
		Response:    responseText,
	})
	m.mu.Unlock()

	if cb != nil {
		_ = cb(ctx, &ai.ModelResponseChunk{
			Content: []*ai.Part{ai.NewTextPart(responseText)},
		})
	}

	var parts []*ai.Part
	if matched != nil && len(matched.tools) > 0 && !toolsRan {
		for _, tr := range matched.tools {
			parts = append(parts, &ai.Part{
				Kind:        ai.PartToolRequest,
				ToolRequest: tr,
			})
		}
	}
	parts = append(parts, ai.NewTextPart(responseText))

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: parts,
		},
	}, nil
}
