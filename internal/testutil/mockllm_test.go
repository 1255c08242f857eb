package testutil

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

func userRequest(text string) *ai.ModelRequest {
	return &ai.ModelRequest{
		Messages: []*ai.Message{ai.NewUserMessage(ai.NewTextPart(text))},
	}
}

func TestMockLLMPatternMatching(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rules [][2]string
		input string
		want  string
	}{
		{
			name:  "no rules returns fallback",
			input: "hello",
			want:  "fallback answer",
		},
		{
			name:  "substring match",
			rules: [][2]string{{"price of gold", "gold is up"}},
			input: "what is the price of gold today",
			want:  "gold is up",
		},
		{
			name:  "match is case insensitive",
			rules: [][2]string{{"aapl", "apple answer"}},
			input: "Quote for AAPL please",
			want:  "apple answer",
		},
		{
			name:  "first registered rule wins",
			rules: [][2]string{{"price", "first"}, {"price", "second"}},
			input: "price",
			want:  "first",
		},
		{
			name:  "no match returns fallback",
			rules: [][2]string{{"price", "priced"}},
			input: "tell me a joke",
			want:  "fallback answer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewMockLLM("fallback answer")
			for _, r := range tt.rules {
				m.AddResponse(r[0], r[1])
			}

			resp, err := m.generate(context.Background(), userRequest(tt.input), nil)
			if err != nil {
				t.Fatalf("generate() error: %v", err)
			}
			if got := resp.Message.Text(); got != tt.want {
				t.Errorf("generate(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMockLLMRecordsCalls(t *testing.T) {
	t.Parallel()
	m := NewMockLLM("ok")
	m.AddResponse("gold", "gold answer")

	req := &ai.ModelRequest{
		Messages: []*ai.Message{
			{Role: ai.RoleSystem, Content: []*ai.Part{ai.NewTextPart("be brief")}},
			ai.NewUserMessage(ai.NewTextPart("price of gold")),
		},
	}
	if _, err := m.generate(context.Background(), req, nil); err != nil {
		t.Fatalf("generate() error: %v", err)
	}
	if _, err := m.generate(context.Background(), userRequest("anything else"), nil); err != nil {
		t.Fatalf("generate() error: %v", err)
	}

	calls := m.Calls()
	if len(calls) != 2 {
		t.Fatalf("Calls() returned %d calls, want 2", len(calls))
	}
	if calls[0].UserMessage != "price of gold" || calls[0].Response != "gold answer" {
		t.Errorf("call 0 = %+v, want gold question and answer", calls[0])
	}
	if calls[0].SystemText != "be brief" {
		t.Errorf("call 0 system text = %q, want %q", calls[0].SystemText, "be brief")
	}
	if calls[1].Response != "ok" {
		t.Errorf("call 1 response = %q, want fallback %q", calls[1].Response, "ok")
	}

	m.Reset()
	if got := len(m.Calls()); got != 0 {
		t.Errorf("Calls() after Reset() has %d entries, want 0", got)
	}
}

func TestMockLLMStreamsResponse(t *testing.T) {
	t.Parallel()
	m := NewMockLLM("streamed text")

	var chunks []string
	cb := func(_ context.Context, chunk *ai.ModelResponseChunk) error {
		for _, p := range chunk.Content {
			chunks = append(chunks, p.Text)
		}
		return nil
	}

	if _, err := m.generate(context.Background(), userRequest("anything"), cb); err != nil {
		t.Fatalf("generate() error: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "streamed text" {
		t.Errorf("streamed chunks = %q, want [%q]", chunks, "streamed text")
	}
}

// TestMockLLMToolFlow drives both halves of a tool-calling exchange: the
// first call requests the registered tools, the follow-up call that carries
// tool results gets the plain text answer.
func TestMockLLMToolFlow(t *testing.T) {
	t.Parallel()
	m := NewMockLLM("fallback")
	m.AddToolResponse("price of gold",
		[]*ai.ToolRequest{{Name: "get_price", Input: map[string]any{"symbol": "XAU/USD"}}},
		"Gold is at $2,345.")

	first, err := m.generate(context.Background(), userRequest("price of gold?"), nil)
	if err != nil {
		t.Fatalf("generate() error: %v", err)
	}
	var toolNames []string
	for _, p := range first.Message.Content {
		if p.Kind == ai.PartToolRequest {
			toolNames = append(toolNames, p.ToolRequest.Name)
		}
	}
	if len(toolNames) != 1 || toolNames[0] != "get_price" {
		t.Fatalf("first call tool requests = %v, want [get_price]", toolNames)
	}

	followUp := &ai.ModelRequest{
		Messages: []*ai.Message{
			ai.NewUserMessage(ai.NewTextPart("price of gold?")),
			{Role: ai.RoleTool, Content: []*ai.Part{ai.NewTextPart(`{"price":"2345"}`)}},
		},
	}
	second, err := m.generate(context.Background(), followUp, nil)
	if err != nil {
		t.Fatalf("generate() error: %v", err)
	}
	for _, p := range second.Message.Content {
		if p.Kind == ai.PartToolRequest {
			t.Fatal("second call requested tools again after results were supplied")
		}
	}
	if got := second.Message.Text(); got != "Gold is at $2,345." {
		t.Errorf("second call text = %q, want final answer", got)
	}
}

func TestMockLLMFailureInjection(t *testing.T) {
	t.Parallel()
	m := NewMockLLM("recovered")
	m.FailNext(2, "429 rate limited")

	for i := 0; i < 2; i++ {
		if _, err := m.generate(context.Background(), userRequest("q"), nil); err == nil {
			t.Fatalf("call %d succeeded, want injected failure", i)
		}
	}
	resp, err := m.generate(context.Background(), userRequest("q"), nil)
	if err != nil {
		t.Fatalf("call after failures exhausted: %v", err)
	}
	if got := resp.Message.Text(); got != "recovered" {
		t.Errorf("recovered response = %q, want %q", got, "recovered")
	}

	calls := m.Calls()
	if len(calls) != 3 {
		t.Fatalf("Calls() returned %d calls, want 3", len(calls))
	}
	if !calls[0].Failed || !calls[1].Failed || calls[2].Failed {
		t.Errorf("Failed flags = %v %v %v, want true true false",
			calls[0].Failed, calls[1].Failed, calls[2].Failed)
	}

	m.FailAlways("hard down")
	for i := 0; i < 3; i++ {
		if _, err := m.generate(context.Background(), userRequest("q"), nil); err == nil {
			t.Fatal("FailAlways call succeeded")
		}
	}
	m.Reset()
	if _, err := m.generate(context.Background(), userRequest("q"), nil); err != nil {
		t.Errorf("generate() after Reset() error: %v", err)
	}
}

func TestMockLLMRegisterModel(t *testing.T) {
	t.Parallel()
	g := genkit.Init(context.Background())

	model := NewMockLLM("a").RegisterModel(g)
	if model == nil {
		t.Fatal("RegisterModel() returned nil")
	}
	if got := model.Name(); got != "mock/test-model" {
		t.Errorf("model name = %q, want %q", got, "mock/test-model")
	}
	if genkit.LookupModel(g, "mock/test-model") == nil {
		t.Error("LookupModel() did not find the registered mock")
	}

	named := NewMockLLM("b").RegisterModelAs(g, "mock/other")
	if got := named.Name(); got != "mock/other" {
		t.Errorf("named model = %q, want %q", got, "mock/other")
	}
}
