package testutil

import (
	"bufio"
	"strings"
	"testing"
)

// SSEEvent is one event from a text/event-stream response body.
type SSEEvent struct {
	Type string
	Data string
}

// ParseSSEEvents splits a complete event-stream body into events. A field
// line is "name: value", a blank line terminates the event, and lines
// starting with ":" are comments. Repeated data fields accumulate with
// newlines between them; data without a preceding event field gets the
// stream default type "message".
//
// The streaming handlers promise well-formed frames, so anything
// malformed fails the test instead of being skipped.
func ParseSSEEvents(t *testing.T, body string) []SSEEvent {
	t.Helper()

	var (
		events []SSEEvent
		typ    string
		data   []string
	)
	flush := func() {
		if typ == "" && data == nil {
			return
		}
		if typ == "" {
			typ = "message"
		}
		events = append(events, SSEEvent{Type: typ, Data: strings.Join(data, "\n")})
		typ, data = "", nil
	}

	sc := bufio.NewScanner(strings.NewReader(body))
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		// Split at the first colon only; JSON payloads carry their own.
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			t.Fatalf("line %d: not an event-stream field: %q", n, line)
		}
		value = strings.TrimPrefix(value, " ")

		switch name {
		case "event":
			typ = value
		case "data":
			data = append(data, value)
		default:
			t.Fatalf("line %d: unexpected event-stream field %q", n, name)
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("reading event stream: %v", err)
	}
	if typ != "" || data != nil {
		t.Fatalf("stream ended inside an unterminated %q event", typ)
	}
	return events
}

// FindEvent returns the first event of the given type, or nil.
func FindEvent(events []SSEEvent, typ string) *SSEEvent {
	for i := range events {
		if events[i].Type == typ {
			return &events[i]
		}
	}
	return nil
}

// FindAllEvents returns every event of the given type, in stream order.
func FindAllEvents(events []SSEEvent, typ string) []SSEEvent {
	var out []SSEEvent
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
