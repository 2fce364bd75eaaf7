package testutil

import (
	"strings"
	"testing"
)

// SSEEvent is one parsed server-sent event.
type SSEEvent struct {
	Type string
	Data string
}

// ParseSSEEvents splits a raw event-stream body into events, failing the
// test on anything the wire format forbids. Multi-line data fields are
// joined with newlines, a missing event field defaults to "message" and
// comment lines are skipped.
func ParseSSEEvents(t *testing.T, body string) []SSEEvent {
	t.Helper()

	var (
		events []SSEEvent
		typ    string
		data   []string
	)
	flush := func() {
		if typ == "" && len(data) == 0 {
			return
		}
		if typ == "" {
			typ = "message"
		}
		events = append(events, SSEEvent{Type: typ, Data: strings.Join(data, "\n")})
		typ, data = "", nil
	}

	for i, line := range strings.Split(body, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// comment line
		case strings.HasPrefix(line, "event: "):
			if typ != "" {
				t.Fatalf("line %d: event field %q arrived before the previous event was terminated", i+1, line)
			}
			typ = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		default:
			t.Fatalf("line %d: not an event-stream field: %q", i+1, line)
		}
	}
	if typ != "" || len(data) > 0 {
		t.Fatalf("stream ended inside event %q: missing blank-line terminator", typ)
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

// FindAllEvents returns every event of the given type in stream order.
func FindAllEvents(events []SSEEvent, typ string) []SSEEvent {
	var out []SSEEvent
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
