package mcp

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func feedInChunks(t *testing.T, p *SSEParser, stream string, size int) []SSEEvent {
	t.Helper()
	var got []SSEEvent
	for off := 0; off < len(stream); off += size {
		end := min(off+size, len(stream))
		evs, err := p.Feed([]byte(stream[off:end]))
		if err != nil {
			t.Fatalf("Feed (chunk size %d): %v", size, err)
		}
		got = append(got, evs...)
	}
	return got
}

func TestSSEParser_ChunkBoundaries(t *testing.T) {
	stream := ": keepalive\r\n" +
		"event: endpoint\r\n" +
		"data: /message?sessionId=abc\r\n" +
		"\r\n" +
		"id: 7\n" +
		"data: {\"a\":1}\n" +
		"data: {\"b\":2}\n" +
		"\n" +
		"retry: 1500\n" +
		"data:no-space\n" +
		"\n"

	want := []SSEEvent{
		{Event: "endpoint", Data: "/message?sessionId=abc"},
		{ID: "7", Event: "message", Data: "{\"a\":1}\n{\"b\":2}"},
		{Event: "message", Data: "no-space", Retry: 1500 * time.Millisecond},
	}

	for size := 1; size <= len(stream); size++ {
		got := feedInChunks(t, NewSSEParser(0), stream, size)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("chunk size %d mismatch (-want +got):\n%s", size, diff)
		}
	}
}

func TestSSEParser_EventWithoutDataNotDispatched(t *testing.T) {
	p := NewSSEParser(0)
	evs, err := p.Feed([]byte("event: ping\n\nevent: other\ndata: x\n\n"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	want := []SSEEvent{{Event: "other", Data: "x"}}
	if diff := cmp.Diff(want, evs); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSSEParser_IgnoresUnknownFieldsAndBadRetry(t *testing.T) {
	p := NewSSEParser(0)
	evs, err := p.Feed([]byte("foo: bar\nretry: soon\ndata\n\n"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	want := []SSEEvent{{Event: "message", Data: ""}}
	if diff := cmp.Diff(want, evs); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSSEParser_Flush(t *testing.T) {
	p := NewSSEParser(0)
	evs, err := p.Feed([]byte("event: message\ndata: tail"))
	if err != nil || len(evs) != 0 {
		t.Fatalf("Feed = %v, %v", evs, err)
	}

	ev := p.Flush()
	if ev == nil {
		t.Fatal("Flush returned nil for pending event")
	}
	if ev.Data != "tail" {
		t.Errorf("Data = %q, want tail", ev.Data)
	}
	if p.Flush() != nil {
		t.Error("second Flush should be empty")
	}
}

func TestSSEParser_Overflow(t *testing.T) {
	p := NewSSEParser(32)

	evs, err := p.Feed([]byte("data: ok\n\ndata: " + strings.Repeat("x", 64)))
	if len(evs) != 1 || evs[0].Data != "ok" {
		t.Errorf("events before overflow = %v", evs)
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.Category != CategoryBufferOverflow || !te.Fatal {
		t.Errorf("err = %+v, want fatal buffer_overflow", te)
	}

	// The oversized line and its event end before parsing resumes.
	evs, err = p.Feed([]byte("xxx\n\ndata: fresh\n\n"))
	if err != nil || len(evs) != 1 || evs[0].Data != "fresh" {
		t.Errorf("after overflow: %v, %v", evs, err)
	}
}

func TestSSEParser_OverflowKeepsFollowingEvents(t *testing.T) {
	stream := "data: " + strings.Repeat("x", 64) + "\n\nevent: message\ndata: after\n\n"
	want := []SSEEvent{{Event: "message", Data: "after"}}

	for _, eol := range []string{"\n", "\r\n"} {
		s := strings.ReplaceAll(stream, "\n", eol)
		for size := 1; size <= len(s); size++ {
			p := NewSSEParser(32)
			var (
				got       []SSEEvent
				overflows int
			)
			for off := 0; off < len(s); off += size {
				evs, err := p.Feed([]byte(s[off:min(off+size, len(s))]))
				got = append(got, evs...)
				if err != nil {
					if Classify(err) != CategoryBufferOverflow {
						t.Fatalf("eol %q chunk %d: err = %v", eol, size, err)
					}
					overflows++
				}
			}
			if overflows != 1 {
				t.Errorf("eol %q chunk %d: %d overflow errors, want 1", eol, size, overflows)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("eol %q chunk %d: events mismatch (-want +got):\n%s", eol, size, diff)
			}
		}
	}
}

func TestSSEParser_OverflowAcrossLines(t *testing.T) {
	p := NewSSEParser(32)
	var (
		got       []SSEEvent
		overflows int
	)
	for range 5 {
		evs, err := p.Feed([]byte("data: 0123456789\n"))
		got = append(got, evs...)
		if err != nil {
			overflows++
		}
	}
	evs, err := p.Feed([]byte("\n"))
	got = append(got, evs...)
	if err != nil {
		t.Errorf("blank line after overflow: %v", err)
	}
	if overflows != 1 {
		t.Errorf("got %d overflow errors, want 1", overflows)
	}
	if len(got) != 0 {
		t.Errorf("lines of the oversized event were dispatched: %v", got)
	}

	evs, err = p.Feed([]byte("data: next\n\n"))
	if err != nil || len(evs) != 1 || evs[0].Data != "next" {
		t.Errorf("after skipped event: %v, %v", evs, err)
	}
}

func TestSSEParser_OverflowReportsEventSize(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
		want  string
	}{
		{"terminated line", "data: " + strings.Repeat("x", 64) + "\n", "SSE event of 71 B exceeds maximum size of 32 B"},
		{"partial line", "data: " + strings.Repeat("x", 64), "SSE event of 70 B exceeds maximum size of 32 B"},
		{"after earlier lines", "id: 1\ndata: " + strings.Repeat("x", 30) + "\n", "SSE event of 43 B exceeds maximum size of 32 B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSSEParser(32).Feed([]byte(tt.chunk))
			if err == nil {
				t.Fatal("expected overflow")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestSSEParser_FlushWhileSkippingOversizedEvent(t *testing.T) {
	p := NewSSEParser(32)
	if _, err := p.Feed([]byte("data: " + strings.Repeat("x", 64) + "\ndata: tail")); err == nil {
		t.Fatal("expected overflow")
	}
	if ev := p.Flush(); ev != nil {
		t.Errorf("Flush() = %+v, want nil for a skipped event", ev)
	}
}
