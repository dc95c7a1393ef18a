package mcp

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// DefaultMaxSSEEventSize is the maximum size of a single SSE event (1MB).
const DefaultMaxSSEEventSize = 1024 * 1024

// SSEEvent is one dispatched server-sent event.
type SSEEvent struct {
	ID    string
	Event string
	Data  string
	// Retry is the reconnection time requested by the server, zero if unset.
	Retry time.Duration
}

// SSEParser incrementally parses an event stream. Chunks may split lines,
// fields or line terminators at any byte.
type SSEParser struct {
	maxSize int

	line    []byte
	id      string
	event   string
	data    []string
	retry   time.Duration
	hasData bool
	size    int
	// discarding drops the rest of an oversized event up to its blank line.
	discarding bool
}

// NewSSEParser creates a parser. maxEventSize <= 0 uses DefaultMaxSSEEventSize.
func NewSSEParser(maxEventSize int) *SSEParser {
	if maxEventSize <= 0 {
		maxEventSize = DefaultMaxSSEEventSize
	}
	return &SSEParser{maxSize: maxEventSize}
}

// Reset discards any partial line and pending event.
func (p *SSEParser) Reset() {
	p.line = nil
	p.discarding = false
	p.resetEvent()
}

func (p *SSEParser) resetEvent() {
	p.id = ""
	p.event = ""
	p.data = nil
	p.retry = 0
	p.hasData = false
	p.size = 0
}

// Feed consumes a chunk and returns the events it completed. An oversized
// event yields a buffer_overflow *TransportError; the rest of that event is
// skipped up to its terminating blank line and parsing resumes after it, so
// events before and after the oversized one are still returned.
func (p *SSEParser) Feed(chunk []byte) ([]SSEEvent, error) {
	var (
		events []SSEEvent
		err    error
	)

	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')
		part := chunk
		if idx >= 0 {
			part = chunk[:idx]
			chunk = chunk[idx+1:]
		} else {
			chunk = nil
		}

		if p.discarding {
			// Only enough of a skipped line is kept to tell whether it is blank.
			p.line = append(p.line, part[:min(len(part), 2-min(len(p.line), 2))]...)
			if idx >= 0 {
				if len(bytes.TrimSuffix(p.line, []byte("\r"))) == 0 {
					p.discarding = false
				}
				p.line = p.line[:0]
			}
			continue
		}

		p.line = append(p.line, part...)
		if idx < 0 {
			if p.size+len(p.line) > p.maxSize {
				err = p.overflow(p.size + len(p.line))
				p.line = p.line[:min(len(p.line), 2)]
			}
			continue
		}

		line := bytes.TrimSuffix(p.line, []byte("\r"))
		if p.size+len(p.line)+1 > p.maxSize {
			err = p.overflow(p.size + len(p.line) + 1)
			// A blank line that overflows still ends the event.
			p.discarding = len(line) > 0
			p.line = p.line[:0]
			continue
		}
		p.size += len(p.line) + 1
		if ev, ok := p.processLine(line); ok {
			events = append(events, ev)
		}
		p.line = p.line[:0]
	}
	return events, err
}

// Flush dispatches a pending event whose terminating blank line never arrived,
// for use when the stream ends.
func (p *SSEParser) Flush() *SSEEvent {
	if p.discarding {
		p.Reset()
		return nil
	}
	if len(p.line) > 0 {
		line := bytes.TrimSuffix(p.line, []byte("\r"))
		p.processLine(line)
		p.line = nil
	}
	if !p.hasData {
		p.resetEvent()
		return nil
	}
	ev := p.build()
	p.resetEvent()
	return &ev
}

// overflow drops the pending event and reports an event of size bytes. The
// caller decides whether the rest of the event must still be skipped.
func (p *SSEParser) overflow(size int) error {
	p.resetEvent()
	p.discarding = true
	return newTransportError(CategoryBufferOverflow, true,
		"SSE event of %s exceeds maximum size of %s",
		humanize.IBytes(uint64(size)), humanize.IBytes(uint64(p.maxSize)))
}

func (p *SSEParser) processLine(line []byte) (SSEEvent, bool) {
	if len(line) == 0 {
		if !p.hasData {
			// Event with no data is not dispatched; only its fields reset.
			p.resetEvent()
			return SSEEvent{}, false
		}
		ev := p.build()
		p.resetEvent()
		return ev, true
	}

	if line[0] == ':' {
		return SSEEvent{}, false
	}

	field, value := string(line), ""
	if colon := bytes.IndexByte(line, ':'); colon >= 0 {
		field = string(line[:colon])
		value = strings.TrimPrefix(string(line[colon+1:]), " ")
	}

	switch field {
	case "event":
		p.event = value
	case "data":
		p.data = append(p.data, value)
		p.hasData = true
	case "id":
		if !strings.ContainsRune(value, 0) {
			p.id = value
		}
	case "retry":
		if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
			p.retry = time.Duration(ms) * time.Millisecond
		}
	}
	return SSEEvent{}, false
}

func (p *SSEParser) build() SSEEvent {
	ev := SSEEvent{
		ID:    p.id,
		Event: p.event,
		Data:  strings.Join(p.data, "\n"),
		Retry: p.retry,
	}
	if ev.Event == "" {
		ev.Event = "message"
	}
	return ev
}
