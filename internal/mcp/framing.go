package mcp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// FramingMode selects how messages are delimited on a byte stream. The mode is
// configured per transport and never inferred from the data.
type FramingMode int

const (
	// FramingNewline is one JSON document per line (NDJSON), the MCP stdio default.
	FramingNewline FramingMode = iota
	// FramingContentLength prefixes every message with a Content-Length header block.
	FramingContentLength
)

func (m FramingMode) String() string {
	switch m {
	case FramingNewline:
		return "newline"
	case FramingContentLength:
		return "content-length"
	default:
		return "unknown"
	}
}

// ParseFramingMode parses the names returned by FramingMode.String.
func ParseFramingMode(s string) (FramingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "newline", "ndjson", "line":
		return FramingNewline, nil
	case "content-length", "length", "lsp":
		return FramingContentLength, nil
	default:
		return 0, fmt.Errorf("unknown framing mode %q", s)
	}
}

const (
	DefaultMaxHeaderSize  = 8 * 1024
	DefaultMaxMessageSize = 10 * 1024 * 1024
	DefaultMaxBufferSize  = 32 * 1024 * 1024
)

// FramerLimits bounds the memory a Framer may hold. Zero fields take defaults.
type FramerLimits struct {
	MaxHeaderSize  int
	MaxMessageSize int
	MaxBufferSize  int
}

func (l FramerLimits) withDefaults() FramerLimits {
	if l.MaxHeaderSize <= 0 {
		l.MaxHeaderSize = DefaultMaxHeaderSize
	}
	if l.MaxMessageSize <= 0 {
		l.MaxMessageSize = DefaultMaxMessageSize
	}
	if l.MaxBufferSize <= 0 {
		l.MaxBufferSize = DefaultMaxBufferSize
	}
	return l
}

var (
	headerTerminator = []byte("\r\n\r\n")
	contentLengthKey = "content-length"
)

// EncodeFrame wraps a payload for the given framing mode.
func EncodeFrame(mode FramingMode, payload []byte) []byte {
	if mode == FramingContentLength {
		header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
		out := make([]byte, 0, len(header)+len(payload))
		out = append(out, header...)
		return append(out, payload...)
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, payload...)
	return append(out, '\n')
}

// Framer reassembles envelopes from arbitrary byte chunks. It is not safe for
// concurrent use; each transport owns exactly one.
type Framer struct {
	mode   FramingMode
	limits FramerLimits

	buf []byte
	// expected is the declared body length once a header was parsed, else -1.
	expected int
	// skip counts bytes still to drop from an oversized length-prefixed message.
	skip int
	// skipLine is set while dropping an oversized newline-delimited line.
	skipLine bool
}

// NewFramer creates a framer for the given mode.
func NewFramer(mode FramingMode, limits FramerLimits) *Framer {
	return &Framer{
		mode:     mode,
		limits:   limits.withDefaults(),
		expected: -1,
	}
}

// Mode returns the framing mode.
func (f *Framer) Mode() FramingMode { return f.mode }

// Buffered returns the number of bytes held but not yet parsed.
func (f *Framer) Buffered() int { return len(f.buf) }

// Reset discards all framing state.
func (f *Framer) Reset() {
	f.buf = nil
	f.expected = -1
	f.skip = 0
	f.skipLine = false
}

// Feed appends chunk and returns every envelope that became complete. Errors
// are *TransportError values; Fatal ones mean the framer reset its state.
// Decode failures of a single message are non-fatal warnings.
func (f *Framer) Feed(chunk []byte) ([]*Envelope, []error) {
	if f.skip > 0 {
		n := min(f.skip, len(chunk))
		f.skip -= n
		chunk = chunk[n:]
	}
	f.buf = append(f.buf, chunk...)

	if len(f.buf) > f.limits.MaxBufferSize {
		size := len(f.buf)
		f.Reset()
		return nil, []error{newTransportError(CategoryBufferOverflow, true,
			"buffer overflow: %s buffered exceeds maximum of %s",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(f.limits.MaxBufferSize)))}
	}

	if f.mode == FramingContentLength {
		return f.feedContentLength()
	}
	return f.feedNewline()
}

func (f *Framer) feedContentLength() ([]*Envelope, []error) {
	var envs []*Envelope
	var errs []error

	for {
		if f.skip > 0 {
			n := min(f.skip, len(f.buf))
			f.skip -= n
			f.buf = f.buf[n:]
			if f.skip > 0 {
				break
			}
		}

		if f.expected < 0 {
			// Tolerate blank lines between frames.
			f.buf = bytes.TrimLeft(f.buf, "\r\n")
			if len(f.buf) == 0 {
				break
			}
			idx := bytes.Index(f.buf, headerTerminator)
			if idx < 0 {
				if len(f.buf) > f.limits.MaxHeaderSize {
					size := len(f.buf)
					f.Reset()
					errs = append(errs, newTransportError(CategoryBufferOverflow, true,
						"header exceeds maximum of %s without terminator (%s discarded)",
						humanize.IBytes(uint64(f.limits.MaxHeaderSize)), humanize.IBytes(uint64(size))))
				}
				break
			}

			header := string(f.buf[:idx])
			f.buf = f.buf[idx+len(headerTerminator):]
			length, err := parseContentLength(header)
			if err != nil {
				errs = append(errs, newTransportError(CategoryProtocolViolation, false, "%v", err))
				continue
			}
			if length > f.limits.MaxMessageSize {
				errs = append(errs, newTransportError(CategoryBufferOverflow, false,
					"message size %s exceeds maximum of %s; skipped",
					humanize.IBytes(uint64(length)), humanize.IBytes(uint64(f.limits.MaxMessageSize))))
				f.skip = length
				continue
			}
			f.expected = length
		}

		if len(f.buf) < f.expected {
			break
		}
		body := f.buf[:f.expected]
		f.buf = f.buf[f.expected:]
		f.expected = -1

		env, err := Decode(body)
		if err != nil {
			errs = append(errs, newTransportError(CategoryInvalidPayload, false, "%v", err))
			continue
		}
		envs = append(envs, env)
	}

	f.compact()
	return envs, errs
}

func (f *Framer) feedNewline() ([]*Envelope, []error) {
	var envs []*Envelope
	var errs []error

	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			if !f.skipLine && len(f.buf) > f.limits.MaxMessageSize {
				errs = append(errs, newTransportError(CategoryBufferOverflow, false,
					"line exceeds maximum message size of %s; skipping to next newline",
					humanize.IBytes(uint64(f.limits.MaxMessageSize))))
				f.skipLine = true
			}
			if f.skipLine {
				f.buf = f.buf[:0]
			}
			break
		}

		line := f.buf[:idx]
		f.buf = f.buf[idx+1:]
		if f.skipLine {
			f.skipLine = false
			continue
		}
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if len(line) > f.limits.MaxMessageSize {
			errs = append(errs, newTransportError(CategoryBufferOverflow, false,
				"message size %s exceeds maximum of %s; skipped",
				humanize.IBytes(uint64(len(line))), humanize.IBytes(uint64(f.limits.MaxMessageSize))))
			continue
		}

		env, err := Decode(line)
		if err != nil {
			errs = append(errs, newTransportError(CategoryInvalidPayload, false, "%v", err))
			continue
		}
		envs = append(envs, env)
	}

	f.compact()
	return envs, errs
}

// compact moves the unparsed tail to a fresh slice so consumed prefixes can be
// collected.
func (f *Framer) compact() {
	if len(f.buf) == 0 {
		f.buf = nil
		return
	}
	if cap(f.buf) > 2*len(f.buf)+4096 {
		f.buf = append([]byte(nil), f.buf...)
	}
}

func parseContentLength(header string) (int, error) {
	for _, line := range strings.Split(header, "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return 0, fmt.Errorf("malformed header line %q", line)
		}
		if strings.ToLower(strings.TrimSpace(name)) != contentLengthKey {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid Content-Length header value %q", strings.TrimSpace(value))
		}
		return n, nil
	}
	return 0, fmt.Errorf("missing Content-Length header in %q", header)
}
