package mcp

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeAll(t *testing.T, mode FramingMode, envs ...*Envelope) []byte {
	t.Helper()
	var stream []byte
	for _, env := range envs {
		data, err := Encode(env)
		require.NoError(t, err)
		stream = append(stream, EncodeFrame(mode, data)...)
	}
	return stream
}

func sampleEnvelopes(t *testing.T) []*Envelope {
	t.Helper()
	req, err := NewRequest(NumberID(1), "tools/list", nil)
	require.NoError(t, err)
	note, err := NewNotification("notifications/message", map[string]string{"data": "héllo\nworld"})
	require.NoError(t, err)
	res, err := NewResult(StringID("a"), map[string]int{"n": 3})
	require.NoError(t, err)
	return []*Envelope{req, note, res}
}

func methods(envs []*Envelope) []string {
	out := make([]string, len(envs))
	for i, e := range envs {
		out[i] = e.Kind.String() + ":" + e.Method
	}
	return out
}

func TestFramer_ChunkBoundaries(t *testing.T) {
	for _, mode := range []FramingMode{FramingNewline, FramingContentLength} {
		t.Run(mode.String(), func(t *testing.T) {
			envs := sampleEnvelopes(t)
			stream := encodeAll(t, mode, envs...)
			want := methods(envs)

			for size := 1; size <= len(stream); size++ {
				f := NewFramer(mode, FramerLimits{})
				var got []*Envelope
				for off := 0; off < len(stream); off += size {
					end := min(off+size, len(stream))
					out, errs := f.Feed(stream[off:end])
					require.Empty(t, errs, "chunk size %d", size)
					got = append(got, out...)
				}
				require.Equal(t, want, methods(got), "chunk size %d", size)
				assert.Zero(t, f.Buffered())
			}
		})
	}
}

func TestFramer_Newline(t *testing.T) {
	f := NewFramer(FramingNewline, FramerLimits{})

	envs, errs := f.Feed([]byte("\n\r\n{\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\r\n{\"jsonrpc\":\"2.0\",\"method\":\"x\"}"))
	assert.Empty(t, errs)
	require.Len(t, envs, 1)
	assert.Equal(t, KindResponse, envs[0].Kind)
	assert.Positive(t, f.Buffered(), "unterminated line stays buffered")

	envs, errs = f.Feed([]byte("\n"))
	assert.Empty(t, errs)
	require.Len(t, envs, 1)
	assert.Equal(t, "x", envs[0].Method)
}

func TestFramer_InvalidPayloadIsNonFatal(t *testing.T) {
	f := NewFramer(FramingNewline, FramerLimits{})

	envs, errs := f.Feed([]byte("not json\n{\"jsonrpc\":\"2.0\",\"method\":\"ok\"}\n"))
	require.Len(t, envs, 1)
	assert.Equal(t, "ok", envs[0].Method)
	require.Len(t, errs, 1)

	var te *TransportError
	require.True(t, errors.As(errs[0], &te))
	assert.Equal(t, CategoryInvalidPayload, te.Category)
	assert.False(t, te.Fatal)
}

func TestFramer_NewlineOversizedLine(t *testing.T) {
	f := NewFramer(FramingNewline, FramerLimits{MaxMessageSize: 64})
	big := strings.Repeat("x", 100)

	// Delivered in pieces so the overflow is noticed before the newline.
	_, errs := f.Feed([]byte(big))
	require.Len(t, errs, 1)
	var te *TransportError
	require.True(t, errors.As(errs[0], &te))
	assert.Equal(t, CategoryBufferOverflow, te.Category)
	assert.False(t, te.Fatal)

	envs, errs := f.Feed([]byte(big + "\n{\"jsonrpc\":\"2.0\",\"method\":\"after\"}\n"))
	assert.Empty(t, errs)
	require.Len(t, envs, 1)
	assert.Equal(t, "after", envs[0].Method)
}

func TestFramer_NewlineOversizedCompleteLine(t *testing.T) {
	f := NewFramer(FramingNewline, FramerLimits{MaxMessageSize: 64})
	line := `{"jsonrpc":"2.0","method":"` + strings.Repeat("y", 80) + `"}`

	envs, errs := f.Feed([]byte(line + "\n{\"jsonrpc\":\"2.0\",\"method\":\"next\"}\n"))
	require.Len(t, errs, 1)
	require.Len(t, envs, 1)
	assert.Equal(t, "next", envs[0].Method)
}

func TestFramer_ContentLengthHeaders(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"m"}`
	tests := []struct {
		name   string
		header string
	}{
		{"canonical", "Content-Length: 30\r\n\r\n"},
		{"lower case", "content-length:30\r\n\r\n"},
		{"extra header", "Content-Type: application/json\r\nContent-Length: 30\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(FramingContentLength, FramerLimits{})
			envs, errs := f.Feed([]byte(tt.header + body))
			assert.Empty(t, errs)
			require.Len(t, envs, 1)
			assert.Equal(t, "m", envs[0].Method)
		})
	}
}

func TestFramer_ContentLengthBadHeader(t *testing.T) {
	f := NewFramer(FramingContentLength, FramerLimits{})
	good := EncodeFrame(FramingContentLength, []byte(`{"jsonrpc":"2.0","method":"good"}`))

	stream := append([]byte("Content-Length: abc\r\n\r\n"), good...)
	envs, errs := f.Feed(stream)
	require.Len(t, errs, 1)
	var te *TransportError
	require.True(t, errors.As(errs[0], &te))
	assert.Equal(t, CategoryProtocolViolation, te.Category)
	assert.False(t, te.Fatal)
	require.Len(t, envs, 1)
	assert.Equal(t, "good", envs[0].Method)
}

func TestFramer_ContentLengthOversizedMessageSkipped(t *testing.T) {
	f := NewFramer(FramingContentLength, FramerLimits{MaxMessageSize: 32})
	big := EncodeFrame(FramingContentLength, bytes.Repeat([]byte("z"), 100))
	next := EncodeFrame(FramingContentLength, []byte(`{"method":"n"}`))

	// Split inside the oversized body so skipping spans calls.
	_, errs := f.Feed(big[:40])
	require.Len(t, errs, 1)
	var te *TransportError
	require.True(t, errors.As(errs[0], &te))
	assert.Equal(t, CategoryBufferOverflow, te.Category)
	assert.False(t, te.Fatal)

	envs, errs := f.Feed(append(big[40:], next...))
	assert.Empty(t, errs)
	require.Len(t, envs, 1)
	assert.Equal(t, "n", envs[0].Method)
}

func TestFramer_ContentLengthHeaderOverflowIsFatal(t *testing.T) {
	f := NewFramer(FramingContentLength, FramerLimits{MaxHeaderSize: 16})

	_, errs := f.Feed([]byte("X-Header: " + strings.Repeat("a", 64)))
	require.Len(t, errs, 1)
	var te *TransportError
	require.True(t, errors.As(errs[0], &te))
	assert.Equal(t, CategoryBufferOverflow, te.Category)
	assert.True(t, te.Fatal)
	assert.Zero(t, f.Buffered())
}

func TestFramer_BufferOverflowIsFatal(t *testing.T) {
	f := NewFramer(FramingContentLength, FramerLimits{MaxBufferSize: 64, MaxMessageSize: 1024})

	_, errs := f.Feed([]byte("Content-Length: 500\r\n\r\n" + strings.Repeat("q", 80)))
	require.Len(t, errs, 1)
	var te *TransportError
	require.True(t, errors.As(errs[0], &te))
	assert.True(t, te.Fatal)
	assert.Zero(t, f.Buffered())

	envs, errs := f.Feed(EncodeFrame(FramingContentLength, []byte(`{"method":"fresh"}`)))
	assert.Empty(t, errs)
	require.Len(t, envs, 1)
}

func TestParseFramingMode(t *testing.T) {
	tests := []struct {
		in      string
		want    FramingMode
		wantErr bool
	}{
		{"", FramingNewline, false},
		{"newline", FramingNewline, false},
		{"NDJSON", FramingNewline, false},
		{"content-length", FramingContentLength, false},
		{"lsp", FramingContentLength, false},
		{"xml", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseFramingMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestEncodeFrame(t *testing.T) {
	assert.Equal(t, "{}\n", string(EncodeFrame(FramingNewline, []byte("{}"))))
	assert.Equal(t, "Content-Length: 2\r\n\r\n{}", string(EncodeFrame(FramingContentLength, []byte("{}"))))
}
