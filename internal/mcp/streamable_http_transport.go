package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SupportedProtocolVersions lists the MCP protocol versions we support,
// in order of preference (newest first). During initialization, we try each
// version until one is accepted by the server.
var SupportedProtocolVersions = []string{
	"2025-11-25", // current
	"2025-06-18",
	"2025-03-26",
	"2024-11-05", // legacy fallback
}

const sessionDeleteTimeout = 2 * time.Second

var errSendTimeout = errors.New("send timed out waiting for response headers")

// StreamableHTTPTransport implements Transport over HTTP POST. Each Send is
// one POST whose response body is either a single JSON message, an SSE
// stream of messages, or empty (202). There is no reconnection: a failed POST
// fails only that call.
type StreamableHTTPTransport struct {
	emitter

	rawURL string
	opts   RemoteOptions
	logger *slog.Logger
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc

	mu                sync.Mutex
	started           bool
	closing           bool
	sessionID         string
	negotiatedVersion string
	lastEventID       string

	wg sync.WaitGroup
}

// NewStreamableHTTPTransport creates a new HTTP transport for the MCP
// endpoint at rawURL.
func NewStreamableHTTPTransport(rawURL string, opts RemoteOptions, logger *slog.Logger) *StreamableHTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamableHTTPTransport{
		emitter: newEmitter(),
		rawURL:  rawURL,
		opts:    opts.withDefaults(),
		logger:  logger.With("transport", "http"),
		client:  cloneHTTPClient(opts.Client),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Connect validates the URL. Streamable HTTP has no long-lived channel to
// open; the first POST is the handshake.
func (t *StreamableHTTPTransport) Connect(ctx context.Context) error {
	if _, err := ValidateRemoteURL(t.rawURL); err != nil {
		return &Error{Category: CategoryConnectionRefused, Op: "connect", Message: err.Error(), Err: err}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing || t.finished() {
		return ErrClosed
	}
	if t.started {
		return errors.New("http transport already connected")
	}
	t.started = true
	t.connected.Store(true)
	return nil
}

// SetProtocolVersion records the negotiated version sent as
// MCP-Protocol-Version on every later request.
func (t *StreamableHTTPTransport) SetProtocolVersion(v string) {
	t.mu.Lock()
	t.negotiatedVersion = v
	t.mu.Unlock()
}

// NegotiatedVersion returns the protocol version negotiated with the server.
// Returns empty string if no version has been negotiated yet.
func (t *StreamableHTTPTransport) NegotiatedVersion() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.negotiatedVersion
}

// SessionID returns the current session ID, if any.
func (t *StreamableHTTPTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Send POSTs one envelope. It returns once response headers arrive; any
// response body is delivered on Messages by a tracked goroutine.
func (t *StreamableHTTPTransport) Send(ctx context.Context, env *Envelope) error {
	t.mu.Lock()
	closing, started := t.closing, t.started
	sessionID, version := t.sessionID, t.negotiatedVersion
	t.mu.Unlock()
	if closing || t.finished() {
		return ErrClosed
	}
	if !started {
		return ErrNotConnected
	}

	payload, err := Encode(env)
	if err != nil {
		return err
	}
	t.logger.Debug("send", "payload", string(payload))

	// The request context outlives Send when the body streams, so the caller's
	// ctx and SendTimeout only bound the wait for headers.
	reqCtx, cancel := context.WithCancelCause(t.ctx)
	stop := context.AfterFunc(ctx, func() { cancel(context.Cause(ctx)) })
	headerTimer := time.AfterFunc(t.opts.SendTimeout, func() { cancel(errSendTimeout) })

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.rawURL, bytes.NewReader(payload))
	if err != nil {
		stop()
		headerTimer.Stop()
		cancel(nil)
		return fmt.Errorf("create request: %w", err)
	}
	setHeaders(req, t.opts.Headers)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	if version != "" {
		req.Header.Set("MCP-Protocol-Version", version)
	}

	resp, err := t.client.Do(req)
	stop()
	headerTimer.Stop()
	if err != nil {
		cause := context.Cause(reqCtx)
		cancel(nil)
		switch {
		case t.ctx.Err() != nil:
			return ErrClosed
		case errors.Is(cause, errSendTimeout):
			return &TransportError{Category: CategoryTimeout, Err: errSendTimeout}
		case ctx.Err() != nil:
			return ctx.Err()
		}
		cat := Classify(err)
		if cat == CategoryUnknown {
			cat = CategoryConnectionRefused
		}
		return &TransportError{Category: cat, Err: fmt.Errorf("send request: %w", err)}
	}

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" && sid != sessionID {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
		t.logger.Debug("session established", "session", sid)
	}

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent:
		_ = resp.Body.Close()
		cancel(nil)
		return nil
	case resp.StatusCode == http.StatusNotFound && sessionID != "":
		_ = resp.Body.Close()
		cancel(nil)
		return newTransportError(CategoryProtocolViolation, false, "session %s expired (404)", sessionID)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		cancel(nil)
		return statusError(resp, body)
	}

	contentType := resp.Header.Get("Content-Type")
	var consume func(io.Reader)
	switch {
	case strings.HasPrefix(contentType, "text/event-stream"):
		consume = t.readEventStream
	case strings.HasPrefix(contentType, "application/json"):
		consume = t.readJSON
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		_ = resp.Body.Close()
		cancel(nil)
		return nil
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		_ = resp.Body.Close()
		cancel(nil)
		return ErrClosed
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer cancel(nil)
		defer resp.Body.Close()
		consume(resp.Body)
	}()
	return nil
}

// readJSON decodes a single message (or a batch) from a JSON response body.
func (t *StreamableHTTPTransport) readJSON(body io.Reader) {
	data, err := io.ReadAll(io.LimitReader(body, DefaultMaxMessageSize+1))
	if err != nil {
		if t.ctx.Err() == nil {
			t.emitError(&TransportError{Category: CategoryConnectionLost, Err: fmt.Errorf("read response: %w", err)})
		}
		return
	}
	if len(data) > DefaultMaxMessageSize {
		t.emitError(newTransportError(CategoryBufferOverflow, false, "response body exceeds maximum message size"))
		return
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return
	}
	t.logger.Debug("recv", "payload", string(data))

	if data[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(data, &batch); err != nil {
			t.emitError(&TransportError{Category: CategoryInvalidPayload, Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)})
			return
		}
		for _, raw := range batch {
			if !t.deliver(raw) {
				return
			}
		}
		return
	}
	t.deliver(data)
}

func (t *StreamableHTTPTransport) deliver(data []byte) bool {
	env, err := Decode(data)
	if err != nil {
		return t.emitError(&TransportError{Category: CategoryInvalidPayload, Err: err})
	}
	return t.emitMessage(env)
}

// readEventStream delivers every message event of an SSE response body.
func (t *StreamableHTTPTransport) readEventStream(body io.Reader) {
	parser := NewSSEParser(t.opts.MaxEventSize)
	buf := make([]byte, readChunkSize)
	handle := func(ev SSEEvent) bool {
		if ev.ID != "" {
			t.mu.Lock()
			t.lastEventID = ev.ID
			t.mu.Unlock()
		}
		if ev.Event != "message" || ev.Data == "" {
			return true
		}
		t.logger.Debug("recv", "payload", ev.Data)
		return t.deliver([]byte(ev.Data))
	}

	for {
		n, err := body.Read(buf)
		if n > 0 {
			events, perr := parser.Feed(buf[:n])
			for _, ev := range events {
				if !handle(ev) {
					return
				}
			}
			if perr != nil && !t.emitError(perr) {
				return
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if ev := parser.Flush(); ev != nil {
				handle(*ev)
			}
			return
		}
		if t.ctx.Err() == nil {
			t.emitError(&TransportError{Category: CategoryConnectionLost, Err: fmt.Errorf("read event stream: %w", err)})
		}
		return
	}
}

// Close cancels in-flight requests and response bodies and, when a session
// exists, asks the server to end it.
func (t *StreamableHTTPTransport) Close() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	sessionID, version := t.sessionID, t.negotiatedVersion
	t.mu.Unlock()

	t.finish(nil)
	t.cancel()
	if sessionID != "" {
		t.deleteSession(sessionID, version)
	}
	t.wg.Wait()
	return nil
}

func (t *StreamableHTTPTransport) deleteSession(sessionID, version string) {
	ctx, cancel := context.WithTimeout(context.Background(), sessionDeleteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.rawURL, nil)
	if err != nil {
		return
	}
	setHeaders(req, t.opts.Headers)
	req.Header.Set("Mcp-Session-Id", sessionID)
	if version != "" {
		req.Header.Set("MCP-Protocol-Version", version)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Debug("session delete failed", "session", sessionID, "err", err)
		return
	}
	_ = resp.Body.Close()
}

// isVersionRejection checks if an error indicates a protocol version rejection.
func isVersionRejection(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "unsupported") && strings.Contains(lower, "version") ||
		strings.Contains(lower, "protocol-version") ||
		strings.Contains(lower, "protocolversion")
}
