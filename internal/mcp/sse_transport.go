package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// SSETransport implements the legacy HTTP+SSE carrier: server-to-client
// messages arrive on a long-lived GET event stream, client-to-server messages
// are independent POSTs to the endpoint the server announces. A lost stream
// is re-opened with capped exponential backoff; send failures never trigger
// a reconnect.
type SSETransport struct {
	emitter

	rawURL       string
	opts         RemoteOptions
	logger       *slog.Logger
	streamClient *http.Client
	rpcClient    *http.Client

	// ctx lives until Close and parents every stream and POST.
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	baseURL        *url.URL
	closing        bool
	started        bool
	endpoint       *url.URL
	endpointReady  chan struct{}
	endpointOnce   sync.Once
	lastEventID    string
	attempts       int
	reconnectTimer *time.Timer

	wg sync.WaitGroup

	// onReconnectScheduled observes every scheduled reconnect.
	onReconnectScheduled func(attempt int, delay time.Duration)
}

// NewSSETransport creates an SSE transport for the stream at rawURL.
func NewSSETransport(rawURL string, opts RemoteOptions, logger *slog.Logger) *SSETransport {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SSETransport{
		emitter:       newEmitter(),
		rawURL:        rawURL,
		opts:          opts.withDefaults(),
		logger:        logger.With("transport", "sse"),
		streamClient:  cloneHTTPClient(opts.Client),
		rpcClient:     cloneHTTPClient(opts.Client),
		ctx:           ctx,
		cancel:        cancel,
		endpointReady: make(chan struct{}),
	}
}

// Connect validates the URL and opens the event stream.
func (t *SSETransport) Connect(ctx context.Context) error {
	u, err := ValidateRemoteURL(t.rawURL)
	if err != nil {
		return &Error{Category: CategoryConnectionRefused, Op: "connect", Message: err.Error(), Err: err}
	}

	t.mu.Lock()
	if t.closing || t.finished() {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return errors.New("sse transport already connected")
	}
	t.started = true
	t.baseURL = u
	t.mu.Unlock()

	resp, err := t.openStream(ctx)
	if err != nil {
		return &Error{
			Category: Classify(err),
			Op:       "connect",
			Message:  fmt.Sprintf("open SSE stream %s: %v", t.rawURL, err),
			Err:      err,
		}
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		_ = resp.Body.Close()
		return ErrClosed
	}
	t.wg.Add(1)
	t.mu.Unlock()

	t.connected.Store(true)
	go t.readStream(resp)
	return nil
}

// openStream issues the streaming GET. ctx bounds only the wait for headers;
// the body lives until Close.
func (t *SSETransport) openStream(ctx context.Context) (*http.Response, error) {
	streamCtx, cancel := context.WithCancel(t.ctx)
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	setHeaders(req, t.opts.Headers)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	t.mu.Lock()
	if t.lastEventID != "" {
		req.Header.Set("Last-Event-ID", t.lastEventID)
	}
	t.mu.Unlock()

	resp, err := t.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		cancel()
		return nil, statusError(resp, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		_ = resp.Body.Close()
		cancel()
		return nil, newTransportError(CategoryProtocolViolation, false, "unexpected content type %q for event stream", ct)
	}

	// The stream context must outlive this call; cancel rides on the body.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// readStream parses one stream with fresh parser state until it ends.
func (t *SSETransport) readStream(resp *http.Response) {
	defer t.wg.Done()
	defer resp.Body.Close()

	parser := NewSSEParser(t.opts.MaxEventSize)
	buf := make([]byte, readChunkSize)
	var readErr error
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			events, perr := parser.Feed(buf[:n])
			for _, ev := range events {
				if !t.handleEvent(ev) {
					return
				}
			}
			if perr != nil {
				t.logger.Warn("sse parse error", "err", perr)
				if !t.emitError(perr) {
					return
				}
			}
		}
		if err != nil {
			readErr = err
			break
		}
	}
	if ev := parser.Flush(); ev != nil {
		if !t.handleEvent(*ev) {
			return
		}
	}

	t.mu.Lock()
	closing := t.closing
	t.mu.Unlock()
	if closing {
		return
	}

	if readErr == nil || errors.Is(readErr, io.EOF) {
		readErr = errors.New("stream closed by server")
	}
	t.logger.Warn("sse stream lost", "err", readErr)
	if !t.emitError(&TransportError{Category: CategoryConnectionLost, Err: fmt.Errorf("sse stream lost: %w", readErr)}) {
		return
	}
	t.scheduleReconnect()
}

// handleEvent routes one event. It returns false once the transport has ended.
func (t *SSETransport) handleEvent(ev SSEEvent) bool {
	if ev.ID != "" {
		t.mu.Lock()
		t.lastEventID = ev.ID
		t.mu.Unlock()
	}

	switch ev.Event {
	case "endpoint":
		if err := t.setEndpoint(strings.TrimSpace(ev.Data)); err != nil {
			t.logger.Warn("rejected endpoint event", "err", err)
			return t.emitError(err)
		}
		return true
	case "message":
		t.logger.Debug("recv", "payload", ev.Data)
		env, err := Decode([]byte(ev.Data))
		if err != nil {
			return t.emitError(&TransportError{Category: CategoryInvalidPayload, Err: err})
		}
		return t.emitMessage(env)
	default:
		t.logger.Debug("ignoring sse event", "type", ev.Event)
		return true
	}
}

func (t *SSETransport) setEndpoint(raw string) error {
	if raw == "" {
		return newTransportError(CategoryProtocolViolation, false, "empty endpoint event")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return newTransportError(CategoryProtocolViolation, false, "parse endpoint %q: %v", raw, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	resolved := t.baseURL.ResolveReference(ref)
	if !sameOrigin(resolved, t.baseURL) {
		return newTransportError(CategoryProtocolViolation, false,
			"endpoint %q does not match stream origin %s://%s", raw, t.baseURL.Scheme, t.baseURL.Host)
	}
	t.endpoint = resolved
	t.endpointOnce.Do(func() { close(t.endpointReady) })
	t.logger.Debug("endpoint set", "url", resolved.String())
	return nil
}

// backoffDelay returns min(base * 2^(attempt-1), max) for attempt >= 1.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// scheduleReconnect arms the single reconnect timer, or ends the transport
// once MaxReconnectAttempts consecutive attempts have failed.
func (t *SSETransport) scheduleReconnect() {
	t.mu.Lock()
	if t.closing || t.reconnectTimer != nil {
		t.mu.Unlock()
		return
	}
	if t.attempts >= t.opts.MaxReconnectAttempts {
		attempts := t.attempts
		t.mu.Unlock()

		terminal := &Error{
			Category: CategoryConnectionLost,
			Op:       "reconnect",
			Message:  fmt.Sprintf("sse stream lost; gave up after %d reconnect attempts", attempts),
		}
		t.logger.Error("giving up on sse stream", "attempts", attempts)
		t.connected.Store(false)
		t.emitError(terminal)
		t.finish(terminal)
		return
	}
	t.attempts++
	attempt := t.attempts
	delay := backoffDelay(t.opts.ReconnectBaseDelay, t.opts.ReconnectMaxDelay, attempt)
	t.wg.Add(1)
	t.reconnectTimer = time.AfterFunc(delay, t.reconnect)
	hook := t.onReconnectScheduled
	t.mu.Unlock()

	t.connected.Store(false)
	t.logger.Info("scheduling sse reconnect", "attempt", attempt, "delay", delay)
	if hook != nil {
		hook(attempt, delay)
	}
}

func (t *SSETransport) reconnect() {
	defer t.wg.Done()

	t.mu.Lock()
	t.reconnectTimer = nil
	if t.closing {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	resp, err := t.openStream(t.ctx)
	if err != nil {
		t.logger.Warn("sse reconnect failed", "err", err)
		t.scheduleReconnect()
		return
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		_ = resp.Body.Close()
		return
	}
	t.attempts = 0
	t.wg.Add(1)
	t.mu.Unlock()

	t.connected.Store(true)
	t.logger.Info("sse stream reconnected")
	go t.readStream(resp)
}

// messageURL waits for the endpoint event, falling back to DefaultMessagePath
// on the stream's origin.
func (t *SSETransport) messageURL(ctx context.Context) (string, error) {
	wait := time.NewTimer(t.opts.EndpointWait)
	defer wait.Stop()

	select {
	case <-t.endpointReady:
	case <-wait.C:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.done:
		return "", ErrClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.endpoint != nil {
		return t.endpoint.String(), nil
	}
	return t.baseURL.ResolveReference(&url.URL{Path: DefaultMessagePath}).String(), nil
}

// Send POSTs one envelope to the message endpoint.
func (t *SSETransport) Send(ctx context.Context, env *Envelope) error {
	t.mu.Lock()
	closing, started := t.closing, t.started
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

	target, err := t.messageURL(ctx)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, t.opts.SendTimeout)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()

	t.logger.Debug("send", "url", target, "payload", string(payload))

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	setHeaders(req, t.opts.Headers)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.rpcClient.Do(req)
	if err != nil {
		return sendError(sendCtx, t.ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return statusError(resp, body)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return nil
}

// sendError classifies a failed POST.
func sendError(sendCtx, lifetime context.Context, err error) error {
	switch {
	case lifetime.Err() != nil:
		return ErrClosed
	case errors.Is(sendCtx.Err(), context.DeadlineExceeded):
		return &TransportError{Category: CategoryTimeout, Err: fmt.Errorf("send timed out: %w", err)}
	}
	cat := Classify(err)
	if cat == CategoryUnknown {
		cat = CategoryConnectionLost
	}
	return &TransportError{Category: cat, Err: fmt.Errorf("send request: %w", err)}
}

// Close cancels any pending reconnect, the stream and in-flight sends.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	// Set before anything is cancelled so a timer firing now observes it.
	t.closing = true
	timer := t.reconnectTimer
	t.reconnectTimer = nil
	t.mu.Unlock()

	if timer != nil && timer.Stop() {
		// The callback will never run to release its slot.
		t.wg.Done()
	}
	t.finish(nil)
	t.cancel()
	t.wg.Wait()
	return nil
}

// Attempts returns the current consecutive reconnect attempt count.
func (t *SSETransport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}
