package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Bigsy/mcpwire/internal/events"
)

const (
	// DefaultRequestTimeout is the default timeout for RPC calls.
	DefaultRequestTimeout = 30 * time.Second

	defaultClientName    = "mcpwire"
	defaultClientVersion = "0.1.0"
)

// NotificationHandler receives server notifications on the client's
// consumption goroutine. It must not block.
type NotificationHandler func(method string, params json.RawMessage)

// Options configures a Client. The zero value is usable.
type Options struct {
	RequestTimeout time.Duration
	ErrorLogCap    int
	ClientName     string
	ClientVersion  string

	Logger              *slog.Logger
	Bus                 *events.Bus
	NotificationHandler NotificationHandler
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.ErrorLogCap <= 0 {
		o.ErrorLogCap = DefaultErrorLogCap
	}
	if o.ClientName == "" {
		o.ClientName = defaultClientName
	}
	if o.ClientVersion == "" {
		o.ClientVersion = defaultClientVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Target selects and configures a transport.
type Target struct {
	Kind   TransportKind
	Stdio  StdioConfig
	URL    string
	Remote RemoteOptions
}

// Client correlates requests with responses over one Transport. A Client is
// single-use: once Closed it cannot be reconnected.
type Client struct {
	opts   Options
	id     string
	logger *slog.Logger
	bus    *events.Bus
	errLog *ErrorLog

	mu              sync.Mutex
	state           ConnectionState
	transport       Transport
	stdio           *StdioTransport
	pending         map[int64]*pendingRequest
	nextID          int64
	caps            *NegotiatedCapabilities
	startupTimedOut bool
	loopDone        chan struct{}

	// wg tracks replies to server-initiated requests.
	wg sync.WaitGroup
}

type pendingRequest struct {
	timer *time.Timer
	done  chan pendingResult
	// cancelSend abandons a write still in flight when the request expires.
	cancelSend context.CancelFunc
}

type pendingResult struct {
	env *Envelope
	err error
}

// NewClient creates a disconnected client.
func NewClient(opts Options) *Client {
	opts = opts.withDefaults()
	id := uuid.NewString()
	return &Client{
		opts:    opts,
		id:      id,
		logger:  opts.Logger.With("conn", id[:8]),
		bus:     opts.Bus,
		errLog:  NewErrorLog(opts.ErrorLogCap),
		state:   StateDisconnected,
		pending: make(map[int64]*pendingRequest),
	}
}

// ID returns the connection ID stamped on this client's events.
func (c *Client) ID() string { return c.id }

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setStateLocked applies a transition if the table allows it.
func (c *Client) setStateLocked(to ConnectionState, reason string) bool {
	from := c.state
	if !events.CanTransition(from, to) {
		c.logger.Error("invalid state transition", "from", from, "to", to)
		return false
	}
	c.state = to
	c.logger.Debug("state changed", "from", from, "to", to)
	c.bus.Publish(events.NewStateChangedEvent(c.id, from, to, reason))
	return true
}

// Connect dispatches to ConnectStdio or ConnectRemote based on target.Kind.
func (c *Client) Connect(ctx context.Context, target Target) error {
	switch target.Kind {
	case TransportStdio, "":
		return c.ConnectStdio(ctx, target.Stdio)
	case TransportSSE, TransportStreamableHTTP:
		return c.ConnectRemote(ctx, target.URL, target.Kind, target.Remote)
	default:
		return fmt.Errorf("unknown transport kind %q", target.Kind)
	}
}

// ConnectStdio spawns a local server and waits out its startup delay,
// failing fast if the process exits first.
func (c *Client) ConnectStdio(ctx context.Context, cfg StdioConfig) error {
	if cfg.Logger == nil {
		cfg.Logger = c.logger
	}
	onStderr := cfg.OnStderr
	cfg.OnStderr = func(line string) {
		c.bus.Publish(events.NewLogReceivedEvent(c.id, line))
		if onStderr != nil {
			onStderr(line)
		}
	}

	tr := NewStdioTransport(cfg)
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.stdio = tr
	}
	c.mu.Unlock()

	if err := c.ConnectTransport(ctx, tr); err != nil {
		return err
	}

	delay := cfg.StartupDelay
	if delay <= 0 {
		delay = DefaultStartupDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-tr.Done():
		c.waitLoop()
		return &Error{
			Category:    CategoryConnectionLost,
			Op:          "startup",
			Message:     fmt.Sprintf("%s exited during startup", cfg.CommandLine()),
			Diagnostics: tr.Diagnostics().Explain(),
			Err:         tr.Err(),
		}
	case <-ctx.Done():
		_ = c.Disconnect()
		return ctx.Err()
	}
}

// ConnectRemote connects to an SSE or streamable HTTP server.
func (c *Client) ConnectRemote(ctx context.Context, rawURL string, kind TransportKind, opts RemoteOptions) error {
	var tr Transport
	switch kind {
	case TransportSSE:
		tr = NewSSETransport(rawURL, opts, c.logger)
	case TransportStreamableHTTP, "":
		tr = NewStreamableHTTPTransport(rawURL, opts, c.logger)
	default:
		return fmt.Errorf("unsupported remote transport %q", kind)
	}
	return c.ConnectTransport(ctx, tr)
}

// ConnectTransport connects tr and starts consuming it. It is the common
// path of every Connect variant and accepts caller-built transports.
func (c *Client) ConnectTransport(ctx context.Context, tr Transport) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		st := c.state
		c.mu.Unlock()
		if st == StateClosing || st == StateClosed {
			return ErrClosed
		}
		return errors.New("client already connected")
	}
	c.setStateLocked(StateConnecting, "")
	c.mu.Unlock()

	if err := tr.Connect(ctx); err != nil {
		c.recordError("connect", err)
		c.mu.Lock()
		if c.state == StateConnecting {
			c.setStateLocked(StateClosing, err.Error())
			c.mu.Unlock()
			_ = tr.Close()
			c.mu.Lock()
			c.setStateLocked(StateClosed, err.Error())
		}
		c.mu.Unlock()
		return c.connectError(err)
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect raced with Connect.
		c.mu.Unlock()
		_ = tr.Close()
		return ErrClosed
	}
	c.transport = tr
	c.loopDone = make(chan struct{})
	done := c.loopDone
	c.setStateLocked(StateConnected, "")
	c.mu.Unlock()

	go c.consume(tr, done)
	return nil
}

func (c *Client) connectError(err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	cat := Classify(err)
	return &Error{
		Category:        cat,
		Op:              "connect",
		Message:         err.Error(),
		LikelyServerBug: cat.LikelyServerBug(),
		Diagnostics:     c.Diagnostics().Explain(),
		Err:             err,
	}
}

// consume is the single goroutine reading the transport's channels.
func (c *Client) consume(tr Transport, done chan struct{}) {
	defer close(done)
	for {
		select {
		case env := <-tr.Messages():
			c.dispatch(tr, env)
		case err := <-tr.Errors():
			c.recordError("transport", err)
		case <-tr.Done():
			c.onTransportDone(tr)
			return
		}
	}
}

func (c *Client) waitLoop() {
	c.mu.Lock()
	done := c.loopDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Client) dispatch(tr Transport, env *Envelope) {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st != StateConnected {
		c.logger.Debug("dropping message after teardown", "kind", env.Kind, "method", env.Method)
		return
	}

	switch env.Kind {
	case KindResponse:
		if env.ID == nil || env.ID.IsString() || !c.settle(env.ID.Number(), pendingResult{env: env}) {
			id := "<none>"
			if env.ID != nil {
				id = env.ID.String()
			}
			c.logger.Debug("dropping unmatched response", "id", id)
		}
	case KindRequest:
		c.answer(tr, env)
	case KindNotification:
		c.logger.Debug("notification", "method", env.Method)
		c.bus.Publish(events.NewNotificationEvent(c.id, env.Method, env.Params))
		if h := c.opts.NotificationHandler; h != nil {
			h(env.Method, env.Params)
		}
	}
}

// answer replies to a server-initiated request: ping gets an empty result,
// anything else method-not-found.
func (c *Client) answer(tr Transport, req *Envelope) {
	var reply *Envelope
	if req.Method == "ping" {
		reply, _ = NewResult(*req.ID, struct{}{})
	} else {
		reply = NewErrorResponse(*req.ID, NewRPCError(ErrCodeMethodNotFound, "method not found: "+req.Method, nil))
	}

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		defer cancel()
		if err := tr.Send(ctx, reply); err != nil && !errors.Is(err, ErrClosed) {
			c.recordError("reply", err)
		}
	}()
}

// onTransportDone tears the client down after an unexpected transport end.
func (c *Client) onTransportDone(tr Transport) {
	cause := tr.Err()
	c.mu.Lock()
	if c.state != StateConnected {
		// Disconnect owns the teardown.
		c.mu.Unlock()
		return
	}
	if cause == nil {
		cause = &Error{Category: CategoryConnectionLost, Op: "read", Message: "transport closed unexpectedly"}
	}
	c.setStateLocked(StateClosing, cause.Error())
	pending := c.takePendingLocked()
	c.mu.Unlock()

	c.recordError("connection", cause)
	c.logger.Warn("connection lost", "err", cause)
	rejectAll(pending, cause)

	_ = tr.Close()
	c.wg.Wait()

	c.mu.Lock()
	c.setStateLocked(StateClosed, cause.Error())
	c.mu.Unlock()
}

// Disconnect closes the connection: Closing, reject pending requests, close
// the transport, Closed. It is idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return nil
	case StateClosing:
		done := c.loopDone
		c.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	case StateDisconnected:
		c.setStateLocked(StateClosed, "")
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateClosing, "")
	pending := c.takePendingLocked()
	tr, done := c.transport, c.loopDone
	c.mu.Unlock()

	rejectAll(pending, ErrClosed)

	var closeErr error
	if tr != nil {
		closeErr = tr.Close()
	}
	if done != nil {
		<-done
	}
	c.wg.Wait()

	c.mu.Lock()
	c.setStateLocked(StateClosed, "")
	c.mu.Unlock()

	if closeErr != nil {
		c.recordError("close", closeErr)
		return &Error{Category: CategoryShutdownError, Op: "disconnect", Message: closeErr.Error(), Err: closeErr}
	}
	return nil
}

// Close is an alias for Disconnect.
func (c *Client) Close() error { return c.Disconnect() }

func (c *Client) takePendingLocked() map[int64]*pendingRequest {
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	return pending
}

func rejectAll(pending map[int64]*pendingRequest, err error) {
	for _, p := range pending {
		p.timer.Stop()
		p.done <- pendingResult{err: err}
	}
}

// take removes the pending request id from the table. Only the caller that
// gets ok may complete the slot.
func (c *Client) take(id int64) (*pendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return p, ok
}

// settle completes the pending request id. It reports false when no such
// request is pending, so each slot is completed exactly once.
func (c *Client) settle(id int64, r pendingResult) bool {
	p, ok := c.take(id)
	if !ok {
		return false
	}
	p.timer.Stop()
	p.done <- r
	return true
}

// expire completes the pending request id with a timeout. The timeout is
// recorded only when no response, cancellation or disconnect got there first.
func (c *Client) expire(method string, id int64, timeout time.Duration) {
	p, ok := c.take(id)
	if !ok {
		return
	}
	p.done <- pendingResult{err: c.timeoutError(method, id, timeout)}
	p.cancelSend()
}

// PendingCount returns the number of requests awaiting a response.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func stateError(st ConnectionState) error {
	if st == StateClosing || st == StateClosed {
		return ErrClosed
	}
	return ErrNotConnected
}

// Request sends a request and decodes its result into result (which may be
// nil). A JSON-RPC error response is returned as *RPCError.
func (c *Client) Request(ctx context.Context, method string, params, result any) error {
	raw, err := c.roundTrip(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 || isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return &Error{
			Category:        CategoryInvalidPayload,
			Op:              method,
			Message:         fmt.Sprintf("decode result: %v", err),
			LikelyServerBug: true,
			Err:             err,
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		st := c.state
		c.mu.Unlock()
		return nil, stateError(st)
	}
	c.nextID++
	id := c.nextID
	env, err := NewRequest(NumberID(id), method, params)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	timeout := c.opts.RequestTimeout
	sendCtx, cancelSend := context.WithCancel(ctx)
	defer cancelSend()
	p := &pendingRequest{done: make(chan pendingResult, 1), cancelSend: cancelSend}
	p.timer = time.AfterFunc(timeout, func() { c.expire(method, id, timeout) })
	c.pending[id] = p
	tr := c.transport
	c.mu.Unlock()

	// A write the server is not reading is abandoned once the request
	// expires, so the caller still sees the timeout.
	if err := tr.Send(sendCtx, env); err != nil {
		if c.settle(id, pendingResult{err: err}) && !errors.Is(err, ErrClosed) && ctx.Err() == nil {
			c.recordError("send", err)
		}
	}

	var r pendingResult
	select {
	case r = <-p.done:
	case <-ctx.Done():
		c.settle(id, pendingResult{err: ctx.Err()})
		r = <-p.done
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.env.Error != nil {
		return nil, r.env.Error
	}
	return r.env.Result, nil
}

func (c *Client) timeoutError(method string, id int64, timeout time.Duration) error {
	c.mu.Lock()
	stdio := c.stdio != nil
	if method == "initialize" && stdio {
		c.startupTimedOut = true
	}
	c.mu.Unlock()

	err := &Error{
		Category: CategoryTimeout,
		Op:       method,
		Message:  fmt.Sprintf("no response to request %d within %s", id, timeout),
		Err:      ErrRequestTimeout,
	}
	if method == "initialize" {
		err.Diagnostics = c.Diagnostics().Explain()
	}
	c.recordError("request", err)
	return err
}

// Notify sends a notification.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	c.mu.Lock()
	st, tr := c.state, c.transport
	c.mu.Unlock()
	if st != StateConnected {
		return stateError(st)
	}
	env, err := NewNotification(method, params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return tr.Send(ctx, env)
}

// recordError appends err to the transport error log and publishes it.
func (c *Client) recordError(op string, err error) {
	rec := c.errLog.Record(op, err)
	c.logger.Debug("transport error recorded", "op", op, "category", rec.Category, "err", err)
	c.bus.Publish(events.NewTransportErrorEvent(c.id, string(rec.Category), op, rec.Message, rec.LikelyServerBug))
}

// GetTransportErrors returns a copy of the transport error log.
func (c *Client) GetTransportErrors() []TransportErrorRecord {
	return c.errLog.Records()
}

// Diagnostics snapshots what is known about a local server. It is empty for
// remote transports.
func (c *Client) Diagnostics() Diagnostics {
	c.mu.Lock()
	stdio, timedOut := c.stdio, c.startupTimedOut
	c.mu.Unlock()
	if stdio == nil {
		return Diagnostics{StartupTimedOut: timedOut}
	}
	d := stdio.Diagnostics()
	d.StartupTimedOut = timedOut
	return d
}

// Initialize performs the MCP initialization handshake, trying protocol
// versions newest first until one is accepted.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.caps != nil {
		c.mu.Unlock()
		return errors.New("initialize: already initialized")
	}
	c.mu.Unlock()

	var lastErr error
	for i, version := range SupportedProtocolVersions {
		params := initializeParams{
			ProtocolVersion: version,
			Capabilities:    map[string]any{},
			ClientInfo:      Implementation{Name: c.opts.ClientName, Version: c.opts.ClientVersion},
		}

		var result initializeResult
		err := c.Request(ctx, "initialize", params, &result)
		if err != nil {
			if isProtocolVersionError(err) && i < len(SupportedProtocolVersions)-1 {
				c.logger.Info("protocol version rejected, trying next", "version", version, "err", err)
				lastErr = err
				continue
			}
			if lastErr != nil && isProtocolVersionError(err) {
				err = fmt.Errorf("all protocol versions rejected: %w", err)
			}
			c.rejectPending(fmt.Errorf("initialization failed: %w", err))
			return fmt.Errorf("initialize: %w", err)
		}

		negotiated := result.ProtocolVersion
		if negotiated == "" {
			negotiated = version
		}
		caps := &NegotiatedCapabilities{
			ProtocolVersion: negotiated,
			Capabilities:    result.Capabilities,
			ServerInfo:      result.ServerInfo,
			Instructions:    result.Instructions,
		}

		c.mu.Lock()
		c.caps = caps
		tr := c.transport
		c.mu.Unlock()

		if v, ok := tr.(interface{ SetProtocolVersion(string) }); ok {
			v.SetProtocolVersion(negotiated)
		}

		if err := c.Notify(ctx, "notifications/initialized", nil); err != nil {
			return fmt.Errorf("initialized notification: %w", err)
		}
		c.logger.Info("initialized",
			"server", result.ServerInfo.Name,
			"serverVersion", result.ServerInfo.Version,
			"protocol", negotiated)
		return nil
	}
	return errors.New("initialize: no protocol versions to try")
}

// rejectPending fails every in-flight request with err.
func (c *Client) rejectPending(err error) {
	c.mu.Lock()
	pending := c.takePendingLocked()
	c.mu.Unlock()
	rejectAll(pending, err)
}

// isProtocolVersionError checks if an error indicates a protocol version rejection.
func isProtocolVersionError(err error) bool {
	var msg string
	var rpcErr *RPCError
	var te *TransportError
	switch {
	case errors.As(err, &rpcErr):
		msg = rpcErr.Message + " " + string(rpcErr.Data)
	case errors.As(err, &te) && te.Category == CategoryProtocolViolation:
		msg = te.Error()
	default:
		return false
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "protocol") && strings.Contains(lower, "version") ||
		isVersionRejection(msg)
}

// GetCapabilities returns the negotiated capabilities, or nil before Initialize.
func (c *Client) GetCapabilities() *NegotiatedCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.caps == nil {
		return nil
	}
	caps := *c.caps
	return &caps
}

// ServerInfo returns information about the connected server.
func (c *Client) ServerInfo() (name, version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.caps == nil {
		return "", ""
	}
	return c.caps.ServerInfo.Name, c.caps.ServerInfo.Version
}

// ProtocolVersion returns the negotiated protocol version.
func (c *Client) ProtocolVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.caps == nil {
		return ""
	}
	return c.caps.ProtocolVersion
}

// maxPages bounds cursor pagination against servers that never stop.
const maxPages = 1000

// listAll follows nextCursor pagination for a list method whose items live
// under field.
func listAll[T any](ctx context.Context, c *Client, method, field string) ([]T, error) {
	var all []T
	seen := make(map[string]bool)
	cursor := ""
	for page := 0; page < maxPages; page++ {
		var params any
		if cursor != "" {
			params = map[string]string{"cursor": cursor}
		}
		var raw map[string]json.RawMessage
		if err := c.Request(ctx, method, params, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", method, err)
		}
		if v, ok := raw[field]; ok && !isNull(v) {
			var items []T
			if err := json.Unmarshal(v, &items); err != nil {
				return nil, fmt.Errorf("%s: decode %s: %w", method, field, err)
			}
			all = append(all, items...)
		}
		var next string
		if v, ok := raw["nextCursor"]; ok && !isNull(v) {
			if err := json.Unmarshal(v, &next); err != nil {
				return nil, &Error{
					Category:        CategoryProtocolViolation,
					Op:              method,
					Message:         fmt.Sprintf("nextCursor is not a string: %s", v),
					LikelyServerBug: true,
					Err:             err,
				}
			}
		}
		if next == "" {
			if all == nil {
				all = []T{}
			}
			return all, nil
		}
		if seen[next] {
			return nil, newTransportError(CategoryProtocolViolation, false, "%s: server repeated cursor %q", method, next)
		}
		seen[next] = true
		cursor = next
	}
	return nil, newTransportError(CategoryProtocolViolation, false, "%s: more than %d pages", method, maxPages)
}

// ListTools retrieves the list of tools from the server.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	tools, err := listAll[Tool](ctx, c, "tools/list", "tools")
	if err != nil {
		return nil, err
	}
	published := make([]events.McpTool, len(tools))
	for i, t := range tools {
		published[i] = events.McpTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}
	c.bus.Publish(events.NewToolsUpdatedEvent(c.id, published))
	return tools, nil
}

// ListPrompts retrieves every prompt the server offers.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	return listAll[Prompt](ctx, c, "prompts/list", "prompts")
}

// ListResources retrieves every concrete resource the server offers.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	return listAll[Resource](ctx, c, "resources/list", "resources")
}

// ListResourceTemplates retrieves every resource template.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]ResourceTemplate, error) {
	return listAll[ResourceTemplate](ctx, c, "resources/templates/list", "resourceTemplates")
}

// CallTool invokes a tool on the MCP server.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolResult, error) {
	params := toolCallParams{
		Name:      name,
		Arguments: arguments,
	}

	var result ToolResult
	if err := c.Request(ctx, "tools/call", params, &result); err != nil {
		return nil, fmt.Errorf("tools/call: %w", err)
	}
	return &result, nil
}

// ReadResource reads the resource at uri.
func (c *Client) ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error) {
	var result ReadResourceResult
	if err := c.Request(ctx, "resources/read", map[string]string{"uri": uri}, &result); err != nil {
		return nil, fmt.Errorf("resources/read: %w", err)
	}
	return &result, nil
}

// GetPrompt renders a prompt with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*GetPromptResult, error) {
	params := struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments,omitempty"`
	}{Name: name, Arguments: arguments}

	var result GetPromptResult
	if err := c.Request(ctx, "prompts/get", params, &result); err != nil {
		return nil, fmt.Errorf("prompts/get: %w", err)
	}
	return &result, nil
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.Request(ctx, "ping", nil, nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}
