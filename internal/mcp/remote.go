package mcp

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultConnectTimeout is the timeout for initial HTTP connections.
const DefaultConnectTimeout = 30 * time.Second

// RemoteOptions configures the SSE and streamable HTTP transports.
type RemoteOptions struct {
	// Headers are static headers included in every request.
	Headers map[string]string
	// Client is the HTTP client to use. If nil, http.DefaultClient is used.
	// Its Timeout is ignored; timeouts are applied per operation.
	Client *http.Client

	// SendTimeout bounds each POST.
	SendTimeout time.Duration
	// MaxEventSize bounds a single SSE event.
	MaxEventSize int

	// SSE reconnection. Zero values take defaults.
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	// EndpointWait bounds how long Send waits for the SSE endpoint event
	// before falling back to DefaultMessagePath.
	EndpointWait time.Duration
}

const (
	DefaultSendTimeout          = 30 * time.Second
	DefaultReconnectBaseDelay   = time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultEndpointWait         = 5 * time.Second

	// DefaultMessagePath is used for SSE POSTs when the server never names an endpoint.
	DefaultMessagePath = "/message"
)

func (o RemoteOptions) withDefaults() RemoteOptions {
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.MaxEventSize <= 0 {
		o.MaxEventSize = DefaultMaxSSEEventSize
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if o.ReconnectMaxDelay < o.ReconnectBaseDelay {
		o.ReconnectMaxDelay = o.ReconnectBaseDelay
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.EndpointWait <= 0 {
		o.EndpointWait = DefaultEndpointWait
	}
	return o
}

// ValidateRemoteURL parses raw and rejects plaintext http to anything but a
// loopback host, so session headers never cross the network unencrypted.
func ValidateRemoteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: missing host", raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return u, nil
	case "http":
		if IsLoopbackHost(u.Hostname()) {
			return u, nil
		}
		return nil, fmt.Errorf("insecure url %q: http is only allowed for loopback hosts, use https", raw)
	default:
		return nil, fmt.Errorf("invalid url %q: unsupported scheme %q", raw, u.Scheme)
	}
}

// IsLoopbackHost reports whether host is localhost or a loopback address.
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

func cloneHTTPClient(base *http.Client) *http.Client {
	c := &http.Client{}
	if base != nil {
		*c = *base
	}
	c.Timeout = 0

	if c.Transport == nil {
		c.Transport = defaultHTTPTransport()
		return c
	}
	if t, ok := c.Transport.(*http.Transport); ok {
		tt := t.Clone()
		if tt.ResponseHeaderTimeout == 0 {
			tt.ResponseHeaderTimeout = DefaultConnectTimeout
		}
		if tt.TLSHandshakeTimeout == 0 {
			tt.TLSHandshakeTimeout = DefaultConnectTimeout
		}
		c.Transport = tt
	}
	return c
}

func defaultHTTPTransport() *http.Transport {
	// A header timeout keeps requests that never respond from hanging forever
	// without putting a deadline on long-lived SSE bodies.
	if dt, ok := http.DefaultTransport.(*http.Transport); ok {
		t := dt.Clone()
		t.ResponseHeaderTimeout = DefaultConnectTimeout
		if t.TLSHandshakeTimeout == 0 {
			t.TLSHandshakeTimeout = DefaultConnectTimeout
		}
		return t
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   DefaultConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: DefaultConnectTimeout,
	}
}

func setHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// statusError describes a non-2xx HTTP response.
func statusError(resp *http.Response, body []byte) *TransportError {
	cat := CategoryConnectionRefused
	switch {
	case resp.StatusCode >= 500:
		cat = CategoryConnectionLost
	case resp.StatusCode == http.StatusBadRequest:
		cat = CategoryProtocolViolation
	}
	msg := strings.TrimSpace(string(body))
	if msg != "" {
		return &TransportError{Category: cat, Err: fmt.Errorf("unexpected status %s: %s", resp.Status, msg)}
	}
	return &TransportError{Category: cat, Err: fmt.Errorf("unexpected status %s", resp.Status)}
}
