package fakeserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

const maxBodySize = 10 << 20

// StreamableHandler serves the streamable HTTP carrier: every client message
// is a POST answered with JSON, an SSE stream, or 202.
type StreamableHandler struct {
	srv *Server
	// SSE makes POST responses text/event-stream instead of application/json.
	SSE bool

	mu       sync.Mutex
	sessions map[string]bool
	requests []http.Header
	deleted  []string
}

// NewStreamableHandler creates a streamable HTTP handler for cfg.
func NewStreamableHandler(cfg Config, sseResponses bool) *StreamableHandler {
	return &StreamableHandler{
		srv:      New(cfg),
		SSE:      sseResponses,
		sessions: make(map[string]bool),
	}
}

// Server returns the underlying message handler.
func (h *StreamableHandler) Server() *Server { return h.srv }

// Requests returns the headers of every POST received.
func (h *StreamableHandler) Requests() []http.Header {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]http.Header, len(h.requests))
	copy(out, h.requests)
	return out
}

// Deleted returns the session IDs the client asked to delete.
func (h *StreamableHandler) Deleted() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.deleted...)
}

// ExpireSessions forgets every session so later requests get 404.
func (h *StreamableHandler) ExpireSessions() {
	h.mu.Lock()
	h.sessions = make(map[string]bool)
	h.mu.Unlock()
}

func (h *StreamableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodDelete:
		sid := r.Header.Get("Mcp-Session-Id")
		h.mu.Lock()
		known := h.sessions[sid]
		delete(h.sessions, sid)
		h.deleted = append(h.deleted, sid)
		h.mu.Unlock()
		if !known {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *StreamableHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var head struct {
		Method string `json:"method"`
	}
	_ = json.Unmarshal(body, &head)
	sid := r.Header.Get("Mcp-Session-Id")

	h.mu.Lock()
	h.requests = append(h.requests, r.Header.Clone())
	known := h.sessions[sid]
	h.mu.Unlock()

	if head.Method != "initialize" {
		if sid == "" {
			http.Error(w, "missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		if !known {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
	}

	outs, err := h.srv.Handle(body)
	if err != nil {
		http.Error(w, "parse error: "+err.Error(), http.StatusBadRequest)
		return
	}

	if head.Method == "initialize" {
		sid = uuid.NewString()
		h.mu.Lock()
		h.sessions[sid] = true
		h.mu.Unlock()
		w.Header().Set("Mcp-Session-Id", sid)
	}

	if len(outs) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if h.SSE {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, o := range outs {
			msg := &sse.Message{Type: sse.Type("message")}
			msg.AppendData(string(o))
			if err := sess.Send(msg); err != nil {
				return
			}
		}
		_ = sess.Flush()
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if len(outs) == 1 {
		_, _ = w.Write(outs[0])
		return
	}
	_, _ = w.Write(append(append([]byte("["), bytes.Join(outs, []byte(","))...), ']'))
}

// SSEHandler serves the legacy HTTP+SSE carrier: a GET event stream at /sse
// announcing a POST endpoint at /message.
type SSEHandler struct {
	srv *Server
	mux *http.ServeMux

	// Endpoint, when set, is announced instead of /message?sessionId=<id>.
	Endpoint string

	mu       sync.Mutex
	sessions map[string]*sseSession
	streams  int
}

type sseSession struct {
	out    chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSSEHandler creates a legacy SSE handler for cfg.
func NewSSEHandler(cfg Config) *SSEHandler {
	h := &SSEHandler{
		srv:      New(cfg),
		mux:      http.NewServeMux(),
		sessions: make(map[string]*sseSession),
	}
	h.mux.HandleFunc("GET /sse", h.handleStream)
	h.mux.HandleFunc("POST /message", h.handleMessage)
	return h
}

// Server returns the underlying message handler.
func (h *SSEHandler) Server() *Server { return h.srv }

// Streams returns how many event streams have been opened.
func (h *SSEHandler) Streams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams
}

// DropStreams ends every open event stream, as a server restart would.
func (h *SSEHandler) DropStreams() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		s.cancel()
	}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *SSEHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		http.Error(w, fmt.Sprintf("upgrade: %v", err), http.StatusInternalServerError)
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s := &sseSession{out: make(chan []byte, 16), ctx: ctx, cancel: cancel}

	h.mu.Lock()
	h.sessions[id] = s
	h.streams++
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, id)
		h.mu.Unlock()
	}()

	endpoint := h.Endpoint
	if endpoint == "" {
		endpoint = "/message?sessionId=" + id
	}
	msg := sse.Message{Type: sse.Type("endpoint")}
	msg.AppendData(endpoint)
	if err := sess.Send(&msg); err != nil {
		return
	}
	if err := sess.Flush(); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-s.out:
			m := &sse.Message{Type: sse.Type("message")}
			m.AppendData(string(data))
			if err := sess.Send(m); err != nil {
				return
			}
			if err := sess.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *SSEHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	h.mu.Lock()
	s := h.sessions[id]
	if s == nil && h.Endpoint != "" {
		// A fixed endpoint carries no session; use any open stream.
		for _, open := range h.sessions {
			s = open
			break
		}
	}
	h.mu.Unlock()
	if s == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	outs, err := h.srv.Handle(body)
	if err != nil {
		http.Error(w, "parse error: "+err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)

	for _, o := range outs {
		select {
		case s.out <- o:
		case <-s.ctx.Done():
			return
		}
	}
}
