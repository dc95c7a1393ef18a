package fakeserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Server is a scripted MCP server. It is carrier-agnostic: Handle maps one
// inbound message to the messages to send back, and ServeStream and the HTTP
// handlers move those bytes.
type Server struct {
	cfg Config

	mu           sync.Mutex
	requestCount int
	attempts     map[string]int
	received     []string
	replies      []json.RawMessage
	pingSeq      int
}

// New creates a server for cfg.
func New(cfg Config) *Server {
	return &Server{cfg: cfg, attempts: make(map[string]int)}
}

// Serve runs the fake MCP server, reading requests from in and writing responses to out.
func Serve(ctx context.Context, in io.Reader, out io.Writer, cfg Config) error {
	return New(cfg).ServeStream(ctx, in, out)
}

// Received returns the methods received so far, in order.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.received)
}

// Replies returns the client's results for server-initiated requests.
func (s *Server) Replies() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.replies)
}

// ServeStream reads frames from in until EOF and writes responses to out
// using the configured framing.
func (s *Server) ServeStream(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	contentLength := s.cfg.Framing == "content-length"

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := readFrame(reader, contentLength)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if len(bytes.TrimSpace(msg)) == 0 {
			continue
		}

		outs, err := s.Handle(msg)
		if err != nil {
			return err
		}
		for _, o := range outs {
			if err := writeFrame(out, o, contentLength); err != nil {
				return err
			}
		}
	}
}

func readFrame(r *bufio.Reader, contentLength bool) ([]byte, error) {
	if !contentLength {
		line, err := r.ReadBytes('\n')
		if err == io.EOF && len(line) > 0 {
			return line, nil
		}
		return line, err
	}

	header, err := textproto.NewReader(r).ReadMIMEHeader()
	if err != nil {
		if errors.Is(err, io.EOF) && len(header) == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	n, err := strconv.Atoi(header.Get("Content-Length"))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("bad content-length %q", header.Get("Content-Length"))
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func writeFrame(w io.Writer, payload []byte, contentLength bool) error {
	var buf bytes.Buffer
	if contentLength {
		fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(payload))
		buf.Write(payload)
	} else {
		buf.Write(payload)
		buf.WriteByte('\n')
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Handle processes one inbound message and returns the messages to send
// back, in order. Crash settings terminate the process.
func (s *Server) Handle(data []byte) ([][]byte, error) {
	var msg rpcMessage
	if err := json.Unmarshal(bytes.TrimSpace(data), &msg); err != nil {
		return nil, err
	}

	// A reply to one of our own requests.
	if msg.Method == "" {
		s.mu.Lock()
		if msg.Result != nil {
			s.replies = append(s.replies, msg.Result)
		}
		s.mu.Unlock()
		return nil, nil
	}

	s.mu.Lock()
	s.requestCount++
	s.attempts[msg.Method]++
	requestCount := s.requestCount
	attempt := s.attempts[msg.Method]
	s.received = append(s.received, msg.Method)
	s.mu.Unlock()

	cfg := s.cfg

	// Check crash conditions
	if cfg.CrashOnNthRequest > 0 && requestCount >= cfg.CrashOnNthRequest {
		os.Exit(cfg.CrashExitCode)
	}
	if cfg.CrashOnMethod != "" && msg.Method == cfg.CrashOnMethod {
		os.Exit(cfg.CrashExitCode)
	}

	if delay, ok := cfg.Delays[msg.Method]; ok {
		time.Sleep(delay)
	}

	// Notifications never get a response.
	if len(msg.ID) == 0 {
		if msg.Method == "notifications/initialized" && cfg.NotifyOnInitialized {
			return [][]byte{mustMarshal(rpcOutbound{
				JSONRPC: "2.0",
				Method:  "notifications/message",
				Params:  map[string]any{"level": "info", "data": "server ready"},
			})}, nil
		}
		return nil, nil
	}

	if slices.Contains(cfg.Silent, msg.Method) {
		return nil, nil
	}

	if cfg.Malformed {
		return [][]byte{[]byte("this is not valid json")}, nil
	}

	if failAttempt, ok := cfg.FailOnAttempt[msg.Method]; ok && attempt == failAttempt {
		return s.respond(msg.ID, nil, &JSONRPCError{Code: -32603, Message: "Simulated failure on attempt"}), nil
	}

	if rpcErr, ok := cfg.Errors[msg.Method]; ok {
		return s.respond(msg.ID, nil, &rpcErr), nil
	}

	result, rpcErr := s.dispatch(msg)
	out := s.respond(msg.ID, result, rpcErr)

	if msg.Method == "initialize" && rpcErr == nil && cfg.PingOnInitialize {
		s.mu.Lock()
		s.pingSeq++
		id := fmt.Sprintf(`"srv-ping-%d"`, s.pingSeq)
		s.mu.Unlock()
		out = append(out, mustMarshal(rpcOutbound{JSONRPC: "2.0", ID: json.RawMessage(id), Method: "ping"}))
	}
	return out, nil
}

// respond builds the response and any configured noise in front of it.
func (s *Server) respond(id json.RawMessage, result any, rpcErr *JSONRPCError) [][]byte {
	var out [][]byte
	cfg := s.cfg

	// Stream realism: send notification before response if configured
	if cfg.SendNotificationBeforeResponse {
		out = append(out, mustMarshal(rpcOutbound{JSONRPC: "2.0", Method: "test/noise"}))
	}
	if cfg.SendEmptyObjectFirst {
		out = append(out, []byte(`{}`))
	}
	// Stream realism: send mismatched ID first if configured
	if cfg.SendMismatchedIDFirst {
		out = append(out, mustMarshal(rpcResponse{JSONRPC: "2.0", ID: json.RawMessage(`99999`), Result: json.RawMessage(`{}`)}))
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: id}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = mustMarshal(result)
	}
	return append(out, mustMarshal(resp))
}

func (s *Server) dispatch(msg rpcMessage) (any, *JSONRPCError) {
	cfg := s.cfg

	switch msg.Method {
	case "initialize":
		var params struct {
			ProtocolVersion string `json:"protocolVersion"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		if slices.Contains(cfg.RejectVersions, params.ProtocolVersion) {
			return nil, &JSONRPCError{
				Code:    -32602,
				Message: "Unsupported protocol version: " + params.ProtocolVersion,
			}
		}
		version := params.ProtocolVersion
		if version == "" {
			version = "2024-11-05"
		}
		return InitializeResult{
			ProtocolVersion: version,
			ServerInfo:      ServerInfo{Name: "fake-server", Version: "1.0.0"},
			Capabilities: Capabilities{
				Tools:     &ListChangedCapability{},
				Prompts:   &ListChangedCapability{},
				Resources: &ListChangedCapability{},
			},
			Instructions: "fake server for tests",
		}, nil

	case "ping":
		return struct{}{}, nil

	case "tools/list":
		return paged("tools", cfg.Tools, msg.Params, cfg.PageSize)
	case "prompts/list":
		return paged("prompts", cfg.Prompts, msg.Params, cfg.PageSize)
	case "resources/list":
		return paged("resources", cfg.Resources, msg.Params, cfg.PageSize)
	case "resources/templates/list":
		return paged("resourceTemplates", cfg.ResourceTemplates, msg.Params, cfg.PageSize)

	case "tools/call":
		return s.callTool(msg.Params)

	case "resources/read":
		var params struct {
			URI string `json:"uri"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		for _, r := range cfg.Resources {
			if r.URI == params.URI {
				text := r.Text
				if text == "" {
					text = "contents of " + r.URI
				}
				return map[string]any{"contents": []map[string]string{
					{"uri": r.URI, "mimeType": r.MimeType, "text": text},
				}}, nil
			}
		}
		return nil, &JSONRPCError{Code: -32002, Message: "Resource not found: " + params.URI}

	case "prompts/get":
		var params struct {
			Name      string            `json:"name"`
			Arguments map[string]string `json:"arguments"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		for _, p := range cfg.Prompts {
			if p.Name == params.Name {
				keys := make([]string, 0, len(params.Arguments))
				for k := range params.Arguments {
					keys = append(keys, k)
				}
				slices.Sort(keys)
				var b strings.Builder
				b.WriteString("prompt " + p.Name)
				for _, k := range keys {
					fmt.Fprintf(&b, " %s=%s", k, params.Arguments[k])
				}
				return map[string]any{
					"description": p.Description,
					"messages": []map[string]any{{
						"role":    "user",
						"content": ContentBlock{Type: "text", Text: b.String()},
					}},
				}, nil
			}
		}
		return nil, &JSONRPCError{Code: -32602, Message: "Unknown prompt: " + params.Name}

	default:
		return nil, &JSONRPCError{Code: -32601, Message: "Method not found"}
	}
}

func (s *Server) callTool(raw json.RawMessage) (any, *JSONRPCError) {
	cfg := s.cfg
	var params ToolCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &JSONRPCError{Code: -32602, Message: "Invalid params"}
	}

	if cfg.ToolHandler != nil {
		content, isError, err := cfg.ToolHandler(params.Name, params.Arguments)
		if err != nil {
			return nil, &JSONRPCError{Code: -32603, Message: err.Error()}
		}
		return ToolCallResult{Content: content, IsError: isError}, nil
	}

	if cfg.EnvTool && params.Name == "env" {
		var args struct {
			Names []string `json:"names"`
		}
		_ = json.Unmarshal(params.Arguments, &args)
		values := make(map[string]string)
		for _, name := range args.Names {
			if v, ok := os.LookupEnv(name); ok {
				values[name] = v
			}
		}
		return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: string(mustMarshal(values))}}}, nil
	}

	if cfg.EchoToolCalls {
		text := params.Name
		if len(params.Arguments) > 0 {
			text += ": " + string(params.Arguments)
		}
		return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}, nil
	}

	for _, t := range cfg.Tools {
		if t.Name == params.Name {
			return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: "ok"}}}, nil
		}
	}
	return nil, &JSONRPCError{Code: -32602, Message: "Unknown tool: " + params.Name}
}

// paged returns one page of items under field. The cursor is the decimal
// offset of the page's first item.
func paged[T any](field string, items []T, rawParams json.RawMessage, size int) (any, *JSONRPCError) {
	if items == nil {
		items = []T{}
	}
	var params struct {
		Cursor string `json:"cursor"`
	}
	_ = json.Unmarshal(rawParams, &params)

	start := 0
	if params.Cursor != "" {
		n, err := strconv.Atoi(params.Cursor)
		if err != nil || n < 0 || n > len(items) {
			return nil, &JSONRPCError{Code: -32602, Message: "Invalid cursor"}
		}
		start = n
	}
	end := len(items)
	if size > 0 && start+size < end {
		end = start + size
	}

	result := map[string]any{field: items[start:end]}
	if end < len(items) {
		result["nextCursor"] = strconv.Itoa(end)
	}
	return result, nil
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("fakeserver: marshal %T: %v", v, err))
	}
	return data
}
