package mcptest

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bigsy/mcpwire/internal/mcptest/fakeserver"
)

// TestHelperProcess is the entry point for the fake server subprocess.
// It runs the fake server when GO_WANT_HELPER_PROCESS=1 is set.
func TestHelperProcess(t *testing.T) {
	RunHelperProcess(t)
}

func roundTrip(t *testing.T, stdin io.Writer, stdout *bufio.Reader, line string) map[string]any {
	t.Helper()
	_, err := io.WriteString(stdin, line+"\n")
	require.NoError(t, err)

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := stdout.ReadBytes('\n')
		ch <- result{data, err}
	}()

	select {
	case r := <-ch:
		require.NoError(t, r.err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(r.data, &msg))
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fake server")
		return nil
	}
}

func TestStartFakeServer_Initialize(t *testing.T) {
	stdin, stdout, _ := StartFakeServer(t, DefaultConfig())
	r := bufio.NewReader(stdout)

	msg := roundTrip(t, stdin, r, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`)
	result, ok := msg["result"].(map[string]any)
	require.True(t, ok, "expected result, got %v", msg)
	assert.Equal(t, "2025-06-18", result["protocolVersion"])
}

func TestStartFakeServer_ToolsList(t *testing.T) {
	stdin, stdout, _ := StartFakeServer(t, DefaultConfig())
	r := bufio.NewReader(stdout)

	msg := roundTrip(t, stdin, r, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	result := msg["result"].(map[string]any)
	tools := result["tools"].([]any)
	assert.Len(t, tools, 2)
}

func TestHandle_Pagination(t *testing.T) {
	srv := fakeserver.New(PagedToolsConfig(5, 2))

	var names []string
	cursor := ""
	for pages := 0; pages < 10; pages++ {
		req := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
		if cursor != "" {
			req = `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{"cursor":"` + cursor + `"}}`
		}
		outs, err := srv.Handle([]byte(req))
		require.NoError(t, err)
		require.Len(t, outs, 1)

		var resp struct {
			Result struct {
				Tools      []Tool `json:"tools"`
				NextCursor string `json:"nextCursor"`
			} `json:"result"`
		}
		require.NoError(t, json.Unmarshal(outs[0], &resp))
		for _, tool := range resp.Result.Tools {
			names = append(names, tool.Name)
		}
		cursor = resp.Result.NextCursor
		if cursor == "" {
			break
		}
	}

	want := []string{"tool_0", "tool_1", "tool_2", "tool_3", "tool_4"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("tool names mismatch (-want +got):\n%s", diff)
	}
}

func TestHandle_RejectVersions(t *testing.T) {
	srv := fakeserver.New(VersionFallbackConfig("2025-11-25"))

	outs, err := srv.Handle([]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25"}}`))
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Contains(t, string(outs[0]), "Unsupported protocol version")

	outs, err = srv.Handle([]byte(`{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`))
	require.NoError(t, err)
	assert.Contains(t, string(outs[0]), `"protocolVersion":"2025-06-18"`)
}

func TestHandle_NoiseOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendNotificationBeforeResponse = true
	cfg.SendEmptyObjectFirst = true
	cfg.SendMismatchedIDFirst = true
	srv := fakeserver.New(cfg)

	outs, err := srv.Handle([]byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`))
	require.NoError(t, err)
	require.Len(t, outs, 4)
	assert.Contains(t, string(outs[0]), "test/noise")
	assert.Equal(t, "{}", string(outs[1]))
	assert.Contains(t, string(outs[2]), "99999")
	assert.Contains(t, string(outs[3]), `"id":7`)
}

func TestHandle_RecordsReplies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PingOnInitialize = true
	srv := fakeserver.New(cfg)

	outs, err := srv.Handle([]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Contains(t, string(outs[1]), `"method":"ping"`)

	outs, err = srv.Handle([]byte(`{"jsonrpc":"2.0","id":"srv-ping-1","result":{}}`))
	require.NoError(t, err)
	assert.Empty(t, outs)
	assert.Len(t, srv.Replies(), 1)
	assert.Equal(t, []string{"initialize"}, srv.Received())
}

func TestStreamableHandler_SessionLifecycle(t *testing.T) {
	srv, h := StartStreamableServer(t, DefaultConfig(), false)

	post := func(sid, body string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if sid != "" {
			req.Header.Set("Mcp-Session-Id", sid)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := post("", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post("", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sid := resp.Header.Get("Mcp-Session-Id")
	require.NotEmpty(t, sid)

	resp = post(sid, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Mcp-Session-Id", sid)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
	assert.Equal(t, []string{sid}, h.Deleted())

	resp = post(sid, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSSEHandler_EndpointEvent(t *testing.T) {
	srv, h := StartSSEServer(t, DefaultConfig())

	resp, err := http.Get(srv.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	r := bufio.NewReader(resp.Body)
	var event, data string
	for event == "" || data == "" {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	assert.Equal(t, "endpoint", event)
	assert.True(t, strings.HasPrefix(data, "/message?sessionId="), data)
	assert.Equal(t, 1, h.Streams())
}
