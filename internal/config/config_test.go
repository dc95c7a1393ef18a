package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bigsy/mcpwire/internal/mcp"
	"github.com/Bigsy/mcpwire/internal/testutil"
)

func TestLoad_NonExistentFile(t *testing.T) {
	testutil.SetupTestHome(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.Servers)
}

func TestLoad_ValidConfig(t *testing.T) {
	testutil.SetupTestHome(t)
	testutil.WriteTestConfig(t, `
servers:
  files:
    command: npx
    args: ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
    env:
      LOG_LEVEL: debug
    framing: content-length
    startupDelay: 250ms
  remote:
    kind: sse
    url: https://mcp.example.com/sse
    headers:
      X-Team: infra
    reconnectBaseDelay: 500ms
    reconnectMaxDelay: 10s
    maxReconnectAttempts: 3
  inferred:
    url: https://mcp.example.com/mcp
client:
  requestTimeout: 5s
  errorLogCap: 10
`)

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 3)

	files := cfg.GetServer("files")
	require.NotNil(t, files)
	assert.Equal(t, "files", files.Name)
	assert.Equal(t, ServerKindStdio, files.Kind)
	assert.Equal(t, 250*time.Millisecond, files.StartupDelay.Std())
	require.NoError(t, files.Validate())

	remote := cfg.GetServer("remote")
	require.NotNil(t, remote)
	assert.Equal(t, ServerKindSSE, remote.Kind)
	assert.Equal(t, 10*time.Second, remote.ReconnectMaxDelay.Std())

	assert.Equal(t, ServerKindStreamableHTTP, cfg.GetServer("inferred").Kind)

	assert.Equal(t, 5*time.Second, cfg.Client.RequestTimeout.Std())
	opts := cfg.Client.Options()
	assert.Equal(t, 5*time.Second, opts.RequestTimeout)
	assert.Equal(t, 10, opts.ErrorLogCap)
}

func TestLoad_JSONConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"servers":{"echo":{"command":"echo","args":["hi"]}}}`), 0644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, cfg.GetServer("echo").Args)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"syntax", "servers: [unclosed"},
		{"bad duration", "servers:\n  a:\n    command: x\n    startupDelay: soon\n"},
		{"negative duration", "servers:\n  a:\n    command: x\n    gracePeriod: -1s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))
			_, err := LoadFrom(path)
			assert.Error(t, err)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := NewConfig()
	require.NoError(t, cfg.AddServer(ServerConfig{
		Name:         "files",
		Command:      "server",
		StartupDelay: Duration(time.Second),
	}))
	require.NoError(t, SaveTo(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	got := loaded.GetServer("files")
	require.NotNil(t, got)
	assert.Equal(t, time.Second, got.StartupDelay.Std())
	assert.Equal(t, ServerKindStdio, got.Kind)
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"files", false},
		{"my-server_2", false},
		{"", true},
		{"Files", true},
		{"a.b", true},
		{"with space", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_AddDeleteServer(t *testing.T) {
	cfg := NewConfig()

	require.NoError(t, cfg.AddServer(ServerConfig{Name: "a", Command: "x"}))
	assert.Error(t, cfg.AddServer(ServerConfig{Name: "a", Command: "y"}), "duplicate name")
	assert.Error(t, cfg.AddServer(ServerConfig{Name: "b"}), "stdio without command")
	require.NoError(t, cfg.AddServer(ServerConfig{Name: "c", URL: "http://localhost:8080/mcp"}))
	assert.Equal(t, ServerKindStreamableHTTP, cfg.GetServer("c").Kind)

	names := []string{}
	for _, s := range cfg.ServerList() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"a", "c"}, names)

	require.NoError(t, cfg.DeleteServer("a"))
	assert.Error(t, cfg.DeleteServer("a"))
	assert.Nil(t, cfg.GetServer("a"))
}

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		srv     ServerConfig
		wantErr bool
	}{
		{"stdio ok", ServerConfig{Kind: ServerKindStdio, Command: "x"}, false},
		{"bad framing", ServerConfig{Kind: ServerKindStdio, Command: "x", Framing: "xml"}, true},
		{"https ok", ServerConfig{Kind: ServerKindStreamableHTTP, URL: "https://example.com/mcp"}, false},
		{"loopback http ok", ServerConfig{Kind: ServerKindSSE, URL: "http://127.0.0.1:9000/sse"}, false},
		{"plain http rejected", ServerConfig{Kind: ServerKindSSE, URL: "http://example.com/sse"}, true},
		{"missing url", ServerConfig{Kind: ServerKindStreamableHTTP}, true},
		{"inverted backoff", ServerConfig{
			Kind: ServerKindSSE, URL: "https://example.com/sse",
			ReconnectBaseDelay: Duration(time.Minute), ReconnectMaxDelay: Duration(time.Second),
		}, true},
		{"unknown kind", ServerConfig{Kind: "websocket", URL: "wss://example.com"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.srv.Name = "s"
			err := tt.srv.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServerConfig_Target(t *testing.T) {
	stdio := ServerConfig{
		Name:        "files",
		Kind:        ServerKindStdio,
		Command:     "server",
		Args:        []string{"--root", "/tmp"},
		Cwd:         "/work",
		Env:         map[string]string{"A": "1"},
		Framing:     "content-length",
		GracePeriod: Duration(3 * time.Second),
	}
	target := stdio.Target()
	assert.Equal(t, mcp.TransportStdio, target.Kind)
	assert.Equal(t, "server", target.Stdio.Command)
	assert.Equal(t, "/work", target.Stdio.Dir)
	assert.Equal(t, mcp.FramingContentLength, target.Stdio.Framing)
	assert.Equal(t, 3*time.Second, target.Stdio.GracePeriod)
	assert.Equal(t, map[string]string{"A": "1"}, target.Stdio.Env)

	remote := ServerConfig{
		Name:                 "remote",
		Kind:                 ServerKindSSE,
		URL:                  "https://example.com/sse",
		Headers:              map[string]string{"X-Team": "infra"},
		MaxReconnectAttempts: 7,
	}
	target = remote.Target()
	assert.Equal(t, mcp.TransportSSE, target.Kind)
	assert.Equal(t, "https://example.com/sse", target.URL)
	assert.Equal(t, 7, target.Remote.MaxReconnectAttempts)
	assert.Equal(t, "infra", target.Remote.Headers["X-Team"])
}
