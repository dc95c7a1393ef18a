// Package mcptest provides test infrastructure for MCP client testing.
package mcptest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/Bigsy/mcpwire/internal/mcptest/fakeserver"
)

// FakeServerConfig is an alias for fakeserver.Config for convenience.
type FakeServerConfig = fakeserver.Config

// Tool is an alias for fakeserver.Tool for convenience.
type Tool = fakeserver.Tool

// JSONRPCError is an alias for fakeserver.JSONRPCError for convenience.
type JSONRPCError = fakeserver.JSONRPCError

const (
	helperEnvMarker = "GO_WANT_HELPER_PROCESS"
	helperEnvConfig = "FAKE_MCP_CFG"
)

// HelperCommand returns the command line and environment overrides that
// launch the fake server by re-executing the test binary. Callers plug these
// into whatever spawner they are testing.
func HelperCommand(t *testing.T, cfg FakeServerConfig) (command string, args []string, env map[string]string) {
	t.Helper()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal fake server config: %v", err)
	}
	return os.Args[0],
		[]string{"-test.run=TestHelperProcess", "--"},
		map[string]string{
			helperEnvMarker: "1",
			helperEnvConfig: string(cfgJSON),
		}
}

// StartFakeServer spawns a fake MCP server as a subprocess using the test helper pattern.
// Returns stdin (write to server), stdout (read from server), and a stop function.
// The stop function is also registered as a t.Cleanup.
func StartFakeServer(t *testing.T, cfg FakeServerConfig) (stdin io.WriteCloser, stdout io.ReadCloser, stop func()) {
	t.Helper()

	command, args, env := HelperCommand(t, cfg)
	cmd := exec.Command(command, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}

	stdout, err = cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.Fatalf("stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("start fake server: %v", err)
	}

	// Drain stderr to prevent deadlock
	go func() { _, _ = io.Copy(io.Discard, stderr) }()

	stop = func() {
		// Close stdin to signal graceful shutdown
		_ = stdin.Close()

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case <-time.After(2 * time.Second):
			_ = cmd.Process.Kill()
			<-done
		case <-done:
		}
	}

	t.Cleanup(stop)
	return stdin, stdout, stop
}

// StartStreamableServer serves the streamable HTTP carrier on a local test
// server. With sseResponses the server answers POSTs with event streams.
func StartStreamableServer(t *testing.T, cfg FakeServerConfig, sseResponses bool) (*httptest.Server, *fakeserver.StreamableHandler) {
	t.Helper()
	h := fakeserver.NewStreamableHandler(cfg, sseResponses)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, h
}

// StartSSEServer serves the legacy HTTP+SSE carrier on a local test server.
// The event stream lives at srv.URL + "/sse".
func StartSSEServer(t *testing.T, cfg FakeServerConfig) (*httptest.Server, *fakeserver.SSEHandler) {
	t.Helper()
	h := fakeserver.NewSSEHandler(cfg)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.DropStreams()
		srv.Close()
	})
	return srv, h
}

// RunHelperProcess implements the fake MCP server when invoked as a subprocess.
// Other packages call this from their own TestHelperProcess:
//
//	func TestHelperProcess(t *testing.T) {
//	    mcptest.RunHelperProcess(t)
//	}
func RunHelperProcess(t *testing.T) {
	if os.Getenv(helperEnvMarker) != "1" {
		return
	}

	cfgJSON := os.Getenv(helperEnvConfig)
	if cfgJSON == "" {
		os.Exit(2)
	}

	var cfg fakeserver.Config
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		os.Exit(2)
	}

	if cfg.StderrOnStart != "" {
		fmt.Fprintln(os.Stderr, cfg.StderrOnStart)
	}
	if cfg.ExitOnStart {
		os.Exit(cfg.CrashExitCode)
	}

	if err := fakeserver.Serve(context.Background(), os.Stdin, os.Stdout, cfg); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
