package mcptest

import (
	"fmt"
	"time"

	"github.com/Bigsy/mcpwire/internal/mcptest/fakeserver"
)

// Common test configurations for fake MCP servers.

// DefaultConfig returns a minimal working fake server configuration.
func DefaultConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{
			{Name: "read_file", Description: "Read a file from disk"},
			{Name: "write_file", Description: "Write content to a file"},
		},
	}
}

// EmptyToolsConfig returns a config with no tools.
func EmptyToolsConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{},
	}
}

// LargeToolListConfig returns a config with many tools (for performance testing).
func LargeToolListConfig(count int) FakeServerConfig {
	tools := make([]Tool, count)
	for i := 0; i < count; i++ {
		tools[i] = Tool{
			Name:        "tool_" + string(rune('a'+i%26)) + "_" + string(rune('0'+i/26)),
			Description: "A test tool for performance testing",
		}
	}
	return FakeServerConfig{Tools: tools}
}

// SlowInitConfig returns a config that delays the initialize response.
func SlowInitConfig(delay time.Duration) FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{{Name: "test_tool"}},
		Delays: map[string]time.Duration{
			"initialize": delay,
		},
	}
}

// SlowToolsListConfig returns a config that delays the tools/list response.
func SlowToolsListConfig(delay time.Duration) FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{{Name: "test_tool"}},
		Delays: map[string]time.Duration{
			"tools/list": delay,
		},
	}
}

// CrashOnInitConfig returns a config that crashes on initialize.
func CrashOnInitConfig(exitCode int) FakeServerConfig {
	return FakeServerConfig{
		CrashOnMethod: "initialize",
		CrashExitCode: exitCode,
	}
}

// CrashOnNthRequestConfig returns a config that crashes on the Nth request.
func CrashOnNthRequestConfig(n, exitCode int) FakeServerConfig {
	return FakeServerConfig{
		Tools:             []Tool{{Name: "test_tool"}},
		CrashOnNthRequest: n,
		CrashExitCode:     exitCode,
	}
}

// ErrorOnInitConfig returns a config that returns an error on initialize.
func ErrorOnInitConfig(code int, message string) FakeServerConfig {
	return FakeServerConfig{
		Errors: map[string]JSONRPCError{
			"initialize": {Code: code, Message: message},
		},
	}
}

// FailOnAttemptConfig returns a config that fails on a specific attempt of a method.
func FailOnAttemptConfig(method string, attempt int) FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{{Name: "test_tool"}},
		FailOnAttempt: map[string]int{
			method: attempt,
		},
	}
}

// NotificationBeforeResponseConfig returns a config that sends a notification before each response.
// Tests that clients properly skip notifications when waiting for responses.
func NotificationBeforeResponseConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools:                          []Tool{{Name: "test_tool"}},
		SendNotificationBeforeResponse: true,
	}
}

// MismatchedIDConfig returns a config that sends a response with wrong ID before the correct one.
// Tests that clients properly match response IDs.
func MismatchedIDConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools:                 []Tool{{Name: "test_tool"}},
		SendMismatchedIDFirst: true,
	}
}

// MalformedResponseConfig returns a config that sends invalid JSON.
func MalformedResponseConfig() FakeServerConfig {
	return FakeServerConfig{
		Malformed: true,
	}
}

// EchoToolsConfig returns a config that echoes tool calls back as text.
// Useful for testing tool call routing.
func EchoToolsConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{
			{Name: "echo", Description: "Echo the input back"},
			{Name: "greet", Description: "Return a greeting"},
		},
		EchoToolCalls: true,
	}
}

// PagedToolsConfig returns count tools named tool_0..tool_N served pageSize at a time.
func PagedToolsConfig(count, pageSize int) FakeServerConfig {
	tools := make([]Tool, count)
	for i := range tools {
		tools[i] = Tool{Name: fmt.Sprintf("tool_%d", i)}
	}
	return FakeServerConfig{Tools: tools, PageSize: pageSize}
}

// VersionFallbackConfig returns a config whose initialize rejects the given
// protocol versions, forcing the client to fall back.
func VersionFallbackConfig(rejected ...string) FakeServerConfig {
	cfg := DefaultConfig()
	cfg.RejectVersions = rejected
	return cfg
}

// ContentLengthConfig returns the default config framed with Content-Length headers.
func ContentLengthConfig() FakeServerConfig {
	cfg := DefaultConfig()
	cfg.Framing = "content-length"
	return cfg
}

// ServerPingConfig returns a config that pings the client right after initialize.
func ServerPingConfig() FakeServerConfig {
	cfg := DefaultConfig()
	cfg.PingOnInitialize = true
	return cfg
}

// EnvToolConfig returns a config exposing the "env" tool, which reports the
// server process's environment.
func EnvToolConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools:   []Tool{{Name: "env", Description: "Report environment variables"}},
		EnvTool: true,
	}
}

// StartupFailureConfig returns a config whose process writes stderr and exits
// before serving anything.
func StartupFailureConfig(stderr string, exitCode int) FakeServerConfig {
	return FakeServerConfig{
		StderrOnStart: stderr,
		ExitOnStart:   true,
		CrashExitCode: exitCode,
	}
}

// CatalogConfig returns a config with tools, prompts, resources, and templates.
func CatalogConfig() FakeServerConfig {
	cfg := DefaultConfig()
	cfg.Prompts = []fakeserver.Prompt{
		{Name: "summarize", Description: "Summarize text", Arguments: []fakeserver.PromptArgument{{Name: "topic", Required: true}}},
	}
	cfg.Resources = []fakeserver.Resource{
		{URI: "file:///notes.txt", Name: "notes", MimeType: "text/plain", Text: "hello notes"},
	}
	cfg.ResourceTemplates = []fakeserver.ResourceTemplate{
		{URITemplate: "file:///{path}", Name: "files"},
	}
	return cfg
}
