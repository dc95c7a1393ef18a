// Package config provides the configuration schema and persistence for
// named MCP server targets.
package config

import (
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerKind represents the transport type for an MCP server.
type ServerKind string

const (
	ServerKindStdio          ServerKind = "stdio"
	ServerKindSSE            ServerKind = "sse"
	ServerKindStreamableHTTP ServerKind = "http"
)

// Duration is a time.Duration written as a Go duration string ("250ms", "30s").
type Duration time.Duration

// UnmarshalYAML accepts a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"30s\"", node.Line)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	if v < 0 {
		return fmt.Errorf("line %d: duration %q is negative", node.Line, s)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig describes one MCP server reachable by name.
type ServerConfig struct {
	Name string     `yaml:"-"`
	Kind ServerKind `yaml:"kind,omitempty"`

	// stdio
	Command      string            `yaml:"command,omitempty"`
	Args         []string          `yaml:"args,omitempty"`
	Cwd          string            `yaml:"cwd,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	Framing      string            `yaml:"framing,omitempty"` // "newline" (default) or "content-length"
	StartupDelay Duration          `yaml:"startupDelay,omitempty"`
	GracePeriod  Duration          `yaml:"gracePeriod,omitempty"`

	// sse and http
	URL                  string            `yaml:"url,omitempty"`
	Headers              map[string]string `yaml:"headers,omitempty"`
	SendTimeout          Duration          `yaml:"sendTimeout,omitempty"`
	ReconnectBaseDelay   Duration          `yaml:"reconnectBaseDelay,omitempty"`
	ReconnectMaxDelay    Duration          `yaml:"reconnectMaxDelay,omitempty"`
	MaxReconnectAttempts int               `yaml:"maxReconnectAttempts,omitempty"`
}

// ClientTuning holds settings shared by every connection.
type ClientTuning struct {
	RequestTimeout Duration `yaml:"requestTimeout,omitempty"`
	ErrorLogCap    int      `yaml:"errorLogCap,omitempty"`
	ClientName     string   `yaml:"clientName,omitempty"`
}

// Config is the root configuration structure.
type Config struct {
	Servers map[string]ServerConfig `yaml:"servers"`
	Client  ClientTuning            `yaml:"client,omitempty"`
}

// NewConfig creates a new empty configuration.
func NewConfig() *Config {
	return &Config{Servers: make(map[string]ServerConfig)}
}

// ServerList returns the servers sorted by name for display.
func (c *Config) ServerList() []ServerConfig {
	servers := make([]ServerConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		servers = append(servers, s)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers
}

// GetServer returns a server by name, or nil if not found.
func (c *Config) GetServer(name string) *ServerConfig {
	if s, ok := c.Servers[name]; ok {
		return &s
	}
	return nil
}
