package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Bigsy/mcpwire/internal/mcp"
)

const (
	configDir  = ".config/mcpwire"
	configFile = "config.yaml"
)

// ConfigPath returns the full path to the config file.
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, configDir, configFile), nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

// Load reads the configuration from the default path.
// Returns a new empty config if the file doesn't exist.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the configuration from a specific path. JSON files load too,
// since JSON is a subset of YAML.
// Returns a new empty config if the file doesn't exist.
func LoadFrom(path string) (*Config, error) {
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]ServerConfig)
	}

	for name, srv := range cfg.Servers {
		srv.Name = name
		if srv.Kind == "" {
			srv.Kind = inferKind(srv)
		}
		cfg.Servers[name] = srv
	}

	return &cfg, nil
}

// Save writes the configuration to the default path atomically.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the configuration to a specific path atomically.
// Uses a temp file + rename pattern for atomic writes.
func SaveTo(cfg *Config, path string) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("rename config: %w", err)
	}

	return nil
}

func inferKind(srv ServerConfig) ServerKind {
	if srv.Command == "" && srv.URL != "" {
		return ServerKindStreamableHTTP
	}
	return ServerKindStdio
}

// ValidateName checks if a server name is valid.
// Names are non-empty and contain only [a-z0-9_-].
func ValidateName(name string) error {
	if name == "" {
		return errors.New("name cannot be empty")
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_') {
			return errors.New("name must contain only [a-z0-9_-]")
		}
	}
	return nil
}

// AddServer adds a new server to the config.
// Returns an error if a server with the same name already exists.
func (c *Config) AddServer(srv ServerConfig) error {
	if err := ValidateName(srv.Name); err != nil {
		return fmt.Errorf("invalid name: %w", err)
	}
	if _, exists := c.Servers[srv.Name]; exists {
		return fmt.Errorf("server with name %q already exists", srv.Name)
	}
	if srv.Kind == "" {
		srv.Kind = inferKind(srv)
	}
	if err := srv.Validate(); err != nil {
		return err
	}
	c.Servers[srv.Name] = srv
	return nil
}

// DeleteServer removes a server from the config.
func (c *Config) DeleteServer(name string) error {
	if _, exists := c.Servers[name]; !exists {
		return fmt.Errorf("server %q not found", name)
	}
	delete(c.Servers, name)
	return nil
}

// Validate reports the first problem that would stop the server connecting.
func (s ServerConfig) Validate() error {
	switch s.Kind {
	case ServerKindStdio, "":
		if s.Command == "" {
			return fmt.Errorf("server %q: stdio server needs a command", s.Name)
		}
		if _, err := mcp.ParseFramingMode(s.Framing); err != nil {
			return fmt.Errorf("server %q: %w", s.Name, err)
		}
	case ServerKindSSE, ServerKindStreamableHTTP:
		if s.URL == "" {
			return fmt.Errorf("server %q: %s server needs a url", s.Name, s.Kind)
		}
		if _, err := mcp.ValidateRemoteURL(s.URL); err != nil {
			return fmt.Errorf("server %q: %w", s.Name, err)
		}
		if s.ReconnectMaxDelay > 0 && s.ReconnectMaxDelay < s.ReconnectBaseDelay {
			return fmt.Errorf("server %q: reconnectMaxDelay is below reconnectBaseDelay", s.Name)
		}
	default:
		return fmt.Errorf("server %q: unknown kind %q (want stdio, sse or http)", s.Name, s.Kind)
	}
	if s.MaxReconnectAttempts < 0 {
		return fmt.Errorf("server %q: maxReconnectAttempts is negative", s.Name)
	}
	return nil
}

// Target converts the server entry into a transport selection. Call
// Validate first; an invalid framing falls back to newline.
func (s ServerConfig) Target() mcp.Target {
	switch s.Kind {
	case ServerKindSSE, ServerKindStreamableHTTP:
		return mcp.Target{
			Kind: mcp.TransportKind(s.Kind),
			URL:  s.URL,
			Remote: mcp.RemoteOptions{
				Headers:              s.Headers,
				SendTimeout:          s.SendTimeout.Std(),
				ReconnectBaseDelay:   s.ReconnectBaseDelay.Std(),
				ReconnectMaxDelay:    s.ReconnectMaxDelay.Std(),
				MaxReconnectAttempts: s.MaxReconnectAttempts,
			},
		}
	default:
		framing, _ := mcp.ParseFramingMode(s.Framing)
		return mcp.Target{
			Kind: mcp.TransportStdio,
			Stdio: mcp.StdioConfig{
				Command:      s.Command,
				Args:         s.Args,
				Env:          s.Env,
				Dir:          s.Cwd,
				Framing:      framing,
				StartupDelay: s.StartupDelay.Std(),
				GracePeriod:  s.GracePeriod.Std(),
			},
		}
	}
}

// Options converts the tuning block into client options.
func (t ClientTuning) Options() mcp.Options {
	return mcp.Options{
		RequestTimeout: t.RequestTimeout.Std(),
		ErrorLogCap:    t.ErrorLogCap,
		ClientName:     t.ClientName,
	}
}
