package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Bigsy/mcpwire/internal/config"
	"github.com/Bigsy/mcpwire/internal/events"
	"github.com/Bigsy/mcpwire/internal/mcp"
)

var (
	transportFlag string
	framingFlag   string
	envFlags      []string
)

// addTargetFlags registers the flags that shape an ad-hoc target.
func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&transportFlag, "transport", "", "Remote transport for URL targets: sse or http (default: sse if the path ends in /sse, else http)")
	cmd.Flags().StringVar(&framingFlag, "framing", "", "Stdio framing for command targets: newline (default) or content-length")
	cmd.Flags().StringArrayVarP(&envFlags, "env", "e", nil, "Environment variable for command targets (KEY=VALUE), can be repeated")
}

// target is a resolved connection target.
type target struct {
	Name       string
	Configured bool
	MCP        mcp.Target
}

// resolveTarget splits args into the target and the operation's own
// arguments. With a -- separator the command after it is the target;
// otherwise the first argument is a server name or URL.
func resolveTarget(cmd *cobra.Command, cfg *config.Config, args []string) (target, []string, error) {
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		command := args[dash:]
		if len(command) == 0 {
			return target{}, nil, errors.New("missing command after --")
		}
		env, err := parseEnvFlags(envFlags)
		if err != nil {
			return target{}, nil, err
		}
		framing, err := mcp.ParseFramingMode(framingFlag)
		if err != nil {
			return target{}, nil, err
		}
		t := target{
			Name: command[0],
			MCP: mcp.Target{
				Kind: mcp.TransportStdio,
				Stdio: mcp.StdioConfig{
					Command: command[0],
					Args:    command[1:],
					Env:     env,
					Framing: framing,
				},
			},
		}
		return t, args[:dash], nil
	}

	if len(args) == 0 {
		return target{}, nil, errors.New("missing target: give a server name, a URL, or -- <command>")
	}
	name, rest := args[0], args[1:]

	if isURL(name) {
		kind, err := remoteKind(name, transportFlag)
		if err != nil {
			return target{}, nil, err
		}
		if _, err := mcp.ValidateRemoteURL(name); err != nil {
			return target{}, nil, err
		}
		return target{Name: name, MCP: mcp.Target{Kind: kind, URL: name}}, rest, nil
	}

	srv := cfg.GetServer(name)
	if srv == nil {
		return target{}, nil, fmt.Errorf("server %q not found", name)
	}
	if err := srv.Validate(); err != nil {
		return target{}, nil, err
	}
	return target{Name: name, Configured: true, MCP: srv.Target()}, rest, nil
}

// isURL checks if a string looks like an HTTP(S) URL.
func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func remoteKind(rawURL, flag string) (mcp.TransportKind, error) {
	switch strings.ToLower(flag) {
	case "":
		u, err := url.Parse(rawURL)
		if err == nil && strings.HasSuffix(strings.TrimRight(u.Path, "/"), "/sse") {
			return mcp.TransportSSE, nil
		}
		return mcp.TransportStreamableHTTP, nil
	case "sse":
		return mcp.TransportSSE, nil
	case "http", "streamable", "streamable-http":
		return mcp.TransportStreamableHTTP, nil
	default:
		return "", fmt.Errorf("unknown transport %q: expected sse or http", flag)
	}
}

// parseEnvFlags parses KEY=VALUE pairs from --env flags.
func parseEnvFlags(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}

	env := make(map[string]string)
	for _, kv := range flags {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --env format %q: expected KEY=VALUE", kv)
		}
		if key == "" {
			return nil, fmt.Errorf("invalid --env format %q: key cannot be empty", kv)
		}
		env[key] = value
	}
	return env, nil
}

// sessionFunc runs one operation against an initialized client.
type sessionFunc func(ctx context.Context, client *mcp.Client, t target, rest []string) error

// withSession connects to the target in args, performs the handshake, runs
// fn and disconnects. Interrupts cancel the operation.
func withSession(cmd *cobra.Command, args []string, fn sessionFunc) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	t, rest, err := resolveTarget(cmd, cfg, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	defer bus.Close()
	bus.Subscribe(logEvent, events.EventStateChanged, events.EventLogReceived, events.EventTransportError, events.EventNotification)

	opts := cfg.Client.Options()
	if timeout > 0 {
		opts.RequestTimeout = timeout
	}
	opts.ClientVersion = version
	opts.Logger = logger.With("target", t.Name)
	opts.Bus = bus

	client := mcp.NewClient(opts)
	defer func() { _ = client.Close() }()

	if err := client.Connect(ctx, t.MCP); err != nil {
		return err
	}
	if err := client.Initialize(ctx); err != nil {
		return err
	}
	return fn(ctx, client, t, rest)
}

func logEvent(e events.Event) {
	switch evt := e.(type) {
	case events.StateChangedEvent:
		logger.Debug("state changed", "conn", evt.ConnectionID(), "from", evt.OldState, "to", evt.NewState, "reason", evt.Reason)
	case events.LogReceivedEvent:
		logger.Debug("server stderr", "conn", evt.ConnectionID(), "line", evt.Line)
	case events.TransportErrorEvent:
		logger.Warn("transport error", "conn", evt.ConnectionID(), "category", evt.Category, "op", evt.Operation, "msg", evt.Message)
	case events.NotificationEvent:
		logger.Info("notification", "conn", evt.ConnectionID(), "method", evt.Method)
	}
}
