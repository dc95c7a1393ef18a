package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bigsy/mcpwire/internal/config"
)

var (
	addCwd       string
	addHeaders   []string
	addTransport string
	addFraming   string
	addEnv       []string
)

var addCmd = &cobra.Command{
	Use:   "add <name> [<url> | -- <command> [args...]]",
	Short: "Add a named MCP server to the config",
	Long: `Add a named MCP server to the configuration.

For stdio servers, the command and arguments follow the -- separator.
For remote servers, give the URL as the second argument.

Examples:
  mcpwire add files -- npx -y @modelcontextprotocol/server-filesystem /tmp
  mcpwire add legacy --framing content-length --env LOG=debug -- ./server
  mcpwire add docs https://mcp.example.com/mcp --header X-Team=infra
  mcpwire add events https://mcp.example.com/sse --transport sse`,
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringArrayVarP(&addEnv, "env", "e", nil, "Environment variable (KEY=VALUE), can be repeated")
	addCmd.Flags().StringVar(&addCwd, "cwd", "", "Working directory for the server")
	addCmd.Flags().StringVar(&addFraming, "framing", "", "Stdio framing: newline (default) or content-length")
	addCmd.Flags().StringVar(&addTransport, "transport", "", "Remote transport: sse or http")
	addCmd.Flags().StringArrayVar(&addHeaders, "header", nil, "HTTP header (KEY=VALUE), can be repeated")

	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	dashIdx := cmd.ArgsLenAtDash()
	if len(args) < 1 || dashIdx == 0 {
		return fmt.Errorf("missing server name\n\nUsage: mcpwire add <name> [<url> | -- <command> [args...]]")
	}
	name := args[0]

	srv := config.ServerConfig{Name: name}
	switch {
	case dashIdx > 0:
		command := args[dashIdx:]
		if len(command) == 0 {
			return fmt.Errorf("missing command after --\n\nUsage: mcpwire add <name> -- <command> [args...]")
		}
		env, err := parseEnvFlags(addEnv)
		if err != nil {
			return err
		}
		srv.Kind = config.ServerKindStdio
		srv.Command = command[0]
		srv.Args = command[1:]
		srv.Cwd = addCwd
		srv.Env = env
		srv.Framing = addFraming
	case len(args) == 2 && isURL(args[1]):
		kind, err := remoteKind(args[1], addTransport)
		if err != nil {
			return err
		}
		headers, err := parseKeyValues(addHeaders)
		if err != nil {
			return err
		}
		srv.Kind = config.ServerKind(kind)
		srv.URL = args[1]
		srv.Headers = headers
	default:
		return fmt.Errorf("missing -- separator or URL\n\nUsage: mcpwire add <name> [<url> | -- <command> [args...]]")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.AddServer(srv); err != nil {
		return err
	}
	if err := saveConfig(cfg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added %s server %q\n", srv.Kind, name)
	return nil
}
