package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Bigsy/mcpwire/internal/config"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured MCP servers",
	Long: `List all configured MCP servers.

By default, outputs a human-readable table. Use --json for machine-readable output.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	servers := cfg.ServerList()
	if listJSON {
		return outputJSON(cmd.OutOrStdout(), servers)
	}
	outputTable(cmd.OutOrStdout(), servers)
	return nil
}

func outputJSON(w io.Writer, servers []config.ServerConfig) error {
	type serverView struct {
		Name    string            `json:"name"`
		Kind    string            `json:"kind"`
		Command string            `json:"command,omitempty"`
		Args    []string          `json:"args,omitempty"`
		URL     string            `json:"url,omitempty"`
		Cwd     string            `json:"cwd,omitempty"`
		Env     map[string]string `json:"env,omitempty"`
		Framing string            `json:"framing,omitempty"`
	}

	views := make([]serverView, len(servers))
	for i, srv := range servers {
		views[i] = serverView{
			Name:    srv.Name,
			Kind:    string(srv.Kind),
			Command: srv.Command,
			Args:    srv.Args,
			URL:     srv.URL,
			Cwd:     srv.Cwd,
			Env:     srv.Env,
			Framing: srv.Framing,
		}
	}

	data, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func outputTable(w io.Writer, servers []config.ServerConfig) {
	if len(servers) == 0 {
		fmt.Fprintln(w, "No servers configured")
		return
	}

	nameWidth := 4 // "NAME"
	typeWidth := 4 // "TYPE"
	for _, srv := range servers {
		nameWidth = max(nameWidth, len(srv.Name))
		typeWidth = max(typeWidth, len(srv.Kind))
	}
	const targetWidth = 50

	fmt.Fprintf(w, "%-*s  %-*s  %s\n", nameWidth, "NAME", typeWidth, "TYPE", "COMMAND/URL")
	for _, srv := range servers {
		target := formatCommandOrURL(srv)
		if len(target) > targetWidth {
			target = target[:targetWidth-3] + "..."
		}
		fmt.Fprintf(w, "%-*s  %-*s  %s\n", nameWidth, srv.Name, typeWidth, srv.Kind, target)
	}
}

func formatCommandOrURL(srv config.ServerConfig) string {
	if srv.URL != "" && srv.Command == "" {
		return srv.URL
	}
	return strings.TrimSpace(srv.Command + " " + strings.Join(srv.Args, " "))
}
