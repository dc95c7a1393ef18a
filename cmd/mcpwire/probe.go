package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Bigsy/mcpwire/internal/mcp"
)

var probeCmd = &cobra.Command{
	Use:   "probe [<server> | <url> | -- <command> [args...]]",
	Short: "Connect, handshake and list everything a server offers",
	Long: `Connect to an MCP server, run the initialize handshake and print the
negotiated protocol version, capabilities, tools, prompts, resources and
resource templates.

Examples:
  mcpwire probe files
  mcpwire probe https://mcp.example.com/mcp
  mcpwire probe http://localhost:8080/sse
  mcpwire probe --framing content-length -- ./legacy-server`,
	RunE: runProbe,
}

func init() {
	addTargetFlags(probeCmd)
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	return withSession(cmd, args, func(ctx context.Context, client *mcp.Client, t target, _ []string) error {
		return printProbe(ctx, cmd.OutOrStdout(), client)
	})
}

func printProbe(ctx context.Context, w io.Writer, client *mcp.Client) error {
	caps := client.GetCapabilities()
	fmt.Fprintf(w, "%s %s %s\n", headingStyle.Render("Server"), nameStyle.Render(caps.ServerInfo.Name), caps.ServerInfo.Version)
	fmt.Fprintf(w, "Protocol %s\n", caps.ProtocolVersion)
	if caps.Instructions != "" {
		fmt.Fprintf(w, "Instructions: %s\n", dimStyle.Render(firstLine(caps.Instructions)))
	}

	if caps.Capabilities.Tools != nil {
		tools, err := client.ListTools(ctx)
		if err != nil {
			return err
		}
		heading(w, "Tools", len(tools))
		for _, tool := range tools {
			item(w, tool.Name, tool.Description)
		}
	}

	if caps.Capabilities.Prompts != nil {
		prompts, err := client.ListPrompts(ctx)
		if err != nil {
			return err
		}
		heading(w, "Prompts", len(prompts))
		for _, p := range prompts {
			item(w, p.Name, p.Description)
		}
	}

	if caps.Capabilities.Resources != nil {
		resources, err := client.ListResources(ctx)
		if err != nil {
			return err
		}
		heading(w, "Resources", len(resources))
		for _, r := range resources {
			desc := r.MimeType
			if r.Size > 0 {
				desc += " " + humanize.Bytes(uint64(r.Size))
			}
			item(w, r.URI, desc)
		}

		templates, err := client.ListResourceTemplates(ctx)
		if err != nil {
			return err
		}
		heading(w, "Resource templates", len(templates))
		for _, rt := range templates {
			item(w, rt.URITemplate, rt.Name)
		}
	}

	if records := client.GetTransportErrors(); len(records) > 0 {
		heading(w, "Transport errors", len(records))
		for _, rec := range records {
			fmt.Fprintf(w, "  %s %s\n", errorStyle.Render(string(rec.Category)), rec.Message)
		}
	}
	return nil
}
