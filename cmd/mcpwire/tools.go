package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Bigsy/mcpwire/internal/config"
	"github.com/Bigsy/mcpwire/internal/mcp"
)

var (
	toolsCache  bool
	toolsCached bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools [<server> | <url> | -- <command> [args...]]",
	Short: "List a server's tools with token estimates",
	Long: `List the tools a server exposes, with an estimate of how many model
tokens each definition costs.

--cache records the listing in toolcache.json next to the config file.
--cached prints the recorded listing without connecting.

Examples:
  mcpwire tools files
  mcpwire tools files --cache
  mcpwire tools files --cached`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsCache, "cache", false, "Record the listing for a configured server")
	toolsCmd.Flags().BoolVar(&toolsCached, "cached", false, "Print the recorded listing without connecting")
	addTargetFlags(toolsCmd)
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	if toolsCached {
		if len(args) != 1 {
			return errors.New("--cached takes exactly one server name")
		}
		cache, err := config.NewToolCache(configPath)
		if err != nil {
			return err
		}
		entry, ok := cache.Get(args[0])
		if !ok {
			return fmt.Errorf("no cached tools for %q (run: mcpwire tools %s --cache)", args[0], args[0])
		}
		printToolCache(cmd, entry)
		return nil
	}

	return withSession(cmd, args, func(ctx context.Context, client *mcp.Client, t target, _ []string) error {
		tools, err := client.ListTools(ctx)
		if err != nil {
			return err
		}

		input := make([]config.CachedToolInput, len(tools))
		for i, tool := range tools {
			input[i] = config.CachedToolInput{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			}
		}

		if !toolsCache {
			entry := config.ServerToolCache{ProtocolVersion: client.ProtocolVersion()}
			for _, in := range input {
				entry.Tools = append(entry.Tools, config.CachedTool{
					Name:        in.Name,
					Description: in.Description,
					TokenCount:  config.CountToolTokens(in.Name, in.Description, in.InputSchema),
				})
			}
			printToolCache(cmd, entry)
			return nil
		}

		if !t.Configured {
			return errors.New("--cache needs a configured server name")
		}
		cache, err := config.NewToolCache(configPath)
		if err != nil {
			return err
		}
		entry, err := cache.Update(t.Name, client.ProtocolVersion(), input)
		if err != nil {
			return err
		}
		printToolCache(cmd, entry)
		fmt.Fprintf(cmd.OutOrStdout(), "\nCached in %s\n", cache.Path())
		return nil
	})
}

func printToolCache(cmd *cobra.Command, entry config.ServerToolCache) {
	w := cmd.OutOrStdout()
	heading(w, "Tools", len(entry.Tools))
	for _, tool := range entry.Tools {
		item(w, fmt.Sprintf("%-30s %6s tok", tool.Name, humanize.Comma(int64(tool.TokenCount))), tool.Description)
	}
	fmt.Fprintf(w, "\nTotal %s tokens", humanize.Comma(int64(entry.TotalTokens())))
	if !entry.UpdatedAt.IsZero() {
		fmt.Fprintf(w, ", recorded %s", humanize.Time(entry.UpdatedAt))
	}
	fmt.Fprintln(w)
}
