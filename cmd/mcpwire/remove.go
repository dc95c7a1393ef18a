package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Bigsy/mcpwire/internal/config"
)

var removeYes bool

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a server from the config",
	Long: `Remove a server from the configuration, along with its cached tools.

By default, prompts for confirmation. Use --yes to skip the prompt.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func init() {
	removeCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "Skip confirmation prompt")
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.GetServer(name) == nil {
		return fmt.Errorf("server %q not found", name)
	}

	out := cmd.OutOrStdout()
	if !removeYes {
		fmt.Fprintf(out, "Remove server %q? [y/N] ", name)
		response, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Cancelled")
			return nil
		}
	}

	if err := cfg.DeleteServer(name); err != nil {
		return err
	}
	if err := saveConfig(cfg); err != nil {
		return err
	}
	if cache, err := config.NewToolCache(configPath); err == nil {
		_ = cache.Delete(name)
	}

	fmt.Fprintf(out, "Removed server %q\n", name)
	return nil
}
