package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Bigsy/mcpwire/internal/mcp"
)

var callCmd = &cobra.Command{
	Use:   "call <server|url> <tool> [json-arguments]",
	Short: "Call a tool",
	Long: `Call a tool and print its content blocks.

Arguments are a JSON object. With -- the tool name and arguments come
before the separator.

Examples:
  mcpwire call files read_file '{"path":"/etc/hosts"}'
  mcpwire call echo '{"text":"hi"}' -- ./echo-server`,
	RunE: runCall,
}

var readCmd = &cobra.Command{
	Use:   "read <server|url> <uri>",
	Short: "Read a resource",
	RunE:  runRead,
}

var promptCmd = &cobra.Command{
	Use:   "prompt <server|url> <name> [key=value...]",
	Short: "Render a prompt",
	RunE:  runPrompt,
}

func init() {
	for _, c := range []*cobra.Command{callCmd, readCmd, promptCmd} {
		addTargetFlags(c)
		rootCmd.AddCommand(c)
	}
}

func runCall(cmd *cobra.Command, args []string) error {
	return withSession(cmd, args, func(ctx context.Context, client *mcp.Client, _ target, rest []string) error {
		if len(rest) < 1 || len(rest) > 2 {
			return errors.New("usage: call <target> <tool> [json-arguments]")
		}
		var arguments json.RawMessage
		if len(rest) == 2 {
			if !json.Valid([]byte(rest[1])) {
				return fmt.Errorf("arguments are not valid JSON: %s", rest[1])
			}
			arguments = json.RawMessage(rest[1])
		}

		result, err := client.CallTool(ctx, rest[0], arguments)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		printContent(w, result.Content)
		if len(result.StructuredContent) > 0 {
			fmt.Fprintf(w, "%s\n", result.StructuredContent)
		}
		if result.IsError {
			return fmt.Errorf("tool %s reported an error", rest[0])
		}
		return nil
	})
}

func runRead(cmd *cobra.Command, args []string) error {
	return withSession(cmd, args, func(ctx context.Context, client *mcp.Client, _ target, rest []string) error {
		if len(rest) != 1 {
			return errors.New("usage: read <target> <uri>")
		}
		result, err := client.ReadResource(ctx, rest[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, c := range result.Contents {
			if c.Text != "" {
				fmt.Fprintln(w, c.Text)
				continue
			}
			fmt.Fprintf(w, "%s\n", dimStyle.Render(fmt.Sprintf("[binary %s, %d base64 bytes]", c.MimeType, len(c.Blob))))
		}
		return nil
	})
}

func runPrompt(cmd *cobra.Command, args []string) error {
	return withSession(cmd, args, func(ctx context.Context, client *mcp.Client, _ target, rest []string) error {
		if len(rest) < 1 {
			return errors.New("usage: prompt <target> <name> [key=value...]")
		}
		arguments, err := parseKeyValues(rest[1:])
		if err != nil {
			return err
		}
		result, err := client.GetPrompt(ctx, rest[0], arguments)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if result.Description != "" {
			fmt.Fprintln(w, dimStyle.Render(result.Description))
		}
		for _, m := range result.Messages {
			fmt.Fprintf(w, "%s: ", nameStyle.Render(m.Role))
			printContent(w, []mcp.ContentBlock{m.Content})
		}
		return nil
	})
}

// printContent prints text blocks verbatim and other blocks as their type.
func printContent(w io.Writer, blocks []mcp.ContentBlock) {
	for _, b := range blocks {
		if b.Type() == "text" {
			fmt.Fprintln(w, b.Text())
			continue
		}
		fmt.Fprintln(w, dimStyle.Render("["+b.Type()+" content]"))
	}
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q: expected key=value", kv)
		}
		out[key] = value
	}
	return out, nil
}
