package mcp

import (
	"fmt"
	"strings"
)

// Diagnostics accumulates what is known about a failed local server. It is
// only used to explain a failure to a human and never drives control flow.
type Diagnostics struct {
	Command         string
	SpawnError      string
	ExitCode        *int
	Signal          string
	Stderr          string
	StartupTimedOut bool
}

// Empty reports whether nothing was recorded.
func (d Diagnostics) Empty() bool {
	return d.SpawnError == "" && d.ExitCode == nil && d.Signal == "" &&
		strings.TrimSpace(d.Stderr) == "" && !d.StartupTimedOut
}

// remediation maps known failure text to a suggested fix. Order matters:
// more specific patterns come first.
var remediations = []struct {
	patterns []string
	hint     string
}{
	{[]string{"exec format error"}, "the command is not a native executable; add a shebang line (e.g. #!/usr/bin/env node) or run it through its interpreter"},
	{[]string{"executable file not found", "no such file or directory", "command not found", "enoent"}, "the command was not found; check the path or install it and make sure it is on PATH"},
	{[]string{"permission denied", "eacces"}, "the command is not executable; check file permissions (chmod +x)"},
	{[]string{"cannot find module", "module_not_found", "err_module_not_found"}, "a Node.js dependency is missing; run npm install in the server directory"},
	{[]string{"modulenotfounderror", "no module named", "importerror"}, "a Python dependency is missing; install the server's requirements in the active environment"},
	{[]string{"address already in use", "eaddrinuse"}, "the server tried to bind a port that is already in use"},
	{[]string{"syntaxerror"}, "the server failed to parse its own source; check the interpreter version"},
	{[]string{"content-length", "header exceeds"}, "the server may use a different message framing; try the other framing mode"},
}

// Suggestion returns a remediation hint inferred from the recorded text, or "".
func (d Diagnostics) Suggestion() string {
	text := strings.ToLower(d.SpawnError + "\n" + d.Stderr)
	for _, r := range remediations {
		for _, p := range r.patterns {
			if strings.Contains(text, p) {
				return r.hint
			}
		}
	}
	if d.StartupTimedOut {
		return "the server did not respond in time; it may be waiting for input or need a longer startup delay"
	}
	if d.ExitCode != nil && *d.ExitCode != 0 && strings.TrimSpace(d.Stderr) == "" {
		return "the server exited without writing to stderr; run the command manually to see its output"
	}
	return ""
}

// Explain renders a human-readable description of the failure.
func (d Diagnostics) Explain() string {
	if d.Empty() {
		return ""
	}
	var b strings.Builder
	if d.Command != "" {
		fmt.Fprintf(&b, "  command: %s\n", d.Command)
	}
	if d.SpawnError != "" {
		fmt.Fprintf(&b, "  spawn error: %s\n", d.SpawnError)
	}
	if d.ExitCode != nil {
		fmt.Fprintf(&b, "  exit code: %d\n", *d.ExitCode)
	}
	if d.Signal != "" {
		fmt.Fprintf(&b, "  signal: %s\n", d.Signal)
	}
	if d.StartupTimedOut {
		b.WriteString("  startup timed out\n")
	}
	if stderr := strings.TrimSpace(d.Stderr); stderr != "" {
		b.WriteString("  stderr:\n")
		for _, line := range strings.Split(stderr, "\n") {
			b.WriteString("    ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	if hint := d.Suggestion(); hint != "" {
		fmt.Fprintf(&b, "  hint: %s\n", hint)
	}
	return strings.TrimRight(b.String(), "\n")
}
