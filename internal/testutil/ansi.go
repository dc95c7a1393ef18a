package testutil

import "regexp"

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape codes, such as lipgloss styling in CLI
// output.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}
