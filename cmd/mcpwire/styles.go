package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	nameStyle    = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func heading(w io.Writer, title string, count int) {
	fmt.Fprintf(w, "\n%s %s\n", headingStyle.Render(title), dimStyle.Render(fmt.Sprintf("(%d)", count)))
}

// item prints one list entry: a bold name and an optional dim description.
func item(w io.Writer, name, description string) {
	if description == "" {
		fmt.Fprintf(w, "  %s\n", nameStyle.Render(name))
		return
	}
	fmt.Fprintf(w, "  %s  %s\n", nameStyle.Render(name), dimStyle.Render(firstLine(description)))
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
