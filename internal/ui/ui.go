// Package ui holds terminal styling for CLI output.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Color palette
const (
	ColorAccent = "154"
	ColorGray   = "245"
	ColorRed    = "196"
	ColorYellow = "220"
)

// Styles holds the styles used by CLI output
type Styles struct {
	Header  lipgloss.Style
	Label   lipgloss.Style
	Match   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
}

// DefaultStyles returns the colored styles for terminals
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Match:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorYellow)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
	}
}

// PlainStyles returns styles that leave text untouched
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:  plain,
		Label:   plain,
		Match:   plain,
		Success: plain,
		Warning: plain,
		Error:   plain,
		Dim:     plain,
	}
}

// StylesFor picks colored styles for terminals and plain styles otherwise
func StylesFor(w io.Writer) Styles {
	if IsTTY(w) {
		return DefaultStyles()
	}
	return PlainStyles()
}

// IsTTY returns true if the writer is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}
