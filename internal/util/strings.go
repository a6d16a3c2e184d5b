// Package util holds small text helpers for log fields and terminal output.
package util

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const ellipsis = "..."

// TruncateString shortens s to at most maxLen runes, ending in "..." when
// cut. It ignores escape codes and cell widths; use it for log fields such
// as radio payloads. Any maxLen of 3 or less yields "...".
func TruncateString(s string, maxLen int) string {
	if maxLen <= len(ellipsis) {
		return ellipsis
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-len(ellipsis)]) + ellipsis
}

// TruncateANSI shortens s to at most maxWidth terminal columns, keeping
// escape codes intact and counting wide characters as two columns. The
// "..." tail counts towards maxWidth.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= len(ellipsis) {
		return ellipsis
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, ellipsis)
}
