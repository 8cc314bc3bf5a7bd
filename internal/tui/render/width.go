// Package render measures and fits styled terminal text by display cells.
package render

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
)

// VisibleLength returns the display width of a string, excluding ANSI codes.
func VisibleLength(value string) int {
	return ansi.StringWidth(value)
}

// PadRightVisible appends spaces until the string reaches width cells.
func PadRightVisible(value string, width int) string {
	padding := width - VisibleLength(value)
	if padding <= 0 {
		return value
	}

	return value + strings.Repeat(" ", padding)
}

// TruncatePlain cuts unstyled text to width cells, ending with "…" when
// anything was removed.
func TruncatePlain(value string, width int) string {
	if width <= 0 {
		return ""
	}

	if runewidth.StringWidth(value) <= width {
		return value
	}

	return runewidth.Truncate(value, width, "…")
}

// Fit truncates styled text to width cells and pads it to exactly width.
func Fit(value string, width int) string {
	if width <= 0 {
		return ""
	}

	if VisibleLength(value) > width {
		value = ansi.Truncate(value, width, "…")
	}

	return PadRightVisible(value, width)
}
