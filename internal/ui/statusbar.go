package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// StatusInfo is what the bottom bar summarises.
type StatusInfo struct {
	Live     bool
	Readings int
	Model    string
	Err      error
}

// RenderStatusBar renders the bottom status bar.
func RenderStatusBar(width int, s StatusInfo) string {
	status := StyleStatusPaused.Render("[PAUSED]")
	switch {
	case s.Err != nil:
		status = StyleStatusError.Render("[STOPPED]")
	case s.Live:
		status = StyleStatusLive.Render("[LIVE]")
	}

	info := fmt.Sprintf(" Readings: %d  Model: %s", s.Readings, s.Model)
	if s.Err != nil {
		info += "  Error: " + s.Err.Error()
	}

	content := status + StyleStatusBar.Foreground(ColorGreen).Render(info)

	gap := width - lipgloss.Width(content)
	if gap < 0 {
		gap = 0
	}

	return StyleStatusBar.Width(width).Render(content + strings.Repeat(" ", gap))
}
