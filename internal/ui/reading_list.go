package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ble-bridge.klederson.com/internal/bridge"
)

// Cursor row style: black text on bright green = unmissable highlight
var cursorRowSty = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#000000")).
	Background(ColorMatrixGreen).
	Bold(true)

// RenderReadingList renders the scrollable log of readings, newest first.
// The header stays fixed; only the entries scroll.
func RenderReadingList(readings []bridge.Reading, width, height int, cursorIndex int) string {
	innerW := width - 4
	if innerW < 10 {
		innerW = 10
	}

	title := StylePanelTitle.Render(fmt.Sprintf("READINGS [%d]", len(readings)))
	separator := StyleSeparator.Render(strings.Repeat("-", innerW))
	headerLines := []string{title, separator}

	innerH := height - 2
	if innerH < len(headerLines)+1 {
		innerH = len(headerLines) + 1
	}
	space := innerH - len(headerLines)

	var entries []string
	if len(readings) == 0 {
		entries = append(entries, "", StyleHelp.Render(" No readings yet"))
	} else {
		// Compute viewport start so cursor is always visible
		viewStart := 0
		if cursorIndex >= space {
			viewStart = cursorIndex - space + 1
		}
		for i := viewStart; i < len(readings) && len(entries) < space; i++ {
			entries = append(entries, renderReadingEntry(readings[i], innerW, i == cursorIndex))
		}
	}

	for len(entries) < space {
		entries = append(entries, "")
	}

	all := make([]string, 0, innerH)
	all = append(all, headerLines...)
	all = append(all, entries...)
	if len(all) > innerH {
		all = all[:innerH]
	}

	rendered := StylePanelBorder.Width(width - 2).Height(innerH).Render(strings.Join(all, "\n"))

	// lipgloss Height() only sets a minimum; it won't truncate overflow.
	outLines := strings.Split(rendered, "\n")
	if len(outLines) > height {
		outLines = outLines[:height]
	}
	for len(outLines) < height {
		outLines = append(outLines, "")
	}
	return strings.Join(outLines, "\n")
}

func renderReadingEntry(r bridge.Reading, maxW int, isCursor bool) string {
	ts := r.Time.Format("15:04:05")
	rssi := fmt.Sprintf("%4ddBm", r.RSSI)
	dist := fmt.Sprintf("%7.1fcm", r.Distance)

	if isCursor {
		return cursorRowSty.Render(truncRaw(fmt.Sprintf(">> %s %s %s", ts, rssi, dist), maxW))
	}

	line := "   " + StyleReadingTime.Render(ts) + " " + StyleReadingRSSI.Render(rssi) + " " + StyleReadingDist.Render(dist)
	if lipgloss.Width(line) > maxW {
		return truncRaw(fmt.Sprintf("   %s %s %s", ts, rssi, dist), maxW)
	}
	return line
}

// truncRaw pads or truncates a raw string to exactly w characters.
func truncRaw(s string, w int) string {
	if len(s) > w {
		return s[:w]
	}
	if len(s) < w {
		return s + strings.Repeat(" ", w-len(s))
	}
	return s
}
