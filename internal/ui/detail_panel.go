package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"ble-bridge.klederson.com/internal/bridge"
)

// RenderTargetPanel renders the live view of the tracked peripheral: the
// latest reading, a signal bar and RSSI/distance sparklines. last is nil
// until the first sighting.
func RenderTargetPanel(target string, last *bridge.Reading, width, height int, rssiHistory, distHistory []float64) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}

	title := StylePanelTitle.Render("TARGET")
	sep := StyleSeparator.Render(strings.Repeat("-", innerW))
	lines := []string{title, sep, ""}

	if last == nil {
		lines = append(lines,
			StyleHelp.Render(fmt.Sprintf("  Looking for %s...", target)),
			StyleHelp.Render("  Waiting for scan"))
		return finishPanel(lines, width, height)
	}

	name := last.Name
	if name == "" {
		name = target
	}
	fields := []struct{ label, value string }{
		{"Name", name},
		{"Address", last.Address},
		{"RSSI", fmt.Sprintf("%d dBm", last.RSSI)},
		{"Distance", formatDistance(last.Distance)},
		{"Last", formatLastSeen(last.Time)},
	}
	for _, f := range fields {
		lines = append(lines, StyleLabel.Render(fmt.Sprintf("  %-10s", f.label))+StyleValue.Render(f.value))
	}

	lines = append(lines, "")

	barWidth := innerW - 22
	if barWidth < 10 {
		barWidth = 10
	}
	rssi := float64(last.RSSI)
	lines = append(lines, StyleLabel.Render("  Signal ")+renderSignalBar(rssi, barWidth)+StyleValue.Render(fmt.Sprintf(" %ddBm", last.RSSI)))

	sparkW := innerW - 4
	if sparkW < 10 {
		sparkW = 10
	}
	if len(rssiHistory) > 0 {
		lines = append(lines, "", StyleLabel.Render("  RSSI History:"))
		lines = append(lines, "  "+lipgloss.NewStyle().Foreground(ColorGreen).Render(renderSparkline(rssiHistory, sparkW)))
	}
	if len(distHistory) > 0 {
		lines = append(lines, "", StyleLabel.Render("  Distance History:"))
		lines = append(lines, "  "+lipgloss.NewStyle().Foreground(ColorGreen).Render(renderSparkline(distHistory, sparkW)))
	}

	return finishPanel(lines, width, height)
}

func finishPanel(lines []string, width, height int) string {
	for len(lines) < height-2 {
		lines = append(lines, "")
	}
	if len(lines) > height-2 && height > 2 {
		lines = lines[:height-2]
	}
	return StylePanelActive.Width(width - 2).Height(height - 2).Render(strings.Join(lines, "\n"))
}

func renderSignalBar(rssi float64, width int) string {
	// Map RSSI -100..-30 to 0..width filled bars
	ratio := (rssi + 100.0) / 70.0
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	filled := int(math.Round(ratio * float64(width)))

	bar := strings.Repeat("|", filled) + strings.Repeat("-", width-filled)
	filledPart := lipgloss.NewStyle().Foreground(lipgloss.Color(proximityColor(rssi))).Render(bar[:filled])
	emptyPart := lipgloss.NewStyle().Foreground(ColorDimGreen).Render(bar[filled:])
	return StyleHelp.Render("[") + filledPart + emptyPart + StyleHelp.Render("]")
}

func renderSparkline(values []float64, width int) string {
	if len(values) == 0 {
		return ""
	}

	chars := []byte{'_', '.', '-', '~', '^'}

	// Take last `width` values
	start := 0
	if len(values) > width {
		start = len(values) - width
	}
	values = values[start:]

	minV, maxV := values[0], values[0]
	for _, v := range values {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}

	rng := maxV - minV
	if rng < 1 {
		rng = 1
	}

	var sb strings.Builder
	for _, v := range values {
		idx := int((v - minV) / rng * float64(len(chars)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(chars) {
			idx = len(chars) - 1
		}
		sb.WriteByte(chars[idx])
	}

	return sb.String()
}

func proximityColor(rssi float64) string {
	if rssi > -50 {
		return "#00FF41"
	}
	if rssi > -60 {
		return "#00CC33"
	}
	if rssi > -70 {
		return "#00AA22"
	}
	if rssi > -80 {
		return "#008F11"
	}
	return "#005511"
}

// formatDistance prints calibrated distances in the unit the walk used (cm).
func formatDistance(d float64) string {
	if d < 0 {
		return "~0cm (closer than calibrated)"
	}
	return fmt.Sprintf("~%.1fcm", d)
}

func formatLastSeen(t time.Time) string {
	d := time.Since(t)
	if d < time.Second {
		return "now"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm ago", int(d.Minutes()))
}
