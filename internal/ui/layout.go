package ui

import "github.com/charmbracelet/lipgloss"

// ComposeLayout joins the target panel and reading list horizontally,
// with menu bar on top and status bar on bottom.
func ComposeLayout(menuBar, targetPanel, readingList, statusBar string) string {
	middle := lipgloss.JoinHorizontal(lipgloss.Top, targetPanel, readingList)
	return lipgloss.JoinVertical(lipgloss.Left, menuBar, middle, statusBar)
}
