package display

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dyike/stockdesk/consts"
)

const width = 80

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 1).
			Width(width - 2)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	bodyStyle = lipgloss.NewStyle().
			PaddingLeft(3).
			Width(width)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	completedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	inProgressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
)

// actionStyle colours a BUY/SELL/HOLD token.
func actionStyle(action string) lipgloss.Style {
	switch action {
	case consts.DecisionBuy:
		return completedStyle.Bold(true)
	case consts.DecisionSell:
		return errorStyle.Bold(true)
	}
	return inProgressStyle.Bold(true)
}

func section(title string) string {
	return sectionStyle.Render(title) + "\n" + mutedStyle.Render(strings.Repeat("─", width))
}

func body(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return bodyStyle.Render(mutedStyle.Render("(no data)"))
	}
	return bodyStyle.Render(text)
}
