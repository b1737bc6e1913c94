package tui

import (
	"charm.land/lipgloss/v2"

	"github.com/go-go-golems/chatstream/pkg/health"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Background(lipgloss.Color("236"))
)

func healthBadge(ind health.Indicator) string {
	switch ind.Status {
	case health.StatusConnected:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("● connected")
	case health.StatusError:
		if ind.Error != "" {
			return errorStyle.Render("● error: " + ind.Error)
		}
		return errorStyle.Render("● error")
	case health.StatusChecking:
		return mutedStyle.Render("● checking")
	default:
		return mutedStyle.Render("● unknown")
	}
}
