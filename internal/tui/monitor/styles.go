package monitor

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/punch/internal/models"
)

var (
	// Base colors
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle     = lipgloss.NewStyle().Foreground(errorColor)
	spinnerStyle   = lipgloss.NewStyle().Foreground(primaryColor)

	onlineBadge  = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	offlineBadge = lipgloss.NewStyle().Foreground(errorColor).Bold(true)

	// Queue status styles
	statusStyles = map[models.QueueStatus]lipgloss.Style{
		models.QueuePending:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.QueueSyncing:   lipgloss.NewStyle().Foreground(warningColor),
		models.QueueFailed:    lipgloss.NewStyle().Foreground(errorColor),
		models.QueueCompleted: lipgloss.NewStyle().Foreground(mutedColor),
	}
)

// formatStatus renders a queue status with color
func formatStatus(s models.QueueStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// formatConnectivity renders the online/offline badge
func formatConnectivity(online bool) string {
	if online {
		return onlineBadge.Render("● ONLINE")
	}
	return offlineBadge.Render("○ OFFLINE")
}
