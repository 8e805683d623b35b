package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/punch/internal/output"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	// Handle small terminal sizes gracefully
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.Err != nil {
		return m.renderError()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	header := m.renderHeader()
	footer := m.renderFooter()

	// Header is two lines, footer one, each panel border two
	available := m.Height - 3 - panelCount*2
	if available < panelCount {
		available = panelCount
	}
	panelHeight := available / panelCount

	panels := lipgloss.JoinVertical(lipgloss.Left,
		m.wrapPanel("QUEUE", m.queueLines(), panelHeight, PanelQueue),
		m.wrapPanel("PUNCHES", m.punchLines(), panelHeight, PanelPunches),
		m.wrapPanel("HISTORY", m.historyLines(), panelHeight, PanelHistory),
	)

	return lipgloss.JoinVertical(lipgloss.Left, header, panels, footer)
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder

	s.WriteString("punch monitor (resize for full view)\n\n")
	s.WriteString(formatConnectivity(m.Status.IsOnline))
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf("Pending: %d | Syncing: %d | Failed: %d\n",
		m.Status.Pending, m.Status.Syncing, m.Status.Failed))
	s.WriteString("\nq:quit s:sync ?:help")

	return s.String()
}

// renderError renders an error message
func (m Model) renderError() string {
	return fmt.Sprintf("Error: %v\n\nPress r to retry, q to quit", m.Err)
}

func (m Model) renderHeader() string {
	st := m.Status

	activity := subtleStyle.Render("idle")
	if m.Busy || st.SyncInProgress {
		activity = m.spinner.View() + " syncing"
	}
	auto := "auto-sync off"
	if st.AutoSyncEnabled {
		auto = "auto-sync on"
	}

	line1 := strings.Join([]string{
		titleStyle.Render("punch monitor"),
		formatConnectivity(st.IsOnline),
		activity,
		subtleStyle.Render(auto),
	}, "  ")
	line2 := strings.Join([]string{
		fmt.Sprintf("pending %d", st.Pending),
		fmt.Sprintf("syncing %d", st.Syncing),
		failedCount(st.Failed),
		fmt.Sprintf("completed %d", st.Completed),
		timestampStyle.Render("last sync " + output.FormatTimeAgo(st.LastSyncAt)),
		timestampStyle.Render("last online " + output.FormatTimeAgo(st.LastOnlineAt)),
	}, "  ")
	return line1 + "\n" + line2
}

func failedCount(n int) string {
	s := fmt.Sprintf("failed %d", n)
	if n > 0 {
		return errorStyle.Render(s)
	}
	return s
}

func (m Model) queueLines() []string {
	lines := make([]string, 0, len(m.Queue))
	for _, item := range m.Queue {
		line := fmt.Sprintf("#%-5d %-6s %-10s %-14s %s", item.ID, item.Action, item.EntityType, truncate(item.EntityID, 14), formatStatus(item.Status))
		if item.Attempts > 0 {
			line += subtleStyle.Render(fmt.Sprintf(" x%d", item.Attempts))
		}
		if item.Error != "" {
			line += " " + errorStyle.Render(item.Error)
		}
		lines = append(lines, line)
	}
	return lines
}

func (m Model) punchLines() []string {
	lines := make([]string, 0, len(m.Punches))
	for i := range m.Punches {
		lines = append(lines, output.FormatPunchShort(&m.Punches[i]))
	}
	return lines
}

func (m Model) historyLines() []string {
	lines := make([]string, 0, len(m.History))
	for i := range m.History {
		lines = append(lines, output.FormatHistoryEntry(&m.History[i]))
	}
	return lines
}

func (m Model) wrapPanel(title string, lines []string, height int, panel Panel) string {
	style := panelStyle
	if m.ActivePanel == panel {
		style = activePanelStyle
	}

	body := []string{panelTitleStyle.Render(fmt.Sprintf("%s (%d)", title, len(lines)))}
	rows := height - 1
	if len(lines) == 0 {
		body = append(body, subtleStyle.Render("nothing here"))
	} else {
		start := m.ScrollOffset[panel]
		if start >= len(lines) {
			start = len(lines) - 1
		}
		end := start + rows
		if end > len(lines) {
			end = len(lines)
		}
		body = append(body, lines[start:end]...)
	}
	for len(body) < height {
		body = append(body, "")
	}

	return style.Width(m.Width - 2).Render(strings.Join(body, "\n"))
}

func (m Model) renderFooter() string {
	keys := helpStyle.Render("q:quit  tab:panel  j/k:scroll  s:sync  R:resolve  a:auto-sync  r:refresh  ?:help")
	if m.Notice != "" {
		return keys + "  " + titleStyle.Render(m.Notice)
	}
	return keys
}

func (m Model) renderHelp() string {
	help := `punch monitor

  s        force a sync pass now
  R        re-queue failed items
  a        toggle auto-sync
  r        refresh
  tab      next panel (1/2/3 jump)
  j/k      scroll
  ?        close help
  q        quit`
	return activePanelStyle.Render(help)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
