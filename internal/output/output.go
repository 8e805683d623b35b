// Package output provides styled terminal output helpers (success, error,
// warning, punch and queue formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/models"
	"github.com/marcus/punch/internal/session"
	"golang.org/x/term"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	typeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	queueStyles  = map[models.QueueStatus]lipgloss.Style{
		models.QueuePending:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.QueueSyncing:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.QueueCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		models.QueueFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
	stateStyles = map[session.State]lipgloss.Style{
		session.ClockedIn:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		session.OnBreak:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		session.ClockedOut: lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	}
)

const defaultWidth = 80

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound          = "not_found"
	ErrCodeInvalidInput      = "invalid_input"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeLocationDenied    = "location_not_authorized"
	ErrCodeStorageFull       = "storage_full"
	ErrCodeDatabaseError     = "database_error"
	ErrCodeOffline           = "offline"
	ErrCodeStoreBusy         = "store_busy"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	JSONErrorWithDetails(code, message, nil)
}

// JSONErrorWithDetails outputs an error as JSON with additional context
func JSONErrorWithDetails(code, message string, details map[string]interface{}) {
	errObj := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		errObj["details"] = details
	}
	data, _ := json.MarshalIndent(map[string]interface{}{"error": errObj}, "", "  ")
	fmt.Println(string(data))
}

// TerminalWidth returns the current terminal width or a fallback when unavailable.
func TerminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultWidth
	}
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

// FormatQueueStatus formats a queue status with color
func FormatQueueStatus(s models.QueueStatus) string {
	style, ok := queueStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatPunchType formats a punch type
func FormatPunchType(t models.PunchType) string {
	return typeStyle.Render(strings.ReplaceAll(string(t), "_", " "))
}

// FormatSyncState returns a short marker for a punch's sync state
func FormatSyncState(s models.SyncState) string {
	if s == models.SyncStateSynced {
		return successStyle.Render("synced")
	}
	return warningStyle.Render("unsynced")
}

// StateBadge returns a session state with a symbol
// e.g. "● clocked_in", "◐ on_break", "○ clocked_out"
func StateBadge(s session.State) string {
	symbols := map[session.State]string{
		session.ClockedIn:  "●",
		session.OnBreak:    "◐",
		session.ClockedOut: "○",
	}
	symbol, ok := symbols[s]
	if !ok {
		symbol = "?"
	}
	if style, ok := stateStyles[s]; ok {
		return style.Render(fmt.Sprintf("%s %s", symbol, s))
	}
	return fmt.Sprintf("%s %s", symbol, s)
}

// FormatPunchShort formats a punch on one line
func FormatPunchShort(p *models.PunchRecord) string {
	parts := []string{
		titleStyle.Render(p.Timestamp.Local().Format("2006-01-02 15:04")),
		FormatPunchType(p.Type),
		subtleStyle.Render(p.UserID),
	}
	if p.GeofenceID != "" {
		parts = append(parts, "@"+p.GeofenceID)
	}
	parts = append(parts, FormatSyncState(p.SyncState))
	if p.Notes != "" {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("%q", p.Notes)))
	}
	return strings.Join(parts, "  ")
}

// FormatQueueItem formats a sync queue item on one line
func FormatQueueItem(item *models.SyncQueueItem) string {
	parts := []string{
		titleStyle.Render(fmt.Sprintf("#%d", item.ID)),
		fmt.Sprintf("%s %s", item.Action, item.EntityType),
		subtleStyle.Render(item.EntityID),
		FormatQueueStatus(item.Status),
	}
	if item.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("attempts=%d", item.Attempts))
	}
	if item.Status == models.QueuePending && item.Attempts > 0 {
		parts = append(parts, subtleStyle.Render("retry "+FormatTimeUntil(item.NextRetryAt)))
	}
	if item.Error != "" {
		parts = append(parts, errorStyle.Render(item.Error))
	}
	return strings.Join(parts, "  ")
}

// FormatGeofence formats a geofence on one line
func FormatGeofence(g *models.Geofence) string {
	var shape string
	switch g.Kind {
	case models.GeofenceCircle:
		shape = fmt.Sprintf("circle %s r=%.0fm", g.Center, g.RadiusMeters)
	default:
		shape = fmt.Sprintf("polygon %d vertices", len(g.Vertices))
	}
	state := successStyle.Render("active")
	if !g.Active {
		state = subtleStyle.Render("inactive")
	}
	return strings.Join([]string{titleStyle.Render(g.ID), g.Name, subtleStyle.Render(shape), state}, "  ")
}

// FormatUser formats a cached user; dept is the department name, if known
func FormatUser(u *models.User, dept string) string {
	parts := []string{titleStyle.Render(u.ID), u.Name}
	if u.Email != "" {
		parts = append(parts, subtleStyle.Render(u.Email))
	}
	switch {
	case dept != "":
		parts = append(parts, dept)
	case u.DepartmentID != "":
		parts = append(parts, subtleStyle.Render(u.DepartmentID))
	}
	if !u.Active {
		parts = append(parts, subtleStyle.Render("inactive"))
	}
	return strings.Join(parts, "  ")
}

func FormatDepartment(d *models.Department) string {
	return titleStyle.Render(d.ID) + "  " + d.Name
}

// FormatHistoryEntry formats one sync history row
func FormatHistoryEntry(h *db.SyncHistoryEntry) string {
	arrow := "↑"
	if h.Direction == db.DirectionPull {
		arrow = "↓"
	}
	return fmt.Sprintf("%s  %s %s %s %s",
		subtleStyle.Render(h.Timestamp.Local().Format("2006-01-02 15:04:05")),
		arrow, h.ActionType, h.EntityType, h.EntityID)
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// FormatTimeUntil formats a future time as "in 5s"; past times read "now"
func FormatTimeUntil(t time.Time) string {
	diff := time.Until(t)
	if diff <= 0 {
		return "now"
	}
	return "in " + diff.Round(time.Second).String()
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nQUEUE:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentLines indents each line by the specified number of spaces
func IndentLines(lines []string, spaces int) []string {
	indent := strings.Repeat(" ", spaces)
	result := make([]string, len(lines))
	for i, line := range lines {
		result[i] = indent + line
	}
	return result
}
