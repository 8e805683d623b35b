package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/models"
	"github.com/marcus/punch/internal/sync"
)

// Panel represents which panel is active
type Panel int

const (
	PanelQueue Panel = iota
	PanelPunches
	PanelHistory
)

const panelCount = 3

// Engine is the sync control surface the monitor drives
type Engine interface {
	Status(ctx context.Context) (sync.Status, error)
	ForceSyncNow(ctx context.Context) (bool, error)
	ResolveConflicts(ctx context.Context) (bool, error)
	SetAutoSync(enabled bool)
	AutoSyncEnabled() bool
}

// Store is the read side of the local store shown in the panels
type Store interface {
	ListQueue(ctx context.Context, f db.QueueFilter) ([]models.SyncQueueItem, error)
	ListPunches(ctx context.Context, f db.PunchFilter) ([]models.PunchRecord, error)
	GetSyncHistoryTail(ctx context.Context, limit int) ([]db.SyncHistoryEntry, error)
}

// Model is the main Bubble Tea model for the monitor TUI
type Model struct {
	Engine Engine
	Store  Store

	// Window dimensions
	Width  int
	Height int

	// Panel data
	Status  sync.Status
	Queue   []models.SyncQueueItem
	Punches []models.PunchRecord
	History []db.SyncHistoryEntry

	// UI state
	ActivePanel  Panel
	ScrollOffset map[Panel]int
	ShowHelp     bool
	Busy         bool   // a force sync or resolve is running
	Notice       string // result of the last action
	LastRefresh  time.Time
	Err          error

	spinner spinner.Model

	RefreshInterval time.Duration
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 15

// TickMsg triggers a data refresh
type TickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Status    sync.Status
	Queue     []models.SyncQueueItem
	Punches   []models.PunchRecord
	History   []db.SyncHistoryEntry
	Timestamp time.Time
	Err       error
}

// ActionDoneMsg reports the outcome of a force sync or resolve
type ActionDoneMsg struct {
	Action string
	Ran    bool
	Err    error
}

// NewModel creates a new monitor model
func NewModel(engine Engine, store Store, interval time.Duration) Model {
	return Model{
		Engine:          engine,
		Store:           store,
		RefreshInterval: interval,
		ScrollOffset:    make(map[Panel]int),
		ActivePanel:     PanelQueue,
		spinner:         spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchData(),
		m.scheduleTick(),
		m.spinner.Tick,
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case RefreshDataMsg:
		m.Err = msg.Err
		if msg.Err == nil {
			m.Status = msg.Status
			m.Queue = msg.Queue
			m.Punches = msg.Punches
			m.History = msg.History
			m.LastRefresh = msg.Timestamp
		}
		return m, nil

	case ActionDoneMsg:
		m.Busy = false
		m.Notice = describeAction(msg)
		return m, m.fetchData()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.ActivePanel = (m.ActivePanel + 1) % panelCount
		return m, nil

	case "shift+tab":
		m.ActivePanel = (m.ActivePanel + panelCount - 1) % panelCount
		return m, nil

	case "1":
		m.ActivePanel = PanelQueue
		return m, nil

	case "2":
		m.ActivePanel = PanelPunches
		return m, nil

	case "3":
		m.ActivePanel = PanelHistory
		return m, nil

	case "j", "down":
		if m.ScrollOffset[m.ActivePanel] < m.panelLen(m.ActivePanel)-1 {
			m.ScrollOffset[m.ActivePanel]++
		}
		return m, nil

	case "k", "up":
		if m.ScrollOffset[m.ActivePanel] > 0 {
			m.ScrollOffset[m.ActivePanel]--
		}
		return m, nil

	case "r":
		return m, m.fetchData()

	case "s":
		if m.Busy {
			return m, nil
		}
		m.Busy = true
		m.Notice = ""
		return m, m.runAction("sync", m.Engine.ForceSyncNow)

	case "R":
		if m.Busy {
			return m, nil
		}
		m.Busy = true
		m.Notice = ""
		return m, m.runAction("resolve", m.Engine.ResolveConflicts)

	case "a":
		enabled := !m.Engine.AutoSyncEnabled()
		m.Engine.SetAutoSync(enabled)
		m.Status.AutoSyncEnabled = enabled
		if enabled {
			m.Notice = "auto-sync on"
		} else {
			m.Notice = "auto-sync off"
		}
		return m, nil

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

func (m Model) panelLen(p Panel) int {
	switch p {
	case PanelQueue:
		return len(m.Queue)
	case PanelPunches:
		return len(m.Punches)
	default:
		return len(m.History)
	}
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that fetches all data and sends a RefreshDataMsg
func (m Model) fetchData() tea.Cmd {
	return func() tea.Msg {
		return FetchData(context.Background(), m.Engine, m.Store)
	}
}

func (m Model) runAction(name string, fn func(context.Context) (bool, error)) tea.Cmd {
	return func() tea.Msg {
		ran, err := fn(context.Background())
		return ActionDoneMsg{Action: name, Ran: ran, Err: err}
	}
}
