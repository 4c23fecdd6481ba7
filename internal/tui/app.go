// Package tui implements the optional supervisor status dashboard: an Elm
// architecture bubbletea app over the status reconciler's HealthReport and
// the session orchestrator's pane map. It never mutates workspace state on
// its own initiative; the only mutating action available is attach/focus,
// driven entirely by explicit key presses.
package tui

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/mux"
	"github.com/agentctl/agentctl/internal/status"
)

const refreshInterval = 3 * time.Second

// refreshMsg carries the result of a background status fetch.
type refreshMsg struct {
	report status.HealthReport
	err    error
}

// agentItem adapts status.AgentHealth to bubbles/list's list.Item interface;
// its FilterValue feeds the list's default fuzzy filter.
type agentItem struct {
	health status.AgentHealth
}

func (i agentItem) Title() string {
	return fmt.Sprintf("%s  [%s]", i.health.AgentID, i.health.Category)
}

func (i agentItem) Description() string { return i.health.Detail }
func (i agentItem) FilterValue() string { return i.health.AgentID }

// App is the dashboard's bubbletea model.
type App struct {
	cfg         *config.Config
	reconciler  *status.Reconciler
	orch        *mux.Orchestrator
	logger      *log.Logger
	agentList   list.Model
	session     status.SessionClassification
	suggestions []string
	statusMsg   string
	err         error
	width       int
	height      int
}

// NewApp builds a dashboard bound to cfg, backed by reconciler for
// read-only cross-checks and orch for the attach/focus action. logger may
// be nil, in which case dashboard events are not logged anywhere.
func NewApp(cfg *config.Config, reconciler *status.Reconciler, orch *mux.Orchestrator, logger *log.Logger) *App {
	agentList := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	agentList.Title = "Agents"
	agentList.SetShowStatusBar(false)
	agentList.SetFilteringEnabled(true)
	return &App{
		cfg:        cfg,
		reconciler: reconciler,
		orch:       orch,
		logger:     logger,
		agentList:  agentList,
	}
}

func (a *App) logInfo(msg string, keyvals ...any) {
	if a.logger != nil {
		a.logger.Info(msg, keyvals...)
	}
}

func (a *App) logError(msg string, keyvals ...any) {
	if a.logger != nil {
		a.logger.Error(msg, keyvals...)
	}
}

// Init fetches the first status snapshot.
func (a *App) Init() tea.Cmd {
	a.logInfo("dashboard started", "session", a.cfg.Document.SessionName)
	return a.fetchStatus()
}

// Update handles bubbletea messages.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.agentList.SetSize(max(20, msg.Width-4), max(6, msg.Height-10))
		return a, nil

	case refreshMsg:
		if msg.err != nil {
			a.err = msg.err
			a.logError("status refresh failed", "err", msg.err)
		} else {
			a.err = nil
			a.session = msg.report.Session
			a.suggestions = msg.report.Suggestions
			items := make([]list.Item, len(msg.report.Agents))
			for i, h := range msg.report.Agents {
				items[i] = agentItem{health: h}
			}
			a.agentList.SetItems(items)
		}
		return a, a.scheduleRefresh()

	case tea.KeyMsg:
		if a.agentList.FilterState() == list.Filtering {
			var cmd tea.Cmd
			a.agentList, cmd = a.agentList.Update(msg)
			return a, cmd
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "r":
			a.statusMsg = "refreshing..."
			return a, a.fetchStatus()
		case "enter":
			return a, a.focusSelected()
		}
	}

	var cmd tea.Cmd
	a.agentList, cmd = a.agentList.Update(msg)
	return a, cmd
}

// View renders the dashboard.
func (a *App) View() string {
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("session %s · %s", a.cfg.Document.SessionName, a.session))
	body := a.agentList.View()
	var lines []string
	lines = append(lines, header, "", body)
	if len(a.suggestions) > 0 {
		lines = append(lines, "", "suggest: "+strings.Join(a.suggestions, ", "))
	}
	if a.err != nil {
		lines = append(lines, "", "error: "+a.err.Error())
	}
	footer := lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).
		Render("enter: attach/focus · r: refresh · /: filter · q: quit  " + a.statusMsg)
	lines = append(lines, "", footer)
	return strings.Join(lines, "\n")
}

func (a *App) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		report, err := a.reconciler.Status(a.cfg, status.Scope{All: true})
		return refreshMsg{report: report, err: err}
	}
}

func (a *App) scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		report, err := a.reconciler.Status(a.cfg, status.Scope{All: true})
		return refreshMsg{report: report, err: err}
	})
}

// focusSelected zooms the selected agent's pane, mirroring the teacher's
// select-window attach shortcut but operating on the orchestrator's own
// pane map instead of a raw tmux target string.
func (a *App) focusSelected() tea.Cmd {
	item, ok := a.agentList.SelectedItem().(agentItem)
	if !ok || a.orch == nil {
		return nil
	}
	agentID := item.health.AgentID
	return func() tea.Msg {
		paneMap, err := a.orch.Topology(a.cfg, a.cfg.Document.SessionName)
		if err != nil {
			return refreshMsg{err: err}
		}
		if err := a.orch.Focus(a.cfg, paneMap, agentID); err != nil {
			return refreshMsg{err: err}
		}
		a.logInfo("focused pane", "agent", agentID)
		return nil
	}
}

// AttachCmd returns the external os/exec command that attaches the
// caller's terminal to the live session: the same tmux attach-session
// invocation that cmd/agentctl's bootstrap builds for itself. It never
// creates a session.
func AttachCmd(sessionName string) *exec.Cmd {
	return exec.Command("tmux", "attach-session", "-t", sessionName)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
