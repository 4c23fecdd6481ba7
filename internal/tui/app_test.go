package tui

import (
	"os/exec"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/status"
	"github.com/agentctl/agentctl/internal/vcs"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %s: %v", args, out, err)
	}
}

func testApp(t *testing.T) (*App, *config.Config) {
	t.Helper()
	repo := t.TempDir()
	runGit(t, repo, "init", "-b", "main")
	runGit(t, repo, "config", "user.email", "test@example.com")
	runGit(t, repo, "config", "user.name", "Test")
	runGit(t, repo, "commit", "--allow-empty", "-m", "init")

	cfg := &config.Config{
		WorkspaceRoot: repo,
		Document:      config.Document{SessionName: "sess", Agents: []config.Agent{{ID: "alpha"}, {ID: "beta"}}},
	}
	reconciler := status.New(vcs.New(repo), nil)
	app := NewApp(cfg, reconciler, nil, nil)
	return app, cfg
}

func TestInitFetchesStatus(t *testing.T) {
	app, _ := testApp(t)
	cmd := app.Init()
	if cmd == nil {
		t.Fatalf("expected Init to return a fetch command")
	}
	msg := cmd()
	refresh, ok := msg.(refreshMsg)
	if !ok {
		t.Fatalf("expected refreshMsg, got %T", msg)
	}
	if refresh.err != nil {
		t.Fatalf("fetchStatus: %v", refresh.err)
	}
	if len(refresh.report.Agents) != 2 {
		t.Fatalf("expected 2 agent rows, got %d", len(refresh.report.Agents))
	}
}

func TestUpdatePopulatesAgentList(t *testing.T) {
	app, _ := testApp(t)
	cmd := app.Init()
	msg := cmd().(refreshMsg)
	model, _ := app.Update(msg)
	app = model.(*App)
	if len(app.agentList.Items()) != 2 {
		t.Fatalf("expected agent list populated with 2 items, got %d", len(app.agentList.Items()))
	}
	if app.session != status.SessionAbsent {
		t.Errorf("expected SessionAbsent with no live orchestrator, got %v", app.session)
	}
}

func TestUpdateRefreshKeyTriggersFetch(t *testing.T) {
	app, _ := testApp(t)
	model, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	app = model.(*App)
	if cmd == nil {
		t.Fatalf("expected 'r' to schedule a fetch")
	}
	if !strings.Contains(app.statusMsg, "refreshing") {
		t.Errorf("expected a refreshing status message, got %q", app.statusMsg)
	}
}

func TestUpdateQuitsOnQ(t *testing.T) {
	app, _ := testApp(t)
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if msg := cmd(); msg != (tea.QuitMsg{}) {
		t.Errorf("expected tea.QuitMsg, got %#v", msg)
	}
}

func TestFocusSelectedNoOpsWithoutOrchestrator(t *testing.T) {
	app, _ := testApp(t)
	cmd := app.Init()
	msg := cmd().(refreshMsg)
	model, _ := app.Update(msg)
	app = model.(*App)
	focusCmd := app.focusSelected()
	if focusCmd != nil {
		t.Errorf("expected no-op focus command without an orchestrator bound")
	}
}

func TestViewRendersWithoutPanicking(t *testing.T) {
	app, _ := testApp(t)
	cmd := app.Init()
	msg := cmd().(refreshMsg)
	model, _ := app.Update(msg)
	app = model.(*App)
	model, _ = app.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	app = model.(*App)
	out := app.View()
	if out == "" {
		t.Errorf("expected non-empty view output")
	}
}
