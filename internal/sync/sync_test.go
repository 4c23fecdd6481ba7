package sync

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/vcs"
)

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %s: %v", strings.Join(args, " "), out, err)
	}
	return string(out)
}

// testRepoWithAgent sets up a repo with one commit on main and one agent
// branch+worktree checked out.
func testRepoWithAgent(t *testing.T, agentID string) (*config.Config, *vcs.Git) {
	t.Helper()
	repo := t.TempDir()
	runGit(t, repo, "init", "-b", "main")
	runGit(t, repo, "config", "user.email", "test@example.com")
	runGit(t, repo, "config", "user.name", "Test")
	runGit(t, repo, "commit", "--allow-empty", "-m", "init")

	g := vcs.New(repo)
	branch := "agents/" + agentID
	if err := g.CreateBranch(branch, "main"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	wtPath := filepath.Join(repo, agentID)
	if err := g.WorktreeAdd(wtPath, branch); err != nil {
		t.Fatalf("WorktreeAdd: %v", err)
	}

	cfg := &config.Config{
		WorkspaceRoot: repo,
		Document: config.Document{
			SchemaVersion: "1",
			SessionName:   "sess",
			Agents:        []config.Agent{{ID: agentID}},
			Sync:          config.SyncPolicy{ConflictResolution: config.ConflictManual},
		},
	}
	return cfg, g
}

func TestDetectContextAgent(t *testing.T) {
	cfg, _ := testRepoWithAgent(t, "alpha")
	ctx, err := DetectContext(cfg, cfg.WorkspaceRoot, filepath.Join(cfg.WorkspaceRoot, "alpha"))
	if err != nil {
		t.Fatalf("DetectContext: %v", err)
	}
	if ctx.Kind != ContextAgent || ctx.AgentID != "alpha" {
		t.Errorf("DetectContext = %+v, want agent context for alpha", ctx)
	}
}

func TestDetectContextMain(t *testing.T) {
	cfg, _ := testRepoWithAgent(t, "alpha")
	ctx, err := DetectContext(cfg, cfg.WorkspaceRoot, cfg.WorkspaceRoot)
	if err != nil {
		t.Fatalf("DetectContext: %v", err)
	}
	if ctx.Kind != ContextMain {
		t.Errorf("DetectContext = %+v, want main context", ctx)
	}
}

func TestDetectContextAmbiguousOutsideEverything(t *testing.T) {
	cfg, _ := testRepoWithAgent(t, "alpha")
	elsewhere := t.TempDir()
	ctx, err := DetectContext(cfg, cfg.WorkspaceRoot, elsewhere)
	if err != nil {
		t.Fatalf("DetectContext: %v", err)
	}
	if ctx.Kind != ContextAmbiguous {
		t.Errorf("DetectContext = %+v, want ambiguous", ctx)
	}
}

func TestSyncMainFastForwards(t *testing.T) {
	cfg, g := testRepoWithAgent(t, "alpha")
	// give the repository an origin holding main, and keep the agent worktree
	// (a subdirectory of the repository) out of the main checkout's status
	remote := t.TempDir()
	runGit(t, remote, "init", "--bare", "-b", "main")
	runGit(t, cfg.WorkspaceRoot, "remote", "add", "origin", remote)
	runGit(t, cfg.WorkspaceRoot, "push", "origin", "main")
	if err := os.WriteFile(filepath.Join(cfg.WorkspaceRoot, ".git", "info", "exclude"), []byte("/alpha/\n"), 0o644); err != nil {
		t.Fatalf("write exclude: %v", err)
	}
	s := New(g)
	report := s.syncMain(cfg, false)
	if report.Err != nil {
		t.Fatalf("syncMain: %v", report.Err)
	}
	if !report.Fetched {
		t.Errorf("expected Fetched=true")
	}
}

func TestSyncAgentMergesCleanly(t *testing.T) {
	cfg, g := testRepoWithAgent(t, "alpha")
	// advance main so the agent branch has something to merge
	runGit(t, cfg.WorkspaceRoot, "commit", "--allow-empty", "-m", "second")

	s := New(g)
	report := s.SyncAgent(cfg, "alpha", false, false)
	if report.Err != nil {
		t.Fatalf("SyncAgent: %v", report.Err)
	}
	if !report.Merged {
		t.Errorf("expected Merged=true, got %+v", report)
	}
}

func TestSyncAgentRefusesWhenDirty(t *testing.T) {
	cfg, g := testRepoWithAgent(t, "alpha")
	if err := os.WriteFile(filepath.Join(cfg.WorkspaceRoot, "alpha", "dirty.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	s := New(g)
	report := s.SyncAgent(cfg, "alpha", false, false)
	if report.Err == nil {
		t.Fatalf("expected SyncAgent to refuse a dirty worktree")
	}
}

func TestSyncAgentDryRunReportsNoMutation(t *testing.T) {
	cfg, g := testRepoWithAgent(t, "alpha")
	s := New(g)
	report := s.SyncAgent(cfg, "alpha", false, true)
	if report.Err != nil {
		t.Fatalf("dry-run SyncAgent: %v", report.Err)
	}
	if report.Merged || report.Fetched {
		t.Errorf("dry-run must report the plan without mutating, got %+v", report)
	}
}

func TestSyncAgentUnknownAgentFails(t *testing.T) {
	cfg, g := testRepoWithAgent(t, "alpha")
	s := New(g)
	report := s.SyncAgent(cfg, "ghost", false, false)
	if report.Err == nil {
		t.Fatalf("expected error for unknown agent")
	}
}

func TestSyncRequiredPreHookAbortsBeforeMerge(t *testing.T) {
	cfg, g := testRepoWithAgent(t, "alpha")
	cfg.Document.Sync.PreSyncHooks = []config.Hook{{Command: "false", Required: true}}
	s := New(g)
	report := s.SyncAgent(cfg, "alpha", false, false)
	if report.Err == nil {
		t.Fatalf("expected required pre-sync hook failure to abort")
	}
	if report.Merged {
		t.Errorf("merge must not run after a required hook fails")
	}
}
