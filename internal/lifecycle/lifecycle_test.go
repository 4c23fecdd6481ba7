package lifecycle

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

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-b", "main")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test")
	runGit(t, dir, "commit", "--allow-empty", "-m", "init")
	return dir
}

func TestInitCreatesConfigAndProfiles(t *testing.T) {
	repo := initTestRepo(t)
	report, err := Init(repo, InitOptions{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !report.ConfigCreated {
		t.Errorf("expected ConfigCreated=true")
	}
	if report.ProfilesWritten == 0 {
		t.Errorf("expected at least one profile sidecar written")
	}
	if _, err := os.Stat(filepath.Join(repo, config.MetaDir, "config.yaml")); err != nil {
		t.Errorf("config.yaml missing: %v", err)
	}
	entries, err := os.ReadDir(report.ProfilesDir)
	if err != nil || len(entries) == 0 {
		t.Errorf("expected materialized profile directories under %s, got %v (err %v)", report.ProfilesDir, entries, err)
	}
}

func TestInitRefusesToOverwriteWithoutForce(t *testing.T) {
	repo := initTestRepo(t)
	if _, err := Init(repo, InitOptions{}); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if _, err := Init(repo, InitOptions{}); err == nil {
		t.Fatalf("expected second Init without force to fail")
	}
}

func TestInitForceOverwrites(t *testing.T) {
	repo := initTestRepo(t)
	if _, err := Init(repo, InitOptions{}); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if _, err := Init(repo, InitOptions{Force: true}); err != nil {
		t.Fatalf("forced re-Init: %v", err)
	}
}

func TestRemoveAllTearsDownAgentsAndMetaDir(t *testing.T) {
	repo := initTestRepo(t)
	if _, err := Init(repo, InitOptions{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cfg, err := config.Load(repo)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Document.Agents = []config.Agent{{ID: "alpha"}}

	g := vcs.New(repo)
	provisioner := vcs.NewProvisioner(g)
	if _, err := provisioner.Provision(cfg); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	report, err := RemoveAll(cfg, nil, provisioner, RemoveOptions{})
	if err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if len(report.Agents) != 1 || !report.Agents[0].WorktreeGone || !report.Agents[0].BranchDeleted {
		t.Errorf("expected agent torn down fully, got %+v", report.Agents)
	}
	if !report.MetaDirGone {
		t.Errorf("expected meta dir removed")
	}
	if _, err := os.Stat(filepath.Join(repo, config.MetaDir)); err == nil {
		t.Errorf("meta dir should no longer exist")
	}
}

func TestRemoveAllKeepMetaDirPreservesConfig(t *testing.T) {
	repo := initTestRepo(t)
	if _, err := Init(repo, InitOptions{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cfg, err := config.Load(repo)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	g := vcs.New(repo)
	provisioner := vcs.NewProvisioner(g)
	report, err := RemoveAll(cfg, nil, provisioner, RemoveOptions{KeepMetaDir: true})
	if err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if report.MetaDirGone {
		t.Errorf("expected meta dir preserved")
	}
	if _, err := os.Stat(filepath.Join(repo, config.MetaDir, "config.yaml")); err != nil {
		t.Errorf("config.yaml should still exist: %v", err)
	}
}

func TestRemoveAllStopsOnFailureWithoutForce(t *testing.T) {
	repo := initTestRepo(t)
	if _, err := Init(repo, InitOptions{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cfg, err := config.Load(repo)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// declare an agent whose worktree is dirty, so Remove refuses it
	cfg.Document.Agents = []config.Agent{{ID: "alpha"}}
	g := vcs.New(repo)
	provisioner := vcs.NewProvisioner(g)
	if _, err := provisioner.Provision(cfg); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	dirtyFile := filepath.Join(cfg.WorkspaceRoot, "alpha", "dirty.txt")
	if err := os.WriteFile(dirtyFile, []byte("x"), 0o644); err != nil {
		t.Fatalf("write dirty file: %v", err)
	}

	report, err := RemoveAll(cfg, nil, provisioner, RemoveOptions{})
	if err == nil {
		t.Fatalf("expected RemoveAll to fail on a dirty agent worktree without force")
	}
	if report.MetaDirGone {
		t.Errorf("meta dir must not be removed when an agent failed to tear down")
	}
}
