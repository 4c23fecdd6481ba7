package vcs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentctl/agentctl/internal/config"
)

func testConfig(workspaceRoot string, agentIDs ...string) *config.Config {
	cfg := &config.Config{WorkspaceRoot: workspaceRoot}
	cfg.Document.SchemaVersion = "1"
	cfg.Document.SessionName = "test"
	for _, id := range agentIDs {
		cfg.Document.Agents = append(cfg.Document.Agents, config.Agent{ID: id})
	}
	return cfg
}

func TestProvisionCreatesBranchesAndWorktrees(t *testing.T) {
	repo := initTestRepo(t)
	p := NewProvisioner(New(repo))
	cfg := testConfig(repo, "1", "2")

	report, err := p.Provision(cfg)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	for _, o := range report.Outcomes {
		if o.Kind != Created {
			t.Errorf("agent %s: outcome = %s, want created (err=%v)", o.AgentID, o.Kind, o.Err)
		}
	}
	for _, id := range []string{"1", "2"} {
		if _, err := os.Stat(filepath.Join(repo, id)); err != nil {
			t.Errorf("expected worktree dir for %s: %v", id, err)
		}
	}
}

func TestProvisionIsIdempotent(t *testing.T) {
	repo := initTestRepo(t)
	p := NewProvisioner(New(repo))
	cfg := testConfig(repo, "1")

	if _, err := p.Provision(cfg); err != nil {
		t.Fatalf("first Provision: %v", err)
	}
	report, err := p.Provision(cfg)
	if err != nil {
		t.Fatalf("second Provision: %v", err)
	}
	if report.Failed() {
		t.Fatalf("expected no failures on second provision: %+v", report.Outcomes)
	}
	for _, o := range report.Outcomes {
		if o.Kind != Present {
			t.Errorf("agent %s: outcome = %s, want present", o.AgentID, o.Kind)
		}
	}
}

func TestProvisionRepairsStaleWorktree(t *testing.T) {
	repo := initTestRepo(t)
	p := NewProvisioner(New(repo))
	cfg := testConfig(repo, "1")

	if _, err := p.Provision(cfg); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := os.RemoveAll(filepath.Join(repo, "1")); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}

	report, err := p.Provision(cfg)
	if err != nil {
		t.Fatalf("Provision after external removal: %v", err)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Kind != Repaired {
		t.Fatalf("expected Repaired outcome, got %+v", report.Outcomes)
	}
	if _, err := os.Stat(filepath.Join(repo, "1")); err != nil {
		t.Errorf("expected worktree to be recreated: %v", err)
	}
}

func TestAgentIsolationAfterProvision(t *testing.T) {
	repo := initTestRepo(t)
	p := NewProvisioner(New(repo))
	cfg := testConfig(repo, "1", "2")
	if _, err := p.Provision(cfg); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	a1, _ := cfg.AgentByID("1")
	a2, _ := cfg.AgentByID("2")
	if a1.DefaultWorktreePath(repo) == a2.DefaultWorktreePath(repo) {
		t.Fatalf("expected distinct worktree paths")
	}
	if a1.DefaultBranch() == a2.DefaultBranch() {
		t.Fatalf("expected distinct branches")
	}
}

func TestRemoveRequiresForceWhenDirty(t *testing.T) {
	repo := initTestRepo(t)
	p := NewProvisioner(New(repo))
	cfg := testConfig(repo, "1")
	if _, err := p.Provision(cfg); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	worktreePath := filepath.Join(repo, "1")
	if err := os.WriteFile(filepath.Join(worktreePath, "scratch.txt"), []byte("wip"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := p.Remove(cfg, "1", RemovalOptions{}); err == nil {
		t.Fatalf("expected DirtyWorktree error without force")
	}

	report, err := p.Remove(cfg, "1", RemovalOptions{Force: true})
	if err != nil {
		t.Fatalf("Remove with force: %v", err)
	}
	if !report.WorktreeGone || !report.BranchDeleted {
		t.Errorf("expected worktree and branch removed, got %+v", report)
	}
	if _, ok := cfg.AgentByID("1"); ok {
		t.Errorf("expected agent 1 removed from config after Remove")
	}
}

func TestRemoveUnknownAgentFails(t *testing.T) {
	repo := initTestRepo(t)
	p := NewProvisioner(New(repo))
	cfg := testConfig(repo)
	if _, err := p.Remove(cfg, "ghost", RemovalOptions{}); err == nil {
		t.Fatalf("expected error removing unknown agent")
	}
}

func TestValidateWorkspaceReportsMissingBranch(t *testing.T) {
	repo := initTestRepo(t)
	p := NewProvisioner(New(repo))
	cfg := testConfig(repo, "1")

	report, err := p.ValidateWorkspace(cfg)
	if err != nil {
		t.Fatalf("ValidateWorkspace: %v", err)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Kind != Skipped {
		t.Fatalf("expected Skipped outcome before provisioning, got %+v", report.Outcomes)
	}
}
