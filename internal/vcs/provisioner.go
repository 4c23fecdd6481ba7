package vcs

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/errtag"
)

// OutcomeKind is a tagged variant for the per-agent provisioning result
// (spec §4.2 step 5; spec §9 re-architecture note on string-typed enums).
type OutcomeKind string

const (
	Created         OutcomeKind = "created"
	Present         OutcomeKind = "present"
	Repaired        OutcomeKind = "repaired"
	Skipped         OutcomeKind = "skipped"
	ProvisionFailed OutcomeKind = "failed"
)

// AgentOutcome is one line of a ProvisioningReport.
type AgentOutcome struct {
	AgentID string
	Kind    OutcomeKind
	Reason  string
	Err     error
}

// ProvisioningReport is the result of Provisioner.Provision.
type ProvisioningReport struct {
	Outcomes []AgentOutcome
}

// Failed reports whether any agent outcome is ProvisionFailed.
func (r ProvisioningReport) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Kind == ProvisionFailed {
			return true
		}
	}
	return false
}

// Provisioner reconciles declared agents with real branches and worktrees.
type Provisioner struct {
	Git *Git
}

// NewProvisioner returns a Provisioner bound to repo.
func NewProvisioner(repo *Git) *Provisioner {
	return &Provisioner{Git: repo}
}

// AssertRepository fails NotARepository unless repoRoot is an ancestor of
// workspaceRoot (spec §4.2 step 1).
func AssertRepository(repoRoot, workspaceRoot string) error {
	rel, err := filepath.Rel(filepath.Clean(repoRoot), filepath.Clean(workspaceRoot))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errtag.New(errtag.KindNotARepository, "workspace root is not inside the repository").
			WithPath(workspaceRoot)
	}
	return nil
}

// Provision reconciles every declared agent in config order (spec §4.2
// step 4). Observable side effects are emitted in config order even though
// the work itself is not fanned out — provisioning touches a single
// repository object serially, per spec §5's "VC operations issued serially
// against a single repository object per invocation".
func (p *Provisioner) Provision(cfg *config.Config) (ProvisioningReport, error) {
	primary, err := p.Git.PrimaryBranch()
	if err != nil {
		return ProvisioningReport{}, err
	}
	actual, err := p.Git.WorktreeList()
	if err != nil {
		return ProvisioningReport{}, err
	}
	byBranch := map[string]Worktree{}
	for _, w := range actual {
		if w.Branch != "" {
			byBranch[w.Branch] = w
		}
	}

	var report ProvisioningReport
	for _, agent := range cfg.Document.Agents {
		branch := agent.DefaultBranch()
		worktreePath := agent.DefaultWorktreePath(cfg.WorkspaceRoot)
		report.Outcomes = append(report.Outcomes, p.reconcileAgent(agent.ID, branch, worktreePath, primary, byBranch))
	}
	return report, nil
}

func (p *Provisioner) reconcileAgent(agentID, branch, worktreePath, primary string, byBranch map[string]Worktree) AgentOutcome {
	branchExists := p.Git.BranchExists(branch)
	wt, wtRegistered := byBranch[branch]

	if !branchExists {
		if err := p.Git.CreateBranch(branch, primary); err != nil {
			return AgentOutcome{AgentID: agentID, Kind: ProvisionFailed, Reason: "create branch", Err: err}
		}
		if err := p.Git.WorktreeAdd(worktreePath, branch); err != nil {
			return AgentOutcome{AgentID: agentID, Kind: ProvisionFailed, Reason: "create worktree", Err: err}
		}
		return AgentOutcome{AgentID: agentID, Kind: Created}
	}

	if !wtRegistered {
		if st, err := os.Stat(worktreePath); err == nil {
			if st.IsDir() && !isGitWorktree(worktreePath) {
				return AgentOutcome{AgentID: agentID, Kind: ProvisionFailed, Reason: "path exists and is not a worktree",
					Err: errtag.New(errtag.KindPathConflict, "path occupied by a non-worktree directory").WithPath(worktreePath)}
			}
		}
		if err := p.Git.WorktreeAdd(worktreePath, branch); err != nil {
			return AgentOutcome{AgentID: agentID, Kind: ProvisionFailed, Reason: "create worktree for existing branch", Err: err}
		}
		return AgentOutcome{AgentID: agentID, Kind: Created}
	}

	if _, err := os.Stat(wt.Path); err != nil {
		if err := p.Git.WorktreePrune(); err != nil {
			return AgentOutcome{AgentID: agentID, Kind: ProvisionFailed, Reason: "prune stale worktree", Err: err}
		}
		if err := p.Git.WorktreeAdd(worktreePath, branch); err != nil {
			return AgentOutcome{AgentID: agentID, Kind: ProvisionFailed, Reason: "recreate pruned worktree", Err: err}
		}
		return AgentOutcome{AgentID: agentID, Kind: Repaired, Reason: "pruned stale worktree record"}
	}

	if wt.Branch != branch {
		if !p.Git.IsClean(wt.Path) {
			return AgentOutcome{AgentID: agentID, Kind: Skipped, Reason: "dirty worktree on wrong branch",
				Err: errtag.New(errtag.KindDirtyWorktree, "worktree is on the wrong branch and has uncommitted changes").WithPath(wt.Path)}
		}
		if err := p.Git.Checkout(wt.Path, branch); err != nil {
			return AgentOutcome{AgentID: agentID, Kind: ProvisionFailed, Reason: "checkout declared branch", Err: err}
		}
		return AgentOutcome{AgentID: agentID, Kind: Repaired, Reason: "checked out declared branch"}
	}

	return AgentOutcome{AgentID: agentID, Kind: Present}
}

func isGitWorktree(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && !info.IsDir() // worktrees have a ".git" file, not a directory
}

// WorkspaceReport is the result of Provisioner.ValidateWorkspace.
type WorkspaceReport struct {
	Outcomes []AgentOutcome
}

// ValidateWorkspace performs the same reconciliation query as Provision but
// never mutates; it downgrades every would-be-mutating transition to a
// Drift-flavored Skipped outcome.
func (p *Provisioner) ValidateWorkspace(cfg *config.Config) (WorkspaceReport, error) {
	actual, err := p.Git.WorktreeList()
	if err != nil {
		return WorkspaceReport{}, err
	}
	byBranch := map[string]Worktree{}
	for _, w := range actual {
		if w.Branch != "" {
			byBranch[w.Branch] = w
		}
	}
	var report WorkspaceReport
	for _, agent := range cfg.Document.Agents {
		branch := agent.DefaultBranch()
		wt, ok := byBranch[branch]
		switch {
		case !p.Git.BranchExists(branch):
			report.Outcomes = append(report.Outcomes, AgentOutcome{AgentID: agent.ID, Kind: Skipped, Reason: "branch missing"})
		case !ok:
			report.Outcomes = append(report.Outcomes, AgentOutcome{AgentID: agent.ID, Kind: Skipped, Reason: "worktree missing"})
		default:
			if _, statErr := os.Stat(wt.Path); statErr != nil {
				report.Outcomes = append(report.Outcomes, AgentOutcome{AgentID: agent.ID, Kind: Skipped, Reason: "worktree path missing on disk"})
				continue
			}
			report.Outcomes = append(report.Outcomes, AgentOutcome{AgentID: agent.ID, Kind: Present})
		}
	}
	return report, nil
}

// RemovalOptions controls Provisioner.Remove.
type RemovalOptions struct {
	Force          bool
	KeepWorkspace  bool
	MergeToPrimary bool
	PaneActive     bool
}

// RemovalReport is the result of Provisioner.Remove.
type RemovalReport struct {
	AgentID       string
	WorktreeGone  bool
	BranchDeleted bool
	Merged        bool
}

// Remove implements spec §4.2's remove algorithm: detach pane (caller's
// responsibility — the provisioner has no mux handle), remove worktree,
// optionally merge to primary, delete branch. Partial progress is returned
// even on error, matching the "no silent rollback" failure model.
func (p *Provisioner) Remove(cfg *config.Config, agentID string, opts RemovalOptions) (RemovalReport, error) {
	agent, ok := cfg.AgentByID(agentID)
	if !ok {
		return RemovalReport{}, errtag.New(errtag.KindSessionNotFound, "no such agent").WithID(agentID)
	}
	if opts.PaneActive && !opts.Force {
		return RemovalReport{}, errtag.New(errtag.KindAgentBusy, "agent pane is active; pass force to remove anyway").WithID(agentID)
	}

	worktreePath := agent.DefaultWorktreePath(cfg.WorkspaceRoot)
	branch := agent.DefaultBranch()
	report := RemovalReport{AgentID: agentID}

	if !opts.KeepWorkspace {
		if !opts.Force && !p.Git.IsClean(worktreePath) {
			return report, errtag.New(errtag.KindDirtyWorktree, "agent worktree has uncommitted changes").WithID(agentID).WithPath(worktreePath)
		}
		if err := p.Git.WorktreeRemove(worktreePath, opts.Force); err != nil {
			return report, err
		}
		report.WorktreeGone = true
	}

	if opts.MergeToPrimary {
		if _, mergeErr := p.Git.Merge(p.Git.RepoRoot, branch, StrategyManual); mergeErr == nil {
			report.Merged = true
		}
	}

	if err := p.Git.DeleteBranch(branch, opts.Force); err != nil {
		return report, err
	}
	report.BranchDeleted = true

	if err := cfg.RemoveAgent(agentID); err != nil {
		return report, err
	}
	return report, nil
}
