// Package lifecycle implements init and remove-all (spec §4.7), which
// materialize or tear down a workspace wholesale, plus RemoveAgent, which
// tears down a single agent.
package lifecycle

import (
	"os"
	"path/filepath"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/errtag"
	"github.com/agentctl/agentctl/internal/mux"
	"github.com/agentctl/agentctl/internal/profiles"
	"github.com/agentctl/agentctl/internal/vcs"
)

// InitOptions controls Init.
type InitOptions struct {
	Force bool
}

// InitReport summarizes what Init materialized.
type InitReport struct {
	ConfigCreated   bool
	ProfilesDir     string
	ProfilesWritten int
}

// Init materializes the workspace-root directory tree and default config
// document (via config.InitWorkspace), then writes the built-in layout
// profiles' YAML sidecars under <workspace-root>/profiles (spec §6: "shipped
// as embedded templates that are materialized on init").
func Init(workspaceRoot string, opts InitOptions) (InitReport, error) {
	if err := config.InitWorkspace(workspaceRoot, opts.Force); err != nil {
		return InitReport{}, err
	}
	cfg, err := config.Load(workspaceRoot)
	if err != nil {
		return InitReport{}, err
	}
	profilesDir := cfg.ProfilesDir()
	if err := profiles.Materialize(profiles.Default(), profilesDir, opts.Force); err != nil {
		return InitReport{ConfigCreated: true}, err
	}
	return InitReport{
		ConfigCreated:   true,
		ProfilesDir:     profilesDir,
		ProfilesWritten: len(profiles.Default().Names()),
	}, nil
}

// RemoveOptions controls RemoveAll.
type RemoveOptions struct {
	Force          bool
	KeepWorkspace  bool
	MergeToPrimary bool
	KeepMetaDir    bool
}

// RemovalEntry is one agent's teardown outcome.
type RemovalEntry struct {
	AgentID string
	Killed  bool
	vcs.RemovalReport
	Err error
}

// RemoveReport is the result of RemoveAll.
type RemoveReport struct {
	SessionKilled bool
	Agents        []RemovalEntry
	MetaDirGone   bool
}

// Failed reports whether any agent failed to tear down.
func (r RemoveReport) Failed() bool {
	for _, e := range r.Agents {
		if e.Err != nil {
			return true
		}
	}
	return false
}

// RemoveAll implements spec §4.7's remove-all: kill the live session first
// (so no pane can race a worktree removal), then tear down every declared
// agent's worktree/branch via the provisioner, then optionally delete the
// workspace's own metadata directory. Partial progress is always returned,
// matching the provisioner's own "no silent rollback" model (spec §4.2).
func RemoveAll(cfg *config.Config, orch *mux.Orchestrator, provisioner *vcs.Provisioner, opts RemoveOptions) (RemoveReport, error) {
	var report RemoveReport

	if orch != nil {
		killOutcome, err := orch.Kill(cfg, cfg.Document.SessionName, opts.Force)
		if err != nil {
			return report, err
		}
		report.SessionKilled = killOutcome.Killed
	}

	// Remove mutates cfg.Document.Agents on success (it persists the removal),
	// so the loop ranges over a snapshot taken before any removal runs.
	agents := append([]config.Agent(nil), cfg.Document.Agents...)
	for _, agent := range agents {
		removal, err := provisioner.Remove(cfg, agent.ID, vcs.RemovalOptions{
			Force:          opts.Force,
			KeepWorkspace:  opts.KeepWorkspace,
			MergeToPrimary: opts.MergeToPrimary,
		})
		report.Agents = append(report.Agents, RemovalEntry{
			AgentID:       agent.ID,
			Killed:        report.SessionKilled,
			RemovalReport: removal,
			Err:           err,
		})
	}

	if report.Failed() && !opts.Force {
		var firstErr error
		for _, e := range report.Agents {
			if e.Err != nil {
				firstErr = e.Err
				break
			}
		}
		kind := errtag.KindOf(firstErr)
		if kind == "" {
			kind = errtag.KindIO
		}
		return report, errtag.Wrap(kind, firstErr, "one or more agents failed to tear down; pass force to continue anyway")
	}

	if !opts.KeepMetaDir {
		metaDir := filepath.Join(cfg.WorkspaceRoot, config.MetaDir)
		if err := os.RemoveAll(metaDir); err != nil {
			return report, errtag.Wrap(errtag.KindIO, err, "remove metadata directory")
		}
		report.MetaDirGone = true
	}

	return report, nil
}

// RemoveAgent implements spec §4.2's single-agent remove, distinct from
// RemoveAll's whole-workspace teardown: it checks whether the agent's pane is
// currently live in the declared session (so Provisioner.Remove can refuse
// without force), tears down its worktree/branch, and persists the removal
// from the config document.
func RemoveAgent(cfg *config.Config, orch *mux.Orchestrator, provisioner *vcs.Provisioner, agentID string, opts RemoveOptions) (vcs.RemovalReport, error) {
	paneActive := false
	if orch != nil && orch.Tmux.HasSession(cfg.Document.SessionName) {
		if paneMap, err := orch.Topology(cfg, cfg.Document.SessionName); err == nil {
			_, paneActive = paneMap[agentID]
		}
	}
	return provisioner.Remove(cfg, agentID, vcs.RemovalOptions{
		Force:          opts.Force,
		KeepWorkspace:  opts.KeepWorkspace,
		MergeToPrimary: opts.MergeToPrimary,
		PaneActive:     paneActive,
	})
}
