// Package sync implements the context-aware synchronizer (spec §4.5):
// CWD-based context detection, main-context fetch+fast-forward, agent-context
// merge under the configured conflict-resolution policy, and an ordered
// pre/post hook pipeline with required-hook abort semantics.
package sync

import (
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/errtag"
	"github.com/agentctl/agentctl/internal/vcs"
)

// ContextKind is a tagged variant for the detected sync context (spec §9
// re-architecture note on string-typed enums).
type ContextKind string

const (
	ContextMain      ContextKind = "main"
	ContextAgent     ContextKind = "agent"
	ContextAmbiguous ContextKind = "ambiguous"
)

// Context is the result of DetectContext.
type Context struct {
	Kind       ContextKind
	AgentID    string   // set when Kind == ContextAgent
	Candidates []string // agent ids whose worktree the CWD might be under, set when Kind == ContextAmbiguous
}

// DetectContext implements spec §4.5's context detection: canonicalize
// currentDir against each agent's worktree path and the primary repository
// root. Callers pass currentDir explicitly; the function never reads the
// process CWD, so an empty currentDir matches no context and is reported as
// ambiguous (spec §9).
func DetectContext(cfg *config.Config, repoRoot, currentDir string) (Context, error) {
	resolved, err := filepath.EvalSymlinks(currentDir)
	if err != nil {
		resolved = filepath.Clean(currentDir)
	}

	var candidates []string
	for _, agent := range cfg.Document.Agents {
		wt := agent.DefaultWorktreePath(cfg.WorkspaceRoot)
		wtResolved, err := filepath.EvalSymlinks(wt)
		if err != nil {
			wtResolved = filepath.Clean(wt)
		}
		if resolved == wtResolved || isUnder(resolved, wtResolved) {
			candidates = append(candidates, agent.ID)
		}
	}
	if len(candidates) == 1 {
		return Context{Kind: ContextAgent, AgentID: candidates[0]}, nil
	}
	if len(candidates) > 1 {
		return Context{Kind: ContextAmbiguous, Candidates: candidates}, nil
	}

	repoResolved, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		repoResolved = filepath.Clean(repoRoot)
	}
	if resolved == repoResolved {
		return Context{Kind: ContextMain}, nil
	}
	return Context{Kind: ContextAmbiguous}, nil
}

func isUnder(path, ancestor string) bool {
	rel, err := filepath.Rel(ancestor, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// HookResult is one entry of Report.Hooks.
type HookResult struct {
	Command  string
	Required bool
	Err      error
}

// Report is the result of a Sync/SyncAgent invocation (spec §3 "Sync report").
type Report struct {
	Context       ContextKind
	AgentID       string
	DryRun        bool
	Fetched       bool
	FastForwarded bool
	Merged        bool
	Conflicts     []string
	Hooks         []HookResult
	Err           error
}

// Synchronizer runs the sync protocol against a single repository.
type Synchronizer struct {
	Git *vcs.Git
}

// New returns a Synchronizer bound to repo.
func New(repo *vcs.Git) *Synchronizer {
	return &Synchronizer{Git: repo}
}

// Sync implements spec §4.5's `sync(current_dir?) → SyncReport`. currentDir
// must already be resolved by the caller (ambient CWD reads happen at the
// command-line boundary, not here).
func (s *Synchronizer) Sync(cfg *config.Config, repoRoot, currentDir string, dryRun bool) (Report, error) {
	ctx, err := DetectContext(cfg, repoRoot, currentDir)
	if err != nil {
		return Report{}, err
	}
	switch ctx.Kind {
	case ContextMain:
		return s.syncMain(cfg, dryRun), nil
	case ContextAgent:
		return s.SyncAgent(cfg, ctx.AgentID, false, dryRun), nil
	default:
		return Report{Context: ContextAmbiguous}, errtag.New(errtag.KindAmbiguousContext, "current directory matches no declared context").
			WithID(strings.Join(ctx.Candidates, ","))
	}
}

// syncMain implements spec §4.5's main-context protocol: fetch, refuse if
// dirty, fast-forward the primary branch.
func (s *Synchronizer) syncMain(cfg *config.Config, dryRun bool) Report {
	report := Report{Context: ContextMain, DryRun: dryRun}
	if dryRun {
		return report
	}
	if err := s.Git.Fetch(""); err != nil {
		report.Err = err
		return report
	}
	report.Fetched = true
	if !s.Git.IsClean(s.Git.RepoRoot) {
		report.Err = errtag.New(errtag.KindDirtyMain, "primary worktree has uncommitted changes")
		return report
	}
	primary, err := s.Git.PrimaryBranch()
	if err != nil {
		report.Err = err
		return report
	}
	if err := s.Git.FastForward(primary); err != nil {
		report.Err = err
		return report
	}
	report.FastForwarded = true
	return report
}

// SyncAgent implements spec §4.5's agent-context protocol: run pre-sync
// hooks, ensure clean (unless force), merge primary into the agent branch
// per the configured conflict-resolution strategy, run post-sync hooks.
func (s *Synchronizer) SyncAgent(cfg *config.Config, agentID string, force, dryRun bool) Report {
	report := Report{Context: ContextAgent, AgentID: agentID, DryRun: dryRun}
	agent, ok := cfg.AgentByID(agentID)
	if !ok {
		report.Err = errtag.New(errtag.KindSessionNotFound, "no such agent").WithID(agentID)
		return report
	}
	worktreePath := agent.DefaultWorktreePath(cfg.WorkspaceRoot)

	if dryRun {
		return report
	}

	for _, hook := range cfg.Document.Sync.PreSyncHooks {
		result := runHook(hook, worktreePath)
		report.Hooks = append(report.Hooks, result)
		if result.Err != nil && hook.Required {
			report.Err = errtag.Wrap(errtag.KindIO, result.Err, "required pre-sync hook failed")
			return report
		}
	}

	if !force && !s.Git.IsClean(worktreePath) {
		report.Err = errtag.New(errtag.KindDirtyWorktree, "agent worktree has uncommitted changes").
			WithID(agentID).WithPath(worktreePath)
		return report
	}

	primary, err := s.Git.PrimaryBranch()
	if err != nil {
		report.Err = err
		return report
	}

	strategy := conflictStrategy(cfg.Document.Sync.ConflictResolution)
	conflicts, mergeErr := s.Git.Merge(worktreePath, primary, strategy)
	if mergeErr != nil {
		report.Conflicts = conflicts
		report.Err = mergeErr
		return report
	}
	report.Merged = true

	for _, hook := range cfg.Document.Sync.PostSyncHooks {
		result := runHook(hook, worktreePath)
		report.Hooks = append(report.Hooks, result)
		// post-hook failure is reported but never rolls back the merge (spec §4.5).
	}
	return report
}

func conflictStrategy(r config.ConflictResolution) vcs.ConflictStrategy {
	switch r {
	case config.ConflictAutoTheirs:
		return vcs.StrategyAutoTheirs
	case config.ConflictAutoOurs:
		return vcs.StrategyAutoOurs
	default:
		return vcs.StrategyManual
	}
}

func runHook(hook config.Hook, defaultDir string) HookResult {
	dir := hook.WorkDir
	if dir == "" {
		dir = defaultDir
	}
	cmd := exec.Command(hook.Command, hook.Args...)
	cmd.Dir = dir
	_, err := cmd.CombinedOutput()
	result := HookResult{Command: hook.Command, Required: hook.Required}
	if err != nil {
		result.Err = errtag.Wrap(errtag.KindIO, err, "hook "+hook.Command)
	}
	return result
}
