// Package vcs wraps the version-control CLI as a typed adapter and
// implements the workspace provisioner on top of it (spec §4.2). All other
// packages that need repository state go through Git, never through
// os/exec directly.
package vcs

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/agentctl/agentctl/internal/errtag"
)

// Worktree is one entry from `git worktree list --porcelain`.
type Worktree struct {
	Path    string
	Head    string
	Branch  string
	Healthy bool
}

// Git wraps git operations scoped to a repository root.
type Git struct {
	RepoRoot string
}

// New returns a Git instance scoped to repoRoot.
func New(repoRoot string) *Git {
	return &Git{RepoRoot: repoRoot}
}

// DiscoverRoot finds the repository root that is an ancestor of dir, by
// asking git directly rather than walking the filesystem by hand.
func DiscoverRoot(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", errtag.Wrap(errtag.KindNotARepository, err, "discover repository root from "+dir).
			WithPath(dir).WithSuggestion("run inside a git repository")
	}
	return strings.TrimSpace(string(out)), nil
}

// gitEnvBlacklist strips git-specific environment variables so subprocess
// git commands always act on RepoRoot, never a parent repository leaked in
// through the environment (e.g. from a pre-commit hook invocation chain).
var gitEnvBlacklist = map[string]bool{
	"GIT_DIR":                          true,
	"GIT_WORK_TREE":                    true,
	"GIT_INDEX_FILE":                   true,
	"GIT_OBJECT_DIRECTORY":             true,
	"GIT_ALTERNATE_OBJECT_DIRECTORIES": true,
}

// runIn executes git in dir (not necessarily g.RepoRoot — worktree
// operations need to run against a specific worktree path).
func (g *Git) runIn(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	for _, e := range os.Environ() {
		if k, _, ok := strings.Cut(e, "="); ok && gitEnvBlacklist[k] {
			continue
		}
		cmd.Env = append(cmd.Env, e)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}

// run executes git against the repository root.
func (g *Git) run(args ...string) (string, error) {
	return g.runIn(g.RepoRoot, args...)
}

// CurrentBranch returns the checked-out branch name at dir ("HEAD" if detached).
func (g *Git) CurrentBranch(dir string) (string, error) {
	out, err := g.runIn(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", errtag.Wrap(errtag.KindIO, err, "resolve current branch")
	}
	return strings.TrimSpace(out), nil
}

// PrimaryBranch returns the default branch via the origin HEAD symref. When
// that symref is absent it falls back to the branch checked out at RepoRoot,
// and to "main" if that branch is detached or cannot be read.
func (g *Git) PrimaryBranch() (string, error) {
	out, err := g.run("symbolic-ref", "refs/remotes/origin/HEAD")
	if err != nil {
		if cur, cerr := g.CurrentBranch(g.RepoRoot); cerr == nil && cur != "" && cur != "HEAD" {
			return cur, nil
		}
		return "main", nil
	}
	ref := strings.TrimSpace(out)
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:], nil
	}
	return ref, nil
}

// BranchExists reports whether a local branch exists.
func (g *Git) BranchExists(branch string) bool {
	_, err := g.run("show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// CreateBranch creates branch from startPoint (typically the primary
// branch's current HEAD).
func (g *Git) CreateBranch(branch, startPoint string) error {
	_, err := g.run("branch", branch, startPoint)
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, fmt.Sprintf("create branch %q from %q", branch, startPoint))
	}
	return nil
}

// DeleteBranch removes a local branch. force allows deleting unmerged branches.
func (g *Git) DeleteBranch(branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.run("branch", flag, branch)
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "delete branch "+branch)
	}
	return nil
}

// WorktreeAdd creates a new worktree at path checked out to branch.
func (g *Git) WorktreeAdd(path, branch string) error {
	_, err := g.run("worktree", "add", path, branch)
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, fmt.Sprintf("add worktree %q on %q", path, branch)).WithPath(path)
	}
	return nil
}

// WorktreeAddNewBranch creates a new worktree at path with a brand-new branch.
func (g *Git) WorktreeAddNewBranch(path, branch, startPoint string) error {
	_, err := g.run("worktree", "add", "-b", branch, path, startPoint)
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, fmt.Sprintf("add worktree %q branch %q", path, branch)).WithPath(path)
	}
	return nil
}

// WorktreeRemove removes a worktree. force removes even with uncommitted changes.
func (g *Git) WorktreeRemove(path string, force bool) error {
	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	_, err := g.run(args...)
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "remove worktree "+path).WithPath(path)
	}
	return nil
}

// WorktreePrune removes stale worktree administrative entries (ones whose
// directory vanished on disk) without touching the branch.
func (g *Git) WorktreePrune() error {
	_, err := g.run("worktree", "prune")
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "prune worktrees")
	}
	return nil
}

// WorktreeList returns all registered worktrees, including the main one.
func (g *Git) WorktreeList() ([]Worktree, error) {
	out, err := g.run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, errtag.Wrap(errtag.KindIO, err, "list worktrees")
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(output string) []Worktree {
	var worktrees []Worktree
	current := Worktree{Healthy: true}
	flush := func() {
		if current.Path != "" {
			worktrees = append(worktrees, current)
		}
		current = Worktree{Healthy: true}
	}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "prunable" || strings.HasPrefix(line, "prunable "):
			current.Healthy = false
		}
	}
	flush()
	return worktrees
}

// IsClean reports whether dir's working tree has no staged, unstaged, or
// untracked changes.
func (g *Git) IsClean(dir string) bool {
	out, err := g.runIn(dir, "status", "--porcelain")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == ""
}

// Checkout switches dir's worktree to branch. Fails when git refuses because
// uncommitted changes would be overwritten; other uncommitted changes are
// carried over to branch.
func (g *Git) Checkout(dir, branch string) error {
	_, err := g.runIn(dir, "checkout", branch)
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "checkout "+branch).WithPath(dir)
	}
	return nil
}

// Fetch fetches from the given remote (default "origin" if empty).
func (g *Git) Fetch(remote string) error {
	if remote == "" {
		remote = "origin"
	}
	_, err := g.run("fetch", remote)
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "fetch "+remote)
	}
	return nil
}

// FastForward fast-forwards branch to its upstream. Fails (non-fast-forward)
// if the merge would not be a fast-forward.
func (g *Git) FastForward(branch string) error {
	_, err := g.run("merge", "--ff-only", "origin/"+branch)
	if err != nil {
		return errtag.Wrap(errtag.KindNonFFRemote, err, "fast-forward "+branch).
			WithSuggestion("rebase or pull with an explicit strategy")
	}
	return nil
}

// ConflictStrategy selects how Merge resolves non-textual conflicts.
type ConflictStrategy string

const (
	StrategyManual     ConflictStrategy = "manual"
	StrategyAutoTheirs ConflictStrategy = "auto_theirs"
	StrategyAutoOurs   ConflictStrategy = "auto_ours"
)

// Merge merges fromBranch into dir's current branch using strategy.
// Returns the list of conflicted paths (if any) alongside the error.
func (g *Git) Merge(dir, fromBranch string, strategy ConflictStrategy) (conflicts []string, err error) {
	args := []string{"merge", "--no-edit"}
	switch strategy {
	case StrategyAutoTheirs:
		args = append(args, "-X", "theirs")
	case StrategyAutoOurs:
		args = append(args, "-X", "ours")
	}
	args = append(args, fromBranch)
	out, mergeErr := g.runIn(dir, args...)
	if mergeErr == nil {
		return nil, nil
	}
	conflicts = g.conflictedPaths(dir)
	if len(conflicts) > 0 {
		return conflicts, errtag.New(errtag.KindMergeConflicts, "merge produced conflicts").
			WithPath(dir).WithSuggestion("resolve conflicts and commit, or abort the merge")
	}
	_ = out
	return nil, errtag.Wrap(errtag.KindIO, mergeErr, "merge "+fromBranch).WithPath(dir)
}

func (g *Git) conflictedPaths(dir string) []string {
	out, err := g.runIn(dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths
}

// AbortMerge aborts an in-progress merge in dir.
func (g *Git) AbortMerge(dir string) error {
	_, err := g.runIn(dir, "merge", "--abort")
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "abort merge").WithPath(dir)
	}
	return nil
}

// Stash stashes dir's working tree, including untracked files.
func (g *Git) Stash(dir string) error {
	_, err := g.runIn(dir, "stash", "push", "--include-untracked")
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "stash").WithPath(dir)
	}
	return nil
}
