// Package status implements the read-only status reconciler (spec §4.6) and
// the config/live-world drift diff named in spec §4.1's `diff(Config,
// live_world) → DriftReport`. It lives here rather than in internal/config so
// that config never needs to import the VC/mux adapters it is comparing
// against (those adapters already import internal/config for the Agent/
// Config types they reconcile).
package status

import (
	"os"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/mux"
	"github.com/agentctl/agentctl/internal/vcs"
)

// Category is a tagged variant for one agent's cross-check result (spec §9
// re-architecture note on string-typed enums).
type Category string

const (
	Consistent Category = "consistent"
	Drift      Category = "drift"
	Orphan     Category = "orphan"
	Missing    Category = "missing"
)

// SessionClassification is a tagged variant for the overall session state.
type SessionClassification string

const (
	SessionActive          SessionClassification = "active"
	SessionPartiallyActive SessionClassification = "partially_active"
	SessionOrphaned        SessionClassification = "orphaned"
	SessionAbsent          SessionClassification = "absent"
)

// Scope narrows a Status call, mirroring spec §4.6's
// `scope: All|Session(name)|Agent(id)`.
type Scope struct {
	All     bool
	Session string
	AgentID string
}

// AgentHealth is one agent's cross-check row.
type AgentHealth struct {
	AgentID     string
	Category    Category
	Detail      string
	HasBranch   bool
	HasWorktree bool
	HasPane     bool
	PaneAlive   bool
}

// HealthReport is the result of Reconciler.Status (spec §3 "Health report").
type HealthReport struct {
	Session     SessionClassification
	Agents      []AgentHealth
	Suggestions []string
}

// DriftReport is the result of Reconciler.Diff — spec §4.1's
// `diff(Config, live_world) → DriftReport`.
type DriftReport struct {
	Agents []AgentHealth
}

// Reconciler cross-checks declared config against live VC and multiplexer
// state. It never mutates either side.
type Reconciler struct {
	Git  *vcs.Git
	Orch *mux.Orchestrator
}

// New returns a Reconciler bound to the given adapters.
func New(git *vcs.Git, orch *mux.Orchestrator) *Reconciler {
	return &Reconciler{Git: git, Orch: orch}
}

// Status implements spec §4.6's public operation.
func (r *Reconciler) Status(cfg *config.Config, scope Scope) (HealthReport, error) {
	agents := cfg.Document.Agents
	if scope.AgentID != "" {
		agent, ok := cfg.AgentByID(scope.AgentID)
		if !ok {
			return HealthReport{}, nil
		}
		agents = []config.Agent{agent}
	}

	sessionName := cfg.Document.SessionName
	if scope.Session != "" {
		sessionName = scope.Session
	}

	sessionExists := r.Orch != nil && r.Orch.Tmux.HasSession(sessionName)
	var paneStates map[string]mux.AgentPaneState
	if sessionExists {
		paneStates, _ = r.Orch.TopologyStates(cfg, sessionName)
	}

	report := HealthReport{}
	liveCount, totalCount := 0, len(agents)
	for _, agent := range agents {
		health := r.checkAgent(cfg, agent, paneStates)
		report.Agents = append(report.Agents, health)
		if health.PaneAlive {
			liveCount++
		}
	}
	report.Session = classifySession(sessionExists, liveCount, totalCount)
	report.Suggestions = suggestionsFor(report)
	return report, nil
}

// Diff implements spec §4.1's `diff(Config, live_world) → DriftReport`: the
// same cross-check as Status, without session classification or suggestions,
// intended for callers that only want the raw agent-level discrepancies
// (e.g. a config-store caller that has no interest in session/pane state).
func (r *Reconciler) Diff(cfg *config.Config) (DriftReport, error) {
	health, err := r.Status(cfg, Scope{All: true})
	if err != nil {
		return DriftReport{}, err
	}
	return DriftReport{Agents: health.Agents}, nil
}

func (r *Reconciler) checkAgent(cfg *config.Config, agent config.Agent, paneStates map[string]mux.AgentPaneState) AgentHealth {
	health := AgentHealth{AgentID: agent.ID}
	branch := agent.DefaultBranch()
	worktreePath := agent.DefaultWorktreePath(cfg.WorkspaceRoot)

	if r.Git != nil {
		health.HasBranch = r.Git.BranchExists(branch)
	}
	if _, err := os.Stat(worktreePath); err == nil {
		health.HasWorktree = true
	}
	if state, ok := paneStates[agent.ID]; ok {
		health.HasPane = true
		if len(agent.Config.StartupCommands) == 0 {
			// no process was ever expected beyond the login shell
			health.PaneAlive = true
		} else {
			health.PaneAlive = state.Alive
		}
	}

	switch {
	case !health.HasBranch && !health.HasWorktree && !health.HasPane:
		health.Category = Missing
		health.Detail = "no branch, worktree, or pane"
	case health.HasPane && (!health.HasBranch || !health.HasWorktree):
		health.Category = Orphan
		health.Detail = "pane exists without a provisioned worktree"
	case health.HasWorktree && !health.HasBranch:
		health.Category = Drift
		health.Detail = "worktree present but declared branch is missing"
	case !health.HasWorktree && health.HasBranch:
		health.Category = Drift
		health.Detail = "branch exists but worktree is missing"
	default:
		health.Category = Consistent
	}
	return health
}

// classifySession implements spec §4.6's session classification. liveCount
// is the number of agents whose pane shows a genuinely live process — a bare
// pane with no process running beyond the login shell does not count, so a
// session whose agent processes have all died back to their shells is
// reported Orphaned rather than Active, matching "panes exist but no
// process" rather than "no pane mapped at all".
func classifySession(exists bool, liveCount, totalCount int) SessionClassification {
	if !exists {
		return SessionAbsent
	}
	if liveCount == 0 {
		return SessionOrphaned
	}
	if liveCount < totalCount {
		return SessionPartiallyActive
	}
	return SessionActive
}

func suggestionsFor(report HealthReport) []string {
	var suggestions []string
	seen := map[string]bool{}
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			suggestions = append(suggestions, s)
		}
	}
	for _, agent := range report.Agents {
		switch agent.Category {
		case Missing:
			add("provision")
		case Drift:
			add("provision")
		case Orphan:
			add("kill")
		}
	}
	switch report.Session {
	case SessionAbsent:
		add("start")
	case SessionOrphaned:
		add("kill")
	case SessionPartiallyActive:
		add("start --force")
	}
	return suggestions
}
