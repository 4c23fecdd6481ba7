package mux

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/errtag"
	"github.com/agentctl/agentctl/internal/profiles"
	"github.com/agentctl/agentctl/internal/vcs"
)

// shellCommands lists the login/interactive shell names tmux reports as a
// pane's current command when nothing else is running in it. A pane showing
// anything else is treated as carrying live foreground work.
var shellCommands = map[string]bool{
	"bash": true, "zsh": true, "sh": true, "fish": true, "dash": true, "ksh": true, "tcsh": true, "csh": true,
}

func isLiveCommand(cmd string) bool {
	cmd = strings.TrimPrefix(cmd, "-") // tmux prefixes login-shell argv[0] with "-"
	return cmd != "" && !shellCommands[cmd]
}

// SessionStatus is a tagged variant for the orchestrator's state machine
// (spec §4.3: Absent→Creating→Active⇄Detached→Terminating→Absent, with an
// Error(reason) branch; spec §9 re-architecture note on string-typed enums).
type SessionStatus string

const (
	StatusAbsent      SessionStatus = "absent"
	StatusCreating    SessionStatus = "creating"
	StatusActive      SessionStatus = "active"
	StatusDetached    SessionStatus = "detached"
	StatusTerminating SessionStatus = "terminating"
	StatusError       SessionStatus = "error"
)

// SessionRecord is the derived (never persisted) session description
// returned by Start (spec §3 "Session record").
type SessionRecord struct {
	Name    string
	Status  SessionStatus
	Profile string
	PaneMap map[string]PaneAddress // agent id -> pane address
	Reason  string                 // populated when Status == StatusError
}

// SessionInfo is one entry of Orchestrator.List.
type SessionInfo struct {
	Name        string
	WindowCount int
}

// Orchestrator builds and tears down multiplexed sessions whose pane
// topology matches the declared agent set under a chosen layout profile.
type Orchestrator struct {
	Tmux        *Tmux
	Profiles    *profiles.Registry
	Provisioner *vcs.Provisioner
}

// NewOrchestrator returns an Orchestrator wired to the given adapters.
func NewOrchestrator(tmux *Tmux, profileRegistry *profiles.Registry, provisioner *vcs.Provisioner) *Orchestrator {
	if profileRegistry == nil {
		profileRegistry = profiles.Default()
	}
	return &Orchestrator{Tmux: tmux, Profiles: profileRegistry, Provisioner: provisioner}
}

const supervisorWindowName = "supervisor"

// Start implements spec §4.3's start contract. force pre-kills an existing
// session of the same name instead of refusing (spec §5: "start --force
// performs kill-then-create atomically from the caller's perspective").
func (o *Orchestrator) Start(cfg *config.Config, layoutHint string, detached, force bool) (SessionRecord, error) {
	name := cfg.Document.SessionName

	if o.Tmux.HasSession(name) {
		if !force {
			return SessionRecord{}, errtag.New(errtag.KindSessionExists, "session already exists").
				WithID(name).WithSuggestion("pass force to kill and recreate")
		}
		if err := o.Tmux.KillSession(name); err != nil {
			return SessionRecord{}, err
		}
	}

	if ready, missing := o.workspacesReady(cfg); !ready {
		if o.Provisioner != nil {
			if _, err := o.Provisioner.Provision(cfg); err != nil {
				return SessionRecord{}, err
			}
		}
		if ready, missing = o.workspacesReady(cfg); !ready {
			return SessionRecord{}, errtag.New(errtag.KindWorkspacesNotReady, "one or more agent worktrees are not ready").
				WithID(joinIDs(missing))
		}
	}

	profile, err := o.resolveProfile(layoutHint, len(cfg.Document.Agents))
	if err != nil {
		return SessionRecord{}, err
	}

	record := SessionRecord{Name: name, Status: StatusCreating, Profile: profile.Name, PaneMap: map[string]PaneAddress{}}

	if err := o.Tmux.NewSession(name, cfg.WorkspaceRoot); err != nil {
		return SessionRecord{}, err
	}
	if _, err := o.Tmux.NewWindow(name, supervisorWindowName, cfg.WorkspaceRoot); err != nil {
		return SessionRecord{}, err
	}

	plan := profile.Build(len(cfg.Document.Agents))
	if err := o.materializePlan(name, cfg, plan); err != nil {
		return SessionRecord{}, err
	}

	paneMap, err := o.buildPaneMap(name, cfg, plan)
	if err != nil {
		return SessionRecord{}, err
	}
	record.PaneMap = paneMap

	if detached || !isTerminal() {
		record.Status = StatusDetached
		return record, nil
	}
	if err := o.Tmux.AttachSession(name); err != nil {
		return record, err
	}
	record.Status = StatusActive
	return record, nil
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}

func (o *Orchestrator) workspacesReady(cfg *config.Config) (bool, []string) {
	var missing []string
	for _, agent := range cfg.Document.Agents {
		path := agent.DefaultWorktreePath(cfg.WorkspaceRoot)
		if !isGitWorktreeDir(path) {
			missing = append(missing, agent.ID)
		}
	}
	return len(missing) == 0, missing
}

func (o *Orchestrator) resolveProfile(hint string, agentCount int) (profiles.Profile, error) {
	if hint != "" {
		p, ok := o.Profiles.Resolve(hint)
		if !ok {
			return profiles.Profile{}, errtag.New(errtag.KindConfigSchema, "unknown layout profile "+hint)
		}
		return p, nil
	}
	p, ok := o.Profiles.BestFor(agentCount)
	if !ok {
		return profiles.Profile{}, errtag.New(errtag.KindConfigSchema, "no layout profile registered")
	}
	return p, nil
}

// materializePlan creates one window per Plan, splitting panes within it
// according to each PaneSlot's Split direction, and issues a cd + startup
// commands for each agent pane (spec §4.3 step 4).
func (o *Orchestrator) materializePlan(session string, cfg *config.Config, plan profiles.Plan) error {
	windowIdx, err := o.Tmux.NewWindow(session, agentsWindowName, cfg.WorkspaceRoot)
	if err != nil {
		return err
	}
	windowTarget := windowTargetName(session, windowIdx)

	paneAddrBySlot := make([]PaneAddress, len(plan.Slots))
	for i, slot := range plan.Slots {
		var addr PaneAddress
		switch slot.Split {
		case profiles.SplitNone:
			var panes []PaneInfo
			panes, err = o.Tmux.ListPanes(session)
			for _, p := range panes {
				if p.WindowIndex == windowIdx && addr == "" {
					addr = p.Address
				}
			}
			if err == nil && addr == "" {
				err = errtag.New(errtag.KindIO, "agents window has no pane").WithID(session)
			}
		case profiles.SplitVertical:
			addr, err = o.Tmux.SplitWindow(string(paneAddrBySlot[slot.SplitFrom]), cfg.WorkspaceRoot, true)
		case profiles.SplitHorizontal:
			addr, err = o.Tmux.SplitWindow(string(paneAddrBySlot[slot.SplitFrom]), cfg.WorkspaceRoot, false)
		}
		if err != nil {
			return err
		}
		paneAddrBySlot[i] = addr

		if slot.TmuxLayout != "" {
			if err := o.Tmux.SelectLayout(windowTarget, slot.TmuxLayout); err != nil {
				return err
			}
		}

		if slot.AgentIndex < 0 || slot.AgentIndex >= len(cfg.Document.Agents) {
			continue
		}
		agent := cfg.Document.Agents[slot.AgentIndex]
		worktreePath := agent.DefaultWorktreePath(cfg.WorkspaceRoot)
		if err := o.Tmux.SendKeys(string(addr), "cd "+shellQuote(worktreePath)); err != nil {
			return err
		}
		for _, cmd := range agent.Config.StartupCommands {
			if err := o.Tmux.SendKeys(string(addr), cmd); err != nil {
				return err
			}
		}
	}
	return nil
}

func windowTargetName(session string, windowIdx int) string {
	return session + ":" + strconv.Itoa(windowIdx)
}

func shellQuote(path string) string {
	return "'" + filepath.ToSlash(path) + "'"
}

const agentsWindowName = "agents"

// buildPaneMap re-queries the multiplexer for the panes tmux actually
// created, matching them to agent ids by creation order (spec §4.3 step 5:
// "the orchestrator never assumes addresses; it always re-queries"). It
// never trusts the window index materializePlan computed locally; it
// re-resolves the agents window by name first.
func (o *Orchestrator) buildPaneMap(session string, cfg *config.Config, plan profiles.Plan) (map[string]PaneAddress, error) {
	windows, err := o.Tmux.ListWindows(session)
	if err != nil {
		return nil, err
	}
	agentsWindowIdx := -1
	for _, w := range windows {
		if w.Name == agentsWindowName {
			agentsWindowIdx = w.Index
			break
		}
	}
	if agentsWindowIdx < 0 {
		return nil, errtag.New(errtag.KindIO, "agents window not found after creation").WithID(session)
	}

	panes, err := o.Tmux.ListPanes(session)
	if err != nil {
		return nil, err
	}
	var agentPanes []PaneInfo
	for _, p := range panes {
		if p.WindowIndex == agentsWindowIdx {
			agentPanes = append(agentPanes, p)
		}
	}

	agentSlotOrder := make([]int, 0, len(plan.Slots))
	for _, slot := range plan.Slots {
		if slot.AgentIndex >= 0 {
			agentSlotOrder = append(agentSlotOrder, slot.AgentIndex)
		}
	}

	paneMap := map[string]PaneAddress{}
	for i, agentIdx := range agentSlotOrder {
		if i >= len(agentPanes) {
			break
		}
		if agentIdx < 0 || agentIdx >= len(cfg.Document.Agents) {
			continue
		}
		paneMap[cfg.Document.Agents[agentIdx].ID] = agentPanes[i].Address
	}
	return paneMap, nil
}

// isGitWorktreeDir reports whether path looks like a provisioned worktree: a
// directory containing a ".git" file (not a directory, which would indicate
// a full clone rather than a linked worktree).
func isGitWorktreeDir(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && !info.IsDir()
}

// AttachOutcome is the result of Orchestrator.Attach.
type AttachOutcome struct {
	Attached bool
	Reason   string
}

// Attach connects the invoking terminal to name (or the configured session
// name if empty).
func (o *Orchestrator) Attach(cfg *config.Config, name string) (AttachOutcome, error) {
	if name == "" {
		name = cfg.Document.SessionName
	}
	if !o.Tmux.HasSession(name) {
		return AttachOutcome{}, errtag.New(errtag.KindSessionNotFound, "no such session").WithID(name)
	}
	if err := o.Tmux.AttachSession(name); err != nil {
		return AttachOutcome{}, err
	}
	return AttachOutcome{Attached: true}, nil
}

// KillOutcome is the result of Orchestrator.Kill.
type KillOutcome struct {
	Killed        bool
	AlreadyAbsent bool
}

// Kill implements spec §4.3's idempotent kill contract. Force mode
// terminates without confirming clean state; non-force asks whether any
// pane has unsaved interactive buffers, approximated by a foreground process
// other than the login shell still running in it.
func (o *Orchestrator) Kill(cfg *config.Config, name string, force bool) (KillOutcome, error) {
	if name == "" {
		name = cfg.Document.SessionName
	}
	if !o.Tmux.HasSession(name) {
		return KillOutcome{AlreadyAbsent: true}, nil
	}
	if !force {
		busy, err := o.hasLivePaneWork(name)
		if err != nil {
			return KillOutcome{}, err
		}
		if busy {
			return KillOutcome{}, errtag.New(errtag.KindAgentBusy, "one or more panes have live foreground work; pass force to kill anyway").
				WithID(name)
		}
	}
	if err := o.Tmux.KillSession(name); err != nil {
		return KillOutcome{}, err
	}
	return KillOutcome{Killed: true}, nil
}

func (o *Orchestrator) hasLivePaneWork(session string) (bool, error) {
	panes, err := o.Tmux.ListPanes(session)
	if err != nil {
		return false, err
	}
	for _, p := range panes {
		if isLiveCommand(p.CurrentCommand) {
			return true, nil
		}
	}
	return false, nil
}

// List returns all live multiplexer sessions whose names match declared
// project sessions is left to the caller (status reconciler); this simply
// surfaces every session tmux knows about.
func (o *Orchestrator) List() ([]SessionInfo, error) {
	names, err := o.Tmux.ListSessions()
	if err != nil {
		return nil, err
	}
	infos := make([]SessionInfo, 0, len(names))
	for _, n := range names {
		windows, _ := o.Tmux.ListWindows(n)
		infos = append(infos, SessionInfo{Name: n, WindowCount: len(windows)})
	}
	return infos, nil
}

// Topology returns the current pane map for a live session by re-querying
// the multiplexer (spec §4.3's `topology(name) → PaneMap`).
func (o *Orchestrator) Topology(cfg *config.Config, name string) (map[string]PaneAddress, error) {
	if name == "" {
		name = cfg.Document.SessionName
	}
	if !o.Tmux.HasSession(name) {
		return nil, errtag.New(errtag.KindSessionNotFound, "no such session").WithID(name)
	}
	windows, err := o.Tmux.ListWindows(name)
	if err != nil {
		return nil, err
	}
	agentsWindowIdx := -1
	for _, w := range windows {
		if w.Name == agentsWindowName {
			agentsWindowIdx = w.Index
			break
		}
	}
	if agentsWindowIdx < 0 {
		return nil, errtag.New(errtag.KindIO, "agents window not found").WithID(name)
	}
	panes, err := o.Tmux.ListPanes(name)
	if err != nil {
		return nil, err
	}
	paneMap := map[string]PaneAddress{}
	var agentPanes []PaneInfo
	for _, p := range panes {
		if p.WindowIndex == agentsWindowIdx {
			agentPanes = append(agentPanes, p)
		}
	}
	for i, agent := range cfg.Document.Agents {
		if i < len(agentPanes) {
			paneMap[agent.ID] = agentPanes[i].Address
		}
	}
	return paneMap, nil
}

// AgentPaneState is one agent's pane address plus a liveness signal (spec
// §4.6 Orphaned: "panes exist but no process").
type AgentPaneState struct {
	Address PaneAddress
	Alive   bool // a foreground process other than the login shell is running
}

// TopologyStates returns the same pane map as Topology, annotated per agent
// with whether its pane's foreground process looks alive (spec §4.6). The
// status reconciler uses this to distinguish a pane that is merely idle at
// its shell from one whose agent process genuinely has no pane mapped.
func (o *Orchestrator) TopologyStates(cfg *config.Config, name string) (map[string]AgentPaneState, error) {
	if name == "" {
		name = cfg.Document.SessionName
	}
	if !o.Tmux.HasSession(name) {
		return nil, errtag.New(errtag.KindSessionNotFound, "no such session").WithID(name)
	}
	windows, err := o.Tmux.ListWindows(name)
	if err != nil {
		return nil, err
	}
	agentsWindowIdx := -1
	for _, w := range windows {
		if w.Name == agentsWindowName {
			agentsWindowIdx = w.Index
			break
		}
	}
	if agentsWindowIdx < 0 {
		return nil, errtag.New(errtag.KindIO, "agents window not found").WithID(name)
	}
	panes, err := o.Tmux.ListPanes(name)
	if err != nil {
		return nil, err
	}
	var agentPanes []PaneInfo
	for _, p := range panes {
		if p.WindowIndex == agentsWindowIdx {
			agentPanes = append(agentPanes, p)
		}
	}
	states := map[string]AgentPaneState{}
	for i, agent := range cfg.Document.Agents {
		if i < len(agentPanes) {
			states[agent.ID] = AgentPaneState{
				Address: agentPanes[i].Address,
				Alive:   isLiveCommand(agentPanes[i].CurrentCommand),
			}
		}
	}
	return states, nil
}

// Focus zooms the pane mapped to agentID, making it the window's sole
// visible pane (spec §4.3 focus semantics).
func (o *Orchestrator) Focus(cfg *config.Config, paneMap map[string]PaneAddress, agentID string) error {
	addr, ok := paneMap[agentID]
	if !ok {
		return errtag.New(errtag.KindAgentNotActive, "no pane mapped to agent").WithID(agentID)
	}
	return o.Tmux.ZoomPane(string(addr), true)
}

// Unfocus restores the profile's layout by unzooming the given pane.
func (o *Orchestrator) Unfocus(paneAddr PaneAddress) error {
	return o.Tmux.ZoomPane(string(paneAddr), false)
}
