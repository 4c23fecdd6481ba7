// Package dispatch implements the command dispatcher (spec §4.4):
// send_one/send_all/send_group against live panes, with bounded-concurrency
// parallel fan-out and ordered sequential delivery.
package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/errtag"
	"github.com/agentctl/agentctl/internal/history"
)

// Mode selects fan-out semantics for send_all/send_group (spec §4.4).
type Mode string

const (
	Parallel   Mode = "parallel"
	Sequential Mode = "sequential"
)

// PaneSender is the minimal multiplexer contract the dispatcher needs: send
// a command line into a pane, and scrape its recent output. Satisfied by
// *mux.Tmux; accepting the narrower interface here (rather than the
// concrete type) is what lets dispatch-locality be tested with a stub (spec
// §8: "stub VC/multiplexer adapters (interfaces)").
type PaneSender interface {
	SendKeys(target, text string) error
	CapturePane(target string, n int) (string, error)
}

// PaneResolver looks up the live pane address mapped to an agent id.
type PaneResolver interface {
	PaneFor(agentID string) (string, bool)
}

// StaticPaneMap is the simplest PaneResolver: a snapshot pane map, as
// returned by the session orchestrator's Start/Topology.
type StaticPaneMap map[string]string

func (m StaticPaneMap) PaneFor(agentID string) (string, bool) {
	addr, ok := m[agentID]
	return addr, ok
}

// CommandMessage is one command to deliver (spec §4.4).
type CommandMessage struct {
	Text        string
	TimeoutSecs int
	Required    bool
	ScrapeLines int
}

// Outcome is a tagged variant for one ExecutionResult (spec §9 re-architecture
// note on string-typed enums).
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeBlocked Outcome = "blocked"
	OutcomeFailed  Outcome = "failed"
)

// ExecutionResult is the per-target outcome of a dispatched command.
// OutcomeSuccess means the multiplexer accepted the keystrokes, not that the
// agent finished the command. Stdout is a best-effort pane scrape taken after
// submission and is never part of the success verdict.
type ExecutionResult struct {
	AgentID   string
	CommandID string
	Outcome   Outcome
	Stdout    string
	Err       error
}

// Dispatcher sends commands into live panes and records them to history.
type Dispatcher struct {
	Mux      PaneSender
	Panes    PaneResolver
	Settings config.Settings
	Agents   map[string]config.Agent
	order    []string // declared agent order, for send_all's config-order contract
	History  *history.History
}

// New wires a Dispatcher. agents indexes the declared agent set by id so
// per-agent default_timeout_secs can be looked up without re-scanning the
// document on every send, and its order is retained for send_all.
func New(mux PaneSender, panes PaneResolver, settings config.Settings, agents []config.Agent, hist *history.History) *Dispatcher {
	byID := make(map[string]config.Agent, len(agents))
	order := make([]string, 0, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
		order = append(order, a.ID)
	}
	return &Dispatcher{Mux: mux, Panes: panes, Settings: settings, Agents: byID, order: order, History: hist}
}

// SendOne implements spec §4.4's send_one.
func (d *Dispatcher) SendOne(ctx context.Context, agentID string, msg CommandMessage) ExecutionResult {
	return d.send(ctx, agentID, msg)
}

// SendAll implements spec §4.4's send_all: every declared agent, in config
// order, under the given mode.
func (d *Dispatcher) SendAll(ctx context.Context, msg CommandMessage, mode Mode) []ExecutionResult {
	return d.SendGroup(ctx, d.order, msg, mode)
}

// SendGroup implements spec §4.4's send_group. Sequential mode visits ids in
// the given order and stops only if a required command fails; Parallel mode
// fans out with bounded concurrency (settings.max_concurrent_ops) via
// errgroup, so one unresponsive target never blocks the others.
func (d *Dispatcher) SendGroup(ctx context.Context, ids []string, msg CommandMessage, mode Mode) []ExecutionResult {
	if mode == Sequential {
		return d.sendSequential(ctx, ids, msg)
	}
	return d.sendParallel(ctx, ids, msg)
}

func (d *Dispatcher) sendSequential(ctx context.Context, ids []string, msg CommandMessage) []ExecutionResult {
	results := make([]ExecutionResult, 0, len(ids))
	for _, id := range ids {
		r := d.send(ctx, id, msg)
		results = append(results, r)
		if r.Outcome != OutcomeSuccess && msg.Required {
			break
		}
	}
	return results
}

func (d *Dispatcher) sendParallel(ctx context.Context, ids []string, msg CommandMessage) []ExecutionResult {
	results := make([]ExecutionResult, len(ids))
	limit := d.Settings.MaxConcurrentOps
	if limit <= 0 {
		limit = len(ids)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = d.send(gctx, id, msg)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// send implements the pre-flight checks, deadline, delivery, and history
// recording shared by every public entry point (spec §4.4).
func (d *Dispatcher) send(ctx context.Context, agentID string, msg CommandMessage) ExecutionResult {
	commandID := uuid.NewString()

	if blocked, pattern := d.isBlocked(msg.Text); blocked {
		result := ExecutionResult{AgentID: agentID, CommandID: commandID, Outcome: OutcomeBlocked,
			Err: errtag.New(errtag.KindCommandBlocked, "command matches blocked pattern "+pattern).WithID(agentID)}
		d.record(agentID, msg.Text, history.OutcomeBlocked, pattern)
		return result
	}
	if d.Settings.MaxCommandLength > 0 && len(msg.Text) > d.Settings.MaxCommandLength {
		result := ExecutionResult{AgentID: agentID, CommandID: commandID, Outcome: OutcomeFailed,
			Err: errtag.New(errtag.KindCommandTooLong, "command exceeds max_command_length").WithID(agentID)}
		d.record(agentID, msg.Text, history.OutcomeFailed, "command too long")
		return result
	}

	target, ok := d.Panes.PaneFor(agentID)
	if !ok {
		result := ExecutionResult{AgentID: agentID, CommandID: commandID, Outcome: OutcomeFailed,
			Err: errtag.New(errtag.KindAgentNotActive, "no pane mapped to agent").WithID(agentID)}
		d.record(agentID, msg.Text, history.OutcomeFailed, "agent not active")
		return result
	}

	deadline := d.deadline(agentID, msg)
	sendCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Mux.SendKeys(target, msg.Text) }()

	select {
	case err := <-done:
		if err != nil {
			d.record(agentID, msg.Text, history.OutcomeFailed, err.Error())
			return ExecutionResult{AgentID: agentID, CommandID: commandID, Outcome: OutcomeFailed, Err: err}
		}
	case <-sendCtx.Done():
		d.record(agentID, msg.Text, history.OutcomeTimedOut, "")
		return ExecutionResult{AgentID: agentID, CommandID: commandID, Outcome: OutcomeTimeout,
			Err: errtag.New(errtag.KindTimeout, "command delivery exceeded deadline").WithID(agentID)}
	}

	var stdout string
	if msg.ScrapeLines > 0 {
		stdout, _ = d.Mux.CapturePane(target, msg.ScrapeLines)
	}
	d.record(agentID, msg.Text, history.OutcomeSent, "")
	return ExecutionResult{AgentID: agentID, CommandID: commandID, Outcome: OutcomeSuccess, Stdout: stdout}
}

// deadline is the lesser of the command's own timeout and the agent's
// default_timeout_secs (spec §4.4).
func (d *Dispatcher) deadline(agentID string, msg CommandMessage) time.Duration {
	secs := msg.TimeoutSecs
	if agent, ok := d.Agents[agentID]; ok && agent.Config.DefaultTimeoutSecs > 0 {
		if secs <= 0 || agent.Config.DefaultTimeoutSecs < secs {
			secs = agent.Config.DefaultTimeoutSecs
		}
	}
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

func (d *Dispatcher) isBlocked(text string) (bool, string) {
	for _, pattern := range d.Settings.BlockedCommands {
		if pattern == "" {
			continue
		}
		if strings.Contains(text, pattern) {
			return true, pattern
		}
	}
	return false, ""
}

func (d *Dispatcher) record(agentID, command string, outcome history.Outcome, detail string) {
	if d.History == nil {
		return
	}
	d.History.ForAgent(agentID, command, outcome, detail)
}
