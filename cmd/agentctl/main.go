// cmd/agentctl/main.go
//
// Entry point for the agentctl workstation engine. Mirrors the teacher's
// tmux-bootstrap shape: if we're not already inside tmux and the verb is the
// dashboard, shell out to attach the declared session, or create it running
// this binary; otherwise wire the engine's adapters together and either run
// the dashboard or dispatch a single verb. Full flag/verb parsing, help text, and
// completion are explicitly out of scope (spec's Non-goals) — this is only
// enough surface to exercise the engine end-to-end.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/dispatch"
	"github.com/agentctl/agentctl/internal/history"
	"github.com/agentctl/agentctl/internal/lifecycle"
	"github.com/agentctl/agentctl/internal/mux"
	"github.com/agentctl/agentctl/internal/profiles"
	"github.com/agentctl/agentctl/internal/status"
	"github.com/agentctl/agentctl/internal/sync"
	"github.com/agentctl/agentctl/internal/tui"
	"github.com/agentctl/agentctl/internal/vcs"
)

func main() {
	logger := log.New(os.Stderr)

	cwd, err := os.Getwd()
	if err != nil {
		logger.Fatal("getwd", "err", err)
	}

	verb := "dashboard"
	if len(os.Args) > 1 {
		verb = os.Args[1]
	}

	if verb == "init" {
		if _, err := lifecycle.Init(cwd, lifecycle.InitOptions{Force: hasFlag("--force")}); err != nil {
			logger.Fatal("init", "err", err)
		}
		fmt.Println("initialized", cwd)
		return
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		logger.Fatal("load config; run `agentctl init` first", "err", err)
	}

	if os.Getenv("TMUX") == "" && verb == "dashboard" {
		bootstrapTmuxSession(cfg.Document.SessionName, cwd, logger)
		return
	}

	git := vcs.New(cwd)
	provisioner := vcs.NewProvisioner(git)
	tmuxAdapter := mux.New()
	orch := mux.NewOrchestrator(tmuxAdapter, profiles.Default(), provisioner)
	reconciler := status.New(git, orch)
	synchronizer := sync.New(git)
	hist, err := history.New(cfg.HistoryPath(), cfg.Document.Settings.BlockedCommands)
	if err != nil {
		logger.Fatal("open history", "err", err)
	}

	switch verb {
	case "provision":
		report, err := provisioner.Provision(cfg)
		if err != nil {
			logger.Fatal("provision", "err", err)
		}
		for _, o := range report.Outcomes {
			fmt.Printf("%-16s %s %s\n", o.AgentID, o.Kind, o.Reason)
		}
		if report.Failed() {
			os.Exit(1)
		}

	case "start":
		if _, err := orch.Start(cfg, "", false, hasFlag("--force")); err != nil {
			logger.Fatal("start", "err", err)
		}

	case "kill":
		if _, err := orch.Kill(cfg, cfg.Document.SessionName, hasFlag("--force")); err != nil {
			logger.Fatal("kill", "err", err)
		}

	case "status":
		report, err := reconciler.Status(cfg, status.Scope{All: true})
		if err != nil {
			logger.Fatal("status", "err", err)
		}
		fmt.Println("session:", report.Session)
		for _, a := range report.Agents {
			fmt.Printf("  %-16s %-10s %s\n", a.AgentID, a.Category, a.Detail)
		}

	case "sync":
		report := synchronizer.SyncAgent(cfg, agentArg(), hasFlag("--force"), hasFlag("--dry-run"))
		if report.Err != nil {
			logger.Fatal("sync", "err", report.Err)
		}
		fmt.Printf("merged=%v conflicts=%v\n", report.Merged, report.Conflicts)

	case "send":
		d := dispatch.New(tmuxAdapter, paneResolver(orch, cfg), cfg.Document.Settings, cfg.Document.Agents, hist)
		msg := dispatch.CommandMessage{Text: commandArg()}
		results := d.SendAll(context.Background(), msg, dispatch.Parallel)
		for _, r := range results {
			fmt.Printf("%-16s %s\n", r.AgentID, r.Outcome)
		}

	case "remove":
		if id := agentArg(); id != "" {
			removal, err := lifecycle.RemoveAgent(cfg, orch, provisioner, id, lifecycle.RemoveOptions{Force: hasFlag("--force")})
			if err != nil {
				logger.Fatal("remove", "err", err)
			}
			fmt.Printf("agent %s removed: worktree_gone=%v branch_deleted=%v\n", id, removal.WorktreeGone, removal.BranchDeleted)
		} else {
			report, err := lifecycle.RemoveAll(cfg, orch, provisioner, lifecycle.RemoveOptions{Force: hasFlag("--force")})
			if err != nil {
				logger.Fatal("remove", "err", err)
			}
			fmt.Printf("session killed=%v, %d agent(s) removed\n", report.SessionKilled, len(report.Agents))
		}

	case "dashboard":
		app := tui.NewApp(cfg, reconciler, orch, logger)
		if _, err := tea.NewProgram(app, tea.WithAltScreen()).Run(); err != nil {
			logger.Fatal("dashboard", "err", err)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown verb %q\n", verb)
		os.Exit(1)
	}
}

func paneResolver(orch *mux.Orchestrator, cfg *config.Config) dispatch.PaneResolver {
	paneMap, err := orch.Topology(cfg, cfg.Document.SessionName)
	if err != nil {
		return dispatch.StaticPaneMap{}
	}
	static := make(dispatch.StaticPaneMap, len(paneMap))
	for id, addr := range paneMap {
		static[id] = string(addr)
	}
	return static
}

func hasFlag(name string) bool {
	for _, arg := range os.Args[2:] {
		if arg == name {
			return true
		}
	}
	return false
}

func agentArg() string {
	for _, arg := range os.Args[2:] {
		if len(arg) > 0 && arg[0] != '-' {
			return arg
		}
	}
	return ""
}

func commandArg() string {
	for i, arg := range os.Args[2:] {
		if len(arg) > 0 && arg[0] != '-' {
			return joinRest(os.Args[2+i:])
		}
	}
	return ""
}

func joinRest(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

// bootstrapTmuxSession attaches to the declared session if it exists, or
// creates it running this same binary, mirroring the teacher's $TMUX-detection dance
// but against the config's own session name instead of a hardcoded one.
func bootstrapTmuxSession(sessionName, workingDir string, logger *log.Logger) {
	executable, err := os.Executable()
	if err != nil {
		logger.Fatal("find executable", "err", err)
	}

	var cmd *exec.Cmd
	if exec.Command("tmux", "has-session", "-t", sessionName).Run() == nil {
		cmd = exec.Command("tmux", "attach-session", "-t", sessionName)
	} else {
		cmd = exec.Command("tmux", "new-session", "-s", sessionName, "-c", workingDir, executable)
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		logger.Fatal("tmux bootstrap failed", "session", sessionName, "err", err)
	}
}
