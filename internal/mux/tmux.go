// Package mux wraps the terminal-multiplexer CLI (tmux) as a typed adapter
// and implements the session orchestrator on top of it (spec §4.3). Pane
// addresses returned by this package are opaque identifiers (spec §9): no
// other package parses or constructs them by convention.
package mux

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/agentctl/agentctl/internal/errtag"
)

// PaneAddress is an opaque multiplexer-assigned identifier: session:window.pane.
// Callers never construct one by hand; they come only from Tmux query methods.
type PaneAddress string

// WindowInfo is one entry from `tmux list-windows`.
type WindowInfo struct {
	Index  int
	Name   string
	Active bool
}

// PaneInfo is one entry from `tmux list-panes`.
type PaneInfo struct {
	Address        PaneAddress
	WindowIndex    int
	PaneIndex      int
	CurrentCommand string
	CurrentPath    string
}

// Tmux wraps tmux CLI operations; every method takes the session or target
// it acts on.
type Tmux struct{}

// New returns a Tmux adapter.
func New() *Tmux { return &Tmux{} }

func (t *Tmux) run(args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("tmux %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}

// HasSession reports whether a session with the given name exists.
func (t *Tmux) HasSession(name string) bool {
	_, err := t.run("has-session", "-t", name)
	return err == nil
}

// NewSession creates a detached session named name with its first window's
// working directory set to dir.
func (t *Tmux) NewSession(name, dir string) error {
	_, err := t.run("new-session", "-d", "-s", name, "-c", dir)
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "create session "+name)
	}
	return nil
}

// KillSession destroys a session. Idempotent: killing a missing session
// reports no error (spec §4.3 kill contract).
func (t *Tmux) KillSession(name string) error {
	if !t.HasSession(name) {
		return nil
	}
	_, err := t.run("kill-session", "-t", name)
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "kill session "+name)
	}
	return nil
}

// ListSessions returns all tmux session names.
func (t *Tmux) ListSessions() ([]string, error) {
	out, err := t.run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		if strings.Contains(err.Error(), "no server running") || strings.Contains(err.Error(), "No such file") {
			return nil, nil
		}
		return nil, errtag.Wrap(errtag.KindIO, err, "list sessions")
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// NewWindow creates a new window in session, named name, cwd dir. Returns
// the window index tmux assigned.
func (t *Tmux) NewWindow(session, name, dir string) (int, error) {
	out, err := t.run("new-window", "-t", session, "-n", name, "-c", dir, "-P", "-F", "#{window_index}")
	if err != nil {
		return 0, errtag.Wrap(errtag.KindIO, err, "create window "+name)
	}
	return parseIndex(out)
}

// SplitWindow splits the target window/pane, returning the new pane's
// opaque address. vertical selects a top/bottom split instead of left/right.
func (t *Tmux) SplitWindow(target, dir string, vertical bool) (PaneAddress, error) {
	args := []string{"split-window", "-t", target, "-c", dir, "-P", "-F", "#{session_name}:#{window_index}.#{pane_index}"}
	if vertical {
		args = append(args, "-v")
	} else {
		args = append(args, "-h")
	}
	out, err := t.run(args...)
	if err != nil {
		return "", errtag.Wrap(errtag.KindIO, err, "split window "+target)
	}
	return PaneAddress(strings.TrimSpace(out)), nil
}

// SelectLayout applies a named tmux layout (e.g. "tiled", "even-vertical")
// to a window, used by layout profiles that want a multiplexer-native
// arrangement instead of manual splits.
func (t *Tmux) SelectLayout(target, layout string) error {
	_, err := t.run("select-layout", "-t", target, layout)
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "select layout "+layout)
	}
	return nil
}

// SendKeys injects text into target's input followed by a submit keystroke
// (spec §4.4: "a text line injected into the agent's pane input, followed
// by a submit keystroke"). The pane is the only channel; there is no
// structured RPC with the agent process.
func (t *Tmux) SendKeys(target, text string) error {
	_, err := t.run("send-keys", "-t", target, "-l", text)
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "send-keys "+target)
	}
	_, err = t.run("send-keys", "-t", target, "Enter")
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "send Enter "+target)
	}
	return nil
}

// CapturePane returns a pane's visible contents preceded by up to n lines of
// its scrollback history (best-effort stdout/stderr observability per spec §4.4).
func (t *Tmux) CapturePane(target string, n int) (string, error) {
	out, err := t.run("capture-pane", "-p", "-t", target, "-S", strconv.Itoa(-n))
	if err != nil {
		return "", errtag.Wrap(errtag.KindIO, err, "capture-pane "+target)
	}
	return out, nil
}

// SelectWindow focuses a window within a session.
func (t *Tmux) SelectWindow(target string) error {
	_, err := t.run("select-window", "-t", target)
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "select-window "+target)
	}
	return nil
}

// ZoomPane toggles a pane's zoom (fullscreen-within-window) state, used to
// implement focus/unfocus (spec §4.3).
func (t *Tmux) ZoomPane(target string, zoom bool) error {
	args := []string{"resize-pane", "-t", target, "-Z"}
	if !zoom {
		// -Z toggles; querying then only toggling when state differs avoids
		// flipping an already-unzoomed pane back into zoom.
		if !t.isZoomed(target) {
			return nil
		}
	} else if t.isZoomed(target) {
		return nil
	}
	_, err := t.run(args...)
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "resize-pane -Z "+target)
	}
	return nil
}

func (t *Tmux) isZoomed(target string) bool {
	out, err := t.run("display-message", "-p", "-t", target, "#{window_zoomed_flag}")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "1"
}

// SetOption sets a session- or window-scoped tmux option (spec §6: "set-option
// for mouse behavior").
func (t *Tmux) SetOption(target, option, value string) error {
	_, err := t.run("set-option", "-t", target, option, value)
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "set-option "+option)
	}
	return nil
}

// AttachSession hands the controlling terminal to the named session. Fails
// NotATerminal if stdin/stdout are not a terminal (spec §4.3 attach contract).
func (t *Tmux) AttachSession(name string) error {
	if !isTerminal() {
		return errtag.New(errtag.KindNotATerminal, "no controlling terminal available").
			WithSuggestion("run from an interactive shell, or use start --detached")
	}
	cmd := exec.Command("tmux", "attach-session", "-t", name)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func isTerminal() bool {
	for _, f := range []*os.File{os.Stdin, os.Stdout} {
		info, err := f.Stat()
		if err != nil || (info.Mode()&os.ModeCharDevice) == 0 {
			return false
		}
	}
	return true
}

// ListWindows returns every window in session, parsed from `-F` format
// output (grounded on the teacher's `tmuxWindows()` `::`-delimited parsing).
func (t *Tmux) ListWindows(session string) ([]WindowInfo, error) {
	out, err := t.run("list-windows", "-t", session, "-F", "#{window_index}::#{window_name}::#{window_active}")
	if err != nil {
		return nil, errtag.Wrap(errtag.KindIO, err, "list-windows "+session)
	}
	var windows []WindowInfo
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "::")
		if len(parts) != 3 {
			continue
		}
		idx, _ := strconv.Atoi(parts[0])
		windows = append(windows, WindowInfo{Index: idx, Name: parts[1], Active: parts[2] == "1"})
	}
	return windows, nil
}

// ListPanes returns every pane in session, used to build the orchestrator's
// pane_map (spec §4.3 step 5: "the orchestrator never assumes addresses; it
// always re-queries").
func (t *Tmux) ListPanes(session string) ([]PaneInfo, error) {
	out, err := t.run("list-panes", "-t", session, "-s", "-F",
		"#{window_index}::#{pane_index}::#{pane_current_command}::#{pane_current_path}")
	if err != nil {
		return nil, errtag.Wrap(errtag.KindIO, err, "list-panes "+session)
	}
	var panes []PaneInfo
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "::", 4)
		if len(parts) != 4 {
			continue
		}
		windowIdx, _ := strconv.Atoi(parts[0])
		paneIdx, _ := strconv.Atoi(parts[1])
		addr := PaneAddress(fmt.Sprintf("%s:%d.%d", session, windowIdx, paneIdx))
		panes = append(panes, PaneInfo{
			Address:        addr,
			WindowIndex:    windowIdx,
			PaneIndex:      paneIdx,
			CurrentCommand: parts[2],
			CurrentPath:    parts[3],
		})
	}
	return panes, nil
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errtag.Wrap(errtag.KindIO, err, "parse tmux index")
	}
	return n, nil
}
