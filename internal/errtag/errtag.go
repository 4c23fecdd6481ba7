// Package errtag defines the engine's closed error taxonomy. Every failure
// surfaced by a component either maps to one of these kinds or is wrapped as
// KindIO/KindPermission/KindDependencyMissing.
package errtag

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy from spec §7.
type Kind string

const (
	KindNotARepository     Kind = "not_a_repository"
	KindConfigNotFound     Kind = "config_not_found"
	KindConfigParse        Kind = "config_parse"
	KindConfigSchema       Kind = "config_schema"
	KindConfigBusy         Kind = "config_busy"
	KindPathConflict       Kind = "path_conflict"
	KindDirtyWorktree      Kind = "dirty_worktree"
	KindStaleWorktree      Kind = "stale_worktree"
	KindBranchExists       Kind = "branch_exists_elsewhere"
	KindSessionExists      Kind = "session_already_exists"
	KindSessionNotFound    Kind = "session_not_found"
	KindNotATerminal       Kind = "not_a_terminal"
	KindWorkspacesNotReady Kind = "workspaces_not_ready"
	KindAgentNotActive     Kind = "agent_not_active" // no pane maps to the agent id (dispatch)
	KindAgentBusy          Kind = "agent_busy"       // agent's pane has live foreground work
	KindCommandBlocked     Kind = "command_blocked"
	KindCommandTooLong     Kind = "command_too_long"
	KindTimeout            Kind = "timeout"
	KindCancelled          Kind = "cancelled"
	KindDirtyMain          Kind = "dirty_main"
	KindNonFFRemote        Kind = "non_ff_remote"
	KindMergeConflicts     Kind = "merge_conflicts"
	KindAmbiguousContext   Kind = "ambiguous_context"
	KindDependencyMissing  Kind = "dependency_missing"
	KindPermission         Kind = "permission"
	KindIO                 Kind = "io"
)

// Error is a structured, machine-inspectable failure. Suggestion and the
// optional fields carry the "human message, suggested next action, and
// optional machine-oriented fields" spec §7 requires.
type Error struct {
	Kind       Kind
	Message    string
	Suggestion string
	Path       string
	ID         string
	Line       int
	Col        int
	cause      error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithSuggestion attaches a remediation hint and returns the receiver for chaining.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithPath attaches a path field and returns the receiver for chaining.
func (e *Error) WithPath(p string) *Error {
	e.Path = p
	return e
}

// WithID attaches an id field (agent id, command id, ...) and returns the receiver.
func (e *Error) WithID(id string) *Error {
	e.ID = id
	return e
}

// WithPos attaches line/col (for ConfigParse) and returns the receiver.
func (e *Error) WithPos(line, col int) *Error {
	e.Line = line
	e.Col = col
	return e
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not a tagged Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
