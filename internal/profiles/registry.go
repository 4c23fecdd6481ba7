// Package profiles implements the layout-profile registry (spec §3 "Layout
// profile", §4.3 layout selection, §4.9 fallback script materialization).
// Profiles are not user-extensible at runtime; new profiles are added as
// code and registered at package init time — the same MustRegister-at-init
// shape the teacher used for its module factories.
package profiles

import (
	"fmt"
	"sort"
	"sync"
)

// SplitDirection controls how a pane slot is created relative to its parent.
type SplitDirection string

const (
	// SplitNone creates a brand-new window rather than splitting a pane.
	SplitNone SplitDirection = "none"
	// SplitVertical stacks the new pane below its parent.
	SplitVertical SplitDirection = "vertical"
	// SplitHorizontal places the new pane beside its parent.
	SplitHorizontal SplitDirection = "horizontal"
)

// PaneSlot is one step of a layout plan: create a window or split an
// existing pane. AgentIndex is -1 for the supervisor pane.
type PaneSlot struct {
	AgentIndex int
	Split      SplitDirection
	// SplitFrom indexes a prior slot in the same Plan (by position) whose
	// resulting pane this slot splits from. Ignored when Split is SplitNone.
	SplitFrom int
	// TmuxLayout, if non-empty, is applied to the window right after this
	// slot's pane is created (e.g. "tiled", "even-vertical"); slots that come
	// later in the Plan split the panes of that layout.
	TmuxLayout string
}

// Plan is the ordered sequence of pane-creation operations a profile
// produces for a given agent count (spec §3: "a pure function from agent
// count to a sequence of pane-creation operations").
type Plan struct {
	ProfileName string
	Slots       []PaneSlot
}

// Factory builds a Plan for exactly agentCount agents. Pure: no I/O, no
// side effects, deterministic output for the same input.
type Factory func(agentCount int) Plan

// Profile pairs a Factory with the agent-count it is best suited for.
type Profile struct {
	Name              string
	BestForAgentCount int
	Build             Factory
}

// Registry is a Factory-by-name registry, mirroring the teacher's
// Factory-by-id module registry shape.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

var defaultRegistry = NewRegistry()

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{profiles: make(map[string]Profile)}
}

// Register adds a profile under its own Name. Fails if the name is already
// registered.
func (r *Registry) Register(p Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[p.Name]; exists {
		return fmt.Errorf("profiles: %q already registered", p.Name)
	}
	r.profiles[p.Name] = p
	return nil
}

// MustRegister panics on a duplicate name; used for built-in registration
// at package init.
func (r *Registry) MustRegister(p Profile) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Resolve returns the profile by name.
func (r *Registry) Resolve(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	return p, ok
}

// Names returns all registered profile names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BestFor picks the profile whose BestForAgentCount matches agentCount
// exactly; if none match, it falls back to the profile with the largest
// BestForAgentCount, whatever the count (spec §4.3: "falling back to a
// deterministic profile for overflow counts").
func (r *Registry) BestFor(agentCount int) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var exact, fallback Profile
	haveExact, haveFallback := false, false
	for _, p := range r.profiles {
		if p.BestForAgentCount == agentCount {
			exact, haveExact = p, true
		}
		if !haveFallback || p.BestForAgentCount > fallback.BestForAgentCount {
			fallback, haveFallback = p, true
		}
	}
	if haveExact {
		return exact, true
	}
	return fallback, haveFallback
}

// Default returns the package-level registry pre-populated with the
// built-in profiles (see builtin.go).
func Default() *Registry { return defaultRegistry }
