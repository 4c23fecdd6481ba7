package profiles

func init() {
	defaultRegistry.MustRegister(Profile{Name: "focus-one", BestForAgentCount: 1, Build: focusOne})
	defaultRegistry.MustRegister(Profile{Name: "top-split-bottom", BestForAgentCount: 2, Build: topSplitBottom})
	defaultRegistry.MustRegister(Profile{Name: "three-pane", BestForAgentCount: 3, Build: threePane})
	defaultRegistry.MustRegister(Profile{Name: "left-column-stacked-right", BestForAgentCount: 4, Build: leftColumnStackedRight})
	defaultRegistry.MustRegister(Profile{Name: "top-row-full-bottom", BestForAgentCount: 5, Build: topRowFullBottom})
	defaultRegistry.MustRegister(Profile{Name: "six-pane", BestForAgentCount: 6, Build: sixPane})
}

// focusOne gives the single agent its own window; no splits.
func focusOne(agentCount int) Plan {
	slots := []PaneSlot{{AgentIndex: 0, Split: SplitNone}}
	return padOverflow(Plan{ProfileName: "focus-one", Slots: slots}, agentCount)
}

// topSplitBottom puts agent 0 on top, agent 1 split below it.
func topSplitBottom(agentCount int) Plan {
	slots := []PaneSlot{
		{AgentIndex: 0, Split: SplitNone},
		{AgentIndex: 1, Split: SplitVertical, SplitFrom: 0},
	}
	return padOverflow(Plan{ProfileName: "top-split-bottom", Slots: slots}, agentCount)
}

// threePane: one tall pane on the left, two stacked panes on the right.
func threePane(agentCount int) Plan {
	slots := []PaneSlot{
		{AgentIndex: 0, Split: SplitNone},
		{AgentIndex: 1, Split: SplitHorizontal, SplitFrom: 0},
		{AgentIndex: 2, Split: SplitVertical, SplitFrom: 1},
	}
	return padOverflow(Plan{ProfileName: "three-pane", Slots: slots}, agentCount)
}

// leftColumnStackedRight: agent 0 alone on the left, agents 1-3 stacked on
// the right.
func leftColumnStackedRight(agentCount int) Plan {
	slots := []PaneSlot{
		{AgentIndex: 0, Split: SplitNone},
		{AgentIndex: 1, Split: SplitHorizontal, SplitFrom: 0},
		{AgentIndex: 2, Split: SplitVertical, SplitFrom: 1},
		{AgentIndex: 3, Split: SplitVertical, SplitFrom: 2},
	}
	return padOverflow(Plan{ProfileName: "left-column-stacked-right", Slots: slots}, agentCount)
}

// topRowFullBottom: agents 0-3 tiled across a top row, agent 4 full-width
// on the bottom.
func topRowFullBottom(agentCount int) Plan {
	slots := []PaneSlot{
		{AgentIndex: 0, Split: SplitNone},
		{AgentIndex: 1, Split: SplitHorizontal, SplitFrom: 0},
		{AgentIndex: 2, Split: SplitHorizontal, SplitFrom: 1},
		{AgentIndex: 3, Split: SplitHorizontal, SplitFrom: 2},
		{AgentIndex: 4, Split: SplitVertical, SplitFrom: 0, TmuxLayout: "main-horizontal"},
	}
	return padOverflow(Plan{ProfileName: "top-row-full-bottom", Slots: slots}, agentCount)
}

// sixPane: a 2x3 tiled grid via tmux's own "tiled" layout.
func sixPane(agentCount int) Plan {
	slots := make([]PaneSlot, 0, 6)
	slots = append(slots, PaneSlot{AgentIndex: 0, Split: SplitNone})
	for i := 1; i < 6; i++ {
		slots = append(slots, PaneSlot{AgentIndex: i, Split: SplitHorizontal, SplitFrom: 0})
	}
	slots[len(slots)-1].TmuxLayout = "tiled"
	return padOverflow(Plan{ProfileName: "six-pane", Slots: slots}, agentCount)
}

// padOverflow extends a plan's final pattern with additional stacked splits
// off the last pane when agentCount exceeds the profile's native slot
// count, so an overflow profile never silently drops agents (spec §4.3:
// "falling back to a deterministic profile for overflow counts").
func padOverflow(base Plan, agentCount int) Plan {
	if agentCount <= len(base.Slots) {
		base.Slots = base.Slots[:agentCount]
		return base
	}
	last := len(base.Slots) - 1
	for i := len(base.Slots); i < agentCount; i++ {
		base.Slots = append(base.Slots, PaneSlot{AgentIndex: i, Split: SplitVertical, SplitFrom: last})
		last = i
	}
	return base
}
