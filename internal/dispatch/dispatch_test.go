package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/errtag"
)

// stubMux records every SendKeys call so dispatch-locality can be asserted
// without a real tmux binary (spec §8).
type stubMux struct {
	mu     sync.Mutex
	sent   map[string][]string
	delay  time.Duration
	failOn map[string]error
}

func newStubMux() *stubMux {
	return &stubMux{sent: make(map[string][]string), failOn: make(map[string]error)}
}

func (s *stubMux) SendKeys(target, text string) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failOn[target]; ok {
		return err
	}
	s.sent[target] = append(s.sent[target], text)
	return nil
}

func (s *stubMux) CapturePane(target string, n int) (string, error) {
	return "", nil
}

func (s *stubMux) callsFor(target string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent[target]...)
}

func testSettings() config.Settings {
	return config.Settings{MaxCommandLength: 4096, MaxConcurrentOps: 4, BlockedCommands: []string{"rm -rf /"}}
}

func TestSendOneDeliversOnlyToMappedPane(t *testing.T) {
	mux := newStubMux()
	panes := StaticPaneMap{"alpha": "sess:1.0", "beta": "sess:1.1"}
	d := New(mux, panes, testSettings(), nil, nil)

	result := d.SendOne(context.Background(), "alpha", CommandMessage{Text: "echo hi"})
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("SendOne outcome = %v, want success: %v", result.Outcome, result.Err)
	}
	if got := mux.callsFor("sess:1.0"); len(got) != 1 || got[0] != "echo hi" {
		t.Errorf("pane sess:1.0 got %v, want [echo hi]", got)
	}
	if got := mux.callsFor("sess:1.1"); len(got) != 0 {
		t.Errorf("pane sess:1.1 got %v, want no calls (dispatch locality violated)", got)
	}
}

func TestSendOneFailsForUnmappedAgent(t *testing.T) {
	mux := newStubMux()
	d := New(mux, StaticPaneMap{}, testSettings(), nil, nil)
	result := d.SendOne(context.Background(), "ghost", CommandMessage{Text: "echo hi"})
	if result.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", result.Outcome)
	}
	if errtag.KindOf(result.Err) != errtag.KindAgentNotActive {
		t.Errorf("err kind = %v, want agent_not_active", errtag.KindOf(result.Err))
	}
}

func TestSendOneBlocksMatchingCommandWithoutContactingMux(t *testing.T) {
	mux := newStubMux()
	panes := StaticPaneMap{"alpha": "sess:1.0"}
	d := New(mux, panes, testSettings(), nil, nil)

	result := d.SendOne(context.Background(), "alpha", CommandMessage{Text: "rm -rf / --no-preserve-root"})
	if result.Outcome != OutcomeBlocked {
		t.Fatalf("outcome = %v, want blocked", result.Outcome)
	}
	if got := mux.callsFor("sess:1.0"); len(got) != 0 {
		t.Errorf("blocked command should never reach the pane, got %v", got)
	}
}

func TestSendOneRejectsOverlongCommand(t *testing.T) {
	mux := newStubMux()
	panes := StaticPaneMap{"alpha": "sess:1.0"}
	settings := testSettings()
	settings.MaxCommandLength = 4
	d := New(mux, panes, settings, nil, nil)

	result := d.SendOne(context.Background(), "alpha", CommandMessage{Text: "way too long"})
	if result.Outcome != OutcomeFailed || errtag.KindOf(result.Err) != errtag.KindCommandTooLong {
		t.Fatalf("result = %+v, want CommandTooLong failure", result)
	}
}

func TestSendAllParallelReportsPerTargetOutcomeWithOneDeadPane(t *testing.T) {
	mux := newStubMux()
	mux.failOn["sess:1.1"] = errtag.New(errtag.KindAgentNotActive, "pane killed out of band").WithID("beta")
	panes := StaticPaneMap{"alpha": "sess:1.0", "beta": "sess:1.1", "gamma": "sess:1.2"}
	d := New(mux, panes, testSettings(), nil, nil)

	results := d.SendGroup(context.Background(), []string{"alpha", "beta", "gamma"}, CommandMessage{Text: "echo hi"}, Parallel)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	byAgent := map[string]ExecutionResult{}
	for _, r := range results {
		byAgent[r.AgentID] = r
	}
	if byAgent["alpha"].Outcome != OutcomeSuccess || byAgent["gamma"].Outcome != OutcomeSuccess {
		t.Errorf("expected alpha and gamma to succeed, got %+v", byAgent)
	}
	if byAgent["beta"].Outcome != OutcomeFailed {
		t.Errorf("expected beta to fail, got %+v", byAgent["beta"])
	}
}

func TestSendGroupSequentialStopsOnRequiredFailure(t *testing.T) {
	mux := newStubMux()
	mux.failOn["sess:1.0"] = fmt.Errorf("boom")
	panes := StaticPaneMap{"alpha": "sess:1.0", "beta": "sess:1.1"}
	d := New(mux, panes, testSettings(), nil, nil)

	results := d.SendGroup(context.Background(), []string{"alpha", "beta"}, CommandMessage{Text: "echo hi", Required: true}, Sequential)
	if len(results) != 1 {
		t.Fatalf("expected dispatch to stop after the required failure, got %d results", len(results))
	}
	if got := mux.callsFor("sess:1.1"); len(got) != 0 {
		t.Errorf("beta should never have been contacted, got %v", got)
	}
}

func TestSendGroupSequentialContinuesWhenNotRequired(t *testing.T) {
	mux := newStubMux()
	mux.failOn["sess:1.0"] = fmt.Errorf("boom")
	panes := StaticPaneMap{"alpha": "sess:1.0", "beta": "sess:1.1"}
	d := New(mux, panes, testSettings(), nil, nil)

	results := d.SendGroup(context.Background(), []string{"alpha", "beta"}, CommandMessage{Text: "echo hi"}, Sequential)
	if len(results) != 2 {
		t.Fatalf("expected both targets visited, got %d results", len(results))
	}
	if results[1].Outcome != OutcomeSuccess {
		t.Errorf("expected beta to still succeed, got %+v", results[1])
	}
}

func TestSendOneSucceedsWithinDeadline(t *testing.T) {
	mux := newStubMux()
	mux.delay = 50 * time.Millisecond
	panes := StaticPaneMap{"alpha": "sess:1.0"}
	agents := []config.Agent{{ID: "alpha", Config: config.AgentConfig{DefaultTimeoutSecs: 0}}}
	d := New(mux, panes, testSettings(), agents, nil)

	result := d.SendOne(context.Background(), "alpha", CommandMessage{Text: "echo hi", TimeoutSecs: 1})
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected the slow-but-within-deadline send to succeed, got %v", result.Outcome)
	}
}

func TestDeadlinePrefersTighterOfCommandAndAgentDefault(t *testing.T) {
	agents := []config.Agent{{ID: "alpha", Config: config.AgentConfig{DefaultTimeoutSecs: 5}}}
	d := New(newStubMux(), StaticPaneMap{}, testSettings(), agents, nil)

	got := d.deadline("alpha", CommandMessage{TimeoutSecs: 30})
	if got != 5*time.Second {
		t.Errorf("deadline = %v, want 5s (agent default is tighter)", got)
	}
	got = d.deadline("alpha", CommandMessage{TimeoutSecs: 2})
	if got != 2*time.Second {
		t.Errorf("deadline = %v, want 2s (command timeout is tighter)", got)
	}
}
