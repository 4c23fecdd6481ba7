package history

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendAndTailReturnsRecentLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.log")
	h, err := New(path, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		h.ForAgent("alpha", "echo hi", OutcomeSucceeded, "")
	}
	lines := h.Tail(3)
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for _, line := range lines {
		if !strings.Contains(line, "alpha") {
			t.Errorf("line %q missing agent id", line)
		}
	}
}

func TestAppendRedactsBlockedPatterns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.log")
	h, err := New(path, []string{"super-secret-token"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.ForAgent("beta", "curl -H 'Authorization: super-secret-token'", OutcomeSent, "")
	lines := h.Tail(1)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if strings.Contains(lines[0], "super-secret-token") {
		t.Errorf("expected secret to be redacted, got %q", lines[0])
	}
	if !strings.Contains(lines[0], "***") {
		t.Errorf("expected redaction marker in %q", lines[0])
	}
}

func TestTailOnMissingFileReturnsNil(t *testing.T) {
	dir := t.TempDir()
	h, err := New(filepath.Join(dir, "nope.log"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if lines := h.Tail(10); lines != nil {
		t.Errorf("expected nil for missing file, got %v", lines)
	}
}

func TestRotationKeepsActiveFileBounded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.log")
	h, err := New(path, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.rotateThreshold = 10
	for i := 0; i < 25; i++ {
		h.ForAgent("alpha", "cmd", OutcomeSucceeded, "")
	}
	lines := h.Tail(100)
	if len(lines) == 0 || len(lines) > h.rotateThreshold+1 {
		t.Fatalf("expected rotation to bound active file, got %d lines", len(lines))
	}
}
