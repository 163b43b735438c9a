package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voicetyped/speechcoach/internal/coach"
	"github.com/voicetyped/speechcoach/internal/metrics"
)

func TestRenderSummary(t *testing.T) {
	score := 88.0
	out := renderSummary(coach.Summary{
		SessionID:      "abc123",
		Profile:        "rate",
		Activity:       "rate",
		AverageWPM:     131,
		TargetWPM:      125,
		BestStreak:     4,
		LoudnessCounts: map[metrics.LoudnessCategory]int{metrics.LoudnessAcceptable: 3},
		FinalScore:     &score,
		NewBadges:      []map[string]any{{"name": "steady"}},
		MockSamples:    2,
	})
	for _, want := range []string{"abc123", "131", "88", "steady", "2 samples were estimated"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSnapshotMarksDegraded(t *testing.T) {
	snap := metrics.Snapshot{Version: 7}
	snap.Pace.CurrentWPM = 140
	snap.Pace.IsMock = true
	out := renderSnapshot(snap)
	if !strings.Contains(out, "#7") || !strings.Contains(out, "140") || !strings.Contains(out, "degraded") {
		t.Errorf("got %q", out)
	}
}

func TestLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coachctl.log")
	var stderr bytes.Buffer
	logger := newLogger(&stderr, path, true)
	logger.Debug("hello", "k", "v")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("log file = %q", data)
	}
	if stderr.Len() != 0 {
		t.Errorf("stderr should stay empty, got %q", stderr.String())
	}
}

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"replay", "sessions", "watch", "profiles"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestProfilesCommandListsBuiltins(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"profiles"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "presentation") {
		t.Errorf("got %q", out.String())
	}
}
