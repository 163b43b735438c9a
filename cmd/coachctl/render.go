package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/voicetyped/speechcoach/internal/coach"
	"github.com/voicetyped/speechcoach/internal/metrics"
	"github.com/voicetyped/speechcoach/pkg/events"
	"github.com/voicetyped/speechcoach/pkg/profile"
)

var (
	accent = lipgloss.Color("#74c7ec")
	subtle = lipgloss.Color("#a6adc8")
	good   = lipgloss.Color("#a6e3a1")
	warm   = lipgloss.Color("#fab387")
	bad    = lipgloss.Color("#f38ba8")

	titleStyle = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(subtle)
	labelStyle = lipgloss.NewStyle().Foreground(subtle).Width(18)
	mockStyle  = lipgloss.NewStyle().Foreground(warm).Italic(true)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)
)

func scoreStyle(score float64) lipgloss.Style {
	switch {
	case score >= 80:
		return lipgloss.NewStyle().Foreground(good).Bold(true)
	case score >= 50:
		return lipgloss.NewStyle().Foreground(warm)
	}
	return lipgloss.NewStyle().Foreground(bad)
}

func severityStyle(s string) lipgloss.Style {
	switch metrics.ParseSeverity(s) {
	case metrics.SeverityWarning:
		return lipgloss.NewStyle().Foreground(bad).Bold(true)
	case metrics.SeverityInfo:
		return mutedStyle
	}
	return lipgloss.NewStyle().Foreground(warm)
}

func renderHeader(info coach.SessionInfo) string {
	return titleStyle.Render("session "+info.ID) + " " +
		mutedStyle.Render(fmt.Sprintf("profile=%s target=%.0f wpm", info.Profile.Name, info.Profile.TargetWPM))
}

func renderSnapshot(s metrics.Snapshot) string {
	parts := []string{
		mutedStyle.Render(fmt.Sprintf("#%d", s.Version)),
		fmt.Sprintf("wpm %s", scoreStyle(s.Pace.Score).Render(fmt.Sprintf("%.0f", s.Pace.CurrentWPM))),
		fmt.Sprintf("streak %d", s.Pace.StreakCount),
	}
	if s.Loudness.Category != "" {
		parts = append(parts, fmt.Sprintf("loudness %s", s.Loudness.Category))
	}
	if s.Pause.Ticks > 0 {
		parts = append(parts, fmt.Sprintf("flow %s", scoreStyle(s.Pause.FlowScore).Render(fmt.Sprintf("%.0f", s.Pause.FlowScore))))
	}
	if s.Emotion.Dominant != "" {
		parts = append(parts, "emotion "+s.Emotion.Dominant)
	}
	if s.Filler.TotalChunks > 0 {
		parts = append(parts, fmt.Sprintf("fillers %d", s.Filler.Count))
	}
	if s.Pace.IsMock || s.Loudness.IsMock || s.Pause.IsMock {
		parts = append(parts, mockStyle.Render("degraded"))
	}
	return strings.Join(parts, "  ")
}

func renderAlert(a events.AlertRaisedData) string {
	return severityStyle(a.Severity).Render(fmt.Sprintf("! %s: %s", a.Kind, a.Message))
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func renderSummary(s coach.Summary) string {
	rows := []string{
		titleStyle.Render("Session " + s.SessionID),
		row("profile", fmt.Sprintf("%s (%s)", s.Profile, s.Activity)),
		row("duration", fmt.Sprintf("%.1fs", s.DurationSec)),
		row("average wpm", fmt.Sprintf("%.0f / target %.0f ±%.0f", s.AverageWPM, s.TargetWPM, s.Tolerance)),
		row("pace score", scoreStyle(s.PaceScore).Render(fmt.Sprintf("%.0f", s.PaceScore))),
		row("consistency", scoreStyle(s.ConsistencyScore).Render(fmt.Sprintf("%.0f", s.ConsistencyScore))),
		row("best streak", fmt.Sprintf("%d", s.BestStreak)),
	}
	if s.FlowScore > 0 || s.ExcessivePauses > 0 {
		rows = append(rows,
			row("flow score", scoreStyle(s.FlowScore).Render(fmt.Sprintf("%.0f", s.FlowScore))),
			row("pauses", fmt.Sprintf("%d excessive, %d long", s.ExcessivePauses, s.LongPauses)),
		)
	}
	if len(s.LoudnessCounts) > 0 {
		keys := make([]string, 0, len(s.LoudnessCounts))
		for k := range s.LoudnessCounts {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		counts := make([]string, 0, len(keys))
		for _, k := range keys {
			counts = append(counts, fmt.Sprintf("%s %d", k, s.LoudnessCounts[metrics.LoudnessCategory(k)]))
		}
		rows = append(rows, row("loudness", strings.Join(counts, ", ")))
	}
	if s.DominantEmotion != "" {
		rows = append(rows, row("emotion", s.DominantEmotion))
	}
	rows = append(rows, row("filler words", fmt.Sprintf("%d", s.FillerCount)))
	if s.FinalScore != nil {
		rows = append(rows, row("final score", scoreStyle(*s.FinalScore).Render(fmt.Sprintf("%.0f", *s.FinalScore))))
	}
	for _, b := range s.NewBadges {
		rows = append(rows, row("new badge", fmt.Sprint(b["name"])))
	}
	if s.MockSamples > 0 {
		rows = append(rows, mockStyle.Render(fmt.Sprintf("%d samples were estimated while services were unavailable", s.MockSamples)))
	}
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func renderSessionLine(s coach.Summary) string {
	return fmt.Sprintf("%s  %s  %s  %s",
		mutedStyle.Render(s.StartedAt.Format("2006-01-02 15:04")),
		titleStyle.Render(s.SessionID),
		s.Activity,
		scoreStyle(s.PaceScore).Render(fmt.Sprintf("%.0f wpm", s.AverageWPM)),
	)
}

func renderProfile(p profile.Profile) string {
	return fmt.Sprintf("%s  %s  %s",
		titleStyle.Render(p.Name),
		mutedStyle.Render(p.Activity),
		strings.Join(p.Domains, ","),
	)
}
