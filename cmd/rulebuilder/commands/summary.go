package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"git.home.luguber.info/inful/rulebuilder/internal/engine"
	"git.home.luguber.info/inful/rulebuilder/internal/eventstore"
	"git.home.luguber.info/inful/rulebuilder/internal/report"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true)
	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	statusCached  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	statusSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	detailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

func styleForStatus(status string) lipgloss.Style {
	switch engine.Status(status) {
	case engine.StatusBuilt:
		return statusOK
	case engine.StatusCacheHit, engine.StatusUpToDate:
		return statusCached
	case engine.StatusFailed:
		return statusFailed
	case engine.StatusDepFailed:
		return statusSkipped
	default:
		return detailStyle
	}
}

// summaryPrinter renders a styled per-build summary when a build finishes.
type summaryPrinter struct {
	w io.Writer

	mu      sync.Mutex
	targets map[string][]eventstore.TargetPayload
}

func newSummaryPrinter(w io.Writer) *summaryPrinter {
	return &summaryPrinter{w: w, targets: map[string][]eventstore.TargetPayload{}}
}

// Handle is an events.Handler.
func (s *summaryPrinter) Handle(_ context.Context, e eventstore.Event) error {
	switch e.Type() {
	case eventstore.TypeTargetFinished, eventstore.TypeTargetFailed:
		var p eventstore.TargetPayload
		if err := json.Unmarshal(e.Payload(), &p); err != nil {
			return fmt.Errorf("decode target event: %w", err)
		}
		s.mu.Lock()
		s.targets[e.BuildID()] = append(s.targets[e.BuildID()], p)
		s.mu.Unlock()

	case eventstore.TypeBuildFinished:
		var p eventstore.BuildFinishedPayload
		if err := json.Unmarshal(e.Payload(), &p); err != nil {
			return fmt.Errorf("decode build event: %w", err)
		}
		s.mu.Lock()
		targets := s.targets[e.BuildID()]
		delete(s.targets, e.BuildID())
		s.mu.Unlock()

		_, err := io.WriteString(s.w, renderSummary(targets, p))
		return err
	}
	return nil
}

func renderSummary(targets []eventstore.TargetPayload, fin eventstore.BuildFinishedPayload) string {
	width := 0
	for _, t := range targets {
		width = max(width, len(t.Target))
	}

	var b strings.Builder
	for _, t := range targets {
		label := styleForStatus(t.Status).Render(fmt.Sprintf("%-10s", report.StatusLabel(t.Status)))
		line := fmt.Sprintf("%s  %-*s", label, width, t.Target)
		if t.DurationMS > 0 {
			line += "  " + detailStyle.Render(time.Duration(t.DurationMS*float64(time.Millisecond)).Round(time.Millisecond).String())
		}
		b.WriteString(line + "\n")
		for _, l := range errorLines(t.Error, maxErrorLines) {
			b.WriteString(detailStyle.Render("    "+l) + "\n")
		}
	}

	outcome := statusOK.Render("BUILD SUCCEEDED")
	if fin.ExitCode != 0 {
		outcome = statusFailed.Render("BUILD FAILED")
	}
	var counts []string
	for _, st := range []engine.Status{engine.StatusBuilt, engine.StatusCacheHit, engine.StatusUpToDate, engine.StatusFailed, engine.StatusDepFailed} {
		if n := fin.Counts[string(st)]; n > 0 {
			counts = append(counts, fmt.Sprintf("%d %s", n, report.StatusLabel(string(st))))
		}
	}
	footer := outcome
	if len(counts) > 0 {
		footer += "  " + headerStyle.Render(strings.Join(counts, ", "))
	}
	footer += "  " + detailStyle.Render(time.Duration(fin.DurationMS*float64(time.Millisecond)).Round(time.Millisecond).String())
	b.WriteString(footer + "\n")
	return b.String()
}

const maxErrorLines = 6

// errorLines returns the non-empty lines of msg, eliding the middle when
// there are more than limit.
func errorLines(msg string, limit int) []string {
	var lines []string
	for _, l := range strings.Split(msg, "\n") {
		if l = strings.TrimRight(l, " \t\r"); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) <= limit {
		return lines
	}
	tail := lines[len(lines)-(limit-2):]
	return append([]string{lines[0], "..."}, tail...)
}
