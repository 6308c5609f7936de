package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Status is the lifecycle state of a task within one run.
type Status string

// Task statuses. Every status other than StatusIncomplete is terminal.
const (
	StatusIncomplete Status = "incomplete"
	StatusSkipped    Status = "skipped"
	StatusPassed     Status = "passed"
	StatusFailed     Status = "failed"
)

// SkipReason explains a Skipped result.
type SkipReason string

// Skip reasons.
const (
	SkipReasonNone             SkipReason = ""
	SkipReasonGating           SkipReason = "gating"
	SkipReasonSelf             SkipReason = "self"
	SkipReasonDependencyFailed SkipReason = "dependency_failed"
	SkipReasonRunAborted       SkipReason = "run_aborted"
)

// Step names recorded in TaskResult.Steps.
const (
	StepGate   = "gate"
	StepAction = "action"
)

// StepTiming is the elapsed time of one executor step.
type StepTiming struct {
	Name     string
	Duration time.Duration
}

// TaskResult is the terminal record of one task.
type TaskResult struct {
	Name       string
	Status     Status
	Error      error
	SkipReason SkipReason
	// BlockedBy names the dependency that prevented a dependency-blocked task from starting.
	BlockedBy string
	StartTime time.Time
	Duration  time.Duration
	Steps     []StepTiming
}

// Terminal reports whether the result is final.
func (result TaskResult) Terminal() bool {
	return result.Status == StatusPassed || result.Status == StatusSkipped || result.Status == StatusFailed
}

// SatisfiesDependents reports whether tasks requiring this one may run.
func (result TaskResult) SatisfiesDependents() bool {
	switch result.Status {
	case StatusPassed:
		return true
	case StatusSkipped:
		return result.SkipReason != SkipReasonDependencyFailed && result.SkipReason != SkipReasonRunAborted
	default:
		return false
	}
}

// Detail is a one-line explanation suitable for a summary table.
func (result TaskResult) Detail() string {
	switch {
	case result.Error != nil:
		return strings.SplitN(result.Error.Error(), "\n", 2)[0]
	case result.SkipReason == SkipReasonDependencyFailed:
		return fmt.Sprintf("blocked by %s", result.BlockedBy)
	case result.SkipReason == SkipReasonRunAborted:
		return "run aborted"
	case result.SkipReason == SkipReasonGating:
		return "run_if_cmd reported nothing to do"
	default:
		return ""
	}
}

// Counts tallies terminal statuses.
type Counts struct {
	Passed  int
	Skipped int
	Failed  int
}

// RunOutcome aggregates every task result of a run.
type RunOutcome struct {
	RunID     string
	Results   map[string]TaskResult
	Order     []string
	Failed    bool
	Aborted   bool
	StartTime time.Time
	Duration  time.Duration
}

func newRunOutcome(runID string, order []string) RunOutcome {
	return RunOutcome{
		RunID:     runID,
		Results:   make(map[string]TaskResult, len(order)),
		Order:     append([]string{}, order...),
		StartTime: time.Now(),
	}
}

// Result returns the recorded result for name.
func (outcome RunOutcome) Result(name string) (TaskResult, bool) {
	result, found := outcome.Results[name]
	return result, found
}

// Counts tallies the recorded results.
func (outcome RunOutcome) Counts() Counts {
	var counts Counts
	for _, result := range outcome.Results {
		switch result.Status {
		case StatusPassed:
			counts.Passed++
		case StatusSkipped:
			counts.Skipped++
		case StatusFailed:
			counts.Failed++
		}
	}
	return counts
}

// FailedResults lists failed tasks in run order.
func (outcome RunOutcome) FailedResults() []TaskResult {
	var failed []TaskResult
	for _, name := range outcome.Order {
		if result, found := outcome.Results[name]; found && result.Status == StatusFailed {
			failed = append(failed, result)
		}
	}
	return failed
}

// SummaryLine renders the one-line run summary.
func (outcome RunOutcome) SummaryLine() string {
	counts := outcome.Counts()
	verdict := "succeeded"
	if outcome.Failed {
		verdict = "failed"
	}
	if outcome.Aborted {
		verdict = "aborted"
	}
	return fmt.Sprintf("run %s: passed=%d skipped=%d failed=%d duration=%s",
		verdict, counts.Passed, counts.Skipped, counts.Failed, outcome.Duration.Round(time.Millisecond))
}

var (
	summaryHeaderStyle  = lipgloss.NewStyle().Bold(true)
	summaryNameStyle    = lipgloss.NewStyle().PaddingRight(2)
	summaryStatusStyles = map[Status]lipgloss.Style{
		StatusPassed:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")).PaddingRight(2),
		StatusSkipped: lipgloss.NewStyle().Foreground(lipgloss.Color("245")).PaddingRight(2),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).PaddingRight(2),
	}
	summaryDurationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).PaddingRight(2)
)

// RenderSummary renders one row per task followed by the summary line.
func RenderSummary(outcome RunOutcome) string {
	nameWidth := 0
	for _, name := range outcome.Order {
		nameWidth = max(nameWidth, lipgloss.Width(name))
	}

	var builder strings.Builder
	for _, name := range outcome.Order {
		result, found := outcome.Results[name]
		if !found {
			continue
		}
		statusStyle, styled := summaryStatusStyles[result.Status]
		if !styled {
			statusStyle = summaryDurationStyle
		}
		row := lipgloss.JoinHorizontal(lipgloss.Top,
			summaryNameStyle.Width(nameWidth+2).Render(name),
			statusStyle.Width(9).Render(string(result.Status)),
			summaryDurationStyle.Width(10).Render(result.Duration.Round(time.Millisecond).String()),
			result.Detail(),
		)
		builder.WriteString(strings.TrimRight(row, " "))
		builder.WriteString("\n")
	}
	builder.WriteString(summaryHeaderStyle.Render(outcome.SummaryLine()))
	return builder.String()
}
