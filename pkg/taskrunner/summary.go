package taskrunner

import (
	"github.com/tyemirov/up/internal/tasks"
)

// RenderRunSummary returns the text printed after a run: a per-task table when more than one
// task took part, the bare summary line for a single task, and nothing for an empty run.
func RenderRunSummary(outcome tasks.RunOutcome) string {
	switch len(outcome.Results) {
	case 0:
		return ""
	case 1:
		return outcome.SummaryLine()
	default:
		return tasks.RenderSummary(outcome)
	}
}
