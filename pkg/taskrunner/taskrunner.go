package taskrunner

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tyemirov/up/internal/tasks"
)

// Executor plans and runs the tasks found in a directory.
type Executor interface {
	Eligible(ctx context.Context, directory string, request tasks.RunRequest) ([]tasks.TaskDescriptor, error)
	Run(ctx context.Context, directory string, request tasks.RunRequest) (tasks.RunOutcome, error)
}

// Factory constructs an Executor given runner dependencies.
type Factory func(tasks.RunnerDependencies) Executor

// Resolve returns either the provided factory result or the default task runner, wrapped so that
// every completed run prints its summary to summaryWriter.
func Resolve(factory Factory, dependencies tasks.RunnerDependencies, summaryWriter io.Writer) (Executor, error) {
	var base Executor
	if factory != nil {
		base = factory(dependencies)
	}
	if base == nil {
		runner, runnerError := tasks.NewRunner(dependencies)
		if runnerError != nil {
			return nil, runnerError
		}
		base = runner
	}
	return summaryExecutor{delegate: base, writer: summaryWriter}, nil
}

type summaryExecutor struct {
	delegate Executor
	writer   io.Writer
}

func (executor summaryExecutor) Eligible(ctx context.Context, directory string, request tasks.RunRequest) ([]tasks.TaskDescriptor, error) {
	return executor.delegate.Eligible(ctx, directory, request)
}

func (executor summaryExecutor) Run(ctx context.Context, directory string, request tasks.RunRequest) (tasks.RunOutcome, error) {
	outcome, err := executor.delegate.Run(ctx, directory, request)
	if err == nil {
		executor.printSummary(outcome)
	}
	return outcome, err
}

func (executor summaryExecutor) printSummary(outcome tasks.RunOutcome) {
	if executor.writer == nil {
		return
	}
	summary := RenderRunSummary(outcome)
	if len(strings.TrimSpace(summary)) == 0 {
		return
	}
	fmt.Fprintln(executor.writer, summary)
}
