package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tyemirov/up/internal/execshell"
	"github.com/tyemirov/up/internal/libraries"
	"github.com/tyemirov/up/internal/tracing"
	pathutils "github.com/tyemirov/up/internal/utils/path"
)

const (
	runSpanName               = "run"
	runSpanAttributeID        = "up.run.id"
	runSpanAttributeTasks     = "up.run.tasks"
	runSpanAttributeFailed    = "up.run.failed"
	runStartedMessage         = "run started"
	runFinishedMessage        = "run finished"
	sudoPrimingMessage        = "refreshing sudo credentials"
	runIDFieldName            = "run_id"
	eligibleFieldName         = "eligible"
	bootstrapFieldName        = "bootstrap"
	consoleFieldName          = "console"
	failedFieldName           = "failed"
	abortedFieldName          = "aborted"
	sudoValidateFlagConstant  = "-v"
	sudoPrimingFailedTemplate = "%w: %w"
)

// ErrSudoPrimingFailed reports that sudo credentials could not be refreshed before the run.
var ErrSudoPrimingFailed = errors.New("unable to refresh sudo credentials")

// RunRequest is everything the caller decides about one run.
type RunRequest struct {
	Selection Selection
	Bootstrap bool
	KeepGoing bool
	// Console is nil when unset; the default is true iff exactly one task is eligible.
	Console        *bool
	Environment    map[string]string
	Workers        int
	BootstrapTasks []string
	TempDirectory  string
	RunID          string
}

// RunnerDependencies are the collaborators shared by every run.
type RunnerDependencies struct {
	Loader        *Loader
	Registry      *libraries.Registry
	Commands      CommandExecutor
	Logger        *zap.Logger
	Tracer        *tracing.Provider
	ConsoleOutput io.Writer
	ConsoleError  io.Writer
	HomeDirectory pathutils.HomeDirectoryResolver
}

// Runner resolves a task directory into a plan and executes it.
type Runner struct {
	dependencies RunnerDependencies
}

// Resolution is a planned, not yet executed, run.
type Resolution struct {
	All      []TaskDescriptor
	Eligible []TaskDescriptor
	Plan     ExecutionPlan
}

// NewRunner validates dependencies and fills defaults.
func NewRunner(dependencies RunnerDependencies) (*Runner, error) {
	if dependencies.Commands == nil {
		return nil, ErrCommandExecutorMissing
	}
	if dependencies.Registry == nil {
		return nil, ErrRegistryMissing
	}
	if dependencies.Loader == nil {
		dependencies.Loader = NewLoader(nil)
	}
	if dependencies.Logger == nil {
		dependencies.Logger = zap.NewNop()
	}
	if dependencies.ConsoleOutput == nil {
		dependencies.ConsoleOutput = os.Stdout
	}
	if dependencies.ConsoleError == nil {
		dependencies.ConsoleError = os.Stderr
	}
	return &Runner{dependencies: dependencies}, nil
}

// Eligible loads the directory and applies selection without building the dependency graph.
func (runner *Runner) Eligible(executionContext context.Context, directory string, request RunRequest) ([]TaskDescriptor, error) {
	all, loadError := runner.dependencies.Loader.Load(executionContext, directory)
	if loadError != nil {
		return nil, loadError
	}
	return Select(all, request.Selection, request.Environment), nil
}

// Resolve loads, selects, links and plans the run. Every error is a ConfigurationError.
func (runner *Runner) Resolve(executionContext context.Context, directory string, request RunRequest) (Resolution, error) {
	all, loadError := runner.dependencies.Loader.Load(executionContext, directory)
	if loadError != nil {
		return Resolution{}, loadError
	}
	eligible := Select(all, request.Selection, request.Environment)
	graph, graphError := BuildGraph(eligible, all)
	if graphError != nil {
		return Resolution{}, graphError
	}
	return Resolution{
		All:      all,
		Eligible: eligible,
		Plan:     BuildPlan(graph, request.BootstrapTasks, request.Bootstrap),
	}, nil
}

// Run plans and executes the tasks in directory.
// A returned error means nothing ran; task failures are reported through RunOutcome.Failed.
func (runner *Runner) Run(executionContext context.Context, directory string, request RunRequest) (RunOutcome, error) {
	if len(request.RunID) == 0 {
		request.RunID = uuid.NewString()
	}
	logger := runner.dependencies.Logger.With(zap.String(runIDFieldName, request.RunID))
	runContext, span := runner.dependencies.Tracer.Start(executionContext, runSpanName, map[string]string{runSpanAttributeID: request.RunID})

	resolution, resolveError := runner.Resolve(runContext, directory, request)
	if resolveError != nil {
		span.End(resolveError)
		return RunOutcome{}, resolveError
	}
	span.SetAttribute(runSpanAttributeTasks, strconv.Itoa(len(resolution.Eligible)))

	console := len(resolution.Eligible) == 1
	if request.Console != nil {
		console = *request.Console
	}
	logger.Info(runStartedMessage,
		zap.Int(eligibleFieldName, len(resolution.Eligible)),
		zap.Strings(bootstrapFieldName, resolution.Plan.Bootstrap),
		zap.Bool(consoleFieldName, console),
	)

	if primingError := runner.primeSudo(runContext, resolution.Eligible, logger); primingError != nil {
		span.End(primingError)
		return RunOutcome{}, primingError
	}

	executor, executorError := NewExecutor(runner.dependencies.Commands, runner.dependencies.Registry, ExecutorOptions{
		Environment:   request.Environment,
		TempDirectory: request.TempDirectory,
		Console:       console,
		ConsoleOutput: runner.dependencies.ConsoleOutput,
		ConsoleError:  runner.dependencies.ConsoleError,
		Logger:        logger,
		Tracer:        runner.dependencies.Tracer,
		HomeDirectory: runner.dependencies.HomeDirectory,
	})
	if executorError != nil {
		span.End(executorError)
		return RunOutcome{}, executorError
	}

	descriptors := make(map[string]TaskDescriptor, len(resolution.Eligible))
	for _, descriptor := range resolution.Eligible {
		descriptors[descriptor.Name] = descriptor
	}
	scheduler := NewScheduler(executor, SchedulerOptions{
		Workers:   request.Workers,
		KeepGoing: request.KeepGoing,
		Logger:    logger,
		Tracer:    runner.dependencies.Tracer,
	})
	outcome := scheduler.Execute(runContext, resolution.Plan, request.RunID, descriptors)

	logger.Info(runFinishedMessage, zap.Bool(failedFieldName, outcome.Failed), zap.Bool(abortedFieldName, outcome.Aborted), zap.Duration(durationFieldName, outcome.Duration))
	span.SetAttribute(runSpanAttributeFailed, strconv.FormatBool(outcome.Failed))
	span.End(nil)
	return outcome, nil
}

// primeSudo runs "sudo -v" once when any eligible task needs elevated privileges.
func (runner *Runner) primeSudo(executionContext context.Context, eligible []TaskDescriptor, logger *zap.Logger) error {
	needsSudo := false
	for _, descriptor := range eligible {
		needsSudo = needsSudo || descriptor.NeedsSudo
	}
	if !needsSudo {
		return nil
	}
	logger.Info(sudoPrimingMessage)
	_, primingError := runner.dependencies.Commands.ExecuteElevated(executionContext, []string{sudoValidateFlagConstant}, execshell.CommandDetails{
		StandardOutput: runner.dependencies.ConsoleOutput,
		StandardError:  runner.dependencies.ConsoleError,
	})
	if primingError != nil {
		return fmt.Errorf(sudoPrimingFailedTemplate, ErrSudoPrimingFailed, primingError)
	}
	return nil
}
