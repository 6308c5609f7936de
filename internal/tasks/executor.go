package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/up/internal/environment"
	"github.com/tyemirov/up/internal/execshell"
	"github.com/tyemirov/up/internal/libraries"
	"github.com/tyemirov/up/internal/tracing"
	pathutils "github.com/tyemirov/up/internal/utils/path"
)

const (
	taskOutputMessage       = "task output"
	taskStartedMessage      = "task started"
	stdoutFieldName         = "stdout"
	stderrFieldName         = "stderr"
	libraryFieldName        = "library"
	taskSpanName            = "task"
	taskSpanAttributeName   = "up.task.name"
	taskSpanAttributeStatus = "up.task.status"
	taskSpanAttributeReason = "up.task.skip_reason"
)

var (
	// ErrCommandExecutorMissing reports an Executor built without a command executor.
	ErrCommandExecutorMissing = errors.New("task executor requires a command executor")
	// ErrRegistryMissing reports an Executor built without a library registry.
	ErrRegistryMissing        = errors.New("task executor requires a library registry")
)

// CommandExecutor runs plain, git and sudo commands with lifecycle logging.
type CommandExecutor interface {
	libraries.CommandExecutor
	libraries.ElevatedExecutor
}

// ExecutorOptions carries the per-run context shared by every task.
type ExecutorOptions struct {
	// Environment is the immutable snapshot used for substitution and as the whole child environment.
	Environment   map[string]string
	TempDirectory string
	// Console connects a task's streams to ConsoleOutput and ConsoleError instead of capturing them.
	Console       bool
	ConsoleOutput io.Writer
	ConsoleError  io.Writer
	Logger        *zap.Logger
	Tracer        *tracing.Provider
	HomeDirectory pathutils.HomeDirectoryResolver
}

// Executor drives one task from Incomplete to a terminal status.
type Executor struct {
	commands CommandExecutor
	registry *libraries.Registry
	options  ExecutorOptions
	expander *environment.Expander
}

// NewExecutor validates collaborators and constructs an Executor.
func NewExecutor(commands CommandExecutor, registry *libraries.Registry, options ExecutorOptions) (*Executor, error) {
	if commands == nil {
		return nil, ErrCommandExecutorMissing
	}
	if registry == nil {
		return nil, ErrRegistryMissing
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	return &Executor{
		commands: commands,
		registry: registry,
		options:  options,
		expander: environment.NewExpander(environment.MapLookup(options.Environment), options.HomeDirectory),
	}, nil
}

// RunTask runs the gate, then the main action, and returns the terminal result.
func (executor *Executor) RunTask(executionContext context.Context, descriptor TaskDescriptor) TaskResult {
	result := TaskResult{Name: descriptor.Name, Status: StatusIncomplete, StartTime: time.Now()}
	logger := executor.options.Logger.With(zap.String(taskFieldName, descriptor.Name))
	spanContext, span := executor.options.Tracer.Start(executionContext, taskSpanName, map[string]string{taskSpanAttributeName: descriptor.Name})
	// Subprocesses always run to completion once started.
	commandContext := context.WithoutCancel(spanContext)

	logger.Debug(taskStartedMessage)
	executor.runSteps(commandContext, descriptor, logger, &result)

	result.Duration = time.Since(result.StartTime)
	span.SetAttribute(taskSpanAttributeStatus, string(result.Status))
	if result.SkipReason != SkipReasonNone {
		span.SetAttribute(taskSpanAttributeReason, string(result.SkipReason))
	}
	span.End(result.Error)
	return result
}

func (executor *Executor) runSteps(executionContext context.Context, descriptor TaskDescriptor, logger *zap.Logger, result *TaskResult) {
	if len(descriptor.Gate) > 0 {
		stepStart := time.Now()
		gateError := executor.runCommand(executionContext, descriptor.Gate, logger)
		result.Steps = append(result.Steps, StepTiming{Name: StepGate, Duration: time.Since(stepStart)})
		var skipError execshell.CommandSkippedError
		switch {
		case errors.As(gateError, &skipError):
			result.Status = StatusSkipped
			result.SkipReason = SkipReasonGating
			return
		case gateError != nil:
			result.Status = StatusFailed
			result.Error = executor.classifyGateError(descriptor.Name, gateError)
			return
		}
	}

	stepStart := time.Now()
	defer func() {
		result.Steps = append(result.Steps, StepTiming{Name: StepAction, Duration: time.Since(stepStart)})
	}()

	switch action := descriptor.Action.(type) {
	case ShellAction:
		commandError := executor.runCommand(executionContext, action.Argv, logger)
		var skipError execshell.CommandSkippedError
		switch {
		case commandError == nil:
			result.Status = StatusPassed
		case errors.As(commandError, &skipError):
			result.Status = StatusSkipped
			result.SkipReason = SkipReasonSelf
		default:
			result.Status = StatusFailed
			result.Error = classifyCommandError(descriptor.Name, commandError)
		}
	case LibraryAction:
		status, libraryError := executor.runLibrary(executionContext, descriptor, action, logger)
		if libraryError != nil {
			result.Status = StatusFailed
			result.Error = libraryError
			return
		}
		result.Status = StatusPassed
		if status == libraries.StatusSkipped {
			result.Status = StatusSkipped
			result.SkipReason = SkipReasonSelf
		}
	default:
		result.Status = StatusFailed
		result.Error = TaskExecutionError{Kind: CommandSpawnFailedKind, Task: descriptor.Name, Cause: errActionMissing}
	}
}

// runCommand expands argv against the snapshot and runs it with only the snapshot as its environment.
func (executor *Executor) runCommand(executionContext context.Context, argv []string, logger *zap.Logger) error {
	expanded, expandError := executor.expander.ExpandArguments(argv)
	if expandError != nil {
		return expandError
	}

	details := execshell.CommandDetails{
		EnvironmentVariables: executor.options.Environment,
		IsolatedEnvironment:  true,
	}
	if executor.options.Console {
		details.StandardOutput = executor.options.ConsoleOutput
		details.StandardError = executor.options.ConsoleError
	}
	command, commandError := execshell.NewShellCommandFromArgv(expanded, details)
	if commandError != nil {
		return commandError
	}

	executionResult, executionError := executor.commands.Execute(executionContext, command)
	logCapturedOutput(logger, executionResult, executionError)
	return executionError
}

func (executor *Executor) runLibrary(executionContext context.Context, descriptor TaskDescriptor, action LibraryAction, logger *zap.Logger) (libraries.Status, error) {
	library, found := executor.registry.Lookup(action.Library)
	if !found {
		return "", TaskExecutionError{Kind: UnimplementedLibraryKind, Task: descriptor.Name, Cause: fmt.Errorf("%w: %s", errUnknownLibrary, action.Library)}
	}

	payload, expandError := executor.expander.ExpandPayload(action.Payload)
	if expandError != nil {
		return "", TaskExecutionError{Kind: EnvironmentLookupFailedKind, Task: descriptor.Name, Cause: expandError}
	}

	runContext := libraries.RunContext{
		TaskName:      descriptor.Name,
		Environment:   executor.options.Environment,
		TempDirectory: executor.options.TempDirectory,
		Logger:        logger.With(zap.String(libraryFieldName, string(action.Library))),
		Commands:      executor.commands,
	}
	if descriptor.NeedsSudo {
		runContext.Elevated = executor.commands
	}

	status, runError := library.Run(executionContext, runContext, payload)
	if runError == nil {
		return status, nil
	}
	var schemaError libraries.SchemaError
	if errors.As(runError, &schemaError) {
		return "", TaskExecutionError{Kind: LibrarySchemaErrorKind, Task: descriptor.Name, Cause: runError}
	}
	return "", TaskExecutionError{Kind: LibraryErrorKind, Task: descriptor.Name, Cause: runError}
}

func (executor *Executor) classifyGateError(taskName string, gateError error) error {
	classified := classifyCommandError(taskName, gateError)
	var executionError TaskExecutionError
	if errors.As(classified, &executionError) && executionError.Kind == EnvironmentLookupFailedKind {
		return classified
	}
	return TaskExecutionError{Kind: GatingCommandFailedKind, Task: taskName, Cause: classified}
}

func classifyCommandError(taskName string, commandError error) error {
	var lookupError environment.LookupError
	var homeError environment.HomeDirectoryError
	var failedError execshell.CommandFailedError
	switch {
	case errors.As(commandError, &lookupError), errors.As(commandError, &homeError):
		return TaskExecutionError{Kind: EnvironmentLookupFailedKind, Task: taskName, Cause: commandError}
	case errors.As(commandError, &failedError) && failedError.Result.Terminated():
		return TaskExecutionError{Kind: CommandTerminatedKind, Task: taskName, Cause: commandError}
	case errors.As(commandError, &failedError):
		return TaskExecutionError{Kind: CommandFailedKind, Task: taskName, Cause: commandError}
	default:
		return TaskExecutionError{Kind: CommandSpawnFailedKind, Task: taskName, Cause: commandError}
	}
}

// logCapturedOutput logs captured streams at debug on success and error on failure.
func logCapturedOutput(logger *zap.Logger, executionResult execshell.ExecutionResult, executionError error) {
	standardOutput := strings.TrimSpace(executionResult.StandardOutput)
	standardError := strings.TrimSpace(executionResult.StandardError)
	if len(standardOutput) == 0 && len(standardError) == 0 {
		return
	}
	fields := []zap.Field{zap.String(stdoutFieldName, standardOutput), zap.String(stderrFieldName, standardError)}
	var skipError execshell.CommandSkippedError
	if executionError != nil && !errors.As(executionError, &skipError) {
		logger.Error(taskOutputMessage, fields...)
		return
	}
	logger.Debug(taskOutputMessage, fields...)
}
