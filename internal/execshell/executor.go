package execshell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

const (
	gitCommandNameStringConstant              = "git"
	sudoCommandNameStringConstant             = "sudo"
	loggerNotConfiguredMessageConstant        = "shell executor logger not configured"
	commandRunnerNotConfiguredMessageConstant = "shell executor command runner not configured"
	commandNameMissingMessageConstant         = "shell command name not provided"
	commandStartMessageConstant               = "command execution starting"
	commandSuccessMessageConstant             = "command execution completed"
	commandSkippedMessageConstant             = "command requested skip"
	commandFailureMessageConstant             = "command returned non-zero status"
	commandRunnerErrorMessageConstant         = "command execution error"
	commandNameFieldNameConstant              = "command"
	commandArgumentsFieldNameConstant         = "arguments"
	workingDirectoryFieldNameConstant         = "working_directory"
	exitCodeFieldNameConstant                 = "exit_code"
	signalFieldNameConstant                   = "signal"
	standardErrorFieldNameConstant            = "stderr"
	maximumDetailLinesConstant                = 3
)

// SkipExitCode is the exit status a command uses to report that nothing needed doing.
const SkipExitCode = 204

// CommandName identifies an executable.
type CommandName string

// Well-known command names.
const (
	CommandGit  CommandName = CommandName(gitCommandNameStringConstant)
	CommandSudo CommandName = CommandName(sudoCommandNameStringConstant)
)

// CommandDetails describes command invocation properties.
type CommandDetails struct {
	Arguments            []string
	WorkingDirectory     string
	EnvironmentVariables map[string]string
	// IsolatedEnvironment runs the command with EnvironmentVariables only instead of extending the process environment.
	IsolatedEnvironment bool
	StandardInput       []byte
	// StandardOutput and StandardError, when set, receive the streams directly and nothing is captured.
	StandardOutput io.Writer
	StandardError  io.Writer
}

// ShellCommand represents a fully qualified command invocation.
type ShellCommand struct {
	Name    CommandName
	Details CommandDetails
}

// NewShellCommandFromArgv splits an argv vector into a ShellCommand.
func NewShellCommandFromArgv(argv []string, details CommandDetails) (ShellCommand, error) {
	if len(argv) == 0 || len(strings.TrimSpace(argv[0])) == 0 {
		return ShellCommand{}, ErrCommandNameMissing
	}
	details.Arguments = append([]string{}, argv[1:]...)
	return ShellCommand{Name: CommandName(argv[0]), Details: details}, nil
}

// ExecutionResult captures observable command results.
type ExecutionResult struct {
	StandardOutput string
	StandardError  string
	ExitCode       int
	// Signal names the terminating signal when the process did not exit normally.
	Signal string
}

// Terminated reports whether the process was killed by a signal.
func (result ExecutionResult) Terminated() bool {
	return len(result.Signal) > 0
}

// CommandRunner executes shell commands.
type CommandRunner interface {
	Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error)
}

// ShellExecutor orchestrates running shell commands with logging.
type ShellExecutor struct {
	commandRunner        CommandRunner
	logger               *zap.Logger
	humanReadableLogging bool
	messageFormatter     CommandMessageFormatter
}

var (
	// ErrLoggerNotConfigured indicates the logger dependency was missing.
	ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessageConstant)
	// ErrCommandRunnerNotConfigured indicates the command runner dependency was missing.
	ErrCommandRunnerNotConfigured = errors.New(commandRunnerNotConfiguredMessageConstant)
	// ErrCommandNameMissing indicates the command name was not provided.
	ErrCommandNameMissing = errors.New(commandNameMissingMessageConstant)
)

// CommandFailedError reports a command that exited with a non-zero, non-skip code or was terminated by a signal.
type CommandFailedError struct {
	Command ShellCommand
	Result  ExecutionResult
}

const (
	commandFailureErrorMessageTemplateConstant    = "%s command exited with code %d"
	commandTerminatedErrorMessageTemplateConstant = "%s command terminated by signal %s"
)

// Error describes the failure in a readable format.
func (commandError CommandFailedError) Error() string {
	baseMessage := fmt.Sprintf(commandFailureErrorMessageTemplateConstant, commandError.Command.Name, commandError.Result.ExitCode)
	if commandError.Result.Terminated() {
		baseMessage = fmt.Sprintf(commandTerminatedErrorMessageTemplateConstant, commandError.Command.Name, commandError.Result.Signal)
	}

	if len(commandError.Command.Details.Arguments) > 0 {
		baseMessage = fmt.Sprintf("%s (%s)", baseMessage, strings.Join(commandError.Command.Details.Arguments, " "))
	}

	if detail := summarizeOutput(commandError.Result); len(detail) > 0 {
		baseMessage = fmt.Sprintf("%s: %s", baseMessage, detail)
	}

	return baseMessage
}

// CommandSkippedError reports a command that exited with SkipExitCode.
type CommandSkippedError struct {
	Command ShellCommand
	Result  ExecutionResult
}

const commandSkippedErrorMessageTemplateConstant = "%s command requested skip (exit code %d)"

// Error describes the skip.
func (skipError CommandSkippedError) Error() string {
	return fmt.Sprintf(commandSkippedErrorMessageTemplateConstant, skipError.Command.Name, skipError.Result.ExitCode)
}

// CommandExecutionError wraps unexpected execution failures from the runner, such as a missing executable.
type CommandExecutionError struct {
	Command ShellCommand
	Cause   error
}

const commandExecutionErrorMessageTemplateConstant = "%s command execution failed"

// Error describes the underlying runner failure.
func (executionError CommandExecutionError) Error() string {
	if executionError.Cause == nil {
		return fmt.Sprintf(commandExecutionErrorMessageTemplateConstant, executionError.Command.Name)
	}
	return fmt.Sprintf(commandExecutionErrorMessageTemplateConstant+": %v", executionError.Command.Name, executionError.Cause)
}

// Unwrap exposes the underlying error.
func (executionError CommandExecutionError) Unwrap() error {
	return executionError.Cause
}

// NewShellExecutor builds an executor for the provided runner and logger.
func NewShellExecutor(logger *zap.Logger, commandRunner CommandRunner, humanReadableLogging bool) (*ShellExecutor, error) {
	if logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if commandRunner == nil {
		return nil, ErrCommandRunnerNotConfigured
	}
	return &ShellExecutor{
		commandRunner:        commandRunner,
		logger:               logger,
		humanReadableLogging: humanReadableLogging,
		messageFormatter:     CommandMessageFormatter{},
	}, nil
}

// WithLogger returns a copy of the executor that logs through the provided logger.
func (executor *ShellExecutor) WithLogger(logger *zap.Logger) *ShellExecutor {
	if logger == nil {
		return executor
	}
	clone := *executor
	clone.logger = logger
	return &clone
}

// Execute runs the provided shell command and logs lifecycle events.
// The returned result is populated for every completed process, including failed and skipped ones.
func (executor *ShellExecutor) Execute(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	if len(command.Name) == 0 {
		return ExecutionResult{}, ErrCommandNameMissing
	}

	if executor.humanReadableLogging {
		executor.logger.Info(executor.messageFormatter.BuildStartedMessage(command))
	} else {
		executor.logger.Info(commandStartMessageConstant,
			zap.String(commandNameFieldNameConstant, string(command.Name)),
			zap.Strings(commandArgumentsFieldNameConstant, command.Details.Arguments),
			zap.String(workingDirectoryFieldNameConstant, command.Details.WorkingDirectory),
		)
	}

	executionResult, runnerError := executor.commandRunner.Run(executionContext, command)
	if runnerError != nil {
		if executor.humanReadableLogging {
			executor.logger.Error(executor.messageFormatter.BuildExecutionFailureMessage(command, runnerError))
		} else {
			executor.logger.Error(commandRunnerErrorMessageConstant,
				zap.String(commandNameFieldNameConstant, string(command.Name)),
				zap.Error(runnerError),
			)
		}
		return ExecutionResult{}, CommandExecutionError{Command: command, Cause: runnerError}
	}

	if !executionResult.Terminated() && executionResult.ExitCode == SkipExitCode {
		if executor.humanReadableLogging {
			executor.logger.Info(executor.messageFormatter.BuildSkippedMessage(command))
		} else {
			executor.logger.Info(commandSkippedMessageConstant,
				zap.String(commandNameFieldNameConstant, string(command.Name)),
				zap.Int(exitCodeFieldNameConstant, executionResult.ExitCode),
			)
		}
		return executionResult, CommandSkippedError{Command: command, Result: executionResult}
	}

	if executionResult.Terminated() || executionResult.ExitCode != 0 {
		if executor.humanReadableLogging {
			executor.logger.Warn(executor.messageFormatter.BuildFailureMessage(command, executionResult))
		} else {
			executor.logger.Warn(commandFailureMessageConstant,
				zap.String(commandNameFieldNameConstant, string(command.Name)),
				zap.Int(exitCodeFieldNameConstant, executionResult.ExitCode),
				zap.String(signalFieldNameConstant, executionResult.Signal),
				zap.String(standardErrorFieldNameConstant, executionResult.StandardError),
			)
		}
		return executionResult, CommandFailedError{Command: command, Result: executionResult}
	}

	if executor.humanReadableLogging {
		executor.logger.Info(executor.messageFormatter.BuildSuccessMessage(command))
	} else {
		executor.logger.Info(commandSuccessMessageConstant,
			zap.String(commandNameFieldNameConstant, string(command.Name)),
			zap.Int(exitCodeFieldNameConstant, executionResult.ExitCode),
		)
	}
	return executionResult, nil
}

// ExecuteGit runs the git executable with the provided details.
func (executor *ShellExecutor) ExecuteGit(executionContext context.Context, details CommandDetails) (ExecutionResult, error) {
	return executor.Execute(executionContext, ShellCommand{Name: CommandGit, Details: details})
}

// ExecuteElevated runs argv through sudo.
func (executor *ShellExecutor) ExecuteElevated(executionContext context.Context, argv []string, details CommandDetails) (ExecutionResult, error) {
	details.Arguments = append([]string{}, argv...)
	return executor.Execute(executionContext, ShellCommand{Name: CommandSudo, Details: details})
}

func summarizeOutput(result ExecutionResult) string {
	detail := strings.TrimSpace(result.StandardError)
	if len(detail) == 0 {
		detail = strings.TrimSpace(result.StandardOutput)
	}
	if len(detail) == 0 {
		return ""
	}
	lines := strings.Split(detail, "\n")
	if len(lines) > maximumDetailLinesConstant {
		lines = lines[:maximumDetailLinesConstant]
	}
	normalized := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	return strings.Join(normalized, " | ")
}
