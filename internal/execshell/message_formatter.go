package execshell

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// CommandMessageFormatter renders command lifecycle events as sentences for console logging.
type CommandMessageFormatter struct{}

// BuildStartedMessage describes a command about to run.
func (formatter CommandMessageFormatter) BuildStartedMessage(command ShellCommand) string {
	return fmt.Sprintf("Running %s", formatter.describe(command))
}

// BuildSuccessMessage describes a command that exited cleanly.
func (formatter CommandMessageFormatter) BuildSuccessMessage(command ShellCommand) string {
	return fmt.Sprintf("Completed %s", formatter.describe(command))
}

// BuildSkippedMessage describes a command that exited with SkipExitCode.
func (formatter CommandMessageFormatter) BuildSkippedMessage(command ShellCommand) string {
	return fmt.Sprintf("%s reported nothing to do", formatter.describe(command))
}

// BuildFailureMessage describes a command that exited unsuccessfully.
func (formatter CommandMessageFormatter) BuildFailureMessage(command ShellCommand, result ExecutionResult) string {
	message := fmt.Sprintf("%s failed with exit code %d", formatter.describe(command), result.ExitCode)
	if result.Terminated() {
		message = fmt.Sprintf("%s was terminated by signal %s", formatter.describe(command), result.Signal)
	}
	if detail := summarizeOutput(result); len(detail) > 0 {
		message = fmt.Sprintf("%s: %s", message, detail)
	}
	return message
}

// BuildExecutionFailureMessage describes a command that could not be started.
func (formatter CommandMessageFormatter) BuildExecutionFailureMessage(command ShellCommand, cause error) string {
	return fmt.Sprintf("%s failed: %v", formatter.describe(command), cause)
}

func (formatter CommandMessageFormatter) describe(command ShellCommand) string {
	description := shellquote.Join(append([]string{string(command.Name)}, command.Details.Arguments...)...)
	if workingDirectory := strings.TrimSpace(command.Details.WorkingDirectory); len(workingDirectory) > 0 {
		description = fmt.Sprintf("%s (in %s)", description, workingDirectory)
	}
	return description
}
