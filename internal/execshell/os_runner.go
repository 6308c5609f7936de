package execshell

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"syscall"
)

const unknownSignalNameConstant = "unknown"

// OSCommandRunner executes commands as child processes of the current process.
type OSCommandRunner struct{}

// NewOSCommandRunner constructs the default process runner.
func NewOSCommandRunner() OSCommandRunner {
	return OSCommandRunner{}
}

// Run starts the command, waits for it, and reports its exit status.
// A non-zero exit or a signal is reported through the result, never as an error; errors mean the process could not run.
func (OSCommandRunner) Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	process := exec.CommandContext(executionContext, string(command.Name), command.Details.Arguments...)
	process.Dir = command.Details.WorkingDirectory
	process.Env = buildEnvironment(command.Details)

	if len(command.Details.StandardInput) > 0 {
		process.Stdin = bytes.NewReader(command.Details.StandardInput)
	}

	var standardOutput bytes.Buffer
	var standardError bytes.Buffer
	process.Stdout = &standardOutput
	if command.Details.StandardOutput != nil {
		process.Stdout = command.Details.StandardOutput
	}
	process.Stderr = &standardError
	if command.Details.StandardError != nil {
		process.Stderr = command.Details.StandardError
	}

	runError := process.Run()
	result := ExecutionResult{
		StandardOutput: standardOutput.String(),
		StandardError:  standardError.String(),
	}
	if runError == nil {
		return result, nil
	}

	var exitError *exec.ExitError
	if !errors.As(runError, &exitError) {
		return ExecutionResult{}, runError
	}

	result.ExitCode = exitError.ExitCode()
	if waitStatus, ok := exitError.Sys().(syscall.WaitStatus); ok && waitStatus.Signaled() {
		result.Signal = waitStatus.Signal().String()
	} else if result.ExitCode < 0 {
		result.Signal = unknownSignalNameConstant
	}
	return result, nil
}

func buildEnvironment(details CommandDetails) []string {
	environment := make([]string, 0, len(details.EnvironmentVariables))
	if !details.IsolatedEnvironment {
		if len(details.EnvironmentVariables) == 0 {
			return nil
		}
		environment = append(environment, os.Environ()...)
	}

	keys := make([]string, 0, len(details.EnvironmentVariables))
	for key := range details.EnvironmentVariables {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		environment = append(environment, key+"="+details.EnvironmentVariables[key])
	}
	return environment
}
