// Package libraries defines the contract between the task executor and the built-in task libraries.
package libraries

import (
	"context"

	"go.uber.org/zap"

	"github.com/tyemirov/up/internal/execshell"
)

// ID names a library as referenced by run_lib.
type ID string

// Built-in library identifiers.
const (
	LinkID        ID = "link"
	GitID         ID = "git"
	DefaultsID    ID = "defaults"
	SelfUpdateID  ID = "self"
	GenerateGitID ID = "generate_git"
)

// Status is the non-failing outcome of a library run.
type Status string

// Library statuses.
const (
	StatusPassed  Status = "passed"
	StatusSkipped Status = "skipped"
)

// CommandExecutor runs child processes on behalf of a library.
type CommandExecutor interface {
	Execute(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error)
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// ElevatedExecutor runs argv under sudo.
type ElevatedExecutor interface {
	ExecuteElevated(executionContext context.Context, argv []string, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// RunContext is everything a library may observe about the invoking task and run.
type RunContext struct {
	TaskName      string
	Environment   map[string]string
	TempDirectory string
	Logger        *zap.Logger
	Commands      CommandExecutor
	// Elevated is nil unless the task declared needs_sudo.
	Elevated ElevatedExecutor
}

// Library is one built-in run_lib implementation.
type Library interface {
	ID() ID
	Run(executionContext context.Context, runContext RunContext, payload any) (Status, error)
}

// StatusFromChanges maps "did anything change" onto Passed or Skipped.
func StatusFromChanges(changed bool) Status {
	if changed {
		return StatusPassed
	}
	return StatusSkipped
}

// LoggerOrNop returns the context logger or a no-op logger.
func (runContext RunContext) LoggerOrNop() *zap.Logger {
	if runContext.Logger == nil {
		return zap.NewNop()
	}
	return runContext.Logger
}
