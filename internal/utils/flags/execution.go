// Package flags provides helpers for binding standardized execution flags to Cobra commands.
package flags

import (
	"runtime"

	"github.com/spf13/cobra"
)

const (
	// TasksFlagName selects tasks by name.
	TasksFlagName = "tasks"
	// TasksFlagShorthand is the shorthand for TasksFlagName.
	TasksFlagShorthand = "t"
	// TasksFlagUsage describes the task allow-list flag.
	TasksFlagUsage = "Tasks to run (repeatable or comma separated); tasks with auto_run disabled only run when named here"
	// ExcludeTasksFlagName removes tasks by name.
	ExcludeTasksFlagName = "exclude-tasks"
	// ExcludeTasksFlagUsage describes the task exclude-list flag.
	ExcludeTasksFlagUsage = "Tasks to skip (repeatable or comma separated); wins over --tasks"
	// BootstrapFlagName requests the serial bootstrap phase.
	BootstrapFlagName = "bootstrap"
	// BootstrapFlagShorthand is the shorthand for BootstrapFlagName.
	BootstrapFlagShorthand = "b"
	// BootstrapFlagUsage describes the bootstrap flag.
	BootstrapFlagUsage = "Run the configured bootstrap_tasks serially before everything else"
	// KeepGoingFlagName keeps the bootstrap phase running past failures.
	KeepGoingFlagName = "keep-going"
	// KeepGoingFlagShorthand is the shorthand for KeepGoingFlagName.
	KeepGoingFlagShorthand = "k"
	// KeepGoingFlagUsage describes the keep-going flag.
	KeepGoingFlagUsage = "Continue the bootstrap phase when a task fails"
	// ConsoleFlagName connects task output directly to the terminal.
	ConsoleFlagName = "console"
	// ConsoleFlagUsage describes the console flag.
	ConsoleFlagUsage = "Stream task output to the terminal instead of the log (default: true when exactly one task runs)"
	// WorkersFlagName bounds parallel task execution.
	WorkersFlagName = "workers"
	// WorkersFlagUsage describes the workers flag.
	WorkersFlagUsage = "Maximum number of tasks running in parallel"
)

// ExecutionFlagDefinition captures a single flag's configuration.
type ExecutionFlagDefinition struct {
	Name      string
	Usage     string
	Shorthand string
	Enabled   bool
}

// ExecutionFlagDefinitions groups execution flag definitions.
type ExecutionFlagDefinitions struct {
	Tasks        ExecutionFlagDefinition
	ExcludeTasks ExecutionFlagDefinition
	Bootstrap    ExecutionFlagDefinition
	KeepGoing    ExecutionFlagDefinition
	Console      ExecutionFlagDefinition
	Workers      ExecutionFlagDefinition
}

// DefaultExecutionFlagDefinitions enables every execution flag with its standard name.
func DefaultExecutionFlagDefinitions() ExecutionFlagDefinitions {
	return ExecutionFlagDefinitions{
		Tasks:        ExecutionFlagDefinition{Name: TasksFlagName, Shorthand: TasksFlagShorthand, Usage: TasksFlagUsage, Enabled: true},
		ExcludeTasks: ExecutionFlagDefinition{Name: ExcludeTasksFlagName, Usage: ExcludeTasksFlagUsage, Enabled: true},
		Bootstrap:    ExecutionFlagDefinition{Name: BootstrapFlagName, Shorthand: BootstrapFlagShorthand, Usage: BootstrapFlagUsage, Enabled: true},
		KeepGoing:    ExecutionFlagDefinition{Name: KeepGoingFlagName, Shorthand: KeepGoingFlagShorthand, Usage: KeepGoingFlagUsage, Enabled: true},
		Console:      ExecutionFlagDefinition{Name: ConsoleFlagName, Usage: ConsoleFlagUsage, Enabled: true},
		Workers:      ExecutionFlagDefinition{Name: WorkersFlagName, Usage: WorkersFlagUsage, Enabled: true},
	}
}

// BindExecutionFlags attaches the enabled execution flags to the command's local flag set.
func BindExecutionFlags(command *cobra.Command, definitions ExecutionFlagDefinitions) {
	if command == nil {
		return
	}
	flagSet := command.Flags()

	for _, definition := range []ExecutionFlagDefinition{definitions.Tasks, definitions.ExcludeTasks} {
		if definition.Enabled && len(definition.Name) > 0 && flagSet.Lookup(definition.Name) == nil {
			flagSet.StringSliceP(definition.Name, definition.Shorthand, nil, definition.Usage)
		}
	}
	for _, definition := range []ExecutionFlagDefinition{definitions.Bootstrap, definitions.KeepGoing, definitions.Console} {
		if definition.Enabled && len(definition.Name) > 0 && flagSet.Lookup(definition.Name) == nil {
			flagSet.BoolP(definition.Name, definition.Shorthand, false, definition.Usage)
		}
	}
	if definitions.Workers.Enabled && len(definitions.Workers.Name) > 0 && flagSet.Lookup(definitions.Workers.Name) == nil {
		flagSet.IntP(definitions.Workers.Name, definitions.Workers.Shorthand, runtime.NumCPU(), definitions.Workers.Usage)
	}
}
