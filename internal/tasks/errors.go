package tasks

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationErrorKind classifies problems found before any task runs.
type ConfigurationErrorKind string

// Configuration error kinds.
const (
	ParseErrorKind         ConfigurationErrorKind = "parse_error"
	InvalidTaskKind        ConfigurationErrorKind = "invalid_task"
	UnknownDependencyKind  ConfigurationErrorKind = "unknown_dependency"
	DependencyExcludedKind ConfigurationErrorKind = "dependency_excluded"
	CyclicDependencyKind   ConfigurationErrorKind = "cyclic_dependency"
)

const cycleSeparatorConstant = " -> "

// ConfigurationError reports a task set that cannot be planned.
type ConfigurationError struct {
	Kind       ConfigurationErrorKind
	Task       string
	Path       string
	Dependency string
	// Members lists a dependency cycle in traversal order, repeating the first member at the end.
	Members []string
	Cause   error
}

// Error renders the problem with the offending task or file.
func (configurationError ConfigurationError) Error() string {
	switch configurationError.Kind {
	case ParseErrorKind:
		return fmt.Sprintf("%s: %s: %v", configurationError.Kind, configurationError.Path, configurationError.Cause)
	case InvalidTaskKind:
		return fmt.Sprintf("%s: task %q (%s): %v", configurationError.Kind, configurationError.Task, configurationError.Path, configurationError.Cause)
	case UnknownDependencyKind:
		return fmt.Sprintf("%s: task %q requires unknown task %q", configurationError.Kind, configurationError.Task, configurationError.Dependency)
	case DependencyExcludedKind:
		return fmt.Sprintf("%s: task %q requires %q, which is not selected for this run", configurationError.Kind, configurationError.Task, configurationError.Dependency)
	case CyclicDependencyKind:
		return fmt.Sprintf("%s: %s", configurationError.Kind, strings.Join(configurationError.Members, cycleSeparatorConstant))
	default:
		return fmt.Sprintf("%s: %v", configurationError.Kind, configurationError.Cause)
	}
}

// Unwrap exposes the underlying cause.
func (configurationError ConfigurationError) Unwrap() error {
	return configurationError.Cause
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var configurationError ConfigurationError
	return errors.As(err, &configurationError)
}

// TaskExecutionErrorKind classifies why a task failed.
type TaskExecutionErrorKind string

// Task execution error kinds.
const (
	GatingCommandFailedKind     TaskExecutionErrorKind = "gating_command_failed"
	CommandFailedKind           TaskExecutionErrorKind = "command_failed"
	CommandTerminatedKind       TaskExecutionErrorKind = "command_terminated"
	CommandSpawnFailedKind      TaskExecutionErrorKind = "command_spawn_failed"
	EnvironmentLookupFailedKind TaskExecutionErrorKind = "environment_lookup_failed"
	UnimplementedLibraryKind    TaskExecutionErrorKind = "unimplemented_library"
	LibrarySchemaErrorKind      TaskExecutionErrorKind = "library_schema_error"
	LibraryErrorKind            TaskExecutionErrorKind = "library_error"
)

// TaskExecutionError is the failure recorded for a single task.
type TaskExecutionError struct {
	Kind  TaskExecutionErrorKind
	Task  string
	Cause error
}

// Error describes the failure.
func (executionError TaskExecutionError) Error() string {
	if executionError.Cause == nil {
		return fmt.Sprintf("task %q: %s", executionError.Task, executionError.Kind)
	}
	return fmt.Sprintf("task %q: %s: %v", executionError.Task, executionError.Kind, executionError.Cause)
}

// Unwrap exposes the underlying cause.
func (executionError TaskExecutionError) Unwrap() error {
	return executionError.Cause
}

var (
	errNameMissing           = errors.New("task name is empty")
	errActionMissing         = errors.New("exactly one of run_lib or run_cmd is required, found neither")
	errActionAmbiguous       = errors.New("exactly one of run_lib or run_cmd is required, found both")
	errDataWithoutLibrary    = errors.New("data is only valid together with run_lib")
	errLibraryNameEmpty      = errors.New("run_lib is empty")
	errCommandEmpty          = errors.New("run_cmd is empty")
	errGateEmpty             = errors.New("run_if_cmd is empty")
	errSelfDependency        = errors.New("task requires itself")
	errDuplicateTaskName     = errors.New("task name already defined")
	errEmptyTaskFile         = errors.New("task file is empty")
	errUnknownLibrary        = errors.New("library is not implemented")
	errTaskDirectoryUnlisted = errors.New("unable to list task directory")
)
