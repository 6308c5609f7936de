package tasks_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tyemirov/up/internal/execshell"
	"github.com/tyemirov/up/internal/libraries"
	"github.com/tyemirov/up/internal/tasks"
)

func newTaskExecutor(testInstance *testing.T, runner *fakeCommandRunner, registry *libraries.Registry, options tasks.ExecutorOptions) *tasks.Executor {
	testInstance.Helper()
	if registry == nil {
		registry = newRegistry(testInstance)
	}
	executor, executorError := tasks.NewExecutor(newShellExecutor(testInstance, runner), registry, options)
	require.NoError(testInstance, executorError)
	return executor
}

func requireExecutionKind(testInstance *testing.T, err error, expected tasks.TaskExecutionErrorKind) {
	testInstance.Helper()
	var executionError tasks.TaskExecutionError
	require.ErrorAs(testInstance, err, &executionError)
	require.Equal(testInstance, expected, executionError.Kind)
}

func gatedTask(gate ...string) tasks.TaskDescriptor {
	descriptor := shellTask("gated")
	descriptor.Gate = gate
	return descriptor
}

func TestExecutorGatingCommand(testInstance *testing.T) {
	testCases := []struct {
		name           string
		gateResult     execshell.ExecutionResult
		gateFailure    error
		expectedStatus tasks.Status
		expectedReason tasks.SkipReason
		expectedKind   tasks.TaskExecutionErrorKind
		expectAction   bool
	}{
		{name: "proceeds_on_zero", expectedStatus: tasks.StatusPassed, expectAction: true},
		{name: "skips_on_204", gateResult: execshell.ExecutionResult{ExitCode: execshell.SkipExitCode}, expectedStatus: tasks.StatusSkipped, expectedReason: tasks.SkipReasonGating},
		{name: "fails_on_other_code", gateResult: execshell.ExecutionResult{ExitCode: 1}, expectedStatus: tasks.StatusFailed, expectedKind: tasks.GatingCommandFailedKind},
		{name: "fails_on_signal", gateResult: execshell.ExecutionResult{ExitCode: -1, Signal: "killed"}, expectedStatus: tasks.StatusFailed, expectedKind: tasks.GatingCommandFailedKind},
		{name: "fails_on_spawn_error", gateFailure: errors.New("no such file"), expectedStatus: tasks.StatusFailed, expectedKind: tasks.GatingCommandFailedKind},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			runner := &fakeCommandRunner{
				results:  map[string]execshell.ExecutionResult{"check --quiet": testCase.gateResult},
				failures: map[string]error{},
			}
			if testCase.gateFailure != nil {
				runner.failures["check --quiet"] = testCase.gateFailure
			}
			executor := newTaskExecutor(testInstance, runner, nil, tasks.ExecutorOptions{})

			result := executor.RunTask(context.Background(), gatedTask("check", "--quiet"))
			require.Equal(testInstance, testCase.expectedStatus, result.Status)
			require.Equal(testInstance, testCase.expectedReason, result.SkipReason)
			if len(testCase.expectedKind) > 0 {
				requireExecutionKind(testInstance, result.Error, testCase.expectedKind)
			} else {
				require.NoError(testInstance, result.Error)
			}

			expectedCommands := []string{"check --quiet"}
			if testCase.expectAction {
				expectedCommands = append(expectedCommands, "echo gated")
			}
			require.Equal(testInstance, expectedCommands, runner.keys())
			require.Equal(testInstance, tasks.StepGate, result.Steps[0].Name)
		})
	}
}

func TestExecutorShellActionExitCodes(testInstance *testing.T) {
	testCases := []struct {
		name           string
		result         execshell.ExecutionResult
		failure        error
		expectedStatus tasks.Status
		expectedKind   tasks.TaskExecutionErrorKind
	}{
		{name: "zero_passes", result: execshell.ExecutionResult{StandardOutput: "done"}, expectedStatus: tasks.StatusPassed},
		{name: "skip_code_skips", result: execshell.ExecutionResult{ExitCode: execshell.SkipExitCode}, expectedStatus: tasks.StatusSkipped},
		{name: "other_code_fails", result: execshell.ExecutionResult{ExitCode: 3, StandardError: "broken"}, expectedStatus: tasks.StatusFailed, expectedKind: tasks.CommandFailedKind},
		{name: "signal_fails", result: execshell.ExecutionResult{ExitCode: -1, Signal: "terminated"}, expectedStatus: tasks.StatusFailed, expectedKind: tasks.CommandTerminatedKind},
		{name: "spawn_failure_fails", failure: errors.New("exec format error"), expectedStatus: tasks.StatusFailed, expectedKind: tasks.CommandSpawnFailedKind},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			runner := &fakeCommandRunner{
				results:  map[string]execshell.ExecutionResult{"echo task": testCase.result},
				failures: map[string]error{},
			}
			if testCase.failure != nil {
				runner.failures["echo task"] = testCase.failure
			}
			executor := newTaskExecutor(testInstance, runner, nil, tasks.ExecutorOptions{})

			result := executor.RunTask(context.Background(), shellTask("task"))
			require.Equal(testInstance, testCase.expectedStatus, result.Status)
			if len(testCase.expectedKind) > 0 {
				requireExecutionKind(testInstance, result.Error, testCase.expectedKind)
			}
			if result.Status == tasks.StatusSkipped {
				require.Equal(testInstance, tasks.SkipReasonSelf, result.SkipReason)
			}
			require.Len(testInstance, result.Steps, 1)
			require.Equal(testInstance, tasks.StepAction, result.Steps[0].Name)
			require.False(testInstance, result.StartTime.IsZero())
		})
	}
}

func TestExecutorSubstitutesAndIsolatesEnvironment(testInstance *testing.T) {
	snapshot := map[string]string{"HOME": "/home/dev", "BREW_PREFIX": "/opt/homebrew"}
	runner := &fakeCommandRunner{}
	executor := newTaskExecutor(testInstance, runner, nil, tasks.ExecutorOptions{Environment: snapshot})

	descriptor := tasks.TaskDescriptor{
		Name:   "brew",
		Gate:   []string{"test", "-x", "${BREW_PREFIX}/bin/brew"},
		Action: tasks.ShellAction{Argv: []string{"~/bin/sync", "$HOME/.config"}},
	}
	result := executor.RunTask(context.Background(), descriptor)
	require.Equal(testInstance, tasks.StatusPassed, result.Status)

	commands := runner.recorded()
	require.Equal(testInstance, []string{"test -x /opt/homebrew/bin/brew", "/home/dev/bin/sync /home/dev/.config"}, runner.keys())
	for _, command := range commands {
		require.True(testInstance, command.Details.IsolatedEnvironment)
		require.Equal(testInstance, snapshot, command.Details.EnvironmentVariables)
		require.Nil(testInstance, command.Details.StandardInput)
	}
}

func TestExecutorFailsOnUnsetVariable(testInstance *testing.T) {
	runner := &fakeCommandRunner{}
	executor := newTaskExecutor(testInstance, runner, nil, tasks.ExecutorOptions{Environment: map[string]string{}})

	gated := gatedTask("test", "-d", "$MISSING_DIRECTORY")
	gateResult := executor.RunTask(context.Background(), gated)
	require.Equal(testInstance, tasks.StatusFailed, gateResult.Status)
	requireExecutionKind(testInstance, gateResult.Error, tasks.EnvironmentLookupFailedKind)

	action := tasks.TaskDescriptor{Name: "action", Action: tasks.ShellAction{Argv: []string{"echo", "$MISSING"}}}
	actionResult := executor.RunTask(context.Background(), action)
	require.Equal(testInstance, tasks.StatusFailed, actionResult.Status)
	requireExecutionKind(testInstance, actionResult.Error, tasks.EnvironmentLookupFailedKind)
	require.Empty(testInstance, runner.keys())
}

func TestExecutorLibraryDispatch(testInstance *testing.T) {
	schemaFailure := libraries.SchemaError{Library: "fake", Cause: errors.New("unknown field")}
	testCases := []struct {
		name           string
		library        *substituteLibrary
		libraryID      libraries.ID
		expectedStatus tasks.Status
		expectedKind   tasks.TaskExecutionErrorKind
	}{
		{name: "passed", library: &substituteLibrary{id: "fake", status: libraries.StatusPassed}, libraryID: "fake", expectedStatus: tasks.StatusPassed},
		{name: "skipped", library: &substituteLibrary{id: "fake", status: libraries.StatusSkipped}, libraryID: "fake", expectedStatus: tasks.StatusSkipped},
		{name: "schema_error", library: &substituteLibrary{id: "fake", failure: schemaFailure}, libraryID: "fake", expectedStatus: tasks.StatusFailed, expectedKind: tasks.LibrarySchemaErrorKind},
		{name: "library_error", library: &substituteLibrary{id: "fake", failure: errors.New("clone failed")}, libraryID: "fake", expectedStatus: tasks.StatusFailed, expectedKind: tasks.LibraryErrorKind},
		{name: "unimplemented", library: &substituteLibrary{id: "fake"}, libraryID: "nonexistent", expectedStatus: tasks.StatusFailed, expectedKind: tasks.UnimplementedLibraryKind},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			executor := newTaskExecutor(testInstance, &fakeCommandRunner{}, newRegistry(testInstance, testCase.library), tasks.ExecutorOptions{
				Environment:   map[string]string{"HOME": "/home/dev"},
				TempDirectory: "/tmp/up-run",
			})
			descriptor := tasks.TaskDescriptor{
				Name:   "library-task",
				Action: tasks.LibraryAction{Library: testCase.libraryID, Payload: map[string]any{"path": "$HOME/dotfiles", "count": 2}},
			}

			result := executor.RunTask(context.Background(), descriptor)
			require.Equal(testInstance, testCase.expectedStatus, result.Status)
			if len(testCase.expectedKind) > 0 {
				requireExecutionKind(testInstance, result.Error, testCase.expectedKind)
			} else {
				require.NoError(testInstance, result.Error)
			}
			if testCase.libraryID == "nonexistent" {
				require.Empty(testInstance, testCase.library.payloads)
				return
			}
			require.Equal(testInstance, []any{map[string]any{"path": "/home/dev/dotfiles", "count": 2}}, testCase.library.payloads)
			runContext := testCase.library.contexts[0]
			require.Equal(testInstance, "library-task", runContext.TaskName)
			require.Equal(testInstance, "/tmp/up-run", runContext.TempDirectory)
			require.Equal(testInstance, "/home/dev", runContext.Environment["HOME"])
			require.NotNil(testInstance, runContext.Commands)
			require.Nil(testInstance, runContext.Elevated)
		})
	}
}

func TestExecutorProvidesElevatedExecutorOnlyWhenRequested(testInstance *testing.T) {
	library := &substituteLibrary{id: "fake"}
	executor := newTaskExecutor(testInstance, &fakeCommandRunner{}, newRegistry(testInstance, library), tasks.ExecutorOptions{})

	descriptor := tasks.TaskDescriptor{Name: "privileged", NeedsSudo: true, Action: tasks.LibraryAction{Library: "fake"}}
	result := executor.RunTask(context.Background(), descriptor)
	require.Equal(testInstance, tasks.StatusPassed, result.Status)
	require.NotNil(testInstance, library.contexts[0].Elevated)
}

func TestExecutorConsoleModeStreamsOutput(testInstance *testing.T) {
	var standardOutput bytes.Buffer
	var standardError bytes.Buffer
	runner := &fakeCommandRunner{}
	executor := newTaskExecutor(testInstance, runner, nil, tasks.ExecutorOptions{Console: true, ConsoleOutput: &standardOutput, ConsoleError: &standardError})

	executor.RunTask(context.Background(), shellTask("interactive"))
	command := runner.recorded()[0]
	require.Same(testInstance, &standardOutput, command.Details.StandardOutput)
	require.Same(testInstance, &standardError, command.Details.StandardError)
}

func TestExecutorLogsCapturedOutput(testInstance *testing.T) {
	testCases := []struct {
		name          string
		result        execshell.ExecutionResult
		expectedLevel zapcore.Level
	}{
		{name: "success_at_debug", result: execshell.ExecutionResult{StandardOutput: "updated 3 formulae"}, expectedLevel: zap.DebugLevel},
		{name: "failure_at_error", result: execshell.ExecutionResult{ExitCode: 2, StandardError: "permission denied"}, expectedLevel: zap.ErrorLevel},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			observerCore, observedLogs := observer.New(zap.DebugLevel)
			runner := &fakeCommandRunner{results: map[string]execshell.ExecutionResult{"echo logged": testCase.result}}
			executor := newTaskExecutor(testInstance, runner, nil, tasks.ExecutorOptions{Logger: zap.New(observerCore)})

			executor.RunTask(context.Background(), shellTask("logged"))
			outputLogs := observedLogs.FilterMessage("task output").All()
			require.Len(testInstance, outputLogs, 1)
			require.Equal(testInstance, testCase.expectedLevel, outputLogs[0].Level)
			require.Equal(testInstance, "logged", outputLogs[0].ContextMap()["task"])
		})
	}
}

func TestNewExecutorValidatesCollaborators(testInstance *testing.T) {
	_, commandsError := tasks.NewExecutor(nil, newRegistry(testInstance), tasks.ExecutorOptions{})
	require.ErrorIs(testInstance, commandsError, tasks.ErrCommandExecutorMissing)

	_, registryError := tasks.NewExecutor(newShellExecutor(testInstance, &fakeCommandRunner{}), nil, tasks.ExecutorOptions{})
	require.ErrorIs(testInstance, registryError, tasks.ErrRegistryMissing)
}
