package tasks_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tyemirov/up/internal/execshell"
	"github.com/tyemirov/up/internal/libraries"
	"github.com/tyemirov/up/internal/tasks"
)

// fakeCommandRunner answers commands by their joined argv and records every invocation.
type fakeCommandRunner struct {
	mutex    sync.Mutex
	results  map[string]execshell.ExecutionResult
	failures map[string]error
	commands []execshell.ShellCommand
}

func commandKey(command execshell.ShellCommand) string {
	return strings.Join(append([]string{string(command.Name)}, command.Details.Arguments...), " ")
}

func (runner *fakeCommandRunner) Run(_ context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error) {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()
	runner.commands = append(runner.commands, command)
	key := commandKey(command)
	if failure, found := runner.failures[key]; found {
		return execshell.ExecutionResult{}, failure
	}
	return runner.results[key], nil
}

func (runner *fakeCommandRunner) keys() []string {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()
	keys := make([]string, 0, len(runner.commands))
	for _, command := range runner.commands {
		keys = append(keys, commandKey(command))
	}
	return keys
}

func (runner *fakeCommandRunner) recorded() []execshell.ShellCommand {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()
	return append([]execshell.ShellCommand{}, runner.commands...)
}

func newShellExecutor(testInstance *testing.T, runner execshell.CommandRunner) *execshell.ShellExecutor {
	testInstance.Helper()
	shellExecutor, executorError := execshell.NewShellExecutor(zap.NewNop(), runner, false)
	require.NoError(testInstance, executorError)
	return shellExecutor
}

// substituteLibrary returns a fixed status or error and records what it was given.
type substituteLibrary struct {
	id       libraries.ID
	status   libraries.Status
	failure  error
	mutex    sync.Mutex
	payloads []any
	contexts []libraries.RunContext
}

func (library *substituteLibrary) ID() libraries.ID {
	return library.id
}

func (library *substituteLibrary) Run(_ context.Context, runContext libraries.RunContext, payload any) (libraries.Status, error) {
	library.mutex.Lock()
	defer library.mutex.Unlock()
	library.payloads = append(library.payloads, payload)
	library.contexts = append(library.contexts, runContext)
	if library.failure != nil {
		return "", library.failure
	}
	if len(library.status) == 0 {
		return libraries.StatusPassed, nil
	}
	return library.status, nil
}

func newRegistry(testInstance *testing.T, libraryList ...libraries.Library) *libraries.Registry {
	testInstance.Helper()
	registry, registryError := libraries.NewRegistry(libraryList...)
	require.NoError(testInstance, registryError)
	return registry
}

func writeTaskFiles(testInstance *testing.T, files map[string]string) string {
	testInstance.Helper()
	directory := testInstance.TempDir()
	for name, contents := range files {
		require.NoError(testInstance, os.WriteFile(filepath.Join(directory, name), []byte(contents), 0o644))
	}
	return directory
}

func shellTask(name string, requires ...string) tasks.TaskDescriptor {
	return tasks.TaskDescriptor{
		Name:     name,
		Action:   tasks.ShellAction{Argv: []string{"echo", name}},
		Requires: requires,
		AutoRun:  true,
	}
}

func indexOf(values []string, target string) int {
	for index, value := range values {
		if value == target {
			return index
		}
	}
	return -1
}
