package run

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/tyemirov/up/internal/execshell"
	"github.com/tyemirov/up/internal/tasks"
	"github.com/tyemirov/up/pkg/taskrunner"
)

type recordingCommandRunner struct {
	mutex    sync.Mutex
	exitCode map[string]int
	commands []string
}

func (runner *recordingCommandRunner) Run(_ context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error) {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()
	key := strings.Join(append([]string{string(command.Name)}, command.Details.Arguments...), " ")
	runner.commands = append(runner.commands, key)
	return execshell.ExecutionResult{ExitCode: runner.exitCode[key]}, nil
}

func (runner *recordingCommandRunner) recorded() []string {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()
	return append([]string{}, runner.commands...)
}

type capturingExecutor struct {
	requests []tasks.RunRequest
}

func (executor *capturingExecutor) Eligible(_ context.Context, _ string, request tasks.RunRequest) ([]tasks.TaskDescriptor, error) {
	executor.requests = append(executor.requests, request)
	return nil, nil
}

func (executor *capturingExecutor) Run(_ context.Context, _ string, request tasks.RunRequest) (tasks.RunOutcome, error) {
	executor.requests = append(executor.requests, request)
	return tasks.RunOutcome{Results: map[string]tasks.TaskResult{}}, nil
}

func writeTasks(testInstance *testing.T, files map[string]string) string {
	testInstance.Helper()
	directory := testInstance.TempDir()
	for name, contents := range files {
		require.NoError(testInstance, os.WriteFile(filepath.Join(directory, name), []byte(contents), 0o644))
	}
	return directory
}

func executeCommand(testInstance *testing.T, command *cobra.Command, arguments ...string) (string, string, error) {
	testInstance.Helper()
	var standardOutput bytes.Buffer
	var standardError bytes.Buffer
	command.SetOut(&standardOutput)
	command.SetErr(&standardError)
	command.SetArgs(arguments)
	command.SetContext(context.Background())
	executionError := command.Execute()
	return standardOutput.String(), standardError.String(), executionError
}

func staticConfiguration(configuration CommandConfiguration) ConfigurationProvider {
	return func(context.Context) (CommandConfiguration, error) {
		return configuration, nil
	}
}

func TestRunCommandExecutesTasksInDependencyOrder(testInstance *testing.T) {
	directory := writeTasks(testInstance, map[string]string{
		"brew.yaml":     "run_cmd: [echo, brew]\n",
		"dotfiles.yaml": "run_cmd: [echo, dotfiles]\nrequires: [brew]\n",
	})
	runner := &recordingCommandRunner{}
	builder := CommandBuilder{
		ConfigurationProvider: staticConfiguration(CommandConfiguration{TasksDirectory: directory, TempDirectory: testInstance.TempDir()}),
		CommandRunner:         runner,
	}
	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	_, standardError, executionError := executeCommand(testInstance, command)
	require.NoError(testInstance, executionError)
	require.Equal(testInstance, []string{"echo brew", "echo dotfiles"}, runner.recorded())
	require.Contains(testInstance, standardError, "run succeeded: passed=2 skipped=0 failed=0")
}

func TestRunCommandConsoleTasksInheritOutputDescriptor(testInstance *testing.T) {
	if _, statError := os.Stat("/proc/self/fd/1"); statError != nil {
		testInstance.Skip("requires /proc")
	}
	directory := writeTasks(testInstance, map[string]string{
		"descriptor.yaml": "run_cmd: [sh, -c, 'readlink /proc/self/fd/1']\n",
	})
	outputFile, createError := os.Create(filepath.Join(testInstance.TempDir(), "console.out"))
	require.NoError(testInstance, createError)
	defer outputFile.Close()

	builder := CommandBuilder{
		ConfigurationProvider: staticConfiguration(CommandConfiguration{
			TasksDirectory: directory,
			Environment:    map[string]string{"PATH": os.Getenv("PATH")},
			TempDirectory:  testInstance.TempDir(),
		}),
	}
	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	var standardError bytes.Buffer
	command.SetOut(outputFile)
	command.SetErr(&standardError)
	command.SetArgs([]string{"--console", "--workers", "1"})
	command.SetContext(context.Background())
	require.NoError(testInstance, command.Execute(), standardError.String())

	written, readError := os.ReadFile(outputFile.Name())
	require.NoError(testInstance, readError)
	require.Contains(testInstance, string(written), outputFile.Name())
	require.NotContains(testInstance, string(written), "pipe:")
}

func TestRunCommandReportsFailedRun(testInstance *testing.T) {
	directory := writeTasks(testInstance, map[string]string{
		"brew.yaml":     "run_cmd: [echo, brew]\n",
		"dotfiles.yaml": "run_cmd: [echo, dotfiles]\nrequires: [brew]\n",
	})
	runner := &recordingCommandRunner{exitCode: map[string]int{"echo brew": 1}}
	builder := CommandBuilder{
		ConfigurationProvider: staticConfiguration(CommandConfiguration{TasksDirectory: directory}),
		CommandRunner:         runner,
	}
	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	_, standardError, executionError := executeCommand(testInstance, command)
	require.ErrorIs(testInstance, executionError, ErrRunFailed)
	require.Equal(testInstance, []string{"echo brew"}, runner.recorded())
	require.Contains(testInstance, standardError, "blocked by brew")
}

func TestRunCommandRejectsCyclesBeforeExecution(testInstance *testing.T) {
	directory := writeTasks(testInstance, map[string]string{
		"a.yaml": "run_cmd: [echo, a]\nrequires: [b]\n",
		"b.yaml": "run_cmd: [echo, b]\nrequires: [a]\n",
	})
	runner := &recordingCommandRunner{}
	builder := CommandBuilder{
		ConfigurationProvider: staticConfiguration(CommandConfiguration{TasksDirectory: directory}),
		CommandRunner:         runner,
	}
	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	_, _, executionError := executeCommand(testInstance, command)
	require.True(testInstance, tasks.IsConfigurationError(executionError))
	require.Empty(testInstance, runner.recorded())
}

func TestListCommandPrintsEligibleTasks(testInstance *testing.T) {
	directory := writeTasks(testInstance, map[string]string{
		"brew.yaml":    "run_cmd: [echo, brew]\n",
		"manual.yaml":  "run_cmd: [echo, manual]\nauto_run: false\n",
		"linux.yaml":   "run_cmd: [echo, linux]\nconstraints: {OS: linux}\n",
		"macos.yaml":   "run_cmd: [echo, macos]\nconstraints: {OS: darwin}\n",
		"zsh.yaml":     "run_cmd: [echo, zsh]\n",
		"ignored.txt":  "not a task",
		"skipped.yaml": "run_cmd: [echo, skipped]\n",
	})
	testCases := []struct {
		name      string
		arguments []string
		expected  []string
	}{
		{name: "defaults", expected: []string{"brew", "macos", "skipped", "zsh"}},
		{name: "allow_list", arguments: []string{"-t", "manual,zsh"}, expected: []string{"manual", "zsh"}},
		{name: "exclude_list", arguments: []string{"--exclude-tasks", "skipped", "--exclude-tasks", "brew"}, expected: []string{"macos", "zsh"}},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			runner := &recordingCommandRunner{}
			builder := CommandBuilder{
				ConfigurationProvider: staticConfiguration(CommandConfiguration{TasksDirectory: directory, Environment: map[string]string{"OS": "darwin"}}),
				CommandRunner:         runner,
			}
			command, buildError := builder.BuildList()
			require.NoError(testInstance, buildError)

			standardOutput, _, executionError := executeCommand(testInstance, command, testCase.arguments...)
			require.NoError(testInstance, executionError)
			require.Equal(testInstance, strings.Join(testCase.expected, "\n")+"\n", standardOutput)
			require.Empty(testInstance, runner.recorded())
		})
	}
}

func TestRunCommandBuildsRequestFromFlagsAndConfiguration(testInstance *testing.T) {
	console := true
	noConsole := false
	testCases := []struct {
		name            string
		arguments       []string
		configuration   CommandConfiguration
		expectedWorkers int
		expectedConsole *bool
		expectBootstrap bool
		expectKeepGoing bool
	}{
		{
			name:            "configured_workers",
			configuration:   CommandConfiguration{Workers: 3},
			expectedWorkers: 3,
		},
		{
			name:            "workers_flag_wins",
			arguments:       []string{"--workers", "2"},
			configuration:   CommandConfiguration{Workers: 3},
			expectedWorkers: 2,
		},
		{
			name:            "console_enabled",
			arguments:       []string{"--workers", "1", "--console"},
			expectedWorkers: 1,
			expectedConsole: &console,
		},
		{
			name:            "console_disabled",
			arguments:       []string{"--workers", "1", "--console=false"},
			expectedWorkers: 1,
			expectedConsole: &noConsole,
		},
		{
			name:            "bootstrap_keep_going",
			arguments:       []string{"--workers", "1", "-b", "-k"},
			configuration:   CommandConfiguration{BootstrapTasks: []string{" brew ", ""}},
			expectedWorkers: 1,
			expectBootstrap: true,
			expectKeepGoing: true,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			executor := &capturingExecutor{}
			builder := CommandBuilder{
				ConfigurationProvider: staticConfiguration(testCase.configuration),
				CommandRunner:         &recordingCommandRunner{},
				ExecutorFactory: func(tasks.RunnerDependencies) taskrunner.Executor {
					return executor
				},
			}
			command, buildError := builder.Build()
			require.NoError(testInstance, buildError)

			_, _, executionError := executeCommand(testInstance, command, testCase.arguments...)
			require.NoError(testInstance, executionError)
			require.Len(testInstance, executor.requests, 1)

			request := executor.requests[0]
			require.Equal(testInstance, testCase.expectedWorkers, request.Workers)
			require.Equal(testInstance, testCase.expectedConsole, request.Console)
			require.Equal(testInstance, testCase.expectBootstrap, request.Bootstrap)
			require.Equal(testInstance, testCase.expectKeepGoing, request.KeepGoing)
			if testCase.expectBootstrap {
				require.Equal(testInstance, []string{"brew"}, request.BootstrapTasks)
			}
		})
	}
}

func TestRunCommandPropagatesConfigurationErrors(testInstance *testing.T) {
	configurationFailure := errors.New("env HOME_DIR: unset variable")
	testCases := []struct {
		name     string
		provider ConfigurationProvider
		expected error
	}{
		{
			name:     "provider_missing",
			expected: errConfigurationProviderMissing,
		},
		{
			name: "provider_error",
			provider: func(context.Context) (CommandConfiguration, error) {
				return CommandConfiguration{}, configurationFailure
			},
			expected: configurationFailure,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			builder := CommandBuilder{ConfigurationProvider: testCase.provider, CommandRunner: &recordingCommandRunner{}}
			command, buildError := builder.Build()
			require.NoError(testInstance, buildError)

			_, _, executionError := executeCommand(testInstance, command)
			require.ErrorIs(testInstance, executionError, testCase.expected)
		})
	}
}

func TestCommandConfigurationSanitize(testInstance *testing.T) {
	sanitized := CommandConfiguration{
		TasksDirectory: " /tmp/up/../up/tasks/ ",
		TempDirectory:  " /tmp/up ",
		BootstrapTasks: []string{"", " brew", "zsh "},
		Workers:        -1,
	}.Sanitize()

	require.Equal(testInstance, "/tmp/up/tasks", sanitized.TasksDirectory)
	require.Equal(testInstance, "/tmp/up", sanitized.TempDirectory)
	require.Equal(testInstance, []string{"brew", "zsh"}, sanitized.BootstrapTasks)
	require.Zero(testInstance, sanitized.Workers)
}
