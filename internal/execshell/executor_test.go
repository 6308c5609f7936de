package execshell_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tyemirov/up/internal/execshell"
)

const (
	testExecutionSuccessCaseNameConstant     = "success"
	testExecutionFailureCaseNameConstant     = "failure_exit_code"
	testExecutionSkipCaseNameConstant        = "skip_exit_code"
	testExecutionSignalCaseNameConstant      = "terminated_by_signal"
	testExecutionRunnerErrorCaseNameConstant = "runner_error"
	testCommandArgumentConstant              = "--version"
	testWorkingDirectoryConstant             = "."
	testStandardErrorOutputConstant          = "failure"
	testRunnerFailureMessageConstant         = "runner failure"
	testLoggerInitializationCaseNameConstant = "logger_validation"
	testRunnerInitializationCaseNameConstant = "runner_validation"
	testSuccessfulInitializationCaseConstant = "successful_initialization"
	testGitRunnerErrorMessageConstant        = "git --version (in .) failed: runner failure"
)

type recordingCommandRunner struct {
	executionResult  execshell.ExecutionResult
	executionError   error
	recordedCommands []execshell.ShellCommand
}

func (runner *recordingCommandRunner) Run(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error) {
	runner.recordedCommands = append(runner.recordedCommands, command)
	return runner.executionResult, runner.executionError
}

func TestShellExecutorInitializationValidation(testInstance *testing.T) {
	testCases := []struct {
		name          string
		logger        *zap.Logger
		runner        execshell.CommandRunner
		expectError   error
		expectSuccess bool
	}{
		{
			name:        testLoggerInitializationCaseNameConstant,
			logger:      nil,
			runner:      &recordingCommandRunner{},
			expectError: execshell.ErrLoggerNotConfigured,
		},
		{
			name:        testRunnerInitializationCaseNameConstant,
			logger:      zap.NewNop(),
			runner:      nil,
			expectError: execshell.ErrCommandRunnerNotConfigured,
		},
		{
			name:          testSuccessfulInitializationCaseConstant,
			logger:        zap.NewNop(),
			runner:        &recordingCommandRunner{},
			expectSuccess: true,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			shellExecutor, creationError := execshell.NewShellExecutor(testCase.logger, testCase.runner, false)
			if testCase.expectSuccess {
				require.NoError(testInstance, creationError)
				require.NotNil(testInstance, shellExecutor)
				return
			}
			require.ErrorIs(testInstance, creationError, testCase.expectError)
			require.Nil(testInstance, shellExecutor)
		})
	}
}

func TestShellExecutorExecuteBehavior(testInstance *testing.T) {
	testCases := []struct {
		name            string
		runnerResult    execshell.ExecutionResult
		runnerError     error
		expectErrorType any
		expectedLevels  []zapcore.Level
	}{
		{
			name:           testExecutionSuccessCaseNameConstant,
			runnerResult:   execshell.ExecutionResult{StandardOutput: "ok", ExitCode: 0},
			expectedLevels: []zapcore.Level{zap.InfoLevel, zap.InfoLevel},
		},
		{
			name:            testExecutionFailureCaseNameConstant,
			runnerResult:    execshell.ExecutionResult{StandardError: testStandardErrorOutputConstant, ExitCode: 1},
			expectErrorType: execshell.CommandFailedError{},
			expectedLevels:  []zapcore.Level{zap.InfoLevel, zap.WarnLevel},
		},
		{
			name:            testExecutionSkipCaseNameConstant,
			runnerResult:    execshell.ExecutionResult{StandardOutput: "nothing to do", ExitCode: execshell.SkipExitCode},
			expectErrorType: execshell.CommandSkippedError{},
			expectedLevels:  []zapcore.Level{zap.InfoLevel, zap.InfoLevel},
		},
		{
			name:            testExecutionSignalCaseNameConstant,
			runnerResult:    execshell.ExecutionResult{ExitCode: -1, Signal: "killed"},
			expectErrorType: execshell.CommandFailedError{},
			expectedLevels:  []zapcore.Level{zap.InfoLevel, zap.WarnLevel},
		},
		{
			name:            testExecutionRunnerErrorCaseNameConstant,
			runnerError:     errors.New(testRunnerFailureMessageConstant),
			expectErrorType: execshell.CommandExecutionError{},
			expectedLevels:  []zapcore.Level{zap.InfoLevel, zap.ErrorLevel},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			observerCore, observerLogs := observer.New(zap.DebugLevel)
			logger := zap.New(observerCore)

			recordingRunner := &recordingCommandRunner{
				executionResult: testCase.runnerResult,
				executionError:  testCase.runnerError,
			}

			shellExecutor, creationError := execshell.NewShellExecutor(logger, recordingRunner, false)
			require.NoError(testInstance, creationError)

			commandDetails := execshell.CommandDetails{Arguments: []string{testCommandArgumentConstant}, WorkingDirectory: testWorkingDirectoryConstant}
			executionResult, executionError := shellExecutor.ExecuteGit(context.Background(), commandDetails)

			if testCase.expectErrorType != nil {
				require.Error(testInstance, executionError)
				require.IsType(testInstance, testCase.expectErrorType, executionError)
			} else {
				require.NoError(testInstance, executionError)
				require.Equal(testInstance, testCase.runnerResult.StandardOutput, executionResult.StandardOutput)
			}

			capturedLogs := observerLogs.All()
			require.Len(testInstance, capturedLogs, len(testCase.expectedLevels))
			for logIndex := range capturedLogs {
				require.Equal(testInstance, testCase.expectedLevels[logIndex], capturedLogs[logIndex].Level)
			}
		})
	}
}

func TestShellExecutorHumanReadableLogging(testInstance *testing.T) {
	testCases := []struct {
		name             string
		runnerResult     execshell.ExecutionResult
		runnerError      error
		expectedMessages []string
		expectedLevels   []zapcore.Level
	}{
		{
			name:         testExecutionSuccessCaseNameConstant,
			runnerResult: execshell.ExecutionResult{StandardOutput: "ok", ExitCode: 0},
			expectedMessages: []string{
				"Running git --version (in .)",
				"Completed git --version (in .)",
			},
			expectedLevels: []zapcore.Level{zap.InfoLevel, zap.InfoLevel},
		},
		{
			name:         testExecutionFailureCaseNameConstant,
			runnerResult: execshell.ExecutionResult{StandardError: testStandardErrorOutputConstant, ExitCode: 1},
			expectedMessages: []string{
				"Running git --version (in .)",
				"git --version (in .) failed with exit code 1: failure",
			},
			expectedLevels: []zapcore.Level{zap.InfoLevel, zap.WarnLevel},
		},
		{
			name:         testExecutionSkipCaseNameConstant,
			runnerResult: execshell.ExecutionResult{ExitCode: execshell.SkipExitCode},
			expectedMessages: []string{
				"Running git --version (in .)",
				"git --version (in .) reported nothing to do",
			},
			expectedLevels: []zapcore.Level{zap.InfoLevel, zap.InfoLevel},
		},
		{
			name:        testExecutionRunnerErrorCaseNameConstant,
			runnerError: errors.New(testRunnerFailureMessageConstant),
			expectedMessages: []string{
				"Running git --version (in .)",
				testGitRunnerErrorMessageConstant,
			},
			expectedLevels: []zapcore.Level{zap.InfoLevel, zap.ErrorLevel},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			observerCore, observedLogs := observer.New(zap.InfoLevel)
			logger := zap.New(observerCore)

			recordingRunner := &recordingCommandRunner{
				executionResult: testCase.runnerResult,
				executionError:  testCase.runnerError,
			}

			shellExecutor, creationError := execshell.NewShellExecutor(logger, recordingRunner, true)
			require.NoError(testInstance, creationError)

			commandDetails := execshell.CommandDetails{Arguments: []string{testCommandArgumentConstant}, WorkingDirectory: testWorkingDirectoryConstant}
			_, _ = shellExecutor.ExecuteGit(context.Background(), commandDetails)

			capturedLogs := observedLogs.All()
			require.Len(testInstance, capturedLogs, len(testCase.expectedMessages))
			for logIndex := range capturedLogs {
				require.Equal(testInstance, testCase.expectedMessages[logIndex], capturedLogs[logIndex].Message)
				require.Equal(testInstance, testCase.expectedLevels[logIndex], capturedLogs[logIndex].Level)
			}
		})
	}
}

func TestCommandFailedErrorSummarizesOutput(testInstance *testing.T) {
	failure := execshell.CommandFailedError{
		Command: execshell.ShellCommand{Name: "brew", Details: execshell.CommandDetails{Arguments: []string{"upgrade"}}},
		Result:  execshell.ExecutionResult{ExitCode: 2, StandardError: "line one\n\nline two\nline three\nline four"},
	}
	require.Equal(testInstance, "brew command exited with code 2 (upgrade): line one | line two", failure.Error())

	terminated := execshell.CommandFailedError{
		Command: execshell.ShellCommand{Name: "sleep"},
		Result:  execshell.ExecutionResult{ExitCode: -1, Signal: "killed"},
	}
	require.Equal(testInstance, "sleep command terminated by signal killed", terminated.Error())
}

func TestShellExecutorWrappersSetCommandNames(testInstance *testing.T) {
	recordingRunner := &recordingCommandRunner{}
	shellExecutor, creationError := execshell.NewShellExecutor(zap.NewNop(), recordingRunner, false)
	require.NoError(testInstance, creationError)

	_, gitError := shellExecutor.ExecuteGit(context.Background(), execshell.CommandDetails{Arguments: []string{"status"}})
	require.NoError(testInstance, gitError)
	_, sudoError := shellExecutor.ExecuteElevated(context.Background(), []string{"defaults", "write"}, execshell.CommandDetails{})
	require.NoError(testInstance, sudoError)

	require.Len(testInstance, recordingRunner.recordedCommands, 2)
	require.Equal(testInstance, execshell.CommandGit, recordingRunner.recordedCommands[0].Name)
	require.Equal(testInstance, execshell.CommandSudo, recordingRunner.recordedCommands[1].Name)
	require.Equal(testInstance, []string{"defaults", "write"}, recordingRunner.recordedCommands[1].Details.Arguments)
}

func TestNewShellCommandFromArgv(testInstance *testing.T) {
	command, commandError := execshell.NewShellCommandFromArgv([]string{"echo", "hello", "world"}, execshell.CommandDetails{WorkingDirectory: "/tmp"})
	require.NoError(testInstance, commandError)
	require.Equal(testInstance, execshell.CommandName("echo"), command.Name)
	require.Equal(testInstance, []string{"hello", "world"}, command.Details.Arguments)
	require.Equal(testInstance, "/tmp", command.Details.WorkingDirectory)

	_, emptyError := execshell.NewShellCommandFromArgv(nil, execshell.CommandDetails{})
	require.ErrorIs(testInstance, emptyError, execshell.ErrCommandNameMissing)
}
