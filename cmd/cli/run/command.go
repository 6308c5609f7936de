package run

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/viant/afs"
	"go.uber.org/zap"

	"github.com/tyemirov/up/internal/execshell"
	"github.com/tyemirov/up/internal/tasks"
	"github.com/tyemirov/up/internal/tracing"
	"github.com/tyemirov/up/internal/utils"
	flagutils "github.com/tyemirov/up/internal/utils/flags"
	"github.com/tyemirov/up/internal/version"
	"github.com/tyemirov/up/pkg/taskrunner"
)

const (
	runCommandUseConstant                = "run"
	runCommandShortDescriptionConstant   = "Run the selected tasks"
	runCommandLongDescriptionConstant    = "run loads every task file in the tasks directory, filters them by name, auto_run and constraints, orders them by requires, runs the optional bootstrap phase serially and then everything else on a bounded worker pool."
	runCommandExampleConstant            = "up run --bootstrap\n  up run -t brew,dotfiles --console\n  up run --exclude-tasks defaults --workers 4"
	listCommandUseConstant               = "list"
	listCommandShortDescriptionConstant  = "List the tasks a run would consider"
	listCommandLongDescriptionConstant   = "list applies the same selection as run and prints the eligible task names, one per line, without executing anything."
	configurationProviderMissingConstant = "run configuration provider not configured"
	tempDirectoryPermissionConstant      = 0o755
	tempDirectoryErrorTemplateConstant   = "unable to create temporary directory %s: %w"
	runFailedTemplateConstant            = "%w: %d task(s) failed"
	runAbortedTemplateConstant           = "%w: run aborted"
)

var (
	// ErrRunFailed reports a run that completed with at least one failed task.
	ErrRunFailed = errors.New("run failed")

	errConfigurationProviderMissing = errors.New(configurationProviderMissingConstant)
)

// LoggerProvider yields a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// ConfigurationProvider resolves the config document, environment snapshot and task directory.
type ConfigurationProvider func(context.Context) (CommandConfiguration, error)

// CommandBuilder assembles the run and list commands.
type CommandBuilder struct {
	LoggerProvider               LoggerProvider
	HumanReadableLoggingProvider func() bool
	ConfigurationProvider        ConfigurationProvider
	TracerProvider               func() *tracing.Provider
	ReleaseProvider              func(context.Context) version.Release
	CommandRunner                execshell.CommandRunner
	FileSystem                   afs.Service
	ExecutorFactory              taskrunner.Factory
}

// Build constructs the run command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:     runCommandUseConstant,
		Short:   runCommandShortDescriptionConstant,
		Long:    runCommandLongDescriptionConstant,
		Example: runCommandExampleConstant,
		Args:    cobra.NoArgs,
		RunE:    builder.Run,
	}
	flagutils.BindExecutionFlags(command, flagutils.DefaultExecutionFlagDefinitions())
	return command, nil
}

// BuildList constructs the list command.
func (builder *CommandBuilder) BuildList() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   listCommandUseConstant,
		Short: listCommandShortDescriptionConstant,
		Long:  listCommandLongDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.List,
	}
	flagutils.BindExecutionFlags(command, flagutils.DefaultExecutionFlagDefinitions())
	return command, nil
}

// Run executes the selected tasks. It is exported so the root command can run it by default.
func (builder *CommandBuilder) Run(command *cobra.Command, arguments []string) error {
	configuration, configurationError := builder.resolveConfiguration(command.Context())
	if configurationError != nil {
		return configurationError
	}
	if len(configuration.TempDirectory) > 0 {
		if directoryError := os.MkdirAll(configuration.TempDirectory, tempDirectoryPermissionConstant); directoryError != nil {
			return fmt.Errorf(tempDirectoryErrorTemplateConstant, configuration.TempDirectory, directoryError)
		}
	}

	executor, executorError := builder.resolveExecutor(command)
	if executorError != nil {
		return executorError
	}

	outcome, runError := executor.Run(command.Context(), configuration.TasksDirectory, builder.buildRequest(command, configuration))
	if runError != nil {
		return runError
	}
	if outcome.Aborted {
		return fmt.Errorf(runAbortedTemplateConstant, ErrRunFailed)
	}
	if outcome.Failed {
		return fmt.Errorf(runFailedTemplateConstant, ErrRunFailed, outcome.Counts().Failed)
	}
	return nil
}

// List prints the eligible task names without executing anything.
func (builder *CommandBuilder) List(command *cobra.Command, arguments []string) error {
	configuration, configurationError := builder.resolveConfiguration(command.Context())
	if configurationError != nil {
		return configurationError
	}

	executor, executorError := builder.resolveExecutor(command)
	if executorError != nil {
		return executorError
	}

	eligible, eligibleError := executor.Eligible(command.Context(), configuration.TasksDirectory, builder.buildRequest(command, configuration))
	if eligibleError != nil {
		return eligibleError
	}
	for _, descriptor := range eligible {
		fmt.Fprintln(command.OutOrStdout(), descriptor.Name)
	}
	return nil
}

func (builder *CommandBuilder) resolveConfiguration(executionContext context.Context) (CommandConfiguration, error) {
	if builder.ConfigurationProvider == nil {
		return CommandConfiguration{}, errConfigurationProviderMissing
	}
	configuration, configurationError := builder.ConfigurationProvider(executionContext)
	if configurationError != nil {
		return CommandConfiguration{}, configurationError
	}
	return configuration.Sanitize(), nil
}

func (builder *CommandBuilder) resolveExecutor(command *cobra.Command) (taskrunner.Executor, error) {
	var tracer *tracing.Provider
	if builder.TracerProvider != nil {
		tracer = builder.TracerProvider()
	}
	var release version.Release
	if builder.ReleaseProvider != nil {
		release = builder.ReleaseProvider(command.Context())
	}

	dependencyResult, dependencyError := taskrunner.BuildDependencies(
		taskrunner.DependenciesConfig{
			LoggerProvider:               builder.LoggerProvider,
			HumanReadableLoggingProvider: builder.HumanReadableLoggingProvider,
			CommandRunner:                builder.CommandRunner,
			FileSystem:                   builder.FileSystem,
			Tracer:                       tracer,
			Release:                      release,
		},
		taskrunner.DependenciesOptions{
			Command: command,
			Output:  utils.NewConsoleWriter(command.OutOrStdout()),
			Errors:  utils.NewConsoleWriter(command.ErrOrStderr()),
		},
	)
	if dependencyError != nil {
		return nil, dependencyError
	}
	return taskrunner.Resolve(builder.ExecutorFactory, dependencyResult.Runner, command.ErrOrStderr())
}

func (builder *CommandBuilder) buildRequest(command *cobra.Command, configuration CommandConfiguration) tasks.RunRequest {
	executionFlags := flagutils.ResolveExecutionFlags(command)

	request := tasks.RunRequest{
		Selection:      tasks.Selection{Include: executionFlags.Tasks, Exclude: executionFlags.ExcludeTasks},
		Bootstrap:      executionFlags.Bootstrap,
		KeepGoing:      executionFlags.KeepGoing,
		Environment:    configuration.Environment,
		Workers:        executionFlags.Workers,
		BootstrapTasks: configuration.BootstrapTasks,
		TempDirectory:  configuration.TempDirectory,
	}
	if !executionFlags.WorkersSet && configuration.Workers > 0 {
		request.Workers = configuration.Workers
	}
	if executionFlags.ConsoleSet {
		console := executionFlags.Console
		request.Console = &console
	}
	if runContext, available := utils.NewCommandContextAccessor().RunContext(command.Context()); available {
		request.RunID = runContext.RunID
	}
	return request
}
