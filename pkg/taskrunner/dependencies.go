package taskrunner

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/viant/afs"
	"go.uber.org/zap"

	"github.com/tyemirov/up/internal/execshell"
	"github.com/tyemirov/up/internal/libraries"
	"github.com/tyemirov/up/internal/libraries/defaults"
	"github.com/tyemirov/up/internal/libraries/generategit"
	"github.com/tyemirov/up/internal/libraries/gitsync"
	"github.com/tyemirov/up/internal/libraries/link"
	"github.com/tyemirov/up/internal/libraries/selfupdate"
	"github.com/tyemirov/up/internal/tasks"
	"github.com/tyemirov/up/internal/tracing"
	pathutils "github.com/tyemirov/up/internal/utils/path"
	"github.com/tyemirov/up/internal/version"
)

// DependenciesConfig captures providers required to build task runner dependencies.
type DependenciesConfig struct {
	LoggerProvider               func() *zap.Logger
	HumanReadableLoggingProvider func() bool
	CommandRunner                execshell.CommandRunner
	FileSystem                   afs.Service
	Tracer                       *tracing.Provider
	HomeDirectory                pathutils.HomeDirectoryResolver
	// Release is the running build, consulted by the self library.
	Release version.Release
	// Libraries replaces the built-in library set when non-empty.
	Libraries []libraries.Library
}

// DependenciesOptions allows per-command overrides when resolving runner dependencies.
type DependenciesOptions struct {
	Command *cobra.Command
	Output  io.Writer
	Errors  io.Writer
}

// DependenciesResult exposes resolved collaborators along with the runner wiring.
type DependenciesResult struct {
	Runner   tasks.RunnerDependencies
	Executor *execshell.ShellExecutor
	Registry *libraries.Registry
}

// BuildDependencies resolves the shell executor, library registry, task loader and console writers.
func BuildDependencies(config DependenciesConfig, options DependenciesOptions) (DependenciesResult, error) {
	logger := resolveLogger(config.LoggerProvider)
	humanReadable := false
	if config.HumanReadableLoggingProvider != nil {
		humanReadable = config.HumanReadableLoggingProvider()
	}

	commandRunner := config.CommandRunner
	if commandRunner == nil {
		commandRunner = execshell.NewOSCommandRunner()
	}
	shellExecutor, executorError := execshell.NewShellExecutor(logger, commandRunner, humanReadable)
	if executorError != nil {
		return DependenciesResult{}, fmt.Errorf("taskrunner.dependencies.shell_executor: %w", executorError)
	}

	fileSystem := config.FileSystem
	if fileSystem == nil {
		fileSystem = afs.New()
	}

	libraryList := config.Libraries
	if len(libraryList) == 0 {
		libraryList = defaultLibraries(fileSystem, config.Release)
	}
	registry, registryError := libraries.NewRegistry(libraryList...)
	if registryError != nil {
		return DependenciesResult{}, fmt.Errorf("taskrunner.dependencies.registry: %w", registryError)
	}

	runnerDependencies := tasks.RunnerDependencies{
		Loader:        tasks.NewLoader(fileSystem),
		Registry:      registry,
		Commands:      shellExecutor,
		Logger:        logger,
		Tracer:        config.Tracer,
		ConsoleOutput: resolveWriter(options.Output, options.Command, true),
		ConsoleError:  resolveWriter(options.Errors, options.Command, false),
		HomeDirectory: config.HomeDirectory,
	}

	return DependenciesResult{
		Runner:   runnerDependencies,
		Executor: shellExecutor,
		Registry: registry,
	}, nil
}

func defaultLibraries(fileSystem afs.Service, release version.Release) []libraries.Library {
	return []libraries.Library{
		link.New(),
		gitsync.New(),
		defaults.New(),
		selfupdate.New(selfupdate.Dependencies{Release: release}),
		generategit.New(fileSystem),
	}
}

func resolveLogger(provider func() *zap.Logger) *zap.Logger {
	if provider == nil {
		return zap.NewNop()
	}
	logger := provider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func resolveWriter(provided io.Writer, command *cobra.Command, useStdout bool) io.Writer {
	if provided != nil {
		return provided
	}
	if command != nil {
		if useStdout {
			if writer := command.OutOrStdout(); writer != nil && writer != io.Discard {
				return writer
			}
		} else {
			if writer := command.ErrOrStderr(); writer != nil && writer != io.Discard {
				return writer
			}
		}
	}
	if useStdout {
		return os.Stdout
	}
	return os.Stderr
}
