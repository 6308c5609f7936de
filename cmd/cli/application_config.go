package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	runcmd "github.com/tyemirov/up/cmd/cli/run"
	"github.com/tyemirov/up/internal/config"
	"github.com/tyemirov/up/internal/environment"
)

const (
	runDirectoryNameConstant            = "up"
	logDirectoryNameConstant            = "logs"
	logFileNameTemplateConstant         = "up_%s.log"
	logFileTimestampLayoutConstant      = "20060102_150405"
	environmentErrorTemplateConstant    = "unable to resolve environment: %w"
	tasksDirectoryErrorTemplateConstant = "unable to resolve tasks directory: %w"
)

// ApplicationConfiguration describes the settings read through the layered loader.
// The full document, including env and bootstrap_tasks, is decoded strictly by the config package.
type ApplicationConfiguration struct {
	Common config.CommonSettings `mapstructure:"common"`
}

// runConfiguration loads the document, resolves the environment snapshot and locates the tasks directory.
func (application *Application) runConfiguration(executionContext context.Context) (runcmd.CommandConfiguration, error) {
	loaded, loadError := config.NewLoader(application.fileSystem).Load(executionContext, application.location)
	if loadError != nil {
		return runcmd.CommandConfiguration{}, fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}

	snapshot, snapshotError := environment.NewSnapshotBuilderWithLookup(application.lookupEnvironment, application.homeDirectory).
		Build(loaded.Document.InheritEnv, loaded.Document.Env)
	if snapshotError != nil {
		return runcmd.CommandConfiguration{}, fmt.Errorf(environmentErrorTemplateConstant, snapshotError)
	}

	tasksDirectory, tasksDirectoryError := loaded.TasksDirectory(application.homeDirectory)
	if tasksDirectoryError != nil {
		return runcmd.CommandConfiguration{}, fmt.Errorf(tasksDirectoryErrorTemplateConstant, tasksDirectoryError)
	}

	return runcmd.CommandConfiguration{
		TasksDirectory: tasksDirectory,
		Environment:    snapshot,
		BootstrapTasks: loaded.Document.BootstrapTasks,
		Workers:        application.configuration.Common.Workers,
		TempDirectory:  application.runTempDirectory(executionContext),
	}, nil
}

func (application *Application) runTempDirectory(executionContext context.Context) string {
	if runContext, available := application.commandContextAccessor.RunContext(executionContext); available {
		return runContext.TempDirectory
	}
	return application.runContext.TempDirectory
}

// libraryEnvironment is the invoking process environment; direct library commands do not read up.yaml's env.
func (application *Application) libraryEnvironment(context.Context) map[string]string {
	return environment.FromEntries(application.environmentEntries())
}

func (application *Application) resolveTempDirectory() string {
	baseDirectory := strings.TrimSpace(application.tempDirectoryFlagValue)
	if len(baseDirectory) == 0 {
		baseDirectory = os.TempDir()
	}
	return filepath.Join(baseDirectory, runDirectoryNameConstant)
}

func runLogFilePath(tempDirectory string) string {
	fileName := fmt.Sprintf(logFileNameTemplateConstant, time.Now().Format(logFileTimestampLayoutConstant))
	return filepath.Join(tempDirectory, logDirectoryNameConstant, fileName)
}
