package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/viant/afs"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	librarycmd "github.com/tyemirov/up/cmd/cli/library"
	runcmd "github.com/tyemirov/up/cmd/cli/run"
	"github.com/tyemirov/up/internal/config"
	"github.com/tyemirov/up/internal/environment"
	"github.com/tyemirov/up/internal/tracing"
	"github.com/tyemirov/up/internal/utils"
	flagutils "github.com/tyemirov/up/internal/utils/flags"
	pathutils "github.com/tyemirov/up/internal/utils/path"
	"github.com/tyemirov/up/internal/version"
)

const (
	applicationNameConstant                = "up"
	applicationShortDescriptionConstant    = "Bootstrap a machine from declarative task files"
	applicationLongDescriptionConstant     = "up discovers task files, filters them for this machine, orders them by their declared dependencies and runs them, an optional serial bootstrap phase first and the rest in parallel. Running up without a subcommand is the same as up run. The link, git, defaults, generate git and self subcommands run one built-in library directly."
	configFileFlagNameConstant             = "config"
	configFileFlagShorthandConstant        = "c"
	configFileFlagUsageConstant            = "Path to up.yaml (default $UP_CONFIG, then $XDG_CONFIG_HOME/up/up.yaml, then ~/.config/up/up.yaml)"
	logLevelFlagNameConstant               = "log-level"
	logLevelFlagUsageConstant              = "Override the configured log level (debug, info, warn, error)."
	logFormatFlagNameConstant              = "log-format"
	logFormatFlagUsageConstant             = "Override the configured log format (structured or console)."
	tempDirectoryFlagNameConstant          = "temp-dir"
	tempDirectoryFlagUsageConstant         = "Directory for logs, backups and downloads (default: the system temporary directory)"
	traceFileFlagNameConstant              = "trace-file"
	traceFileFlagUsageConstant             = "Write run, phase and task spans as JSON to this file"
	versionFlagNameConstant                = "version"
	versionFlagUsageConstant               = "Print the application version and exit"
	versionOutputTemplateConstant          = "up %s\n"
	versionCommandUseNameConstant          = "version"
	versionCommandShortDescriptionConstant = "Print the up version"
	versionCommandLongDescriptionConstant  = "version prints the current up release identifier."
	commonConfigurationKeyConstant         = "common"
	commonLogLevelConfigKeyConstant        = commonConfigurationKeyConstant + ".log_level"
	commonLogFormatConfigKeyConstant       = commonConfigurationKeyConstant + ".log_format"
	commonWorkersConfigKeyConstant         = commonConfigurationKeyConstant + ".workers"
	environmentPrefixConstant              = "UP"
	configurationTypeConstant              = "yaml"
	configurationLocateErrorTemplate       = "unable to locate configuration: %w"
	configurationLoadErrorTemplateConstant = "unable to load configuration: %w"
	loggerCreationErrorTemplateConstant    = "unable to create logger: %w"
	loggerSyncErrorTemplateConstant        = "unable to flush logger: %w"
	tracerCreationErrorTemplateConstant    = "unable to create tracer: %w"
	tracerShutdownErrorTemplateConstant    = "unable to flush traces: %w"
	configurationInitializedMessage        = "configuration initialized"
	configurationLogLevelFieldConstant     = "log_level"
	configurationLogFormatFieldConstant    = "log_format"
	configurationFileFieldConstant         = "config_file"
	logFileFieldConstant                   = "log_file"
	runIDFieldConstant                     = "run_id"
	loggerNotInitializedMessageConstant    = "logger not initialized"
)

// Application wires the Cobra root command, configuration loader, and structured logger.
type Application struct {
	rootCommand            *cobra.Command
	configurationLoader    *utils.ConfigurationLoader
	loggerFactory          utils.LoggerFactory
	logger                 *zap.Logger
	consoleLogger          *zap.Logger
	loggerCleanup          func()
	tracer                 *tracing.Provider
	fileSystem             afs.Service
	runBuilder             *runcmd.CommandBuilder
	libraryBuilder         *librarycmd.CommandBuilder
	lookupEnvironment      environment.LookupFunc
	environmentEntries     func() []string
	homeDirectory          pathutils.HomeDirectoryResolver
	commandContextAccessor utils.CommandContextAccessor
	configuration          ApplicationConfiguration
	configurationMetadata  utils.LoadedConfiguration
	location               config.Location
	runContext             utils.RunContext
	release                *version.Release
	configurationFilePath  string
	logLevelFlagValue      string
	logFormatFlagValue     string
	tempDirectoryFlagValue string
	traceFileFlagValue     string
	versionFlag            bool
	versionResolver        func(context.Context) version.Release
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication() *Application {
	application := &Application{
		loggerFactory:          utils.NewLoggerFactory(),
		logger:                 zap.NewNop(),
		consoleLogger:          zap.NewNop(),
		loggerCleanup:          func() {},
		fileSystem:             afs.New(),
		lookupEnvironment:      os.LookupEnv,
		environmentEntries:     os.Environ,
		homeDirectory:          os.UserHomeDir,
		commandContextAccessor: utils.NewCommandContextAccessor(),
	}
	application.versionResolver = application.resolveVersion
	application.configurationLoader = utils.NewConfigurationLoader(configurationTypeConstant, environmentPrefixConstant)

	application.runBuilder = &runcmd.CommandBuilder{
		LoggerProvider: func() *zap.Logger {
			return application.logger
		},
		HumanReadableLoggingProvider: application.humanReadableLoggingEnabled,
		ConfigurationProvider:        application.runConfiguration,
		TracerProvider: func() *tracing.Provider {
			return application.tracer
		},
		ReleaseProvider: application.resolveRelease,
		FileSystem:      application.fileSystem,
	}

	application.libraryBuilder = &librarycmd.CommandBuilder{
		LoggerProvider: func() *zap.Logger {
			return application.logger
		},
		HumanReadableLoggingProvider: application.humanReadableLoggingEnabled,
		EnvironmentProvider:          application.libraryEnvironment,
		TempDirectoryProvider:        application.runTempDirectory,
		ReleaseProvider:              application.resolveRelease,
		FileSystem:                   application.fileSystem,
	}

	cobraCommand := &cobra.Command{
		Use:           applicationNameConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			if application.versionRequested(command) {
				return nil
			}
			return application.initializeConfiguration(command)
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			if application.versionRequested(command) {
				application.printVersion(command)
				return nil
			}
			return application.runBuilder.Run(command, arguments)
		},
	}

	cobraCommand.SetContext(context.Background())
	cobraCommand.PersistentFlags().StringVarP(&application.configurationFilePath, configFileFlagNameConstant, configFileFlagShorthandConstant, "", configFileFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logLevelFlagValue, logLevelFlagNameConstant, "", logLevelFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logFormatFlagValue, logFormatFlagNameConstant, "", logFormatFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.tempDirectoryFlagValue, tempDirectoryFlagNameConstant, "", tempDirectoryFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.traceFileFlagValue, traceFileFlagNameConstant, "", traceFileFlagUsageConstant)
	cobraCommand.Flags().BoolVar(&application.versionFlag, versionFlagNameConstant, false, versionFlagUsageConstant)
	flagutils.BindExecutionFlags(cobraCommand, flagutils.DefaultExecutionFlagDefinitions())

	application.registerCommands(cobraCommand)
	application.rootCommand = cobraCommand

	return application
}

// Execute runs the root command with the process arguments.
func (application *Application) Execute() error {
	return application.ExecuteWithArguments(os.Args[1:])
}

// ExecuteWithArguments runs the configured Cobra command hierarchy and flushes the logger and tracer.
// SIGINT and SIGTERM stop further tasks from starting; running tasks complete.
func (application *Application) ExecuteWithArguments(arguments []string) error {
	signalContext, stopSignals := signal.NotifyContext(application.rootCommand.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	application.rootCommand.SetArgs(arguments)
	executionError := application.rootCommand.ExecuteContext(signalContext)

	var flushError error
	if shutdownError := application.tracer.Shutdown(context.Background()); shutdownError != nil {
		flushError = multierr.Append(flushError, fmt.Errorf(tracerShutdownErrorTemplateConstant, shutdownError))
	}
	if syncError := application.flushLogger(); syncError != nil {
		flushError = multierr.Append(flushError, fmt.Errorf(loggerSyncErrorTemplateConstant, syncError))
	}
	application.loggerCleanup()
	if executionError != nil {
		return executionError
	}
	return flushError
}

// SetOutput redirects command output, task consoles and the run summary.
func (application *Application) SetOutput(output io.Writer, errorOutput io.Writer) {
	application.rootCommand.SetOut(output)
	application.rootCommand.SetErr(errorOutput)
}

// Execute builds a fresh application instance and executes the root command hierarchy.
func Execute() error {
	return NewApplication().Execute()
}

func (application *Application) initializeConfiguration(command *cobra.Command) error {
	if application.logger == nil {
		return errors.New(loggerNotInitializedMessageConstant)
	}

	location, locateError := config.NewLocator(application.lookupEnvironment, application.homeDirectory).Locate(application.configurationFilePath)
	if locateError != nil {
		return fmt.Errorf(configurationLocateErrorTemplate, locateError)
	}
	application.location = location

	configurationPath, pathError := application.viperConfigurationPath(command.Context(), location)
	if pathError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, pathError)
	}

	defaultValues := map[string]any{
		commonLogLevelConfigKeyConstant:  string(utils.LogLevelInfo),
		commonLogFormatConfigKeyConstant: string(utils.LogFormatConsole),
		commonWorkersConfigKeyConstant:   0,
	}
	loadedConfiguration, loadError := application.configurationLoader.LoadConfiguration(configurationPath, defaultValues, &application.configuration)
	if loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}
	application.configurationMetadata = loadedConfiguration

	if application.persistentFlagChanged(command, logLevelFlagNameConstant) {
		application.configuration.Common.LogLevel = application.logLevelFlagValue
	}
	if application.persistentFlagChanged(command, logFormatFlagNameConstant) {
		application.configuration.Common.LogFormat = application.logFormatFlagValue
	}

	application.runContext = utils.RunContext{
		RunID:         uuid.NewString(),
		TempDirectory: application.resolveTempDirectory(),
	}
	logFilePath := runLogFilePath(application.runContext.TempDirectory)

	loggerOutputs, loggerCreationError := application.loggerFactory.WithLogFilePath(logFilePath).CreateLoggerOutputs(
		utils.LogLevel(application.configuration.Common.LogLevel),
		utils.LogFormat(application.configuration.Common.LogFormat),
	)
	if loggerCreationError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerCreationError)
	}
	application.logger = loggerOutputs.DiagnosticLogger.With(zap.String(runIDFieldConstant, application.runContext.RunID))
	application.consoleLogger = loggerOutputs.ConsoleLogger
	if loggerOutputs.Cleanup != nil {
		application.loggerCleanup = loggerOutputs.Cleanup
	}

	tracer, tracerError := tracing.NewProvider(command.Context(), tracing.Options{
		ServiceName:    applicationNameConstant,
		ServiceVersion: application.resolveRelease(command.Context()).Version,
		OutputPath:     application.traceFileFlagValue,
	})
	if tracerError != nil {
		return fmt.Errorf(tracerCreationErrorTemplateConstant, tracerError)
	}
	application.tracer = tracer

	application.logConfigurationInitialization(loggerOutputs.LogFilePath)

	updatedContext := application.commandContextAccessor.WithConfigurationFilePath(command.Context(), location.Path)
	updatedContext = application.commandContextAccessor.WithRunContext(updatedContext, application.runContext)
	updatedContext = application.commandContextAccessor.WithExecutionFlags(updatedContext, flagutils.CollectExecutionFlags(command))
	updatedContext = application.commandContextAccessor.WithLogLevel(updatedContext, application.configuration.Common.LogLevel)
	command.SetContext(updatedContext)

	return nil
}

// viperConfigurationPath returns the document path for the common settings loader, or empty when an implicit document is absent.
func (application *Application) viperConfigurationPath(executionContext context.Context, location config.Location) (string, error) {
	exists, existsError := application.fileSystem.Exists(executionContext, location.Path)
	if existsError != nil {
		return "", config.DocumentError{Path: location.Path, Cause: existsError}
	}
	if exists {
		return location.Path, nil
	}
	if location.Explicit {
		return "", config.DocumentError{Path: location.Path, Cause: config.ErrDocumentNotFound}
	}
	return "", nil
}

func (application *Application) humanReadableLoggingEnabled() bool {
	logFormatValue := strings.TrimSpace(application.configuration.Common.LogFormat)
	return strings.EqualFold(logFormatValue, string(utils.LogFormatConsole))
}

func (application *Application) logConfigurationInitialization(logFilePath string) {
	application.logger.Debug(
		configurationInitializedMessage,
		zap.String(configurationLogLevelFieldConstant, application.configuration.Common.LogLevel),
		zap.String(configurationLogFormatFieldConstant, application.configuration.Common.LogFormat),
		zap.String(configurationFileFieldConstant, application.configurationMetadata.ConfigFileUsed),
		zap.String(logFileFieldConstant, logFilePath),
	)
}

func (application *Application) resolveRelease(executionContext context.Context) version.Release {
	if application.release == nil {
		release := application.versionResolver(executionContext)
		application.release = &release
	}
	return *application.release
}

func (application *Application) resolveVersion(executionContext context.Context) version.Release {
	return version.Detect(executionContext, version.Dependencies{})
}

func (application *Application) versionRequested(command *cobra.Command) bool {
	if command != command.Root() {
		return false
	}
	flagValue, flagChanged, flagError := flagutils.BoolFlag(command, versionFlagNameConstant)
	if flagError != nil || !flagChanged {
		return application.versionFlag
	}
	return flagValue
}

func (application *Application) printVersion(command *cobra.Command) {
	release := application.resolveRelease(command.Context())
	fmt.Fprintf(command.OutOrStdout(), versionOutputTemplateConstant, strings.TrimSpace(release.Version))
}

func (application *Application) flushLogger() error {
	if syncError := application.syncLoggerInstance(application.logger); syncError != nil {
		return syncError
	}

	if syncError := application.syncLoggerInstance(application.consoleLogger); syncError != nil {
		return syncError
	}

	return nil
}

func (application *Application) syncLoggerInstance(logger *zap.Logger) error {
	if logger == nil {
		return nil
	}

	syncError := logger.Sync()
	switch {
	case syncError == nil:
		return nil
	case errors.Is(syncError, syscall.ENOTSUP):
		return nil
	case errors.Is(syncError, syscall.EINVAL):
		return nil
	case errors.Is(syncError, syscall.EBADF):
		return nil
	case errors.Is(syncError, syscall.ENOTTY):
		return nil
	default:
		return syncError
	}
}

func (application *Application) persistentFlagChanged(command *cobra.Command, flagName string) bool {
	if command == nil {
		return false
	}

	flagSetsToInspect := []*pflag.FlagSet{
		command.PersistentFlags(),
		command.InheritedFlags(),
	}

	rootCommand := command.Root()
	if rootCommand != nil {
		flagSetsToInspect = append(flagSetsToInspect, rootCommand.PersistentFlags())
	}

	for _, flagSet := range flagSetsToInspect {
		if flagSet == nil {
			continue
		}

		if flagSet.Changed(flagName) {
			return true
		}
	}

	return false
}
