// Package library exposes each built-in task library as its own subcommand, so a single library can run without a task file.
package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/viant/afs"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tyemirov/up/internal/environment"
	"github.com/tyemirov/up/internal/execshell"
	"github.com/tyemirov/up/internal/libraries"
	"github.com/tyemirov/up/internal/libraries/gitsync"
	"github.com/tyemirov/up/internal/utils"
	"github.com/tyemirov/up/internal/version"
	"github.com/tyemirov/up/pkg/taskrunner"
)

const (
	linkCommandUseConstant                  = "link"
	linkCommandShortDescriptionConstant     = "Symlink dotfiles from a directory into another"
	linkCommandLongDescriptionConstant      = "link mirrors every file under --from into --to as a symlink, backing up anything it has to replace."
	linkFromFlagNameConstant                = "from"
	linkFromFlagShorthandConstant           = "f"
	linkFromFlagDefaultConstant             = "~/code/dotfiles"
	linkFromFlagUsageConstant               = "Directory holding the dotfiles"
	linkToFlagNameConstant                  = "to"
	linkToFlagShorthandConstant             = "t"
	linkToFlagDefaultConstant               = "~"
	linkToFlagUsageConstant                 = "Directory the links are created in"
	gitCommandUseConstant                   = "git"
	gitCommandShortDescriptionConstant      = "Clone or update a repository at a path"
	gitCommandLongDescriptionConstant       = "git clones --git-url into --git-path when the path is missing or empty, otherwise it fixes the remote, fetches and fast-forwards."
	gitURLFlagNameConstant                  = "git-url"
	gitURLFlagUsageConstant                 = "URL of the repository"
	gitPathFlagNameConstant                 = "git-path"
	gitPathFlagUsageConstant                = "Path the repository lives at"
	gitRemoteFlagNameConstant               = "remote"
	gitRemoteFlagUsageConstant              = "Remote to set and update"
	gitBranchFlagNameConstant               = "branch"
	gitBranchFlagUsageConstant              = "Branch to check out (default: the remote default when cloning, the current branch when updating)"
	gitPruneFlagNameConstant                = "prune"
	gitPruneFlagUsageConstant               = "Delete local branches merged upstream whose push branch was deleted"
	defaultsCommandUseConstant              = "defaults"
	defaultsCommandShortDescriptionConstant = "Converge macOS user defaults"
	defaultsWriteCommandUseConstant         = "write DOMAIN KEY VALUE"
	defaultsWriteShortDescriptionConstant   = "Write one default when it differs from VALUE"
	defaultsWriteLongDescriptionConstant    = "write reads DOMAIN KEY and writes VALUE only when the current value differs. VALUE is parsed as YAML, so true, 3 and 0.5 are written as bool, int and float."
	defaultsWriteArgumentCountConstant      = 3
	generateCommandUseConstant              = "generate"
	generateCommandShortDescriptionConstant = "Generate task files from the current machine"
	generateGitCommandUseConstant           = "git"
	generateGitShortDescriptionConstant     = "Write a git task file listing the checkouts found under the search paths"
	generatePathFlagNameConstant            = "path"
	generatePathFlagUsageConstant           = "Task file to write"
	generateSearchPathsFlagNameConstant     = "search-paths"
	generateSearchPathsFlagDefaultConstant  = "~"
	generateSearchPathsFlagUsageConstant    = "Directories to scan for checkouts"
	generateExcludesFlagNameConstant        = "excludes"
	generateExcludesFlagUsageConstant       = "Skip checkouts whose path contains any of these values"
	generatePruneFlagNameConstant           = "prune"
	generatePruneFlagUsageConstant          = "Set prune on every generated repository entry"
	generateRemoteOrderFlagNameConstant     = "remote-order"
	generateRemoteOrderFlagUsageConstant    = "Remotes to list first, in this order"
	selfCommandUseConstant                  = "self"
	selfCommandShortDescriptionConstant     = "Update the up executable"
	selfCommandLongDescriptionConstant      = "self replaces the running executable with the latest release when it is newer."
	selfURLFlagNameConstant                 = "url"
	selfURLFlagUsageConstant                = "Download the executable from this URL instead of the latest release"
	selfAlwaysUpdateFlagNameConstant        = "always-update"
	selfAlwaysUpdateFlagUsageConstant       = "Update even when running a development build"
	libraryStatusTemplateConstant           = "%s: %s\n"
	libraryMissingTemplateConstant          = "%w: %s"
	libraryFailedTemplateConstant           = "%s: %w"
	tempDirectoryPermissionConstant         = 0o755
	tempDirectoryErrorTemplateConstant      = "unable to create temporary directory %s: %w"
	libraryFieldNameConstant                = "library"
	libraryFinishedMessageConstant          = "library finished"
	statusFieldNameConstant                 = "status"
	payloadKeyFromDirectoryConstant         = "from_dir"
	payloadKeyToDirectoryConstant           = "to_dir"
	payloadKeyGitURLConstant                = "git_url"
	payloadKeyGitPathConstant               = "git_path"
	payloadKeyRemoteConstant                = "remote"
	payloadKeyBranchConstant                = "branch"
	payloadKeyPruneConstant                 = "prune"
	payloadKeyPathConstant                  = "path"
	payloadKeySearchPathsConstant           = "search_paths"
	payloadKeyExcludesConstant              = "excludes"
	payloadKeyRemoteOrderConstant           = "remote_order"
	payloadKeyURLConstant                   = "url"
	payloadKeyAlwaysUpdateConstant          = "always_update"
)

// ErrLibraryNotRegistered reports a subcommand whose library is absent from the registry.
var ErrLibraryNotRegistered = errors.New("library not registered")

// EnvironmentProvider yields the variables a directly invoked library sees.
type EnvironmentProvider func(context.Context) map[string]string

// CommandBuilder assembles one subcommand per built-in library.
type CommandBuilder struct {
	LoggerProvider               func() *zap.Logger
	HumanReadableLoggingProvider func() bool
	EnvironmentProvider          EnvironmentProvider
	TempDirectoryProvider        func(context.Context) string
	ReleaseProvider              func(context.Context) version.Release
	CommandRunner                execshell.CommandRunner
	FileSystem                   afs.Service
	// Libraries replaces the built-in library set when non-empty.
	Libraries []libraries.Library
}

// Build returns the link, git, defaults, generate and self commands.
func (builder *CommandBuilder) Build() []*cobra.Command {
	return []*cobra.Command{
		builder.buildLink(),
		builder.buildGit(),
		builder.buildDefaults(),
		builder.buildGenerate(),
		builder.buildSelf(),
	}
}

func (builder *CommandBuilder) buildLink() *cobra.Command {
	var fromDirectory, toDirectory string
	command := &cobra.Command{
		Use:   linkCommandUseConstant,
		Short: linkCommandShortDescriptionConstant,
		Long:  linkCommandLongDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return builder.runLibrary(command, libraries.LinkID, map[string]any{
				payloadKeyFromDirectoryConstant: fromDirectory,
				payloadKeyToDirectoryConstant:   toDirectory,
			})
		},
	}
	command.Flags().StringVarP(&fromDirectory, linkFromFlagNameConstant, linkFromFlagShorthandConstant, linkFromFlagDefaultConstant, linkFromFlagUsageConstant)
	command.Flags().StringVarP(&toDirectory, linkToFlagNameConstant, linkToFlagShorthandConstant, linkToFlagDefaultConstant, linkToFlagUsageConstant)
	return command
}

func (builder *CommandBuilder) buildGit() *cobra.Command {
	var repositoryURL, repositoryPath, remote, branch string
	var prune bool
	command := &cobra.Command{
		Use:   gitCommandUseConstant,
		Short: gitCommandShortDescriptionConstant,
		Long:  gitCommandLongDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			entry := map[string]any{
				payloadKeyGitURLConstant:  repositoryURL,
				payloadKeyGitPathConstant: repositoryPath,
				payloadKeyRemoteConstant:  remote,
				payloadKeyPruneConstant:   prune,
			}
			if len(strings.TrimSpace(branch)) > 0 {
				entry[payloadKeyBranchConstant] = branch
			}
			return builder.runLibrary(command, libraries.GitID, []any{entry})
		},
	}
	command.Flags().StringVar(&repositoryURL, gitURLFlagNameConstant, "", gitURLFlagUsageConstant)
	command.Flags().StringVar(&repositoryPath, gitPathFlagNameConstant, "", gitPathFlagUsageConstant)
	command.Flags().StringVar(&remote, gitRemoteFlagNameConstant, gitsync.DefaultRemoteName, gitRemoteFlagUsageConstant)
	command.Flags().StringVar(&branch, gitBranchFlagNameConstant, "", gitBranchFlagUsageConstant)
	command.Flags().BoolVar(&prune, gitPruneFlagNameConstant, false, gitPruneFlagUsageConstant)
	_ = command.MarkFlagRequired(gitURLFlagNameConstant)
	_ = command.MarkFlagRequired(gitPathFlagNameConstant)
	return command
}

func (builder *CommandBuilder) buildDefaults() *cobra.Command {
	command := &cobra.Command{
		Use:   defaultsCommandUseConstant,
		Short: defaultsCommandShortDescriptionConstant,
		Args:  cobra.NoArgs,
	}
	command.AddCommand(&cobra.Command{
		Use:   defaultsWriteCommandUseConstant,
		Short: defaultsWriteShortDescriptionConstant,
		Long:  defaultsWriteLongDescriptionConstant,
		Args:  cobra.ExactArgs(defaultsWriteArgumentCountConstant),
		RunE: func(command *cobra.Command, arguments []string) error {
			var value any
			if decodeError := yaml.Unmarshal([]byte(arguments[2]), &value); decodeError != nil || value == nil {
				value = arguments[2]
			}
			return builder.runLibrary(command, libraries.DefaultsID, map[string]any{
				arguments[0]: map[string]any{arguments[1]: value},
			})
		},
	})
	return command
}

func (builder *CommandBuilder) buildGenerate() *cobra.Command {
	var targetPath string
	var searchPaths, excludes, remoteOrder []string
	var prune bool
	gitCommand := &cobra.Command{
		Use:   generateGitCommandUseConstant,
		Short: generateGitShortDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return builder.runLibrary(command, libraries.GenerateGitID, []any{map[string]any{
				payloadKeyPathConstant:        targetPath,
				payloadKeySearchPathsConstant: toAnySlice(searchPaths),
				payloadKeyExcludesConstant:    toAnySlice(excludes),
				payloadKeyPruneConstant:       prune,
				payloadKeyRemoteOrderConstant: toAnySlice(remoteOrder),
			}})
		},
	}
	gitCommand.Flags().StringVar(&targetPath, generatePathFlagNameConstant, "", generatePathFlagUsageConstant)
	gitCommand.Flags().StringSliceVar(&searchPaths, generateSearchPathsFlagNameConstant, []string{generateSearchPathsFlagDefaultConstant}, generateSearchPathsFlagUsageConstant)
	gitCommand.Flags().StringSliceVar(&excludes, generateExcludesFlagNameConstant, nil, generateExcludesFlagUsageConstant)
	gitCommand.Flags().BoolVar(&prune, generatePruneFlagNameConstant, false, generatePruneFlagUsageConstant)
	gitCommand.Flags().StringSliceVar(&remoteOrder, generateRemoteOrderFlagNameConstant, nil, generateRemoteOrderFlagUsageConstant)
	_ = gitCommand.MarkFlagRequired(generatePathFlagNameConstant)

	command := &cobra.Command{
		Use:   generateCommandUseConstant,
		Short: generateCommandShortDescriptionConstant,
		Args:  cobra.NoArgs,
	}
	command.AddCommand(gitCommand)
	return command
}

func (builder *CommandBuilder) buildSelf() *cobra.Command {
	var downloadURL string
	var alwaysUpdate bool
	command := &cobra.Command{
		Use:   selfCommandUseConstant,
		Short: selfCommandShortDescriptionConstant,
		Long:  selfCommandLongDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			payload := map[string]any{payloadKeyAlwaysUpdateConstant: alwaysUpdate}
			if len(strings.TrimSpace(downloadURL)) > 0 {
				payload[payloadKeyURLConstant] = downloadURL
			}
			return builder.runLibrary(command, libraries.SelfUpdateID, payload)
		},
	}
	command.Flags().StringVar(&downloadURL, selfURLFlagNameConstant, "", selfURLFlagUsageConstant)
	command.Flags().BoolVar(&alwaysUpdate, selfAlwaysUpdateFlagNameConstant, false, selfAlwaysUpdateFlagUsageConstant)
	return command
}

// runLibrary expands the payload against the environment, dispatches it and prints the resulting status.
func (builder *CommandBuilder) runLibrary(command *cobra.Command, id libraries.ID, payload any) error {
	executionContext := command.Context()
	if executionContext == nil {
		executionContext = context.Background()
	}

	var variables map[string]string
	if builder.EnvironmentProvider != nil {
		variables = builder.EnvironmentProvider(executionContext)
	}
	expanded, expandError := environment.NewExpander(environment.MapLookup(variables), nil).ExpandPayload(payload)
	if expandError != nil {
		return fmt.Errorf(libraryFailedTemplateConstant, id, expandError)
	}

	var tempDirectory string
	if builder.TempDirectoryProvider != nil {
		tempDirectory = strings.TrimSpace(builder.TempDirectoryProvider(executionContext))
	}
	if len(tempDirectory) > 0 {
		if directoryError := os.MkdirAll(tempDirectory, tempDirectoryPermissionConstant); directoryError != nil {
			return fmt.Errorf(tempDirectoryErrorTemplateConstant, tempDirectory, directoryError)
		}
	}

	var release version.Release
	if builder.ReleaseProvider != nil {
		release = builder.ReleaseProvider(executionContext)
	}
	dependencyResult, dependencyError := taskrunner.BuildDependencies(
		taskrunner.DependenciesConfig{
			LoggerProvider:               builder.LoggerProvider,
			HumanReadableLoggingProvider: builder.HumanReadableLoggingProvider,
			CommandRunner:                builder.CommandRunner,
			FileSystem:                   builder.FileSystem,
			Release:                      release,
			Libraries:                    builder.Libraries,
		},
		taskrunner.DependenciesOptions{
			Command: command,
			Output:  utils.NewConsoleWriter(command.OutOrStdout()),
			Errors:  utils.NewConsoleWriter(command.ErrOrStderr()),
		},
	)
	if dependencyError != nil {
		return dependencyError
	}

	library, found := dependencyResult.Registry.Lookup(id)
	if !found {
		return fmt.Errorf(libraryMissingTemplateConstant, ErrLibraryNotRegistered, id)
	}

	logger := dependencyResult.Runner.Logger.With(zap.String(libraryFieldNameConstant, string(id)))
	status, runError := library.Run(executionContext, libraries.RunContext{
		TaskName:      string(id),
		Environment:   variables,
		TempDirectory: tempDirectory,
		Logger:        logger,
		Commands:      dependencyResult.Executor,
	}, expanded)
	if runError != nil {
		return fmt.Errorf(libraryFailedTemplateConstant, id, runError)
	}

	logger.Debug(libraryFinishedMessageConstant, zap.String(statusFieldNameConstant, string(status)))
	fmt.Fprintf(command.OutOrStdout(), libraryStatusTemplateConstant, id, status)
	return nil
}

func toAnySlice(values []string) []any {
	converted := make([]any, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); len(trimmed) > 0 {
			converted = append(converted, trimmed)
		}
	}
	return converted
}
