package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

const (
	runCommandAliasConstant  = "up"
	listCommandAliasConstant = "ls"
)

func (application *Application) registerCommands(cobraCommand *cobra.Command) {
	if runCommand, runBuildError := application.runBuilder.Build(); runBuildError == nil {
		configureCommandMetadata(runCommand, "", "", "", runCommandAliasConstant)
		cobraCommand.AddCommand(runCommand)
	}

	if listCommand, listBuildError := application.runBuilder.BuildList(); listBuildError == nil {
		configureCommandMetadata(listCommand, "", "", "", listCommandAliasConstant)
		cobraCommand.AddCommand(listCommand)
	}

	for _, libraryCommand := range application.libraryBuilder.Build() {
		cobraCommand.AddCommand(libraryCommand)
	}

	versionCommand := &cobra.Command{
		Use:   versionCommandUseNameConstant,
		Short: versionCommandShortDescriptionConstant,
		Long:  versionCommandLongDescriptionConstant,
		Args:  cobra.NoArgs,
		// Printing the version never reads up.yaml.
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return nil
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			application.printVersion(command)
			return nil
		},
	}
	cobraCommand.AddCommand(versionCommand)
}

func appendUnique(values []string, candidates ...string) []string {
	result := values
	for _, candidate := range candidates {
		trimmedCandidate := strings.TrimSpace(candidate)
		if len(trimmedCandidate) == 0 {
			continue
		}
		duplicate := false
		for _, existing := range result {
			if existing == trimmedCandidate {
				duplicate = true
				break
			}
		}
		if !duplicate {
			result = append(result, trimmedCandidate)
		}
	}
	return result
}

func configureCommandMetadata(command *cobra.Command, use string, shortDescription string, longDescription string, aliases ...string) {
	if command == nil {
		return
	}

	useValue := strings.TrimSpace(use)
	if len(useValue) > 0 {
		command.Use = useValue
	}

	shortValue := strings.TrimSpace(shortDescription)
	if len(shortValue) > 0 {
		command.Short = shortValue
	}

	longValue := strings.TrimSpace(longDescription)
	if len(longValue) > 0 {
		command.Long = longValue
	}

	command.Aliases = appendUnique(command.Aliases, aliases...)
}
