package flags

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tyemirov/up/internal/utils"
)

// ErrFlagNotDefined indicates that the requested flag is not present on the command.
var ErrFlagNotDefined = errors.New("flag not defined")

func BoolFlag(command *cobra.Command, name string) (bool, bool, error) {
	flagSet, flag := locateFlag(command, name)
	if flag == nil {
		return false, false, ErrFlagNotDefined
	}
	value, err := flagSet.GetBool(name)
	if err != nil {
		return false, false, err
	}
	return value, flag.Changed, nil
}

func StringFlag(command *cobra.Command, name string) (string, bool, error) {
	flagSet, flag := locateFlag(command, name)
	if flag == nil {
		return "", false, ErrFlagNotDefined
	}
	value, err := flagSet.GetString(name)
	if err != nil {
		return "", false, err
	}
	return value, flag.Changed, nil
}

func StringSliceFlag(command *cobra.Command, name string) ([]string, bool, error) {
	flagSet, flag := locateFlag(command, name)
	if flag == nil {
		return nil, false, ErrFlagNotDefined
	}
	values, err := flagSet.GetStringSlice(name)
	if err != nil {
		return nil, false, err
	}
	return values, flag.Changed, nil
}

func IntFlag(command *cobra.Command, name string) (int, bool, error) {
	flagSet, flag := locateFlag(command, name)
	if flag == nil {
		return 0, false, ErrFlagNotDefined
	}
	value, err := flagSet.GetInt(name)
	if err != nil {
		return 0, false, err
	}
	return value, flag.Changed, nil
}

func locateFlag(command *cobra.Command, name string) (*pflag.FlagSet, *pflag.Flag) {
	if command == nil {
		return nil, nil
	}

	candidateSets := []*pflag.FlagSet{
		command.Flags(),
		command.PersistentFlags(),
		command.InheritedFlags(),
	}

	if root := command.Root(); root != nil {
		candidateSets = append(candidateSets, root.PersistentFlags())
	}

	for _, set := range candidateSets {
		if set == nil {
			continue
		}
		if flag := set.Lookup(name); flag != nil {
			return set, flag
		}
	}

	return nil, nil
}

// CollectExecutionFlags inspects the command's flags to produce execution flag values.
func CollectExecutionFlags(command *cobra.Command) utils.ExecutionFlags {
	executionFlags := utils.ExecutionFlags{}
	if command == nil {
		return executionFlags
	}

	if tasks, _, tasksError := StringSliceFlag(command, TasksFlagName); tasksError == nil {
		executionFlags.Tasks = normalizeNames(tasks)
	}
	if excluded, _, excludedError := StringSliceFlag(command, ExcludeTasksFlagName); excludedError == nil {
		executionFlags.ExcludeTasks = normalizeNames(excluded)
	}
	if bootstrapValue, _, bootstrapError := BoolFlag(command, BootstrapFlagName); bootstrapError == nil {
		executionFlags.Bootstrap = bootstrapValue
	}
	if keepGoingValue, _, keepGoingError := BoolFlag(command, KeepGoingFlagName); keepGoingError == nil {
		executionFlags.KeepGoing = keepGoingValue
	}
	if consoleValue, consoleChanged, consoleError := BoolFlag(command, ConsoleFlagName); consoleError == nil {
		executionFlags.Console = consoleValue
		executionFlags.ConsoleSet = consoleChanged
	}
	if workersValue, workersChanged, workersError := IntFlag(command, WorkersFlagName); workersError == nil {
		executionFlags.Workers = workersValue
		executionFlags.WorkersSet = workersChanged
	}

	return executionFlags
}

// ResolveExecutionFlags returns execution flags from context when present, otherwise from the command's flags.
func ResolveExecutionFlags(command *cobra.Command) utils.ExecutionFlags {
	contextAccessor := utils.NewCommandContextAccessor()
	if command != nil {
		if flags, available := contextAccessor.ExecutionFlags(command.Context()); available {
			return flags
		}
	}
	return CollectExecutionFlags(command)
}

func normalizeNames(values []string) []string {
	normalized := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if len(trimmed) == 0 {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	return normalized
}
