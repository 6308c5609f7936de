// Package defaults implements the defaults library, which converges macOS user defaults.
package defaults

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tyemirov/up/internal/execshell"
	"github.com/tyemirov/up/internal/libraries"
)

const (
	darwinPlatformConstant      = "darwin"
	defaultsCommandConstant     = execshell.CommandName("defaults")
	readSubcommandConstant      = "read"
	writeSubcommandConstant     = "write"
	boolTypeFlagConstant        = "-bool"
	intTypeFlagConstant         = "-int"
	floatTypeFlagConstant       = "-float"
	stringTypeFlagConstant      = "-string"
	unsupportedValueTemplate    = "%s %s: unsupported value type %T (expected bool, number or string)"
	executorMissingMessage      = "defaults library requires a command executor"
	unsupportedPlatformMessage  = "defaults are only managed on macOS"
	valueCurrentMessageConstant = "default already set"
	valueWrittenMessageConstant = "default written"
	platformFieldConstant       = "platform"
	domainFieldConstant         = "domain"
	keyFieldConstant            = "key"
	previousValueFieldConstant  = "previous"
	desiredValueFieldConstant   = "desired"
	floatFormatConstant         = 'g'
	floatBitSizeConstant        = 64
	trueRenderedConstant        = "1"
	falseRenderedConstant       = "0"
)

// ErrCommandExecutorMissing reports a run context without a command executor.
var ErrCommandExecutorMissing = errors.New(executorMissingMessage)

// Settings maps a defaults domain to the key/value pairs it should hold.
type Settings map[string]map[string]any

// Library writes macOS defaults that differ from the desired values.
type Library struct {
	platform string
}

// New constructs the defaults library for the running platform.
func New() Library {
	return Library{platform: runtime.GOOS}
}

// WithPlatform overrides the detected platform.
func (library Library) WithPlatform(platform string) Library {
	library.platform = platform
	return library
}

// ID identifies the library.
func (Library) ID() libraries.ID {
	return libraries.DefaultsID
}

// Run reports Passed when at least one key was written and Skipped when everything matched or the host is not macOS.
func (library Library) Run(executionContext context.Context, runContext libraries.RunContext, payload any) (libraries.Status, error) {
	var settings Settings
	if decodeError := libraries.DecodePayload(libraries.DefaultsID, payload, &settings, true); decodeError != nil {
		return "", decodeError
	}

	writes, planError := plan(settings)
	if planError != nil {
		return "", libraries.SchemaError{Library: libraries.DefaultsID, Cause: planError}
	}

	logger := runContext.LoggerOrNop()
	if library.platform != darwinPlatformConstant {
		logger.Info(unsupportedPlatformMessage, zap.String(platformFieldConstant, library.platform))
		return libraries.StatusSkipped, nil
	}
	if runContext.Commands == nil {
		return "", ErrCommandExecutorMissing
	}

	changed := false
	for _, write := range writes {
		current, readError := readValue(executionContext, runContext.Commands, write.domain, write.key)
		if readError != nil {
			return "", readError
		}
		if current == write.rendered {
			logger.Debug(valueCurrentMessageConstant, zap.String(domainFieldConstant, write.domain), zap.String(keyFieldConstant, write.key))
			continue
		}

		if writeError := writeValue(executionContext, runContext, write); writeError != nil {
			return "", writeError
		}
		logger.Info(valueWrittenMessageConstant,
			zap.String(domainFieldConstant, write.domain),
			zap.String(keyFieldConstant, write.key),
			zap.String(previousValueFieldConstant, current),
			zap.String(desiredValueFieldConstant, write.rendered),
		)
		changed = true
	}
	return libraries.StatusFromChanges(changed), nil
}

type pendingWrite struct {
	domain   string
	key      string
	typeFlag string
	rendered string
}

// plan flattens settings into writes ordered by domain then key.
func plan(settings Settings) ([]pendingWrite, error) {
	domains := make([]string, 0, len(settings))
	for domain := range settings {
		domains = append(domains, domain)
	}
	sort.Strings(domains)

	var writes []pendingWrite
	for _, domain := range domains {
		keys := make([]string, 0, len(settings[domain]))
		for key := range settings[domain] {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			typeFlag, rendered, supported := render(settings[domain][key])
			if !supported {
				return nil, fmt.Errorf(unsupportedValueTemplate, domain, key, settings[domain][key])
			}
			writes = append(writes, pendingWrite{domain: domain, key: key, typeFlag: typeFlag, rendered: rendered})
		}
	}
	return writes, nil
}

// render returns the defaults write type flag and the value as `defaults read` prints it.
func render(value any) (string, string, bool) {
	switch typed := value.(type) {
	case bool:
		if typed {
			return boolTypeFlagConstant, trueRenderedConstant, true
		}
		return boolTypeFlagConstant, falseRenderedConstant, true
	case int:
		return intTypeFlagConstant, strconv.Itoa(typed), true
	case int64:
		return intTypeFlagConstant, strconv.FormatInt(typed, 10), true
	case uint64:
		return intTypeFlagConstant, strconv.FormatUint(typed, 10), true
	case float64:
		return floatTypeFlagConstant, strconv.FormatFloat(typed, floatFormatConstant, -1, floatBitSizeConstant), true
	case string:
		return stringTypeFlagConstant, typed, true
	default:
		return "", "", false
	}
}

func readValue(executionContext context.Context, commands libraries.CommandExecutor, domain string, key string) (string, error) {
	result, readError := commands.Execute(executionContext, execshell.ShellCommand{
		Name:    defaultsCommandConstant,
		Details: execshell.CommandDetails{Arguments: []string{readSubcommandConstant, domain, key}},
	})
	if readError != nil {
		var failedError execshell.CommandFailedError
		if errors.As(readError, &failedError) {
			return "", nil
		}
		return "", readError
	}
	return strings.TrimSpace(result.StandardOutput), nil
}

func writeValue(executionContext context.Context, runContext libraries.RunContext, write pendingWrite) error {
	argv := []string{string(defaultsCommandConstant), writeSubcommandConstant, write.domain, write.key, write.typeFlag, write.rendered}
	if runContext.Elevated != nil {
		_, elevatedError := runContext.Elevated.ExecuteElevated(executionContext, argv, execshell.CommandDetails{})
		return elevatedError
	}

	command, commandError := execshell.NewShellCommandFromArgv(argv, execshell.CommandDetails{})
	if commandError != nil {
		return commandError
	}
	_, writeError := runContext.Commands.Execute(executionContext, command)
	return writeError
}
