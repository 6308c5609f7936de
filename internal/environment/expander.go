// Package environment resolves environment snapshots and substitutes variables into task inputs.
package environment

import (
	"fmt"
	"os"
	"sort"
	"strings"

	pathutils "github.com/tyemirov/up/internal/utils/path"
)

const (
	homeVariableNameConstant        = "HOME"
	homeShorthandConstant           = "~"
	homeShorthandPrefixConstant     = "~/"
	lookupErrorTemplateConstant     = "environment variable %s is not set (while expanding %q)"
	homeErrorTemplateConstant       = "home directory unavailable (while expanding %q): %v"
	payloadKeyErrorTemplateConstant = "%s: %w"
)

// LookupFunc reports the value of a variable and whether it is set.
type LookupFunc func(name string) (string, bool)

// MapLookup adapts a variable map to a LookupFunc.
func MapLookup(variables map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		value, found := variables[name]
		return value, found
	}
}

// ChainLookup consults each lookup in order and returns the first hit.
func ChainLookup(lookups ...LookupFunc) LookupFunc {
	return func(name string) (string, bool) {
		for _, lookup := range lookups {
			if lookup == nil {
				continue
			}
			if value, found := lookup(name); found {
				return value, true
			}
		}
		return "", false
	}
}

// LookupError reports a reference to an unset variable.
type LookupError struct {
	Name  string
	Value string
}

// Error describes the missing variable.
func (lookupError LookupError) Error() string {
	return fmt.Sprintf(lookupErrorTemplateConstant, lookupError.Name, lookupError.Value)
}

// HomeDirectoryError reports that "~" could not be resolved.
type HomeDirectoryError struct {
	Value string
	Cause error
}

// Error describes the failure.
func (homeError HomeDirectoryError) Error() string {
	return fmt.Sprintf(homeErrorTemplateConstant, homeError.Value, homeError.Cause)
}

// Unwrap exposes the resolver failure.
func (homeError HomeDirectoryError) Unwrap() error {
	return homeError.Cause
}

// Expander substitutes $NAME, ${NAME} and a leading ~ in strings.
type Expander struct {
	lookup        LookupFunc
	homeDirectory pathutils.HomeDirectoryResolver
}

// NewExpander constructs an Expander. A nil resolver falls back to os.UserHomeDir when HOME is not visible through lookup.
func NewExpander(lookup LookupFunc, homeDirectory pathutils.HomeDirectoryResolver) *Expander {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	if homeDirectory == nil {
		homeDirectory = os.UserHomeDir
	}
	return &Expander{lookup: lookup, homeDirectory: homeDirectory}
}

// Expand substitutes variables into value.
func (expander *Expander) Expand(value string) (string, error) {
	expanded := value
	if expanded == homeShorthandConstant || strings.HasPrefix(expanded, homeShorthandPrefixConstant) {
		home, homeError := expander.resolveHome()
		if homeError != nil {
			return "", HomeDirectoryError{Value: value, Cause: homeError}
		}
		expanded = home + strings.TrimPrefix(expanded, homeShorthandConstant)
	}

	if !strings.Contains(expanded, "$") {
		return expanded, nil
	}

	return expander.substitute(expanded, value)
}

// substitute replaces $NAME and ${NAME} where NAME is [A-Za-z_][A-Za-z0-9_]*.
// Any other dollar sign, including shell parameters such as $$ or $?, is copied through.
func (expander *Expander) substitute(text string, original string) (string, error) {
	var builder strings.Builder
	builder.Grow(len(text))
	for index := 0; index < len(text); {
		if text[index] != '$' {
			builder.WriteByte(text[index])
			index++
			continue
		}
		name, width := variableReference(text[index+1:])
		if width == 0 {
			builder.WriteByte('$')
			index++
			continue
		}
		resolved, found := expander.lookup(name)
		if !found {
			return "", LookupError{Name: name, Value: original}
		}
		builder.WriteString(resolved)
		index += 1 + width
	}
	return builder.String(), nil
}

// variableReference returns the name following a dollar sign and the number of bytes it spans, or zero width.
func variableReference(text string) (string, int) {
	if strings.HasPrefix(text, "{") {
		closing := strings.IndexByte(text, '}')
		if closing < 0 || !isVariableName(text[1:closing]) {
			return "", 0
		}
		return text[1:closing], closing + 1
	}
	length := 0
	for length < len(text) && isNameByte(text[length], length == 0) {
		length++
	}
	return text[:length], length
}

func isVariableName(name string) bool {
	if len(name) == 0 {
		return false
	}
	for index := 0; index < len(name); index++ {
		if !isNameByte(name[index], index == 0) {
			return false
		}
	}
	return true
}

func isNameByte(character byte, leading bool) bool {
	switch {
	case character == '_':
		return true
	case character >= 'A' && character <= 'Z', character >= 'a' && character <= 'z':
		return true
	case character >= '0' && character <= '9':
		return !leading
	default:
		return false
	}
}

// ExpandArguments expands every argv token.
func (expander *Expander) ExpandArguments(arguments []string) ([]string, error) {
	if arguments == nil {
		return nil, nil
	}
	expanded := make([]string, len(arguments))
	for index, argument := range arguments {
		value, expandError := expander.Expand(argument)
		if expandError != nil {
			return nil, expandError
		}
		expanded[index] = value
	}
	return expanded, nil
}

// ExpandPayload returns a copy of a decoded YAML document with every string leaf expanded.
// Map keys are left untouched.
func (expander *Expander) ExpandPayload(payload any) (any, error) {
	switch typed := payload.(type) {
	case string:
		return expander.Expand(typed)
	case []any:
		expanded := make([]any, len(typed))
		for index, element := range typed {
			value, expandError := expander.ExpandPayload(element)
			if expandError != nil {
				return nil, fmt.Errorf(payloadKeyErrorTemplateConstant, fmt.Sprintf("[%d]", index), expandError)
			}
			expanded[index] = value
		}
		return expanded, nil
	case map[string]any:
		expanded := make(map[string]any, len(typed))
		for _, key := range sortedKeys(typed) {
			value, expandError := expander.ExpandPayload(typed[key])
			if expandError != nil {
				return nil, fmt.Errorf(payloadKeyErrorTemplateConstant, key, expandError)
			}
			expanded[key] = value
		}
		return expanded, nil
	default:
		return payload, nil
	}
}

func (expander *Expander) resolveHome() (string, error) {
	if home, found := expander.lookup(homeVariableNameConstant); found && len(home) > 0 {
		return home, nil
	}
	return expander.homeDirectory()
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
