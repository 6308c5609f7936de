package environment

import (
	"fmt"
	"os"
	"strings"

	pathutils "github.com/tyemirov/up/internal/utils/path"
)

const resolutionErrorTemplateConstant = "resolve environment variable %s: %v"

// Variable is one declared name/value pair. Declaration order matters: later values may reference earlier ones.
type Variable struct {
	Name  string
	Value string
}

// ResolutionError reports a declared variable whose value could not be expanded.
type ResolutionError struct {
	Name  string
	Cause error
}

// Error describes the failure.
func (resolutionError ResolutionError) Error() string {
	return fmt.Sprintf(resolutionErrorTemplateConstant, resolutionError.Name, resolutionError.Cause)
}

// Unwrap exposes the expansion failure.
func (resolutionError ResolutionError) Unwrap() error {
	return resolutionError.Cause
}

// FromEntries copies NAME=value entries, in the form os.Environ returns them, into a map. Later entries win.
func FromEntries(entries []string) map[string]string {
	variables := make(map[string]string, len(entries))
	for _, entry := range entries {
		name, value, found := strings.Cut(entry, "=")
		if !found || len(name) == 0 {
			continue
		}
		variables[name] = value
	}
	return variables
}

// SnapshotBuilder assembles the immutable variable set a run hands to its tasks.
type SnapshotBuilder struct {
	ambient       LookupFunc
	homeDirectory pathutils.HomeDirectoryResolver
}

// NewSnapshotBuilder constructs a builder reading the invoking process environment.
func NewSnapshotBuilder() *SnapshotBuilder {
	return NewSnapshotBuilderWithLookup(os.LookupEnv, nil)
}

// NewSnapshotBuilderWithLookup constructs a builder over an arbitrary ambient environment.
func NewSnapshotBuilderWithLookup(ambient LookupFunc, homeDirectory pathutils.HomeDirectoryResolver) *SnapshotBuilder {
	if ambient == nil {
		ambient = func(string) (string, bool) { return "", false }
	}
	return &SnapshotBuilder{ambient: ambient, homeDirectory: homeDirectory}
}

// Build copies the inherited names that are set, then expands each declared variable in order.
// Declared values see the snapshot built so far first and the invoking environment second.
func (builder *SnapshotBuilder) Build(inherited []string, declared []Variable) (map[string]string, error) {
	snapshot := make(map[string]string, len(inherited)+len(declared))
	for _, name := range inherited {
		trimmedName := strings.TrimSpace(name)
		if len(trimmedName) == 0 {
			continue
		}
		if value, found := builder.ambient(trimmedName); found {
			snapshot[trimmedName] = value
		}
	}

	expander := NewExpander(ChainLookup(MapLookup(snapshot), builder.ambient), builder.homeDirectory)
	for _, variable := range declared {
		expanded, expandError := expander.Expand(variable.Value)
		if expandError != nil {
			return nil, ResolutionError{Name: variable.Name, Cause: expandError}
		}
		snapshot[variable.Name] = expanded
	}
	return snapshot, nil
}
