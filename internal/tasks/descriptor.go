package tasks

import (
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tyemirov/up/internal/libraries"
)

// Action is the main work of a task: a ShellAction or a LibraryAction.
type Action interface {
	actionKind() string
}

// ShellAction runs an argv vector.
type ShellAction struct {
	Argv []string
}

func (ShellAction) actionKind() string { return "run_cmd" }

// LibraryAction dispatches to a built-in library with an opaque payload.
type LibraryAction struct {
	Library libraries.ID
	Payload any
}

func (LibraryAction) actionKind() string { return "run_lib" }

// TaskDescriptor is a validated task definition.
type TaskDescriptor struct {
	Name        string
	Description string
	SourcePath  string
	// Gate is the optional run_if_cmd argv.
	Gate        []string
	Action      Action
	Requires    []string
	Constraints map[string]string
	AutoRun     bool
	NeedsSudo   bool
}

// taskFile mirrors the on-disk YAML layout.
type taskFile struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Constraints map[string]string `yaml:"constraints"`
	Requires    []string          `yaml:"requires"`
	AutoRun     *bool             `yaml:"auto_run"`
	RunLib      *string           `yaml:"run_lib"`
	Data        yaml.Node         `yaml:"data"`
	RunCmd      []string          `yaml:"run_cmd"`
	RunIfCmd    []string          `yaml:"run_if_cmd"`
	NeedsSudo   bool              `yaml:"needs_sudo"`
}

func (file taskFile) hasData() bool {
	return file.Data.Kind != 0
}

func taskNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (file taskFile) descriptor(sourcePath string) (TaskDescriptor, error) {
	name := strings.TrimSpace(file.Name)
	if len(name) == 0 && len(file.Name) == 0 {
		name = taskNameFromPath(sourcePath)
	}
	invalid := func(cause error) (TaskDescriptor, error) {
		return TaskDescriptor{}, ConfigurationError{Kind: InvalidTaskKind, Task: name, Path: sourcePath, Cause: cause}
	}
	if len(name) == 0 {
		return invalid(errNameMissing)
	}

	descriptor := TaskDescriptor{
		Name:        name,
		Description: strings.TrimSpace(file.Description),
		SourcePath:  sourcePath,
		Constraints: file.Constraints,
		AutoRun:     file.AutoRun == nil || *file.AutoRun,
		NeedsSudo:   file.NeedsSudo,
	}

	hasLibrary := file.RunLib != nil
	hasCommand := file.RunCmd != nil
	switch {
	case hasLibrary && hasCommand:
		return invalid(errActionAmbiguous)
	case !hasLibrary && !hasCommand:
		return invalid(errActionMissing)
	case file.hasData() && !hasLibrary:
		return invalid(errDataWithoutLibrary)
	}

	if hasLibrary {
		libraryID := strings.TrimSpace(*file.RunLib)
		if len(libraryID) == 0 {
			return invalid(errLibraryNameEmpty)
		}
		var payload any
		if file.hasData() {
			if decodeError := file.Data.Decode(&payload); decodeError != nil {
				return TaskDescriptor{}, ConfigurationError{Kind: ParseErrorKind, Path: sourcePath, Cause: decodeError}
			}
		}
		descriptor.Action = LibraryAction{Library: libraries.ID(libraryID), Payload: payload}
	} else {
		if len(file.RunCmd) == 0 {
			return invalid(errCommandEmpty)
		}
		descriptor.Action = ShellAction{Argv: append([]string{}, file.RunCmd...)}
	}

	if file.RunIfCmd != nil {
		if len(file.RunIfCmd) == 0 {
			return invalid(errGateEmpty)
		}
		descriptor.Gate = append([]string{}, file.RunIfCmd...)
	}

	seen := make(map[string]struct{}, len(file.Requires))
	for _, dependency := range file.Requires {
		trimmed := strings.TrimSpace(dependency)
		if len(trimmed) == 0 {
			continue
		}
		if trimmed == name {
			return invalid(errSelfDependency)
		}
		if _, duplicate := seen[trimmed]; duplicate {
			continue
		}
		seen[trimmed] = struct{}{}
		descriptor.Requires = append(descriptor.Requires, trimmed)
	}

	return descriptor, nil
}
