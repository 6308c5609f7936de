// Package config locates and decodes the up.yaml configuration document.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tyemirov/up/internal/environment"
)

const (
	// DefaultTasksPath is the task directory used when tasks_path is omitted, relative to the document.
	DefaultTasksPath = "tasks"

	variablesNotMappingTemplateConstant = "line %d: env must be a mapping of names to values"
	variableNotScalarTemplateConstant   = "line %d: env value for %s must be a scalar"
	duplicateVariableTemplateConstant   = "line %d: env variable %s declared more than once"
	emptyVariableNameTemplateConstant   = "line %d: env variable name must not be empty"
)

// CommonSettings holds the ambient settings that may also be overridden by UP_* environment variables.
type CommonSettings struct {
	LogLevel  string `yaml:"log_level" mapstructure:"log_level"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format"`
	Workers   int    `yaml:"workers" mapstructure:"workers"`
}

// Document mirrors up.yaml.
type Document struct {
	TasksPath      string         `yaml:"tasks_path"`
	Env            Variables      `yaml:"env"`
	InheritEnv     []string       `yaml:"inherit_env"`
	BootstrapTasks []string       `yaml:"bootstrap_tasks"`
	Common         CommonSettings `yaml:"common"`
}

// Variables keeps env declarations in document order.
type Variables []environment.Variable

// UnmarshalYAML decodes a mapping while preserving key order.
func (variables *Variables) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf(variablesNotMappingTemplateConstant, node.Line)
	}

	declared := make(Variables, 0, len(node.Content)/2)
	seen := make(map[string]struct{}, len(node.Content)/2)
	for index := 0; index+1 < len(node.Content); index += 2 {
		keyNode := node.Content[index]
		valueNode := node.Content[index+1]

		name := strings.TrimSpace(keyNode.Value)
		if len(name) == 0 {
			return fmt.Errorf(emptyVariableNameTemplateConstant, keyNode.Line)
		}
		if _, duplicate := seen[name]; duplicate {
			return fmt.Errorf(duplicateVariableTemplateConstant, keyNode.Line, name)
		}
		if valueNode.Kind != yaml.ScalarNode {
			return fmt.Errorf(variableNotScalarTemplateConstant, valueNode.Line, name)
		}

		seen[name] = struct{}{}
		declared = append(declared, environment.Variable{Name: name, Value: valueNode.Value})
	}

	*variables = declared
	return nil
}

// LoadedDocument couples a decoded document with where it came from.
type LoadedDocument struct {
	Document Document
	// Path is the document location; it is set even when the file does not exist.
	Path  string
	Found bool
}

// TasksDirectory resolves tasks_path against the document's directory.
func (loaded LoadedDocument) TasksDirectory(homeDirectory func() (string, error)) (string, error) {
	tasksPath := strings.TrimSpace(loaded.Document.TasksPath)
	if len(tasksPath) == 0 {
		tasksPath = DefaultTasksPath
	}

	expanded, expandError := environment.NewExpander(nil, homeDirectory).Expand(tasksPath)
	if expandError != nil {
		return "", DocumentError{Path: loaded.Path, Cause: expandError}
	}

	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	return filepath.Join(filepath.Dir(loaded.Path), expanded), nil
}
