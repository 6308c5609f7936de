package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/up/internal/config"
	"github.com/tyemirov/up/internal/environment"
)

const sampleDocumentConstant = `tasks_path: ../shared/tasks
env:
  BIN: ~/bin
  PATH: $BIN:$PATH
inherit_env:
  - USER
  - SSH_AUTH_SOCK
bootstrap_tasks:
  - homebrew
  - rust
common:
  log_level: debug
  log_format: console
  workers: 4
`

func homeResolver(path string) func() (string, error) {
	return func() (string, error) { return path, nil }
}

func TestDecodePreservesEnvOrder(testInstance *testing.T) {
	document, decodeError := config.Decode([]byte(sampleDocumentConstant))
	require.NoError(testInstance, decodeError)

	require.Equal(testInstance, "../shared/tasks", document.TasksPath)
	require.Equal(testInstance, config.Variables{{Name: "BIN", Value: "~/bin"}, {Name: "PATH", Value: "$BIN:$PATH"}}, document.Env)
	require.Equal(testInstance, []string{"USER", "SSH_AUTH_SOCK"}, document.InheritEnv)
	require.Equal(testInstance, []string{"homebrew", "rust"}, document.BootstrapTasks)
	require.Equal(testInstance, config.CommonSettings{LogLevel: "debug", LogFormat: "console", Workers: 4}, document.Common)
}

func TestDecodeRejectsInvalidDocuments(testInstance *testing.T) {
	testCases := []struct {
		name     string
		contents string
	}{
		{name: "unknown_field", contents: "task_path: tasks\n"},
		{name: "malformed", contents: "env: [unterminated\n"},
		{name: "env_not_mapping", contents: "env:\n  - A\n"},
		{name: "env_nested_value", contents: "env:\n  A:\n    B: c\n"},
		{name: "env_duplicate", contents: "env:\n  A: one\n  A: two\n"},
		{name: "unknown_common_field", contents: "common:\n  colour: true\n"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			_, decodeError := config.Decode([]byte(testCase.contents))
			require.Error(testInstance, decodeError)
		})
	}
}

func TestDecodeEmptyDocument(testInstance *testing.T) {
	document, decodeError := config.Decode(nil)
	require.NoError(testInstance, decodeError)
	require.Equal(testInstance, config.Document{}, document)
}

func TestLocatorOrder(testInstance *testing.T) {
	directory := testInstance.TempDir()
	existing := filepath.Join(directory, "custom.yaml")
	require.NoError(testInstance, os.WriteFile(existing, []byte(""), 0o600))

	testCases := []struct {
		name             string
		explicitPath     string
		variables        map[string]string
		expectedLocation config.Location
	}{
		{
			name:             "flag_wins",
			explicitPath:     existing,
			variables:        map[string]string{"UP_CONFIG": "/elsewhere/up.yaml"},
			expectedLocation: config.Location{Path: existing, Explicit: true},
		},
		{
			name:             "environment_variable",
			variables:        map[string]string{"UP_CONFIG": existing, "XDG_CONFIG_HOME": "/xdg"},
			expectedLocation: config.Location{Path: existing, Explicit: true},
		},
		{
			name:             "xdg_config_home",
			variables:        map[string]string{"XDG_CONFIG_HOME": "/xdg"},
			expectedLocation: config.Location{Path: "/xdg/up/up.yaml"},
		},
		{
			name:             "home_directory",
			variables:        map[string]string{},
			expectedLocation: config.Location{Path: "/home/tester/.config/up/up.yaml"},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			locator := config.NewLocator(environment.MapLookup(testCase.variables), homeResolver("/home/tester"))
			location, locateError := locator.Locate(testCase.explicitPath)
			require.NoError(testInstance, locateError)
			require.Equal(testInstance, testCase.expectedLocation, location)
		})
	}
}

func TestLoaderLoad(testInstance *testing.T) {
	directory := testInstance.TempDir()
	documentPath := filepath.Join(directory, "up.yaml")
	require.NoError(testInstance, os.WriteFile(documentPath, []byte(sampleDocumentConstant), 0o600))

	loader := config.NewLoader(nil)
	loaded, loadError := loader.Load(context.Background(), config.Location{Path: documentPath, Explicit: true})
	require.NoError(testInstance, loadError)
	require.True(testInstance, loaded.Found)
	require.Equal(testInstance, []string{"homebrew", "rust"}, loaded.Document.BootstrapTasks)

	tasksDirectory, tasksError := loaded.TasksDirectory(homeResolver("/home/tester"))
	require.NoError(testInstance, tasksError)
	require.Equal(testInstance, filepath.Join(filepath.Dir(directory), "shared", "tasks"), tasksDirectory)
}

func TestLoaderMissingDocuments(testInstance *testing.T) {
	missingPath := filepath.Join(testInstance.TempDir(), "absent.yaml")
	loader := config.NewLoader(nil)

	implicit, implicitError := loader.Load(context.Background(), config.Location{Path: missingPath})
	require.NoError(testInstance, implicitError)
	require.False(testInstance, implicit.Found)
	tasksDirectory, tasksError := implicit.TasksDirectory(homeResolver("/home/tester"))
	require.NoError(testInstance, tasksError)
	require.Equal(testInstance, filepath.Join(filepath.Dir(missingPath), "tasks"), tasksDirectory)

	_, explicitError := loader.Load(context.Background(), config.Location{Path: missingPath, Explicit: true})
	require.ErrorIs(testInstance, explicitError, config.ErrDocumentNotFound)
	var documentError config.DocumentError
	require.ErrorAs(testInstance, explicitError, &documentError)
	require.Equal(testInstance, missingPath, documentError.Path)
}

func TestLoaderRejectsUnknownFields(testInstance *testing.T) {
	documentPath := filepath.Join(testInstance.TempDir(), "up.yaml")
	require.NoError(testInstance, os.WriteFile(documentPath, []byte("surprise: true\n"), 0o600))

	_, loadError := config.NewLoader(nil).Load(context.Background(), config.Location{Path: documentPath})
	require.Error(testInstance, loadError)
	require.IsType(testInstance, config.DocumentError{}, loadError)
}

func TestTasksDirectoryAbsoluteAndHome(testInstance *testing.T) {
	absolute := config.LoadedDocument{Path: "/etc/up/up.yaml", Document: config.Document{TasksPath: "/opt/tasks/"}}
	resolved, resolveError := absolute.TasksDirectory(homeResolver("/home/tester"))
	require.NoError(testInstance, resolveError)
	require.Equal(testInstance, "/opt/tasks", resolved)

	home := config.LoadedDocument{Path: "/etc/up/up.yaml", Document: config.Document{TasksPath: "~/dotfiles/tasks"}}
	resolved, resolveError = home.TasksDirectory(homeResolver("/home/tester"))
	require.NoError(testInstance, resolveError)
	require.Equal(testInstance, "/home/tester/dotfiles/tasks", resolved)
}
