package run

import (
	"strings"

	pathutils "github.com/tyemirov/up/internal/utils/path"
)

var tasksDirectorySanitizer = pathutils.NewPathSanitizer()

// CommandConfiguration captures the resolved inputs of a run: where the tasks live and what they see.
type CommandConfiguration struct {
	TasksDirectory string
	// Environment is the snapshot handed to every task.
	Environment    map[string]string
	BootstrapTasks []string
	// Workers is the configured default; the --workers flag wins when given.
	Workers       int
	TempDirectory string
}

// Sanitize normalizes configuration values.
func (configuration CommandConfiguration) Sanitize() CommandConfiguration {
	sanitized := configuration
	sanitized.TasksDirectory = tasksDirectorySanitizer.Normalize(configuration.TasksDirectory)
	sanitized.TempDirectory = strings.TrimSpace(configuration.TempDirectory)
	bootstrapTasks := make([]string, 0, len(configuration.BootstrapTasks))
	for _, name := range configuration.BootstrapTasks {
		if trimmed := strings.TrimSpace(name); len(trimmed) > 0 {
			bootstrapTasks = append(bootstrapTasks, trimmed)
		}
	}
	sanitized.BootstrapTasks = bootstrapTasks
	if sanitized.Workers < 0 {
		sanitized.Workers = 0
	}
	return sanitized
}
