// Package generategit implements the generate_git library, which writes a git task file describing local checkouts.
package generategit

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tyemirov/up/internal/gitrepo"
	"github.com/tyemirov/up/internal/libraries"
)

const (
	homeVariableConstant           = "HOME"
	gitDirectoryNameConstant       = ".git"
	runLibraryKeyConstant          = "run_lib"
	dataKeyConstant                = "data"
	yamlStringTagConstant          = "!!str"
	yamlIndentConstant             = 2
	executorMissingMessage         = "generate_git library requires a command executor"
	repositoryFoundMessage         = "repository found"
	repositoryWithoutRemoteMessage = "repository has no remotes, leaving it out"
	taskFileCurrentMessage         = "git task file already current"
	taskFileWrittenMessage         = "git task file written"
	pathFieldConstant              = "path"
	repositoriesFieldConstant      = "repositories"
)

// ErrCommandExecutorMissing reports a run context without a command executor.
var ErrCommandExecutorMissing = errors.New(executorMissingMessage)

// Target is one entry of the generate_git payload.
type Target struct {
	Path        string   `mapstructure:"path" validate:"required"`
	SearchPaths []string `mapstructure:"search_paths"`
	Excludes    []string `mapstructure:"excludes"`
	Prune       bool     `mapstructure:"prune"`
	RemoteOrder []string `mapstructure:"remote_order"`
}

// repositoryEntry mirrors one element of the git library payload.
type repositoryEntry struct {
	Path   string `yaml:"git_path"`
	URL    string `yaml:"git_url"`
	Remote string `yaml:"remote"`
	Prune  bool   `yaml:"prune,omitempty"`
}

// Library scans directories for git checkouts and records them in a git task file.
type Library struct {
	fileSystem afs.Service
}

// New constructs the generate_git library.
func New(fileSystem afs.Service) Library {
	if fileSystem == nil {
		fileSystem = afs.New()
	}
	return Library{fileSystem: fileSystem}
}

// ID identifies the library.
func (Library) ID() libraries.ID {
	return libraries.GenerateGitID
}

// Run regenerates every target file and reports Passed when any file changed.
func (library Library) Run(executionContext context.Context, runContext libraries.RunContext, payload any) (libraries.Status, error) {
	var targets []Target
	if decodeError := libraries.DecodePayload(libraries.GenerateGitID, payload, &targets, true); decodeError != nil {
		return "", decodeError
	}
	if runContext.Commands == nil {
		return "", ErrCommandExecutorMissing
	}
	manager, managerError := gitrepo.NewRepositoryManager(runContext.Commands)
	if managerError != nil {
		return "", managerError
	}

	logger := runContext.LoggerOrNop()
	changed := false
	for _, target := range targets {
		entries, scanError := library.collect(executionContext, runContext, manager, target, logger)
		if scanError != nil {
			return "", scanError
		}
		written, writeError := library.write(executionContext, target.Path, entries)
		if writeError != nil {
			return "", writeError
		}
		if written {
			logger.Info(taskFileWrittenMessage, zap.String(pathFieldConstant, target.Path), zap.Int(repositoriesFieldConstant, len(entries)))
		} else {
			logger.Debug(taskFileCurrentMessage, zap.String(pathFieldConstant, target.Path))
		}
		changed = changed || written
	}
	return libraries.StatusFromChanges(changed), nil
}

func (library Library) collect(executionContext context.Context, runContext libraries.RunContext, manager *gitrepo.RepositoryManager, target Target, logger *zap.Logger) ([]repositoryEntry, error) {
	searchPaths := target.SearchPaths
	if len(searchPaths) == 0 {
		homeDirectory, homeError := homeDirectory(runContext)
		if homeError != nil {
			return nil, homeError
		}
		searchPaths = []string{homeDirectory}
	}
	repositoryPaths := findRepositories(searchPaths, target.Excludes)

	entries := make([]repositoryEntry, 0, len(repositoryPaths))
	for _, repositoryPath := range repositoryPaths {
		remotes, listError := manager.ListRemotes(executionContext, repositoryPath)
		if listError != nil {
			return nil, listError
		}
		if len(remotes) == 0 {
			logger.Debug(repositoryWithoutRemoteMessage, zap.String(pathFieldConstant, repositoryPath))
			continue
		}
		remote := orderRemotes(remotes, target.RemoteOrder)[0]
		remoteURL, urlError := manager.GetRemoteURL(executionContext, repositoryPath, remote)
		if urlError != nil {
			return nil, urlError
		}
		logger.Debug(repositoryFoundMessage, zap.String(pathFieldConstant, repositoryPath))
		entries = append(entries, repositoryEntry{Path: repositoryPath, URL: remoteURL, Remote: remote, Prune: target.Prune})
	}
	return entries, nil
}

func homeDirectory(runContext libraries.RunContext) (string, error) {
	if home := strings.TrimSpace(runContext.Environment[homeVariableConstant]); len(home) > 0 {
		return home, nil
	}
	return os.UserHomeDir()
}

// findRepositories walks each search path and returns sorted checkout roots without descending into them.
func findRepositories(searchPaths []string, excludes []string) []string {
	found := make(map[string]struct{})
	for _, searchPath := range searchPaths {
		root := filepath.Clean(strings.TrimSpace(searchPath))
		if len(strings.TrimSpace(searchPath)) == 0 {
			continue
		}
		_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkError error) error {
			if walkError != nil {
				if entry != nil && entry.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if !entry.IsDir() {
				return nil
			}
			if isExcluded(path, excludes) {
				return fs.SkipDir
			}
			if entry.Name() == gitDirectoryNameConstant {
				return fs.SkipDir
			}
			if hasGitDirectory(path) {
				found[path] = struct{}{}
				return fs.SkipDir
			}
			return nil
		})
	}

	paths := make([]string, 0, len(found))
	for path := range found {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func hasGitDirectory(path string) bool {
	_, statError := os.Stat(filepath.Join(path, gitDirectoryNameConstant))
	return statError == nil
}

func isExcluded(path string, excludes []string) bool {
	for _, exclude := range excludes {
		if trimmed := strings.TrimSpace(exclude); len(trimmed) > 0 && strings.Contains(path, trimmed) {
			return true
		}
	}
	return false
}

// orderRemotes puts remotes named in preferred first, in that order, followed by the rest alphabetically.
func orderRemotes(remotes []string, preferred []string) []string {
	available := make(map[string]struct{}, len(remotes))
	for _, remote := range remotes {
		available[remote] = struct{}{}
	}

	ordered := make([]string, 0, len(remotes))
	for _, remote := range preferred {
		if _, present := available[remote]; present {
			ordered = append(ordered, remote)
			delete(available, remote)
		}
	}
	rest := make([]string, 0, len(available))
	for remote := range available {
		rest = append(rest, remote)
	}
	sort.Strings(rest)
	return append(ordered, rest...)
}

// write merges entries into the task file's data key and reports whether the file changed.
func (library Library) write(executionContext context.Context, path string, entries []repositoryEntry) (bool, error) {
	var existing []byte
	exists, existsError := library.fileSystem.Exists(executionContext, path)
	if existsError != nil {
		return false, existsError
	}
	if exists {
		contents, readError := library.fileSystem.DownloadWithURL(executionContext, path)
		if readError != nil {
			return false, readError
		}
		existing = contents
	}

	rendered, renderError := render(existing, entries)
	if renderError != nil {
		return false, renderError
	}
	if exists && bytes.Equal(existing, rendered) {
		return false, nil
	}
	if uploadError := library.fileSystem.Upload(executionContext, path, file.DefaultFileOsMode, bytes.NewReader(rendered)); uploadError != nil {
		return false, uploadError
	}
	return true, nil
}

func render(existing []byte, entries []repositoryEntry) ([]byte, error) {
	var document yaml.Node
	if len(bytes.TrimSpace(existing)) > 0 {
		if decodeError := yaml.Unmarshal(existing, &document); decodeError != nil {
			return nil, decodeError
		}
	}
	if document.Kind != yaml.DocumentNode || len(document.Content) == 0 || document.Content[0].Kind != yaml.MappingNode {
		document = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	root := document.Content[0]

	if mappingValue(root, runLibraryKeyConstant) == nil {
		setMappingValue(root, runLibraryKeyConstant, &yaml.Node{Kind: yaml.ScalarNode, Tag: yamlStringTagConstant, Value: string(libraries.GitID)})
	}

	var dataNode yaml.Node
	if encodeError := dataNode.Encode(entries); encodeError != nil {
		return nil, encodeError
	}
	setMappingValue(root, dataKeyConstant, &dataNode)

	var buffer bytes.Buffer
	encoder := yaml.NewEncoder(&buffer)
	encoder.SetIndent(yamlIndentConstant)
	if encodeError := encoder.Encode(&document); encodeError != nil {
		return nil, encodeError
	}
	if closeError := encoder.Close(); closeError != nil {
		return nil, closeError
	}
	return buffer.Bytes(), nil
}

func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	for index := 0; index+1 < len(mapping.Content); index += 2 {
		if mapping.Content[index].Value == key {
			return mapping.Content[index+1]
		}
	}
	return nil
}

func setMappingValue(mapping *yaml.Node, key string, value *yaml.Node) {
	for index := 0; index+1 < len(mapping.Content); index += 2 {
		if mapping.Content[index].Value == key {
			mapping.Content[index+1] = value
			return
		}
	}
	mapping.Content = append(mapping.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: yamlStringTagConstant, Value: key}, value)
}
