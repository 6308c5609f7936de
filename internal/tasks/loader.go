package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

const (
	yamlExtensionConstant   = ".yaml"
	ymlExtensionConstant    = ".yml"
	firstDefinitionTemplate = "%w (first defined in %s)"
)

// Loader reads task files from a single directory.
type Loader struct {
	fileSystem afs.Service
}

// NewLoader constructs a Loader; a nil service uses afs.New().
func NewLoader(fileSystem afs.Service) *Loader {
	if fileSystem == nil {
		fileSystem = afs.New()
	}
	return &Loader{fileSystem: fileSystem}
}

// Load decodes every .yaml/.yml file directly inside directory, in file name order.
func (loader *Loader) Load(executionContext context.Context, directory string) ([]TaskDescriptor, error) {
	objects, listError := loader.fileSystem.List(executionContext, directory)
	if listError != nil {
		return nil, ConfigurationError{Kind: ParseErrorKind, Path: directory, Cause: fmt.Errorf("%w: %w", errTaskDirectoryUnlisted, listError)}
	}

	type taskObject struct {
		name string
		url  string
	}
	candidates := make([]taskObject, 0, len(objects))
	for _, object := range objects {
		if object.IsDir() || !isTaskFileName(object.Name()) {
			continue
		}
		candidates = append(candidates, taskObject{name: object.Name(), url: object.URL()})
	}
	sort.Slice(candidates, func(left, right int) bool {
		return candidates[left].name < candidates[right].name
	})

	descriptors := make([]TaskDescriptor, 0, len(candidates))
	definedIn := make(map[string]string, len(candidates))
	for _, candidate := range candidates {
		sourcePath := filepath.Join(directory, candidate.name)
		contents, readError := loader.fileSystem.DownloadWithURL(executionContext, candidate.url)
		if readError != nil {
			return nil, ConfigurationError{Kind: ParseErrorKind, Path: sourcePath, Cause: readError}
		}
		descriptor, parseError := ParseTask(sourcePath, contents)
		if parseError != nil {
			return nil, parseError
		}
		if firstPath, duplicate := definedIn[descriptor.Name]; duplicate {
			return nil, ConfigurationError{Kind: ParseErrorKind, Path: sourcePath, Cause: fmt.Errorf(firstDefinitionTemplate, fmt.Errorf("%w: %s", errDuplicateTaskName, descriptor.Name), firstPath)}
		}
		definedIn[descriptor.Name] = sourcePath
		descriptors = append(descriptors, descriptor)
	}
	return descriptors, nil
}

// ParseTask strictly decodes one task file.
func ParseTask(sourcePath string, contents []byte) (TaskDescriptor, error) {
	var file taskFile
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	if decodeError := decoder.Decode(&file); decodeError != nil {
		if errors.Is(decodeError, io.EOF) {
			decodeError = errEmptyTaskFile
		}
		return TaskDescriptor{}, ConfigurationError{Kind: ParseErrorKind, Path: sourcePath, Cause: decodeError}
	}
	return file.descriptor(sourcePath)
}

func isTaskFileName(name string) bool {
	extension := strings.ToLower(filepath.Ext(name))
	return extension == yamlExtensionConstant || extension == ymlExtensionConstant
}
