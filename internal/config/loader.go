package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/tyemirov/up/internal/environment"
	pathutils "github.com/tyemirov/up/internal/utils/path"
)

const (
	// ConfigEnvironmentVariable names the variable consulted when --config is not given.
	ConfigEnvironmentVariable = "UP_CONFIG"

	xdgConfigHomeVariableConstant  = "XDG_CONFIG_HOME"
	applicationDirectoryConstant   = "up"
	documentFileNameConstant       = "up.yaml"
	userConfigDirectoryConstant    = ".config"
	documentErrorTemplateConstant  = "config %s: %v"
	missingDocumentMessageConstant = "explicitly requested config file does not exist"
)

// ErrDocumentNotFound indicates an explicitly requested document is missing.
var ErrDocumentNotFound = errors.New(missingDocumentMessageConstant)

// DocumentError reports a failure to locate, read or decode the configuration document.
type DocumentError struct {
	Path  string
	Cause error
}

// Error describes the failure.
func (documentError DocumentError) Error() string {
	return fmt.Sprintf(documentErrorTemplateConstant, documentError.Path, documentError.Cause)
}

// Unwrap exposes the underlying failure.
func (documentError DocumentError) Unwrap() error {
	return documentError.Cause
}

// Location is a resolved document path.
type Location struct {
	Path string
	// Explicit is true when the path came from --config or UP_CONFIG and therefore must exist.
	Explicit bool
}

// Locator resolves the document path: --config, then $UP_CONFIG, then $XDG_CONFIG_HOME/up/up.yaml, then ~/.config/up/up.yaml.
type Locator struct {
	lookup        environment.LookupFunc
	homeDirectory pathutils.HomeDirectoryResolver
}

// NewLocator constructs a Locator.
func NewLocator(lookup environment.LookupFunc, homeDirectory pathutils.HomeDirectoryResolver) Locator {
	return Locator{lookup: lookup, homeDirectory: homeDirectory}
}

// Locate returns the document location for an optional explicit path.
func (locator Locator) Locate(explicitPath string) (Location, error) {
	expander := environment.NewExpander(locator.lookup, locator.homeDirectory)

	if trimmed := strings.TrimSpace(explicitPath); len(trimmed) > 0 {
		return locator.explicitLocation(expander, trimmed)
	}

	if locator.lookup != nil {
		if configured, found := locator.lookup(ConfigEnvironmentVariable); found && len(strings.TrimSpace(configured)) > 0 {
			return locator.explicitLocation(expander, strings.TrimSpace(configured))
		}
		if xdgHome, found := locator.lookup(xdgConfigHomeVariableConstant); found && len(strings.TrimSpace(xdgHome)) > 0 {
			return Location{Path: filepath.Join(strings.TrimSpace(xdgHome), applicationDirectoryConstant, documentFileNameConstant)}, nil
		}
	}

	home, homeError := expander.Expand("~")
	if homeError != nil {
		return Location{}, DocumentError{Path: documentFileNameConstant, Cause: homeError}
	}
	return Location{Path: filepath.Join(home, userConfigDirectoryConstant, applicationDirectoryConstant, documentFileNameConstant)}, nil
}

func (locator Locator) explicitLocation(expander *environment.Expander, path string) (Location, error) {
	expanded, expandError := expander.Expand(path)
	if expandError != nil {
		return Location{}, DocumentError{Path: path, Cause: expandError}
	}
	absolute, absoluteError := filepath.Abs(expanded)
	if absoluteError != nil {
		return Location{}, DocumentError{Path: path, Cause: absoluteError}
	}
	return Location{Path: absolute, Explicit: true}, nil
}

// Loader reads and strictly decodes documents.
type Loader struct {
	fileSystem afs.Service
}

// NewLoader constructs a Loader backed by the supplied file system service.
func NewLoader(fileSystem afs.Service) Loader {
	if fileSystem == nil {
		fileSystem = afs.New()
	}
	return Loader{fileSystem: fileSystem}
}

// Load reads the document at location. A missing implicit document yields defaults.
func (loader Loader) Load(executionContext context.Context, location Location) (LoadedDocument, error) {
	loaded := LoadedDocument{Path: location.Path}

	exists, existsError := loader.fileSystem.Exists(executionContext, location.Path)
	if existsError != nil {
		return LoadedDocument{}, DocumentError{Path: location.Path, Cause: existsError}
	}
	if !exists {
		if location.Explicit {
			return LoadedDocument{}, DocumentError{Path: location.Path, Cause: ErrDocumentNotFound}
		}
		return loaded, nil
	}

	contents, readError := loader.fileSystem.DownloadWithURL(executionContext, location.Path)
	if readError != nil {
		return LoadedDocument{}, DocumentError{Path: location.Path, Cause: readError}
	}

	document, decodeError := Decode(contents)
	if decodeError != nil {
		return LoadedDocument{}, DocumentError{Path: location.Path, Cause: decodeError}
	}

	loaded.Document = document
	loaded.Found = true
	return loaded, nil
}

// Decode strictly decodes document bytes; unknown fields are rejected and an empty document yields defaults.
func Decode(contents []byte) (Document, error) {
	var document Document
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	if decodeError := decoder.Decode(&document); decodeError != nil && !errors.Is(decodeError, io.EOF) {
		return Document{}, decodeError
	}
	return document, nil
}
