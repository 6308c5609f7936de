// Package selfupdate implements the self library, which replaces the running binary with the latest release.
package selfupdate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/tyemirov/up/internal/execshell"
	"github.com/tyemirov/up/internal/libraries"
	"github.com/tyemirov/up/internal/version"
)

const (
	// LatestReleaseURL is the GitHub API endpoint describing the newest release.
	LatestReleaseURL = "https://api.github.com/repos/tyemirov/up/releases/latest"

	defaultDownloadURLTemplate    = "https://github.com/tyemirov/up/releases/latest/download/up-%s-%s"
	applicationNameConstant       = "up"
	versionFlagConstant           = "--version"
	userAgentHeaderConstant       = "User-Agent"
	acceptHeaderConstant          = "Accept"
	githubJSONMediaTypeConstant   = "application/vnd.github+json"
	executablePermissionsConstant = 0o755
	directoryPermissionsConstant  = 0o755
	downloadPrefixConstant        = "up-download-"
	semverPrefixConstant          = "v"
	unexpectedStatusTemplate      = "GET %s: unexpected status %s"
	executorMissingMessage        = "self library requires a command executor"
	developmentBuildMessage       = "skipping self update of a development build"
	notNewerMessage               = "skipping self update, no newer version available"
	downloadedMessage             = "downloaded release candidate"
	updatedMessage                = "updated executable"
	currentVersionFieldConstant   = "current_version"
	candidateVersionFieldConstant = "candidate_version"
	versionSourceFieldConstant    = "version_source"
	urlFieldConstant              = "url"
	sizeFieldConstant             = "size"
	executableFieldConstant       = "executable"
)

// ErrCommandExecutorMissing reports a run context without a command executor.
var ErrCommandExecutorMissing = errors.New(executorMissingMessage)

// DefaultDownloadURL is the release asset for the running platform.
func DefaultDownloadURL() string {
	return fmt.Sprintf(defaultDownloadURLTemplate, runtime.GOOS, runtime.GOARCH)
}

// Options is the self payload. The payload may be omitted entirely.
type Options struct {
	URL          string `mapstructure:"url" validate:"omitempty,url"`
	AlwaysUpdate bool   `mapstructure:"always_update"`
}

// Dependencies are the collaborators the library needs from the process.
type Dependencies struct {
	HTTPClient       *http.Client
	Release          version.Release
	ExecutablePath   func() (string, error)
	LatestReleaseURL string
	DownloadURL      string
}

// Library downloads and installs newer releases of the running binary.
type Library struct {
	dependencies Dependencies
}

// New constructs the self library. Zero-valued dependencies fall back to the process defaults.
func New(dependencies Dependencies) Library {
	if dependencies.HTTPClient == nil {
		dependencies.HTTPClient = http.DefaultClient
	}
	if dependencies.ExecutablePath == nil {
		dependencies.ExecutablePath = os.Executable
	}
	if len(dependencies.LatestReleaseURL) == 0 {
		dependencies.LatestReleaseURL = LatestReleaseURL
	}
	if len(dependencies.DownloadURL) == 0 {
		dependencies.DownloadURL = DefaultDownloadURL()
	}
	return Library{dependencies: dependencies}
}

// ID identifies the library.
func (Library) ID() libraries.ID {
	return libraries.SelfUpdateID
}

// Run replaces the executable when a newer release is available.
func (library Library) Run(executionContext context.Context, runContext libraries.RunContext, payload any) (libraries.Status, error) {
	options := Options{URL: library.dependencies.DownloadURL}
	if decodeError := libraries.DecodePayload(libraries.SelfUpdateID, payload, &options, false); decodeError != nil {
		return "", decodeError
	}
	if len(strings.TrimSpace(options.URL)) == 0 {
		options.URL = library.dependencies.DownloadURL
	}

	logger := runContext.LoggerOrNop().With(
		zap.String(currentVersionFieldConstant, library.dependencies.Release.Version),
		zap.String(versionSourceFieldConstant, string(library.dependencies.Release.Source)),
	)

	if library.dependencies.Release.Development() && !options.AlwaysUpdate {
		logger.Debug(developmentBuildMessage)
		return libraries.StatusSkipped, nil
	}
	if runContext.Commands == nil {
		return "", ErrCommandExecutorMissing
	}

	if options.URL == library.dependencies.DownloadURL {
		latestTag, latestError := library.latestReleaseTag(executionContext)
		if latestError != nil {
			return "", latestError
		}
		if !library.isNewer(latestTag) {
			logger.Debug(notNewerMessage, zap.String(candidateVersionFieldConstant, latestTag))
			return libraries.StatusSkipped, nil
		}
	}

	candidatePath, downloadError := library.download(executionContext, runContext.TempDirectory, options.URL, logger)
	if downloadError != nil {
		return "", downloadError
	}
	defer os.Remove(candidatePath)

	candidateVersion, versionError := library.candidateVersion(executionContext, runContext.Commands, candidatePath)
	if versionError != nil {
		return "", versionError
	}
	if !library.isNewer(candidateVersion) {
		logger.Debug(notNewerMessage, zap.String(candidateVersionFieldConstant, candidateVersion))
		return libraries.StatusSkipped, nil
	}

	executablePath, executableError := library.resolveExecutable()
	if executableError != nil {
		return "", executableError
	}
	if renameError := os.Rename(candidatePath, executablePath); renameError != nil {
		return "", renameError
	}
	logger.Info(updatedMessage, zap.String(candidateVersionFieldConstant, candidateVersion), zap.String(executableFieldConstant, executablePath))
	return libraries.StatusPassed, nil
}

type releaseResponse struct {
	TagName string `json:"tag_name"`
}

func (library Library) latestReleaseTag(executionContext context.Context) (string, error) {
	request, requestError := library.newRequest(executionContext, library.dependencies.LatestReleaseURL)
	if requestError != nil {
		return "", requestError
	}
	request.Header.Set(acceptHeaderConstant, githubJSONMediaTypeConstant)

	response, responseError := library.dependencies.HTTPClient.Do(request)
	if responseError != nil {
		return "", responseError
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf(unexpectedStatusTemplate, library.dependencies.LatestReleaseURL, response.Status)
	}

	var release releaseResponse
	if decodeError := json.NewDecoder(response.Body).Decode(&release); decodeError != nil {
		return "", decodeError
	}
	return strings.TrimSpace(release.TagName), nil
}

func (library Library) download(executionContext context.Context, temporaryDirectory string, url string, logger *zap.Logger) (string, error) {
	request, requestError := library.newRequest(executionContext, url)
	if requestError != nil {
		return "", requestError
	}
	response, responseError := library.dependencies.HTTPClient.Do(request)
	if responseError != nil {
		return "", responseError
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf(unexpectedStatusTemplate, url, response.Status)
	}

	if mkdirError := os.MkdirAll(temporaryDirectory, directoryPermissionsConstant); mkdirError != nil {
		return "", mkdirError
	}
	candidatePath := filepath.Join(temporaryDirectory, downloadPrefixConstant+uuid.NewString())
	candidateFile, createError := os.OpenFile(candidatePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, executablePermissionsConstant)
	if createError != nil {
		return "", createError
	}
	written, copyError := io.Copy(candidateFile, response.Body)
	closeError := candidateFile.Close()
	if copyError == nil {
		copyError = closeError
	}
	if copyError != nil {
		_ = os.Remove(candidatePath)
		return "", copyError
	}
	if chmodError := os.Chmod(candidatePath, executablePermissionsConstant); chmodError != nil {
		_ = os.Remove(candidatePath)
		return "", chmodError
	}

	logger.Debug(downloadedMessage, zap.String(urlFieldConstant, url), zap.String(sizeFieldConstant, humanize.Bytes(uint64(written))))
	return candidatePath, nil
}

func (library Library) candidateVersion(executionContext context.Context, commands libraries.CommandExecutor, candidatePath string) (string, error) {
	result, executionError := commands.Execute(executionContext, execshell.ShellCommand{
		Name:    execshell.CommandName(candidatePath),
		Details: execshell.CommandDetails{Arguments: []string{versionFlagConstant}},
	})
	if executionError != nil {
		return "", executionError
	}
	reported := strings.TrimSpace(result.StandardOutput)
	reported = strings.TrimSpace(strings.TrimPrefix(reported, applicationNameConstant))
	return reported, nil
}

func (library Library) resolveExecutable() (string, error) {
	executablePath, executableError := library.dependencies.ExecutablePath()
	if executableError != nil {
		return "", executableError
	}
	resolvedPath, resolveError := filepath.EvalSymlinks(executablePath)
	if resolveError != nil {
		return "", resolveError
	}
	return resolvedPath, nil
}

func (library Library) newRequest(executionContext context.Context, url string) (*http.Request, error) {
	request, requestError := http.NewRequestWithContext(executionContext, http.MethodGet, url, nil)
	if requestError != nil {
		return nil, requestError
	}
	request.Header.Set(userAgentHeaderConstant, applicationNameConstant+"/"+library.dependencies.Release.Version)
	return request, nil
}

// isNewer reports whether candidate is a strictly greater semantic version than the running release.
// An unparseable running version is treated as older than any valid candidate.
func (library Library) isNewer(candidate string) bool {
	candidateVersion := canonical(candidate)
	if !semver.IsValid(candidateVersion) {
		return false
	}
	currentVersion := canonical(library.dependencies.Release.Version)
	if !semver.IsValid(currentVersion) {
		return true
	}
	return semver.Compare(candidateVersion, currentVersion) > 0
}

func canonical(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) > 0 && !strings.HasPrefix(trimmed, semverPrefixConstant) {
		trimmed = semverPrefixConstant + trimmed
	}
	return trimmed
}
