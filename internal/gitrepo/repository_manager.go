package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tyemirov/up/internal/execshell"
)

const (
	gitCloneSubcommandConstant                = "clone"
	gitOriginFlagConstant                     = "--origin"
	gitBranchFlagConstant                     = "--branch"
	gitFetchSubcommandConstant                = "fetch"
	gitPruneFlagConstant                      = "--prune"
	gitMergeSubcommandConstant                = "merge"
	gitFastForwardOnlyFlagConstant            = "--ff-only"
	gitStatusSubcommandConstant               = "status"
	gitStatusPorcelainFlagConstant            = "--porcelain"
	gitRevParseSubcommandConstant             = "rev-parse"
	gitVerifyFlagConstant                     = "--verify"
	gitAbbrevRefFlagConstant                  = "--abbrev-ref"
	gitHeadReferenceConstant                  = "HEAD"
	gitCheckoutSubcommandConstant             = "checkout"
	gitRemoteSubcommandConstant               = "remote"
	gitRemoteAddSubcommandConstant            = "add"
	gitRemoteGetURLSubcommandConstant         = "get-url"
	gitRemoteSetURLSubcommandConstant         = "set-url"
	gitForEachRefSubcommandConstant           = "for-each-ref"
	gitLocalBranchFormatConstant              = "--format=%(refname:short)%09%(upstream:short)%09%(upstream:track)%09%(push:short)%09%(push:track)"
	gitLocalBranchNamespaceConstant           = "refs/heads"
	gitMergeBaseSubcommandConstant            = "merge-base"
	gitIsAncestorFlagConstant                 = "--is-ancestor"
	gitBranchSubcommandConstant               = "branch"
	gitForceDeleteFlagConstant                = "-D"
	gitGoneTrackingConstant                   = "[gone]"
	gitNotAncestorExitCodeConstant            = 1
	localBranchFieldCountConstant             = 5
	gitTerminalPromptEnvironmentNameConstant  = "GIT_TERMINAL_PROMPT"
	gitTerminalPromptDisabledValueConstant    = "0"
	repositoryPathFieldNameConstant           = "repository_path"
	branchNameFieldNameConstant               = "branch_name"
	referenceFieldNameConstant                = "reference"
	remoteNameFieldNameConstant               = "remote_name"
	remoteURLFieldNameConstant                = "remote_url"
	requiredValueMessageConstant              = "value required"
	executorNotConfiguredMessageConstant      = "git executor not configured"
	repositoryOperationErrorTemplateConstant  = "%s operation failed"
	repositoryOperationErrorWithCauseConstant = "%s operation failed: %s"
	invalidRepositoryInputTemplateConstant    = "%s: %s"
	cloneOperationNameConstant                = RepositoryOperationName("Clone")
	fetchOperationNameConstant                = RepositoryOperationName("Fetch")
	fastForwardOperationNameConstant          = RepositoryOperationName("FastForward")
	cleanWorktreeOperationNameConstant        = RepositoryOperationName("CheckCleanWorktree")
	resolveCommitOperationNameConstant        = RepositoryOperationName("ResolveCommit")
	checkoutBranchOperationNameConstant       = RepositoryOperationName("CheckoutBranch")
	currentBranchOperationNameConstant        = RepositoryOperationName("GetCurrentBranch")
	listRemotesOperationNameConstant          = RepositoryOperationName("ListRemotes")
	addRemoteOperationNameConstant            = RepositoryOperationName("AddRemote")
	getRemoteURLOperationNameConstant         = RepositoryOperationName("GetRemoteURL")
	setRemoteURLOperationNameConstant         = RepositoryOperationName("SetRemoteURL")
	localBranchesOperationNameConstant        = RepositoryOperationName("LocalBranches")
	isAncestorOperationNameConstant           = RepositoryOperationName("IsAncestor")
	deleteBranchOperationNameConstant         = RepositoryOperationName("DeleteBranch")
)

// LocalBranch describes a local branch together with the remote-tracking references it pulls from and pushes to.
type LocalBranch struct {
	Name         string
	Upstream     string
	UpstreamGone bool
	Push         string
	// PushGone reports that Push names a remote-tracking reference the remote has deleted.
	PushGone bool
}

// GitCommandExecutor exposes the subset of execshell functionality required by RepositoryManager.
type GitCommandExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// RepositoryManager coordinates Git operations through execshell.
type RepositoryManager struct {
	executor GitCommandExecutor
}

var (
	// ErrGitExecutorNotConfigured indicates the RepositoryManager was constructed without a git executor.
	ErrGitExecutorNotConfigured = errors.New(executorNotConfiguredMessageConstant)
)

// InvalidRepositoryInputError indicates validation failures for repository operations.
type InvalidRepositoryInputError struct {
	FieldName string
	Message   string
}

// Error describes the validation failure.
func (inputError InvalidRepositoryInputError) Error() string {
	return fmt.Sprintf(invalidRepositoryInputTemplateConstant, inputError.FieldName, inputError.Message)
}

// RepositoryOperationName captures descriptive names for repository operations.
type RepositoryOperationName string

// RepositoryOperationError wraps execution failures for git operations.
type RepositoryOperationError struct {
	Operation RepositoryOperationName
	Cause     error
}

// Error describes the repository operation failure.
func (operationError RepositoryOperationError) Error() string {
	if operationError.Cause == nil {
		return fmt.Sprintf(repositoryOperationErrorTemplateConstant, operationError.Operation)
	}
	return fmt.Sprintf(repositoryOperationErrorWithCauseConstant, operationError.Operation, operationError.Cause)
}

// Unwrap exposes the underlying error.
func (operationError RepositoryOperationError) Unwrap() error {
	return operationError.Cause
}

// NewRepositoryManager constructs a RepositoryManager for the provided executor.
func NewRepositoryManager(executor GitCommandExecutor) (*RepositoryManager, error) {
	if executor == nil {
		return nil, ErrGitExecutorNotConfigured
	}
	return &RepositoryManager{executor: executor}, nil
}

// Clone clones remoteURL into repositoryPath, naming the remote and optionally checking out a branch.
func (manager *RepositoryManager) Clone(executionContext context.Context, remoteURL string, repositoryPath string, remoteName string, branchName string) error {
	trimmedURL, urlError := requireValue(remoteURLFieldNameConstant, remoteURL)
	if urlError != nil {
		return urlError
	}
	trimmedPath, pathError := requireValue(repositoryPathFieldNameConstant, repositoryPath)
	if pathError != nil {
		return pathError
	}

	arguments := []string{gitCloneSubcommandConstant}
	if trimmedRemote := strings.TrimSpace(remoteName); len(trimmedRemote) > 0 {
		arguments = append(arguments, gitOriginFlagConstant, trimmedRemote)
	}
	if trimmedBranch := strings.TrimSpace(branchName); len(trimmedBranch) > 0 {
		arguments = append(arguments, gitBranchFlagConstant, trimmedBranch)
	}
	arguments = append(arguments, trimmedURL, trimmedPath)

	_, executionError := manager.run(executionContext, "", arguments)
	if executionError != nil {
		return RepositoryOperationError{Operation: cloneOperationNameConstant, Cause: executionError}
	}
	return nil
}

// Fetch downloads objects and refs from the remote.
func (manager *RepositoryManager) Fetch(executionContext context.Context, repositoryPath string, remoteName string, prune bool) error {
	trimmedPath, pathError := requireValue(repositoryPathFieldNameConstant, repositoryPath)
	if pathError != nil {
		return pathError
	}
	trimmedRemote, remoteError := requireValue(remoteNameFieldNameConstant, remoteName)
	if remoteError != nil {
		return remoteError
	}

	arguments := []string{gitFetchSubcommandConstant}
	if prune {
		arguments = append(arguments, gitPruneFlagConstant)
	}
	arguments = append(arguments, trimmedRemote)

	if _, executionError := manager.run(executionContext, trimmedPath, arguments); executionError != nil {
		return RepositoryOperationError{Operation: fetchOperationNameConstant, Cause: executionError}
	}
	return nil
}

// FastForward merges reference into the current branch, refusing anything but a fast-forward.
func (manager *RepositoryManager) FastForward(executionContext context.Context, repositoryPath string, reference string) error {
	trimmedPath, pathError := requireValue(repositoryPathFieldNameConstant, repositoryPath)
	if pathError != nil {
		return pathError
	}
	trimmedReference, referenceError := requireValue(referenceFieldNameConstant, reference)
	if referenceError != nil {
		return referenceError
	}

	if _, executionError := manager.run(executionContext, trimmedPath, []string{gitMergeSubcommandConstant, gitFastForwardOnlyFlagConstant, trimmedReference}); executionError != nil {
		return RepositoryOperationError{Operation: fastForwardOperationNameConstant, Cause: executionError}
	}
	return nil
}

// CheckCleanWorktree returns true when the repository has no staged or unstaged changes.
func (manager *RepositoryManager) CheckCleanWorktree(executionContext context.Context, repositoryPath string) (bool, error) {
	status, statusError := manager.WorktreeStatus(executionContext, repositoryPath)
	if statusError != nil {
		return false, statusError
	}
	return len(status) == 0, nil
}

// WorktreeStatus returns the porcelain status entries for the repository.
func (manager *RepositoryManager) WorktreeStatus(executionContext context.Context, repositoryPath string) ([]string, error) {
	trimmedPath, pathError := requireValue(repositoryPathFieldNameConstant, repositoryPath)
	if pathError != nil {
		return nil, pathError
	}

	executionResult, executionError := manager.run(executionContext, trimmedPath, []string{gitStatusSubcommandConstant, gitStatusPorcelainFlagConstant})
	if executionError != nil {
		return nil, RepositoryOperationError{Operation: cleanWorktreeOperationNameConstant, Cause: executionError}
	}
	return splitOutputLines(executionResult.StandardOutput), nil
}

// ResolveCommit returns the commit id a reference points to.
func (manager *RepositoryManager) ResolveCommit(executionContext context.Context, repositoryPath string, reference string) (string, error) {
	trimmedPath, pathError := requireValue(repositoryPathFieldNameConstant, repositoryPath)
	if pathError != nil {
		return "", pathError
	}
	trimmedReference, referenceError := requireValue(referenceFieldNameConstant, reference)
	if referenceError != nil {
		return "", referenceError
	}

	executionResult, executionError := manager.run(executionContext, trimmedPath, []string{gitRevParseSubcommandConstant, gitVerifyFlagConstant, trimmedReference})
	if executionError != nil {
		return "", RepositoryOperationError{Operation: resolveCommitOperationNameConstant, Cause: executionError}
	}
	return strings.TrimSpace(executionResult.StandardOutput), nil
}

// CheckoutBranch checks out an existing branch.
func (manager *RepositoryManager) CheckoutBranch(executionContext context.Context, repositoryPath string, branchName string) error {
	trimmedPath, pathError := requireValue(repositoryPathFieldNameConstant, repositoryPath)
	if pathError != nil {
		return pathError
	}
	trimmedBranch, branchError := requireValue(branchNameFieldNameConstant, branchName)
	if branchError != nil {
		return branchError
	}

	if _, executionError := manager.run(executionContext, trimmedPath, []string{gitCheckoutSubcommandConstant, trimmedBranch}); executionError != nil {
		return RepositoryOperationError{Operation: checkoutBranchOperationNameConstant, Cause: executionError}
	}
	return nil
}

// GetCurrentBranch resolves the current branch name.
func (manager *RepositoryManager) GetCurrentBranch(executionContext context.Context, repositoryPath string) (string, error) {
	trimmedPath, pathError := requireValue(repositoryPathFieldNameConstant, repositoryPath)
	if pathError != nil {
		return "", pathError
	}

	executionResult, executionError := manager.run(executionContext, trimmedPath, []string{gitRevParseSubcommandConstant, gitAbbrevRefFlagConstant, gitHeadReferenceConstant})
	if executionError != nil {
		return "", RepositoryOperationError{Operation: currentBranchOperationNameConstant, Cause: executionError}
	}
	return strings.TrimSpace(executionResult.StandardOutput), nil
}

// ListRemotes returns the configured remote names.
func (manager *RepositoryManager) ListRemotes(executionContext context.Context, repositoryPath string) ([]string, error) {
	trimmedPath, pathError := requireValue(repositoryPathFieldNameConstant, repositoryPath)
	if pathError != nil {
		return nil, pathError
	}

	executionResult, executionError := manager.run(executionContext, trimmedPath, []string{gitRemoteSubcommandConstant})
	if executionError != nil {
		return nil, RepositoryOperationError{Operation: listRemotesOperationNameConstant, Cause: executionError}
	}
	return splitOutputLines(executionResult.StandardOutput), nil
}

// AddRemote registers a new remote.
func (manager *RepositoryManager) AddRemote(executionContext context.Context, repositoryPath string, remoteName string, remoteURL string) error {
	return manager.configureRemote(executionContext, addRemoteOperationNameConstant, gitRemoteAddSubcommandConstant, repositoryPath, remoteName, remoteURL)
}

// SetRemoteURL sets the remote URL for a remote.
func (manager *RepositoryManager) SetRemoteURL(executionContext context.Context, repositoryPath string, remoteName string, remoteURL string) error {
	return manager.configureRemote(executionContext, setRemoteURLOperationNameConstant, gitRemoteSetURLSubcommandConstant, repositoryPath, remoteName, remoteURL)
}

// GetRemoteURL returns the configured remote URL for the given remote name.
func (manager *RepositoryManager) GetRemoteURL(executionContext context.Context, repositoryPath string, remoteName string) (string, error) {
	trimmedPath, pathError := requireValue(repositoryPathFieldNameConstant, repositoryPath)
	if pathError != nil {
		return "", pathError
	}
	trimmedRemote, remoteError := requireValue(remoteNameFieldNameConstant, remoteName)
	if remoteError != nil {
		return "", remoteError
	}

	executionResult, executionError := manager.run(executionContext, trimmedPath, []string{gitRemoteSubcommandConstant, gitRemoteGetURLSubcommandConstant, trimmedRemote})
	if executionError != nil {
		return "", RepositoryOperationError{Operation: getRemoteURLOperationNameConstant, Cause: executionError}
	}
	return strings.TrimSpace(executionResult.StandardOutput), nil
}

// LocalBranches lists local branches with their upstream and push references.
func (manager *RepositoryManager) LocalBranches(executionContext context.Context, repositoryPath string) ([]LocalBranch, error) {
	trimmedPath, pathError := requireValue(repositoryPathFieldNameConstant, repositoryPath)
	if pathError != nil {
		return nil, pathError
	}

	executionResult, executionError := manager.run(executionContext, trimmedPath, []string{gitForEachRefSubcommandConstant, gitLocalBranchFormatConstant, gitLocalBranchNamespaceConstant})
	if executionError != nil {
		return nil, RepositoryOperationError{Operation: localBranchesOperationNameConstant, Cause: executionError}
	}

	var branches []LocalBranch
	for _, line := range strings.Split(executionResult.StandardOutput, "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) != localBranchFieldCountConstant || len(strings.TrimSpace(fields[0])) == 0 {
			continue
		}
		branches = append(branches, LocalBranch{
			Name:         strings.TrimSpace(fields[0]),
			Upstream:     strings.TrimSpace(fields[1]),
			UpstreamGone: strings.TrimSpace(fields[2]) == gitGoneTrackingConstant,
			Push:         strings.TrimSpace(fields[3]),
			PushGone:     strings.TrimSpace(fields[4]) == gitGoneTrackingConstant,
		})
	}
	return branches, nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (manager *RepositoryManager) IsAncestor(executionContext context.Context, repositoryPath string, ancestor string, descendant string) (bool, error) {
	trimmedPath, pathError := requireValue(repositoryPathFieldNameConstant, repositoryPath)
	if pathError != nil {
		return false, pathError
	}
	trimmedAncestor, ancestorError := requireValue(referenceFieldNameConstant, ancestor)
	if ancestorError != nil {
		return false, ancestorError
	}
	trimmedDescendant, descendantError := requireValue(referenceFieldNameConstant, descendant)
	if descendantError != nil {
		return false, descendantError
	}

	_, executionError := manager.run(executionContext, trimmedPath, []string{gitMergeBaseSubcommandConstant, gitIsAncestorFlagConstant, trimmedAncestor, trimmedDescendant})
	if executionError == nil {
		return true, nil
	}
	var failedError execshell.CommandFailedError
	if errors.As(executionError, &failedError) && !failedError.Result.Terminated() && failedError.Result.ExitCode == gitNotAncestorExitCodeConstant {
		return false, nil
	}
	return false, RepositoryOperationError{Operation: isAncestorOperationNameConstant, Cause: executionError}
}

// DeleteBranch force-deletes a local branch.
func (manager *RepositoryManager) DeleteBranch(executionContext context.Context, repositoryPath string, branchName string) error {
	trimmedPath, pathError := requireValue(repositoryPathFieldNameConstant, repositoryPath)
	if pathError != nil {
		return pathError
	}
	trimmedBranch, branchError := requireValue(branchNameFieldNameConstant, branchName)
	if branchError != nil {
		return branchError
	}

	if _, executionError := manager.run(executionContext, trimmedPath, []string{gitBranchSubcommandConstant, gitForceDeleteFlagConstant, trimmedBranch}); executionError != nil {
		return RepositoryOperationError{Operation: deleteBranchOperationNameConstant, Cause: executionError}
	}
	return nil
}

func (manager *RepositoryManager) configureRemote(executionContext context.Context, operation RepositoryOperationName, subcommand string, repositoryPath string, remoteName string, remoteURL string) error {
	trimmedPath, pathError := requireValue(repositoryPathFieldNameConstant, repositoryPath)
	if pathError != nil {
		return pathError
	}
	trimmedRemote, remoteError := requireValue(remoteNameFieldNameConstant, remoteName)
	if remoteError != nil {
		return remoteError
	}
	trimmedURL, urlError := requireValue(remoteURLFieldNameConstant, remoteURL)
	if urlError != nil {
		return urlError
	}

	if _, executionError := manager.run(executionContext, trimmedPath, []string{gitRemoteSubcommandConstant, subcommand, trimmedRemote, trimmedURL}); executionError != nil {
		return RepositoryOperationError{Operation: operation, Cause: executionError}
	}
	return nil
}

func (manager *RepositoryManager) run(executionContext context.Context, workingDirectory string, arguments []string) (execshell.ExecutionResult, error) {
	return manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:            arguments,
		WorkingDirectory:     workingDirectory,
		EnvironmentVariables: map[string]string{gitTerminalPromptEnvironmentNameConstant: gitTerminalPromptDisabledValueConstant},
	})
}

func requireValue(fieldName string, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) == 0 {
		return "", InvalidRepositoryInputError{FieldName: fieldName, Message: requiredValueMessageConstant}
	}
	return trimmed, nil
}

func splitOutputLines(output string) []string {
	trimmedOutput := strings.TrimSpace(output)
	if len(trimmedOutput) == 0 {
		return nil
	}
	lines := strings.Split(trimmedOutput, "\n")
	entries := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); len(trimmed) > 0 {
			entries = append(entries, trimmed)
		}
	}
	return entries
}
