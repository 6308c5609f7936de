// Package gitsync implements the git library: it clones or fast-forwards a list of repositories.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tyemirov/up/internal/gitrepo"
	"github.com/tyemirov/up/internal/libraries"
)

const (
	// DefaultRemoteName is used when a repository entry omits remote.
	DefaultRemoteName = "origin"

	remoteReferenceTemplateConstant = "%s/%s"
	headReferenceConstant           = "HEAD"
	repositoryErrorTemplateConstant = "repository %s: %v"
	dirtyWorktreeTemplateConstant   = "cannot fast-forward %s to %s: worktree has uncommitted changes"
	executorMissingMessageConstant  = "git library requires a command executor"
	clonedMessageConstant           = "repository cloned"
	remoteAddedMessageConstant      = "remote added"
	remoteUpdatedMessageConstant    = "remote url updated"
	branchSwitchedMessageConstant   = "branch checked out"
	fastForwardedMessageConstant    = "repository fast-forwarded"
	upToDateMessageConstant         = "repository up to date"
	branchPrunedMessageConstant     = "merged branch deleted"
	pathFieldConstant               = "path"
	remoteFieldConstant             = "remote"
	urlFieldConstant                = "url"
	branchFieldConstant             = "branch"
	fromFieldConstant               = "from"
	toFieldConstant                 = "to"
	upstreamFieldConstant           = "upstream"
	pushFieldConstant               = "push"
)

// ErrCommandExecutorMissing reports a run context without a command executor.
var ErrCommandExecutorMissing = errors.New(executorMissingMessageConstant)

// Repository is one entry of the git payload.
type Repository struct {
	URL    string `mapstructure:"git_url" validate:"required"`
	Path   string `mapstructure:"git_path" validate:"required"`
	Remote string `mapstructure:"remote"`
	Branch string `mapstructure:"branch"`
	// Prune drops stale remote-tracking refs and deletes local branches that were merged upstream after their push branch was deleted.
	Prune bool `mapstructure:"prune"`
}

// RepositoryError ties a failure to the repository path.
type RepositoryError struct {
	Path  string
	Cause error
}

// Error describes the failure.
func (repositoryError RepositoryError) Error() string {
	return fmt.Sprintf(repositoryErrorTemplateConstant, repositoryError.Path, repositoryError.Cause)
}

// Unwrap exposes the git failure.
func (repositoryError RepositoryError) Unwrap() error {
	return repositoryError.Cause
}

// Library synchronizes git checkouts.
type Library struct {
	concurrency int
}

// New constructs the git library updating up to runtime.NumCPU repositories at once.
func New() Library {
	return Library{concurrency: runtime.NumCPU()}
}

// WithConcurrency bounds how many repositories are updated at once.
func (library Library) WithConcurrency(concurrency int) Library {
	if concurrency > 0 {
		library.concurrency = concurrency
	}
	return library
}

// ID identifies the library.
func (Library) ID() libraries.ID {
	return libraries.GitID
}

// Run updates every repository; it reports Passed when any repository changed.
// Failures of individual repositories do not stop the others and are returned together.
func (library Library) Run(executionContext context.Context, runContext libraries.RunContext, payload any) (libraries.Status, error) {
	var repositories []Repository
	if decodeError := libraries.DecodePayload(libraries.GitID, payload, &repositories, true); decodeError != nil {
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
	var (
		mutex          sync.Mutex
		anyChanged     bool
		combinedErrors error
	)

	group := errgroup.Group{}
	group.SetLimit(library.concurrency)
	for _, repository := range repositories {
		group.Go(func() error {
			syncer := repositorySyncer{manager: manager, logger: logger.With(zap.String(pathFieldConstant, repository.Path))}
			changed, syncError := syncer.sync(executionContext, normalize(repository))

			mutex.Lock()
			defer mutex.Unlock()
			anyChanged = anyChanged || changed
			if syncError != nil {
				combinedErrors = multierr.Append(combinedErrors, RepositoryError{Path: repository.Path, Cause: syncError})
			}
			return nil
		})
	}
	_ = group.Wait()

	if combinedErrors != nil {
		return "", combinedErrors
	}
	return libraries.StatusFromChanges(anyChanged), nil
}

func normalize(repository Repository) Repository {
	repository.URL = strings.TrimSpace(repository.URL)
	repository.Path = strings.TrimSpace(repository.Path)
	repository.Remote = strings.TrimSpace(repository.Remote)
	if len(repository.Remote) == 0 {
		repository.Remote = DefaultRemoteName
	}
	repository.Branch = strings.TrimSpace(repository.Branch)
	return repository
}

type repositorySyncer struct {
	manager *gitrepo.RepositoryManager
	logger  *zap.Logger
}

func (syncer repositorySyncer) sync(executionContext context.Context, repository Repository) (bool, error) {
	missing, inspectError := needsClone(repository.Path)
	if inspectError != nil {
		return false, inspectError
	}
	if missing {
		if cloneError := syncer.manager.Clone(executionContext, repository.URL, repository.Path, repository.Remote, repository.Branch); cloneError != nil {
			return false, cloneError
		}
		syncer.logger.Info(clonedMessageConstant, zap.String(urlFieldConstant, repository.URL))
		return true, nil
	}

	changed, remoteError := syncer.ensureRemote(executionContext, repository)
	if remoteError != nil {
		return changed, remoteError
	}

	if fetchError := syncer.manager.Fetch(executionContext, repository.Path, repository.Remote, repository.Prune); fetchError != nil {
		return changed, fetchError
	}

	if repository.Prune {
		pruned, pruneError := syncer.pruneMergedBranches(executionContext, repository)
		changed = changed || pruned
		if pruneError != nil {
			return changed, pruneError
		}
	}

	branchChanged, branch, branchError := syncer.ensureBranch(executionContext, repository)
	changed = changed || branchChanged
	if branchError != nil {
		return changed, branchError
	}

	forwarded, forwardError := syncer.fastForward(executionContext, repository, branch)
	return changed || forwarded, forwardError
}

func (syncer repositorySyncer) ensureRemote(executionContext context.Context, repository Repository) (bool, error) {
	remotes, listError := syncer.manager.ListRemotes(executionContext, repository.Path)
	if listError != nil {
		return false, listError
	}

	for _, remote := range remotes {
		if remote != repository.Remote {
			continue
		}
		currentURL, urlError := syncer.manager.GetRemoteURL(executionContext, repository.Path, repository.Remote)
		if urlError != nil {
			return false, urlError
		}
		if currentURL == repository.URL {
			return false, nil
		}
		if setError := syncer.manager.SetRemoteURL(executionContext, repository.Path, repository.Remote, repository.URL); setError != nil {
			return false, setError
		}
		syncer.logger.Info(remoteUpdatedMessageConstant, zap.String(remoteFieldConstant, repository.Remote), zap.String(fromFieldConstant, currentURL), zap.String(toFieldConstant, repository.URL))
		return true, nil
	}

	if addError := syncer.manager.AddRemote(executionContext, repository.Path, repository.Remote, repository.URL); addError != nil {
		return false, addError
	}
	syncer.logger.Info(remoteAddedMessageConstant, zap.String(remoteFieldConstant, repository.Remote), zap.String(urlFieldConstant, repository.URL))
	return true, nil
}

// pruneMergedBranches deletes local branches whose push branch is gone from its remote and
// whose commits are already contained in their upstream. The checked-out branch is never touched.
func (syncer repositorySyncer) pruneMergedBranches(executionContext context.Context, repository Repository) (bool, error) {
	currentBranch, branchError := syncer.manager.GetCurrentBranch(executionContext, repository.Path)
	if branchError != nil {
		return false, branchError
	}
	branches, listError := syncer.manager.LocalBranches(executionContext, repository.Path)
	if listError != nil {
		return false, listError
	}

	pruned := false
	for _, branch := range branches {
		if branch.Name == currentBranch || branch.Name == repository.Branch {
			continue
		}
		if !branch.PushGone || len(branch.Upstream) == 0 || branch.UpstreamGone || branch.Upstream == branch.Push {
			continue
		}
		merged, mergedError := syncer.manager.IsAncestor(executionContext, repository.Path, branch.Name, branch.Upstream)
		if mergedError != nil {
			return pruned, mergedError
		}
		if !merged {
			continue
		}
		if deleteError := syncer.manager.DeleteBranch(executionContext, repository.Path, branch.Name); deleteError != nil {
			return pruned, deleteError
		}
		syncer.logger.Info(branchPrunedMessageConstant, zap.String(branchFieldConstant, branch.Name), zap.String(upstreamFieldConstant, branch.Upstream), zap.String(pushFieldConstant, branch.Push))
		pruned = true
	}
	return pruned, nil
}

func (syncer repositorySyncer) ensureBranch(executionContext context.Context, repository Repository) (bool, string, error) {
	currentBranch, branchError := syncer.manager.GetCurrentBranch(executionContext, repository.Path)
	if branchError != nil {
		return false, "", branchError
	}
	if len(repository.Branch) == 0 || repository.Branch == currentBranch {
		return false, currentBranch, nil
	}

	clean, cleanError := syncer.manager.CheckCleanWorktree(executionContext, repository.Path)
	if cleanError != nil {
		return false, currentBranch, cleanError
	}
	if !clean {
		return false, currentBranch, fmt.Errorf(dirtyWorktreeTemplateConstant, repository.Path, repository.Branch)
	}
	if checkoutError := syncer.manager.CheckoutBranch(executionContext, repository.Path, repository.Branch); checkoutError != nil {
		return false, currentBranch, checkoutError
	}
	syncer.logger.Info(branchSwitchedMessageConstant, zap.String(fromFieldConstant, currentBranch), zap.String(toFieldConstant, repository.Branch))
	return true, repository.Branch, nil
}

func (syncer repositorySyncer) fastForward(executionContext context.Context, repository Repository, branch string) (bool, error) {
	upstreamReference := fmt.Sprintf(remoteReferenceTemplateConstant, repository.Remote, branch)

	headCommit, headError := syncer.manager.ResolveCommit(executionContext, repository.Path, headReferenceConstant)
	if headError != nil {
		return false, headError
	}
	upstreamCommit, upstreamError := syncer.manager.ResolveCommit(executionContext, repository.Path, upstreamReference)
	if upstreamError != nil {
		return false, upstreamError
	}
	if headCommit == upstreamCommit {
		syncer.logger.Debug(upToDateMessageConstant, zap.String(branchFieldConstant, branch))
		return false, nil
	}

	clean, cleanError := syncer.manager.CheckCleanWorktree(executionContext, repository.Path)
	if cleanError != nil {
		return false, cleanError
	}
	if !clean {
		return false, fmt.Errorf(dirtyWorktreeTemplateConstant, repository.Path, upstreamReference)
	}

	if mergeError := syncer.manager.FastForward(executionContext, repository.Path, upstreamReference); mergeError != nil {
		return false, mergeError
	}

	forwardedCommit, forwardedError := syncer.manager.ResolveCommit(executionContext, repository.Path, headReferenceConstant)
	if forwardedError != nil {
		return false, forwardedError
	}
	if forwardedCommit == headCommit {
		return false, nil
	}
	syncer.logger.Info(fastForwardedMessageConstant, zap.String(branchFieldConstant, branch), zap.String(fromFieldConstant, headCommit), zap.String(toFieldConstant, forwardedCommit))
	return true, nil
}

// needsClone reports whether path is absent or an empty directory.
func needsClone(path string) (bool, error) {
	entries, readError := os.ReadDir(path)
	if errors.Is(readError, fs.ErrNotExist) {
		return true, nil
	}
	if readError != nil {
		return false, readError
	}
	return len(entries) == 0, nil
}
