// Package link implements the link library: it mirrors a directory tree as symlinks.
package link

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/tyemirov/up/internal/libraries"
)

const (
	backupDirectoryNameConstant  = "backup"
	linkDirectoryNameConstant    = "link"
	directoryPermissionsConstant = 0o755

	linkErrorTemplateConstant     = "%s %s: %v"
	missingDirectoryTemplate      = "%s directory %s does not exist"
	ancestorIsDirectoryTemplate   = "cannot create parent of %s: %s is already a directory"
	operationResolveConstant      = "resolve"
	operationCreateDirectoryConst = "create directory"
	operationBackupConstant       = "back up"
	operationRemoveConstant       = "remove"
	operationReadLinkConstant     = "read link"
	operationSymlinkConstant      = "symlink"
	operationWalkConstant         = "walk"
	fromDirectoryLabelConstant    = "from"
	toDirectoryLabelConstant      = "to"
	linkCreatedMessageConstant    = "link created"
	linkCurrentMessageConstant    = "link already current"
	linkReplacedMessageConstant   = "replacing link with different target"
	backupMessageConstant         = "moving existing path to backup"
	backupNotEmptyMessageConstant = "backup directory not empty, check its contents"
	linkSummaryMessageConstant    = "link complete"
	fromFieldConstant             = "from"
	toFieldConstant               = "to"
	previousFieldConstant         = "previous_target"
	backupFieldConstant           = "backup"
	createdFieldConstant          = "created"
)

// Options is the link payload.
type Options struct {
	FromDirectory string `mapstructure:"from_dir" validate:"required"`
	ToDirectory   string `mapstructure:"to_dir" validate:"required"`
}

// Error wraps a filesystem failure with the operation and path involved.
type Error struct {
	Operation string
	Path      string
	Cause     error
}

// Error describes the failure.
func (linkError Error) Error() string {
	return fmt.Sprintf(linkErrorTemplateConstant, linkError.Operation, linkError.Path, linkError.Cause)
}

// Unwrap exposes the filesystem error.
func (linkError Error) Unwrap() error {
	return linkError.Cause
}

// Library symlinks every file under from_dir into the same relative location under to_dir.
type Library struct{}

// New constructs the link library.
func New() Library {
	return Library{}
}

// ID identifies the library.
func (Library) ID() libraries.ID {
	return libraries.LinkID
}

// Run links files and reports Passed when at least one link was created or replaced.
func (library Library) Run(_ context.Context, runContext libraries.RunContext, payload any) (libraries.Status, error) {
	var options Options
	if decodeError := libraries.DecodePayload(libraries.LinkID, payload, &options, true); decodeError != nil {
		return "", decodeError
	}

	logger := runContext.LoggerOrNop()

	fromDirectory, fromError := resolveDirectory(options.FromDirectory, fromDirectoryLabelConstant)
	if fromError != nil {
		return "", fromError
	}
	toDirectory, toError := resolveDirectory(options.ToDirectory, toDirectoryLabelConstant)
	if toError != nil {
		return "", toError
	}

	backupDirectory := filepath.Join(runContext.TempDirectory, backupDirectoryNameConstant, linkDirectoryNameConstant)
	if mkdirError := os.MkdirAll(backupDirectory, directoryPermissionsConstant); mkdirError != nil {
		return "", Error{Operation: operationCreateDirectoryConst, Path: backupDirectory, Cause: mkdirError}
	}

	linker := treeLinker{
		fromDirectory:   fromDirectory,
		toDirectory:     toDirectory,
		backupDirectory: backupDirectory,
		logger:          logger,
	}

	created := 0
	walkError := filepath.WalkDir(fromDirectory, func(sourcePath string, entry fs.DirEntry, entryError error) error {
		if entryError != nil {
			return Error{Operation: operationWalkConstant, Path: sourcePath, Cause: entryError}
		}
		if entry.IsDir() {
			return nil
		}
		relativePath, relativeError := filepath.Rel(fromDirectory, sourcePath)
		if relativeError != nil {
			return Error{Operation: operationWalkConstant, Path: sourcePath, Cause: relativeError}
		}
		changed, linkError := linker.link(relativePath)
		if changed {
			created++
		}
		return linkError
	})
	if walkError != nil {
		return "", walkError
	}

	if removeError := os.Remove(backupDirectory); removeError != nil && !errors.Is(removeError, fs.ErrNotExist) {
		logger.Warn(backupNotEmptyMessageConstant, zap.String(backupFieldConstant, backupDirectory))
	}

	logger.Debug(linkSummaryMessageConstant, zap.String(fromFieldConstant, fromDirectory), zap.String(toFieldConstant, toDirectory), zap.Int(createdFieldConstant, created))
	return libraries.StatusFromChanges(created > 0), nil
}

type treeLinker struct {
	fromDirectory   string
	toDirectory     string
	backupDirectory string
	logger          *zap.Logger
}

func (linker treeLinker) link(relativePath string) (bool, error) {
	sourcePath := filepath.Join(linker.fromDirectory, relativePath)
	targetPath := filepath.Join(linker.toDirectory, relativePath)

	if parentError := linker.ensureParent(relativePath); parentError != nil {
		return false, parentError
	}

	targetInfo, statError := os.Lstat(targetPath)
	switch {
	case errors.Is(statError, fs.ErrNotExist):
	case statError != nil:
		return false, Error{Operation: operationResolveConstant, Path: targetPath, Cause: statError}
	case targetInfo.Mode()&fs.ModeSymlink != 0:
		existingTarget, readError := os.Readlink(targetPath)
		if readError != nil {
			return false, Error{Operation: operationReadLinkConstant, Path: targetPath, Cause: readError}
		}
		if existingTarget == sourcePath {
			linker.logger.Debug(linkCurrentMessageConstant, zap.String(toFieldConstant, targetPath))
			return false, nil
		}
		linker.logger.Warn(linkReplacedMessageConstant, zap.String(toFieldConstant, targetPath), zap.String(previousFieldConstant, existingTarget), zap.String(fromFieldConstant, sourcePath))
		if removeError := os.Remove(targetPath); removeError != nil {
			return false, Error{Operation: operationRemoveConstant, Path: targetPath, Cause: removeError}
		}
	default:
		if backupError := linker.backup(relativePath); backupError != nil {
			return false, backupError
		}
	}

	if symlinkError := os.Symlink(sourcePath, targetPath); symlinkError != nil {
		return false, Error{Operation: operationSymlinkConstant, Path: targetPath, Cause: symlinkError}
	}
	linker.logger.Info(linkCreatedMessageConstant, zap.String(fromFieldConstant, sourcePath), zap.String(toFieldConstant, targetPath))
	return true, nil
}

// ensureParent creates the target's parent directory, clearing files or links that occupy an ancestor path.
func (linker treeLinker) ensureParent(relativePath string) error {
	parentPath := filepath.Dir(filepath.Join(linker.toDirectory, relativePath))
	if mkdirError := os.MkdirAll(parentPath, directoryPermissionsConstant); mkdirError == nil {
		return nil
	}

	for ancestor := filepath.Dir(relativePath); ancestor != "." && ancestor != string(filepath.Separator); ancestor = filepath.Dir(ancestor) {
		ancestorPath := filepath.Join(linker.toDirectory, ancestor)
		ancestorInfo, statError := os.Lstat(ancestorPath)
		if statError != nil {
			continue
		}
		switch {
		case ancestorInfo.IsDir():
			return Error{Operation: operationCreateDirectoryConst, Path: parentPath, Cause: fmt.Errorf(ancestorIsDirectoryTemplate, relativePath, ancestorPath)}
		case ancestorInfo.Mode()&fs.ModeSymlink != 0:
			if removeError := os.Remove(ancestorPath); removeError != nil {
				return Error{Operation: operationRemoveConstant, Path: ancestorPath, Cause: removeError}
			}
		default:
			if backupError := linker.backup(ancestor); backupError != nil {
				return backupError
			}
		}
	}

	if mkdirError := os.MkdirAll(parentPath, directoryPermissionsConstant); mkdirError != nil {
		return Error{Operation: operationCreateDirectoryConst, Path: parentPath, Cause: mkdirError}
	}
	return nil
}

func (linker treeLinker) backup(relativePath string) error {
	targetPath := filepath.Join(linker.toDirectory, relativePath)
	backupPath := filepath.Join(linker.backupDirectory, relativePath)
	linker.logger.Warn(backupMessageConstant, zap.String(toFieldConstant, targetPath), zap.String(backupFieldConstant, backupPath))

	if mkdirError := os.MkdirAll(filepath.Dir(backupPath), directoryPermissionsConstant); mkdirError != nil {
		return Error{Operation: operationCreateDirectoryConst, Path: filepath.Dir(backupPath), Cause: mkdirError}
	}
	if renameError := os.Rename(targetPath, backupPath); renameError != nil {
		return Error{Operation: operationBackupConstant, Path: targetPath, Cause: renameError}
	}
	return nil
}

func resolveDirectory(path string, label string) (string, error) {
	absolutePath, absoluteError := filepath.Abs(path)
	if absoluteError != nil {
		return "", Error{Operation: operationResolveConstant, Path: path, Cause: absoluteError}
	}
	resolvedPath, resolveError := filepath.EvalSymlinks(absolutePath)
	if resolveError != nil {
		return "", Error{Operation: operationResolveConstant, Path: path, Cause: fmt.Errorf(missingDirectoryTemplate, label, path)}
	}
	info, statError := os.Stat(resolvedPath)
	if statError != nil || !info.IsDir() {
		return "", Error{Operation: operationResolveConstant, Path: path, Cause: fmt.Errorf(missingDirectoryTemplate, label, path)}
	}
	return resolvedPath, nil
}
