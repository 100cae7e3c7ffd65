// Package status declares the error taxonomy shared by the workspace
// synchronization packages.
//
// NOTE: such constants are located in a separate package to avoid
// creating undue cyclical dependencies between the local storage, the
// remote loader and the sync transactions.
package status

import "github.com/oneconcern/vaultsync/pkg/errors"

var (
	// ErrLocalMiss indicates that an entry or chunk is absent from local storage.
	// This is usually recoverable and means there is nothing to do.
	ErrLocalMiss = errors.New("local miss")

	// ErrReshapingRequired is a control flow signal: the file must be reshaped before sync
	ErrReshapingRequired = errors.New("reshaping required")

	// ErrRemoteSync indicates a rejected upload (stale or conflicting version)
	ErrRemoteSync = errors.New("remote sync error")

	// ErrFileConflict indicates that local and remote edits of a file diverged
	ErrFileConflict = errors.New("file conflict")

	// ErrBackendUnavailable indicates a transport failure when reaching the remote store
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrIntegrity indicates forged remote content or corrupt local state
	ErrIntegrity = errors.New("integrity error")

	// ErrRemoteManifestNotFound indicates the remote store has no manifest for this entry
	ErrRemoteManifestNotFound = errors.New("remote manifest not found")

	// ErrBlockNotFound indicates the block store has no such block
	ErrBlockNotFound = errors.New("block not found")

	// ErrNotAFolder indicates an operation expecting a folder-like entry got something else
	ErrNotAFolder = errors.New("not a folder")

	// ErrNotAFile indicates an operation expecting a file entry got something else
	ErrNotAFile = errors.New("not a file")

	// ErrEntryExists indicates that a child with the same name already exists
	ErrEntryExists = errors.New("entry already exists")

	// ErrEntryNotFound indicates that no child exists with this name
	ErrEntryNotFound = errors.New("entry not found")

	// ErrFolderNotEmpty indicates that a folder still holds children
	ErrFolderNotEmpty = errors.New("folder not empty")

	// ErrInvalidArgument indicates an invalid argument passed by the caller
	ErrInvalidArgument = errors.New("invalid argument")
)
