// Copyright © 2018 One Concern

// Package storage provides the key/value interface to handle stored objects.
//
// It backs the local chunk scratch storage (chunk id -> raw bytes) and may be used
// as the backend of a remote block store.
//
// This package supports the following backends:
//   - local file system (any afero.Fs, including in-memory)
package storage
