// Package manifest models the versioned, immutable remote manifests and the
// mutable local manifests of files, folders, workspaces and the user root.
//
// Both families are closed sum types: Remote and Local are sealed interfaces
// implemented only by the types of this package, so callers match them
// exhaustively with type switches.
//
// A local manifest without base is a placeholder: it exists locally but has
// never been registered in the remote store.
package manifest
