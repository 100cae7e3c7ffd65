// Package localstore holds the local state of a workspace.
//
// It keeps:
//   - local manifests, cached in memory over a persisted ManifestStore
//   - dirty chunks, i.e. content not yet uploaded, on a storage.Store
//   - clean blocks, i.e. content already known remotely, in a bounded LRU cache
//
// A manifest lock table serializes read-modify-write cycles on a given entry.
// Chunk storage is not locked: callers must hold the lock of the entry owning a
// chunk before mutating it.
package localstore
