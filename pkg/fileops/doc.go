// Package fileops implements the pure operations transforming a local file
// manifest: read, write, resize and reshape.
//
// None of these operations touch any storage. They return the new manifest,
// together with the physical writes the caller must perform against the chunk
// scratch storage and the chunk IDs which may be evicted from it.
//
// A file is laid out in slots of blocksize bytes. Slot k holds chunks sorted by
// start, not overlapping, covering [k*blocksize, min((k+1)*blocksize, size)).
package fileops
