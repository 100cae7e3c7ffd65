// Package chunk provides the algebra of file content chunks.
//
// A chunk is a span [Start, Stop) of the logical content of a file, cut out of
// some raw data [RawOffset, RawOffset+RawSize) stored either in the local scratch
// storage (pending chunks, keyed by ID), or in the content-addressed block store
// (blocks, described by an Access).
//
// A chunk is a block when it carries an Access and covers exactly its raw span.
// Blocks are immutable and exactly mirror a block stored remotely.
package chunk
