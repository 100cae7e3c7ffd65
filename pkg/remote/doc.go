// Package remote defines the collaborators a workspace synchronizes with, and
// the Loader which turns manifests and blocks into their encrypted, signed
// remote representation.
//
// The versioned manifest store and the block store are external services: this
// package only declares their interfaces. The memory subpackage provides an
// in-process implementation.
package remote
