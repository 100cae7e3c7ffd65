// Package crypto provides the opaque primitives used by the synchronization
// engine: authenticated encryption of blocks and manifests, manifest signatures
// and content digests.
//
// Blocks are sealed with a per-block secret key (nacl secretbox), manifests are
// signed by their author device (ed25519) then sealed with the realm key.
// Content digests use blake2b-512, as the content-addressable store does.
package crypto
