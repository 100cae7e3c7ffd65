// Package transactions drives a single entry from "locally modified" to
// "acknowledged by the remote store".
//
// Each transaction locks the local manifest of the entry it works on. The
// file conflict transaction is the only one locking two manifests: the parent
// first, then the file.
package transactions
