// Package util provides shared utility functions.
package util

import (
	"hash/fnv"
)

// HashKey computes a 4-byte FNV-1a hash over parts, separated so that
// ("ab", "c") and ("a", "bc") differ. The hash is used solely for
// identification and does not need to be reversible.
func HashKey(parts ...string) uint32 {
	h := fnv.New32a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum32()
}
