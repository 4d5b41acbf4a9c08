package lockfree

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// NewStringMap creates a map keyed by strings, hashed with xxhash.
func NewStringMap[V any](capacity int) *Map[string, V] {
	return NewMap[string, V](capacity, xxhash.Sum64String)
}

// NewUint64Map creates a map keyed by uint64 ids (player ids, bet ids),
// hashed with xxhash so adjacent ids do not share probe chains.
func NewUint64Map[V any](capacity int) *Map[uint64, V] {
	return NewMap[uint64, V](capacity, hashUint64)
}

func hashUint64(k uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], k)
	return xxhash.Sum64(b[:])
}
