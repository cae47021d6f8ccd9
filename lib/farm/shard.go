package farm

import (
	"hash/fnv"

	"github.com/google/uuid"
)

// Owner returns the index of the farm member owning the given request id.
// Ownership is a pure function of (requestId, farmSize), so every member
// computes the same partition without coordination.
func Owner(requestId uuid.UUID, farmSize int) int {
	if farmSize <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write(requestId[:])
	return int(h.Sum32() % uint32(farmSize))
}

// Owns reports whether the member at memberIndex owns the request id.
func Owns(requestId uuid.UUID, memberIndex, farmSize int) bool {
	return Owner(requestId, farmSize) == memberIndex
}
