package farm

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestOwnerIsDeterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := uuid.New()
		first := Owner(id, 7)
		for j := 0; j < 10; j++ {
			assert.Equal(t, first, Owner(id, 7))
		}
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 7)
	}
}

func TestOwnerSingleMemberFarm(t *testing.T) {
	assert.Equal(t, 0, Owner(uuid.New(), 1))
	assert.Equal(t, 0, Owner(uuid.New(), 0))
	assert.True(t, Owns(uuid.New(), 0, 1))
}

func TestOwnsPartitionsWithoutOverlap(t *testing.T) {
	const farmSize = 4
	for i := 0; i < 200; i++ {
		id := uuid.New()
		owners := 0
		for member := 0; member < farmSize; member++ {
			if Owns(id, member, farmSize) {
				owners++
			}
		}
		assert.Equal(t, 1, owners, "each request id has exactly one owner")
	}
}
