package spscring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexQueuePushPopOrder(t *testing.T) {
	const capacity = 4
	region := make([]byte, IndexQueueSize(capacity))
	q := NewIndexQueue(region, capacity, true)

	for i := uint32(0); i < capacity; i++ {
		require.True(t, q.TryPush(i))
	}
	assert.False(t, q.TryPush(99))

	for i := uint32(0); i < capacity; i++ {
		v, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestIndexQueueSharedRegionHandshake(t *testing.T) {
	const capacity = 4
	region := make([]byte, IndexQueueSize(capacity))
	pusher := NewIndexQueue(region, capacity, true)
	popper := NewIndexQueue(region, capacity, false)

	require.True(t, pusher.TryPush(42))
	v, ok := popper.TryPop()
	require.True(t, ok)
	assert.Equal(t, uint32(42), v)
}
