package spscring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordOf(b byte, size uint32) []byte {
	r := make([]byte, size)
	for i := range r {
		r[i] = b
	}
	return r
}

func TestRingWriteThenReadEmpty(t *testing.T) {
	const recordSize = 8
	region := make([]byte, Size(4, recordSize))
	r := New(region, recordSize, 4, true)

	assert.True(t, r.IsEmpty())
	require.NoError(t, r.TryWrite(recordOf(0xAB, recordSize)))

	out := make([]byte, recordSize)
	n := r.TryRead(out)
	assert.Equal(t, 1, n)
	assert.Equal(t, recordOf(0xAB, recordSize), out)
	assert.True(t, r.IsEmpty())
}

func TestRingAcceptsCapacityWritesThenFull(t *testing.T) {
	const recordSize = 4
	const capacity = 4
	region := make([]byte, Size(capacity, recordSize))
	r := New(region, recordSize, capacity, true)

	for i := 0; i < capacity; i++ {
		require.NoError(t, r.TryWrite(recordOf(byte(i), recordSize)))
	}
	assert.True(t, r.IsFull())
	err := r.TryWrite(recordOf(0xFF, recordSize))
	assert.ErrorIs(t, err, ErrFull)
}

func TestRingRoundTripPreservesOrder(t *testing.T) {
	const recordSize = 4
	const capacity = 8
	region := make([]byte, Size(capacity, recordSize))
	r := New(region, recordSize, capacity, true)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.TryWrite(recordOf(byte(i), recordSize)))
	}
	out := make([]byte, recordSize*5)
	n := r.TryRead(out)
	require.Equal(t, 5, n)
	for i := 0; i < 5; i++ {
		assert.Equal(t, recordOf(byte(i), recordSize), out[i*recordSize:(i+1)*recordSize])
	}
}

func TestRingOverwriteAdvancesFloorAndDropCount(t *testing.T) {
	const recordSize = 4
	const capacity = 4
	region := make([]byte, Size(capacity, recordSize))
	r := New(region, recordSize, capacity, true)

	for i := 0; i < capacity; i++ {
		require.NoError(t, r.TryWrite(recordOf(byte(i), recordSize)))
	}
	require.True(t, r.IsFull())

	r.Overwrite(recordOf(0xEE, recordSize))
	assert.Equal(t, uint64(1), r.DroppedCount())

	out := make([]byte, recordSize*capacity)
	n := r.TryRead(out)
	// record 0 was overwritten; the reader skips to the floor and sees
	// records 1, 2, 3, then the freshly overwritten slot (0xEE).
	require.Equal(t, capacity, n)
	assert.Equal(t, recordOf(1, recordSize), out[0:recordSize])
	assert.Equal(t, recordOf(0xEE, recordSize), out[recordSize*(capacity-1):recordSize*capacity])
}

func TestRingSharedRegionCrossesTwoHandles(t *testing.T) {
	// Two independent Ring values over the same backing bytes emulate two
	// process mappings of the same arena region.
	const recordSize = 4
	const capacity = 4
	region := make([]byte, Size(capacity, recordSize))
	producer := New(region, recordSize, capacity, true)
	consumer := New(region, recordSize, capacity, false)

	require.NoError(t, producer.TryWrite(recordOf(7, recordSize)))
	out := make([]byte, recordSize)
	n := consumer.TryRead(out)
	assert.Equal(t, 1, n)
	assert.Equal(t, recordOf(7, recordSize), out)
}
