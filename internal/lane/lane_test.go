package lane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inos-systems/tracecore/internal/obs"
)

const testRecordSize = 8

func recordOf(b byte) []byte {
	r := make([]byte, testRecordSize)
	for i := range r {
		r[i] = b
	}
	return r
}

func newTestLane(t *testing.T, poolSize uint32, capacity uint64, isDetail bool) *Lane {
	t.Helper()
	region := make([]byte, Size(poolSize, capacity, testRecordSize))
	return New(region, poolSize, capacity, testRecordSize, isDetail, true)
}

func TestIndexLaneSwapsOnFull(t *testing.T) {
	l := newTestLane(t, 3, 2, false)

	// Fill the active ring (capacity 2) exactly.
	require.NoError(t, l.Record(recordOf(1)))
	require.NoError(t, l.Record(recordOf(2)))
	assert.Equal(t, uint64(0), l.Pending())

	// Next write forces a swap; the old ring lands on submit_queue.
	require.NoError(t, l.Record(recordOf(3)))
	assert.Equal(t, uint64(1), l.Pending())
	assert.Equal(t, uint64(0), l.PoolExhaustedCount())
}

func TestIndexLaneDropsOldestWhenPoolExhausted(t *testing.T) {
	// Pool size 2 (minimum): one active, one spare. After the single spare
	// is used, the next full event has nowhere to swap to.
	l := newTestLane(t, 2, 2, false)

	require.NoError(t, l.Record(recordOf(1)))
	require.NoError(t, l.Record(recordOf(2)))
	require.NoError(t, l.Record(recordOf(3))) // swap: ring 0 -> submit_queue, ring 1 active

	require.NoError(t, l.Record(recordOf(4)))
	err := l.Record(recordOf(5)) // ring 1 full, no spare (ring 0 still held by drainer)
	require.Error(t, err)
	assert.Equal(t, obs.KindPoolExhausted, obs.KindOf(err))
	assert.Equal(t, uint64(1), l.PoolExhaustedCount())
}

func TestDetailLaneDropsOldestWhenUnmarked(t *testing.T) {
	l := newTestLane(t, 3, 2, true)

	require.NoError(t, l.Record(recordOf(1)))
	require.NoError(t, l.Record(recordOf(2)))
	// Full, but never marked: flight-recorder windowing, not pool exhaustion.
	require.NoError(t, l.Record(recordOf(3)))
	assert.Equal(t, uint64(0), l.Pending())
	assert.Equal(t, uint64(0), l.PoolExhaustedCount())
}

func TestDetailLaneSwapsAndClearsMarkWhenMarked(t *testing.T) {
	l := newTestLane(t, 3, 2, true)

	require.NoError(t, l.Record(recordOf(1)))
	require.NoError(t, l.Record(recordOf(2)))
	l.Mark()
	assert.True(t, l.Marked())

	require.NoError(t, l.Record(recordOf(3)))
	assert.Equal(t, uint64(1), l.Pending())
	assert.False(t, l.Marked())
}

func TestDrainHandshakeReturnsRingToFreeQueue(t *testing.T) {
	l := newTestLane(t, 3, 2, false)
	require.NoError(t, l.Record(recordOf(1)))
	require.NoError(t, l.Record(recordOf(2)))
	require.NoError(t, l.Record(recordOf(3))) // swap

	h, ok := l.TryAcquireDrain()
	require.True(t, ok)
	out := make([]byte, testRecordSize*2)
	n := h.Ring().TryRead(out)
	assert.Equal(t, 2, n)
	l.ReleaseDrain(h)

	_, ok = l.TryAcquireDrain()
	assert.False(t, ok)

	// The released ring is back on free_queue, behind the untouched spare
	// (ring 2) that this next swap pops; swapping keeps working.
	require.NoError(t, l.Record(recordOf(4)))
	require.NoError(t, l.Record(recordOf(5)))
	require.NoError(t, l.Record(recordOf(6)))
	assert.Equal(t, uint64(1), l.Pending())
}
