package drain

import (
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inos-systems/tracecore/internal/arena"
	"github.com/inos-systems/tracecore/internal/config"
	"github.com/inos-systems/tracecore/internal/obs"
	"github.com/inos-systems/tracecore/internal/registry"
	"github.com/inos-systems/tracecore/internal/wire"
)

func testConfig() config.Config {
	c := config.Default()
	c.MaxThreads = 8
	c.RingCapacityRecords = 8
	c.RingPoolSizePerLane = 3
	return c
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arena.bin")
	cfg := testConfig()
	a, err := arena.Create(path, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return registry.New(a, cfg)
}

// fakeWriter records every batch handed to it instead of touching disk.
type fakeWriter struct {
	indexCounts  map[uint32]int
	detailCounts map[uint32]int
	closed       map[uint32]bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{indexCounts: map[uint32]int{}, detailCounts: map[uint32]int{}, closed: map[uint32]bool{}}
}

func (w *fakeWriter) WriteIndexBatch(threadID uint32, buf []byte, count int) error {
	w.indexCounts[threadID] += count
	return nil
}

func (w *fakeWriter) WriteDetailBatch(threadID uint32, buf []byte, count, slotSize int) error {
	w.detailCounts[threadID] += count
	return nil
}

func (w *fakeWriter) CloseThread(threadID uint32) error {
	w.closed[threadID] = true
	return nil
}

func fillIndexRecords(t *testing.T, h *registry.ThreadHandle, n int) {
	t.Helper()
	buf := make([]byte, wire.IndexRecordSize)
	for i := 0; i < n; i++ {
		wire.IndexRecord{TimestampNs: uint64(i), ThreadID: h.ThreadID, DetailSeq: wire.DetailSeqSentinel}.Encode(buf)
		h.IndexLane.Record(buf) // pool exhaustion just drops; fine for these tests' counts
	}
}

func TestRunOnceDrainsPendingIndexRecords(t *testing.T) {
	r := newTestRegistry(t)
	h, err := r.Register(1)
	require.NoError(t, err)

	// Ring capacity 8: fill + overflow once to push a ring onto submit_queue.
	fillIndexRecords(t, h, 9)

	w := newFakeWriter()
	tick := uint64(0)
	s := New(r, w, testConfig(), WithClock(func() uint64 { tick++; return tick }))

	require.NoError(t, s.RunOnce())
	assert.Equal(t, 8, w.indexCounts[1])
	assert.Equal(t, uint32(1), h.Credits())
}

func TestRunOnceSkipsThreadsWithNoPending(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register(1)
	require.NoError(t, err)

	w := newFakeWriter()
	s := New(r, w, testConfig(), WithClock(func() uint64 { return 1 }))
	require.NoError(t, s.RunOnce())
	assert.Zero(t, w.indexCounts[1])
}

func TestFinalDrainClosesAndReclaimsInactiveThread(t *testing.T) {
	r := newTestRegistry(t)
	h, err := r.Register(3)
	require.NoError(t, err)
	fillIndexRecords(t, h, 9)

	r.Unregister(h)

	w := newFakeWriter()
	s := New(r, w, testConfig(), WithClock(func() uint64 { return 1 }))
	require.NoError(t, s.RunOnce())

	assert.True(t, w.closed[3])
	assert.Equal(t, uint32(0), r.ThreadCount())

	// Slot is reusable afterward.
	h2, err := r.Register(4)
	require.NoError(t, err)
	assert.Equal(t, h.SlotIndex, h2.SlotIndex)
}

func TestDropCountsSurviveReclaim(t *testing.T) {
	r := newTestRegistry(t)
	h, err := r.Register(5)
	require.NoError(t, err)

	// Pool size 3 means 2 swaps exhaust the free_queue; a 3rd full ring
	// with no spare left forces a pool-exhausted drop-oldest.
	buf := make([]byte, wire.IndexRecordSize)
	for i := 0; i < 8*3+1; i++ {
		wire.IndexRecord{TimestampNs: uint64(i), ThreadID: h.ThreadID, DetailSeq: wire.DetailSeqSentinel}.Encode(buf)
		h.IndexLane.Record(buf)
	}
	require.Greater(t, h.IndexLane.PoolExhaustedCount(), uint64(0))

	w := newFakeWriter()
	s := New(r, w, testConfig(), WithClock(func() uint64 { return 1 }))
	require.NoError(t, s.RunOnce()) // drains pending rings while thread is still active

	indexExhausted, _ := s.DropCounts()
	assert.Equal(t, h.IndexLane.PoolExhaustedCount(), indexExhausted)

	r.Unregister(h)
	require.NoError(t, s.RunOnce()) // finalDrain + Reclaim: slot cache entry is now gone

	indexExhaustedAfterReclaim, _ := s.DropCounts()
	assert.Equal(t, indexExhausted, indexExhaustedAfterReclaim, "drop total must survive reclaim, not reset to 0")

	_, err = r.Register(6)
	require.NoError(t, err)
}

func TestRunOnceUpdatesEventsPersistedAndRegistryThreadsMetrics(t *testing.T) {
	r := newTestRegistry(t)
	h, err := r.Register(7)
	require.NoError(t, err)
	fillIndexRecords(t, h, 9)

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)
	w := newFakeWriter()
	s := New(r, w, testConfig(), WithClock(func() uint64 { return 42 }), WithMetrics(metrics))

	require.NoError(t, s.RunOnce())

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RegistryThreads))
	assert.Equal(t, float64(42), testutil.ToFloat64(metrics.DrainHeartbeat))
	assert.Equal(t, float64(8), testutil.ToFloat64(metrics.EventsPersisted.WithLabelValues("7", "index")))
}

func TestFairnessAcrossUnevenLoadMeetsJainIndex(t *testing.T) {
	r := newTestRegistry(t)
	loads := map[uint32]int{1: 10, 2: 20, 3: 40, 4: 80}
	handles := map[uint32]*registry.ThreadHandle{}
	for tid, n := range loads {
		h, err := r.Register(tid)
		require.NoError(t, err)
		handles[tid] = h
		fillIndexRecords(t, h, n)
	}

	w := newFakeWriter()
	tick := uint64(0)
	s := New(r, w, testConfig(), WithClock(func() uint64 { tick++; return tick }))

	for i := 0; i < 200; i++ {
		require.NoError(t, s.RunOnce())
		for tid, h := range handles {
			fillIndexRecords(t, h, 1)
			_ = tid
		}
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, s.RunOnce())
	}

	var sum, sumSq float64
	n := float64(len(w.indexCounts))
	for _, c := range w.indexCounts {
		v := float64(c)
		sum += v
		sumSq += v * v
	}
	jain := (sum * sum) / (n * sumSq)
	assert.GreaterOrEqual(t, jain, 0.9)
}
