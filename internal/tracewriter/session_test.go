package tracewriter

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inos-systems/tracecore/internal/wire"
)

func indexBatch(t *testing.T, records ...wire.IndexRecord) []byte {
	t.Helper()
	buf := make([]byte, len(records)*wire.IndexRecordSize)
	for i, r := range records {
		r.Encode(buf[i*wire.IndexRecordSize : (i+1)*wire.IndexRecordSize])
	}
	return buf
}

func detailSlot(t *testing.T, slotSize int, h wire.DetailHeader, payload []byte) []byte {
	t.Helper()
	slot := make([]byte, slotSize)
	h.TotalLength = uint32(wire.DetailHeaderSize + len(payload))
	rec := wire.DetailRecord{Header: h, Payload: payload}
	rec.Encode(slot)
	return slot
}

func TestSessionWritesIndexAndDetailPerThread(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSession(dir, wire.ArchX86_64, wire.OSLinux)
	require.NoError(t, err)

	buf := indexBatch(t,
		wire.IndexRecord{TimestampNs: 10, FunctionID: wire.FunctionID(1, 2), ThreadID: 5, EventKind: wire.EventKindCall, DetailSeq: 0},
		wire.IndexRecord{TimestampNs: 20, FunctionID: wire.FunctionID(1, 2), ThreadID: 5, EventKind: wire.EventKindReturn, DetailSeq: wire.DetailSeqSentinel},
	)
	require.NoError(t, s.WriteIndexBatch(5, buf, 2))

	slotSize := 64
	slot := detailSlot(t, slotSize, wire.DetailHeader{EventType: 1, IndexSeq: 0, ThreadID: 5, TimestampNs: 10}, []byte("regs"))
	require.NoError(t, s.WriteDetailBatch(5, slot, 1, slotSize))

	require.NoError(t, s.CloseThread(5))

	recs, recovered, err := OpenIndexFile(filepath.Join(dir, "thread_5", "index.atf"))
	require.NoError(t, err)
	assert.False(t, recovered)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(10), recs[0].TimestampNs)
	assert.Equal(t, uint64(20), recs[1].TimestampNs)

	drecs, recovered, err := OpenDetailFile(filepath.Join(dir, "thread_5", "detail.atf"))
	require.NoError(t, err)
	assert.False(t, recovered)
	require.Len(t, drecs, 1)
	assert.Equal(t, []byte("regs"), drecs[0].Payload)
}

func TestSessionStatsAggregatesAcrossThreads(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSession(dir, wire.ArchX86_64, wire.OSLinux)
	require.NoError(t, err)

	require.NoError(t, s.WriteIndexBatch(1, indexBatch(t, wire.IndexRecord{TimestampNs: 1, ThreadID: 1}), 1))
	require.NoError(t, s.WriteIndexBatch(2, indexBatch(t, wire.IndexRecord{TimestampNs: 2, ThreadID: 2}), 1))

	st := s.Stats()
	assert.ElementsMatch(t, []uint32{1, 2}, st.Threads)
	assert.Equal(t, uint64(2), st.EventCountTotal)

	require.NoError(t, s.CloseAll())
}

func TestWriteDetailBatchSkipsCorruptSlotWithoutFailingBatch(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSession(dir, wire.ArchX86_64, wire.OSLinux)
	require.NoError(t, err)

	slotSize := 32
	good := detailSlot(t, slotSize, wire.DetailHeader{EventType: 1, ThreadID: 9, TimestampNs: 5}, []byte("ok"))
	corrupt := make([]byte, slotSize)
	wire.DetailHeader{TotalLength: 9999}.Encode(corrupt[:wire.DetailHeaderSize])

	buf := append(append([]byte{}, good...), corrupt...)
	require.NoError(t, s.WriteDetailBatch(9, buf, 2, slotSize))
	require.NoError(t, s.CloseThread(9))

	drecs, _, err := OpenDetailFile(filepath.Join(dir, "thread_9", "detail.atf"))
	require.NoError(t, err)
	require.Len(t, drecs, 1)
}
