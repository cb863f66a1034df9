package arena

import (
	"github.com/inos-systems/tracecore/internal/config"
	"github.com/inos-systems/tracecore/internal/spscring"
	"github.com/inos-systems/tracecore/internal/wire"
)

const (
	alignment = 64

	// RegistryHeaderSize: slot_bitmap(8) + registry_epoch(8) +
	// drain_heartbeat_ns(8) + thread_count(4) + registry_ready(4) = 32.
	RegistryHeaderSize = 32
	// SlotMetaSize: thread_id(4) + active(4) + priority(4) + last_drain_time_ns(8)
	// + reserved(4) = 24.
	SlotMetaSize = 24
	// LaneMetaSize: active_ring_idx(4) + marked_event_seen(4) + reserved(8) = 16.
	LaneMetaSize = 16

	// MaxThreadsLimit bounds MaxThreads to the width of the single atomic_u64
	// slot_bitmap the Registry type (§3) defines.
	MaxThreadsLimit = 64
)

// AlignOffset rounds off up to the next multiple of alignment, matching the
// teacher's sab/layout.go AlignOffset helper.
func AlignOffset(off uint64) uint64 {
	if off%alignment == 0 {
		return off
	}
	return off + (alignment - off%alignment)
}

func nextPowerOfTwo(n uint32) uint64 {
	v := uint64(1)
	for v < uint64(n) {
		v <<= 1
	}
	return v
}

// QueueDepth returns the submit/free IndexQueue capacity for a lane whose
// ring pool holds poolSize rings: one extra slot beyond the pool size,
// rounded up to a power of two (the queue must be able to hold every ring
// id at once without the full/empty ambiguity biting at exactly poolSize
// entries). Shared by this package's own layout math and by package lane,
// which needs the same depth to size its submit/free queues identically.
func QueueDepth(poolSize uint32) uint64 {
	return nextPowerOfTwo(poolSize + 1)
}

// Layout is the deterministic sub-layout of the arena: control header,
// registry region, then one rings region per thread slot, each holding an
// index lane and a detail lane. Every offset below is relative to the
// arena base and is derived from the configuration alone, so Create and
// Open compute identical layouts (§4.1).
type Layout struct {
	MaxThreads          uint32
	RingCapacityRecords uint64
	RingPoolSizePerLane uint32
	QueueDepth          uint64
	DetailSlotSize      uint32

	RegistryOffset uint64
	RegistrySize   uint64

	RingsOffset  uint64
	ThreadStride uint64
	IndexLaneSize  uint64
	DetailLaneSize uint64

	TotalSize uint64
}

// NewLayout computes a Layout from the session configuration. It is the Go
// analog of the teacher's CalculateArenaSize/GetAllRegions.
func NewLayout(cfg config.Config) Layout {
	l := Layout{
		MaxThreads:          cfg.MaxThreads,
		RingCapacityRecords: uint64(cfg.RingCapacityRecords),
		RingPoolSizePerLane: cfg.RingPoolSizePerLane,
		QueueDepth:          QueueDepth(cfg.RingPoolSizePerLane),
		DetailSlotSize:      cfg.DetailSlotSize(),
	}

	l.RegistryOffset = AlignOffset(ControlHeaderSize)
	l.RegistrySize = uint64(RegistryHeaderSize) + uint64(l.MaxThreads)*SlotMetaSize

	indexRingsSize := uint64(l.RingPoolSizePerLane) * spscring.Size(l.RingCapacityRecords, wire.IndexRecordSize)
	detailRingsSize := uint64(l.RingPoolSizePerLane) * spscring.Size(l.RingCapacityRecords, l.DetailSlotSize)
	queuesSize := 2 * spscring.IndexQueueSize(l.QueueDepth)

	l.IndexLaneSize = LaneMetaSize + indexRingsSize + queuesSize
	l.DetailLaneSize = LaneMetaSize + detailRingsSize + queuesSize
	l.ThreadStride = AlignOffset(l.IndexLaneSize + l.DetailLaneSize)

	l.RingsOffset = AlignOffset(l.RegistryOffset + l.RegistrySize)
	l.TotalSize = l.RingsOffset + uint64(l.MaxThreads)*l.ThreadStride
	return l
}

// SlotRegistryOffset returns the offset of slot i's metadata within the
// registry region.
func (l Layout) SlotRegistryOffset(i uint32) uint64 {
	return l.RegistryOffset + RegistryHeaderSize + uint64(i)*SlotMetaSize
}

// ThreadOffset returns the base offset of slot i's rings region.
func (l Layout) ThreadOffset(i uint32) uint64 {
	return l.RingsOffset + uint64(i)*l.ThreadStride
}

// IndexLaneOffset and DetailLaneOffset split a thread's rings region
// between its two lanes.
func (l Layout) IndexLaneOffset(i uint32) uint64  { return l.ThreadOffset(i) }
func (l Layout) DetailLaneOffset(i uint32) uint64 { return l.ThreadOffset(i) + l.IndexLaneSize }
