// Package lane implements the per-thread, per-purpose ring pool (C4): a
// set of N rings with exactly one "active" at a time, a submit_queue
// carrying full-ring ids to the drainer, and a free_queue carrying emptied
// ids back. It is grounded on the teacher's foundation.MessageQueue
// (offsets into a caller-supplied []byte, atomics over unsafe.Pointer) but
// generalized from a single ring to the active/spare pool-swap protocol
// §4.4 describes.
package lane

import (
	"sync/atomic"
	"unsafe"

	"github.com/inos-systems/tracecore/internal/arena"
	"github.com/inos-systems/tracecore/internal/obs"
	"github.com/inos-systems/tracecore/internal/spscring"
)

// metaSize: active_ring_idx(4) + marked_event_seen(4) + reserved(8) = 16,
// matching arena.LaneMetaSize.
const metaSize = 16

// Lane is a thread's ring pool for one purpose (index or detail).
type Lane struct {
	region   []byte
	rings    []*spscring.Ring
	submit   *spscring.IndexQueue
	free     *spscring.IndexQueue
	isDetail bool

	poolExhausted uint64
}

// Size returns the region bytes a lane needs, matching
// arena.Layout's IndexLaneSize/DetailLaneSize computation.
func Size(poolSize uint32, capacityRecords uint64, recordSize uint32) uint64 {
	queueDepth := arena.QueueDepth(poolSize)
	return uint64(metaSize) + uint64(poolSize)*spscring.Size(capacityRecords, recordSize) + 2*spscring.IndexQueueSize(queueDepth)
}

// New wraps a pre-sized region (see Size) as a lane. zero must be true
// exactly once, by the registry slot's initializer (§4.3's "zero the
// lanes... seed free_queue with all ring ids... publish active=true");
// the drain side opens the same region later with zero=false.
func New(region []byte, poolSize uint32, capacityRecords uint64, recordSize uint32, isDetail, zero bool) *Lane {
	if poolSize < 2 {
		panic("lane: pool size must be >= 2 (one active, at least one spare)")
	}
	queueDepth := arena.QueueDepth(poolSize)

	l := &Lane{region: region, isDetail: isDetail, rings: make([]*spscring.Ring, poolSize)}

	off := uint64(metaSize)
	for i := uint32(0); i < poolSize; i++ {
		sz := spscring.Size(capacityRecords, recordSize)
		l.rings[i] = spscring.New(region[off:off+sz], recordSize, capacityRecords, zero)
		off += sz
	}
	qsz := spscring.IndexQueueSize(queueDepth)
	l.submit = spscring.NewIndexQueue(region[off:off+qsz], queueDepth, zero)
	off += qsz
	l.free = spscring.NewIndexQueue(region[off:off+qsz], queueDepth, zero)

	if zero {
		atomic.StoreUint32(l.activeIdxPtr(), 0)
		atomic.StoreUint32(l.markedPtr(), 0)
		for i := uint32(1); i < poolSize; i++ {
			l.free.TryPush(i)
		}
	}
	return l
}

func (l *Lane) activeIdxPtr() *uint32 { return (*uint32)(unsafe.Pointer(&l.region[0])) }
func (l *Lane) markedPtr() *uint32    { return (*uint32)(unsafe.Pointer(&l.region[4])) }

func (l *Lane) activeRing() *spscring.Ring {
	idx := atomic.LoadUint32(l.activeIdxPtr()) // producer's own counter, relaxed is fine: only the owning producer reads it
	return l.rings[idx]
}

// Mark arms the next detail dump (§4.4): called by the marking policy,
// Release-ordered so a concurrently racing swap either sees it or doesn't,
// never a torn value.
func (l *Lane) Mark() { atomic.StoreUint32(l.markedPtr(), 1) }

// Marked reports whether the next full-ring event on this lane will be
// submitted for persistence rather than drop-oldest.
func (l *Lane) Marked() bool { return atomic.LoadUint32(l.markedPtr()) == 1 }

// trySwap pops a spare ring from free_queue, makes it active, and pushes
// the old active ring's id onto submit_queue. Returns false if the pool is
// exhausted (no spare available).
func (l *Lane) trySwap() bool {
	oldIdx := atomic.LoadUint32(l.activeIdxPtr())
	newIdx, ok := l.free.TryPop()
	if !ok {
		return false
	}
	atomic.StoreUint32(l.activeIdxPtr(), newIdx) // Release: new active ring visible before old one is queued
	l.submit.TryPush(oldIdx)
	return true
}

// Record is the producer-only hot path: always-on capture into the active
// ring. On Full, index lanes always attempt a swap-and-submit; detail
// lanes swap only when a marked event has armed the next dump, otherwise
// they drop-oldest in place (the flight-recorder behavior of §4.4).
func (l *Lane) Record(record []byte) error {
	active := l.activeRing()
	if err := active.TryWrite(record); err == nil {
		return nil
	}

	if l.isDetail && !l.Marked() {
		active.Overwrite(record)
		return nil
	}

	if l.trySwap() {
		if l.isDetail {
			atomic.StoreUint32(l.markedPtr(), 0) // clear after the swap, per §4.4
		}
		return l.activeRing().TryWrite(record)
	}

	l.activeRing().Overwrite(record)
	atomic.AddUint64(&l.poolExhausted, 1)
	return obs.New(obs.KindPoolExhausted, "lane pool exhausted, dropped oldest record")
}

// DrainHandle is a ring on loan to the drainer between TryAcquireDrain and
// ReleaseDrain. §9 requires no suspension point in that window; callers
// must not yield/block while holding one.
type DrainHandle struct {
	ringID uint32
	ring   *spscring.Ring
}

func (h *DrainHandle) Ring() *spscring.Ring { return h.ring }
func (h *DrainHandle) RingID() uint32       { return h.ringID }

// TryAcquireDrain is drainer-only: pops the next full-ring id from
// submit_queue. An empty queue (nothing pending) is reported the same way
// a producer mid-swap would be ("Busy" in spec.md's vocabulary) — the
// handoff is itself the only coordination point, so there is no separate
// busy state to detect (§4.5).
func (l *Lane) TryAcquireDrain() (*DrainHandle, bool) {
	id, ok := l.submit.TryPop()
	if !ok {
		return nil, false
	}
	return &DrainHandle{ringID: id, ring: l.rings[id]}, true
}

// ReleaseDrain returns an emptied ring to free_queue, making it available
// for the next swap.
func (l *Lane) ReleaseDrain(h *DrainHandle) {
	l.free.TryPush(h.ringID)
}

// Pending is the submit_queue depth used by the drain scheduler's
// fairness score (§4.5).
func (l *Lane) Pending() uint64 { return l.submit.Len() }

// PoolExhaustedCount is this lane's share of the manifest's drop_counters.
func (l *Lane) PoolExhaustedCount() uint64 { return atomic.LoadUint64(&l.poolExhausted) }

// DroppedCount sums every ring's drop-oldest counter (§3's Ring.dropped).
func (l *Lane) DroppedCount() uint64 {
	var total uint64
	for _, r := range l.rings {
		total += r.DroppedCount()
	}
	return total
}

func (l *Lane) IsDetail() bool { return l.isDetail }
