// Package registry implements the thread registry (C3): lazy, lock-free
// admission of a producer thread's lane set on its first event, and a
// consumer-side snapshot iterator the drain scheduler walks each cycle.
// It is grounded on the teacher's supervisor.CreditSupervisor account
// allocator (CAS-retry allocation of a fixed slot table over shared bytes,
// a process-local sync.Map cache in front of it) generalized from a
// single bitmap-free counter to the bitmap CAS §4.3 specifies.
package registry

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/inos-systems/tracecore/internal/arena"
	"github.com/inos-systems/tracecore/internal/config"
	"github.com/inos-systems/tracecore/internal/lane"
	"github.com/inos-systems/tracecore/internal/obs"
	"github.com/inos-systems/tracecore/internal/wire"
)

// Registry header offsets within arena.Layout.RegistryOffset, matching
// arena.RegistryHeaderSize (32 B).
const (
	bitmapOff    = 0
	epochOff     = 8
	heartbeatOff = 16
	countOff     = 24
	readyOff     = 28
)

// Slot meta offsets within arena.SlotMetaSize (24 B): thread_id(4),
// active(4), priority(4), last_drain_time_ns(8), reserved(4).
const (
	slotThreadIDOff  = 0
	slotActiveOff    = 4
	slotPriorityOff  = 8
	slotLastDrainOff = 12
)

// ThreadHandle is a process-local view of one registry slot: its meta
// fields plus its two lanes. Both the producer (via Register) and the
// drainer (via Snapshot) construct their own ThreadHandle over the same
// underlying arena bytes.
type ThreadHandle struct {
	ThreadID  uint32
	SlotIndex uint32

	meta       []byte
	IndexLane  *lane.Lane
	DetailLane *lane.Lane
}

func (h *ThreadHandle) activePtr() *uint32    { return (*uint32)(unsafe.Pointer(&h.meta[slotActiveOff])) }
func (h *ThreadHandle) priorityPtr() *uint32  { return (*uint32)(unsafe.Pointer(&h.meta[slotPriorityOff])) }
func (h *ThreadHandle) lastDrainPtr() *uint64 { return (*uint64)(unsafe.Pointer(&h.meta[slotLastDrainOff])) }

// Active reports the Release/Acquire-ordered lifecycle flag: true from
// registration until the producer's Unregister call on thread exit.
func (h *ThreadHandle) Active() bool { return atomic.LoadUint32(h.activePtr()) == 1 }

// Credits is the drain scheduler's per-slot fairness counter (§4.5),
// stored in the slot's "priority" field so every drain thread (if more
// than one is ever run) observes the same value.
func (h *ThreadHandle) Credits() uint32        { return atomic.LoadUint32(h.priorityPtr()) }
func (h *ThreadHandle) AddCredits(n uint32)    { atomic.AddUint32(h.priorityPtr(), n) }
func (h *ThreadHandle) LastDrainTimeNs() uint64 { return atomic.LoadUint64(h.lastDrainPtr()) }
func (h *ThreadHandle) SetLastDrainTimeNs(ts uint64) {
	atomic.StoreUint64(h.lastDrainPtr(), ts)
}

// Registry is the arena-resident slot table plus a process-local cache of
// ThreadHandle wrappers. One Registry exists per process (agent side calls
// Register/Unregister; collector side calls Snapshot/Reclaim).
type Registry struct {
	a      *arena.Arena
	layout arena.Layout
	cfg    config.Config
	header []byte

	local sync.Map // thread_id -> *ThreadHandle; the Go realization of lookup_fast's TLS cache

	mu    sync.Mutex
	slots []*ThreadHandle // process-local cache of resolved slots, by index
}

// New wraps the registry region of an already-created-or-opened arena.
func New(a *arena.Arena, cfg config.Config) *Registry {
	return &Registry{
		a:      a,
		layout: a.Layout,
		cfg:    cfg,
		header: a.Slice(a.Layout.RegistryOffset, arena.RegistryHeaderSize),
		slots:  make([]*ThreadHandle, cfg.MaxThreads),
	}
}

func (r *Registry) bitmapPtr() *uint64    { return (*uint64)(unsafe.Pointer(&r.header[bitmapOff])) }
func (r *Registry) epochPtr() *uint64     { return (*uint64)(unsafe.Pointer(&r.header[epochOff])) }
func (r *Registry) heartbeatPtr() *uint64 { return (*uint64)(unsafe.Pointer(&r.header[heartbeatOff])) }
func (r *Registry) countPtr() *uint32     { return (*uint32)(unsafe.Pointer(&r.header[countOff])) }
func (r *Registry) readyPtr() *uint32     { return (*uint32)(unsafe.Pointer(&r.header[readyOff])) }

// MarkReady is called once by the collector after arena creation, per §3's
// "layout initialized exactly once, by the collector".
func (r *Registry) MarkReady() { atomic.StoreUint32(r.readyPtr(), 1) }

func (r *Registry) Ready() bool { return atomic.LoadUint32(r.readyPtr()) == 1 }

// ThreadCount is the registry's live count, sampled for the manifest.
func (r *Registry) ThreadCount() uint32 { return atomic.LoadUint32(r.countPtr()) }

// Heartbeat publishes the drainer's liveness timestamp (§4.5); the agent
// side polls it to detect DrainStall.
func (r *Registry) PublishHeartbeat(ts uint64) { atomic.StoreUint64(r.heartbeatPtr(), ts) }
func (r *Registry) Heartbeat() uint64          { return atomic.LoadUint64(r.heartbeatPtr()) }

func lowestClearBit(bitmap uint64, limit uint32) (uint32, bool) {
	for i := uint32(0); i < limit && i < 64; i++ {
		if bitmap&(1<<uint(i)) == 0 {
			return i, true
		}
	}
	return 0, false
}

// Register allocates a slot for threadID on its first event (§4.3):
// atomically claims the lowest clear bit, zero-initializes the slot's
// lanes while active==false, then publishes active=true with Release so
// any reader using Acquire sees fully-initialized lanes. Returns
// RegistryCapacity if every slot is in use.
func (r *Registry) Register(threadID uint32) (*ThreadHandle, error) {
	if v, ok := r.local.Load(threadID); ok {
		return v.(*ThreadHandle), nil
	}

	for {
		bitmap := atomic.LoadUint64(r.bitmapPtr())
		idx, ok := lowestClearBit(bitmap, r.cfg.MaxThreads)
		if !ok {
			return nil, obs.New(obs.KindRegistryCapacity, "thread registry at capacity")
		}
		newBitmap := bitmap | (uint64(1) << uint(idx))
		if !atomic.CompareAndSwapUint64(r.bitmapPtr(), bitmap, newBitmap) {
			continue // lost the race for this bit; retry with a fresh snapshot
		}

		h := r.initSlot(idx, threadID)
		r.local.Store(threadID, h)
		r.mu.Lock()
		r.slots[idx] = h
		r.mu.Unlock()
		atomic.AddUint32(r.countPtr(), 1)
		atomic.AddUint64(r.epochPtr(), 1)
		return h, nil
	}
}

func (r *Registry) initSlot(idx uint32, threadID uint32) *ThreadHandle {
	meta := r.a.Slice(r.layout.SlotRegistryOffset(idx), arena.SlotMetaSize)
	binary.LittleEndian.PutUint32(meta[slotThreadIDOff:slotThreadIDOff+4], threadID)
	binary.LittleEndian.PutUint32(meta[slotPriorityOff:slotPriorityOff+4], 0)
	binary.LittleEndian.PutUint64(meta[slotLastDrainOff:slotLastDrainOff+8], 0)

	indexRegion := r.a.Slice(r.layout.IndexLaneOffset(idx), r.layout.IndexLaneSize)
	detailRegion := r.a.Slice(r.layout.DetailLaneOffset(idx), r.layout.DetailLaneSize)
	indexLane := lane.New(indexRegion, r.cfg.RingPoolSizePerLane, r.layout.RingCapacityRecords, wire.IndexRecordSize, false, true)
	detailLane := lane.New(detailRegion, r.cfg.RingPoolSizePerLane, r.layout.RingCapacityRecords, r.layout.DetailSlotSize, true, true)

	h := &ThreadHandle{ThreadID: threadID, SlotIndex: idx, meta: meta, IndexLane: indexLane, DetailLane: detailLane}
	atomic.StoreUint32(h.activePtr(), 1) // Release: publishes the fully-initialized lanes
	return h
}

// LookupFast is the hot-path cache hit: a plain Go map read, no
// shared-memory access, the realization of §4.3's TLS-cached pointer.
func (r *Registry) LookupFast(threadID uint32) (*ThreadHandle, bool) {
	v, ok := r.local.Load(threadID)
	if !ok {
		return nil, false
	}
	return v.(*ThreadHandle), true
}

// Unregister flips active false on producer-side thread exit. The slot is
// not returned to the bitmap until the drainer performs its final drain
// (§4.3, §4.5).
func (r *Registry) Unregister(h *ThreadHandle) {
	atomic.StoreUint32(h.activePtr(), 0) // Release: no further writes from this producer follow
	r.local.Delete(h.ThreadID)
}

func (r *Registry) resolveSlot(idx uint32) *ThreadHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h := r.slots[idx]; h != nil {
		return h
	}
	meta := r.a.Slice(r.layout.SlotRegistryOffset(idx), arena.SlotMetaSize)
	threadID := binary.LittleEndian.Uint32(meta[slotThreadIDOff : slotThreadIDOff+4])

	indexRegion := r.a.Slice(r.layout.IndexLaneOffset(idx), r.layout.IndexLaneSize)
	detailRegion := r.a.Slice(r.layout.DetailLaneOffset(idx), r.layout.DetailLaneSize)
	indexLane := lane.New(indexRegion, r.cfg.RingPoolSizePerLane, r.layout.RingCapacityRecords, wire.IndexRecordSize, false, false)
	detailLane := lane.New(detailRegion, r.cfg.RingPoolSizePerLane, r.layout.RingCapacityRecords, r.layout.DetailSlotSize, true, false)

	h := &ThreadHandle{ThreadID: threadID, SlotIndex: idx, meta: meta, IndexLane: indexLane, DetailLane: detailLane}
	r.slots[idx] = h
	return h
}

// Snapshot returns every slot the drainer should consider this cycle:
// currently-active slots, plus any slot it has already resolved that has
// since gone inactive (so the caller can perform a final drain and
// reclaim it). Newly active slots are discovered automatically; reclaimed
// slots drop out once Reclaim clears the cache entry.
func (r *Registry) Snapshot() []*ThreadHandle {
	var out []*ThreadHandle
	for idx := uint32(0); idx < r.cfg.MaxThreads; idx++ {
		meta := r.a.Slice(r.layout.SlotRegistryOffset(idx), arena.SlotMetaSize)
		activePtr := (*uint32)(unsafe.Pointer(&meta[slotActiveOff]))
		active := atomic.LoadUint32(activePtr) == 1 // Acquire

		r.mu.Lock()
		known := r.slots[idx] != nil
		r.mu.Unlock()

		if !active && !known {
			continue
		}
		out = append(out, r.resolveSlot(idx))
	}
	return out
}

// Reclaim clears a deactivated slot's bitmap bit and cache entry once the
// drainer has performed its final drain, making the slot available for
// reuse by a future Register call (§4.5's "marks the slot reclaimable").
func (r *Registry) Reclaim(idx uint32) {
	for {
		bitmap := atomic.LoadUint64(r.bitmapPtr())
		newBitmap := bitmap &^ (uint64(1) << uint(idx))
		if atomic.CompareAndSwapUint64(r.bitmapPtr(), bitmap, newBitmap) {
			break
		}
	}
	atomic.AddUint32(r.countPtr(), ^uint32(0)) // decrement
	r.mu.Lock()
	r.slots[idx] = nil
	r.mu.Unlock()
}
