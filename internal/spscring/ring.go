// Package spscring implements the lock-free single-producer/single-consumer
// primitives the transport is built from: a fixed-capacity ring of
// fixed-size records (C2) and a small index queue used for the lane's
// submit/free handshake (C4). Both are backed by a caller-supplied byte
// region rather than private Go fields, so that two independent mappings of
// the same underlying memory (agent and collector processes sharing an
// arena) observe the same atomic counters — the same technique the
// teacher's foundation.MessageQueue uses over a shared []byte via
// unsafe.Pointer.
package spscring

import (
	"sync/atomic"
	"unsafe"

	"github.com/inos-systems/tracecore/internal/obs"
)

// ringHeaderSize is head, tail, floor, dropped: four uint64 counters.
const ringHeaderSize = 32

// ErrFull is returned by TryWrite when the ring has no free slot.
var ErrFull = obs.New(obs.KindRingFull, "ring full")

// Ring is a fixed-capacity SPSC queue of fixed-size records. Capacity must
// be a power of two; a position modulo capacity is computed via a mask.
type Ring struct {
	region     []byte
	records    []byte
	recordSize uint32
	capacity   uint64
	mask       uint64
}

// Size returns the number of region bytes a ring needs for the given
// capacity and record size (header + record storage).
func Size(capacityRecords uint64, recordSize uint32) uint64 {
	return ringHeaderSize + capacityRecords*uint64(recordSize)
}

// New wraps a pre-sized byte region (see Size) as a ring. zero must be true
// exactly once, by whichever side creates the region (the collector, per
// §3's arena-initialization invariant); the other side opens with zero=false.
func New(region []byte, recordSize uint32, capacityRecords uint64, zero bool) *Ring {
	if capacityRecords == 0 || capacityRecords&(capacityRecords-1) != 0 {
		panic("spscring: capacity must be a power of two")
	}
	if uint64(len(region)) < Size(capacityRecords, recordSize) {
		panic("spscring: region too small for requested capacity")
	}
	r := &Ring{
		region:     region,
		records:    region[ringHeaderSize:],
		recordSize: recordSize,
		capacity:   capacityRecords,
		mask:       capacityRecords - 1,
	}
	if zero {
		atomic.StoreUint64(r.headPtr(), 0)
		atomic.StoreUint64(r.tailPtr(), 0)
		atomic.StoreUint64(r.floorPtr(), 0)
		atomic.StoreUint64(r.droppedPtr(), 0)
	}
	return r
}

func (r *Ring) headPtr() *uint64    { return (*uint64)(unsafe.Pointer(&r.region[0])) }
func (r *Ring) tailPtr() *uint64    { return (*uint64)(unsafe.Pointer(&r.region[8])) }
func (r *Ring) floorPtr() *uint64   { return (*uint64)(unsafe.Pointer(&r.region[16])) }
func (r *Ring) droppedPtr() *uint64 { return (*uint64)(unsafe.Pointer(&r.region[24])) }

func (r *Ring) Capacity() uint64   { return r.capacity }
func (r *Ring) RecordSize() uint32 { return r.recordSize }

// TryWrite is producer-only. It writes a whole record or fails with ErrFull
// without blocking; partial records are never written.
func (r *Ring) TryWrite(record []byte) error {
	if uint32(len(record)) != r.recordSize {
		panic("spscring: record size mismatch")
	}
	tail := atomic.LoadUint64(r.tailPtr()) // Acquire: see the consumer's latest free-slot boundary
	head := atomic.LoadUint64(r.headPtr()) // producer's own counter
	if head-tail == r.capacity {
		return ErrFull
	}
	off := (head & r.mask) * uint64(r.recordSize)
	copy(r.records[off:off+uint64(r.recordSize)], record) // relaxed store, fenced by the Release below
	atomic.StoreUint64(r.headPtr(), head+1)                // Release: publishes the record bytes
	return nil
}

// Overwrite force-writes a record even when the ring is full by advancing
// an internal floor past the oldest slot, rather than touching tail (which
// only the consumer may store to). The consumer observes the floor and
// skips forward past any range it has not read but that has already been
// replaced. Producer-only: used by the lane's drop-oldest policy when pool
// exhaustion leaves no spare ring to swap to (§4.4, §9).
func (r *Ring) Overwrite(record []byte) {
	head := atomic.LoadUint64(r.headPtr())
	newFloor := head - r.capacity + 1
	atomic.StoreUint64(r.floorPtr(), newFloor) // Release: published before the slot is overwritten
	off := (head & r.mask) * uint64(r.recordSize)
	copy(r.records[off:off+uint64(r.recordSize)], record)
	atomic.StoreUint64(r.headPtr(), head+1)
	atomic.AddUint64(r.droppedPtr(), 1)
}

// TryRead is consumer-only. It copies up to len(out)/recordSize whole
// records into out and returns the count copied.
func (r *Ring) TryRead(out []byte) int {
	head := atomic.LoadUint64(r.headPtr()) // Acquire: see all record bytes published up to head
	tail := atomic.LoadUint64(r.tailPtr())
	if floor := atomic.LoadUint64(r.floorPtr()); floor > tail {
		tail = floor // catch up past data the producer has already overwritten
	}
	available := head - tail
	maxRecords := uint64(len(out)) / uint64(r.recordSize)
	n := available
	if maxRecords < n {
		n = maxRecords
	}
	for i := uint64(0); i < n; i++ {
		srcOff := ((tail + i) & r.mask) * uint64(r.recordSize)
		dstOff := i * uint64(r.recordSize)
		copy(out[dstOff:dstOff+uint64(r.recordSize)], r.records[srcOff:srcOff+uint64(r.recordSize)])
	}
	atomic.StoreUint64(r.tailPtr(), tail+n) // Release
	return int(n)
}

// Len is an advisory snapshot via two atomic loads.
func (r *Ring) Len() uint64 {
	head := atomic.LoadUint64(r.headPtr())
	tail := atomic.LoadUint64(r.tailPtr())
	return head - tail
}

func (r *Ring) IsEmpty() bool { return r.Len() == 0 }
func (r *Ring) IsFull() bool  { return r.Len() == r.capacity }

func (r *Ring) DroppedCount() uint64 { return atomic.LoadUint64(r.droppedPtr()) }
