package spscring

import (
	"sync/atomic"
	"unsafe"
)

// indexQueueHeaderSize is head, tail: two uint64 counters.
const indexQueueHeaderSize = 16

// IndexQueue is a fixed-capacity SPSC queue of uint32 ring ids: the lane's
// submit_queue (producer pushes, drainer pops) and free_queue (drainer
// pushes, producer pops) handshake described in §4.4.
type IndexQueue struct {
	region   []byte
	slots    []byte
	capacity uint64
	mask     uint64
}

// IndexQueueSize returns the number of region bytes an IndexQueue of the
// given capacity needs.
func IndexQueueSize(capacity uint64) uint64 {
	return indexQueueHeaderSize + capacity*4
}

func NewIndexQueue(region []byte, capacity uint64, zero bool) *IndexQueue {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("spscring: index queue capacity must be a power of two")
	}
	if uint64(len(region)) < IndexQueueSize(capacity) {
		panic("spscring: region too small for requested index queue capacity")
	}
	q := &IndexQueue{region: region, slots: region[indexQueueHeaderSize:], capacity: capacity, mask: capacity - 1}
	if zero {
		atomic.StoreUint64(q.headPtr(), 0)
		atomic.StoreUint64(q.tailPtr(), 0)
	}
	return q
}

func (q *IndexQueue) headPtr() *uint64 { return (*uint64)(unsafe.Pointer(&q.region[0])) }
func (q *IndexQueue) tailPtr() *uint64 { return (*uint64)(unsafe.Pointer(&q.region[8])) }

// TryPush is the single-pusher side: Release on head after the slot write.
func (q *IndexQueue) TryPush(v uint32) bool {
	tail := atomic.LoadUint64(q.tailPtr()) // Acquire
	head := atomic.LoadUint64(q.headPtr())
	if head-tail == q.capacity {
		return false
	}
	off := (head & q.mask) * 4
	*(*uint32)(unsafe.Pointer(&q.slots[off])) = v
	atomic.StoreUint64(q.headPtr(), head+1) // Release
	return true
}

// TryPop is the single-popper side: Acquire on head before reading the slot.
func (q *IndexQueue) TryPop() (uint32, bool) {
	head := atomic.LoadUint64(q.headPtr()) // Acquire
	tail := atomic.LoadUint64(q.tailPtr())
	if head == tail {
		return 0, false
	}
	off := (tail & q.mask) * 4
	v := *(*uint32)(unsafe.Pointer(&q.slots[off]))
	atomic.StoreUint64(q.tailPtr(), tail+1) // Release
	return v, true
}

func (q *IndexQueue) Len() uint64 {
	head := atomic.LoadUint64(q.headPtr())
	tail := atomic.LoadUint64(q.tailPtr())
	return head - tail
}

func (q *IndexQueue) IsEmpty() bool { return q.Len() == 0 }
func (q *IndexQueue) Capacity() uint64 { return q.capacity }
