// Package drain implements the drain scheduler (C5): a fair, weighted
// iterator over the thread registry's active slots that moves filled rings
// from each lane's submit queue to the trace writer, credits the slot it
// serviced, and performs a final drain plus reclaim on threads that have
// gone inactive. Grounded on the teacher's supervisor.CreditSupervisor
// scoring loop (lowest-credit-first selection over a shared account table)
// generalized to §4.5's credits/pending weighted fair queueing.
package drain

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/inos-systems/tracecore/internal/config"
	"github.com/inos-systems/tracecore/internal/lane"
	"github.com/inos-systems/tracecore/internal/obs"
	"github.com/inos-systems/tracecore/internal/registry"
	"github.com/inos-systems/tracecore/internal/wire"
)

// Writer is the trace-persistence surface the scheduler drains into;
// *tracewriter.Session satisfies it.
type Writer interface {
	WriteIndexBatch(threadID uint32, buf []byte, count int) error
	WriteDetailBatch(threadID uint32, buf []byte, count, slotSize int) error
	CloseThread(threadID uint32) error
}

// Registry is the subset of *registry.Registry the scheduler needs; kept
// as an interface so tests can swap in a narrower fake if ever needed,
// though production callers always pass the real registry.
type Registry interface {
	Snapshot() []*registry.ThreadHandle
	Reclaim(idx uint32)
	PublishHeartbeat(ts uint64)
	ThreadCount() uint32
}

// DefaultCreditIncrement is how much a slot's credits rise each time it is
// serviced; larger values widen the gap between heavy and light emitters
// before the scheduler re-levels them.
const DefaultCreditIncrement = 1

// Scheduler is the drain thread's state: one per collector session.
type Scheduler struct {
	reg             Registry
	writer          Writer
	cfg             config.Config
	creditIncrement uint32
	now             func() uint64
	metrics         *obs.Metrics

	dropMu               sync.Mutex
	lastIndexExhausted   map[uint32]uint64 // thread_id -> last-observed lane.PoolExhaustedCount
	lastDetailExhausted  map[uint32]uint64
	totalIndexExhausted  uint64 // §8 invariant 2: must survive a slot's reclaim, so captured here, not re-derived from a post-hoc snapshot
	totalDetailExhausted uint64
}

// Option configures a Scheduler beyond its required constructor args.
type Option func(*Scheduler)

// WithClock overrides the monotonic-timestamp source; tests use this to
// avoid real wall-clock dependence.
func WithClock(now func() uint64) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithCreditIncrement overrides DefaultCreditIncrement.
func WithCreditIncrement(n uint32) Option {
	return func(s *Scheduler) { s.creditIncrement = n }
}

// WithMetrics attaches a Prometheus exporter; nil (the default) disables
// metrics entirely.
func WithMetrics(m *obs.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func New(reg Registry, writer Writer, cfg config.Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		reg: reg, writer: writer, cfg: cfg,
		creditIncrement:     DefaultCreditIncrement,
		now:                 func() uint64 { return uint64(time.Now().UnixNano()) },
		lastIndexExhausted:  make(map[uint32]uint64),
		lastDetailExhausted: make(map[uint32]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DropCounts returns the session's cumulative pool-exhausted drop totals
// across every thread the scheduler has ever serviced, including threads
// already reclaimed. Reading it from s.reg.Snapshot() after the fact would
// miss reclaimed threads, since Reclaim drops their ThreadHandle (and the
// in-memory counters it carries) from the registry's cache — so this
// total is accumulated incrementally as each thread is observed, not
// recomputed from a snapshot (§8 invariant 2: drop accounting must be
// exact even across thread churn).
func (s *Scheduler) DropCounts() (indexExhausted, detailExhausted uint64) {
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	return s.totalIndexExhausted, s.totalDetailExhausted
}

// accumulateDrops folds h's current lane drop counts into the running
// session totals, tracked as a delta against the last-observed value so
// repeated calls across cycles never double-count. Must be called while h
// is still reachable (i.e. before the registry reclaims its slot).
func (s *Scheduler) accumulateDrops(h *registry.ThreadHandle) {
	idx := h.IndexLane.PoolExhaustedCount()
	det := h.DetailLane.PoolExhaustedCount()

	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	s.totalIndexExhausted += idx - s.lastIndexExhausted[h.ThreadID]
	s.totalDetailExhausted += det - s.lastDetailExhausted[h.ThreadID]
	s.lastIndexExhausted[h.ThreadID] = idx
	s.lastDetailExhausted[h.ThreadID] = det
}

type candidate struct {
	h       *registry.ThreadHandle
	pending uint64
	score   float64
}

// RunOnce performs one scheduling cycle: snapshot the registry, final-drain
// and reclaim anything that has gone inactive, then service every active
// slot with pending work in ascending score order (§4.5's selection
// algorithm), oldest last_drain_time_ns breaking ties.
func (s *Scheduler) RunOnce() error {
	now := s.now()
	snapshot := s.reg.Snapshot()

	var active []candidate
	var firstErr error
	for _, h := range snapshot {
		if !h.Active() {
			// Capture this slot's drop totals before the final drain and
			// reclaim make its ThreadHandle (and the in-memory counters
			// it carries) unreachable.
			s.accumulateDrops(h)
			if err := s.finalDrain(h); err != nil && firstErr == nil {
				firstErr = err
			}
			s.reg.Reclaim(h.SlotIndex)
			continue
		}
		s.accumulateDrops(h)
		pending := h.IndexLane.Pending() + h.DetailLane.Pending()
		if pending == 0 {
			continue
		}
		credits := float64(h.Credits())
		denom := float64(pending)
		active = append(active, candidate{h: h, pending: pending, score: credits / denom})
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].score != active[j].score {
			return active[i].score < active[j].score
		}
		return active[i].h.LastDrainTimeNs() < active[j].h.LastDrainTimeNs()
	})

	for _, c := range active {
		if err := s.serviceSlot(c.h); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c.h.AddCredits(s.creditIncrement)
		c.h.SetLastDrainTimeNs(now)
	}

	s.reg.PublishHeartbeat(now)
	if s.metrics != nil {
		s.metrics.DrainHeartbeat.Set(float64(now))
		s.metrics.RegistryThreads.Set(float64(s.reg.ThreadCount()))
	}
	return firstErr
}

// serviceSlot drains the index lane unconditionally and the detail lane
// only when it has pending work (§4.5 step 4-5).
func (s *Scheduler) serviceSlot(h *registry.ThreadHandle) error {
	if err := s.drainLane(h.ThreadID, h.IndexLane, wire.IndexRecordSize, false); err != nil {
		return err
	}
	if h.DetailLane.Pending() > 0 {
		if err := s.drainLane(h.ThreadID, h.DetailLane, s.cfg.DetailSlotSize(), true); err != nil {
			return err
		}
	}
	return nil
}

// finalDrain empties both lanes one last time for a thread that has
// deregistered, then closes its files (§4.5, §4.6).
func (s *Scheduler) finalDrain(h *registry.ThreadHandle) error {
	if err := s.drainLane(h.ThreadID, h.IndexLane, wire.IndexRecordSize, false); err != nil {
		return err
	}
	if err := s.drainLane(h.ThreadID, h.DetailLane, s.cfg.DetailSlotSize(), true); err != nil {
		return err
	}
	return s.writer.CloseThread(h.ThreadID)
}

// drainLane empties every ring currently on l's submit_queue, handing each
// one's bytes to the writer as a single batch before returning it to
// free_queue (§4.5 per-lane drain step).
func (s *Scheduler) drainLane(threadID uint32, l *lane.Lane, recordSize uint32, isDetail bool) error {
	for {
		handle, ok := l.TryAcquireDrain()
		if !ok {
			return nil
		}
		ring := handle.Ring()
		buf := make([]byte, ring.Capacity()*uint64(recordSize))
		n := ring.TryRead(buf)
		used := buf[:uint64(n)*uint64(recordSize)]

		var err error
		if isDetail {
			err = s.writer.WriteDetailBatch(threadID, used, n, int(recordSize))
		} else {
			err = s.writer.WriteIndexBatch(threadID, used, n)
		}
		l.ReleaseDrain(handle)
		if err != nil {
			return err
		}
		if s.metrics != nil && n > 0 {
			laneLabel := "index"
			if isDetail {
				laneLabel = "detail"
			}
			s.metrics.EventsPersisted.WithLabelValues(strconv.FormatUint(uint64(threadID), 10), laneLabel).Add(float64(n))
		}
	}
}

// Run drives RunOnce on a fixed interval until ctx is cancelled, the
// futex/eventfd-style wait of §4.8 realized as a ticker since Go offers no
// portable wait-on-atomic primitive.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return s.DrainUntilDry()
		case <-ticker.C:
			if err := s.RunOnce(); err != nil {
				obs.Global().Error("drain iteration error", obs.Err(err))
			}
		}
	}
}

// DrainUntilDry runs scheduling cycles until a cycle finds nothing pending
// and nothing newly inactive — the collector's stop sequence calls this
// after signaling producers to stop, to flush every straggler (§4.6's
// Writing -> Finalizing transition).
func (s *Scheduler) DrainUntilDry() error {
	for {
		before := s.reg.Snapshot()
		anyPending := false
		for _, h := range before {
			if !h.Active() || h.IndexLane.Pending() > 0 || h.DetailLane.Pending() > 0 {
				anyPending = true
				break
			}
		}
		if err := s.RunOnce(); err != nil {
			return err
		}
		if !anyPending {
			return nil
		}
	}
}
