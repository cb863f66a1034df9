// Package agent is the producer-facing surface injected into the target
// process: register a thread on its first event, capture call/return/
// exception events into that thread's lanes, and arm the marking policy's
// next detail dump. Everything here runs on the hot path described by
// §4.1/§4.4 — no locks, no allocation beyond the fixed-size record
// buffers, no syscalls.
//
// Function hooking, symbolization, and DWARF resolution are out of scope
// (spec.md's own Non-goals); this package only implements record_event,
// register, and mark against a resolved function_id/symbol_hash pair the
// hooker is assumed to supply.
package agent

import (
	"github.com/inos-systems/tracecore/internal/config"
	"github.com/inos-systems/tracecore/internal/marking"
	"github.com/inos-systems/tracecore/internal/registry"
	"github.com/inos-systems/tracecore/internal/wire"
)

// Agent is the process-wide entry point: one per injected target process,
// wrapping the shared registry and the compiled marking policy.
type Agent struct {
	reg            *registry.Registry
	policy         *marking.Policy
	detailSlotSize uint32
}

func New(reg *registry.Registry, policy *marking.Policy, cfg config.Config) *Agent {
	return &Agent{reg: reg, policy: policy, detailSlotSize: cfg.DetailSlotSize()}
}

// Register admits threadID's lane set on its first event. A thread already
// registered keeps its slot (the registry hands back its cached handle),
// but each call returns a new Producer whose sequence counters and call
// depth start at zero; the previous Producer is not reused.
func (a *Agent) Register(threadID uint32) (*Producer, error) {
	h, err := a.reg.Register(threadID)
	if err != nil {
		return nil, err
	}
	return &Producer{
		handle:         h,
		policy:         a.policy,
		detailSlotSize: a.detailSlotSize,
		detailBuf:      make([]byte, a.detailSlotSize),
	}, nil
}

// Unregister flips the thread's slot inactive on thread exit (§4.3); the
// drain scheduler reclaims the slot after its final drain.
func (a *Agent) Unregister(p *Producer) {
	a.reg.Unregister(p.handle)
}

// Producer is a single thread's hot-path handle: the lane pair plus the
// process-local sequence counters that pre-stamp each IndexRecord's
// detail_seq and each DetailRecord's index_seq before either record
// enters its ring (see DESIGN.md's resolution of the index/detail linkage
// open question — valid as long as no pool exhaustion reorders what the
// trace writer eventually appends). Not safe for concurrent use: a
// Producer belongs to exactly one OS thread, matching the single-producer
// contract of the lane it wraps.
//
// indexBuf/detailBuf are owned scratch space, reused across every capture
// call so the hot path never allocates (§5): Record copies out of them
// into the ring before returning, so reuse on the next call is safe.
type Producer struct {
	handle *registry.ThreadHandle
	policy *marking.Policy

	detailSlotSize uint32
	indexSeq       uint32
	detailSeq      uint32
	depth          uint32

	indexBuf  [wire.IndexRecordSize]byte
	detailBuf []byte
}

// Call records a function entry. payload, if non-empty, is the hooker's
// captured register/stack snapshot; it is always written to the detail
// ring (capture is unconditional — only persistence is gated by the
// marking policy, per §4.4).
func (p *Producer) Call(functionID, symbolHash uint64, nowNs uint64, payload []byte) error {
	depth := p.depth
	p.depth++
	return p.capture(wire.EventKindCall, functionID, symbolHash, depth, nowNs, 0, payload)
}

// Return records a function exit. latencyNs is the hooker's own
// call-to-return measurement, consulted by latency-threshold triggers.
func (p *Producer) Return(functionID, symbolHash uint64, nowNs, latencyNs uint64, payload []byte) error {
	if p.depth > 0 {
		p.depth--
	}
	return p.capture(wire.EventKindReturn, functionID, symbolHash, p.depth, nowNs, latencyNs, payload)
}

// Exception records an unwind-by-exception event. It is evaluated against
// the policy like any other event; a configured crash trigger matches
// every exception.
func (p *Producer) Exception(functionID, symbolHash uint64, nowNs uint64, payload []byte) error {
	return p.capture(wire.EventKindException, functionID, symbolHash, p.depth, nowNs, 0, payload)
}

// Mark arms the detail lane's next dump directly, bypassing policy
// evaluation — an escape hatch for callers driving the marking decision
// externally (e.g. a debugger attach or an explicit user trigger).
func (p *Producer) Mark() { p.handle.DetailLane.Mark() }

func (p *Producer) capture(kind uint32, functionID, symbolHash uint64, depth uint32, nowNs, latencyNs uint64, payload []byte) error {
	detailSeq := wire.DetailSeqSentinel
	captureDetail := len(payload) > 0 && p.detailSlotSize > wire.DetailHeaderSize
	pairedIndexSeq := p.indexSeq
	if captureDetail {
		detailSeq = p.detailSeq
		p.detailSeq++
	}

	rec := wire.IndexRecord{
		TimestampNs: nowNs,
		FunctionID:  functionID,
		ThreadID:    p.handle.ThreadID,
		EventKind:   kind,
		CallDepth:   depth,
		DetailSeq:   detailSeq,
	}
	p.indexSeq++

	rec.Encode(p.indexBuf[:])
	indexErr := p.handle.IndexLane.Record(p.indexBuf[:])

	var detailErr error
	if captureDetail {
		detailErr = p.writeDetail(kind, pairedIndexSeq, nowNs, payload)
	}

	if p.policy != nil && !p.policy.Empty() && p.policy.Evaluate(symbolHash, rec, latencyNs) {
		p.handle.DetailLane.Mark()
	}

	if indexErr != nil {
		return indexErr
	}
	return detailErr
}

func (p *Producer) writeDetail(kind uint32, indexSeq uint32, nowNs uint64, payload []byte) error {
	total := wire.DetailHeaderSize + len(payload)
	if total > int(p.detailSlotSize) {
		payload = payload[:int(p.detailSlotSize)-wire.DetailHeaderSize]
		total = int(p.detailSlotSize)
	}
	header := wire.DetailHeader{
		TotalLength: uint32(total),
		EventType:   uint16(kind),
		IndexSeq:    indexSeq,
		ThreadID:    p.handle.ThreadID,
		TimestampNs: nowNs,
	}
	wire.DetailRecord{Header: header, Payload: payload}.Encode(p.detailBuf[:total])
	return p.handle.DetailLane.Record(p.detailBuf)
}
