// Package marking implements the selective-persistence policy (§4.4,
// §6.6): a precomputed decision table evaluated against each index record
// as it is captured, rather than a callback dispatched per event (§9
// explicitly prefers the fixed-table shape over dynamic dispatch on the
// hot path). A match arms the owning detail lane's next dump via
// lane.Mark.
package marking

import (
	"github.com/cespare/xxhash/v2"

	"github.com/inos-systems/tracecore/internal/config"
	"github.com/inos-systems/tracecore/internal/wire"
)

// HashSymbol is the lookup key a hooker computes once per resolved symbol
// name (at hook-install time, off the hot path) and passes alongside every
// captured event, so the policy itself never hashes or compares strings.
func HashSymbol(name string) uint64 { return xxhash.Sum64String(name) }

type latencyRule struct{ thresholdNs uint64 }
type windowRule struct{ startNs, endNs uint64 }

// Policy is the compiled form of config.Config's TriggerKinds: a symbol
// hash set plus small rule slices, all built once at session start.
type Policy struct {
	symbols map[uint64]struct{}
	crash   bool
	latency []latencyRule
	windows []windowRule
}

// New compiles trigger specs into a Policy. Each TriggerSymbol rule's
// configured name is hashed with HashSymbol into the symbol set; an event
// matches when the caller passes the same hash to Evaluate.
func New(specs []config.TriggerSpec) *Policy {
	p := &Policy{symbols: make(map[uint64]struct{})}
	for _, t := range specs {
		switch t.Kind {
		case config.TriggerSymbol:
			p.symbols[HashSymbol(t.Symbol)] = struct{}{}
		case config.TriggerCrash:
			p.crash = true
		case config.TriggerLatencyThreshold:
			p.latency = append(p.latency, latencyRule{thresholdNs: t.LatencyNs})
		case config.TriggerTimeWindow:
			p.windows = append(p.windows, windowRule{startNs: t.WindowStartNs, endNs: t.WindowEndNs})
		}
	}
	return p
}

// Evaluate decides whether a captured event arms the next detail dump.
// symbolHash is the caller's precomputed HashSymbol result for the event's
// function (zero if unknown/unresolved); latencyNs is the caller's own
// call/return latency measurement, zero for call-side events.
func (p *Policy) Evaluate(symbolHash uint64, rec wire.IndexRecord, latencyNs uint64) bool {
	if symbolHash != 0 {
		if _, ok := p.symbols[symbolHash]; ok {
			return true
		}
	}
	if p.crash && rec.EventKind == wire.EventKindException {
		return true
	}
	for _, l := range p.latency {
		if latencyNs >= l.thresholdNs {
			return true
		}
	}
	for _, w := range p.windows {
		if rec.TimestampNs >= w.startNs && rec.TimestampNs <= w.endNs {
			return true
		}
	}
	return false
}

// Empty reports whether the policy has no rules at all (detail lane stays
// a pure flight recorder, never persisted except on thread exit's final
// drain).
func (p *Policy) Empty() bool {
	return len(p.symbols) == 0 && !p.crash && len(p.latency) == 0 && len(p.windows) == 0
}
