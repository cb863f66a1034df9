// Package config holds the enumerated configuration surface of §6.6: the
// handful of knobs the external hooker/injector and marking policy read,
// given a concrete home here since the transport core owns their storage
// and validation even though it does not implement hooking itself.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	// MaxStackBytes is the upper bound on the shallow stack snapshot a
	// DetailRecord payload may carry (§6.6).
	MaxStackBytes = 512
	// RegisterBytes is the fixed register-capture portion of a detail
	// payload, ahead of the stack snapshot.
	RegisterBytes = 128

	// MaxThreadsLimit mirrors arena.MaxThreadsLimit: the registry's bitmap
	// is a single atomic_u64, so no more than 64 slots can ever be
	// allocated regardless of what max_threads requests. Duplicated here
	// rather than imported to avoid a config<->arena import cycle (arena
	// already imports config for layout sizing).
	MaxThreadsLimit = 64
)

// TriggerKind enumerates the marking-policy rule kinds from §6.6.
type TriggerKind int

const (
	TriggerSymbol TriggerKind = iota
	TriggerCrash
	TriggerLatencyThreshold
	TriggerTimeWindow
)

// TriggerSpec is one marking-policy rule (§6.6 trigger_kinds, §9's
// preference for a fixed decision table over callback indirection).
type TriggerSpec struct {
	Kind          TriggerKind `json:"kind"`
	Symbol        string      `json:"symbol,omitempty"`
	LatencyNs     uint64      `json:"latency_ns,omitempty"`
	WindowStartNs uint64      `json:"window_start_ns,omitempty"`
	WindowEndNs   uint64      `json:"window_end_ns,omitempty"`
}

// ModulePattern is a module to skip during hooking; tracked here only so it
// can be recorded in the manifest (the hooker itself is out of scope).
type ModulePattern struct {
	Pattern string `json:"pattern"`
}

// Config is the full enumerated option set of §6.6.
type Config struct {
	StackBytes          uint16          `json:"stack_bytes"`
	PreRollNs           uint64          `json:"pre_roll_ns"`
	PostRollNs          uint64          `json:"post_roll_ns"`
	TriggerKinds        []TriggerSpec   `json:"trigger_kinds"`
	Excludes            []ModulePattern `json:"excludes"`
	MaxThreads          uint32          `json:"max_threads"`
	RingCapacityRecords uint32          `json:"ring_capacity_records"`
	RingPoolSizePerLane uint32          `json:"ring_pool_size_per_lane"`
}

func Default() Config {
	return Config{
		StackBytes:          64,
		PreRollNs:           1_000_000,
		PostRollNs:          1_000_000,
		MaxThreads:          64,
		RingCapacityRecords: 1024,
		RingPoolSizePerLane: 3,
	}
}

func (c Config) Validate() error {
	if c.StackBytes > MaxStackBytes {
		return fmt.Errorf("config: stack_bytes %d exceeds max %d", c.StackBytes, MaxStackBytes)
	}
	if c.MaxThreads == 0 {
		return fmt.Errorf("config: max_threads must be > 0")
	}
	if c.MaxThreads > MaxThreadsLimit {
		return fmt.Errorf("config: max_threads %d exceeds registry bitmap limit %d", c.MaxThreads, MaxThreadsLimit)
	}
	if c.RingCapacityRecords == 0 || c.RingCapacityRecords&(c.RingCapacityRecords-1) != 0 {
		return fmt.Errorf("config: ring_capacity_records must be a power of two, got %d", c.RingCapacityRecords)
	}
	if c.RingPoolSizePerLane < 2 {
		return fmt.Errorf("config: ring_pool_size_per_lane must be >= 2, got %d", c.RingPoolSizePerLane)
	}
	return nil
}

// DetailSlotSize is the fixed per-record capacity of a detail ring slot:
// header + registers + the configured shallow stack snapshot.
func (c Config) DetailSlotSize() uint32 {
	return 24 + RegisterBytes + uint32(c.StackBytes)
}

// Load reads a JSON configuration file over the defaults, then validates.
func Load(path string) (Config, error) {
	c := Default()
	f, err := os.Open(path)
	if err != nil {
		return c, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}
