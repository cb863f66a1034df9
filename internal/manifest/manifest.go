// Package manifest implements the session manifest (§6.4): a single
// manifest.json summarizing a completed or in-progress session, written
// atomically via temp-file-then-rename the way the teacher's arena/epoch
// allocator commits its own control state.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/inos-systems/tracecore/internal/config"
	"github.com/inos-systems/tracecore/internal/obs"
)

// Module identifies one loaded module observed during the session, for
// the manifest's modules list.
type Module struct {
	ID   uint32    `json:"id"`
	UUID uuid.UUID `json:"uuid"`
}

// MarkingPolicyRecord mirrors the marking policy's configured rules plus
// roll windows, for manifest reconciliation.
type MarkingPolicyRecord struct {
	Rules      []config.TriggerSpec `json:"rules"`
	PreRollNs  uint64                `json:"pre_roll_ns"`
	PostRollNs uint64                `json:"post_roll_ns"`
}

// DropCounters is the session-wide total of dropped events by lane kind.
type DropCounters struct {
	IndexPoolExhausted  uint64 `json:"index_pool_exhausted"`
	DetailPoolExhausted uint64 `json:"detail_pool_exhausted"`
}

// Manifest is the full recognized key set of §6.4.
type Manifest struct {
	SessionID       uuid.UUID           `json:"session_id"`
	PID             int                 `json:"pid"`
	OS              uint8               `json:"os"`
	Arch            uint8               `json:"arch"`
	TimeStartNs     uint64              `json:"time_start_ns"`
	TimeEndNs       uint64              `json:"time_end_ns"`
	Threads         []uint32            `json:"threads"`
	Modules         []Module            `json:"modules"`
	EventCountTotal uint64              `json:"event_count_total"`
	MarkingPolicy   MarkingPolicyRecord `json:"marking_policy"`
	DropCounters    DropCounters        `json:"drop_counters"`
}

// New starts a manifest for a freshly created session.
func New(pid int, arch, osTag uint8, cfg config.Config) *Manifest {
	return &Manifest{
		SessionID: uuid.New(),
		PID:       pid,
		OS:        osTag,
		Arch:      arch,
		MarkingPolicy: MarkingPolicyRecord{
			Rules:      cfg.TriggerKinds,
			PreRollNs:  cfg.PreRollNs,
			PostRollNs: cfg.PostRollNs,
		},
	}
}

// Reconcile folds a tracewriter.Stats-shaped summary and per-lane drop
// counters into the manifest before it is written, the collector's final
// accounting step at session close.
func (m *Manifest) Reconcile(threads []uint32, eventCountTotal, timeStartNs, timeEndNs uint64, drops DropCounters) {
	m.Threads = threads
	m.EventCountTotal = eventCountTotal
	if m.TimeStartNs == 0 || (timeStartNs != 0 && timeStartNs < m.TimeStartNs) {
		m.TimeStartNs = timeStartNs
	}
	if timeEndNs > m.TimeEndNs {
		m.TimeEndNs = timeEndNs
	}
	m.DropCounters = drops
}

// WriteAtomic serializes the manifest as indented JSON and commits it via
// temp-file-in-same-directory + rename, so a reader never observes a
// partially written manifest.json (§6.4).
func (m *Manifest) WriteAtomic(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return obs.Wrap(obs.KindWriteError, "marshal manifest", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return obs.Wrap(obs.KindWriteError, "create manifest temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return obs.Wrap(obs.KindWriteError, "write manifest temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return obs.Wrap(obs.KindWriteError, "sync manifest temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return obs.Wrap(obs.KindWriteError, "close manifest temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return obs.Wrap(obs.KindWriteError, fmt.Sprintf("rename manifest to %s", path), err)
	}
	return nil
}

// Load reads and parses a manifest.json, for the collector's own
// diagnostics or a future offline viewer.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
