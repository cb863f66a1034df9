package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inos-systems/tracecore/internal/config"
	"github.com/inos-systems/tracecore/internal/wire"
)

func TestWriteAtomicThenLoadRoundTrips(t *testing.T) {
	cfg := config.Default()
	cfg.TriggerKinds = []config.TriggerSpec{{Kind: config.TriggerCrash}}
	m := New(1234, wire.ArchX86_64, wire.OSLinux, cfg)
	m.Reconcile([]uint32{1, 2}, 500, 10, 2000, DropCounters{IndexPoolExhausted: 3})

	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, m.WriteAtomic(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m.SessionID, loaded.SessionID)
	assert.Equal(t, []uint32{1, 2}, loaded.Threads)
	assert.Equal(t, uint64(500), loaded.EventCountTotal)
	assert.Equal(t, uint64(3), loaded.DropCounters.IndexPoolExhausted)
	assert.Equal(t, config.TriggerCrash, loaded.MarkingPolicy.Rules[0].Kind)
}

func TestWriteAtomicLeavesNoTempFileBehind(t *testing.T) {
	cfg := config.Default()
	m := New(1, wire.ArchX86_64, wire.OSLinux, cfg)
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, m.WriteAtomic(path))

	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
