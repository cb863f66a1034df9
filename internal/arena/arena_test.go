package arena

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inos-systems/tracecore/internal/config"
	"github.com/inos-systems/tracecore/internal/obs"
)

func testConfig() config.Config {
	c := config.Default()
	c.MaxThreads = 4
	c.RingCapacityRecords = 16
	c.RingPoolSizePerLane = 2
	return c
}

func TestCreateThenOpenValidatesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.bin")
	cfg := testConfig()

	created, err := Create(path, cfg)
	require.NoError(t, err)
	defer created.Close()

	h := created.Header()
	assert.Equal(t, Magic, h.Magic)
	assert.Equal(t, Version, h.Version)
	assert.Equal(t, created.Layout.RegistryOffset, h.RegistryOffset)
	assert.Equal(t, created.Layout.RingsOffset, h.RingsOffset)

	opened, err := Open(path, cfg)
	require.NoError(t, err)
	defer opened.Close()
	assert.Equal(t, created.Size(), opened.Size())
}

func TestOpenRejectsSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.bin")
	cfg := testConfig()

	created, err := Create(path, cfg)
	require.NoError(t, err)
	created.Close()

	mismatched := cfg
	mismatched.MaxThreads = 64
	_, err = Open(path, mismatched)
	require.Error(t, err)
	assert.Equal(t, obs.KindArenaMismatch, obs.KindOf(err))
}

func TestTwoMappingsOfSameArenaShareState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.bin")
	cfg := testConfig()

	collector, err := Create(path, cfg)
	require.NoError(t, err)
	defer collector.Close()

	agent, err := Open(path, cfg)
	require.NoError(t, err)
	defer agent.Close()

	off := collector.Layout.RegistryOffset
	collector.Slice(off, 8)[0] = 0x7F
	assert.Equal(t, byte(0x7F), agent.Slice(off, 8)[0])
}
