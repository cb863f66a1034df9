package agent

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inos-systems/tracecore/internal/arena"
	"github.com/inos-systems/tracecore/internal/config"
	"github.com/inos-systems/tracecore/internal/marking"
	"github.com/inos-systems/tracecore/internal/registry"
	"github.com/inos-systems/tracecore/internal/wire"
)

func newTestAgent(t *testing.T, policy *marking.Policy) (*Agent, config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.MaxThreads = 4
	cfg.RingCapacityRecords = 8
	cfg.RingPoolSizePerLane = 2
	cfg.StackBytes = 32

	path := filepath.Join(t.TempDir(), "arena.bin")
	a, err := arena.Create(path, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	reg := registry.New(a, cfg)
	return New(reg, policy, cfg), cfg
}

func TestCallThenReturnCapturesIndexAndDetailPair(t *testing.T) {
	ag, _ := newTestAgent(t, marking.New(nil))
	p, err := ag.Register(1)
	require.NoError(t, err)

	fid := wire.FunctionID(1, 1)
	require.NoError(t, p.Call(fid, 0, 100, []byte("regs1")))
	require.NoError(t, p.Return(fid, 0, 200, 100, []byte("regs2")))

	assert.Equal(t, uint32(2), p.indexSeq)
	assert.Equal(t, uint32(2), p.detailSeq)
}

func TestCallIncrementsDepthAndReturnDecrements(t *testing.T) {
	ag, _ := newTestAgent(t, marking.New(nil))
	p, err := ag.Register(1)
	require.NoError(t, err)

	fid := wire.FunctionID(1, 1)
	require.NoError(t, p.Call(fid, 0, 1, nil))
	assert.Equal(t, uint32(1), p.depth)
	require.NoError(t, p.Return(fid, 0, 2, 0, nil))
	assert.Equal(t, uint32(0), p.depth)
}

func TestSymbolTriggerArmsDetailMark(t *testing.T) {
	policy := marking.New([]config.TriggerSpec{{Kind: config.TriggerSymbol, Symbol: "hot_fn"}})
	ag, _ := newTestAgent(t, policy)
	p, err := ag.Register(1)
	require.NoError(t, err)

	assert.False(t, p.handle.DetailLane.Marked())
	require.NoError(t, p.Call(wire.FunctionID(1, 1), marking.HashSymbol("hot_fn"), 1, nil))
	assert.True(t, p.handle.DetailLane.Marked())
}

func TestDetailSeqSentinelWhenNoPayload(t *testing.T) {
	ag, _ := newTestAgent(t, marking.New(nil))
	p, err := ag.Register(1)
	require.NoError(t, err)

	require.NoError(t, p.Call(wire.FunctionID(1, 1), 0, 1, nil))
	assert.Equal(t, uint32(1), p.indexSeq)
	assert.Equal(t, uint32(0), p.detailSeq)
}

func TestUnregisterDeactivatesProducer(t *testing.T) {
	ag, _ := newTestAgent(t, marking.New(nil))
	p, err := ag.Register(1)
	require.NoError(t, err)
	assert.True(t, p.handle.Active())

	ag.Unregister(p)
	assert.False(t, p.handle.Active())
}
