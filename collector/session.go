// Package collector is the collector-facing surface (§4.6's session
// lifecycle, §4.5's drain loop, §6.7's exit codes): it owns the arena,
// the registry, the drain scheduler, and the trace writer for one
// recording session, and wires their goroutines together with
// errgroup the way the pack's ring-buffer worker pools do.
package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inos-systems/tracecore/internal/arena"
	"github.com/inos-systems/tracecore/internal/config"
	"github.com/inos-systems/tracecore/internal/drain"
	"github.com/inos-systems/tracecore/internal/manifest"
	"github.com/inos-systems/tracecore/internal/marking"
	"github.com/inos-systems/tracecore/internal/obs"
	"github.com/inos-systems/tracecore/internal/registry"
	"github.com/inos-systems/tracecore/internal/tracewriter"
)

// Exit codes per §6.7.
const (
	ExitClean              = 0
	ExitUsageError         = 1
	ExitArenaInitFailure   = 2
	ExitStartupTimeout     = 3
	ExitWriteErrorExceeded = 4
)

// DrainInterval is the scheduler's polling period absent a futex/eventfd
// primitive to wait on (§4.5's "sleeps for iteration_interval").
const DrainInterval = 2 * time.Millisecond

// WriteErrorThreshold triggers ExitWriteErrorExceeded when a session's
// cumulative write error count crosses it (§6.7, §7).
const WriteErrorThreshold = 1000

// ShutdownTimeout bounds the stop sequence (drain-until-dry, close
// writers, write manifest) run by obs.GracefulShutdown in finalize.
const ShutdownTimeout = 5 * time.Second

// Options configures a Session.
type Options struct {
	ArenaPath  string
	OutputDir  string // receives thread_<id>/{index,detail}.atf and manifest.json directly; no session_<timestamp>/pid_<pid> subdirectories are created
	Config     config.Config
	Arch       uint8
	OS         uint8
	MaxThreads uint32 // overrides Config.MaxThreads when nonzero (convenience for callers building Config ad hoc)
}

// Session is one recording session's collector-side state from arena
// creation through manifest finalize.
type Session struct {
	opts      Options
	arenaInst *arena.Arena
	reg       *registry.Registry
	policy    *marking.Policy
	writer    *tracewriter.Session
	scheduler *drain.Scheduler
	man       *manifest.Manifest
	metrics   *obs.Metrics
	logger    *obs.Logger
	shutdown  *obs.GracefulShutdown

	exitCode int
}

// New creates the arena fresh (§3's "initialized exactly once, by the
// collector"), marks the registry ready, and wires the trace writer and
// drain scheduler. Callers obtain Options.ArenaPath from a predictable,
// agent-discoverable location (e.g. a CLI flag or a well-known temp path).
func New(opts Options, metrics *obs.Metrics) (*Session, error) {
	logger := obs.DefaultLogger("collector")

	a, err := arena.Create(opts.ArenaPath, opts.Config)
	if err != nil {
		return nil, obs.Wrap(obs.KindArenaMismatch, "create arena", err)
	}

	reg := registry.New(a, opts.Config)
	reg.MarkReady()

	policy := marking.New(opts.Config.TriggerKinds)

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		a.Close()
		return nil, obs.Wrap(obs.KindWriteError, "create output directory", err)
	}
	writer, err := tracewriter.NewSession(opts.OutputDir, opts.Arch, opts.OS)
	if err != nil {
		a.Close()
		return nil, err
	}

	var schedOpts []drain.Option
	if metrics != nil {
		schedOpts = append(schedOpts, drain.WithMetrics(metrics))
	}
	scheduler := drain.New(reg, writer, opts.Config, schedOpts...)

	man := manifest.New(os.Getpid(), opts.Arch, opts.OS, opts.Config)

	s := &Session{
		opts: opts, arenaInst: a, reg: reg, policy: policy,
		writer: writer, scheduler: scheduler, man: man, metrics: metrics, logger: logger,
	}

	// Registered in reverse of execution order: GracefulShutdown runs
	// steps LIFO, so the last one registered (drain-until-dry) runs
	// first, matching §4.6's Writing -> Finalizing -> Closed sequence.
	s.shutdown = obs.NewGracefulShutdown(ShutdownTimeout, logger)
	s.shutdown.Register(s.writeManifestStep)
	s.shutdown.Register(s.closeWritersStep)
	s.shutdown.Register(s.drainUntilDryStep)

	return s, nil
}

// Policy exposes the compiled marking policy for an agent running in the
// same process (the in-process test/harness case); an out-of-process
// agent instead reads trigger_kinds from the same config file and
// compiles its own.
func (s *Session) Policy() *marking.Policy { return s.policy }

// Registry exposes the shared registry for an in-process agent.
func (s *Session) Registry() *registry.Registry { return s.reg }

// Run drives the drain scheduler until ctx is cancelled, then performs the
// stop sequence: DrainUntilDry, close every writer, write the manifest.
// It returns the process exit code to use (§6.7), not an error — callers
// in cmd/ translate codes to os.Exit.
func (s *Session) Run(ctx context.Context) int {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.scheduler.Run(gctx, DrainInterval) })

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		s.logger.Error("drain loop exited with error", obs.Err(err))
	}

	return s.finalize()
}

// finalize runs the stop sequence (§4.6's Writing -> Finalizing -> Closed)
// through a GracefulShutdown, then returns the exit code its steps left
// behind; called once, after Run's context is cancelled.
func (s *Session) finalize() int {
	s.exitCode = ExitClean
	if err := s.shutdown.Shutdown(context.Background()); err != nil {
		s.logger.Error("shutdown sequence failed", obs.Err(err))
	}
	return s.exitCode
}

// drainUntilDryStep is the stop sequence's first step: flush every
// straggling ring after producers have stopped.
func (s *Session) drainUntilDryStep(ctx context.Context) error {
	if err := s.scheduler.DrainUntilDry(); err != nil {
		s.logger.Error("final drain failed", obs.Err(err))
		return err
	}
	return nil
}

// closeWritersStep finalizes every thread's index/detail files (headers,
// footers, checksums).
func (s *Session) closeWritersStep(ctx context.Context) error {
	if err := s.writer.CloseAll(); err != nil {
		s.logger.Error("closing trace writers failed", obs.Err(err))
		return err
	}
	return nil
}

// writeManifestStep reconciles and atomically writes manifest.json, folds
// the session's drop/error totals into Prometheus, and decides the
// session's final exit code.
func (s *Session) writeManifestStep(ctx context.Context) error {
	stats := s.writer.Stats()
	indexExhausted, detailExhausted := s.scheduler.DropCounts()
	drops := manifest.DropCounters{
		IndexPoolExhausted:  indexExhausted,
		DetailPoolExhausted: detailExhausted,
	}
	s.man.Reconcile(stats.Threads, stats.EventCountTotal, stats.TimeStartNs, stats.TimeEndNs, drops)

	if s.metrics != nil {
		s.metrics.PoolExhausted.WithLabelValues("index").Add(float64(indexExhausted))
		s.metrics.PoolExhausted.WithLabelValues("detail").Add(float64(detailExhausted))
		s.metrics.WriteErrors.Add(float64(stats.WriteErrors))
	}

	manifestPath := filepath.Join(s.opts.OutputDir, "manifest.json")
	if err := s.man.WriteAtomic(manifestPath); err != nil {
		s.logger.Error("writing manifest failed", obs.Err(err))
		s.exitCode = ExitWriteErrorExceeded
		return err
	}

	if stats.WriteErrors >= WriteErrorThreshold {
		s.logger.Warn("write error threshold exceeded", obs.Uint64("write_errors", stats.WriteErrors))
		s.exitCode = ExitWriteErrorExceeded
		return nil
	}
	s.exitCode = ExitClean
	return nil
}

// Close releases the arena mapping; callers should defer this after Run
// returns (or call it directly on an early New failure path).
func (s *Session) Close() error {
	return s.arenaInst.Close()
}

// WaitForReady polls the registry's ready flag (published by New's
// MarkReady call) for up to timeout — the agent-side counterpart of
// §7's StartupTimeout: an agent opening the arena before the collector
// has finished initializing it waits here instead of racing the header.
func WaitForReady(reg *registry.Registry, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if reg.Ready() {
			return nil
		}
		if time.Now().After(deadline) {
			return obs.New(obs.KindStartupTimeout, fmt.Sprintf("registry not ready after %s", timeout))
		}
		time.Sleep(time.Millisecond)
	}
}
