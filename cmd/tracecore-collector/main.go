// Command tracecore-collector runs one recording session's collector
// process: create the arena, drain producer rings to disk, serve
// Prometheus metrics, and exit with the code §6.7 specifies.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inos-systems/tracecore/collector"
	"github.com/inos-systems/tracecore/internal/arena"
	"github.com/inos-systems/tracecore/internal/config"
	"github.com/inos-systems/tracecore/internal/obs"
	"github.com/inos-systems/tracecore/internal/wire"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("tracecore-collector", flag.ContinueOnError)
	arenaPath := fs.String("arena", arena.DefaultPath("tracecore.arena"), "shared arena file path")
	outDir := fs.String("out", "./tracecore-session", "trace output directory")
	configPath := fs.String("config", "", "JSON configuration file (defaults used if empty)")
	metricsAddr := fs.String("metrics-addr", ":9464", "Prometheus metrics listen address")

	if err := fs.Parse(args); err != nil {
		return collector.ExitUsageError
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "tracecore-collector:", err)
			return collector.ExitUsageError
		}
		cfg = loaded
	}

	logger := obs.DefaultLogger("tracecore-collector")
	obs.SetGlobalLogger(logger)

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", obs.Err(err))
		}
	}()

	opts := collector.Options{
		ArenaPath: *arenaPath,
		OutputDir: *outDir,
		Config:    cfg,
		Arch:      runtimeArch(),
		OS:        wire.OSLinux,
	}

	sess, err := collector.New(opts, metrics)
	if err != nil {
		logger.Error("session init failed", obs.Err(err))
		return exitCodeFor(err)
	}
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("collector session started", obs.String("arena", *arenaPath), obs.String("out", *outDir))
	code := sess.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), collector.DrainInterval*50)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)

	logger.Info("collector session stopped", obs.Int("exit_code", code))
	return code
}

func exitCodeFor(err error) int {
	switch obs.KindOf(err) {
	case obs.KindArenaMismatch:
		return collector.ExitArenaInitFailure
	case obs.KindStartupTimeout:
		return collector.ExitStartupTimeout
	default:
		return collector.ExitArenaInitFailure
	}
}

func runtimeArch() uint8 {
	switch runtime.GOARCH {
	case "arm64":
		return wire.ArchARM64
	default:
		return wire.ArchX86_64
	}
}
