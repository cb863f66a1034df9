package obs

import (
	"context"
	"sync"
	"time"
)

// GracefulShutdown runs registered steps in LIFO order under a deadline,
// the way a collector session tears down: stop drain, final-drain
// stragglers, close writers, fsync the manifest.
type GracefulShutdown struct {
	mu      sync.Mutex
	fns     []func(ctx context.Context) error
	timeout time.Duration
	logger  *Logger
}

func NewGracefulShutdown(timeout time.Duration, logger *Logger) *GracefulShutdown {
	if logger == nil {
		logger = Global()
	}
	return &GracefulShutdown{timeout: timeout, logger: logger}
}

// Register adds a shutdown step. Steps run in reverse registration order.
func (g *GracefulShutdown) Register(fn func(ctx context.Context) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fns = append(g.fns, fn)
}

func (g *GracefulShutdown) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	fns := append([]func(ctx context.Context) error{}, g.fns...)
	g.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var firstErr error
		for i := len(fns) - 1; i >= 0; i-- {
			if err := fns[i](shutdownCtx); err != nil {
				g.logger.Error("shutdown step failed", Err(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		done <- firstErr
	}()

	select {
	case err := <-done:
		return err
	case <-shutdownCtx.Done():
		return shutdownCtx.Err()
	}
}
