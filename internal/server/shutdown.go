// Package server provides process lifecycle management for batch jobs:
// signal driven cancellation, in-flight task tracking, ordered resource
// cleanup and the optional metrics endpoint.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// ShutdownManager cancels the running job on SIGINT or SIGTERM, waits for
// in-flight tasks to stop and closes registered resources.
type ShutdownManager struct {
	shutdownTimeout time.Duration
	drainTimeout    time.Duration
	logger          logrus.FieldLogger

	shutdownCh     chan struct{}
	shutdownOnce   sync.Once
	inFlight       int64
	isShuttingDown int32
	reason         atomic.Value

	closers   []io.Closer
	closersMu sync.Mutex

	onShutdownStart []func()
	callbacksMu     sync.Mutex
}

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds
	ShutdownTimeout time.Duration

	// DrainTimeout is the time to wait for in-flight tasks to stop.
	// Default: 15 seconds
	DrainTimeout time.Duration

	Logger logrus.FieldLogger
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		ShutdownTimeout: 30 * time.Second,
		DrainTimeout:    15 * time.Second,
	}
}

// NewShutdownManager creates a new shutdown manager with the given configuration.
func NewShutdownManager(config ShutdownConfig) *ShutdownManager {
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if config.DrainTimeout == 0 {
		config.DrainTimeout = 15 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	return &ShutdownManager{
		shutdownTimeout: config.ShutdownTimeout,
		drainTimeout:    config.DrainTimeout,
		logger:          config.Logger,
		shutdownCh:      make(chan struct{}),
	}
}

// RegisterCloser adds a closer to be called during shutdown.
// Closers are called in reverse order of registration (LIFO).
func (sm *ShutdownManager) RegisterCloser(closer io.Closer) {
	sm.closersMu.Lock()
	defer sm.closersMu.Unlock()
	sm.closers = append(sm.closers, closer)
}

// OnShutdownStart registers a callback to be called when shutdown begins.
func (sm *ShutdownManager) OnShutdownStart(fn func()) {
	sm.callbacksMu.Lock()
	defer sm.callbacksMu.Unlock()
	sm.onShutdownStart = append(sm.onShutdownStart, fn)
}

// JobContext returns a context that is cancelled when shutdown begins or
// parent is done. It also starts listening for SIGINT and SIGTERM.
func (sm *ShutdownManager) JobContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			sm.begin(fmt.Sprintf("received signal: %v", sig))
			cancel()
		case <-sm.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// begin marks the start of shutdown and runs the start callbacks once.
func (sm *ShutdownManager) begin(reason string) {
	sm.shutdownOnce.Do(func() {
		sm.reason.Store(reason)
		atomic.StoreInt32(&sm.isShuttingDown, 1)
		close(sm.shutdownCh)
		sm.logger.WithField("reason", reason).Warn("server: shutdown started")

		sm.callbacksMu.Lock()
		callbacks := sm.onShutdownStart
		sm.callbacksMu.Unlock()
		for _, fn := range callbacks {
			fn()
		}
	})
}

// Shutdown begins shutdown with reason, waits for in-flight tasks and closes
// every registered resource. It is safe to call after a signal.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.begin(reason)

	shutdownCtx, cancel := context.WithTimeout(ctx, sm.shutdownTimeout)
	defer cancel()

	var result *multierror.Error
	if err := sm.drainInFlight(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("server: drain failed: %w", err))
	}

	sm.closersMu.Lock()
	closers := sm.closers
	sm.closers = nil
	sm.closersMu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("server: close failed: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func (sm *ShutdownManager) drainInFlight(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, sm.drainTimeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if atomic.LoadInt64(&sm.inFlight) == 0 {
			return nil
		}

		select {
		case <-drainCtx.Done():
			if remaining := atomic.LoadInt64(&sm.inFlight); remaining > 0 {
				return fmt.Errorf("timeout waiting for %d in-flight tasks", remaining)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// TrackTask increments the in-flight task counter. It returns false once
// shutdown has begun and the task must not start.
func (sm *ShutdownManager) TrackTask() bool {
	if atomic.LoadInt32(&sm.isShuttingDown) == 1 {
		return false
	}
	atomic.AddInt64(&sm.inFlight, 1)
	return true
}

// UntrackTask decrements the in-flight task counter.
func (sm *ShutdownManager) UntrackTask() {
	atomic.AddInt64(&sm.inFlight, -1)
}

// IsShuttingDown returns true if shutdown has been initiated.
func (sm *ShutdownManager) IsShuttingDown() bool {
	return atomic.LoadInt32(&sm.isShuttingDown) == 1
}

// Reason returns why shutdown began, or "".
func (sm *ShutdownManager) Reason() string {
	r, _ := sm.reason.Load().(string)
	return r
}

// InFlightCount returns the current number of in-flight tasks.
func (sm *ShutdownManager) InFlightCount() int64 {
	return atomic.LoadInt64(&sm.inFlight)
}

// ShutdownCh returns a channel that is closed when shutdown begins.
func (sm *ShutdownManager) ShutdownCh() <-chan struct{} {
	return sm.shutdownCh
}

// ServeMetrics serves handler on addr until shutdown. The server is
// registered as a closer.
func (sm *ShutdownManager) ServeMetrics(addr string, handler http.Handler) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	sm.RegisterCloser(CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sm.logger.WithError(err).WithField("addr", addr).Error("server: metrics endpoint failed")
		}
	}()
}

// CloserFunc is an adapter to allow ordinary functions to be used as io.Closer.
type CloserFunc func() error

// Close calls the underlying function.
func (f CloserFunc) Close() error {
	return f()
}
