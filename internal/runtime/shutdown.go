package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"

	loggingpkg "github.com/asafsemo/semo/internal/runtime/logging"
)

// Process exit codes.
const (
	ExitClean          = 0
	ExitStartupFailure = 1
	ExitWatchdog       = 6
	ExitFault          = 10
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 3 * time.Second

// Shutdown trigger sources.
const (
	SourceSIGINT  = "SIGINT"
	SourceSIGQUIT = "SIGQUIT"
	SourceSIGTERM = "SIGTERM"
	SourceFault   = "fault"
	SourceMessage = "message"
)

// ShutdownMessage is the external message that requests a graceful shutdown.
const ShutdownMessage = "shutdown"

// Stopper is the part of the supervisor the coordinator drives.
type Stopper interface {
	Stop(ctx context.Context) error
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithShutdownTimeout overrides DefaultShutdownTimeout.
func WithShutdownTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithExitFunc replaces os.Exit.
func WithExitFunc(fn func(code int)) CoordinatorOption {
	return func(c *Coordinator) {
		if fn != nil {
			c.exit = fn
		}
	}
}

// WithCoordinatorMetrics counts triggers by source.
func WithCoordinatorMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator turns termination signals, faults and shutdown messages into a
// single graceful shutdown followed by process exit.
type Coordinator struct {
	stopper Stopper
	logger  *loggingpkg.Logger
	metrics *Metrics
	timeout time.Duration
	exit    func(code int)

	triggered atomic.Bool
	exitOnce  sync.Once
	exitCode  atomic.Int32
	done      chan struct{}
}

// NewCoordinator builds a coordinator stopping stopper.
func NewCoordinator(stopper Stopper, logger *loggingpkg.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		stopper: stopper,
		logger:  logger,
		timeout: DefaultShutdownTimeout,
		exit:    os.Exit,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Watch subscribes to SIGINT, SIGQUIT and SIGTERM until ctx is done.
func (c *Coordinator) Watch(ctx context.Context) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case sig := <-signals:
				c.Trigger(signalSource(sig), nil)
			}
		}
	}()
}

func signalSource(sig os.Signal) string {
	switch sig {
	case syscall.SIGINT:
		return SourceSIGINT
	case syscall.SIGQUIT:
		return SourceSIGQUIT
	case syscall.SIGTERM:
		return SourceSIGTERM
	default:
		return sig.String()
	}
}

// HandleMessage triggers a shutdown when msg is the shutdown message.
func (c *Coordinator) HandleMessage(msg string) bool {
	if !strings.EqualFold(strings.TrimSpace(msg), ShutdownMessage) {
		return false
	}
	return c.Trigger(SourceMessage, nil)
}

// Recover converts a panic in the calling goroutine into a fault shutdown.
// Use it as a deferred call at the top of long-lived goroutines.
func (c *Coordinator) Recover() {
	if r := recover(); r != nil {
		c.Panicked(r)
	}
}

// Panicked triggers a fault shutdown for a value already recovered by the
// caller.
func (c *Coordinator) Panicked(recovered any) {
	c.Trigger(SourceFault, pkgerrors.Errorf("panic: %v", recovered))
}

// Go runs fn on a new goroutine whose panic shuts the process down with
// ExitFault.
func (c *Coordinator) Go(fn func()) {
	go func() {
		defer c.Recover()
		fn()
	}()
}

// Trigger starts the shutdown sequence once. Later calls return false and
// do nothing. The sequence runs on its own goroutine so callers that are
// themselves stopped by it never block on it.
func (c *Coordinator) Trigger(source string, fault error) bool {
	if !c.triggered.CompareAndSwap(false, true) {
		c.logger.Debug("Shutdown already in progress", loggingpkg.LogFields{"source": source})
		return false
	}
	c.metrics.shutdownTriggered(source)
	go c.run(source, fault)
	return true
}

func (c *Coordinator) run(source string, fault error) {
	if fault != nil {
		c.logger.Fatal("Uncaught fault, shutting down", loggingpkg.LogFields{
			"source": source,
			"error":  fmt.Sprintf("%+v", fault),
		})
	} else {
		c.logger.Complete("Shutdown requested", loggingpkg.LogFields{"source": source})
	}

	watchdog := time.AfterFunc(c.timeout, c.timedOut)
	defer watchdog.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	err := c.stopper.Stop(ctx)
	// A stop that gave up on its context did not finish in time, whatever
	// it returned.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.timedOut()
		return
	}
	if err != nil {
		c.logger.Error("Graceful shutdown finished with errors", loggingpkg.LogFields{"error": err.Error()})
	}

	code := ExitClean
	if fault != nil {
		code = ExitFault
	}
	c.finish(code, nil)
}

func (c *Coordinator) timedOut() {
	c.finish(ExitWatchdog, func() {
		c.logger.Fatal("Graceful shutdown timed out", loggingpkg.LogFields{"timeout_ms": c.timeout.Milliseconds()})
	})
}

// finish runs before and exits, only for the first caller.
func (c *Coordinator) finish(code int, before func()) {
	c.exitOnce.Do(func() {
		if before != nil {
			before()
		}
		c.exitCode.Store(int32(code))
		defer close(c.done)
		c.exit(code)
	})
}

// Triggered reports whether a shutdown has started.
func (c *Coordinator) Triggered() bool { return c.triggered.Load() }

// Done is closed after the exit function returned, so only when it is
// replaced with WithExitFunc.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// ExitCode returns the decided exit code. It is meaningful after Done.
func (c *Coordinator) ExitCode() int { return int(c.exitCode.Load()) }
