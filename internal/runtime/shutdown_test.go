package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	registrypkg "github.com/asafsemo/semo/internal/runtime/registry"
)

type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (e *exitRecorder) exit(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *exitRecorder) Codes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

func newTestCoordinator(stopper Stopper, timeout time.Duration) (*Coordinator, *exitRecorder) {
	rec := &exitRecorder{}
	return NewCoordinator(stopper, newTestLogger(), WithShutdownTimeout(timeout), WithExitFunc(rec.exit)), rec
}

func TestCoordinatorCleanShutdownExitsZero(t *testing.T) {
	stopper := &recordingStopper{}
	c, rec := newTestCoordinator(stopper, time.Second)

	assert.True(t, c.Trigger(SourceSIGTERM, nil))
	waitDone(t, c.Done())

	assert.Equal(t, ExitClean, c.ExitCode())
	assert.Equal(t, []int{ExitClean}, rec.Codes())
	assert.Equal(t, 1, stopper.Calls())
}

func TestCoordinatorFaultExitsTen(t *testing.T) {
	stopper := &recordingStopper{}
	c, rec := newTestCoordinator(stopper, time.Second)

	assert.True(t, c.Trigger(SourceFault, errTest))
	waitDone(t, c.Done())

	assert.Equal(t, ExitFault, c.ExitCode())
	assert.Equal(t, []int{ExitFault}, rec.Codes())
}

func TestCoordinatorStopErrorsStillExitByCause(t *testing.T) {
	stopper := &recordingStopper{err: errTest}
	c, rec := newTestCoordinator(stopper, time.Second)

	c.Trigger(SourceSIGINT, nil)
	waitDone(t, c.Done())
	assert.Equal(t, []int{ExitClean}, rec.Codes())
}

func TestCoordinatorTriggersOnlyOnce(t *testing.T) {
	stopper := &recordingStopper{block: make(chan struct{})}
	c, rec := newTestCoordinator(stopper, time.Second)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Trigger(SourceSIGTERM, nil) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.False(t, c.Trigger(SourceFault, errTest))
	assert.True(t, c.Triggered())

	close(stopper.block)
	waitDone(t, c.Done())

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, 1, stopper.Calls())
	assert.Equal(t, []int{ExitClean}, rec.Codes())
}

func TestCoordinatorWatchdogExitsSix(t *testing.T) {
	// The stopper ignores cancellation to simulate a stuck component.
	stuck := make(chan struct{})
	defer close(stuck)
	stopper := stopperFunc(func(context.Context) error {
		<-stuck
		return nil
	})
	c, rec := newTestCoordinator(stopper, 50*time.Millisecond)

	began := time.Now()
	c.Trigger(SourceSIGTERM, nil)
	waitDone(t, c.Done())

	assert.Equal(t, ExitWatchdog, c.ExitCode())
	assert.Equal(t, []int{ExitWatchdog}, rec.Codes())
	assert.Less(t, time.Since(began), time.Second)
}

func TestCoordinatorStopGivingUpOnDeadlineExitsSix(t *testing.T) {
	for range 20 {
		stopper := stopperFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		c, rec := newTestCoordinator(stopper, 20*time.Millisecond)

		c.Trigger(SourceSIGTERM, nil)
		waitDone(t, c.Done())

		require.Equal(t, []int{ExitWatchdog}, rec.Codes())
	}
}

func TestCoordinatorWrappedDeadlineFromStopExitsSix(t *testing.T) {
	stopper := stopperFunc(func(context.Context) error {
		return errors.Join(errTest, fmt.Errorf("stop http: %w", context.DeadlineExceeded))
	})
	c, rec := newTestCoordinator(stopper, time.Second)

	c.Trigger(SourceFault, errTest)
	waitDone(t, c.Done())

	assert.Equal(t, ExitWatchdog, c.ExitCode())
	assert.Equal(t, []int{ExitWatchdog}, rec.Codes())
}

type stopperFunc func(ctx context.Context) error

func (f stopperFunc) Stop(ctx context.Context) error { return f(ctx) }

func TestCoordinatorHandleMessage(t *testing.T) {
	stopper := &recordingStopper{}
	c, rec := newTestCoordinator(stopper, time.Second)

	assert.False(t, c.HandleMessage("restart"))
	assert.False(t, c.Triggered())

	assert.True(t, c.HandleMessage(" Shutdown "))
	waitDone(t, c.Done())
	assert.False(t, c.HandleMessage(ShutdownMessage))
	assert.Equal(t, []int{ExitClean}, rec.Codes())
}

func TestCoordinatorRecoverTurnsPanicIntoFault(t *testing.T) {
	stopper := &recordingStopper{}
	c, rec := newTestCoordinator(stopper, time.Second)

	go func() {
		defer c.Recover()
		panic("worker exploded")
	}()

	waitDone(t, c.Done())
	assert.Equal(t, ExitFault, c.ExitCode())
	assert.Equal(t, []int{ExitFault}, rec.Codes())
}

func TestCoordinatorPassesBoundedContextToStop(t *testing.T) {
	stopper := &recordingStopper{}
	c, _ := newTestCoordinator(stopper, 500*time.Millisecond)

	c.Trigger(SourceSIGQUIT, nil)
	waitDone(t, c.Done())

	stopper.mu.Lock()
	ctx := stopper.gotCtx
	stopper.mu.Unlock()
	require.NotNil(t, ctx)
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(500*time.Millisecond), deadline, 500*time.Millisecond)
}

func TestCoordinatorDrivesSupervisorStop(t *testing.T) {
	log := &eventLog{}
	sup := NewSupervisor(newTestLogger())
	require.NoError(t, sup.Init(context.Background(), []registrypkg.Module{componentModule(map[string]registrypkg.Definition{
		"a": singleton(0, &testComponent{name: "a", log: log}),
		"b": singleton(1, &testComponent{name: "b", log: log}),
	})}, "svc"))
	require.NoError(t, sup.Start(context.Background()))

	c, rec := newTestCoordinator(sup, time.Second)
	c.Trigger(SourceMessage, nil)
	waitDone(t, c.Done())

	assert.Equal(t, StateStopped, sup.State())
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, log.list())
	assert.Equal(t, []int{ExitClean}, rec.Codes())
}

func TestSignalSourceNames(t *testing.T) {
	assert.Equal(t, SourceSIGINT, signalSource(syscall.SIGINT))
	assert.Equal(t, SourceSIGQUIT, signalSource(syscall.SIGQUIT))
	assert.Equal(t, SourceSIGTERM, signalSource(syscall.SIGTERM))
}

func TestCoordinatorGoTurnsPanicIntoFault(t *testing.T) {
	c, rec := newTestCoordinator(&recordingStopper{}, time.Second)

	c.Go(func() { panic("worker exploded") })

	waitDone(t, c.Done())
	assert.Equal(t, []int{ExitFault}, rec.Codes())
}
