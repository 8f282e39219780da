package runtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	loggingpkg "github.com/asafsemo/semo/internal/runtime/logging"
)

func newTestLogger() *loggingpkg.Logger {
	return loggingpkg.New("test", loggingpkg.Config{MinLevel: "debug", Output: io.Discard})
}

// syncBuffer collects log output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newCapturingLogger() (*loggingpkg.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return loggingpkg.New("test", loggingpkg.Config{MinLevel: "debug", Format: loggingpkg.FormatJSON, Output: buf}), buf
}

// eventLog records lifecycle calls across components in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) index(event string) int {
	for i, e := range l.list() {
		if e == event {
			return i
		}
	}
	return -1
}

type testComponent struct {
	name     string
	log      *eventLog
	startErr error
	stopErr  error
	delay    time.Duration
	panicOn  string

	// stopDelay holds Stop before it returns. bounds adds "begin-start:"
	// and "end-stop:" events around the calls.
	stopDelay time.Duration
	bounds    bool
}

func (c *testComponent) Start(ctx context.Context) error {
	if c.bounds {
		c.log.add("begin-start:" + c.name)
	}
	if c.panicOn == "start" {
		panic("boom")
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.log.add("start:" + c.name)
	return c.startErr
}

func (c *testComponent) Stop(context.Context) error {
	c.log.add("stop:" + c.name)
	time.Sleep(c.stopDelay)
	if c.bounds {
		c.log.add("end-stop:" + c.name)
	}
	return c.stopErr
}

// startOnly has no Stop method.
type startOnly struct {
	name string
	log  *eventLog
}

func (c *startOnly) Start(context.Context) error {
	c.log.add("start:" + c.name)
	return nil
}

// recordingStopper lets coordinator tests control how long Stop takes.
type recordingStopper struct {
	mu     sync.Mutex
	calls  int
	block  chan struct{}
	err    error
	gotCtx context.Context
}

func (s *recordingStopper) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.calls++
	s.gotCtx = ctx
	block := s.block
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func (s *recordingStopper) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var errTest = errors.New("test failure")

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting")
	}
}
