package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	errspkg "github.com/asafsemo/semo/internal/runtime/errors"
	loggingpkg "github.com/asafsemo/semo/internal/runtime/logging"
	registrypkg "github.com/asafsemo/semo/internal/runtime/registry"
)

// Names registered by the supervisor itself during Init.
const (
	ComponentLogger      = "logger"
	ComponentRegistry    = "registry"
	ComponentServiceName = "serviceName"
	ComponentSupervisor  = "supervisor"
)

// SupervisorOption customizes a Supervisor.
type SupervisorOption func(*Supervisor)

// WithRegistry supplies a pre-populated registry.
func WithRegistry(r *registrypkg.Registry) SupervisorOption {
	return func(s *Supervisor) { s.registry = r }
}

// WithMetrics records lifecycle metrics.
func WithMetrics(m *Metrics) SupervisorOption {
	return func(s *Supervisor) { s.metrics = m }
}

// Supervisor owns the component registry and drives priority-tiered startup
// and shutdown of singleton components.
type Supervisor struct {
	logger   *loggingpkg.Logger
	registry *registrypkg.Registry
	metrics  *Metrics

	// mu serializes Init, Start and Stop.
	mu    sync.Mutex
	state atomic.Int32

	tiers   map[int][]string
	maxTier int

	// statusMu guards what health checks read while Start or Stop hold mu.
	statusMu    sync.RWMutex
	serviceName string
	status      map[string]*ComponentStatus
	instances   map[string]any

	observersMu sync.RWMutex
	observers   []TransitionObserver
}

// NewSupervisor builds an uninitialized supervisor logging through logger.
func NewSupervisor(logger *loggingpkg.Logger, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		logger:    logger,
		tiers:     make(map[int][]string),
		maxTier:   -1,
		status:    make(map[string]*ComponentStatus),
		instances: make(map[string]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = registrypkg.New()
	}
	return s
}

// Registry exposes the component registry.
func (s *Supervisor) Registry() *registrypkg.Registry { return s.registry }

// Logger returns the root logger.
func (s *Supervisor) Logger() *loggingpkg.Logger { return s.logger }

// ServiceName returns the name given to Init.
func (s *Supervisor) ServiceName() string {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.serviceName
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// OnTransition registers an observer for state changes.
func (s *Supervisor) OnTransition(fn TransitionObserver) {
	if fn == nil {
		return
	}
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, fn)
}

// Init registers the core values, loads every module and groups orchestrated
// singletons into priority tiers. Calling Init twice is an error.
func (s *Supervisor) Init(ctx context.Context, modules []registrypkg.Module, serviceName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateUninitialized {
		return errspkg.ErrAlreadyInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.registry.Register(map[string]registrypkg.Definition{
		ComponentLogger:      registrypkg.Value(s.logger),
		ComponentRegistry:    registrypkg.Value(s.registry),
		ComponentServiceName: registrypkg.Value(serviceName),
		ComponentSupervisor:  registrypkg.Value(s),
	}); err != nil {
		return err
	}
	for i, module := range modules {
		if module == nil {
			continue
		}
		if err := module(s.registry); err != nil {
			return fmt.Errorf("semo: load module %d: %w", i, err)
		}
	}

	s.statusMu.Lock()
	s.serviceName = serviceName
	s.statusMu.Unlock()
	s.buildTiers()
	s.transition(StateInitialized)
	s.logger.Debug("Runtime supervisor initialized", loggingpkg.LogFields{
		"service": serviceName,
		"tiers":   s.tierSummary(),
	})
	return nil
}

func (s *Supervisor) buildTiers() {
	tiers := make(map[int][]string)
	maxTier := -1
	now := time.Now()

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	for _, reg := range s.registry.Registrations() {
		if reg.Lifetime != registrypkg.LifetimeSingleton || reg.Priority == registrypkg.PriorityDisabled {
			continue
		}
		tiers[reg.Priority] = append(tiers[reg.Priority], reg.Name)
		if reg.Priority > maxTier {
			maxTier = reg.Priority
		}
		s.status[reg.Name] = &ComponentStatus{
			Name:           reg.Name,
			Priority:       reg.Priority,
			State:          ComponentPending,
			LastTransition: now,
		}
	}
	s.tiers = tiers
	s.maxTier = maxTier
}

// Tiers returns the component names per tier, lowest tier first. Empty tiers
// are omitted.
func (s *Supervisor) Tiers() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tierSummary()
}

func (s *Supervisor) tierSummary() [][]string {
	var out [][]string
	for tier := 0; tier <= s.maxTier; tier++ {
		if names := s.tiers[tier]; len(names) > 0 {
			out = append(out, append([]string(nil), names...))
		}
	}
	return out
}

// Start starts tiers in ascending order. Components within a tier start
// concurrently and the next tier begins only after the whole tier finished.
// The first failure aborts startup; tiers already started keep running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateRunning:
		return nil
	case StateUninitialized:
		return errspkg.ErrNotInitialized
	case StateShuttingDown, StateStopped:
		return fmt.Errorf("semo: cannot start supervisor in state %s", s.State())
	}

	started := time.Now()
	for tier := 0; tier <= s.maxTier; tier++ {
		names := s.tiers[tier]
		if len(names) == 0 {
			continue
		}

		var g errgroup.Group
		for _, name := range names {
			g.Go(func() error {
				return s.startComponent(ctx, name)
			})
		}
		if err := g.Wait(); err != nil {
			s.logger.Error("Runtime startup failed", loggingpkg.LogFields{
				"tier":  tier,
				"error": err.Error(),
			})
			return fmt.Errorf("semo: start tier %d: %w", tier, err)
		}
	}

	s.transition(StateRunning)
	s.logger.Complete("Runtime started", loggingpkg.LogFields{
		"service":    s.serviceName,
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
	return nil
}

// startComponent skips components already running, so a Start retried
// after a failure only starts what did not come up.
func (s *Supervisor) startComponent(ctx context.Context, name string) error {
	s.statusMu.RLock()
	running := s.status[name] != nil && s.status[name].State == ComponentRunning
	s.statusMu.RUnlock()
	if running {
		return nil
	}

	instance, err := s.registry.Resolve(name)
	if err != nil {
		s.setComponentState(name, ComponentFailed, err)
		return err
	}

	starter, canStart := instance.(Startable)
	_, canStop := instance.(Stoppable)

	s.statusMu.Lock()
	s.instances[name] = instance
	if st := s.status[name]; st != nil {
		st.ImplementsStart = canStart
		st.ImplementsStop = canStop
	}
	s.statusMu.Unlock()

	if !canStart {
		s.setComponentState(name, ComponentRunning, nil)
		return nil
	}

	s.setComponentState(name, ComponentStarting, nil)
	begin := time.Now()
	err = safeLifecycleCall(name, "start", func() error { return starter.Start(ctx) })
	elapsed := time.Since(begin)
	s.metrics.componentStarted(name, elapsed)

	s.statusMu.Lock()
	if st := s.status[name]; st != nil {
		st.StartDuration = elapsed
	}
	s.statusMu.Unlock()

	if err != nil {
		s.setComponentState(name, ComponentFailed, err)
		return fmt.Errorf("component %s: %w", name, err)
	}
	s.setComponentState(name, ComponentRunning, nil)
	s.logger.Debug("Component started", loggingpkg.LogFields{"component": name, "elapsed_ms": elapsed.Milliseconds()})
	return nil
}

// Stop stops resolved components from the highest tier down. Components
// within a tier stop concurrently. Every tier is attempted and the collected
// errors are returned together.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateStopped:
		return nil
	case StateUninitialized:
		s.transition(StateStopped)
		return nil
	}

	s.transition(StateShuttingDown)
	var (
		errsMu sync.Mutex
		errs   []error
	)
	for tier := s.maxTier; tier >= 0; tier-- {
		var wg sync.WaitGroup
		for _, name := range s.tiers[tier] {
			s.statusMu.RLock()
			instance, resolved := s.instances[name]
			s.statusMu.RUnlock()
			if !resolved {
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.stopComponent(ctx, name, instance); err != nil {
					errsMu.Lock()
					errs = append(errs, err)
					errsMu.Unlock()
				}
			}()
		}
		wg.Wait()
	}

	s.transition(StateStopped)
	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("Runtime stopped with errors", loggingpkg.LogFields{"error": err.Error()})
	} else {
		s.logger.Complete("Runtime stopped", loggingpkg.LogFields{"service": s.serviceName})
	}
	return err
}

func (s *Supervisor) stopComponent(ctx context.Context, name string, instance any) error {
	stopper, ok := instance.(Stoppable)
	if !ok {
		s.setComponentState(name, ComponentStopped, nil)
		return nil
	}
	s.setComponentState(name, ComponentStopping, nil)
	if err := safeLifecycleCall(name, "stop", func() error { return stopper.Stop(ctx) }); err != nil {
		s.setComponentState(name, ComponentFailed, err)
		s.logger.Warn("Component stop failed", loggingpkg.LogFields{"component": name, "error": err.Error()})
		return fmt.Errorf("component %s: %w", name, err)
	}
	s.setComponentState(name, ComponentStopped, nil)
	return nil
}

// Components returns the status of every orchestrated component ordered by
// priority then name.
func (s *Supervisor) Components() []ComponentStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()

	out := make([]ComponentStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Supervisor) setComponentState(name, state string, err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := s.status[name]
	if st == nil {
		return
	}
	st.State = state
	st.LastTransition = time.Now()
	if err != nil {
		st.LastError = err.Error()
	}
}

func (s *Supervisor) transition(to State) {
	from := State(s.state.Swap(int32(to)))
	s.metrics.stateChanged(to)

	s.observersMu.RLock()
	observers := append([]TransitionObserver(nil), s.observers...)
	s.observersMu.RUnlock()

	t := Transition{From: from, To: to, At: time.Now()}
	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Transition observer panicked", loggingpkg.LogFields{"panic": fmt.Sprint(r)})
				}
			}()
			fn(t)
		}()
	}
}

func safeLifecycleCall(name, phase string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("semo: component %s panicked during %s: %v", name, phase, r)
		}
	}()
	return fn()
}
