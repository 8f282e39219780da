package runtime

import (
	"context"
	"time"
)

// Startable components are started by the supervisor in priority order.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable components are stopped by the supervisor in reverse priority
// order.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// State is the supervisor lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Component lifecycle states reported by Supervisor.Components.
const (
	ComponentPending  = "pending"
	ComponentStarting = "starting"
	ComponentRunning  = "running"
	ComponentFailed   = "failed"
	ComponentStopping = "stopping"
	ComponentStopped  = "stopped"
)

// ComponentStatus is a point-in-time view of one orchestrated component.
type ComponentStatus struct {
	Name            string        `json:"name"`
	Priority        int           `json:"priority"`
	State           string        `json:"state"`
	StartDuration   time.Duration `json:"start_duration_ns"`
	LastError       string        `json:"last_error,omitempty"`
	LastTransition  time.Time     `json:"last_transition"`
	ImplementsStart bool          `json:"implements_start"`
	ImplementsStop  bool          `json:"implements_stop"`
}

// Transition describes a supervisor state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// TransitionObserver is notified after each supervisor state change.
type TransitionObserver func(Transition)

// recoverWith hands a panic on a framework goroutine to onPanic, or re-raises
// it when onPanic is nil. It must be deferred directly.
func recoverWith(onPanic func(any)) {
	r := recover()
	if r == nil {
		return
	}
	if onPanic == nil {
		panic(r)
	}
	onPanic(r)
}
