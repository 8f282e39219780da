package semo

import (
	runtimepkg "github.com/asafsemo/semo/internal/runtime"
	configpkg "github.com/asafsemo/semo/internal/runtime/config"
	errspkg "github.com/asafsemo/semo/internal/runtime/errors"
	idspkg "github.com/asafsemo/semo/internal/runtime/ids"
	jsoncodec "github.com/asafsemo/semo/internal/runtime/jsoncodec"
	loggingpkg "github.com/asafsemo/semo/internal/runtime/logging"
	registrypkg "github.com/asafsemo/semo/internal/runtime/registry"
	"github.com/asafsemo/semo/transport"
)

type (
	Config     = configpkg.Config
	App        = runtimepkg.App
	AppOptions = runtimepkg.AppOptions

	Supervisor      = runtimepkg.Supervisor
	State           = runtimepkg.State
	Transition      = runtimepkg.Transition
	ComponentStatus = runtimepkg.ComponentStatus
	Startable       = runtimepkg.Startable
	Stoppable       = runtimepkg.Stoppable
	Coordinator     = runtimepkg.Coordinator

	Registry   = registrypkg.Registry
	Resolver   = registrypkg.Resolver
	Factory    = registrypkg.Factory
	Definition = registrypkg.Definition
	Module     = registrypkg.Module

	Controller     = runtimepkg.Controller
	Route          = runtimepkg.Route
	Request        = runtimepkg.Request
	Response       = runtimepkg.Response
	HandlerFunc    = runtimepkg.HandlerFunc
	FieldError     = runtimepkg.FieldError
	Pipeline       = runtimepkg.Pipeline
	Stage          = runtimepkg.Stage
	RequestState   = runtimepkg.RequestState
	Hooks          = runtimepkg.Hooks
	TracingHook    = runtimepkg.TracingHook
	GuardHook      = runtimepkg.GuardHook
	ErrorHook      = runtimepkg.ErrorHook
	TraceOverride  = runtimepkg.TraceOverride
	HealthReport   = runtimepkg.HealthReport
	RouteStats     = runtimepkg.RouteStats
	ControlCommand = runtimepkg.ControlCommand

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Logger    = loggingpkg.Logger
	LogFields = loggingpkg.LogFields

	ManagedError          = errspkg.ManagedError
	ErrorResponse         = errspkg.ErrorResponse
	ConfigValidationError = errspkg.ConfigValidationError

	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	Bootstrap         = runtimepkg.Bootstrap
	LoadConfig        = configpkg.Load
	DefaultConfig     = configpkg.Default
	NewSupervisor     = runtimepkg.NewSupervisor
	NewCoordinator    = runtimepkg.NewCoordinator
	NewRegistry       = registrypkg.New
	Singleton         = registrypkg.Singleton
	Transient         = registrypkg.Transient
	Value             = registrypkg.Value
	RequireHeaders    = runtimepkg.RequireHeaders
	HeaderTracing     = runtimepkg.HeaderTracing
	LoggerFromContext = runtimepkg.LoggerFromContext

	DefaultMiddlewares  = runtimepkg.DefaultMiddlewares
	RecovererMiddleware = runtimepkg.RecovererMiddleware
	ThrottleMiddleware  = runtimepkg.ThrottleMiddleware

	NewManagedError = errspkg.NewManagedError
	WithStatus      = errspkg.WithStatus
	WithCause       = errspkg.WithCause
	WithExtraData   = errspkg.WithExtraData

	ErrAlreadyInitialized = errspkg.ErrAlreadyInitialized
	ErrNotInitialized     = errspkg.ErrNotInitialized
	ErrComponentNotFound  = errspkg.ErrComponentNotFound
	ErrComponentCycle     = errspkg.ErrComponentCycle
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrRouteInvalid       = errspkg.ErrRouteInvalid

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode
	Decode    = jsoncodec.Decode

	NewID = idspkg.NewID

	DefaultTransportRegistry = transport.DefaultRegistry
)

// Process exit codes reported by App.Run.
const (
	ExitClean          = runtimepkg.ExitClean
	ExitStartupFailure = runtimepkg.ExitStartupFailure
	ExitWatchdog       = runtimepkg.ExitWatchdog
	ExitFault          = runtimepkg.ExitFault
)

// Lifecycle states, in the order a service moves through them.
const (
	StateUninitialized = runtimepkg.StateUninitialized
	StateInitialized   = runtimepkg.StateInitialized
	StateRunning       = runtimepkg.StateRunning
	StateShuttingDown  = runtimepkg.StateShuttingDown
	StateStopped       = runtimepkg.StateStopped
)

const (
	PriorityDisabled = registrypkg.PriorityDisabled
	ShutdownMessage  = runtimepkg.ShutdownMessage
)

// RegisterController adds a controller factory that the HTTP server mounts
// when it starts.
func RegisterController(reg *Registry, name string, factory Factory) error {
	return runtimepkg.RegisterController(reg, name, factory)
}

// Resolve returns the named component as T.
func Resolve[T any](r Resolver, name string) (T, error) {
	return registrypkg.ResolveAs[T](r, name)
}
