/*
Package runtime provides the supervisor and request pipeline behind semo.

# Architecture Overview

Components are registered by name in a registry and resolved lazily. Every
singleton with a priority of zero or more takes part in the lifecycle: the
supervisor starts priority tiers in ascending order and stops them in
descending order. Members of one tier start and stop concurrently.

# Package Structure

## Supervisor (supervisor.go, component.go)

Supervisor owns the registry and the lifecycle state machine
(uninitialized, initialized, running, shuttingDown, stopped). It records a
status per component and notifies transition observers.

## Shutdown (shutdown.go)

Coordinator turns SIGINT, SIGQUIT, SIGTERM, faults and the "shutdown" control
message into exactly one supervisor Stop, guarded by a watchdog, and picks
the process exit code.

## Pipeline (pipeline.go, stages.go, route.go, hooks.go)

Pipeline wraps every route handler in the request stages and records a stage
timestamp as each one is entered. Hooks add tracing overrides, validation and
authorization guards, and custom error responses.

## HTTP server (server.go, middleware.go, health.go)

Server mounts controller routes behind chi middleware and serves /health,
/health/routes and /metrics.

## Stats & Monitoring (models.go, metrics.go)

Per-route latency percentiles, throughput, error categories and Prometheus
collectors for requests, stages and lifecycle transitions.

## Control bus (controlbus.go)

ControlBus receives control commands and publishes lifecycle events over a
Watermill transport.

# Sub-packages

  - config/: Viper backed configuration with validation
  - errors/: Sentinel errors and managed client errors
  - ids/: ULID and trace id generation
  - jsoncodec/: JSON marshaling utilities
  - logging/: Leveled structured logger and adapters
  - registry/: Named component registry with lifetimes
  - telemetry/: OpenTelemetry tracer provider
  - tracectx/: Trace context propagation

# Usage Example

	app, err := runtime.Bootstrap(ctx, runtime.AppOptions{
		ConfigPath: "config.yaml",
		Modules: []registry.Module{func(reg *registry.Registry) error {
			return runtime.RegisterController(reg, "orders", newOrdersController)
		}},
	})
	if err != nil {
		return err
	}
	os.Exit(app.Run(ctx))
*/
package runtime
