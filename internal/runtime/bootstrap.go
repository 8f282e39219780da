package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/asafsemo/semo/internal/runtime/config"
	loggingpkg "github.com/asafsemo/semo/internal/runtime/logging"
	registrypkg "github.com/asafsemo/semo/internal/runtime/registry"
	"github.com/asafsemo/semo/internal/runtime/telemetry"
	"github.com/asafsemo/semo/transport"
	"github.com/asafsemo/semo/transport/transports"
)

// Names registered by CoreModule next to the HTTP server and control bus.
const (
	ComponentConfig      = "config"
	ComponentPipeline    = "pipeline"
	ComponentCoordinator = "coordinator"
)

// AppOptions configure Bootstrap.
type AppOptions struct {
	// Config is used as is when set; otherwise ConfigPath is loaded.
	Config     *configpkg.Config
	ConfigPath string
	Version    string

	// Modules are loaded after the core module and may override its entries.
	Modules []registrypkg.Module
	Hooks   Hooks

	// Registerer and Gatherer default to the prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// Transports defaults to the built-in transports.
	Transports *transport.Registry

	// ExitFunc replaces os.Exit for the coordinator.
	ExitFunc func(code int)
	// Output overrides the configured log sink.
	Output io.Writer
}

// App is a bootstrapped service: configuration, root logger, supervisor and
// shutdown coordinator, ready to Run.
type App struct {
	Config      *configpkg.Config
	Logger      *loggingpkg.Logger
	Supervisor  *Supervisor
	Coordinator *Coordinator
	Metrics     *Metrics

	sink io.Closer
}

// Bootstrap loads configuration, builds the root logger and initializes the
// supervisor with the core components and the caller's modules.
func Bootstrap(ctx context.Context, opts AppOptions) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = configpkg.Load(opts.ConfigPath); err != nil {
			return nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loggerCfg := cfg.LoggerConfig()
	var sink io.WriteCloser
	if opts.Output != nil {
		loggerCfg.Output = opts.Output
	} else {
		sink = loggingpkg.OpenSink(cfg.LoggerOutput)
		loggerCfg.Output = sink
	}
	logger := loggingpkg.New(cfg.AppName, loggerCfg)

	var metrics *Metrics
	if cfg.MetricsEnabled {
		metrics = NewMetrics(opts.Registerer)
		if err := metrics.Register(); err != nil {
			return nil, fmt.Errorf("semo: register metrics: %w", err)
		}
	}

	supervisor := NewSupervisor(logger, WithMetrics(metrics))
	coordinatorOpts := []CoordinatorOption{
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithCoordinatorMetrics(metrics),
	}
	if opts.ExitFunc != nil {
		coordinatorOpts = append(coordinatorOpts, WithExitFunc(opts.ExitFunc))
	}
	coordinator := NewCoordinator(supervisor, logger, coordinatorOpts...)

	app := &App{
		Config:      cfg,
		Logger:      logger,
		Supervisor:  supervisor,
		Coordinator: coordinator,
		Metrics:     metrics,
	}
	if sink != nil {
		app.sink = sink
	}

	modules := append([]registrypkg.Module{CoreModule(app, opts)}, opts.Modules...)
	if err := supervisor.Init(ctx, modules, cfg.AppName); err != nil {
		return nil, err
	}
	return app, nil
}

// CoreModule registers the built-in components: configuration, telemetry,
// control bus, request pipeline and HTTP transport.
func CoreModule(app *App, opts AppOptions) registrypkg.Module {
	cfg := app.Config
	return func(reg *registrypkg.Registry) error {
		defs := map[string]registrypkg.Definition{
			ComponentConfig:      registrypkg.Value(cfg),
			ComponentCoordinator: registrypkg.Value(app.Coordinator),
			telemetry.ComponentName: registrypkg.Singleton(telemetry.Priority, func(registrypkg.Resolver) (any, error) {
				return telemetry.New(telemetry.Config{
					Enabled:        cfg.TelemetryEnabled,
					ServiceName:    cfg.AppName,
					ServiceVersion: opts.Version,
					Endpoint:       cfg.TelemetryEndpoint,
					Insecure:       cfg.TelemetryInsecure,
					SampleRate:     cfg.TelemetrySampleRate,
				}, app.Logger.Child("Telemetry", loggingpkg.ChildOptions{})), nil
			}),
			ComponentPipeline: registrypkg.Singleton(registrypkg.PriorityDisabled, func(r registrypkg.Resolver) (any, error) {
				provider, err := registrypkg.ResolveAs[*telemetry.Provider](r, telemetry.ComponentName)
				if err != nil {
					return nil, err
				}
				return NewPipeline(app.Logger, reg, PipelineOptions{
					Hooks:              opts.Hooks,
					ExtraHeaders:       cfg.ExtraHeaders(),
					ExposeErrorDetails: cfg.ExposeErrorDetails(),
					Metrics:            app.Metrics,
					Tracer:             provider.Tracer(),
				}), nil
			}),
			ComponentHTTPServer: registrypkg.Singleton(HTTPServerPriority, func(r registrypkg.Resolver) (any, error) {
				pipeline, err := registrypkg.ResolveAs[*Pipeline](r, ComponentPipeline)
				if err != nil {
					return nil, err
				}
				serverOpts := ServerOptions{
					Address:         cfg.ListenAddress(),
					URLPrefix:       cfg.HTTPURLPrefix,
					RequestTimeout:  cfg.HTTPRequestTimeout,
					ExtraHeaders:    cfg.ExtraHeaders(),
					CORSOrigins:     cfg.HTTPCORSAllowedOrigins,
					ShutdownTimeout: cfg.ShutdownTimeout,
					OnServeError: func(err error) {
						app.Coordinator.Trigger(SourceFault, err)
					},
					OnPanic: app.Coordinator.Panicked,
				}
				if app.Metrics != nil {
					serverOpts.Gatherer = gathererOrDefault(opts.Gatherer)
				}
				return NewServer(app.Logger.Child("HTTP transport", loggingpkg.ChildOptions{}), pipeline, reg, app.Supervisor, serverOpts)
			}),
		}

		if cfg.ControlBusEnabled {
			transportRegistry := opts.Transports
			if transportRegistry == nil {
				transports.RegisterAll()
				transportRegistry = transport.DefaultRegistry
			}
			defs[ComponentControlBus] = registrypkg.Singleton(ControlBusPriority, func(registrypkg.Resolver) (any, error) {
				bus := NewControlBus(app.Logger.Child("Control bus", loggingpkg.ChildOptions{}), ControlBusOptions{
					Topic:       cfg.ControlBusTopic,
					ServiceName: cfg.AppName,
					Config:      cfg,
					Transports:  transportRegistry,
					OnCommand:   app.Coordinator.HandleMessage,
					OnPanic:     app.Coordinator.Panicked,
				})
				app.Supervisor.OnTransition(bus.ObserveTransition)
				return bus, nil
			})
		}
		return reg.Register(defs)
	}
}

func gathererOrDefault(g prometheus.Gatherer) prometheus.Gatherer {
	if g != nil {
		return g
	}
	return prometheus.DefaultGatherer
}

// Run starts the supervisor, watches termination signals and blocks until
// the coordinator decided an exit code. A startup failure stops whatever
// already started and returns ExitStartupFailure.
func (a *App) Run(ctx context.Context) int {
	defer a.closeSink()

	a.Coordinator.Watch(ctx)
	a.Logger.Complete("Service starting", loggingpkg.LogFields{
		"service": a.Config.AppName,
		"env":     a.Config.Environment,
	})

	if err := a.Supervisor.Start(ctx); err != nil {
		a.Logger.Fatal("Service failed to start", loggingpkg.LogFields{"error": err.Error()})
		stopCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		if stopErr := a.Supervisor.Stop(stopCtx); stopErr != nil && !errors.Is(stopErr, context.DeadlineExceeded) {
			a.Logger.Error("Cleanup after failed start reported errors", loggingpkg.LogFields{"error": stopErr.Error()})
		}
		return ExitStartupFailure
	}

	a.Logger.Complete("Service started", loggingpkg.LogFields{
		"service": a.Config.AppName,
		"tiers":   a.Supervisor.Tiers(),
	})

	select {
	case <-a.Coordinator.Done():
	case <-ctx.Done():
		a.Coordinator.Trigger("context", nil)
		<-a.Coordinator.Done()
	}
	return a.Coordinator.ExitCode()
}

func (a *App) shutdownTimeout() time.Duration {
	if a.Config.ShutdownTimeout > 0 {
		return a.Config.ShutdownTimeout
	}
	return DefaultShutdownTimeout
}

func (a *App) closeSink() {
	if a.sink != nil {
		_ = a.sink.Close()
	}
}
