package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	errspkg "github.com/asafsemo/semo/internal/runtime/errors"
	loggingpkg "github.com/asafsemo/semo/internal/runtime/logging"
	registrypkg "github.com/asafsemo/semo/internal/runtime/registry"
)

// ComponentHTTPServer is the registry name of the HTTP transport.
const ComponentHTTPServer = "httpServer"

// HTTPServerPriority starts the transport after the infrastructure tiers.
const HTTPServerPriority = 4

// ControllerPrefix marks registry entries the server mounts on start.
const ControllerPrefix = "controller."

// Controller contributes routes to the HTTP transport. Register it with
// RegisterController or under a name starting with ControllerPrefix.
type Controller interface {
	Routes() []Route
}

// RegisterController registers a singleton controller that the HTTP
// transport resolves and mounts when it starts.
func RegisterController(reg *registrypkg.Registry, name string, factory registrypkg.Factory) error {
	if !strings.HasPrefix(name, ControllerPrefix) {
		name = ControllerPrefix + name
	}
	return reg.Register(map[string]registrypkg.Definition{
		name: registrypkg.Singleton(registrypkg.PriorityDisabled, factory),
	})
}

// ServerOptions configure the HTTP transport.
type ServerOptions struct {
	// Address is host:port. Port 0 picks a free port.
	Address        string
	URLPrefix      string
	RequestTimeout time.Duration
	ExtraHeaders   map[string]string
	CORSOrigins    []string
	// Gatherer enables GET /metrics when set.
	Gatherer        prometheus.Gatherer
	ShutdownTimeout time.Duration
	// OnServeError is called when the listener fails after Start returned.
	OnServeError func(error)
	// OnPanic receives a panic recovered on the serve goroutine. Without it
	// the panic is re-raised.
	OnPanic func(recovered any)
}

// Server is the HTTP transport component. Start binds the listener and
// serves in the background; Stop shuts it down gracefully.
type Server struct {
	opts      ServerOptions
	logger    *loggingpkg.Logger
	pipeline  *Pipeline
	registry  *registrypkg.Registry
	lifecycle LifecycleView
	health    *healthHandler

	mu          sync.Mutex
	middlewares []HTTPMiddleware
	routes      []Route
	router      chi.Router
	httpServer  *http.Server
	listener    net.Listener
	stopped     bool
	stopOnce    sync.Once
	stopErr     error
}

// NewServer builds an unstarted transport serving pipeline. registry may be
// nil when no controllers are registered; lifecycle feeds /health.
func NewServer(logger *loggingpkg.Logger, pipeline *Pipeline, registry *registrypkg.Registry, lifecycle LifecycleView, opts ServerOptions) (*Server, error) {
	if pipeline == nil {
		return nil, errors.New("semo: http server requires a pipeline")
	}
	if opts.Address == "" {
		opts.Address = ":0"
	}
	opts.URLPrefix = normalizePrefix(opts.URLPrefix)

	s := &Server{
		opts:      opts,
		logger:    logger,
		pipeline:  pipeline,
		registry:  registry,
		lifecycle: lifecycle,
		health: &healthHandler{
			lifecycle:   lifecycle,
			pipeline:    pipeline,
			tracker:     newResourceTracker(),
			corsOrigins: opts.CORSOrigins,
			started:     time.Now(),
			logger:      logger,
		},
	}
	for _, mw := range DefaultMiddlewares() {
		if err := s.RegisterMiddleware(mw); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	prefix = strings.TrimRight(prefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

// Mount adds routes served under the URL prefix. It must be called before
// Start.
func (s *Server) Mount(routes ...Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil || s.stopped {
		return errors.New("semo: routes must be mounted before the server starts")
	}
	for _, route := range routes {
		if err := route.validate(); err != nil {
			return fmt.Errorf("%w: %s %s", err, route.Method, route.Pattern)
		}
		s.routes = append(s.routes, route)
	}
	return nil
}

// Start mounts registered controllers, binds the listener and serves in the
// background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errspkg.ErrServerStopped
	}
	if s.httpServer != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	controllerRoutes, err := s.controllerRoutes()
	if err != nil {
		return err
	}
	s.routes = append(s.routes, controllerRoutes...)
	s.router = s.buildRouter()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("semo: listen on %s: %w", s.opts.Address, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.serve(s.httpServer, ln)

	s.logger.Complete("HTTP transport listening", loggingpkg.LogFields{
		"address": ln.Addr().String(),
		"prefix":  s.opts.URLPrefix,
		"routes":  len(s.routes),
	})
	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener) {
	defer recoverWith(s.opts.OnPanic)
	err := srv.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	s.logger.Error("HTTP transport failed", loggingpkg.LogFields{"error": err.Error()})
	if s.opts.OnServeError != nil {
		s.opts.OnServeError(err)
	}
}

func (s *Server) controllerRoutes() ([]Route, error) {
	if s.registry == nil {
		return nil, nil
	}
	var routes []Route
	for _, reg := range s.registry.Registrations() {
		if !strings.HasPrefix(reg.Name, ControllerPrefix) {
			continue
		}
		controller, err := registrypkg.ResolveAs[Controller](s.registry, reg.Name)
		if err != nil {
			return nil, fmt.Errorf("semo: resolve controller %s: %w", reg.Name, err)
		}
		for _, route := range controller.Routes() {
			if err := route.validate(); err != nil {
				return nil, fmt.Errorf("%w: controller %s: %s %s", err, reg.Name, route.Method, route.Pattern)
			}
			routes = append(routes, route)
		}
	}
	return routes, nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	for _, mw := range s.middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.health.serveHealth)
	r.Options("/health", s.health.serveHealth)
	r.Get("/health/routes", s.health.serveRoutes)
	r.Options("/health/routes", s.health.serveRoutes)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	for _, route := range s.routes {
		timeout := route.Timeout
		if timeout == 0 {
			timeout = s.opts.RequestTimeout
		}
		handler := timeoutMiddleware(timeout)(s.pipeline.Handler(route))
		r.Method(strings.ToUpper(route.Method), s.opts.URLPrefix+route.Pattern, handler)
	}

	r.Options("/*", s.serveOptions)
	return r
}

// serveOptions answers preflight requests with the configured extra headers.
func (s *Server) serveOptions(w http.ResponseWriter, _ *http.Request) {
	for k, v := range s.opts.ExtraHeaders {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops accepting connections and waits for in-flight requests until
// ctx ends, then closes whatever is left. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		srv := s.httpServer
		s.stopped = true
		s.mu.Unlock()

		if srv == nil {
			return
		}
		if s.opts.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.ShutdownTimeout)
			defer cancel()
		}
		if err := srv.Shutdown(ctx); err != nil {
			s.stopErr = fmt.Errorf("semo: http shutdown: %w", err)
			s.logger.Warn("HTTP transport forced to close", loggingpkg.LogFields{"error": err.Error()})
			_ = srv.Close()
			return
		}
		s.logger.Info("HTTP transport stopped")
	})
	return s.stopErr
}
