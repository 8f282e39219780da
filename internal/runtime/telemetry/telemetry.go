// Package telemetry installs the OpenTelemetry tracer provider used by the
// request pipeline's server spans.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	loggingpkg "github.com/asafsemo/semo/internal/runtime/logging"
)

// ComponentName is the registry name of the provider.
const ComponentName = "telemetry"

// Priority starts telemetry with the first tier so later components trace.
const Priority = 0

const instrumentationName = "github.com/asafsemo/semo"

// Config controls the tracer provider.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// Endpoint is the OTLP gRPC collector host:port.
	Endpoint   string
	Insecure   bool
	SampleRate float64
}

// Provider is a supervised component owning the SDK tracer provider. When
// disabled it hands out a noop tracer and touches no global state.
type Provider struct {
	cfg    Config
	logger *loggingpkg.Logger

	// exporter is swapped in tests.
	exporter func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error)

	mu       sync.Mutex
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New builds an unstarted provider.
func New(cfg Config, logger *loggingpkg.Logger) *Provider {
	return &Provider{
		cfg:      cfg,
		logger:   logger,
		exporter: newOTLPExporter,
		tracer:   noop.NewTracerProvider().Tracer(instrumentationName),
	}
}

func newOTLPExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Sampler maps a sample rate onto an SDK sampler honouring remote parents.
func Sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Start installs the global tracer provider and propagator.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.cfg.Enabled || p.provider != nil {
		return nil
	}
	if p.cfg.Endpoint == "" {
		return errors.New("semo: telemetry endpoint is required when telemetry is enabled")
	}

	exporter, err := p.exporter(ctx, p.cfg)
	if err != nil {
		return fmt.Errorf("semo: create span exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(p.cfg.ServiceName),
			semconv.ServiceVersion(p.cfg.ServiceVersion),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("semo: build telemetry resource: %w", err)
	}

	p.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(p.cfg.SampleRate)),
	)
	otel.SetTracerProvider(p.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	p.tracer = p.provider.Tracer(instrumentationName)

	p.logger.Info("Telemetry enabled", loggingpkg.LogFields{
		"endpoint":   p.cfg.Endpoint,
		"sampleRate": p.cfg.SampleRate,
	})
	return nil
}

// Stop flushes pending spans and shuts the exporter down.
func (p *Provider) Stop(ctx context.Context) error {
	p.mu.Lock()
	provider := p.provider
	p.provider = nil
	p.mu.Unlock()

	if provider == nil {
		return nil
	}
	if err := provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("semo: telemetry shutdown: %w", err)
	}
	return nil
}

// Tracer returns the active tracer; noop until Start enabled the SDK.
func (p *Provider) Tracer() trace.Tracer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracer
}

// Enabled reports whether an SDK provider is installed.
func (p *Provider) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.provider != nil
}
