package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/asafsemo/semo/internal/runtime/errors"
	idspkg "github.com/asafsemo/semo/internal/runtime/ids"
	"github.com/asafsemo/semo/internal/runtime/jsoncodec"
	loggingpkg "github.com/asafsemo/semo/internal/runtime/logging"
	registrypkg "github.com/asafsemo/semo/internal/runtime/registry"
	"github.com/asafsemo/semo/internal/runtime/tracectx"
)

const (
	tracerName = "github.com/asafsemo/semo"

	requestLoggerName = "Request logger"

	// statusClientClosed is recorded for aborted requests. Nothing is sent.
	statusClientClosed = 499
)

// PipelineOptions configure a Pipeline.
type PipelineOptions struct {
	Hooks Hooks
	// ExtraHeaders are set on every response.
	ExtraHeaders map[string]string
	// ExposeErrorDetails adds stack and internal error to error responses.
	ExposeErrorDetails bool
	Metrics            *Metrics
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
}

// Pipeline runs every request through the ordered stages, owns the
// request-scoped logger and guarantees exactly one response per request.
type Pipeline struct {
	logger   *loggingpkg.Logger
	resolver registrypkg.Resolver
	opts     PipelineOptions
	tracer   trace.Tracer
	validate *validator.Validate

	statsMu sync.RWMutex
	stats   map[string]*RouteStats
}

// NewPipeline builds a pipeline deriving request loggers from logger and
// handing resolver to every request.
func NewPipeline(logger *loggingpkg.Logger, resolver registrypkg.Resolver, opts PipelineOptions) *Pipeline {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Pipeline{
		logger:   logger,
		resolver: resolver,
		opts:     opts,
		tracer:   tracer,
		validate: newValidator(),
		stats:    make(map[string]*RouteStats),
	}
}

// Use merges extra hooks after the configured ones.
func (p *Pipeline) Use(h Hooks) {
	p.opts.Hooks = p.opts.Hooks.Merge(h)
}

// Handler adapts route into an http.Handler running the full stage chain.
func (p *Pipeline) Handler(route Route) http.Handler {
	stats := p.routeStats(route)

	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		w, ok := rw.(chimw.WrapResponseWriter)
		if !ok {
			w = chimw.NewWrapResponseWriter(rw, r.ProtoMajor)
		}

		ctx, state, hookErr := p.OnRequest(w, r, route)
		r = r.WithContext(ctx)

		outcome, fault := p.run(ctx, w, r, route, state, hookErr)

		status := w.Status()
		switch outcome {
		case StageOnTimeout:
			status = http.StatusGatewayTimeout
		case StageOnAbort:
			status = statusClientClosed
		default:
			p.OnResponse(ctx, w, state)
		}
		stats.record(status, time.Since(state.StartedAt), classifyError(fault), fault)
		p.opts.Metrics.requestFinished(state.APIName, state.Method, status, time.Since(state.StartedAt))
	})
}

func (p *Pipeline) run(ctx context.Context, w chimw.WrapResponseWriter, r *http.Request, route Route, state *RequestState, hookErr error) (outcome Stage, fault error) {
	defer func() {
		if rec := recover(); rec != nil {
			fault = pkgerrors.Errorf("panic: %v", rec)
			p.OnError(ctx, w, r, state, fault)
			outcome = StageOnError
		}
	}()

	fail := func(err error) (Stage, error) {
		if stage := p.interrupted(ctx, state); stage != "" {
			return stage, ctx.Err()
		}
		p.OnError(ctx, w, r, state, err)
		return StageOnError, err
	}

	if hookErr != nil {
		return fail(hookErr)
	}
	p.PreParsing(ctx, state)
	if err := p.PreValidation(ctx, r, state); err != nil {
		return fail(err)
	}
	if err := p.PreHandler(ctx, r, state); err != nil {
		return fail(err)
	}
	if stage := p.interrupted(ctx, state); stage != "" {
		return stage, ctx.Err()
	}

	payload, err := route.Handler(ctx, &Request{Request: r, State: state, validate: p.validate})
	if stage := p.interrupted(ctx, state); stage != "" {
		return stage, ctx.Err()
	}
	if err != nil {
		return fail(err)
	}

	out, err := p.PreSerialization(ctx, state, payload)
	if err != nil {
		return fail(err)
	}
	if err := p.OnSend(ctx, w, state, out); err != nil {
		state.Logger.Warn("Response write failed", loggingpkg.LogFields{"error": err.Error()})
	}
	return StageOnSend, nil
}

// interrupted fires onTimeout or onAbort when ctx ended early and reports
// which one ran.
func (p *Pipeline) interrupted(ctx context.Context, state *RequestState) Stage {
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		p.OnTimeout(ctx, state)
		return StageOnTimeout
	case errors.Is(err, context.Canceled):
		p.OnAbort(ctx, state)
		return StageOnAbort
	}
	return ""
}

// OnRequest builds the request state: trace scope from headers and the
// tracing hook, the request logger, the server span and the response trace
// header. The returned error comes from the tracing hook; the state is
// usable either way.
func (p *Pipeline) OnRequest(w http.ResponseWriter, r *http.Request, route Route) (context.Context, *RequestState, error) {
	started := time.Now()
	record := &StageRecord{}
	record.MarkAt(StageOnRequest, started)
	p.opts.Metrics.requestStarted()

	ctx := r.Context()
	inbound := tracectx.FromHeaders(r.Header)

	var hookErr error
	if p.opts.Hooks.Tracing != nil {
		override, err := p.callTracingHook(ctx, r)
		if err != nil {
			hookErr = err
		} else {
			inbound.TraceID = firstNonEmpty(override.TraceID, inbound.TraceID)
			inbound.ParentSpanID = firstNonEmpty(override.ParentSpanID, inbound.ParentSpanID)
			inbound.LogLevel = firstNonEmpty(override.LogLevel, inbound.LogLevel)
		}
	}

	apiName := route.APIName
	if apiName == "" {
		apiName = r.URL.Path
	}
	scope := tracectx.New(inbound.TraceID, inbound.ParentSpanID).WithAPIName(apiName)
	logger := p.logger.Child(requestLoggerName, loggingpkg.ChildOptions{
		MinLevel: inbound.LogLevel,
		Scope:    &scope,
	})

	requestID := chimw.GetReqID(ctx)
	if requestID == "" {
		requestID = idspkg.NewID()
	}

	state := &RequestState{
		ID:          requestID,
		APIName:     apiName,
		Method:      r.Method,
		Path:        r.URL.Path,
		RequestType: inbound.RequestType,
		StartedAt:   started,
		Logger:      logger,
		Registry:    p.resolver,
		Trace:       scope,
		Record:      record,
	}

	if parent, ok := scope.RemoteParent(); ok {
		ctx = trace.ContextWithRemoteSpanContext(ctx, parent)
	}
	ctx, state.span = p.tracer.Start(ctx, apiName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
			attribute.String("semo.trace_id", scope.TraceID),
			attribute.String("semo.request_id", requestID),
		),
	)
	ctx = tracectx.WithContext(ctx, scope)
	ctx = withRequestState(ctx, state)

	header := w.Header()
	tracectx.Inject(header, scope)
	for k, v := range p.opts.ExtraHeaders {
		header.Set(k, v)
	}

	logger.Complete("Incoming HTTP request", loggingpkg.LogFields{
		"method":      r.Method,
		"url":         r.URL.RequestURI(),
		"requestId":   requestID,
		"requestType": inbound.RequestType,
		"remoteAddr":  r.RemoteAddr,
	})
	return ctx, state, hookErr
}

func (p *Pipeline) callTracingHook(ctx context.Context, r *http.Request) (override TraceOverride, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = pkgerrors.Errorf("tracing hook panic: %v", rec)
		}
	}()
	return p.opts.Hooks.Tracing(ctx, r, p.logger)
}

// PreParsing runs before the body is read.
func (p *Pipeline) PreParsing(_ context.Context, state *RequestState) {
	state.Record.Mark(StagePreParsing)
}

// PreValidation runs the validation hook.
func (p *Pipeline) PreValidation(ctx context.Context, r *http.Request, state *RequestState) error {
	state.Record.Mark(StagePreValidation)
	if p.opts.Hooks.Validation == nil {
		return nil
	}
	return p.opts.Hooks.Validation(ctx, r, state.Logger)
}

// PreHandler runs the authorization hook.
func (p *Pipeline) PreHandler(ctx context.Context, r *http.Request, state *RequestState) error {
	state.Record.Mark(StagePreHandler)
	if p.opts.Hooks.Authorization == nil {
		return nil
	}
	return p.opts.Hooks.Authorization(ctx, r, state.Logger)
}

// PreSerialization turns the handler payload into bytes.
func (p *Pipeline) PreSerialization(_ context.Context, state *RequestState, payload any) (serialized, error) {
	state.Record.Mark(StagePreSerialization)
	out, err := serialize(payload)
	if err != nil {
		return serialized{}, errspkg.NewManagedError(errspkg.TypeInternal, "Response serialization failed", errspkg.WithCause(err))
	}
	return out, nil
}

// OnSend writes the serialized payload and records its size.
func (p *Pipeline) OnSend(_ context.Context, w http.ResponseWriter, state *RequestState, out serialized) error {
	state.Record.Mark(StageOnSend)
	header := w.Header()
	for k, values := range out.headers {
		for _, v := range values {
			header.Add(k, v)
		}
	}
	if out.contentType != "" {
		header.Set("Content-Type", out.contentType)
	}
	w.WriteHeader(out.status)
	state.Record.setPayloadSize(len(out.body))
	if len(out.body) == 0 {
		return nil
	}
	_, err := w.Write(out.body)
	return err
}

// OnResponse logs the completed request and closes its span.
func (p *Pipeline) OnResponse(_ context.Context, w chimw.WrapResponseWriter, state *RequestState) {
	state.Record.Mark(StageOnResponse)
	elapsed := time.Since(state.StartedAt)
	status := w.Status()
	size := w.BytesWritten()

	state.Logger.Complete("Request complete", loggingpkg.LogFields{
		"steps":     state.Record.Steps(),
		"elapsedMs": float64(elapsed.Microseconds()) / 1000,
		"status":    status,
		"size":      size,
	})

	if state.span != nil {
		state.span.SetAttributes(
			attribute.Int("http.response.status_code", status),
			attribute.Int("http.response.body.size", size),
		)
		if status >= http.StatusInternalServerError {
			state.span.SetStatus(codes.Error, http.StatusText(status))
		}
		state.span.End()
	}
}

// OnError logs the fault, lets the error hook answer and otherwise writes the
// default error response. Nothing is written when a response already went
// out.
func (p *Pipeline) OnError(ctx context.Context, w chimw.WrapResponseWriter, r *http.Request, state *RequestState, err error) {
	if !state.Record.Mark(StageOnError) {
		state.Logger.Warn("Request failed again after error", loggingpkg.LogFields{"error": err.Error()})
	}
	p.opts.Metrics.stageFault(StageOnError)

	status, body := errspkg.HandleError(err, errspkg.HandleOptions{
		ExposeStack: p.opts.ExposeErrorDetails,
		TraceID:     state.Trace.TraceID,
	})
	state.Logger.Error("Request failed", loggingpkg.LogFields{
		"error":  err.Error(),
		"type":   body.Type,
		"status": status,
	})
	if state.span != nil {
		state.span.RecordError(err)
		state.span.SetStatus(codes.Error, body.Type)
	}

	if p.opts.Hooks.Error != nil && p.callErrorHook(ctx, err, r, w, state) {
		return
	}
	if w.Status() != 0 {
		state.Logger.Warn("Response already sent, error response skipped", loggingpkg.LogFields{"status": w.Status()})
		return
	}

	data, merr := jsoncodec.Marshal(body)
	if merr != nil {
		data = []byte(`{"type":"` + errspkg.TypeInternal + `","message":"` + http.StatusText(http.StatusInternalServerError) + `"}`)
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	if _, werr := w.Write(data); werr != nil {
		state.Logger.Warn("Error response write failed", loggingpkg.LogFields{"error": werr.Error()})
	}
	state.Record.setPayloadSize(len(data))
}

func (p *Pipeline) callErrorHook(ctx context.Context, err error, r *http.Request, w http.ResponseWriter, state *RequestState) (handled bool) {
	defer func() {
		if rec := recover(); rec != nil {
			state.Logger.Error("Error hook panicked", loggingpkg.LogFields{"panic": fmt.Sprint(rec)})
			handled = false
		}
	}()
	return p.opts.Hooks.Error(ctx, err, r, w, state.Logger)
}

// OnTimeout records a request whose deadline passed. The transport answers
// the client.
func (p *Pipeline) OnTimeout(_ context.Context, state *RequestState) {
	if !state.Record.Mark(StageOnTimeout) {
		return
	}
	p.opts.Metrics.stageFault(StageOnTimeout)
	state.Logger.Warn("Request timed out", loggingpkg.LogFields{
		"elapsedMs": time.Since(state.StartedAt).Milliseconds(),
		"steps":     state.Record.Steps(),
	})
	p.endInterrupted(state, "timeout")
}

// OnAbort records a request the client abandoned. No response is sent.
func (p *Pipeline) OnAbort(_ context.Context, state *RequestState) {
	if !state.Record.Mark(StageOnAbort) {
		return
	}
	p.opts.Metrics.stageFault(StageOnAbort)
	state.Logger.Warn("Request aborted by client", loggingpkg.LogFields{
		"elapsedMs": time.Since(state.StartedAt).Milliseconds(),
		"steps":     state.Record.Steps(),
	})
	p.endInterrupted(state, "aborted")
}

func (p *Pipeline) endInterrupted(state *RequestState, reason string) {
	if state.span == nil {
		return
	}
	state.span.SetStatus(codes.Error, reason)
	state.span.End()
}

func (p *Pipeline) routeStats(route Route) *RouteStats {
	key := route.key()
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	if st, ok := p.stats[key]; ok {
		return st
	}
	st := newRouteStats(route)
	p.stats[key] = st
	return st
}

// Stats returns the live stats of every mounted route, ordered by pattern
// then method. They marshal under their own lock.
func (p *Pipeline) Stats() []*RouteStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	out := make([]*RouteStats, 0, len(p.stats))
	for _, st := range p.stats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Method < out[j].Method
	})
	return out
}
