// Package tracectx builds and propagates the trace scope attached to every
// logger and request.
package tracectx

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	idspkg "github.com/asafsemo/semo/internal/runtime/ids"
)

// Header names understood on inbound requests.
const (
	HeaderCloudTrace  = "x-cloud-trace-context"
	HeaderParentID    = "x-trace-parent-id"
	HeaderLoggerLevel = "x-logger-level"
	HeaderRequestType = "x-request-type"
)

// Context identifies one scope of work inside a distributed trace. It is a
// value type and is never mutated after construction.
type Context struct {
	TraceID      string `json:"traceId"`
	SpanID       string `json:"spanId"`
	ParentSpanID string `json:"spanParent,omitempty"`
	APIName      string `json:"apiName,omitempty"`
}

// Override carries caller supplied values used when deriving a child scope.
// Empty fields mean "inherit".
type Override struct {
	TraceID      string
	ParentSpanID string
	APIName      string
}

// New builds a scope for inbound work. A non-empty inboundTraceID is reused,
// otherwise a fresh 128-bit id is minted. The span id is always new and the
// parent is whatever the caller supplied (empty marks a root).
func New(inboundTraceID, inboundParentSpanID string) Context {
	traceID := strings.TrimSpace(inboundTraceID)
	if traceID == "" {
		traceID = idspkg.NewTraceID()
	}
	return Context{
		TraceID:      traceID,
		SpanID:       idspkg.NewSpanID(),
		ParentSpanID: strings.TrimSpace(inboundParentSpanID),
	}
}

// Derive builds a child scope of parent. The override wins for every field it
// sets; otherwise the trace id and api name are inherited and the parent span
// becomes parent.SpanID.
func Derive(parent Context, o Override) Context {
	traceID := firstNonEmpty(o.TraceID, parent.TraceID)
	child := New(traceID, firstNonEmpty(o.ParentSpanID, parent.SpanID))
	child.APIName = firstNonEmpty(o.APIName, parent.APIName)
	return child
}

// WithAPIName returns a copy of c labelled with name.
func (c Context) WithAPIName(name string) Context {
	c.APIName = name
	return c
}

// IsZero reports whether no trace id has been assigned.
func (c Context) IsZero() bool { return c.TraceID == "" }

// IsRoot reports whether the scope has no parent span.
func (c Context) IsRoot() bool { return c.ParentSpanID == "" }

// RemoteParent converts the inbound caller span into an otel span context so
// server spans can be parented across process boundaries. ok is false when the
// ids are not valid W3C hex.
func (c Context) RemoteParent() (trace.SpanContext, bool) {
	traceID, err := trace.TraceIDFromHex(c.TraceID)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(c.ParentSpanID)
	if err != nil {
		return trace.SpanContext{}, false
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return sc, sc.IsValid()
}

// Inbound holds the trace related values read from request headers.
type Inbound struct {
	TraceID      string
	ParentSpanID string
	LogLevel     string
	RequestType  string
}

// FromHeaders reads trace headers. x-cloud-trace-context carries
// "TRACE/SPAN;o=1" and only the trace part is kept. A W3C traceparent header
// is used when no cloud trace header is present.
func FromHeaders(h http.Header) Inbound {
	in := Inbound{
		ParentSpanID: strings.TrimSpace(h.Get(HeaderParentID)),
		LogLevel:     strings.TrimSpace(h.Get(HeaderLoggerLevel)),
		RequestType:  strings.TrimSpace(h.Get(HeaderRequestType)),
	}
	if cloud := h.Get(HeaderCloudTrace); cloud != "" {
		in.TraceID = strings.TrimSpace(strings.SplitN(cloud, "/", 2)[0])
	}
	if in.TraceID != "" {
		return in
	}

	ctx := propagation.TraceContext{}.Extract(context.Background(), propagation.HeaderCarrier(h))
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		in.TraceID = sc.TraceID().String()
		if in.ParentSpanID == "" {
			in.ParentSpanID = sc.SpanID().String()
		}
	}
	return in
}

// Inject echoes the trace id on outbound headers.
func Inject(h http.Header, c Context) {
	if c.TraceID == "" {
		return
	}
	h.Set(HeaderCloudTrace, c.TraceID)
}

type ctxKey struct{}

// WithContext stores c on ctx.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the scope stored on ctx, if any.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	c, ok := ctx.Value(ctxKey{}).(Context)
	return c, ok
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
