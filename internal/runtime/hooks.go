package runtime

import (
	"context"
	"net/http"
	"strings"

	errspkg "github.com/asafsemo/semo/internal/runtime/errors"
	loggingpkg "github.com/asafsemo/semo/internal/runtime/logging"
)

// TraceOverride lets a tracing hook replace the values read from headers.
// Empty fields keep the header values.
type TraceOverride struct {
	TraceID      string
	ParentSpanID string
	LogLevel     string
}

// TracingHook runs in onRequest before the request logger is built.
type TracingHook func(ctx context.Context, r *http.Request, logger *loggingpkg.Logger) (TraceOverride, error)

// GuardHook runs in preValidation or preHandler. A returned error aborts the
// request before the handler runs.
type GuardHook func(ctx context.Context, r *http.Request, logger *loggingpkg.Logger) error

// ErrorHook runs in onError. Returning true means the hook wrote the
// response and the default error response is skipped.
type ErrorHook func(ctx context.Context, err error, r *http.Request, w http.ResponseWriter, logger *loggingpkg.Logger) bool

// Hooks defines the optional pipeline extension points. All hooks are
// optional; nil hooks are simply not called.
type Hooks struct {
	Tracing       TracingHook
	Validation    GuardHook
	Authorization GuardHook
	Error         ErrorHook
}

// Merge combines two Hooks. The hooks from 'other' run after the hooks from
// 'h'; guards stop at the first error, error hooks stop once one handles
// the fault, and later tracing overrides win field by field.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		Tracing:       chainTracingHooks(h.Tracing, other.Tracing),
		Validation:    chainGuardHooks(h.Validation, other.Validation),
		Authorization: chainGuardHooks(h.Authorization, other.Authorization),
		Error:         chainErrorHooks(h.Error, other.Error),
	}
}

func chainTracingHooks(a, b TracingHook) TracingHook {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, r *http.Request, logger *loggingpkg.Logger) (TraceOverride, error) {
		first, err := a(ctx, r, logger)
		if err != nil {
			return TraceOverride{}, err
		}
		second, err := b(ctx, r, logger)
		if err != nil {
			return TraceOverride{}, err
		}
		return TraceOverride{
			TraceID:      firstNonEmpty(second.TraceID, first.TraceID),
			ParentSpanID: firstNonEmpty(second.ParentSpanID, first.ParentSpanID),
			LogLevel:     firstNonEmpty(second.LogLevel, first.LogLevel),
		}, nil
	}
}

func chainGuardHooks(a, b GuardHook) GuardHook {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, r *http.Request, logger *loggingpkg.Logger) error {
		if err := a(ctx, r, logger); err != nil {
			return err
		}
		return b(ctx, r, logger)
	}
}

func chainErrorHooks(a, b ErrorHook) ErrorHook {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, err error, r *http.Request, w http.ResponseWriter, logger *loggingpkg.Logger) bool {
		if a(ctx, err, r, w, logger) {
			return true
		}
		return b(ctx, err, r, w, logger)
	}
}

// RequireHeaders returns a guard failing with a 420 REQUEST_PARAM_MISSING
// fault when any of the named headers is absent or empty.
func RequireHeaders(names ...string) GuardHook {
	return func(_ context.Context, r *http.Request, _ *loggingpkg.Logger) error {
		present := make(map[string]any, len(names))
		for _, name := range names {
			if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
				present[name] = v
			}
		}
		return errspkg.ValidateMandatoryFields(present, names, errspkg.MandatoryOptions{
			Message: "Missing header: {paramName}",
		})
	}
}

// HeaderTracing reads a trace id from a custom header, for callers that do
// not send x-cloud-trace-context.
func HeaderTracing(header string) TracingHook {
	return func(_ context.Context, r *http.Request, _ *loggingpkg.Logger) (TraceOverride, error) {
		return TraceOverride{TraceID: strings.TrimSpace(r.Header.Get(header))}, nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
