package runtime

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/asafsemo/semo/internal/runtime/logging"
	registrypkg "github.com/asafsemo/semo/internal/runtime/registry"
	"github.com/asafsemo/semo/internal/runtime/tracectx"
)

// Stage names one step of the request pipeline.
type Stage string

const (
	StageOnRequest        Stage = "onRequest"
	StagePreParsing       Stage = "preParsing"
	StagePreValidation    Stage = "preValidation"
	StagePreHandler       Stage = "preHandler"
	StagePreSerialization Stage = "preSerialization"
	StageOnSend           Stage = "onSend"
	StageOnResponse       Stage = "onResponse"
	StageOnError          Stage = "onError"
	StageOnTimeout        Stage = "onTimeout"
	StageOnAbort          Stage = "onAbort"
)

// StageMark is one recorded stage timestamp.
type StageMark struct {
	Stage Stage
	At    time.Time
}

// StageRecord keeps the first timestamp of every stage a request went
// through, plus the outbound payload size.
type StageRecord struct {
	mu          sync.Mutex
	marks       []StageMark
	payloadSize int
}

// Mark stamps stage with the current time. Only the first call per stage is
// kept; Mark reports whether this call recorded it.
func (r *StageRecord) Mark(stage Stage) bool {
	return r.MarkAt(stage, time.Now())
}

// MarkAt is Mark with an explicit timestamp.
func (r *StageRecord) MarkAt(stage Stage, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.marks {
		if m.Stage == stage {
			return false
		}
	}
	r.marks = append(r.marks, StageMark{Stage: stage, At: at})
	return true
}

// At returns the recorded time of stage.
func (r *StageRecord) At(stage Stage) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.marks {
		if m.Stage == stage {
			return m.At, true
		}
	}
	return time.Time{}, false
}

// Marks returns the recorded stages in the order they first fired.
func (r *StageRecord) Marks() []StageMark {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StageMark(nil), r.marks...)
}

// Steps maps every recorded stage to its offset in milliseconds from the
// first recorded stage.
func (r *StageRecord) Steps() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	steps := make(map[string]float64, len(r.marks))
	if len(r.marks) == 0 {
		return steps
	}
	origin := r.marks[0].At
	for _, m := range r.marks {
		steps[string(m.Stage)] = float64(m.At.Sub(origin).Microseconds()) / 1000
	}
	return steps
}

func (r *StageRecord) setPayloadSize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloadSize = n
}

// PayloadSize returns the number of body bytes sent.
func (r *StageRecord) PayloadSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payloadSize
}

// RequestState is owned by exactly one request. Stages receive it
// explicitly; handlers reach it through the request context.
type RequestState struct {
	ID          string
	APIName     string
	Method      string
	Path        string
	RequestType string
	StartedAt   time.Time

	Logger   *loggingpkg.Logger
	Registry registrypkg.Resolver
	Trace    tracectx.Context
	Record   *StageRecord

	span trace.Span
}

type requestStateKey struct{}

func withRequestState(ctx context.Context, state *RequestState) context.Context {
	return context.WithValue(ctx, requestStateKey{}, state)
}

// RequestStateFromContext returns the state of the request ctx belongs to.
func RequestStateFromContext(ctx context.Context) (*RequestState, bool) {
	state, ok := ctx.Value(requestStateKey{}).(*RequestState)
	return state, ok && state != nil
}

// LoggerFromContext returns the request logger, or nil outside a request.
// The nil logger still writes raw records.
func LoggerFromContext(ctx context.Context) *loggingpkg.Logger {
	if state, ok := RequestStateFromContext(ctx); ok {
		return state.Logger
	}
	return nil
}
