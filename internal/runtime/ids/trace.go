package ids

import (
	"crypto/rand"

	"go.opentelemetry.io/otel/trace"
)

// NewTraceID returns a random 128-bit trace id as 32 lowercase hex characters.
func NewTraceID() string {
	var id trace.TraceID
	for !id.IsValid() {
		_, _ = rand.Read(id[:])
	}
	return id.String()
}

// NewSpanID returns a random 64-bit span id as 16 lowercase hex characters.
func NewSpanID() string {
	var id trace.SpanID
	for !id.IsValid() {
		_, _ = rand.Read(id[:])
	}
	return id.String()
}
