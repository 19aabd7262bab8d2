package context

import (
	stdcontext "context"

	"github.com/google/uuid"
)

// TraceContext carries only cross-cutting concerns needed for observability.
// It travels with a single inbound payment or refund request.
type TraceContext struct {
	TraceID string            // Globally unique ID for logs, events and spans
	SpanID  string            // Current span identifier
	Baggage map[string]string // Optional key-value flags (e.g., correlation data)

	stdCtx stdcontext.Context
}

// NewTraceContext creates a new TraceContext with a unique TraceID and an initial SpanID.
// A nil parent is replaced by context.Background().
func NewTraceContext(parent stdcontext.Context) TraceContext {
	return NewTraceContextWithIDs(parent, uuid.NewString(), uuid.NewString())
}

// NewTraceContextWithIDs builds a TraceContext around existing identifiers, e.g. an inbound
// X-Request-ID or the span id of an OpenTelemetry span.
func NewTraceContextWithIDs(parent stdcontext.Context, traceID, spanID string) TraceContext {
	if parent == nil {
		parent = stdcontext.Background()
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}
	if spanID == "" {
		spanID = uuid.NewString()
	}
	return TraceContext{
		TraceID: traceID,
		SpanID:  spanID,
		Baggage: make(map[string]string),
		stdCtx:  parent,
	}
}

// Context returns the standard library context bound to this trace.
func (tc TraceContext) Context() stdcontext.Context {
	if tc.stdCtx == nil {
		return stdcontext.Background()
	}
	return tc.stdCtx
}

// WithContext returns a copy of tc bound to ctx. Identifiers are preserved.
func (tc TraceContext) WithContext(ctx stdcontext.Context) TraceContext {
	tc.stdCtx = ctx
	return tc
}

// GetTraceID returns the trace identifier.
func (tc TraceContext) GetTraceID() string {
	return tc.TraceID
}

// NewSpan generates a new SpanID for a child operation within the same trace.
func (tc *TraceContext) NewSpan() string {
	tc.SpanID = uuid.NewString()
	return tc.SpanID
}
