package context

import (
	stdcontext "context"
	"time"
)

// AttemptContext is derived by the routers for every adapter call.
type AttemptContext struct {
	TraceID       string        // Taken directly from TraceContext
	SpanID        string        // Span ID for this attempt
	GatewayID     int64         // Gateway being invoked
	AttemptNumber int           // 1-based position in the attempt order
	StartTime     time.Time     // When this attempt began
	Timeout       time.Duration // Budget for the single network call
}

// DeriveAttemptContext creates an AttemptContext from the request's TraceContext.
func DeriveAttemptContext(tc *TraceContext, gatewayID int64, attemptNumber int, timeout time.Duration, now time.Time) AttemptContext {
	return AttemptContext{
		TraceID:       tc.TraceID,
		SpanID:        tc.NewSpan(),
		GatewayID:     gatewayID,
		AttemptNumber: attemptNumber,
		StartTime:     now,
		Timeout:       timeout,
	}
}

// WithTimeout bounds parent by the attempt's timeout. A zero timeout only propagates cancellation.
func (ac AttemptContext) WithTimeout(parent stdcontext.Context) (stdcontext.Context, stdcontext.CancelFunc) {
	if ac.Timeout <= 0 {
		return stdcontext.WithCancel(parent)
	}
	return stdcontext.WithTimeout(parent, ac.Timeout)
}
