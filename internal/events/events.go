// Package events carries the observability notifications emitted around gateway calls.
// Every sink is fire-and-forget: a failing or panicking sink never affects routing.
package events

import (
	"log/slog"
	"time"
)

// Operation identifies the adapter call an event belongs to.
type Operation string

const (
	OperationPayment Operation = "payment"
	OperationRefund  Operation = "refund"
)

// Phase marks whether the event precedes or follows the adapter call.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
)

// Status is the outcome carried by a response-phase event.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// GatewayEvent is emitted synchronously before and after each adapter call.
type GatewayEvent struct {
	TraceID     string         `json:"trace_id"`
	GatewayID   int64          `json:"gateway_id"`
	GatewayType string         `json:"gateway_type"`
	Operation   Operation      `json:"operation"`
	Phase       Phase          `json:"phase"`
	Status      Status         `json:"status,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"` // Always redacted
	Error       string         `json:"error,omitempty"`
	DurationMs  int64          `json:"duration_ms,omitempty"`
	TimestampMs int64          `json:"timestamp_ms"`
}

// NewGatewayEvent stamps an event with the current time.
func NewGatewayEvent(traceID string, gatewayID int64, gatewayType string, op Operation, phase Phase, now time.Time) GatewayEvent {
	return GatewayEvent{
		TraceID:     traceID,
		GatewayID:   gatewayID,
		GatewayType: gatewayType,
		Operation:   op,
		Phase:       phase,
		TimestampMs: now.UnixMilli(),
	}
}

// Sink receives routing notifications. Implementations must not block for long
// and must not panic; MultiSink recovers anyway.
type Sink interface {
	OnGatewayEvent(ev GatewayEvent)
	OnPaymentProcessed(transactionRef string, status string, gatewayID int64, processingTimeMs int64)
	OnPaymentRefunded(transactionRef string, processingTimeMs int64)
}

// NopSink drops everything.
type NopSink struct{}

func (NopSink) OnGatewayEvent(GatewayEvent) {}
func (NopSink) OnPaymentProcessed(string, string, int64, int64) {}
func (NopSink) OnPaymentRefunded(string, int64) {}

// MultiSink fans every notification out to its members, isolating each one.
type MultiSink struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewMultiSink drops nil members. A nil logger falls back to slog.Default().
func NewMultiSink(logger *slog.Logger, sinks ...Sink) *MultiSink {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MultiSink{logger: logger}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) dispatch(kind string, fn func(Sink)) {
	for _, s := range m.sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("event sink panicked", "event", kind, "panic", r)
				}
			}()
			fn(s)
		}()
	}
}

func (m *MultiSink) OnGatewayEvent(ev GatewayEvent) {
	m.dispatch("gateway_event", func(s Sink) { s.OnGatewayEvent(ev) })
}

func (m *MultiSink) OnPaymentProcessed(ref, status string, gatewayID, ms int64) {
	m.dispatch("payment_processed", func(s Sink) { s.OnPaymentProcessed(ref, status, gatewayID, ms) })
}

func (m *MultiSink) OnPaymentRefunded(ref string, ms int64) {
	m.dispatch("payment_refunded", func(s Sink) { s.OnPaymentRefunded(ref, ms) })
}

// Safe wraps s so that a panic inside it is logged and swallowed.
func Safe(s Sink, logger *slog.Logger) Sink {
	if s == nil {
		return NopSink{}
	}
	if m, ok := s.(*MultiSink); ok {
		return m
	}
	return NewMultiSink(logger, s)
}
