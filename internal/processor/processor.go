package processor

import (
	stdcontext "context"
	"errors"
	"fmt"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/yourorg/multigateway/internal/adapter"
	"github.com/yourorg/multigateway/internal/context"
	"github.com/yourorg/multigateway/internal/events"
)

// DefaultCallTimeout bounds a single adapter call.
const DefaultCallTimeout = 5 * time.Second

// AttemptResult is the normalized outcome of one adapter call.
type AttemptResult struct {
	GatewayID   int64
	GatewayType string
	Success     bool
	ExternalID  string                   // Set iff Success for payments
	Response    adapter.ProviderResponse // Raw provider answer, possibly empty on error
	Err         error                    // Adapter error, nil for declines
	DurationMs  int64
}

// ErrorEntry renders the failure in the accumulated-errors format: "Gateway {id}: {detail}".
// The detail is the adapter error message or, for a decline, the raw response.
func (r AttemptResult) ErrorEntry() string {
	if r.Err != nil {
		return fmt.Sprintf("Gateway %d: %s", r.GatewayID, r.Err.Error())
	}
	return fmt.Sprintf("Gateway %d: %s", r.GatewayID, r.Response.String())
}

// Processor wraps a single adapter call: per-call timeout, request/response events,
// and translation of the provider answer into an AttemptResult.
type Processor struct {
	sink    events.Sink
	clock   clockz.Clock
	timeout time.Duration
}

// NewProcessor creates a new Processor. A zero timeout uses DefaultCallTimeout.
// The sink is isolated so that a panicking sink cannot abort a gateway attempt.
func NewProcessor(sink events.Sink, clock clockz.Clock, timeout time.Duration) *Processor {
	if sink == nil {
		panic("event sink cannot be nil")
	}
	if clock == nil {
		clock = clockz.RealClock
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Processor{sink: events.Safe(sink, nil), clock: clock, timeout: timeout}
}

// Timeout returns the per-call timeout.
func (p *Processor) Timeout() time.Duration { return p.timeout }

// Pay performs one payment attempt against client.
func (p *Processor) Pay(
	traceCtx context.TraceContext,
	cfg context.GatewayConfig,
	client adapter.GatewayClient,
	req adapter.PaymentRequest,
	attemptNumber int,
) AttemptResult {
	start := p.clock.Now()
	attemptCtx := context.DeriveAttemptContext(&traceCtx, cfg.ID, attemptNumber, p.timeout, start)

	reqEvent := events.NewGatewayEvent(traceCtx.TraceID, cfg.ID, string(cfg.Type), events.OperationPayment, events.PhaseRequest, start)
	reqEvent.Payload = req.Redacted()
	p.sink.OnGatewayEvent(reqEvent)

	ctx, cancel := attemptCtx.WithTimeout(traceCtx.Context())
	resp, err := client.Pay(ctx, req)
	cancel()

	result := AttemptResult{
		GatewayID:   cfg.ID,
		GatewayType: string(cfg.Type),
		Response:    resp,
		Err:         err,
		DurationMs:  p.clock.Now().Sub(start).Milliseconds(),
	}
	if err == nil {
		result.ExternalID, result.Success = resp.ExternalID()
	}

	p.emitResponse(traceCtx, cfg, events.OperationPayment, result)
	return result
}

// Refund performs one refund call against client. Any re-authentication retry lives inside the adapter.
func (p *Processor) Refund(
	traceCtx context.TraceContext,
	cfg context.GatewayConfig,
	client adapter.GatewayClient,
	externalTransactionID string,
) AttemptResult {
	start := p.clock.Now()
	attemptCtx := context.DeriveAttemptContext(&traceCtx, cfg.ID, 1, p.timeout, start)

	reqEvent := events.NewGatewayEvent(traceCtx.TraceID, cfg.ID, string(cfg.Type), events.OperationRefund, events.PhaseRequest, start)
	reqEvent.Payload = map[string]any{"transaction_id": externalTransactionID}
	p.sink.OnGatewayEvent(reqEvent)

	ctx, cancel := attemptCtx.WithTimeout(traceCtx.Context())
	resp, err := client.Refund(ctx, externalTransactionID)
	cancel()

	result := AttemptResult{
		GatewayID:   cfg.ID,
		GatewayType: string(cfg.Type),
		Response:    resp,
		Err:         err,
		ExternalID:  externalTransactionID,
		Success:     err == nil,
		DurationMs:  p.clock.Now().Sub(start).Milliseconds(),
	}
	if err == nil && resp.HTTPStatus != 0 && !resp.OK() {
		result.Err = adapter.RejectedResponse(resp)
		result.Success = false
	}

	p.emitResponse(traceCtx, cfg, events.OperationRefund, result)
	return result
}

func (p *Processor) emitResponse(traceCtx context.TraceContext, cfg context.GatewayConfig, op events.Operation, result AttemptResult) {
	ev := events.NewGatewayEvent(traceCtx.TraceID, cfg.ID, string(cfg.Type), op, events.PhaseResponse, p.clock.Now())
	ev.DurationMs = result.DurationMs
	ev.Payload = events.Redact(result.Response.Body)
	if result.Success {
		ev.Status = events.StatusSuccess
	} else {
		ev.Status = events.StatusError
		if result.Err != nil {
			ev.Error = result.Err.Error()
		} else {
			ev.Error = "response carries no transaction id"
		}
	}
	p.sink.OnGatewayEvent(ev)
}

// IsTimeout reports whether the attempt failed because its deadline expired.
func (r AttemptResult) IsTimeout() bool {
	return r.Err != nil && errors.Is(r.Err, stdcontext.DeadlineExceeded)
}
