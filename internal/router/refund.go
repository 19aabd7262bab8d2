package router

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yourorg/multigateway/internal/adapter"
	"github.com/yourorg/multigateway/internal/context"
	"github.com/yourorg/multigateway/internal/events"
	"github.com/yourorg/multigateway/internal/processor"
	"github.com/yourorg/multigateway/internal/registry"
)

// RefundRequest identifies the payment to refund by the gateway that processed it.
type RefundRequest struct {
	GatewayID             int64
	ExternalTransactionID string
	TransactionRef        string // Local reference reported in the refund completed event
}

// RefundOutcome is a successful refund.
type RefundOutcome struct {
	GatewayID        int64
	RawResponse      adapter.ProviderResponse
	ProcessingTimeMs int64
}

// RefundFailedError wraps the adapter error of a failed refund.
type RefundFailedError struct {
	GatewayID int64
	Err       error
}

func (e *RefundFailedError) Error() string {
	return fmt.Sprintf("refund failed on gateway %d: %v", e.GatewayID, e.Err)
}

func (e *RefundFailedError) Unwrap() error { return e.Err }

// RefundRouter sends refunds to the gateway that processed the original payment,
// whether or not that gateway is still active.
type RefundRouter struct {
	gateways  GatewaySource
	processor *processor.Processor
	sink      events.Sink
	options
}

// NewRefundRouter creates a RefundRouter. sink receives the refund completed event.
func NewRefundRouter(gateways GatewaySource, p *processor.Processor, sink events.Sink, opts ...Option) *RefundRouter {
	if gateways == nil {
		panic("gateway source cannot be nil")
	}
	if p == nil {
		panic("processor cannot be nil")
	}
	o := buildOptions(opts)
	return &RefundRouter{gateways: gateways, processor: p, sink: events.Safe(sink, o.logger), options: o}
}

// Refund issues the refund. It returns an error wrapping registry.ErrGatewayNotFound
// when the gateway id is unknown, and a *RefundFailedError for any adapter failure.
func (r *RefundRouter) Refund(traceCtx context.TraceContext, req RefundRequest) (RefundOutcome, error) {
	start := r.clock.Now()
	ctx, span := otel.Tracer("router").Start(traceCtx.Context(), "Refund")
	defer span.End()
	traceCtx = traceCtx.WithContext(ctx)
	span.SetAttributes(
		attribute.String("trace_id", traceCtx.TraceID),
		attribute.Int64("gateway_id", req.GatewayID),
	)

	if req.ExternalTransactionID == "" {
		err := fmt.Errorf("%w: external transaction id is required", adapter.ErrInvalidRequest)
		span.SetStatus(codes.Error, err.Error())
		return RefundOutcome{}, err
	}

	gw, err := r.gateways.Resolve(ctx, req.GatewayID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve gateway")
		if errors.Is(err, registry.ErrGatewayNotFound) {
			return RefundOutcome{}, err
		}
		return RefundOutcome{}, &RefundFailedError{GatewayID: req.GatewayID, Err: err}
	}

	result := r.processor.Refund(traceCtx, gw.Config, gw.Client, req.ExternalTransactionID)
	if !result.Success {
		err := result.Err
		if err == nil {
			err = adapter.RejectedResponse(result.Response)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "refund failed")
		r.logger.Warn("refund failed",
			"trace_id", traceCtx.TraceID,
			"gateway_id", req.GatewayID,
			"error", err,
		)
		return RefundOutcome{}, &RefundFailedError{GatewayID: req.GatewayID, Err: err}
	}

	outcome := RefundOutcome{
		GatewayID:        req.GatewayID,
		RawResponse:      result.Response,
		ProcessingTimeMs: r.clock.Now().Sub(start).Milliseconds(),
	}
	r.sink.OnPaymentRefunded(req.TransactionRef, outcome.ProcessingTimeMs)
	return outcome, nil
}
