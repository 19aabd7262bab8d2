// Package router selects, orders and fails over between payment gateways.
//
// A payment is attempted against the active gateways one at a time in (priority, id)
// order and stops at the first structurally successful response. A refund always goes
// to the gateway that processed the original payment.
package router

import (
	stdcontext "context"
	"fmt"
	"log/slog"

	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yourorg/multigateway/internal/adapter"
	"github.com/yourorg/multigateway/internal/context"
	"github.com/yourorg/multigateway/internal/processor"
	"github.com/yourorg/multigateway/internal/registry"
	"github.com/yourorg/multigateway/internal/router/circuitbreaker"
)

// ErrNoActiveGateway is the single error entry of an outcome with nothing to try.
const ErrNoActiveGateway = "no active gateway available"

// PaymentOutcome is the result of routing one payment. Failure is reported here,
// not as a Go error.
type PaymentOutcome struct {
	Success               bool
	GatewayID             int64
	GatewayType           string
	ExternalTransactionID string
	RawResponse           adapter.ProviderResponse
	Errors                []string
	ProcessingTimeMs      int64
}

// GatewaySource is the part of the registry the routers read from.
type GatewaySource interface {
	LoadActiveGateways(ctx stdcontext.Context) ([]registry.ActiveGateway, error)
	Resolve(ctx stdcontext.Context, id int64) (registry.ActiveGateway, error)
}

// Option configures the routers.
type Option func(*options)

type options struct {
	breaker *circuitbreaker.CircuitBreaker
	clock   clockz.Clock
	logger  *slog.Logger
}

// WithCircuitBreaker enables skipping of gateways whose circuit is open. Nil disables it.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(o *options) { o.breaker = cb }
}

// WithClock sets the clock used for processing times.
func WithClock(c clockz.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: clockz.RealClock, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// PaymentRouter runs the sequential failover state machine.
type PaymentRouter struct {
	gateways  GatewaySource
	processor *processor.Processor
	options
}

// NewPaymentRouter creates a PaymentRouter.
func NewPaymentRouter(gateways GatewaySource, p *processor.Processor, opts ...Option) *PaymentRouter {
	if gateways == nil {
		panic("gateway source cannot be nil")
	}
	if p == nil {
		panic("processor cannot be nil")
	}
	return &PaymentRouter{gateways: gateways, processor: p, options: buildOptions(opts)}
}

// ProcessPayment tries the active gateways in order until one returns a transaction id.
// The returned error is non-nil only when the active list itself cannot be loaded.
//
// Cancelling the trace context stops routing before the next attempt. A charge that
// already succeeded is reported as a success; nothing is compensated.
func (r *PaymentRouter) ProcessPayment(traceCtx context.TraceContext, req adapter.PaymentRequest) (PaymentOutcome, error) {
	start := r.clock.Now()
	ctx, span := otel.Tracer("router").Start(traceCtx.Context(), "ProcessPayment")
	defer span.End()
	traceCtx = traceCtx.WithContext(ctx)
	span.SetAttributes(attribute.String("trace_id", traceCtx.TraceID))

	active, err := r.gateways.LoadActiveGateways(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load active gateways")
		return PaymentOutcome{}, fmt.Errorf("router: failed to load active gateways: %w", err)
	}

	outcome := PaymentOutcome{}
	if len(active) == 0 {
		outcome.Errors = []string{ErrNoActiveGateway}
		outcome.ProcessingTimeMs = r.clock.Now().Sub(start).Milliseconds()
		span.SetStatus(codes.Error, ErrNoActiveGateway)
		r.logger.Warn("no active gateway available", "trace_id", traceCtx.TraceID)
		return outcome, nil
	}

	for i, gw := range active {
		if err := ctx.Err(); err != nil {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("routing cancelled before gateway %d: %s", gw.Config.ID, err))
			break
		}

		if r.breaker != nil && !r.breaker.IsHealthy(gw.Config.ID) {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("Gateway %d: circuit open", gw.Config.ID))
			continue
		}

		result := r.processor.Pay(traceCtx, gw.Config, gw.Client, req, i+1)
		r.record(result)
		if result.Success {
			outcome.Success = true
			outcome.GatewayID = result.GatewayID
			outcome.GatewayType = result.GatewayType
			outcome.ExternalTransactionID = result.ExternalID
			outcome.RawResponse = result.Response
			break
		}
		outcome.Errors = append(outcome.Errors, result.ErrorEntry())
		r.logger.Info("gateway attempt failed, trying next",
			"trace_id", traceCtx.TraceID,
			"gateway_id", result.GatewayID,
			"attempt", i+1,
			"timeout", result.IsTimeout(),
		)
	}

	outcome.ProcessingTimeMs = r.clock.Now().Sub(start).Milliseconds()
	span.SetAttributes(
		attribute.Bool("success", outcome.Success),
		attribute.Int("attempts", len(outcome.Errors)+boolToInt(outcome.Success)),
	)
	if outcome.Success {
		span.SetAttributes(attribute.Int64("gateway_id", outcome.GatewayID))
	} else {
		span.SetStatus(codes.Error, "all gateways failed")
	}
	return outcome, nil
}

func (r *PaymentRouter) record(result processor.AttemptResult) {
	if r.breaker == nil {
		return
	}
	if result.Success {
		r.breaker.RecordSuccess(result.GatewayID)
	} else {
		r.breaker.RecordFailure(result.GatewayID)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
