// Package orchestrator implements the purchase and refund use cases on top of the routers.
// It owns everything the routers deliberately leave out: input validation, the local
// transaction record, the duplicate refund guard and the transaction-level notifications.
//
// A refund holds the lock of its own transaction across the gateway call. No lock
// shared between transactions is ever held while a gateway is being called.
package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yourorg/multigateway/internal/adapter"
	"github.com/yourorg/multigateway/internal/context"
	"github.com/yourorg/multigateway/internal/events"
	"github.com/yourorg/multigateway/internal/policy"
	"github.com/yourorg/multigateway/internal/router"
	"github.com/yourorg/multigateway/internal/store"
)

var (
	// ErrTransactionNotFound is returned when a local transaction id is unknown.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrPersistence is returned when a charged payment could not be recorded locally.
	ErrPersistence = errors.New("failed to persist transaction")
)

// PaymentRouterInterface defines the contract for routing a payment.
type PaymentRouterInterface interface {
	ProcessPayment(traceCtx context.TraceContext, req adapter.PaymentRequest) (router.PaymentOutcome, error)
}

// RefundRouterInterface defines the contract for routing a refund.
type RefundRouterInterface interface {
	Refund(traceCtx context.TraceContext, req router.RefundRequest) (router.RefundOutcome, error)
}

// RefundPolicy decides whether a stored transaction may be refunded.
type RefundPolicy interface {
	Evaluate(tx context.Transaction, now time.Time) error
}

// PurchaseResult is the result of a purchase. Transaction is set only on success.
type PurchaseResult struct {
	Transaction context.Transaction
	Outcome     router.PaymentOutcome
}

// Succeeded reports whether a gateway charged the payment.
func (r PurchaseResult) Succeeded() bool { return r.Outcome.Success }

// RefundResult is the result of a successful refund.
type RefundResult struct {
	Transaction context.Transaction
	Outcome     router.RefundOutcome
}

// Orchestrator runs purchases and refunds.
type Orchestrator struct {
	payments PaymentRouterInterface
	refunds  RefundRouterInterface
	policy   RefundPolicy
	txs      store.TransactionStore
	sink     events.Sink
	clock    clockz.Clock
	logger   *slog.Logger
	locks    *keyedMutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for timestamps and processing times.
func WithClock(c clockz.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRefundPolicy sets the refund policy. The default only enforces the status checks.
func WithRefundPolicy(p RefundPolicy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.policy = p
		}
	}
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	payments PaymentRouterInterface,
	refunds RefundRouterInterface,
	txs store.TransactionStore,
	sink events.Sink,
	opts ...Option,
) *Orchestrator {
	if payments == nil {
		panic("payment router cannot be nil")
	}
	if refunds == nil {
		panic("refund router cannot be nil")
	}
	if txs == nil {
		panic("transaction store cannot be nil")
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	o := &Orchestrator{
		payments: payments,
		refunds:  refunds,
		policy:   &policy.RefundPolicy{},
		txs:      txs,
		sink:     sink,
		clock:    clockz.RealClock,
		logger:   slog.Default(),
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Purchase validates req, routes it and records a COMPLETED transaction when a gateway
// charged it. A declined payment is not an error: inspect PurchaseResult.Succeeded.
func (o *Orchestrator) Purchase(traceCtx context.TraceContext, req adapter.PaymentRequest) (PurchaseResult, error) {
	start := o.clock.Now()
	ctx, span := otel.Tracer("orchestrator").Start(traceCtx.Context(), "Orchestrator.Purchase")
	defer span.End()
	traceCtx = context.NewTraceContextWithIDs(ctx, traceCtx.GetTraceID(), span.SpanContext().SpanID().String())

	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		return PurchaseResult{}, err
	}

	outcome, err := o.payments.ProcessPayment(traceCtx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "routing failed")
		return PurchaseResult{}, err
	}
	result := PurchaseResult{Outcome: outcome}

	if !outcome.Success {
		elapsed := o.clock.Now().Sub(start).Milliseconds()
		o.sink.OnPaymentProcessed(traceCtx.TraceID, string(context.TransactionFailed), 0, elapsed)
		o.logger.Warn("payment failed on every gateway",
			"trace_id", traceCtx.TraceID,
			"errors", outcome.Errors,
		)
		span.SetStatus(codes.Error, "payment declined")
		return result, nil
	}

	tx := context.Transaction{
		ID:               uuid.NewString(),
		GatewayID:        outcome.GatewayID,
		ExternalID:       outcome.ExternalTransactionID,
		Status:           context.TransactionCompleted,
		AmountMinorUnits: req.AmountMinorUnits,
		CardLastNumbers:  req.CardLastFour(),
		PayerName:        req.PayerName,
		PayerEmail:       req.PayerEmail,
		CreatedAt:        o.clock.Now(),
	}
	stored, err := o.txs.CreateTransaction(ctx, tx)
	if err != nil {
		// The provider already charged the payer; keep enough to reconcile by hand.
		o.logger.Error("charged payment could not be recorded",
			"trace_id", traceCtx.TraceID,
			"gateway_id", tx.GatewayID,
			"external_id", tx.ExternalID,
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist transaction")
		return result, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	result.Transaction = stored

	o.sink.OnPaymentProcessed(stored.ID, string(stored.Status), stored.GatewayID, o.clock.Now().Sub(start).Milliseconds())
	span.SetAttributes(
		attribute.String("transaction_id", stored.ID),
		attribute.Int64("gateway_id", stored.GatewayID),
	)
	return result, nil
}

// Refund refunds a stored transaction through the gateway that processed it and marks
// it REFUNDED. Refunds of the same transaction are serialized; a transaction that is
// already REFUNDED is rejected before any gateway call.
func (o *Orchestrator) Refund(traceCtx context.TraceContext, transactionID string) (RefundResult, error) {
	ctx, span := otel.Tracer("orchestrator").Start(traceCtx.Context(), "Orchestrator.Refund")
	defer span.End()
	traceCtx = context.NewTraceContextWithIDs(ctx, traceCtx.GetTraceID(), span.SpanContext().SpanID().String())
	span.SetAttributes(attribute.String("transaction_id", transactionID))

	unlock := o.locks.Lock(transactionID)
	defer unlock()

	tx, err := o.txs.GetTransaction(ctx, transactionID)
	if errors.Is(err, store.ErrNotFound) {
		span.SetStatus(codes.Error, "not found")
		return RefundResult{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
	}
	if err != nil {
		span.RecordError(err)
		return RefundResult{}, fmt.Errorf("failed to load transaction %s: %w", transactionID, err)
	}

	if err := o.policy.Evaluate(tx, o.clock.Now()); err != nil {
		span.SetStatus(codes.Error, "refund rejected")
		o.logger.Info("refund rejected", "trace_id", traceCtx.TraceID, "transaction_id", tx.ID, "reason", err)
		return RefundResult{Transaction: tx}, err
	}

	outcome, err := o.refunds.Refund(traceCtx, router.RefundRequest{
		GatewayID:             tx.GatewayID,
		ExternalTransactionID: tx.ExternalID,
		TransactionRef:        tx.ID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refund failed")
		return RefundResult{Transaction: tx}, err
	}

	updated, err := o.txs.UpdateTransactionStatus(ctx, tx.ID, context.TransactionCompleted, context.TransactionRefunded)
	if err != nil {
		o.logger.Error("refunded payment could not be marked",
			"trace_id", traceCtx.TraceID,
			"transaction_id", tx.ID,
			"gateway_id", tx.GatewayID,
			"error", err,
		)
		span.RecordError(err)
		return RefundResult{Transaction: tx, Outcome: outcome}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return RefundResult{Transaction: updated, Outcome: outcome}, nil
}

// GetTransaction returns one local transaction.
func (o *Orchestrator) GetTransaction(traceCtx context.TraceContext, id string) (context.Transaction, error) {
	tx, err := o.txs.GetTransaction(traceCtx.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return context.Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	return tx, err
}

// ListTransactions returns local transactions, newest first.
func (o *Orchestrator) ListTransactions(traceCtx context.TraceContext, filter store.TransactionFilter) ([]context.Transaction, error) {
	return o.txs.ListTransactions(traceCtx.Context(), filter)
}
