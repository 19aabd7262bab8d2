// Package store persists gateway configurations and local transaction records.
package store

import (
	"context"
	"errors"
	"fmt"

	gwcontext "github.com/yourorg/multigateway/internal/context"
)

var (
	// ErrNotFound is returned when a record does not exist (or was soft-deleted).
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a compare-and-set update sees an unexpected state.
	ErrConflict = errors.New("record state conflict")
	// ErrInvalid is returned for records that violate basic constraints.
	ErrInvalid = errors.New("invalid record")
)

// GatewayStore is the backing store of the gateway registry.
type GatewayStore interface {
	// ListGateways returns every non-deleted gateway, active or not.
	ListGateways(ctx context.Context) ([]gwcontext.GatewayConfig, error)
	// GetGateway returns a gateway regardless of its active flag.
	GetGateway(ctx context.Context, id int64) (gwcontext.GatewayConfig, error)
	CreateGateway(ctx context.Context, cfg gwcontext.GatewayConfig) (gwcontext.GatewayConfig, error)
	UpdateGateway(ctx context.Context, cfg gwcontext.GatewayConfig) (gwcontext.GatewayConfig, error)
	// DeleteGateway soft-deletes; transactions keep their gateway reference.
	DeleteGateway(ctx context.Context, id int64) error
}

// TransactionFilter narrows ListTransactions. Zero values mean "any".
type TransactionFilter struct {
	GatewayID int64
	Status    gwcontext.TransactionStatus
	Limit     int
	Offset    int
}

// TransactionStore persists the local record of routed payments.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx gwcontext.Transaction) (gwcontext.Transaction, error)
	GetTransaction(ctx context.Context, id string) (gwcontext.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]gwcontext.Transaction, error)
	// UpdateTransactionStatus moves a transaction from `from` to `to`, failing with ErrConflict otherwise.
	UpdateTransactionStatus(ctx context.Context, id string, from, to gwcontext.TransactionStatus) (gwcontext.Transaction, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	GatewayStore
	TransactionStore
	Ping(ctx context.Context) error
	Close() error
}

func validateGateway(cfg gwcontext.GatewayConfig) error {
	if cfg.Type == "" {
		return fmt.Errorf("%w: gateway type is required", ErrInvalid)
	}
	if cfg.Name == "" {
		return fmt.Errorf("%w: gateway name is required", ErrInvalid)
	}
	return nil
}

func validateTransaction(tx gwcontext.Transaction) error {
	if tx.ID == "" || tx.GatewayID == 0 || tx.ExternalID == "" {
		return fmt.Errorf("%w: transaction id, gateway id and external id are required", ErrInvalid)
	}
	if len(tx.CardLastNumbers) > 4 {
		return fmt.Errorf("%w: only the last four card digits may be stored", ErrInvalid)
	}
	return nil
}
