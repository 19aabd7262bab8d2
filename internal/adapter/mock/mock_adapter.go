package mock

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/yourorg/multigateway/internal/adapter"
)

// MockAdapter is a mock implementation of the GatewayClient interface for testing.
type MockAdapter struct {
	Name       string
	PayFunc    func(ctx context.Context, req adapter.PaymentRequest) (adapter.ProviderResponse, error)
	RefundFunc func(ctx context.Context, externalTransactionID string) (adapter.ProviderResponse, error)
	ListFunc   func(ctx context.Context) ([]adapter.ProviderResponse, error)

	payCalls    atomic.Int64
	refundCalls atomic.Int64
}

// NewMockAdapter creates a new MockAdapter.
func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{Name: name}
}

// Pay calls PayFunc if defined, otherwise returns a successful charge with a random id.
func (m *MockAdapter) Pay(ctx context.Context, req adapter.PaymentRequest) (adapter.ProviderResponse, error) {
	m.payCalls.Add(1)
	if m.PayFunc != nil {
		return m.PayFunc(ctx, req)
	}
	return Success(uuid.NewString()), nil
}

// Refund calls RefundFunc if defined, otherwise acknowledges the refund.
func (m *MockAdapter) Refund(ctx context.Context, externalTransactionID string) (adapter.ProviderResponse, error) {
	m.refundCalls.Add(1)
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, externalTransactionID)
	}
	return adapter.ProviderResponse{
		Body:       map[string]any{"id": externalTransactionID, "status": "refunded"},
		HTTPStatus: 200,
	}, nil
}

// ListTransactions calls ListFunc if defined, otherwise returns an empty listing.
func (m *MockAdapter) ListTransactions(ctx context.Context) ([]adapter.ProviderResponse, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

// GetName implements the GatewayClient interface.
func (m *MockAdapter) GetName() string {
	return m.Name
}

// PayCalls returns how many times Pay was invoked.
func (m *MockAdapter) PayCalls() int64 { return m.payCalls.Load() }

// RefundCalls returns how many times Refund was invoked.
func (m *MockAdapter) RefundCalls() int64 { return m.refundCalls.Load() }

// Success builds a 200 response carrying id.
func Success(id string) adapter.ProviderResponse {
	return adapter.ProviderResponse{Body: map[string]any{"id": id}, HTTPStatus: 200}
}

// Declined builds a response without an id, as a provider decline looks.
func Declined(body map[string]any) adapter.ProviderResponse {
	return adapter.ProviderResponse{Body: body, HTTPStatus: 200}
}

var _ adapter.GatewayClient = (*MockAdapter)(nil)
