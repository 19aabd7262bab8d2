package mock

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/multigateway/internal/adapter"
)

func testRequest() adapter.PaymentRequest {
	return adapter.PaymentRequest{
		AmountMinorUnits: 1000,
		PayerName:        "tester",
		PayerEmail:       "tester@email.com",
		CardNumber:       "5569000000006063",
		CardCVV:          "010",
	}
}

func TestNewMockAdapter(t *testing.T) {
	mock := NewMockAdapter("test_mock")
	require.NotNil(t, mock)
	assert.Equal(t, "test_mock", mock.GetName())
}

func TestMockAdapter_Pay_DefaultBehavior(t *testing.T) {
	mock := NewMockAdapter("default_mock")

	resp, err := mock.Pay(context.Background(), testRequest())
	require.NoError(t, err)
	id, ok := resp.ExternalID()
	assert.True(t, ok)
	assert.NotEmpty(t, id)
	assert.Equal(t, int64(1), mock.PayCalls())
}

func TestMockAdapter_Pay_WithCustomFunc(t *testing.T) {
	t.Run("Declined", func(t *testing.T) {
		mock := NewMockAdapter("custom_mock_declined")
		mock.PayFunc = func(ctx context.Context, req adapter.PaymentRequest) (adapter.ProviderResponse, error) {
			return Declined(map[string]any{"status": "declined"}), nil
		}

		resp, err := mock.Pay(context.Background(), testRequest())
		require.NoError(t, err)
		_, ok := resp.ExternalID()
		assert.False(t, ok)
		assert.Equal(t, `{"status":"declined"}`, resp.String())
	})

	t.Run("Error", func(t *testing.T) {
		mock := NewMockAdapter("custom_mock_error")
		expectedError := fmt.Errorf("%w: connection refused", adapter.ErrNetwork)
		mock.PayFunc = func(ctx context.Context, req adapter.PaymentRequest) (adapter.ProviderResponse, error) {
			return adapter.ProviderResponse{}, expectedError
		}

		_, err := mock.Pay(context.Background(), testRequest())
		require.Error(t, err)
		assert.ErrorIs(t, err, adapter.ErrNetwork)
		assert.Equal(t, int64(1), mock.PayCalls())
	})
}

func TestMockAdapter_Refund(t *testing.T) {
	mock := NewMockAdapter("refund_mock")

	resp, err := mock.Refund(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, int64(1), mock.RefundCalls())

	mock.RefundFunc = func(ctx context.Context, id string) (adapter.ProviderResponse, error) {
		return adapter.ProviderResponse{}, fmt.Errorf("%w: refund endpoint down", adapter.ErrNetwork)
	}
	_, err = mock.Refund(context.Background(), "tx-1")
	assert.ErrorIs(t, err, adapter.ErrNetwork)
	assert.Equal(t, int64(2), mock.RefundCalls())
}

func TestMockAdapter_ListTransactions(t *testing.T) {
	mock := NewMockAdapter("list_mock")
	items, err := mock.ListTransactions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)

	mock.ListFunc = func(ctx context.Context) ([]adapter.ProviderResponse, error) {
		return []adapter.ProviderResponse{Success("a"), Success("b")}, nil
	}
	items, err = mock.ListTransactions(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
