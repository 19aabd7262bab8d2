package orchestrator_test

import (
	stdcontext "context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/multigateway/internal/adapter"
	"github.com/yourorg/multigateway/internal/adapter/gateway1"
	"github.com/yourorg/multigateway/internal/adapter/gateway2"
	"github.com/yourorg/multigateway/internal/context"
	"github.com/yourorg/multigateway/internal/events"
	"github.com/yourorg/multigateway/internal/orchestrator"
	"github.com/yourorg/multigateway/internal/policy"
	"github.com/yourorg/multigateway/internal/processor"
	"github.com/yourorg/multigateway/internal/registry"
	"github.com/yourorg/multigateway/internal/router"
	"github.com/yourorg/multigateway/internal/store"
)

// unavailableGateway1 logs in fine but fails every charge with a bare 500.
func unavailableGateway1(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "t"})
	})
	mux.HandleFunc("/transactions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream unavailable"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type gateway2Fake struct {
	charges atomic.Int32
	refunds atomic.Int32
}

func (g *gateway2Fake) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/transacoes", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tk", r.Header.Get("Gateway-Auth-Token"))
		g.charges.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"id": "g2-tx"})
	})
	mux.HandleFunc("/transacoes/reembolso", func(w http.ResponseWriter, r *http.Request) {
		g.refunds.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"id": "g2-tx", "status": "refunded"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPurchaseAndRefundAcrossRealAdapters(t *testing.T) {
	ctx := stdcontext.Background()
	g1 := unavailableGateway1(t)
	fake2 := &gateway2Fake{}
	g2 := fake2.server(t)

	s := store.NewMemoryStore(nil)
	s.Seed(
		context.GatewayConfig{ID: 1, Type: context.GatewayTypeOne, Name: "Gateway 1", IsActive: true, Priority: 1,
			Credentials: context.Credentials{"email": "dev@betalent.tech", "token": "secret", "base_url": g1.URL}},
		context.GatewayConfig{ID: 2, Type: context.GatewayTypeTwo, Name: "Gateway 2", IsActive: true, Priority: 2,
			Credentials: context.Credentials{"auth_token": "tk", "auth_secret": "sc", "base_url": g2.URL}},
	)

	reg := registry.New(s, map[context.GatewayType]adapter.Constructor{
		context.GatewayTypeOne: gateway1.New,
		context.GatewayTypeTwo: gateway2.New,
	})
	admin := registry.NewAdmin(s, reg, nil)
	rec := events.NewRecorder()
	proc := processor.NewProcessor(rec, nil, 0)
	orc := orchestrator.NewOrchestrator(
		router.NewPaymentRouter(reg, proc),
		router.NewRefundRouter(reg, proc, rec),
		s,
		rec,
	)

	result, err := orc.Purchase(context.NewTraceContext(ctx), adapter.PaymentRequest{
		AmountMinorUnits: 1000,
		PayerName:        "Tester",
		PayerEmail:       "tester@email.com",
		CardNumber:       "5569000000006063",
		CardCVV:          "010",
	})
	require.NoError(t, err)
	require.True(t, result.Succeeded(), "errors: %v", result.Outcome.Errors)
	assert.Equal(t, int64(2), result.Transaction.GatewayID)
	assert.Equal(t, "g2-tx", result.Transaction.ExternalID)
	require.Len(t, result.Outcome.Errors, 1)
	assert.Contains(t, result.Outcome.Errors[0], "Gateway 1: network error")

	// Deactivated gateways stay reachable for refunds of their past transactions.
	_, err = admin.Toggle(ctx, 2)
	require.NoError(t, err)
	active, err := reg.LoadActiveGateways(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	refunded, err := orc.Refund(context.NewTraceContext(ctx), result.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, context.TransactionRefunded, refunded.Transaction.Status)
	assert.Equal(t, int32(1), fake2.refunds.Load())

	_, err = orc.Refund(context.NewTraceContext(ctx), result.Transaction.ID)
	assert.ErrorIs(t, err, policy.ErrAlreadyRefunded)
	assert.Equal(t, int32(1), fake2.refunds.Load(), "no second refund call reaches the provider")

	require.Len(t, rec.Refunded(), 1)
	assert.Equal(t, result.Transaction.ID, rec.Refunded()[0].TransactionRef)
	for _, ev := range rec.Events() {
		if ev.Phase == events.PhaseRequest && ev.Operation == events.OperationPayment {
			assert.Equal(t, "************6063", ev.Payload["card_number"])
		}
	}
}
