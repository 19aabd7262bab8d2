package main

import (
	"bytes"
	stdcontext "context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/multigateway/internal/config"
	"github.com/yourorg/multigateway/internal/logging"
)

// fakeProviders serves both provider APIs from one server.
type fakeProviders struct {
	gateway1Down  atomic.Bool
	gateway2Reply atomic.Value // map[string]any; nil means a decline
	refunds       atomic.Int32
}

func newFakeProviders(t *testing.T) (*fakeProviders, *httptest.Server) {
	f := &fakeProviders{}
	f.gateway2Reply.Store(map[string]any{"id": "g2-tx"})

	mux := http.NewServeMux()
	mux.HandleFunc("/g1/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "t"})
	})
	mux.HandleFunc("/g1/transactions", func(w http.ResponseWriter, r *http.Request) {
		if f.gateway1Down.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "g1-tx"})
	})
	mux.HandleFunc("/g1/transactions/g1-tx/charge_back", func(w http.ResponseWriter, r *http.Request) {
		f.refunds.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"id": "g1-tx", "status": "charged_back"})
	})
	mux.HandleFunc("/g2/transacoes", func(w http.ResponseWriter, r *http.Request) {
		reply, _ := f.gateway2Reply.Load().(map[string]any)
		if reply == nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"erros": "cartao recusado"})
			return
		}
		json.NewEncoder(w).Encode(reply)
	})
	mux.HandleFunc("/g2/transacoes/reembolso", func(w http.ResponseWriter, r *http.Request) {
		f.refunds.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"id": "g2-tx", "status": "refunded"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func testConfig(baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Cache.Backend = "none"
	cfg.Gateways.Seed = []config.GatewaySeed{
		{ID: 1, Type: "gateway1", Name: "Gateway 1", Active: true, Priority: 1,
			Credentials: map[string]string{"email": "dev@betalent.tech", "token": "secret", "base_url": baseURL + "/g1"}},
		{ID: 2, Type: "gateway2", Name: "Gateway 2", Active: true, Priority: 2,
			Credentials: map[string]string{"auth_token": "tk", "auth_secret": "sc", "base_url": baseURL + "/g2"}},
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	logger, err := logging.New("error", "json", io.Discard)
	require.NoError(t, err)
	a, err := newApp(stdcontext.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func setupTestRouter(t *testing.T) (*gin.Engine, *fakeProviders) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fake, srv := newFakeProviders(t)
	return setupRouter(newTestApp(t, testConfig(srv.URL))), fake
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err, "Failed to create request")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func purchasePayload() map[string]any {
	return map[string]any{
		"amount":       1000,
		"client_name":  "Tester",
		"client_email": "tester@email.com",
		"card_number":  "5569000000006063",
		"card_cvv":     "010",
	}
}

func TestPurchase_FailsOverAndRecordsTransaction(t *testing.T) {
	router, fake := setupTestRouter(t)
	fake.gateway1Down.Store(true)

	w := do(t, router, http.MethodPost, "/purchase", purchasePayload())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(traceHeader))

	body := decode(t, w)
	assert.EqualValues(t, 2, body["gateway_id"])
	assert.Len(t, body["errors"], 1)
	tx := body["transaction"].(map[string]any)
	assert.Equal(t, "COMPLETED", tx["status"])
	assert.Equal(t, "g2-tx", tx["external_id"])
	assert.Equal(t, "6063", tx["card_last_numbers"])
	assert.NotContains(t, w.Body.String(), "5569000000006063")

	w = do(t, router, http.MethodGet, "/transactions/"+tx["id"].(string), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/transactions?status=COMPLETED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestPurchase_InvalidBody(t *testing.T) {
	router, _ := setupTestRouter(t)

	payload := purchasePayload()
	payload["card_cvv"] = "12"
	w := do(t, router, http.MethodPost, "/purchase", payload)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "card_cvv")
	assert.NotContains(t, w.Body.String(), "5569000000006063")

	req, _ := http.NewRequest(http.MethodPost, "/purchase", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurchase_AllGatewaysDecline(t *testing.T) {
	router, fake := setupTestRouter(t)
	fake.gateway1Down.Store(true)
	fake.gateway2Reply.Store(map[string]any(nil))

	w := do(t, router, http.MethodPost, "/purchase", purchasePayload())
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	errs := decode(t, w)["errors"].([]any)
	require.Len(t, errs, 2)
	assert.True(t, strings.HasPrefix(errs[0].(string), "Gateway 1: "))
	assert.Equal(t, `Gateway 2: {"erros":"cartao recusado"}`, errs[1])

	w = do(t, router, http.MethodGet, "/transactions", nil)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestRefund(t *testing.T) {
	router, fake := setupTestRouter(t)

	w := do(t, router, http.MethodPost, "/purchase", purchasePayload())
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["transaction"].(map[string]any)["id"].(string)

	w = do(t, router, http.MethodPost, "/transactions/"+id+"/refund", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "REFUNDED", decode(t, w)["transaction"].(map[string]any)["status"])
	assert.Equal(t, int32(1), fake.refunds.Load())

	w = do(t, router, http.MethodPost, "/transactions/"+id+"/refund", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, int32(1), fake.refunds.Load())

	w = do(t, router, http.MethodPost, "/transactions/missing/refund", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGatewayAdmin(t *testing.T) {
	router, fake := setupTestRouter(t)

	w := do(t, router, http.MethodGet, "/gateways", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret", "credentials are never listed")

	w = do(t, router, http.MethodPatch, "/gateways/1/priority", map[string]any{"priority": 3})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w)["priority"])

	// Gateway 2 now routes first.
	w = do(t, router, http.MethodPost, "/purchase", purchasePayload())
	require.Equal(t, http.StatusCreated, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["gateway_id"])

	w = do(t, router, http.MethodPatch, "/gateways/2/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["is_active"])

	fake.gateway1Down.Store(false)
	w = do(t, router, http.MethodPost, "/purchase", purchasePayload())
	require.Equal(t, http.StatusCreated, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["gateway_id"])

	w = do(t, router, http.MethodPost, "/gateways", map[string]any{"type": "gateway9", "name": "Unknown"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, router, http.MethodPost, "/gateways", map[string]any{
		"type": "gateway2", "name": "Gateway 2b", "priority": 5,
		"credentials": map[string]string{"auth_token": "a", "auth_secret": "b"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode(t, w)
	assert.Equal(t, true, created["is_active"])

	path := "/gateways/" + jsonNumber(created["id"])
	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/gateways/abc", nil).Code)
}

func jsonNumber(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestHealthAndMetrics(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := do(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	gateways := body["components"].(map[string]any)["gateways"].(map[string]any)
	assert.EqualValues(t, 2, gateways["active"])

	do(t, router, http.MethodPost, "/purchase", purchasePayload())
	w = do(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `multigateway_payments_total{status="COMPLETED"} 1`)
}

func TestReports(t *testing.T) {
	router, _ := setupTestRouter(t)
	do(t, router, http.MethodPost, "/purchase", purchasePayload())

	w := do(t, router, http.MethodGet, "/reports/retrospective", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1000, decode(t, w)["TotalAmountCaptured"])
}

func TestGatewaysCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  backend: none
log:
  level: error
gateways:
  seed:
    - {id: 1, type: gateway1, name: Gateway 1, active: true, priority: 2}
    - {id: 2, type: gateway2, name: Gateway 2, active: false, priority: 1}
`), 0o644))

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"gateways", "--config", path})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "2 "), "lowest priority value lists first: %q", lines[1])
	assert.Contains(t, lines[2], "Gateway 1")
}
