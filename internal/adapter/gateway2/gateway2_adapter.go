package gateway2

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/yourorg/multigateway/internal/adapter"
	gwcontext "github.com/yourorg/multigateway/internal/context"
)

const (
	// Name is the gateway type served by this adapter.
	Name = string(gwcontext.GatewayTypeTwo)

	CredentialAuthToken  = "auth_token"
	CredentialAuthSecret = "auth_secret"

	headerAuthToken  = "Gateway-Auth-Token"
	headerAuthSecret = "Gateway-Auth-Secret"
)

// Adapter talks to providers authenticated by a static token/secret header pair.
type Adapter struct {
	httpClient *http.Client
	apiBaseURL string
	authToken  string
	authSecret string
}

// New builds the adapter. It matches adapter.Constructor and performs no network work.
func New(_ context.Context, cfg gwcontext.GatewayConfig, opts adapter.Options) (adapter.GatewayClient, error) {
	return NewAdapter(cfg, opts)
}

// NewAdapter validates the credentials and returns a ready adapter.
func NewAdapter(cfg gwcontext.GatewayConfig, opts adapter.Options) (*Adapter, error) {
	if err := cfg.Credentials.Require(CredentialAuthToken, CredentialAuthSecret); err != nil {
		return nil, fmt.Errorf("%w: gateway %d: %w", adapter.ErrConfiguration, cfg.ID, err)
	}
	baseURL, err := adapter.ResolveBaseURL(cfg, opts)
	if err != nil {
		return nil, err
	}
	client := opts.HTTPClient
	if client == nil {
		client = adapter.DefaultHTTPClient()
	}
	return &Adapter{
		httpClient: client,
		apiBaseURL: strings.TrimRight(baseURL, "/"),
		authToken:  cfg.Credentials.Get(CredentialAuthToken),
		authSecret: cfg.Credentials.Get(CredentialAuthSecret),
	}, nil
}

// GetName returns the name of the provider.
func (a *Adapter) GetName() string {
	return Name
}

// chargePayload uses the provider's Portuguese field names.
type chargePayload struct {
	Valor        int64  `json:"valor"`
	Nome         string `json:"nome"`
	Email        string `json:"email"`
	NumeroCartao string `json:"numeroCartao"`
	CVV          string `json:"cvv"`
}

type refundPayload struct {
	ID string `json:"id"`
}

func (a *Adapter) headers() http.Header {
	h := http.Header{}
	h.Set(headerAuthToken, a.authToken)
	h.Set(headerAuthSecret, a.authSecret)
	return h
}

// Pay submits a charge to /transacoes.
func (a *Adapter) Pay(ctx context.Context, req adapter.PaymentRequest) (adapter.ProviderResponse, error) {
	payload := chargePayload{
		Valor:        req.AmountMinorUnits,
		Nome:         req.PayerName,
		Email:        req.PayerEmail,
		NumeroCartao: req.CardNumber,
		CVV:          req.CardCVV,
	}
	return adapter.DoJSON(ctx, a.httpClient, http.MethodPost, a.apiBaseURL+"/transacoes", payload, a.headers())
}

// Refund posts the transaction id to /transacoes/reembolso. Headers are static, so a 401 is final.
func (a *Adapter) Refund(ctx context.Context, externalTransactionID string) (adapter.ProviderResponse, error) {
	if externalTransactionID == "" {
		return adapter.ProviderResponse{}, fmt.Errorf("%w: empty transaction id", adapter.ErrInvalidRequest)
	}
	resp, err := adapter.DoJSON(ctx, a.httpClient, http.MethodPost, a.apiBaseURL+"/transacoes/reembolso",
		refundPayload{ID: externalTransactionID}, a.headers())
	if err != nil {
		return resp, err
	}
	if !resp.OK() {
		return resp, adapter.RejectedResponse(resp)
	}
	return resp, nil
}

// ListTransactions returns the provider's transaction listing.
func (a *Adapter) ListTransactions(ctx context.Context) ([]adapter.ProviderResponse, error) {
	resp, err := adapter.DoJSON(ctx, a.httpClient, http.MethodGet, a.apiBaseURL+"/transacoes", nil, a.headers())
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, adapter.RejectedResponse(resp)
	}
	return adapter.DecodeList(resp)
}

var _ adapter.GatewayClient = (*Adapter)(nil)
