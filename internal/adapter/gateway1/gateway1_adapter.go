package gateway1

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/yourorg/multigateway/internal/adapter"
	gwcontext "github.com/yourorg/multigateway/internal/context"
)

const (
	// Name is the gateway type served by this adapter.
	Name = string(gwcontext.GatewayTypeOne)

	CredentialEmail = "email"
	CredentialToken = "token"
)

// Adapter talks to providers that exchange an email+token pair for a bearer token.
type Adapter struct {
	httpClient *http.Client
	apiBaseURL string
	email      string
	token      string
	logger     *slog.Logger

	mu          sync.RWMutex
	bearerToken string
}

// New builds the adapter and authenticates eagerly. It matches adapter.Constructor.
func New(ctx context.Context, cfg gwcontext.GatewayConfig, opts adapter.Options) (adapter.GatewayClient, error) {
	a, err := NewAdapter(cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := a.authenticate(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// NewAdapter builds the adapter without authenticating. The first call logs in lazily.
func NewAdapter(cfg gwcontext.GatewayConfig, opts adapter.Options) (*Adapter, error) {
	if err := cfg.Credentials.Require(CredentialEmail, CredentialToken); err != nil {
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
		email:      cfg.Credentials.Get(CredentialEmail),
		token:      cfg.Credentials.Get(CredentialToken),
		logger:     slog.Default().With("gateway_type", Name, "gateway_id", cfg.ID),
	}, nil
}

// GetName returns the name of the provider.
func (a *Adapter) GetName() string {
	return Name
}

type loginPayload struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

type chargePayload struct {
	Amount     int64  `json:"amount"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	CardNumber string `json:"cardNumber"`
	CVV        string `json:"cvv"`
}

func (a *Adapter) authenticate(ctx context.Context) error {
	resp, err := adapter.DoJSON(ctx, a.httpClient, http.MethodPost, a.apiBaseURL+"/login",
		loginPayload{Email: a.email, Token: a.token}, nil)
	if err != nil {
		if errors.Is(err, adapter.ErrAuth) {
			return fmt.Errorf("gateway1: login rejected: %w", err)
		}
		return fmt.Errorf("gateway1: login failed: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("%w: gateway1: login answered HTTP %d", adapter.ErrAuth, resp.HTTPStatus)
	}
	token, _ := resp.Body["token"].(string)
	if token == "" {
		return fmt.Errorf("%w: gateway1: login response carries no token", adapter.ErrAuth)
	}

	a.mu.Lock()
	a.bearerToken = token
	a.mu.Unlock()
	return nil
}

func (a *Adapter) currentToken(ctx context.Context) (string, error) {
	a.mu.RLock()
	token := a.bearerToken
	a.mu.RUnlock()
	if token != "" {
		return token, nil
	}
	if err := a.authenticate(ctx); err != nil {
		return "", err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bearerToken, nil
}

// clearToken drops the cached token unless another request already replaced it.
func (a *Adapter) clearToken(stale string) {
	a.mu.Lock()
	if a.bearerToken == stale {
		a.bearerToken = ""
	}
	a.mu.Unlock()
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

// Pay submits a charge. A 401 invalidates the token but is not retried.
func (a *Adapter) Pay(ctx context.Context, req adapter.PaymentRequest) (adapter.ProviderResponse, error) {
	token, err := a.currentToken(ctx)
	if err != nil {
		return adapter.ProviderResponse{}, err
	}
	payload := chargePayload{
		Amount:     req.AmountMinorUnits,
		Name:       req.PayerName,
		Email:      req.PayerEmail,
		CardNumber: req.CardNumber,
		CVV:        req.CardCVV,
	}
	resp, err := adapter.DoJSON(ctx, a.httpClient, http.MethodPost, a.apiBaseURL+"/transactions", payload, bearer(token))
	if errors.Is(err, adapter.ErrAuth) {
		a.clearToken(token)
	}
	return resp, err
}

// Refund charges back a transaction. On a 401 the adapter logs in again and retries exactly once.
func (a *Adapter) Refund(ctx context.Context, externalTransactionID string) (adapter.ProviderResponse, error) {
	if externalTransactionID == "" {
		return adapter.ProviderResponse{}, fmt.Errorf("%w: empty transaction id", adapter.ErrInvalidRequest)
	}
	endpoint := a.apiBaseURL + "/transactions/" + url.PathEscape(externalTransactionID) + "/charge_back"

	token, err := a.currentToken(ctx)
	if err != nil {
		return adapter.ProviderResponse{}, err
	}
	resp, err := adapter.DoJSON(ctx, a.httpClient, http.MethodPost, endpoint, nil, bearer(token))
	if errors.Is(err, adapter.ErrAuth) {
		a.logger.Info("Token expired, re-authenticating before retrying refund")
		a.clearToken(token)
		if authErr := a.authenticate(ctx); authErr != nil {
			return adapter.ProviderResponse{}, authErr
		}
		token, err = a.currentToken(ctx)
		if err != nil {
			return adapter.ProviderResponse{}, err
		}
		resp, err = adapter.DoJSON(ctx, a.httpClient, http.MethodPost, endpoint, nil, bearer(token))
	}
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
	token, err := a.currentToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := adapter.DoJSON(ctx, a.httpClient, http.MethodGet, a.apiBaseURL+"/transactions", nil, bearer(token))
	if errors.Is(err, adapter.ErrAuth) {
		a.clearToken(token)
	}
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, adapter.RejectedResponse(resp)
	}
	return adapter.DecodeList(resp)
}

var _ adapter.GatewayClient = (*Adapter)(nil)
