// Package adapter defines the uniform contract for payment gateway adapters
// and contains implementations for specific providers.
// Adapters own everything provider-specific: field names, authentication scheme,
// endpoints and error mapping. They hand back the provider's raw response;
// deciding whether a response counts as a successful charge is the router's job.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	gwcontext "github.com/yourorg/multigateway/internal/context"
	"github.com/yourorg/multigateway/internal/events"
)

// ProviderResponse is the raw structure a provider returned for one call.
type ProviderResponse struct {
	Body       map[string]any // Decoded JSON object (nil when the body was not an object)
	Raw        []byte         // Raw response body, kept for diagnostics
	HTTPStatus int            // HTTP status code of the provider's response
}

// ExternalID returns the provider transaction id carried in an `id` or `transactionId` field.
// Absence of both (or an empty value) means the response is not a successful charge.
func (p ProviderResponse) ExternalID() (string, bool) {
	for _, key := range []string{"id", "transactionId"} {
		v, ok := p.Body[key]
		if !ok || v == nil {
			continue
		}
		var id string
		switch t := v.(type) {
		case string:
			id = t
		case float64:
			id = strconv.FormatFloat(t, 'f', -1, 64)
		case json.Number:
			id = t.String()
		default:
			id = fmt.Sprint(t)
		}
		if id != "" {
			return id, true
		}
	}
	return "", false
}

// OK reports whether the provider answered with a 2xx status.
func (p ProviderResponse) OK() bool {
	return p.HTTPStatus >= http.StatusOK && p.HTTPStatus < http.StatusMultipleChoices
}

// String renders the response as compact JSON for error entries and logs.
// Card numbers are masked to their last four digits and CVVs replaced.
func (p ProviderResponse) String() string {
	if p.Body != nil {
		if b, err := json.Marshal(events.Redact(p.Body)); err == nil {
			return string(b)
		}
	}
	return events.RedactText(string(p.Raw))
}

// GatewayClient is the interface implemented by each payment gateway adapter.
// Implementations must be safe for concurrent use: a registry may share one
// instance between many in-flight requests.
type GatewayClient interface {
	// Pay submits a charge to the provider's payment endpoint.
	Pay(ctx context.Context, req PaymentRequest) (ProviderResponse, error)

	// Refund reverses a previous charge identified by the provider's transaction id.
	Refund(ctx context.Context, externalTransactionID string) (ProviderResponse, error)

	// ListTransactions lists the provider's transactions. Used for reconciliation only.
	ListTransactions(ctx context.Context) ([]ProviderResponse, error)

	// GetName returns the gateway type served by the adapter (e.g., "gateway1").
	GetName() string
}

// Options carries shared infrastructure handed to adapter constructors.
type Options struct {
	HTTPClient *http.Client
	BaseURL    string // Default base URL for the gateway type; credentials may override it
}

// Constructor builds an adapter for one gateway configuration. Constructors may perform
// eager network work (e.g. authentication) and must honour ctx.
type Constructor func(ctx context.Context, cfg gwcontext.GatewayConfig, opts Options) (GatewayClient, error)

// CredentialBaseURL is the credentials key that overrides Options.BaseURL.
const CredentialBaseURL = "base_url"

// ResolveBaseURL picks the base URL for cfg, preferring the per-gateway credential.
func ResolveBaseURL(cfg gwcontext.GatewayConfig, opts Options) (string, error) {
	if u := cfg.Credentials.Get(CredentialBaseURL); u != "" {
		return u, nil
	}
	if opts.BaseURL != "" {
		return opts.BaseURL, nil
	}
	return "", fmt.Errorf("%w: gateway %d has no base url", ErrConfiguration, cfg.ID)
}
