package context

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrMissingCredential is returned when a gateway configuration lacks a required credential.
var ErrMissingCredential = errors.New("missing gateway credential")

// GatewayType discriminates which adapter implementation serves a gateway.
type GatewayType string

// Known gateway types. The set is extensible through the registry's constructor table.
const (
	GatewayTypeOne GatewayType = "gateway1"
	GatewayTypeTwo GatewayType = "gateway2"
)

// Credentials is an opaque key-value mapping interpreted by the adapter for its gateway type.
type Credentials map[string]string

// Get returns the credential stored under key, or "".
func (c Credentials) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// Require reports the first missing (or empty) key.
func (c Credentials) Require(keys ...string) error {
	for _, k := range keys {
		if c.Get(k) == "" {
			return fmt.Errorf("%w: %q", ErrMissingCredential, k)
		}
	}
	return nil
}

// Clone returns an independent copy.
func (c Credentials) Clone() Credentials {
	if c == nil {
		return nil
	}
	out := make(Credentials, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// GatewayConfig holds the persisted configuration of one payment gateway.
// Routers only read it; the admin write path owns mutations.
type GatewayConfig struct {
	ID          int64       `json:"id" mapstructure:"id"`
	Type        GatewayType `json:"type" mapstructure:"type"`
	Name        string      `json:"name" mapstructure:"name"`
	IsActive    bool        `json:"is_active" mapstructure:"is_active"`
	Priority    int         `json:"priority" mapstructure:"priority"`
	Credentials Credentials `json:"credentials,omitempty" mapstructure:"credentials"`
	UpdatedAt   time.Time   `json:"updated_at" mapstructure:"-"`
}

// Fingerprint identifies the adapter-relevant part of a configuration. Adapters built from a
// different fingerprint are discarded; priority and activation changes keep the adapter.
func (g GatewayConfig) Fingerprint() string {
	keys := make([]string, 0, len(g.Credentials))
	for k := range g.Credentials {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fp := fmt.Sprintf("%d|%s", g.ID, g.Type)
	for _, k := range keys {
		fp += "|" + k + "=" + g.Credentials[k]
	}
	return fp
}

// Less orders gateways by (priority, id) ascending.
func (g GatewayConfig) Less(other GatewayConfig) bool {
	if g.Priority != other.Priority {
		return g.Priority < other.Priority
	}
	return g.ID < other.ID
}

// SortByPriority sorts configs in routing order: priority ascending, ties broken by id ascending.
func SortByPriority(configs []GatewayConfig) {
	sort.SliceStable(configs, func(i, j int) bool {
		return configs[i].Less(configs[j])
	})
}

// TransactionStatus is the lifecycle state of a locally recorded transaction.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
	TransactionRefunded  TransactionStatus = "REFUNDED"
)

// Transaction is the local record of a routed payment. Card data is limited to the last four digits.
type Transaction struct {
	ID               string            `json:"id"`
	GatewayID        int64             `json:"gateway_id"`
	ExternalID       string            `json:"external_id"`
	Status           TransactionStatus `json:"status"`
	AmountMinorUnits int64             `json:"amount"`
	CardLastNumbers  string            `json:"card_last_numbers"`
	PayerName        string            `json:"payer_name"`
	PayerEmail       string            `json:"payer_email"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}
