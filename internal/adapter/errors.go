package adapter

import (
	"errors"
	"fmt"

	"github.com/yourorg/multigateway/internal/events"
)

var (
	// ErrNetwork covers timeouts, refused connections and non-2xx answers without a usable body.
	ErrNetwork = errors.New("network error")
	// ErrAuth means the provider requires authentication that is missing or was rejected.
	ErrAuth = errors.New("authentication error")
	// ErrConfiguration marks a gateway that cannot be built from its configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidRequest marks a PaymentRequest that violates its invariants.
	ErrInvalidRequest = errors.New("invalid payment request")
	// ErrRejected is returned when a provider answers a refund with a non-2xx status.
	ErrRejected = errors.New("rejected by provider")
)

// StatusError describes a non-2xx provider answer.
type StatusError struct {
	Status int
	Body   string
	kind   error
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%v: HTTP %d", e.kind, e.Status)
	}
	return fmt.Sprintf("%v: HTTP %d: %s", e.kind, e.Status, e.Body)
}

// Unwrap exposes the taxonomy sentinel (ErrNetwork, ErrAuth or ErrRejected).
func (e *StatusError) Unwrap() error {
	return e.kind
}

// newStatusError keeps at most 512 bytes of the redacted body.
func newStatusError(kind error, status int, body []byte) *StatusError {
	const maxBody = 512
	b := events.RedactText(string(body))
	if len(b) > maxBody {
		b = b[:maxBody]
	}
	return &StatusError{Status: status, Body: b, kind: kind}
}

// RejectedResponse converts a non-2xx refund answer into an error.
func RejectedResponse(resp ProviderResponse) error {
	return newStatusError(ErrRejected, resp.HTTPStatus, []byte(resp.String()))
}
