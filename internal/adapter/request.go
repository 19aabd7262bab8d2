package adapter

import (
	"fmt"

	"github.com/yourorg/multigateway/internal/events"
)

// PaymentRequest is the validated input of a single charge. It is never persisted;
// card data leaves this struct only through the adapters' wire payloads.
type PaymentRequest struct {
	AmountMinorUnits int64  // Smallest currency unit, e.g. cents
	PayerName        string
	PayerEmail       string
	CardNumber       string // Exactly 16 digits
	CardCVV          string // Exactly 3 digits
}

// Validate checks the structural invariants of the request.
func (r PaymentRequest) Validate() error {
	if r.AmountMinorUnits < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidRequest)
	}
	if !allDigits(r.CardNumber, 16) {
		return fmt.Errorf("%w: card number must be exactly 16 digits", ErrInvalidRequest)
	}
	if !allDigits(r.CardCVV, 3) {
		return fmt.Errorf("%w: card cvv must be exactly 3 digits", ErrInvalidRequest)
	}
	return nil
}

// CardLastFour returns the last four digits of the card number.
func (r PaymentRequest) CardLastFour() string {
	if len(r.CardNumber) < 4 {
		return ""
	}
	return r.CardNumber[len(r.CardNumber)-4:]
}

// Redacted returns a loggable view of the request: masked card tail and no CVV.
func (r PaymentRequest) Redacted() map[string]any {
	return map[string]any{
		"amount":      r.AmountMinorUnits,
		"name":        r.PayerName,
		"email":       r.PayerEmail,
		"card_number": events.MaskCard(r.CardNumber),
		"cvv":         "***",
	}
}

// String never prints card data.
func (r PaymentRequest) String() string {
	return fmt.Sprintf("PaymentRequest{amount=%d email=%s card=%s}", r.AmountMinorUnits, r.PayerEmail, events.MaskCard(r.CardNumber))
}

func allDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
