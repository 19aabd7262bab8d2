package events

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Field names under which providers carry card data, compared case-insensitively.
var (
	cardFields = map[string]bool{"cardnumber": true, "card_number": true, "numerocartao": true, "number": true}
	cvvFields  = map[string]bool{"cvv": true, "card_cvv": true, "cvc": true}
)

// MaskCard keeps only the last four digits.
func MaskCard(number string) string {
	if len(number) <= 4 {
		return strings.Repeat("*", len(number))
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}

// Redact returns a deep copy of payload with card numbers masked and CVVs removed.
func Redact(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		lk := strings.ToLower(k)
		switch {
		case cvvFields[lk]:
			out[k] = "***"
		case cardFields[lk]:
			if s, ok := v.(string); ok {
				out[k] = MaskCard(s)
			} else {
				out[k] = "***"
			}
		default:
			out[k] = redactValue(v)
		}
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Redact(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = redactValue(e)
		}
		return cp
	default:
		return v
	}
}

// panPattern matches digit runs as long as a card number.
var panPattern = regexp.MustCompile(`\d{13,19}`)

// RedactText masks card data inside free-form provider text. A JSON object is
// redacted field by field; anything else has every card-length digit run masked.
func RedactText(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") {
		dec := json.NewDecoder(strings.NewReader(trimmed))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err == nil {
			if b, err := json.Marshal(Redact(m)); err == nil {
				return string(b)
			}
		}
	}
	return panPattern.ReplaceAllStringFunc(s, MaskCard)
}
