package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/multigateway/internal/context"
)

var (
	// ErrAlreadyRefunded rejects a refund of a transaction whose status is already REFUNDED.
	ErrAlreadyRefunded = errors.New("transaction already refunded")
	// ErrNotRefundable rejects a refund of a transaction that never completed.
	ErrNotRefundable = errors.New("transaction is not refundable")
	// ErrRefundDenied is returned when a configured rule denies the refund.
	ErrRefundDenied = errors.New("refund denied by policy")
)

// RefundRule denies a refund when Expression evaluates to true.
//
// Expressions see the parameters status, amount (minor units), gateway_id and
// age_hours (time since the transaction was created).
type RefundRule struct {
	ID         string `mapstructure:"id"`
	Expression string `mapstructure:"expression"`
	Reason     string `mapstructure:"reason"`
}

type compiledRule struct {
	RefundRule
	expr *govaluate.EvaluableExpression
}

// RefundPolicy decides whether a stored transaction may be refunded. The built-in
// status checks run first and need no rules.
type RefundPolicy struct {
	rules []compiledRule
}

// NewRefundPolicy compiles rules. Rules are evaluated in the given order and the first
// match wins.
func NewRefundPolicy(rules []RefundRule) (*RefundPolicy, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		if strings.TrimSpace(rule.Expression) == "" {
			return nil, fmt.Errorf("policy rule ID '%s' has an empty expression", rule.ID)
		}
		expr, err := govaluate.NewEvaluableExpression(rule.Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule ID '%s': %w", rule.ID, err)
		}
		compiled = append(compiled, compiledRule{RefundRule: rule, expr: expr})
	}
	return &RefundPolicy{rules: compiled}, nil
}

// Rules returns the number of configured rules.
func (p *RefundPolicy) Rules() int { return len(p.rules) }

// Evaluate returns nil when tx may be refunded at now.
func (p *RefundPolicy) Evaluate(tx context.Transaction, now time.Time) error {
	switch tx.Status {
	case context.TransactionRefunded:
		return fmt.Errorf("%w: %s", ErrAlreadyRefunded, tx.ID)
	case context.TransactionCompleted:
	default:
		return fmt.Errorf("%w: %s has status %s", ErrNotRefundable, tx.ID, tx.Status)
	}

	params := map[string]interface{}{
		"status":     string(tx.Status),
		"amount":     float64(tx.AmountMinorUnits),
		"gateway_id": float64(tx.GatewayID),
		"age_hours":  now.Sub(tx.CreatedAt).Hours(),
	}
	for _, rule := range p.rules {
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			return fmt.Errorf("failed to evaluate rule ID '%s': %w", rule.ID, err)
		}
		matched, ok := result.(bool)
		if !ok {
			return fmt.Errorf("rule ID '%s' did not evaluate to a boolean", rule.ID)
		}
		if matched {
			reason := rule.Reason
			if reason == "" {
				reason = rule.ID
			}
			return fmt.Errorf("%w: %s", ErrRefundDenied, reason)
		}
	}
	return nil
}
