package gate

import (
	"context"

	"github.com/tjfontaine/x402-gate/internal/x402"
)

// Payment is the verified payment attached to a request after the
// verification stage accepts its credential. Handlers and settlement-time
// extensions may read it; it is never shared across requests.
type Payment struct {
	Payload      *x402.PaymentPayload
	Requirements *x402.PaymentRequirements
	Extensions   map[string]any
}

// Payer returns the paying address, or "" when the payload is absent.
func (p *Payment) Payer() string {
	if p == nil || p.Payload == nil {
		return ""
	}
	return p.Payload.Payload.Authorization.From
}

// paymentKey identifies the request-scoped verified payment.
type paymentKey struct{}

// withPayment attaches the verified payment to the request context so the
// protected handler can read it. The gate itself carries the payment through
// the request lifecycle in a local variable, so stacked gates never observe
// each other's value here.
func withPayment(ctx context.Context, p *Payment) context.Context {
	return context.WithValue(ctx, paymentKey{}, p)
}

// PaymentFrom returns the verified payment for the current request, if any.
// It reports false on unprotected routes and on requests admitted by an
// access hook without payment.
func PaymentFrom(ctx context.Context) (*Payment, bool) {
	p, ok := ctx.Value(paymentKey{}).(*Payment)
	return p, ok && p != nil
}
