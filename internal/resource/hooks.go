package resource

import (
	"context"

	"github.com/tjfontaine/x402-gate/internal/gate"
)

// HookResult is an access hook's decision about a protected request before
// verification runs. The zero value means "continue to verification".
type HookResult struct {
	// Grant admits the request without payment. Settlement is skipped.
	Grant bool

	// Abort rejects the request before verification, with Reason shown to
	// the client.
	Abort  bool
	Reason string
}

// AccessHook runs before verification on every protected request. A hook
// error is treated as "continue": hooks can only short-circuit deliberately,
// never by accident.
type AccessHook func(ctx context.Context, rc *gate.RequestContext) (*HookResult, error)

// AllowPayers grants payment-free access to requests carrying a credential
// whose payer address is in the allowlist. The credential is still present in
// the header but is neither verified nor settled.
func AllowPayers(payers ...string) AccessHook {
	allowed := make(map[string]bool, len(payers))
	for _, p := range payers {
		allowed[p] = true
	}
	return func(ctx context.Context, rc *gate.RequestContext) (*HookResult, error) {
		if rc.PaymentHeader == "" {
			return nil, nil
		}
		payload, err := decodeCredential(rc.PaymentHeader)
		if err != nil {
			return nil, nil
		}
		if allowed[payload.Payload.Authorization.From] {
			return &HookResult{Grant: true}, nil
		}
		return nil, nil
	}
}
