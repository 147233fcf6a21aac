// Package extensions provides the optional-feature registry for the payment
// gateway. Extensions are probed and registered at runtime; a missing or
// failed extension degrades the gateway gracefully instead of breaking it.
package extensions

import (
	"context"

	"github.com/go-chi/chi/v5"
)

// Extension is an optional gateway feature registered at runtime. The name is
// how route declarations and settlement payloads refer to it.
type Extension interface {
	Name() string
}

// HTTPExtension is an Extension that exposes its own HTTP surface. The server
// mounts it on the public router after registration.
type HTTPExtension interface {
	Extension
	Mount(r chi.Router)
}

// SettlementObserver is an Extension notified after each successfully settled
// payment. Observer errors are logged by the caller and never fail the
// request; the client already holds a confirmed settlement at that point.
type SettlementObserver interface {
	Extension
	OnSettled(ctx context.Context, s *Settlement) error
}

// Settlement describes one finalized payment as seen by observers.
type Settlement struct {
	// Resource is the protected path that was purchased.
	Resource string

	// Method is the HTTP method of the purchase.
	Method string

	Payer       string
	Amount      string
	Asset       string
	Network     string
	Transaction string

	// ResponseSize is the length in bytes of the response the payment bought.
	ResponseSize int
}
