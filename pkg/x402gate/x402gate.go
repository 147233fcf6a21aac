// Package x402gate is the public API for embedding the payment gate in an
// existing net/http or chi application. This is the stable surface for
// external consumers; the wiring lives under internal.
package x402gate

import (
	"github.com/tjfontaine/x402-gate/internal/gate"
)

// Gate is the pay-per-request middleware. Wrap protected handlers with
// Gate.Handler; unprotected routes pass through untouched.
// See internal/gate for full documentation.
type Gate = gate.Gate

// Option configures a Gate.
type Option = gate.Option

// ResourceServer is the authority the gate consults for route
// classification, verification and settlement.
type ResourceServer = gate.ResourceServer

// RequestContext is the per-request snapshot handed to the resource server.
type RequestContext = gate.RequestContext

// Outcome is the three-way verification result.
type Outcome = gate.Outcome

// Verification outcome kinds.
const (
	OutcomeNoPaymentRequired = gate.OutcomeNoPaymentRequired
	OutcomePaymentError      = gate.OutcomePaymentError
	OutcomePaymentVerified   = gate.OutcomePaymentVerified
)

// SettleResult is the settlement stage's view of a settle call.
type SettleResult = gate.SettleResult

// TransportContext carries the request and serialized response body into the
// settle call.
type TransportContext = gate.TransportContext

// Payment is the verified payment attached to a request.
type Payment = gate.Payment

// New creates a Gate around a resource server.
// Example:
//
//	g, err := x402gate.New(resourceServer, x402gate.WithLogger(logger))
//	mux.Use(g.Handler)
var New = gate.New

// Options.
var (
	WithLogger          = gate.WithLogger
	WithExtensionLoader = gate.WithExtensionLoader
)

// PaymentFrom returns the verified payment for the current request, if any.
// Handlers use it to read who paid for the in-flight request.
var PaymentFrom = gate.PaymentFrom
