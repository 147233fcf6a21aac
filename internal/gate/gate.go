// Package gate implements the request-lifecycle payment state machine: the
// sequence of decisions that take an HTTP request from unknown through
// verification, conditional handler execution and conditional settlement,
// without ever leaking a protected response body when payment cannot be
// finalized.
//
// The gate owns the lifecycle policy only. Route classification, credential
// verification and settlement are delegated to a ResourceServer, which in
// turn talks to an x402 facilitator.
package gate

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/x402-gate/internal/x402"
)

// ResourceServer is the external authority the gate consults. Implementations
// are shared read-mostly across all requests and must be safe for concurrent
// use.
type ResourceServer interface {
	// RequiresPayment reports whether the request's route is protected.
	// It must be synchronous and O(1); unprotected routes ride on it as a
	// fast path.
	RequiresPayment(rc *RequestContext) bool

	// Initialize performs the one-time facilitator capability sync. The gate
	// starts it eagerly at construction and awaits it before the first
	// verification.
	Initialize(ctx context.Context) error

	// Verify checks the request's credential against the route's payment
	// requirements and produces the three-way outcome.
	Verify(ctx context.Context, rc *RequestContext) (*Outcome, error)

	// Settle finalizes a verified payment after the protected handler has
	// produced a successful response.
	Settle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements, extensions map[string]any, transport *TransportContext) (*SettleResult, error)
}

// ExtensionLoader loads an optional feature extension during startup.
// Needed is consulted once at gate construction; Load runs in the background
// and its failure is logged, never propagated.
type ExtensionLoader interface {
	Name() string
	Needed() bool
	Load(ctx context.Context) error
}

// Gate is the payment middleware. Each Gate is fully independent: two gates
// stacked on one router share no state and never suppress each other, so a
// permissive gate registered first cannot shadow a stricter one registered
// second.
type Gate struct {
	resource  ResourceServer
	logger    *slog.Logger
	extLoader ExtensionLoader

	init    *initializer
	extInit *initializer
}

// Option configures a Gate.
type Option func(*Gate) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) error {
		g.logger = logger
		return nil
	}
}

// WithExtensionLoader registers an optional extension loader. The gate loads
// the extension in the background when the loader reports it is needed.
func WithExtensionLoader(loader ExtensionLoader) Option {
	return func(g *Gate) error {
		g.extLoader = loader
		return nil
	}
}

// New creates a Gate around a resource server and eagerly starts its
// initialization work. The first protected request blocks until the
// capability sync completes; unprotected requests never wait.
func New(resource ResourceServer, opts ...Option) (*Gate, error) {
	g := &Gate{
		resource: resource,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}

	g.init = newInitializer(func(ctx context.Context) error {
		if err := g.resource.Initialize(ctx); err != nil {
			g.logger.Warn("facilitator capability sync failed",
				slog.String("error", err.Error()))
			return err
		}
		return nil
	})

	if g.extLoader != nil && g.extLoader.Needed() {
		name := g.extLoader.Name()
		g.extInit = newInitializer(func(ctx context.Context) error {
			if err := g.extLoader.Load(ctx); err != nil {
				g.logger.Warn("extension load failed",
					slog.String("extension", name),
					slog.String("error", err.Error()))
				return err
			}
			g.logger.Info("extension loaded", slog.String("extension", name))
			return nil
		})
	}

	return g, nil
}

// Ready blocks until the facilitator capability sync completes. It is
// idempotent across any number of concurrent callers; all of them await the
// same underlying completion, and once resolved it returns immediately.
func (g *Gate) Ready(ctx context.Context) error {
	return g.init.ready(ctx)
}

// Handler wraps next with the payment gate.
//
// Per request: select the payment header, classify the route, verify if
// protected, run the handler against a buffering writer, then settle and
// release (or discard) the buffered response. Unprotected requests pass
// straight through to next with no verification, no initializer wait and no
// buffering.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, _ := x402.PaymentHeader(r.Header)
		rc := &RequestContext{
			Method:        r.Method,
			Path:          r.URL.Path,
			PaymentHeader: credential,
			Request:       r,
		}

		if !g.resource.RequiresPayment(rc) {
			next.ServeHTTP(w, r)
			return
		}

		outcome := g.runVerify(r.Context(), rc)
		switch outcome.Kind {
		case OutcomePaymentError:
			writePaymentError(w, outcome)
			return
		case OutcomeNoPaymentRequired:
			// Access granted without payment. No payment slot is populated,
			// so settlement is skipped.
			next.ServeHTTP(w, r)
			return
		}

		// Payment verified. The slot lives in this frame for the rest of the
		// request; nothing outside this request can reach it.
		pay := &Payment{
			Payload:      outcome.Payload,
			Requirements: outcome.Requirements,
			Extensions:   outcome.Extensions,
		}

		cw := newCaptureWriter()
		next.ServeHTTP(cw, r.WithContext(withPayment(r.Context(), pay)))

		g.runSettle(r.Context(), w, cw, pay, rc)
	})
}
