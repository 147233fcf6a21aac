package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/x402-gate/internal/extensions"
	"github.com/tjfontaine/x402-gate/internal/gate"
	"github.com/tjfontaine/x402-gate/internal/paywall"
	"github.com/tjfontaine/x402-gate/internal/x402"
)

// Facilitator is the external authority that checks and executes payments.
// *facilitator.Client implements it; tests substitute fakes.
type Facilitator interface {
	Verify(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.SettleResponse, error)
	Supported(ctx context.Context) (*x402.SupportedResponse, error)
}

// Server owns the payment policy for a set of protected routes. It is shared
// read-mostly across all requests; nothing in it is mutated per request.
type Server struct {
	table       *Table
	facilitator Facilitator
	registry    *extensions.Registry
	paywall     *paywall.Renderer
	baseURL     string
	hook        AccessHook
	logger      *slog.Logger
}

var _ gate.ResourceServer = (*Server)(nil)

// Option configures a Server.
type Option func(*Server) error

// WithPaywall enables the HTML paywall for browser clients.
func WithPaywall(renderer *paywall.Renderer) Option {
	return func(s *Server) error {
		s.paywall = renderer
		return nil
	}
}

// WithBaseURL sets the public origin used to build absolute resource URLs in
// payment requirements.
func WithBaseURL(baseURL string) Option {
	return func(s *Server) error {
		s.baseURL = baseURL
		return nil
	}
}

// WithAccessHook installs a pre-verification access hook.
func WithAccessHook(hook AccessHook) Option {
	return func(s *Server) error {
		s.hook = hook
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// NewServer creates a resource server over a route table and a facilitator.
func NewServer(table *Table, fac Facilitator, registry *extensions.Registry, opts ...Option) (*Server, error) {
	if table == nil {
		return nil, fmt.Errorf("route table required")
	}
	if fac == nil {
		return nil, fmt.Errorf("facilitator required")
	}
	if registry == nil {
		registry = extensions.NewRegistry()
	}

	s := &Server{
		table:       table,
		facilitator: fac,
		registry:    registry,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Table returns the route requirement table.
func (s *Server) Table() *Table { return s.table }

// Registry returns the server's extension registry.
func (s *Server) Registry() *extensions.Registry { return s.registry }

// RequiresPayment implements gate.ResourceServer with a single map lookup.
func (s *Server) RequiresPayment(rc *gate.RequestContext) bool {
	_, ok := s.table.Lookup(rc.Method, rc.Path)
	return ok
}

// Initialize syncs facilitator capabilities and warns about routes declaring
// a scheme/network pair the facilitator does not support. Such routes stay
// configured: the facilitator has the final word at verification time.
func (s *Server) Initialize(ctx context.Context) error {
	supported, err := s.facilitator.Supported(ctx)
	if err != nil {
		return fmt.Errorf("sync facilitator capabilities: %w", err)
	}

	kinds := make(map[string]bool, len(supported.Kinds))
	for _, k := range supported.Kinds {
		kinds[k.Scheme+"/"+x402.ChainID(k.Network)] = true
	}

	for _, rr := range s.table.Routes() {
		if !kinds[rr.Scheme+"/"+x402.ChainID(rr.Network)] {
			s.logger.Warn("facilitator does not support route's payment kind",
				slog.String("path", rr.Path),
				slog.String("scheme", rr.Scheme),
				slog.String("network", rr.Network))
		}
	}

	s.logger.Info("facilitator capabilities synced", slog.Int("kinds", len(supported.Kinds)))
	return nil
}

// Verify implements the verification policy for one protected request: run
// the access hook, decode the credential, delegate to the facilitator and map
// everything to the gate's three-way outcome. Every rejection carries the
// route's full payment requirements so the client can retry correctly.
func (s *Server) Verify(ctx context.Context, rc *gate.RequestContext) (*gate.Outcome, error) {
	rr, ok := s.table.Lookup(rc.Method, rc.Path)
	if !ok {
		// The gate only calls Verify on protected routes; a vanished route
		// means the table changed between classification and verification.
		return &gate.Outcome{Kind: gate.OutcomeNoPaymentRequired}, nil
	}

	if s.hook != nil {
		result, err := s.hook(ctx, rc)
		if err != nil {
			s.logger.Warn("access hook error, continuing to verification",
				slog.String("path", rc.Path),
				slog.String("error", err.Error()))
		} else if result != nil {
			if result.Grant {
				s.logger.Debug("access hook granted payment-free access",
					slog.String("path", rc.Path))
				return &gate.Outcome{Kind: gate.OutcomeNoPaymentRequired}, nil
			}
			if result.Abort {
				return s.reject(rc, rr, &x402.PaymentError{
					Status: http.StatusPaymentRequired,
					Reason: result.Reason,
				}), nil
			}
		}
	}

	requirements := rr.PaymentRequirements(s.baseURL)

	if rc.PaymentHeader == "" {
		return s.reject(rc, rr, x402.ErrPaymentRequired()), nil
	}

	payload, err := decodeCredential(rc.PaymentHeader)
	if err != nil {
		s.logger.Debug("malformed payment credential",
			slog.String("path", rc.Path),
			slog.String("error", err.Error()))
		return s.reject(rc, rr, x402.NewPaymentError(x402.ReasonInvalidFormat)), nil
	}
	if payload.Scheme != rr.Scheme {
		return s.reject(rc, rr, x402.NewPaymentError(x402.ReasonUnsupportedScheme)), nil
	}
	if x402.ChainID(payload.Network) != x402.ChainID(rr.Network) {
		return s.reject(rc, rr, x402.NewPaymentError(x402.ReasonUnsupportedNetwork)), nil
	}

	verdict, err := s.facilitator.Verify(ctx, payload, requirements)
	if err != nil {
		// The facilitator being unreachable rejects the request, it never
		// grants free access and never crashes the server.
		s.logger.Error("facilitator verify failed",
			slog.String("path", rc.Path),
			slog.String("error", err.Error()))
		return s.reject(rc, rr, &x402.PaymentError{
			Status: http.StatusPaymentRequired,
			Reason: "payment verification unavailable",
		}), nil
	}
	if !verdict.IsValid {
		return s.reject(rc, rr, x402.NewPaymentError(verdict.InvalidReason)), nil
	}

	return &gate.Outcome{
		Kind:         gate.OutcomePaymentVerified,
		Payload:      payload,
		Requirements: requirements,
		Extensions:   rr.Extensions,
	}, nil
}

// Settle implements the settlement policy: execute the payment through the
// facilitator, then on success emit the receipt header and notify settlement
// observers. Any failure shape collapses to a failed SettleResult; the gate
// discards the handler's response in that case.
func (s *Server) Settle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements, declared map[string]any, transport *gate.TransportContext) (*gate.SettleResult, error) {
	settled, err := s.facilitator.Settle(ctx, payload, requirements)
	if err != nil {
		return &gate.SettleResult{Success: false, Reason: err.Error()}, nil
	}
	if !settled.Success {
		reason := settled.ErrorReason
		if reason == "" {
			reason = "settlement declined"
		}
		return &gate.SettleResult{Success: false, Reason: reason}, nil
	}

	headers := make(map[string]string, 1)
	if encoded, err := x402.EncodeSettlement(settled); err == nil {
		headers[x402.HeaderPaymentResponse] = encoded
	} else {
		s.logger.Error("encode settlement receipt header",
			slog.String("error", err.Error()))
	}

	s.notifyObservers(ctx, payload, requirements, settled, transport)

	return &gate.SettleResult{Success: true, Headers: headers}, nil
}

// notifyObservers fans one settled payment out to the registered settlement
// observers. Observer errors are logged and never fail the request; the
// client already holds a confirmed settlement.
func (s *Server) notifyObservers(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements, settled *x402.SettleResponse, transport *gate.TransportContext) {
	observers := s.registry.Observers()
	if len(observers) == 0 {
		return
	}

	settlement := &extensions.Settlement{
		Payer:       settled.Payer,
		Amount:      payload.Payload.Authorization.Value,
		Asset:       requirements.Asset,
		Network:     requirements.Network,
		Transaction: settled.Transaction,
	}
	if settlement.Payer == "" {
		settlement.Payer = payload.Payload.Authorization.From
	}
	if transport != nil {
		settlement.ResponseSize = len(transport.ResponseBody)
		if transport.Request != nil {
			settlement.Resource = transport.Request.Path
			settlement.Method = transport.Request.Method
		}
	}

	for _, obs := range observers {
		if err := obs.OnSettled(ctx, settlement); err != nil {
			s.logger.Error("settlement observer failed",
				slog.String("extension", obs.Name()),
				slog.String("error", err.Error()))
		}
	}
}

// reject renders a payment rejection as a gate outcome: the HTML paywall for
// browser clients, the x402 JSON body for everything else, and in both cases
// the encoded requirements header so programmatic retries need not parse the
// body.
func (s *Server) reject(rc *gate.RequestContext, rr *RouteRequirement, perr *x402.PaymentError) *gate.Outcome {
	requirements := rr.PaymentRequirements(s.baseURL)
	required := &x402.RequiredResponse{
		X402Version: x402.Version,
		Accepts:     []x402.PaymentRequirements{*requirements},
		Error:       perr.Reason,
	}

	headers := make(map[string]string, 1)
	if encoded, err := x402.EncodeRequirements(required); err == nil {
		headers[x402.HeaderPaymentRequired] = encoded
	}

	if s.paywall != nil && rc.Request != nil && paywall.IsBrowser(rc.Request) {
		page, err := s.paywall.Render(paywall.Data{
			Resource:    rc.Path,
			Description: rr.Description,
			Amount:      rr.Price,
			Asset:       rr.Asset,
			Network:     rr.Network,
			PayTo:       rr.PayTo,
		})
		if err == nil {
			return &gate.Outcome{
				Kind:    gate.OutcomePaymentError,
				Status:  perr.Status,
				Headers: headers,
				Body:    page,
				IsHTML:  true,
			}
		}
		s.logger.Error("paywall render failed, falling back to JSON",
			slog.String("error", err.Error()))
	}

	body, err := json.Marshal(required)
	if err != nil {
		body = []byte(`{"error":"payment required"}`)
	}
	return &gate.Outcome{
		Kind:    gate.OutcomePaymentError,
		Status:  perr.Status,
		Headers: headers,
		Body:    body,
	}
}

// decodeCredential decodes a payment header value.
func decodeCredential(header string) (*x402.PaymentPayload, error) {
	return x402.DecodePayment(header)
}
