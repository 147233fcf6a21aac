package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tjfontaine/x402-gate/internal/extensions"
	"github.com/tjfontaine/x402-gate/internal/gate"
	"github.com/tjfontaine/x402-gate/internal/paywall"
	"github.com/tjfontaine/x402-gate/internal/x402"
)

// fakeFacilitator is a scriptable Facilitator.
type fakeFacilitator struct {
	verifyResp  *x402.VerifyResponse
	verifyErr   error
	verifyCalls int

	settleResp  *x402.SettleResponse
	settleErr   error
	settleCalls int

	supportedResp *x402.SupportedResponse
	supportedErr  error
}

func (f *fakeFacilitator) Verify(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	f.verifyCalls++
	return f.verifyResp, f.verifyErr
}

func (f *fakeFacilitator) Settle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.SettleResponse, error) {
	f.settleCalls++
	return f.settleResp, f.settleErr
}

func (f *fakeFacilitator) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	if f.supportedResp == nil && f.supportedErr == nil {
		return &x402.SupportedResponse{}, nil
	}
	return f.supportedResp, f.supportedErr
}

func testTable(t *testing.T) *Table {
	t.Helper()
	table, err := NewTable([]RouteRequirement{
		{
			Method:      "GET",
			Path:        "/api/weather",
			Price:       "10000",
			Network:     "base-sepolia",
			PayTo:       "0xSeller",
			Description: "Current weather",
		},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

func testServer(t *testing.T, fac Facilitator, opts ...Option) *Server {
	t.Helper()
	s, err := NewServer(testTable(t), fac, extensions.NewRegistry(), opts...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func testRequest(method, path string) *gate.RequestContext {
	return &gate.RequestContext{
		Method:  method,
		Path:    path,
		Request: httptest.NewRequest(method, path, nil),
	}
}

// testCredential returns an encoded payment header for the test route.
func testCredential(t *testing.T) string {
	t.Helper()
	encoded, err := x402.EncodePayment(&x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      x402.SchemeExact,
		Network:     "base-sepolia",
		Payload: x402.ExactPayload{
			Signature: "0xsig",
			Authorization: x402.Authorization{
				From:  "0xPayer",
				To:    "0xSeller",
				Value: "10000",
				Nonce: "0x1",
			},
		},
	})
	if err != nil {
		t.Fatalf("EncodePayment: %v", err)
	}
	return encoded
}

// ==== classification ====

func TestServer_RequiresPayment(t *testing.T) {
	s := testServer(t, &fakeFacilitator{})

	if !s.RequiresPayment(testRequest("GET", "/api/weather")) {
		t.Error("configured route should require payment")
	}
	if s.RequiresPayment(testRequest("GET", "/health")) {
		t.Error("unconfigured route should not require payment")
	}
	if s.RequiresPayment(testRequest("POST", "/api/weather")) {
		t.Error("route table is keyed by method, POST should not match a GET route")
	}
}

// ==== verification ====

func TestServer_Verify_MissingCredential(t *testing.T) {
	fac := &fakeFacilitator{}
	s := testServer(t, fac, WithBaseURL("https://api.example.com"))

	outcome, err := s.Verify(context.Background(), testRequest("GET", "/api/weather"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if outcome.Kind != gate.OutcomePaymentError {
		t.Fatalf("kind = %v, want payment error", outcome.Kind)
	}
	if outcome.Status != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", outcome.Status)
	}
	if outcome.IsHTML {
		t.Error("programmatic client should get JSON, not HTML")
	}
	if fac.verifyCalls != 0 {
		t.Errorf("facilitator called %d times for a credential-less request", fac.verifyCalls)
	}

	var required x402.RequiredResponse
	if err := json.Unmarshal(outcome.Body, &required); err != nil {
		t.Fatalf("body is not a RequiredResponse: %v", err)
	}
	if required.Error != x402.ReasonHeaderRequired {
		t.Errorf("error = %q, want %q", required.Error, x402.ReasonHeaderRequired)
	}
	if len(required.Accepts) != 1 {
		t.Fatalf("accepts has %d entries, want 1", len(required.Accepts))
	}
	accept := required.Accepts[0]
	if accept.Resource != "https://api.example.com/api/weather" {
		t.Errorf("resource = %q", accept.Resource)
	}
	if accept.MaxAmountRequired != "10000" || accept.PayTo != "0xSeller" {
		t.Errorf("requirements not carried: %+v", accept)
	}
	if accept.Asset != x402.DefaultAsset("base-sepolia") {
		t.Errorf("asset not defaulted: %q", accept.Asset)
	}

	if _, ok := outcome.Headers[x402.HeaderPaymentRequired]; !ok {
		t.Error("X-Payment-Required header missing from rejection")
	}
}

func TestServer_Verify_MalformedCredential(t *testing.T) {
	s := testServer(t, &fakeFacilitator{})

	rc := testRequest("GET", "/api/weather")
	rc.PaymentHeader = "not-base64!!"

	outcome, err := s.Verify(context.Background(), rc)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if outcome.Kind != gate.OutcomePaymentError || outcome.Status != http.StatusPaymentRequired {
		t.Fatalf("outcome = kind %v status %d, want 402 payment error", outcome.Kind, outcome.Status)
	}
	if !strings.Contains(string(outcome.Body), x402.ReasonInvalidFormat) {
		t.Errorf("body should carry the invalid-format reason: %s", outcome.Body)
	}
}

func TestServer_Verify_SchemeAndNetworkMismatch(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *x402.PaymentPayload)
		reason  string
	}{
		{"wrong scheme", func(p *x402.PaymentPayload) { p.Scheme = "streaming" }, x402.ReasonUnsupportedScheme},
		{"wrong network", func(p *x402.PaymentPayload) { p.Network = "base" }, x402.ReasonUnsupportedNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fac := &fakeFacilitator{}
			s := testServer(t, fac)

			payload := &x402.PaymentPayload{
				X402Version: x402.Version,
				Scheme:      x402.SchemeExact,
				Network:     "base-sepolia",
			}
			tt.mutate(payload)
			encoded, _ := x402.EncodePayment(payload)

			rc := testRequest("GET", "/api/weather")
			rc.PaymentHeader = encoded

			outcome, err := s.Verify(context.Background(), rc)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if outcome.Kind != gate.OutcomePaymentError {
				t.Fatalf("kind = %v, want payment error", outcome.Kind)
			}
			if !strings.Contains(string(outcome.Body), tt.reason) {
				t.Errorf("body = %s, want reason %q", outcome.Body, tt.reason)
			}
			if fac.verifyCalls != 0 {
				t.Error("mismatched payload should be rejected before the facilitator")
			}
		})
	}
}

func TestServer_Verify_EquivalentNetworkNamesAccepted(t *testing.T) {
	// A payload naming the EIP-155 chain ID pays a route configured with the
	// friendly network name.
	fac := &fakeFacilitator{verifyResp: &x402.VerifyResponse{IsValid: true}}
	s := testServer(t, fac)

	payload := &x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      x402.SchemeExact,
		Network:     "eip155:84532",
	}
	encoded, _ := x402.EncodePayment(payload)

	rc := testRequest("GET", "/api/weather")
	rc.PaymentHeader = encoded

	outcome, err := s.Verify(context.Background(), rc)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if outcome.Kind != gate.OutcomePaymentVerified {
		t.Fatalf("kind = %v, want verified", outcome.Kind)
	}
}

func TestServer_Verify_Valid(t *testing.T) {
	fac := &fakeFacilitator{verifyResp: &x402.VerifyResponse{IsValid: true, Payer: "0xPayer"}}
	s := testServer(t, fac, WithBaseURL("https://api.example.com"))

	rc := testRequest("GET", "/api/weather")
	rc.PaymentHeader = testCredential(t)

	outcome, err := s.Verify(context.Background(), rc)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if outcome.Kind != gate.OutcomePaymentVerified {
		t.Fatalf("kind = %v, want verified", outcome.Kind)
	}
	if outcome.Payload == nil || outcome.Payload.Payload.Authorization.From != "0xPayer" {
		t.Error("verified outcome should carry the decoded payload")
	}
	if outcome.Requirements == nil || outcome.Requirements.Resource != "https://api.example.com/api/weather" {
		t.Error("verified outcome should carry the route requirements")
	}
	if fac.verifyCalls != 1 {
		t.Errorf("facilitator verify called %d times, want 1", fac.verifyCalls)
	}
}

func TestServer_Verify_Rejected(t *testing.T) {
	fac := &fakeFacilitator{verifyResp: &x402.VerifyResponse{
		IsValid:       false,
		InvalidReason: x402.ReasonInsufficientFunds,
	}}
	s := testServer(t, fac)

	rc := testRequest("GET", "/api/weather")
	rc.PaymentHeader = testCredential(t)

	outcome, err := s.Verify(context.Background(), rc)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if outcome.Status != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", outcome.Status)
	}
	if !strings.Contains(string(outcome.Body), x402.ReasonInsufficientFunds) {
		t.Errorf("body should carry the rejection reason: %s", outcome.Body)
	}
}

func TestServer_Verify_PreconditionMapsTo412(t *testing.T) {
	fac := &fakeFacilitator{verifyResp: &x402.VerifyResponse{
		IsValid:       false,
		InvalidReason: x402.ReasonAllowanceRequired,
	}}
	s := testServer(t, fac)

	rc := testRequest("GET", "/api/weather")
	rc.PaymentHeader = testCredential(t)

	outcome, err := s.Verify(context.Background(), rc)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if outcome.Status != http.StatusPreconditionFailed {
		t.Errorf("status = %d, want 412", outcome.Status)
	}
}

func TestServer_Verify_FacilitatorErrorRejects(t *testing.T) {
	fac := &fakeFacilitator{verifyErr: fmt.Errorf("connection refused")}
	s := testServer(t, fac)

	rc := testRequest("GET", "/api/weather")
	rc.PaymentHeader = testCredential(t)

	outcome, err := s.Verify(context.Background(), rc)
	if err != nil {
		t.Fatalf("a facilitator outage must reject, not error: %v", err)
	}
	if outcome.Kind != gate.OutcomePaymentError || outcome.Status != http.StatusPaymentRequired {
		t.Errorf("outcome = kind %v status %d, want 402 payment error", outcome.Kind, outcome.Status)
	}
	if strings.Contains(string(outcome.Body), "connection refused") {
		t.Error("internal error detail leaked to the client")
	}
}

func TestServer_Verify_BrowserGetsPaywall(t *testing.T) {
	s := testServer(t, &fakeFacilitator{}, WithPaywall(paywall.New("Weather API")))

	rc := testRequest("GET", "/api/weather")
	rc.Request.Header.Set("Accept", "text/html,application/xhtml+xml")
	rc.Request.Header.Set("User-Agent", "Mozilla/5.0")

	outcome, err := s.Verify(context.Background(), rc)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !outcome.IsHTML {
		t.Fatal("browser client should get the HTML paywall")
	}
	if !strings.Contains(string(outcome.Body), "Weather API") {
		t.Error("paywall page should carry the app name")
	}
	if _, ok := outcome.Headers[x402.HeaderPaymentRequired]; !ok {
		t.Error("paywall rejection still needs the requirements header")
	}
}

// ==== access hooks ====

func TestServer_Verify_HookGrantsFreeAccess(t *testing.T) {
	fac := &fakeFacilitator{}
	hook := func(ctx context.Context, rc *gate.RequestContext) (*HookResult, error) {
		return &HookResult{Grant: true}, nil
	}
	s := testServer(t, fac, WithAccessHook(hook))

	outcome, err := s.Verify(context.Background(), testRequest("GET", "/api/weather"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if outcome.Kind != gate.OutcomeNoPaymentRequired {
		t.Fatalf("kind = %v, want no payment required", outcome.Kind)
	}
	if fac.verifyCalls != 0 {
		t.Error("granted request must not reach the facilitator")
	}
}

func TestServer_Verify_HookAborts(t *testing.T) {
	hook := func(ctx context.Context, rc *gate.RequestContext) (*HookResult, error) {
		return &HookResult{Abort: true, Reason: "payer is blocked"}, nil
	}
	s := testServer(t, &fakeFacilitator{}, WithAccessHook(hook))

	outcome, err := s.Verify(context.Background(), testRequest("GET", "/api/weather"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if outcome.Kind != gate.OutcomePaymentError || outcome.Status != http.StatusPaymentRequired {
		t.Fatalf("outcome = kind %v status %d, want 402", outcome.Kind, outcome.Status)
	}
	if !strings.Contains(string(outcome.Body), "payer is blocked") {
		t.Errorf("abort reason not surfaced: %s", outcome.Body)
	}
}

func TestServer_Verify_HookErrorContinues(t *testing.T) {
	fac := &fakeFacilitator{verifyResp: &x402.VerifyResponse{IsValid: true}}
	hook := func(ctx context.Context, rc *gate.RequestContext) (*HookResult, error) {
		return nil, fmt.Errorf("hook backend down")
	}
	s := testServer(t, fac, WithAccessHook(hook))

	rc := testRequest("GET", "/api/weather")
	rc.PaymentHeader = testCredential(t)

	outcome, err := s.Verify(context.Background(), rc)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if outcome.Kind != gate.OutcomePaymentVerified {
		t.Errorf("hook errors must fall through to verification, got %v", outcome.Kind)
	}
}

func TestAllowPayers(t *testing.T) {
	hook := AllowPayers("0xPayer")

	rc := testRequest("GET", "/api/weather")
	rc.PaymentHeader = testCredential(t)

	result, err := hook(context.Background(), rc)
	if err != nil {
		t.Fatalf("hook: %v", err)
	}
	if result == nil || !result.Grant {
		t.Error("allowlisted payer should be granted")
	}

	other := testRequest("GET", "/api/weather")
	other.PaymentHeader = "garbage"
	result, err = hook(context.Background(), other)
	if err != nil || result != nil {
		t.Errorf("undecodable credential should fall through, got %+v, %v", result, err)
	}

	bare := testRequest("GET", "/api/weather")
	result, err = hook(context.Background(), bare)
	if err != nil || result != nil {
		t.Errorf("credential-less request should fall through, got %+v, %v", result, err)
	}
}

// ==== settlement ====

func settleArgs(t *testing.T) (*x402.PaymentPayload, *x402.PaymentRequirements, *gate.TransportContext) {
	t.Helper()
	payload, err := x402.DecodePayment(testCredential(t))
	if err != nil {
		t.Fatalf("DecodePayment: %v", err)
	}
	requirements := &x402.PaymentRequirements{
		Scheme:  x402.SchemeExact,
		Network: "base-sepolia",
		Asset:   x402.DefaultAsset("base-sepolia"),
	}
	transport := &gate.TransportContext{
		Request:      testRequest("GET", "/api/weather"),
		ResponseBody: []byte(`{"temp":72}`),
	}
	return payload, requirements, transport
}

// recordingObserver captures settlements it is notified about.
type recordingObserver struct {
	name        string
	settlements []*extensions.Settlement
	err         error
}

func (o *recordingObserver) Name() string { return o.name }

func (o *recordingObserver) OnSettled(ctx context.Context, s *extensions.Settlement) error {
	o.settlements = append(o.settlements, s)
	return o.err
}

func TestServer_Settle_Success(t *testing.T) {
	fac := &fakeFacilitator{settleResp: &x402.SettleResponse{
		Success:     true,
		Transaction: "0xabc",
		Network:     "base-sepolia",
		Payer:       "0xPayer",
	}}
	s := testServer(t, fac)

	payload, requirements, transport := settleArgs(t)
	result, err := s.Settle(context.Background(), payload, requirements, nil, transport)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !result.Success {
		t.Fatalf("settlement failed: %s", result.Reason)
	}

	encoded, ok := result.Headers[x402.HeaderPaymentResponse]
	if !ok {
		t.Fatal("settlement success must carry the payment-response header")
	}
	receipt, err := x402.DecodeSettlement(encoded)
	if err != nil {
		t.Fatalf("DecodeSettlement: %v", err)
	}
	if receipt.Transaction != "0xabc" {
		t.Errorf("receipt transaction = %q", receipt.Transaction)
	}
}

func TestServer_Settle_NotifiesObservers(t *testing.T) {
	fac := &fakeFacilitator{settleResp: &x402.SettleResponse{
		Success:     true,
		Transaction: "0xabc",
		Payer:       "0xPayer",
	}}
	registry := extensions.NewRegistry()
	obs := &recordingObserver{name: "receipts"}
	if err := registry.Register(obs); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s, err := NewServer(testTable(t), fac, registry)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	payload, requirements, transport := settleArgs(t)
	if _, err := s.Settle(context.Background(), payload, requirements, nil, transport); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if len(obs.settlements) != 1 {
		t.Fatalf("observer saw %d settlements, want 1", len(obs.settlements))
	}
	got := obs.settlements[0]
	if got.Resource != "/api/weather" || got.Method != "GET" {
		t.Errorf("settlement resource = %s %s", got.Method, got.Resource)
	}
	if got.Payer != "0xPayer" || got.Amount != "10000" || got.Transaction != "0xabc" {
		t.Errorf("settlement fields wrong: %+v", got)
	}
	if got.ResponseSize != len(`{"temp":72}`) {
		t.Errorf("response size = %d", got.ResponseSize)
	}
}

func TestServer_Settle_ObserverErrorDoesNotFail(t *testing.T) {
	fac := &fakeFacilitator{settleResp: &x402.SettleResponse{Success: true}}
	registry := extensions.NewRegistry()
	registry.Register(&recordingObserver{name: "broken", err: fmt.Errorf("disk full")})

	s, err := NewServer(testTable(t), fac, registry)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	payload, requirements, transport := settleArgs(t)
	result, err := s.Settle(context.Background(), payload, requirements, nil, transport)
	if err != nil || !result.Success {
		t.Errorf("observer failure must not fail a confirmed settlement: %+v, %v", result, err)
	}
}

func TestServer_Settle_Declined(t *testing.T) {
	fac := &fakeFacilitator{settleResp: &x402.SettleResponse{
		Success:     false,
		ErrorReason: "insufficient funds",
	}}
	s := testServer(t, fac)

	payload, requirements, transport := settleArgs(t)
	result, err := s.Settle(context.Background(), payload, requirements, nil, transport)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if result.Success {
		t.Fatal("declined settlement reported as success")
	}
	if result.Reason != "insufficient funds" {
		t.Errorf("reason = %q", result.Reason)
	}
	if len(result.Headers) != 0 {
		t.Error("failed settlement must not carry response headers")
	}
}

func TestServer_Settle_FacilitatorError(t *testing.T) {
	fac := &fakeFacilitator{settleErr: fmt.Errorf("settle payment: timeout")}
	s := testServer(t, fac)

	payload, requirements, transport := settleArgs(t)
	result, err := s.Settle(context.Background(), payload, requirements, nil, transport)
	if err != nil {
		t.Fatalf("facilitator errors convert to failed results: %v", err)
	}
	if result.Success {
		t.Fatal("errored settlement reported as success")
	}
	if !strings.Contains(result.Reason, "timeout") {
		t.Errorf("reason = %q", result.Reason)
	}
}

// ==== initialization ====

func TestServer_Initialize(t *testing.T) {
	fac := &fakeFacilitator{supportedResp: &x402.SupportedResponse{
		Kinds: []x402.SupportedKind{
			{X402Version: x402.Version, Scheme: x402.SchemeExact, Network: "eip155:84532"},
		},
	}}
	s := testServer(t, fac)

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

func TestServer_Initialize_FetchErrorPropagates(t *testing.T) {
	fac := &fakeFacilitator{supportedErr: fmt.Errorf("dns failure")}
	s := testServer(t, fac)

	if err := s.Initialize(context.Background()); err == nil {
		t.Fatal("expected capability sync error")
	}
}

// ==== constructor ====

func TestNewServer_Validation(t *testing.T) {
	if _, err := NewServer(nil, &fakeFacilitator{}, nil); err == nil {
		t.Error("nil table accepted")
	}
	if _, err := NewServer(testTable(t), nil, nil); err == nil {
		t.Error("nil facilitator accepted")
	}
	if s, err := NewServer(testTable(t), &fakeFacilitator{}, nil); err != nil || s.Registry() == nil {
		t.Error("nil registry should default to an empty one")
	}
}
