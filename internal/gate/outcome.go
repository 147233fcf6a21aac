package gate

import (
	"net/http"

	"github.com/tjfontaine/x402-gate/internal/x402"
)

// RequestContext is the immutable per-request snapshot handed to the resource
// server. It is built once when a request enters the gate and read-only
// thereafter. Request references the raw request; it is never copied.
type RequestContext struct {
	Method string
	Path   string

	// PaymentHeader is the selected payment credential. Empty means no
	// credential was presented (an empty header value counts as absent).
	PaymentHeader string

	Request *http.Request
}

// OutcomeKind discriminates the three-way verification result.
type OutcomeKind int

const (
	// OutcomeNoPaymentRequired means an access hook granted the request
	// without payment. The handler runs and settlement is skipped.
	OutcomeNoPaymentRequired OutcomeKind = iota

	// OutcomePaymentError means the request is rejected before the handler
	// runs, with the HTTP response described by the outcome.
	OutcomePaymentError

	// OutcomePaymentVerified means payment was verified and the handler may
	// run; settlement follows if the handler succeeds.
	OutcomePaymentVerified
)

// String returns the kind name for logs.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNoPaymentRequired:
		return "no_payment_required"
	case OutcomePaymentError:
		return "payment_error"
	case OutcomePaymentVerified:
		return "payment_verified"
	default:
		return "unknown"
	}
}

// Outcome is the result of the verification stage.
type Outcome struct {
	Kind OutcomeKind

	// Rejection response, set when Kind is OutcomePaymentError.
	Status  int // 402 or 412
	Headers map[string]string
	Body    []byte
	IsHTML  bool

	// Verified payment, set when Kind is OutcomePaymentVerified.
	Payload      *x402.PaymentPayload
	Requirements *x402.PaymentRequirements
	Extensions   map[string]any
}

// SettleResult is the settlement stage's view of a completed settle call.
// A settle error is synthesized into a failed result before it reaches the
// gate, so the state machine only ever sees this shape.
type SettleResult struct {
	Success bool

	// Headers are merged onto the outgoing response on success. On key
	// collision with a handler header the settlement header wins.
	Headers map[string]string

	// Reason describes the failure and is forwarded to the client as an
	// opaque string.
	Reason string
}

// TransportContext carries the original request and the serialized handler
// response body into the settle call so settlement-time extensions (receipt
// generation and the like) can inspect both without re-deriving them.
type TransportContext struct {
	Request      *RequestContext
	ResponseBody []byte
}
