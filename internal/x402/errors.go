package x402

import (
	"fmt"
	"net/http"
)

// Reason codes a facilitator may return for rejected verifications. The
// precondition codes indicate the payer must complete an on-chain step (such
// as an ERC-20 approval) before the payment can succeed, and map to 412
// rather than 402.
const (
	ReasonHeaderRequired      = "X-Payment header is required"
	ReasonInvalidFormat       = "invalid_payment_format"
	ReasonInsufficientFunds   = "insufficient_funds"
	ReasonAllowanceRequired   = "allowance_required"
	ReasonApprovalRequired    = "approval_required"
	ReasonUnsupportedScheme   = "unsupported_scheme"
	ReasonUnsupportedNetwork  = "unsupported_network"
	ReasonAuthorizationExpire = "authorization_expired"
)

// preconditionReasons are the rejection codes surfaced as 412 Precondition
// Failed instead of 402.
var preconditionReasons = map[string]bool{
	ReasonAllowanceRequired: true,
	ReasonApprovalRequired:  true,
}

// PaymentError is a typed payment rejection carrying the HTTP status it maps
// to. It is the canonical error shape between the resource server, the
// facilitator client and the gate.
type PaymentError struct {
	// Status is 402 for ordinary payment errors, 412 for precondition errors.
	Status int `json:"-"`

	// Reason is the human-readable rejection reason shown to the client.
	Reason string `json:"error"`
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment rejected (%d): %s", e.Status, e.Reason)
}

// NewPaymentError builds a PaymentError from a rejection reason, mapping
// precondition codes to 412 and everything else to 402.
func NewPaymentError(reason string) *PaymentError {
	status := http.StatusPaymentRequired
	if preconditionReasons[reason] {
		status = http.StatusPreconditionFailed
	}
	return &PaymentError{Status: status, Reason: reason}
}

// ErrPaymentRequired creates the rejection returned when no credential was
// presented at all.
func ErrPaymentRequired() *PaymentError {
	return &PaymentError{Status: http.StatusPaymentRequired, Reason: ReasonHeaderRequired}
}

// IsPrecondition reports whether a reason code maps to 412.
func IsPrecondition(reason string) bool {
	return preconditionReasons[reason]
}
