package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// Header names of the x402 wire contract.
const (
	// HeaderPayment carries the payment payload on current-protocol requests.
	HeaderPayment = "Payment-Signature"

	// HeaderPaymentLegacy is the pre-V2 request header, still accepted as a
	// fallback when HeaderPayment is absent.
	HeaderPaymentLegacy = "X-Payment"

	// HeaderPaymentRequired carries the encoded payment requirements on 402
	// responses so programmatic clients can retry without parsing the body.
	HeaderPaymentRequired = "X-Payment-Required"

	// HeaderPaymentResponse carries the encoded settlement receipt on
	// successfully settled responses.
	HeaderPaymentResponse = "X-Payment-Response"
)

// PaymentHeader selects the payment credential from request headers.
// HeaderPayment takes priority over HeaderPaymentLegacy; an empty value is
// treated as absent. Exactly one credential (or none) is surfaced.
func PaymentHeader(h http.Header) (string, bool) {
	if v := h.Get(HeaderPayment); v != "" {
		return v, true
	}
	if v := h.Get(HeaderPaymentLegacy); v != "" {
		return v, true
	}
	return "", false
}

// DecodePayment decodes a base64(JSON) payment header value.
func DecodePayment(value string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode payment header: %w", err)
	}
	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payment payload: %w", err)
	}
	return &payload, nil
}

// EncodePayment encodes a payment payload for transport in a request header.
func EncodePayment(payload *PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeRequirements encodes a 402 body for the X-Payment-Required header.
func EncodeRequirements(required *RequiredResponse) (string, error) {
	raw, err := json.Marshal(required)
	if err != nil {
		return "", fmt.Errorf("marshal payment requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeSettlement encodes a settlement receipt for the X-Payment-Response
// header.
func EncodeSettlement(settlement *SettleResponse) (string, error) {
	raw, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("marshal settlement response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSettlement decodes an X-Payment-Response header value. Clients use it
// to recover the settlement receipt from a settled response.
func DecodeSettlement(value string) (*SettleResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode settlement header: %w", err)
	}
	var settlement SettleResponse
	if err := json.Unmarshal(raw, &settlement); err != nil {
		return nil, fmt.Errorf("unmarshal settlement response: %w", err)
	}
	return &settlement, nil
}
