// Package x402 defines the wire-level types of the x402 payment protocol:
// payment payloads carried in request headers, payment requirements advertised
// in 402 responses, and the verification/settlement result shapes exchanged
// with a facilitator.
package x402

// Version is the protocol version this gateway speaks.
const Version = 2

// SchemeExact is the only payment scheme currently supported: an exact-amount
// EIP-3009 style transfer authorization.
const SchemeExact = "exact"

// PaymentRequirements describes one way a client can pay for a resource. It is
// a single entry of the "accepts" array in a 402 response.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType,omitempty"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// RequiredResponse is the JSON body of a 402 Payment Required response.
type RequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       string                `json:"error,omitempty"`
}

// PaymentPayload is the client-supplied proof of payment intent, decoded from
// the payment header.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// ExactPayload carries the signed transfer authorization for the exact scheme.
type ExactPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// Authorization is an EIP-3009 transfer authorization.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// VerifyResponse is the facilitator's answer to a verification request.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to a settlement request. On
// success Transaction holds the on-chain transaction hash.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// SupportedKind describes one payment kind a facilitator supports.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse lists the payment kinds a facilitator supports.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// networkAssets maps network identifiers to their USDC contract addresses.
var networkAssets = map[string]string{
	"base":         "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	"eip155:8453":  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	"base-sepolia": "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	"eip155:84532": "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
}

// networkChainIDs maps friendly network names to EIP-155 chain identifiers.
var networkChainIDs = map[string]string{
	"base":         "eip155:8453",
	"base-sepolia": "eip155:84532",
}

// DefaultAsset returns the default settlement asset (USDC) for a network, or
// "" when the network is unknown and the caller must configure one explicitly.
func DefaultAsset(network string) string {
	return networkAssets[network]
}

// ChainID normalizes a friendly network name to its EIP-155 identifier.
// Already-normalized or unknown names pass through unchanged.
func ChainID(network string) string {
	if id, ok := networkChainIDs[network]; ok {
		return id
	}
	return network
}
