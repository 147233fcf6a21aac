// Package receipts defines settlement receipt records and the stores that
// persist them. A receipt is written after every successfully settled
// payment and is the gateway's durable audit trail of who paid what for
// which resource.
package receipts

import (
	"context"
	"time"
)

// Receipt is one settled payment.
type Receipt struct {
	// ID is the gateway-assigned receipt identifier.
	ID string `json:"id"`

	// Resource and Method identify the purchased endpoint.
	Resource string `json:"resource"`
	Method   string `json:"method"`

	// Payer is the paying address reported by the facilitator.
	Payer string `json:"payer"`

	// Amount is the settled amount in the asset's atomic units.
	Amount string `json:"amount"`

	Asset   string `json:"asset"`
	Network string `json:"network"`

	// Transaction is the on-chain transaction hash.
	Transaction string `json:"transaction"`

	// ResponseSize is the byte length of the response the payment bought.
	ResponseSize int `json:"responseSize"`

	CreatedAt time.Time `json:"createdAt"`
}

// ListOptions filters and pages receipt listings.
type ListOptions struct {
	// Payer restricts the listing to one paying address when set.
	Payer  string
	Limit  int
	Offset int
}

// Store persists settlement receipts.
type Store interface {
	SaveReceipt(ctx context.Context, r *Receipt) error
	GetReceipt(ctx context.Context, id string) (*Receipt, error)
	ListReceipts(ctx context.Context, opts ListOptions) ([]*Receipt, error)
	CountReceipts(ctx context.Context) (int64, error)
	Close() error
}
