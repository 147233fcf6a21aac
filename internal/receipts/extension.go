package receipts

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tjfontaine/x402-gate/internal/extensions"
)

// ExtensionName is how route declarations refer to the receipts extension.
const ExtensionName = "receipts"

// Extension records a receipt for every settled payment by writing directly
// to a Store. This is the default recorder for single-instance deployments.
type Extension struct {
	store Store
}

var _ extensions.SettlementObserver = (*Extension)(nil)

// NewExtension creates a receipt-recording extension backed by store.
func NewExtension(store Store) (*Extension, error) {
	if store == nil {
		return nil, fmt.Errorf("receipt store required")
	}
	return &Extension{store: store}, nil
}

// Name implements extensions.Extension.
func (e *Extension) Name() string { return ExtensionName }

// OnSettled writes one receipt per settled payment.
func (e *Extension) OnSettled(ctx context.Context, s *extensions.Settlement) error {
	receipt := &Receipt{
		ID:           uuid.New().String(),
		Resource:     s.Resource,
		Method:       s.Method,
		Payer:        s.Payer,
		Amount:       s.Amount,
		Asset:        s.Asset,
		Network:      s.Network,
		Transaction:  s.Transaction,
		ResponseSize: s.ResponseSize,
	}

	if err := e.store.SaveReceipt(ctx, receipt); err != nil {
		return fmt.Errorf("record settlement receipt: %w", err)
	}
	return nil
}
