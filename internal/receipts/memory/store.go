// Package memory is the in-memory receipt store, the default when no
// database path is configured. Receipts vanish on restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tjfontaine/x402-gate/internal/receipts"
)

// Store is an in-memory implementation of receipts.Store.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*receipts.Receipt
	ordered []*receipts.Receipt
}

var _ receipts.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		byID: make(map[string]*receipts.Receipt),
	}
}

func (s *Store) SaveReceipt(ctx context.Context, r *receipts.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[r.ID]; exists {
		return fmt.Errorf("receipt %s already exists", r.ID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	stored := *r
	s.byID[r.ID] = &stored
	s.ordered = append(s.ordered, &stored)
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, id string) (*receipts.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.byID[id]
	if !exists {
		return nil, fmt.Errorf("receipt %s not found", id)
	}

	copied := *r
	return &copied, nil
}

func (s *Store) ListReceipts(ctx context.Context, opts receipts.ListOptions) ([]*receipts.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first, matching the SQLite store's ordering.
	var filtered []*receipts.Receipt
	for i := len(s.ordered) - 1; i >= 0; i-- {
		r := s.ordered[i]
		if opts.Payer != "" && r.Payer != opts.Payer {
			continue
		}
		filtered = append(filtered, r)
	}

	start := opts.Offset
	if start >= len(filtered) {
		return []*receipts.Receipt{}, nil
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(filtered) {
		end = len(filtered)
	}

	result := make([]*receipts.Receipt, 0, end-start)
	for _, r := range filtered[start:end] {
		copied := *r
		result = append(result, &copied)
	}
	return result, nil
}

func (s *Store) CountReceipts(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.ordered)), nil
}

func (s *Store) Close() error {
	return nil
}
