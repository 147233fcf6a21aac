// Package sqlite is the SQLite-backed receipt store, suitable for
// single-instance gateways that need receipts to survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/x402-gate/internal/receipts"
)

// Store is a SQLite implementation of receipts.Store.
type Store struct {
	db *sql.DB
}

var _ receipts.Store = (*Store)(nil)

// New opens (or creates) the receipt database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS receipts (
			id TEXT PRIMARY KEY,
			resource TEXT NOT NULL,
			method TEXT NOT NULL,
			payer TEXT NOT NULL,
			amount TEXT NOT NULL,
			asset TEXT,
			network TEXT,
			tx_hash TEXT,
			response_size INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_payer ON receipts(payer)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_resource ON receipts(resource)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_created ON receipts(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) SaveReceipt(ctx context.Context, r *receipts.Receipt) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	query := `INSERT INTO receipts (id, resource, method, payer, amount, asset, network, tx_hash, response_size, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Resource, r.Method, r.Payer, r.Amount,
		r.Asset, r.Network, r.Transaction, r.ResponseSize, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save receipt: %w", err)
	}

	return nil
}

func (s *Store) GetReceipt(ctx context.Context, id string) (*receipts.Receipt, error) {
	query := `SELECT id, resource, method, payer, amount, asset, network, tx_hash, response_size, created_at
	          FROM receipts WHERE id = ?`

	var r receipts.Receipt
	var asset, network, txHash sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.Resource, &r.Method, &r.Payer, &r.Amount,
		&asset, &network, &txHash, &r.ResponseSize, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("receipt %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	r.Asset = asset.String
	r.Network = network.String
	r.Transaction = txHash.String

	return &r, nil
}

func (s *Store) ListReceipts(ctx context.Context, opts receipts.ListOptions) ([]*receipts.Receipt, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = 100
	}

	query := `SELECT id, resource, method, payer, amount, asset, network, tx_hash, response_size, created_at
	          FROM receipts`
	args := []any{}
	if opts.Payer != "" {
		query += ` WHERE payer = ?`
		args = append(args, opts.Payer)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var result []*receipts.Receipt
	for rows.Next() {
		var r receipts.Receipt
		var asset, network, txHash sql.NullString

		if err := rows.Scan(&r.ID, &r.Resource, &r.Method, &r.Payer, &r.Amount,
			&asset, &network, &txHash, &r.ResponseSize, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}

		r.Asset = asset.String
		r.Network = network.String
		r.Transaction = txHash.String

		result = append(result, &r)
	}

	return result, rows.Err()
}

func (s *Store) CountReceipts(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count receipts: %w", err)
	}
	return count, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
