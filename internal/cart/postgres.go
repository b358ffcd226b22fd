package cart

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/kbook/checkout/internal/domain"
)

const schemaQuery = `CREATE TABLE IF NOT EXISTS carts (
	customer_id TEXT PRIMARY KEY,
	items JSONB NOT NULL DEFAULT '[]'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const (
	selectItemsQuery     = `SELECT items FROM carts WHERE customer_id = $1`
	selectForUpdateQuery = `SELECT items FROM carts WHERE customer_id = $1 FOR UPDATE`
	upsertItemsQuery     = `INSERT INTO carts (customer_id, items, updated_at) VALUES ($1, $2, $3) ON CONFLICT (customer_id) DO UPDATE SET items = EXCLUDED.items, updated_at = EXCLUDED.updated_at`
	clearItemsQuery      = `UPDATE carts SET items = '[]'::jsonb, updated_at = $2 WHERE customer_id = $1`
	updateItemsQuery     = `UPDATE carts SET items = $2, updated_at = $3 WHERE customer_id = $1`
)

type itemRecord struct {
	BookID    string          `json:"bookId"`
	Title     string          `json:"title"`
	Format    string          `json:"format"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// PostgresStore keeps each cart as a JSONB array in the carts table.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// Open connects to Postgres through the pgx stdlib driver and pings it.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("cart: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cart: ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// EnsureSchema creates the carts table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaQuery); err != nil {
		return fmt.Errorf("cart: ensure schema: %w", err)
	}
	return nil
}

// Snapshot loads the cart. A customer without a row has an empty cart.
func (s *PostgresStore) Snapshot(ctx context.Context, customerID string) (domain.CartSnapshot, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.CartSnapshot{}, ErrInvalidCustomer
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx, selectItemsQuery, customerID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CartSnapshot{CustomerID: customerID}, nil
	}
	if err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("cart: load %s: %w", customerID, err)
	}
	items, err := decodeItems(raw)
	if err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("cart: decode %s: %w", customerID, err)
	}
	return domain.CartSnapshot{CustomerID: customerID, Items: items}, nil
}

// Put replaces the cart lines.
func (s *PostgresStore) Put(ctx context.Context, customerID string, items []domain.CartItem) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return ErrInvalidCustomer
	}
	raw, err := encodeItems(items)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertItemsQuery, customerID, raw, s.now().UTC()); err != nil {
		return fmt.Errorf("cart: save %s: %w", customerID, err)
	}
	return nil
}

// Clear empties the cart.
func (s *PostgresStore) Clear(ctx context.Context, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return ErrInvalidCustomer
	}
	if _, err := s.db.ExecContext(ctx, clearItemsQuery, customerID, s.now().UTC()); err != nil {
		return fmt.Errorf("cart: clear %s: %w", customerID, err)
	}
	return nil
}

// RemoveItem drops one line inside a transaction.
func (s *PostgresStore) RemoveItem(ctx context.Context, customerID, bookID, format string) (err error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return ErrInvalidCustomer
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cart: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var raw []byte
	if err = tx.QueryRowContext(ctx, selectForUpdateQuery, customerID).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			return tx.Rollback()
		}
		return fmt.Errorf("cart: load %s: %w", customerID, err)
	}
	items, err := decodeItems(raw)
	if err != nil {
		return fmt.Errorf("cart: decode %s: %w", customerID, err)
	}
	updated, err := encodeItems(removeLine(items, bookID, format))
	if err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, updateItemsQuery, customerID, updated, s.now().UTC()); err != nil {
		return fmt.Errorf("cart: update %s: %w", customerID, err)
	}
	return tx.Commit()
}

func decodeItems(raw []byte) ([]domain.CartItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var records []itemRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	items := make([]domain.CartItem, 0, len(records))
	for _, r := range records {
		items = append(items, domain.CartItem{
			BookID:    r.BookID,
			Title:     r.Title,
			Format:    r.Format,
			UnitPrice: r.UnitPrice,
			Quantity:  r.Quantity,
		})
	}
	return items, nil
}

func encodeItems(items []domain.CartItem) ([]byte, error) {
	records := make([]itemRecord, 0, len(items))
	for _, item := range items {
		records = append(records, itemRecord{
			BookID:    item.BookID,
			Title:     item.Title,
			Format:    item.Format,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("cart: encode items: %w", err)
	}
	return raw, nil
}
