// Package postgres stores cart lines in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"cartflow/pkg/cart"
	"cartflow/pkg/catalog"
	catalogpg "cartflow/pkg/catalog/postgres"
)

// SQLSTATE codes reported when concurrent transactions collide.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists cart lines in the cart_lines table.
type Store struct {
	db        *sql.DB
	isolation sql.IsolationLevel
}

var _ cart.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithIsolation sets the isolation level of units of work. The default is
// read committed; product and line rows are locked either way.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(s *Store) { s.isolation = level }
}

// New creates a PostgreSQL cart store.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, isolation: sql.LevelReadCommitted}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithinTx runs fn in a database transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx cart.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.isolation})
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}

	if err := fn(ctx, tx{q: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return classify(fmt.Errorf("tx err: %w; rollback err: %v", err, rbErr))
		}
		return classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// ListByOwner reads the owner's lines outside of a transaction.
func (s *Store) ListByOwner(ctx context.Context, owner, productID string) ([]cart.Item, error) {
	items, err := listByOwner(ctx, s.db, owner, productID)
	return items, classify(err)
}

type tx struct {
	q querier
}

func (t tx) FindProduct(ctx context.Context, productID string) (catalog.Product, bool, error) {
	if _, err := uuid.Parse(productID); err != nil {
		return catalog.Product{}, false, nil
	}
	row := t.q.QueryRowContext(ctx, `SELECT `+catalogpg.Columns+` FROM products WHERE id = $1 FOR UPDATE`, productID)
	p, err := catalogpg.Scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Product{}, false, nil
	}
	if err != nil {
		return catalog.Product{}, false, classify(fmt.Errorf("find product: %w", err))
	}
	return p, true, nil
}

// FindLine locks the line so a concurrent delete of the same key waits for
// this unit of work, or this read waits for the delete and sees no row.
func (t tx) FindLine(ctx context.Context, owner, productID string) (cart.Line, bool, error) {
	if _, err := uuid.Parse(productID); err != nil {
		return cart.Line{}, false, nil
	}
	l := cart.Line{Owner: owner, ProductID: productID}
	err := t.q.QueryRowContext(ctx, `
		SELECT quantity, updated_at FROM cart_lines
		WHERE owner_id = $1 AND product_id = $2
		FOR UPDATE
	`, owner, productID).Scan(&l.Quantity, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cart.Line{}, false, nil
	}
	if err != nil {
		return cart.Line{}, false, classify(fmt.Errorf("find line: %w", err))
	}
	return l, true, nil
}

func (t tx) UpsertLine(ctx context.Context, l cart.Line) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO cart_lines (owner_id, product_id, quantity, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
	`, l.Owner, l.ProductID, l.Quantity, l.UpdatedAt)
	if err != nil {
		return classify(fmt.Errorf("upsert line: %w", err))
	}
	return nil
}

func (t tx) DeleteLine(ctx context.Context, owner, productID string) (bool, error) {
	if _, err := uuid.Parse(productID); err != nil {
		return false, nil
	}
	res, err := t.q.ExecContext(ctx, `DELETE FROM cart_lines WHERE owner_id = $1 AND product_id = $2`, owner, productID)
	if err != nil {
		return false, classify(fmt.Errorf("delete line: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete line: %w", err)
	}
	return n > 0, nil
}

func (t tx) ListByOwner(ctx context.Context, owner, productID string) ([]cart.Item, error) {
	items, err := listByOwner(ctx, t.q, owner, productID)
	return items, classify(err)
}

const listQuery = `
	SELECT cl.quantity, p.id, p.name, p.description, p.price, p.stock, p.seller_id, p.image_url, p.created_at, p.updated_at
	FROM cart_lines cl
	JOIN products p ON p.id = cl.product_id
	WHERE cl.owner_id = $1`

func listByOwner(ctx context.Context, q querier, owner, productID string) ([]cart.Item, error) {
	query, args := listQuery, []any{owner}
	if productID != "" {
		if _, err := uuid.Parse(productID); err != nil {
			return []cart.Item{}, nil
		}
		query += ` AND cl.product_id = $2`
		args = append(args, productID)
	}
	query += ` ORDER BY p.name, p.id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	defer rows.Close()

	items := []cart.Item{}
	for rows.Next() {
		var it cart.Item
		p := &it.Product
		if err := rows.Scan(&it.Quantity, &p.ID, &p.Name, &p.Description, &p.Price, &p.Stock,
			&p.SellerID, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	return items, nil
}

// classify turns serialization failures and deadlocks into retryable store
// conflicts. Other errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *cart.Error
	if errors.As(err, &ce) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return cart.Wrap(cart.KindStoreConflict, "store", err)
		}
	}
	return err
}
