// Package cart keeps users' cart lines consistent with product stock.
//
// Lines are keyed by owner and product. Every mutation runs as one unit of
// work against a Store: the product's stock is read and the line is written
// inside the same transaction, so a line is never written with a quantity
// above the stock observed by that transaction.
package cart

import (
	"context"
	"time"

	"cartflow/pkg/catalog"
)

// Line is the quantity of one product in one owner's cart. A stored line
// always has Quantity >= 1.
type Line struct {
	Owner     string    `json:"owner"`
	ProductID string    `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item is a cart line joined with the current product snapshot.
type Item struct {
	Quantity int64           `json:"quantity"`
	Product  catalog.Product `json:"product"`
}

// StockLedger reads product stock inside a unit of work.
type StockLedger interface {
	// FindProduct returns the product and true, or false when it does not
	// exist. Implementations lock the product row until the unit of work ends.
	FindProduct(ctx context.Context, productID string) (catalog.Product, bool, error)
}

// LineStore reads and writes cart lines.
type LineStore interface {
	FindLine(ctx context.Context, owner, productID string) (Line, bool, error)
	// UpsertLine creates the line or overwrites its quantity.
	UpsertLine(ctx context.Context, line Line) error
	// DeleteLine removes the line and reports whether one existed.
	DeleteLine(ctx context.Context, owner, productID string) (bool, error)
	// ListByOwner returns the owner's lines joined with their products. A
	// non-empty productID restricts the result to that product.
	ListByOwner(ctx context.Context, owner, productID string) ([]Item, error)
}

// Tx is the view of the store inside one unit of work.
type Tx interface {
	StockLedger
	LineStore
}

// Store opens units of work and serves reads outside of them.
type Store interface {
	// WithinTx runs fn in one atomic unit of work, committing when fn returns
	// nil and rolling back otherwise. Serialization failures are reported as
	// KindStoreConflict.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ListByOwner(ctx context.Context, owner, productID string) ([]Item, error)
}

// Invalidator drops cached reads of an owner's cart.
type Invalidator interface {
	Invalidate(ctx context.Context, owner string) error
}

// Cache stores an owner's lines per product filter. Product data is never
// cached; readers join cached lines with current products.
type Cache interface {
	Invalidator
	Get(ctx context.Context, owner, productID string) ([]Line, bool, error)
	Set(ctx context.Context, owner, productID string, lines []Line) error
}

// Products resolves current product snapshots. A missing product is reported
// as catalog.ErrNotFound.
type Products interface {
	Get(ctx context.Context, id string) (catalog.Product, error)
}

// Recorder observes cart operations.
type Recorder interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
	ObserveRetry(op string)
	ObserveCache(result string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}
func (nopRecorder) ObserveRetry(string)                            {}
func (nopRecorder) ObserveCache(string)                            {}
