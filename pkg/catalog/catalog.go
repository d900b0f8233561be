// Package catalog holds the product catalog: the products a seller offers and
// the stock available for each of them.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable item and its available stock.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
	SellerID    string          `json:"seller_id"`
	ImageURL    string          `json:"image_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ListParams filters and pages a product listing.
type ListParams struct {
	// Search matches name or description, case-insensitively.
	Search string
	// SellerID restricts the listing to one seller's products.
	SellerID string
	// ExcludeSellerID hides one seller's products, e.g. the caller's own.
	ExcludeSellerID string
	Limit           int
	Page            int
}

// Page is one page of a product listing.
type Page struct {
	Items []Product `json:"items"`
	Total int       `json:"total"`
}

// Repository defines behavior for persisting products.
type Repository interface {
	Create(ctx context.Context, p Product) (Product, error)
	Get(ctx context.Context, id string) (Product, error)
	List(ctx context.Context, params ListParams) (Page, error)
	Update(ctx context.Context, p Product) (Product, error)
	Delete(ctx context.Context, id string) error
	SetStock(ctx context.Context, id string, stock int64) error
}

var (
	// ErrNotFound indicates the requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInvalidInput indicates a product failed validation.
	ErrInvalidInput = errors.New("invalid product")
)
