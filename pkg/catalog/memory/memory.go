// Package memory implements an in-memory product repository.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cartflow/pkg/catalog"
)

// Repository provides an in-memory implementation of catalog.Repository.
type Repository struct {
	mu       sync.RWMutex
	products map[string]catalog.Product
}

var _ catalog.Repository = (*Repository)(nil)

// New creates a new in-memory repository.
func New() *Repository {
	return &Repository{products: make(map[string]catalog.Product)}
}

// Create stores the product, assigning an id when none is set.
func (r *Repository) Create(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
	return p, nil
}

// Get retrieves a product by ID.
func (r *Repository) Get(ctx context.Context, id string) (catalog.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

// List returns the matching products ordered by creation time.
func (r *Repository) List(ctx context.Context, params catalog.ListParams) (catalog.Page, error) {
	r.mu.RLock()
	matched := make([]catalog.Product, 0, len(r.products))
	for _, p := range r.products {
		if matches(p, params) {
			matched = append(matched, p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	page := catalog.Page{Items: []catalog.Product{}, Total: len(matched)}
	start := params.Page * params.Limit
	if params.Limit <= 0 || start >= len(matched) {
		return page, nil
	}
	end := min(start+params.Limit, len(matched))
	page.Items = append(page.Items, matched[start:end]...)
	return page, nil
}

// Update replaces an existing product, keeping its stock and creation time.
func (r *Repository) Update(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.products[p.ID]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	p.Stock = existing.Stock
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	r.products[p.ID] = p
	return p, nil
}

// Delete removes a product by ID.
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return catalog.ErrNotFound
	}
	delete(r.products, id)
	return nil
}

// SetStock overwrites the stock of a product.
func (r *Repository) SetStock(ctx context.Context, id string, stock int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return catalog.ErrNotFound
	}
	p.Stock = stock
	p.UpdatedAt = time.Now().UTC()
	r.products[id] = p
	return nil
}

func matches(p catalog.Product, params catalog.ListParams) bool {
	if params.SellerID != "" && p.SellerID != params.SellerID {
		return false
	}
	if params.ExcludeSellerID != "" && p.SellerID == params.ExcludeSellerID {
		return false
	}
	if params.Search == "" {
		return true
	}
	q := strings.ToLower(params.Search)
	return strings.Contains(strings.ToLower(p.Name), q) ||
		strings.Contains(strings.ToLower(p.Description), q)
}
