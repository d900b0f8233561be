// Package memory implements an in-memory cart store.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"cartflow/pkg/cart"
	"cartflow/pkg/catalog"
)

type key struct {
	owner     string
	productID string
}

// Store keeps cart lines in a map. Units of work run one at a time and their
// writes become visible only when they commit.
type Store struct {
	products cart.Products

	mu    sync.Mutex
	lines map[key]cart.Line
}

var _ cart.Store = (*Store)(nil)

// New creates an empty store resolving products through products.
func New(products cart.Products) *Store {
	return &Store{products: products, lines: make(map[key]cart.Line)}
}

// WithinTx runs fn with exclusive access to the store. Writes made by fn are
// applied only when fn returns nil and ctx is still live.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx cart.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{store: s, staged: make(map[key]*cart.Line)}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for k, l := range t.staged {
		if l == nil {
			delete(s.lines, k)
			continue
		}
		s.lines[k] = *l
	}
	return nil
}

// ListByOwner returns the owner's committed lines ordered by product name.
func (s *Store) ListByOwner(ctx context.Context, owner, productID string) ([]cart.Item, error) {
	s.mu.Lock()
	lines := make([]cart.Line, 0)
	for k, l := range s.lines {
		if k.owner == owner && (productID == "" || k.productID == productID) {
			lines = append(lines, l)
		}
	}
	s.mu.Unlock()

	return s.join(ctx, lines)
}

func (s *Store) join(ctx context.Context, lines []cart.Line) ([]cart.Item, error) {
	items := make([]cart.Item, 0, len(lines))
	for _, l := range lines {
		p, err := s.products.Get(ctx, l.ProductID)
		if errors.Is(err, catalog.ErrNotFound) {
			// The product was deleted; its lines go with it.
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, cart.Item{Quantity: l.Quantity, Product: p})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Product.Name != items[j].Product.Name {
			return items[i].Product.Name < items[j].Product.Name
		}
		return items[i].Product.ID < items[j].Product.ID
	})
	return items, nil
}

// tx is one unit of work. A nil staged entry marks a deleted line.
type tx struct {
	store  *Store
	staged map[key]*cart.Line
}

func (t *tx) FindProduct(ctx context.Context, productID string) (catalog.Product, bool, error) {
	p, err := t.store.products.Get(ctx, productID)
	if errors.Is(err, catalog.ErrNotFound) {
		return catalog.Product{}, false, nil
	}
	if err != nil {
		return catalog.Product{}, false, err
	}
	return p, true, nil
}

func (t *tx) FindLine(_ context.Context, owner, productID string) (cart.Line, bool, error) {
	l, ok := t.lookup(key{owner, productID})
	return l, ok, nil
}

func (t *tx) UpsertLine(_ context.Context, line cart.Line) error {
	if line.Quantity <= 0 {
		return cart.Errorf(cart.KindInternal, "upsert", "refusing to store quantity %d", line.Quantity)
	}
	t.staged[key{line.Owner, line.ProductID}] = &line
	return nil
}

func (t *tx) DeleteLine(_ context.Context, owner, productID string) (bool, error) {
	k := key{owner, productID}
	_, ok := t.lookup(k)
	t.staged[k] = nil
	return ok, nil
}

func (t *tx) ListByOwner(ctx context.Context, owner, productID string) ([]cart.Item, error) {
	lines := make([]cart.Line, 0)
	for k, l := range t.store.lines {
		if k.owner != owner || (productID != "" && k.productID != productID) {
			continue
		}
		if _, staged := t.staged[k]; !staged {
			lines = append(lines, l)
		}
	}
	for k, l := range t.staged {
		if l != nil && k.owner == owner && (productID == "" || k.productID == productID) {
			lines = append(lines, *l)
		}
	}
	return t.store.join(ctx, lines)
}

func (t *tx) lookup(k key) (cart.Line, bool) {
	if l, staged := t.staged[k]; staged {
		if l == nil {
			return cart.Line{}, false
		}
		return *l, true
	}
	l, ok := t.store.lines[k]
	return l, ok
}
