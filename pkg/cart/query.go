package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"cartflow/pkg/catalog"
	"cartflow/pkg/otel"
)

// Reader lists cart lines outside of a unit of work.
type Reader interface {
	ListByOwner(ctx context.Context, owner, productID string) ([]Item, error)
}

// Query serves the read side of carts.
type Query struct {
	reader   Reader
	products Products
	opts     options
}

// NewQuery returns a Query reading lines from reader. Cached lines are joined
// with the products they reference at read time.
func NewQuery(reader Reader, products Products, opts ...Option) *Query {
	return &Query{reader: reader, products: products, opts: newOptions(opts)}
}

// GetItems returns the owner's cart lines with their current products,
// optionally restricted to one product. An owner with nothing in the cart
// gets an empty, non-nil slice.
func (q *Query) GetItems(ctx context.Context, owner, productID string) ([]Item, error) {
	ctx, span := otel.AddSpan(ctx, "cart."+OpGet,
		attribute.String("cart.owner", owner),
		attribute.String("cart.product_id", productID),
	)
	defer span.End()

	start := time.Now()
	items, err := q.getItems(ctx, owner, productID)
	finish(ctx, q.opts, span, OpGet, start, err)
	return items, err
}

func (q *Query) getItems(ctx context.Context, owner, productID string) ([]Item, error) {
	if err := checkOwner(OpGet, owner); err != nil {
		return nil, err
	}

	if q.opts.cache != nil {
		lines, ok, err := q.opts.cache.Get(ctx, owner, productID)
		switch {
		case err != nil:
			q.opts.rec.ObserveCache("error")
			q.opts.log.Warn(ctx, "read cart cache", "owner", owner, "error", err)
		case ok:
			q.opts.rec.ObserveCache("hit")
			return q.join(ctx, lines)
		default:
			q.opts.rec.ObserveCache("miss")
		}
	}

	items, err := q.reader.ListByOwner(ctx, owner, productID)
	if err != nil {
		return nil, internal(OpGet, err)
	}
	items = nonNil(items)

	if q.opts.cache != nil {
		lines := make([]Line, 0, len(items))
		for _, it := range items {
			lines = append(lines, Line{Owner: owner, ProductID: it.Product.ID, Quantity: it.Quantity})
		}
		if err := q.opts.cache.Set(ctx, owner, productID, lines); err != nil {
			q.opts.log.Warn(ctx, "write cart cache", "owner", owner, "error", err)
		}
	}
	return items, nil
}

// join attaches the current product to each cached line. Lines whose product
// no longer exists are dropped, as the store drops them on delete.
func (q *Query) join(ctx context.Context, lines []Line) ([]Item, error) {
	items := make([]Item, 0, len(lines))
	for _, l := range lines {
		p, err := q.products.Get(ctx, l.ProductID)
		if errors.Is(err, catalog.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, internal(OpGet, err)
		}
		items = append(items, Item{Quantity: l.Quantity, Product: p})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Product.Name != items[j].Product.Name {
			return items[i].Product.Name < items[j].Product.Name
		}
		return items[i].Product.ID < items[j].Product.ID
	})
	return items, nil
}

func internal(op string, err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return fmt.Errorf("cart %s: %w", op, err)
}

func nonNil(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	return items
}
