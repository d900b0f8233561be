package cart

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cartflow/pkg/catalog"
	"cartflow/pkg/otel"
)

// Operation names used in errors, spans, logs and metrics.
const (
	OpAdd       = "add"
	OpUpdate    = "update"
	OpIncrement = "increment"
	OpRemove    = "remove"
	OpGet       = "get"
)

// Engine mutates cart lines while keeping each written quantity within the
// product stock observed by the same unit of work.
type Engine struct {
	store Store
	opts  options
}

// NewEngine returns an Engine running its units of work on store.
func NewEngine(store Store, opts ...Option) *Engine {
	return &Engine{store: store, opts: newOptions(opts)}
}

// AddItem adds qty of a product to the owner's cart. When the line already
// exists the new total is validated and written as UpdateItem would.
func (e *Engine) AddItem(ctx context.Context, owner, productID string, qty int64) (Line, error) {
	if err := checkKey(OpAdd, owner, productID); err != nil {
		return Line{}, err
	}
	if qty <= 0 {
		return Line{}, Errorf(KindBadRequest, OpAdd, "quantity must be positive, got %d", qty)
	}

	return e.mutate(ctx, OpAdd, owner, productID, func(ctx context.Context, tx Tx) (Line, error) {
		p, err := findProduct(ctx, tx, OpAdd, productID)
		if err != nil {
			return Line{}, err
		}
		current, err := currentQuantity(ctx, tx, owner, productID)
		if err != nil {
			return Line{}, err
		}
		if exceedsStock(current, qty, p.Stock) {
			return Line{}, insufficient(OpAdd, p, current, qty)
		}
		return write(ctx, tx, OpAdd, owner, productID, current+qty)
	})
}

// UpdateItem sets the quantity of a product in the owner's cart. A zero
// quantity removes the line and, like RemoveItem, fails with KindNotFound when
// there is no line to remove.
func (e *Engine) UpdateItem(ctx context.Context, owner, productID string, qty int64) (Line, error) {
	if err := checkKey(OpUpdate, owner, productID); err != nil {
		return Line{}, err
	}
	if qty < 0 {
		return Line{}, Errorf(KindBadRequest, OpUpdate, "quantity must not be negative, got %d", qty)
	}

	return e.mutate(ctx, OpUpdate, owner, productID, func(ctx context.Context, tx Tx) (Line, error) {
		p, err := findProduct(ctx, tx, OpUpdate, productID)
		if err != nil {
			return Line{}, err
		}
		if qty > p.Stock {
			current, err := currentQuantity(ctx, tx, owner, productID)
			if err != nil {
				return Line{}, err
			}
			return Line{}, insufficientTotal(OpUpdate, p, current, qty)
		}
		return write(ctx, tx, OpUpdate, owner, productID, qty)
	})
}

// IncrementItem moves the quantity of a product in the owner's cart by delta,
// which may be negative. Reaching zero removes the line.
func (e *Engine) IncrementItem(ctx context.Context, owner, productID string, delta int64) (Line, error) {
	if err := checkKey(OpIncrement, owner, productID); err != nil {
		return Line{}, err
	}
	if delta == 0 {
		return Line{}, Errorf(KindBadRequest, OpIncrement, "delta must not be zero")
	}

	return e.mutate(ctx, OpIncrement, owner, productID, func(ctx context.Context, tx Tx) (Line, error) {
		p, err := findProduct(ctx, tx, OpIncrement, productID)
		if err != nil {
			return Line{}, err
		}
		current, err := currentQuantity(ctx, tx, owner, productID)
		if err != nil {
			return Line{}, err
		}
		if delta < 0 && current+delta < 0 {
			return Line{}, Errorf(KindBadRequest, OpIncrement,
				"cannot remove %d of product %s: only %d in cart", -delta, productID, current)
		}
		if exceedsStock(current, delta, p.Stock) {
			return Line{}, insufficient(OpIncrement, p, current, delta)
		}
		return write(ctx, tx, OpIncrement, owner, productID, current+delta)
	})
}

// RemoveItem deletes the product's line from the owner's cart. It fails with
// KindNotFound when there is no such line.
func (e *Engine) RemoveItem(ctx context.Context, owner, productID string) error {
	if err := checkKey(OpRemove, owner, productID); err != nil {
		return err
	}

	_, err := e.mutate(ctx, OpRemove, owner, productID, func(ctx context.Context, tx Tx) (Line, error) {
		return Line{}, deleteLine(ctx, tx, OpRemove, owner, productID)
	})
	return err
}

// write stores qty as the line's quantity. Zero deletes the line.
func write(ctx context.Context, tx Tx, op, owner, productID string, qty int64) (Line, error) {
	if qty == 0 {
		if err := deleteLine(ctx, tx, op, owner, productID); err != nil {
			return Line{}, err
		}
		return Line{Owner: owner, ProductID: productID}, nil
	}

	line := Line{Owner: owner, ProductID: productID, Quantity: qty, UpdatedAt: time.Now().UTC()}
	if err := tx.UpsertLine(ctx, line); err != nil {
		return Line{}, err
	}
	return line, nil
}

func (e *Engine) mutate(ctx context.Context, op, owner, productID string, fn func(context.Context, Tx) (Line, error)) (Line, error) {
	ctx, span := otel.AddSpan(ctx, "cart."+op,
		attribute.String("cart.owner", owner),
		attribute.String("cart.product_id", productID),
	)
	defer span.End()

	if e.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.timeout)
		defer cancel()
	}

	start := time.Now()
	line, err := e.run(ctx, op, fn)
	finish(ctx, e.opts, span, op, start, err)
	if err != nil {
		return Line{}, err
	}

	if line.Quantity == 0 {
		e.opts.log.Debug(ctx, "cart line deleted", "op", op, "owner", owner, "product_id", productID)
	} else {
		e.opts.log.Debug(ctx, "cart line written", "op", op, "owner", owner, "product_id", productID, "quantity", line.Quantity)
	}
	if e.opts.cache != nil {
		// The write is committed; a canceled caller must not leave a stale cache behind.
		if err := e.opts.cache.Invalidate(context.WithoutCancel(ctx), owner); err != nil {
			e.opts.log.Warn(ctx, "invalidate cart cache", "owner", owner, "error", err)
		}
	}
	return line, nil
}

// run executes fn in a unit of work, retrying store conflicts up to
// maxAttempts times in total.
func (e *Engine) run(ctx context.Context, op string, fn func(context.Context, Tx) (Line, error)) (Line, error) {
	attempt := 0
	operation := func() (Line, error) {
		attempt++
		if attempt > 1 {
			e.opts.rec.ObserveRetry(op)
			e.opts.log.Warn(ctx, "retrying cart unit of work", "op", op, "attempt", attempt)
		}

		var line Line
		err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			line, err = fn(ctx, tx)
			return err
		})
		switch {
		case err == nil:
			return line, nil
		case Retryable(err):
			return Line{}, err
		default:
			return Line{}, backoff.Permanent(err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.retryBackoff
	line, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(e.opts.maxAttempts),
	)
	if err == nil {
		return line, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return Line{}, internal(op, err)
}

func finish(ctx context.Context, o options, span trace.Span, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		kind := KindOf(err)
		outcome = strings.ToLower(kind.String())
		span.SetAttributes(attribute.String("cart.outcome", outcome))

		switch kind {
		case KindInternal:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.log.Error(ctx, "cart operation failed", "op", op, "error", err)
		case KindStoreConflict:
			span.RecordError(err)
			span.SetStatus(codes.Error, "store conflict")
			o.log.Warn(ctx, "cart operation conflicted", "op", op, "error", err)
		default:
			o.log.Debug(ctx, "cart operation rejected", "op", op, "kind", kind.String(), "error", err)
		}
	}
	o.rec.ObserveOperation(op, outcome, time.Since(start))
}

func findProduct(ctx context.Context, tx Tx, op, productID string) (catalog.Product, error) {
	p, ok, err := tx.FindProduct(ctx, productID)
	if err != nil {
		return catalog.Product{}, err
	}
	if !ok {
		return catalog.Product{}, Errorf(KindNotFound, op, "product %s not found", productID)
	}
	return p, nil
}

// deleteLine removes the line. Every delete path reports a missing line as
// KindNotFound so a lost write is never silently absorbed.
func deleteLine(ctx context.Context, tx Tx, op, owner, productID string) error {
	deleted, err := tx.DeleteLine(ctx, owner, productID)
	if err != nil {
		return err
	}
	if !deleted {
		return Errorf(KindNotFound, op, "product %s is not in the cart", productID)
	}
	return nil
}

func currentQuantity(ctx context.Context, tx Tx, owner, productID string) (int64, error) {
	line, ok, err := tx.FindLine(ctx, owner, productID)
	if err != nil || !ok {
		return 0, err
	}
	return line.Quantity, nil
}

// exceedsStock reports whether current+delta > stock without overflowing.
func exceedsStock(current, delta, stock int64) bool {
	return delta > stock-current
}

func insufficient(op string, p catalog.Product, current, delta int64) *Error {
	return Errorf(KindInsufficientStock, op,
		"insufficient stock for product %s: requested %d more, %d in cart, %d in stock",
		p.ID, delta, current, p.Stock)
}

func insufficientTotal(op string, p catalog.Product, current, qty int64) *Error {
	return Errorf(KindInsufficientStock, op,
		"insufficient stock for product %s: requested %d, %d in cart, %d in stock",
		p.ID, qty, current, p.Stock)
}

func checkOwner(op, owner string) error {
	if strings.TrimSpace(owner) == "" {
		return Errorf(KindBadRequest, op, "owner is required")
	}
	return nil
}

func checkKey(op, owner, productID string) error {
	if err := checkOwner(op, owner); err != nil {
		return err
	}
	if strings.TrimSpace(productID) == "" {
		return Errorf(KindBadRequest, op, "product id is required")
	}
	return nil
}
