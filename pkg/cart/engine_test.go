package cart_test

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"cartflow/pkg/cart"
	cartmem "cartflow/pkg/cart/memory"
	"cartflow/pkg/catalog"
	catalogmem "cartflow/pkg/catalog/memory"
	"cartflow/pkg/logger"
)

type fixture struct {
	products *catalogmem.Repository
	store    *cartmem.Store
}

func newFixture() *fixture {
	products := catalogmem.New()
	return &fixture{products: products, store: cartmem.New(products)}
}

func (f *fixture) product(t *testing.T, name string, stock int64) catalog.Product {
	t.Helper()
	p, err := f.products.Create(context.Background(), catalog.Product{
		Name: name, Price: decimal.NewFromInt(2), Stock: stock, SellerID: "seller-1",
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) quantity(t *testing.T, owner, productID string) int64 {
	t.Helper()
	items, err := f.store.ListByOwner(context.Background(), owner, productID)
	require.NoError(t, err)
	if len(items) == 0 {
		return 0
	}
	require.Len(t, items, 1)
	return items[0].Quantity
}

func TestAddItem(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 10)
	engine := cart.NewEngine(f.store)
	ctx := context.Background()

	line, err := engine.AddItem(ctx, "u1", p.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), line.Quantity)

	_, err = engine.AddItem(ctx, "u1", p.ID, 6)
	require.ErrorIs(t, err, cart.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "5 in cart")
	assert.Contains(t, err.Error(), "10 in stock")
	assert.Equal(t, int64(5), f.quantity(t, "u1", p.ID))

	line, err = engine.AddItem(ctx, "u1", p.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(10), line.Quantity)
}

func TestAddItemMatchesUpdateOfTotal(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 10)
	engine := cart.NewEngine(f.store)
	ctx := context.Background()

	_, err := engine.AddItem(ctx, "u1", p.ID, 3)
	require.NoError(t, err)
	_, err = engine.AddItem(ctx, "u1", p.ID, 4)
	require.NoError(t, err)

	_, err = engine.UpdateItem(ctx, "u2", p.ID, 7)
	require.NoError(t, err)

	items, err := f.store.ListByOwner(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, items, 1, "add on an existing line must not duplicate it")
	assert.Equal(t, f.quantity(t, "u2", p.ID), items[0].Quantity)
}

func TestProductNotFound(t *testing.T) {
	f := newFixture()
	engine := cart.NewEngine(f.store)
	ctx := context.Background()

	_, err := engine.AddItem(ctx, "u1", "missing", 1)
	require.ErrorIs(t, err, cart.ErrNotFound)
	_, err = engine.UpdateItem(ctx, "u1", "missing", 1)
	require.ErrorIs(t, err, cart.ErrNotFound)
	_, err = engine.IncrementItem(ctx, "u1", "missing", 1)
	require.ErrorIs(t, err, cart.ErrNotFound)

	items, err := f.store.ListByOwner(ctx, "u1", "")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestUpdateItem(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 10)
	engine := cart.NewEngine(f.store)
	ctx := context.Background()

	line, err := engine.UpdateItem(ctx, "u1", p.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), line.Quantity)

	_, err = engine.UpdateItem(ctx, "u1", p.ID, 11)
	require.ErrorIs(t, err, cart.ErrInsufficientStock)
	assert.Equal(t, int64(10), f.quantity(t, "u1", p.ID))

	line, err = engine.UpdateItem(ctx, "u1", p.ID, 0)
	require.NoError(t, err)
	assert.Zero(t, line.Quantity)
	assert.Zero(t, f.quantity(t, "u1", p.ID))
}

func TestIncrementItem(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 10)
	engine := cart.NewEngine(f.store)
	ctx := context.Background()

	_, err := engine.UpdateItem(ctx, "u1", p.ID, 3)
	require.NoError(t, err)

	_, err = engine.IncrementItem(ctx, "u1", p.ID, 8)
	require.ErrorIs(t, err, cart.ErrInsufficientStock)
	assert.Equal(t, int64(3), f.quantity(t, "u1", p.ID))

	line, err := engine.IncrementItem(ctx, "u1", p.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(10), line.Quantity)

	_, err = engine.IncrementItem(ctx, "u1", p.ID, -11)
	require.ErrorIs(t, err, cart.ErrBadRequest)

	line, err = engine.IncrementItem(ctx, "u1", p.ID, -4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), line.Quantity)

	line, err = engine.IncrementItem(ctx, "u1", p.ID, -6)
	require.NoError(t, err)
	assert.Zero(t, line.Quantity)
	assert.Zero(t, f.quantity(t, "u1", p.ID))
}

func TestIncrementCreatesLine(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 4)
	engine := cart.NewEngine(f.store)

	line, err := engine.IncrementItem(context.Background(), "u1", p.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), line.Quantity)
}

func TestDeleteConventionIsStrictEverywhere(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 10)
	engine := cart.NewEngine(f.store)
	ctx := context.Background()

	_, err := engine.AddItem(ctx, "u1", p.ID, 2)
	require.NoError(t, err)

	require.NoError(t, engine.RemoveItem(ctx, "u1", p.ID))
	assert.ErrorIs(t, engine.RemoveItem(ctx, "u1", p.ID), cart.ErrNotFound)

	_, err = engine.UpdateItem(ctx, "u1", p.ID, 0)
	assert.ErrorIs(t, err, cart.ErrNotFound)
}

func TestRemoveItemDoesNotNeedProduct(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 10)
	engine := cart.NewEngine(f.store)
	ctx := context.Background()

	_, err := engine.AddItem(ctx, "u1", p.ID, 2)
	require.NoError(t, err)
	require.NoError(t, f.products.SetStock(ctx, p.ID, 0))

	require.NoError(t, engine.RemoveItem(ctx, "u1", p.ID))
}

func TestDeletesAreLoggedAsDeletes(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 10)
	var buf bytes.Buffer
	engine := cart.NewEngine(f.store, cart.WithLogger(logger.New(&buf, logger.LevelDebug, "test", nil)))
	ctx := context.Background()

	_, err := engine.AddItem(ctx, "u1", p.ID, 2)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"cart line written"`)

	buf.Reset()
	require.NoError(t, engine.RemoveItem(ctx, "u1", p.ID))
	assert.Contains(t, buf.String(), `"msg":"cart line deleted"`)
	assert.NotContains(t, buf.String(), "cart line written")

	_, err = engine.AddItem(ctx, "u1", p.ID, 1)
	require.NoError(t, err)
	buf.Reset()
	_, err = engine.IncrementItem(ctx, "u1", p.ID, -1)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"cart line deleted"`)
	assert.NotContains(t, buf.String(), `"quantity"`)
}

func TestStockDropBelowCart(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 10)
	engine := cart.NewEngine(f.store)
	ctx := context.Background()

	_, err := engine.AddItem(ctx, "u1", p.ID, 8)
	require.NoError(t, err)
	require.NoError(t, f.products.SetStock(ctx, p.ID, 5))

	// Lowering the quantity is still rejected while it stays above stock.
	_, err = engine.IncrementItem(ctx, "u1", p.ID, -1)
	require.ErrorIs(t, err, cart.ErrInsufficientStock)

	line, err := engine.IncrementItem(ctx, "u1", p.ID, -3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), line.Quantity)
}

func TestInputValidation(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 10)
	engine := cart.NewEngine(f.store)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"add zero", func() error { _, err := engine.AddItem(ctx, "u1", p.ID, 0); return err }},
		{"add negative", func() error { _, err := engine.AddItem(ctx, "u1", p.ID, -1); return err }},
		{"update negative", func() error { _, err := engine.UpdateItem(ctx, "u1", p.ID, -1); return err }},
		{"increment zero", func() error { _, err := engine.IncrementItem(ctx, "u1", p.ID, 0); return err }},
		{"empty owner", func() error { _, err := engine.AddItem(ctx, " ", p.ID, 1); return err }},
		{"empty product", func() error { return engine.RemoveItem(ctx, "u1", "") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			assert.ErrorIs(t, err, cart.ErrBadRequest)
			assert.Equal(t, 400, cart.HTTPStatus(err))
		})
	}
}

func TestConcurrentAddItem(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 10)
	engine := cart.NewEngine(f.store)
	ctx := context.Background()

	var (
		g        errgroup.Group
		ok, fail atomic.Int32
	)
	for range 2 {
		g.Go(func() error {
			_, err := engine.AddItem(ctx, "u1", p.ID, 6)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, cart.ErrInsufficientStock):
				fail.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), fail.Load())
	assert.Equal(t, int64(6), f.quantity(t, "u1", p.ID))
}

func TestQuantityNeverExceedsStock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	products := []catalog.Product{f.product(t, "a", 5), f.product(t, "b", 12), f.product(t, "c", 1)}
	engine := cart.NewEngine(f.store)
	r := rand.New(rand.NewSource(42))

	for range 500 {
		p := products[r.Intn(len(products))]
		var (
			line cart.Line
			err  error
		)
		switch r.Intn(4) {
		case 0:
			line, err = engine.AddItem(ctx, "u1", p.ID, int64(r.Intn(4)+1))
		case 1:
			line, err = engine.UpdateItem(ctx, "u1", p.ID, int64(r.Intn(8)))
		case 2:
			delta := int64(r.Intn(3) + 1)
			if r.Intn(2) == 0 {
				delta = -delta
			}
			line, err = engine.IncrementItem(ctx, "u1", p.ID, delta)
		case 3:
			require.NoError(t, f.products.SetStock(ctx, p.ID, int64(r.Intn(10))))
			continue
		}
		if err != nil {
			require.NotEqual(t, cart.KindInternal, cart.KindOf(err), err)
			continue
		}
		current, err := f.products.Get(ctx, p.ID)
		require.NoError(t, err)
		require.LessOrEqual(t, line.Quantity, current.Stock)
		require.Equal(t, line.Quantity, f.quantity(t, "u1", p.ID))
	}
}

// conflictingStore fails the first n units of work with a store conflict.
type conflictingStore struct {
	cart.Store
	mu sync.Mutex
	n  int
	tx int
}

func (s *conflictingStore) WithinTx(ctx context.Context, fn func(context.Context, cart.Tx) error) error {
	s.mu.Lock()
	s.tx++
	fail := s.tx <= s.n
	s.mu.Unlock()
	if fail {
		return cart.Errorf(cart.KindStoreConflict, "store", "could not serialize access")
	}
	return s.Store.WithinTx(ctx, fn)
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	retries  int
	cache    map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{outcomes: map[string]int{}, cache: map[string]int{}}
}

func (r *countingRecorder) ObserveOperation(op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[op+"/"+outcome]++
}

func (r *countingRecorder) ObserveRetry(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *countingRecorder) ObserveCache(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[result]++
}

func TestStoreConflictIsRetried(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 10)
	store := &conflictingStore{Store: f.store, n: 2}
	rec := newCountingRecorder()
	engine := cart.NewEngine(store, cart.WithRecorder(rec), cart.WithRetryBackoff(time.Millisecond))

	line, err := engine.AddItem(context.Background(), "u1", p.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), line.Quantity)
	assert.Equal(t, 3, store.tx)
	assert.Equal(t, 2, rec.retries)
	assert.Equal(t, 1, rec.outcomes["add/ok"])
}

func TestStoreConflictExhaustsAttempts(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 10)
	store := &conflictingStore{Store: f.store, n: 10}
	rec := newCountingRecorder()
	engine := cart.NewEngine(store, cart.WithRecorder(rec), cart.WithMaxAttempts(4), cart.WithRetryBackoff(time.Millisecond))

	_, err := engine.AddItem(context.Background(), "u1", p.ID, 2)
	require.ErrorIs(t, err, cart.ErrStoreConflict)
	assert.True(t, cart.Retryable(err))
	assert.Equal(t, 409, cart.HTTPStatus(err))
	assert.Equal(t, 4, store.tx)
	assert.Equal(t, 1, rec.outcomes["add/store_conflict"])
	assert.Zero(t, f.quantity(t, "u1", p.ID))
}

func TestBusinessErrorsAreNotRetried(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 1)
	store := &conflictingStore{Store: f.store}
	engine := cart.NewEngine(store, cart.WithRetryBackoff(time.Millisecond))

	_, err := engine.AddItem(context.Background(), "u1", p.ID, 2)
	require.ErrorIs(t, err, cart.ErrInsufficientStock)
	assert.Equal(t, 1, store.tx)
}

func TestCanceledContext(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 10)
	engine := cart.NewEngine(f.store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.AddItem(ctx, "u1", p.ID, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, cart.KindInternal, cart.KindOf(err))
	assert.Zero(t, f.quantity(t, "u1", p.ID))
}

// blockingStore waits for the unit of work's context to end.
type blockingStore struct {
	cart.Store
}

func (blockingStore) WithinTx(ctx context.Context, _ func(context.Context, cart.Tx) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestOperationTimeout(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 10)
	engine := cart.NewEngine(blockingStore{f.store}, cart.WithTimeout(10*time.Millisecond))

	_, err := engine.UpdateItem(context.Background(), "u1", p.ID, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// fakeCache is an in-process cart.Cache.
type fakeCache struct {
	mu          sync.Mutex
	entries     map[string][]cart.Line
	invalidated []string
	err         error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]cart.Line{}}
}

func (c *fakeCache) Get(_ context.Context, owner, productID string) ([]cart.Line, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	items, ok := c.entries[owner+"|"+productID]
	return items, ok, nil
}

func (c *fakeCache) Set(_ context.Context, owner, productID string, lines []cart.Line) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.entries[owner+"|"+productID] = lines
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.invalidated = append(c.invalidated, owner)
	for k := range c.entries {
		if len(k) > len(owner) && k[:len(owner)+1] == owner+"|" {
			delete(c.entries, k)
		}
	}
	return nil
}

func TestMutationsInvalidateCache(t *testing.T) {
	f := newFixture()
	p := f.product(t, "mug", 10)
	cache := newFakeCache()
	engine := cart.NewEngine(f.store, cart.WithCache(cache))
	ctx := context.Background()

	_, err := engine.AddItem(ctx, "u1", p.ID, 1)
	require.NoError(t, err)
	_, err = engine.AddItem(ctx, "u1", p.ID, 100)
	require.Error(t, err)
	require.NoError(t, engine.RemoveItem(ctx, "u1", p.ID))

	assert.Equal(t, []string{"u1", "u1"}, cache.invalidated, "only committed mutations invalidate")
}
