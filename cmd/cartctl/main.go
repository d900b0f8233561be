// Command cartctl operates the cartflow catalog and carts from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"cartflow/pkg/cart"
	cartpg "cartflow/pkg/cart/postgres"
	"cartflow/pkg/cart/rediscache"
	"cartflow/pkg/catalog"
	catalogpg "cartflow/pkg/catalog/postgres"
	"cartflow/pkg/config"
	"cartflow/pkg/database"
	"cartflow/pkg/logger"
	"cartflow/pkg/metrics"
	"cartflow/pkg/otel"
)

const serviceName = "cartflow"

const usage = `usage: cartctl [-env file] [-metrics-file path] <command> [flags]

commands:
  migrate          apply database migrations
  product-create   create a product
  product-get      show a product
  products         search products
  stock            set a product's stock
  add              add a quantity of a product to a cart
  update           set the quantity of a product in a cart (0 removes it)
  incr             move the quantity of a product in a cart by a delta
  remove           remove a product from a cart
  items            list a cart
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("cartctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	envFile := global.String("env", ".env", "dotenv file to load")
	metricsFile := global.String("metrics-file", "", "write Prometheus metrics to this file on exit")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	log := logger.New(stderr, logger.ParseLevel(cfg.LogLevel), serviceName, otel.GetTraceID)
	defer log.Sync()

	_, shutdown, err := otel.InitTracing(log, otel.Config{
		ServiceName: serviceName,
		Host:        cfg.Tracing.Host,
		Probability: cfg.Tracing.Probability,
	})
	if err != nil {
		log.Error(ctx, "init tracing", "error", err)
		return 1
	}
	defer shutdown(context.WithoutCancel(ctx))

	if *metricsFile != "" {
		defer func() {
			if err := prometheus.WriteToTextfile(*metricsFile, metrics.Registry); err != nil {
				log.Warn(ctx, "write metrics", "path", *metricsFile, "error", err)
			}
		}()
	}

	cmd, cmdArgs := global.Arg(0), global.Args()[1:]
	if cmd == "migrate" {
		if err := database.Migrate(cfg.Database.URL); err != nil {
			log.Error(ctx, "migrate", "error", err)
			return 1
		}
		log.Info(ctx, "migrations applied")
		return 0
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "startup", "error", err)
		return 1
	}
	defer a.close()

	out, err := a.dispatch(ctx, cmd, cmdArgs, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 2
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err != nil {
		log.Debug(ctx, "command failed", "command", cmd, "error", err)
		enc.Encode(describe(err))
		return 1
	}
	if out != nil {
		enc.Encode(out)
	}
	return 0
}

type app struct {
	log      *logger.Logger
	catalog  *catalog.Service
	engine   *cart.Engine
	query    *cart.Query
	closeFns []func() error
}

func newApp(ctx context.Context, cfg config.Config, log *logger.Logger) (*app, error) {
	isolation, err := database.ParseIsolation(cfg.Database.Isolation)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(ctx, database.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	a := &app{log: log, closeFns: []func() error{db.Close}}

	opts := []cart.Option{
		cart.WithLogger(log),
		cart.WithRecorder(metrics.Cart{}),
		cart.WithMaxAttempts(cfg.Cart.MaxAttempts),
		cart.WithRetryBackoff(cfg.Cart.RetryBackoff),
		cart.WithTimeout(cfg.Cart.OpTimeout),
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closeFns = append(a.closeFns, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Reads fall through to the database when the cache is unreachable.
			log.Warn(ctx, "redis unavailable", "addr", cfg.Redis.Addr, "error", err)
		}
		opts = append(opts, cart.WithCache(rediscache.New(rdb, cfg.Redis.CacheTTL)))
	}

	store := cartpg.New(db, cartpg.WithIsolation(isolation))
	products := catalogpg.New(db)
	a.catalog = catalog.NewService(products)
	a.engine = cart.NewEngine(store, opts...)
	a.query = cart.NewQuery(store, products, opts...)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		if err := a.closeFns[i](); err != nil {
			a.log.Warn(context.Background(), "close", "error", err)
		}
	}
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string, stderr io.Writer) (any, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	parse := func() error {
		err := fs.Parse(args)
		if err == nil || errors.Is(err, flag.ErrHelp) {
			return err
		}
		return cart.Errorf(cart.KindBadRequest, cmd, "%v", err)
	}

	switch cmd {
	case "product-create":
		name := fs.String("name", "", "product name")
		desc := fs.String("description", "", "product description")
		price := fs.String("price", "0", "unit price")
		stock := fs.Int64("stock", 0, "units in stock")
		seller := fs.String("seller", "", "seller id")
		image := fs.String("image", "", "image url")
		if err := parse(); err != nil {
			return nil, err
		}
		p, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, fmt.Errorf("%w: price: %v", catalog.ErrInvalidInput, err)
		}
		return a.catalog.Create(ctx, catalog.Product{
			Name: *name, Description: *desc, Price: p, Stock: *stock, SellerID: *seller, ImageURL: *image,
		})

	case "product-get":
		id := fs.String("id", "", "product id")
		if err := parse(); err != nil {
			return nil, err
		}
		return a.catalog.Get(ctx, *id)

	case "products":
		var params catalog.ListParams
		fs.StringVar(&params.Search, "search", "", "match name or description")
		fs.StringVar(&params.SellerID, "seller", "", "only this seller")
		fs.StringVar(&params.ExcludeSellerID, "exclude-seller", "", "skip this seller")
		fs.IntVar(&params.Limit, "limit", 0, "page size")
		fs.IntVar(&params.Page, "page", 0, "zero-based page")
		if err := parse(); err != nil {
			return nil, err
		}
		return a.catalog.List(ctx, params)

	case "stock":
		id := fs.String("id", "", "product id")
		stock := fs.Int64("stock", 0, "units in stock")
		if err := parse(); err != nil {
			return nil, err
		}
		if err := a.catalog.SetStock(ctx, *id, *stock); err != nil {
			return nil, err
		}
		return a.catalog.Get(ctx, *id)

	case "add", "update", "incr":
		owner := fs.String("owner", "", "cart owner")
		product := fs.String("product", "", "product id")
		qty := fs.Int64("qty", 0, "quantity, or delta for incr")
		if err := parse(); err != nil {
			return nil, err
		}
		switch cmd {
		case "add":
			return a.engine.AddItem(ctx, *owner, *product, *qty)
		case "update":
			return a.engine.UpdateItem(ctx, *owner, *product, *qty)
		default:
			return a.engine.IncrementItem(ctx, *owner, *product, *qty)
		}

	case "remove":
		owner := fs.String("owner", "", "cart owner")
		product := fs.String("product", "", "product id")
		if err := parse(); err != nil {
			return nil, err
		}
		return nil, a.engine.RemoveItem(ctx, *owner, *product)

	case "items":
		owner := fs.String("owner", "", "cart owner")
		product := fs.String("product", "", "only this product")
		if err := parse(); err != nil {
			return nil, err
		}
		return a.query.GetItems(ctx, *owner, *product)

	default:
		return nil, cart.Errorf(cart.KindBadRequest, "", "unknown command %q", cmd)
	}
}

// describe renders catalog failures in the same shape as cart failures.
func describe(err error) cart.Failure {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return cart.Failure{ErrorCode: cart.KindNotFound.String(), Message: err.Error()}
	case errors.Is(err, catalog.ErrInvalidInput):
		return cart.Failure{ErrorCode: cart.KindBadRequest.String(), Message: err.Error()}
	}
	return cart.Describe(err)
}
