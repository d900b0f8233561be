package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cartflow/pkg/catalog"
)

// Columns selected for a product, in scan order.
const Columns = "id, name, description, price, stock, seller_id, image_url, created_at, updated_at"

// Repository persists products in PostgreSQL.
type Repository struct {
	db *sql.DB
}

var _ catalog.Repository = (*Repository)(nil)

// New creates a PostgreSQL repository.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new product.
func (r *Repository) Create(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if _, err := uuid.Parse(p.ID); err != nil {
		return catalog.Product{}, fmt.Errorf("%w: id: %v", catalog.ErrInvalidInput, err)
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (`+Columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.Name, p.Description, p.Price, p.Stock, p.SellerID, p.ImageURL, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return catalog.Product{}, err
	}
	return p, nil
}

// Get retrieves a product by ID.
func (r *Repository) Get(ctx context.Context, id string) (catalog.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return catalog.Product{}, catalog.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+Columns+` FROM products WHERE id = $1`, id)
	p, err := Scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, err
}

// List fetches one page of matching products and the total match count.
func (r *Repository) List(ctx context.Context, params catalog.ListParams) (catalog.Page, error) {
	where, args := filter(params)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM products`+where, args...).Scan(&total); err != nil {
		return catalog.Page{}, err
	}

	args = append(args, params.Limit, params.Page*params.Limit)
	query := fmt.Sprintf(`SELECT %s FROM products%s ORDER BY created_at, id LIMIT $%d OFFSET $%d`,
		Columns, where, len(args)-1, len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return catalog.Page{}, err
	}
	defer rows.Close()

	items := []catalog.Product{}
	for rows.Next() {
		p, err := Scan(rows)
		if err != nil {
			return catalog.Page{}, err
		}
		items = append(items, p)
	}
	return catalog.Page{Items: items, Total: total}, rows.Err()
}

// Update updates the descriptive fields of an existing product.
func (r *Repository) Update(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	if _, err := uuid.Parse(p.ID); err != nil {
		return catalog.Product{}, catalog.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, price = $4, image_url = $5, updated_at = $6
		WHERE id = $1
		RETURNING `+Columns,
		p.ID, p.Name, p.Description, p.Price, p.ImageURL, time.Now().UTC())
	updated, err := Scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return updated, err
}

// Delete removes a product by ID.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return catalog.ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// SetStock overwrites the stock of a product.
func (r *Repository) SetStock(ctx context.Context, id string, stock int64) error {
	if _, err := uuid.Parse(id); err != nil {
		return catalog.ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, "UPDATE products SET stock = $2, updated_at = $3 WHERE id = $1", id, stock, time.Now().UTC())
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Scan reads one product selected with Columns.
func Scan(s Scanner) (catalog.Product, error) {
	var p catalog.Product
	err := s.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.SellerID, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func filter(params catalog.ListParams) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if params.SellerID != "" {
		args = append(args, params.SellerID)
		conds = append(conds, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	if params.ExcludeSellerID != "" {
		args = append(args, params.ExcludeSellerID)
		conds = append(conds, fmt.Sprintf("seller_id <> $%d", len(args)))
	}
	if params.Search != "" {
		args = append(args, "%"+params.Search+"%")
		conds = append(conds, fmt.Sprintf("(name ILIKE $%[1]d OR description ILIKE $%[1]d)", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
