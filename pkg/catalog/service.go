package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Service validates catalog requests before they reach the repository.
type Service struct {
	repo Repository
}

// NewService returns a Service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create validates and stores a new product.
func (s *Service) Create(ctx context.Context, p Product) (Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.SellerID = strings.TrimSpace(p.SellerID)
	if err := validate(p); err != nil {
		return Product{}, err
	}
	return s.repo.Create(ctx, p)
}

// Get returns the product with the given id.
func (s *Service) Get(ctx context.Context, id string) (Product, error) {
	if strings.TrimSpace(id) == "" {
		return Product{}, ErrInvalidInput
	}
	return s.repo.Get(ctx, id)
}

// List returns one page of products matching params. Limit defaults to 10 and
// is capped at 100; pages are zero-based.
func (s *Service) List(ctx context.Context, params ListParams) (Page, error) {
	params.Search = strings.TrimSpace(params.Search)
	if params.Limit <= 0 {
		params.Limit = defaultLimit
	}
	if params.Limit > maxLimit {
		params.Limit = maxLimit
	}
	if params.Page < 0 {
		params.Page = 0
	}
	page, err := s.repo.List(ctx, params)
	if err != nil {
		return Page{}, err
	}
	if page.Items == nil {
		page.Items = []Product{}
	}
	return page, nil
}

// Update applies the non-empty fields of patch to the stored product. Stock
// is not touched here; use SetStock.
func (s *Service) Update(ctx context.Context, patch Product) (Product, error) {
	current, err := s.Get(ctx, patch.ID)
	if err != nil {
		return Product{}, err
	}
	if name := strings.TrimSpace(patch.Name); name != "" {
		current.Name = name
	}
	if patch.Description != "" {
		current.Description = patch.Description
	}
	if !patch.Price.IsZero() {
		current.Price = patch.Price
	}
	if patch.ImageURL != "" {
		current.ImageURL = patch.ImageURL
	}
	if err := validate(current); err != nil {
		return Product{}, err
	}
	return s.repo.Update(ctx, current)
}

// Delete removes the product with the given id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidInput
	}
	return s.repo.Delete(ctx, id)
}

// SetStock overwrites the available stock of a product. Restocking and order
// fulfilment go through here; carts only ever read stock.
func (s *Service) SetStock(ctx context.Context, id string, stock int64) error {
	if strings.TrimSpace(id) == "" || stock < 0 {
		return ErrInvalidInput
	}
	return s.repo.SetStock(ctx, id, stock)
}

func validate(p Product) error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	case p.SellerID == "":
		return fmt.Errorf("%w: seller is required", ErrInvalidInput)
	case p.Price.LessThan(decimal.Zero):
		return fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	case p.Stock < 0:
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidInput)
	}
	return nil
}
