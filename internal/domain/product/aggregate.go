package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/example/supply-marketplace/internal/domain/pricing"
	"github.com/example/supply-marketplace/internal/infrastructure/store"
	"github.com/google/uuid"
)

const Collection = "products"

var (
	ErrProductNotFound = fmt.Errorf("product %w", apperr.ErrNotFound)
	ErrInvalidPrice    = fmt.Errorf("%w: market price must be positive", apperr.ErrValidation)
	ErrInvalidName     = fmt.Errorf("%w: name is required", apperr.ErrValidation)
	ErrInvalidStock    = fmt.Errorf("%w: stock must not be negative", apperr.ErrValidation)
)

type Inventory struct {
	Stock    int    `json:"stock" validate:"gte=0"`
	Location string `json:"location"`
	Supplier string `json:"supplier"`
}

type Product struct {
	ID          string         `json:"id" validate:"required"`
	Name        string         `json:"name" validate:"required"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category"`
	Pricing     pricing.Prices `json:"pricing"`
	Inventory   Inventory      `json:"inventory"`
	IsActive    bool           `json:"isActive"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Service reads the catalog for the commerce pipeline. Save and Deactivate
// are used by catalog management and seeding.
type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(s store.Store) *Service {
	return &Service{store: s, now: time.Now}
}

func (s *Service) Get(ctx context.Context, productID string) (*Product, error) {
	doc, err := s.store.Get(ctx, Collection, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, err
	}
	return store.Decode[Product](doc)
}

// List returns active products, optionally restricted to one category.
func (s *Service) List(ctx context.Context, category string) ([]*Product, error) {
	q := store.Query{
		Collection: Collection,
		Filters:    []store.Filter{store.Eq("isActive", true)},
		OrderBy:    "name",
	}
	if category != "" {
		q.Filters = append(q.Filters, store.Eq("category", category))
	}
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[Product](docs)
}

func (s *Service) Save(ctx context.Context, p Product) (*Product, error) {
	if p.Name == "" {
		return nil, ErrInvalidName
	}
	if !p.Pricing.MarketPrice.IsPositive() {
		return nil, ErrInvalidPrice
	}
	if p.Inventory.Stock < 0 {
		return nil, ErrInvalidStock
	}

	now := s.now()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if _, err := s.store.Put(ctx, Collection, p.ID, p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) Deactivate(ctx context.Context, productID string) error {
	p, err := s.Get(ctx, productID)
	if err != nil {
		return err
	}
	p.IsActive = false
	p.UpdatedAt = s.now()
	_, err = s.store.Put(ctx, Collection, p.ID, p)
	return err
}
