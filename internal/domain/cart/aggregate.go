package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/example/supply-marketplace/internal/domain/pricing"
	"github.com/example/supply-marketplace/internal/domain/product"
	"github.com/example/supply-marketplace/internal/infrastructure/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	Collection = "cart_items"

	// maxWriteAttempts bounds compare-and-swap retries on a single cart item.
	maxWriteAttempts = 3
	// productFetchLimit bounds concurrent product reads while pricing a cart.
	productFetchLimit = 8
)

var (
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be positive", apperr.ErrValidation)
	ErrInvalidProduct  = fmt.Errorf("%w: productId is required", apperr.ErrValidation)
	ErrItemNotFound    = fmt.Errorf("cart %w", apperr.ErrItemNotFound)
)

// Item is the stored form of one cart line, unique per (userId, productId).
type Item struct {
	UserID            string          `json:"userId" validate:"required"`
	ProductID         string          `json:"productId" validate:"required"`
	Quantity          int             `json:"quantity" validate:"gt=0"`
	UnitPriceSnapshot decimal.Decimal `json:"unitPriceSnapshot"`
	AddedAt           time.Time       `json:"addedAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func itemID(userID, productID string) string {
	return userID + ":" + productID
}

// Line is a cart item priced against current product data.
type Line struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
	Available bool            `json:"available"`
	AddedAt   time.Time       `json:"addedAt"`
}

// Cart is derived on every read and never stored as a whole.
type Cart struct {
	UserID      string          `json:"userId"`
	Items       []Line          `json:"items"`
	TotalItems  int             `json:"totalItems"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Warnings    []string        `json:"warnings,omitempty"`
}

type Service struct {
	store    store.Store
	products *product.Service
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(s store.Store, products *product.Service, logger *zap.Logger) *Service {
	return &Service{
		store:    s,
		products: products,
		logger:   logger.Named("cart"),
		now:      time.Now,
	}
}

// AddToCart adds quantity of a product, incrementing an existing line.
func (s *Service) AddToCart(ctx context.Context, userID string, tier pricing.Tier, productID string, quantity int) (*Item, error) {
	if productID == "" {
		return nil, ErrInvalidProduct
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, fmt.Errorf("%w: %s", product.ErrProductNotFound, productID)
	}

	id := itemID(userID, productID)
	for attempt := 1; ; attempt++ {
		now := s.now()
		item := Item{UserID: userID, ProductID: productID, Quantity: quantity, AddedAt: now}
		expected := store.MustNotExist

		existing, version, err := s.load(ctx, userID, productID)
		switch {
		case err == nil:
			item = *existing
			item.Quantity += quantity
			expected = version
		case !errors.Is(err, ErrItemNotFound):
			return nil, err
		}
		item.UnitPriceSnapshot, _ = pricing.UnitPrice(p.Pricing, item.Quantity, tier)
		item.UpdatedAt = now

		err = s.store.Commit(ctx, store.PutWrite(Collection, id, item, expected))
		if err == nil {
			return &item, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt == maxWriteAttempts {
			return nil, err
		}
	}
}

// GetCart prices every item against current product data. Items whose
// product was deleted or deactivated stay in the cart, are left out of the
// totals and are reported in Warnings.
func (s *Service) GetCart(ctx context.Context, userID string, tier pricing.Tier) (*Cart, error) {
	items, _, err := s.items(ctx, userID)
	if err != nil {
		return nil, err
	}
	products, err := s.fetchProducts(ctx, items)
	if err != nil {
		return nil, err
	}

	c := &Cart{UserID: userID, Items: make([]Line, 0, len(items)), TotalPrice: decimal.Zero}
	var priced []pricing.Line
	for _, item := range items {
		if item.UpdatedAt.After(c.LastUpdated) {
			c.LastUpdated = item.UpdatedAt
		}
		line := Line{ProductID: item.ProductID, Quantity: item.Quantity, AddedAt: item.AddedAt}

		p := products[item.ProductID]
		if p == nil || !p.IsActive {
			c.Warnings = append(c.Warnings, fmt.Sprintf("product %s is no longer available", item.ProductID))
			c.Items = append(c.Items, line)
			continue
		}
		line.Name = p.Name

		unit, ok := pricing.UnitPrice(p.Pricing, item.Quantity, tier)
		if !ok {
			c.Warnings = append(c.Warnings, fmt.Sprintf("product %s has no price", item.ProductID))
		}
		line.Available = ok
		line.UnitPrice = unit
		line.LineTotal = pricing.LineTotal(unit, item.Quantity)
		c.Items = append(c.Items, line)
		priced = append(priced, pricing.NewLine(item.ProductID, item.Quantity, unit))
	}
	c.TotalItems, c.TotalPrice = pricing.Totals(priced)
	return c, nil
}

func (s *Service) RemoveFromCart(ctx context.Context, userID, productID string) error {
	_, version, err := s.load(ctx, userID, productID)
	if err != nil {
		return err
	}
	err = s.store.Commit(ctx, store.DeleteWrite(Collection, itemID(userID, productID), version))
	if errors.Is(err, store.ErrConflict) {
		// Changed concurrently; the remove still wins.
		return s.store.Delete(ctx, Collection, itemID(userID, productID))
	}
	return err
}

// UpdateQuantity replaces the quantity of an existing line and refreshes
// its price snapshot.
func (s *Service) UpdateQuantity(ctx context.Context, userID string, tier pricing.Tier, productID string, quantity int) (*Item, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	for attempt := 1; ; attempt++ {
		item, version, err := s.load(ctx, userID, productID)
		if err != nil {
			return nil, err
		}
		item.Quantity = quantity
		item.UpdatedAt = s.now()
		if p, err := s.products.Get(ctx, productID); err == nil {
			item.UnitPriceSnapshot, _ = pricing.UnitPrice(p.Pricing, quantity, tier)
		}

		err = s.store.Commit(ctx, store.PutWrite(Collection, itemID(userID, productID), item, version))
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt == maxWriteAttempts {
			return nil, err
		}
	}
}

// ClearCart deletes every item of the user.
func (s *Service) ClearCart(ctx context.Context, userID string) error {
	_, versions, err := s.items(ctx, userID)
	if err != nil {
		return err
	}
	writes := make([]store.Write, 0, len(versions))
	for id := range versions {
		writes = append(writes, store.DeleteWrite(Collection, id, store.AnyVersion))
	}
	if len(writes) == 0 {
		return nil
	}
	return s.store.Commit(ctx, writes...)
}

func (s *Service) load(ctx context.Context, userID, productID string) (*Item, int64, error) {
	doc, err := s.store.Get(ctx, Collection, itemID(userID, productID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, fmt.Errorf("%w: %s", ErrItemNotFound, productID)
	}
	if err != nil {
		return nil, 0, err
	}
	item, err := store.Decode[Item](doc)
	if err != nil {
		return nil, 0, err
	}
	return item, doc.Version, nil
}

// items returns the user's items ordered by addedAt along with their
// document versions keyed by document id.
func (s *Service) items(ctx context.Context, userID string) ([]*Item, map[string]int64, error) {
	docs, err := s.store.Query(ctx, store.Query{
		Collection: Collection,
		Filters:    []store.Filter{store.Eq("userId", userID)},
		OrderBy:    "addedAt",
	})
	if err != nil {
		return nil, nil, err
	}
	items, err := store.DecodeAll[Item](docs)
	if err != nil {
		return nil, nil, err
	}
	versions := make(map[string]int64, len(docs))
	for _, d := range docs {
		versions[d.ID] = d.Version
	}
	return items, versions, nil
}

// fetchProducts loads the products referenced by items concurrently. Missing
// products map to nil.
func (s *Service) fetchProducts(ctx context.Context, items []*Item) (map[string]*product.Product, error) {
	ids := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}
	sort.Strings(ids)

	results := make([]*product.Product, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(productFetchLimit)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			p, err := s.products.Get(gctx, id)
			if errors.Is(err, product.ErrProductNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*product.Product, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}
	return out, nil
}
