package cart

import (
	"context"
	"fmt"

	"github.com/example/supply-marketplace/internal/domain/pricing"
	"github.com/example/supply-marketplace/internal/infrastructure/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MaxCheckoutLines leaves room for the order itself in the commit that
// creates it and deletes the checked-out items.
const MaxCheckoutLines = store.MaxCommitWrites - 1

// Adjustment records a quantity the validator reduced to match stock.
type Adjustment struct {
	ProductID        string `json:"productId"`
	PreviousQuantity int    `json:"previousQuantity"`
	Quantity         int    `json:"quantity"`
}

// CheckoutItem is a validated line ready to be frozen into an order.
type CheckoutItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

type Validation struct {
	IsValid      bool           `json:"isValid"`
	Errors       []string       `json:"errors"`
	UpdatedItems []Adjustment   `json:"updatedItems"`
	Items        []CheckoutItem `json:"items"`

	clear []store.Write
}

// Lines returns the validated items as pricing lines.
func (v *Validation) Lines() []pricing.Line {
	lines := make([]pricing.Line, len(v.Items))
	for i, item := range v.Items {
		lines[i] = pricing.NewLine(item.ProductID, item.Quantity, item.UnitPrice)
	}
	return lines
}

// ClearWrites deletes exactly the validated items, each guarded by the
// version it was validated at. Items added after validation are kept.
func (v *Validation) ClearWrites() []store.Write {
	return append([]store.Write(nil), v.clear...)
}

// ValidateCart checks every item against current stock and prices. Quantities
// above stock are reduced and saved, and a changed price refreshes the
// item's snapshot. Either makes the cart invalid so the buyer can review it.
func (s *Service) ValidateCart(ctx context.Context, userID string, tier pricing.Tier) (*Validation, error) {
	items, versions, err := s.items(ctx, userID)
	if err != nil {
		return nil, err
	}
	result := &Validation{IsValid: true, Errors: []string{}, UpdatedItems: []Adjustment{}}
	if len(items) == 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, "cart is empty")
		return result, nil
	}
	if len(items) > MaxCheckoutLines {
		result.IsValid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("cart has %d products, at most %d can be checked out together", len(items), MaxCheckoutLines))
		return result, nil
	}

	products, err := s.fetchProducts(ctx, items)
	if err != nil {
		return nil, err
	}

	var updates []store.Write
	invalid := func(format string, args ...any) {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	for _, item := range items {
		id := itemID(userID, item.ProductID)
		version := versions[id]

		p := products[item.ProductID]
		if p == nil || !p.IsActive {
			invalid("product %s is no longer available", item.ProductID)
			continue
		}

		changed := false
		stock := p.Inventory.Stock
		if item.Quantity > stock {
			if stock <= 0 {
				invalid("%s is out of stock", p.Name)
				continue
			}
			invalid("%s: only %d in stock, quantity reduced from %d", p.Name, stock, item.Quantity)
			result.UpdatedItems = append(result.UpdatedItems, Adjustment{
				ProductID:        item.ProductID,
				PreviousQuantity: item.Quantity,
				Quantity:         stock,
			})
			s.logger.Info("cart quantity clamped to stock",
				zap.String("userId", userID),
				zap.String("productId", item.ProductID),
				zap.Int("from", item.Quantity),
				zap.Int("to", stock))
			item.Quantity = stock
			changed = true
		}

		unit, ok := pricing.UnitPrice(p.Pricing, item.Quantity, tier)
		if !ok {
			invalid("%s has no price for quantity %d", p.Name, item.Quantity)
			continue
		}
		if !item.UnitPriceSnapshot.Equal(unit) {
			if !item.UnitPriceSnapshot.IsZero() && !changed {
				invalid("%s: price changed from %s to %s", p.Name, item.UnitPriceSnapshot, unit)
			}
			item.UnitPriceSnapshot = unit
			changed = true
		}

		if changed {
			item.UpdatedAt = s.now()
			updates = append(updates, store.PutWrite(Collection, id, item, version))
			// Stores bump the version by one per write.
			version++
		}

		result.Items = append(result.Items, CheckoutItem{
			ProductID: item.ProductID,
			Name:      p.Name,
			Quantity:  item.Quantity,
			UnitPrice: unit,
			LineTotal: pricing.LineTotal(unit, item.Quantity),
		})
		result.clear = append(result.clear, store.DeleteWrite(Collection, id, version))
	}

	if len(updates) > 0 {
		if err := s.store.Commit(ctx, updates...); err != nil {
			return nil, err
		}
	}
	if !result.IsValid {
		result.clear = nil
	}
	return result, nil
}
