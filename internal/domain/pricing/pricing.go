// Package pricing computes tiered unit prices and order totals.
package pricing

import (
	"github.com/shopspring/decimal"
)

// BulkThreshold is the quantity from which the bulk price applies to every buyer.
const BulkThreshold = 10

type Tier string

const (
	TierMarket  Tier = "market"
	TierPartner Tier = "partner"
)

// TierForRole maps an authenticated role to the price column it buys at.
func TierForRole(role string) Tier {
	switch role {
	case "provider", "agency", "partner":
		return TierPartner
	default:
		return TierMarket
	}
}

// Prices are the price columns of a product.
type Prices struct {
	MarketPrice  decimal.Decimal `json:"marketPrice"`
	PartnerPrice decimal.Decimal `json:"partnerPrice"`
	BulkPrice    decimal.Decimal `json:"bulkPrice"`
	Currency     string          `json:"currency"`
}

// UnitPrice returns the applicable unit price. ok is false when the selected
// column is zero or negative; the returned price is then zero.
func UnitPrice(p Prices, quantity int, tier Tier) (decimal.Decimal, bool) {
	var price decimal.Decimal
	switch {
	case quantity >= BulkThreshold:
		price = p.BulkPrice
	case tier == TierPartner:
		price = p.PartnerPrice
	default:
		price = p.MarketPrice
	}
	if !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}

func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// Line is one priced cart or order line.
type Line struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

func NewLine(productID string, quantity int, unitPrice decimal.Decimal) Line {
	return Line{
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		LineTotal: LineTotal(unitPrice, quantity),
	}
}

// Totals returns Σ quantity and Σ line total.
func Totals(lines []Line) (int, decimal.Decimal) {
	items := 0
	total := decimal.Zero
	for _, l := range lines {
		items += l.Quantity
		total = total.Add(l.LineTotal)
	}
	return items, total
}

// Breakdown is the frozen pricing of an order.
type Breakdown struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
}

// DiscountPolicy returns the discount for a subtotal bought at tier.
type DiscountPolicy func(subtotal decimal.Decimal, tier Tier) decimal.Decimal

// ShippingPolicy returns the shipping fee for a set of lines.
type ShippingPolicy func(lines []Line) decimal.Decimal

func NoDiscount(decimal.Decimal, Tier) decimal.Decimal { return decimal.Zero }

func FlatShipping(fee decimal.Decimal) ShippingPolicy {
	return func([]Line) decimal.Decimal { return fee }
}

// Quote computes total = subtotal - discount + shipping. The discount is
// capped at the subtotal so the total never goes negative.
func Quote(lines []Line, tier Tier, currency string, discount DiscountPolicy, shipping ShippingPolicy) Breakdown {
	_, subtotal := Totals(lines)

	d := decimal.Zero
	if discount != nil {
		d = discount(subtotal, tier)
	}
	if d.IsNegative() {
		d = decimal.Zero
	}
	if d.GreaterThan(subtotal) {
		d = subtotal
	}

	s := decimal.Zero
	if shipping != nil {
		s = shipping(lines)
	}

	return Breakdown{
		Subtotal: subtotal,
		Discount: d,
		Shipping: s,
		Total:    subtotal.Sub(d).Add(s),
		Currency: currency,
	}
}
