package query

import (
	"time"

	"github.com/example/supply-marketplace/internal/domain/pricing"
	"github.com/example/supply-marketplace/internal/domain/product"
	"github.com/shopspring/decimal"
)

// Viewer is the authenticated caller of a query.
type Viewer struct {
	UserID string
	Role   string
}

func (v Viewer) IsAdmin() bool { return v.Role == "admin" }

// ProductReadModel is a catalog entry as shown to a buyer, with the unit
// price that applies to the buyer's tier below the bulk threshold.
type ProductReadModel struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Category      string          `json:"category"`
	Pricing       pricing.Prices  `json:"pricing"`
	YourPrice     decimal.Decimal `json:"yourPrice"`
	BulkThreshold int             `json:"bulkThreshold"`
	Stock         int             `json:"stock"`
	Location      string          `json:"location,omitempty"`
	Supplier      string          `json:"supplier,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func toProductReadModel(p *product.Product, tier pricing.Tier) *ProductReadModel {
	price, _ := pricing.UnitPrice(p.Pricing, 1, tier)
	return &ProductReadModel{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Category:      p.Category,
		Pricing:       p.Pricing,
		YourPrice:     price,
		BulkThreshold: pricing.BulkThreshold,
		Stock:         p.Inventory.Stock,
		Location:      p.Inventory.Location,
		Supplier:      p.Inventory.Supplier,
		UpdatedAt:     p.UpdatedAt,
	}
}
