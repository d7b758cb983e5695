package product

import (
	"context"
	"testing"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/example/supply-marketplace/internal/domain/pricing"
	"github.com/example/supply-marketplace/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProduct(name, category string) Product {
	return Product{
		Name:     name,
		Category: category,
		Pricing: pricing.Prices{
			MarketPrice:  decimal.NewFromInt(100),
			PartnerPrice: decimal.NewFromInt(80),
			BulkPrice:    decimal.NewFromInt(70),
			Currency:     "PHP",
		},
		Inventory: Inventory{Stock: 5, Location: "Cebu", Supplier: "acme"},
		IsActive:  true,
	}
}

func TestService_SaveAndGet(t *testing.T) {
	svc := NewService(mocks.NewMockStore())
	ctx := context.Background()

	saved, err := svc.Save(ctx, newTestProduct("Tile Grout", "building"))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())

	got, err := svc.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Tile Grout", got.Name)
	assert.True(t, decimal.NewFromInt(80).Equal(got.Pricing.PartnerPrice))
	assert.Equal(t, 5, got.Inventory.Stock)
}

func TestService_SaveValidation(t *testing.T) {
	svc := NewService(mocks.NewMockStore())
	ctx := context.Background()

	p := newTestProduct("", "x")
	_, err := svc.Save(ctx, p)
	assert.ErrorIs(t, err, ErrInvalidName)

	p = newTestProduct("Paint", "x")
	p.Pricing.MarketPrice = decimal.Zero
	_, err = svc.Save(ctx, p)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	p = newTestProduct("Paint", "x")
	p.Inventory.Stock = -1
	_, err = svc.Save(ctx, p)
	assert.ErrorIs(t, err, ErrInvalidStock)
}

func TestService_GetNotFound(t *testing.T) {
	svc := NewService(mocks.NewMockStore())

	_, err := svc.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestService_ListActiveByCategory(t *testing.T) {
	svc := NewService(mocks.NewMockStore())
	ctx := context.Background()

	a, _ := svc.Save(ctx, newTestProduct("Brush", "paint"))
	_, _ = svc.Save(ctx, newTestProduct("Cement", "building"))
	c, _ := svc.Save(ctx, newTestProduct("Roller", "paint"))
	require.NoError(t, svc.Deactivate(ctx, c.ID))

	products, err := svc.List(ctx, "paint")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, a.ID, products[0].ID)

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
