package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

type CatalogRepository interface {
	CreateUser(ctx context.Context, username, email string) (int64, error)
	CreateProduct(ctx context.Context, product domain.Product) (int64, error)
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)
	SetProductPrice(ctx context.Context, productID int64, price decimal.Decimal) error
	SetProductStock(ctx context.Context, productID int64, stock int) error
}
