package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

// OrderService exposes the order use cases to transport adapters.
type OrderService interface {
	PlaceOrder(ctx context.Context, userID int64, items []domain.LineItem) (int64, error)
	PlaceOrderOnce(ctx context.Context, requestID string, userID int64, items []domain.LineItem) (int64, error)
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error
	CancelOrder(ctx context.Context, orderID int64) (bool, error)
}
