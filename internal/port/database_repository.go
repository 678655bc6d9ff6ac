package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

type InventoryStore interface {
	// GetAndReserve atomically checks stock and decrements it by quantity,
	// returning the unit price at reservation time
	GetAndReserve(ctx context.Context, productID int64, quantity int) (decimal.Decimal, error)

	// Release atomically returns quantity units to stock (rollback and cancellation)
	Release(ctx context.Context, productID int64, quantity int) error
}

type UserDirectory interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
}

type OrderWriter interface {
	// CreateOrder persists the header and every item row, returning the new order id
	CreateOrder(ctx context.Context, order *domain.Order) (int64, error)

	// LockOrder reads header and items and holds the order for the rest of the transaction
	LockOrder(ctx context.Context, orderID int64) (*domain.Order, error)

	UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error

	// DeleteOrder removes the order together with its items
	DeleteOrder(ctx context.Context, orderID int64) error
}

// Tx is the handle of one scoped transaction.
type Tx interface {
	UserDirectory
	InventoryStore
	OrderWriter
}

type UnitOfWork interface {
	// WithinTx runs fn in a transaction that commits only when fn returns nil.
	// Every other exit, including a context canceled before commit, rolls back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type OrderFilter struct {
	UserID *int64
}

type OrderReader interface {
	// GetOrder returns header and items, items enriched with product names
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)

	// ListOrders returns headers newest first
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
}

type DatabaseRepository interface {
	UnitOfWork
	OrderReader
}
