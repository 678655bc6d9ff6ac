package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// MemoryAdapter keeps users, products and orders in process memory.
// A transaction holds the write lock from start to commit or rollback, so
// readers never observe a half-applied unit of work.
type MemoryAdapter struct {
	mu       sync.RWMutex
	users    map[int64]domain.User
	products map[int64]domain.Product
	orders   map[int64]domain.Order

	lastUserID    int64
	lastProductID int64
	lastOrderID   int64
	lastItemID    int64

	now func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		users:    make(map[int64]domain.User),
		products: make(map[int64]domain.Product),
		orders:   make(map[int64]domain.Order),
		now:      time.Now,
	}
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{m: m}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	committed = true
	return nil
}

// memoryTx applies writes in place and journals their inverse.
type memoryTx struct {
	m    *MemoryAdapter
	undo []func()
}

func (t *memoryTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memoryTx) UserExists(ctx context.Context, userID int64) (bool, error) {
	_, ok := t.m.users[userID]
	return ok, nil
}

func (t *memoryTx) GetAndReserve(ctx context.Context, productID int64, quantity int) (decimal.Decimal, error) {
	if quantity <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: reserve quantity %d", domain.ErrInvalidRequest, quantity)
	}
	product, ok := t.m.products[productID]
	if !ok {
		return decimal.Decimal{}, &domain.ProductError{ProductID: productID}
	}
	if product.Stock < quantity {
		return decimal.Decimal{}, &domain.StockError{
			ProductID: productID,
			Requested: quantity,
			Available: product.Stock,
		}
	}

	product.Stock -= quantity
	t.m.products[productID] = product
	t.undo = append(t.undo, func() { t.m.adjustStock(productID, quantity) })

	return product.Price, nil
}

func (t *memoryTx) Release(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: release quantity %d", domain.ErrInvalidRequest, quantity)
	}
	product, ok := t.m.products[productID]
	if !ok {
		return &domain.ProductError{ProductID: productID}
	}

	product.Stock += quantity
	t.m.products[productID] = product
	t.undo = append(t.undo, func() { t.m.adjustStock(productID, -quantity) })

	return nil
}

func (t *memoryTx) CreateOrder(ctx context.Context, order *domain.Order) (int64, error) {
	if _, ok := t.m.users[order.UserID]; !ok {
		return 0, fmt.Errorf("insert order: user %d: %w", order.UserID, domain.ErrUserNotFound)
	}

	lastOrderID, lastItemID := t.m.lastOrderID, t.m.lastItemID
	t.m.lastOrderID++

	stored := order.Clone()
	stored.ID = t.m.lastOrderID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = t.m.now()
	}
	for i := range stored.Items {
		t.m.lastItemID++
		stored.Items[i].ID = t.m.lastItemID
		stored.Items[i].OrderID = stored.ID
		stored.Items[i].ProductName = ""
	}
	t.m.orders[stored.ID] = stored

	t.undo = append(t.undo, func() {
		delete(t.m.orders, stored.ID)
		t.m.lastOrderID, t.m.lastItemID = lastOrderID, lastItemID
	})

	return stored.ID, nil
}

func (t *memoryTx) LockOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, ok := t.m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	out := order.Clone()
	return &out, nil
}

func (t *memoryTx) UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	order, ok := t.m.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}

	previous := order.Status
	order.Status = status
	t.m.orders[orderID] = order
	t.undo = append(t.undo, func() {
		restored := t.m.orders[orderID]
		restored.Status = previous
		t.m.orders[orderID] = restored
	})

	return nil
}

func (t *memoryTx) DeleteOrder(ctx context.Context, orderID int64) error {
	order, ok := t.m.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}

	delete(t.m.orders, orderID)
	t.undo = append(t.undo, func() { t.m.orders[orderID] = order })

	return nil
}

func (m *MemoryAdapter) adjustStock(productID int64, delta int) {
	product := m.products[productID]
	product.Stock += delta
	m.products[productID] = product
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}

	out := order.Clone()
	for i := range out.Items {
		out.Items[i].ProductName = m.products[out.Items[i].ProductID].Name
	}
	return &out, nil
}

func (m *MemoryAdapter) ListOrders(ctx context.Context, filter port.OrderFilter) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]domain.Order, 0, len(m.orders))
	for _, order := range m.orders {
		if filter.UserID != nil && order.UserID != *filter.UserID {
			continue
		}
		header := order
		header.Items = nil
		orders = append(orders, header)
	}

	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})

	return orders, nil
}

func (m *MemoryAdapter) CreateUser(ctx context.Context, username, email string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.Username == username || user.Email == email {
			return 0, fmt.Errorf("insert user %q: duplicate username or email", username)
		}
	}

	m.lastUserID++
	m.users[m.lastUserID] = domain.User{
		ID:        m.lastUserID,
		Username:  username,
		Email:     email,
		CreatedAt: m.now(),
	}
	return m.lastUserID, nil
}

func (m *MemoryAdapter) CreateProduct(ctx context.Context, product domain.Product) (int64, error) {
	if product.Price.IsNegative() || product.Stock < 0 {
		return 0, fmt.Errorf("%w: product price and stock must not be negative", domain.ErrInvalidRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastProductID++
	product.ID = m.lastProductID
	product.CreatedAt = m.now()
	m.products[product.ID] = product
	return product.ID, nil
}

func (m *MemoryAdapter) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	product, ok := m.products[productID]
	if !ok {
		return nil, &domain.ProductError{ProductID: productID}
	}
	return &product, nil
}

func (m *MemoryAdapter) SetProductPrice(ctx context.Context, productID int64, price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("%w: negative price", domain.ErrInvalidRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	product, ok := m.products[productID]
	if !ok {
		return &domain.ProductError{ProductID: productID}
	}
	product.Price = price
	m.products[productID] = product
	return nil
}

func (m *MemoryAdapter) SetProductStock(ctx context.Context, productID int64, stock int) error {
	if stock < 0 {
		return fmt.Errorf("%w: negative stock", domain.ErrInvalidRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	product, ok := m.products[productID]
	if !ok {
		return &domain.ProductError{ProductID: productID}
	}
	product.Stock = stock
	m.products[productID] = product
	return nil
}

var (
	_ port.DatabaseRepository = (*MemoryAdapter)(nil)
	_ port.CatalogRepository  = (*MemoryAdapter)(nil)
)
