package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// maxLineQuantity bounds a single product's combined demand to the range of
// the stock column.
const maxLineQuantity = math.MaxInt32

const cacheWriteTimeout = 5 * time.Second

type OrderService struct {
	db     port.DatabaseRepository
	cache  port.CacheRepository
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*OrderService)

// WithIdempotency enables PlaceOrderOnce deduplication backed by cache.
func WithIdempotency(cache port.CacheRepository) Option {
	return func(s *OrderService) { s.cache = cache }
}

// WithLogger reports idempotency bookkeeping failures that do not fail the
// call itself.
func WithLogger(logger *zap.Logger) Option {
	return func(s *OrderService) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

func NewOrderService(db port.DatabaseRepository, opts ...Option) *OrderService {
	s := &OrderService{db: db, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// PlaceOrder reserves stock for every line item and persists the order as
// one transaction. Lines naming the same product are reserved as their
// combined quantity. On any error no stock has moved and no order exists.
func (s *OrderService) PlaceOrder(ctx context.Context, userID int64, items []domain.LineItem) (int64, error) {
	var orderID int64

	err := s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		ok, err := tx.UserExists(ctx, userID)
		if err != nil {
			return fmt.Errorf("lookup user %d: %w", userID, err)
		}
		if !ok {
			return fmt.Errorf("user %d: %w", userID, domain.ErrUserNotFound)
		}

		if err := validateLineItems(items); err != nil {
			return err
		}

		demand, productIDs := groupDemand(items)

		prices := make(map[int64]decimal.Decimal, len(productIDs))
		for _, productID := range productIDs {
			price, err := tx.GetAndReserve(ctx, productID, demand[productID])
			if err != nil {
				return fmt.Errorf("reserve product %d: %w", productID, err)
			}
			prices[productID] = price
		}

		order := buildOrder(userID, items, prices, s.now())
		id, err := tx.CreateOrder(ctx, order)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		orderID = id
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}

	return orderID, nil
}

// PlaceOrderOnce places the order at most once per requestID. A request id
// seen before returns the order created for it.
func (s *OrderService) PlaceOrderOnce(ctx context.Context, requestID string, userID int64, items []domain.LineItem) (int64, error) {
	if s.cache == nil || requestID == "" {
		return s.PlaceOrder(ctx, userID, items)
	}

	key := fmt.Sprintf("order:%d:%s", userID, requestID)

	existing, claimed, err := s.cache.ClaimRequest(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("idempotency check failed: %w: %w", domain.ErrPersistence, err)
	}
	if !claimed {
		if existing > 0 {
			return existing, nil
		}
		return 0, domain.ErrDuplicateRequest
	}

	orderID, err := s.PlaceOrder(ctx, userID, items)

	// cache writes outlive a canceled caller so the key never stays pinned
	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()

	if err != nil {
		if releaseErr := s.cache.ReleaseRequest(cacheCtx, key); releaseErr != nil {
			return 0, errors.Join(err, fmt.Errorf("release request key: %w", releaseErr))
		}
		return 0, err
	}

	// The order exists from here on. A failed marker write only means a
	// replay of this key reports ErrDuplicateRequest until the key expires.
	if err := s.cache.CompleteRequest(cacheCtx, key, orderID); err != nil {
		s.logger.Warn("failed to record idempotency key",
			zap.String("key", key),
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)
	}

	return orderID, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, classify(fmt.Errorf("get order %d: %w", orderID, err))
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, filter port.OrderFilter) ([]domain.Order, error) {
	orders, err := s.db.ListOrders(ctx, filter)
	if err != nil {
		return nil, classify(fmt.Errorf("list orders: %w", err))
	}
	return orders, nil
}

// UpdateStatus moves an order along the status machine. Moving to canceled
// goes through CancelOrder, which restocks and deletes the order.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown order status %q", domain.ErrInvalidRequest, status)
	}
	if status == domain.OrderStatusCanceled {
		_, err := s.CancelOrder(ctx, orderID)
		return err
	}

	err := s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("lock order %d: %w", orderID, err)
		}
		if !order.Status.CanTransitionTo(status) {
			return &domain.TransitionError{From: order.Status, To: status}
		}
		if err := tx.UpdateOrderStatus(ctx, orderID, status); err != nil {
			return fmt.Errorf("update order %d status: %w", orderID, err)
		}
		return nil
	})
	return classify(err)
}

// CancelOrder returns every unit held by a pending or processing order to
// stock and deletes the order, as one transaction.
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64) (bool, error) {
	err := s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("lock order %d: %w", orderID, err)
		}
		if !order.Status.CanTransitionTo(domain.OrderStatusCanceled) {
			return &domain.TransitionError{From: order.Status, To: domain.OrderStatusCanceled}
		}

		restock, productIDs := groupRestock(order.Items)
		for _, productID := range productIDs {
			if err := tx.Release(ctx, productID, restock[productID]); err != nil {
				return fmt.Errorf("restock product %d: %w", productID, err)
			}
		}

		if err := tx.DeleteOrder(ctx, orderID); err != nil {
			return fmt.Errorf("delete order %d: %w", orderID, err)
		}
		return nil
	})
	if err != nil {
		return false, classify(err)
	}
	return true, nil
}

func validateLineItems(items []domain.LineItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: order has no items", domain.ErrInvalidRequest)
	}
	for i, item := range items {
		if item.ProductID <= 0 {
			return fmt.Errorf("%w: item %d has invalid product id %d", domain.ErrInvalidRequest, i, item.ProductID)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d has non-positive quantity %d", domain.ErrInvalidRequest, i, item.Quantity)
		}
		if item.Quantity > maxLineQuantity {
			return fmt.Errorf("%w: item %d quantity %d exceeds %d", domain.ErrInvalidRequest, i, item.Quantity, maxLineQuantity)
		}
	}

	combined := make(map[int64]int, len(items))
	for _, item := range items {
		if combined[item.ProductID] > maxLineQuantity-item.Quantity {
			return fmt.Errorf("%w: combined quantity for product %d exceeds %d", domain.ErrInvalidRequest, item.ProductID, maxLineQuantity)
		}
		combined[item.ProductID] += item.Quantity
	}
	return nil
}

// groupDemand sums quantities per product and returns the product ids in
// ascending order, the order in which rows get locked.
func groupDemand(items []domain.LineItem) (map[int64]int, []int64) {
	demand := make(map[int64]int, len(items))
	for _, item := range items {
		demand[item.ProductID] += item.Quantity
	}
	return demand, sortedKeys(demand)
}

func groupRestock(items []domain.OrderItem) (map[int64]int, []int64) {
	restock := make(map[int64]int, len(items))
	for _, item := range items {
		restock[item.ProductID] += item.Quantity
	}
	return restock, sortedKeys(restock)
}

func sortedKeys(m map[int64]int) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func buildOrder(userID int64, items []domain.LineItem, prices map[int64]decimal.Decimal, now time.Time) *domain.Order {
	order := &domain.Order{
		UserID:    userID,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		Items:     make([]domain.OrderItem, 0, len(items)),
	}
	for _, item := range items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     prices[item.ProductID],
		})
	}
	order.TotalAmount = order.ComputeTotal()
	return order
}

var domainErrors = []error{
	domain.ErrUserNotFound,
	domain.ErrProductNotFound,
	domain.ErrOrderNotFound,
	domain.ErrInvalidRequest,
	domain.ErrInsufficientStock,
	domain.ErrInvalidStatusTransition,
	domain.ErrDuplicateRequest,
	domain.ErrPersistence,
	context.Canceled,
	context.DeadlineExceeded,
}

// classify marks storage failures as ErrPersistence and passes domain and
// context errors through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range domainErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
}
