package service_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

type testEnv struct {
	redis   *redis.Client
	mysql   *sql.DB
	cache   *storage.RedisAdapter
	db      *storage.MySQLAdapter
	cleanup func()
}

func setupTestEnv(t *testing.T) *testEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/storefront?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		t.Skipf("Redis not available: %v", err)
	}

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		rdb.Close()
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		rdb.Close()
		db.Close()
		t.Skipf("MySQL not available: %v", err)
	}

	adapter := storage.NewMySQLAdapter(db)
	if err := adapter.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	return &testEnv{
		redis: rdb,
		mysql: db,
		cache: storage.NewRedisAdapter(rdb),
		db:    adapter,
		cleanup: func() {
			rdb.Close()
			db.Close()
		},
	}
}

// seed creates a fresh user and one product per price/stock pair.
func (env *testEnv) seed(t *testing.T, products ...domain.Product) (int64, []int64) {
	t.Helper()
	ctx := context.Background()
	suffix := uuid.NewString()[:8]

	userID, err := env.db.CreateUser(ctx, "it-"+suffix, suffix+"@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	ids := make([]int64, 0, len(products))
	for i, p := range products {
		p.Name = fmt.Sprintf("it-%s-%d", suffix, i)
		id, err := env.db.CreateProduct(ctx, p)
		if err != nil {
			t.Fatalf("create product: %v", err)
		}
		ids = append(ids, id)
	}
	return userID, ids
}

func (env *testEnv) stock(t *testing.T, productID int64) int {
	t.Helper()
	p, err := env.db.GetProduct(context.Background(), productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.Stock
}

func TestIntegration_PlaceAndCancelRoundTrip(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	userID, ids := env.seed(t,
		domain.Product{Price: decimal.RequireFromString("1299.99"), Stock: 10},
		domain.Product{Price: decimal.RequireFromString("199.99"), Stock: 30},
	)
	laptop, headphones := ids[0], ids[1]

	svc := service.NewOrderService(env.db)

	orderID, err := svc.PlaceOrder(ctx, userID, []domain.LineItem{
		{ProductID: laptop, Quantity: 1},
		{ProductID: headphones, Quantity: 2},
	})
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}

	order, err := svc.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if got := order.TotalAmount.StringFixed(2); got != "1699.97" {
		t.Errorf("expected total 1699.97, got %s", got)
	}
	if env.stock(t, laptop) != 9 || env.stock(t, headphones) != 28 {
		t.Errorf("unexpected stock after place: %d, %d", env.stock(t, laptop), env.stock(t, headphones))
	}

	if _, err := svc.CancelOrder(ctx, orderID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if env.stock(t, laptop) != 10 || env.stock(t, headphones) != 30 {
		t.Errorf("unexpected stock after cancel: %d, %d", env.stock(t, laptop), env.stock(t, headphones))
	}
	if _, err := svc.GetOrder(ctx, orderID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got: %v", err)
	}
}

func TestIntegration_ConcurrentOrdersNeverOversell(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	initialStock := 20
	userID, ids := env.seed(t, domain.Product{Price: decimal.RequireFromString("5.00"), Stock: initialStock})
	productID := ids[0]

	svc := service.NewOrderService(env.db)

	var successCount, rejectedCount atomic.Int32
	var wg sync.WaitGroup
	totalRequests := 50

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(ctx, userID, []domain.LineItem{{ProductID: productID, Quantity: 1}})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				rejectedCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successful orders, got %d", initialStock, successCount.Load())
	}
	if rejectedCount.Load() != int32(totalRequests-initialStock) {
		t.Errorf("expected %d rejections, got %d", totalRequests-initialStock, rejectedCount.Load())
	}
	if stock := env.stock(t, productID); stock != 0 {
		t.Errorf("expected stock 0, got %d", stock)
	}

	var orderCount int
	env.mysql.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_items WHERE product_id = ?`, productID).Scan(&orderCount)
	if orderCount != initialStock {
		t.Errorf("expected %d order items in MySQL, got %d", initialStock, orderCount)
	}
}

func TestIntegration_MixedStockRollsBack(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	userID, ids := env.seed(t,
		domain.Product{Price: decimal.RequireFromString("10.00"), Stock: 10},
		domain.Product{Price: decimal.RequireFromString("20.00"), Stock: 1},
	)

	svc := service.NewOrderService(env.db)

	_, err := svc.PlaceOrder(ctx, userID, []domain.LineItem{
		{ProductID: ids[0], Quantity: 5},
		{ProductID: ids[1], Quantity: 2},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}

	if stock := env.stock(t, ids[0]); stock != 10 {
		t.Errorf("expected stock 10 after rollback, got %d", stock)
	}
}

func TestIntegration_IdempotencyPreventsDoubleOrder(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	userID, ids := env.seed(t, domain.Product{Price: decimal.RequireFromString("1.00"), Stock: 10})
	requestID := "same-request-id-" + uuid.New().String()

	svc := service.NewOrderService(env.db, service.WithIdempotency(env.cache))
	items := []domain.LineItem{{ProductID: ids[0], Quantity: 1}}

	// First call
	first, err := svc.PlaceOrderOnce(ctx, requestID, userID, items)
	if err != nil {
		t.Fatalf("first order failed: %v", err)
	}

	// Second call with same requestID
	second, err := svc.PlaceOrderOnce(ctx, requestID, userID, items)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if first != second {
		t.Errorf("expected replay to return order %d, got %d", first, second)
	}

	// Verify only 1 stock decremented
	if stock := env.stock(t, ids[0]); stock != 9 {
		t.Errorf("expected stock 9, got %d", stock)
	}
}

func TestIntegration_StatusMachine(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	userID, ids := env.seed(t, domain.Product{Price: decimal.RequireFromString("3.50"), Stock: 4})
	svc := service.NewOrderService(env.db)

	orderID, err := svc.PlaceOrder(ctx, userID, []domain.LineItem{{ProductID: ids[0], Quantity: 1}})
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}

	if err := svc.UpdateStatus(ctx, orderID, domain.OrderStatusDelivered); !errors.Is(err, domain.ErrInvalidStatusTransition) {
		t.Errorf("expected ErrInvalidStatusTransition, got: %v", err)
	}
	for _, next := range []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusShipped} {
		if err := svc.UpdateStatus(ctx, orderID, next); err != nil {
			t.Fatalf("update to %s failed: %v", next, err)
		}
	}
	if _, err := svc.CancelOrder(ctx, orderID); !errors.Is(err, domain.ErrInvalidStatusTransition) {
		t.Errorf("expected ErrInvalidStatusTransition, got: %v", err)
	}
	if stock := env.stock(t, ids[0]); stock != 3 {
		t.Errorf("expected stock 3, got %d", stock)
	}
}
