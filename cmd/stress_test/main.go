package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/logger"
	"github.com/rl1809/storefront/internal/port"
)

const (
	initialStock  = 20
	totalRequests = 50
)

type store interface {
	port.DatabaseRepository
	port.CatalogRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.Must(cfg.LogLevel)
	defer log.Sync()

	ctx := context.Background()

	// Initialize storage: MySQL when configured, memory otherwise
	var db store = storage.NewMemoryAdapter()
	if cfg.MySQLDSN != "" {
		conn, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			log.Fatal("failed to connect mysql", zap.Error(err))
		}
		defer conn.Close()
		conn.SetMaxOpenConns(cfg.MaxOpenConns)

		adapter := storage.NewMySQLAdapter(conn)
		if err := adapter.Migrate(ctx); err != nil {
			log.Fatal("failed to migrate schema", zap.Error(err))
		}
		db = adapter
	}

	// Fresh user and product per run
	suffix := uuid.NewString()[:8]
	userID, err := db.CreateUser(ctx, "stress-"+suffix, "stress-"+suffix+"@example.com")
	if err != nil {
		log.Fatal("failed to create user", zap.Error(err))
	}
	productID, err := db.CreateProduct(ctx, domain.Product{
		Name:  "stress-item-" + suffix,
		Price: decimal.RequireFromString("9.99"),
		Stock: initialStock,
	})
	if err != nil {
		log.Fatal("failed to create product", zap.Error(err))
	}

	orderService := service.NewOrderService(db)

	// Counters
	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var errorCount atomic.Int32

	var mu sync.Mutex
	placed := make([]int64, 0, initialStock)

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			orderID, err := orderService.PlaceOrder(ctx, userID, []domain.LineItem{{ProductID: productID, Quantity: 1}})
			switch {
			case err == nil:
				successCount.Add(1)
				mu.Lock()
				placed = append(placed, orderID)
				mu.Unlock()
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			default:
				errorCount.Add(1)
				log.Error("order failed", zap.Error(err))
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	soldOut := soldOutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false

	// Assertions
	if success == int32(initialStock) && soldOut == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d orders succeeded, %d sold out\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d sold out, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, soldOut)
		failed = true
	}

	failed = !checkStock(ctx, db, productID, 0) || failed

	// Cancel every placed order concurrently and expect the stock back
	for _, id := range placed {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := orderService.CancelOrder(ctx, id); err != nil {
				log.Error("cancel failed", zap.Int64("order_id", id), zap.Error(err))
			}
		}(id)
	}
	wg.Wait()

	failed = !checkStock(ctx, db, productID, initialStock) || failed

	if failed {
		os.Exit(1)
	}
}

func checkStock(ctx context.Context, catalog port.CatalogRepository, productID int64, want int) bool {
	p, err := catalog.GetProduct(ctx, productID)
	if err != nil {
		fmt.Printf("FAIL: read stock: %v\n", err)
		return false
	}
	fmt.Printf("Final Stock: %d\n", p.Stock)
	if p.Stock != want {
		fmt.Printf("FAIL: Expected stock %d, got %d\n", want, p.Stock)
		return false
	}
	fmt.Printf("PASS: Stock is %d\n", want)
	return true
}
