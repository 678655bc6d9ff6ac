package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/observability"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/logger"
	"github.com/rl1809/storefront/internal/port"
)

const serviceName = "storefront"

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, shutdownTracing, err := observability.InitTracing(ctx, serviceName, cfg.TraceStdout)
	if err != nil {
		log.Fatal("failed to init tracing", zap.Error(err))
	}

	// Initialize storage
	db, closeDB := openStore(ctx, cfg, log)

	if cfg.Seed {
		if err := seedCatalog(ctx, db); err != nil {
			log.Warn("seed skipped", zap.Error(err))
		} else {
			log.Info("seeded demo catalog")
		}
	}

	// Initialize idempotency cache
	var cache port.CacheRepository = storage.NewMemoryCache()
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		cache = storage.NewRedisAdapter(rdb)
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	}

	// Initialize service
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	orderService := observability.New(
		service.NewOrderService(db, service.WithIdempotency(cache), service.WithLogger(log)),
		observability.WithLogger(log),
		observability.WithTracer(observability.Tracer(tp)),
		observability.WithMetrics(observability.NewMetrics(reg)),
	)

	// Initialize gRPC server
	grpcHandler := handler.NewGRPCHandler(orderService, log)
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcHandler.UnaryInterceptor()))
	handler.RegisterOrderServiceServer(grpcServer, grpcHandler)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}

	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(orderService,
		handler.WithHTTPLogger(log),
		handler.WithHTTPMetrics(handler.NewHTTPMetrics(reg)),
		handler.WithRequestTimeout(cfg.RequestTimeout),
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Router(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown", zap.Error(err))
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracer shutdown", zap.Error(err))
	}

	if rdb != nil {
		rdb.Close()
	}
	closeDB()
	log.Info("connections closed")
}

// openStore connects to MySQL when a DSN is configured and falls back to
// in-process storage otherwise.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store, func()) {
	if cfg.MySQLDSN == "" {
		log.Info("no database configured, using in-memory storage")
		return storage.NewMemoryAdapter(), func() {}
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal("failed to connect mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping mysql", zap.Error(err))
	}
	log.Info("connected to mysql")

	adapter := storage.NewMySQLAdapter(db)
	if cfg.Migrate {
		if err := adapter.Migrate(ctx); err != nil {
			log.Fatal("failed to migrate schema", zap.Error(err))
		}
		log.Info("schema migrated")
	}

	return adapter, func() { db.Close() }
}

// seedCatalog loads the demo users and products.
func seedCatalog(ctx context.Context, catalog port.CatalogRepository) error {
	users := []struct{ username, email string }{
		{"john_doe", "john@example.com"},
		{"jane_smith", "jane@example.com"},
	}
	for _, u := range users {
		if _, err := catalog.CreateUser(ctx, u.username, u.email); err != nil {
			return err
		}
	}

	products := []domain.Product{
		{Name: "Laptop", Description: "High-performance laptop", Price: decimal.RequireFromString("1299.99"), Stock: 10},
		{Name: "Smartphone", Description: "Latest model smartphone", Price: decimal.RequireFromString("799.99"), Stock: 20},
		{Name: "Headphones", Description: "Noise-cancelling headphones", Price: decimal.RequireFromString("199.99"), Stock: 30},
	}
	for _, p := range products {
		if _, err := catalog.CreateProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
