package observability

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const tracerName = "github.com/rl1809/storefront/internal/adapter/observability"

// Service decorates the order service with tracing, logging, and metrics.
type Service struct {
	inner   port.OrderService
	tracer  trace.Tracer
	logger  *zap.Logger
	metrics *Metrics
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(tr trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tr
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New wraps the core order service.
func New(inner port.OrderService, opts ...Option) *Service {
	s := &Service{
		inner:  inner,
		tracer: nooptrace.NewTracerProvider().Tracer(tracerName),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.tracer == nil {
		s.tracer = nooptrace.NewTracerProvider().Tracer(tracerName)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

func (s *Service) PlaceOrder(ctx context.Context, userID int64, items []domain.LineItem) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.PlaceOrder",
		trace.WithAttributes(attribute.Int64("user.id", userID), attribute.Int("order.lines", len(items))))
	defer span.End()
	start := time.Now()

	orderID, err := s.inner.PlaceOrder(ctx, userID, items)
	s.metrics.observe("place_order", start, err)
	if err != nil {
		return 0, s.handleError(span, err, "failed to place order", zap.Int64("user_id", userID))
	}
	span.SetAttributes(attribute.Int64("order.id", orderID))
	s.logger.Info("order placed", zap.Int64("order_id", orderID), zap.Int64("user_id", userID), zap.Int("lines", len(items)))
	return orderID, nil
}

func (s *Service) PlaceOrderOnce(ctx context.Context, requestID string, userID int64, items []domain.LineItem) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.PlaceOrderOnce",
		trace.WithAttributes(attribute.String("request.id", requestID), attribute.Int64("user.id", userID)))
	defer span.End()
	start := time.Now()

	orderID, err := s.inner.PlaceOrderOnce(ctx, requestID, userID, items)
	s.metrics.observe("place_order", start, err)
	if err != nil {
		return 0, s.handleError(span, err, "failed to place order",
			zap.String("request_id", requestID), zap.Int64("user_id", userID))
	}
	span.SetAttributes(attribute.Int64("order.id", orderID))
	s.logger.Info("order placed", zap.Int64("order_id", orderID), zap.String("request_id", requestID), zap.Int64("user_id", userID))
	return orderID, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()
	start := time.Now()

	order, err := s.inner.GetOrder(ctx, orderID)
	s.metrics.observe("get_order", start, err)
	if err != nil {
		return nil, s.handleError(span, err, "failed to load order", zap.Int64("order_id", orderID))
	}
	s.logger.Debug("order loaded", zap.Int64("order_id", orderID), zap.String("status", string(order.Status)))
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, filter port.OrderFilter) ([]domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListOrders")
	defer span.End()
	start := time.Now()

	orders, err := s.inner.ListOrders(ctx, filter)
	s.metrics.observe("list_orders", start, err)
	if err != nil {
		return nil, s.handleError(span, err, "failed to list orders")
	}
	span.SetAttributes(attribute.Int("orders.count", len(orders)))
	return orders, nil
}

func (s *Service) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.UpdateStatus",
		trace.WithAttributes(attribute.Int64("order.id", orderID), attribute.String("order.status", string(status))))
	defer span.End()
	start := time.Now()

	err := s.inner.UpdateStatus(ctx, orderID, status)
	s.metrics.observe("update_status", start, err)
	if err != nil {
		return s.handleError(span, err, "failed to update order status",
			zap.Int64("order_id", orderID), zap.String("status", string(status)))
	}
	s.logger.Info("order status updated", zap.Int64("order_id", orderID), zap.String("status", string(status)))
	return nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID int64) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CancelOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()
	start := time.Now()

	ok, err := s.inner.CancelOrder(ctx, orderID)
	s.metrics.observe("cancel_order", start, err)
	if err != nil {
		return false, s.handleError(span, err, "failed to cancel order", zap.Int64("order_id", orderID))
	}
	s.logger.Info("order canceled", zap.Int64("order_id", orderID))
	return ok, nil
}

// handleError logs rejected requests at info and storage failures at error.
func (s *Service) handleError(span trace.Span, err error, msg string, fields ...zap.Field) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	fields = append(fields, zap.Error(err))
	if errors.Is(err, domain.ErrPersistence) {
		s.logger.Error(msg, fields...)
	} else {
		s.logger.Info(msg, fields...)
	}
	return err
}

// Metrics holds the prometheus collectors for order operations.
type Metrics struct {
	Operations *prometheus.CounterVec
	LatencyMS  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "orders",
		Name:      "operations_total",
		Help:      "Total number of order operations by outcome.",
	}, []string{"operation", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storefront",
		Subsystem: "orders",
		Name:      "operation_duration_ms",
		Help:      "Order operation latency in milliseconds.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"operation"})

	reg.MustRegister(operations, latency)
	return &Metrics{Operations: operations, LatencyMS: latency}
}

func (m *Metrics) observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, Outcome(err)).Inc()
	m.LatencyMS.WithLabelValues(operation).Observe(float64(time.Since(start).Microseconds()) / 1000)
}

// Outcome maps an operation error to a low-cardinality metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, domain.ErrInvalidStatusTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

var _ port.OrderService = (*Service)(nil)
