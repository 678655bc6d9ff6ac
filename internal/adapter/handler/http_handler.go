package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	requestIDHeader   = "X-Request-ID"
	idempotencyHeader = "Idempotency-Key"
)

type HTTPHandler struct {
	orders  port.OrderService
	logger  *zap.Logger
	metrics *HTTPMetrics
	timeout time.Duration
}

type HTTPOption func(*HTTPHandler)

func WithHTTPLogger(logger *zap.Logger) HTTPOption {
	return func(h *HTTPHandler) { h.logger = logger }
}

func WithHTTPMetrics(m *HTTPMetrics) HTTPOption {
	return func(h *HTTPHandler) { h.metrics = m }
}

// WithRequestTimeout bounds every request context.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPHandler) { h.timeout = d }
}

type PlaceOrderHTTPRequest struct {
	UserID int64              `json:"user_id"`
	Items  []LineItemHTTPBody `json:"items"`
}

type LineItemHTTPBody struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type PlaceOrderHTTPResponse struct {
	OrderID int64 `json:"order_id"`
}

type UpdateStatusHTTPRequest struct {
	Status string `json:"status"`
}

type UpdateStatusHTTPResponse struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

type CancelOrderHTTPResponse struct {
	OrderID  int64 `json:"order_id"`
	Canceled bool  `json:"canceled"`
}

type OrderHTTPResponse struct {
	ID          int64                   `json:"id"`
	UserID      int64                   `json:"user_id"`
	Status      string                  `json:"status"`
	TotalAmount decimal.Decimal         `json:"total_amount"`
	CreatedAt   time.Time               `json:"created_at"`
	Items       []OrderItemHTTPResponse `json:"items,omitempty"`
}

type OrderItemHTTPResponse struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type ErrorHTTPResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewHTTPHandler(orders port.OrderService, opts ...HTTPOption) *HTTPHandler {
	h := &HTTPHandler{orders: orders, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router wires the order API. metricsHandler is mounted on /metrics when set.
func (h *HTTPHandler) Router(metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.requestID, h.instrument)

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/orders").Subrouter()
	api.Use(h.withTimeout)
	api.HandleFunc("", h.PlaceOrder).Methods(http.MethodPost)
	api.HandleFunc("", h.ListOrders).Methods(http.MethodGet)
	api.HandleFunc("/{id:[0-9]+}", h.GetOrder).Methods(http.MethodGet)
	api.HandleFunc("/{id:[0-9]+}/status", h.UpdateStatus).Methods(http.MethodPatch)
	api.HandleFunc("/{id:[0-9]+}", h.CancelOrder).Methods(http.MethodDelete)

	return r
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{
			Error:   "invalid_request",
			Message: "invalid request body",
		})
		return
	}

	items := make([]domain.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.LineItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	requestID := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	orderID, err := h.orders.PlaceOrderOnce(r.Context(), requestID, req.UserID, items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, PlaceOrderHTTPResponse{OrderID: orderID})
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderHTTPResponse(*order))
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var filter port.OrderFilter
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{
				Error:   "invalid_request",
				Message: "user_id must be an integer",
			})
			return
		}
		filter.UserID = &userID
	}

	orders, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]OrderHTTPResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderHTTPResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req UpdateStatusHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{
			Error:   "invalid_request",
			Message: "invalid request body",
		})
		return
	}

	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.orders.UpdateStatus(r.Context(), orderID, status); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UpdateStatusHTTPResponse{OrderID: orderID, Status: string(status)})
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}

	canceled, err := h.orders.CancelOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CancelOrderHTTPResponse{OrderID: orderID, Canceled: canceled})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps domain errors onto HTTP status codes. Storage failures
// are logged and reported without their cause.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := httpStatus(err)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", w.Header().Get(requestIDHeader)),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		message = http.StatusText(status)
	}

	writeJSON(w, status, ErrorHTTPResponse{Error: code, Message: message})
}

func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, "product_not_found"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidStatusTransition):
		return http.StatusConflict, "invalid_status_transition"
	case errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusConflict, "duplicate_request"
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable, "persistence_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{
			Error:   "invalid_request",
			Message: "order id must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

func toOrderHTTPResponse(o domain.Order) OrderHTTPResponse {
	resp := OrderHTTPResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
		CreatedAt:   o.CreatedAt,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, OrderItemHTTPResponse{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.Price,
			Subtotal:    it.Subtotal(),
		})
	}
	return resp
}

func (h *HTTPHandler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPHandler) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.timeout <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *HTTPHandler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		h.metrics.observe(route, rec.status, start)
		h.logger.Debug("http request",
			zap.String("request_id", w.Header().Get(requestIDHeader)),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// HTTPMetrics counts requests per route and status.
type HTTPMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storefront",
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route"})

	reg.MustRegister(requests, latency)
	return &HTTPMetrics{Requests: requests, LatencyMS: latency}
}

func (m *HTTPMetrics) observe(route string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Microseconds()) / 1000)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
