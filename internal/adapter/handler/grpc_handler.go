package handler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const requestIDMetadataKey = "x-request-id"

type GRPCHandler struct {
	orders port.OrderService
	logger *zap.Logger
}

func NewGRPCHandler(orders port.OrderService, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{orders: orders, logger: logger}
}

func (h *GRPCHandler) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	items := make([]domain.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.LineItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	orderID, err := h.orders.PlaceOrderOnce(ctx, req.RequestID, req.UserID, items)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PlaceOrderResponse{OrderID: orderID}, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderMessage, error) {
	order, err := h.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	msg := toOrderMessage(*order)
	return &msg, nil
}

func (h *GRPCHandler) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	var filter port.OrderFilter
	if req.UserID != 0 {
		filter.UserID = &req.UserID
	}

	orders, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &ListOrdersResponse{Orders: make([]OrderMessage, 0, len(orders))}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, toOrderMessage(o))
	}
	return resp, nil
}

func (h *GRPCHandler) UpdateStatus(ctx context.Context, req *UpdateStatusRequest) (*UpdateStatusResponse, error) {
	next, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := h.orders.UpdateStatus(ctx, req.OrderID, next); err != nil {
		return nil, toStatus(err)
	}
	return &UpdateStatusResponse{OrderID: req.OrderID, Status: string(next)}, nil
}

func (h *GRPCHandler) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	canceled, err := h.orders.CancelOrder(ctx, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CancelOrderResponse{Canceled: canceled}, nil
}

// UnaryInterceptor tags each call with a request id, echoed in the
// response header, and logs failed calls.
func (h *GRPCHandler) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		requestID := uuid.NewString()
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get(requestIDMetadataKey); len(ids) > 0 && ids[0] != "" {
				requestID = ids[0]
			}
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		resp, err := handler(ctx, req)

		code := status.Code(err)
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		if code == codes.Unavailable || code == codes.Internal {
			h.logger.Error("grpc call failed", append(fields, zap.Error(err))...)
		} else {
			h.logger.Debug("grpc call", fields...)
		}
		return resp, err
	}
}

func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrInvalidRequest):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidStatusTransition):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrDuplicateRequest):
		code = codes.AlreadyExists
	case errors.Is(err, domain.ErrPersistence):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}

	switch code {
	case codes.Unavailable:
		return status.Error(code, "order storage unavailable")
	case codes.Internal:
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

func toOrderMessage(o domain.Order) OrderMessage {
	msg := OrderMessage{
		ID:          o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
		CreatedAt:   o.CreatedAt,
	}
	for _, it := range o.Items {
		msg.Items = append(msg.Items, OrderItemMessage{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.Price,
		})
	}
	return msg
}

var _ OrderServiceServer = (*GRPCHandler)(nil)
