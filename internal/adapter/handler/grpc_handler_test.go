package handler

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const bufSize = 1024 * 1024

type GRPCHandlerSuite struct {
	suite.Suite
	listener *bufconn.Listener
	server   *grpc.Server
	conn     *grpc.ClientConn
	client   *OrderServiceClient
	store    *storage.MemoryAdapter
	userID   int64
	laptop   int64
}

func (s *GRPCHandlerSuite) SetupTest() {
	ctx := context.Background()
	s.store = storage.NewMemoryAdapter()

	var err error
	s.userID, err = s.store.CreateUser(ctx, "jane_smith", "jane@example.com")
	s.Require().NoError(err)
	s.laptop, err = s.store.CreateProduct(ctx, domain.Product{Name: "Laptop", Price: decimal.RequireFromString("1299.99"), Stock: 10})
	s.Require().NoError(err)

	h := NewGRPCHandler(service.NewOrderService(s.store, service.WithIdempotency(storage.NewMemoryCache())), nil)

	s.listener = bufconn.Listen(bufSize)
	s.server = grpc.NewServer(grpc.UnaryInterceptor(h.UnaryInterceptor()))
	RegisterOrderServiceServer(s.server, h)
	go func() { s.server.Serve(s.listener) }()

	s.conn, err = grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return s.listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	s.Require().NoError(err)
	s.client = NewOrderServiceClient(s.conn)
}

func (s *GRPCHandlerSuite) TearDownTest() {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.server != nil {
		s.server.GracefulStop()
	}
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *GRPCHandlerSuite) place(quantity int) (*PlaceOrderResponse, error) {
	return s.client.PlaceOrder(context.Background(), &PlaceOrderRequest{
		UserID: s.userID,
		Items:  []LineItemMessage{{ProductID: s.laptop, Quantity: quantity}},
	})
}

func (s *GRPCHandlerSuite) TestPlaceAndGetOrder() {
	ctx := context.Background()

	var header metadata.MD
	placed, err := s.client.PlaceOrder(ctx, &PlaceOrderRequest{
		UserID: s.userID,
		Items:  []LineItemMessage{{ProductID: s.laptop, Quantity: 2}},
	}, grpc.Header(&header))
	s.Require().NoError(err)
	s.Positive(placed.OrderID)
	s.NotEmpty(header.Get(requestIDMetadataKey))

	order, err := s.client.GetOrder(ctx, &GetOrderRequest{OrderID: placed.OrderID})
	s.Require().NoError(err)
	s.Equal("pending", order.Status)
	s.Equal("2599.98", order.TotalAmount.StringFixed(2))
	s.Require().Len(order.Items, 1)
	s.Equal("Laptop", order.Items[0].ProductName)
}

func (s *GRPCHandlerSuite) TestErrorCodes() {
	ctx := context.Background()

	_, err := s.place(11)
	s.Equal(codes.FailedPrecondition, status.Code(err))

	_, err = s.place(0)
	s.Equal(codes.InvalidArgument, status.Code(err))

	_, err = s.client.GetOrder(ctx, &GetOrderRequest{OrderID: 999})
	s.Equal(codes.NotFound, status.Code(err))

	_, err = s.client.UpdateStatus(ctx, &UpdateStatusRequest{OrderID: 1, Status: "lost"})
	s.Equal(codes.InvalidArgument, status.Code(err))
}

func (s *GRPCHandlerSuite) TestStatusTransitionsAndCancel() {
	ctx := context.Background()

	placed, err := s.place(4)
	s.Require().NoError(err)

	_, err = s.client.UpdateStatus(ctx, &UpdateStatusRequest{OrderID: placed.OrderID, Status: "delivered"})
	s.Equal(codes.FailedPrecondition, status.Code(err))

	resp, err := s.client.UpdateStatus(ctx, &UpdateStatusRequest{OrderID: placed.OrderID, Status: "processing"})
	s.Require().NoError(err)
	s.Equal("processing", resp.Status)

	canceled, err := s.client.CancelOrder(ctx, &CancelOrderRequest{OrderID: placed.OrderID})
	s.Require().NoError(err)
	s.True(canceled.Canceled)

	p, err := s.store.GetProduct(ctx, s.laptop)
	s.Require().NoError(err)
	s.Equal(10, p.Stock)
}

func (s *GRPCHandlerSuite) TestListOrdersAndIdempotency() {
	ctx := context.Background()
	req := &PlaceOrderRequest{
		RequestID: "req-42",
		UserID:    s.userID,
		Items:     []LineItemMessage{{ProductID: s.laptop, Quantity: 1}},
	}

	first, err := s.client.PlaceOrder(ctx, req)
	s.Require().NoError(err)
	again, err := s.client.PlaceOrder(ctx, req)
	s.Require().NoError(err)
	s.Equal(first.OrderID, again.OrderID)

	list, err := s.client.ListOrders(ctx, &ListOrdersRequest{UserID: s.userID})
	s.Require().NoError(err)
	s.Len(list.Orders, 1)

	list, err = s.client.ListOrders(ctx, &ListOrdersRequest{UserID: 999})
	s.Require().NoError(err)
	s.Empty(list.Orders)
}

func TestGRPCHandlerSuite(t *testing.T) {
	suite.Run(t, new(GRPCHandlerSuite))
}

func TestToStatus_HidesStorageDetail(t *testing.T) {
	err := toStatus(fmt.Errorf("%w: dial tcp 10.0.0.5:3306: refused", domain.ErrPersistence))
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.Unavailable, st.Code())
	require.NotContains(t, st.Message(), "10.0.0.5")

	require.Equal(t, codes.AlreadyExists, status.Code(toStatus(domain.ErrDuplicateRequest)))
}
