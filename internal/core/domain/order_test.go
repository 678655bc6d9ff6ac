package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_Transitions(t *testing.T) {
	all := []OrderStatus{
		OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCanceled,
	}
	allowed := map[OrderStatus]map[OrderStatus]bool{
		OrderStatusPending:    {OrderStatusProcessing: true, OrderStatusCanceled: true},
		OrderStatusProcessing: {OrderStatusShipped: true, OrderStatusCanceled: true},
		OrderStatusShipped:    {OrderStatusDelivered: true},
	}

	for _, from := range all {
		for _, to := range all {
			got := from.CanTransitionTo(to)
			assert.Equal(t, allowed[from][to], got, "%s -> %s", from, to)
		}
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	assert.True(t, OrderStatusDelivered.Terminal())
	assert.True(t, OrderStatusCanceled.Terminal())
	assert.False(t, OrderStatusPending.Terminal())
	assert.False(t, OrderStatus("lost").Terminal())
}

func TestParseOrderStatus(t *testing.T) {
	status, err := ParseOrderStatus("shipped")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusShipped, status)

	_, err = ParseOrderStatus("cancelled")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestOrder_ComputeTotal(t *testing.T) {
	order := Order{Items: []OrderItem{
		{ProductID: 1, Quantity: 1, Price: decimal.RequireFromString("1299.99")},
		{ProductID: 3, Quantity: 2, Price: decimal.RequireFromString("199.99")},
	}}

	assert.True(t, order.ComputeTotal().Equal(decimal.RequireFromString("1699.97")))
}

func TestOrder_CloneDoesNotShareItems(t *testing.T) {
	order := Order{ID: 1, Items: []OrderItem{{ProductID: 1, Quantity: 1}}}
	clone := order.Clone()
	clone.Items[0].Quantity = 5

	assert.Equal(t, 1, order.Items[0].Quantity)
}

func TestTypedErrors_Unwrap(t *testing.T) {
	var stockErr *StockError
	err := error(&StockError{ProductID: 7, Requested: 7, Available: 5})
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, int64(7), stockErr.ProductID)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	assert.ErrorIs(t, &ProductError{ProductID: 3}, ErrProductNotFound)
	assert.ErrorIs(t, &TransitionError{From: OrderStatusPending, To: OrderStatusDelivered}, ErrInvalidStatusTransition)

	assert.True(t, IsRetryable(errors.Join(ErrPersistence, errors.New("deadlock"))))
	assert.False(t, IsRetryable(ErrOrderNotFound))
}
