package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound            = errors.New("user not found")
	ErrProductNotFound         = errors.New("product not found")
	ErrOrderNotFound           = errors.New("order not found")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrDuplicateRequest        = errors.New("duplicate request")

	// ErrPersistence marks a storage failure. Failed operations leave no
	// partial effect, so the whole call may be retried.
	ErrPersistence = errors.New("persistence error")
)

// ProductError reports a product id that does not resolve to a product.
type ProductError struct {
	ProductID int64
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("product %d: %v", e.ProductID, ErrProductNotFound)
}

func (e *ProductError) Unwrap() error { return ErrProductNotFound }

// StockError reports a reservation that exceeded the stock on hand.
type StockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("product %d: %v (requested %d, available %d)",
		e.ProductID, ErrInsufficientStock, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidStatusTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStatusTransition }

// IsRetryable reports whether err is safe to retry unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}
