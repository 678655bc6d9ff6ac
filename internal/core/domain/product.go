package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int // never negative
	CreatedAt   time.Time
}

type User struct {
	ID        int64
	Username  string
	Email     string
	CreatedAt time.Time
}
