package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenPrice is a cached USD quote for a token.
type TokenPrice struct {
	TokenAddress string
	USDPrice     decimal.Decimal
	Decimals     uint8
	UpdatedAt    time.Time
}
