// Package order holds the canonical order shape the depth engine works on and
// the normalizer that turns loosely typed backend records into it.
package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type Status string

const (
	Pending   Status = "PENDING"
	Partial   Status = "PARTIAL"
	Filled    Status = "FILLED"
	Cancelled Status = "CANCELLED"
)

var hundred = decimal.NewFromInt(100)

// Order is a normalized resting (or formerly resting) order. Values are
// treated as immutable once produced by Normalize.
type Order struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filledQuantity"`
	Status         Status          `json:"status"`
	OwnerID        string          `json:"ownerId,omitempty"`
	IsOwnOrder     bool            `json:"isOwnOrder"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Remaining is the unfilled size. It is authoritative over Status.
func (o Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// FillPercentage is filled/quantity*100, or zero for a zero-size order.
func (o Order) FillPercentage() decimal.Decimal {
	if o.Quantity.IsZero() {
		return decimal.Zero
	}
	return o.FilledQuantity.Div(o.Quantity).Mul(hundred)
}

// Resting reports whether the order contributes visible depth: it has a
// resting price and something left to fill.
func (o Order) Resting() bool {
	return o.Price.IsPositive() && o.Remaining().IsPositive()
}

// NormalizeSymbol canonicalizes an instrument token (" btcusd " -> "BTCUSD").
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return Buy, true
	case "SELL":
		return Sell, true
	}
	return "", false
}

// ParseStatus accepts the backend status labels in any case. The American
// spelling CANCELED is folded into Cancelled.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING":
		return Pending, true
	case "PARTIAL":
		return Partial, true
	case "FILLED":
		return Filled, true
	case "CANCELLED", "CANCELED":
		return Cancelled, true
	}
	return "", false
}
