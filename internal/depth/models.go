package depth

import (
	"github.com/shopspring/decimal"

	"bookview/internal/order"
)

// LevelOrder is one contributing order inside a price level, kept for
// drill-down.
type LevelOrder struct {
	order.Order
	Remaining      decimal.Decimal `json:"remainingQuantity"`
	FillPercentage decimal.Decimal `json:"fillPercentage"`
}

// PriceLevel aggregates every resting order of one side at one exact price.
type PriceLevel struct {
	Price                  decimal.Decimal `json:"price"`
	TotalRemainingQuantity decimal.Decimal `json:"totalRemainingQuantity"`
	TotalValue             decimal.Decimal `json:"totalValue"` // price * remaining
	Orders                 []LevelOrder    `json:"orders"`
	OwnOrderCount          int             `json:"ownOrderCount"`
	Rank                   int             `json:"rank"` // 0 is best
}

// HasOwnOrders reports whether the viewer has anything resting at this level.
func (l PriceLevel) HasOwnOrders() bool { return l.OwnOrderCount > 0 }

// Spread is the two-sided market. A crossed book (BestAsk < BestBid) is kept
// as-is with a negative Amount.
type Spread struct {
	BestBid decimal.Decimal `json:"bestBid"`
	BestAsk decimal.Decimal `json:"bestAsk"`
	Amount  decimal.Decimal `json:"spreadAmount"`
	Percent decimal.Decimal `json:"spreadPercent"`
	Crossed bool            `json:"crossed"`
}

type Stats struct {
	TotalOrders int `json:"totalOrders"`
	BidCount    int `json:"bidCount"`
	AskCount    int `json:"askCount"`
}

// View is the derived depth for one symbol. Spread is nil when there is no
// two-sided market.
type View struct {
	Symbol    string        `json:"symbol"`
	Bids      []order.Order `json:"bids"`
	Asks      []order.Order `json:"asks"`
	BidLevels []PriceLevel  `json:"bidLevels"`
	AskLevels []PriceLevel  `json:"askLevels"`
	Spread    *Spread       `json:"spread"`
	Stats     Stats         `json:"stats"`
}

// HasData is true when the symbol has at least one order, resting or not.
func (v View) HasData() bool { return v.Stats.TotalOrders > 0 }
