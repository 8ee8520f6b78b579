package depth

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"bookview/internal/order"
)

// Partition splits orders into bids (price descending) and asks (price
// ascending). Equal prices fall back to CreatedAt, with unknown timestamps
// after known ones; full ties keep their input order.
func Partition(orders []order.Order) (bids, asks []order.Order) {
	bids = make([]order.Order, 0, len(orders))
	asks = make([]order.Order, 0, len(orders))
	for _, o := range orders {
		switch o.Side {
		case order.Buy:
			bids = append(bids, o)
		case order.Sell:
			asks = append(asks, o)
		}
	}
	slices.SortStableFunc(bids, func(a, b order.Order) int {
		if c := comparePrice(order.Buy, a.Price, b.Price); c != 0 {
			return c
		}
		return compareArrival(a.CreatedAt, b.CreatedAt)
	})
	slices.SortStableFunc(asks, func(a, b order.Order) int {
		if c := comparePrice(order.Sell, a.Price, b.Price); c != 0 {
			return c
		}
		return compareArrival(a.CreatedAt, b.CreatedAt)
	})
	return bids, asks
}

// comparePrice orders best-first for the side: highest bid, lowest ask.
func comparePrice(side order.Side, a, b decimal.Decimal) int {
	if side == order.Buy {
		return b.Cmp(a)
	}
	return a.Cmp(b)
}

func compareArrival(a, b time.Time) int {
	switch {
	case a.IsZero() && b.IsZero():
		return 0
	case a.IsZero():
		return 1
	case b.IsZero():
		return -1
	}
	return a.Compare(b)
}
