package depth

import "bookview/internal/order"

type Options struct {
	// MaxLevels caps each side of the aggregated book; 0 means unlimited.
	MaxLevels int
}

// Derive runs the whole pipeline for one symbol: filter, partition,
// aggregate, spread. It is a pure function of its inputs and safe to call
// from any goroutine on every update.
func Derive(orders []order.Order, symbol string, opts Options) View {
	scoped := FilterSymbol(orders, symbol)
	bids, asks := Partition(scoped)
	bidLevels := Aggregate(order.Buy, bids, opts.MaxLevels)
	askLevels := Aggregate(order.Sell, asks, opts.MaxLevels)

	v := View{
		Symbol:    order.NormalizeSymbol(symbol),
		Bids:      bids,
		Asks:      asks,
		BidLevels: bidLevels,
		AskLevels: askLevels,
		Stats: Stats{
			TotalOrders: len(scoped),
			BidCount:    len(bids),
			AskCount:    len(asks),
		},
	}
	if sp, ok := ComputeSpread(bidLevels, askLevels); ok {
		v.Spread = &sp
	}
	return v
}
