package depth

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ComputeSpread derives the two-sided market from best-first levels. It
// reports false ("no market") when either side is empty.
func ComputeSpread(bidLevels, askLevels []PriceLevel) (Spread, bool) {
	if len(bidLevels) == 0 || len(askLevels) == 0 {
		return Spread{}, false
	}
	bid := bidLevels[0].Price
	ask := askLevels[0].Price
	amount := ask.Sub(bid)

	pct := decimal.Zero
	if !bid.IsZero() {
		pct = amount.Div(bid).Mul(hundred)
	}
	return Spread{
		BestBid: bid,
		BestAsk: ask,
		Amount:  amount,
		Percent: pct,
		Crossed: ask.LessThan(bid),
	}, true
}
