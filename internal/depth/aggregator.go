package depth

import (
	"slices"

	"github.com/shopspring/decimal"

	"bookview/internal/order"
)

// Aggregate groups one side's orders into price levels, best level first.
// Only resting orders count: a zero remainder or a zero (market) price keeps
// an order out of the level entirely, whatever its status says. maxLevels
// truncates to the best N levels; 0 keeps all of them.
func Aggregate(side order.Side, orders []order.Order, maxLevels int) []PriceLevel {
	// Numerically equal decimals can carry different exponents ("100" vs
	// "100.00"), so group on a canonical string key rather than the value.
	byKey := map[string]*PriceLevel{}
	keys := make([]string, 0, len(orders))
	for _, o := range orders {
		if o.Side != side || !o.Resting() {
			continue
		}
		k := canonicalPriceKey(o.Price)
		lvl, ok := byKey[k]
		if !ok {
			lvl = &PriceLevel{Price: o.Price, TotalRemainingQuantity: decimal.Zero}
			byKey[k] = lvl
			keys = append(keys, k)
		}
		rem := o.Remaining()
		lvl.TotalRemainingQuantity = lvl.TotalRemainingQuantity.Add(rem)
		lvl.Orders = append(lvl.Orders, LevelOrder{
			Order:          o,
			Remaining:      rem,
			FillPercentage: o.FillPercentage(),
		})
		if o.IsOwnOrder {
			lvl.OwnOrderCount++
		}
	}

	slices.SortFunc(keys, func(ka, kb string) int {
		return comparePrice(side, byKey[ka].Price, byKey[kb].Price)
	})
	if maxLevels > 0 && len(keys) > maxLevels {
		keys = keys[:maxLevels]
	}

	levels := make([]PriceLevel, 0, len(keys))
	for i, k := range keys {
		lvl := byKey[k]
		lvl.Rank = i
		lvl.TotalValue = lvl.Price.Mul(lvl.TotalRemainingQuantity)
		levels = append(levels, *lvl)
	}
	return levels
}

// canonicalPriceKey normalizes a Decimal so numerically equal values hash to
// the same key; String() drops redundant trailing zeros.
func canonicalPriceKey(p decimal.Decimal) string {
	return p.String()
}
