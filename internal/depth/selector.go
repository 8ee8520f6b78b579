package depth

import (
	"slices"

	"bookview/internal/order"
)

// FilterSymbol returns the orders for one symbol, in input order. An unknown
// symbol yields an empty slice; choosing a replacement is the caller's job.
func FilterSymbol(orders []order.Order, symbol string) []order.Order {
	want := order.NormalizeSymbol(symbol)
	out := make([]order.Order, 0)
	if want == "" {
		return out
	}
	for _, o := range orders {
		if o.Symbol == want {
			out = append(out, o)
		}
	}
	return out
}

// Symbols lists the distinct symbols present, sorted.
func Symbols(orders []order.Order) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, o := range orders {
		if _, ok := seen[o.Symbol]; ok {
			continue
		}
		seen[o.Symbol] = struct{}{}
		out = append(out, o.Symbol)
	}
	slices.Sort(out)
	return out
}
