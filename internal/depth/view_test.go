package depth

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"bookview/internal/order"
)

func TestSpread(t *testing.T) {
	bids := Aggregate(order.Buy, []order.Order{mk("b", order.Buy, "99", "1", "0")}, 0)
	asks := Aggregate(order.Sell, []order.Order{mk("a", order.Sell, "101", "1", "0")}, 0)

	sp, ok := ComputeSpread(bids, asks)
	if !ok {
		t.Fatal("expected a market")
	}
	if !sp.Amount.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("amount got %s want 2", sp.Amount)
	}
	if !sp.Percent.Round(2).Equal(decimal.RequireFromString("2.02")) {
		t.Fatalf("percent got %s want ~2.02", sp.Percent)
	}
	if sp.Crossed {
		t.Fatal("not crossed")
	}

	if _, ok := ComputeSpread(bids, nil); ok {
		t.Fatal("empty asks must be no market, not zero")
	}
	if _, ok := ComputeSpread(nil, asks); ok {
		t.Fatal("empty bids must be no market")
	}
}

func TestSpreadCrossedBookSurfaced(t *testing.T) {
	bids := Aggregate(order.Buy, []order.Order{mk("b", order.Buy, "102", "1", "0")}, 0)
	asks := Aggregate(order.Sell, []order.Order{mk("a", order.Sell, "100", "1", "0")}, 0)
	sp, ok := ComputeSpread(bids, asks)
	if !ok || !sp.Crossed {
		t.Fatalf("crossed book hidden: %+v", sp)
	}
	if !sp.Amount.Equal(decimal.NewFromInt(-2)) {
		t.Fatalf("amount got %s want -2", sp.Amount)
	}
}

func TestSymbolsAndFilter(t *testing.T) {
	o1 := mk("1", order.Buy, "1", "1", "0")
	o2 := mk("2", order.Buy, "1", "1", "0")
	o2.Symbol = "ETHUSD"
	o3 := mk("3", order.Sell, "1", "1", "0")
	all := []order.Order{o1, o2, o3}

	if got := Symbols(all); !reflect.DeepEqual(got, []string{"BTCUSD", "ETHUSD"}) {
		t.Fatalf("symbols got %v", got)
	}
	if got := FilterSymbol(all, "btcusd"); len(got) != 2 {
		t.Fatalf("filter got %d want 2", len(got))
	}
	got := FilterSymbol(all, "DOGEUSD")
	if got == nil || len(got) != 0 {
		t.Fatalf("unknown symbol got %#v", got)
	}
}

func TestDeriveMalformedRecordResilience(t *testing.T) {
	recs := []order.Record{
		{ID: 1, Symbol: "BTCUSD", Side: "BUY", Price: "99", Quantity: "2"},
		{ID: 2, Symbol: "BTCUSD", Side: "BUY", Price: "n/a", Quantity: "2"},
		{ID: 3, Symbol: "BTCUSD", Side: "SELL", Price: "101", Quantity: "10", FilledQuantity: "3"},
		{ID: 4, Symbol: "BTCUSD", Side: "SELL", Price: "101", Quantity: "1"},
	}
	orders, dropped := order.Normalize(recs)
	if dropped != 1 {
		t.Fatalf("dropped got %d want 1", dropped)
	}
	v := Derive(orders, "BTCUSD", Options{})
	if v.Stats != (Stats{TotalOrders: 3, BidCount: 1, AskCount: 2}) {
		t.Fatalf("stats got %+v", v.Stats)
	}
	if len(v.AskLevels) != 1 || !v.AskLevels[0].TotalRemainingQuantity.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("ask levels got %+v", v.AskLevels)
	}
	if v.Spread == nil || !v.Spread.Amount.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("spread got %+v", v.Spread)
	}
	if !v.HasData() {
		t.Fatal("expected data")
	}
}

func TestDeriveNoMarketSerializesNull(t *testing.T) {
	v := Derive([]order.Order{mk("1", order.Buy, "10", "1", "0")}, "BTCUSD", Options{})
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"spread":null`) {
		t.Fatalf("expected null spread in %s", b)
	}
	if !strings.Contains(string(b), `"askLevels":[]`) {
		t.Fatalf("expected empty ask levels in %s", b)
	}

	empty := Derive(nil, "BTCUSD", Options{})
	if empty.HasData() || empty.Spread != nil {
		t.Fatalf("empty view got %+v", empty)
	}
}
