package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePartialFill(t *testing.T) {
	orders, dropped := Normalize([]Record{{
		ID: 7, Symbol: " btcusd ", Side: "buy", Price: "100.50", Quantity: 10, FilledQuantity: 3,
	}})
	require.Equal(t, 0, dropped)
	require.Len(t, orders, 1)

	o := orders[0]
	assert.Equal(t, "7", o.ID)
	assert.Equal(t, "BTCUSD", o.Symbol)
	assert.Equal(t, Buy, o.Side)
	assert.True(t, o.Price.Equal(decimal.RequireFromString("100.5")))
	assert.True(t, o.Remaining().Equal(decimal.NewFromInt(7)), "remaining %s", o.Remaining())
	assert.True(t, o.FillPercentage().Equal(decimal.NewFromInt(30)), "fill %s", o.FillPercentage())
	assert.Equal(t, Partial, o.Status, "status derived from fill when absent")
	assert.True(t, o.Resting())
}

func TestNormalizeDropsMalformedOnly(t *testing.T) {
	recs := []Record{
		{ID: "a", Symbol: "ETHUSD", Side: "SELL", Price: "2000", Quantity: "1"},
		{ID: "b", Symbol: "ETHUSD", Side: "SELL", Price: "abc", Quantity: "1"},
		{ID: "c", Symbol: "ETHUSD", Side: "SELL", Price: "-1", Quantity: "1"},
		{ID: "d", Symbol: "ETHUSD", Side: "HOLD", Price: "1", Quantity: "1"},
		{ID: "e", Symbol: "ETHUSD", Side: "BUY", Price: "1", Quantity: "1", FilledQuantity: "2"},
		{ID: nil, Symbol: "ETHUSD", Side: "BUY", Price: "1", Quantity: "1"},
		{ID: "f", Symbol: "ETHUSD", Side: "BUY", Price: "1999.5", Quantity: nil},
		{ID: "g", Symbol: "ETHUSD", Side: "BUY", Price: 1999.5, Quantity: 2},
	}
	orders, dropped := Normalize(recs)
	assert.Equal(t, 6, dropped)
	require.Len(t, orders, 2)
	assert.Equal(t, "a", orders[0].ID)
	assert.Equal(t, "g", orders[1].ID)
}

func TestNormalizeMarketOrderIsNotResting(t *testing.T) {
	o, err := Record{ID: 1, Symbol: "BTCUSD", Side: "BUY", Price: 0, Quantity: 1}.Normalize()
	require.NoError(t, err)
	assert.False(t, o.Resting())
}

func TestNormalizeFilledRemainderWins(t *testing.T) {
	// status says PENDING but nothing remains; remainder is authoritative
	o, err := Record{ID: 1, Symbol: "BTCUSD", Side: "SELL", Price: 5, Quantity: 5, FilledQuantity: 5, Status: "pending"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, Pending, o.Status)
	assert.False(t, o.Resting())
	assert.True(t, o.Remaining().IsZero())
}

func TestNormalizeOwnerAndFlags(t *testing.T) {
	o, err := Record{ID: 1, Symbol: "X", Side: "BUY", Price: 1, Quantity: 1, UserID: 42, IsOwnOrder: 1}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "42", o.OwnerID)
	assert.True(t, o.IsOwnOrder)

	o, err = Record{ID: 2, Symbol: "X", Side: "BUY", Price: 1, Quantity: 1, OwnerID: "u-9"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "u-9", o.OwnerID)
	assert.False(t, o.IsOwnOrder)
}

func TestNormalizeTimestamps(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	cases := map[string]any{
		"rfc3339":   "2024-03-01T12:30:00Z",
		"isoformat": "2024-03-01T12:30:00",
		"mysql":     "2024-03-01 12:30:00",
		"jsonify":   "Fri, 01 Mar 2024 12:30:00 GMT",
		"seconds":   float64(want.Unix()),
		"millis":    want.UnixMilli(),
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			o, err := Record{ID: 1, Symbol: "X", Side: "BUY", Price: 1, Quantity: 1, CreatedAt: v}.Normalize()
			require.NoError(t, err)
			assert.True(t, o.CreatedAt.Equal(want), "got %s", o.CreatedAt)
		})
	}

	o, err := Record{ID: 1, Symbol: "X", Side: "BUY", Price: 1, Quantity: 1, CreatedAt: "yesterday"}.Normalize()
	require.NoError(t, err)
	assert.True(t, o.CreatedAt.IsZero())
}

func TestDecodeSnapshotEnvelopes(t *testing.T) {
	bodies := []string{
		`[{"id":1,"symbol":"BTCUSD","side":"BUY","price":100.10,"quantity":"2"}]`,
		`{"orders":[{"id":1,"symbol":"BTCUSD","side":"BUY","price":100.10,"quantity":"2"}]}`,
		`{"success":true,"data":[{"id":1,"symbol":"BTCUSD","side":"BUY","price":100.10,"quantity":"2"}]}`,
	}
	for _, body := range bodies {
		recs, err := DecodeSnapshot([]byte(body))
		require.NoError(t, err, body)
		require.Len(t, recs, 1)
		orders, dropped := Normalize(recs)
		require.Zero(t, dropped)
		assert.Equal(t, "100.1", orders[0].Price.String())
	}

	_, err := DecodeSnapshot([]byte(`{"error":"nope"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = DecodeSnapshot([]byte(`"text"`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
