package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var errMissing = errors.New("missing")

// Normalize converts raw records into canonical orders. Records that cannot
// be made consistent are dropped, never fatal; the number dropped is
// returned so callers can surface it.
func Normalize(records []Record) ([]Order, int) {
	out := make([]Order, 0, len(records))
	dropped := 0
	for _, r := range records {
		o, err := r.Normalize()
		if err != nil {
			dropped++
			continue
		}
		out = append(out, o)
	}
	return out, dropped
}

// Normalize validates and coerces a single record.
func (r Record) Normalize() (Order, error) {
	id, ok := toText(r.ID)
	if !ok || id == "" {
		return Order{}, errors.New("id: missing")
	}
	symText, _ := toText(r.Symbol)
	sym := NormalizeSymbol(symText)
	if sym == "" {
		return Order{}, fmt.Errorf("order %s: symbol: missing", id)
	}
	sideText, _ := toText(r.Side)
	side, ok := ParseSide(sideText)
	if !ok {
		return Order{}, fmt.Errorf("order %s: side %q", id, sideText)
	}

	price, err := toDecimal(r.Price)
	if err != nil {
		return Order{}, fmt.Errorf("order %s: price: %w", id, err)
	}
	qty, err := toDecimal(r.Quantity)
	if err != nil {
		return Order{}, fmt.Errorf("order %s: quantity: %w", id, err)
	}
	filled, err := toDecimal(r.FilledQuantity)
	if errors.Is(err, errMissing) {
		filled, err = decimal.Zero, nil
	}
	if err != nil {
		return Order{}, fmt.Errorf("order %s: filled_quantity: %w", id, err)
	}
	if filled.GreaterThan(qty) {
		return Order{}, fmt.Errorf("order %s: filled %s exceeds quantity %s", id, filled, qty)
	}

	statusText, _ := toText(r.Status)
	status, ok := ParseStatus(statusText)
	if !ok {
		status = statusFromFill(qty, filled)
	}

	owner, _ := toText(r.UserID)
	if owner == "" {
		owner, _ = toText(r.OwnerID)
	}

	return Order{
		ID:             id,
		Symbol:         sym,
		Side:           side,
		Price:          price,
		Quantity:       qty,
		FilledQuantity: filled,
		Status:         status,
		OwnerID:        owner,
		IsOwnOrder:     toBool(r.IsOwnOrder),
		CreatedAt:      toTime(r.CreatedAt),
	}, nil
}

func statusFromFill(qty, filled decimal.Decimal) Status {
	switch {
	case filled.IsZero():
		return Pending
	case filled.LessThan(qty):
		return Partial
	default:
		return Filled
	}
}

// toDecimal parses a finite, non-negative number from a JSON value.
func toDecimal(v any) (decimal.Decimal, error) {
	var d decimal.Decimal
	switch x := v.(type) {
	case nil:
		return decimal.Zero, errMissing
	case json.Number:
		p, err := decimal.NewFromString(string(x))
		if err != nil {
			return decimal.Zero, err
		}
		d = p
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero, errMissing
		}
		p, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, err
		}
		d = p
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, fmt.Errorf("not finite: %v", x)
		}
		d = decimal.NewFromFloat(x)
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, fmt.Errorf("not finite: %v", x)
		}
		d = decimal.NewFromFloat32(x)
	case int:
		d = decimal.NewFromInt(int64(x))
	case int64:
		d = decimal.NewFromInt(x)
	case decimal.Decimal:
		d = x
	default:
		return decimal.Zero, fmt.Errorf("unsupported type %T", v)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative: %s", d)
	}
	return d, nil
}

func toText(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return strings.TrimSpace(x), true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return fmt.Sprint(x), true
	}
}

func toBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case json.Number:
		return x.String() != "0"
	case float64:
		return x != 0
	case int:
		return x != 0
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(x))
		return b
	}
	return false
}

// Layouts seen from the backend: RFC 3339, Python isoformat() without a zone,
// MySQL DATETIME text and Flask's jsonify (RFC 1123, GMT).
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.RFC1123,
	time.RFC1123Z,
}

// toTime never fails: an unknown timestamp only weakens the secondary sort
// key, so it becomes the zero time.
func toTime(v any) time.Time {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(n)
		}
	case json.Number:
		if n, err := x.Float64(); err == nil {
			return fromEpoch(n)
		}
	case float64:
		return fromEpoch(x)
	case int64:
		return fromEpoch(float64(x))
	case int:
		return fromEpoch(float64(x))
	case time.Time:
		return x.UTC()
	}
	return time.Time{}
}

func fromEpoch(n float64) time.Time {
	if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return time.Time{}
	}
	// Anything past 1e12 is milliseconds (1e12 s is year 33658).
	if n >= 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
