package order

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPayload is returned when a snapshot body is neither a record
// array nor one of the known envelopes.
var ErrInvalidPayload = errors.New("invalid data format received from API")

// Record is the wire shape of an order as delivered by the backend, both by
// the REST snapshot and the push channel. Fields stay untyped because the
// backend sends numbers, numeric strings and nulls interchangeably; the
// normalizer decides what is usable.
type Record struct {
	ID             any `json:"id"`
	Symbol         any `json:"symbol"`
	Side           any `json:"side"`
	Price          any `json:"price"`
	Quantity       any `json:"quantity"`
	FilledQuantity any `json:"filled_quantity"`
	Status         any `json:"status"`
	UserID         any `json:"user_id"`
	OwnerID        any `json:"owner_id"`
	IsOwnOrder     any `json:"is_own_order"`
	CreatedAt      any `json:"created_at"`
}

// DecodeRecords decodes a JSON array of records. Numbers are kept as
// json.Number so prices survive without float rounding.
func DecodeRecords(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var recs []Record
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return recs, nil
}

// DecodeSnapshot decodes a snapshot body. The backend answers either with a
// bare array or with the array wrapped under "orders" or "data".
func DecodeSnapshot(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrInvalidPayload
	}
	if trimmed[0] == '[' {
		return DecodeRecords(trimmed)
	}
	if trimmed[0] != '{' {
		return nil, ErrInvalidPayload
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	for _, key := range []string{"orders", "data"} {
		raw, ok := env[key]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '[' {
			return DecodeRecords(raw)
		}
	}
	return nil, ErrInvalidPayload
}
