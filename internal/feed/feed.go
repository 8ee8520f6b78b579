// Package feed defines the push channel as the reconciliation controller sees
// it: a stream of connection lifecycle events and full order-book
// replacements.
package feed

import (
	"context"
	"fmt"

	"bookview/internal/order"
)

type Kind int

const (
	Connected Kind = iota + 1
	Disconnected
	ConnectError
	OrderBook
)

func (k Kind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case ConnectError:
		return "connect_error"
	case OrderBook:
		return "orderbook_update"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is one push-channel occurrence. Records is set for OrderBook and is
// always a complete snapshot of the book, never a delta. Err is set for
// ConnectError and optionally for Disconnected.
type Event struct {
	Kind    Kind
	Records []order.Record
	Err     error
}

// Feed is a push source. Run connects and keeps reconnecting until ctx is
// done or Close is called; Events is never closed while Run is active.
type Feed interface {
	Run(ctx context.Context) error
	Events() <-chan Event
	Close()
}

// Emit delivers ev unless ctx ends first. Lifecycle events must not be
// dropped, so there is no non-blocking fallback.
func Emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
