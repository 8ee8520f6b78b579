package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zishang520/socket.io/clients/engine/v3/transports"
	"github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"bookview/internal/feed"
	"bookview/internal/identity"
	"bookview/internal/order"
)

// Disconnect reasons reported by the socket.io client.
const (
	reasonServerDisconnect = "io server disconnect"
	reasonClientDisconnect = "io client disconnect"
)

type SocketIOConfig struct {
	URL            string // backend base, e.g. http://localhost:5000
	Event          string // default orderbook_update
	SubscribeEvent string // default subscribe_orderbook
	Session        *identity.Session
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
	ConnectTimeout time.Duration
}

// SocketIOFeed is the push channel, a socket.io client subscribed to the
// backend's order book room. The client library reconnects dropped
// transports; sessions the server refuses or closes are retried here with
// exponential backoff until the feed is closed.
type SocketIOFeed struct {
	cfg    SocketIOConfig
	log    *slog.Logger
	events chan feed.Event

	mu      sync.Mutex
	backoff time.Duration
	closed  bool
	done    chan struct{}
}

// connectError marks a refused handshake, as opposed to a dropped link.
type connectError struct{ err error }

func (e connectError) Error() string { return e.err.Error() }
func (e connectError) Unwrap() error { return e.err }

func NewSocketIOFeed(cfg SocketIOConfig, logger *slog.Logger) *SocketIOFeed {
	if cfg.Event == "" {
		cfg.Event = "orderbook_update"
	}
	if cfg.SubscribeEvent == "" {
		cfg.SubscribeEvent = "subscribe_orderbook"
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &SocketIOFeed{
		cfg:     cfg,
		log:     logger.With(slog.String("component", "socketio")),
		events:  make(chan feed.Event, 16),
		backoff: cfg.MinBackoff,
		done:    make(chan struct{}),
	}
}

func (f *SocketIOFeed) Events() <-chan feed.Event { return f.events }

func (f *SocketIOFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
}

// Run connects and relays events until ctx ends or Close is called. It
// returns nil after Close and the context error otherwise.
func (f *SocketIOFeed) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-f.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	opts := socket.DefaultOptions()
	opts.SetTransports(types.NewSet(transports.WebSocket))
	opts.SetTimeout(f.cfg.ConnectTimeout)
	opts.SetReconnectionDelay(float64(f.cfg.MinBackoff.Milliseconds()))
	opts.SetReconnectionDelayMax(float64(f.cfg.MaxBackoff.Milliseconds()))
	if f.cfg.Session != nil {
		if token := f.cfg.Session.Token(); token != "" {
			opts.SetAuth(map[string]any{"token": token})
		}
	}

	io, err := socket.Connect(f.cfg.URL, opts)
	if err != nil {
		return fmt.Errorf("socket.io %s: %w", f.cfg.URL, err)
	}
	f.bind(ctx, io)

	<-ctx.Done()
	io.Disconnect()
	return f.exitErr(ctx)
}

func (f *SocketIOFeed) bind(ctx context.Context, io *socket.Socket) {
	io.On("connect", func(...any) {
		f.resetBackoff()
		f.log.Info("socket.io connected")
		if !feed.Emit(ctx, f.events, feed.Event{Kind: feed.Connected}) {
			return
		}
		if err := io.Emit(f.cfg.SubscribeEvent); err != nil {
			f.log.Warn("subscribe failed", slog.String("err", err.Error()))
		}
	})

	io.On("connect_error", func(args ...any) {
		if ctx.Err() != nil {
			return
		}
		err := connectError{connectErrorFrom(args)}
		f.log.Warn("socket.io connect failed", slog.String("err", err.Error()))
		feed.Emit(ctx, f.events, feed.Event{Kind: feed.ConnectError, Err: err})
		// A refused namespace handshake is final for the client; retry it here.
		if !io.Active() {
			f.retry(ctx, io)
		}
	})

	io.On("disconnect", func(args ...any) {
		reason := firstString(args)
		if reason == reasonClientDisconnect || ctx.Err() != nil {
			return
		}
		f.log.Info("socket.io disconnected", slog.String("reason", reason))
		feed.Emit(ctx, f.events, feed.Event{Kind: feed.Disconnected, Err: fmt.Errorf("socket.io disconnect: %s", reason)})
		if reason == reasonServerDisconnect {
			f.retry(ctx, io)
		}
	})

	io.On(types.EventName(f.cfg.Event), func(args ...any) {
		recs, err := decodeBook(args)
		if err != nil {
			f.log.Warn("invalid order book data received", slog.String("err", err.Error()))
			return
		}
		feed.Emit(ctx, f.events, feed.Event{Kind: feed.OrderBook, Records: recs})
	})
}

// retry reconnects io after the current backoff, doubling it up to the max.
func (f *SocketIOFeed) retry(ctx context.Context, io *socket.Socket) {
	f.mu.Lock()
	wait := f.backoff
	f.backoff = min(f.backoff*2, f.cfg.MaxBackoff)
	f.mu.Unlock()

	f.log.Info("socket.io reconnect scheduled", slog.Duration("retry_in", wait))
	go func() {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			io.Connect()
		}
	}()
}

func (f *SocketIOFeed) resetBackoff() {
	f.mu.Lock()
	f.backoff = f.cfg.MinBackoff
	f.mu.Unlock()
}

// exitErr is nil after Close and the context error otherwise.
func (f *SocketIOFeed) exitErr(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	default:
		return ctx.Err()
	}
}

// decodeBook re-encodes the event's first argument so numbers go through
// the same json.Number path as REST snapshots.
func decodeBook(args []any) ([]order.Record, error) {
	if len(args) == 0 {
		return nil, errors.New("order book update without payload")
	}
	raw, err := json.Marshal(args[0])
	if err != nil {
		return nil, err
	}
	return order.DecodeRecords(raw)
}

func connectErrorFrom(args []any) error {
	if len(args) == 0 || args[0] == nil {
		return errors.New("socket.io connect refused")
	}
	switch v := args[0].(type) {
	case error:
		return v
	case map[string]any:
		if msg, ok := v["message"].(string); ok && msg != "" {
			return fmt.Errorf("socket.io connect refused: %s", msg)
		}
	}
	return fmt.Errorf("socket.io connect refused: %v", args[0])
}

func firstString(args []any) string {
	if len(args) == 0 {
		return ""
	}
	if s, ok := args[0].(string); ok {
		return s
	}
	return fmt.Sprint(args[0])
}
