// Package redisfeed is a push channel fed by a Redis pub/sub channel, for
// deployments where the backend fans book snapshots out through Redis
// instead of Socket.IO.
package redisfeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bookview/internal/feed"
	"bookview/internal/order"
)

type Config struct {
	Addr       string
	Password   string
	DB         int
	Channel    string
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

type Feed struct {
	cfg    Config
	rdb    *redis.Client
	log    *slog.Logger
	events chan feed.Event

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func New(cfg Config, logger *slog.Logger) *Feed {
	if cfg.Channel == "" {
		cfg.Channel = "orderbook_update"
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
		MaxRetries:  1,
	})
	return &Feed{
		cfg:    cfg,
		rdb:    rdb,
		log:    logger.With(slog.String("component", "redisfeed"), slog.String("channel", cfg.Channel)),
		events: make(chan feed.Event, 16),
		done:   make(chan struct{}),
	}
}

func (f *Feed) Events() <-chan feed.Event { return f.events }

func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
	_ = f.rdb.Close()
}

func (f *Feed) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-f.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	backoff := f.cfg.MinBackoff
	for {
		if ctx.Err() != nil {
			return f.exitErr(ctx)
		}

		pubsub := f.rdb.Subscribe(ctx, f.cfg.Channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			if ctx.Err() != nil {
				return f.exitErr(ctx)
			}
			err = fmt.Errorf("redis: subscribe %s: %w", f.cfg.Channel, err)
			f.log.Warn("subscribe failed", slog.String("err", err.Error()), slog.Duration("retry_in", backoff))
			feed.Emit(ctx, f.events, feed.Event{Kind: feed.ConnectError, Err: err})
			if !sleepCtx(ctx, backoff) {
				return f.exitErr(ctx)
			}
			backoff = min(backoff*2, f.cfg.MaxBackoff)
			continue
		}
		backoff = f.cfg.MinBackoff
		f.log.Info("subscribed")
		feed.Emit(ctx, f.events, feed.Event{Kind: feed.Connected})

		err := f.receive(ctx, pubsub)
		_ = pubsub.Close()
		if ctx.Err() != nil {
			return f.exitErr(ctx)
		}
		f.log.Info("subscription lost", slog.String("err", err.Error()))
		feed.Emit(ctx, f.events, feed.Event{Kind: feed.Disconnected, Err: err})
	}
}

func (f *Feed) receive(ctx context.Context, pubsub *redis.PubSub) error {
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		ev, err := decodeMessage(msg.Payload)
		if err != nil {
			f.log.Warn("invalid order book data received", slog.String("err", err.Error()))
			continue
		}
		if !feed.Emit(ctx, f.events, ev) {
			return ctx.Err()
		}
	}
}

// decodeMessage turns one published payload into a full-book event. The
// payload is a record array, optionally wrapped like the REST snapshot.
func decodeMessage(payload string) (feed.Event, error) {
	recs, err := order.DecodeSnapshot([]byte(payload))
	if err != nil {
		return feed.Event{}, err
	}
	return feed.Event{Kind: feed.OrderBook, Records: recs}, nil
}

// exitErr is nil after Close and the context error otherwise.
func (f *Feed) exitErr(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	default:
		return ctx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
