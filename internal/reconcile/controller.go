// Package reconcile owns the authoritative order collection and decides
// which of the two producers, the interval pull or the push feed, gets to
// replace it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"bookview/internal/feed"
	"bookview/internal/identity"
	"bookview/internal/metrics"
	"bookview/internal/order"
)

const DefaultInterval = 5 * time.Second

type Source string

const (
	SourcePull Source = "pull"
	SourcePush Source = "push"
)

type FeedState int

const (
	Disconnected FeedState = iota
	Connected
	Receiving
)

func (s FeedState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Receiving:
		return "receiving"
	}
	return "disconnected"
}

func (s FeedState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Collection is one complete, immutable version of the book across all
// symbols. It is replaced wholesale, never edited.
type Collection struct {
	Orders    []order.Order
	Source    Source
	Seq       uint64
	Dropped   int
	UpdatedAt time.Time
}

// Fetcher performs one pull of the full order set.
type Fetcher interface {
	FetchOrders(ctx context.Context) ([]order.Record, error)
}

type Config struct {
	Fetcher  Fetcher
	Feed     feed.Feed // nil: pull only
	Viewer   identity.Provider
	Interval time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

type Controller struct {
	fetcher  Fetcher
	feed     feed.Feed
	viewer   identity.Provider
	interval time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	current atomic.Pointer[Collection]

	mu         sync.Mutex
	state      FeedState
	pushEpoch  uint64
	seq        uint64
	loading    bool
	lastErr    error // last pull failure
	pushErr    error // last push handshake failure
	cancelPull context.CancelFunc

	refresh chan struct{}
	updates chan struct{}
}

func New(cfg Config) *Controller {
	if cfg.Viewer == nil {
		cfg.Viewer = identity.Anonymous{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		fetcher:  cfg.Fetcher,
		feed:     cfg.Feed,
		viewer:   cfg.Viewer,
		interval: cfg.Interval,
		log:      cfg.Logger.With(slog.String("component", "reconcile")),
		metrics:  cfg.Metrics,
		now:      time.Now,
		loading:  true,
		refresh:  make(chan struct{}, 1),
		updates:  make(chan struct{}, 1),
	}
}

// Current returns the authoritative collection, or nil before the first
// successful load. Lock-free.
func (c *Controller) Current() *Collection { return c.current.Load() }

// Updates fires after every collection swap or status change. Notifications
// coalesce: a slow reader sees one pending signal, not a backlog.
func (c *Controller) Updates() <-chan struct{} { return c.updates }

func (c *Controller) State() FeedState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot is a consistent read of everything a view needs to describe
// itself.
type Snapshot struct {
	Collection *Collection
	Feed       FeedState
	Loading    bool
	Err        error // pull
	PushErr    error
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Collection: c.current.Load(),
		Feed:       c.state,
		Loading:    c.loading,
		Err:        c.lastErr,
		PushErr:    c.pushErr,
	}
}

type Status string

const (
	StatusLoading     Status = "loading"
	StatusLive        Status = "live"
	StatusEmpty       Status = "empty"
	StatusStale       Status = "stale"
	StatusUnavailable Status = "unavailable" // failed before anything was loaded
)

// Status classifies the snapshot for display. hasData reports whether the
// derived view for the selected symbol has any levels. Only pull failures
// count: a refused push handshake leaves pulled data current.
func (s Snapshot) Status(hasData bool) Status {
	switch {
	case s.Loading:
		return StatusLoading
	case s.Err != nil && s.Collection == nil:
		return StatusUnavailable
	case s.Err != nil && s.Feed != Receiving:
		return StatusStale
	case !hasData:
		return StatusEmpty
	}
	return StatusLive
}

// Refresh asks the pull loop for an immediate fetch. It is a no-op while the
// push feed is the source of truth.
func (c *Controller) Refresh() bool {
	if c.State() == Receiving {
		return false
	}
	c.kick()
	return true
}

func (c *Controller) kick() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

func (c *Controller) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// HandleEvent applies one push-feed event to the state machine.
func (c *Controller) HandleEvent(ev feed.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case feed.Connected:
		if c.state == Disconnected {
			c.state = Connected
		}
		c.pushErr = nil
		c.log.Info("push feed connected")
	case feed.ConnectError:
		c.state = Disconnected
		if ev.Err != nil {
			c.pushErr = fmt.Errorf("push connect: %w", ev.Err)
			c.log.Warn("push connect failed", slog.String("err", ev.Err.Error()))
		}
	case feed.Disconnected:
		was := c.state
		c.state = Disconnected
		if ev.Err != nil {
			c.log.Warn("push feed disconnected", slog.String("err", ev.Err.Error()))
		} else {
			c.log.Info("push feed disconnected")
		}
		if was != Disconnected {
			c.kick()
		}
	case feed.OrderBook:
		c.applyPushLocked(ev.Records)
	default:
		c.log.Debug("ignoring feed event", slog.String("kind", ev.Kind.String()))
		return
	}
	c.metrics.FeedEvent(ev.Kind.String(), int(c.state))
	c.notify()
}

func (c *Controller) applyPushLocked(recs []order.Record) {
	orders, dropped := order.Normalize(recs)
	viewer, known := c.viewer.ViewerID()
	for i := range orders {
		orders[i].IsOwnOrder = known && orders[i].OwnerID != "" && orders[i].OwnerID == viewer
	}

	c.state = Receiving
	c.pushErr = nil
	c.pushEpoch++
	if c.cancelPull != nil {
		c.cancelPull()
		c.cancelPull = nil
	}
	c.swapLocked(orders, SourcePush, dropped)
}

func (c *Controller) swapLocked(orders []order.Order, src Source, dropped int) {
	c.seq++
	c.current.Store(&Collection{
		Orders:    orders,
		Source:    src,
		Seq:       c.seq,
		Dropped:   dropped,
		UpdatedAt: c.now(),
	})
	c.loading = false
	c.lastErr = nil
	c.metrics.Applied(string(src), len(orders), dropped)
	if dropped > 0 {
		c.log.Warn("dropped malformed order records", slog.String("source", string(src)), slog.Int("dropped", dropped))
	}
}

// pull runs one fetch. Its result is applied only if no push landed while it
// was in flight and the feed is not Receiving.
func (c *Controller) pull(ctx context.Context) {
	if c.fetcher == nil {
		return
	}
	c.mu.Lock()
	if c.state == Receiving {
		c.mu.Unlock()
		return
	}
	epoch := c.pushEpoch
	pctx, cancel := context.WithCancel(ctx)
	c.cancelPull = cancel
	c.mu.Unlock()
	defer cancel()

	recs, err := c.fetcher.FetchOrders(pctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelPull = nil

	if c.pushEpoch != epoch || c.state == Receiving {
		c.metrics.Discarded(string(SourcePull))
		c.log.Debug("discarding pull superseded by push")
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.lastErr = err
		c.loading = false
		c.metrics.PullFailed()
		c.log.Warn("snapshot fetch failed", slog.String("err", err.Error()))
		c.notify()
		return
	}
	orders, dropped := order.Normalize(recs)
	c.swapLocked(orders, SourcePull, dropped)
	c.notify()
}

// Run owns the pull timer and the push feed until ctx ends. The feed is
// closed on the way out.
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if c.feed != nil {
		defer c.feed.Close()
		g.Go(func() error {
			if err := c.feed.Run(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("push feed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev, ok := <-c.feed.Events():
					if !ok {
						return nil
					}
					c.HandleEvent(ev)
				}
			}
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		c.pull(gctx)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				c.pull(gctx)
			case <-c.refresh:
				c.pull(gctx)
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
