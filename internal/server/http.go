package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bookview/internal/config"
	"bookview/internal/depth"
	"bookview/internal/metrics"
	"bookview/internal/order"
	"bookview/internal/reconcile"
	"bookview/internal/state"
)

type HTTPServer struct {
	cfg     config.Config
	st      *state.State
	ctrl    *reconcile.Controller
	metrics *metrics.Metrics
	reg     *prometheus.Registry
	opts    depth.Options
	hub     *hub
	log     *slog.Logger
	mux     *http.ServeMux
	now     func() time.Time

	watchMu     sync.Mutex
	baseCtx     context.Context
	watchCancel context.CancelFunc
	lastErr     string
	crossed     map[string]bool
}

func NewHTTPServer(cfg config.Config, st *state.State, ctrl *reconcile.Controller, m *metrics.Metrics, reg *prometheus.Registry, logger *slog.Logger) *HTTPServer {
	logger = logger.With(slog.String("component", "server"))
	s := &HTTPServer{
		cfg:     cfg,
		st:      st,
		ctrl:    ctrl,
		metrics: m,
		reg:     reg,
		opts:    depth.Options{MaxLevels: cfg.DepthLevels},
		hub:     newHub(logger),
		log:     logger,
		mux:     http.NewServeMux(),
		now:     time.Now,
		crossed: map[string]bool{},
	}
	s.routes()
	return s
}

func (s *HTTPServer) Router() http.Handler {
	var origins []string
	if s.cfg.FrontendURL != "" {
		origins = append(origins, s.cfg.FrontendURL)
	}
	return logging(s.log, cors(origins, s.mux))
}

// Run drives the websocket hub and the watcher for the selected symbol until
// ctx ends.
func (s *HTTPServer) Run(ctx context.Context) error {
	s.watchMu.Lock()
	s.baseCtx = ctx
	s.watchMu.Unlock()

	go s.hub.run(ctx)
	s.selectSymbol(s.st.Symbol())
	<-ctx.Done()

	s.watchMu.Lock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	s.watchMu.Unlock()
	return nil
}

// selectSymbol makes sym active and replaces the watcher; the previous
// symbol's watcher is cancelled.
func (s *HTTPServer) selectSymbol(sym string) string {
	canon := s.st.SetSymbol(sym)

	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.baseCtx == nil || s.baseCtx.Err() != nil {
		return canon
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.watchCancel = cancel
	go s.watch(ctx, canon)
	return canon
}

// watch re-derives and broadcasts the view for one symbol after every
// controller update.
func (s *HTTPServer) watch(ctx context.Context, symbol string) {
	s.log.Debug("watching symbol", slog.String("symbol", symbol))
	if !s.publish(ctx, symbol) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctrl.Updates():
			if !s.publish(ctx, symbol) {
				return
			}
		}
	}
}

// publish broadcasts the current book for symbol. It returns false when this
// watcher has been replaced and should stop.
func (s *HTTPServer) publish(ctx context.Context, symbol string) bool {
	snap := s.ctrl.Snapshot()
	if snap.Collection != nil {
		if next, changed := s.st.Reselect(depth.Symbols(snap.Collection.Orders)); changed && next != symbol {
			s.log.Info("selected symbol not in book, switching", slog.String("from", symbol), slog.String("to", next))
			s.selectSymbol(next)
			return false
		}
	}

	book := s.book(snap, symbol)
	errText := book.Error
	if errText == "" {
		errText = book.PushError
	}

	// selectSymbol cancels under watchMu, so a replaced watcher can never
	// enqueue after its successor.
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if ctx.Err() != nil || s.st.Symbol() != symbol {
		return false
	}
	s.hub.publish("status", s.statusPayload(snap, book.Status))
	s.hub.publish("book", book)
	s.checkCrossedLocked(book.View)

	if errText != s.lastErr {
		s.lastErr = errText
		if errText != "" {
			s.hub.publish("error", map[string]string{"message": errText})
		}
	}
	return true
}

// checkCrossedLocked counts each transition into a crossed book once and
// raises an alert subject to the per-symbol cooldown.
func (s *HTTPServer) checkCrossedLocked(v depth.View) {
	if v.Spread == nil || !v.Spread.Crossed {
		delete(s.crossed, v.Symbol)
		s.st.ClearAlert(v.Symbol)
		return
	}
	if !s.crossed[v.Symbol] {
		s.crossed[v.Symbol] = true
		s.metrics.Crossed(v.Symbol)
	}
	now := s.now()
	if !s.st.AllowAlert(v.Symbol, now) {
		return
	}
	s.log.Warn("crossed book",
		slog.String("symbol", v.Symbol),
		slog.String("best_bid", v.Spread.BestBid.String()),
		slog.String("best_ask", v.Spread.BestAsk.String()),
	)
	s.hub.publish("alert", map[string]any{
		"kind":         "crossed_book",
		"symbol":       v.Symbol,
		"bestBid":      v.Spread.BestBid,
		"bestAsk":      v.Spread.BestAsk,
		"spreadAmount": v.Spread.Amount,
		"timeISO":      now.UTC().Format(time.RFC3339Nano),
	})
}

type bookPayload struct {
	depth.View
	Status    reconcile.Status    `json:"status"`
	Feed      reconcile.FeedState `json:"feed"`
	Source    reconcile.Source    `json:"source,omitempty"`
	Seq       uint64              `json:"seq"`
	Dropped   int                 `json:"dropped"`
	UpdatedAt *time.Time          `json:"updatedAt,omitempty"`
	Error     string              `json:"error,omitempty"`
	PushError string              `json:"pushError,omitempty"`
}

func (s *HTTPServer) book(snap reconcile.Snapshot, symbol string) bookPayload {
	var orders []order.Order
	p := bookPayload{Feed: snap.Feed}
	if c := snap.Collection; c != nil {
		orders = c.Orders
		p.Source = c.Source
		p.Seq = c.Seq
		p.Dropped = c.Dropped
		at := c.UpdatedAt
		p.UpdatedAt = &at
	}
	p.View = depth.Derive(orders, symbol, s.opts)
	p.Status = snap.Status(p.View.HasData())
	if snap.Err != nil {
		p.Error = snap.Err.Error()
	}
	if snap.PushErr != nil {
		p.PushError = snap.PushErr.Error()
	}
	return p
}

func (s *HTTPServer) statusPayload(snap reconcile.Snapshot, status reconcile.Status) map[string]any {
	return map[string]any{
		"symbol":  s.st.Symbol(),
		"feed":    snap.Feed,
		"status":  status,
		"loading": snap.Loading,
	}
}

// --------- Routes ----------

func (s *HTTPServer) routes() {
	s.mux.HandleFunc("/ws", s.hub.serveWS)
	s.mux.Handle("GET /metrics", metrics.Handler(s.reg))

	s.mux.HandleFunc("GET /api/health", s.apiHealth)
	s.mux.HandleFunc("GET /api/config", s.apiConfig)
	s.mux.HandleFunc("GET /api/symbols", s.apiSymbols)
	s.mux.HandleFunc("GET /api/book", s.apiBook)
	s.mux.HandleFunc("POST /api/symbol", s.apiSymbol)
	s.mux.HandleFunc("POST /api/refresh", s.apiRefresh)
}

func (s *HTTPServer) apiHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Snapshot()
	resp := map[string]any{
		"ok":      true,
		"feed":    snap.Feed,
		"loading": snap.Loading,
	}
	if snap.Err != nil {
		resp["error"] = snap.Err.Error()
	}
	if snap.PushErr != nil {
		resp["pushError"] = snap.PushErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) apiConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"backendUrl":                  s.cfg.BackendURL,
		"pollIntervalSeconds":         s.cfg.PollIntervalSeconds,
		"depthLevels":                 s.cfg.DepthLevels,
		"defaultSymbol":               s.cfg.DefaultSymbol,
		"currentSymbol":               s.st.Symbol(),
		"pushTransport":               s.cfg.Push.Transport,
		"crossedAlertCooldownSeconds": s.cfg.CrossedAlertCooldownSeconds,
	})
}

func (s *HTTPServer) apiSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := []string{}
	if c := s.ctrl.Current(); c != nil {
		symbols = depth.Symbols(c.Orders)
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbols": symbols, "current": s.st.Symbol()})
}

func (s *HTTPServer) apiBook(w http.ResponseWriter, r *http.Request) {
	sym := r.URL.Query().Get("symbol")
	if strings.TrimSpace(sym) == "" {
		sym = s.st.Symbol()
	}
	writeJSON(w, http.StatusOK, s.book(s.ctrl.Snapshot(), order.NormalizeSymbol(sym)))
}

// POST /api/symbol { "symbol": "ETHUSD" }
func (s *HTTPServer) apiSymbol(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if order.NormalizeSymbol(req.Symbol) == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	sym := s.selectSymbol(req.Symbol)
	s.log.Info("symbol selected", slog.String("symbol", sym))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "symbol": sym})
}

func (s *HTTPServer) apiRefresh(w http.ResponseWriter, r *http.Request) {
	accepted := s.ctrl.Refresh()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "accepted": accepted})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
