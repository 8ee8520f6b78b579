package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookview/internal/config"
	"bookview/internal/feed"
	"bookview/internal/metrics"
	"bookview/internal/order"
	"bookview/internal/reconcile"
	"bookview/internal/state"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	srv  *HTTPServer
	ctrl *reconcile.Controller
	st   *state.State
	m    *metrics.Metrics
	ts   *httptest.Server
}

func newHarness(t *testing.T, defaultSymbol string, cooldown time.Duration) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.DefaultSymbol = defaultSymbol

	reg := prometheus.NewRegistry()
	m := metrics.New()
	require.NoError(t, m.Register(reg))

	ctrl := reconcile.New(reconcile.Config{Logger: quietLogger(), Metrics: m})
	st := state.NewState(defaultSymbol, cooldown)
	srv := NewHTTPServer(cfg, st, ctrl, m, reg, quietLogger())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &harness{srv: srv, ctrl: ctrl, st: st, m: m, ts: ts}
}

func (h *harness) push(recs ...order.Record) {
	h.ctrl.HandleEvent(feed.Event{Kind: feed.OrderBook, Records: recs})
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.srv.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func rec(id, symbol, side, price, qty string) order.Record {
	return order.Record{ID: id, Symbol: symbol, Side: side, Price: price, Quantity: qty}
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestSymbolsAndBook(t *testing.T) {
	h := newHarness(t, "BTCUSD", time.Minute)
	h.push(
		rec("1", "btcusd", "BUY", "100", "2"),
		rec("2", "BTCUSD", "BUY", "100", "1"),
		rec("3", "BTCUSD", "SELL", "101", "1"),
		rec("4", "ETHUSD", "SELL", "3000", "5"),
	)

	var syms struct {
		Symbols []string `json:"symbols"`
		Current string   `json:"current"`
	}
	getJSON(t, h.ts.URL+"/api/symbols", &syms)
	assert.Equal(t, []string{"BTCUSD", "ETHUSD"}, syms.Symbols)
	assert.Equal(t, "BTCUSD", syms.Current)

	var book struct {
		Symbol    string `json:"symbol"`
		Status    string `json:"status"`
		Feed      string `json:"feed"`
		Source    string `json:"source"`
		BidLevels []struct {
			Price                  string `json:"price"`
			TotalRemainingQuantity string `json:"totalRemainingQuantity"`
		} `json:"bidLevels"`
		Spread *struct {
			Amount  string `json:"spreadAmount"`
			Crossed bool   `json:"crossed"`
		} `json:"spread"`
		Stats struct {
			TotalOrders int `json:"totalOrders"`
		} `json:"stats"`
	}
	getJSON(t, h.ts.URL+"/api/book", &book)
	assert.Equal(t, "BTCUSD", book.Symbol)
	assert.Equal(t, "live", book.Status)
	assert.Equal(t, "receiving", book.Feed)
	assert.Equal(t, "push", book.Source)
	require.Len(t, book.BidLevels, 1)
	assert.Equal(t, "100", book.BidLevels[0].Price)
	assert.Equal(t, "3", book.BidLevels[0].TotalRemainingQuantity)
	require.NotNil(t, book.Spread)
	assert.Equal(t, "1", book.Spread.Amount)
	assert.False(t, book.Spread.Crossed)
	assert.Equal(t, 3, book.Stats.TotalOrders)

	getJSON(t, h.ts.URL+"/api/book?symbol=ethusd", &book)
	assert.Equal(t, "ETHUSD", book.Symbol)
	assert.Empty(t, book.BidLevels)
	assert.Nil(t, book.Spread, "one-sided book has no spread")
}

func TestBookStatusBeforeFirstLoad(t *testing.T) {
	h := newHarness(t, "BTCUSD", time.Minute)
	var book map[string]any
	getJSON(t, h.ts.URL+"/api/book", &book)
	assert.Equal(t, "loading", book["status"])
	assert.Equal(t, "disconnected", book["feed"])
}

func TestSelectSymbol(t *testing.T) {
	h := newHarness(t, "BTCUSD", time.Minute)

	resp, _ := postJSON(t, h.ts.URL+"/api/symbol", `{"symbol":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, h.ts.URL+"/api/symbol", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := postJSON(t, h.ts.URL+"/api/symbol", `{"symbol":"ethusd"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ETHUSD", body["symbol"])
	assert.Equal(t, "ETHUSD", h.st.Symbol())

	resp, err := http.Get(h.ts.URL + "/api/symbol")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRefreshRejectedWhileReceiving(t *testing.T) {
	h := newHarness(t, "BTCUSD", time.Minute)

	_, body := postJSON(t, h.ts.URL+"/api/refresh", ``)
	assert.Equal(t, true, body["accepted"])

	h.push(rec("1", "BTCUSD", "BUY", "1", "1"))
	_, body = postJSON(t, h.ts.URL+"/api/refresh", ``)
	assert.Equal(t, false, body["accepted"])
}

func TestHealthAndConfig(t *testing.T) {
	h := newHarness(t, "BTCUSD", time.Minute)

	var health map[string]any
	resp := getJSON(t, h.ts.URL+"/api/health", &health)
	assert.Equal(t, true, health["ok"])
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	var cfg map[string]any
	getJSON(t, h.ts.URL+"/api/config", &cfg)
	assert.Equal(t, "BTCUSD", cfg["currentSymbol"])
	assert.Equal(t, float64(5), cfg["pollIntervalSeconds"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, "BTCUSD", time.Minute)
	h.push(rec("1", "BTCUSD", "BUY", "1", "1"))

	resp, err := http.Get(h.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), `bookview_snapshots_applied_total{source="push"} 1`)
	assert.Contains(t, string(b), "go_goroutines")
}

func TestAutoReselectWhenSymbolMissing(t *testing.T) {
	h := newHarness(t, "XRPUSD", time.Minute)
	h.push(rec("1", "ETHUSD", "BUY", "1", "1"), rec("2", "BTCUSD", "SELL", "2", "1"))
	h.run(t)

	assert.Eventually(t, func() bool { return h.st.Symbol() == "BTCUSD" }, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketStreamsBookAndCrossedAlert(t *testing.T) {
	h := newHarness(t, "BTCUSD", 0)
	h.run(t)

	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	msgs := make(chan wsMessage, 64)
	go func() {
		defer close(msgs)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m wsMessage
			if json.Unmarshal(b, &m) == nil {
				msgs <- m
			}
		}
	}()

	crossed := []order.Record{
		rec("b", "BTCUSD", "BUY", "101", "1"),
		rec("a", "BTCUSD", "SELL", "100", "1"),
	}
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(3 * time.Second)

	var sawBook bool
	for {
		select {
		case m, ok := <-msgs:
			require.True(t, ok, "websocket closed early")
			switch m.Type {
			case "book":
				sawBook = true
			case "alert":
				data := m.Data.(map[string]any)
				assert.Equal(t, "crossed_book", data["kind"])
				assert.Equal(t, "BTCUSD", data["symbol"])
				assert.Equal(t, "-1", data["spreadAmount"])
				assert.True(t, sawBook)
				return
			}
		case <-tick.C:
			h.push(crossed...)
		case <-deadline:
			t.Fatal("no crossed-book alert received")
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, "BTCUSD", time.Minute)

	req, err := http.NewRequest(http.MethodOptions, h.ts.URL+"/api/symbol", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", config.Defaults().FrontendURL)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, config.Defaults().FrontendURL, resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, h.ts.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

// drain returns the message types queued on the hub, in order.
func drain(h *hub) []string {
	var kinds []string
	for {
		select {
		case out := <-h.broadcast:
			kinds = append(kinds, out.kind)
		default:
			return kinds
		}
	}
}

func TestReplacedWatcherDoesNotBroadcast(t *testing.T) {
	h := newHarness(t, "BTCUSD", time.Minute)
	h.push(rec("1", "BTCUSD", "BUY", "1", "1"), rec("2", "ETHUSD", "BUY", "1", "1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.True(t, h.srv.publish(ctx, "BTCUSD"))
	assert.Equal(t, []string{"status", "book"}, drain(h.srv.hub))

	h.st.SetSymbol("ETHUSD")
	assert.False(t, h.srv.publish(ctx, "BTCUSD"), "symbol moved on")
	assert.Empty(t, drain(h.srv.hub))

	h.st.SetSymbol("BTCUSD")
	cancel()
	assert.False(t, h.srv.publish(ctx, "BTCUSD"), "watcher cancelled")
	assert.Empty(t, drain(h.srv.hub))
}

func TestCrossedMetricCountsCrossings(t *testing.T) {
	h := newHarness(t, "BTCUSD", time.Hour)
	crossed := []order.Record{
		rec("b", "BTCUSD", "BUY", "101", "1"),
		rec("a", "BTCUSD", "SELL", "100", "1"),
	}
	ctx := context.Background()
	count := func() float64 { return testutil.ToFloat64(h.m.CrossedBooks.WithLabelValues("BTCUSD")) }

	h.push(crossed...)
	for i := 0; i < 3; i++ {
		require.True(t, h.srv.publish(ctx, "BTCUSD"))
	}
	assert.Equal(t, 1.0, count(), "republishing a crossed book is one crossing")

	h.push(rec("b", "BTCUSD", "BUY", "99", "1"), rec("a", "BTCUSD", "SELL", "100", "1"))
	require.True(t, h.srv.publish(ctx, "BTCUSD"))
	h.push(crossed...)
	require.True(t, h.srv.publish(ctx, "BTCUSD"))
	assert.Equal(t, 2.0, count())

	alerts := 0
	for _, k := range drain(h.srv.hub) {
		if k == "alert" {
			alerts++
		}
	}
	assert.Equal(t, 2, alerts, "uncrossing resets the cooldown")
}
