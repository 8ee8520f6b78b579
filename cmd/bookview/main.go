package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"bookview/internal/authbrowser"
	"bookview/internal/backend"
	"bookview/internal/config"
	"bookview/internal/cookies"
	"bookview/internal/feed"
	"bookview/internal/identity"
	"bookview/internal/metrics"
	"bookview/internal/reconcile"
	"bookview/internal/redisfeed"
	"bookview/internal/server"
	"bookview/internal/state"
)

func main() {
	_ = godotenv.Load() // best-effort: .env is optional

	configPath := flag.String("config", "", "config file (.yaml or .toml); defaults to ./config.yaml when present")
	login := flag.Bool("login", false, "sign in through a browser window, save the session and exit")
	headless := flag.Bool("headless", false, "with --login: run the browser headless")
	fromBrowser := flag.String("cookies-from-browser", "", "import backend cookies from a local browser (chrome, firefox, edge, ...)")
	email := flag.String("email", "", "sign in with email and BOOKVIEW_PASSWORD before starting")
	flag.Parse()

	path := *configPath
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel)
	logger.Info("bookview starting",
		slog.Int("port", cfg.Port),
		slog.String("backend_url", cfg.BackendURL),
		slog.String("push_transport", cfg.Push.Transport),
		slog.String("default_symbol", cfg.DefaultSymbol),
	)

	creds, err := identity.LoadCredentials(cfg.SessionStorePath)
	if err != nil {
		logger.Warn("session store unreadable, continuing anonymous", slog.String("err", err.Error()))
	}
	if creds.Expired(time.Now()) {
		logger.Info("stored session expired", slog.String("session_store", cfg.SessionStorePath))
		creds = identity.Credentials{}
	}
	session := identity.NewSession(creds)

	// One-shot browser login: acquire a session and exit.
	if *login {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		c, err := authbrowser.Login(ctx, authbrowser.Options{
			FrontendURL: cfg.FrontendURL,
			BackendURL:  cfg.BackendURL,
			Headless:    *headless,
			Logger:      logger,
		})
		if err != nil {
			logger.Error("login failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		if err := identity.SaveCredentials(cfg.SessionStorePath, c); err != nil {
			logger.Error("save session", slog.String("err", err.Error()))
			os.Exit(1)
		}
		logger.Info("login successful; session saved",
			slog.String("user", c.User.Email),
			slog.String("session_store", cfg.SessionStorePath),
		)
		return
	}

	client := backend.NewClient(cfg.BackendURL, cfg.APIPath, cfg.RequestTimeout(), session, logger)

	if *fromBrowser != "" {
		if cks, err := cookies.ExtractFromBrowser(*fromBrowser, cfg.BackendURL); err != nil {
			logger.Error("cookie import failed", slog.String("err", err.Error()))
		} else {
			client.InjectCookies(cks)
			logger.Info("imported cookies from browser",
				slog.String("browser", *fromBrowser),
				slog.Int("count", len(cks)),
			)
		}
	}

	if *email != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout())
		c, err := client.Login(ctx, *email, os.Getenv("BOOKVIEW_PASSWORD"))
		cancel()
		if err != nil {
			logger.Error("password login failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		if err := identity.SaveCredentials(cfg.SessionStorePath, c); err != nil {
			logger.Warn("save session", slog.String("err", err.Error()))
		}
		logger.Info("signed in", slog.String("user", c.User.Email))
	}

	var viewer identity.Provider = session
	if cfg.ViewerID != "" {
		viewer = identity.Static(cfg.ViewerID)
	}
	if id, ok := viewer.ViewerID(); ok {
		logger.Info("viewer identity", slog.String("viewer_id", id))
	} else {
		logger.Info("no viewer identity; own-order highlighting disabled")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		logger.Error("register metrics", slog.String("err", err.Error()))
		os.Exit(1)
	}

	ctrl := reconcile.New(reconcile.Config{
		Fetcher:  client,
		Feed:     newFeed(cfg, session, logger),
		Viewer:   viewer,
		Interval: cfg.PollInterval(),
		Logger:   logger,
		Metrics:  m,
	})

	st := state.NewState(cfg.DefaultSymbol, cfg.AlertCooldown())
	srv := server.NewHTTPServer(cfg, st, ctrl, m, reg, logger)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		logger.Info("HTTP server listening", slog.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("exited with error", slog.String("err", err.Error()))
		os.Exit(1)
	}
	logger.Info("bye")
}

func newFeed(cfg config.Config, session *identity.Session, logger *slog.Logger) feed.Feed {
	switch cfg.Push.Transport {
	case config.TransportSocketIO:
		return backend.NewSocketIOFeed(backend.SocketIOConfig{
			URL:            cfg.Push.URL,
			Event:          cfg.Push.Event,
			SubscribeEvent: cfg.Push.SubscribeEvent,
			Session:        session,
		}, logger)
	case config.TransportRedis:
		return redisfeed.New(redisfeed.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, logger)
	}
	logger.Info("push feed disabled; polling only")
	return nil
}
