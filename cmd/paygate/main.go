// Command paygate runs the edge gateway: a reverse proxy in front of an
// origin that enforces an x402 paywall on restricted crawler traffic and
// accepts configuration updates over a signed webhook.
//
// Configuration is environment-driven:
//
//	PAYGATE_LISTEN_ADDR   listen address (default ":8402")
//	PAYGATE_ORIGIN_URL    origin base URL to proxy (required)
//	PAYGATE_API_KEY       shared secret: signs webhooks, authenticates
//	                      visit events (required)
//	PAYGATE_REDIS_ADDR    Redis address for the config store
//	PAYGATE_REDIS_PASSWORD
//	PAYGATE_SQLITE_PATH   SQLite file for the config store
//	PAYGATE_EVENTS_URL    visit event sink (optional)
//	PAYGATE_SENTRY_DSN    error reporting (optional)
//	PAYGATE_FAIL_CLOSED   "true" to refuse gated traffic when config is
//	                      missing instead of passing it through
//
// Exactly one of PAYGATE_REDIS_ADDR and PAYGATE_SQLITE_PATH must be set.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foldset/paygate"
	"github.com/foldset/paygate/config"
	paygatehttp "github.com/foldset/paygate/http"
	"github.com/foldset/paygate/store"
	"github.com/foldset/paygate/telemetry"
	"github.com/foldset/paygate/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	apiKey := os.Getenv("PAYGATE_API_KEY")
	if apiKey == "" {
		return paygate.ErrMissingAPIKey
	}

	originURL := os.Getenv("PAYGATE_ORIGIN_URL")
	if originURL == "" {
		return errors.New("PAYGATE_ORIGIN_URL is required")
	}
	origin, err := url.Parse(originURL)
	if err != nil {
		return errors.New("PAYGATE_ORIGIN_URL is not a valid URL")
	}

	st, closeStore, err := openStore(logger)
	if err != nil {
		return err
	}
	defer closeStore()

	policy := config.PassThrough
	if os.Getenv("PAYGATE_FAIL_CLOSED") == "true" {
		policy = config.FailClosed
	}
	svc := config.NewService(st,
		config.WithMissingConfigPolicy(policy),
		config.WithLogger(logger),
	)

	reporter, err := telemetry.NewSentryReporter(os.Getenv("PAYGATE_SENTRY_DSN"), logger)
	if err != nil {
		return err
	}

	var events *telemetry.Emitter
	if eventsURL := os.Getenv("PAYGATE_EVENTS_URL"); eventsURL != "" {
		events = telemetry.NewEmitter(eventsURL, apiKey, reporter, logger)
	}

	paywall := paygatehttp.NewPaywallMiddleware(&paygatehttp.Config{
		Service:  svc,
		Reporter: reporter,
		Events:   events,
		Logger:   logger,
	})

	proxy := httputil.NewSingleHostReverseProxy(origin)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("origin unreachable", "error", err, "path", r.URL.Path)
		http.Error(w, "Origin unavailable", http.StatusBadGateway)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Method(http.MethodPost, "/paygate/webhooks", webhook.NewHandler(svc, apiKey, logger))
	r.Handle("/*", paywall(proxy))

	addr := os.Getenv("PAYGATE_LISTEN_ADDR")
	if addr == "" {
		addr = ":8402"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", addr, "origin", origin.String())
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if events != nil {
		events.Flush()
	}
	return nil
}

// openStore binds the configuration store from the environment. Redis
// and SQLite are mutually exclusive; one of them must be configured.
func openStore(logger *slog.Logger) (store.Store, func(), error) {
	redisAddr := os.Getenv("PAYGATE_REDIS_ADDR")
	sqlitePath := os.Getenv("PAYGATE_SQLITE_PATH")

	switch {
	case redisAddr != "" && sqlitePath != "":
		return nil, nil, errors.New("set only one of PAYGATE_REDIS_ADDR and PAYGATE_SQLITE_PATH")
	case redisAddr != "":
		st, err := store.OpenRedisStore(context.Background(), redisAddr, os.Getenv("PAYGATE_REDIS_PASSWORD"), 0)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using redis config store", "addr", redisAddr)
		return st, func() { _ = st.Close() }, nil
	case sqlitePath != "":
		st, err := store.OpenSQLiteStore(sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using sqlite config store", "path", sqlitePath)
		return st, func() { _ = st.Close() }, nil
	default:
		return nil, nil, paygate.ErrMissingStore
	}
}
