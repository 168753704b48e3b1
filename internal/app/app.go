package app

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/checkout-service/internal/domain/idempotency"
	"github.com/xenking/checkout-service/internal/domain/order"
	"github.com/xenking/checkout-service/internal/events"
	"github.com/xenking/checkout-service/internal/gateway/payment"
	"github.com/xenking/checkout-service/internal/handler"
	"github.com/xenking/checkout-service/internal/storage/memory"
	"github.com/xenking/checkout-service/internal/storage/postgres"
	"github.com/xenking/checkout-service/pkg/health"
	"github.com/xenking/checkout-service/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	var (
		orderRepo order.Repository
		inventory order.InventoryGateway
		keyRepo   idempotency.Repository
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
			return pool.Ping(ctx)
		})

		orderRepo = postgres.NewOrderRepository(pool)
		inventory = postgres.NewInventory(pool)
		keyRepo = postgres.NewIdempotencyRepository(pool)
	} else {
		lg.Info("No database configured, using in-memory backend")
		stock, err := parseSeedStock(cfg.SeedStock)
		if err != nil {
			return errors.Wrap(err, "parse seed stock")
		}

		orderRepo = memory.NewOrderRepository()
		inventory = memory.NewInventory(stock)
		keyRepo = memory.NewIdempotencyRepository()
	}
	keyRepo = idempotency.NewSeenFilter(keyRepo, cfg.Idempotency.ExpectedKeys)

	maxCharge, err := decimal.NewFromString(cfg.Payment.MaxCharge)
	if err != nil {
		return errors.Wrap(err, "parse max charge")
	}
	payments := payment.NewTokenGateway(cfg.Payment.DeclineTokens, maxCharge)
	publisher := events.NewLogPublisher(lg)

	orderService := order.NewService(inventory, payments, orderRepo, publisher, keyRepo,
		order.WithInProgressTTL(cfg.Idempotency.TTL),
		order.WithTelemetry(m.TracerProvider(), m.MeterProvider()),
	)

	h := handler.New(handler.Config{DefaultCurrency: cfg.Currency}, orderService)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("checkout-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// parseSeedStock parses "SKU-1=10,SKU-2=5" into initial inventory levels.
func parseSeedStock(s string) (map[order.SKU]int, error) {
	stock := make(map[order.SKU]int)
	if strings.TrimSpace(s) == "" {
		return stock, nil
	}
	for _, pair := range strings.Split(s, ",") {
		sku, qty, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, errors.Errorf("malformed stock entry %q", pair)
		}
		n, err := strconv.Atoi(qty)
		if err != nil || n < 0 {
			return nil, errors.Errorf("invalid quantity in stock entry %q", pair)
		}
		stock[order.SKU(sku)] = n
	}
	return stock, nil
}
