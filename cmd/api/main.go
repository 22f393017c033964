package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/cors"

	"github.com/tasklink/backend/internal/auth"
	"github.com/tasklink/backend/internal/config"
	"github.com/tasklink/backend/internal/database"
	"github.com/tasklink/backend/internal/escrow"
	"github.com/tasklink/backend/internal/events"
	"github.com/tasklink/backend/internal/gateway"
	"github.com/tasklink/backend/internal/jobs"
	"github.com/tasklink/backend/internal/ledger"
	"github.com/tasklink/backend/internal/middleware"
	"github.com/tasklink/backend/internal/offers"
	"github.com/tasklink/backend/internal/router"
	"github.com/tasklink/backend/internal/timeline"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. make dev-up", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database")

	if err := database.Migrate(ctx, pool, logger); err != nil {
		slog.Error("Migration failed", "error", err)
		os.Exit(1)
	}

	offerRepo := offers.NewRepository(pool)
	jobRepo := jobs.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	timelineLog := timeline.NewLog(timeline.NewRepository(pool))

	// Events are inserted through River; the insert func is set after the
	// River client exists, since the client needs the workers first.
	var insertMu sync.Mutex
	var insertFn events.InsertTxFunc
	emitter := events.NewRiverEmitter(func(ctx context.Context, tx pgx.Tx, args events.DeliverEventArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	})

	transitions := jobs.NewTransitioner(jobRepo, timelineLog, emitter)
	controller := escrow.NewController(pool, ledgerRepo, jobRepo, transitions, timelineLog, emitter, cfg.CommissionRate, logger)
	machine := jobs.NewMachine(pool, jobRepo, transitions, controller, timelineLog, logger)
	engine := offers.NewEngine(pool, offerRepo, jobRepo, timelineLog, emitter, cfg.OfferTTL, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, events.NewDeliverEventWorker(events.LogNotifier{Logger: logger}))
	river.AddWorker(workers, offers.NewExpireOffersWorker(engine, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverMaxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: []*river.PeriodicJob{offers.PeriodicExpiry(cfg.OfferSweepInterval)},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args events.DeliverEventArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	verifier, err := newVerifier(cfg, logger)
	if err != nil {
		slog.Error("Payment gateway init failed", "error", err)
		os.Exit(1)
	}

	escrowHandler, err := escrow.NewHandler(controller, verifier, cfg.WebhookSecret, logger)
	if err != nil {
		slog.Error("Webhook schema failed to compile", "error", err)
		os.Exit(1)
	}

	tokens := auth.NewTokenService(cfg.JWTSecret)
	apiV1Router := router.New(
		middleware.Authenticate(tokens),
		offers.NewHandler(engine, logger),
		jobs.NewHandler(machine, logger),
		escrowHandler,
	)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiV1Router)
	RegisterHealthRoutes(mux, pool, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Secret"},
		AllowCredentials: true,
	}).Handler(mux)

	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown", "error", err)
	}
}

// newVerifier returns nil when neither a gateway token nor mock mode is
// configured. config.Validate only allows that with a webhook secret set.
func newVerifier(cfg *config.Config, logger *slog.Logger) (gateway.Verifier, error) {
	if !cfg.PaymentGatewayMock && cfg.MercadoPagoToken == "" {
		logger.Warn("No payment gateway configured; webhook deposits rely on the shared secret only")
		return nil, nil
	}
	v, err := gateway.NewMercadoPagoVerifier(cfg.MercadoPagoToken, cfg.PaymentGatewayMock, logger)
	if err != nil {
		return nil, err
	}
	return v, nil
}
