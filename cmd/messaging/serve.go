package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/JimiYounger/connect-sub001/internal/api"
	"github.com/JimiYounger/connect-sub001/internal/cache"
	"github.com/JimiYounger/connect-sub001/internal/client"
	"github.com/JimiYounger/connect-sub001/internal/config"
	"github.com/JimiYounger/connect-sub001/internal/db"
	"github.com/JimiYounger/connect-sub001/internal/events"
	"github.com/JimiYounger/connect-sub001/internal/recipient"
	"github.com/JimiYounger/connect-sub001/internal/repo"
	"github.com/JimiYounger/connect-sub001/internal/scheduler"
	"github.com/JimiYounger/connect-sub001/internal/service"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the stale message sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAll()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Log.Level)
		slog.SetDefault(logger)
		return serve(cmd.Context(), cfg, logger)
	},
}

type stores struct {
	messages repo.MessageRepository
	bulks    repo.BulkRepository
	prefs    repo.PreferenceRepository
	dir      repo.Directory
}

func serve(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var index cache.CarrierIndex = cache.NopIndex{}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, carrier lookups fall back to postgres", "addr", cfg.Redis.Address, "err", err)
		}
		index = cache.NewRedisCache(rdb, cfg.Redis.TTL)
	}

	var pub events.Publisher = events.NopPublisher{}
	if cfg.AMQP.Enabled {
		p, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		defer p.Close()
		pub = p
	}

	gateway := client.NewCarrierClient(cfg.Carrier.URL,
		client.WithAuthToken(cfg.Carrier.AuthToken),
		client.WithCountryCode(cfg.Carrier.CountryCode),
	)

	resolver := recipient.NewResolver(st.dir, st.prefs, logger)
	orch := service.NewOrchestrator(resolver, st.messages, st.bulks, gateway, cfg.Carrier.Timeout).
		WithCallbackURL(cfg.Server.StatusCallbackURL()).
		WithCarrierIndex(index).
		WithPublisher(pub).
		WithLogger(logger)
	bulk := service.NewBulkSender(orch, st.bulks, cfg.Delivery.BulkConcurrency).WithLogger(logger)
	rec := service.NewReconciler(st.messages, resolver).
		WithCarrierIndex(index).
		WithPublisher(pub).
		WithCountryCode(cfg.Carrier.CountryCode).
		WithLogger(logger)

	sweeper := service.NewSweeper(st.messages, cfg.Sweeper.QueuedAfter).WithLogger(logger)
	job, err := scheduler.New("sweeper", cfg.Sweeper.Interval, sweeper.Tick)
	if err != nil {
		return err
	}
	job.WithLogger(logger)
	job.Start(ctx)
	defer job.Stop()

	h := api.NewHandler(api.Deps{
		Orchestrator:    orch,
		Bulk:            bulk,
		Reconciler:      rec,
		Resolver:        resolver,
		Messages:        st.messages,
		Bulks:           st.bulks,
		Preferences:     st.prefs,
		Sweeper:         job,
		BaseContext:     ctx,
		PricePerSegment: cfg.Delivery.PricePerSegment,
		Logger:          logger,
	})

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(h)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Carrier.Timeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("messaging app starting",
			"addr", cfg.Server.Address,
			"store", cfg.Store.Driver,
			"redis", cfg.Redis.Enabled,
			"amqp", cfg.AMQP.Enabled,
			"sweep_interval", cfg.Sweeper.Interval.String(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (stores, func(), error) {
	if cfg.Store.Driver == config.DriverMemory {
		logger.Warn("using in-memory store, data is lost on exit")
		m := repo.NewMemoryStore()
		return stores{messages: m, bulks: m, prefs: m, dir: m}, func() {}, nil
	}

	database, err := db.Connect(ctx, cfg.Store.PostgresURL)
	if err != nil {
		return stores{}, nil, fmt.Errorf("connect postgres: %w", err)
	}

	applied, err := db.RunMigrations(ctx, database)
	if err != nil {
		_ = database.Close()
		return stores{}, nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("migrations applied", "count", applied)

	return stores{
		messages: repo.NewPostgresMessageRepo(database),
		bulks:    repo.NewPostgresBulkRepo(database),
		prefs:    repo.NewPostgresPreferenceRepo(database),
		dir:      repo.NewPostgresDirectory(database),
	}, func() { _ = database.Close() }, nil
}
