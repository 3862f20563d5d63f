package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/atmx/bet-ledger/internal/analytics"
	"github.com/atmx/bet-ledger/internal/api"
	"github.com/atmx/bet-ledger/internal/audit"
	"github.com/atmx/bet-ledger/internal/betting"
	"github.com/atmx/bet-ledger/internal/catalog"
	"github.com/atmx/bet-ledger/internal/config"
	"github.com/atmx/bet-ledger/internal/ledger"
	"github.com/atmx/bet-ledger/internal/logger"
	"github.com/atmx/bet-ledger/internal/notify"
	"github.com/atmx/bet-ledger/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("bet-ledger failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		log.Info("Redis cache enabled", zap.Duration("ttl", cfg.CacheTTL))
	}

	// --- Store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool, cfg.TxLockTimeout, cfg.TxStatementTimeout)
		if err := pg.Ping(ctx); err != nil {
			return fmt.Errorf("database ping: %w", err)
		}
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		log.Info("connected to PostgreSQL")

		st = pg
		if rdb != nil {
			st = store.NewCachedStore(pg, rdb, cfg.CacheTTL)
		}
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Event sinks ---
	hub := api.NewWSHub(log)
	go hub.Run(ctx)

	sinks := notify.Multi{hub}
	if cfg.KafkaBrokers != "" {
		kp := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		cleanup = append(cleanup, func() {
			if err := kp.Close(); err != nil {
				log.Warn("kafka writer close", zap.Error(err))
			}
		})
		sinks = append(sinks, kp)
		log.Info("publishing ledger events to Kafka", zap.String("topic", cfg.KafkaTopic))
	}

	// --- Services ---
	var reportOpts []analytics.Option
	if rdb != nil {
		reportOpts = append(reportOpts, analytics.WithCache(analytics.NewRedisCache(rdb, cfg.CacheTTL)))
	}
	srv := api.NewServer(api.Services{
		Ledger: ledger.NewService(st, log,
			ledger.WithPublisher(sinks),
			ledger.WithRetry(ledger.RetryConfig{
				MaxRetries: cfg.TxMaxRetries,
				BaseDelay:  cfg.TxRetryBaseDelay,
				MaxDelay:   cfg.TxRetryMaxDelay,
			}),
		),
		Bets:      betting.NewService(st, log, betting.WithPublisher(sinks)),
		Catalog:   catalog.NewService(st, log, catalog.WithPublisher(sinks)),
		Audit:     audit.NewService(st),
		Analytics: analytics.NewService(st, log, reportOpts...),
	}, hub, log)

	// --- Server ---
	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("bet-ledger listening", zap.String("port", cfg.HTTPPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Info("shutting down bet-ledger")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	return nil
}
