package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"envelopes/internal/amqp"
	"envelopes/internal/cache"
	"envelopes/internal/cli"
	"envelopes/internal/config"
	"envelopes/internal/core"
	apphttp "envelopes/internal/http"
	"envelopes/internal/ledger"
	"envelopes/internal/log"
	"envelopes/internal/metrics"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).Validate)

	if err := run(logger, cfg); err != nil {
		logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully", log.FieldOperation, log.OpShutdown)
}

func run(logger *log.Logger, cfg *config.Config) error {
	ctx, stop := cli.SignalContext(logger)
	defer stop()

	store := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := store.Cleanup(); err != nil {
			logger.Error("Failed to close backend", log.FieldError, err.Error(), log.FieldBackend, cfg.DataBackend)
		}
	}()

	m := metrics.New()
	opts := []ledger.Option{
		ledger.WithRecorder(m),
		ledger.WithLogger(logger),
	}

	if cfg.CacheSize > 0 {
		envelopeCache := cache.NewLRUCache[core.Envelope](cfg.CacheSize, cfg.CacheTTL)
		m.RegisterCacheStats("envelopes", envelopeCache.Stats)

		cacheManager := cache.NewManager(m.ObserveCacheSweep)
		cacheManager.Register(envelopeCache)
		cacheManager.StartCleanup(cfg.CacheTTL)
		defer cacheManager.Stop()

		opts = append(opts, ledger.WithCache(envelopeCache))
	}

	if cfg.AMQPURL != "" {
		publisher, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
			amqp.WithLogger(logger),
			amqp.WithPublishHook(m.ObservePublish))
		if err != nil {
			return fmt.Errorf("initialize AMQP client: %w", err)
		}
		defer publisher.Close()
		opts = append(opts, ledger.WithPublisher(publisher))
		logger.Info("Publishing ledger events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	svc := ledger.NewService(store.Store, opts...)
	srv := apphttp.NewServer(":"+cfg.Port, svc,
		apphttp.WithLogger(logger),
		apphttp.WithMetrics(m),
		apphttp.WithRateLimit(cfg.RateLimitPerMinute))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting envelopes server",
			"port", cfg.Port,
			log.FieldBackend, cfg.DataBackend,
			log.FieldOperation, log.OpStartup)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
