package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"budget/internal/amqp"
	billing "budget/internal/billing/memory"
	"budget/internal/cache"
	"budget/internal/cli"
	"budget/internal/core"
	"budget/internal/entitlement"
	apphttp "budget/internal/http"
	"budget/internal/ledger"
	"budget/internal/log"
	"budget/internal/metrics"
)

const (
	shutdownTimeout      = 30 * time.Second
	cacheCleanupInterval = 5 * time.Minute
	mutationsPerMinute   = 120
)

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg.LogLevel)
	metrics.Init()

	store := cli.InitBackend(context.Background(), logger, cfg)

	provider := billing.New()
	machine := entitlement.New(provider, store.Store,
		entitlement.WithLogger(logger),
		entitlement.WithProduct(cfg.PremiumProductID, entitlement.ProductTypeInApp))

	// The in-process provider has no store behind it; remember what the
	// machine unlocked so later checks keep seeing it.
	machine.Subscribe(func(s entitlement.Status) {
		if s == entitlement.Premium {
			provider.Grant(machine.ProductID())
		}
	})

	lowMoney, _ := cfg.LowMoneyWarningCents()
	agg := ledger.NewAggregator(store.Store, machine,
		ledger.WithLogger(logger),
		ledger.WithBalanceCache(cfg.BalanceCacheSize, cfg.BalanceCacheTTL),
		ledger.WithLowMoneyWarning(core.Money{Cents: lowMoney}))

	caches := cache.NewManager(logger)
	caches.Register(agg.BalanceCache())
	caches.StartCleanup(cacheCleanupInterval)

	var (
		amqpClient  *amqp.Client
		publisher   *amqp.StatusPublisher
		unsubscribe = func() {}
	)
	if cfg.AMQPEnabled() {
		var err error
		amqpClient, err = amqp.NewClient(amqp.Config{
			URL:           cfg.AMQPURL,
			Exchange:      cfg.AMQPExchange,
			StatusQueue:   cfg.AMQPStatusQueue,
			PurchaseQueue: cfg.AMQPPurchaseQueue,
		}, logger)
		if err != nil {
			logger.Error("Failed to create AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		publisher = amqp.NewStatusPublisher(amqpClient, logger)
		unsubscribe = publisher.Watch(machine)
	}

	opts := []apphttp.Option{
		apphttp.WithLogger(logger),
		apphttp.WithRateLimit(mutationsPerMinute),
	}
	if p, ok := store.Store.(pinger); ok {
		opts = append(opts, apphttp.WithReadiness(p.Ping))
	}
	srv := apphttp.NewServer(":"+cfg.Port, agg, machine, opts...)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 2 * time.Minute // purchases wait on the billing flow
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	})

	machine.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting budget server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if amqpClient != nil {
		g.Go(func() error {
			publisher.Run(gctx)
			return nil
		})
		g.Go(func() error {
			err := amqpClient.ConsumePurchaseResults(gctx, amqp.DeliverTo(machine))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	exitCode := 0
	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		exitCode = 1
	} else {
		cli.WaitForShutdown(ctx, done)
	}

	machine.Wait()
	unsubscribe()
	caches.Stop()
	if amqpClient != nil {
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close error", log.FieldError, err)
		}
	}
	if err := store.Close(); err != nil {
		logger.Warn("Backend close error", log.FieldError, err)
	}
	logger.Info("Server stopped gracefully")
	os.Exit(exitCode)
}
