package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	corecfg "github.com/changepulse/changepulse/internal/core/config"
	"github.com/changepulse/changepulse/internal/core/store/postgres"
	"github.com/changepulse/changepulse/internal/identity"
	"github.com/changepulse/changepulse/internal/ingestion"
	"github.com/changepulse/changepulse/internal/metrics"
	"github.com/changepulse/changepulse/internal/migrations"
	"github.com/changepulse/changepulse/internal/outbound"
	"github.com/changepulse/changepulse/internal/pulse"
	"github.com/changepulse/changepulse/internal/server"
)

func main() {
	configPath := flag.String("config", "changepulse.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"change_topic", cfg.Kafka.ChangeTopic,
		"notification_topic", cfg.Kafka.NotificationTopic,
		"publishing_disabled", cfg.Publishing.Disabled)

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	// 4. Initialize Identity Resolution
	timeout, initialBackoff, maxBackoff := cfg.Identity.Durations()
	resolver := identity.NewClient(cfg.Identity.BaseURL, &http.Client{Timeout: timeout})
	retry := identity.RetryPolicy{
		MaxAttempts:    cfg.Identity.MaxAttempts,
		InitialBackoff: initialBackoff,
		MaxBackoff:     maxBackoff,
		Multiplier:     2,
	}

	// 5. Initialize Outbound Publisher
	var publisher outbound.Publisher
	if cfg.Publishing.Disabled {
		slog.Warn("Publishing disabled, notifications will be settled but not sent")
		publisher = outbound.NopPublisher{}
	} else {
		publisher = outbound.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic)
	}
	defer publisher.Close()

	window, pulseInterval, sweepInterval, sweepGrace := cfg.Debounce.Durations()

	// 6. Initialize Ingestion (change feed consumer)
	handler := ingestion.NewHandler(dbAdapter, resolver, retry, window, m)
	consumer := ingestion.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ChangeTopic, cfg.Kafka.GroupID, handler)

	// 7. Initialize Pulse Scheduler and Reconciliation Sweeper
	scheduler := pulse.NewScheduler(dbAdapter, publisher, pulseInterval, cfg.Debounce.ClaimLimit, m)
	sweeper := pulse.NewSweeper(dbAdapter, publisher, sweepInterval, sweepGrace, cfg.Debounce.ClaimLimit, m)

	// 8. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), scheduler, registry, cfg.Server.Mode)

	// 9. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(ctx) })
	g.Go(func() error { return scheduler.Start(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	if cfg.Kafka.PulseTopic != "" {
		trigger := pulse.NewKafkaTrigger(cfg.Kafka.Brokers, cfg.Kafka.PulseTopic, cfg.Kafka.GroupID, scheduler)
		g.Go(func() error { return trigger.Run(ctx) })
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		select {
		case <-quit:
			slog.Info("Signal received, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := g.Wait(); err != nil {
		slog.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
