package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arc-self/sysrecorder/internal/config"
	"github.com/arc-self/sysrecorder/internal/decode"
	"github.com/arc-self/sysrecorder/internal/event"
	"github.com/arc-self/sysrecorder/internal/exporter"
	"github.com/arc-self/sysrecorder/internal/filter"
	"github.com/arc-self/sysrecorder/internal/healthprobe"
	"github.com/arc-self/sysrecorder/internal/producer/natsfeed"
	"github.com/arc-self/sysrecorder/internal/recorder"
	"github.com/arc-self/sysrecorder/internal/registry"
	"github.com/arc-self/sysrecorder/internal/natsclient"
	"github.com/arc-self/sysrecorder/internal/telemetry"
)

func newRunCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the recorder agent until signalled to stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(*cfgPath)
		},
	}
}

func run(cfgPath string) error {
	// ── Structured Logger ──────────────────────────────────────────────
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	// ── OpenTelemetry Providers ──────────────────────────────────────────
	sink, counters, shutdownTelemetry, err := bootstrapTelemetry(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to init telemetry", zap.Error(err))
	}
	defer shutdownTelemetry()

	// ── Vault Secret Overlay ──────────────────────────────────────────────
	// Optional: a config file/env alone is enough to run; Vault only
	// overrides the fields it's configured to manage.
	if cfg.VaultAddr != "" {
		overlayFromVault(cfg, logger)
	}

	// ── Registry Ruleset ───────────────────────────────────────────────
	rules, err := loadRuleset(cfg)
	if err != nil {
		logger.Fatal("failed to load registry ruleset", zap.Error(err))
	}
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	cachedRules := registry.NewCachedRuleSet(rules, redisClient, logger)

	// ── NATS JetStream ───────────────────────────────────────────────────
	natsClient, err := natsclient.NewClient(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal("NATS connection failed", zap.Error(err))
	}
	defer natsClient.Close()

	if err := natsClient.ProvisionSystemEventsStream(); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}

	// ── Recorder, Decoder, Filter Pipeline ───────────────────────────────
	rec := recorder.New(sink, logger, recorder.WithNotTrackedCounter(counters.NotTracked))
	decoder := decode.New(logger)

	pipeline := filter.New(filter.Identity{
		Pid:        cfg.SelfPid,
		BinaryPath: cfg.SelfBinaryPath,
		IdlePid:    cfg.IdlePid,
	})
	pipeline.AddPost(func(ev *event.TypedEvent) bool {
		if !isRegistryCode(ev.Code) {
			return true
		}
		key, _ := decode.Target(ev)
		return cachedRules.IsInteresting(context.Background(), key, ev.Get("Image"))
	})

	feed := natsfeed.New(natsClient.JS, natsfeed.Config{
		Stream:  cfg.NATSStream,
		Subject: cfg.NATSSubject,
		Durable: cfg.NATSDurable,
		Batch:   cfg.NATSBatchSize,
	}, decoder, pipeline, rec, counters, logger)

	feedCtx, feedCancel := context.WithCancel(ctx)
	defer feedCancel()
	if err := feed.Start(feedCtx); err != nil {
		logger.Fatal("failed to start natsfeed", zap.Error(err))
	}
	logger.Info("natsfeed started", zap.String("subject", cfg.NATSSubject), zap.String("durable", cfg.NATSDurable))

	// ── Health Probe ───────────────────────────────────────────────────
	health := healthprobe.New(cfg.ServiceName, counters, rec, logger)
	health.Start(cfg.HealthAddr)
	logger.Info("health probe listening", zap.String("addr", cfg.HealthAddr))

	// ── Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	feedCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := rec.Shutdown(shutdownCtx); err != nil {
		logger.Error("recorder shutdown error", zap.Error(err))
	}
	if err := health.Shutdown(shutdownCtx); err != nil {
		logger.Error("health probe shutdown error", zap.Error(err))
	}

	logger.Info("sysrecorder shut down cleanly")
	return nil
}

// bootstrapTelemetry builds the OTel tracer/logger/meter providers, an
// exporter.Sink over the tracer and logger providers, and the drop counters
// on the meter provider, and returns a combined shutdown func the caller
// defers once.
func bootstrapTelemetry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (exporter.Sink, *telemetry.DropCounters, func(), error) {
	tp, err := telemetry.InitTracerProvider(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, nil, nil, err
	}
	lp, err := telemetry.InitLoggerProvider(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, nil, nil, err
	}
	mp, err := telemetry.InitMeterProvider(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, nil, nil, err
	}

	counters, err := telemetry.NewDropCounters(mp)
	if err != nil {
		return nil, nil, nil, err
	}

	sink := exporter.New(tp, lp, cfg.ServiceName, cfg.ExporterQueueSize, logger)

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := sink.Shutdown(shutdownCtx); err != nil {
			logger.Warn("exporter shutdown error", zap.Error(err))
		}
		if err := mp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("meter provider shutdown error", zap.Error(err))
		}
	}

	return sink, counters, shutdown, nil
}

// overlayFromVault reads NATS/Redis credentials out of Vault when
// VaultAddr is set, overriding whatever the config file/env supplied.
// A Vault read failure is logged, not fatal: the agent still runs on
// whatever the config file already had.
func overlayFromVault(cfg *config.Config, logger *zap.Logger) {
	sm, err := config.NewSecretManager(cfg.VaultAddr, cfg.VaultToken)
	if err != nil {
		logger.Warn("vault client init failed, using config file values", zap.Error(err))
		return
	}
	secrets, err := sm.GetKV2(cfg.VaultSecretPath)
	if err != nil {
		logger.Warn("failed to load secrets from vault, using config file values", zap.Error(err))
		return
	}
	cfg.NATSURL = config.StringValue(secrets, "NATS_URL", cfg.NATSURL)
	cfg.RedisAddr = config.StringValue(secrets, "REDIS_ADDR", cfg.RedisAddr)
}

func loadRuleset(cfg *config.Config) (*registry.RuleSet, error) {
	if cfg.RulesetPath != "" {
		return registry.Load(cfg.RulesetPath)
	}
	return registry.Default()
}

// isRegistryCode reports whether code is one of the registry-event codes
// the interest ruleset applies to.
func isRegistryCode(code event.Code) bool {
	switch code {
	case event.RegistryAdd, event.RegistrySet, event.RegistryDelete, event.RegistryRename, event.RegistryQuery:
		return true
	default:
		return false
	}
}
