package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/internal/config"
	"github.com/0xmhha/event-collector/internal/logger"
	"github.com/0xmhha/event-collector/pkg/api"
	"github.com/0xmhha/event-collector/pkg/collector"
	"github.com/0xmhha/event-collector/pkg/eventbus"
	"github.com/0xmhha/event-collector/pkg/ingest"
	"github.com/0xmhha/event-collector/pkg/provider"
	"github.com/0xmhha/event-collector/pkg/registry"
	"github.com/0xmhha/event-collector/pkg/storage"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

type flags struct {
	configFile  string
	showVersion bool
	dbPath      string
	logLevel    string
	logFormat   string
	noRecover   bool

	enableAPI       bool
	apiHost         string
	apiPort         int
	enableWebSocket bool
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet("collector", flag.ContinueOnError)
	fs.StringVar(&f.configFile, "config", "", "Path to configuration file (YAML)")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information and exit")
	fs.StringVar(&f.dbPath, "db", "", "Database path")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format (json, console)")
	fs.BoolVar(&f.noRecover, "no-recover", false, "Leave persisted active subscriptions stopped at startup")

	// API server flags
	fs.BoolVar(&f.enableAPI, "api", false, "Enable API server")
	fs.StringVar(&f.apiHost, "api-host", "", "API server host")
	fs.IntVar(&f.apiPort, "api-port", 0, "API server port")
	fs.BoolVar(&f.enableWebSocket, "websocket", false, "Enable the live event feed")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if f.showVersion {
		fmt.Printf("event-collector version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(f.configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Override config with command-line flags
	applyFlags(cfg, f)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, configDir(f.configFile), log); err != nil {
		log.Error("collector stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, baseDir string, log *zap.Logger) error {
	log.Info("Starting event collector",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("db_path", cfg.Database.Path),
		zap.Duration("poll_interval", cfg.Ingest.PollInterval),
		zap.Uint64("backfill_blocks", cfg.Ingest.BackfillBlocks),
	)

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Metrics registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Storage
	storageConfig := storage.DefaultConfig(cfg.Database.Path)
	storageConfig.Cache = cfg.Database.Cache
	storageConfig.ReadOnly = cfg.Database.ReadOnly
	store, err := storage.NewPebbleStorage(storageConfig)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	store.SetLogger(log)
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close storage", zap.Error(err))
		}
	}()
	log.Info("Storage initialized", zap.String("path", cfg.Database.Path))

	// Registries share one provider per chain
	pool := provider.NewPool(nil, cfg.RPC.Timeout, log)
	chains := registry.NewChains(store, pool, log)
	subs := registry.NewSubscriptions(store, log)

	// EventBus
	bus := eventbus.NewEventBus(cfg.EventBus.PublishBufferSize, log)
	bus.SetMetrics(eventbus.NewMetrics(reg, cfg.Metrics.Namespace))
	go bus.Run()
	defer bus.Stop()

	// Ingestion controller
	ctrl := ingest.NewController(ingest.Options{
		Config: &ingest.Config{
			PollInterval:     cfg.Ingest.PollInterval,
			BackfillBlocks:   cfg.Ingest.BackfillBlocks,
			PollLookback:     cfg.Ingest.PollLookback,
			LogBuffer:        cfg.Ingest.LogBuffer,
			ResubscribeDelay: cfg.Ingest.ResubscribeDelay,
		},
		Chains:        chains,
		Subscriptions: subs,
		Store:         store,
		Publisher:     bus,
		Pool:          pool,
		Metrics:       ingest.NewMetrics(reg, cfg.Metrics.Namespace),
		Logger:        log,
	})
	defer ctrl.Shutdown()

	service := collector.NewService(collector.Config{
		Controller:    ctrl,
		Events:        store,
		Chains:        chains,
		Subscriptions: subs,
		Bus:           bus,
		Logger:        log,
	})

	// API server
	var apiServer *api.Server
	errChan := make(chan error, 1)
	if cfg.API.Enabled {
		apiConfig := api.DefaultConfig()
		apiConfig.Host = cfg.API.Host
		apiConfig.Port = cfg.API.Port
		apiConfig.EnableCORS = cfg.API.EnableCORS
		apiConfig.AllowedOrigins = cfg.API.AllowedOrigins
		apiConfig.EnableWebSocket = cfg.API.EnableWebSocket
		apiConfig.EnableRateLimit = cfg.API.EnableRateLimit
		apiConfig.RateLimitPerSecond = cfg.API.RateLimitPerSecond
		apiConfig.RateLimitBurst = cfg.API.RateLimitBurst

		apiServer, err = api.NewServer(apiConfig, log, service, api.WithEventBus(bus), api.WithGatherer(reg))
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}

		go func() {
			if err := apiServer.Start(); err != nil {
				errChan <- err
			}
		}()
		log.Info("API server started",
			zap.String("address", apiConfig.Address()),
			zap.Bool("websocket", apiConfig.EnableWebSocket))
	}

	seeder := &bootstrapper{
		chains:   chains,
		subs:     subs,
		existing: store,
		starter:  ctrl,
		baseDir:  baseDir,
	}
	if err := startup(ctx, cfg, ctrl, seeder); err != nil {
		return err
	}

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		log.Error("API server failed", zap.Error(err))
		runErr = err
	}
	cancel()

	log.Info("Shutting down gracefully...")

	if apiServer != nil {
		if err := apiServer.Stop(context.Background()); err != nil {
			log.Error("Failed to stop API server gracefully", zap.Error(err))
		}
	}
	ctrl.Shutdown()

	if total, err := store.CountEvents(context.Background()); err == nil {
		log.Info("Final statistics", zap.Uint64("total_events", total))
	}

	log.Info("Collector stopped")
	return runErr
}

// loadConfig loads configuration from file and environment variables
func loadConfig(configFile string) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyFlags applies command-line flags to configuration
func applyFlags(cfg *config.Config, f *flags) {
	if f.dbPath != "" {
		cfg.Database.Path = f.dbPath
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if f.noRecover {
		cfg.Ingest.SkipRecover = true
	}
	if f.enableAPI {
		cfg.API.Enabled = true
	}
	if f.apiHost != "" {
		cfg.API.Host = f.apiHost
	}
	if f.apiPort > 0 {
		cfg.API.Port = f.apiPort
	}
	if f.enableWebSocket {
		cfg.API.EnableWebSocket = true
	}
}

// configDir is the directory relative abi_file paths resolve against
func configDir(configFile string) string {
	if configFile == "" {
		return ""
	}
	return filepath.Dir(configFile)
}
