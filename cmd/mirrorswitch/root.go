package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/mirrorswitch/internal/catalog"
	"github.com/BadgerOps/mirrorswitch/internal/config"
	"github.com/BadgerOps/mirrorswitch/internal/locator"
	"github.com/BadgerOps/mirrorswitch/internal/metrics"
	"github.com/BadgerOps/mirrorswitch/internal/mirror"
	"github.com/BadgerOps/mirrorswitch/internal/resolve"
	"github.com/BadgerOps/mirrorswitch/internal/store"
	redisstore "github.com/BadgerOps/mirrorswitch/internal/store/redis"
)

var (
	// Global flags
	cfgPath   string
	dbPath    string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore    *store.Store // nil unless the sqlite backend is configured
	globalService  *locator.Service
	globalResolver *resolve.Resolver
	globalRegistry *prometheus.Registry
)

// initializeComponents builds the persistence backend, catalog loader,
// prober, metrics and the locator service from globalCfg.
func initializeComponents(ctx context.Context) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if err := globalCfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	persistence, err := openPersistence(ctx, globalCfg.Store)
	if err != nil {
		return err
	}

	globalRegistry = prometheus.NewRegistry()
	globalRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(globalRegistry)

	loader := catalog.NewLoader(catalog.Options{
		CacheDir:      globalCfg.Catalog.CacheDir,
		RetryAttempts: globalCfg.Catalog.RetryAttempts,
		MaxBytes:      globalCfg.Catalog.MaxBytes,
	}, logger)

	globalResolver = resolve.New()
	globalService = locator.New(locator.Options{
		Loader:          loader,
		Hooks:           globalResolver,
		Persistence:     persistence,
		Selector:        mirror.NewRacer(mirror.NewHTTPProber(logger), m, logger),
		Metrics:         m,
		Logger:          logger,
		LocalMode:       globalCfg.Catalog.LocalMode,
		PermanentRemote: globalCfg.Mirrors.PermanentRemote,
	})

	for _, r := range globalCfg.EnabledRemotes() {
		globalService.Register(r)
	}

	logger.Info("components initialized successfully", "store", globalCfg.Store.Backend, "mirrors", len(globalService.Mirrors()))
	return nil
}

func openPersistence(ctx context.Context, cfg config.StoreConfig) (locator.Persistence, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		rs, err := redisstore.New(ctx, redisstore.Options{
			Addr:           cfg.RedisAddr,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			KeyPrefix:      cfg.KeyPrefix,
			ConnectTimeout: 10 * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis store: %w", err)
		}
		return rs, nil
	default:
		path := cfg.DBPath
		if dbPath != "" {
			path = dbPath
		}
		st, err := store.New(path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		globalStore = st
		return st, nil
	}
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"config":  true,
		"show":    true,
	}
	return skipInitCmds[cmdName]
}

// closeComponents releases the service and its persistence backend.
func closeComponents() {
	if globalService == nil {
		return
	}
	if err := globalService.Close(); err != nil {
		logger.Error("failed to close components", "error", err)
	}
	globalService = nil
	globalStore = nil
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirrorswitch",
		Short: "Select and activate the fastest content mirror",
		Long: `mirrorswitch keeps a registry of CDN mirrors, races them to find the
fastest reachable one, activates it by reloading its catalog and rewrites
resolved asset identifiers so they point at the active mirror.`,
		Example: `  mirrorswitch serve
  mirrorswitch select --activate
  mirrorswitch activate https://cdn-b.example.com
  mirrorswitch mirrors
  mirrorswitch status`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Warn("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			if dbPath != "" {
				globalCfg.Store.DBPath = dbPath
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath, "store", globalCfg.Store.Backend)
			}

			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(cmd.Context()); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "override the sqlite database path")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	cmd.AddCommand(
		newServeCmd(),
		newSelectCmd(),
		newActivateCmd(),
		newMirrorsCmd(),
		newStatusCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet && level < slog.LevelError {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
