package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/crawl"
	"github.com/ternarybob/colligo/internal/fetch"
	"github.com/ternarybob/colligo/internal/schedule"
	"github.com/ternarybob/colligo/internal/storage"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	outputDir    = flag.String("output", "", "Output directory for captured artifacts (overrides config)")
	storeID      = flag.String("store", "", "Store id to crawl (overrides config)")
	cronSchedule = flag.String("schedule", "", "Cron schedule; when set the crawler keeps running and crawls on schedule")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Colligo version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	if len(configFiles) == 0 {
		if _, err := os.Stat("colligo.toml"); err == nil {
			configFiles = append(configFiles, "colligo.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, *outputDir, *storeID, *cronSchedule)

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Str("version", common.GetFullVersion()).
		Str("store_id", config.Store.StoreID).
		Str("output", config.Output.BaseDir).
		Msg("Colligo starting")

	if err := run(config, logger); err != nil {
		logger.Fatal().Err(err).Msg("Crawler exited with error")
		os.Exit(1)
	}
}

func run(config *common.Config, logger arbor.ILogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewFileStore(&config.Output, config.Store.Source, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	var history *storage.RunHistory
	if config.History.Enabled {
		history, err = storage.NewRunHistory(config.History.Path, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize run history: %w", err)
		}
		defer history.Close()
	}

	pool := fetch.NewBrowserPool(&config.Browser, logger)
	if err := pool.Init(); err != nil {
		return fmt.Errorf("failed to initialize browser pool: %w", err)
	}
	defer pool.Shutdown()

	fetcher := fetch.NewBrowserFetcher(pool, config, logger)
	defer fetcher.Close()

	home := fetch.NewHomeClient(&config.Store, logger)

	var recorder crawl.RunRecorder
	if history != nil {
		recorder = history
	}
	orchestrator := crawl.NewOrchestrator(config, store, fetcher, home, recorder, logger)

	if config.Schedule != "" {
		scheduler := schedule.NewScheduler(orchestrator, logger)
		if err := scheduler.Start(ctx, config.Schedule); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer scheduler.Stop()

		logger.Info().Str("schedule", config.Schedule).Msg("Running on schedule, press Ctrl+C to stop")
		<-ctx.Done()
		logger.Info().Msg("Shutdown signal received")
		return nil
	}

	manifest, err := orchestrator.Run(ctx)
	if err != nil && manifest == nil {
		return err
	}

	summary := manifest.Summary()
	logger.Info().
		Int("categories", len(manifest.Categories)).
		Int("complete", summary.Complete).
		Int("exhausted", summary.Exhausted).
		Int("no_data", summary.NoData).
		Str("output", manifest.RootDir).
		Msg("Crawl finished")

	if err != nil {
		logger.Warn().Err(err).Msg("Crawl ended early")
	}
	return nil
}
