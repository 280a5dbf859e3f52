package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang-chip-analysis/internal/analyzer"
	"golang-chip-analysis/internal/collector"
	"golang-chip-analysis/internal/config"
	"golang-chip-analysis/internal/scheduler"
	"golang-chip-analysis/internal/store"
	"golang-chip-analysis/pkg/logger"
	"golang-chip-analysis/pkg/sqlite"
	"golang-chip-analysis/pkg/telegram"
	"golang-chip-analysis/pkg/utils"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "chip-analysis",
	Short: "Broker chip collection and analysis pipeline",
	Long:  `Collects per-broker, per-branch trading activity from the exchange, stores it in an embedded database, and runs recurring analysis jobs.`,
}

// app holds the wired service graph shared by the subcommands.
type app struct {
	cfg       *config.Config
	logger    *logger.Logger
	db        *sqlite.DB
	store     store.Store
	collector *collector.Collector
	analyzer  *analyzer.Analyzer
	scheduler *scheduler.Scheduler
}

func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := sqlite.NewDB(sqlite.Config{
		Path:     cfg.Database.Path,
		LogLevel: cfg.Database.LogLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	st, err := store.New(db.DB, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	col := collector.New(collector.Config{
		BaseURL:      cfg.Collector.BaseURL,
		Timeout:      parseDuration(cfg.Collector.Timeout, 30*time.Second),
		RequestDelay: parseDuration(cfg.Collector.RequestDelay, time.Second),
		CacheTTL:     parseDuration(cfg.Collector.CacheTTL, 10*time.Minute),
	}, appLogger)

	an := analyzer.New(analyzer.Config{
		TopBrokersCount: cfg.Analyzer.TopBrokersCount,
		MinTotalVolume:  cfg.Analyzer.MinTotalVolume,
		StdThreshold:    cfg.Analyzer.StdThreshold,
	}, appLogger)

	var notifier telegram.Notifier
	if cfg.Telegram.Enabled {
		notifier, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			appLogger.Warn("Failed to initialize Telegram notifier, continuing without it", logger.ErrorField(err))
			notifier = nil
		}
	}

	sched, err := scheduler.New(col, st, an, notifier, appLogger, scheduler.Config{
		PollingInterval:    parseDuration(cfg.Scheduler.PollingInterval, time.Minute),
		CollectionCrons:    cfg.Scheduler.CollectionCrons,
		WeeklyAnalysisCron: cfg.Scheduler.WeeklyAnalysisCron,
		CleanupCron:        cfg.Scheduler.CleanupCron,
		RetainDays:         cfg.Scheduler.RetainDays,
		WatchList:          cfg.Scheduler.WatchList,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    appLogger,
		db:        db,
		store:     st,
		collector: col,
		analyzer:  an,
		scheduler: sched,
	}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
	if err := a.db.Close(); err != nil {
		a.logger.Error("Failed to close database", logger.ErrorField(err))
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the recurring collection scheduler",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp()
		if err != nil {
			log.Fatalf("Failed to start: %v", err)
		}
		defer a.close()

		a.logger.Info("Starting chip analysis scheduler",
			logger.Field("name", a.cfg.App.Name),
			logger.Field("watch_list", a.cfg.Scheduler.WatchList))

		a.scheduler.Start(ctx)
		a.logger.Info("Scheduler exited")
	},
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Runs one manual collection over the watch list",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp()
		if err != nil {
			log.Fatalf("Failed to start: %v", err)
		}
		defer a.close()

		result := a.scheduler.RunManualCollection(ctx)
		printJSON(result)
	},
}

var (
	backfillStart string
	backfillEnd   string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Collects and stores a historical date range for the watch list",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp()
		if err != nil {
			log.Fatalf("Failed to start: %v", err)
		}
		defer a.close()

		start, err := time.Parse(utils.DateLayout, backfillStart)
		if err != nil {
			log.Fatalf("Invalid start date: %v", err)
		}
		end, err := time.Parse(utils.DateLayout, backfillEnd)
		if err != nil {
			log.Fatalf("Invalid end date: %v", err)
		}

		results, err := a.collector.FetchBatch(ctx, a.scheduler.WatchList(), start, end)
		if err != nil {
			a.logger.Error("Backfill aborted", logger.ErrorField(err))
		}
		var total int64
		for stockCode, records := range results {
			count, err := a.store.UpsertTrades(ctx, records)
			if err != nil {
				a.logger.Error("Failed to store backfill batch",
					logger.Field("stock_code", stockCode), logger.ErrorField(err))
				continue
			}
			total += count
		}
		a.logger.Info("Backfill finished", logger.Field("records", total))
	},
}

var (
	analyzeStock string
	analyzeDays  int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Builds an analysis report for one stock from stored history",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp()
		if err != nil {
			log.Fatalf("Failed to start: %v", err)
		}
		defer a.close()

		now := utils.TimeNowTaipei()
		records, err := a.store.QueryTrades(ctx, store.Filter{
			StockCode: analyzeStock,
			StartDate: now.AddDate(0, 0, -(analyzeDays - 1)).Format(utils.DateLayout),
			EndDate:   now.Format(utils.DateLayout),
		})
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}

		report := a.analyzer.BuildReport(records, analyzeStock)
		printJSON(report)
	},
}

var cleanupRetainDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Deletes stored rows older than the retention horizon",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp()
		if err != nil {
			log.Fatalf("Failed to start: %v", err)
		}
		defer a.close()

		deleted, err := a.store.Cleanup(ctx, cleanupRetainDays)
		if err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
		fmt.Printf("Deleted %d rows\n", deleted)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Shows the configured watch list",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := buildApp()
		if err != nil {
			log.Fatalf("Failed to start: %v", err)
		}
		defer a.close()

		for i, stockCode := range a.scheduler.WatchList() {
			fmt.Printf("%d. %s\n", i+1, stockCode)
		}
	},
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
	fmt.Println(string(out))
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the configuration file")

	backfillCmd.Flags().StringVar(&backfillStart, "start", "", "Start date (YYYY-MM-DD)")
	backfillCmd.Flags().StringVar(&backfillEnd, "end", "", "End date (YYYY-MM-DD)")
	_ = backfillCmd.MarkFlagRequired("start")
	_ = backfillCmd.MarkFlagRequired("end")

	analyzeCmd.Flags().StringVar(&analyzeStock, "stock", "", "Stock code to analyze")
	analyzeCmd.Flags().IntVar(&analyzeDays, "days", 1, "Trailing days of history to analyze")
	_ = analyzeCmd.MarkFlagRequired("stock")

	cleanupCmd.Flags().IntVar(&cleanupRetainDays, "retain-days", 365, "Retention horizon in days")

	rootCmd.AddCommand(serveCmd, collectCmd, backfillCmd, analyzeCmd, cleanupCmd, watchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing chip-analysis CLI: %s\n", err)
		os.Exit(1)
	}
}
