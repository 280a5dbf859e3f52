package config

import (
	"golang-chip-analysis/pkg/config"
)

// Collector holds exchange API client configuration.
type Collector struct {
	BaseURL      string `mapstructure:"base_url"`
	Timeout      string `mapstructure:"timeout"`
	RequestDelay string `mapstructure:"request_delay"`
	CacheTTL     string `mapstructure:"cache_ttl"`
}

// Scheduler holds the recurring-job configuration.
type Scheduler struct {
	PollingInterval    string   `mapstructure:"polling_interval"`
	CollectionCrons    []string `mapstructure:"collection_crons"`
	WeeklyAnalysisCron string   `mapstructure:"weekly_analysis_cron"`
	CleanupCron        string   `mapstructure:"cleanup_cron"`
	RetainDays         int      `mapstructure:"retain_days"`
	WatchList          []string `mapstructure:"watch_list"`
}

// Analyzer holds the analysis thresholds.
type Analyzer struct {
	TopBrokersCount int     `mapstructure:"top_brokers_count"`
	MinTotalVolume  int64   `mapstructure:"min_total_volume"`
	StdThreshold    float64 `mapstructure:"std_threshold"`
}

// Config holds the full configuration for the chip analysis service.
type Config struct {
	App       config.App      `mapstructure:"app"`
	Logger    config.Logger   `mapstructure:"logger"`
	Database  config.Database `mapstructure:"database"`
	Telegram  config.Telegram `mapstructure:"telegram"`
	Collector Collector       `mapstructure:"collector"`
	Scheduler Scheduler       `mapstructure:"scheduler"`
	Analyzer  Analyzer        `mapstructure:"analyzer"`
}

// Load loads the service configuration from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := config.Load(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
