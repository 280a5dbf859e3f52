package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang-chip-analysis/internal/analyzer"
	"golang-chip-analysis/internal/entity"
	"golang-chip-analysis/internal/store"
	"golang-chip-analysis/pkg/logger"
	"golang-chip-analysis/pkg/telegram"
	"golang-chip-analysis/pkg/utils"

	"github.com/robfig/cron/v3"
)

// Job names used in logs, results, and notifications.
const (
	JobDailyCollection = "daily-collection"
	JobWeeklyAnalysis  = "weekly-analysis"
	JobMonthlyCleanup  = "monthly-cleanup"
)

// Fetcher is the collector surface the scheduler drives.
type Fetcher interface {
	Fetch(ctx context.Context, stockCode string, date time.Time) ([]entity.BrokerTrading, error)
}

// Result summarizes one job run. For a collection run that was not gated,
// SuccessCount+ErrorCount equals the watch list size.
type Result struct {
	Job          string        `json:"job"`
	Skipped      bool          `json:"skipped"`
	SuccessCount int           `json:"success_count"`
	ErrorCount   int           `json:"error_count"`
	Records      int64         `json:"records"`
	Deleted      int64         `json:"deleted"`
	Duration     time.Duration `json:"duration"`
}

// Config holds the scheduler settings.
type Config struct {
	PollingInterval    time.Duration
	CollectionCrons    []string
	WeeklyAnalysisCron string
	CleanupCron        string
	RetainDays         int
	WatchList          []string
}

type job struct {
	name     string
	schedule cron.Schedule
	next     time.Time
	run      func(ctx context.Context)
}

// Scheduler owns the watch list and the fixed job registry, and drives the
// collection pipeline on a ticker poll loop. Jobs run inline and to
// completion; at most one job runs at a time.
type Scheduler struct {
	collector Fetcher
	store     store.Store
	analyzer  *analyzer.Analyzer
	notifier  telegram.Notifier
	logger    *logger.Logger
	cfg       Config

	mu        sync.Mutex
	watchList []string
	jobs      []*job

	now func() time.Time
}

// New creates a scheduler and registers the recurring jobs from the
// configured cron expressions.
func New(collector Fetcher, st store.Store, an *analyzer.Analyzer, notifier telegram.Notifier, log *logger.Logger, cfg Config) (*Scheduler, error) {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = time.Minute
	}
	if cfg.RetainDays <= 0 {
		cfg.RetainDays = 365
	}

	s := &Scheduler{
		collector: collector,
		store:     st,
		analyzer:  an,
		notifier:  notifier,
		logger:    log,
		cfg:       cfg,
		watchList: append([]string(nil), cfg.WatchList...),
		now:       utils.TimeNowTaipei,
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	register := func(name, expr string, run func(ctx context.Context)) error {
		if expr == "" {
			return nil
		}
		schedule, err := parser.Parse(expr)
		if err != nil {
			return fmt.Errorf("invalid cron expression %q for %s: %w", expr, name, err)
		}
		s.jobs = append(s.jobs, &job{name: name, schedule: schedule, run: run})
		return nil
	}

	for _, expr := range cfg.CollectionCrons {
		if err := register(JobDailyCollection, expr, func(ctx context.Context) { s.RunDailyCollection(ctx) }); err != nil {
			return nil, err
		}
	}
	if err := register(JobWeeklyAnalysis, cfg.WeeklyAnalysisCron, func(ctx context.Context) { s.RunWeeklyAnalysis(ctx) }); err != nil {
		return nil, err
	}
	if err := register(JobMonthlyCleanup, cfg.CleanupCron, func(ctx context.Context) { s.RunCleanup(ctx) }); err != nil {
		return nil, err
	}

	return s, nil
}

// Start runs the poll loop until the context is canceled. A job already
// running when cancellation arrives finishes; the loop stops between ticks.
func (s *Scheduler) Start(ctx context.Context) {
	now := s.now()
	for _, j := range s.jobs {
		j.next = j.schedule.Next(now)
		s.logger.Info("Job registered",
			logger.Field("job", j.name), logger.Field("next_run", j.next))
	}

	ticker := time.NewTicker(s.cfg.PollingInterval)
	defer ticker.Stop()

	s.logger.Info("Scheduler started",
		logger.Field("jobs", len(s.jobs)),
		logger.Field("polling_interval", s.cfg.PollingInterval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping")
			return
		case <-ticker.C:
			s.runDueJobs(ctx)
		}
	}
}

func (s *Scheduler) runDueJobs(ctx context.Context) {
	now := s.now()
	for _, j := range s.jobs {
		if now.Before(j.next) {
			continue
		}
		s.logger.Info("Job due", logger.Field("job", j.name))
		j.run(ctx)
		j.next = j.schedule.Next(s.now())
	}
}

// RunDailyCollection fetches today's broker detail for every watched stock
// and upserts it, isolating per-stock failures. On weekends it performs zero
// work.
func (s *Scheduler) RunDailyCollection(ctx context.Context) Result {
	started := s.now()
	result := Result{Job: JobDailyCollection}

	if utils.IsWeekend(started) {
		s.logger.Info("Weekend, skipping daily collection")
		result.Skipped = true
		return result
	}

	watchList := s.WatchList()
	dateStr := started.Format(utils.DateLayout)
	s.logger.Info("Daily collection started",
		logger.Field("date", dateStr), logger.Field("stocks", len(watchList)))

	for i, stockCode := range watchList {
		s.logger.Info("Collecting stock",
			logger.Field("stock_code", stockCode),
			logger.Field("progress", fmt.Sprintf("%d/%d", i+1, len(watchList))))

		records, err := s.collector.Fetch(ctx, stockCode, started)
		if err != nil {
			result.ErrorCount++
			s.logger.Error("Collection failed for stock",
				logger.Field("stock_code", stockCode), logger.Field("date", dateStr),
				logger.ErrorField(err))
			continue
		}

		if len(records) == 0 {
			result.SuccessCount++
			s.logger.Warn("No broker data for stock",
				logger.Field("stock_code", stockCode), logger.Field("date", dateStr))
			continue
		}

		count, err := s.store.UpsertTrades(ctx, records)
		if err != nil {
			result.ErrorCount++
			s.logger.Error("Failed to store broker trades",
				logger.Field("stock_code", stockCode), logger.Field("date", dateStr),
				logger.ErrorField(err))
			continue
		}
		result.SuccessCount++
		result.Records += count

		s.persistDailyAnalysis(ctx, stockCode, dateStr, records)
	}

	result.Duration = s.now().Sub(started)
	s.logger.Info("Daily collection finished",
		logger.Field("success_count", result.SuccessCount),
		logger.Field("error_count", result.ErrorCount),
		logger.Field("records", result.Records),
		logger.Field("duration", result.Duration))

	s.notify(JobDailyCollection, result)
	return result
}

// persistDailyAnalysis recomputes and upserts the per-stock daily summary and
// appends any anomalies flagged in today's batch. Failures here are logged
// but do not count against the collection result; the raw trades are already
// stored.
func (s *Scheduler) persistDailyAnalysis(ctx context.Context, stockCode, dateStr string, records []entity.BrokerTrading) {
	report := s.analyzer.BuildReport(records, stockCode)

	var totalVolume, totalAmount int64
	for _, rec := range records {
		totalVolume += rec.BuyVolume + rec.SellVolume
		totalAmount += rec.BuyAmount + rec.SellAmount
	}

	summary := &entity.DailySummary{
		Date:            dateStr,
		StockCode:       stockCode,
		TotalVolume:     totalVolume,
		TotalAmount:     totalAmount,
		BrokerCount:     report.BrokerCount,
		BranchCount:     report.BranchCount,
		TopBuyerBroker:  report.TopBuyerBroker,
		TopSellerBroker: report.TopSellerBroker,
		UnusualCount:    len(report.Anomalies),
	}
	if err := s.store.UpsertDailySummary(ctx, summary); err != nil {
		s.logger.Error("Failed to store daily summary",
			logger.Field("stock_code", stockCode), logger.Field("date", dateStr),
			logger.ErrorField(err))
	}

	if len(report.Anomalies) > 0 {
		if _, err := s.store.InsertUnusualTrades(ctx, report.Anomalies); err != nil {
			s.logger.Error("Failed to store unusual trades",
				logger.Field("stock_code", stockCode), logger.Field("date", dateStr),
				logger.ErrorField(err))
		}
	}
}

// RunWeeklyAnalysis logs the trailing week's broker ranking. Report
// rendering is delegated to downstream collaborators.
func (s *Scheduler) RunWeeklyAnalysis(ctx context.Context) Result {
	started := s.now()
	result := Result{Job: JobWeeklyAnalysis}

	rankings, err := s.store.TopBrokers(ctx, "", 7, 10)
	if err != nil {
		result.ErrorCount++
		s.logger.Error("Weekly analysis failed", logger.ErrorField(err))
		return result
	}

	result.SuccessCount++
	result.Duration = s.now().Sub(started)
	s.logger.Info("Weekly analysis finished", logger.Field("brokers", len(rankings)))
	for _, r := range rankings {
		s.logger.Info("Weekly top broker",
			logger.Field("broker_code", r.BrokerCode),
			logger.Field("broker_name", analyzer.BrokerName(r.BrokerCode)),
			logger.Field("net_amount", r.TotalNetAmount),
			logger.Field("trading_days", r.TradingDays))
	}

	s.notify(JobWeeklyAnalysis, result)
	return result
}

// RunCleanup deletes rows older than the retention horizon across all
// tables.
func (s *Scheduler) RunCleanup(ctx context.Context) Result {
	started := s.now()
	result := Result{Job: JobMonthlyCleanup}

	deleted, err := s.store.Cleanup(ctx, s.cfg.RetainDays)
	result.Deleted = deleted
	if err != nil {
		result.ErrorCount++
		s.logger.Error("Cleanup failed", logger.ErrorField(err))
		return result
	}

	result.SuccessCount++
	result.Duration = s.now().Sub(started)
	s.logger.Info("Cleanup job finished",
		logger.Field("retain_days", s.cfg.RetainDays), logger.Field("deleted", deleted))
	return result
}

// RunManualCollection runs the daily collection job outside the schedule
// with identical semantics, so a manual run is safely repeatable.
func (s *Scheduler) RunManualCollection(ctx context.Context) Result {
	s.logger.Info("Manual collection requested")
	return s.RunDailyCollection(ctx)
}

// AddStock appends a stock code to the watch list. Adding a code already
// present is a no-op.
func (s *Scheduler) AddStock(stockCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, code := range s.watchList {
		if code == stockCode {
			s.logger.Warn("Stock already in watch list", logger.Field("stock_code", stockCode))
			return
		}
	}
	s.watchList = append(s.watchList, stockCode)
	s.logger.Info("Stock added to watch list", logger.Field("stock_code", stockCode))
}

// RemoveStock removes a stock code from the watch list. Removing an absent
// code warns and leaves the list unchanged.
func (s *Scheduler) RemoveStock(stockCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, code := range s.watchList {
		if code == stockCode {
			s.watchList = append(s.watchList[:i], s.watchList[i+1:]...)
			s.logger.Info("Stock removed from watch list", logger.Field("stock_code", stockCode))
			return
		}
	}
	s.logger.Warn("Stock not in watch list", logger.Field("stock_code", stockCode))
}

// WatchList returns a copy of the monitored stock codes in order.
func (s *Scheduler) WatchList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.watchList...)
}

func (s *Scheduler) notify(jobName string, result Result) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendJobSummary(jobName, result.SuccessCount, result.ErrorCount, result.Duration); err != nil {
		s.logger.Warn("Failed to send job summary", logger.Field("job", jobName), logger.ErrorField(err))
	}
}
