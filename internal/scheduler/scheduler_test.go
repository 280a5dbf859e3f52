package scheduler

import (
	"context"
	"testing"
	"time"

	"golang-chip-analysis/internal/analyzer"
	"golang-chip-analysis/internal/collector"
	"golang-chip-analysis/internal/entity"
	"golang-chip-analysis/internal/store"
	"golang-chip-analysis/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	testMonday   = time.Date(2025, 6, 16, 9, 30, 0, 0, time.UTC)
	testSaturday = time.Date(2025, 6, 14, 9, 30, 0, 0, time.UTC)
)

type fakeCollector struct {
	calls   []string
	records map[string][]entity.BrokerTrading
	errs    map[string]error
}

func (f *fakeCollector) Fetch(ctx context.Context, stockCode string, date time.Time) ([]entity.BrokerTrading, error) {
	f.calls = append(f.calls, stockCode)
	if err, ok := f.errs[stockCode]; ok {
		return nil, err
	}
	return f.records[stockCode], nil
}

type fakeStore struct {
	trades    []entity.BrokerTrading
	summaries []entity.DailySummary
	unusual   []entity.UnusualTrading
	upsertErr error
	deleted   int64
}

func (f *fakeStore) UpsertTrades(ctx context.Context, records []entity.BrokerTrading) (int64, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.trades = append(f.trades, records...)
	return int64(len(records)), nil
}

func (f *fakeStore) QueryTrades(ctx context.Context, filter store.Filter) ([]entity.BrokerTrading, error) {
	return f.trades, nil
}

func (f *fakeStore) TopBrokers(ctx context.Context, stockCode string, days, limit int) ([]store.BrokerRanking, error) {
	return []store.BrokerRanking{{BrokerCode: "9800", TotalNetAmount: 100}}, nil
}

func (f *fakeStore) UpsertDailySummary(ctx context.Context, summary *entity.DailySummary) error {
	f.summaries = append(f.summaries, *summary)
	return nil
}

func (f *fakeStore) InsertUnusualTrades(ctx context.Context, records []entity.UnusualTrading) (int64, error) {
	f.unusual = append(f.unusual, records...)
	return int64(len(records)), nil
}

func (f *fakeStore) QueryUnusualTrades(ctx context.Context, stockCode, startDate, endDate string) ([]entity.UnusualTrading, error) {
	return f.unusual, nil
}

func (f *fakeStore) Cleanup(ctx context.Context, retainDays int) (int64, error) {
	return f.deleted, nil
}

func newTestScheduler(t *testing.T, fc *fakeCollector, fs *fakeStore, watchList []string, now time.Time) *Scheduler {
	t.Helper()

	log := &logger.Logger{Logger: zap.NewNop()}
	an := analyzer.New(analyzer.Config{}, log)

	s, err := New(fc, fs, an, nil, log, Config{
		CollectionCrons: []string{"30 9 * * 1-5"},
		RetainDays:      365,
		WatchList:       watchList,
	})
	require.NoError(t, err)
	s.now = func() time.Time { return now }
	return s
}

func tradesFor(stockCode string, netVolumes ...int64) []entity.BrokerTrading {
	records := make([]entity.BrokerTrading, 0, len(netVolumes))
	for i, nv := range netVolumes {
		rec := entity.BrokerTrading{
			Date:       "2025-06-16",
			StockCode:  stockCode,
			BrokerCode: "9800",
			BranchName: string(rune('A' + i)),
			BuyVolume:  nv + 1000,
			SellVolume: 1000,
		}
		rec.ComputeNet()
		records = append(records, rec)
	}
	return records
}

func TestDailyCollectionWeekendGate(t *testing.T) {
	fc := &fakeCollector{}
	fs := &fakeStore{}
	s := newTestScheduler(t, fc, fs, []string{"2330", "2454"}, testSaturday)

	result := s.RunDailyCollection(context.Background())

	assert.True(t, result.Skipped)
	assert.Zero(t, result.SuccessCount)
	assert.Zero(t, result.ErrorCount)
	assert.Empty(t, fc.calls, "no network requests on a weekend")
	assert.Empty(t, fs.trades, "store unchanged on a weekend")
}

func TestDailyCollectionFailureIsolation(t *testing.T) {
	fc := &fakeCollector{
		records: map[string][]entity.BrokerTrading{
			"2330": tradesFor("2330", 100, 200),
			"2412": tradesFor("2412", 300),
		},
		errs: map[string]error{
			"2454": &collector.NetworkError{StockCode: "2454", Date: "2025-06-16", StatusCode: 502},
		},
	}
	fs := &fakeStore{}
	s := newTestScheduler(t, fc, fs, []string{"2330", "2454", "2412"}, testMonday)

	result := s.RunDailyCollection(context.Background())

	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.ErrorCount)
	assert.Equal(t, result.SuccessCount+result.ErrorCount, 3)
	assert.Equal(t, []string{"2330", "2454", "2412"}, fc.calls, "one stock's failure never aborts the batch")
	assert.Len(t, fs.trades, 3, "data from the healthy stocks is persisted")
	assert.Len(t, fs.summaries, 2)
}

func TestDailyCollectionEmptyResultIsSuccess(t *testing.T) {
	fc := &fakeCollector{records: map[string][]entity.BrokerTrading{}}
	fs := &fakeStore{}
	s := newTestScheduler(t, fc, fs, []string{"2330"}, testMonday)

	result := s.RunDailyCollection(context.Background())

	assert.Equal(t, 1, result.SuccessCount)
	assert.Zero(t, result.ErrorCount)
	assert.Empty(t, fs.trades)
	assert.Empty(t, fs.summaries, "no summary for a day with no data")
}

func TestDailyCollectionStorageFailureCounts(t *testing.T) {
	fc := &fakeCollector{
		records: map[string][]entity.BrokerTrading{"2330": tradesFor("2330", 100)},
	}
	fs := &fakeStore{upsertErr: &store.StorageError{Op: "upsert trades"}}
	s := newTestScheduler(t, fc, fs, []string{"2330"}, testMonday)

	result := s.RunDailyCollection(context.Background())

	assert.Zero(t, result.SuccessCount)
	assert.Equal(t, 1, result.ErrorCount)
}

func TestManualCollectionMatchesScheduled(t *testing.T) {
	fc := &fakeCollector{
		records: map[string][]entity.BrokerTrading{"2330": tradesFor("2330", 100)},
	}
	fs := &fakeStore{}
	s := newTestScheduler(t, fc, fs, []string{"2330"}, testMonday)

	manual := s.RunManualCollection(context.Background())
	assert.Equal(t, 1, manual.SuccessCount)
	assert.Len(t, fs.trades, 1)

	// Running again is safely repeatable.
	again := s.RunManualCollection(context.Background())
	assert.Equal(t, 1, again.SuccessCount)
	assert.Zero(t, again.ErrorCount)
}

func TestWatchListMutation(t *testing.T) {
	fc := &fakeCollector{}
	fs := &fakeStore{}
	s := newTestScheduler(t, fc, fs, []string{"2330", "2454"}, testMonday)

	// Adding a present code is a no-op in membership and order.
	s.AddStock("2330")
	assert.Equal(t, []string{"2330", "2454"}, s.WatchList())

	s.AddStock("2412")
	assert.Equal(t, []string{"2330", "2454", "2412"}, s.WatchList())

	// Removing an absent code warns and leaves the list unchanged.
	s.RemoveStock("9999")
	assert.Equal(t, []string{"2330", "2454", "2412"}, s.WatchList())

	s.RemoveStock("2454")
	assert.Equal(t, []string{"2330", "2412"}, s.WatchList())
}

func TestCleanupJob(t *testing.T) {
	fc := &fakeCollector{}
	fs := &fakeStore{deleted: 42}
	s := newTestScheduler(t, fc, fs, nil, testMonday)

	result := s.RunCleanup(context.Background())
	assert.Equal(t, int64(42), result.Deleted)
	assert.Equal(t, 1, result.SuccessCount)
}

func TestWeeklyAnalysisJob(t *testing.T) {
	fc := &fakeCollector{}
	fs := &fakeStore{}
	s := newTestScheduler(t, fc, fs, nil, testMonday)

	result := s.RunWeeklyAnalysis(context.Background())
	assert.Equal(t, 1, result.SuccessCount)
	assert.Zero(t, result.ErrorCount)
}

func TestRunDueJobs(t *testing.T) {
	fc := &fakeCollector{records: map[string][]entity.BrokerTrading{}}
	fs := &fakeStore{}
	s := newTestScheduler(t, fc, fs, []string{"2330"}, testMonday)

	// Next run computed from a time before the trigger, then the clock
	// crosses it.
	beforeTrigger := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	for _, j := range s.jobs {
		j.next = j.schedule.Next(beforeTrigger)
	}

	s.runDueJobs(context.Background())
	assert.Equal(t, []string{"2330"}, fc.calls)

	// The same trigger does not fire twice within one schedule window.
	s.runDueJobs(context.Background())
	assert.Equal(t, []string{"2330"}, fc.calls)
}
