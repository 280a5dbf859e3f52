package store

import (
	"context"
	"fmt"
	"time"

	"golang-chip-analysis/internal/entity"
	"golang-chip-analysis/pkg/logger"
	"golang-chip-analysis/pkg/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StorageError is a failed write or query against the embedded store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Filter narrows a trade query. Exactly one of Date or the StartDate/EndDate
// pair is meaningful at a time; empty fields are ignored.
type Filter struct {
	StockCode string
	Date      string
	StartDate string
	EndDate   string
}

// BrokerRanking is one row of the trailing-window broker aggregate.
type BrokerRanking struct {
	BrokerCode      string `json:"broker_code"`
	TotalBuyVolume  int64  `json:"total_buy_volume"`
	TotalSellVolume int64  `json:"total_sell_volume"`
	TotalBuyAmount  int64  `json:"total_buy_amount"`
	TotalSellAmount int64  `json:"total_sell_amount"`
	TotalNetVolume  int64  `json:"total_net_volume"`
	TotalNetAmount  int64  `json:"total_net_amount"`
	BranchCount     int    `json:"branch_count"`
	TradingDays     int    `json:"trading_days"`
}

// Store is the durable home of trade records, daily summaries, and anomalies.
type Store interface {
	UpsertTrades(ctx context.Context, records []entity.BrokerTrading) (int64, error)
	QueryTrades(ctx context.Context, filter Filter) ([]entity.BrokerTrading, error)
	TopBrokers(ctx context.Context, stockCode string, days, limit int) ([]BrokerRanking, error)
	UpsertDailySummary(ctx context.Context, summary *entity.DailySummary) error
	InsertUnusualTrades(ctx context.Context, records []entity.UnusualTrading) (int64, error)
	QueryUnusualTrades(ctx context.Context, stockCode, startDate, endDate string) ([]entity.UnusualTrading, error)
	Cleanup(ctx context.Context, retainDays int) (int64, error)
}

type chipStore struct {
	db     *gorm.DB
	logger *logger.Logger
	now    func() time.Time
}

// New creates a store backed by the given gorm handle and migrates the
// schema.
func New(db *gorm.DB, log *logger.Logger) (Store, error) {
	if err := db.AutoMigrate(
		&entity.BrokerTrading{},
		&entity.DailySummary{},
		&entity.UnusualTrading{},
	); err != nil {
		return nil, &StorageError{Op: "migrate", Err: err}
	}
	return &chipStore{db: db, logger: log, now: utils.TimeNowTaipei}, nil
}

// UpsertTrades writes each record against its natural key, replacing any
// existing row in full. Derived net columns are recomputed at write time, so
// re-submitting an identical batch is idempotent in effect.
func (s *chipStore) UpsertTrades(ctx context.Context, records []entity.BrokerTrading) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	for i := range records {
		records[i].ID = 0
		records[i].ComputeNet()
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "date"}, {Name: "stock_code"}, {Name: "broker_code"}, {Name: "branch_name"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"buy_volume", "sell_volume", "buy_amount", "sell_amount", "net_volume", "net_amount",
		}),
	}).Create(&records)
	if res.Error != nil {
		return 0, &StorageError{Op: "upsert trades", Err: res.Error}
	}

	s.logger.Info("Upserted broker trades", logger.Field("count", len(records)))
	return int64(len(records)), nil
}

// QueryTrades returns matching rows ordered by date descending, then net
// volume descending.
func (s *chipStore) QueryTrades(ctx context.Context, filter Filter) ([]entity.BrokerTrading, error) {
	q := s.db.WithContext(ctx).Model(&entity.BrokerTrading{})

	if filter.StockCode != "" {
		q = q.Where("stock_code = ?", filter.StockCode)
	}
	switch {
	case filter.Date != "":
		q = q.Where("date = ?", filter.Date)
	case filter.StartDate != "" && filter.EndDate != "":
		q = q.Where("date BETWEEN ? AND ?", filter.StartDate, filter.EndDate)
	case filter.StartDate != "":
		q = q.Where("date >= ?", filter.StartDate)
	case filter.EndDate != "":
		q = q.Where("date <= ?", filter.EndDate)
	}

	var records []entity.BrokerTrading
	if err := q.Order("date DESC, net_volume DESC").Find(&records).Error; err != nil {
		return nil, &StorageError{Op: "query trades", Err: err}
	}
	return records, nil
}

// TopBrokers aggregates the trailing window of stored trades per broker and
// ranks by absolute total net amount. Ties break on ascending broker code so
// the order is deterministic.
func (s *chipStore) TopBrokers(ctx context.Context, stockCode string, days, limit int) ([]BrokerRanking, error) {
	endDate := s.now().Format(utils.DateLayout)
	startDate := s.now().AddDate(0, 0, -days).Format(utils.DateLayout)

	q := s.db.WithContext(ctx).Model(&entity.BrokerTrading{}).
		Select(`broker_code,
			SUM(buy_volume) AS total_buy_volume,
			SUM(sell_volume) AS total_sell_volume,
			SUM(buy_amount) AS total_buy_amount,
			SUM(sell_amount) AS total_sell_amount,
			SUM(net_volume) AS total_net_volume,
			SUM(net_amount) AS total_net_amount,
			COUNT(DISTINCT branch_name) AS branch_count,
			COUNT(DISTINCT date) AS trading_days`).
		Where("date BETWEEN ? AND ?", startDate, endDate)

	if stockCode != "" {
		q = q.Where("stock_code = ?", stockCode)
	}

	var rankings []BrokerRanking
	err := q.Group("broker_code").
		Order("ABS(SUM(net_amount)) DESC, broker_code ASC").
		Limit(limit).
		Scan(&rankings).Error
	if err != nil {
		return nil, &StorageError{Op: "top brokers", Err: err}
	}
	return rankings, nil
}

// UpsertDailySummary writes the aggregate for one (date, stock) pair,
// replacing any previous run's values.
func (s *chipStore) UpsertDailySummary(ctx context.Context, summary *entity.DailySummary) error {
	summary.ID = 0
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "stock_code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_volume", "total_amount", "broker_count", "branch_count",
			"top_buyer_broker", "top_seller_broker", "unusual_activity_count",
		}),
	}).Create(summary).Error
	if err != nil {
		return &StorageError{Op: "upsert daily summary", Err: err}
	}
	return nil
}

// InsertUnusualTrades appends a detection pass's flagged rows.
func (s *chipStore) InsertUnusualTrades(ctx context.Context, records []entity.UnusualTrading) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	for i := range records {
		records[i].ID = 0
	}
	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return 0, &StorageError{Op: "insert unusual trades", Err: err}
	}
	return int64(len(records)), nil
}

// QueryUnusualTrades returns flagged rows in the date range, newest and most
// anomalous first.
func (s *chipStore) QueryUnusualTrades(ctx context.Context, stockCode, startDate, endDate string) ([]entity.UnusualTrading, error) {
	q := s.db.WithContext(ctx).Model(&entity.UnusualTrading{})
	if stockCode != "" {
		q = q.Where("stock_code = ?", stockCode)
	}
	if startDate != "" && endDate != "" {
		q = q.Where("date BETWEEN ? AND ?", startDate, endDate)
	}

	var records []entity.UnusualTrading
	if err := q.Order("date DESC, anomaly_score DESC").Find(&records).Error; err != nil {
		return nil, &StorageError{Op: "query unusual trades", Err: err}
	}
	return records, nil
}

// Cleanup deletes rows strictly older than today minus retainDays across all
// three tables and returns the total number removed.
func (s *chipStore) Cleanup(ctx context.Context, retainDays int) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -retainDays).Format(utils.DateLayout)

	var total int64
	for _, model := range []interface{}{
		&entity.BrokerTrading{},
		&entity.DailySummary{},
		&entity.UnusualTrading{},
	} {
		res := s.db.WithContext(ctx).Where("date < ?", cutoff).Delete(model)
		if res.Error != nil {
			return total, &StorageError{Op: "cleanup", Err: res.Error}
		}
		total += res.RowsAffected
	}

	s.logger.Info("Cleanup finished",
		logger.Field("cutoff", cutoff), logger.Field("deleted", total))
	return total, nil
}
