package entity

import "time"

// Anomaly classification tags.
const (
	AnomalyTypeNetVolumeOutlier = "net-volume-outlier"
)

// UnusualTrading is one flagged anomalous broker-branch-day. Rows are
// append-only; each detection pass writes a fresh batch.
type UnusualTrading struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Date         string    `gorm:"not null;index:idx_unusual_date_stock" json:"date"`
	StockCode    string    `gorm:"not null;index:idx_unusual_date_stock" json:"stock_code"`
	BrokerCode   string    `gorm:"not null" json:"broker_code"`
	BranchName   string    `gorm:"not null" json:"branch_name"`
	NetVolume    int64     `gorm:"not null" json:"net_volume"`
	NetAmount    int64     `gorm:"not null" json:"net_amount"`
	AnomalyScore float64   `gorm:"not null" json:"anomaly_score"`
	AnomalyType  string    `gorm:"not null" json:"anomaly_type"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (UnusualTrading) TableName() string {
	return "unusual_trading"
}
