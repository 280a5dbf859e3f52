package entity

import "time"

// DailySummary is the per-(date, stock) aggregate recomputed after each
// collection run.
type DailySummary struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Date            string    `gorm:"not null;index:idx_daily_date_stock;uniqueIndex:uniq_daily_summary" json:"date"`
	StockCode       string    `gorm:"not null;index:idx_daily_date_stock;uniqueIndex:uniq_daily_summary" json:"stock_code"`
	TotalVolume     int64     `gorm:"not null;default:0" json:"total_volume"`
	TotalAmount     int64     `gorm:"not null;default:0" json:"total_amount"`
	BrokerCount     int       `gorm:"not null;default:0" json:"broker_count"`
	BranchCount     int       `gorm:"not null;default:0" json:"branch_count"`
	TopBuyerBroker  string    `json:"top_buyer_broker"`
	TopSellerBroker string    `json:"top_seller_broker"`
	UnusualCount    int       `gorm:"column:unusual_activity_count;not null;default:0" json:"unusual_activity_count"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (DailySummary) TableName() string {
	return "daily_summary"
}
