package entity

import (
	"time"

	"gorm.io/gorm"
)

// BrokerTrading is one broker branch's activity for one stock on one date.
// The (date, stock_code, broker_code, branch_name) quadruple is the natural
// key; re-ingesting the same key replaces the row in full.
type BrokerTrading struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Date       string    `gorm:"not null;index:idx_broker_date_stock;uniqueIndex:uniq_broker_trading" json:"date"`
	StockCode  string    `gorm:"not null;index:idx_broker_date_stock;uniqueIndex:uniq_broker_trading" json:"stock_code"`
	BrokerCode string    `gorm:"not null;uniqueIndex:uniq_broker_trading" json:"broker_code"`
	BranchName string    `gorm:"not null;uniqueIndex:uniq_broker_trading" json:"branch_name"`
	BuyVolume  int64     `gorm:"not null;default:0" json:"buy_volume"`
	SellVolume int64     `gorm:"not null;default:0" json:"sell_volume"`
	BuyAmount  int64     `gorm:"not null;default:0" json:"buy_amount"`
	SellAmount int64     `gorm:"not null;default:0" json:"sell_amount"`
	NetVolume  int64     `gorm:"not null;default:0" json:"net_volume"`
	NetAmount  int64     `gorm:"not null;default:0" json:"net_amount"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (BrokerTrading) TableName() string {
	return "broker_trading"
}

// ComputeNet recomputes the derived net columns from the raw buy/sell values.
func (b *BrokerTrading) ComputeNet() {
	b.NetVolume = b.BuyVolume - b.SellVolume
	b.NetAmount = b.BuyAmount - b.SellAmount
}

// BeforeSave keeps the derived columns consistent on every write path.
func (b *BrokerTrading) BeforeSave(tx *gorm.DB) error {
	b.ComputeNet()
	return nil
}
