package model

type TradeModel struct {
	ID            string  `gorm:"column:id;primaryKey"`
	TraderID      string  `gorm:"column:trader_id;index:idx_trades_trader_closed,priority:1"`
	CycleID       string  `gorm:"column:cycle_id;index"`
	Venue         string  `gorm:"column:venue"`
	Symbol        string  `gorm:"column:symbol"`
	Kind          string  `gorm:"column:kind"`
	Side          string  `gorm:"column:side"`
	ClientOrderID string  `gorm:"column:client_order_id"`
	OrderID       string  `gorm:"column:order_id"`
	Size          float64 `gorm:"column:size"`
	FilledSize    float64 `gorm:"column:filled_size"`
	FillPrice     float64 `gorm:"column:fill_price"`
	EntryPrice    float64 `gorm:"column:entry_price"`
	Leverage      int     `gorm:"column:leverage"`
	Status        string  `gorm:"column:status"`
	Closed        bool    `gorm:"column:closed;index:idx_trades_trader_closed,priority:2"`
	ReturnRatio   float64 `gorm:"column:return_ratio"`
	Error         string  `gorm:"column:error"`
	CreatedAtUnix int64   `gorm:"column:created_at;index"`
}

func (TradeModel) TableName() string { return "trade_records" }
