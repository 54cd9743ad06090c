package model

import "gorm.io/datatypes"

// DecisionLogModel maps to 'decision_logs' table.
type DecisionLogModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	TraderID      string         `gorm:"column:trader_id;index:idx_decisions_trader_ts,priority:1"`
	CycleID       string         `gorm:"column:cycle_id;index"`
	Symbol        string         `gorm:"column:symbol"`
	Action        string         `gorm:"column:action"`
	Confidence    float64        `gorm:"column:confidence"`
	Reasoning     string         `gorm:"column:reasoning"`
	RiskLevel     string         `gorm:"column:risk_level"`
	Note          string         `gorm:"column:note"`
	Result        string         `gorm:"column:result"`
	Epoch         uint64         `gorm:"column:epoch"`
	Snapshot      datatypes.JSON `gorm:"column:snapshot;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at;index:idx_decisions_trader_ts,priority:2"`
}

func (DecisionLogModel) TableName() string { return "decision_logs" }
