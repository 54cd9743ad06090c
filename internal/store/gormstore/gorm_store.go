package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aitrader/internal/store"
	storemodel "aitrader/internal/store/model"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// 注册纯 Go 的 "sqlite" 驱动；gorm.io/driver/sqlite 自带 cgo 的 "sqlite3"。
	_ "modernc.org/sqlite"
)

type tradeModel = storemodel.TradeModel
type decisionLogModel = storemodel.DecisionLogModel

const (
	DriverModernc = "sqlite"
	DriverCGO     = "sqlite3"
)

// GormStore implements store.Sink using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var _ store.Sink = (*GormStore)(nil)

// NewGormStore 打开（必要时创建）SQLite 文件并迁移表结构。
// driver 为空时使用 modernc 纯 Go 驱动。
func NewGormStore(driver, path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	driver = strings.TrimSpace(driver)
	if driver == "" {
		driver = DriverModernc
	}
	var dsn string
	switch driver {
	case DriverModernc:
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	case DriverCGO:
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	default:
		return nil, fmt.Errorf("gorm store: unsupported driver %q", driver)
	}
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: driver, DSN: dsn}), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&tradeModel{}, &decisionLogModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：少量并发读即可，写入串行。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) AppendTrade(ctx context.Context, rec *store.TradeRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if rec == nil {
		return fmt.Errorf("trade record 不能为空")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Status == "" {
		rec.Status = store.TradePending
	}
	m := tradeModel{
		ID:            rec.ID,
		TraderID:      rec.TraderID,
		CycleID:       rec.CycleID,
		Venue:         rec.Venue,
		Symbol:        rec.Symbol,
		Kind:          rec.Kind,
		Side:          rec.Side,
		ClientOrderID: rec.ClientOrderID,
		OrderID:       rec.OrderID,
		Size:          rec.Size,
		FilledSize:    rec.FilledSize,
		FillPrice:     rec.FillPrice,
		EntryPrice:    rec.EntryPrice,
		Leverage:      rec.Leverage,
		Status:        string(rec.Status),
		Closed:        rec.Closed,
		ReturnRatio:   rec.ReturnRatio,
		Error:         rec.Error,
		CreatedAtUnix: rec.CreatedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) AppendDecision(ctx context.Context, rec *store.DecisionLog) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if rec == nil {
		return fmt.Errorf("decision log 不能为空")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Symbol == "" {
		rec.Symbol = store.CycleSymbol
	}
	m := decisionLogModel{
		ID:            rec.ID,
		TraderID:      rec.TraderID,
		CycleID:       rec.CycleID,
		Symbol:        rec.Symbol,
		Action:        rec.Action,
		Confidence:    rec.Confidence,
		Reasoning:     rec.Reasoning,
		RiskLevel:     rec.RiskLevel,
		Note:          rec.Note,
		Result:        string(rec.Result),
		Epoch:         rec.Epoch,
		CreatedAtUnix: rec.CreatedAt.UnixMilli(),
	}
	if len(rec.Snapshot) > 0 {
		m.Snapshot = datatypes.JSON(rec.Snapshot)
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) RecentClosedTrades(ctx context.Context, traderID string, n int) ([]store.TradeRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if n <= 0 {
		n = 20
	}
	var models []tradeModel
	err := s.db.WithContext(ctx).
		Where("trader_id = ? AND closed = ? AND status = ?", traderID, true, string(store.TradeFilled)).
		Order("created_at DESC").
		Limit(n).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.TradeRecord, 0, len(models))
	for _, m := range models {
		out = append(out, tradeModelToRecord(m))
	}
	return out, nil
}

func (s *GormStore) RecentDecisions(ctx context.Context, traderID string, n int) ([]store.DecisionLog, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if n <= 0 || n > 500 {
		n = 100
	}
	var models []decisionLogModel
	err := s.db.WithContext(ctx).
		Where("trader_id = ?", traderID).
		Order("created_at DESC").
		Limit(n).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.DecisionLog, 0, len(models))
	for _, m := range models {
		out = append(out, decisionModelToRecord(m))
	}
	return out, nil
}

func (s *GormStore) LastDecision(ctx context.Context, traderID string) (store.DecisionLog, error) {
	if s == nil || s.db == nil {
		return store.DecisionLog{}, fmt.Errorf("gorm store 未初始化")
	}
	var m decisionLogModel
	err := s.db.WithContext(ctx).
		Where("trader_id = ?", traderID).
		Order("created_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.DecisionLog{}, store.ErrNotFound
	}
	if err != nil {
		return store.DecisionLog{}, err
	}
	return decisionModelToRecord(m), nil
}

func tradeModelToRecord(m tradeModel) store.TradeRecord {
	return store.TradeRecord{
		ID:            m.ID,
		TraderID:      m.TraderID,
		CycleID:       m.CycleID,
		Venue:         m.Venue,
		Symbol:        m.Symbol,
		Kind:          m.Kind,
		Side:          m.Side,
		ClientOrderID: m.ClientOrderID,
		OrderID:       m.OrderID,
		Size:          m.Size,
		FilledSize:    m.FilledSize,
		FillPrice:     m.FillPrice,
		EntryPrice:    m.EntryPrice,
		Leverage:      m.Leverage,
		Status:        store.TradeStatus(m.Status),
		Closed:        m.Closed,
		ReturnRatio:   m.ReturnRatio,
		Error:         m.Error,
		CreatedAt:     time.UnixMilli(m.CreatedAtUnix),
	}
}

func decisionModelToRecord(m decisionLogModel) store.DecisionLog {
	rec := store.DecisionLog{
		ID:         m.ID,
		TraderID:   m.TraderID,
		CycleID:    m.CycleID,
		Symbol:     m.Symbol,
		Action:     m.Action,
		Confidence: m.Confidence,
		Reasoning:  m.Reasoning,
		RiskLevel:  m.RiskLevel,
		Note:       m.Note,
		Result:     store.CycleResult(m.Result),
		Epoch:      m.Epoch,
		CreatedAt:  time.UnixMilli(m.CreatedAtUnix),
	}
	if len(m.Snapshot) > 0 {
		rec.Snapshot = append([]byte(nil), m.Snapshot...)
	}
	return rec
}
