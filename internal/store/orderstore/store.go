// Package orderstore persists dispatch results and closed positions
// using Gorm + SQLite. It backs the HTTP query surface and feeds the
// last-outcome input the martingale sizing method reads.
package orderstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"signalflow/internal/dispatch"
	"signalflow/internal/logger"
	"signalflow/internal/types"
)

// OrderRecord is one terminal dispatch result. The attempt history is
// kept verbatim as JSON for operator inspection.
type OrderRecord struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	SignalID      string         `gorm:"column:signal_id;uniqueIndex:idx_signal_account,priority:1"`
	AccountID     string         `gorm:"column:account_id;uniqueIndex:idx_signal_account,priority:2;index"`
	Symbol        string         `gorm:"column:symbol"`
	Side          string         `gorm:"column:side"`
	Quantity      int64          `gorm:"column:quantity"`
	Price         float64        `gorm:"column:price"`
	BrokerOrderID string         `gorm:"column:broker_order_id"`
	State         string         `gorm:"column:state"`
	FilledQty     int64          `gorm:"column:filled_qty"`
	AvgPrice      float64        `gorm:"column:avg_price"`
	Error         string         `gorm:"column:error"`
	Attempts      datatypes.JSON `gorm:"column:attempts;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (OrderRecord) TableName() string { return "orders" }

// ClosedPositionRecord is one realized round trip.
type ClosedPositionRecord struct {
	ID           int64   `gorm:"column:id;primaryKey"`
	AccountID    string  `gorm:"column:account_id;index"`
	Symbol       string  `gorm:"column:symbol"`
	Quantity     int64   `gorm:"column:quantity"`
	EntryAvg     float64 `gorm:"column:entry_avg"`
	ExitAvg      float64 `gorm:"column:exit_avg"`
	RealizedPnL  float64 `gorm:"column:realized_pnl"`
	ClosedAtUnix int64   `gorm:"column:closed_at;index"`
}

func (ClosedPositionRecord) TableName() string { return "closed_positions" }

// Store wraps the Gorm handle.
type Store struct {
	db *gorm.DB
}

// New opens (or creates) the order database at path.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("order store: path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&OrderRecord{}, &ClosedPositionRecord{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordDispatch upserts the terminal result for a (signal, account)
// pair. It implements dispatch.Journal; persistence failures are logged,
// never propagated into the dispatch path.
func (s *Store) RecordDispatch(res dispatch.Result) {
	attempts, err := json.Marshal(res.Attempts)
	if err != nil {
		logger.Errorf("order store: encoding attempts for %s/%s: %v", res.SignalID, res.AccountID, err)
		attempts = []byte("[]")
	}
	now := time.Now().Unix()
	rec := OrderRecord{
		SignalID:      res.SignalID,
		AccountID:     res.AccountID,
		Symbol:        res.Symbol,
		Side:          string(res.Side),
		Quantity:      res.Quantity,
		Price:         res.Price,
		BrokerOrderID: res.Ack.OrderID,
		State:         string(res.State),
		FilledQty:     res.Ack.FilledQty,
		AvgPrice:      res.Ack.AvgPrice,
		Attempts:      datatypes.JSON(attempts),
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "signal_id"}, {Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"broker_order_id", "state", "filled_qty", "avg_price", "error", "attempts", "updated_at",
		}),
	}).Create(&rec).Error
	if err != nil {
		logger.Errorf("order store: recording dispatch %s/%s: %v", res.SignalID, res.AccountID, err)
	}
}

// Orders lists an account's records, newest first. An empty accountID
// lists everything.
func (s *Store) Orders(accountID string, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.Order("updated_at DESC, id DESC").Limit(limit)
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	var out []OrderRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Order fetches one record by its dispatch key.
func (s *Store) Order(signalID, accountID string) (OrderRecord, error) {
	var rec OrderRecord
	err := s.db.Where("signal_id = ? AND account_id = ?", signalID, accountID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return OrderRecord{}, fmt.Errorf("order store: no record for %s/%s", signalID, accountID)
	}
	return rec, err
}

// SaveClosedPosition records a realized round trip.
func (s *Store) SaveClosedPosition(rec ClosedPositionRecord) error {
	if rec.ClosedAtUnix == 0 {
		rec.ClosedAtUnix = time.Now().Unix()
	}
	return s.db.Create(&rec).Error
}

// ClosedPositions lists an account's realized round trips, oldest first
// so cumulative PnL can be charted directly.
func (s *Store) ClosedPositions(accountID string) ([]ClosedPositionRecord, error) {
	q := s.db.Order("closed_at ASC, id ASC")
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	var out []ClosedPositionRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// LastOutcome reports how the account's most recent closed position
// ended. Accounts with no history get OutcomeUnknown, which sizing
// treats as a win (no martingale escalation).
func (s *Store) LastOutcome(accountID string) types.TradeOutcome {
	var rec ClosedPositionRecord
	err := s.db.Where("account_id = ?", accountID).
		Order("closed_at DESC, id DESC").First(&rec).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warnf("order store: last outcome for %s: %v", accountID, err)
		}
		return types.OutcomeUnknown
	}
	if rec.RealizedPnL < 0 {
		return types.OutcomeLoss
	}
	return types.OutcomeWin
}
