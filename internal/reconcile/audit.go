package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SyncRunModel is one audited reconciliation pass. Append-only: rows are never
// updated or deleted by the engine.
type SyncRunModel struct {
	ID           uint      `gorm:"primaryKey"`
	RunID        string    `gorm:"size:36;uniqueIndex"`
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   time.Time
	Checked      int
	Attempted    int
	Succeeded    int
	Failed       int
	Synchronized bool
	ActionsJSON  string `gorm:"type:text"`
}

func (SyncRunModel) TableName() string { return "sync_runs" }

// AuditLog persists reconciliation results to a local sqlite file.
type AuditLog struct {
	db *gorm.DB
}

func NewAuditLog(path string) (*AuditLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit db path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SyncRunModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &AuditLog{db: db}, nil
}

func (a *AuditLog) Append(ctx context.Context, result *SyncResult) error {
	if result == nil {
		return nil
	}
	actions, err := json.Marshal(result.Actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}
	row := SyncRunModel{
		RunID:        result.RunID,
		StartedAt:    result.StartedAt,
		FinishedAt:   result.FinishedAt,
		Checked:      result.Checked,
		Attempted:    result.Attempted,
		Succeeded:    result.Succeeded,
		Failed:       result.Failed,
		Synchronized: result.Synchronized,
		ActionsJSON:  string(actions),
	}
	return a.db.WithContext(ctx).Create(&row).Error
}

// RecentRuns returns the latest n audited passes, newest first.
func (a *AuditLog) RecentRuns(ctx context.Context, n int) ([]SyncRunModel, error) {
	if n <= 0 {
		n = 10
	}
	var rows []SyncRunModel
	err := a.db.WithContext(ctx).Order("started_at DESC").Limit(n).Find(&rows).Error
	return rows, err
}

func (a *AuditLog) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
