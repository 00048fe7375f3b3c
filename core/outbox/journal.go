package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Attempt is one executor delivery attempt recorded outside ledger state so
// operators can audit retries and fallbacks.
type Attempt struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"size:36;index"`
	Sequence  uint64 `gorm:"index"`
	Origin    string `gorm:"size:64"`
	Outcome   string `gorm:"size:16"`
	Error     string
	CreatedAt time.Time
}

// TableName pins the table name.
func (Attempt) TableName() string { return "outbox_attempts" }

// Journal persists delivery attempts in SQLite.
type Journal struct {
	db *gorm.DB
}

// OpenJournal opens (or creates) the journal at path. Use ":memory:" for an
// ephemeral journal.
func OpenJournal(path string) (*Journal, error) {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		return nil, fmt.Errorf("outbox: journal path required")
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("outbox: open journal: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("outbox: journal handle: %w", err)
	}
	// sqlite allows a single writer; in-memory databases are per connection.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Attempt{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("outbox: migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record stores one attempt.
func (j *Journal) Record(ctx context.Context, attempt Attempt) error {
	if j == nil || j.db == nil {
		return nil
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	return j.db.WithContext(ctx).Create(&attempt).Error
}

// Attempts lists the attempts recorded for a group sequence in insertion order.
func (j *Journal) Attempts(ctx context.Context, sequence uint64) ([]Attempt, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("outbox: journal not configured")
	}
	var out []Attempt
	err := j.db.WithContext(ctx).Where("sequence = ?", sequence).Order("id ASC").Find(&out).Error
	return out, err
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
