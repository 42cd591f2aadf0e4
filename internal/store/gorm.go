package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type kvRecord struct {
	Key       string `gorm:"column:storage_key;primaryKey;size:191"`
	Value     string `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time
}

func (kvRecord) TableName() string {
	return "kv_records"
}

// GormBackend stores key-value records in a SQL table.
type GormBackend struct {
	db *gorm.DB
}

var _ Backend = (*GormBackend)(nil)

// NewGormBackend opens the database for driver ("postgres" or "sqlite") and
// migrates the records table.
func NewGormBackend(driver, dsn string) (*GormBackend, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&kvRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate records table: %w", err)
	}

	return &GormBackend{db: db}, nil
}

// Load returns the value stored under key.
func (b *GormBackend) Load(key string) ([]byte, error) {
	var rec kvRecord
	err := b.db.Where("storage_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s: %w", key, err)
	}
	return []byte(rec.Value), nil
}

// Save upserts the value under key.
func (b *GormBackend) Save(key string, value []byte) error {
	rec := kvRecord{Key: key, Value: string(value), UpdatedAt: time.Now().UTC()}
	err := b.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storage_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (b *GormBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
