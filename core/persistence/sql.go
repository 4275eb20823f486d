package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Record is one persisted key.
type Record struct {
	Key       string `gorm:"primaryKey;size:255"`
	Value     []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (Record) TableName() string {
	return "genstudio_state"
}

// SQLStore keeps values in a SQL table through gorm.
type SQLStore struct {
	db    *gorm.DB
	quota int
}

// NewSQLStore migrates the state table on an opened database.
func NewSQLStore(db *gorm.DB, quotaBytes int) (*SQLStore, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("cannot migrate state table: %w", err)
	}
	return &SQLStore{db: db, quota: quotaBytes}, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
}

func OpenSQLite(path string, quotaBytes int) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store needs a path")
	}
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("cannot open sqlite database %s: %w", path, err)
	}
	return NewSQLStore(db, quotaBytes)
}

func OpenPostgres(dsn string, quotaBytes int) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres store needs a connection string")
	}
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("cannot connect to postgres: %w", err)
	}
	return NewSQLStore(db, quotaBytes)
}

func (s *SQLStore) Save(ctx context.Context, key string, value []byte) error {
	if s.quota > 0 && len(value) > s.quota {
		return quotaError(key, len(value), s.quota)
	}
	rec := Record{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
}

func (s *SQLStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec.Value, true, nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&Record{}).Error
}

func (s *SQLStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&Record{}).Order("key").Pluck("key", &keys).Error
	return keys, err
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
