package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/karthikraju391/teamchat-gateway/models"
)

// DefaultHistoryLimit is the History page size when the caller passes
// limit <= 0, and the most records one call returns.
const DefaultHistoryLimit = 200

// OpenSQLite opens (creating if needed) the sqlite database at path and
// migrates the gateway's tables.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %q: %w", path, err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite %q: %w", path, err)
	}
	return db, nil
}

// GormStore keeps messages in a SQL database.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) Append(ctx context.Context, rec *models.Message) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return "", fmt.Errorf("%w: failed to create message: %w", ErrPersist, err)
	}
	return rec.ID, nil
}

func (s *GormStore) History(ctx context.Context, channelID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	// Newest page first, then flipped so callers get chronological order.
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
