package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Sync statuses
const (
	SyncSuccess = "success"
	SyncFailed  = "failed"
)

// LogSync records a sync run
func (s *Store) LogSync(ctx context.Context, operation, status, details string) error {
	return s.db.WithContext(ctx).Create(&SyncLog{
		Operation: operation,
		Status:    status,
		Details:   details,
	}).Error
}

// LastSync returns the latest successful run of operation, nil if none
func (s *Store) LastSync(ctx context.Context, operation string) (*SyncLog, error) {
	var entry SyncLog
	err := s.db.WithContext(ctx).
		Where("operation = ? AND status = ?", operation, SyncSuccess).
		Order("created_at DESC, id DESC").First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// RecentSyncs returns the latest sync runs across operations
func (s *Store) RecentSyncs(ctx context.Context, limit int) ([]SyncLog, error) {
	var entries []SyncLog
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
