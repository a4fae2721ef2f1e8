// Package history keeps a record of every assembled chunked upload
package history

import (
	"context"
	"fmt"

	"github.com/lgulliver/strongbox/internal/common"
	"github.com/lgulliver/strongbox/pkg/types"
	"github.com/rs/zerolog/log"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Service stores and lists transfer records
type Service struct {
	db *common.Database
}

// NewService creates a new history service
func NewService(db *common.Database) *Service {
	return &Service{db: db}
}

// Record saves a transfer record. Recording the same upload twice keeps the
// first record.
func (s *Service) Record(ctx context.Context, record *types.TransferRecord) error {
	var existing int64
	if err := s.db.WithContext(ctx).Model(&types.TransferRecord{}).
		Where("upload_id = ?", record.UploadID).
		Count(&existing).Error; err != nil {
		return fmt.Errorf("failed to check transfer record: %w", err)
	}
	if existing > 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to save transfer record: %w", err)
	}

	log.Debug().
		Str("upload_id", record.UploadID).
		Str("path", record.StoredPath).
		Int64("size", record.Size).
		Msg("transfer recorded")
	return nil
}

// Recent returns the most recently completed transfers, newest first
func (s *Service) Recent(ctx context.Context, limit int) ([]types.TransferRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var records []types.TransferRecord
	if err := s.db.WithContext(ctx).
		Order("completed_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list transfer records: %w", err)
	}
	return records, nil
}

// ByUploadID returns the record of one upload
func (s *Service) ByUploadID(ctx context.Context, uploadID string) (*types.TransferRecord, error) {
	var record types.TransferRecord
	if err := s.db.WithContext(ctx).Where("upload_id = ?", uploadID).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}
