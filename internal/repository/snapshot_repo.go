package repository

import (
	"context"
	"fmt"

	"docsync/internal/models"

	"gorm.io/gorm"
)

/*
LEARNING: SNAPSHOT STORAGE

Query patterns:
- Latest: document load (newest snapshot wins)
- Save: debounced flush persists a fresh row
- Prune: bound history growth per document
*/

// SnapshotRepositoryImpl handles document snapshot storage
type SnapshotRepositoryImpl struct {
	db *gorm.DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *gorm.DB) *SnapshotRepositoryImpl {
	return &SnapshotRepositoryImpl{db: db}
}

// Save persists one flushed document state
func (r *SnapshotRepositoryImpl) Save(ctx context.Context, documentName string, state, stateVector []byte) error {
	snapshot := &models.Snapshot{
		DocumentName: documentName,
		State:        state,
		StateVector:  stateVector,
	}

	if err := r.db.WithContext(ctx).Create(snapshot).Error; err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	return nil
}

// Latest gets the most recent snapshot for a document
// Returns nil (no error) when the document has never been flushed
func (r *SnapshotRepositoryImpl) Latest(ctx context.Context, documentName string) (*models.Snapshot, error) {
	var snapshot models.Snapshot

	err := r.db.WithContext(ctx).
		Where("document_name = ?", documentName).
		Order("created_at DESC").
		First(&snapshot).Error

	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil // Never persisted yet
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	return &snapshot, nil
}

// Prune removes snapshots beyond keepCount for a document
// Call periodically to prevent unbounded growth
func (r *SnapshotRepositoryImpl) Prune(ctx context.Context, documentName string, keepCount int) error {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Snapshot{}).
		Where("document_name = ?", documentName).
		Count(&count).Error; err != nil {
		return err
	}

	if count <= int64(keepCount) {
		return nil // Nothing to delete
	}

	// Find the cutoff snapshot
	var cutoff models.Snapshot
	offset := count - int64(keepCount)
	if err := r.db.WithContext(ctx).
		Where("document_name = ?", documentName).
		Order("created_at ASC").
		Offset(int(offset)).
		First(&cutoff).Error; err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Where("document_name = ? AND created_at < ?", documentName, cutoff.CreatedAt).
		Delete(&models.Snapshot{})

	if result.Error != nil {
		return fmt.Errorf("failed to prune snapshots: %w", result.Error)
	}

	return nil
}
