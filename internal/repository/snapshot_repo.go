package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/vidpace/internal/models"
)

// snapshotBatchSize bounds rows per INSERT.
const snapshotBatchSize = 100

// snapshotRepo implements SnapshotRepository using GORM.
type snapshotRepo struct {
	db *gorm.DB
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(db *gorm.DB) *snapshotRepo {
	return &snapshotRepo{db: db}
}

// CreateBatch inserts snapshots.
func (r *snapshotRepo) CreateBatch(ctx context.Context, snapshots []models.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	for i := range snapshots {
		if err := snapshots[i].Validate(); err != nil {
			return fmt.Errorf("snapshot %d: %w", i, err)
		}
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&snapshots, snapshotBatchSize).Error; err != nil {
		return fmt.Errorf("creating snapshots: %w", err)
	}
	return nil
}

// ListByRun returns snapshots for runID in time order. An empty stream
// returns every stream.
func (r *snapshotRepo) ListByRun(ctx context.Context, runID models.ULID, stream string) ([]models.Snapshot, error) {
	q := r.db.WithContext(ctx).Where("run_id = ?", runID)
	if stream != "" {
		q = q.Where("stream_name = ?", stream)
	}

	var snapshots []models.Snapshot
	if err := q.Order("taken_at ASC, stream_name ASC").Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return snapshots, nil
}

// CountByRun counts a run's snapshots.
func (r *snapshotRepo) CountByRun(ctx context.Context, runID models.ULID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Snapshot{}).Where("run_id = ?", runID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting snapshots: %w", err)
	}
	return count, nil
}

var (
	_ RunRepository      = (*runRepo)(nil)
	_ SnapshotRepository = (*snapshotRepo)(nil)
)
