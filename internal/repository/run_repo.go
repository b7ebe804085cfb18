package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/vidpace/internal/models"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// runRepo implements RunRepository using GORM.
type runRepo struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) *runRepo {
	return &runRepo{db: db}
}

// Create inserts a new run.
func (r *runRepo) Create(ctx context.Context, run *models.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(run).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

// GetByID returns the run with its results ordered by stream name.
func (r *runRepo) GetByID(ctx context.Context, id models.ULID) (*models.Run, error) {
	var run models.Run
	err := r.db.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("stream_name ASC") }).
		Where("id = ?", id).
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrRunNotFound
		}
		return nil, fmt.Errorf("getting run by ID: %w", err)
	}
	return &run, nil
}

// List returns the most recent runs first.
func (r *runRepo) List(ctx context.Context, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var runs []*models.Run
	if err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// Finish marks a running run as ended.
func (r *runRepo) Finish(ctx context.Context, id models.ULID, status models.RunStatus, endedAt time.Time, runErr error) error {
	updates := map[string]any{
		"status":   status,
		"ended_at": endedAt,
	}
	if runErr != nil {
		updates["error"] = runErr.Error()
	}

	res := r.db.WithContext(ctx).Model(&models.Run{}).
		Where("id = ? AND status = ?", id, models.RunStatusRunning).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("finishing run: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// Distinguish an unknown run from one that already ended.
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Run{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if count == 0 {
		return models.ErrRunNotFound
	}
	return models.ErrRunFinished
}

// SaveResults upserts results on (run_id, stream_name).
func (r *runRepo) SaveResults(ctx context.Context, results []models.StreamResult) error {
	if len(results) == 0 {
		return nil
	}
	for i := range results {
		if err := results[i].Validate(); err != nil {
			return fmt.Errorf("result %d: %w", i, err)
		}
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "run_id"}, {Name: "stream_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"final_bitrate", "frames_pushed", "frames_delivered", "bytes_pushed", "restarts",
			"mean_latency", "max_latency", "mean_jitter", "max_jitter", "mean_production_time",
			"bitrate_changes", "encoder_misses",
		}),
	}).Create(&results).Error
	if err != nil {
		return fmt.Errorf("saving stream results: %w", err)
	}
	return nil
}

// DeleteBefore removes finished runs older than t and their children.
func (r *runRepo) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&models.Run{}).Select("id").
			Where("started_at < ? AND status <> ?", t, models.RunStatusRunning)

		if err := tx.Where("run_id IN (?)", old).Delete(&models.Snapshot{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id IN (?)", old).Delete(&models.StreamResult{}).Error; err != nil {
			return err
		}
		res := tx.Where("started_at < ? AND status <> ?", t, models.RunStatusRunning).Delete(&models.Run{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("deleting old runs: %w", err)
	}
	return deleted, nil
}
