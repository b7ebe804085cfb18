// Package repository defines data access for benchmark runs. All database
// access goes through these interfaces.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/vidpace/internal/models"
)

// RunRepository persists runs and their final per-stream results.
type RunRepository interface {
	// Create inserts a new run.
	Create(ctx context.Context, run *models.Run) error
	// GetByID returns the run with its results, or models.ErrRunNotFound.
	GetByID(ctx context.Context, id models.ULID) (*models.Run, error)
	// List returns the most recent runs first, without children.
	List(ctx context.Context, limit int) ([]*models.Run, error)
	// Finish marks a running run as completed or failed.
	Finish(ctx context.Context, id models.ULID, status models.RunStatus, endedAt time.Time, runErr error) error
	// SaveResults upserts per-stream results keyed by run and stream name.
	SaveResults(ctx context.Context, results []models.StreamResult) error
	// DeleteBefore removes finished runs that started before t, with their children.
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
}

// SnapshotRepository persists periodic stream snapshots.
type SnapshotRepository interface {
	// CreateBatch inserts snapshots in one statement.
	CreateBatch(ctx context.Context, snapshots []models.Snapshot) error
	// ListByRun returns a run's snapshots in time order, optionally for one stream.
	ListByRun(ctx context.Context, runID models.ULID, stream string) ([]models.Snapshot, error)
	// CountByRun returns the number of snapshots stored for a run.
	CountByRun(ctx context.Context, runID models.ULID) (int64, error)
}
