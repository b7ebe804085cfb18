package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vidpace/internal/models"
)

func setupRunTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(&models.Run{}, &models.StreamResult{}, &models.Snapshot{})
	require.NoError(t, err)

	return db
}

func newRun(startedAt time.Time) *models.Run {
	return &models.Run{
		StartedAt:   startedAt,
		Status:      models.RunStatusRunning,
		Version:     "test",
		Hostname:    "bench01",
		StreamCount: 2,
	}
}

func TestRunRepo_CreateAndGet(t *testing.T) {
	db := setupRunTestDB(t)
	repo := NewRunRepository(db)
	ctx := context.Background()

	run := newRun(time.Now().UTC())
	require.NoError(t, repo.Create(ctx, run))
	assert.False(t, run.ID.IsZero())

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "bench01", got.Hostname)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	assert.Empty(t, got.Results)
}

func TestRunRepo_CreateValidates(t *testing.T) {
	repo := NewRunRepository(setupRunTestDB(t))

	err := repo.Create(context.Background(), &models.Run{Status: models.RunStatusRunning})
	var verr models.ErrValidation
	assert.True(t, errors.As(err, &verr))
}

func TestRunRepo_GetByID_NotFound(t *testing.T) {
	repo := NewRunRepository(setupRunTestDB(t))

	_, err := repo.GetByID(context.Background(), models.NewULID())
	assert.ErrorIs(t, err, models.ErrRunNotFound)
}

func TestRunRepo_List(t *testing.T) {
	db := setupRunTestDB(t)
	repo := NewRunRepository(db)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		require.NoError(t, repo.Create(ctx, newRun(base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt), "newest first")

	runs, err = repo.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunRepo_Finish(t *testing.T) {
	db := setupRunTestDB(t)
	repo := NewRunRepository(db)
	ctx := context.Background()

	run := newRun(time.Now().UTC())
	require.NoError(t, repo.Create(ctx, run))

	ended := run.StartedAt.Add(time.Minute)
	require.NoError(t, repo.Finish(ctx, run.ID, models.RunStatusFailed, ended, errors.New("ffmpeg died")))

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Equal(t, "ffmpeg died", got.Error)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(ended))

	err = repo.Finish(ctx, run.ID, models.RunStatusCompleted, ended, nil)
	assert.ErrorIs(t, err, models.ErrRunFinished)

	err = repo.Finish(ctx, models.NewULID(), models.RunStatusCompleted, ended, nil)
	assert.ErrorIs(t, err, models.ErrRunNotFound)
}

func TestRunRepo_SaveResults_Upserts(t *testing.T) {
	db := setupRunTestDB(t)
	repo := NewRunRepository(db)
	ctx := context.Background()

	run := newRun(time.Now().UTC())
	require.NoError(t, repo.Create(ctx, run))

	results := []models.StreamResult{
		{RunID: run.ID, StreamName: "video2", Adaptive: true, InitialBitrate: 5000, FinalBitrate: 4000, FramesPushed: 10},
		{RunID: run.ID, StreamName: "video1", InitialBitrate: 5000, FinalBitrate: 5000, FramesPushed: 12},
	}
	require.NoError(t, repo.SaveResults(ctx, results))

	// Saving again replaces the measurements.
	require.NoError(t, repo.SaveResults(ctx, []models.StreamResult{
		{RunID: run.ID, StreamName: "video2", Adaptive: true, InitialBitrate: 5000, FinalBitrate: 3000, FramesPushed: 40, MeanLatency: 600 * time.Millisecond},
	}))

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got.Results, 2)
	assert.Equal(t, "video1", got.Results[0].StreamName)
	assert.Equal(t, "video2", got.Results[1].StreamName)
	assert.Equal(t, 3000, got.Results[1].FinalBitrate)
	assert.Equal(t, uint64(40), got.Results[1].FramesPushed)
	assert.Equal(t, 600*time.Millisecond, got.Results[1].MeanLatency)
}

func TestRunRepo_SaveResults_Validates(t *testing.T) {
	repo := NewRunRepository(setupRunTestDB(t))

	err := repo.SaveResults(context.Background(), []models.StreamResult{{StreamName: "video1"}})
	assert.ErrorIs(t, err, models.ErrRunIDRequired)
	assert.NoError(t, repo.SaveResults(context.Background(), nil))
}

func TestRunRepo_DeleteBefore(t *testing.T) {
	db := setupRunTestDB(t)
	repo := NewRunRepository(db)
	snaps := NewSnapshotRepository(db)
	ctx := context.Background()

	cutoff := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	old := newRun(cutoff.Add(-48 * time.Hour))
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Finish(ctx, old.ID, models.RunStatusCompleted, cutoff.Add(-47*time.Hour), nil))
	require.NoError(t, repo.SaveResults(ctx, []models.StreamResult{{RunID: old.ID, StreamName: "video1"}}))
	require.NoError(t, snaps.CreateBatch(ctx, []models.Snapshot{{RunID: old.ID, StreamName: "video1", TakenAt: old.StartedAt}}))

	stillRunning := newRun(cutoff.Add(-24 * time.Hour))
	require.NoError(t, repo.Create(ctx, stillRunning))

	recent := newRun(cutoff.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, recent))

	n, err := repo.DeleteBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetByID(ctx, old.ID)
	assert.ErrorIs(t, err, models.ErrRunNotFound)

	count, err := snaps.CountByRun(ctx, old.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	var results int64
	require.NoError(t, db.Model(&models.StreamResult{}).Count(&results).Error)
	assert.Zero(t, results)

	runs, err := repo.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
