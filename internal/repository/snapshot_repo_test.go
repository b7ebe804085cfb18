package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidpace/internal/models"
)

func TestSnapshotRepo_CreateAndList(t *testing.T) {
	db := setupRunTestDB(t)
	runs := NewRunRepository(db)
	repo := NewSnapshotRepository(db)
	ctx := context.Background()

	run := newRun(time.Now().UTC())
	require.NoError(t, runs.Create(ctx, run))

	t0 := run.StartedAt
	batch := []models.Snapshot{
		{RunID: run.ID, StreamName: "video1", TakenAt: t0.Add(2 * time.Second), Bitrate: 5000},
		{RunID: run.ID, StreamName: "video2", TakenAt: t0.Add(time.Second), Bitrate: 4000, MeanLatency: 650 * time.Millisecond},
		{RunID: run.ID, StreamName: "video1", TakenAt: t0.Add(time.Second), Bitrate: 5000},
	}
	require.NoError(t, repo.CreateBatch(ctx, batch))

	all, err := repo.ListByRun(ctx, run.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "video1", all[0].StreamName)
	assert.Equal(t, "video2", all[1].StreamName)
	assert.Equal(t, 650*time.Millisecond, all[1].MeanLatency)
	assert.True(t, all[2].TakenAt.After(all[0].TakenAt))

	one, err := repo.ListByRun(ctx, run.ID, "video2")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, 4000, one[0].Bitrate)

	count, err := repo.CountByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestSnapshotRepo_CreateBatch_Validates(t *testing.T) {
	repo := NewSnapshotRepository(setupRunTestDB(t))
	ctx := context.Background()

	err := repo.CreateBatch(ctx, []models.Snapshot{{RunID: models.NewULID(), TakenAt: time.Now()}})
	assert.ErrorIs(t, err, models.ErrStreamNameRequired)
	assert.NoError(t, repo.CreateBatch(ctx, nil))
}
