package service

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

	"github.com/jmylchreest/vidpace/internal/metrics"
	"github.com/jmylchreest/vidpace/internal/models"
	"github.com/jmylchreest/vidpace/internal/repository"
	"github.com/jmylchreest/vidpace/internal/stream"
	"github.com/jmylchreest/vidpace/internal/sysstats"
)

func setupRunServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Run{}, &models.StreamResult{}, &models.Snapshot{}))
	return db
}

type fixedHost struct{}

func (fixedHost) Collect(context.Context) sysstats.Stats {
	return sysstats.Stats{Hostname: "bench01", CPUModel: "Test CPU", CPUCores: 8, MemoryTotal: 16 << 30, LoadAvg1m: 0.5}
}

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func newTestService(t *testing.T) (*RunService, *stepClock) {
	db := setupRunServiceTestDB(t)
	clock := &stepClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := NewRunService(repository.NewRunRepository(db), repository.NewSnapshotRepository(db)).
		WithHostSampler(fixedHost{}).
		WithVersion("1.2.3").
		WithClock(clock.Now)
	return svc, clock
}

func testSnapshots(adaptiveBitrate int) []stream.Snapshot {
	return []stream.Snapshot{
		{
			Identity:       stream.Identity{Name: "video1", Width: 640, Height: 480, FrameRate: 25},
			Bitrate:        5000,
			InitialBitrate: 5000,
			MinBitrate:     1000,
			MaxBitrate:     10000,
			Counters:       stream.PumpCounters{FramesPushed: 100, BytesPushed: 100 * 921600},
			Stats:          metrics.Stats{Count: 100, MeanLatency: 40 * time.Millisecond, MeanJitter: 5 * time.Millisecond},
			HasStats:       true,
		},
		{
			Identity:       stream.Identity{Name: "video2", Width: 640, Height: 480, FrameRate: 25, Adaptive: true},
			Bitrate:        adaptiveBitrate,
			InitialBitrate: 5000,
			MinBitrate:     1000,
			MaxBitrate:     10000,
			Counters:       stream.PumpCounters{FramesPushed: 90, Restarts: 1},
			Stats:          metrics.Stats{Count: 90, MeanLatency: 700 * time.Millisecond, MaxLatency: time.Second},
			HasStats:       true,
			BitrateChanges: 2,
			EncoderMisses:  1,
		},
	}
}

func identities(snaps []stream.Snapshot) []stream.Identity {
	out := make([]stream.Identity, len(snaps))
	for i, s := range snaps {
		out[i] = s.Identity
	}
	return out
}

func TestRunService_Lifecycle(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	run, err := svc.Begin(ctx, identities(testSnapshots(5000)))
	require.NoError(t, err)
	assert.Equal(t, 2, run.StreamCount)
	assert.Equal(t, 1, run.AdaptiveCount)
	assert.Equal(t, "bench01", run.Hostname)
	assert.Equal(t, 8, run.CPUCores)
	assert.Equal(t, "1.2.3", run.Version)
	assert.Same(t, run, svc.Current())

	_, err = svc.Begin(ctx, nil)
	assert.Error(t, err, "one active run at a time")

	clock.now = clock.now.Add(30 * time.Second)
	require.NoError(t, svc.RecordSnapshots(ctx, testSnapshots(4000)))
	clock.now = clock.now.Add(30 * time.Second)
	require.NoError(t, svc.RecordSnapshots(ctx, testSnapshots(3000)))

	snaps, err := svc.Snapshots(ctx, run.ID, "video2")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 4000, snaps[0].Bitrate)
	assert.Equal(t, 3000, snaps[1].Bitrate)
	assert.Equal(t, 700*time.Millisecond, snaps[1].MeanLatency)

	clock.now = clock.now.Add(30 * time.Second)
	finished, err := svc.Finish(ctx, testSnapshots(3000), nil)
	require.NoError(t, err)
	assert.Nil(t, svc.Current())
	assert.Equal(t, models.RunStatusCompleted, finished.Status)
	assert.Equal(t, 90*time.Second, finished.Duration(clock.now))

	require.Len(t, finished.Results, 2)
	adaptive := finished.Results[1]
	assert.Equal(t, "video2", adaptive.StreamName)
	assert.True(t, adaptive.Adaptive)
	assert.Equal(t, 3000, adaptive.FinalBitrate)
	assert.Equal(t, 2, adaptive.BitrateChanges)
	assert.Equal(t, uint64(1), adaptive.EncoderMisses)
	assert.Equal(t, time.Second, adaptive.MaxLatency)

	runs, err := svc.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunService_FinishFailed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Begin(ctx, nil)
	require.NoError(t, err)

	run, err := svc.Finish(ctx, nil, errors.New("no streams started"))
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "no streams started", run.Error)
}

func TestRunService_NoActiveRun(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.RecordSnapshots(ctx, testSnapshots(5000)), ErrNoActiveRun)
	_, err := svc.Finish(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrNoActiveRun)
}

func TestRunService_Prune(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.Begin(ctx, nil)
	require.NoError(t, err)
	_, err = svc.Finish(ctx, nil, nil)
	require.NoError(t, err)

	n, err := svc.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "zero retention keeps everything")

	clock.now = clock.now.Add(48 * time.Hour)
	n, err = svc.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestResultModel(t *testing.T) {
	id := models.NewULID()
	r := ResultModel(id, testSnapshots(4000)[1])
	assert.Equal(t, id, r.RunID)
	assert.Equal(t, 5000, r.InitialBitrate)
	assert.Equal(t, 4000, r.FinalBitrate)
	assert.Equal(t, uint64(90), r.FramesPushed)
	assert.Equal(t, uint64(1), r.Restarts)
	assert.NoError(t, r.Validate())
}
