// Package service holds the application services that sit between the
// stream manager, persistence and the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/vidpace/internal/models"
	"github.com/jmylchreest/vidpace/internal/observability"
	"github.com/jmylchreest/vidpace/internal/repository"
	"github.com/jmylchreest/vidpace/internal/stream"
	"github.com/jmylchreest/vidpace/internal/sysstats"
)

// ErrNoActiveRun is returned when recording without a begun run.
var ErrNoActiveRun = errors.New("no active run")

// HostSampler provides host stats for a new run.
type HostSampler interface {
	Collect(ctx context.Context) sysstats.Stats
}

// RunService records a serve invocation as a Run: host stats at start,
// periodic snapshots while streaming, and final per-stream results.
type RunService struct {
	runs      repository.RunRepository
	snapshots repository.SnapshotRepository
	host      HostSampler
	version   string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	current *models.Run
}

// NewRunService creates a RunService.
func NewRunService(runs repository.RunRepository, snapshots repository.SnapshotRepository) *RunService {
	return &RunService{
		runs:      runs,
		snapshots: snapshots,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// WithLogger sets a custom logger.
func (s *RunService) WithLogger(logger *slog.Logger) *RunService {
	s.logger = observability.WithComponent(logger, "runs")
	return s
}

// WithHostSampler sets the source of host stats.
func (s *RunService) WithHostSampler(h HostSampler) *RunService {
	s.host = h
	return s
}

// WithVersion records the build version on new runs.
func (s *RunService) WithVersion(v string) *RunService {
	s.version = v
	return s
}

// WithClock replaces time.Now.
func (s *RunService) WithClock(now func() time.Time) *RunService {
	s.now = now
	return s
}

// Begin creates the run for the given streams and makes it current.
func (s *RunService) Begin(ctx context.Context, streams []stream.Identity) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return nil, fmt.Errorf("run %s already active", s.current.ID)
	}

	run := &models.Run{
		StartedAt:   s.now().UTC(),
		Status:      models.RunStatusRunning,
		Version:     s.version,
		StreamCount: len(streams),
	}
	for _, id := range streams {
		if id.Adaptive {
			run.AdaptiveCount++
		}
	}
	if s.host != nil {
		hs := s.host.Collect(ctx)
		run.Hostname = hs.Hostname
		run.CPUModel = hs.CPUModel
		run.CPUCores = hs.CPUCores
		run.MemoryTotal = hs.MemoryTotal
		run.LoadAverage1 = hs.LoadAvg1m
	}

	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("beginning run: %w", err)
	}
	s.current = run

	s.logger.InfoContext(ctx, "run started",
		slog.String("run_id", run.ID.String()),
		slog.Int("streams", run.StreamCount),
		slog.Int("adaptive", run.AdaptiveCount),
	)
	return run, nil
}

// Current returns the active run, or nil.
func (s *RunService) Current() *models.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// RecordSnapshots stores one snapshot row per stream for the active run.
func (s *RunService) RecordSnapshots(ctx context.Context, snaps []stream.Snapshot) error {
	run := s.Current()
	if run == nil {
		return ErrNoActiveRun
	}
	if len(snaps) == 0 {
		return nil
	}

	at := s.now().UTC()
	rows := make([]models.Snapshot, len(snaps))
	for i, snap := range snaps {
		rows[i] = SnapshotModel(run.ID, at, snap)
	}
	if err := s.snapshots.CreateBatch(ctx, rows); err != nil {
		return fmt.Errorf("recording snapshots: %w", err)
	}
	return nil
}

// Finish stores the final results and closes the active run. A non-nil
// runErr marks the run failed.
func (s *RunService) Finish(ctx context.Context, snaps []stream.Snapshot, runErr error) (*models.Run, error) {
	s.mu.Lock()
	run := s.current
	s.current = nil
	s.mu.Unlock()

	if run == nil {
		return nil, ErrNoActiveRun
	}

	results := make([]models.StreamResult, len(snaps))
	for i, snap := range snaps {
		results[i] = ResultModel(run.ID, snap)
	}
	if err := s.runs.SaveResults(ctx, results); err != nil {
		return nil, fmt.Errorf("saving results: %w", err)
	}

	status := models.RunStatusCompleted
	if runErr != nil {
		status = models.RunStatusFailed
	}
	if err := s.runs.Finish(ctx, run.ID, status, s.now().UTC(), runErr); err != nil {
		return nil, err
	}

	finished, err := s.runs.GetByID(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "run finished",
		slog.String("run_id", run.ID.String()),
		slog.String("status", string(status)),
		slog.Duration("duration", finished.Duration(s.now())),
	)
	return finished, nil
}

// Get returns a run with its results.
func (s *RunService) Get(ctx context.Context, id models.ULID) (*models.Run, error) {
	return s.runs.GetByID(ctx, id)
}

// List returns recent runs, newest first.
func (s *RunService) List(ctx context.Context, limit int) ([]*models.Run, error) {
	return s.runs.List(ctx, limit)
}

// Snapshots returns a run's stored snapshots, optionally for one stream.
func (s *RunService) Snapshots(ctx context.Context, id models.ULID, streamName string) ([]models.Snapshot, error) {
	return s.snapshots.ListByRun(ctx, id, streamName)
}

// Prune deletes finished runs older than retention. A retention of 0 keeps
// everything.
func (s *RunService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := s.runs.DeleteBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "pruned old runs", slog.Int64("deleted", n), slog.Duration("retention", retention))
	}
	return n, nil
}

// SnapshotModel converts a live stream snapshot into a stored row.
func SnapshotModel(runID models.ULID, at time.Time, snap stream.Snapshot) models.Snapshot {
	return models.Snapshot{
		RunID:         runID,
		StreamName:    snap.Identity.Name,
		TakenAt:       at,
		Bitrate:       snap.Bitrate,
		FramesPushed:  snap.Counters.FramesPushed,
		MeanLatency:   snap.Stats.MeanLatency,
		MeanJitter:    snap.Stats.MeanJitter,
		ThroughputBps: snap.Throughput,
	}
}

// ResultModel converts a stream's final snapshot into a result row.
func ResultModel(runID models.ULID, snap stream.Snapshot) models.StreamResult {
	return models.StreamResult{
		RunID:              runID,
		StreamName:         snap.Identity.Name,
		Adaptive:           snap.Identity.Adaptive,
		AssetPath:          snap.Identity.AssetPath,
		FrameRate:          snap.Identity.FrameRate,
		Width:              snap.Identity.Width,
		Height:             snap.Identity.Height,
		InitialBitrate:     snap.InitialBitrate,
		FinalBitrate:       snap.Bitrate,
		MinBitrate:         snap.MinBitrate,
		MaxBitrate:         snap.MaxBitrate,
		FramesPushed:       snap.Counters.FramesPushed,
		FramesDelivered:    snap.FramesDelivered,
		BytesPushed:        snap.Counters.BytesPushed,
		Restarts:           snap.Counters.Restarts,
		MeanLatency:        snap.Stats.MeanLatency,
		MaxLatency:         snap.Stats.MaxLatency,
		MeanJitter:         snap.Stats.MeanJitter,
		MaxJitter:          snap.Stats.MaxJitter,
		MeanProductionTime: snap.Stats.MeanProductionTime,
		BitrateChanges:     snap.BitrateChanges,
		EncoderMisses:      snap.EncoderMisses,
	}
}
