package handlers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidpace/internal/database"
	"github.com/jmylchreest/vidpace/internal/metrics"
	"github.com/jmylchreest/vidpace/internal/models"
	"github.com/jmylchreest/vidpace/internal/scheduler"
	"github.com/jmylchreest/vidpace/internal/stream"
	"github.com/jmylchreest/vidpace/internal/sysstats"
)

type fakeView struct {
	snap    stream.Snapshot
	series  metrics.Series
	history []stream.BitrateChange
}

func (v *fakeView) Snapshot() stream.Snapshot { return v.snap }
func (v *fakeView) Series() metrics.Series { return v.series }
func (v *fakeView) History() []stream.BitrateChange { return v.history }

type fakeStreams struct {
	views    []*fakeView
	failures []stream.StreamFailure
}

func (f *fakeStreams) Snapshots() []stream.Snapshot {
	out := make([]stream.Snapshot, len(f.views))
	for i, v := range f.views {
		out[i] = v.snap
	}
	return out
}

func (f *fakeStreams) Failures() []stream.StreamFailure { return f.failures }

func (f *fakeStreams) Lookup(name string) (StreamView, error) {
	for _, v := range f.views {
		if v.snap.Identity.Name == name {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", stream.ErrStreamNotFound, name)
}

func testStreams() *fakeStreams {
	static := &fakeView{
		snap: stream.Snapshot{
			Identity:       stream.Identity{Name: "video1", Mount: "/video1", Width: 320, Height: 240, FrameRate: 30},
			Bitrate:        5000,
			InitialBitrate: 5000,
			Counters:       stream.PumpCounters{FramesPushed: 100},
			Stats:          metrics.Stats{Count: 100, MeanLatency: 40 * time.Millisecond, MeanJitter: 4 * time.Millisecond},
			HasStats:       true,
		},
	}
	adaptive := &fakeView{
		snap: stream.Snapshot{
			Identity:       stream.Identity{Name: "video2", Mount: "/video2", Width: 320, Height: 240, FrameRate: 30, Adaptive: true},
			Bitrate:        4000,
			InitialBitrate: 5000,
			Counters:       stream.PumpCounters{FramesPushed: 100},
			Stats:          metrics.Stats{Count: 100, MeanLatency: 20 * time.Millisecond, MeanJitter: 2 * time.Millisecond},
			HasStats:       true,
			BitrateChanges: 1,
		},
		series: metrics.Series{
			ProductionTimes: []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond},
			Latencies:       []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond},
			Jitters:         []time.Duration{10 * time.Millisecond, 10 * time.Millisecond},
		},
		history: []stream.BitrateChange{
			{At: time.Unix(100, 0), From: 5000, To: 4000, MeanLatency: 700 * time.Millisecond},
		},
	}
	return &fakeStreams{
		views:    []*fakeView{static, adaptive},
		failures: []stream.StreamFailure{{Name: "video3", Error: "no such file"}},
	}
}

type fakeRuns struct {
	runs      map[models.ULID]*models.Run
	snapshots []models.Snapshot
	current   *models.Run
	err       error
}

func (f *fakeRuns) List(ctx context.Context, limit int) ([]*models.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*models.Run, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRuns) Get(ctx context.Context, id models.ULID) (*models.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.runs[id]
	if !ok {
		return nil, models.ErrRunNotFound
	}
	return r, nil
}

func (f *fakeRuns) Snapshots(ctx context.Context, id models.ULID, streamName string) ([]models.Snapshot, error) {
	var out []models.Snapshot
	for _, s := range f.snapshots {
		if s.RunID == id && (streamName == "" || s.StreamName == streamName) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRuns) Current() *models.Run { return f.current }

type fakeTasks struct {
	status []scheduler.TaskStatus
	ran    []string
	err    error
}

func (f *fakeTasks) Status() []scheduler.TaskStatus { return f.status }

func (f *fakeTasks) RunNow(name string) error {
	for _, s := range f.status {
		if s.Name == name {
			f.ran = append(f.ran, name)
			return f.err
		}
	}
	return fmt.Errorf("%w: %s", scheduler.ErrTaskNotFound, name)
}

type fakeDB struct {
	err error
}

func (f *fakeDB) Ping(context.Context) error { return f.err }

func (f *fakeDB) Stats() (database.PoolStats, error) {
	return database.PoolStats{MaxOpenConnections: 1, OpenConnections: 1}, nil
}

type fakeHost struct{}

func (fakeHost) Collect(context.Context) sysstats.Stats {
	return sysstats.Stats{Hostname: "bench", CPUCores: 8}
}

func assertStatus(t *testing.T, err error, status int) {
	t.Helper()
	var se huma.StatusError
	require.True(t, errors.As(err, &se), "expected huma status error, got %v", err)
	assert.Equal(t, status, se.GetStatus())
}

