package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidpace/internal/models"
)

func testRuns() (*fakeRuns, *models.Run, *models.Run) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)

	finished := &models.Run{
		BaseModel:   models.BaseModel{ID: models.NewULIDAt(start)},
		StartedAt:   start,
		EndedAt:     &end,
		Status:      models.RunStatusCompleted,
		StreamCount: 2,
		Results: []models.StreamResult{
			{StreamName: "video2", Adaptive: true, FramesPushed: 10, MeanLatency: 10 * time.Millisecond, FinalBitrate: 3000},
			{StreamName: "video1", FramesPushed: 10, MeanLatency: 30 * time.Millisecond, FinalBitrate: 5000},
		},
	}
	running := &models.Run{
		BaseModel: models.BaseModel{ID: models.NewULIDAt(end)},
		StartedAt: end,
		Status:    models.RunStatusRunning,
	}

	runs := &fakeRuns{
		runs: map[models.ULID]*models.Run{finished.ID: finished, running.ID: running},
		snapshots: []models.Snapshot{
			{RunID: finished.ID, StreamName: "video1", TakenAt: start.Add(30 * time.Second), Bitrate: 5000, MeanLatency: 25 * time.Millisecond},
			{RunID: finished.ID, StreamName: "video2", TakenAt: start.Add(30 * time.Second), Bitrate: 4000},
		},
		current: running,
	}
	return runs, finished, running
}

func TestRunHandler_List(t *testing.T) {
	runs, _, _ := testRuns()
	h := NewRunHandler(runs)

	out, err := h.List(context.Background(), &ListRunsInput{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, out.Body.Runs, 2)

	runs.err = errors.New("db down")
	_, err = h.List(context.Background(), &ListRunsInput{})
	assertStatus(t, err, http.StatusInternalServerError)
}

func TestRunHandler_GetByID(t *testing.T) {
	runs, finished, _ := testRuns()
	h := NewRunHandler(runs)

	out, err := h.GetByID(context.Background(), &GetRunInput{ID: finished.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, finished.ID, out.Body.ID)
	assert.Equal(t, int64(60000), out.Body.DurationMs)
	assert.Len(t, out.Body.Results, 2)
	assert.Equal(t, 10.0, out.Body.Results[0].MeanLatencyMs)

	_, err = h.GetByID(context.Background(), &GetRunInput{ID: "not-a-ulid"})
	assertStatus(t, err, http.StatusBadRequest)

	_, err = h.GetByID(context.Background(), &GetRunInput{ID: models.NewULID().String()})
	assertStatus(t, err, http.StatusNotFound)
}

func TestRunHandler_Current(t *testing.T) {
	runs, _, running := testRuns()
	h := NewRunHandler(runs)
	h.now = func() time.Time { return running.StartedAt.Add(5 * time.Second) }

	out, err := h.Current(context.Background(), &CurrentRunInput{})
	require.NoError(t, err)
	assert.Equal(t, running.ID, out.Body.ID)
	assert.Equal(t, int64(5000), out.Body.DurationMs)

	runs.current = nil
	_, err = h.Current(context.Background(), &CurrentRunInput{})
	assertStatus(t, err, http.StatusNotFound)
}

func TestRunHandler_Snapshots(t *testing.T) {
	runs, finished, _ := testRuns()
	h := NewRunHandler(runs)

	out, err := h.Snapshots(context.Background(), &RunSnapshotsInput{ID: finished.ID.String()})
	require.NoError(t, err)
	assert.Len(t, out.Body.Snapshots, 2)

	out, err = h.Snapshots(context.Background(), &RunSnapshotsInput{ID: finished.ID.String(), Stream: "video1"})
	require.NoError(t, err)
	require.Len(t, out.Body.Snapshots, 1)
	assert.Equal(t, 25.0, out.Body.Snapshots[0].MeanLatencyMs)
}

func TestRunHandler_Report(t *testing.T) {
	runs, finished, running := testRuns()
	h := NewRunHandler(runs)

	out, err := h.Report(context.Background(), &GetRunInput{ID: finished.ID.String()})
	require.NoError(t, err)
	require.Len(t, out.Body.Streams, 2)
	assert.Equal(t, "video1", out.Body.Streams[0].StreamName)
	assert.Equal(t, 30*time.Millisecond, out.Body.Static.MeanLatency)
	assert.Equal(t, 3000, out.Body.Adaptive.MeanBitrate)

	_, err = h.Report(context.Background(), &GetRunInput{ID: running.ID.String()})
	assertStatus(t, err, http.StatusConflict)
}

func TestRunHandler_Routes(t *testing.T) {
	runs, finished, _ := testRuns()
	_, api := humatest.New(t)
	NewRunHandler(runs).Register(api)

	resp := api.Get("/api/v1/runs/current")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"status":"running"`)

	resp = api.Get("/api/v1/runs/" + finished.ID.String())
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), finished.ID.String())

	resp = api.Get("/api/v1/runs?limit=5000")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}
