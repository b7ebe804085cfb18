package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vidpace/internal/models"
	"github.com/jmylchreest/vidpace/internal/report"
)

// RunReader reads persisted benchmark runs.
type RunReader interface {
	List(ctx context.Context, limit int) ([]*models.Run, error)
	Get(ctx context.Context, id models.ULID) (*models.Run, error)
	Snapshots(ctx context.Context, id models.ULID, streamName string) ([]models.Snapshot, error)
	Current() *models.Run
}

// RunHandler serves benchmark runs.
type RunHandler struct {
	runs RunReader
	now  func() time.Time
}

// NewRunHandler creates a new run handler.
func NewRunHandler(runs RunReader) *RunHandler {
	return &RunHandler{runs: runs, now: time.Now}
}

// Register registers the run routes with the API.
func (h *RunHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRuns",
		Method:      "GET",
		Path:        "/api/v1/runs",
		Summary:     "List runs",
		Description: "Returns recent benchmark runs, newest first",
		Tags:        []string{"Runs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getCurrentRun",
		Method:      "GET",
		Path:        "/api/v1/runs/current",
		Summary:     "Get current run",
		Description: "Returns the run recording this process",
		Tags:        []string{"Runs"},
	}, h.Current)

	huma.Register(api, huma.Operation{
		OperationID: "getRun",
		Method:      "GET",
		Path:        "/api/v1/runs/{id}",
		Summary:     "Get run",
		Description: "Returns a run with its per-stream results",
		Tags:        []string{"Runs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "listRunSnapshots",
		Method:      "GET",
		Path:        "/api/v1/runs/{id}/snapshots",
		Summary:     "List run snapshots",
		Description: "Returns the periodic snapshots recorded during a run",
		Tags:        []string{"Runs"},
	}, h.Snapshots)

	huma.Register(api, huma.Operation{
		OperationID: "getRunReport",
		Method:      "GET",
		Path:        "/api/v1/runs/{id}/report",
		Summary:     "Get run comparison",
		Description: "Compares static and adaptive streams of a finished run",
		Tags:        []string{"Runs"},
	}, h.Report)
}

// ListRunsInput is the input for listing runs.
type ListRunsInput struct {
	Limit int `query:"limit" minimum:"0" maximum:"1000" default:"50" doc:"Maximum number of runs"`
}

// ListRunsOutput is the output for listing runs.
type ListRunsOutput struct {
	Body struct {
		Runs []RunResponse `json:"runs"`
	}
}

// List returns recent runs.
func (h *RunHandler) List(ctx context.Context, input *ListRunsInput) (*ListRunsOutput, error) {
	runs, err := h.runs.List(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list runs", err)
	}

	now := h.now()
	resp := &ListRunsOutput{}
	resp.Body.Runs = make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		resp.Body.Runs = append(resp.Body.Runs, RunFromModel(r, now))
	}
	return resp, nil
}

// CurrentRunInput is the input for the current run.
type CurrentRunInput struct{}

// GetRunOutput is the output for getting a run.
type GetRunOutput struct {
	Body RunResponse
}

// Current returns the run of this process.
func (h *RunHandler) Current(ctx context.Context, input *CurrentRunInput) (*GetRunOutput, error) {
	run := h.runs.Current()
	if run == nil {
		return nil, huma.Error404NotFound("no run in progress")
	}
	return &GetRunOutput{Body: RunFromModel(run, h.now())}, nil
}

// GetRunInput identifies a run.
type GetRunInput struct {
	ID string `path:"id" doc:"Run ID (ULID)"`
}

// GetByID returns a run.
func (h *RunHandler) GetByID(ctx context.Context, input *GetRunInput) (*GetRunOutput, error) {
	run, err := h.get(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &GetRunOutput{Body: RunFromModel(run, h.now())}, nil
}

// RunSnapshotsInput is the input for listing run snapshots.
type RunSnapshotsInput struct {
	ID     string `path:"id" doc:"Run ID (ULID)"`
	Stream string `query:"stream" doc:"Only return snapshots of this stream"`
}

// RunSnapshotsOutput is the output for listing run snapshots.
type RunSnapshotsOutput struct {
	Body struct {
		Snapshots []SnapshotResponse `json:"snapshots"`
	}
}

// Snapshots returns a run's periodic snapshots.
func (h *RunHandler) Snapshots(ctx context.Context, input *RunSnapshotsInput) (*RunSnapshotsOutput, error) {
	run, err := h.get(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	snaps, err := h.runs.Snapshots(ctx, run.ID, input.Stream)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list snapshots", err)
	}

	resp := &RunSnapshotsOutput{}
	resp.Body.Snapshots = make([]SnapshotResponse, 0, len(snaps))
	for _, s := range snaps {
		resp.Body.Snapshots = append(resp.Body.Snapshots, SnapshotFromModel(s))
	}
	return resp, nil
}

// Report compares a run's streams.
func (h *RunHandler) Report(ctx context.Context, input *GetRunInput) (*ReportOutput, error) {
	run, err := h.get(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if !run.Finished() {
		return nil, huma.Error409Conflict(fmt.Sprintf("run %s is still running", input.ID))
	}
	return &ReportOutput{Body: reportResponse(report.New(run.Results))}, nil
}

func (h *RunHandler) get(ctx context.Context, rawID string) (*models.Run, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	run, err := h.runs.Get(ctx, id)
	if errors.Is(err, models.ErrRunNotFound) {
		return nil, huma.Error404NotFound(fmt.Sprintf("run %s not found", rawID))
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get run", err)
	}
	return run, nil
}
