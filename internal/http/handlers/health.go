// Package handlers provides HTTP API handlers for vidpace.
package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vidpace/internal/database"
	"github.com/jmylchreest/vidpace/internal/stream"
	"github.com/jmylchreest/vidpace/internal/sysstats"
)

// HostSampler samples host resources.
type HostSampler interface {
	Collect(ctx context.Context) sysstats.Stats
}

// DatabaseChecker is the database surface used by health checks.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
	Stats() (database.PoolStats, error)
}

// StreamCounter reports how many streams are running and failed.
type StreamCounter interface {
	Snapshots() []stream.Snapshot
	Failures() []stream.StreamFailure
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	host      HostSampler
	db        DatabaseChecker
	tasks     TaskRunner
	streams   StreamCounter
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithHostSampler sets the host resource sampler.
func (h *HealthHandler) WithHostSampler(host HostSampler) *HealthHandler {
	h.host = host
	return h
}

// WithDB sets the database for health checks.
func (h *HealthHandler) WithDB(db DatabaseChecker) *HealthHandler {
	h.db = db
	return h
}

// WithScheduler sets the scheduler whose tasks are reported.
func (h *HealthHandler) WithScheduler(tasks TaskRunner) *HealthHandler {
	h.tasks = tasks
	return h
}

// WithStreams sets the stream source counted by health checks.
func (h *HealthHandler) WithStreams(streams StreamCounter) *HealthHandler {
	h.streams = streams
	return h
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including host resources",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Description: "Reports ready once at least one stream is running and the database answers",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status        string          `json:"status"`
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	Uptime        string          `json:"uptime"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Host          *sysstats.Stats `json:"host,omitempty"`
	Streams       StreamsHealth   `json:"streams"`
	Database      DatabaseHealth  `json:"database"`
	Tasks         []TaskHealth    `json:"tasks,omitempty"`
}

// StreamsHealth counts streams by state.
type StreamsHealth struct {
	Running  int `json:"running"`
	Adaptive int `json:"adaptive"`
	Failed   int `json:"failed"`
}

// DatabaseHealth reports database reachability.
type DatabaseHealth struct {
	Status         string              `json:"status"`
	ResponseTimeMS float64             `json:"response_time_ms"`
	Pool           *database.PoolStats `json:"pool,omitempty"`
}

// TaskHealth summarises a scheduled task.
type TaskHealth struct {
	Name      string `json:"name"`
	Runs      uint64 `json:"runs"`
	Failures  uint64 `json:"failures"`
	LastError string `json:"last_error,omitempty"`
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	body := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Streams:       h.streamsHealth(),
		Database:      h.databaseHealth(ctx),
	}

	if h.host != nil {
		stats := h.host.Collect(ctx)
		body.Host = &stats
	}

	if h.tasks != nil {
		for _, t := range h.tasks.Status() {
			body.Tasks = append(body.Tasks, TaskHealth{
				Name:      t.Name,
				Runs:      t.Runs,
				Failures:  t.Failures,
				LastError: t.LastError,
			})
		}
	}

	if body.Database.Status == "error" || (body.Streams.Running == 0 && body.Streams.Failed > 0) {
		body.Status = "degraded"
	}

	return &HealthOutput{Body: body}, nil
}

func (h *HealthHandler) streamsHealth() StreamsHealth {
	var sh StreamsHealth
	if h.streams == nil {
		return sh
	}
	for _, s := range h.streams.Snapshots() {
		sh.Running++
		if s.Identity.Adaptive {
			sh.Adaptive++
		}
	}
	sh.Failed = len(h.streams.Failures())
	return sh
}

func (h *HealthHandler) databaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "disabled"}
	}

	health := DatabaseHealth{Status: "ok"}
	start := time.Now()
	err := h.db.Ping(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
		return health
	}
	if stats, err := h.db.Stats(); err == nil {
		health.Pool = &stats
	}
	return health
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// GetLivez reports that the process is serving requests.
func (h *HealthHandler) GetLivez(ctx context.Context, input *LivezInput) (*LivezOutput, error) {
	resp := &LivezOutput{}
	resp.Body.Status = "ok"
	return resp, nil
}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness probe.
type ReadyzOutput struct {
	Body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
}

// GetReadyz reports whether streams are running and the database answers.
func (h *HealthHandler) GetReadyz(ctx context.Context, input *ReadyzInput) (*ReadyzOutput, error) {
	resp := &ReadyzOutput{}
	resp.Body.Components = map[string]string{}
	ready := true

	streams := h.streamsHealth()
	if streams.Running > 0 {
		resp.Body.Components["streams"] = "ok"
	} else {
		resp.Body.Components["streams"] = "none_running"
		ready = false
	}

	db := h.databaseHealth(ctx)
	resp.Body.Components["database"] = db.Status
	if db.Status == "error" {
		ready = false
	}

	resp.Body.Status = "ready"
	if !ready {
		resp.Body.Status = "not_ready"
	}
	return resp, nil
}
