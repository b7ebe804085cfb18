package models

import (
	"time"
)

// RunStatus is the lifecycle state of a benchmark run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one serve invocation: a set of streams delivered side by side
// until shutdown.
type Run struct {
	BaseModel
	UpdatedAt time.Time  `json:"updated_at"`
	StartedAt time.Time  `gorm:"not null;index" json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    RunStatus  `gorm:"size:16;not null;index" json:"status"`
	Error     string     `gorm:"size:1024" json:"error,omitempty"`

	Version  string `gorm:"size:64" json:"version"`
	Hostname string `gorm:"size:255" json:"hostname"`
	// Host stats captured when the run started.
	CPUModel      string  `gorm:"size:255" json:"cpu_model,omitempty"`
	CPUCores      int     `json:"cpu_cores"`
	MemoryTotal   uint64  `json:"memory_total"`
	LoadAverage1  float64 `json:"load_average_1"`
	StreamCount   int     `json:"stream_count"`
	AdaptiveCount int     `json:"adaptive_count"`

	Results   []StreamResult `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"results,omitempty"`
	Snapshots []Snapshot     `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"snapshots,omitempty"`
}

// TableName returns the table name for Run.
func (Run) TableName() string {
	return "runs"
}

// Finished reports whether the run has ended.
func (r *Run) Finished() bool {
	return r.EndedAt != nil
}

// Duration returns how long the run lasted, or has lasted so far at now.
func (r *Run) Duration(now time.Time) time.Duration {
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}

// Validate checks required fields.
func (r *Run) Validate() error {
	if r.StartedAt.IsZero() {
		return ErrValidation{Field: "started_at", Message: "must be set"}
	}
	switch r.Status {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed:
	default:
		return ErrValidation{Field: "status", Message: "unknown status " + string(r.Status)}
	}
	return nil
}

// StreamResult is the final measurement of one stream in a run.
type StreamResult struct {
	BaseModel
	RunID      ULID    `gorm:"type:varchar(26);not null;uniqueIndex:idx_stream_results_run_stream" json:"run_id"`
	StreamName string  `gorm:"size:128;not null;uniqueIndex:idx_stream_results_run_stream" json:"stream_name"`
	Adaptive   bool    `json:"adaptive"`
	AssetPath  string  `gorm:"size:1024" json:"asset_path"`
	FrameRate  float64 `json:"frame_rate"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`

	InitialBitrate int `json:"initial_bitrate_kbps"`
	FinalBitrate   int `json:"final_bitrate_kbps"`
	MinBitrate     int `json:"min_bitrate_kbps"`
	MaxBitrate     int `json:"max_bitrate_kbps"`

	FramesPushed    uint64 `json:"frames_pushed"`
	FramesDelivered uint64 `json:"frames_delivered"`
	BytesPushed     uint64 `json:"bytes_pushed"`
	Restarts        uint64 `json:"restarts"`

	MeanLatency        time.Duration `json:"mean_latency"`
	MaxLatency         time.Duration `json:"max_latency"`
	MeanJitter         time.Duration `json:"mean_jitter"`
	MaxJitter          time.Duration `json:"max_jitter"`
	MeanProductionTime time.Duration `json:"mean_production_time"`

	BitrateChanges int    `json:"bitrate_changes"`
	EncoderMisses  uint64 `json:"encoder_misses"`
}

// TableName returns the table name for StreamResult.
func (StreamResult) TableName() string {
	return "stream_results"
}

// Validate checks required fields.
func (s *StreamResult) Validate() error {
	if s.RunID.IsZero() {
		return ErrRunIDRequired
	}
	if s.StreamName == "" {
		return ErrStreamNameRequired
	}
	return nil
}

// Snapshot is a periodic sample of one stream while a run is in progress.
type Snapshot struct {
	BaseModel
	RunID      ULID      `gorm:"type:varchar(26);not null;index:idx_snapshots_run_stream" json:"run_id"`
	StreamName string    `gorm:"size:128;not null;index:idx_snapshots_run_stream" json:"stream_name"`
	TakenAt    time.Time `gorm:"not null;index" json:"taken_at"`

	Bitrate       int           `json:"bitrate_kbps"`
	FramesPushed  uint64        `json:"frames_pushed"`
	MeanLatency   time.Duration `json:"mean_latency"`
	MeanJitter    time.Duration `json:"mean_jitter"`
	ThroughputBps uint64        `json:"throughput_bps"`
}

// TableName returns the table name for Snapshot.
func (Snapshot) TableName() string {
	return "snapshots"
}

// Validate checks required fields.
func (s *Snapshot) Validate() error {
	if s.RunID.IsZero() {
		return ErrRunIDRequired
	}
	if s.StreamName == "" {
		return ErrStreamNameRequired
	}
	if s.TakenAt.IsZero() {
		return ErrValidation{Field: "taken_at", Message: "must be set"}
	}
	return nil
}
