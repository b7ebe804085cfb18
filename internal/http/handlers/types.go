package handlers

import (
	"time"

	"github.com/jmylchreest/vidpace/internal/models"
	"github.com/jmylchreest/vidpace/internal/stream"
)

// StreamResponse is the API view of a live stream.
type StreamResponse struct {
	Name      string  `json:"name"`
	Mount     string  `json:"mount"`
	Adaptive  bool    `json:"adaptive"`
	AssetPath string  `json:"asset_path"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frame_rate"`

	SourceKind      string `json:"source_kind"`
	SourceSizeBytes int64  `json:"source_size_bytes"`

	BitrateKbps        int  `json:"bitrate_kbps"`
	InitialBitrateKbps int  `json:"initial_bitrate_kbps"`
	MinBitrateKbps     int  `json:"min_bitrate_kbps"`
	MaxBitrateKbps     int  `json:"max_bitrate_kbps"`
	EncoderAttached    bool `json:"encoder_attached"`

	FramesPushed    uint64 `json:"frames_pushed"`
	FramesDelivered uint64 `json:"frames_delivered"`
	BytesPushed     uint64 `json:"bytes_pushed"`
	Restarts        uint64 `json:"restarts"`
	ThroughputBps   uint64 `json:"throughput_bps"`

	Samples          int64     `json:"samples"`
	MeanLatencyMs    float64   `json:"mean_latency_ms"`
	MaxLatencyMs     float64   `json:"max_latency_ms"`
	MeanJitterMs     float64   `json:"mean_jitter_ms"`
	MaxJitterMs      float64   `json:"max_jitter_ms"`
	MeanProductionMs float64   `json:"mean_production_ms"`
	BitrateChanges   int       `json:"bitrate_changes"`
	AdapterCycles    uint64    `json:"adapter_cycles"`
	EncoderMisses    uint64    `json:"encoder_misses"`
	StartedAt        time.Time `json:"started_at"`
}

// StreamFromSnapshot converts a controller snapshot.
func StreamFromSnapshot(s stream.Snapshot) StreamResponse {
	return StreamResponse{
		Name:               s.Identity.Name,
		Mount:              s.Identity.Mount,
		Adaptive:           s.Identity.Adaptive,
		AssetPath:          s.Identity.AssetPath,
		Width:              s.Identity.Width,
		Height:             s.Identity.Height,
		FrameRate:          s.Identity.FrameRate,
		SourceKind:         s.Source.Kind,
		SourceSizeBytes:    s.Source.SizeBytes,
		BitrateKbps:        s.Bitrate,
		InitialBitrateKbps: s.InitialBitrate,
		MinBitrateKbps:     s.MinBitrate,
		MaxBitrateKbps:     s.MaxBitrate,
		EncoderAttached:    s.EncoderAttached,
		FramesPushed:       s.Counters.FramesPushed,
		FramesDelivered:    s.FramesDelivered,
		BytesPushed:        s.Counters.BytesPushed,
		Restarts:           s.Counters.Restarts,
		ThroughputBps:      s.Throughput,
		Samples:            s.Stats.Count,
		MeanLatencyMs:      ms(s.Stats.MeanLatency),
		MaxLatencyMs:       ms(s.Stats.MaxLatency),
		MeanJitterMs:       ms(s.Stats.MeanJitter),
		MaxJitterMs:        ms(s.Stats.MaxJitter),
		MeanProductionMs:   ms(s.Stats.MeanProductionTime),
		BitrateChanges:     s.BitrateChanges,
		AdapterCycles:      s.AdapterCycles,
		EncoderMisses:      s.EncoderMisses,
		StartedAt:          s.StartedAt,
	}
}

// BitrateChangeResponse is one entry of a stream's bitrate history.
type BitrateChangeResponse struct {
	At            time.Time `json:"at"`
	FromKbps      int       `json:"from_kbps"`
	ToKbps        int       `json:"to_kbps"`
	MeanLatencyMs float64   `json:"mean_latency_ms"`
}

// RunResponse is the API view of a benchmark run.
type RunResponse struct {
	ID            models.ULID      `json:"id"`
	StartedAt     time.Time        `json:"started_at"`
	EndedAt       *time.Time       `json:"ended_at,omitempty"`
	DurationMs    int64            `json:"duration_ms"`
	Status        models.RunStatus `json:"status"`
	Error         string           `json:"error,omitempty"`
	Version       string           `json:"version"`
	Hostname      string           `json:"hostname"`
	CPUModel      string           `json:"cpu_model,omitempty"`
	CPUCores      int              `json:"cpu_cores"`
	MemoryTotal   uint64           `json:"memory_total"`
	LoadAverage1  float64          `json:"load_average_1"`
	StreamCount   int              `json:"stream_count"`
	AdaptiveCount int              `json:"adaptive_count"`
	Results       []ResultResponse `json:"results,omitempty"`
}

// RunFromModel converts a run. now is used for the duration of running runs.
func RunFromModel(r *models.Run, now time.Time) RunResponse {
	resp := RunResponse{
		ID:            r.ID,
		StartedAt:     r.StartedAt,
		EndedAt:       r.EndedAt,
		DurationMs:    r.Duration(now).Milliseconds(),
		Status:        r.Status,
		Error:         r.Error,
		Version:       r.Version,
		Hostname:      r.Hostname,
		CPUModel:      r.CPUModel,
		CPUCores:      r.CPUCores,
		MemoryTotal:   r.MemoryTotal,
		LoadAverage1:  r.LoadAverage1,
		StreamCount:   r.StreamCount,
		AdaptiveCount: r.AdaptiveCount,
	}
	for _, res := range r.Results {
		resp.Results = append(resp.Results, ResultFromModel(res))
	}
	return resp
}

// ResultResponse is one stream's final measurement in a run.
type ResultResponse struct {
	StreamName         string  `json:"stream_name"`
	Adaptive           bool    `json:"adaptive"`
	AssetPath          string  `json:"asset_path"`
	FrameRate          float64 `json:"frame_rate"`
	InitialBitrateKbps int     `json:"initial_bitrate_kbps"`
	FinalBitrateKbps   int     `json:"final_bitrate_kbps"`
	FramesPushed       uint64  `json:"frames_pushed"`
	FramesDelivered    uint64  `json:"frames_delivered"`
	BytesPushed        uint64  `json:"bytes_pushed"`
	Restarts           uint64  `json:"restarts"`
	MeanLatencyMs      float64 `json:"mean_latency_ms"`
	MaxLatencyMs       float64 `json:"max_latency_ms"`
	MeanJitterMs       float64 `json:"mean_jitter_ms"`
	MaxJitterMs        float64 `json:"max_jitter_ms"`
	BitrateChanges     int     `json:"bitrate_changes"`
	EncoderMisses      uint64  `json:"encoder_misses"`
}

// ResultFromModel converts a stream result.
func ResultFromModel(r models.StreamResult) ResultResponse {
	return ResultResponse{
		StreamName:         r.StreamName,
		Adaptive:           r.Adaptive,
		AssetPath:          r.AssetPath,
		FrameRate:          r.FrameRate,
		InitialBitrateKbps: r.InitialBitrate,
		FinalBitrateKbps:   r.FinalBitrate,
		FramesPushed:       r.FramesPushed,
		FramesDelivered:    r.FramesDelivered,
		BytesPushed:        r.BytesPushed,
		Restarts:           r.Restarts,
		MeanLatencyMs:      ms(r.MeanLatency),
		MaxLatencyMs:       ms(r.MaxLatency),
		MeanJitterMs:       ms(r.MeanJitter),
		MaxJitterMs:        ms(r.MaxJitter),
		BitrateChanges:     r.BitrateChanges,
		EncoderMisses:      r.EncoderMisses,
	}
}

// SnapshotResponse is one persisted periodic sample.
type SnapshotResponse struct {
	StreamName    string    `json:"stream_name"`
	TakenAt       time.Time `json:"taken_at"`
	BitrateKbps   int       `json:"bitrate_kbps"`
	FramesPushed  uint64    `json:"frames_pushed"`
	MeanLatencyMs float64   `json:"mean_latency_ms"`
	MeanJitterMs  float64   `json:"mean_jitter_ms"`
	ThroughputBps uint64    `json:"throughput_bps"`
}

// SnapshotFromModel converts a persisted snapshot.
func SnapshotFromModel(s models.Snapshot) SnapshotResponse {
	return SnapshotResponse{
		StreamName:    s.StreamName,
		TakenAt:       s.TakenAt,
		BitrateKbps:   s.Bitrate,
		FramesPushed:  s.FramesPushed,
		MeanLatencyMs: ms(s.MeanLatency),
		MeanJitterMs:  ms(s.MeanJitter),
		ThroughputBps: s.ThroughputBps,
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func msSlice(ds []time.Duration) []float64 {
	out := make([]float64, len(ds))
	for i, d := range ds {
		out[i] = ms(d)
	}
	return out
}
