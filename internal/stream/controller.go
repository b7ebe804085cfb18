package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/vidpace/internal/metrics"
	"github.com/jmylchreest/vidpace/internal/observability"
	"github.com/jmylchreest/vidpace/internal/source"
)

// Options configures a Controller.
type Options struct {
	Identity       Identity
	Source         source.Source
	SourceMetadata source.Metadata
	Sink           FrameSink
	Recorder       *metrics.Recorder

	InitialBitrate     int
	MinBitrate         int
	MaxBitrate         int
	Policy             HysteresisPolicy
	AdjustmentInterval time.Duration
	RestartPolicy      RestartPolicy
	HistoryLimit       int

	Observer Observer
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Controller binds one stream's source, recorder, pump and (for adaptive
// streams) bitrate adapter under a single identity.
type Controller struct {
	id       Identity
	meta     source.Metadata
	src      source.Source
	sink     FrameSink
	recorder *metrics.Recorder
	pump     *Pump
	adapter  *Adapter
	state    *BitrateState
	slot     *EncoderSlot
	history  *History
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	delivered atomic.Uint64
	startedAt time.Time

	closeOnce sync.Once
}

// NewController validates opts and wires the stream's components.
func NewController(opts Options) (*Controller, error) {
	if opts.Identity.Name == "" {
		return nil, errors.New("stream name is required")
	}
	if opts.Source == nil {
		return nil, errors.New("source is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("sink is required")
	}

	state, err := NewBitrateState(opts.InitialBitrate, opts.MinBitrate, opts.MaxBitrate)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", opts.Identity.Name, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithStream(logger, opts.Identity.Name)

	var observer Observer = nopObserver{}
	if opts.Observer != nil {
		observer = opts.Observer
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NewRecorder(0)
	}

	c := &Controller{
		id:       opts.Identity,
		meta:     opts.SourceMetadata,
		src:      opts.Source,
		sink:     opts.Sink,
		recorder: recorder,
		state:    state,
		slot:     &EncoderSlot{},
		history:  NewHistory(opts.HistoryLimit),
		observer: observer,
		logger:   logger,
		now:      now,
	}
	c.startedAt = now()

	c.pump = NewPump(c.id.Name, c.src, c.sink, c.recorder, c.id.FrameInterval()).
		WithRestartPolicy(opts.RestartPolicy).
		WithObserver(observer).
		WithLogger(observability.WithComponent(logger, "pump")).
		WithClock(now)

	if c.id.Adaptive {
		c.adapter, err = NewAdapter(c.id.Name, state, recorder, c.slot, opts.Policy, opts.AdjustmentInterval)
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", c.id.Name, err)
		}
		c.adapter.
			WithHistory(c.history).
			WithObserver(observer).
			WithLogger(observability.WithComponent(logger, "adapter")).
			WithClock(now)
	}

	// Publishes the starting value; a zero "from" is not counted as a change.
	observer.BitrateChanged(c.id.Name, 0, state.Current())
	return c, nil
}

// Identity returns the stream identity.
func (c *Controller) Identity() Identity {
	return c.id
}

// SourceMetadata describes the stream's asset.
func (c *Controller) SourceMetadata() source.Metadata {
	return c.meta
}

// OnNeedData is the transport's demand callback.
func (c *Controller) OnNeedData(requestedLength int) {
	c.pump.OnNeedData(requestedLength)
}

// OnFrameDelivered is the transport's delivery acknowledgement.
func (c *Controller) OnFrameDelivered() {
	c.delivered.Add(1)
	c.observer.FrameDelivered(c.id.Name)
}

// AttachEncoder attaches the pipeline's encoder handle. It may be called once.
func (c *Controller) AttachEncoder(enc Encoder) error {
	if err := c.slot.Attach(enc); err != nil {
		return err
	}
	c.logger.Info("encoder attached", slog.Int("bitrate_kbps", c.state.Current()))
	return nil
}

// Bitrate returns the current target bitrate in kbit/s.
func (c *Controller) Bitrate() int {
	return c.state.Current()
}

// Start launches the adaptation loop for adaptive streams.
func (c *Controller) Start(ctx context.Context) {
	if c.adapter != nil {
		c.adapter.Start(ctx)
	}
}

// Adapter returns the bitrate adapter, or nil for fixed-bitrate streams.
func (c *Controller) Adapter() *Adapter {
	return c.adapter
}

// Close stops adaptation and releases the source.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.adapter != nil {
			c.adapter.Stop()
		}
		err = c.src.Close()
	})
	return err
}

// Series returns the retained raw timing samples.
func (c *Controller) Series() metrics.Series {
	return c.recorder.Series()
}

// History returns the recorded bitrate changes.
func (c *Controller) History() []BitrateChange {
	return c.history.List()
}

// Snapshot is a point-in-time view of a stream.
type Snapshot struct {
	Identity        Identity        `json:"identity"`
	Source          source.Metadata `json:"source"`
	Bitrate         int             `json:"bitrate_kbps"`
	InitialBitrate  int             `json:"initial_bitrate_kbps"`
	MinBitrate      int             `json:"min_bitrate_kbps"`
	MaxBitrate      int             `json:"max_bitrate_kbps"`
	EncoderAttached bool            `json:"encoder_attached"`
	Counters        PumpCounters    `json:"counters"`
	FramesDelivered uint64          `json:"frames_delivered"`
	Throughput      uint64          `json:"throughput_bps"`
	Stats           metrics.Stats   `json:"stats"`
	HasStats        bool            `json:"has_stats"`
	BitrateChanges  int             `json:"bitrate_changes"`
	AdapterCycles   uint64          `json:"adapter_cycles"`
	EncoderMisses   uint64          `json:"encoder_misses"`
	StartedAt       time.Time       `json:"started_at"`
}

// Snapshot returns the stream's current state.
func (c *Controller) Snapshot() Snapshot {
	minKbps, maxKbps := c.state.Bounds()
	st, ok := c.recorder.ReadStats()

	snap := Snapshot{
		Identity:        c.id,
		Source:          c.meta,
		Bitrate:         c.state.Current(),
		InitialBitrate:  c.state.Initial(),
		MinBitrate:      minKbps,
		MaxBitrate:      maxKbps,
		EncoderAttached: c.slot.Ready(),
		Counters:        c.pump.Counters(),
		FramesDelivered: c.delivered.Load(),
		Stats:           st,
		HasStats:        ok,
		BitrateChanges:  c.history.Total(),
		StartedAt:       c.startedAt,
	}
	if tr, ok := c.sink.(ThroughputReporter); ok {
		snap.Throughput = tr.BytesPerSecond()
	}
	if c.adapter != nil {
		snap.AdapterCycles = c.adapter.Cycles()
		snap.EncoderMisses = c.adapter.Misses()
	}
	return snap
}
