package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/vidpace/internal/metrics"
	"github.com/jmylchreest/vidpace/internal/observability"
	"github.com/jmylchreest/vidpace/internal/source"
)

// Pump produces one frame per demand callback, pushes it to the sink and
// records its timing. It never returns errors; failures are logged and the
// callback yields no frame.
type Pump struct {
	name     string
	src      source.Source
	sink     FrameSink
	recorder *metrics.Recorder
	interval time.Duration
	policy   RestartPolicy
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	// mu serializes demand callbacks.
	mu          sync.Mutex
	index       uint64
	prevLatency time.Duration
	hasPrev     bool

	nextIndex    atomic.Uint64
	pushed       atomic.Uint64
	bytes        atomic.Uint64
	restarts     atomic.Uint64
	pushErrors   atomic.Uint64
	sourceErrors atomic.Uint64
}

// PumpCounters is a point-in-time copy of the pump's counters.
type PumpCounters struct {
	FramesPushed uint64 `json:"frames_pushed"`
	BytesPushed  uint64 `json:"bytes_pushed"`
	Restarts     uint64 `json:"restarts"`
	PushErrors   uint64 `json:"push_errors"`
	SourceErrors uint64 `json:"source_errors"`
	NextIndex    uint64 `json:"next_index"`
}

// NewPump creates a pump producing frames of the given interval.
func NewPump(name string, src source.Source, sink FrameSink, recorder *metrics.Recorder, interval time.Duration) *Pump {
	return &Pump{
		name:     name,
		src:      src,
		sink:     sink,
		recorder: recorder,
		interval: interval,
		policy:   RestartSubstitute,
		observer: nopObserver{},
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// WithRestartPolicy sets what happens on the callback that hits the end of the asset.
func (p *Pump) WithRestartPolicy(policy RestartPolicy) *Pump {
	if policy != "" {
		p.policy = policy
	}
	return p
}

// WithObserver sets the event observer.
func (p *Pump) WithObserver(o Observer) *Pump {
	if o != nil {
		p.observer = o
	}
	return p
}

// WithLogger sets the logger.
func (p *Pump) WithLogger(logger *slog.Logger) *Pump {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// WithClock replaces the wall clock used for timing.
func (p *Pump) WithClock(now func() time.Time) *Pump {
	if now != nil {
		p.now = now
	}
	return p
}

// OnNeedData produces and pushes one frame. requestedLength is advisory
// and not used.
func (p *Pump) OnNeedData(requestedLength int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.now()

	data, err := p.src.Next()
	if errors.Is(err, source.ErrRestarted) {
		p.restarts.Add(1)
		p.observer.SourceRestarted(p.name)
		if p.policy == RestartSkip {
			p.logger.Debug("source restarted, skipping callback")
			return
		}
		data, err = p.src.Next()
	}
	if err != nil {
		p.sourceErrors.Add(1)
		observability.WithError(p.logger, err).Warn("frame production failed")
		return
	}

	frame := Frame{
		Index:    p.index,
		Data:     data,
		PTS:      time.Duration(p.index) * p.interval,
		Duration: p.interval,
	}
	if err := p.sink.PushFrame(frame); err != nil {
		p.pushErrors.Add(1)
		observability.WithError(p.logger, err).Warn("push frame failed", slog.Uint64("index", frame.Index))
		return
	}

	latency := p.now().Sub(start)
	sample := metrics.TimingSample{ProductionTime: latency, Latency: latency}
	if p.hasPrev {
		sample.Jitter = (latency - p.prevLatency).Abs()
		sample.HasJitter = true
	}
	p.recorder.Record(sample)

	p.prevLatency = latency
	p.hasPrev = true
	p.index++
	p.nextIndex.Store(p.index)
	p.pushed.Add(1)
	p.bytes.Add(uint64(len(data)))
	p.observer.FramePushed(p.name, len(data), sample)

	p.logger.Log(context.Background(), observability.LevelTrace, "frame pushed",
		slog.Uint64("index", frame.Index),
		slog.Duration("pts", frame.PTS),
		slog.Duration("latency", latency),
		slog.Int("requested", requestedLength),
	)
}

// Counters returns the pump's counters.
func (p *Pump) Counters() PumpCounters {
	return PumpCounters{
		FramesPushed: p.pushed.Load(),
		BytesPushed:  p.bytes.Load(),
		Restarts:     p.restarts.Load(),
		PushErrors:   p.pushErrors.Load(),
		SourceErrors: p.sourceErrors.Load(),
		NextIndex:    p.nextIndex.Load(),
	}
}
