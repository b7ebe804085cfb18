package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/vidpace/internal/config"
	"github.com/jmylchreest/vidpace/internal/metrics"
	"github.com/jmylchreest/vidpace/internal/observability"
	"github.com/jmylchreest/vidpace/internal/source"
)

// SourceOpener opens the asset for a stream.
type SourceOpener func(ctx context.Context, opts source.Options) (source.Source, source.Metadata, error)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Streams    []config.StreamConfig
	Adaptation config.AdaptationConfig
	MaxSamples int
	// HistoryLimit bounds each stream's bitrate history (0 = unbounded).
	HistoryLimit int

	FFmpegPath   string
	FFprobePath  string
	ProbeTimeout time.Duration

	// OpenSource defaults to source.Open.
	OpenSource   SourceOpener
	NewTransport TransportFactory

	Observer Observer
	Logger   *slog.Logger
}

// StreamFailure records a stream that could not be started.
type StreamFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

type managedStream struct {
	ctrl      *Controller
	transport Transport
}

// Manager owns every configured stream. Streams are independent: one that
// fails to start is recorded and the rest keep running.
type Manager struct {
	opts   ManagerOptions
	logger *slog.Logger

	mu       sync.RWMutex
	streams  map[string]*managedStream
	failures []StreamFailure
	started  bool
}

// NewManager creates a manager. Streams are opened by Start.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.NewTransport == nil {
		return nil, errors.New("transport factory is required")
	}
	if opts.OpenSource == nil {
		opts.OpenSource = source.Open
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:    opts,
		logger:  observability.WithComponent(logger, "stream_manager"),
		streams: make(map[string]*managedStream),
	}, nil
}

// Start opens and starts every stream. It returns an error only when no
// stream could be started; individual failures are available from Failures.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.New("stream manager already started")
	}
	m.started = true

	for _, sc := range m.opts.Streams {
		ms, err := m.startStream(ctx, sc)
		if err != nil {
			observability.WithError(m.logger, err).Error("stream failed to start",
				slog.String("stream", sc.Name),
				slog.String("asset", sc.AssetPath),
			)
			m.failures = append(m.failures, StreamFailure{Name: sc.Name, Error: err.Error()})
			continue
		}
		m.streams[sc.Name] = ms
		m.logger.Info("stream started",
			slog.String("stream", sc.Name),
			slog.String("mount", ms.ctrl.Identity().Mount),
			slog.Float64("fps", ms.ctrl.Identity().FrameRate),
			slog.Bool("adaptive", sc.Adaptive),
		)
	}

	if len(m.streams) == 0 && len(m.opts.Streams) > 0 {
		return fmt.Errorf("none of %d streams started", len(m.opts.Streams))
	}
	return nil
}

func (m *Manager) startStream(ctx context.Context, sc config.StreamConfig) (*managedStream, error) {
	base := m.opts.Logger
	if base == nil {
		base = slog.Default()
	}
	logger := observability.WithStream(base, sc.Name)

	src, meta, err := m.opts.OpenSource(ctx, source.Options{
		Path:         sc.AssetPath,
		Width:        sc.Width,
		Height:       sc.Height,
		FFmpegPath:   m.opts.FFmpegPath,
		FFprobePath:  m.opts.FFprobePath,
		ProbeTimeout: m.opts.ProbeTimeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening source: %w", err)
	}

	id := Identity{
		Name:      sc.Name,
		Mount:     "/" + sc.Name,
		AssetPath: sc.AssetPath,
		Width:     sc.Width,
		Height:    sc.Height,
		FrameRate: ResolveFrameRate(sc.FrameRate, meta.FrameRate),
		Adaptive:  sc.Adaptive,
	}

	ctrl, err := NewController(Options{
		Identity:       id,
		Source:         src,
		SourceMetadata: meta,
		Sink:           &lazySink{},
		Recorder:       metrics.NewRecorder(m.opts.MaxSamples),
		InitialBitrate: sc.InitialBitrate,
		MinBitrate:     sc.MinBitrate,
		MaxBitrate:     sc.MaxBitrate,
		Policy: HysteresisPolicy{
			High:         sc.HighThreshold,
			Low:          sc.LowThreshold,
			Band:         sc.HysteresisBand,
			DecreaseStep: m.opts.Adaptation.DecreaseStep,
			IncreaseStep: m.opts.Adaptation.IncreaseStep,
		},
		AdjustmentInterval: sc.AdjustmentInterval,
		RestartPolicy:      RestartPolicy(sc.RestartPolicy),
		HistoryLimit:       m.opts.HistoryLimit,
		Observer:           m.opts.Observer,
		Logger:             base,
	})
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	tr, err := m.opts.NewTransport(id, sc)
	if err != nil {
		_ = ctrl.Close()
		return nil, fmt.Errorf("creating transport: %w", err)
	}
	ctrl.sink.(*lazySink).set(tr)

	if err := tr.Start(ctx, ctrl); err != nil {
		_ = tr.Close()
		_ = ctrl.Close()
		return nil, fmt.Errorf("starting transport: %w", err)
	}
	ctrl.Start(ctx)

	return &managedStream{ctrl: ctrl, transport: tr}, nil
}

// Stop closes every transport and controller.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ms := range m.streams {
		if err := ms.transport.Close(); err != nil {
			observability.WithError(m.logger, err).Warn("closing transport", slog.String("stream", name))
		}
		if err := ms.ctrl.Close(); err != nil {
			observability.WithError(m.logger, err).Warn("closing stream", slog.String("stream", name))
		}
	}
	m.streams = make(map[string]*managedStream)
	m.logger.Info("streams stopped")
}

// Get returns the controller of a running stream.
func (m *Manager) Get(name string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ms, ok := m.streams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, name)
	}
	return ms.ctrl, nil
}

// List returns the running controllers ordered by name.
func (m *Manager) List() []*Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Controller, 0, len(m.streams))
	for _, ms := range m.streams {
		out = append(out, ms.ctrl)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity().Name < out[j].Identity().Name
	})
	return out
}

// Snapshots returns a snapshot of every running stream ordered by name.
func (m *Manager) Snapshots() []Snapshot {
	ctrls := m.List()
	out := make([]Snapshot, len(ctrls))
	for i, c := range ctrls {
		out[i] = c.Snapshot()
	}
	return out
}

// Failures returns the streams that could not be started.
func (m *Manager) Failures() []StreamFailure {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StreamFailure, len(m.failures))
	copy(out, m.failures)
	return out
}

// ResolveFrameRate picks the configured rate, then the asset's, then DefaultFrameRate.
func ResolveFrameRate(configured, native float64) float64 {
	switch {
	case configured > 0:
		return configured
	case native > 0:
		return native
	default:
		return DefaultFrameRate
	}
}

// lazySink lets the controller be built before its transport exists.
type lazySink struct {
	mu   sync.RWMutex
	sink FrameSink
}

func (l *lazySink) set(s FrameSink) {
	l.mu.Lock()
	l.sink = s
	l.mu.Unlock()
}

func (l *lazySink) PushFrame(f Frame) error {
	l.mu.RLock()
	s := l.sink
	l.mu.RUnlock()
	if s == nil {
		return errors.New("transport not ready")
	}
	return s.PushFrame(f)
}

func (l *lazySink) BytesPerSecond() uint64 {
	l.mu.RLock()
	s := l.sink
	l.mu.RUnlock()
	if tr, ok := s.(ThroughputReporter); ok {
		return tr.BytesPerSecond()
	}
	return 0
}
