// Package transport is the local real-time transport: one Session per
// stream that requests frames on demand, paces their delivery from PTS and
// exposes the encoder's live bitrate parameter.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/vidpace/internal/config"
	"github.com/jmylchreest/vidpace/internal/observability"
	"github.com/jmylchreest/vidpace/internal/source"
	"github.com/jmylchreest/vidpace/internal/stream"
)

var (
	// ErrQueueFull is returned by PushFrame when no demand was signalled.
	ErrQueueFull = errors.New("transport queue full")

	// ErrClosed is returned by PushFrame after Close.
	ErrClosed = errors.New("transport closed")
)

// SessionOptions configures a Session.
type SessionOptions struct {
	QueueDepth int
	// EncoderReadyDelay postpones encoder attachment after Start.
	EncoderReadyDelay time.Duration
	// Pace delivers each frame at its PTS relative to the first frame. When
	// false frames are delivered as fast as the sink accepts them.
	Pace   bool
	Logger *slog.Logger
	Clock  func() time.Time
}

// Session delivers one stream's frames to a Sink.
type Session struct {
	id       uuid.UUID
	identity stream.Identity
	sink     Sink
	params   *EncoderParams
	queue    chan stream.Frame
	opts     SessionOptions
	logger   *slog.Logger
	now      func() time.Time

	bandwidth *BandwidthTracker
	accepted  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	writeErrs atomic.Uint64

	// drained is signalled whenever the delivery loop takes a frame.
	drained chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSession creates a session for id writing to sink at initialKbps.
func NewSession(id stream.Identity, sink Sink, initialKbps int, opts SessionOptions) *Session {
	if opts.QueueDepth < 1 {
		opts.QueueDepth = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Session{
		id:        uuid.New(),
		identity:  id,
		sink:      sink,
		queue:     make(chan stream.Frame, opts.QueueDepth),
		opts:      opts,
		now:       opts.Clock,
		bandwidth: NewBandwidthTracker(DefaultBandwidthWindow, opts.Clock),
		drained:   make(chan struct{}, 1),
	}
	s.logger = observability.WithComponent(observability.WithStream(opts.Logger, id.Name), "transport").
		With(slog.String("session_id", s.id.String()))
	s.params = NewEncoderParams(initialKbps, sink.SetBitrate)
	return s
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Encoder returns the session's live bitrate parameter.
func (s *Session) Encoder() *EncoderParams {
	return s.params
}

// Start opens the sink and begins requesting frames from h.
func (s *Session) Start(ctx context.Context, h stream.DemandHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return errors.New("transport session already started")
	}

	if err := s.sink.Open(ctx, s.identity, s.params.current()); err != nil {
		return fmt.Errorf("opening sink: %w", err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(4)
	go s.demandLoop(ctx, h)
	go s.deliveryLoop(ctx, h)
	go s.sampleLoop(ctx)
	go s.attachEncoder(ctx, h)

	s.logger.Info("transport session started",
		slog.String("mount", s.identity.Mount),
		slog.Int("queue_depth", cap(s.queue)),
		slog.Bool("pace", s.opts.Pace),
	)
	return nil
}

// attachEncoder hands the encoder to h once the pipeline counts as configured.
func (s *Session) attachEncoder(ctx context.Context, h stream.DemandHandler) {
	defer s.wg.Done()

	if d := s.opts.EncoderReadyDelay; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}

	s.params.MarkReady()
	if err := h.AttachEncoder(s.params); err != nil {
		observability.WithError(s.logger, err).Warn("attaching encoder")
	}
}

// demandLoop signals need-data whenever the queue has room. A callback that
// yields no frame backs off for one frame interval.
func (s *Session) demandLoop(ctx context.Context, h stream.DemandHandler) {
	defer s.wg.Done()

	requested := source.FrameSize(s.identity.Width, s.identity.Height)
	backoff := s.identity.FrameInterval()

	for {
		if ctx.Err() != nil {
			return
		}

		if len(s.queue) < cap(s.queue) {
			before := s.pushedMarker()
			h.OnNeedData(requested)
			if s.pushedMarker() != before {
				continue
			}
			if !sleepCtx(ctx, backoff) {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-s.drained:
		}
	}
}

// pushedMarker changes every time a frame is accepted.
func (s *Session) pushedMarker() uint64 {
	return s.accepted.Load()
}

func (s *Session) deliveryLoop(ctx context.Context, h stream.DemandHandler) {
	defer s.wg.Done()

	var base time.Time
	for {
		var f stream.Frame
		select {
		case <-ctx.Done():
			return
		case f = <-s.queue:
		}

		select {
		case s.drained <- struct{}{}:
		default:
		}

		if s.opts.Pace {
			if base.IsZero() {
				base = s.now().Add(-f.PTS)
			}
			if wait := base.Add(f.PTS).Sub(s.now()); wait > 0 {
				if !sleepCtx(ctx, wait) {
					return
				}
			}
		}

		if err := s.sink.WriteFrame(f); err != nil {
			s.writeErrs.Add(1)
			observability.WithError(s.logger, err).Warn("sink write failed", slog.Uint64("index", f.Index))
			continue
		}

		s.bandwidth.Add(uint64(len(f.Data)))
		s.delivered.Add(1)
		h.OnFrameDelivered()
	}
}

func (s *Session) sampleLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(DefaultBandwidthSamplePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.bandwidth.Sample()
		}
	}
}

// PushFrame enqueues f for delivery. It never blocks.
func (s *Session) PushFrame(f stream.Frame) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	select {
	case s.queue <- f:
		s.accepted.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// BytesPerSecond returns the rolling delivery rate.
func (s *Session) BytesPerSecond() uint64 {
	return s.bandwidth.CurrentBps()
}

// SessionStats is a point-in-time view of a session.
type SessionStats struct {
	ID             string   `json:"id"`
	QueueLength    int      `json:"queue_length"`
	Delivered      uint64   `json:"delivered"`
	Dropped        uint64   `json:"dropped"`
	WriteErrors    uint64   `json:"write_errors"`
	TotalBytes     uint64   `json:"total_bytes"`
	BytesPerSecond uint64   `json:"bytes_per_second"`
	History        []uint64 `json:"history,omitempty"`
	EncoderReady   bool     `json:"encoder_ready"`
	EncoderBitrate int      `json:"encoder_bitrate_kbps"`
}

// Stats returns the session's counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		ID:             s.id.String(),
		QueueLength:    len(s.queue),
		Delivered:      s.delivered.Load(),
		Dropped:        s.dropped.Load(),
		WriteErrors:    s.writeErrs.Load(),
		TotalBytes:     s.bandwidth.TotalBytes(),
		BytesPerSecond: s.bandwidth.CurrentBps(),
		History:        s.bandwidth.History(),
		EncoderReady:   s.params.Ready(),
		EncoderBitrate: s.params.current(),
	}
}

// Close stops the loops and closes the sink.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	if !started {
		return nil
	}
	if err := s.sink.Close(); err != nil {
		return fmt.Errorf("closing sink: %w", err)
	}
	s.logger.Info("transport session closed", slog.Uint64("delivered", s.delivered.Load()))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// NewFactory returns a stream.TransportFactory building sessions from cfg.
func NewFactory(cfg config.TransportConfig, ffmpegPath string, logger *slog.Logger) stream.TransportFactory {
	return func(id stream.Identity, sc config.StreamConfig) (stream.Transport, error) {
		output := sc.Output
		if sc.Sink == config.SinkFFmpeg && output == "" {
			output = id.Name + ".ts"
		}
		sink, err := NewSink(sc.Sink, ffmpegPath, output, logger)
		if err != nil {
			return nil, err
		}
		return NewSession(id, sink, sc.InitialBitrate, SessionOptions{
			QueueDepth:        cfg.QueueDepth,
			EncoderReadyDelay: cfg.EncoderReadyDelay,
			Pace:              true,
			Logger:            logger,
		}), nil
	}
}
