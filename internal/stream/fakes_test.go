package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmylchreest/vidpace/internal/config"
	"github.com/jmylchreest/vidpace/internal/metrics"
	"github.com/jmylchreest/vidpace/internal/source"
)

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSource yields frames of size bytes and wraps after loopLen frames.
// Each Next advances the clock by the next entry of delays (if any).
type fakeSource struct {
	mu      sync.Mutex
	clock   *fakeClock
	delays  []time.Duration
	size    int
	loopLen int
	pos     int
	calls   int
	failErr error
	closed  bool
}

func (s *fakeSource) Next() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clock != nil && s.calls < len(s.delays) {
		s.clock.Advance(s.delays[s.calls])
	}
	s.calls++

	if s.failErr != nil {
		return nil, s.failErr
	}
	if s.loopLen > 0 && s.pos == s.loopLen {
		s.pos = 0
		return nil, source.ErrRestarted
	}
	buf := make([]byte, s.size)
	buf[0] = byte(s.pos)
	s.pos++
	return buf, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// recordingSink keeps every pushed frame and fails while failErr is set.
type recordingSink struct {
	mu      sync.Mutex
	frames  []Frame
	failErr error
}

func (s *recordingSink) PushFrame(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSink) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *recordingSink) setErr(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

// fakeEncoder is unavailable while unavailable is true.
type fakeEncoder struct {
	mu          sync.Mutex
	bitrate     int
	unavailable bool
	setErr      error
	sets        []int
}

func (e *fakeEncoder) Bitrate() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unavailable {
		return 0, ErrEncoderUnavailable
	}
	return e.bitrate, nil
}

func (e *fakeEncoder) SetBitrate(kbps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unavailable {
		return ErrEncoderUnavailable
	}
	if e.setErr != nil {
		return e.setErr
	}
	e.bitrate = kbps
	e.sets = append(e.sets, kbps)
	return nil
}

func (e *fakeEncoder) setAvailable(ok bool) {
	e.mu.Lock()
	e.unavailable = !ok
	e.mu.Unlock()
}

func (e *fakeEncoder) Sets() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, len(e.sets))
	copy(out, e.sets)
	return out
}

// scriptedStats returns one mean per call, repeating the last.
type scriptedStats struct {
	mu    sync.Mutex
	means []time.Duration
	i     int
}

func (s *scriptedStats) ReadStats() (metrics.Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.means) == 0 {
		return metrics.Stats{}, false
	}
	m := s.means[min(s.i, len(s.means)-1)]
	s.i++
	return metrics.Stats{Count: int64(s.i), MeanLatency: m}, true
}

// countingObserver counts events by kind.
type countingObserver struct {
	mu        sync.Mutex
	pushed    int
	delivered int
	restarts  int
	changes   [][2]int
	misses    int
}

func (o *countingObserver) FramePushed(string, int, metrics.TimingSample) {
	o.mu.Lock()
	o.pushed++
	o.mu.Unlock()
}

func (o *countingObserver) FrameDelivered(string) {
	o.mu.Lock()
	o.delivered++
	o.mu.Unlock()
}

func (o *countingObserver) SourceRestarted(string) {
	o.mu.Lock()
	o.restarts++
	o.mu.Unlock()
}

func (o *countingObserver) BitrateChanged(_ string, from, to int) {
	o.mu.Lock()
	o.changes = append(o.changes, [2]int{from, to})
	o.mu.Unlock()
}

func (o *countingObserver) EncoderMiss(string) {
	o.mu.Lock()
	o.misses++
	o.mu.Unlock()
}

// fakeTransport records the handler it was started with and forwards frames
// to a recordingSink.
type fakeTransport struct {
	recordingSink
	mu       sync.Mutex
	handler  DemandHandler
	startErr error
	closed   bool
}

func (t *fakeTransport) Start(_ context.Context, h DemandHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startErr != nil {
		return t.startErr
	}
	t.handler = h
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func testPolicy() HysteresisPolicy {
	return HysteresisPolicy{
		High:         500 * time.Millisecond,
		Low:          200 * time.Millisecond,
		Band:         50 * time.Millisecond,
		DecreaseStep: 1000,
		IncreaseStep: 1000,
	}
}

func testStreamConfig(name string) config.StreamConfig {
	return config.StreamConfig{
		Name:               name,
		AssetPath:          "/assets/" + name + ".mp4",
		Width:              4,
		Height:             2,
		InitialBitrate:     5000,
		MinBitrate:         1000,
		MaxBitrate:         10000,
		AdjustmentInterval: time.Hour,
		Adaptive:           true,
		RestartPolicy:      "substitute",
		Sink:               "discard",
		HighThreshold:      500 * time.Millisecond,
		LowThreshold:       200 * time.Millisecond,
		HysteresisBand:     50 * time.Millisecond,
	}
}

var errBoom = errors.New("boom")
