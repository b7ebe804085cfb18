package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultBandwidthWindow is the number of samples averaged by CurrentBps.
	DefaultBandwidthWindow = 10

	// DefaultBandwidthSamplePeriod is how often a session samples its tracker.
	DefaultBandwidthSamplePeriod = time.Second
)

type bandwidthSample struct {
	bytes   uint64
	elapsed time.Duration
}

// BandwidthTracker counts delivered bytes and reports a rolling rate over
// the last few samples. Add is lock-free; Sample and the readers share a mutex.
type BandwidthTracker struct {
	total atomic.Uint64

	mu        sync.RWMutex
	samples   []bandwidthSample
	window    int
	lastAt    time.Time
	lastTotal uint64
	now       func() time.Time
}

// NewBandwidthTracker creates a tracker averaging over window samples.
// A window below 1 uses DefaultBandwidthWindow.
func NewBandwidthTracker(window int, now func() time.Time) *BandwidthTracker {
	if window < 1 {
		window = DefaultBandwidthWindow
	}
	if now == nil {
		now = time.Now
	}
	return &BandwidthTracker{
		samples: make([]bandwidthSample, 0, window),
		window:  window,
		lastAt:  now(),
		now:     now,
	}
}

// Add records delivered bytes.
func (t *BandwidthTracker) Add(n uint64) {
	t.total.Add(n)
}

// TotalBytes returns every byte recorded so far.
func (t *BandwidthTracker) TotalBytes() uint64 {
	return t.total.Load()
}

// Sample closes the current measurement period.
func (t *BandwidthTracker) Sample() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	total := t.total.Load()

	t.samples = append(t.samples, bandwidthSample{
		bytes:   total - t.lastTotal,
		elapsed: now.Sub(t.lastAt),
	})
	if len(t.samples) > t.window {
		t.samples = append(t.samples[:0], t.samples[len(t.samples)-t.window:]...)
	}

	t.lastTotal = total
	t.lastAt = now
}

// CurrentBps returns bytes per second over the sample window, using the
// measured length of each period.
func (t *BandwidthTracker) CurrentBps() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var bytes uint64
	var elapsed time.Duration
	for _, s := range t.samples {
		bytes += s.bytes
		elapsed += s.elapsed
	}
	if elapsed <= 0 {
		return 0
	}
	return uint64(float64(bytes) / elapsed.Seconds())
}

// History returns the rate of each retained sample, oldest first.
func (t *BandwidthTracker) History() []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.samples) == 0 {
		return nil
	}
	out := make([]uint64, len(t.samples))
	for i, s := range t.samples {
		if s.elapsed > 0 {
			out[i] = uint64(float64(s.bytes) / s.elapsed.Seconds())
		}
	}
	return out
}

// SampleCount returns the number of retained samples.
func (t *BandwidthTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}
