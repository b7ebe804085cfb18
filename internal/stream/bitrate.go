package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// BitrateState is the target bitrate of one stream, in kbit/s. Current
// always stays within [Min, Max].
type BitrateState struct {
	mu      sync.Mutex
	current int
	min     int
	max     int
	initial int
}

// NewBitrateState validates min <= initial <= max.
func NewBitrateState(initial, minKbps, maxKbps int) (*BitrateState, error) {
	if minKbps > maxKbps {
		return nil, fmt.Errorf("min bitrate %d exceeds max %d", minKbps, maxKbps)
	}
	if initial < minKbps || initial > maxKbps {
		return nil, fmt.Errorf("initial bitrate %d outside [%d, %d]", initial, minKbps, maxKbps)
	}
	return &BitrateState{current: initial, min: minKbps, max: maxKbps, initial: initial}, nil
}

// Current returns the target bitrate.
func (b *BitrateState) Current() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Initial returns the starting bitrate.
func (b *BitrateState) Initial() int {
	return b.initial
}

// Bounds returns the clamp range.
func (b *BitrateState) Bounds() (minKbps, maxKbps int) {
	return b.min, b.max
}

func (b *BitrateState) clamp(v int) int {
	return max(b.min, min(v, b.max))
}

// HysteresisPolicy moves the bitrate one step at a time to keep mean latency
// inside [Low, High]. Band widens both edges so values near a threshold do
// not cause oscillation.
type HysteresisPolicy struct {
	High         time.Duration
	Low          time.Duration
	Band         time.Duration
	DecreaseStep int
	IncreaseStep int
}

// Validate checks the thresholds and steps.
func (p HysteresisPolicy) Validate() error {
	if p.Low >= p.High {
		return fmt.Errorf("low threshold %v must be below high threshold %v", p.Low, p.High)
	}
	if p.Band < 0 {
		return fmt.Errorf("hysteresis band must not be negative")
	}
	if p.DecreaseStep < 1 || p.IncreaseStep < 1 {
		return fmt.Errorf("bitrate steps must be at least 1")
	}
	return nil
}

// Next returns the unclamped bitrate for the given mean latency: one
// decrease step above High+Band, one increase step below Low-Band, else
// unchanged.
func (p HysteresisPolicy) Next(current int, mean time.Duration) int {
	switch {
	case mean > p.High+p.Band:
		return current - p.DecreaseStep
	case mean < p.Low-p.Band:
		return current + p.IncreaseStep
	default:
		return current
	}
}

// EncoderSlot holds the encoder handle of a stream. The handle is attached
// once, when the media pipeline is ready; until then Get reports false.
type EncoderSlot struct {
	mu    sync.Mutex
	enc   Encoder
	ready atomic.Bool
}

// Attach stores enc. A second call fails with ErrAlreadyAttached.
func (s *EncoderSlot) Attach(enc Encoder) error {
	if enc == nil {
		return fmt.Errorf("attach: nil encoder")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc != nil {
		return ErrAlreadyAttached
	}
	s.enc = enc
	s.ready.Store(true)
	return nil
}

// Get returns the encoder once attached.
func (s *EncoderSlot) Get() (Encoder, bool) {
	if !s.ready.Load() {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc, true
}

// Ready reports whether an encoder is attached.
func (s *EncoderSlot) Ready() bool {
	return s.ready.Load()
}

// BitrateChange is one entry of a stream's bitrate history.
type BitrateChange struct {
	At          time.Time     `json:"at"`
	From        int           `json:"from"`
	To          int           `json:"to"`
	MeanLatency time.Duration `json:"mean_latency"`
}

// History keeps the most recent bitrate changes.
type History struct {
	mu      sync.Mutex
	limit   int
	total   int
	changes []BitrateChange
}

// NewHistory creates a history holding at most limit entries (0 = unbounded).
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Add appends a change, evicting the oldest when full.
func (h *History) Add(c BitrateChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	h.changes = append(h.changes, c)
	if h.limit > 0 && len(h.changes) > h.limit {
		h.changes = append(h.changes[:0], h.changes[len(h.changes)-h.limit:]...)
	}
}

// Total returns the number of changes ever added, including evicted ones.
func (h *History) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// List returns a copy of the changes, oldest first.
func (h *History) List() []BitrateChange {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]BitrateChange, len(h.changes))
	copy(out, h.changes)
	return out
}
