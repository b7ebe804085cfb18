// Package metrics records per-frame timing and exports it.
package metrics

import (
	"sync"
	"time"
)

// TimingSample is the measurement taken for one produced frame. Latency is
// the wall-clock time to produce and hand off the frame; Jitter is the
// absolute change from the previous frame's latency and is absent on the
// first frame of a stream.
type TimingSample struct {
	ProductionTime time.Duration
	Latency        time.Duration
	Jitter         time.Duration
	HasJitter      bool
}

// Stats summarizes every sample recorded so far. Means are cumulative over
// the whole stream lifetime, never windowed.
type Stats struct {
	Count              int64         `json:"count"`
	MeanLatency        time.Duration `json:"mean_latency"`
	MinLatency         time.Duration `json:"min_latency"`
	MaxLatency         time.Duration `json:"max_latency"`
	MeanProductionTime time.Duration `json:"mean_production_time"`
	JitterCount        int64         `json:"jitter_count"`
	MeanJitter         time.Duration `json:"mean_jitter"`
	MaxJitter          time.Duration `json:"max_jitter"`
}

// Series holds copies of the retained raw samples, oldest first.
type Series struct {
	ProductionTimes []time.Duration `json:"production_times"`
	Latencies       []time.Duration `json:"latencies"`
	Jitters         []time.Duration `json:"jitters"`
}

// Recorder accumulates timing samples for one stream. A single mutex guards
// every mutation and every read, so Record and ReadStats may race freely.
//
// Statistics come from running sums and are exact regardless of retention.
// Raw samples are kept for inspection, bounded to the most recent
// maxSamples per series when maxSamples > 0.
type Recorder struct {
	mu sync.Mutex

	productionTimes *ring[time.Duration]
	latencies       *ring[time.Duration]
	jitters         *ring[time.Duration]

	count         int64
	latencySum    time.Duration
	productionSum time.Duration
	minLatency    time.Duration
	maxLatency    time.Duration
	jitterCount   int64
	jitterSum     time.Duration
	maxJitter     time.Duration
}

// NewRecorder creates a recorder. maxSamples of 0 retains every sample.
func NewRecorder(maxSamples int) *Recorder {
	return &Recorder{
		productionTimes: newRing[time.Duration](maxSamples),
		latencies:       newRing[time.Duration](maxSamples),
		jitters:         newRing[time.Duration](maxSamples),
	}
}

// Record appends a sample.
func (r *Recorder) Record(s TimingSample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.productionTimes.push(s.ProductionTime)
	r.latencies.push(s.Latency)

	if r.count == 0 || s.Latency < r.minLatency {
		r.minLatency = s.Latency
	}
	if s.Latency > r.maxLatency {
		r.maxLatency = s.Latency
	}
	r.count++
	r.latencySum += s.Latency
	r.productionSum += s.ProductionTime

	if s.HasJitter {
		r.jitters.push(s.Jitter)
		r.jitterCount++
		r.jitterSum += s.Jitter
		if s.Jitter > r.maxJitter {
			r.maxJitter = s.Jitter
		}
	}
}

// ReadStats returns the statistics over all samples, or false when nothing
// has been recorded yet.
func (r *Recorder) ReadStats() (Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return Stats{}, false
	}

	st := Stats{
		Count:              r.count,
		MeanLatency:        r.latencySum / time.Duration(r.count),
		MinLatency:         r.minLatency,
		MaxLatency:         r.maxLatency,
		MeanProductionTime: r.productionSum / time.Duration(r.count),
		JitterCount:        r.jitterCount,
		MaxJitter:          r.maxJitter,
	}
	if r.jitterCount > 0 {
		st.MeanJitter = r.jitterSum / time.Duration(r.jitterCount)
	}
	return st, true
}

// Series returns copies of the retained samples.
func (r *Recorder) Series() Series {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Series{
		ProductionTimes: r.productionTimes.slice(),
		Latencies:       r.latencies.slice(),
		Jitters:         r.jitters.slice(),
	}
}

// ring is an append-only sequence that keeps at most limit items, dropping
// the oldest. limit 0 is unbounded.
type ring[T any] struct {
	limit int
	items []T
	start int
}

func newRing[T any](limit int) *ring[T] {
	return &ring[T]{limit: limit}
}

func (r *ring[T]) push(v T) {
	if r.limit <= 0 || len(r.items) < r.limit {
		r.items = append(r.items, v)
		return
	}
	r.items[r.start] = v
	r.start = (r.start + 1) % r.limit
}

func (r *ring[T]) slice() []T {
	out := make([]T, 0, len(r.items))
	out = append(out, r.items[r.start:]...)
	return append(out, r.items[:r.start]...)
}
