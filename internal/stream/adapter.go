package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/vidpace/internal/observability"
)

// CycleResult describes one adaptation cycle.
type CycleResult struct {
	Skipped     bool          // no samples yet
	MeanLatency time.Duration
	From        int
	To          int
	Propagated  bool  // the encoder received a new value this cycle
	Miss        error // why propagation was skipped, nil when in sync
}

// Adapter periodically reads a stream's mean latency, applies the
// hysteresis policy to its bitrate and pushes the result to the encoder.
//
// The new value is written and propagated while holding the bitrate state's
// lock, so no update is lost between cycles. An encoder that is missing or
// fails is a soft miss: the internal value still moves and the next cycle
// retries with the fully adjusted value.
type Adapter struct {
	name     string
	state    *BitrateState
	stats    StatsReader
	policy   HysteresisPolicy
	slot     *EncoderSlot
	interval time.Duration
	history  *History
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	cycles atomic.Uint64
	misses atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdapter creates an adapter. It does nothing until Start or Step.
func NewAdapter(name string, state *BitrateState, stats StatsReader, slot *EncoderSlot, policy HysteresisPolicy, interval time.Duration) (*Adapter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, fmt.Errorf("adjustment interval must be positive")
	}
	return &Adapter{
		name:     name,
		state:    state,
		stats:    stats,
		policy:   policy,
		slot:     slot,
		interval: interval,
		history:  NewHistory(0),
		observer: nopObserver{},
		logger:   slog.Default(),
		now:      time.Now,
	}, nil
}

// WithHistory records bitrate changes into h.
func (a *Adapter) WithHistory(h *History) *Adapter {
	if h != nil {
		a.history = h
	}
	return a
}

// WithObserver sets the event observer.
func (a *Adapter) WithObserver(o Observer) *Adapter {
	if o != nil {
		a.observer = o
	}
	return a
}

// WithLogger sets the logger.
func (a *Adapter) WithLogger(logger *slog.Logger) *Adapter {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// WithClock replaces the clock used to timestamp history entries.
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	if now != nil {
		a.now = now
	}
	return a
}

// Start runs the adaptation loop until ctx is cancelled or Stop is called.
// Calling Start on a running adapter has no effect.
func (a *Adapter) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		return
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.run(ctx)

	a.logger.Info("bitrate adapter started", slog.Duration("interval", a.interval))
}

// Stop cancels the loop and waits for it to exit.
func (a *Adapter) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	a.wg.Wait()
	a.logger.Info("bitrate adapter stopped", slog.Uint64("cycles", a.cycles.Load()))
}

func (a *Adapter) run(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Step()
		}
	}
}

// Step runs one adaptation cycle.
func (a *Adapter) Step() CycleResult {
	a.cycles.Add(1)

	st, ok := a.stats.ReadStats()
	if !ok {
		return CycleResult{Skipped: true}
	}

	a.state.mu.Lock()
	defer a.state.mu.Unlock()

	from := a.state.current
	to := a.state.clamp(a.policy.Next(from, st.MeanLatency))
	a.state.current = to

	res := CycleResult{MeanLatency: st.MeanLatency, From: from, To: to}

	if to != from {
		a.history.Add(BitrateChange{At: a.now(), From: from, To: to, MeanLatency: st.MeanLatency})
		a.observer.BitrateChanged(a.name, from, to)
		a.logger.Info("bitrate adjusted",
			slog.Int("from_kbps", from),
			slog.Int("to_kbps", to),
			slog.Duration("mean_latency", st.MeanLatency),
		)
	}

	res.Propagated, res.Miss = a.propagate(to)
	if res.Miss != nil {
		a.misses.Add(1)
		a.observer.EncoderMiss(a.name)
		a.logger.Debug("encoder update deferred",
			slog.Int("target_kbps", to),
			slog.String("reason", res.Miss.Error()),
		)
	}
	return res
}

// propagate pushes target to the encoder when it differs from the live value.
// Called with the state lock held.
func (a *Adapter) propagate(target int) (bool, error) {
	enc, ok := a.slot.Get()
	if !ok {
		return false, ErrEncoderUnavailable
	}

	live, err := enc.Bitrate()
	if err != nil {
		return false, fmt.Errorf("reading encoder bitrate: %w", err)
	}
	if live == target {
		return false, nil
	}

	if err := enc.SetBitrate(target); err != nil {
		observability.WithError(a.logger, err).Warn("setting encoder bitrate failed", slog.Int("target_kbps", target))
		return false, fmt.Errorf("setting encoder bitrate: %w", err)
	}
	return true, nil
}

// Cycles returns how many cycles have run.
func (a *Adapter) Cycles() uint64 {
	return a.cycles.Load()
}

// Misses returns how many cycles could not reach the encoder.
func (a *Adapter) Misses() uint64 {
	return a.misses.Load()
}
