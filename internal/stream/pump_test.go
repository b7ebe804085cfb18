package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidpace/internal/metrics"
)

const testInterval = time.Second / 30

func newTestPump(src *fakeSource, sink FrameSink, clock *fakeClock) (*Pump, *metrics.Recorder) {
	rec := metrics.NewRecorder(0)
	p := NewPump("test", src, sink, rec, testInterval).WithClock(clock.Now)
	return p, rec
}

func TestPump_PushesContiguousFrames(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{size: 24}
	sink := &recordingSink{}
	p, rec := newTestPump(src, sink, clock)

	for range 5 {
		p.OnNeedData(4096)
	}

	frames := sink.Frames()
	require.Len(t, frames, 5)
	for i, f := range frames {
		assert.Equal(t, uint64(i), f.Index)
		assert.Equal(t, time.Duration(i)*testInterval, f.PTS)
		assert.Equal(t, testInterval, f.Duration)
		assert.Len(t, f.Data, 24)
	}

	st, ok := rec.ReadStats()
	require.True(t, ok)
	assert.Equal(t, int64(5), st.Count)

	c := p.Counters()
	assert.Equal(t, uint64(5), c.FramesPushed)
	assert.Equal(t, uint64(120), c.BytesPushed)
	assert.Equal(t, uint64(5), c.NextIndex)
}

func TestPump_LatencyAndJitter(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{
		size:   3,
		clock:  clock,
		delays: []time.Duration{10 * time.Millisecond, 25 * time.Millisecond, 15 * time.Millisecond},
	}
	sink := &recordingSink{}
	p, rec := newTestPump(src, sink, clock)

	for range 3 {
		p.OnNeedData(0)
	}

	series := rec.Series()
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 25 * time.Millisecond, 15 * time.Millisecond}, series.Latencies)
	assert.Equal(t, series.Latencies, series.ProductionTimes)
	assert.Equal(t, []time.Duration{15 * time.Millisecond, 10 * time.Millisecond}, series.Jitters)

	st, ok := rec.ReadStats()
	require.True(t, ok)
	assert.Equal(t, int64(2), st.JitterCount)
	assert.InDelta(t, float64(50*time.Millisecond/3), float64(st.MeanLatency), float64(time.Microsecond))
}

func TestPump_RestartSubstitute(t *testing.T) {
	clock := newFakeClock()
	obs := &countingObserver{}
	src := &fakeSource{size: 3, loopLen: 2}
	sink := &recordingSink{}
	p, rec := newTestPump(src, sink, clock)
	p.WithObserver(obs).WithRestartPolicy(RestartSubstitute)

	for range 5 {
		p.OnNeedData(0)
	}

	frames := sink.Frames()
	require.Len(t, frames, 5, "every callback yields a frame")
	for i, f := range frames {
		assert.Equal(t, uint64(i), f.Index)
		assert.Equal(t, time.Duration(i)*testInterval, f.PTS, "PTS stays contiguous across restarts")
	}
	// Loop positions 0,1,0,1,0.
	assert.Equal(t, byte(0), frames[2].Data[0])
	assert.Equal(t, byte(1), frames[3].Data[0])

	assert.Equal(t, uint64(2), p.Counters().Restarts)
	assert.Equal(t, 2, obs.restarts)

	st, _ := rec.ReadStats()
	assert.Equal(t, int64(5), st.Count)
}

func TestPump_RestartSkip(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{size: 3, loopLen: 2}
	sink := &recordingSink{}
	p, rec := newTestPump(src, sink, clock)
	p.WithRestartPolicy(RestartSkip)

	for range 5 {
		p.OnNeedData(0)
	}

	// Calls: f0, f1, restart(skip), f0, f1.
	frames := sink.Frames()
	require.Len(t, frames, 4)
	for i, f := range frames {
		assert.Equal(t, uint64(i), f.Index)
		assert.Equal(t, time.Duration(i)*testInterval, f.PTS)
	}
	assert.Equal(t, uint64(1), p.Counters().Restarts)

	st, _ := rec.ReadStats()
	assert.Equal(t, int64(4), st.Count, "skipped callback records nothing")
}

func TestPump_PushFailureDoesNotAdvance(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{size: 3}
	sink := &recordingSink{}
	p, rec := newTestPump(src, sink, clock)

	p.OnNeedData(0)
	sink.setErr(errBoom)
	p.OnNeedData(0)
	p.OnNeedData(0)
	sink.setErr(nil)
	p.OnNeedData(0)

	frames := sink.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, uint64(1), frames[1].Index)
	assert.Equal(t, testInterval, frames[1].PTS)

	c := p.Counters()
	assert.Equal(t, uint64(2), c.PushErrors)
	assert.Equal(t, uint64(2), c.FramesPushed)

	st, _ := rec.ReadStats()
	assert.Equal(t, int64(2), st.Count)
}

func TestPump_SourceErrorIsContained(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{size: 3, failErr: errBoom}
	sink := &recordingSink{}
	p, rec := newTestPump(src, sink, clock)

	assert.NotPanics(t, func() { p.OnNeedData(0) })
	assert.Empty(t, sink.Frames())
	assert.Equal(t, uint64(1), p.Counters().SourceErrors)

	_, ok := rec.ReadStats()
	assert.False(t, ok)
}

func TestPump_ConcurrentCallbacks(t *testing.T) {
	src := &fakeSource{size: 3}
	sink := &recordingSink{}
	p := NewPump("test", src, sink, metrics.NewRecorder(0), testInterval)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				p.OnNeedData(0)
			}
		}()
	}
	wg.Wait()

	frames := sink.Frames()
	require.Len(t, frames, 200)
	for i, f := range frames {
		assert.Equal(t, uint64(i), f.Index)
	}
}
