package sysstats

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollector_Collect(t *testing.T) {
	c := NewCollector()
	s := c.Collect(context.Background())

	assert.Equal(t, runtime.GOOS, s.OS)
	assert.Equal(t, runtime.GOARCH, s.Arch)
	assert.Positive(t, s.CPUCores)
	assert.Positive(t, s.Goroutines)

	if runtime.GOOS == "linux" {
		assert.Positive(t, s.MemoryTotal)
		assert.Positive(t, s.ProcessRSS)
	}

	// A second sample reuses the cached process handle.
	s2 := c.Collect(context.Background())
	assert.Equal(t, s.Hostname, s2.Hostname)
}

func TestStats_LoadPercent(t *testing.T) {
	assert.Equal(t, 0.0, Stats{}.LoadPercent())
	assert.InDelta(t, 50.0, Stats{CPUCores: 4, LoadAvg1m: 2}.LoadPercent(), 1e-9)
}
