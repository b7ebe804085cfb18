package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KB"},
		{921600, "900.0 KB"},
		{5 << 20, "5.0 MB"},
		{3 << 30, "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bytes(tt.in))
	}
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "1,234,567", Number(1234567))
	assert.Equal(t, "12", Number(12))
}

func TestBitrate(t *testing.T) {
	assert.Equal(t, "1,000 kbps", Bitrate(1000))
	assert.Equal(t, "9,999 kbps", Bitrate(9999))
	assert.Equal(t, "10.0 Mbps", Bitrate(10000))
	assert.Equal(t, "12.5 Mbps", Bitrate(12500))
}

func TestMillis(t *testing.T) {
	assert.Equal(t, "512.3 ms", Millis(512345*time.Microsecond))
	assert.Equal(t, "0.0 ms", Millis(0))
	assert.Equal(t, "1,500.0 ms", Millis(1500*time.Millisecond))
}

func TestChange(t *testing.T) {
	assert.Equal(t, "-25.0%", Change(200, 150))
	assert.Equal(t, "+50.0%", Change(100, 150))
	assert.Equal(t, "n/a", Change(0, 10))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, "45.7%", Percentage(45.678, 1))
	assert.Equal(t, "50%", Percentage(50, 0))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "1m30s", Duration(90*time.Second+400*time.Millisecond))
	assert.Equal(t, "2.5s", Duration(2468*time.Millisecond))
	assert.Equal(t, "12ms", Duration(12300*time.Microsecond))
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "just now", RelativeTime(now.Add(-10*time.Second), now))
	assert.Equal(t, "1 minute ago", RelativeTime(now.Add(-time.Minute), now))
	assert.Equal(t, "5 minutes ago", RelativeTime(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3 hours ago", RelativeTime(now.Add(-3*time.Hour), now))
	assert.Equal(t, "2 days ago", RelativeTime(now.Add(-49*time.Hour), now))
	assert.Equal(t, "in the future", RelativeTime(now.Add(time.Hour), now))
}
