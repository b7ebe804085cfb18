package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporter_Counters(t *testing.T) {
	e := NewExporter()

	e.FramePushed("video1", 100, TimingSample{Latency: ms(5)})
	e.FramePushed("video1", 100, TimingSample{Latency: ms(7), Jitter: ms(2), HasJitter: true})
	e.FrameDelivered("video1")
	e.SourceRestarted("video1")
	e.EncoderMiss("video1")

	assert.InDelta(t, 2, testutil.ToFloat64(e.framesPushed.WithLabelValues("video1")), 0)
	assert.InDelta(t, 200, testutil.ToFloat64(e.bytesPushed.WithLabelValues("video1")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(e.framesDelivered.WithLabelValues("video1")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(e.restarts.WithLabelValues("video1")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(e.encoderMisses.WithLabelValues("video1")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(e.jitter))
}

func TestExporter_BitrateChanges(t *testing.T) {
	e := NewExporter()

	e.BitrateChanged("video2", 5000, 4000)
	e.BitrateChanged("video2", 4000, 3000)
	e.BitrateChanged("video2", 3000, 4000)

	assert.InDelta(t, 4000, testutil.ToFloat64(e.bitrate.WithLabelValues("video2")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(e.bitrateChanges.WithLabelValues("video2", "down")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(e.bitrateChanges.WithLabelValues("video2", "up")), 0)
}

func TestExporter_Handler(t *testing.T) {
	e := NewExporter()
	e.FramePushed("video1", 10, TimingSample{Latency: ms(1)})

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `vidpace_frames_pushed_total{stream="video1"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
