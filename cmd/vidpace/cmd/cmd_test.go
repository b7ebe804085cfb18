package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/vidpace/internal/config"
	"github.com/jmylchreest/vidpace/internal/models"
	"github.com/jmylchreest/vidpace/internal/source"
)

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	return cfg
}

func TestToMap(t *testing.T) {
	type inner struct {
		Timeout time.Duration `mapstructure:"timeout"`
	}
	type outer struct {
		Name  string   `mapstructure:"name"`
		Inner inner    `mapstructure:"inner"`
		Items []inner  `mapstructure:"items"`
		Tags  []string `mapstructure:"tags"`
		Plain int
	}

	m := toMap(&outer{
		Name:  "video1",
		Inner: inner{Timeout: 1500 * time.Millisecond},
		Items: []inner{{Timeout: time.Second}},
		Tags:  []string{"a"},
		Plain: 3,
	})

	assert.Equal(t, "video1", m["name"])
	assert.Equal(t, map[string]any{"timeout": "1.5s"}, m["inner"])
	assert.Equal(t, []any{map[string]any{"timeout": "1s"}}, m["items"])
	assert.Equal(t, []any{"a"}, m["tags"])
	assert.Equal(t, 3, m["Plain"])
}

func TestWriteConfigDump(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeConfigDump(&buf, defaultConfig(t)))

	out := buf.String()
	assert.Contains(t, out, "# vidpace Configuration File")

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &parsed))
	assert.Contains(t, parsed, "server")
	assert.Contains(t, parsed, "adaptation")

	ffmpegCfg, ok := parsed["ffmpeg"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "30s", ffmpegCfg["probe_timeout"])

	streams, ok := parsed["streams"].([]any)
	require.True(t, ok)
	require.Len(t, streams, 1)
	example, ok := streams[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "assets/sample.mp4", example["asset_path"])
	assert.Equal(t, true, example["adaptive"])
}

func TestWriteMetadata(t *testing.T) {
	var buf bytes.Buffer
	meta := source.Metadata{
		Kind:       "video",
		Path:       "assets/sample.mp4",
		Codec:      "h264",
		Width:      64,
		Height:     48,
		FrameRate:  25,
		Frames:     300,
		Duration:   12 * time.Second,
		SizeBytes:  2048,
		FrameBytes: 64 * 48 * 3,
	}
	require.NoError(t, writeMetadata(&buf, meta, 0))

	out := buf.String()
	assert.Contains(t, out, "assets/sample.mp4")
	assert.Contains(t, out, "h264")
	assert.Contains(t, out, "64x48")
	assert.Contains(t, out, "25.000 fps")
	assert.Contains(t, out, "300")
	assert.Contains(t, out, "9.0 KB")
}

func TestWriteMetadata_UnknownRate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMetadata(&buf, source.Metadata{Kind: "images", Path: "frames/"}, 0))

	out := buf.String()
	assert.Contains(t, out, "unknown")
	assert.Contains(t, out, "30.000 fps", "falls back to the default rate")
	assert.NotContains(t, out, "codec:")
}

func testRun(now time.Time) *models.Run {
	started := now.Add(-2 * time.Hour)
	ended := now.Add(-time.Hour)
	run := &models.Run{
		StartedAt:     started,
		EndedAt:       &ended,
		Status:        models.RunStatusCompleted,
		Hostname:      "bench01",
		CPUModel:      "Test CPU",
		CPUCores:      8,
		MemoryTotal:   16 << 30,
		LoadAverage1:  4,
		StreamCount:   2,
		AdaptiveCount: 1,
	}
	run.ID = models.NewULIDAt(started)
	return run
}

func TestWriteRunList(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	run := testRun(now)

	var buf bytes.Buffer
	require.NoError(t, writeRunList(&buf, []*models.Run{run}, now))

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, run.ID.String())
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "bench01")
}

func TestWriteRunDetail(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	t.Run("without results", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRunDetail(&buf, testRun(now), now))
		assert.Contains(t, buf.String(), "no stream results recorded")
		assert.Contains(t, buf.String(), "Test CPU, 8 cores, 16.0 GB memory, load 4.00 (50%)")
	})

	t.Run("with results", func(t *testing.T) {
		run := testRun(now)
		run.Error = "encoder died"
		run.Results = []models.StreamResult{
			{StreamName: "video1", FramesPushed: 100, MeanLatency: 40 * time.Millisecond, InitialBitrate: 5000, FinalBitrate: 5000},
			{StreamName: "video2", Adaptive: true, FramesPushed: 100, MeanLatency: 20 * time.Millisecond, InitialBitrate: 5000, FinalBitrate: 3000, BitrateChanges: 2},
		}

		var buf bytes.Buffer
		require.NoError(t, writeRunDetail(&buf, run, now))

		out := buf.String()
		assert.Contains(t, out, "error: encoder died")
		assert.Contains(t, out, "video1")
		assert.Contains(t, out, "video2")
		assert.Contains(t, out, "adaptive vs static")
	})
}
