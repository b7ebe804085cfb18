package ffmpeg

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

// skipIfNoFFprobe skips the test if ffprobe is not installed.
func skipIfNoFFprobe(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}
	return path
}

func writeExecutable(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-binary")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func TestFindBinary(t *testing.T) {
	t.Run("env var takes priority over PATH", func(t *testing.T) {
		fake := writeExecutable(t)
		t.Setenv("TEST_BINARY_PATH", fake)

		path, err := FindBinary("ls", "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.Equal(t, fake, path)
	})

	t.Run("finds binary on PATH when no env var", func(t *testing.T) {
		path, err := FindBinary("ls", "")
		require.NoError(t, err)
		assert.Contains(t, path, "ls")
	})

	t.Run("ignores env var if file does not exist", func(t *testing.T) {
		t.Setenv("TEST_BINARY_PATH", "/nonexistent/path/to/binary")

		path, err := FindBinary("ls", "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.NotEqual(t, "/nonexistent/path/to/binary", path)
	})

	t.Run("returns error when binary not found", func(t *testing.T) {
		path, err := FindBinary("definitely-nonexistent-binary-12345", "")
		require.Error(t, err)
		assert.Empty(t, path)
		assert.Contains(t, err.Error(), "not found")
	})
}

func TestResolve_ExplicitPath(t *testing.T) {
	fake := writeExecutable(t)

	path, err := resolve(fake, "ffmpeg", EnvFFmpegBinary)
	require.NoError(t, err)
	assert.Equal(t, fake, path)

	_, err = resolve(filepath.Join(t.TempDir(), "missing"), "ffmpeg", EnvFFmpegBinary)
	assert.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name  string
		out   string
		full  string
		major int
		minor int
	}{
		{"release", "ffmpeg version 6.1.1 Copyright (c) 2000-2023\nbuilt with gcc", "6.1.1", 6, 1},
		{"git build", "ffmpeg version n7.0-2-gabcdef Copyright", "n7.0-2-gabcdef", 7, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			full, major, minor, err := parseVersion([]byte(tt.out))
			require.NoError(t, err)
			assert.Equal(t, tt.full, full)
			assert.Equal(t, tt.major, major)
			assert.Equal(t, tt.minor, minor)
		})
	}

	_, _, _, err := parseVersion([]byte("not ffmpeg"))
	assert.Error(t, err)
}

func TestParseEncoders(t *testing.T) {
	out := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V..... rawvideo             raw video
 A....D aac                  AAC (Advanced Audio Coding)
`
	encoders := parseEncoders([]byte(out))
	assert.Equal(t, []string{"libx264", "rawvideo", "aac"}, encoders)

	info := &BinaryInfo{Encoders: encoders}
	assert.True(t, info.HasEncoder("libx264"))
	assert.False(t, info.HasEncoder("libx265"))
}

func TestBinaryInfo_SupportsMinVersion(t *testing.T) {
	info := &BinaryInfo{MajorVersion: 6, MinorVersion: 1}

	assert.True(t, info.SupportsMinVersion(5, 9))
	assert.True(t, info.SupportsMinVersion(6, 0))
	assert.True(t, info.SupportsMinVersion(6, 1))
	assert.False(t, info.SupportsMinVersion(6, 2))
	assert.False(t, info.SupportsMinVersion(7, 0))
}

func TestBinaryDetector_Caching(t *testing.T) {
	skipIfNoFFmpeg(t)

	ctx := context.Background()
	detector := NewBinaryDetector("", "").WithCacheTTL(time.Hour)

	info1, err := detector.Detect(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, info1.Version)

	info2, err := detector.Detect(ctx)
	require.NoError(t, err)
	assert.Same(t, info1, info2)
}

func TestCommandBuilder_DecodeToRawVideo(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		Input("/videos/a.mp4").
		Scale(640, 480).
		RawVideoOutput().
		Build()

	assert.Equal(t, []string{
		"-loglevel", "error",
		"-hide_banner", "-nostdin",
		"-i", "/videos/a.mp4",
		"-vf", "scale=640:480:flags=bilinear",
		"-an", "-f", "rawvideo", "-pix_fmt", "bgr24",
		"pipe:1",
	}, cmd.Args)
	assert.False(t, cmd.pipeStdin)
	assert.True(t, cmd.pipeStdout)
}

func TestCommandBuilder_EncodeFromRawVideo(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		Overwrite().
		RawVideoInput(640, 480, 29.97).
		LowLatencyX264(15).
		VideoBitrateKbps(4000).
		MpegtsArgs().
		Output("/tmp/out.ts").
		Build()

	assert.Equal(t, "ffmpeg -loglevel error -y -f rawvideo -pix_fmt bgr24 -s 640x480 -r 29.97 -i pipe:0 "+
		"-c:v libx264 -preset ultrafast -tune zerolatency -g 15 -b:v 4000k -f mpegts -flush_packets 1 /tmp/out.ts",
		cmd.String())
	assert.True(t, cmd.pipeStdin)
	assert.False(t, cmd.pipeStdout)
}

func TestCommand_WaitBeforeStart(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").Input("a").Output("b").Build()
	assert.Error(t, cmd.Wait())
	assert.NoError(t, cmd.Kill())
	assert.Zero(t, cmd.Duration())
}

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"25", 25},
		{"0/0", 0},
		{"", 0},
		{"abc", 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.InDelta(t, tt.expected, parseFramerate(tt.input), 0.0001)
		})
	}
}

func TestProbeResult_AssetInfo(t *testing.T) {
	out := []byte(`{
  "streams": [
    {"index": 0, "codec_type": "audio", "codec_name": "aac"},
    {"index": 1, "codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720,
     "avg_frame_rate": "0/0", "r_frame_rate": "25/1", "nb_frames": "250"}
  ],
  "format": {"format_name": "mov,mp4", "duration": "10.000000", "size": "1048576"}
}`)
	result, err := ParseProbeOutput(out)
	require.NoError(t, err)

	info, err := result.AssetInfo("/videos/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "h264", info.Codec)
	assert.Equal(t, 1280, info.Width)
	assert.Equal(t, 720, info.Height)
	assert.InDelta(t, 25.0, info.FrameRate, 0.001)
	assert.Equal(t, int64(250), info.Frames)
	assert.Equal(t, 10*time.Second, info.Duration)
	assert.Equal(t, int64(1048576), info.SizeBytes)
}

func TestProbeResult_AssetInfoNoVideo(t *testing.T) {
	result := &ProbeResult{Streams: []ProbeStream{{CodecType: "audio"}}}

	_, err := result.AssetInfo("/music.mp3")
	require.ErrorIs(t, err, ErrNoVideoStream)
}

func TestIntegration_DecodeAndProbe(t *testing.T) {
	ffmpegPath := skipIfNoFFmpeg(t)
	ffprobePath := skipIfNoFFprobe(t)

	ctx := context.Background()
	testFile := filepath.Join(t.TempDir(), "probe.mp4")

	gen := exec.CommandContext(ctx, ffmpegPath,
		"-y",
		"-f", "lavfi", "-i", "testsrc=duration=1:size=320x240:rate=30",
		"-c:v", "libx264", "-preset", "ultrafast",
		testFile)
	if err := gen.Run(); err != nil {
		t.Skipf("Could not create test video: %v", err)
	}

	info, err := NewProber(ffprobePath).Inspect(ctx, testFile)
	require.NoError(t, err)
	assert.Equal(t, 320, info.Width)
	assert.InDelta(t, 30.0, info.FrameRate, 0.01)
	assert.Positive(t, info.SizeBytes)

	cmd := NewCommandBuilder(ffmpegPath).HideBanner().Input(testFile).Scale(64, 48).RawVideoOutput().Build()
	require.NoError(t, cmd.Start(ctx))

	frame := make([]byte, 64*48*3)
	_, err = io.ReadFull(cmd.Stdout(), frame)
	require.NoError(t, err)

	_ = cmd.Kill()
	_ = cmd.Wait()
}
