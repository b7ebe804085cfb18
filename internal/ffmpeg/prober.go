package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNoVideoStream is returned when a probed asset carries no video stream.
var ErrNoVideoStream = errors.New("no video stream")

// ProbeResult contains the ffprobe output fields vidpace uses.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	NumStreams int    `json:"nb_streams"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"` // video, audio, subtitle, data
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	PixFmt       string `json:"pix_fmt,omitempty"`
	RFrameRate   string `json:"r_frame_rate,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	NumFrames    string `json:"nb_frames,omitempty"`
}

// AssetInfo summarizes a probed video asset.
type AssetInfo struct {
	Path      string        `json:"path"`
	Container string        `json:"container"`
	Codec     string        `json:"codec"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	FrameRate float64       `json:"frame_rate"`
	Frames    int64         `json:"frames,omitempty"`
	Duration  time.Duration `json:"duration"`
	SizeBytes int64         `json:"size_bytes"`
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new asset prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	if timeout > 0 {
		p.timeout = timeout
	}
	return p
}

// Probe runs ffprobe against path.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	output, err := exec.CommandContext(ctx, p.ffprobePath, args...).Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return ParseProbeOutput(output)
}

// ParseProbeOutput decodes ffprobe's JSON output.
func ParseProbeOutput(output []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// Inspect probes a local asset and summarizes its first video stream.
func (p *Prober) Inspect(ctx context.Context, path string) (*AssetInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat asset: %w", err)
	}

	result, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	info, err := result.AssetInfo(path)
	if err != nil {
		return nil, err
	}
	if info.SizeBytes == 0 {
		info.SizeBytes = st.Size()
	}
	return info, nil
}

// AssetInfo summarizes the result. Returns ErrNoVideoStream when the asset
// has no video.
func (r *ProbeResult) AssetInfo(path string) (*AssetInfo, error) {
	video := r.GetVideoStream()
	if video == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNoVideoStream)
	}

	info := &AssetInfo{
		Path:      path,
		Container: r.Format.FormatName,
		Codec:     video.CodecName,
		Width:     video.Width,
		Height:    video.Height,
		FrameRate: video.Framerate(),
		Duration:  r.Duration(),
	}
	if n, err := strconv.ParseInt(video.NumFrames, 10, 64); err == nil {
		info.Frames = n
	}
	if n, err := strconv.ParseInt(r.Format.Size, 10, 64); err == nil {
		info.SizeBytes = n
	}
	return info, nil
}

// GetVideoStream returns the first video stream from probe result.
func (r *ProbeResult) GetVideoStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// Duration returns the container duration.
func (r *ProbeResult) Duration() time.Duration {
	if r.Format.Duration == "" {
		return 0
	}
	if dur, err := strconv.ParseFloat(r.Format.Duration, 64); err == nil {
		return time.Duration(dur * float64(time.Second))
	}
	return 0
}

// Framerate returns the framerate for a video stream.
func (s *ProbeStream) Framerate() float64 {
	if fr := parseFramerate(s.AvgFrameRate); fr > 0 {
		return fr
	}
	return parseFramerate(s.RFrameRate)
}

// parseFramerate parses a framerate string like "30000/1001" or "25/1".
func parseFramerate(fr string) float64 {
	if fr == "" {
		return 0
	}
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}

	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}

	return num / den
}
