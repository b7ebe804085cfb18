// Package source produces raw video frames from pre-recorded assets.
//
// A Source yields packed BGR24 buffers of a fixed geometry, one per call.
// It never runs dry: at the end of the asset it rewinds to the first frame
// and reports ErrRestarted for that call.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

var (
	// ErrRestarted is returned by Next when the asset wrapped around. The
	// call carries no frame; the following call yields the first frame.
	ErrRestarted = errors.New("source restarted from first frame")

	// ErrNoVideo is returned at construction when the asset has no video.
	ErrNoVideo = errors.New("asset has no video")
)

// Source is a sequential raw frame source. It is used by a single caller.
type Source interface {
	Next() ([]byte, error)
	Close() error
}

// Kinds of source.
const (
	KindFFmpeg        = "ffmpeg"
	KindImageSequence = "images"
)

// Metadata describes the asset behind a Source.
type Metadata struct {
	Kind       string        `json:"kind"`
	Path       string        `json:"path"`
	Codec      string        `json:"codec,omitempty"`
	Width      int           `json:"width"`       // native
	Height     int           `json:"height"`      // native
	FrameRate  float64       `json:"frame_rate"`  // native, 0 when unknown
	Frames     int64         `json:"frames"`      // 0 when unknown
	Duration   time.Duration `json:"duration"`    // 0 when unknown
	SizeBytes  int64         `json:"size_bytes"`  // total bytes on disk
	FrameBytes int           `json:"frame_bytes"` // bytes per produced frame
}

// Options configures Open.
type Options struct {
	Path   string
	Width  int
	Height int

	// FFmpegPath and FFprobePath must be set for video files.
	FFmpegPath   string
	FFprobePath  string
	ProbeTimeout time.Duration

	Logger *slog.Logger
}

// FrameSize returns the byte length of one packed BGR24 frame.
func FrameSize(width, height int) int {
	return width * height * 3
}

// Open opens path as a frame source: a directory becomes an image sequence,
// anything else is decoded through ffmpeg. Errors mean the asset is missing,
// unreadable or has no video.
func Open(ctx context.Context, opts Options) (Source, Metadata, error) {
	if opts.Width < 1 || opts.Height < 1 {
		return nil, Metadata{}, fmt.Errorf("invalid frame size %dx%d", opts.Width, opts.Height)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	st, err := os.Stat(opts.Path)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("opening asset: %w", err)
	}

	if st.IsDir() {
		src, err := NewImageSequence(opts.Path, opts.Width, opts.Height)
		if err != nil {
			return nil, Metadata{}, err
		}
		return src, src.Metadata(), nil
	}

	src, err := NewFFmpegSource(ctx, opts)
	if err != nil {
		return nil, Metadata{}, err
	}
	return src, src.Metadata(), nil
}
