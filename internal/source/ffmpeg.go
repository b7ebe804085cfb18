package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmylchreest/vidpace/internal/ffmpeg"
)

// FFmpegSource decodes a video file through an ffmpeg child process that
// scales every frame to the target geometry and writes BGR24 to a pipe.
type FFmpegSource struct {
	path      string
	width     int
	height    int
	frameSize int
	ffmpeg    string
	meta      Metadata
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	cmd    *ffmpeg.Command
	reader *bufio.Reader
	loops  int
}

// NewFFmpegSource probes the asset and starts decoding it.
func NewFFmpegSource(ctx context.Context, opts Options) (*FFmpegSource, error) {
	if opts.FFmpegPath == "" {
		return nil, errors.New("ffmpeg binary not available")
	}
	if opts.FFprobePath == "" {
		return nil, errors.New("ffprobe binary not available")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info, err := ffmpeg.NewProber(opts.FFprobePath).WithTimeout(opts.ProbeTimeout).Inspect(ctx, opts.Path)
	if err != nil {
		if errors.Is(err, ffmpeg.ErrNoVideoStream) {
			return nil, fmt.Errorf("%s: %w", opts.Path, ErrNoVideo)
		}
		return nil, fmt.Errorf("probing asset: %w", err)
	}

	// The decoder outlives the constructor's context; Close cancels it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := &FFmpegSource{
		path:      opts.Path,
		width:     opts.Width,
		height:    opts.Height,
		frameSize: FrameSize(opts.Width, opts.Height),
		ffmpeg:    opts.FFmpegPath,
		logger:    logger.With(slog.String("source", KindFFmpeg), slog.String("asset", opts.Path)),
		ctx:       runCtx,
		cancel:    cancel,
		meta: Metadata{
			Kind:       KindFFmpeg,
			Path:       opts.Path,
			Codec:      info.Codec,
			Width:      info.Width,
			Height:     info.Height,
			FrameRate:  info.FrameRate,
			Frames:     info.Frames,
			Duration:   info.Duration,
			SizeBytes:  info.SizeBytes,
			FrameBytes: FrameSize(opts.Width, opts.Height),
		},
	}

	if err := s.start(); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// Metadata describes the asset.
func (s *FFmpegSource) Metadata() Metadata {
	return s.meta
}

// Loops returns how many times the asset wrapped around.
func (s *FFmpegSource) Loops() int {
	return s.loops
}

// Next returns the next frame. At end of stream the decoder is restarted
// from the beginning and ErrRestarted is returned; a trailing partial frame
// is discarded.
func (s *FFmpegSource) Next() ([]byte, error) {
	if s.cmd == nil {
		if err := s.start(); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, s.frameSize)
	_, err := io.ReadFull(s.reader, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		s.stop()
		s.loops++
		s.logger.Debug("asset exhausted, rewinding", slog.Int("loops", s.loops))
		if err := s.start(); err != nil {
			return nil, err
		}
		return nil, ErrRestarted
	default:
		s.stop()
		return nil, fmt.Errorf("reading frame: %w", err)
	}
}

// Close stops the decoder.
func (s *FFmpegSource) Close() error {
	s.cancel()
	s.stop()
	return nil
}

func (s *FFmpegSource) start() error {
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("source closed: %w", err)
	}

	cmd := ffmpeg.NewCommandBuilder(s.ffmpeg).
		HideBanner().
		Input(s.path).
		Scale(s.width, s.height).
		RawVideoOutput().
		Build()

	if err := cmd.Start(s.ctx); err != nil {
		return fmt.Errorf("starting decoder: %w", err)
	}

	s.cmd = cmd
	s.reader = bufio.NewReaderSize(cmd.Stdout(), s.frameSize)
	return nil
}

func (s *FFmpegSource) stop() {
	if s.cmd == nil {
		return
	}
	_ = s.cmd.Kill()
	if err := s.cmd.Wait(); err != nil && s.ctx.Err() == nil {
		if lines := s.cmd.StderrLines(); len(lines) > 0 {
			s.logger.Debug("decoder exited", slog.String("error", err.Error()), slog.Any("stderr", lines))
		}
	}
	s.cmd = nil
	s.reader = nil
}
