package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/vidpace/internal/config"
	"github.com/jmylchreest/vidpace/internal/ffmpeg"
	"github.com/jmylchreest/vidpace/internal/observability"
	"github.com/jmylchreest/vidpace/internal/stream"
)

// Sink is where a session delivers frames.
type Sink interface {
	// Open prepares the sink for frames of id's geometry at kbps.
	Open(ctx context.Context, id stream.Identity, kbps int) error
	WriteFrame(stream.Frame) error
	// SetBitrate must not block; it is called from the adaptation loop.
	SetBitrate(kbps int)
	Close() error
}

// DiscardSink drops frames after counting them.
type DiscardSink struct {
	frames  atomic.Uint64
	bytes   atomic.Uint64
	bitrate atomic.Int64
}

// NewDiscardSink creates a sink that drops everything.
func NewDiscardSink() *DiscardSink {
	return &DiscardSink{}
}

// Open records the initial bitrate.
func (d *DiscardSink) Open(_ context.Context, _ stream.Identity, kbps int) error {
	d.bitrate.Store(int64(kbps))
	return nil
}

// WriteFrame counts the frame.
func (d *DiscardSink) WriteFrame(f stream.Frame) error {
	d.frames.Add(1)
	d.bytes.Add(uint64(len(f.Data)))
	return nil
}

// SetBitrate records kbps.
func (d *DiscardSink) SetBitrate(kbps int) {
	d.bitrate.Store(int64(kbps))
}

// Close is a no-op.
func (d *DiscardSink) Close() error {
	return nil
}

// Frames returns the number of frames written.
func (d *DiscardSink) Frames() uint64 { return d.frames.Load() }

// Bytes returns the number of bytes written.
func (d *DiscardSink) Bytes() uint64 { return d.bytes.Load() }

// Bitrate returns the last bitrate set.
func (d *DiscardSink) Bitrate() int { return int(d.bitrate.Load()) }

// DefaultKeyframeInterval is the GOP length of the ffmpeg sink, in frames.
const DefaultKeyframeInterval = 15

// FFmpegSink encodes frames with libx264 into MPEG-TS. Output is either a
// URL handed to ffmpeg (udp://, srt://, ...) or a file that every encoder
// generation appends to. A bitrate change restarts the encoder at the next
// frame; MPEG-TS segments concatenate cleanly.
type FFmpegSink struct {
	binary string
	output string
	keyint int
	logger *slog.Logger

	ctx context.Context
	id  stream.Identity

	pending atomic.Int64 // requested bitrate, 0 when unchanged

	mu       sync.Mutex
	kbps     int
	cmd      *ffmpeg.Command
	stdin    io.WriteCloser
	file     *os.File
	copyDone chan error
	restarts int
}

// NewFFmpegSink creates a sink writing to output.
func NewFFmpegSink(binary, output string, logger *slog.Logger) *FFmpegSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegSink{
		binary: binary,
		output: output,
		keyint: DefaultKeyframeInterval,
		logger: observability.WithComponent(logger, "ffmpeg_sink"),
	}
}

func isURL(output string) bool {
	return strings.Contains(output, "://")
}

// Open starts the first encoder.
func (s *FFmpegSink) Open(ctx context.Context, id stream.Identity, kbps int) error {
	if s.output == "" {
		return errors.New("ffmpeg sink requires an output")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The encoder outlives request cancellation so Close can flush it.
	s.ctx = context.WithoutCancel(ctx)
	s.id = id
	if !isURL(s.output) {
		f, err := os.OpenFile(s.output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("opening sink output: %w", err)
		}
		s.file = f
	}
	if err := s.startLocked(kbps); err != nil {
		if s.file != nil {
			_ = s.file.Close()
			s.file = nil
		}
		return err
	}
	return nil
}

func (s *FFmpegSink) startLocked(kbps int) error {
	builder := ffmpeg.NewCommandBuilder(s.binary).
		HideBanner().
		LogLevel("error").
		RawVideoInput(s.id.Width, s.id.Height, s.id.FrameRate).
		LowLatencyX264(s.keyint).
		VideoBitrateKbps(kbps).
		MpegtsArgs()
	if s.file != nil {
		builder.Output("pipe:1")
	} else {
		builder.Output(s.output)
	}

	cmd := builder.Build()
	if err := cmd.Start(s.ctx); err != nil {
		return err
	}

	s.cmd = cmd
	s.stdin = cmd.Stdin()
	s.kbps = kbps
	s.copyDone = nil
	if s.file != nil {
		done := make(chan error, 1)
		go func(r io.Reader) {
			_, err := io.Copy(s.file, r)
			done <- err
		}(cmd.Stdout())
		s.copyDone = done
	}

	s.logger.Debug("encoder started", slog.Int("bitrate_kbps", kbps), slog.String("command", cmd.String()))
	return nil
}

func (s *FFmpegSink) stopLocked() error {
	if s.cmd == nil {
		return nil
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	var copyErr error
	if s.copyDone != nil {
		copyErr = <-s.copyDone
	}
	err := s.cmd.Wait()
	s.cmd = nil
	s.stdin = nil
	if err != nil {
		return fmt.Errorf("encoder exited: %w", err)
	}
	return copyErr
}

// WriteFrame encodes one frame, first restarting the encoder when a new
// bitrate is pending.
func (s *FFmpegSink) WriteFrame(f stream.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return errors.New("ffmpeg sink is not open")
	}

	if kbps := int(s.pending.Swap(0)); kbps > 0 && kbps != s.kbps {
		if err := s.stopLocked(); err != nil {
			observability.WithError(s.logger, err).Warn("encoder restart")
		}
		if err := s.startLocked(kbps); err != nil {
			return fmt.Errorf("restarting encoder at %dk: %w", kbps, err)
		}
		s.restarts++
		s.logger.Info("encoder bitrate applied", slog.Int("bitrate_kbps", kbps), slog.Int("restarts", s.restarts))
	}

	if _, err := s.stdin.Write(f.Data); err != nil {
		return fmt.Errorf("writing frame %d: %w", f.Index, err)
	}
	return nil
}

// SetBitrate schedules kbps for the next frame.
func (s *FFmpegSink) SetBitrate(kbps int) {
	s.pending.Store(int64(kbps))
}

// Bitrate returns the bitrate of the running encoder.
func (s *FFmpegSink) Bitrate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kbps
}

// Close flushes the encoder and closes the output file.
func (s *FFmpegSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.stopLocked()
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
		s.file = nil
	}
	return err
}

// NewSink builds the sink named by kind.
func NewSink(kind, ffmpegPath, output string, logger *slog.Logger) (Sink, error) {
	switch kind {
	case "", config.SinkDiscard:
		return NewDiscardSink(), nil
	case config.SinkFFmpeg:
		return NewFFmpegSink(ffmpegPath, output, logger), nil
	default:
		return nil, fmt.Errorf("unknown sink %q", kind)
	}
}
