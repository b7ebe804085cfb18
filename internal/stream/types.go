// Package stream implements the per-stream adaptive delivery controller:
// the frame pump driven by transport demand, the timing pipeline, and the
// hysteresis bitrate adapter.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/jmylchreest/vidpace/internal/config"
	"github.com/jmylchreest/vidpace/internal/metrics"
)

var (
	// ErrEncoderUnavailable means the encoder has not been configured yet or
	// refused the request. Adaptation treats it as a soft miss.
	ErrEncoderUnavailable = errors.New("encoder unavailable")

	// ErrAlreadyAttached is returned when a second encoder is attached.
	ErrAlreadyAttached = errors.New("encoder already attached")

	// ErrStreamNotFound is returned for unknown stream names.
	ErrStreamNotFound = errors.New("stream not found")
)

// DefaultFrameRate is used when neither the stream nor its asset declare one.
const DefaultFrameRate = 30.0

// Identity describes a stream. It does not change after construction.
type Identity struct {
	Name      string  `json:"name"`
	Mount     string  `json:"mount"`
	AssetPath string  `json:"asset_path"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frame_rate"`
	Adaptive  bool    `json:"adaptive"`
}

// FrameInterval returns the nominal duration of one frame.
func (id Identity) FrameInterval() time.Duration {
	fps := id.FrameRate
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	return time.Duration(float64(time.Second) / fps)
}

// Frame is one raw BGR24 picture with its presentation timing. Ownership of
// Data passes to the transport on push.
type Frame struct {
	Index    uint64
	Data     []byte
	PTS      time.Duration
	Duration time.Duration
}

// FrameSink accepts frames for delivery.
type FrameSink interface {
	PushFrame(Frame) error
}

// Encoder is the live target-bitrate parameter of a media pipeline, in kbit/s.
// Either method may return ErrEncoderUnavailable.
type Encoder interface {
	Bitrate() (int, error)
	SetBitrate(kbps int) error
}

// DemandHandler receives transport callbacks for one stream.
type DemandHandler interface {
	OnNeedData(requestedLength int)
	OnFrameDelivered()
	AttachEncoder(Encoder) error
}

// Transport is a per-stream session that consumes frames and signals demand.
// It calls AttachEncoder on its handler once its pipeline is configured.
type Transport interface {
	FrameSink
	Start(ctx context.Context, h DemandHandler) error
	Close() error
}

// TransportFactory creates the transport for a stream. cfg carries the
// sink settings and initial bitrate.
type TransportFactory func(id Identity, cfg config.StreamConfig) (Transport, error)

// ThroughputReporter is optionally implemented by transports that track
// delivered bytes per second.
type ThroughputReporter interface {
	BytesPerSecond() uint64
}

// StatsReader is the read side of a metrics.Recorder.
type StatsReader interface {
	ReadStats() (metrics.Stats, bool)
}

// Observer receives stream events, typically to export them.
type Observer interface {
	FramePushed(stream string, size int, s metrics.TimingSample)
	FrameDelivered(stream string)
	SourceRestarted(stream string)
	BitrateChanged(stream string, from, to int)
	EncoderMiss(stream string)
}

type nopObserver struct{}

func (nopObserver) FramePushed(string, int, metrics.TimingSample) {}
func (nopObserver) FrameDelivered(string)                         {}
func (nopObserver) SourceRestarted(string)                        {}
func (nopObserver) BitrateChanged(string, int, int)               {}
func (nopObserver) EncoderMiss(string)                            {}

// RestartPolicy decides what a demand callback does when the source wraps.
type RestartPolicy string

const (
	// RestartSkip returns without a frame for the callback that hit the wrap.
	RestartSkip RestartPolicy = "skip"
	// RestartSubstitute pulls the first frame of the next loop in the same callback.
	RestartSubstitute RestartPolicy = "substitute"
)
