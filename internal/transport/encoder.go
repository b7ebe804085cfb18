package transport

import (
	"sync"

	"github.com/jmylchreest/vidpace/internal/stream"
)

// EncoderParams is the live target-bitrate parameter of a session's encoder.
// It reports stream.ErrEncoderUnavailable until the pipeline marks it ready.
type EncoderParams struct {
	mu       sync.Mutex
	kbps     int
	ready    bool
	onChange func(kbps int)
}

// NewEncoderParams creates parameters holding the initial bitrate. onChange
// is called with every accepted value and must not block.
func NewEncoderParams(initialKbps int, onChange func(kbps int)) *EncoderParams {
	return &EncoderParams{kbps: initialKbps, onChange: onChange}
}

// MarkReady makes the parameter readable and writable.
func (p *EncoderParams) MarkReady() {
	p.mu.Lock()
	p.ready = true
	p.mu.Unlock()
}

// Ready reports whether the pipeline has been configured.
func (p *EncoderParams) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Bitrate returns the live bitrate in kbit/s.
func (p *EncoderParams) Bitrate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return 0, stream.ErrEncoderUnavailable
	}
	return p.kbps, nil
}

// SetBitrate changes the live bitrate.
func (p *EncoderParams) SetBitrate(kbps int) error {
	p.mu.Lock()
	if !p.ready {
		p.mu.Unlock()
		return stream.ErrEncoderUnavailable
	}
	changed := p.kbps != kbps
	p.kbps = kbps
	p.mu.Unlock()

	if changed && p.onChange != nil {
		p.onChange(kbps)
	}
	return nil
}

// current returns the value regardless of readiness.
func (p *EncoderParams) current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kbps
}
