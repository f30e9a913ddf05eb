// Package opus packetizes synthesized mono frames into 20 ms Opus packets for
// the WebSocket synthesis stream.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/voxstudio/pkg/audio"
)

const (
	frameSizeMs = 20
	// maxPacketBytes bounds a single encoded packet.
	maxPacketBytes = 4000
)

// Encoder buffers mono float frames and emits one Opus packet per 20 ms of
// audio. Not safe for concurrent use; create one per stream.
type Encoder struct {
	enc       *gopus.Encoder
	rate      int
	frameSize int
	pending   []float32
}

// NewEncoder returns an encoder for audio produced at sourceRate. Rates Opus
// does not support natively are resampled to 48 kHz.
func NewEncoder(sourceRate int) (*Encoder, error) {
	if sourceRate <= 0 {
		return nil, fmt.Errorf("opus: invalid source sample rate %d", sourceRate)
	}
	rate := EncoderRate(sourceRate)
	enc, err := gopus.NewEncoder(rate, 1, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{
		enc:       enc,
		rate:      rate,
		frameSize: rate * frameSizeMs / 1000,
	}, nil
}

// EncoderRate returns the rate the encoder runs at for sourceRate.
func EncoderRate(sourceRate int) int {
	switch sourceRate {
	case 8000, 12000, 16000, 24000, 48000:
		return sourceRate
	default:
		return 48000
	}
}

// SampleRate returns the rate of the encoded stream.
func (e *Encoder) SampleRate() int { return e.rate }

// Encode appends f to the internal buffer and returns every complete packet.
func (e *Encoder) Encode(f audio.Frame) ([][]byte, error) {
	samples := f.Samples
	if f.SampleRate != e.rate {
		samples = audio.Resample(samples, f.SampleRate, e.rate)
	}
	e.pending = append(e.pending, samples...)

	var packets [][]byte
	for len(e.pending) >= e.frameSize {
		pkt, err := e.encodeFrame(e.pending[:e.frameSize])
		if err != nil {
			return packets, err
		}
		packets = append(packets, pkt)
		e.pending = e.pending[e.frameSize:]
	}
	return packets, nil
}

// Flush zero-pads any buffered remainder into a final packet. It returns nil
// when nothing is pending.
func (e *Encoder) Flush() ([]byte, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	last := make([]float32, e.frameSize)
	copy(last, e.pending)
	e.pending = nil
	return e.encodeFrame(last)
}

func (e *Encoder) encodeFrame(samples []float32) ([]byte, error) {
	pkt, err := e.enc.Encode(audio.FloatToInt16(samples), e.frameSize, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return pkt, nil
}
