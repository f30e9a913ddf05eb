// Package audio holds the audio primitives shared by the synthesis and
// recognition layers: mono float frames, reference clips on disk, WAV
// encoding and simple sample-rate conversion.
package audio

import "time"

// Frame is one chunk of synthesized mono audio. Samples are normalised to
// [-1, 1]; SampleRate is the engine's native output rate.
type Frame struct {
	SampleRate int
	Samples    []float32
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Silence returns one second of zeros at sampleRate. It is the placeholder
// emitted when a synthesis request is rejected before reaching the engine.
func Silence(sampleRate int) Frame {
	if sampleRate < 0 {
		sampleRate = 0
	}
	return Frame{SampleRate: sampleRate, Samples: make([]float32, sampleRate)}
}

// IsSilent reports whether every sample in f is exactly zero.
func (f Frame) IsSilent() bool {
	for _, s := range f.Samples {
		if s != 0 {
			return false
		}
	}
	return true
}

// Clip is a reference recording stored on local disk. Uploaded and recorded
// clips are both represented as clips once spooled.
type Clip struct {
	// Path is the absolute or working-directory relative path of the file.
	Path string

	// SampleRate of the recording in Hz.
	SampleRate int

	// Channels in the recording (1 mono, 2 stereo).
	Channels int

	// Duration of the recording.
	Duration time.Duration
}
