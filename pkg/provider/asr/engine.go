// Package asr defines the Engine interface for offline speech recognition
// backends.
//
// Recognition here is batch oriented: one reference clip in, a list of
// results out. It is used to pre-fill the prompt transcript of a cloning
// request, never in a latency-sensitive path.
//
// Implementations must be safe for concurrent use.
package asr

import (
	"context"

	"github.com/MrWong99/voxstudio/pkg/audio"
)

// DefaultModel is the recognition model loaded when none is configured.
const DefaultModel = "iic/SenseVoiceSmall"

// Input is one recognition request.
type Input struct {
	// Clip is the recording to transcribe.
	Clip audio.Clip

	// Language is a language code or "auto" for detection.
	Language string

	// UseITN enables inverse text normalisation (numbers, punctuation).
	UseITN bool

	// BatchSizeS is the dynamic batch size in seconds of audio.
	BatchSizeS int
}

// Result is one recognised segment. Text may carry leading control tags such
// as "<|zh|><|NEUTRAL|><|Speech|><|withitn|>".
type Result struct {
	Text string
}

// Engine is the abstraction over a recognition backend.
type Engine interface {
	// Generate transcribes in.Clip. An empty slice with a nil error means the
	// engine produced no result.
	Generate(ctx context.Context, in Input) ([]Result, error)
}
