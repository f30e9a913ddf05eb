// Package synth defines the Engine interface for neural speech synthesis
// backends.
//
// An Engine wraps a CosyVoice-style inference service that owns the acoustic
// model and the speaker embedding extractor. It exposes one entry point per
// synthesis mode. Each entry point returns a channel of chunks that the
// implementation closes when generation completes, fails or ctx is cancelled.
//
// Engines are not required to be safe for concurrent generation; callers
// serialize entry-point calls (see internal/synthesis).
package synth

import (
	"context"

	"github.com/MrWong99/voxstudio/pkg/audio"
)

// Engine is the abstraction over a synthesis backend.
type Engine interface {
	// SampleRate is the native output rate of every chunk.
	SampleRate() int

	// Generation is the model family generation (1, 2 or 3). Generation 3
	// engines expect the system preamble in front of zero-shot prompt text.
	Generation() int

	// ModelDir is the model directory the engine was constructed from.
	ModelDir() string

	// ListSpeakers returns the pretrained speaker names in engine order.
	ListSpeakers(ctx context.Context) ([]string, error)

	// ExtractEmbedding computes the speaker embedding for clip.
	ExtractEmbedding(ctx context.Context, clip audio.Clip) ([]float32, error)

	// SyncSpeakers replaces the engine's speaker table with speakers. The
	// table always lists the pretrained speakers too, marked
	// [Speaker.Pretrained], so an engine that rebuilds its table from it keeps
	// them.
	SyncSpeakers(ctx context.Context, speakers []Speaker) error

	// Pretrained synthesizes p.Text with the pretrained speaker p.Speaker.
	Pretrained(ctx context.Context, p Params) (<-chan Chunk, error)

	// ZeroShot clones the voice in p.PromptClip, conditioned on p.PromptText.
	ZeroShot(ctx context.Context, p Params) (<-chan Chunk, error)

	// CrossLingual clones the voice in p.PromptClip without a transcript.
	CrossLingual(ctx context.Context, p Params) (<-chan Chunk, error)

	// Instruct clones the voice in p.PromptClip and follows p.Instruct.
	Instruct(ctx context.Context, p Params) (<-chan Chunk, error)
}

// FeatureExtractor is implemented by engines that can derive the zero-shot
// frontend features for a clip. Stored profiles carry them so that later
// synthesis can skip re-extraction.
type FeatureExtractor interface {
	ExtractFeatures(ctx context.Context, clip audio.Clip, promptText string) (FeatureBundle, error)
}

// SpeakerRefresher is implemented by engines that cache their speaker list and
// need to be told when the profile directory changed.
type SpeakerRefresher interface {
	RefreshSpeakers(ctx context.Context) error
}

// Unwrapper is implemented by engine decorators (circuit breakers,
// instrumentation) to expose the engine they wrap.
type Unwrapper interface {
	Unwrap() Engine
}

// As walks the decorator chain starting at e and returns the first engine
// implementing T.
func As[T any](e Engine) (T, bool) {
	for e != nil {
		if v, ok := any(e).(T); ok {
			return v, true
		}
		u, ok := e.(Unwrapper)
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	var zero T
	return zero, false
}
