package synth

import (
	"path/filepath"
	"strings"

	"github.com/MrWong99/voxstudio/pkg/audio"
)

// Params carries the inputs of one synthesis call. Only the fields relevant to
// the chosen entry point are read.
type Params struct {
	// Text is the framed text to speak.
	Text string

	// Speaker names the pretrained speaker (Pretrained only).
	Speaker string

	// PromptText is the transcript of PromptClip (ZeroShot only).
	PromptText string

	// PromptClip is the reference recording for the cloning modes.
	PromptClip *audio.Clip

	// Instruct is the framed natural-language instruction (Instruct only).
	Instruct string

	// Stream asks the engine to yield chunks as soon as they are decoded.
	Stream bool

	// Speed is the speaking rate multiplier, already clamped by the caller.
	Speed float64

	// Seed initialises the engine's random generator before the first chunk.
	Seed int64
}

// Chunk is one unit of engine output. Speech is shaped [channels][samples];
// callers flatten it. A non-nil Err is always the last chunk on a channel.
type Chunk struct {
	Speech [][]float32
	Err    error
}

// Speaker is one row of the engine's speaker table.
type Speaker struct {
	Name       string
	Embedding  []float32
	SampleRate int
	Features   *FeatureBundle

	// Pretrained marks a speaker shipped with the model. Such entries carry
	// only the name; the engine keeps its own embedding for them.
	Pretrained bool
}

// Tensor is a dense float tensor in row-major order.
type Tensor struct {
	Shape []int     `json:"shape" msgpack:"shape"`
	Data  []float32 `json:"data" msgpack:"data"`
}

// FeatureBundle holds the derived zero-shot features of a clip, keyed by
// feature name (prompt speech tokens, flow embedding, ...). Raw text fields
// are never part of a bundle.
type FeatureBundle map[string]Tensor

// GenerationFromModelDir infers the model generation from the conventional
// directory name (CosyVoice-300M, CosyVoice2-0.5B, CosyVoice3-0.5B, ...).
func GenerationFromModelDir(dir string) int {
	base := filepath.Base(filepath.Clean(dir))
	switch {
	case strings.Contains(base, "CosyVoice3"):
		return 3
	case strings.Contains(base, "CosyVoice2"):
		return 2
	default:
		return 1
	}
}

// ModelVersion returns the engine class name recorded in profile files.
func ModelVersion(generation int) string {
	switch generation {
	case 3:
		return "CosyVoice3"
	case 2:
		return "CosyVoice2"
	default:
		return "CosyVoice"
	}
}
