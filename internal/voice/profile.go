// Package voice owns the library of voice profiles: the pretrained speakers
// reported by the synthesis engine plus custom profiles cloned from user
// clips and persisted one file per profile.
//
// The on-disk directory is the source of truth for which custom profiles
// exist; the in-memory registry holds their attached metadata. [Store.List]
// reconciles the two on every call.
package voice

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/voxstudio/pkg/provider/synth"
	"github.com/MrWong99/voxstudio/pkg/types"
)

// NoProfiles is the single-element listing returned when no profile exists,
// so that selection widgets always have one (empty) choice.
const NoProfiles = ""

// DefaultSampleRate is the prompt sample rate recorded for profiles whose
// record lacks one, and the default registration floor.
const DefaultSampleRate = 16000

// Origin tells pretrained speakers apart from user-created profiles.
type Origin string

const (
	OriginPretrained Origin = "pretrained"
	OriginCustom     Origin = "custom"
)

// Profile is one named speaker identity.
type Profile struct {
	Name       string
	Embedding  []float32
	SampleRate int
	Origin     Origin

	// Path is the backing file of a custom profile.
	Path string

	// SourceSampleRate is the native rate of the clip the profile was cloned
	// from.
	SourceSampleRate int

	// ModelVersion is the engine class that produced the embedding.
	ModelVersion string

	// Features are the derived zero-shot features, when the engine offers them.
	Features synth.FeatureBundle

	CreatedAt time.Time
}

// clone returns a deep copy so callers never alias registry memory.
func (p Profile) clone() Profile {
	out := p
	if p.Embedding != nil {
		out.Embedding = append([]float32(nil), p.Embedding...)
	}
	if p.Features != nil {
		out.Features = make(synth.FeatureBundle, len(p.Features))
		for k, t := range p.Features {
			out.Features[k] = synth.Tensor{
				Shape: append([]int(nil), t.Shape...),
				Data:  append([]float32(nil), t.Data...),
			}
		}
	}
	return out
}

// speaker converts p into an engine speaker table row.
func (p Profile) speaker() synth.Speaker {
	s := synth.Speaker{Name: p.Name, Embedding: p.Embedding, SampleRate: p.SampleRate}
	if p.Features != nil {
		f := p.Features
		s.Features = &f
	}
	return s
}

// ValidateName reports whether name can identify a custom profile. Names are
// case-sensitive and must be usable as a single file name.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("voice: profile name must not be empty: %w", types.ErrInvalidInput)
	case name == "." || name == "..":
		return fmt.Errorf("voice: profile name %q is reserved: %w", name, types.ErrInvalidInput)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("voice: profile name %q contains a path separator: %w", name, types.ErrInvalidInput)
	case filepath.Base(name) != name:
		return fmt.Errorf("voice: profile name %q is not a valid file name: %w", name, types.ErrInvalidInput)
	case len(name) > 200:
		return fmt.Errorf("voice: profile name is longer than 200 bytes: %w", types.ErrInvalidInput)
	}
	return nil
}
