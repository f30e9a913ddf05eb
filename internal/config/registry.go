package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/voxstudio/pkg/provider/asr"
	"github.com/MrWong99/voxstudio/pkg/provider/synth"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// SynthesisFactory builds a synthesis engine for the model at modelDir.
type SynthesisFactory func(entry ProviderEntry, modelDir string) (synth.Engine, error)

// RecognitionFactory builds a recognition engine.
type RecognitionFactory func(entry ProviderEntry) (asr.Engine, error)

// Registry maps provider names to their constructor functions for each
// engine kind. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	synthesis   map[string]SynthesisFactory
	recognition map[string]RecognitionFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		synthesis:   make(map[string]SynthesisFactory),
		recognition: make(map[string]RecognitionFactory),
	}
}

// RegisterSynthesis registers a synthesis engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSynthesis(name string, factory SynthesisFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesis[name] = factory
}

// RegisterRecognition registers a recognition engine factory under name.
func (r *Registry) RegisterRecognition(name string, factory RecognitionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognition[name] = factory
}

// CreateSynthesis instantiates the synthesis engine registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSynthesis(entry ProviderEntry, modelDir string) (synth.Engine, error) {
	r.mu.RLock()
	factory, ok := r.synthesis[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synthesis/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, modelDir)
}

// CreateRecognition instantiates the recognition engine registered under entry.Name.
func (r *Registry) CreateRecognition(entry ProviderEntry) (asr.Engine, error) {
	r.mu.RLock()
	factory, ok := r.recognition[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognition/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered provider names of kind ("synthesis" or
// "recognition"), sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "synthesis":
		for n := range r.synthesis {
			names = append(names, n)
		}
	case "recognition":
		for n := range r.recognition {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}
