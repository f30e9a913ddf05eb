// Package mock provides a test double for the synth.Engine interface.
//
// Use Engine to feed controlled chunks to the orchestrator and to verify which
// entry point was called with which parameters.
//
// Example:
//
//	e := &mock.Engine{
//	    Rate:     24000,
//	    Speakers: []string{"中文女"},
//	    Chunks:   [][][]float32{{{0.1, 0.2}}},
//	}
//	ch, _ := e.Pretrained(ctx, synth.Params{Text: "hi", Speaker: "中文女"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxstudio/pkg/audio"
	"github.com/MrWong99/voxstudio/pkg/provider/synth"
)

var (
	_ synth.Engine           = (*Engine)(nil)
	_ synth.FeatureExtractor = (*Engine)(nil)
	_ synth.SpeakerRefresher = (*Engine)(nil)
)

// Call records a single invocation of a synthesis entry point.
type Call struct {
	// Mode is the entry point name: "pretrained", "zero_shot",
	// "cross_lingual" or "instruct".
	Mode string
	// Params is the value passed to the entry point.
	Params synth.Params
}

// Engine is a mock implementation of synth.Engine.
type Engine struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Rate is returned by SampleRate.
	Rate int

	// Gen is returned by Generation.
	Gen int

	// Dir is returned by ModelDir.
	Dir string

	// Speakers is returned by ListSpeakers.
	Speakers []string

	// ListErr, if non-nil, is returned by ListSpeakers.
	ListErr error

	// Embedding is returned by ExtractEmbedding.
	Embedding []float32

	// EmbeddingErr, if non-nil, is returned by ExtractEmbedding.
	EmbeddingErr error

	// Features is returned by ExtractFeatures.
	Features synth.FeatureBundle

	// SyncErr, if non-nil, is returned by SyncSpeakers.
	SyncErr error

	// Chunks is the sequence of speech tensors emitted by every entry point.
	Chunks [][][]float32

	// StreamErr, if non-nil, is emitted as a terminal chunk after Chunks.
	StreamErr error

	// StartErr, if non-nil, is returned by every entry point instead of a channel.
	StartErr error

	// ProbeErr, if non-nil, is returned by Probe.
	ProbeErr error

	// ProbedRate and ProbedGen, when positive, replace Rate and Gen on a
	// successful Probe, mimicking an engine that learns its model on connect.
	ProbedRate int
	ProbedGen  int

	// Gate, if non-nil, is received from before each chunk is emitted, letting
	// tests pace the stream.
	Gate chan struct{}

	// --- Call records ---

	// Calls records every synthesis entry-point call in order.
	Calls []Call

	// SyncCalls records every table passed to SyncSpeakers.
	SyncCalls [][]synth.Speaker

	// EmbeddingCalls records every clip passed to ExtractEmbedding.
	EmbeddingCalls []audio.Clip

	// RefreshCalls counts calls to RefreshSpeakers.
	RefreshCalls int

	// ProbeCalls counts calls to Probe.
	ProbeCalls int
}

// SampleRate implements synth.Engine.
func (e *Engine) SampleRate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Rate
}

// Generation implements synth.Engine.
func (e *Engine) Generation() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Gen
}

// ModelDir implements synth.Engine.
func (e *Engine) ModelDir() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Dir
}

// ListSpeakers implements synth.Engine.
func (e *Engine) ListSpeakers(context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ListErr != nil {
		return nil, e.ListErr
	}
	return append([]string(nil), e.Speakers...), nil
}

// ExtractEmbedding implements synth.Engine.
func (e *Engine) ExtractEmbedding(_ context.Context, clip audio.Clip) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EmbeddingCalls = append(e.EmbeddingCalls, clip)
	if e.EmbeddingErr != nil {
		return nil, e.EmbeddingErr
	}
	return append([]float32(nil), e.Embedding...), nil
}

// ExtractFeatures implements synth.FeatureExtractor.
func (e *Engine) ExtractFeatures(context.Context, audio.Clip, string) (synth.FeatureBundle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Features, nil
}

// SyncSpeakers implements synth.Engine.
func (e *Engine) SyncSpeakers(_ context.Context, speakers []synth.Speaker) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.SyncCalls = append(e.SyncCalls, append([]synth.Speaker(nil), speakers...))
	return e.SyncErr
}

// RefreshSpeakers implements synth.SpeakerRefresher.
func (e *Engine) RefreshSpeakers(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.RefreshCalls++
	return nil
}

// Probe reports reachability and applies ProbedRate and ProbedGen.
func (e *Engine) Probe(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ProbeCalls++
	if e.ProbeErr != nil {
		return e.ProbeErr
	}
	if e.ProbedRate > 0 {
		e.Rate = e.ProbedRate
	}
	if e.ProbedGen > 0 {
		e.Gen = e.ProbedGen
	}
	return nil
}

// Pretrained implements synth.Engine.
func (e *Engine) Pretrained(ctx context.Context, p synth.Params) (<-chan synth.Chunk, error) {
	return e.run(ctx, "pretrained", p)
}

// ZeroShot implements synth.Engine.
func (e *Engine) ZeroShot(ctx context.Context, p synth.Params) (<-chan synth.Chunk, error) {
	return e.run(ctx, "zero_shot", p)
}

// CrossLingual implements synth.Engine.
func (e *Engine) CrossLingual(ctx context.Context, p synth.Params) (<-chan synth.Chunk, error) {
	return e.run(ctx, "cross_lingual", p)
}

// Instruct implements synth.Engine.
func (e *Engine) Instruct(ctx context.Context, p synth.Params) (<-chan synth.Chunk, error) {
	return e.run(ctx, "instruct", p)
}

// CallCount returns the number of entry-point calls so far.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// LastCall returns the most recent entry-point call. ok is false if none.
func (e *Engine) LastCall() (c Call, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Calls) == 0 {
		return Call{}, false
	}
	return e.Calls[len(e.Calls)-1], true
}

func (e *Engine) run(ctx context.Context, mode string, p synth.Params) (<-chan synth.Chunk, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, Call{Mode: mode, Params: p})
	if e.StartErr != nil {
		err := e.StartErr
		e.mu.Unlock()
		return nil, err
	}
	chunks := append([][][]float32(nil), e.Chunks...)
	streamErr := e.StreamErr
	gate := e.Gate
	e.mu.Unlock()

	ch := make(chan synth.Chunk)
	go func() {
		defer close(ch)
		for _, speech := range chunks {
			if gate != nil {
				select {
				case <-ctx.Done():
					return
				case <-gate:
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- synth.Chunk{Speech: speech}:
			}
		}
		if streamErr != nil {
			select {
			case <-ctx.Done():
			case ch <- synth.Chunk{Err: streamErr}:
			}
		}
	}()
	return ch, nil
}
