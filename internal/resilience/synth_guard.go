package resilience

import (
	"context"

	"github.com/MrWong99/voxstudio/pkg/audio"
	"github.com/MrWong99/voxstudio/pkg/provider/synth"
)

// GuardedEngine wraps a [synth.Engine] with a circuit breaker. Stream starts
// and unary calls go through the breaker; metadata accessors do not.
// Optional capabilities of the wrapped engine are reachable via
// [synth.As].
type GuardedEngine struct {
	inner   synth.Engine
	breaker *CircuitBreaker
}

var (
	_ synth.Engine    = (*GuardedEngine)(nil)
	_ synth.Unwrapper = (*GuardedEngine)(nil)
)

// GuardEngine wraps e with a breaker configured by cfg.
func GuardEngine(e synth.Engine, cfg CircuitBreakerConfig) *GuardedEngine {
	if cfg.Name == "" {
		cfg.Name = "synthesis"
	}
	return &GuardedEngine{inner: e, breaker: NewCircuitBreaker(cfg)}
}

// Unwrap implements synth.Unwrapper.
func (g *GuardedEngine) Unwrap() synth.Engine { return g.inner }

// Breaker exposes the breaker for health reporting.
func (g *GuardedEngine) Breaker() *CircuitBreaker { return g.breaker }

// SampleRate implements synth.Engine.
func (g *GuardedEngine) SampleRate() int { return g.inner.SampleRate() }

// Generation implements synth.Engine.
func (g *GuardedEngine) Generation() int { return g.inner.Generation() }

// ModelDir implements synth.Engine.
func (g *GuardedEngine) ModelDir() string { return g.inner.ModelDir() }

// ListSpeakers implements synth.Engine.
func (g *GuardedEngine) ListSpeakers(ctx context.Context) ([]string, error) {
	var names []string
	err := g.breaker.Execute(func() error {
		var err error
		names, err = g.inner.ListSpeakers(ctx)
		return err
	})
	return names, err
}

// ExtractEmbedding implements synth.Engine.
func (g *GuardedEngine) ExtractEmbedding(ctx context.Context, clip audio.Clip) ([]float32, error) {
	var emb []float32
	err := g.breaker.Execute(func() error {
		var err error
		emb, err = g.inner.ExtractEmbedding(ctx, clip)
		return err
	})
	return emb, err
}

// SyncSpeakers implements synth.Engine.
func (g *GuardedEngine) SyncSpeakers(ctx context.Context, speakers []synth.Speaker) error {
	return g.breaker.Execute(func() error {
		return g.inner.SyncSpeakers(ctx, speakers)
	})
}

// Pretrained implements synth.Engine.
func (g *GuardedEngine) Pretrained(ctx context.Context, p synth.Params) (<-chan synth.Chunk, error) {
	return g.start(func() (<-chan synth.Chunk, error) { return g.inner.Pretrained(ctx, p) })
}

// ZeroShot implements synth.Engine.
func (g *GuardedEngine) ZeroShot(ctx context.Context, p synth.Params) (<-chan synth.Chunk, error) {
	return g.start(func() (<-chan synth.Chunk, error) { return g.inner.ZeroShot(ctx, p) })
}

// CrossLingual implements synth.Engine.
func (g *GuardedEngine) CrossLingual(ctx context.Context, p synth.Params) (<-chan synth.Chunk, error) {
	return g.start(func() (<-chan synth.Chunk, error) { return g.inner.CrossLingual(ctx, p) })
}

// Instruct implements synth.Engine.
func (g *GuardedEngine) Instruct(ctx context.Context, p synth.Params) (<-chan synth.Chunk, error) {
	return g.start(func() (<-chan synth.Chunk, error) { return g.inner.Instruct(ctx, p) })
}

func (g *GuardedEngine) start(fn func() (<-chan synth.Chunk, error)) (<-chan synth.Chunk, error) {
	var ch <-chan synth.Chunk
	err := g.breaker.Execute(func() error {
		var err error
		ch, err = fn()
		return err
	})
	return ch, err
}
