// Package synthesis drives validated requests through the synthesis engine.
//
// The [Orchestrator] bounds the number of requests in flight, serializes
// engine access so that seeding and consuming one request form one atomic
// unit, and turns the engine's chunk stream into a FIFO stream of mono
// frames. A rejected request yields exactly one second of silence so the
// caller's output always carries audio.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/voxstudio/internal/dispatch"
	"github.com/MrWong99/voxstudio/internal/observe"
	"github.com/MrWong99/voxstudio/internal/voice"
	"github.com/MrWong99/voxstudio/pkg/audio"
	"github.com/MrWong99/voxstudio/pkg/provider/synth"
	"github.com/MrWong99/voxstudio/pkg/types"
)

const (
	// DefaultQueueDepth is the number of requests admitted at once. Further
	// requests wait.
	DefaultQueueDepth = 4

	defaultFrameBuffer = 8
)

// ProfileLookup resolves pretrained profile names. *voice.Store satisfies it.
type ProfileLookup interface {
	Lookup(name string) (voice.Profile, bool)
}

// Output is one element of a generation stream. Exactly one of Frame and Err
// is meaningful; an Err is always the last element.
type Output struct {
	Frame audio.Frame
	Err   error
}

// Generation is one running synthesis request.
type Generation struct {
	id          string
	mode        dispatch.Mode
	sampleRate  int
	diagnostics []dispatch.Diagnostic
	frames      chan Output
}

// ID identifies the request in logs and traces.
func (g *Generation) ID() string { return g.id }

// Mode returns the synthesis mode.
func (g *Generation) Mode() dispatch.Mode { return g.mode }

// SampleRate is the rate of every frame of this generation.
func (g *Generation) SampleRate() int { return g.sampleRate }

// Diagnostics returns every diagnostic raised for the request. The list is
// complete before the first frame is delivered.
func (g *Generation) Diagnostics() []dispatch.Diagnostic {
	return append([]dispatch.Diagnostic(nil), g.diagnostics...)
}

// Rejected reports whether the request was stopped before the engine.
func (g *Generation) Rejected() bool { return dispatch.HasError(g.diagnostics) }

// Frames returns the output stream. It is closed after the last element.
func (g *Generation) Frames() <-chan Output { return g.frames }

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithQueueDepth sets the admission limit. Default: [DefaultQueueDepth].
func WithQueueDepth(n int) Option {
	return func(o *Orchestrator) { o.depth = n }
}

// WithFrameBuffer sets the capacity of each generation's frame channel.
func WithFrameBuffer(n int) Option {
	return func(o *Orchestrator) { o.buffer = n }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator runs synthesis requests against one engine.
type Orchestrator struct {
	engine   synth.Engine
	profiles ProfileLookup
	depth    int
	buffer   int
	metrics  *observe.Metrics

	queue *semaphore.Weighted

	// engineMu is held from seeding until the last chunk of a request has
	// been consumed.
	engineMu sync.Mutex
}

// New creates an Orchestrator.
func New(engine synth.Engine, profiles ProfileLookup, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:   engine,
		profiles: profiles,
		depth:    DefaultQueueDepth,
		buffer:   defaultFrameBuffer,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.depth <= 0 {
		o.depth = 1
	}
	if o.buffer <= 0 {
		o.buffer = 1
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	o.queue = semaphore.NewWeighted(int64(o.depth))
	return o
}

// QueueDepth returns the admission limit.
func (o *Orchestrator) QueueDepth() int { return o.depth }

// Generate starts v and returns immediately. The caller must drain
// Frames or cancel ctx.
func (o *Orchestrator) Generate(ctx context.Context, v dispatch.Validated) *Generation {
	diags := append([]dispatch.Diagnostic(nil), v.Diagnostics...)
	speed, speedDiags := dispatch.ResolveSpeed(v.Speed, v.Stream)
	diags = append(diags, speedDiags...)

	if !dispatch.HasError(diags) && v.Mode == dispatch.ModePretrained {
		if _, ok := o.profiles.Lookup(v.Profile); !ok {
			diags = append(diags, dispatch.Diagnostic{
				Severity: dispatch.SeverityError,
				Kind:     dispatch.KindUnknownProfile,
				Message:  fmt.Sprintf("voice %q does not exist", v.Profile),
			})
		}
	}

	g := &Generation{
		id:          uuid.NewString(),
		mode:        v.Mode,
		sampleRate:  o.engine.SampleRate(),
		diagnostics: diags,
		frames:      make(chan Output, o.buffer),
	}
	log := observe.Logger(ctx).With("generation", g.id, "mode", string(v.Mode))
	for _, d := range diags {
		o.metrics.RecordDiagnostic(ctx, string(d.Severity), d.Kind)
		switch d.Severity {
		case dispatch.SeverityError:
			log.Warn("synthesis request rejected", "kind", d.Kind, "reason", d.Message)
		case dispatch.SeverityWarning:
			log.Warn("synthesis request warning", "kind", d.Kind, "reason", d.Message)
		default:
			log.Info("synthesis request note", "kind", d.Kind, "reason", d.Message)
		}
	}

	if g.Rejected() {
		g.frames <- Output{Frame: audio.Silence(g.sampleRate)}
		close(g.frames)
		o.metrics.RecordSynthesis(ctx, string(v.Mode), "rejected", 0)
		return g
	}

	params := synth.Params{
		Text:       v.Text,
		Speaker:    v.Profile,
		PromptText: v.PromptText,
		PromptClip: v.Clip,
		Instruct:   v.InstructText,
		Stream:     v.Stream,
		Speed:      speed,
		Seed:       dispatch.SeedValue(v.Seed),
	}
	go o.run(ctx, g, params)
	return g
}

func (o *Orchestrator) run(ctx context.Context, g *Generation, p synth.Params) {
	defer close(g.frames)

	mode := string(g.mode)
	ctx, span := observe.StartSpan(ctx, "synthesis.generate", trace.WithAttributes(
		attribute.String("generation.id", g.id),
		attribute.String("synthesis.mode", mode),
		attribute.Bool("synthesis.stream", p.Stream),
	))
	defer span.End()
	log := observe.Logger(ctx).With("generation", g.id, "mode", mode)
	start := time.Now()

	status := "ok"
	defer func() { o.metrics.RecordSynthesis(ctx, mode, status, time.Since(start)) }()

	o.metrics.QueueWaiting.Add(ctx, 1)
	err := o.queue.Acquire(ctx, 1)
	o.metrics.QueueWaiting.Add(ctx, -1)
	if err != nil {
		status = "canceled"
		return
	}
	defer o.queue.Release(1)

	o.engineMu.Lock()
	defer o.engineMu.Unlock()
	o.metrics.ActiveSyntheses.Add(ctx, 1)
	defer o.metrics.ActiveSyntheses.Add(ctx, -1)

	// The engine stops producing when we stop consuming.
	engineCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Debug("synthesis started", "seed", p.Seed, "speed", p.Speed, "stream", p.Stream)
	chunks, err := o.start(engineCtx, g.mode, p)
	if err != nil {
		status = "error"
		o.fail(ctx, span, g, err)
		return
	}
	defer func() {
		cancel()
		audio.Drain(chunks)
	}()

	n := 0
	for chunk := range chunks {
		if chunk.Err != nil {
			status = "error"
			o.fail(ctx, span, g, chunk.Err)
			return
		}
		frame := audio.Frame{SampleRate: g.sampleRate, Samples: audio.Flatten(chunk.Speech)}
		select {
		case g.frames <- Output{Frame: frame}:
		case <-ctx.Done():
			status = "canceled"
			return
		}
		if n == 0 {
			o.metrics.RecordFirstFrame(ctx, mode, time.Since(start))
		}
		n++
		o.metrics.RecordFrame(ctx, mode)
	}
	if ctx.Err() != nil {
		status = "canceled"
		return
	}
	log.Info("synthesis finished", "frames", n, "elapsed", time.Since(start))
}

func (o *Orchestrator) start(ctx context.Context, mode dispatch.Mode, p synth.Params) (<-chan synth.Chunk, error) {
	switch mode {
	case dispatch.ModePretrained:
		return o.engine.Pretrained(ctx, p)
	case dispatch.ModeQuickClone:
		return o.engine.ZeroShot(ctx, p)
	case dispatch.ModeCrossLingual:
		return o.engine.CrossLingual(ctx, p)
	case dispatch.ModeInstruct:
		return o.engine.Instruct(ctx, p)
	}
	return nil, fmt.Errorf("unknown mode %q", mode)
}

// fail delivers the terminal error of g. Cancellation is not an engine
// failure and is not reported.
func (o *Orchestrator) fail(ctx context.Context, span trace.Span, g *Generation, err error) {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	err = fmt.Errorf("synthesis: %s: %w: %w", g.mode, types.ErrEngineFailure, err)
	observe.RecordError(span, err)
	o.metrics.RecordEngineError(ctx, "synthesis", string(g.mode))
	observe.Logger(ctx).Error("synthesis failed", "generation", g.id, "err", err)
	select {
	case g.frames <- Output{Err: err}:
	case <-ctx.Done():
	}
}
