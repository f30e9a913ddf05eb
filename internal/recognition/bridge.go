// Package recognition turns a reference clip into prompt text.
//
// [Bridge.Transcribe] never fails: engine errors come back as a readable
// failure string so the prompt text field always holds something coherent.
package recognition

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/voxstudio/internal/observe"
	"github.com/MrWong99/voxstudio/pkg/audio"
	"github.com/MrWong99/voxstudio/pkg/provider/asr"
)

// FailurePrefix starts every failure string returned by Transcribe.
const FailurePrefix = "recognition failed: "

// NoResult is returned when the engine produced nothing.
const NoResult = FailurePrefix + "no result returned"

// tagTerminator closes the language/emotion/event tags the engine puts in
// front of the text.
const tagTerminator = "|>"

// Default request parameters.
const (
	DefaultLanguage   = "auto"
	DefaultBatchSizeS = 30
)

// Option configures a [Bridge].
type Option func(*Bridge)

// WithRateLimit bounds recognition calls to r per second with the given
// burst. Callers wait for a token. Default: unlimited.
func WithRateLimit(r float64, burst int) Option {
	return func(b *Bridge) {
		if r > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(r), max(burst, 1))
		}
	}
}

// WithLanguage overrides the language hint. Default: "auto".
func WithLanguage(lang string) Option {
	return func(b *Bridge) { b.language = lang }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// Bridge adapts a recognition engine to the prompt text field.
type Bridge struct {
	engine   asr.Engine
	limiter  *rate.Limiter
	language string
	metrics  *observe.Metrics
}

// New creates a Bridge over engine.
func New(engine asr.Engine, opts ...Option) *Bridge {
	b := &Bridge{
		engine:   engine,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		language: DefaultLanguage,
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Transcribe returns the text spoken in clip. A nil clip yields "".
func (b *Bridge) Transcribe(ctx context.Context, clip *audio.Clip) string {
	if clip == nil {
		return ""
	}
	ctx, span := observe.StartSpan(ctx, "recognition.transcribe")
	defer span.End()
	log := observe.Logger(ctx)
	start := time.Now()

	if err := b.limiter.Wait(ctx); err != nil {
		b.metrics.RecordRecognition(ctx, "throttled", time.Since(start))
		return FailurePrefix + err.Error()
	}

	results, err := b.engine.Generate(ctx, asr.Input{
		Clip:       *clip,
		Language:   b.language,
		UseITN:     true,
		BatchSizeS: DefaultBatchSizeS,
	})
	if err != nil {
		observe.RecordError(span, err)
		b.metrics.RecordRecognition(ctx, "error", time.Since(start))
		b.metrics.RecordEngineError(ctx, "recognition", "generate")
		log.Warn("recognition failed", "clip", clip.Path, "err", err)
		return FailurePrefix + err.Error()
	}
	if len(results) == 0 {
		b.metrics.RecordRecognition(ctx, "empty", time.Since(start))
		return NoResult
	}

	raw := results[0].Text
	text := StripTags(raw)
	log.Debug("recognition result", "raw", raw, "text", text)
	b.metrics.RecordRecognition(ctx, "ok", time.Since(start))
	return text
}

// StripTags drops everything up to and including the last tag terminator.
func StripTags(raw string) string {
	if i := strings.LastIndex(raw, tagTerminator); i >= 0 {
		return raw[i+len(tagTerminator):]
	}
	return raw
}

// SetRateLimit changes the limit applied to subsequent calls. r <= 0
// removes the limit.
func (b *Bridge) SetRateLimit(r float64, burst int) {
	if r <= 0 {
		b.limiter.SetLimit(rate.Inf)
		return
	}
	b.limiter.SetBurst(max(burst, 1))
	b.limiter.SetLimit(rate.Limit(r))
}

// IsFailure reports whether s is a failure string from Transcribe.
func IsFailure(s string) bool { return strings.HasPrefix(s, FailurePrefix) }
