package resilience

import (
	"context"

	"github.com/MrWong99/voxstudio/pkg/provider/asr"
)

// ASRFallback implements [asr.Engine] with failover across recognition
// backends (typically a local SenseVoice server, then whisper.cpp or OpenAI).
type ASRFallback struct {
	group *FallbackGroup[asr.Engine]
}

var _ asr.Engine = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred backend.
func NewASRFallback(primary asr.Engine, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *ASRFallback) AddFallback(name string, e asr.Engine) {
	f.group.AddFallback(name, e)
}

// Backends returns the backend names in try order.
func (f *ASRFallback) Backends() []string { return f.group.Names() }

// Generate implements asr.Engine against the first healthy backend.
func (f *ASRFallback) Generate(ctx context.Context, in asr.Input) ([]asr.Result, error) {
	return ExecuteWithResult(f.group, func(e asr.Engine) ([]asr.Result, error) {
		return e.Generate(ctx, in)
	})
}
