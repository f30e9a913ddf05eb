// Package whisper provides an in-process asr.Engine backed by the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxstudio/pkg/audio"
	"github.com/MrWong99/voxstudio/pkg/provider/asr"
)

var _ asr.Engine = (*Engine)(nil)

// whisperRate is the only input rate whisper.cpp accepts.
const whisperRate = 16000

// Engine implements asr.Engine with a whisper.cpp model loaded once and
// shared across calls. Each call creates its own inference context.
type Engine struct {
	model whisperlib.Model
}

// New loads the ggml model at modelPath. The caller must call Close.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &Engine{model: model}, nil
}

// Close releases the model.
func (e *Engine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Generate implements asr.Engine. All segments are joined into one result.
func (e *Engine) Generate(ctx context.Context, in asr.Input) ([]asr.Result, error) {
	samples, rate, err := audio.LoadClip(in.Clip)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	samples = audio.Resample(samples, rate, whisperRate)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(whisperLanguage(in.Language)); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", in.Language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return []asr.Result{{Text: strings.Join(parts, " ")}}, nil
}

// whisperLanguage maps the recognition language code onto whisper.cpp's.
// whisper.cpp spells detection "auto" as well; an empty code means the same.
func whisperLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return "auto"
	}
	return lang
}
