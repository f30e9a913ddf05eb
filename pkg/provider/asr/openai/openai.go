// Package openai provides an asr.Engine backed by the OpenAI audio
// transcription API. It is typically configured as a fallback behind a local
// SenseVoice server.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxstudio/pkg/provider/asr"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

var _ asr.Engine = (*Engine)(nil)

// Engine implements asr.Engine using the OpenAI API.
type Engine struct {
	client oai.Client
	model  oai.AudioModel
}

type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Engine.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any server speaking
// the OpenAI transcription protocol works.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an Engine. If model is empty, DefaultModel is used.
func New(apiKey, model string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai asr: apiKey must not be empty")
	}
	m := oai.AudioModel(model)
	if m == "" {
		m = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Engine{client: oai.NewClient(reqOpts...), model: m}, nil
}

// Generate implements asr.Engine. "auto" maps to server-side language
// detection; ITN and batch size have no OpenAI equivalent and are ignored.
func (e *Engine) Generate(ctx context.Context, in asr.Input) ([]asr.Result, error) {
	f, err := os.Open(in.Clip.Path)
	if err != nil {
		return nil, fmt.Errorf("openai asr: open clip: %w", err)
	}
	defer f.Close()

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(f, filepath.Base(in.Clip.Path), "audio/wav"),
		Model: e.model,
	}
	if lang := strings.TrimSpace(in.Language); lang != "" && lang != "auto" {
		params.Language = oai.String(lang)
	}

	resp, err := e.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai asr: transcribe: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return nil, nil
	}
	return []asr.Result{{Text: resp.Text}}, nil
}
