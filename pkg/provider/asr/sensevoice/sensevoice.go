// Package sensevoice provides an asr.Engine backed by a FunASR/SenseVoice
// HTTP server.
//
// The server is expected to expose POST /generate accepting a multipart form
// with the clip in "file" plus the recognition options, and to reply with
// {"results":[{"text":"..."}]}.
package sensevoice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/voxstudio/pkg/provider/asr"
)

var _ asr.Engine = (*Engine)(nil)

const (
	defaultTimeout   = 2 * time.Minute
	generateEndpoint = "/generate"
)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithModel sets the model identifier sent with each request. Defaults to
// asr.DefaultModel.
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.httpClient.Timeout = d }
}

// Engine implements asr.Engine over HTTP.
type Engine struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// New creates an Engine targeting serverURL.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("sensevoice: serverURL must not be empty")
	}
	e := &Engine{
		serverURL:  strings.TrimRight(serverURL, "/"),
		model:      asr.DefaultModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

type generateResponse struct {
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
}

// Generate implements asr.Engine.
func (e *Engine) Generate(ctx context.Context, in asr.Input) ([]asr.Result, error) {
	f, err := os.Open(in.Clip.Path)
	if err != nil {
		return nil, fmt.Errorf("sensevoice: open clip: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(in.Clip.Path))
	if err != nil {
		return nil, fmt.Errorf("sensevoice: create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("sensevoice: write clip data: %w", err)
	}
	fields := map[string]string{
		"model":        e.model,
		"language":     in.Language,
		"use_itn":      strconv.FormatBool(in.UseITN),
		"batch_size_s": strconv.Itoa(in.BatchSizeS),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("sensevoice: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("sensevoice: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+generateEndpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("sensevoice: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sensevoice: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sensevoice: server returned HTTP %d", resp.StatusCode)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("sensevoice: parse JSON response: %w", err)
	}
	results := make([]asr.Result, 0, len(gr.Results))
	for _, r := range gr.Results {
		results = append(results, asr.Result{Text: r.Text})
	}
	return results, nil
}
