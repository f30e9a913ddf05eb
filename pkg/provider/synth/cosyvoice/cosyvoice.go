// Package cosyvoice provides a synth.Engine backed by a CosyVoice inference
// server reached over HTTP.
//
// Every synthesis entry point is a multipart POST whose response body is a
// stream of little-endian int16 mono PCM at the engine's sample rate. In
// streaming mode the body is forwarded to the caller in fixed-size chunks as
// it arrives; otherwise it is buffered and emitted as a single chunk.
//
// Typical usage:
//
//	e, err := cosyvoice.New("http://localhost:50000", "pretrained_models/CosyVoice3-0.5B",
//	    cosyvoice.WithTimeout(2*time.Minute),
//	)
//	chunks, err := e.Pretrained(ctx, synth.Params{Text: text, Speaker: "中文女"})
package cosyvoice

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
	"sync"
	"time"

	"github.com/MrWong99/voxstudio/pkg/audio"
	"github.com/MrWong99/voxstudio/pkg/provider/synth"
)

// Compile-time interface assertions.
var (
	_ synth.Engine           = (*Engine)(nil)
	_ synth.FeatureExtractor = (*Engine)(nil)
	_ synth.SpeakerRefresher = (*Engine)(nil)
)

// ---- constants ----

const (
	defaultTimeout = 5 * time.Minute

	infoEndpoint         = "/info"
	speakersEndpoint     = "/speakers"
	sftEndpoint          = "/inference_sft"
	zeroShotEndpoint     = "/inference_zero_shot"
	crossLingualEndpoint = "/inference_cross_lingual"
	instructEndpoint     = "/inference_instruct2"
	embeddingEndpoint    = "/extract_embedding"
	frontendEndpoint     = "/frontend_zero_shot"
	spkInfoEndpoint      = "/spkinfo"
	refreshEndpoint      = "/refresh_spk_list"

	// chunkChanBuf is the buffer depth of the returned chunk channel.
	chunkChanBuf = 16

	// chunkMillis is the audio duration carried by one streamed chunk.
	chunkMillis = 200
)

// ---- options ----

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithTimeout sets the per-request HTTP timeout. Synthesis of long texts is
// slow; the default is five minutes.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client used for all requests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		e.httpClient = c
	}
}

// WithSampleRate overrides the output sample rate until [Engine.Probe]
// reports the server's value.
func WithSampleRate(rate int) Option {
	return func(e *Engine) {
		e.sampleRate = rate
	}
}

// ---- Engine ----

// Engine implements synth.Engine against a CosyVoice HTTP server.
type Engine struct {
	serverURL  string
	modelDir   string
	httpClient *http.Client

	mu         sync.RWMutex
	sampleRate int
	generation int
}

// New creates an Engine that targets serverURL. The generation and default
// sample rate are inferred from the model directory name until Probe is
// called.
func New(serverURL, modelDir string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("cosyvoice: serverURL must not be empty")
	}
	if modelDir == "" {
		return nil, errors.New("cosyvoice: modelDir must not be empty")
	}
	gen := synth.GenerationFromModelDir(modelDir)
	e := &Engine{
		serverURL:  strings.TrimRight(serverURL, "/"),
		modelDir:   modelDir,
		httpClient: &http.Client{Timeout: defaultTimeout},
		generation: gen,
		sampleRate: defaultSampleRate(gen),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func defaultSampleRate(generation int) int {
	if generation >= 2 {
		return 24000
	}
	return 22050
}

// ---- internal request/response types ----

type infoResponse struct {
	SampleRate int `json:"sample_rate"`
	Generation int `json:"generation"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

type frontendResponse struct {
	Features synth.FeatureBundle `json:"features"`
}

type spkInfoEntry struct {
	Name       string              `json:"name"`
	Embedding  []float32           `json:"embedding,omitempty"`
	SampleRate int                 `json:"sample_rate,omitempty"`
	Features   synth.FeatureBundle `json:"features,omitempty"`
	Pretrained bool                `json:"pretrained,omitempty"`
}

// ---- metadata ----

// SampleRate implements synth.Engine.
func (e *Engine) SampleRate() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sampleRate
}

// Generation implements synth.Engine.
func (e *Engine) Generation() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation
}

// ModelDir implements synth.Engine.
func (e *Engine) ModelDir() string { return e.modelDir }

// Probe fetches the server's sample rate and generation. Zero values in the
// response leave the current settings untouched.
func (e *Engine) Probe(ctx context.Context) error {
	var info infoResponse
	if err := e.getJSON(ctx, infoEndpoint, &info); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if info.SampleRate > 0 {
		e.sampleRate = info.SampleRate
	}
	if info.Generation > 0 {
		e.generation = info.Generation
	}
	return nil
}

// ListSpeakers implements synth.Engine.
func (e *Engine) ListSpeakers(ctx context.Context) ([]string, error) {
	var names []string
	if err := e.getJSON(ctx, speakersEndpoint, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// ExtractEmbedding implements synth.Engine.
func (e *Engine) ExtractEmbedding(ctx context.Context, clip audio.Clip) ([]float32, error) {
	body, contentType, err := buildForm(nil, &clip)
	if err != nil {
		return nil, err
	}
	var resp embeddingResponse
	if err := e.postJSON(ctx, embeddingEndpoint, body, contentType, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("cosyvoice: extract embedding: empty embedding in response")
	}
	return resp.Embedding, nil
}

// ExtractFeatures implements synth.FeatureExtractor.
func (e *Engine) ExtractFeatures(ctx context.Context, clip audio.Clip, promptText string) (synth.FeatureBundle, error) {
	body, contentType, err := buildForm(map[string]string{"prompt_text": promptText}, &clip)
	if err != nil {
		return nil, err
	}
	var resp frontendResponse
	if err := e.postJSON(ctx, frontendEndpoint, body, contentType, &resp); err != nil {
		return nil, err
	}
	return resp.Features, nil
}

// SyncSpeakers implements synth.Engine. PUT /spkinfo replaces the server's
// spk2info table; pretrained rows are sent by name with "pretrained": true and
// the server keeps its stored embedding for them.
func (e *Engine) SyncSpeakers(ctx context.Context, speakers []synth.Speaker) error {
	entries := make([]spkInfoEntry, 0, len(speakers))
	for _, s := range speakers {
		entry := spkInfoEntry{Name: s.Name, Embedding: s.Embedding, SampleRate: s.SampleRate, Pretrained: s.Pretrained}
		if s.Features != nil {
			entry.Features = *s.Features
		}
		entries = append(entries, entry)
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("cosyvoice: encode speaker table: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.serverURL+spkInfoEndpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("cosyvoice: create spkinfo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return e.doDiscard(req, spkInfoEndpoint)
}

// RefreshSpeakers implements synth.SpeakerRefresher.
func (e *Engine) RefreshSpeakers(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+refreshEndpoint, nil)
	if err != nil {
		return fmt.Errorf("cosyvoice: create refresh request: %w", err)
	}
	return e.doDiscard(req, refreshEndpoint)
}

// ---- synthesis ----

// Pretrained implements synth.Engine.
func (e *Engine) Pretrained(ctx context.Context, p synth.Params) (<-chan synth.Chunk, error) {
	fields := commonFields(p)
	fields["spk_id"] = p.Speaker
	return e.synthesize(ctx, sftEndpoint, fields, nil, p.Stream)
}

// ZeroShot implements synth.Engine.
func (e *Engine) ZeroShot(ctx context.Context, p synth.Params) (<-chan synth.Chunk, error) {
	if p.PromptClip == nil {
		return nil, errors.New("cosyvoice: zero-shot synthesis requires a prompt clip")
	}
	fields := commonFields(p)
	fields["prompt_text"] = p.PromptText
	return e.synthesize(ctx, zeroShotEndpoint, fields, p.PromptClip, p.Stream)
}

// CrossLingual implements synth.Engine.
func (e *Engine) CrossLingual(ctx context.Context, p synth.Params) (<-chan synth.Chunk, error) {
	if p.PromptClip == nil {
		return nil, errors.New("cosyvoice: cross-lingual synthesis requires a prompt clip")
	}
	return e.synthesize(ctx, crossLingualEndpoint, commonFields(p), p.PromptClip, p.Stream)
}

// Instruct implements synth.Engine.
func (e *Engine) Instruct(ctx context.Context, p synth.Params) (<-chan synth.Chunk, error) {
	if p.PromptClip == nil {
		return nil, errors.New("cosyvoice: instruct synthesis requires a prompt clip")
	}
	fields := commonFields(p)
	fields["instruct_text"] = p.Instruct
	return e.synthesize(ctx, instructEndpoint, fields, p.PromptClip, p.Stream)
}

func commonFields(p synth.Params) map[string]string {
	return map[string]string{
		"tts_text": p.Text,
		"stream":   strconv.FormatBool(p.Stream),
		"speed":    strconv.FormatFloat(p.Speed, 'f', -1, 64),
		"seed":     strconv.FormatInt(p.Seed, 10),
	}
}

// synthesize posts the form and returns a channel fed from the response body.
func (e *Engine) synthesize(ctx context.Context, endpoint string, fields map[string]string, clip *audio.Clip, stream bool) (<-chan synth.Chunk, error) {
	body, contentType, err := buildForm(fields, clip)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("cosyvoice: create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cosyvoice: POST %s: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp, endpoint)
	}

	chunkBytes := e.SampleRate() * chunkMillis / 1000 * 2
	out := make(chan synth.Chunk, chunkChanBuf)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		if stream {
			streamBody(ctx, resp.Body, chunkBytes, endpoint, out)
			return
		}
		pcm, err := io.ReadAll(resp.Body)
		if err != nil {
			send(ctx, out, synth.Chunk{Err: fmt.Errorf("cosyvoice: read %s response: %w", endpoint, err)})
			return
		}
		if len(pcm) > 0 {
			send(ctx, out, synth.Chunk{Speech: [][]float32{audio.PCM16ToFloat(pcm)}})
		}
	}()
	return out, nil
}

// streamBody forwards body in chunkBytes-sized pieces. chunkBytes is even, so
// samples never split; an odd trailing byte at EOF is dropped.
func streamBody(ctx context.Context, body io.Reader, chunkBytes int, endpoint string, out chan<- synth.Chunk) {
	buf := make([]byte, chunkBytes)
	for {
		n, err := io.ReadFull(body, buf)
		if n >= 2 {
			even := n - n%2
			pcm := make([]byte, even)
			copy(pcm, buf[:even])
			if !send(ctx, out, synth.Chunk{Speech: [][]float32{audio.PCM16ToFloat(pcm)}}) {
				return
			}
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return
		default:
			send(ctx, out, synth.Chunk{Err: fmt.Errorf("cosyvoice: read %s stream: %w", endpoint, err)})
			return
		}
	}
}

func send(ctx context.Context, out chan<- synth.Chunk, c synth.Chunk) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- c:
		return true
	}
}

// ---- HTTP helpers ----

// buildForm writes fields and the optional clip (as prompt_wav) into a
// multipart body.
func buildForm(fields map[string]string, clip *audio.Clip) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("cosyvoice: write field %s: %w", k, err)
		}
	}
	if clip != nil {
		f, err := os.Open(clip.Path)
		if err != nil {
			return nil, "", fmt.Errorf("cosyvoice: open prompt clip: %w", err)
		}
		defer f.Close()
		fw, err := mw.CreateFormFile("prompt_wav", filepath.Base(clip.Path))
		if err != nil {
			return nil, "", fmt.Errorf("cosyvoice: create form file: %w", err)
		}
		if _, err := io.Copy(fw, f); err != nil {
			return nil, "", fmt.Errorf("cosyvoice: copy prompt clip: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("cosyvoice: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

func (e *Engine) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("cosyvoice: create %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	return e.doJSON(req, endpoint, v)
}

func (e *Engine) postJSON(ctx context.Context, endpoint string, body io.Reader, contentType string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("cosyvoice: create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	return e.doJSON(req, endpoint, v)
}

func (e *Engine) doJSON(req *http.Request, endpoint string, v any) error {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cosyvoice: %s %s: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp, endpoint)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("cosyvoice: decode %s response: %w", endpoint, err)
	}
	return nil
}

func (e *Engine) doDiscard(req *http.Request, endpoint string) error {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cosyvoice: %s %s: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError(resp, endpoint)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func statusError(resp *http.Response, endpoint string) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(msg) > 0 {
		return fmt.Errorf("cosyvoice: %s returned status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return fmt.Errorf("cosyvoice: %s returned status %d", endpoint, resp.StatusCode)
}
