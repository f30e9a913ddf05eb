// Package web serves the voxstudio HTTP API: reference clip uploads, voice
// profile management, transcription and streamed synthesis over chunked WAV
// or WebSocket.
package web

import (
	"context"
	"net/http"

	"github.com/MrWong99/voxstudio/internal/observe"
	"github.com/MrWong99/voxstudio/internal/recognition"
	"github.com/MrWong99/voxstudio/internal/synthesis"
	"github.com/MrWong99/voxstudio/internal/voice"
	"github.com/MrWong99/voxstudio/internal/voice/catalog"
)

// Similarity finds custom profiles whose embeddings are closest to name's.
type Similarity interface {
	Similar(ctx context.Context, name string, k int) ([]catalog.Match, error)
}

// Option configures a [Server].
type Option func(*Server)

// WithSimilarity enables GET /api/voices/{name}/similar.
func WithSimilarity(s Similarity) Option {
	return func(srv *Server) { srv.similar = s }
}

// WithGeneration sets the source of the engine model generation passed to
// the validator. It is read on every request so a re-probed engine takes
// effect without a restart. Default: always 3.
func WithGeneration(fn func() int) Option {
	return func(srv *Server) { srv.generation = fn }
}

// WithMount serves h under pattern on the same mux, e.g. health probes,
// /metrics or /mcp.
func WithMount(pattern string, h http.Handler) Option {
	return func(srv *Server) { srv.mounts = append(srv.mounts, mount{pattern, h}) }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

type mount struct {
	pattern string
	handler http.Handler
}

// Server holds the components behind the HTTP API.
type Server struct {
	store   *voice.Store
	orch    *synthesis.Orchestrator
	bridge  *recognition.Bridge
	clips   *ClipCache
	similar Similarity

	generation func() int
	mounts     []mount
	metrics    *observe.Metrics
}

// New creates a Server.
func New(store *voice.Store, orch *synthesis.Orchestrator, bridge *recognition.Bridge, clips *ClipCache, opts ...Option) *Server {
	s := &Server{
		store:      store,
		orch:       orch,
		bridge:     bridge,
		clips:      clips,
		generation: func() int { return 3 },
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/modes", s.handleModes)
	mux.HandleFunc("GET /api/seed", s.handleSeed)

	mux.HandleFunc("POST /api/clips", s.handleUploadClip)
	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)

	mux.HandleFunc("GET /api/voices", s.handleListVoices)
	mux.HandleFunc("POST /api/voices", s.handleRegisterVoice)
	mux.HandleFunc("DELETE /api/voices/{name}", s.handleDeleteVoice)
	mux.HandleFunc("GET /api/voices/{name}/similar", s.handleSimilarVoices)

	mux.HandleFunc("POST /api/synthesize", s.handleSynthesize)
	mux.HandleFunc("GET /api/synthesize/ws", s.handleSynthesizeWS)

	for _, m := range s.mounts {
		mux.Handle(m.pattern, m.handler)
	}
	return observe.Middleware(s.metrics)(mux)
}
