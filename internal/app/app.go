// Package app wires all voxstudio subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, pass mock engines in [Providers] and inject collaborators via
// functional options. When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/voxstudio/internal/config"
	"github.com/MrWong99/voxstudio/internal/health"
	"github.com/MrWong99/voxstudio/internal/mcpserver"
	"github.com/MrWong99/voxstudio/internal/observe"
	"github.com/MrWong99/voxstudio/internal/recognition"
	"github.com/MrWong99/voxstudio/internal/resilience"
	"github.com/MrWong99/voxstudio/internal/synthesis"
	"github.com/MrWong99/voxstudio/internal/voice"
	"github.com/MrWong99/voxstudio/internal/voice/catalog"
	"github.com/MrWong99/voxstudio/internal/web"
	"github.com/MrWong99/voxstudio/pkg/provider/asr"
	"github.com/MrWong99/voxstudio/pkg/provider/synth"
)

// Version is reported by the MCP server and telemetry.
var Version = "dev"

// Providers holds the engines built by main.go via the config registry.
type Providers struct {
	Synthesis   synth.Engine
	Recognition asr.Engine

	// RecognitionFallbacks are tried in order when Recognition fails.
	RecognitionFallbacks []NamedRecognizer
}

// NamedRecognizer is a fallback recognition engine with its provider name.
type NamedRecognizer struct {
	Name   string
	Engine asr.Engine
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	engine  synth.Engine
	store   *voice.Store
	orch    *synthesis.Orchestrator
	bridge  *recognition.Bridge
	clips   *web.ClipCache
	catalog *catalog.Catalog
	server  *http.Server
	metrics *observe.Metrics

	level    *slog.LevelVar
	announce func(url string)

	mu   sync.Mutex
	addr net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithCatalog injects a profile catalog instead of opening one from
// catalog.postgres_dsn.
func WithCatalog(c *catalog.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithLevelVar lets [App.Reload] change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithAnnounce sets the function told the access URL once the server
// listens. Default: log it.
func WithAnnounce(fn func(url string)) Option {
	return func(a *App) { a.announce = fn }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It loads the voice
// profile store synchronously, so pretrained and custom voices are listed
// from the first request on.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Synthesis == nil || providers.Recognition == nil {
		return nil, errors.New("app: synthesis and recognition engines are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		announce: func(url string) {
			slog.Info("voxstudio listening", "url", url)
		},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Engines behind circuit breakers ───────────────────────────────
	a.engine = resilience.GuardEngine(providers.Synthesis, breakerConfig(cfg, "synthesis"))
	recognizer := NewRecognizer(cfg, providers)

	// The sample rate and model generation are only known once the engine has
	// answered its info request. An unreachable engine keeps its defaults and
	// readyz reports it.
	if p, ok := synth.As[health.Prober](a.engine); ok {
		if err := p.Probe(ctx); err != nil {
			slog.Warn("synthesis engine unreachable at startup", "err", err)
		}
	}

	// ── 2. Profile catalog ───────────────────────────────────────────────
	if err := a.initCatalog(ctx); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	// ── 3. Voice profile store ───────────────────────────────────────────
	var extra []voice.Sink
	if a.catalog != nil {
		extra = append(extra, a.catalog)
	}
	a.store = OpenStore(ctx, cfg, a.engine, a.metrics, extra...)

	// ── 4. Orchestrator + recognition bridge ─────────────────────────────
	a.orch = synthesis.New(a.engine, a.store,
		synthesis.WithQueueDepth(cfg.Synthesis.QueueDepth),
		synthesis.WithMetrics(a.metrics),
	)
	a.bridge = recognition.New(recognizer,
		recognition.WithRateLimit(cfg.Recognition.RateLimit, cfg.Recognition.Burst),
		recognition.WithLanguage(cfg.Recognition.Language),
		recognition.WithMetrics(a.metrics),
	)

	// ── 5. Clip cache ────────────────────────────────────────────────────
	clips, err := web.NewClipCache(cfg.Clips.Dir, cfg.Clips.TTL, cfg.Clips.MaxUploadBytes)
	if err != nil {
		return nil, fmt.Errorf("app: init clip cache: %w", err)
	}
	a.clips = clips
	a.closers = append(a.closers, clips.Close)

	// ── 6. HTTP server ───────────────────────────────────────────────────
	a.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.buildHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func breakerConfig(cfg *config.Config, name string) resilience.CircuitBreakerConfig {
	r := cfg.Resilience
	return resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  r.MaxFailures,
		ResetTimeout: r.ResetTimeout,
		HalfOpenMax:  r.HalfOpenMax,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
		},
	}
}

// NewRecognizer chains the primary recognition engine with its fallbacks,
// each behind its own breaker.
func NewRecognizer(cfg *config.Config, p *Providers) asr.Engine {
	fb := resilience.NewASRFallback(p.Recognition, cfg.Providers.Recognition.Name, resilience.FallbackConfig{
		CircuitBreaker: breakerConfig(cfg, "recognition"),
	})
	for _, r := range p.RecognitionFallbacks {
		fb.AddFallback(r.Name, r.Engine)
	}
	slog.Debug("recognition backends", "order", fb.Backends())
	return fb
}

// OpenStore builds the voice store for cfg with its persistence sinks and
// loads it. An unreachable engine is logged, not returned: the store keeps
// serving custom profiles and reconciles on every listing.
func OpenStore(ctx context.Context, cfg *config.Config, engine synth.Engine, metrics *observe.Metrics, extra ...voice.Sink) *voice.Store {
	sinks := []voice.Sink{voice.NewEngineSink(engine)}
	if !cfg.Voices.DisableSnapshot {
		sinks = append(sinks, voice.NewSnapshotSink(cfg.SnapshotPath()))
	}
	sinks = append(sinks, extra...)
	store := voice.NewStore(engine, voice.NewSerializer(cfg.VoicesDir()),
		voice.WithSinks(sinks...),
		voice.WithSampleRateFloor(cfg.Voices.SampleRateFloor),
		voice.WithLoadConcurrency(cfg.Voices.LoadConcurrency),
		voice.WithMetrics(metrics),
	)
	if err := store.Load(ctx); err != nil {
		slog.Warn("voice store loaded without pretrained speakers", "err", err)
	}
	return store
}

// initCatalog opens the PostgreSQL catalog when configured.
func (a *App) initCatalog(ctx context.Context) error {
	if a.catalog == nil {
		if a.cfg.Catalog.PostgresDSN == "" {
			return nil
		}
		c, err := catalog.Open(ctx, a.cfg.Catalog.PostgresDSN, a.cfg.Catalog.EmbeddingDimensions)
		if err != nil {
			return err
		}
		a.catalog = c
	}
	a.closers = append(a.closers, a.catalog.Close)
	slog.Info("profile catalog enabled")
	return nil
}

// buildHandler assembles the API, probes, metrics and the optional MCP
// endpoint on one mux.
func (a *App) buildHandler() http.Handler {
	checkers := []health.Checker{health.DirWritable("voices", a.cfg.VoicesDir())}
	if p, ok := synth.As[health.Prober](a.engine); ok {
		checkers = append(checkers, health.Probe("synthesis", p))
	}
	if a.catalog != nil {
		checkers = append(checkers, health.Checker{Name: "catalog", Check: a.catalog.Ping})
	}
	hh := health.New(checkers...)

	opts := []web.Option{
		web.WithGeneration(a.engine.Generation),
		web.WithMetrics(a.metrics),
		web.WithMount("GET /healthz", http.HandlerFunc(hh.Healthz)),
		web.WithMount("GET /readyz", http.HandlerFunc(hh.Readyz)),
		web.WithMount("GET /metrics", observe.MetricsHandler()),
	}
	if a.catalog != nil {
		opts = append(opts, web.WithSimilarity(a.catalog))
	}
	if a.cfg.Server.MCP {
		opts = append(opts, web.WithMount("/mcp", mcpserver.New(a.store, a.bridge, Version).Handler()))
	}
	return web.New(a.store, a.orch, a.bridge, a.clips, opts...).Handler()
}

// Store returns the voice profile store.
func (a *App) Store() *voice.Store { return a.store }

// Bridge returns the recognition bridge.
func (a *App) Bridge() *recognition.Bridge { return a.bridge }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Addr returns the bound listen address, or nil before Run listens.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run binds the configured address, announces the access URL and serves
// until ctx is cancelled, returning ctx.Err(). A serve failure is returned
// immediately.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	go a.clips.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.server.Serve(ln)
	}()

	a.announce(a.url(ln.Addr()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

func (a *App) url(addr net.Addr) string {
	scheme := "http"
	if a.cfg.Server.TLS != nil {
		scheme = "https"
	}
	host := a.cfg.Server.Host
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, fmt.Sprint(tcp.Port)))
	}
	return fmt.Sprintf("%s://%s", scheme, addr)
}

// Reload applies the hot-reloadable parts of a config change.
func (a *App) Reload(old, updated *config.Config) {
	d := config.Diff(old, updated)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RecognitionLimitChanged {
		a.bridge.SetRateLimit(d.NewRecognitionLimit, d.NewRecognitionBurst)
		slog.Info("recognition rate limit changed", "rate", d.NewRecognitionLimit, "burst", d.NewRecognitionBurst)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, then runs the closers in order. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
