package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/voxstudio/internal/app"
	"github.com/MrWong99/voxstudio/internal/config"
	"github.com/MrWong99/voxstudio/pkg/provider/asr"
	oaasr "github.com/MrWong99/voxstudio/pkg/provider/asr/openai"
	"github.com/MrWong99/voxstudio/pkg/provider/asr/sensevoice"
	"github.com/MrWong99/voxstudio/pkg/provider/asr/whisper"
	"github.com/MrWong99/voxstudio/pkg/provider/synth"
	"github.com/MrWong99/voxstudio/pkg/provider/synth/cosyvoice"
)

// registerBuiltinProviders wires all built-in engine factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Synthesis ─────────────────────────────────────────────────────────────

	reg.RegisterSynthesis("cosyvoice", func(entry config.ProviderEntry, modelDir string) (synth.Engine, error) {
		var opts []cosyvoice.Option
		if entry.Timeout > 0 {
			opts = append(opts, cosyvoice.WithTimeout(entry.Timeout))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, cosyvoice.WithSampleRate(rate))
		}
		return cosyvoice.New(entry.BaseURL, modelDir, opts...)
	})

	// ── Recognition ───────────────────────────────────────────────────────────

	reg.RegisterRecognition("sensevoice", func(entry config.ProviderEntry) (asr.Engine, error) {
		var opts []sensevoice.Option
		if entry.Model != "" {
			opts = append(opts, sensevoice.WithModel(entry.Model))
		}
		if entry.Timeout > 0 {
			opts = append(opts, sensevoice.WithTimeout(entry.Timeout))
		}
		return sensevoice.New(entry.BaseURL, opts...)
	})

	reg.RegisterRecognition("openai", func(entry config.ProviderEntry) (asr.Engine, error) {
		var opts []oaasr.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaasr.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaasr.WithTimeout(entry.Timeout))
		}
		return oaasr.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterRecognition("whisper-native", func(entry config.ProviderEntry) (asr.Engine, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		return whisper.New(modelPath)
	})

	for _, kind := range []string{"synthesis", "recognition"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the engines named in cfg. The returned func
// closes every engine that holds resources.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}
	track := func(v any) {
		if c, ok := v.(io.Closer); ok {
			closers = append(closers, c)
		}
	}

	ps := &app.Providers{}

	s, err := reg.CreateSynthesis(cfg.Providers.Synthesis, cfg.Model.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("create synthesis provider %q: %w", cfg.Providers.Synthesis.Name, err)
	}
	track(s)
	ps.Synthesis = s
	slog.Info("provider created", "kind", "synthesis", "name", cfg.Providers.Synthesis.Name)

	r, err := reg.CreateRecognition(cfg.Providers.Recognition)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("create recognition provider %q: %w", cfg.Providers.Recognition.Name, err)
	}
	track(r)
	ps.Recognition = r
	slog.Info("provider created", "kind", "recognition", "name", cfg.Providers.Recognition.Name)

	for _, entry := range cfg.Providers.RecognitionFallbacks {
		fb, err := reg.CreateRecognition(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown recognition fallback; skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("create recognition fallback %q: %w", entry.Name, err)
		}
		track(fb)
		ps.RecognitionFallbacks = append(ps.RecognitionFallbacks, app.NamedRecognizer{Name: entry.Name, Engine: fb})
		slog.Info("provider created", "kind", "recognition-fallback", "name", entry.Name)
	}

	return ps, closeAll, nil
}

// optString extracts a string value from an options map, returning "" if the
// key is absent or not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optInt extracts an integer option. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
