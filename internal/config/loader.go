package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"synthesis":   {"cosyvoice"},
	"recognition": {"sensevoice", "openai", "whisper-native"},
}

// Load reads the YAML configuration file at path, applies VOXSTUDIO_*
// environment overrides and returns a validated [Config]. An empty path
// yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromReader(bytes.NewReader(nil))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], applies
// environment overrides and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// VoicesDir returns the custom voice directory.
func (c *Config) VoicesDir() string {
	if c.Model.VoicesDir != "" {
		return c.Model.VoicesDir
	}
	return filepath.Join(c.Model.Dir, "custom_voices")
}

// SnapshotPath returns the registry snapshot file.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.Model.Dir, "spk2info.msgpack")
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Model
	if cfg.Model.Dir == "" {
		errs = append(errs, errors.New("model.dir is required"))
	}

	// Providers
	if cfg.Providers.Synthesis.Name == "" {
		errs = append(errs, errors.New("providers.synthesis.name is required"))
	}
	if cfg.Providers.Recognition.Name == "" {
		errs = append(errs, errors.New("providers.recognition.name is required"))
	}
	validateProviderName("synthesis", cfg.Providers.Synthesis.Name)
	validateProviderName("recognition", cfg.Providers.Recognition.Name)
	for i, fb := range cfg.Providers.RecognitionFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.recognition_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("recognition", fb.Name)
	}

	// Tuning
	if cfg.Voices.SampleRateFloor <= 0 {
		errs = append(errs, fmt.Errorf("voices.sample_rate_floor %d must be positive", cfg.Voices.SampleRateFloor))
	}
	if cfg.Voices.LoadConcurrency < 0 {
		errs = append(errs, fmt.Errorf("voices.load_concurrency %d must not be negative", cfg.Voices.LoadConcurrency))
	}
	if cfg.Synthesis.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("synthesis.queue_depth %d must be at least 1", cfg.Synthesis.QueueDepth))
	}
	if cfg.Recognition.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("recognition.rate_limit %.2f must not be negative", cfg.Recognition.RateLimit))
	}
	if cfg.Recognition.Burst < 0 {
		errs = append(errs, fmt.Errorf("recognition.burst %d must not be negative", cfg.Recognition.Burst))
	}
	if cfg.Clips.TTL <= 0 {
		errs = append(errs, fmt.Errorf("clips.ttl %s must be positive", cfg.Clips.TTL))
	}
	if cfg.Clips.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("clips.max_upload_bytes %d must be positive", cfg.Clips.MaxUploadBytes))
	}
	if cfg.Catalog.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("catalog.embedding_dimensions %d must not be negative", cfg.Catalog.EmbeddingDimensions))
	}
	if cfg.Catalog.PostgresDSN == "" && cfg.Catalog.EmbeddingDimensions > 0 {
		slog.Warn("catalog.embedding_dimensions is set but catalog.postgres_dsn is empty; the catalog is disabled")
	}
	if r := cfg.Resilience; r.MaxFailures < 0 || r.ResetTimeout < 0 || r.HalfOpenMax < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
