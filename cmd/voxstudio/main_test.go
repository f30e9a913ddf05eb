package main

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/voxstudio/internal/config"
)

func TestApplyFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		args     []string
		wantPort int
		wantDir  string
		wantErr  bool
	}{
		{name: "no flags keeps config", args: nil, wantPort: 9100, wantDir: "from-file"},
		{name: "port", args: []string{"--port", "8001"}, wantPort: 8001, wantDir: "from-file"},
		{name: "model dir", args: []string{"--model_dir", "pretrained_models/CosyVoice2-0.5B"}, wantPort: 9100, wantDir: "pretrained_models/CosyVoice2-0.5B"},
		{name: "port out of range", args: []string{"--port", "70000"}, wantErr: true},
		{name: "bad log level", args: []string{"--log-level", "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := newRootOptions()
			cmd := o.command()
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags: %v", err)
			}
			cfg := config.Default()
			cfg.Server.Port = 9100
			cfg.Model.Dir = "from-file"

			err := o.apply(cmd, cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if cfg.Server.Port != tt.wantPort {
				t.Errorf("port = %d, want %d", cfg.Server.Port, tt.wantPort)
			}
			if cfg.Model.Dir != tt.wantDir {
				t.Errorf("model dir = %q, want %q", cfg.Model.Dir, tt.wantDir)
			}
		})
	}
}

func TestFlagDefaults(t *testing.T) {
	t.Parallel()

	cmd := newRootCommand()
	port, err := cmd.PersistentFlags().GetInt("port")
	if err != nil {
		t.Fatal(err)
	}
	if port != 8000 {
		t.Errorf("default port = %d, want 8000", port)
	}
	dir, err := cmd.PersistentFlags().GetString("model_dir")
	if err != nil {
		t.Fatal(err)
	}
	if dir != config.DefaultModelDir {
		t.Errorf("default model_dir = %q, want %q", dir, config.DefaultModelDir)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	if got := reg.Names("synthesis"); !slices.Equal(got, []string{"cosyvoice"}) {
		t.Errorf("synthesis names = %v", got)
	}
	if got := reg.Names("recognition"); !slices.Equal(got, []string{"openai", "sensevoice", "whisper-native"}) {
		t.Errorf("recognition names = %v", got)
	}
}

func TestBuildProviders_UnknownSynthesis(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	cfg := config.Default()
	cfg.Providers.Synthesis.Name = "nope"

	_, _, err := buildProviders(cfg, reg)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestBuildProviders_Defaults(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	cfg := config.Default()
	cfg.Providers.RecognitionFallbacks = []config.ProviderEntry{{Name: "missing"}}

	ps, closeAll, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	defer closeAll()
	if ps.Synthesis == nil || ps.Recognition == nil {
		t.Fatal("expected both engines")
	}
	if len(ps.RecognitionFallbacks) != 0 {
		t.Errorf("fallbacks = %d, want 0 (unknown skipped)", len(ps.RecognitionFallbacks))
	}
}

func TestOptValues(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"model_path": "ggml.bin", "sample_rate": 24000, "ratio": 1.5, "wrong": 3}
	if got := optString(opts, "model_path"); got != "ggml.bin" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(opts, "wrong"); got != "" {
		t.Errorf("optString(non-string) = %q, want empty", got)
	}
	if got := optString(nil, "x"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
	if got := optInt(opts, "sample_rate"); got != 24000 {
		t.Errorf("optInt = %d", got)
	}
	if got := optInt(opts, "model_path"); got != 0 {
		t.Errorf("optInt(string) = %d, want 0", got)
	}
}
