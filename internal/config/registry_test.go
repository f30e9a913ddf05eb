package config_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxstudio/internal/config"
	"github.com/MrWong99/voxstudio/pkg/provider/asr"
	asrmock "github.com/MrWong99/voxstudio/pkg/provider/asr/mock"
	"github.com/MrWong99/voxstudio/pkg/provider/synth"
	synthmock "github.com/MrWong99/voxstudio/pkg/provider/synth/mock"
)

func TestRegistry_CreateSynthesis(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var gotDir string
	reg.RegisterSynthesis("cosyvoice", func(entry config.ProviderEntry, modelDir string) (synth.Engine, error) {
		gotDir = modelDir
		return &synthmock.Engine{}, nil
	})

	e, err := reg.CreateSynthesis(config.ProviderEntry{Name: "cosyvoice"}, "/models/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e == nil {
		t.Fatal("expected engine, got nil")
	}
	if gotDir != "/models/x" {
		t.Errorf("modelDir: got %q, want /models/x", gotDir)
	}
}

func TestRegistry_CreateRecognition(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterRecognition("sensevoice", func(config.ProviderEntry) (asr.Engine, error) {
		return &asrmock.Engine{}, nil
	})
	if _, err := reg.CreateRecognition(config.ProviderEntry{Name: "sensevoice"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := reg.Names("recognition"); len(got) != 1 || got[0] != "sensevoice" {
		t.Errorf("Names: got %v, want [sensevoice]", got)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateSynthesis(config.ProviderEntry{Name: "nope"}, "")
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("synthesis: got %v, want ErrProviderNotRegistered", err)
	}
	_, err = reg.CreateRecognition(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("recognition: got %v, want ErrProviderNotRegistered", err)
	}
}
