package voice

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voxstudio/pkg/provider/synth"
	"github.com/MrWong99/voxstudio/pkg/types"
)

func TestSerializer_WriteRead(t *testing.T) {
	t.Parallel()
	ser := NewSerializer(filepath.Join(t.TempDir(), "custom_voices"))
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	path, err := ser.Write(Profile{
		Name:             "alice",
		Embedding:        []float32{0.1, -0.2, 0.3},
		SampleRate:       16000,
		SourceSampleRate: 44100,
		ModelVersion:     "CosyVoice2",
		Features:         synth.FeatureBundle{"prompt_speech_feat": {Shape: []int{1, 2}, Data: []float32{1, 2}}},
		CreatedAt:        created,
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if want := filepath.Join(ser.Dir(), "alice.voice"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	got, err := ser.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Name != "alice" || got.Origin != OriginCustom || got.Path != path {
		t.Errorf("identity = (%q, %q, %q)", got.Name, got.Origin, got.Path)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != -0.2 {
		t.Errorf("Embedding = %v", got.Embedding)
	}
	if got.SampleRate != 16000 || got.SourceSampleRate != 44100 {
		t.Errorf("rates = %d/%d", got.SampleRate, got.SourceSampleRate)
	}
	if got.ModelVersion != "CosyVoice2" {
		t.Errorf("ModelVersion = %q", got.ModelVersion)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if f, ok := got.Features["prompt_speech_feat"]; !ok || len(f.Data) != 2 {
		t.Errorf("Features = %v", got.Features)
	}
}

func TestSerializer_ReadDefaultsSampleRate(t *testing.T) {
	t.Parallel()
	ser := NewSerializer(t.TempDir())
	path, err := ser.Write(Profile{Name: "bob", Embedding: []float32{1}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := ser.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.SampleRate != DefaultSampleRate {
		t.Errorf("SampleRate = %d, want %d", got.SampleRate, DefaultSampleRate)
	}
}

func TestSerializer_NameFromFile(t *testing.T) {
	t.Parallel()
	ser := NewSerializer(t.TempDir())
	path, err := ser.Write(Profile{Name: "old", Embedding: []float32{1}})
	if err != nil {
		t.Fatal(err)
	}
	renamed := ser.Path("new")
	if err := os.Rename(path, renamed); err != nil {
		t.Fatal(err)
	}
	got, err := ser.Read(renamed)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "new" {
		t.Errorf("Name = %q, want %q", got.Name, "new")
	}
}

func TestSerializer_Names(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ser := NewSerializer(dir)
	for _, n := range []string{"zed", "amy"} {
		if _, err := ser.Write(Profile{Name: n}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.voice"), 0o755); err != nil {
		t.Fatal(err)
	}

	names, err := ser.Names()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "amy" || names[1] != "zed" {
		t.Errorf("Names() = %v, want [amy zed]", names)
	}
	if !ser.Exists("amy") || ser.Exists("notes") {
		t.Error("Exists mismatch")
	}
}

func TestSerializer_MissingDir(t *testing.T) {
	t.Parallel()
	ser := NewSerializer(filepath.Join(t.TempDir(), "absent"))
	names, err := ser.Names()
	if err != nil || len(names) != 0 {
		t.Errorf("Names() = %v, %v; want empty, nil", names, err)
	}
	if err := ser.Remove("ghost"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Remove err = %v, want ErrNotFound", err)
	}
}

func TestSerializer_ReadCorrupt(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ser := NewSerializer(dir)
	path := ser.Path("broken")
	if err := os.WriteFile(path, []byte{0xc1, 0xff, 0x00}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ser.Read(path); err == nil {
		t.Error("expected decode error")
	}
}

func TestValidateName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"alice", false},
		{"中文女", false},
		{"with space", false},
		{"", true},
		{"   ", true},
		{".", true},
		{"..", true},
		{"a/b", true},
		{`a\b`, true},
		{"nul\x00", true},
		{string(make([]byte, 201)), true},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateName(%q) err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("ValidateName(%q) err = %v, want ErrInvalidInput", tt.name, err)
		}
	}
}
