package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/MrWong99/voxstudio/pkg/audio"
	synthmock "github.com/MrWong99/voxstudio/pkg/provider/synth/mock"
	"github.com/MrWong99/voxstudio/pkg/types"
)

func newTestStore(t *testing.T, e *synthmock.Engine, opts ...Option) *Store {
	t.Helper()
	ser := NewSerializer(filepath.Join(t.TempDir(), "custom_voices"))
	s := NewStore(e, ser, opts...)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func clip(rate int) *audio.Clip {
	return &audio.Clip{Path: "/tmp/ref.wav", SampleRate: rate, Channels: 1}
}

func TestStore_ListEmpty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, &synthmock.Engine{})
	got := s.List(context.Background())
	if !slices.Equal(got, []string{NoProfiles}) {
		t.Errorf("List() = %q, want [\"\"]", got)
	}
}

func TestStore_ListOrder(t *testing.T) {
	t.Parallel()
	e := &synthmock.Engine{Speakers: []string{"中文女", "英文男"}, Embedding: []float32{1}}
	s := newTestStore(t, e)
	ctx := context.Background()

	for _, n := range []string{"zoe", "adam"} {
		if _, err := s.Register(ctx, n, clip(16000)); err != nil {
			t.Fatalf("Register(%q): %v", n, err)
		}
	}
	want := []string{"中文女", "英文男", "adam", "zoe"}
	if got := s.List(ctx); !slices.Equal(got, want) {
		t.Errorf("List() = %q, want %q", got, want)
	}
}

func TestStore_RegisterPersists(t *testing.T) {
	t.Parallel()
	e := &synthmock.Engine{Gen: 2, Embedding: []float32{0.1, 0.2}}
	s := newTestStore(t, e)
	ctx := context.Background()

	p, err := s.Register(ctx, "alice", clip(44100))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.SampleRate != DefaultSampleRate || p.SourceSampleRate != 44100 {
		t.Errorf("rates = %d/%d, want %d/44100", p.SampleRate, p.SourceSampleRate, DefaultSampleRate)
	}
	if p.ModelVersion != "CosyVoice2" {
		t.Errorf("ModelVersion = %q, want CosyVoice2", p.ModelVersion)
	}
	if _, err := os.Stat(p.Path); err != nil {
		t.Errorf("backing file: %v", err)
	}
	if len(e.EmbeddingCalls) != 1 || e.EmbeddingCalls[0].SampleRate != 44100 {
		t.Errorf("EmbeddingCalls = %+v", e.EmbeddingCalls)
	}

	// A fresh store over the same directory sees the profile.
	s2 := NewStore(&synthmock.Engine{}, NewSerializer(s.Dir()))
	if err := s2.Load(ctx); err != nil {
		t.Fatal(err)
	}
	got, ok := s2.Lookup("alice")
	if !ok {
		t.Fatal("alice not found after reload")
	}
	if len(got.Embedding) != 2 || got.Embedding[1] != 0.2 {
		t.Errorf("Embedding = %v", got.Embedding)
	}
}

func TestStore_RegisterOverwrites(t *testing.T) {
	t.Parallel()
	e := &synthmock.Engine{Embedding: []float32{1}}
	s := newTestStore(t, e)
	ctx := context.Background()

	if _, err := s.Register(ctx, "alice", clip(16000)); err != nil {
		t.Fatal(err)
	}
	e.Embedding = []float32{2}
	if _, err := s.Register(ctx, "alice", clip(16000)); err != nil {
		t.Fatal(err)
	}
	p, _ := s.Lookup("alice")
	if p.Embedding[0] != 2 {
		t.Errorf("Embedding = %v, want [2]", p.Embedding)
	}
	if got := s.List(ctx); !slices.Equal(got, []string{"alice"}) {
		t.Errorf("List() = %q", got)
	}
}

func TestStore_RegisterErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	tests := []struct {
		name    string
		engine  *synthmock.Engine
		profile string
		clip    *audio.Clip
		want    error
	}{
		{"empty name", &synthmock.Engine{}, "", clip(16000), types.ErrInvalidInput},
		{"no clip", &synthmock.Engine{}, "alice", nil, types.ErrInvalidInput},
		{"low rate", &synthmock.Engine{}, "alice", clip(8000), types.ErrSampleRateTooLow},
		{"engine failure", &synthmock.Engine{EmbeddingErr: boom}, "alice", clip(16000), types.ErrEngineFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestStore(t, tt.engine)
			_, err := s.Register(context.Background(), tt.profile, tt.clip)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if got := s.List(context.Background()); !slices.Equal(got, []string{NoProfiles}) {
				t.Errorf("List() after failed register = %q", got)
			}
		})
	}
}

func TestStore_RegisterFloorOption(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, &synthmock.Engine{Embedding: []float32{1}}, WithSampleRateFloor(8000))
	p, err := s.Register(context.Background(), "lofi", clip(8000))
	if err != nil {
		t.Fatal(err)
	}
	if p.SampleRate != 8000 {
		t.Errorf("SampleRate = %d, want 8000", p.SampleRate)
	}
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()
	e := &synthmock.Engine{Speakers: []string{"中文女"}, Embedding: []float32{1}}
	s := newTestStore(t, e)
	ctx := context.Background()

	p, err := s.Register(ctx, "alice", clip(16000))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(p.Path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("backing file still present: %v", err)
	}
	if got := s.List(ctx); !slices.Equal(got, []string{"中文女"}) {
		t.Errorf("List() = %q", got)
	}
	if e.RefreshCalls != 1 {
		t.Errorf("RefreshCalls = %d, want 1", e.RefreshCalls)
	}
}

func TestStore_DeleteErrors(t *testing.T) {
	t.Parallel()
	e := &synthmock.Engine{Speakers: []string{"中文女"}, Embedding: []float32{1}}
	s := newTestStore(t, e)
	ctx := context.Background()
	if _, err := s.Register(ctx, "alice", clip(16000)); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, ""); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("empty name err = %v, want ErrInvalidInput", err)
	}

	err := s.Delete(ctx, "alcie")
	var nf *NotFoundError
	if !errors.As(err, &nf) || !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if !slices.Equal(nf.Suggestions, []string{"alice"}) {
		t.Errorf("Suggestions = %v, want [alice]", nf.Suggestions)
	}

	// Pretrained speakers have no backing file.
	if err := s.Delete(ctx, "中文女"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("pretrained delete err = %v, want ErrNotFound", err)
	}
	if e.RefreshCalls != 0 {
		t.Errorf("RefreshCalls = %d, want 0", e.RefreshCalls)
	}
}

func TestStore_ReconcilesOutOfBandChanges(t *testing.T) {
	t.Parallel()
	e := &synthmock.Engine{Embedding: []float32{1}}
	s := newTestStore(t, e)
	ctx := context.Background()

	p, err := s.Register(ctx, "alice", clip(16000))
	if err != nil {
		t.Fatal(err)
	}

	// Removed behind the store's back.
	if err := os.Remove(p.Path); err != nil {
		t.Fatal(err)
	}
	if got := s.List(ctx); !slices.Equal(got, []string{NoProfiles}) {
		t.Errorf("List() after external delete = %q", got)
	}
	if _, ok := s.Lookup("alice"); ok {
		t.Error("alice still in registry")
	}

	// Added behind the store's back.
	if _, err := NewSerializer(s.Dir()).Write(Profile{Name: "bob", Embedding: []float32{3}}); err != nil {
		t.Fatal(err)
	}
	if got := s.List(ctx); !slices.Equal(got, []string{"bob"}) {
		t.Errorf("List() after external add = %q", got)
	}
	if p, ok := s.Lookup("bob"); !ok || p.Embedding[0] != 3 {
		t.Errorf("Lookup(bob) = %+v, %v", p, ok)
	}
}

func TestStore_SkipsCorruptFiles(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, &synthmock.Engine{Embedding: []float32{1}})
	ctx := context.Background()
	if _, err := s.Register(ctx, "good", clip(16000)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "bad.voice"), []byte{0xc1}, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := s.List(ctx); !slices.Equal(got, []string{"good"}) {
		t.Errorf("List() = %q, want [good]", got)
	}
}

func TestStore_PersistsToSinks(t *testing.T) {
	t.Parallel()
	e := &synthmock.Engine{Speakers: []string{"中文女"}, Embedding: []float32{1}}
	snap := NewSnapshotSink(filepath.Join(t.TempDir(), SnapshotFile))
	s := newTestStore(t, e, WithSinks(snap, NewEngineSink(e)))
	ctx := context.Background()

	if _, err := s.Register(ctx, "alice", clip(16000)); err != nil {
		t.Fatal(err)
	}
	got, err := snap.LoadSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "中文女" || got[1].Name != "alice" {
		t.Errorf("snapshot = %+v", got)
	}
	last := e.SyncCalls[len(e.SyncCalls)-1]
	if len(last) != 2 || last[0].Name != "中文女" || !last[0].Pretrained || last[1].Name != "alice" {
		t.Errorf("last sync = %+v, want [中文女 alice]", last)
	}
}

func TestStore_LoadEngineFailure(t *testing.T) {
	t.Parallel()
	ser := NewSerializer(t.TempDir())
	if _, err := ser.Write(Profile{Name: "alice", Embedding: []float32{1}}); err != nil {
		t.Fatal(err)
	}
	s := NewStore(&synthmock.Engine{ListErr: errors.New("down")}, ser)
	err := s.Load(context.Background())
	if !errors.Is(err, types.ErrEngineFailure) {
		t.Errorf("err = %v, want ErrEngineFailure", err)
	}
	if got := s.List(context.Background()); !slices.Equal(got, []string{"alice"}) {
		t.Errorf("List() = %q, want [alice]", got)
	}
}

func TestStore_LookupReturnsCopy(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, &synthmock.Engine{Embedding: []float32{1, 2}})
	if _, err := s.Register(context.Background(), "alice", clip(16000)); err != nil {
		t.Fatal(err)
	}
	p, _ := s.Lookup("alice")
	p.Embedding[0] = 99
	q, _ := s.Lookup("alice")
	if q.Embedding[0] != 1 {
		t.Error("Lookup aliases registry memory")
	}
}

func TestStore_ListIdempotent(t *testing.T) {
	t.Parallel()
	e := &synthmock.Engine{Speakers: []string{"中文女", "英文男"}, Embedding: []float32{1}}
	s := newTestStore(t, e)
	ctx := context.Background()

	for _, n := range []string{"zoe", "adam", "mia"} {
		if _, err := s.Register(ctx, n, clip(16000)); err != nil {
			t.Fatalf("Register(%q): %v", n, err)
		}
	}
	first := s.List(ctx)
	second := s.List(ctx)
	if !slices.Equal(first, second) {
		t.Errorf("List() changed without a disk change: %q then %q", first, second)
	}
}

func TestStore_DeleteShadowingProfileRestoresPretrained(t *testing.T) {
	t.Parallel()
	e := &synthmock.Engine{Speakers: []string{"中文女"}, Embedding: []float32{1}}
	s := newTestStore(t, e)
	ctx := context.Background()

	if _, err := s.Register(ctx, "中文女", clip(16000)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p, _ := s.Lookup("中文女"); p.Origin != OriginCustom {
		t.Fatalf("origin after register = %q, want custom", p.Origin)
	}
	if err := s.Delete(ctx, "中文女"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if got := s.List(ctx); !slices.Equal(got, []string{"中文女"}) {
		t.Errorf("List() = %q, want [中文女]", got)
	}
	if p, ok := s.Lookup("中文女"); !ok || p.Origin != OriginPretrained {
		t.Errorf("Lookup = %+v, %v; want the pretrained speaker", p, ok)
	}
	// Only the custom file was deletable.
	if err := s.Delete(ctx, "中文女"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
}

func TestStore_OutOfBandRemovalRestoresPretrained(t *testing.T) {
	t.Parallel()
	e := &synthmock.Engine{Speakers: []string{"中文女"}, Embedding: []float32{1}}
	s := newTestStore(t, e)
	ctx := context.Background()

	p, err := s.Register(ctx, "中文女", clip(16000))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := os.Remove(p.Path); err != nil {
		t.Fatal(err)
	}
	if got := s.List(ctx); !slices.Equal(got, []string{"中文女"}) {
		t.Errorf("List() = %q, want [中文女]", got)
	}
	if p, _ := s.Lookup("中文女"); p.Origin != OriginPretrained {
		t.Errorf("origin = %q, want pretrained", p.Origin)
	}
}

func TestStore_ConcurrentRegisterDeleteList(t *testing.T) {
	t.Parallel()
	e := &synthmock.Engine{Speakers: []string{"中文女"}, Embedding: []float32{1}}
	s := newTestStore(t, e)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Go(func() {
			name := fmt.Sprintf("voice-%02d", i)
			if _, err := s.Register(ctx, name, clip(16000)); err != nil {
				errs <- fmt.Errorf("Register(%q): %w", name, err)
				return
			}
			_ = s.List(ctx)
			if i%2 == 1 {
				if err := s.Delete(ctx, name); err != nil {
					errs <- fmt.Errorf("Delete(%q): %w", name, err)
				}
			}
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	want := []string{"中文女"}
	for i := 0; i < n; i += 2 {
		want = append(want, fmt.Sprintf("voice-%02d", i))
	}
	if got := s.List(ctx); !slices.Equal(got, want) {
		t.Errorf("List() = %q, want %q", got, want)
	}
}
