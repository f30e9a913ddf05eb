package voice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/voxstudio/pkg/provider/synth"
)

// SnapshotFile is the registry snapshot written next to the model.
const SnapshotFile = "spk2info.msgpack"

// Sink receives the full reconciled registry after every reconciliation.
// Persist is called with the store lock held and must not call back into the
// store.
type Sink interface {
	Name() string
	Persist(ctx context.Context, profiles []Profile) error
}

// SnapshotLoader is implemented by sinks that can restore registry metadata
// at startup.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context) ([]Profile, error)
}

// ---- snapshot file ----

type snapshotEntry struct {
	Record record `msgpack:"record"`
	Origin Origin `msgpack:"origin"`
	Path   string `msgpack:"path,omitempty"`
}

// SnapshotSink mirrors the registry into one msgpack file, the counterpart of
// the engine's own speaker-info file.
type SnapshotSink struct {
	path string
}

var (
	_ Sink           = (*SnapshotSink)(nil)
	_ SnapshotLoader = (*SnapshotSink)(nil)
)

// NewSnapshotSink returns a sink writing to path.
func NewSnapshotSink(path string) *SnapshotSink {
	return &SnapshotSink{path: path}
}

// Name implements Sink.
func (s *SnapshotSink) Name() string { return "snapshot" }

// Persist implements Sink.
func (s *SnapshotSink) Persist(_ context.Context, profiles []Profile) error {
	entries := make([]snapshotEntry, 0, len(profiles))
	for _, p := range profiles {
		entries = append(entries, snapshotEntry{Record: recordOf(p), Origin: p.Origin, Path: p.Path})
	}
	raw, err := msgpack.Marshal(entries)
	if err != nil {
		return fmt.Errorf("voice: encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("voice: create snapshot dir: %w", err)
	}
	if err := writeFileAtomic(s.path, raw); err != nil {
		return fmt.Errorf("voice: write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot implements SnapshotLoader. A missing file yields no profiles.
func (s *SnapshotSink) LoadSnapshot(context.Context) ([]Profile, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("voice: read snapshot: %w", err)
	}
	var entries []snapshotEntry
	if err := msgpack.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("voice: decode snapshot: %w", err)
	}
	profiles := make([]Profile, 0, len(entries))
	for _, e := range entries {
		profiles = append(profiles, e.Record.profile(e.Origin, e.Path))
	}
	return profiles, nil
}

// ---- engine speaker table ----

// EngineSink pushes the whole registry into the engine's speaker table:
// pretrained speakers by name, custom profiles with their embeddings.
type EngineSink struct {
	engine synth.Engine
}

var _ Sink = (*EngineSink)(nil)

// NewEngineSink returns a sink syncing into e.
func NewEngineSink(e synth.Engine) *EngineSink {
	return &EngineSink{engine: e}
}

// Name implements Sink.
func (s *EngineSink) Name() string { return "engine" }

// Persist implements Sink.
func (s *EngineSink) Persist(ctx context.Context, profiles []Profile) error {
	speakers := make([]synth.Speaker, 0, len(profiles))
	for _, p := range profiles {
		switch {
		case p.Origin == OriginPretrained:
			speakers = append(speakers, synth.Speaker{Name: p.Name, Pretrained: true})
		case len(p.Embedding) > 0:
			speakers = append(speakers, p.speaker())
		}
	}
	if err := s.engine.SyncSpeakers(ctx, speakers); err != nil {
		return fmt.Errorf("voice: sync engine speakers: %w", err)
	}
	return nil
}
