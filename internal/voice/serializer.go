package voice

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/voxstudio/pkg/provider/synth"
	"github.com/MrWong99/voxstudio/pkg/types"
)

// FileExt is the extension of a serialized profile record.
const FileExt = ".voice"

// record is the on-disk form of a custom profile.
type record struct {
	Name             string              `msgpack:"speaker_name"`
	Embedding        []float32           `msgpack:"embedding"`
	SampleRate       int                 `msgpack:"sample_rate"`
	SourceSampleRate int                 `msgpack:"source_sample_rate,omitempty"`
	ModelVersion     string              `msgpack:"model_version"`
	Features         synth.FeatureBundle `msgpack:"features,omitempty"`
	CreatedAt        time.Time           `msgpack:"created_at"`
}

func recordOf(p Profile) record {
	return record{
		Name:             p.Name,
		Embedding:        p.Embedding,
		SampleRate:       p.SampleRate,
		SourceSampleRate: p.SourceSampleRate,
		ModelVersion:     p.ModelVersion,
		Features:         p.Features,
		CreatedAt:        p.CreatedAt,
	}
}

func (r record) profile(origin Origin, path string) Profile {
	rate := r.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	return Profile{
		Name:             r.Name,
		Embedding:        r.Embedding,
		SampleRate:       rate,
		Origin:           origin,
		Path:             path,
		SourceSampleRate: r.SourceSampleRate,
		ModelVersion:     r.ModelVersion,
		Features:         r.Features,
		CreatedAt:        r.CreatedAt,
	}
}

// Serializer reads and writes profile records in one directory, one file per
// profile named "<name>.voice". It holds no state besides the directory path.
type Serializer struct {
	dir string
}

// NewSerializer returns a Serializer for dir. The directory is created on the
// first write.
func NewSerializer(dir string) *Serializer {
	return &Serializer{dir: dir}
}

// Dir returns the profile directory.
func (s *Serializer) Dir() string { return s.dir }

// Path returns the backing file path for name.
func (s *Serializer) Path(name string) string {
	return filepath.Join(s.dir, name+FileExt)
}

// Exists reports whether a backing file for name exists.
func (s *Serializer) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// Names lists the profile names that have a backing file, sorted. A missing
// directory yields an empty list.
func (s *Serializer) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("voice: read profile dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), FileExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), FileExt)
		if name == "" || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Write persists p and returns the backing file path. The write goes through
// a temp file and a rename so a crash never leaves a truncated record.
func (s *Serializer) Write(p Profile) (string, error) {
	if err := ValidateName(p.Name); err != nil {
		return "", err
	}
	raw, err := msgpack.Marshal(recordOf(p))
	if err != nil {
		return "", fmt.Errorf("voice: encode profile %q: %w", p.Name, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("voice: create profile dir: %w", err)
	}
	path := s.Path(p.Name)
	if err := writeFileAtomic(path, raw); err != nil {
		return "", fmt.Errorf("voice: write profile %q: %w", p.Name, err)
	}
	return path, nil
}

// Read loads the record at path as a custom profile. The profile name comes
// from the file name so that a renamed file is listed under its new name.
func (s *Serializer) Read(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Profile{}, fmt.Errorf("voice: read profile: %w", types.ErrNotFound)
		}
		return Profile{}, fmt.Errorf("voice: read profile: %w", err)
	}
	var r record
	if err := msgpack.Unmarshal(raw, &r); err != nil {
		return Profile{}, fmt.Errorf("voice: decode profile %s: %w", filepath.Base(path), err)
	}
	r.Name = strings.TrimSuffix(filepath.Base(path), FileExt)
	return r.profile(OriginCustom, path), nil
}

// Remove deletes the backing file of name.
func (s *Serializer) Remove(name string) error {
	err := os.Remove(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("voice: remove profile %q: %w", name, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("voice: remove profile %q: %w", name, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
