package voice

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxstudio/internal/observe"
	"github.com/MrWong99/voxstudio/pkg/audio"
	"github.com/MrWong99/voxstudio/pkg/provider/synth"
	"github.com/MrWong99/voxstudio/pkg/types"
)

// NotFoundError reports a delete of a profile that has no backing file.
// Pretrained speakers never have one.
type NotFoundError struct {
	Name        string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("voice: profile %q does not exist or is not a custom profile", e.Name)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

// Unwrap makes errors.Is(err, types.ErrNotFound) hold.
func (e *NotFoundError) Unwrap() error { return types.ErrNotFound }

// Option configures a [Store].
type Option func(*Store)

// WithSinks adds registry sinks, persisted in the given order.
func WithSinks(sinks ...Sink) Option {
	return func(s *Store) { s.sinks = append(s.sinks, sinks...) }
}

// WithSampleRateFloor sets the minimum clip sample rate accepted by Register.
// Default: [DefaultSampleRate].
func WithSampleRateFloor(hz int) Option {
	return func(s *Store) { s.floor = hz }
}

// WithLoadConcurrency bounds the number of profile files decoded in parallel
// during reconciliation. Default: 4.
func WithLoadConcurrency(n int) Option {
	return func(s *Store) { s.loadLimit = n }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store is the single owner of the profile registry. All mutations and every
// reconciliation run inside one critical section; callers only ever receive
// copies.
type Store struct {
	engine    synth.Engine
	ser       *Serializer
	sinks     []Sink
	floor     int
	loadLimit int
	metrics   *observe.Metrics

	// Optional engine capabilities, resolved once.
	refresher synth.SpeakerRefresher
	features  synth.FeatureExtractor

	mu         sync.Mutex
	profiles   map[string]Profile
	pretrained []string
}

// NewStore creates a Store over engine and ser. Call [Store.Load] before use.
func NewStore(engine synth.Engine, ser *Serializer, opts ...Option) *Store {
	s := &Store{
		engine:    engine,
		ser:       ser,
		floor:     DefaultSampleRate,
		loadLimit: 4,
		profiles:  make(map[string]Profile),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.loadLimit <= 0 {
		s.loadLimit = 1
	}
	s.refresher, _ = synth.As[synth.SpeakerRefresher](engine)
	s.features, _ = synth.As[synth.FeatureExtractor](engine)
	return s
}

// Dir returns the custom profile directory.
func (s *Store) Dir() string { return s.ser.Dir() }

// SampleRateFloor returns the minimum accepted clip sample rate.
func (s *Store) SampleRateFloor() int { return s.floor }

// Load fetches the pretrained speakers from the engine, restores snapshot
// metadata and reconciles with disk. An engine failure is returned after the
// custom profiles have been loaded, so the store stays usable.
func (s *Store) Load(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "voice.load")
	defer span.End()
	log := observe.Logger(ctx)

	names, engineErr := s.engine.ListSpeakers(ctx)
	if engineErr != nil {
		engineErr = fmt.Errorf("voice: list pretrained speakers: %w: %w", types.ErrEngineFailure, engineErr)
		observe.RecordError(span, engineErr)
	}

	var restored []Profile
	for _, sink := range s.sinks {
		loader, ok := sink.(SnapshotLoader)
		if !ok {
			continue
		}
		ps, err := loader.LoadSnapshot(ctx)
		if err != nil {
			log.Warn("voice: ignoring unreadable registry snapshot", "sink", sink.Name(), "err", err)
			continue
		}
		restored = append(restored, ps...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pretrained = names
	for _, n := range names {
		s.profiles[n] = Profile{Name: n, Origin: OriginPretrained}
	}
	for _, p := range restored {
		cur, exists := s.profiles[p.Name]
		switch {
		case p.Origin == OriginPretrained && exists && cur.Origin == OriginPretrained:
			s.profiles[p.Name] = p
		case p.Origin == OriginCustom:
			// Reconciliation drops the entry if its file is gone.
			p.Path = s.ser.Path(p.Name)
			s.profiles[p.Name] = p
		}
	}
	if err := s.reconcileLocked(ctx); err != nil {
		return err
	}
	log.Info("voice profiles loaded", "pretrained", len(names), "dir", s.ser.Dir())
	return engineErr
}

// List reconciles the registry with disk and returns every profile name:
// pretrained speakers in engine order, then custom profiles sorted. It never
// fails; on error or when nothing is registered it returns [NoProfiles] as
// the only element.
func (s *Store) List(ctx context.Context) []string {
	ctx, span := observe.StartSpan(ctx, "voice.list")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reconcileLocked(ctx); err != nil {
		observe.RecordError(span, err)
		observe.Logger(ctx).Error("voice: list profiles", "err", err)
		return []string{NoProfiles}
	}
	names := s.namesLocked()
	if len(names) == 0 {
		return []string{NoProfiles}
	}
	return names
}

// Profiles is List with metadata: reconciled copies in listing order.
func (s *Store) Profiles(ctx context.Context) []Profile {
	ctx, span := observe.StartSpan(ctx, "voice.profiles")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reconcileLocked(ctx); err != nil {
		observe.RecordError(span, err)
		observe.Logger(ctx).Error("voice: list profiles", "err", err)
		return nil
	}
	names := s.namesLocked()
	out := make([]Profile, 0, len(names))
	for _, n := range names {
		out = append(out, s.profiles[n].clone())
	}
	return out
}

// Lookup returns a copy of the named profile.
func (s *Store) Lookup(name string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[name]
	if !ok {
		return Profile{}, false
	}
	return p.clone(), true
}

// Register clones a new custom profile from clip and persists it. An existing
// profile with the same name is overwritten.
func (s *Store) Register(ctx context.Context, name string, clip *audio.Clip) (Profile, error) {
	ctx, span := observe.StartSpan(ctx, "voice.register")
	defer span.End()

	p, err := s.register(ctx, name, clip)
	status := "ok"
	if err != nil {
		status = "error"
		observe.RecordError(span, err)
	}
	s.metrics.RecordProfileOp(ctx, "register", status)
	return p, err
}

func (s *Store) register(ctx context.Context, name string, clip *audio.Clip) (Profile, error) {
	if err := ValidateName(name); err != nil {
		return Profile{}, err
	}
	if clip == nil {
		return Profile{}, fmt.Errorf("voice: register %q: no reference clip: %w", name, types.ErrInvalidInput)
	}
	if clip.SampleRate < s.floor {
		return Profile{}, fmt.Errorf("voice: register %q: clip sample rate %d Hz is below %d Hz: %w",
			name, clip.SampleRate, s.floor, types.ErrSampleRateTooLow)
	}

	// Extraction touches only the engine, so it runs outside the lock.
	emb, err := s.engine.ExtractEmbedding(ctx, *clip)
	if err != nil {
		s.metrics.RecordEngineError(ctx, "synthesis", "extract_embedding")
		return Profile{}, fmt.Errorf("voice: register %q: extract embedding: %w: %w", name, types.ErrEngineFailure, err)
	}
	var features synth.FeatureBundle
	if s.features != nil {
		features, err = s.features.ExtractFeatures(ctx, *clip, "")
		if err != nil {
			s.metrics.RecordEngineError(ctx, "synthesis", "extract_features")
			return Profile{}, fmt.Errorf("voice: register %q: extract features: %w: %w", name, types.ErrEngineFailure, err)
		}
	}

	p := Profile{
		Name:             name,
		Embedding:        emb,
		SampleRate:       s.floor,
		Origin:           OriginCustom,
		SourceSampleRate: clip.SampleRate,
		ModelVersion:     synth.ModelVersion(s.engine.Generation()),
		Features:         features,
		CreatedAt:        time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.ser.Write(p)
	if err != nil {
		return Profile{}, err
	}
	p.Path = path
	s.profiles[name] = p
	if err := s.reconcileLocked(ctx); err != nil {
		return Profile{}, err
	}
	observe.Logger(ctx).Info("voice profile registered", "name", name, "path", path, "source_rate", clip.SampleRate)
	return p.clone(), nil
}

// Delete removes a custom profile and its backing file.
func (s *Store) Delete(ctx context.Context, name string) error {
	ctx, span := observe.StartSpan(ctx, "voice.delete")
	defer span.End()

	err := s.delete(ctx, name)
	status := "ok"
	if err != nil {
		status = "error"
		observe.RecordError(span, err)
	}
	s.metrics.RecordProfileOp(ctx, "delete", status)
	if err != nil || s.refresher == nil {
		return err
	}
	if rerr := s.refresher.RefreshSpeakers(ctx); rerr != nil {
		s.metrics.RecordEngineError(ctx, "synthesis", "refresh_speakers")
		observe.Logger(ctx).Warn("voice: engine speaker refresh failed", "err", rerr)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("voice: delete: no profile selected: %w", types.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ValidateName(name) != nil || !s.ser.Exists(name) {
		return &NotFoundError{Name: name, Suggestions: suggest(name, s.customNamesLocked())}
	}
	if err := s.ser.Remove(name); err != nil {
		return err
	}
	s.dropCustomLocked(name)
	if err := s.reconcileLocked(ctx); err != nil {
		return err
	}
	observe.Logger(ctx).Info("voice profile deleted", "name", name)
	return nil
}

// ---- critical-section helpers (s.mu held) ----

// reconcileLocked makes the custom entries of the registry match the files on
// disk, then persists the registry to every sink. Sink failures are logged
// and do not fail the reconciliation.
func (s *Store) reconcileLocked(ctx context.Context) error {
	log := observe.Logger(ctx)

	names, err := s.ser.Names()
	if err != nil {
		return err
	}
	onDisk := make(map[string]struct{}, len(names))
	var fresh []string
	for _, n := range names {
		onDisk[n] = struct{}{}
		if p, ok := s.profiles[n]; !ok || p.Origin != OriginCustom || len(p.Embedding) == 0 {
			fresh = append(fresh, n)
		}
	}

	loaded := make([]*Profile, len(fresh))
	var g errgroup.Group
	g.SetLimit(s.loadLimit)
	for i, n := range fresh {
		g.Go(func() error {
			p, err := s.ser.Read(s.ser.Path(n))
			if err != nil {
				log.Warn("voice: skipping unreadable profile file", "name", n, "err", err)
				return nil
			}
			loaded[i] = &p
			return nil
		})
	}
	_ = g.Wait()
	for _, p := range loaded {
		if p != nil {
			s.profiles[p.Name] = *p
			log.Debug("voice: registered profile found on disk", "name", p.Name)
		}
	}

	for n, p := range s.profiles {
		if p.Origin != OriginCustom {
			continue
		}
		if _, ok := onDisk[n]; !ok {
			s.dropCustomLocked(n)
			log.Debug("voice: pruned profile without backing file", "name", n)
		}
	}

	s.persistLocked(ctx)
	return nil
}

func (s *Store) persistLocked(ctx context.Context) {
	names := s.namesLocked()
	snapshot := make([]Profile, 0, len(names))
	custom := 0
	for _, n := range names {
		p := s.profiles[n]
		if p.Origin == OriginCustom {
			custom++
		}
		snapshot = append(snapshot, p)
	}
	s.metrics.SetProfiles(ctx, string(OriginCustom), custom)
	s.metrics.SetProfiles(ctx, string(OriginPretrained), len(names)-custom)

	for _, sink := range s.sinks {
		if err := sink.Persist(ctx, snapshot); err != nil {
			observe.Logger(ctx).Warn("voice: persist registry", "sink", sink.Name(), "err", err)
		}
	}
}

// dropCustomLocked removes the custom entry for name. A pretrained speaker of
// the same name it shadowed becomes visible again.
func (s *Store) dropCustomLocked(name string) {
	if slices.Contains(s.pretrained, name) {
		s.profiles[name] = Profile{Name: name, Origin: OriginPretrained}
		return
	}
	delete(s.profiles, name)
}

// namesLocked returns pretrained names in engine order followed by custom
// names sorted ascending.
func (s *Store) namesLocked() []string {
	out := make([]string, 0, len(s.profiles))
	for _, n := range s.pretrained {
		if p, ok := s.profiles[n]; ok && p.Origin == OriginPretrained {
			out = append(out, n)
		}
	}
	return append(out, s.customNamesLocked()...)
}

func (s *Store) customNamesLocked() []string {
	var custom []string
	for n, p := range s.profiles {
		if p.Origin == OriginCustom {
			custom = append(custom, n)
		}
	}
	sort.Strings(custom)
	return custom
}
