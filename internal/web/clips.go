package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxstudio/pkg/audio"
	"github.com/MrWong99/voxstudio/pkg/types"
)

// ClipCache spools uploaded reference clips to disk and hands them out by id.
// Clips unused for longer than the TTL are removed by [ClipCache.Run].
type ClipCache struct {
	dir      string
	ownDir   bool
	ttl      time.Duration
	maxBytes int64
	now      func() time.Time

	mu    sync.Mutex
	clips map[string]*cachedClip
}

type cachedClip struct {
	clip     audio.Clip
	lastUsed time.Time
}

// NewClipCache creates a cache under dir. An empty dir uses a fresh temporary
// directory that [ClipCache.Close] removes.
func NewClipCache(dir string, ttl time.Duration, maxBytes int64) (*ClipCache, error) {
	c := &ClipCache{
		dir:      dir,
		ttl:      ttl,
		maxBytes: maxBytes,
		now:      time.Now,
		clips:    make(map[string]*cachedClip),
	}
	if dir == "" {
		d, err := os.MkdirTemp("", "voxstudio-clips-")
		if err != nil {
			return nil, fmt.Errorf("web: clip cache: %w", err)
		}
		c.dir, c.ownDir = d, true
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("web: clip cache: %w", err)
	}
	return c, nil
}

// Dir returns the spool directory.
func (c *ClipCache) Dir() string { return c.dir }

// Put spools r as a WAV file and returns its id and description. Payloads
// larger than the configured limit or that are not WAV are rejected with
// [types.ErrInvalidInput].
func (c *ClipCache) Put(r io.Reader) (string, audio.Clip, error) {
	id := uuid.NewString()
	path := filepath.Join(c.dir, id+".wav")

	f, err := os.Create(path)
	if err != nil {
		return "", audio.Clip{}, fmt.Errorf("web: spool clip: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, c.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > c.maxBytes {
		err = fmt.Errorf("clip exceeds %d bytes: %w", c.maxBytes, types.ErrInvalidInput)
	}
	if err != nil {
		os.Remove(path)
		return "", audio.Clip{}, err
	}

	clip, err := audio.ProbeClip(path)
	if err != nil {
		os.Remove(path)
		return "", audio.Clip{}, fmt.Errorf("%w: %w", types.ErrInvalidInput, err)
	}

	c.mu.Lock()
	c.clips[id] = &cachedClip{clip: clip, lastUsed: c.now()}
	c.mu.Unlock()
	return id, clip, nil
}

// Get returns the clip stored under id and refreshes its TTL. An empty id
// returns nil without error.
func (c *ClipCache) Get(id string) (*audio.Clip, error) {
	if id == "" {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.clips[id]
	if !ok {
		return nil, fmt.Errorf("clip %q is unknown or expired: %w", id, types.ErrNotFound)
	}
	e.lastUsed = c.now()
	clip := e.clip
	return &clip, nil
}

// Len returns the number of cached clips.
func (c *ClipCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clips)
}

// Sweep removes every clip unused for longer than the TTL and returns how
// many were removed.
func (c *ClipCache) Sweep() int {
	cutoff := c.now().Add(-c.ttl)
	c.mu.Lock()
	var expired []string
	for id, e := range c.clips {
		if e.lastUsed.Before(cutoff) {
			expired = append(expired, e.clip.Path)
			delete(c.clips, id)
		}
	}
	c.mu.Unlock()

	for _, path := range expired {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("web: remove expired clip", "path", path, "err", err)
		}
	}
	return len(expired)
}

// Run sweeps expired clips until ctx is done.
func (c *ClipCache) Run(ctx context.Context) {
	interval := max(c.ttl/4, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				slog.Debug("web: expired clips removed", "count", n)
			}
		}
	}
}

// Close removes the spool directory when the cache created it.
func (c *ClipCache) Close() error {
	if !c.ownDir {
		return nil
	}
	return os.RemoveAll(c.dir)
}
