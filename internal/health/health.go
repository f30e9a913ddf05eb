// Package health serves the liveness and readiness endpoints of voxstudio.
//
// Liveness only says the process answers HTTP. Readiness asks the synthesis
// engine, the voice directory and (when configured) the profile catalog, and
// reports each answer by name:
//
//	{"status":"fail","checks":{"synthesis":"ok","voices":"fail: ..."}}
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

// Per-checker deadline; a hung engine must not hang readyz.
const checkTimeout = 5 * time.Second

// Checker is one named readiness dependency. Check returns nil when ready.
type Checker struct {
	// Name keys the check in the response, e.g. "synthesis".
	Name  string
	Check func(ctx context.Context) error
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers /healthz and /readyz.
type Handler struct {
	checkers []Checker
}

// New returns a Handler that runs checkers on every readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every checker in parallel and answers 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks, ok := h.run(r.Context())
	rep := report{Status: "ok", Checks: checks}
	code := http.StatusOK
	if !ok {
		rep.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

func (h *Handler) run(ctx context.Context) (map[string]string, bool) {
	checks := make(map[string]string, len(h.checkers))
	ok := true

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range h.checkers {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := c.Check(cctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				ok = false
				return
			}
			checks[c.Name] = "ok"
		})
	}
	wg.Wait()
	return checks, ok
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: encode response", "err", err)
	}
}

// Prober is implemented by engines that can report their own reachability.
type Prober interface {
	Probe(ctx context.Context) error
}

// Probe returns a [Checker] that calls p.Probe.
func Probe(name string, p Prober) Checker {
	return Checker{Name: name, Check: p.Probe}
}

// DirWritable returns a [Checker] that passes when dir exists (or can be
// created) and accepts a new file.
func DirWritable(name, dir string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			f, err := os.CreateTemp(dir, ".readyz-*")
			if err != nil {
				return fmt.Errorf("%s not writable: %w", dir, err)
			}
			f.Close()
			return os.Remove(f.Name())
		},
	}
}
