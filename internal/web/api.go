package web

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/voxstudio/internal/dispatch"
	"github.com/MrWong99/voxstudio/internal/voice"
	"github.com/MrWong99/voxstudio/pkg/types"
)

// ---- modes and seeds ----

type modeView struct {
	Mode         dispatch.Mode `json:"mode"`
	Instructions string        `json:"instructions"`
}

func (s *Server) handleModes(w http.ResponseWriter, _ *http.Request) {
	modes := dispatch.Modes()
	out := make([]modeView, 0, len(modes))
	for _, m := range modes {
		out = append(out, modeView{Mode: m, Instructions: dispatch.Instructions(m)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"modes": out})
}

func (s *Server) handleSeed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"seed": dispatch.RandomSeed()})
}

// ---- clips ----

type clipResponse struct {
	ID         string `json:"id"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	DurationMS int64  `json:"duration_ms"`
	Transcript string `json:"transcript,omitempty"`
}

func (s *Server) handleUploadClip(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.clips.maxBytes+1<<20)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, "upload", fmt.Errorf("expected a WAV file in multipart field \"file\": %w: %w", types.ErrInvalidInput, err))
		return
	}
	defer file.Close()

	id, clip, err := s.clips.Put(file)
	if err != nil {
		writeError(w, "upload", err)
		return
	}
	resp := clipResponse{
		ID:         id,
		SampleRate: clip.SampleRate,
		Channels:   clip.Channels,
		DurationMS: clip.Duration.Milliseconds(),
	}
	if on, _ := strconv.ParseBool(r.URL.Query().Get("transcribe")); on {
		resp.Transcript = s.bridge.Transcribe(r.Context(), &clip)
	}
	writeJSON(w, http.StatusCreated, resp)
}

type transcribeRequest struct {
	Clip string `json:"clip"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "transcribe", err)
		return
	}
	clip, err := s.clips.Get(req.Clip)
	if err != nil {
		writeError(w, "transcribe", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": s.bridge.Transcribe(r.Context(), clip)})
}

// ---- voices ----

type profileView struct {
	Name             string    `json:"name"`
	Origin           string    `json:"origin"`
	SampleRate       int       `json:"sample_rate"`
	SourceSampleRate int       `json:"source_sample_rate,omitempty"`
	ModelVersion     string    `json:"model_version,omitempty"`
	EmbeddingDims    int       `json:"embedding_dims"`
	CreatedAt        time.Time `json:"created_at,omitzero"`
}

func viewOf(p voice.Profile) profileView {
	return profileView{
		Name:             p.Name,
		Origin:           string(p.Origin),
		SampleRate:       p.SampleRate,
		SourceSampleRate: p.SourceSampleRate,
		ModelVersion:     p.ModelVersion,
		EmbeddingDims:    len(p.Embedding),
		CreatedAt:        p.CreatedAt,
	}
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	if detail, _ := strconv.ParseBool(r.URL.Query().Get("detail")); detail {
		profiles := s.store.Profiles(r.Context())
		out := make([]profileView, 0, len(profiles))
		for _, p := range profiles {
			out = append(out, viewOf(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{"profiles": out})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"voices": s.store.List(r.Context())})
}

type registerRequest struct {
	Name       string `json:"name"`
	UploadClip string `json:"upload_clip"`
	RecordClip string `json:"record_clip"`
}

type registerResponse struct {
	Status  string       `json:"status"`
	Profile *profileView `json:"profile,omitempty"`
}

func (s *Server) handleRegisterVoice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "save", err)
		return
	}
	clip, err := s.pickClip(req.UploadClip, req.RecordClip)
	if err != nil {
		writeError(w, "save", err)
		return
	}
	p, err := s.store.Register(r.Context(), req.Name, clip)
	if err != nil {
		writeError(w, "save", err)
		return
	}
	view := viewOf(p)
	writeJSON(w, http.StatusCreated, registerResponse{
		Status:  "voice " + strconv.Quote(p.Name) + " saved to " + p.Path,
		Profile: &view,
	})
}

func (s *Server) handleDeleteVoice(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.store.Delete(r.Context(), name); err != nil {
		writeError(w, "delete", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status: "voice " + strconv.Quote(name) + " deleted",
	})
}

const defaultSimilarK = 5

func (s *Server) handleSimilarVoices(w http.ResponseWriter, r *http.Request) {
	if s.similar == nil {
		writeJSON(w, http.StatusNotImplemented, statusResponse{Status: "similarity search requires the profile catalog"})
		return
	}
	k := defaultSimilarK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, "similar", fmt.Errorf("k must be an integer in [1, 100]: %w", types.ErrInvalidInput))
			return
		}
		k = n
	}
	matches, err := s.similar.Similar(r.Context(), r.PathValue("name"), k)
	if err != nil {
		writeError(w, "similar", err)
		return
	}
	type match struct {
		Name     string  `json:"name"`
		Distance float64 `json:"distance"`
	}
	out := make([]match, 0, len(matches))
	for _, m := range matches {
		out = append(out, match{Name: m.Name, Distance: m.Distance})
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": out})
}
