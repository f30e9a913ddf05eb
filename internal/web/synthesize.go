package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxstudio/internal/dispatch"
	"github.com/MrWong99/voxstudio/internal/observe"
	"github.com/MrWong99/voxstudio/internal/synthesis"
	"github.com/MrWong99/voxstudio/pkg/audio"
	"github.com/MrWong99/voxstudio/pkg/audio/opus"
	"github.com/MrWong99/voxstudio/pkg/types"
)

// Response headers of POST /api/synthesize.
const (
	HeaderDiagnostics = "X-Voxstudio-Diagnostics"
	HeaderGeneration  = "X-Voxstudio-Generation"
	HeaderSeed        = "X-Voxstudio-Seed"
	HeaderRejected    = "X-Voxstudio-Rejected"
	// HeaderError is sent as a trailer when the engine fails mid-stream.
	HeaderError = "X-Voxstudio-Error"
)

// synthesizeRequest is the JSON body of a synthesis request. Clip fields hold
// ids returned by POST /api/clips. Seed and Speed are optional: a missing
// seed is drawn at random and a missing speed means 1.0.
type synthesizeRequest struct {
	Text         string   `json:"text"`
	Mode         string   `json:"mode"`
	Profile      string   `json:"profile"`
	UploadClip   string   `json:"upload_clip"`
	RecordClip   string   `json:"record_clip"`
	PromptText   string   `json:"prompt_text"`
	InstructText string   `json:"instruct_text"`
	Seed         *float64 `json:"seed"`
	Stream       bool     `json:"stream"`
	Speed        *float64 `json:"speed"`
}

// pickClip resolves the uploaded clip id, falling back to the recorded one.
func (s *Server) pickClip(upload, record string) (*audio.Clip, error) {
	if upload != "" {
		return s.clips.Get(upload)
	}
	return s.clips.Get(record)
}

// start validates req and hands it to the orchestrator. It returns the seed
// actually used.
func (s *Server) start(ctx context.Context, req synthesizeRequest) (*synthesis.Generation, int64, error) {
	var uploaded, recorded *audio.Clip
	var err error
	if req.UploadClip != "" {
		if uploaded, err = s.clips.Get(req.UploadClip); err != nil {
			return nil, 0, err
		}
	} else if recorded, err = s.clips.Get(req.RecordClip); err != nil {
		return nil, 0, err
	}

	mode := dispatch.Mode(req.Mode)
	if m, err := dispatch.ParseMode(req.Mode); err == nil {
		mode = m
	}
	speed := 1.0
	if req.Speed != nil {
		speed = *req.Speed
	}
	seed := float64(dispatch.RandomSeed())
	if req.Seed != nil {
		seed = *req.Seed
	}

	v := dispatch.Validate(dispatch.Request{
		Text:         req.Text,
		Mode:         mode,
		Profile:      req.Profile,
		UploadedClip: uploaded,
		RecordedClip: recorded,
		PromptText:   req.PromptText,
		InstructText: req.InstructText,
		Seed:         seed,
		Stream:       req.Stream,
		Speed:        speed,
	}, dispatch.Env{
		Generation:      s.generation(),
		SampleRateFloor: s.store.SampleRateFloor(),
	})
	return s.orch.Generate(ctx, v), dispatch.SeedValue(seed), nil
}

// handleSynthesize streams the generation as a 16-bit mono WAV. Headers are
// held back until the first output so that an immediate engine failure still
// gets a proper error status.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	var req synthesizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "synthesize", err)
		return
	}
	gen, seed, err := s.start(r.Context(), req)
	if err != nil {
		writeError(w, "synthesize", err)
		return
	}

	h := w.Header()
	diag, _ := json.Marshal(gen.Diagnostics())
	h.Set(HeaderDiagnostics, string(diag))
	h.Set(HeaderGeneration, gen.ID())
	h.Set(HeaderSeed, strconv.FormatInt(seed, 10))
	if gen.Rejected() {
		h.Set(HeaderRejected, "true")
	}

	first, ok := <-gen.Frames()
	if ok && first.Err != nil {
		writeError(w, "synthesize", first.Err)
		return
	}

	h.Set("Content-Type", "audio/wav")
	h.Set("Trailer", HeaderError)
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	write := func(b []byte) bool {
		if _, err := w.Write(b); err != nil {
			log.Debug("web: synthesis client went away", "generation", gen.ID(), "err", err)
			return false
		}
		if err := rc.Flush(); err != nil {
			log.Debug("web: flush failed", "err", err)
		}
		return true
	}

	if !write(audio.StreamingWAVHeader(gen.SampleRate(), 1)) {
		return
	}
	if !ok {
		return
	}
	if !write(audio.FloatToPCM16(first.Frame.Samples)) {
		return
	}
	for out := range gen.Frames() {
		if out.Err != nil {
			_, msg := statusMessage("synthesize", out.Err)
			h.Set(HeaderError, msg)
			return
		}
		if !write(audio.FloatToPCM16(out.Frame.Samples)) {
			return
		}
	}
}

// ---- WebSocket ----

// Codecs of the WebSocket audio stream.
const (
	CodecPCM  = "pcm_f32le"
	CodecOpus = "opus"
)

// wsRequest is the single text message a client sends after connecting.
type wsRequest struct {
	synthesizeRequest
	Codec string `json:"codec"`
}

// wsEvent is a server text message. Audio travels in binary messages between
// the "diagnostics" event and the final "done" or "error" event.
type wsEvent struct {
	Type        string                `json:"type"`
	Generation  string                `json:"generation,omitempty"`
	Seed        int64                 `json:"seed,omitempty"`
	SampleRate  int                   `json:"sample_rate,omitempty"`
	Codec       string                `json:"codec,omitempty"`
	Diagnostics []dispatch.Diagnostic `json:"diagnostics,omitempty"`
	Rejected    bool                  `json:"rejected,omitempty"`
	Status      string                `json:"status,omitempty"`
}

// frameEncoder turns frames into binary WebSocket payloads.
type frameEncoder interface {
	encode(f audio.Frame) ([][]byte, error)
	flush() ([]byte, error)
	sampleRate() int
}

type pcmEncoder struct{ rate int }

func (e pcmEncoder) encode(f audio.Frame) ([][]byte, error) {
	return [][]byte{audio.Float32LE(f.Samples)}, nil
}
func (pcmEncoder) flush() ([]byte, error) { return nil, nil }
func (e pcmEncoder) sampleRate() int      { return e.rate }

type opusEncoder struct{ enc *opus.Encoder }

func (e opusEncoder) encode(f audio.Frame) ([][]byte, error) { return e.enc.Encode(f) }
func (e opusEncoder) flush() ([]byte, error)                 { return e.enc.Flush() }
func (e opusEncoder) sampleRate() int                        { return e.enc.SampleRate() }

func checkCodec(codec string) error {
	switch codec {
	case "", CodecPCM, CodecOpus:
		return nil
	}
	return fmt.Errorf("unknown codec %q (want %s or %s): %w", codec, CodecPCM, CodecOpus, types.ErrInvalidInput)
}

func newFrameEncoder(codec string, rate int) (frameEncoder, error) {
	if codec == CodecOpus {
		enc, err := opus.NewEncoder(rate)
		if err != nil {
			return nil, err
		}
		return opusEncoder{enc: enc}, nil
	}
	return pcmEncoder{rate: rate}, nil
}

func (s *Server) handleSynthesizeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := observe.Logger(ctx)

	var req wsRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		conn.Close(websocket.StatusUnsupportedData, "expected a JSON synthesis request")
		return
	}
	// The client sends nothing else; CloseRead cancels ctx when it hangs up.
	ctx = conn.CloseRead(ctx)

	fail := func(err error) {
		_, msg := statusMessage("synthesize", err)
		if werr := wsjson.Write(ctx, conn, wsEvent{Type: "error", Status: msg}); werr != nil {
			log.Debug("web: websocket write failed", "err", werr)
		}
		conn.Close(websocket.StatusNormalClosure, "error")
	}

	if err := checkCodec(req.Codec); err != nil {
		fail(err)
		return
	}
	gen, seed, err := s.start(ctx, req.synthesizeRequest)
	if err != nil {
		fail(err)
		return
	}
	enc, err := newFrameEncoder(req.Codec, gen.SampleRate())
	if err != nil {
		fail(err)
		return
	}

	codec := req.Codec
	if codec == "" {
		codec = CodecPCM
	}
	if err := wsjson.Write(ctx, conn, wsEvent{
		Type:        "diagnostics",
		Generation:  gen.ID(),
		Seed:        seed,
		SampleRate:  enc.sampleRate(),
		Codec:       codec,
		Diagnostics: gen.Diagnostics(),
		Rejected:    gen.Rejected(),
	}); err != nil {
		return
	}

	for out := range gen.Frames() {
		if out.Err != nil {
			fail(out.Err)
			return
		}
		payloads, err := enc.encode(out.Frame)
		if err != nil {
			fail(fmt.Errorf("web: encode frame: %w", err))
			return
		}
		for _, p := range payloads {
			if err := conn.Write(ctx, websocket.MessageBinary, p); err != nil {
				log.Debug("web: websocket client went away", "generation", gen.ID(), "err", err)
				return
			}
		}
	}
	if tail, err := enc.flush(); err != nil {
		fail(fmt.Errorf("web: encode frame: %w", err))
		return
	} else if tail != nil {
		if err := conn.Write(ctx, websocket.MessageBinary, tail); err != nil {
			return
		}
	}
	if err := wsjson.Write(ctx, conn, wsEvent{Type: "done", Generation: gen.ID()}); err != nil {
		return
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}
