package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MrWong99/voxstudio/internal/voice"
	"github.com/MrWong99/voxstudio/pkg/types"
)

// statusMessage converts a store or request error into an HTTP status code
// and the user-facing status string for op. Engine failures are logged and
// reported without the engine's own message.
func statusMessage(op string, err error) (int, string) {
	msg := voice.UserMessage(op, err)
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, msg
	case errors.Is(err, types.ErrInvalidInput), errors.Is(err, types.ErrSampleRateTooLow):
		return http.StatusBadRequest, msg
	case errors.Is(err, types.ErrEngineFailure):
		slog.Warn("web: engine failure", "op", op, "err", err)
		return http.StatusBadGateway, msg
	default:
		slog.Error("web: internal error", "op", op, "err", err)
		return http.StatusInternalServerError, msg
	}
}

type statusResponse struct {
	Status string `json:"status"`
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("web: encode response", "err", err)
	}
}

// writeError writes the status string for err.
func writeError(w http.ResponseWriter, op string, err error) {
	code, msg := statusMessage(op, err)
	writeJSON(w, code, statusResponse{Status: msg})
}

// decodeJSON reads a JSON request body into v. Unknown fields are rejected.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed request body: %w: %w", types.ErrInvalidInput, err)
	}
	return nil
}
