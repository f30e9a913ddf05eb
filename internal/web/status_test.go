package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/MrWong99/voxstudio/internal/voice"
	"github.com/MrWong99/voxstudio/pkg/types"
)

func TestStatusMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "invalid input",
			err:      fmt.Errorf("voice: profile name must not be empty: %w", types.ErrInvalidInput),
			wantCode: http.StatusBadRequest,
			wantMsg:  "save failed: profile name must not be empty",
		},
		{
			name:     "sample rate",
			err:      fmt.Errorf("voice: register \"a\": clip sample rate 8000 Hz is below 16000 Hz: %w", types.ErrSampleRateTooLow),
			wantCode: http.StatusBadRequest,
			wantMsg:  "8000 Hz is below 16000 Hz",
		},
		{
			name:     "not found with suggestions",
			err:      &voice.NotFoundError{Name: "alcie", Suggestions: []string{"alice"}},
			wantCode: http.StatusNotFound,
			wantMsg:  `voice "alcie" does not exist or is not a custom voice; did you mean alice?`,
		},
		{
			name:     "engine failure hides detail",
			err:      fmt.Errorf("voice: extract embedding: %w: %w", types.ErrEngineFailure, errors.New("CUDA out of memory")),
			wantCode: http.StatusBadGateway,
			wantMsg:  "the engine could not complete the request",
		},
		{
			name:     "unclassified",
			err:      errors.New("disk on fire"),
			wantCode: http.StatusInternalServerError,
			wantMsg:  "internal error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, msg := statusMessage("save", tt.err)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("msg = %q, want it to contain %q", msg, tt.wantMsg)
			}
			if strings.Contains(msg, "CUDA") {
				t.Errorf("engine detail leaked: %q", msg)
			}
		})
	}
}
