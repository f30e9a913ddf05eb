package voice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxstudio/pkg/types"
)

// UserMessage renders err as the status line shown for op, e.g. "save failed:
// ...". Engine failures and unclassified errors are reported without their
// underlying message; callers log the full error themselves.
func UserMessage(op string, err error) string {
	var nf *NotFoundError
	switch {
	case errors.As(err, &nf):
		msg := fmt.Sprintf("%s failed: voice %q does not exist or is not a custom voice", op, nf.Name)
		if len(nf.Suggestions) > 0 {
			msg += "; did you mean " + strings.Join(nf.Suggestions, ", ") + "?"
		}
		return msg
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrInvalidInput),
		errors.Is(err, types.ErrSampleRateTooLow):
		return fmt.Sprintf("%s failed: %s", op, userText(err))
	case errors.Is(err, types.ErrEngineFailure):
		return fmt.Sprintf("%s failed: the engine could not complete the request", op)
	default:
		return fmt.Sprintf("%s failed: internal error", op)
	}
}

// userText drops the "pkg: op:" prefixes internal packages put in front of
// their messages.
func userText(err error) string {
	msg := err.Error()
	for _, prefix := range []string{"voice: ", "web: ", "dispatch: "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return msg
}
