// Package types holds the error taxonomy shared by every voxstudio layer.
//
// Packages wrap these sentinels with context (fmt.Errorf("pkg: op: %w", ...))
// and callers classify failures with errors.Is.
package types

import "errors"

var (
	// ErrInvalidInput reports a malformed argument: an empty or unusable
	// profile name, a missing clip, an unknown mode.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSampleRateTooLow reports a reference clip recorded below the prompt
	// sample-rate floor.
	ErrSampleRateTooLow = errors.New("sample rate too low")

	// ErrNotFound reports a missing profile or clip.
	ErrNotFound = errors.New("not found")

	// ErrEngineFailure reports a failure inside a synthesis or recognition
	// engine. It is never surfaced to a caller as a raw engine error.
	ErrEngineFailure = errors.New("engine failure")
)
