package dispatch

import (
	"math"
	"math/rand/v2"
)

// Severity grades a diagnostic.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	// SeverityError makes the request unusable: the engine is never called and
	// a single silent frame is emitted instead.
	SeverityError Severity = "error"
)

// Diagnostic kinds. They are stable and safe to match on.
const (
	KindMissingProfile     = "missing-profile"
	KindMissingClip        = "missing-clip"
	KindMissingTranscript  = "missing-transcript"
	KindMissingInstruction = "missing-instruction"
	KindSampleRateTooLow   = "sample-rate-too-low"
	KindUnknownMode        = "unknown-mode"
	KindUnknownProfile     = "unknown-profile"

	KindIgnoredInputs        = "ignored-inputs"
	KindCrossLingualReminder = "cross-lingual-reminder"
	KindStreamSpeedForced    = "stream-speed-forced"
	KindSpeedClamped         = "speed-clamped"
)

// Diagnostic is one message raised while preparing a request.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Kind     string   `json:"kind"`
	Message  string   `json:"message"`
}

func info(kind, msg string) Diagnostic    { return Diagnostic{SeverityInfo, kind, msg} }
func warning(kind, msg string) Diagnostic { return Diagnostic{SeverityWarning, kind, msg} }
func failure(kind, msg string) Diagnostic { return Diagnostic{SeverityError, kind, msg} }

// HasError reports whether any diagnostic in ds is an error.
func HasError(ds []Diagnostic) bool {
	return FirstError(ds) != nil
}

// FirstError returns the first error diagnostic in ds, or nil.
func FirstError(ds []Diagnostic) *Diagnostic {
	for i := range ds {
		if ds[i].Severity == SeverityError {
			return &ds[i]
		}
	}
	return nil
}

// Speed limits.
const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

// ResolveSpeed returns the effective speaking rate. Streaming engines cannot
// change the rate, so a streaming request with speed != 1 runs at 1. Otherwise
// speed is clamped to [MinSpeed, MaxSpeed]. Resolving a resolved speed is a
// no-op and raises nothing.
func ResolveSpeed(speed float64, stream bool) (float64, []Diagnostic) {
	if math.IsNaN(speed) {
		return 1.0, []Diagnostic{warning(KindSpeedClamped, "speed is not a number; using 1.0")}
	}
	if stream && speed != 1.0 {
		return 1.0, []Diagnostic{warning(KindStreamSpeedForced,
			"speed adjustment is not supported in streaming mode; speed set to 1.0")}
	}
	if speed < MinSpeed || speed > MaxSpeed {
		return max(MinSpeed, min(MaxSpeed, speed)), []Diagnostic{warning(KindSpeedClamped,
			"speed must be between 0.5 and 2.0; the value was clamped")}
	}
	return speed, nil
}

// MaxSeed is the largest seed handed out by [RandomSeed].
const MaxSeed = 1<<32 - 1

// RandomSeed returns a fresh seed in [1, MaxSeed].
func RandomSeed() int64 {
	return 1 + rand.Int64N(MaxSeed)
}

// SeedValue coerces a client-supplied seed to the integer the engine is
// seeded with. Fractions are truncated.
func SeedValue(seed float64) int64 {
	if math.IsNaN(seed) || math.IsInf(seed, 0) {
		return 0
	}
	return int64(seed)
}
