package dispatch

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/MrWong99/voxstudio/pkg/audio"
)

// Prompt framing understood by the engines.
const (
	Preamble           = "You are a helpful assistant."
	Terminator         = "<|endofprompt|>"
	InstructTerminator = "。<|endofprompt|>"
)

// DefaultSampleRateFloor is the lowest accepted prompt clip rate.
const DefaultSampleRateFloor = 16000

// Request is one raw synthesis request as received from a client.
type Request struct {
	Text         string
	Mode         Mode
	Profile      string
	UploadedClip *audio.Clip
	RecordedClip *audio.Clip
	PromptText   string
	InstructText string
	Seed         float64
	Stream       bool
	Speed        float64
}

// Validated is the canonical form of a Request: Text, PromptText and
// InstructText carry their engine framing and Clip is the chosen prompt clip.
// Diagnostics are in the order raised; at most one is an error and it is
// always last.
type Validated struct {
	Request
	Clip        *audio.Clip
	Diagnostics []Diagnostic
}

// Err returns the error diagnostic, or nil when the request is usable.
func (v Validated) Err() *Diagnostic { return FirstError(v.Diagnostics) }

// ClipProber reads the header of the clip at path.
type ClipProber func(path string) (audio.Clip, error)

// Env is the engine-dependent context of validation.
type Env struct {
	// Generation is the synthesis engine generation.
	Generation int

	// SampleRateFloor is the lowest accepted prompt clip rate.
	// Zero means DefaultSampleRateFloor.
	SampleRateFloor int

	// Probe re-reads a clip from disk. Nil means audio.ProbeClip.
	Probe ClipProber
}

// Validate checks req against the requirements of its mode. It stops at the
// first error.
func Validate(req Request, env Env) Validated {
	if env.SampleRateFloor <= 0 {
		env.SampleRateFloor = DefaultSampleRateFloor
	}
	if env.Probe == nil {
		env.Probe = audio.ProbeClip
	}

	v := Validated{Request: req}
	v.Clip = req.UploadedClip
	if v.Clip == nil {
		v.Clip = req.RecordedClip
	}

	var c checker
	switch req.Mode {
	case ModePretrained:
		c.pretrained(&v)
	case ModeQuickClone:
		c.quickClone(&v, env)
	case ModeCrossLingual:
		c.crossLingual(&v, env)
	case ModeInstruct:
		c.instruct(&v, env)
	default:
		c.add(failure(KindUnknownMode, fmt.Sprintf("unknown synthesis mode %q", req.Mode)))
	}
	v.Diagnostics = c.diags
	return v
}

// checker accumulates diagnostics until the first error.
type checker struct {
	diags  []Diagnostic
	failed bool
}

// add records d and reports whether validation may continue.
func (c *checker) add(d Diagnostic) bool {
	if c.failed {
		return false
	}
	c.diags = append(c.diags, d)
	if d.Severity == SeverityError {
		c.failed = true
	}
	return !c.failed
}

func (c *checker) pretrained(v *Validated) {
	if v.InstructText != "" || v.Clip != nil || v.PromptText != "" {
		c.add(warning(KindIgnoredInputs,
			"pretrained mode ignores the prompt text, the prompt clip and the instruction"))
	}
	if v.Profile == "" {
		c.add(failure(KindMissingProfile, "no pretrained voice is available"))
		return
	}
	v.Text = Preamble + Terminator + v.Text
}

func (c *checker) quickClone(v *Validated, env Env) {
	if !c.requireClip(v, env, true) {
		return
	}
	if v.PromptText == "" {
		c.add(failure(KindMissingTranscript, "prompt text is empty; did you forget to enter it?"))
		return
	}
	if env.Generation >= 3 {
		v.PromptText = Preamble + Terminator + v.PromptText
	}
	if v.InstructText != "" || v.Profile != "" {
		c.add(warning(KindIgnoredInputs, "quick clone mode ignores the pretrained voice and the instruction"))
	}
}

func (c *checker) crossLingual(v *Validated, env Env) {
	if v.InstructText != "" {
		c.add(info(KindIgnoredInputs, "cross-lingual mode ignores the instruction"))
	}
	if !c.requireClip(v, env, true) {
		return
	}
	c.add(info(KindCrossLingualReminder, "make sure the text and the prompt clip are in different languages"))
	v.Text = Preamble + Terminator + strings.TrimSpace(v.Text)
}

func (c *checker) instruct(v *Validated, env Env) {
	instr := strings.TrimSpace(v.InstructText)
	if instr == "" {
		c.add(failure(KindMissingInstruction, "instruct mode needs a non-empty instruction, e.g. \"speak in Cantonese\""))
		return
	}
	if !c.requireClip(v, env, false) {
		return
	}
	if v.Profile != "" {
		c.add(warning(KindIgnoredInputs, "instruct mode ignores the pretrained voice; the timbre comes from the prompt clip"))
	}
	if v.PromptText != "" {
		c.add(info(KindIgnoredInputs, "instruct mode ignores the prompt text; only the prompt clip is used"))
	}
	v.InstructText = Preamble + " " + instr + InstructTerminator
}

// requireClip checks that a prompt clip was supplied and still exists, and
// optionally that its rate meets the floor. The probed header replaces the
// supplied one.
func (c *checker) requireClip(v *Validated, env Env, checkRate bool) bool {
	if v.Clip == nil {
		return c.add(failure(KindMissingClip, "prompt clip is empty; did you forget to upload or record one?"))
	}
	probed, err := env.Probe(v.Clip.Path)
	if err != nil {
		msg := fmt.Sprintf("prompt clip %s cannot be read", v.Clip.Path)
		if errors.Is(err, fs.ErrNotExist) {
			msg = fmt.Sprintf("prompt clip %s does not exist", v.Clip.Path)
		}
		return c.add(failure(KindMissingClip, msg))
	}
	v.Clip = &probed
	if checkRate && probed.SampleRate < env.SampleRateFloor {
		return c.add(failure(KindSampleRateTooLow,
			fmt.Sprintf("prompt clip sample rate %d Hz is below %d Hz", probed.SampleRate, env.SampleRateFloor)))
	}
	return true
}
