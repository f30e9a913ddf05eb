// Package dispatch validates synthesis requests. [Validate] is a pure
// function from a raw [Request] to a canonical [Validated] request plus the
// diagnostics raised on the way; it never calls an engine and never fails.
package dispatch

import (
	"fmt"
	"strings"

	"github.com/MrWong99/voxstudio/pkg/types"
)

// Mode selects the synthesis strategy.
type Mode string

const (
	// ModePretrained speaks with a speaker from the engine's speaker table.
	ModePretrained Mode = "pretrained"

	// ModeQuickClone clones a voice from a few seconds of audio plus its
	// transcript.
	ModeQuickClone Mode = "quick_clone"

	// ModeCrossLingual clones a voice from a clip in another language.
	ModeCrossLingual Mode = "cross_lingual"

	// ModeInstruct clones a voice and follows a natural-language instruction.
	ModeInstruct Mode = "instruct"
)

// Modes returns every supported mode in presentation order.
func Modes() []Mode {
	return []Mode{ModePretrained, ModeQuickClone, ModeCrossLingual, ModeInstruct}
}

// aliases maps the UI labels the modes were first shipped under.
var aliases = map[string]Mode{
	"预训练音色":  ModePretrained,
	"3s极速复刻": ModeQuickClone,
	"跨语种复刻":  ModeCrossLingual,
	"自然语言控制": ModeInstruct,

	// Engine entry-point names.
	"sft":       ModePretrained,
	"zero_shot": ModeQuickClone,
	"instruct2": ModeInstruct,
}

// ParseMode resolves a mode name or one of its aliases.
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	for _, m := range Modes() {
		if string(m) == s {
			return m, nil
		}
	}
	if m, ok := aliases[s]; ok {
		return m, nil
	}
	return "", fmt.Errorf("dispatch: unknown mode %q: %w", s, types.ErrInvalidInput)
}

// Valid reports whether m is one of the supported modes.
func (m Mode) Valid() bool {
	for _, v := range Modes() {
		if m == v {
			return true
		}
	}
	return false
}

// Instructions returns the operator steps shown next to the mode selector.
func Instructions(m Mode) string {
	switch m {
	case ModePretrained:
		return "1. Select a pretrained voice\n2. Click generate"
	case ModeQuickClone:
		return "1. Upload or record a prompt clip of at most 30 s; an uploaded clip wins over a recording\n" +
			"2. Enter the prompt transcript\n3. Click generate"
	case ModeCrossLingual:
		return "1. Upload or record a prompt clip of at most 30 s; an uploaded clip wins over a recording\n" +
			"2. Click generate"
	case ModeInstruct:
		return "1. Upload or record a prompt clip for the voice timbre\n2. Enter the instruction text\n3. Click generate"
	}
	return ""
}
