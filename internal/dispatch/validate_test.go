package dispatch

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/MrWong99/voxstudio/pkg/audio"
)

// probeRates returns a prober that knows the given paths.
func probeRates(rates map[string]int) ClipProber {
	return func(path string) (audio.Clip, error) {
		rate, ok := rates[path]
		if !ok {
			return audio.Clip{}, fs.ErrNotExist
		}
		return audio.Clip{Path: path, SampleRate: rate, Channels: 1}, nil
	}
}

func kinds(ds []Diagnostic) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Kind
	}
	return out
}

func TestValidate_PretrainedFramesOnce(t *testing.T) {
	t.Parallel()
	v := Validate(Request{Mode: ModePretrained, Profile: "中文女", Text: "你好"}, Env{})
	if v.Err() != nil {
		t.Fatalf("unexpected error %+v", v.Err())
	}
	want := "You are a helpful assistant.<|endofprompt|>你好"
	if v.Text != want {
		t.Errorf("Text = %q, want %q", v.Text, want)
	}
	if n := strings.Count(v.Text, Terminator); n != 1 {
		t.Errorf("terminator count = %d, want 1", n)
	}
	if len(v.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %v, want none", kinds(v.Diagnostics))
	}
}

func TestValidate_PretrainedIgnoredInputs(t *testing.T) {
	t.Parallel()
	v := Validate(Request{
		Mode:         ModePretrained,
		Profile:      "中文女",
		InstructText: "whisper",
		UploadedClip: &audio.Clip{Path: "a.wav"},
	}, Env{})
	if len(v.Diagnostics) != 1 || v.Diagnostics[0].Kind != KindIgnoredInputs || v.Diagnostics[0].Severity != SeverityWarning {
		t.Errorf("Diagnostics = %+v", v.Diagnostics)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	env := Env{Probe: probeRates(map[string]int{"ok.wav": 24000, "low.wav": 8000})}
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"pretrained without profile", Request{Mode: ModePretrained}, KindMissingProfile},
		{"quick clone without clip", Request{Mode: ModeQuickClone, PromptText: "hi"}, KindMissingClip},
		{"quick clone low rate", Request{Mode: ModeQuickClone, PromptText: "hi", UploadedClip: &audio.Clip{Path: "low.wav"}}, KindSampleRateTooLow},
		{"quick clone without transcript", Request{Mode: ModeQuickClone, UploadedClip: &audio.Clip{Path: "ok.wav"}}, KindMissingTranscript},
		{"cross lingual without clip", Request{Mode: ModeCrossLingual, Text: "hello"}, KindMissingClip},
		{"cross lingual missing file", Request{Mode: ModeCrossLingual, RecordedClip: &audio.Clip{Path: "gone.wav"}}, KindMissingClip},
		{"cross lingual low rate", Request{Mode: ModeCrossLingual, RecordedClip: &audio.Clip{Path: "low.wav"}}, KindSampleRateTooLow},
		{"instruct empty instruction", Request{Mode: ModeInstruct, InstructText: "   ", UploadedClip: &audio.Clip{Path: "ok.wav"}}, KindMissingInstruction},
		{"instruct without clip", Request{Mode: ModeInstruct, InstructText: "slowly"}, KindMissingClip},
		{"unknown mode", Request{Mode: "karaoke"}, KindUnknownMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := Validate(tt.req, env)
			e := v.Err()
			if e == nil {
				t.Fatalf("no error; diagnostics = %v", kinds(v.Diagnostics))
			}
			if e.Kind != tt.want {
				t.Errorf("error kind = %q, want %q", e.Kind, tt.want)
			}
			// Validation stops at the first error.
			if last := v.Diagnostics[len(v.Diagnostics)-1]; last.Severity != SeverityError {
				t.Errorf("diagnostics after error: %v", kinds(v.Diagnostics))
			}
			n := 0
			for _, d := range v.Diagnostics {
				if d.Severity == SeverityError {
					n++
				}
			}
			if n != 1 {
				t.Errorf("error count = %d, want 1", n)
			}
		})
	}
}

func TestValidate_QuickClonePromptFraming(t *testing.T) {
	t.Parallel()
	env := Env{Probe: probeRates(map[string]int{"ok.wav": 16000})}
	req := Request{Mode: ModeQuickClone, PromptText: "希望你以后能够做的比我还好呦。", UploadedClip: &audio.Clip{Path: "ok.wav"}}

	env.Generation = 2
	if v := Validate(req, env); v.PromptText != req.PromptText {
		t.Errorf("gen 2 PromptText = %q, want unframed", v.PromptText)
	}
	env.Generation = 3
	if v := Validate(req, env); v.PromptText != Preamble+Terminator+req.PromptText {
		t.Errorf("gen 3 PromptText = %q", v.PromptText)
	}
}

func TestValidate_UploadedClipWins(t *testing.T) {
	t.Parallel()
	env := Env{Probe: probeRates(map[string]int{"up.wav": 16000, "rec.wav": 48000})}
	v := Validate(Request{
		Mode:         ModeCrossLingual,
		UploadedClip: &audio.Clip{Path: "up.wav"},
		RecordedClip: &audio.Clip{Path: "rec.wav"},
	}, env)
	if v.Clip == nil || v.Clip.Path != "up.wav" {
		t.Fatalf("Clip = %+v, want up.wav", v.Clip)
	}
	if v.Clip.SampleRate != 16000 {
		t.Errorf("Clip.SampleRate = %d, want probed 16000", v.Clip.SampleRate)
	}
}

func TestValidate_CrossLingual(t *testing.T) {
	t.Parallel()
	env := Env{Probe: probeRates(map[string]int{"ok.wav": 22050})}
	v := Validate(Request{
		Mode:         ModeCrossLingual,
		Text:         "  Hello there  ",
		InstructText: "ignored",
		RecordedClip: &audio.Clip{Path: "ok.wav"},
	}, env)
	if v.Err() != nil {
		t.Fatalf("unexpected error %+v", v.Err())
	}
	if v.Text != Preamble+Terminator+"Hello there" {
		t.Errorf("Text = %q", v.Text)
	}
	got := kinds(v.Diagnostics)
	if len(got) != 2 || got[0] != KindIgnoredInputs || got[1] != KindCrossLingualReminder {
		t.Errorf("Diagnostics = %v", got)
	}
	for _, d := range v.Diagnostics {
		if d.Severity != SeverityInfo {
			t.Errorf("%s severity = %s, want info", d.Kind, d.Severity)
		}
	}
}

func TestValidate_InstructFraming(t *testing.T) {
	t.Parallel()
	env := Env{Probe: probeRates(map[string]int{"ok.wav": 8000})}
	v := Validate(Request{
		Mode:         ModeInstruct,
		InstructText: "  用广东话朗读 ",
		PromptText:   "ignored",
		Profile:      "中文女",
		UploadedClip: &audio.Clip{Path: "ok.wav"},
	}, env)
	if v.Err() != nil {
		t.Fatalf("unexpected error %+v", v.Err())
	}
	want := "You are a helpful assistant. 用广东话朗读。<|endofprompt|>"
	if v.InstructText != want {
		t.Errorf("InstructText = %q, want %q", v.InstructText, want)
	}
	got := kinds(v.Diagnostics)
	if len(got) != 2 || v.Diagnostics[0].Severity != SeverityWarning || v.Diagnostics[1].Severity != SeverityInfo {
		t.Errorf("Diagnostics = %+v", v.Diagnostics)
	}
}

func TestValidate_UnreadableClipIsMissing(t *testing.T) {
	t.Parallel()
	env := Env{Probe: func(string) (audio.Clip, error) { return audio.Clip{}, errors.New("not a wav") }}
	v := Validate(Request{Mode: ModeQuickClone, PromptText: "x", UploadedClip: &audio.Clip{Path: "x.mp3"}}, env)
	if e := v.Err(); e == nil || e.Kind != KindMissingClip || !strings.Contains(e.Message, "cannot be read") {
		t.Errorf("Err() = %+v", e)
	}
}
