package dispatch

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxstudio/pkg/types"
)

func TestParseMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Mode
	}{
		{"pretrained", ModePretrained},
		{" quick_clone ", ModeQuickClone},
		{"跨语种复刻", ModeCrossLingual},
		{"instruct2", ModeInstruct},
		{"zero_shot", ModeQuickClone},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseMode("karaoke"); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestInstructions(t *testing.T) {
	t.Parallel()
	for _, m := range Modes() {
		if !m.Valid() {
			t.Errorf("%q not valid", m)
		}
		if Instructions(m) == "" {
			t.Errorf("Instructions(%q) is empty", m)
		}
	}
	if Instructions("karaoke") != "" {
		t.Error("unknown mode has instructions")
	}
}

func TestResolveSpeed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		speed    float64
		stream   bool
		want     float64
		wantKind string
	}{
		{"in range", 1.5, false, 1.5, ""},
		{"unit streaming", 1.0, true, 1.0, ""},
		{"streaming forced", 1.5, true, 1.0, KindStreamSpeedForced},
		{"streaming forced below range", 0.1, true, 1.0, KindStreamSpeedForced},
		{"too slow", 0.1, false, 0.5, KindSpeedClamped},
		{"too fast", 3, false, 2.0, KindSpeedClamped},
		{"lower bound", 0.5, false, 0.5, ""},
		{"upper bound", 2.0, false, 2.0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ds := ResolveSpeed(tt.speed, tt.stream)
			if got != tt.want {
				t.Errorf("speed = %v, want %v", got, tt.want)
			}
			switch {
			case tt.wantKind == "" && len(ds) != 0:
				t.Errorf("diagnostics = %+v, want none", ds)
			case tt.wantKind != "" && (len(ds) != 1 || ds[0].Kind != tt.wantKind || ds[0].Severity != SeverityWarning):
				t.Errorf("diagnostics = %+v, want one %s warning", ds, tt.wantKind)
			}
			// Idempotent.
			again, ds2 := ResolveSpeed(got, tt.stream)
			if again != got || len(ds2) != 0 {
				t.Errorf("second resolve = %v, %+v", again, ds2)
			}
		})
	}
}

func TestRandomSeed(t *testing.T) {
	t.Parallel()
	for range 1000 {
		s := RandomSeed()
		if s < 1 || s > MaxSeed {
			t.Fatalf("RandomSeed() = %d out of range", s)
		}
	}
}

func TestSeedValue(t *testing.T) {
	t.Parallel()
	if got := SeedValue(42.9); got != 42 {
		t.Errorf("SeedValue(42.9) = %d, want 42", got)
	}
	if got := SeedValue(4294967295); got != 4294967295 {
		t.Errorf("SeedValue(max) = %d", got)
	}
}
