package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/voxstudio/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestPCM16ToFloat(t *testing.T) {
	t.Parallel()
	got := audio.PCM16ToFloat(samplesToBytes([]int16{0, 16384, -32768}))
	want := []float32{0, 0.5, -1}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFloatToInt16_Clamping(t *testing.T) {
	t.Parallel()
	got := audio.FloatToInt16([]float32{2, -2, 0})
	want := []int16{math.MaxInt16, math.MinInt16, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()
	got := audio.Downmix([]float32{0.2, 0.4, -1, 1}, 2)
	if len(got) != 2 {
		t.Fatalf("length: got %d, want 2", len(got))
	}
	if math.Abs(float64(got[0])-0.3) > 1e-6 || got[1] != 0 {
		t.Errorf("got %v, want [0.3 0]", got)
	}

	mono := []float32{1, 2, 3}
	if out := audio.Downmix(mono, 1); &out[0] != &mono[0] {
		t.Error("mono input should be returned unchanged")
	}
}

func TestFlatten(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		chunk [][]float32
		want  int
	}{
		{"empty", nil, 0},
		{"single row", [][]float32{{1, 2, 3}}, 3},
		{"two rows", [][]float32{{1, 2}, {3}}, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.Flatten(tc.chunk); len(got) != tc.want {
				t.Errorf("Flatten length = %d, want %d", len(got), tc.want)
			}
		})
	}
}

func TestResample(t *testing.T) {
	t.Parallel()
	in := make([]float32, 16000)
	for i := range in {
		in[i] = 0.25
	}
	out := audio.Resample(in, 16000, 24000)
	if len(out) != 24000 {
		t.Fatalf("length: got %d, want 24000", len(out))
	}
	for i, s := range out {
		if s != 0.25 {
			t.Fatalf("sample %d: got %v, want 0.25", i, s)
		}
	}
	if same := audio.Resample(in, 16000, 16000); len(same) != len(in) {
		t.Error("equal rates should return input unchanged")
	}
}

func TestSilence(t *testing.T) {
	t.Parallel()
	f := audio.Silence(24000)
	if f.SampleRate != 24000 || len(f.Samples) != 24000 {
		t.Fatalf("Silence(24000) = rate %d, %d samples", f.SampleRate, len(f.Samples))
	}
	if !f.IsSilent() {
		t.Error("silence frame contains non-zero samples")
	}
	if f.Duration().Seconds() != 1 {
		t.Errorf("duration = %v, want 1s", f.Duration())
	}
}
