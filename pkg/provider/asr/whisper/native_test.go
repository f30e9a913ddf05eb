package whisper

import "testing"

func TestWhisperLanguage(t *testing.T) {
	t.Parallel()
	tests := map[string]string{"": "auto", "auto": "auto", " en ": "en", "zh": "zh"}
	for in, want := range tests {
		if got := whisperLanguage(in); got != want {
			t.Errorf("whisperLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_EmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty model path")
	}
}
