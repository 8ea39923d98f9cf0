package notify

import (
	"path/filepath"
	"testing"

	"github.com/faiface/beep"
)

func TestRenderSilence(t *testing.T) {
	got := render(beep.Silence(1000), 16000, 16000)
	if len(got) != 1000 {
		t.Fatalf("len = %d", len(got))
	}
	for _, s := range got {
		if s != 0 {
			t.Fatalf("non-zero sample %d", s)
		}
	}
}

func TestRenderResamples(t *testing.T) {
	got := render(beep.Silence(44100), 44100, 16000)
	if len(got) < 15900 || len(got) > 16100 {
		t.Fatalf("len = %d, want about 16000", len(got))
	}
}

func TestTone(t *testing.T) {
	got := Tone(16000, 880, 0.1)
	if len(got) != 1600 {
		t.Fatalf("len = %d", len(got))
	}
	var peak int16
	for _, s := range got {
		if s > peak {
			peak = s
		}
	}
	if peak < 8000 {
		t.Fatalf("peak = %d", peak)
	}
}

func TestLoadEarconMissing(t *testing.T) {
	if _, err := LoadEarcon(filepath.Join(t.TempDir(), "nope.mp3"), 16000); err == nil {
		t.Fatal("expected error")
	}
}
