package stt

import (
	"math"
	"os"
	"testing"
	"time"

	"github.com/MrZloHex/vox/pkg/pcm"
)

func TestParseFinal(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantText string
		wantConf float64
		wantSpan time.Duration
	}{
		{
			name: "words",
			doc: `{"result":[{"conf":1.0,"end":1.1,"start":0.8,"word":"turn"},` +
				`{"conf":0.5,"end":1.3,"start":1.1,"word":"on"}],"text":"turn on"}`,
			wantText: "turn on",
			wantConf: 0.75,
			wantSpan: 500 * time.Millisecond,
		},
		{
			name:     "no words",
			doc:      `{"text":""}`,
			wantText: "",
			wantConf: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := parseFinal(tt.doc)
			if err != nil {
				t.Fatalf("parseFinal: %v", err)
			}
			if !p.IsFinal {
				t.Error("IsFinal = false")
			}
			if p.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", p.Text, tt.wantText)
			}
			if math.Abs(p.Confidence-tt.wantConf) > 1e-9 {
				t.Errorf("Confidence = %v, want %v", p.Confidence, tt.wantConf)
			}
			if d := p.Span - tt.wantSpan; d < -time.Millisecond || d > time.Millisecond {
				t.Errorf("Span = %v, want %v", p.Span, tt.wantSpan)
			}
		})
	}
}

func TestParsePartial(t *testing.T) {
	got, err := parsePartial(`{"partial" : " turn on the "}`)
	if err != nil {
		t.Fatalf("parsePartial: %v", err)
	}
	if got != "turn on the" {
		t.Fatalf("got %q", got)
	}

	if _, err := parsePartial(`{`); err == nil {
		t.Fatal("expected error for malformed document")
	}
}

func TestVoskSilence(t *testing.T) {
	dir := os.Getenv("VOX_VOSK_MODEL")
	if dir == "" {
		t.Skip("VOX_VOSK_MODEL not set")
	}

	v, err := NewVosk(dir, 16000)
	if err != nil {
		t.Fatalf("NewVosk: %v", err)
	}
	defer v.Close()

	for _, f := range pcm.Split(make([]int16, 16000), 16000, 320, 0) {
		p, err := v.Feed(f)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		if p != nil && p.Text != "" {
			t.Fatalf("silence produced text %q", p.Text)
		}
	}
}
