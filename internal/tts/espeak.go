package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MrZloHex/vox/pkg/audioconv"
	"github.com/MrZloHex/vox/pkg/pcm"
)

// Espeak synthesizes with the espeak-ng command line tool.
type Espeak struct {
	Binary string
	Voice  string
	// Rate in words per minute; 0 keeps the espeak default.
	Rate int
}

func NewEspeak(voice string, rate int) *Espeak {
	return &Espeak{Binary: "espeak-ng", Voice: voice, Rate: rate}
}

func (e *Espeak) args(out, text string) []string {
	args := []string{"-w", out}
	if e.Voice != "" {
		args = append(args, "-v", e.Voice)
	}
	if e.Rate > 0 {
		args = append(args, "-s", strconv.Itoa(e.Rate))
	}
	// "--" keeps a phrase starting with a dash from being read as a flag
	return append(args, "--", text)
}

func (e *Espeak) Synthesize(ctx context.Context, text string) ([]int16, int, error) {
	dir, err := os.MkdirTemp("", "vox-tts-")
	if err != nil {
		return nil, 0, err
	}
	defer os.RemoveAll(dir)
	out := filepath.Join(dir, "speech.wav")

	bin := e.Binary
	if bin == "" {
		bin = "espeak-ng"
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, e.args(out, text)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, 0, fmt.Errorf("%s: %w: %s", bin, err, msg)
		}
		return nil, 0, fmt.Errorf("%s: %w", bin, err)
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	samples, rate, err := audioconv.DecodeWAV(f)
	if err != nil {
		return nil, 0, fmt.Errorf("decode speech: %w", err)
	}
	return pcm.Float32ToInt16(samples), rate, nil
}
