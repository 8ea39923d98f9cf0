package tts

import (
	"context"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV stores mono S16 samples as a wav file.
func WriteWAV(w io.WriteSeeker, samples []int16, rate int) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	enc := wav.NewEncoder(w, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// WAVPlayer writes every playback to a numbered wav file in Dir instead of
// a sound device.
type WAVPlayer struct {
	Dir string

	mu sync.Mutex
	n  int
}

func (p *WAVPlayer) Play(ctx context.Context, samples []int16, rate int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	p.n++
	path := filepath.Join(p.Dir, fmt.Sprintf("reply-%03d.wav", p.n))
	p.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, samples, rate); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	log.Info("Reply written", "path", path)
	return f.Close()
}
