// Package notify loads the short sounds played on wake.
package notify

import (
	"fmt"
	"os"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"

	"github.com/MrZloHex/vox/pkg/pcm"
)

// LoadEarcon decodes an mp3 chime to mono S16 at rate.
func LoadEarcon(path string, rate int) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("earcon: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("earcon: decode %s: %w", path, err)
	}
	defer streamer.Close()

	return render(streamer, format.SampleRate, beep.SampleRate(rate)), nil
}

// render drains s, converting it to mono at the target rate.
func render(s beep.Streamer, from, to beep.SampleRate) []int16 {
	if to > 0 && from != to {
		s = beep.Resample(4, from, to, s)
	}

	var (
		out []float32
		buf = make([][2]float64, 512)
	)
	for {
		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			out = append(out, float32((frame[0]+frame[1])/2))
		}
		if !ok {
			break
		}
	}
	return pcm.Float32ToInt16(out)
}

// Tone is a fallback chime when no earcon file is configured.
func Tone(rate int, freq float64, d float64) []int16 {
	sr := beep.SampleRate(rate)
	n := sr.N(durationOf(d))
	return render(beep.Take(n, sine(sr, freq)), sr, sr)
}
