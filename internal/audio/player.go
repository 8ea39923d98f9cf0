package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrZloHex/vox/pkg/pcm"
)

// Player owns the output stream. The stream is opened once and started per
// playback so the device is idle between phrases.
type Player struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	rate   int
}

// OpenPlayer opens the default output device as S16 mono. framesPerBuffer
// bounds how long a cancelled playback can keep sounding.
func OpenPlayer(sampleRate, framesPerBuffer int) (*Player, error) {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}

	p := &Player{
		buf:  make([]int16, framesPerBuffer),
		rate: sampleRate,
	}

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(p.buf), p.buf)
	if err != nil {
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	p.stream = stream

	return p, nil
}

func (p *Player) SampleRate() int { return p.rate }

// Play writes samples to the device and returns when they have been handed to
// the driver or ctx is cancelled. On cancel the stream is aborted before Play
// returns.
func (p *Player) Play(ctx context.Context, samples []int16, rate int) error {
	if len(samples) == 0 {
		return nil
	}
	if rate > 0 && rate != p.rate {
		samples = pcm.Float32ToInt16(pcm.Resample(pcm.Int16ToFloat32(samples), rate, p.rate))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}

	for off := 0; off < len(samples); off += len(p.buf) {
		if err := ctx.Err(); err != nil {
			p.stream.Abort()
			return err
		}

		n := copy(p.buf, samples[off:])
		clear(p.buf[n:])

		if err := p.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			p.stream.Abort()
			return fmt.Errorf("write output stream: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		p.stream.Abort()
		return err
	}

	return p.stream.Stop()
}

func (p *Player) Close() error {
	if p.stream == nil {
		return nil
	}
	return p.stream.Close()
}
