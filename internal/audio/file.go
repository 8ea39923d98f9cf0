package audio

import (
	"context"
	"time"

	"github.com/MrZloHex/vox/pkg/audioconv"
	"github.com/MrZloHex/vox/pkg/pcm"
)

// FileSource replays an audio file as if it came from the microphone.
type FileSource struct {
	Path    string
	FrameMs int
	// Realtime paces frames at capture speed; otherwise frames are pushed as
	// fast as the consumer drains the queue.
	Realtime bool
	// TrailingSilence is appended so the recognizer can endpoint the last
	// utterance.
	TrailingSilence time.Duration
}

func (s *FileSource) Run(ctx context.Context, q *FrameQueue) error {
	defer q.Close()

	mono, err := audioconv.ConvertFileToPCM16k(ctx, s.Path, audioconv.Options{})
	if err != nil {
		return err
	}

	return PushSamples(ctx, q, pcm.Float32ToInt16(mono), audioconv.TargetRate, s.FrameMs, s.Realtime, s.TrailingSilence)
}

// PushSamples splits samples into frames and feeds them to q.
func PushSamples(ctx context.Context, q *FrameQueue, samples []int16, rate, frameMs int, realtime bool, tail time.Duration) error {
	if frameMs <= 0 {
		frameMs = 20
	}
	frameSize := rate * frameMs / 1000

	if tail > 0 {
		samples = append(samples, make([]int16, int(tail.Seconds()*float64(rate)))...)
	}

	frames := pcm.Split(samples, rate, frameSize, 0)
	frameDur := time.Duration(frameMs) * time.Millisecond

	var tick *time.Ticker
	if realtime {
		tick = time.NewTicker(frameDur)
		defer tick.Stop()
	}

	for _, f := range frames {
		if realtime {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick.C:
			}
		} else {
			for q.Len() >= q.Cap() {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Millisecond):
				}
			}
		}
		q.Push(f)
	}

	return nil
}
