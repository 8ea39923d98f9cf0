package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrZloHex/vox/pkg/pcm"
)

// Source delivers frames into q until ctx is done or the input is exhausted.
// A source that runs out of input closes q before returning.
type Source interface {
	Run(ctx context.Context, q *FrameQueue) error
}

// Init initialises the host audio API. Call once before opening any stream.
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	return nil
}

func Terminate() {
	portaudio.Terminate()
}

// maxReadFailures is how many consecutive hard read errors the producer
// tolerates before giving up on the device.
const maxReadFailures = 50

// Recorder holds the capture stream for the lifetime of the process.
type Recorder struct {
	stream    *portaudio.Stream
	buf       []int16
	rate      int
	frameSize int

	// OnFault is called for every recoverable capture fault.
	OnFault func(err error)
	// OnDrop is called when a full queue evicted a frame.
	OnDrop func()
}

// OpenRecorder opens the default input device as S16 mono.
func OpenRecorder(sampleRate, frameMs int) (*Recorder, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if frameMs <= 0 {
		frameMs = 20
	}

	r := &Recorder{
		rate:      sampleRate,
		frameSize: sampleRate * frameMs / 1000,
	}
	r.buf = make([]int16, r.frameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(r.buf), r.buf)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	r.stream = stream

	return r, nil
}

func (r *Recorder) SampleRate() int { return r.rate }

// Run reads frames until ctx is done. Overflows and transient read errors are
// reported through OnFault and skipped.
func (r *Recorder) Run(ctx context.Context, q *FrameQueue) error {
	var (
		read     int64
		failures int
		frameDur = time.Duration(r.frameSize) * time.Second / time.Duration(r.rate)
	)

	for ctx.Err() == nil {
		err := r.stream.Read()
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, portaudio.InputOverflowed):
			// samples in buf are still valid
			r.fault(err)
		default:
			failures++
			r.fault(err)
			if failures >= maxReadFailures {
				return fmt.Errorf("capture: %d consecutive read failures: %w", failures, err)
			}
			time.Sleep(frameDur)
			continue
		}

		samples := make([]int16, len(r.buf))
		copy(samples, r.buf)

		f := pcm.Frame{
			Samples:    samples,
			SampleRate: r.rate,
			Timestamp:  time.Duration(read) * time.Second / time.Duration(r.rate),
		}
		read += int64(len(samples))

		if q.Push(f) && r.OnDrop != nil {
			r.OnDrop()
		}
	}

	return nil
}

func (r *Recorder) fault(err error) {
	log.Debug("Capture fault", "err", err)
	if r.OnFault != nil {
		r.OnFault(err)
	}
}

func (r *Recorder) Close() error {
	if r.stream == nil {
		return nil
	}
	r.stream.Stop()
	return r.stream.Close()
}
