// Package stt wraps speech recognition engines behind a frame-by-frame
// streaming interface.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/MrZloHex/vox/pkg/pcm"
)

// ErrDecode marks a fault inside the recognition engine. The caller is
// expected to Reset the recognizer and carry on listening.
var ErrDecode = errors.New("stt: decode failed")

// Partial is the recognizer's view of the current utterance. Each Partial
// supersedes the previous one until one with IsFinal arrives.
type Partial struct {
	Text string
	// Confidence is in [0, 1]. Engines that do not report one use 1.
	Confidence float64
	// IsFinal is the engine's end-of-utterance signal.
	IsFinal bool
	// Span is the amount of audio the transcript covers, when the engine
	// knows it. Zero otherwise.
	Span time.Duration
}

// Recognizer consumes frames one at a time. Implementations are not safe for
// concurrent use; a single goroutine owns a Recognizer.
type Recognizer interface {
	// Feed returns nil when the frame produced no new transcript.
	Feed(f pcm.Frame) (*Partial, error)
	Reset()
	Close() error
}

// Flusher is implemented by recognizers that finish transcripts in the
// background. At the end of the input the owner calls Flush until it returns
// nil, so no transcript is left behind.
type Flusher interface {
	Flush(ctx context.Context) (*Partial, error)
}
