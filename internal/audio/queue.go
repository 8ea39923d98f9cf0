package audio

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/MrZloHex/vox/pkg/pcm"
)

// FrameQueue is a bounded single-producer/single-consumer queue. When full,
// Push evicts the oldest frame instead of blocking, so capture never waits on
// recognition.
type FrameQueue struct {
	ch      chan pcm.Frame
	dropped atomic.Uint64
	once    sync.Once
	done    chan struct{}
}

func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{
		ch:   make(chan pcm.Frame, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues f, dropping the oldest queued frame when the queue is full.
// It reports whether a frame was dropped. Pushing to a closed queue is a no-op.
func (q *FrameQueue) Push(f pcm.Frame) (dropped bool) {
	select {
	case <-q.done:
		return false
	default:
	}

	for {
		select {
		case q.ch <- f:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// Pop blocks until a frame is available, the queue is closed and drained, or
// ctx is done.
func (q *FrameQueue) Pop(ctx context.Context) (pcm.Frame, bool) {
	select {
	case f := <-q.ch:
		return f, true
	default:
	}

	select {
	case f := <-q.ch:
		return f, true
	case <-ctx.Done():
		return pcm.Frame{}, false
	case <-q.done:
		select {
		case f := <-q.ch:
			return f, true
		default:
			return pcm.Frame{}, false
		}
	}
}

// Close stops accepting frames. Frames already queued can still be popped.
func (q *FrameQueue) Close() {
	q.once.Do(func() { close(q.done) })
}

func (q *FrameQueue) Dropped() uint64 { return q.dropped.Load() }

func (q *FrameQueue) Len() int { return len(q.ch) }

func (q *FrameQueue) Cap() int { return cap(q.ch) }
