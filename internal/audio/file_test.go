package audio

import (
	"context"
	"testing"
	"time"
)

func TestPushSamplesDoesNotDropWhenNotRealtime(t *testing.T) {
	q := NewFrameQueue(4)
	samples := make([]int16, 16000) // 1 s

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- PushSamples(ctx, q, samples, 16000, 20, false, 200*time.Millisecond)
		q.Close()
	}()

	var n int
	var last time.Duration
	for {
		f, ok := q.Pop(ctx)
		if !ok {
			break
		}
		if n > 0 && f.Timestamp <= last {
			t.Fatalf("timestamps not increasing: %v after %v", f.Timestamp, last)
		}
		last = f.Timestamp
		n++
	}

	if err := <-errc; err != nil {
		t.Fatalf("PushSamples: %v", err)
	}
	if n != 60 {
		t.Fatalf("got %d frames, want 60", n)
	}
	if q.Dropped() != 0 {
		t.Fatalf("dropped %d frames", q.Dropped())
	}
}
