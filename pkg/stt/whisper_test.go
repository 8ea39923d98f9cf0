package stt

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/MrZloHex/vox/pkg/pcm"
)

func tone(n int, amp int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = amp
		} else {
			out[i] = -amp
		}
	}
	return out
}

func feedAll(t *testing.T, r Recognizer, samples []int16) []*Partial {
	t.Helper()
	var got []*Partial
	for _, f := range pcm.Split(samples, 16000, 320, 0) {
		p, err := r.Feed(f)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		if p != nil {
			got = append(got, p)
		}
	}
	if fl, ok := r.(Flusher); ok {
		for {
			p, err := fl.Flush(context.Background())
			if err != nil {
				t.Fatalf("Flush: %v", err)
			}
			if p == nil {
				break
			}
			got = append(got, p)
		}
	}
	return got
}

func TestWhisperEndpointer(t *testing.T) {
	var calls int
	var gotLen int
	w := newWhisper(WhisperConfig{Hangover: 200 * time.Millisecond}, func(_ context.Context, s []float32) (Result, error) {
		// runs on the worker; read only after Flush
		calls++
		gotLen = len(s)
		return Result{Text: "turn on the light", Confidence: 0.9}, nil
	})

	var samples []int16
	samples = append(samples, make([]int16, 16000)...) // 1 s silence
	samples = append(samples, tone(8000, 8000)...)     // 0.5 s speech
	samples = append(samples, make([]int16, 16000)...) // 1 s silence

	defer w.Close()
	got := feedAll(t, w, samples)
	if calls != 1 {
		t.Fatalf("infer called %d times, want 1", calls)
	}
	if len(got) != 1 {
		t.Fatalf("got %d partials, want 1", len(got))
	}
	p := got[0]
	if !p.IsFinal || p.Text != "turn on the light" || p.Confidence != 0.9 {
		t.Fatalf("unexpected partial %+v", p)
	}
	// pre-roll + speech + hangover
	wantMin := 8000 + 200*16
	if gotLen < wantMin {
		t.Fatalf("buffered %d samples, want at least %d", gotLen, wantMin)
	}
	if p.Span < 700*time.Millisecond {
		t.Fatalf("Span = %v", p.Span)
	}
}

func TestWhisperSilenceNeverInfers(t *testing.T) {
	w := newWhisper(WhisperConfig{}, func(context.Context, []float32) (Result, error) {
		panic("infer called on silence")
	})
	defer w.Close()
	if got := feedAll(t, w, make([]int16, 48000)); len(got) != 0 {
		t.Fatalf("got %d partials on silence", len(got))
	}
}

func TestWhisperInferFailureIsDecodeError(t *testing.T) {
	w := newWhisper(WhisperConfig{Hangover: 100 * time.Millisecond}, func(context.Context, []float32) (Result, error) {
		return Result{}, errors.New("boom")
	})
	defer w.Close()

	var samples []int16
	samples = append(samples, tone(3200, 8000)...)
	samples = append(samples, make([]int16, 3200)...)

	var sawErr bool
	for _, f := range pcm.Split(samples, 16000, 320, 0) {
		if _, err := w.Feed(f); err != nil {
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("err = %v, want ErrDecode", err)
			}
			sawErr = true
		}
	}
	if _, err := w.Flush(context.Background()); err != nil {
		if !errors.Is(err, ErrDecode) {
			t.Fatalf("err = %v, want ErrDecode", err)
		}
		sawErr = true
	}
	if !sawErr {
		t.Fatal("no error surfaced")
	}
	if w.speech || len(w.buf) != 0 {
		t.Fatal("recognizer not reset after failure")
	}
}

// utterance is 0.2 s of speech followed by enough silence to endpoint it.
func utterance() []int16 {
	var samples []int16
	samples = append(samples, tone(3200, 8000)...)
	return append(samples, make([]int16, 4800)...)
}

func TestWhisperFeedDoesNotWaitForInference(t *testing.T) {
	release := make(chan struct{})
	w := newWhisper(WhisperConfig{Hangover: 100 * time.Millisecond}, func(ctx context.Context, _ []float32) (Result, error) {
		select {
		case <-release:
			return Result{Text: "what time is it", Confidence: 1}, nil
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	})
	defer w.Close()

	start := time.Now()
	for _, f := range pcm.Split(utterance(), 16000, 320, 0) {
		p, err := w.Feed(f)
		if err != nil || p != nil {
			t.Fatalf("Feed = %+v, %v while inference is blocked", p, err)
		}
	}
	if w.inflight != 1 {
		t.Fatalf("inflight = %d, want 1", w.inflight)
	}
	if d := time.Since(start); d > time.Second {
		t.Fatalf("Feed blocked for %v", d)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	silence := pcm.Split(make([]int16, 320), 16000, 320, 0)[0]
	for {
		p, err := w.Feed(silence)
		if err != nil {
			t.Fatal(err)
		}
		if p != nil {
			if !p.IsFinal || p.Text != "what time is it" {
				t.Fatalf("unexpected partial %+v", p)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("transcript never delivered")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWhisperResetDropsPendingTranscript(t *testing.T) {
	release := make(chan struct{})
	w := newWhisper(WhisperConfig{Hangover: 100 * time.Millisecond}, func(context.Context, []float32) (Result, error) {
		<-release
		return Result{Text: "heard over playback", Confidence: 1}, nil
	})
	defer w.Close()

	for _, f := range pcm.Split(utterance(), 16000, 320, 0) {
		if _, err := w.Feed(f); err != nil {
			t.Fatal(err)
		}
	}
	w.Reset()
	close(release)

	p, err := w.Flush(context.Background())
	if err != nil || p != nil {
		t.Fatalf("Flush = %+v, %v after Reset", p, err)
	}
}

func TestWhisperCloseCancelsInference(t *testing.T) {
	started := make(chan struct{})
	w := newWhisper(WhisperConfig{Hangover: 100 * time.Millisecond}, func(ctx context.Context, _ []float32) (Result, error) {
		close(started)
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	for _, f := range pcm.Split(utterance(), 16000, 320, 0) {
		if _, err := w.Feed(f); err != nil {
			t.Fatal(err)
		}
	}
	<-started

	done := make(chan error, 1)
	go func() { done <- w.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close waited on a running inference")
	}
}

func TestWhisperRejectsWrongRate(t *testing.T) {
	w := newWhisper(WhisperConfig{}, nil)
	_, err := w.Feed(pcm.Frame{Samples: make([]int16, 160), SampleRate: 8000})
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestTranscriberSilence(t *testing.T) {
	path := os.Getenv("WHISPER_MODEL_PATH")
	if path == "" {
		t.Skip("WHISPER_MODEL_PATH not set")
	}
	tr, err := NewTranscriber(path)
	if err != nil {
		t.Fatalf("NewTranscriber: %v", err)
	}
	defer tr.Close()

	if _, err := tr.TranscribePCM(context.Background(), make([]float32, 16000), Options{Language: "en"}); err != nil {
		t.Fatalf("TranscribePCM: %v", err)
	}
}
