package pcm

import (
	"math"
	"testing"
	"time"
)

func TestFrameDuration(t *testing.T) {
	f := Frame{Samples: make([]int16, 320), SampleRate: 16000, Timestamp: time.Second}
	if got := f.Duration(); got != 20*time.Millisecond {
		t.Fatalf("Duration = %v, want 20ms", got)
	}
	if got := f.End(); got != time.Second+20*time.Millisecond {
		t.Fatalf("End = %v", got)
	}
	if got := (Frame{Samples: make([]int16, 10)}).Duration(); got != 0 {
		t.Fatalf("zero rate Duration = %v, want 0", got)
	}
}

func TestFrameBytesLittleEndian(t *testing.T) {
	f := Frame{Samples: []int16{1, -2}}
	b := f.Bytes()
	want := []byte{0x01, 0x00, 0xfe, 0xff}
	if len(b) != len(want) {
		t.Fatalf("len = %d, want %d", len(b), len(want))
	}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, b[i], want[i])
		}
	}
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Fatal("RMS(nil) should be 0")
	}
	if RMS(make([]int16, 160)) != 0 {
		t.Fatal("RMS of silence should be 0")
	}
	full := make([]int16, 160)
	for i := range full {
		full[i] = -32768
	}
	if got := RMS(full); math.Abs(got-1) > 1e-9 {
		t.Fatalf("RMS of full scale = %v, want 1", got)
	}
}

func TestFloat32ToInt16Clamps(t *testing.T) {
	got := Float32ToInt16([]float32{2, -2, 0})
	if got[0] != 32767 || got[1] != -32767 || got[2] != 0 {
		t.Fatalf("unexpected conversion: %v", got)
	}
}

func TestResampleLength(t *testing.T) {
	in := make([]float32, 22050)
	out := Resample(in, 22050, 16000)
	if len(out) != 16000 {
		t.Fatalf("len = %d, want 16000", len(out))
	}
	if same := Resample(in, 16000, 16000); len(same) != len(in) {
		t.Fatal("same-rate resample should be a no-op")
	}
}

func TestSplitPadsTail(t *testing.T) {
	frames := Split(make([]int16, 500), 16000, 160, time.Second)
	if len(frames) != 4 {
		t.Fatalf("frames = %d, want 4", len(frames))
	}
	last := frames[3]
	if len(last.Samples) != 160 {
		t.Fatalf("tail frame size = %d, want 160", len(last.Samples))
	}
	if last.Timestamp != time.Second+30*time.Millisecond {
		t.Fatalf("tail timestamp = %v", last.Timestamp)
	}
}
