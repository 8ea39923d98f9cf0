// Package pcm holds the audio frame type shared by capture, recognition and
// playback, plus the small sample helpers they need.
package pcm

import (
	"encoding/binary"
	"math"
	"time"
)

// Frame is a fixed-size block of signed 16-bit mono samples. Timestamp is the
// offset of the first sample from the start of the stream that produced it.
// A Frame must not be modified once it has been handed to the next stage.
type Frame struct {
	Samples    []int16
	SampleRate int
	Timestamp  time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// End returns the timestamp just past the last sample.
func (f Frame) End() time.Duration {
	return f.Timestamp + f.Duration()
}

// Bytes encodes the samples as little-endian S16, the layout most engines accept.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Float32 converts the samples to [-1, 1].
func (f Frame) Float32() []float32 {
	return Int16ToFloat32(f.Samples)
}

// RMS returns the root mean square of samples normalised to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var s float64
	for _, x := range samples {
		v := float64(x) / 32768.0
		s += v * v
	}
	return math.Sqrt(s / float64(len(samples)))
}

// Int16ToFloat32 scales S16 samples to [-1, 1].
func Int16ToFloat32(in []int16) []float32 {
	out := make([]float32, len(in))
	const scale = 1.0 / 32768.0
	for i, v := range in {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

// Float32ToInt16 clamps and scales float samples to S16.
func Float32ToInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		x := float64(v)
		if x > 1 {
			x = 1
		}
		if x < -1 {
			x = -1
		}
		out[i] = int16(math.Round(x * 32767))
	}
	return out
}

// Resample converts between sample rates by linear interpolation. It is good
// enough for speech at the rates used here (8-48 kHz).
func Resample(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 || inSR <= 0 || outSR <= 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := i0 + 1
		if i0 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if i1 >= len(in) {
			out[i] = in[i0]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}

// Split cuts samples into frames of frameSize, stamping each with its offset
// from start. A short tail is zero padded so every frame has the same size.
func Split(samples []int16, sampleRate, frameSize int, start time.Duration) []Frame {
	if frameSize <= 0 || sampleRate <= 0 {
		return nil
	}
	var frames []Frame
	for off := 0; off < len(samples); off += frameSize {
		buf := make([]int16, frameSize)
		copy(buf, samples[off:min(off+frameSize, len(samples))])
		frames = append(frames, Frame{
			Samples:    buf,
			SampleRate: sampleRate,
			Timestamp:  start + time.Duration(off)*time.Second/time.Duration(sampleRate),
		})
	}
	return frames
}
