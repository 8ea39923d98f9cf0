// Package audioconv decodes audio files into mono PCM at the rate the
// recognizers expect.
package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"

	"github.com/MrZloHex/vox/pkg/pcm"
)

// TargetRate is the rate every decoder resamples to.
const TargetRate = 16000

type Options struct {
	MaxSamples int
}

// ConvertFileToPCM16k decodes wav, mp3, ogg/vorbis or ogg/opus into mono
// float32 samples at 16 kHz.
func ConvertFileToPCM16k(ctx context.Context, path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		mono []float32
		sr   int
	)

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav":
		mono, sr, err = DecodeWAV(f)
	case ".mp3":
		mono, sr, err = decodeMP3(f)
	case ".ogg", ".oga", ".opus":
		mono, sr, err = decodeOgg(f)
	default:
		br := bufio.NewReader(f)
		magic, _ := br.Peek(4)
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return nil, serr
		}
		switch string(magic) {
		case "RIFF":
			mono, sr, err = DecodeWAV(f)
		case "OggS":
			mono, sr, err = decodeOgg(f)
		default:
			return nil, fmt.Errorf("unsupported format: %s (supported: wav/mp3/ogg-vorbis/ogg-opus)", ext)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	out := pcm.Resample(mono, sr, TargetRate)
	if opt.MaxSamples > 0 && len(out) > opt.MaxSamples {
		out = out[:opt.MaxSamples]
	}
	return out, nil
}

// DecodeWAV returns the file downmixed to mono together with its sample rate.
func DecodeWAV(r io.ReadSeeker) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return nil, 0, err
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	x := intSliceToFloat32(pb.Data, bd)

	ch := 1
	sr := 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	return downmixInterleaved(x, ch), sr, nil
}

func decodeMP3(r io.Reader) ([]float32, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, 0, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return nil, 0, err
	}
	// go-mp3 always produces interleaved stereo
	x := downmixInterleaved(pcm.Int16ToFloat32(ints), 2)

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	return x, sr, nil
}

// decodeOgg tries Vorbis first and falls back to Opus on the same file.
func decodeOgg(f io.ReadSeeker) ([]float32, int, error) {
	x, sr, verr := decodeOggVorbis(f)
	if verr == nil {
		return x, sr, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}
	x, sr, oerr := decodeOggOpus(f)
	if oerr != nil {
		return nil, 0, fmt.Errorf("ogg: vorbis: %v; opus: %w", verr, oerr)
	}
	return x, sr, nil
}

func decodeOggVorbis(r io.Reader) ([]float32, int, error) {
	samples, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, 0, errors.New("invalid ogg/vorbis stream")
	}
	return downmixInterleaved(samples, format.Channels), format.SampleRate, nil
}

func decodeOggOpus(rs io.ReadSeeker) ([]float32, int, error) {
	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return nil, 0, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// opus always decodes at 48 kHz; read ~0.5 s at a time
	var (
		pcm48 []float32
		buf   = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm48 = append(pcm48, pcm.Int16ToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}
	}
	return downmixInterleaved(pcm48, ch), 48000, nil
}

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func downmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
