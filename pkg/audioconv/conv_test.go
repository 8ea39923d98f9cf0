package audioconv

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeWAV(t *testing.T, path string, rate, channels int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
}

func TestConvertWAVResamplesAndDownmixes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stereo.wav")

	// one second of stereo at 8 kHz, left at half scale, right silent
	data := make([]int, 8000*2)
	for i := 0; i < len(data); i += 2 {
		data[i] = 16384
	}
	writeWAV(t, path, 8000, 2, data)

	out, err := ConvertFileToPCM16k(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("ConvertFileToPCM16k: %v", err)
	}
	if len(out) != TargetRate {
		t.Fatalf("samples = %d, want %d", len(out), TargetRate)
	}
	if v := out[100]; v < 0.24 || v > 0.26 {
		t.Fatalf("downmixed sample = %v, want ~0.25", v)
	}
}

func TestConvertHonoursMaxSamples(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mono.wav")
	writeWAV(t, path, 16000, 1, make([]int, 16000))

	out, err := ConvertFileToPCM16k(context.Background(), path, Options{MaxSamples: 100})
	if err != nil {
		t.Fatalf("ConvertFileToPCM16k: %v", err)
	}
	if len(out) != 100 {
		t.Fatalf("samples = %d, want 100", len(out))
	}
}

func TestConvertRejectsUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "noise.bin")
	if err := os.WriteFile(path, []byte("not audio at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ConvertFileToPCM16k(context.Background(), path, Options{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	if _, _, err := DecodeWAV(bytes.NewReader([]byte("RIFFgarbage"))); err == nil {
		t.Fatal("expected error for truncated wav")
	}
}
