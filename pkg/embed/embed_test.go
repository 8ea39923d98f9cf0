package embed

import (
	"context"
	"math"
	"os"
	"testing"
)

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 0, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[2])-0.8) > 1e-6 {
		t.Fatalf("Normalize = %v", v)
	}

	zero := Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatalf("zero vector changed: %v", zero)
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"zero", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMeanPoolHonoursMask(t *testing.T) {
	hidden := []float32{
		1, 1,
		3, 5,
		100, 100,
	}
	got := meanPool(hidden, []int64{1, 1, 0}, 2)
	if got[0] != 2 || got[1] != 3 {
		t.Fatalf("meanPool = %v, want [2 3]", got)
	}
}

func TestONNXBundle(t *testing.T) {
	dir := os.Getenv("VOX_EMBED_DIR")
	if dir == "" {
		t.Skip("VOX_EMBED_DIR not set")
	}
	e, err := NewONNX(dir, ONNXOptions{LibraryPath: os.Getenv("ONNXRUNTIME_LIB")})
	if err != nil {
		t.Fatalf("NewONNX: %v", err)
	}
	defer e.Close()

	a, err := e.Embed(context.Background(), "turn on the light")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(a) != e.Dimensions() {
		t.Fatalf("len = %d, want %d", len(a), e.Dimensions())
	}
	b, _ := e.Embed(context.Background(), "turn on the light")
	if c := Cosine(a, b); c < 0.9999 {
		t.Fatalf("same text cosine = %v", c)
	}
}

func TestNewONNXMissingBundle(t *testing.T) {
	if _, err := NewONNX(t.TempDir(), ONNXOptions{}); err == nil {
		t.Fatal("expected error for empty bundle dir")
	}
}
