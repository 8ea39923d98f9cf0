package mock

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/MrZloHex/vox/pkg/embed"
)

func TestOverlapSimilarity(t *testing.T) {
	e := New()
	ctx := context.Background()

	a, _ := e.Embed(ctx, "turn on the light")
	b, _ := e.Embed(ctx, "Please turn on the light.")
	c, _ := e.Embed(ctx, "what's the weather in Narnia")

	if got := embed.Cosine(a, a); math.Abs(got-1) > 1e-6 {
		t.Fatalf("self similarity = %v", got)
	}
	want := 4 / (2 * math.Sqrt(5))
	if got := embed.Cosine(a, b); math.Abs(got-want) > 1e-6 {
		t.Fatalf("overlap similarity = %v, want %v", got, want)
	}
	if got := embed.Cosine(a, c); got > 0.3 {
		t.Fatalf("unrelated similarity = %v", got)
	}
}

func TestDeterministic(t *testing.T) {
	e := New()
	ctx := context.Background()
	a, _ := e.Embed(ctx, "what time is it")
	b, _ := e.Embed(ctx, "what time is it")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text produced different vectors")
		}
	}
	if e.Calls() != 2 {
		t.Fatalf("Calls = %d", e.Calls())
	}
}

func TestVocabularyOverflow(t *testing.T) {
	e := &Embedder{Dim: 2}
	v, err := e.Embed(context.Background(), "one two three")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 2 {
		t.Fatalf("len = %d", len(v))
	}
}

func TestErr(t *testing.T) {
	boom := errors.New("boom")
	e := &Embedder{Err: boom}
	if _, err := e.EmbedBatch(context.Background(), []string{"x"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestWords(t *testing.T) {
	got := Words("What's the  weather, in Narnia?")
	want := []string{"what's", "the", "weather", "in", "narnia"}
	if len(got) != len(want) {
		t.Fatalf("Words = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Words = %q, want %q", got, want)
		}
	}
}
