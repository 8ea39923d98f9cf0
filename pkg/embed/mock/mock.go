// Package mock provides a deterministic bag-of-words Embedder for tests.
package mock

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/MrZloHex/vox/pkg/embed"
)

const DefaultDim = 512

var _ embed.Embedder = (*Embedder)(nil)

// Embedder assigns every new word its own dimension, so cosine similarity is
// the normalised word overlap of two texts. Once the vocabulary fills Dim,
// further words share dimensions by hash.
type Embedder struct {
	Dim int
	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	vocab map[string]int
	calls int
}

func New() *Embedder {
	return &Embedder{Dim: DefaultDim}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++
	if e.Err != nil {
		return nil, e.Err
	}
	return e.vector(text), nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *Embedder) Dimensions() int { return e.dim() }

func (e *Embedder) ModelID() string { return "mock-bow" }

// Calls reports how many texts were embedded.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Embedder) dim() int {
	if e.Dim <= 0 {
		return DefaultDim
	}
	return e.Dim
}

func (e *Embedder) vector(text string) []float32 {
	if e.vocab == nil {
		e.vocab = make(map[string]int)
	}

	v := make([]float32, e.dim())
	for _, w := range Words(text) {
		i, ok := e.vocab[w]
		if !ok {
			if len(e.vocab) < len(v) {
				i = len(e.vocab)
				e.vocab[w] = i
			} else {
				h := fnv.New32a()
				h.Write([]byte(w))
				i = int(h.Sum32() % uint32(len(v)))
			}
		}
		v[i]++
	}
	return embed.Normalize(v)
}

// Words lowercases text and splits it on anything that is not a letter,
// digit or apostrophe.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
