package intent

import (
	"slices"

	"github.com/MrZloHex/vox/pkg/embed"
)

// Hit is a candidate exemplar: its position in the catalog and its cosine
// similarity to the query.
type Hit struct {
	Exemplar int
	Score    float64
}

// Index finds the exemplars nearest to a query vector. Hits come back best
// first; equal scores are ordered by exemplar position.
type Index interface {
	Add(vec []float32)
	Nearest(query []float32, k int) []Hit
	Len() int
}

// LinearIndex scans every vector. Catalogs hold tens to hundreds of
// exemplars, so a scan is cheaper than maintaining a graph.
type LinearIndex struct {
	vecs [][]float32
}

func NewLinearIndex() *LinearIndex { return &LinearIndex{} }

func (l *LinearIndex) Add(vec []float32) { l.vecs = append(l.vecs, vec) }

func (l *LinearIndex) Len() int { return len(l.vecs) }

// Nearest returns up to k hits; k <= 0 returns all of them.
func (l *LinearIndex) Nearest(query []float32, k int) []Hit {
	hits := make([]Hit, len(l.vecs))
	for i, v := range l.vecs {
		hits[i] = Hit{Exemplar: i, Score: embed.Cosine(query, v)}
	}

	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return a.Exemplar - b.Exemplar
	})

	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
