// Package intent maps utterance text to catalog intents by embedding
// similarity.
package intent

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"

	"github.com/MrZloHex/vox/pkg/embed"
)

// ErrDimension is returned when vectors do not share the catalog's size.
var ErrDimension = errors.New("embedding dimension mismatch")

const (
	DefaultThreshold = 0.5
	DefaultEpsilon   = 1e-4
	defaultTopK      = 16
)

type Options struct {
	// Threshold is the lowest accepted cosine similarity.
	Threshold float64
	// Epsilon is the score band around the best hit treated as a tie.
	Epsilon float64
	TopK    int
	// Index replaces the linear scan.
	Index Index
}

func (o *Options) defaults() {
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Epsilon <= 0 {
		o.Epsilon = DefaultEpsilon
	}
	if o.TopK <= 0 {
		o.TopK = defaultTopK
	}
	if o.Index == nil {
		o.Index = NewLinearIndex()
	}
}

// Exemplar is one embedded catalog phrase. Order is its global position in
// the catalog: intents in file order, then exemplars within the intent.
type Exemplar struct {
	Intent string
	Action string
	Phrase string
	Vector []float32
	Slots  SlotExtractor
	Order  int
}

// Match is the outcome of a resolution. OK is false for NoMatch, in which
// case Score still reports the best similarity seen.
type Match struct {
	OK       bool
	Intent   string
	Action   string
	Score    float64
	Exemplar string
	Slots    map[string]string
	Text     string
}

// Resolver is immutable after Build and safe for concurrent use.
type Resolver struct {
	embedder  embed.Embedder
	exemplars []Exemplar
	index     Index
	dim       int
	opts      Options
	catalog   *Catalog
}

// Build embeds every exemplar of c with e.
func Build(ctx context.Context, c *Catalog, e embed.Embedder, opts Options) (*Resolver, error) {
	if c == nil || len(c.Intents) == 0 {
		return nil, ErrEmptyCatalog
	}
	opts.defaults()

	var (
		phrases   []string
		exemplars []Exemplar
	)
	for _, it := range c.Intents {
		for _, ex := range it.Exemplars {
			x := Exemplar{
				Intent: it.Name,
				Action: it.Action,
				Phrase: ex.Phrase,
				Order:  len(exemplars),
			}
			if ex.Pattern != "" {
				slots, err := NewRegexpSlots(ex.Pattern)
				if err != nil {
					return nil, fmt.Errorf("intent %q: %w", it.Name, err)
				}
				x.Slots = slots
			}
			exemplars = append(exemplars, x)
			phrases = append(phrases, ex.Phrase)
		}
	}

	vecs, err := e.EmbedBatch(ctx, phrases)
	if err != nil {
		return nil, fmt.Errorf("embed catalog: %w", err)
	}
	if len(vecs) != len(exemplars) {
		return nil, fmt.Errorf("embed catalog: got %d vectors for %d exemplars", len(vecs), len(exemplars))
	}

	dim := e.Dimensions()
	if dim <= 0 {
		dim = len(vecs[0])
	}
	for i := range exemplars {
		if len(vecs[i]) != dim {
			return nil, fmt.Errorf("%w: exemplar %q has %d, want %d", ErrDimension, exemplars[i].Phrase, len(vecs[i]), dim)
		}
		exemplars[i].Vector = vecs[i]
		opts.Index.Add(vecs[i])
	}

	return &Resolver{
		embedder:  e,
		exemplars: exemplars,
		index:     opts.Index,
		dim:       dim,
		opts:      opts,
		catalog:   c,
	}, nil
}

func (r *Resolver) Catalog() *Catalog { return r.catalog }

func (r *Resolver) Exemplars() []Exemplar { return r.exemplars }

func (r *Resolver) Threshold() float64 { return r.opts.Threshold }

// Resolve returns the best intent for text, or a Match with OK false when
// nothing reaches the threshold. Embedding failures are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, text string) (Match, error) {
	text = strings.TrimSpace(text)
	m := Match{Text: text}
	if text == "" {
		return m, nil
	}

	q, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return m, fmt.Errorf("embed utterance: %w", err)
	}
	if len(q) != r.dim {
		return m, fmt.Errorf("%w: query has %d, catalog %d", ErrDimension, len(q), r.dim)
	}

	hits := r.index.Nearest(q, r.opts.TopK)
	if len(hits) == 0 {
		return m, nil
	}

	best := hits[0]
	for _, h := range hits[1:] {
		if hits[0].Score-h.Score > r.opts.Epsilon {
			break
		}
		if r.exemplars[h.Exemplar].Order < r.exemplars[best.Exemplar].Order {
			best = h
		}
	}

	m.Score = hits[0].Score
	if m.Score < r.opts.Threshold {
		log.Debug("No intent above threshold", "text", text, "best", r.exemplars[best.Exemplar].Intent, "score", m.Score)
		return m, nil
	}

	ex := r.exemplars[best.Exemplar]
	m.OK = true
	m.Intent = ex.Intent
	m.Action = ex.Action
	m.Exemplar = ex.Phrase
	m.Slots = map[string]string{}
	if ex.Slots != nil {
		if slots, ok := ex.Slots.Extract(text); ok {
			m.Slots = slots
		} else {
			log.Debug("Slot extraction failed", "intent", ex.Intent, "text", text)
		}
	}

	return m, nil
}
