package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const DefaultOllamaURL = "http://localhost:11434"

// Ollama embeds through a local Ollama server's /api/embed endpoint.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client

	dim atomic.Int64
}

func NewOllama(baseURL, model string, timeout time.Duration) (*Ollama, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type ollamaRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.call(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := o.call(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions probes the server when no embedding has been seen yet. It
// returns 0 if the server is unreachable.
func (o *Ollama) Dimensions() int {
	if d := o.dim.Load(); d != 0 {
		return int(d)
	}
	if _, err := o.call(context.Background(), []string{"probe"}); err != nil {
		return 0
	}
	return int(o.dim.Load())
}

func (o *Ollama) ModelID() string { return o.model }

func (o *Ollama) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: unexpected status %d", resp.StatusCode)
	}

	var r ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("ollama: decode: %w", err)
	}
	if len(r.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama: empty embeddings")
	}

	for _, v := range r.Embeddings {
		Normalize(v)
	}
	o.dim.CompareAndSwap(0, int64(len(r.Embeddings[0])))
	return r.Embeddings, nil
}
