// Package embeddingtest provides a deterministic embedder for tests that
// must not reach a model server.
package embeddingtest

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/tmc/langchaingo/embeddings"

	"dialog-rag/internal/embedding"
)

// Keyword embeds text as a bag of vocabulary words plus a small constant
// component, so texts sharing more vocabulary words score higher and no
// vector is zero.
type Keyword struct {
	vocab []string
	calls atomic.Int64
}

func NewKeyword(vocab ...string) *Keyword {
	return &Keyword{vocab: vocab}
}

// Embedder wraps k with the given signature.
func (k *Keyword) Embedder(sig embedding.Signature) *embedding.Embedder {
	impl, _ := embeddings.NewEmbedder(embeddings.EmbedderClientFunc(k.CreateEmbedding))
	return embedding.New(impl, sig)
}

// Calls reports how many texts have been embedded.
func (k *Keyword) Calls() int {
	return int(k.calls.Load())
}

func (k *Keyword) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		k.calls.Add(1)
		out[i] = k.vector(t)
	}
	return out, nil
}

func (k *Keyword) vector(text string) []float32 {
	v := make([]float32, len(k.vocab)+1)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
		for i, term := range k.vocab {
			if w == term {
				v[i]++
			}
		}
	}
	v[len(k.vocab)] = 0.1
	return v
}

func isSeparator(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
}
