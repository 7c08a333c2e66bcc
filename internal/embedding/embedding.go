package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"dialog-rag/internal/config"
	"dialog-rag/internal/llmservice"
)

// Signature identifies how vectors were produced. An index may only be
// queried with an embedder whose signature matches the one it was built with.
type Signature struct {
	Model          string `yaml:"model"`
	QueryPrefix    string `yaml:"query_prefix"`
	DocumentPrefix string `yaml:"document_prefix"`
}

// Embedder wraps a langchaingo embedder, prepending the query and document
// prefixes that E5 style models expect.
type Embedder struct {
	next  embeddings.Embedder
	sig   Signature
	cache *queryCache
}

var _ embeddings.Embedder = (*Embedder)(nil)

// New wraps an existing langchaingo embedder.
func New(next embeddings.Embedder, sig Signature) *Embedder {
	return &Embedder{next: next, sig: sig}
}

// NewEmbedder creates an embedder for the configured provider and model
func NewEmbedder(llmConfig *config.LLMConfig) (*Embedder, error) {
	client, err := llmservice.NewClient(llmConfig)
	if err != nil {
		return nil, err
	}

	var opts []embeddings.Option
	if llmConfig.BatchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(llmConfig.BatchSize))
	}
	impl, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	log.Debug().
		Str("model", llmConfig.Model).
		Str("query_prefix", llmConfig.QueryPrefix).
		Str("document_prefix", llmConfig.DocumentPrefix).
		Msg("Created embedder")

	return New(impl, Signature{
		Model:          llmConfig.Model,
		QueryPrefix:    llmConfig.QueryPrefix,
		DocumentPrefix: llmConfig.DocumentPrefix,
	}), nil
}

func (e *Embedder) Signature() Signature {
	return e.sig
}

// EmbedDocuments embeds corpus chunks with the document prefix.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	// langchaingo may rewrite the slice in place
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = e.sig.DocumentPrefix + t
	}
	vectors, err := e.next.EmbedDocuments(ctx, prefixed)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery embeds a search query with the query prefix, consulting the
// query cache first when one is configured.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		if v, ok := e.cache.get(text); ok {
			log.Debug().Msg("Query embedding cache hit")
			return v, nil
		}
	}
	v, err := e.next.EmbedQuery(ctx, e.sig.QueryPrefix+text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if e.cache != nil {
		e.cache.add(text, v)
	}
	return v, nil
}
