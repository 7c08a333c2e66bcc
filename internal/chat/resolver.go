package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"dialog-rag/internal/chromemdb"
	"dialog-rag/internal/config"
	"dialog-rag/internal/db"
	"dialog-rag/internal/embedding"
	"dialog-rag/internal/llmservice"
	"dialog-rag/internal/models"
	"dialog-rag/internal/parser"
	"dialog-rag/internal/rag"
)

// Answerer answers a question inside a user's open dialog.
type Answerer interface {
	Answer(ctx context.Context, question string, userID int64) (string, error)
}

// Factory builds the answering pipeline for a mode.
type Factory func(ctx context.Context, mode config.ModeConfig) (Answerer, error)

// Resolver builds pipelines lazily and keeps one per mode. Builds of
// different modes run independently and a built mode never waits on one.
type Resolver struct {
	factory Factory
	group   singleflight.Group

	mu        sync.RWMutex
	pipelines map[string]Answerer
}

func NewResolver(factory Factory) *Resolver {
	return &Resolver{factory: factory, pipelines: make(map[string]Answerer)}
}

func (r *Resolver) cached(name string) (Answerer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[name]
	return p, ok
}

func (r *Resolver) Pipeline(ctx context.Context, mode config.ModeConfig) (Answerer, error) {
	if p, ok := r.cached(mode.Name); ok {
		return p, nil
	}
	v, err, _ := r.group.Do(mode.Name, func() (any, error) {
		if p, ok := r.cached(mode.Name); ok {
			return p, nil
		}
		p, err := r.factory(ctx, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to build pipeline for mode %s: %w", mode.Name, err)
		}
		r.mu.Lock()
		r.pipelines[mode.Name] = p
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p, _ := v.(Answerer)
	return p, nil
}

// NewEmbedder returns the configured embedder with the optional query cache.
func NewEmbedder(cfg *config.Config) (*embedding.Embedder, error) {
	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(cfg.RAG.QueryCacheTTLSecs) * time.Second
	return embedder.WithQueryCache(cfg.RAG.QueryCacheSize, ttl), nil
}

// IndexOptions returns the index location and corpus loader of a mode.
func IndexOptions(cfg *config.Config, mode config.ModeConfig) chromemdb.Options {
	ragConfig := cfg.ModeRAG(mode)
	opts := chromemdb.Options{
		Path:       ragConfig.IndexPath,
		Collection: ragConfig.Collection,
		Compress:   ragConfig.Compress,
		BatchSize:  cfg.EmbedLLM.BatchSize,
	}
	if ragConfig.CorpusPath != "" {
		opts.Corpus = filepath.Clean(ragConfig.CorpusPath)
		p := parser.New(ragConfig)
		opts.Loader = func(ctx context.Context) ([]models.DocumentChunk, error) {
			return p.ParseCorpus(ctx, ragConfig.CorpusPath)
		}
	}
	return opts
}

// OpenIndex loads the mode's vector index, building it from the mode's
// corpus when no finished index exists yet.
func OpenIndex(ctx context.Context, cfg *config.Config, mode config.ModeConfig, embedder *embedding.Embedder) (*chromemdb.Store, error) {
	return chromemdb.LoadOrBuild(ctx, IndexOptions(cfg, mode), embedder)
}

// NewFactory wires the real index, model and store for every mode.
func NewFactory(cfg *config.Config, store db.Store) Factory {
	return func(ctx context.Context, mode config.ModeConfig) (Answerer, error) {
		embedder, err := NewEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		index, err := OpenIndex(ctx, cfg, mode, embedder)
		if err != nil {
			return nil, err
		}

		llmConfig := cfg.ModeLLM(mode)
		client, err := llmservice.NewClient(&llmConfig)
		if err != nil {
			return nil, err
		}

		log.Info().
			Str("mode", mode.Name).
			Str("model", llmConfig.Model).
			Int("chunks", index.Count()).
			Msg("Pipeline ready")

		pipeline, err := rag.NewPipeline(rag.Deps{
			Index:     index,
			Generator: llmservice.NewGenerator(client, llmConfig),
			History:   store,
			TopK:      cfg.RAG.NumberRelevantChunks,
			Template:  mode.Template,
			Apology:   cfg.Prompt.Apology,
		})
		if err != nil {
			return nil, err
		}
		return pipeline, nil
	}
}
