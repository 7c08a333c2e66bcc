package chromemdb

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"dialog-rag/internal/embedding"
	"dialog-rag/internal/helper"
	"dialog-rag/internal/models"
)

// Loader produces the corpus chunks for a fresh build.
type Loader func(ctx context.Context) ([]models.DocumentChunk, error)

type Options struct {
	// Path is the index directory holding manifest.yaml and vectors/.
	Path       string
	Collection string
	// Corpus identifies the source of the chunks; a finished index built
	// from another corpus is rejected.
	Corpus   string
	Compress bool
	// Loader is only called when no finished index exists at Path.
	Loader Loader
	// BatchSize bounds how many chunks are embedded per request.
	BatchSize int
}

const defaultBatchSize = 64

// Store is a read-only vector index backed by a chromem-go collection.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   *embedding.Embedder
	manifest   Manifest
}

// LoadOrBuild opens the finished index at opts.Path, or builds it from
// opts.Loader when none exists.
func LoadOrBuild(ctx context.Context, opts Options, embedder *embedding.Embedder) (*Store, error) {
	m, err := readManifest(filepath.Join(opts.Path, manifestFile))
	switch {
	case err == nil:
		return open(opts, embedder, m)
	case errors.Is(err, os.ErrNotExist):
		return build(ctx, opts, embedder)
	default:
		return nil, fmt.Errorf("%w: %w", models.ErrIndexCorrupt, err)
	}
}

func open(opts Options, embedder *embedding.Embedder, m Manifest) (*Store, error) {
	if err := checkTarget(opts, m); err != nil {
		return nil, err
	}
	if m.Embedding != embedder.Signature() {
		return nil, fmt.Errorf("%w: index built with %+v, configured %+v",
			models.ErrEmbeddingMismatch, m.Embedding, embedder.Signature())
	}

	db, err := chromem.NewPersistentDB(filepath.Join(opts.Path, vectorsDir), m.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIndexCorrupt, err)
	}
	s := &Store{db: db, embedder: embedder, manifest: m}
	s.collection = db.GetCollection(m.Collection, s.embedFunc())
	if s.collection == nil {
		return nil, fmt.Errorf("%w: collection %s not found", models.ErrIndexCorrupt, m.Collection)
	}
	if n := s.collection.Count(); n != m.Chunks {
		return nil, fmt.Errorf("%w: manifest lists %d chunks, found %d", models.ErrIndexCorrupt, m.Chunks, n)
	}

	log.Info().
		Str("path", opts.Path).
		Str("collection", m.Collection).
		Int("chunks", m.Chunks).
		Msg("Loaded vector index")
	return s, nil
}

// checkTarget rejects an index that belongs to another collection or corpus
// sharing the same directory.
func checkTarget(opts Options, m Manifest) error {
	if opts.Collection != "" && m.Collection != opts.Collection {
		return fmt.Errorf("%w: %s holds collection %s, want %s",
			models.ErrIndexMismatch, opts.Path, m.Collection, opts.Collection)
	}
	if opts.Corpus != "" && m.Corpus != "" && m.Corpus != opts.Corpus {
		return fmt.Errorf("%w: %s was built from %s, want %s",
			models.ErrIndexMismatch, opts.Path, m.Corpus, opts.Corpus)
	}
	return nil
}

func build(ctx context.Context, opts Options, embedder *embedding.Embedder) (*Store, error) {
	if opts.Loader == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrIndexNotFound, opts.Path)
	}

	vectorsPath := filepath.Join(opts.Path, vectorsDir)
	// leftovers of an interrupted build
	if err := os.RemoveAll(vectorsPath); err != nil {
		return nil, fmt.Errorf("failed to clear %s: %w", vectorsPath, err)
	}
	if err := helper.CreateFolder(opts.Path); err != nil {
		return nil, err
	}

	start := time.Now()
	chunks, err := opts.Loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}

	db, err := chromem.NewPersistentDB(vectorsPath, opts.Compress)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	s, err := newStore(ctx, db, opts, embedder, chunks)
	if err != nil {
		return nil, err
	}

	s.manifest.Compress = opts.Compress
	s.manifest.Corpus = opts.Corpus
	s.manifest.BuiltAt = time.Now().UTC()
	if err := writeManifest(filepath.Join(opts.Path, manifestFile), s.manifest); err != nil {
		return nil, err
	}

	log.Info().
		Str("path", opts.Path).
		Int("chunks", len(chunks)).
		Dur("took", time.Since(start)).
		Msg("Built vector index")
	return s, nil
}

// NewMemoryIndex builds a non-persistent index from chunks.
func NewMemoryIndex(ctx context.Context, embedder *embedding.Embedder, collection string, chunks []models.DocumentChunk) (*Store, error) {
	return newStore(ctx, chromem.NewDB(), Options{Collection: collection}, embedder, chunks)
}

func newStore(ctx context.Context, db *chromem.DB, opts Options, embedder *embedding.Embedder, chunks []models.DocumentChunk) (*Store, error) {
	s := &Store{db: db, embedder: embedder}
	c, err := db.CreateCollection(opts.Collection, nil, s.embedFunc())
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	s.collection = c

	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	for from := 0; from < len(chunks); from += batch {
		to := min(from+batch, len(chunks))
		if err := s.addBatch(ctx, chunks[from:to], from); err != nil {
			return nil, err
		}
		log.Debug().Int("embedded", to).Int("total", len(chunks)).Msg("Embedding corpus")
	}

	s.manifest = Manifest{
		Embedding:  embedder.Signature(),
		Collection: opts.Collection,
		Chunks:     c.Count(),
	}
	return s, nil
}

func (s *Store) addBatch(ctx context.Context, chunks []models.DocumentChunk, offset int) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        models.ChunkID(offset + i),
			Content:   c.Text,
			Metadata:  c.Metadata,
			Embedding: vectors[i],
		}
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// embedFunc lets chromem embed content that arrives without a vector.
func (s *Store) embedFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		v, err := s.embedder.EmbedDocuments(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return v[0], nil
	}
}

func (s *Store) Count() int {
	return s.collection.Count()
}

func (s *Store) Manifest() Manifest {
	return s.manifest
}

// Query returns the k chunks most similar to text, best first. Equal
// similarities are ordered by insertion sequence.
func (s *Store) Query(ctx context.Context, text string, k int) (models.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrInvalidArgument, k)
	}
	total := s.collection.Count()
	if total == 0 {
		return models.RetrievalResult{}, nil
	}

	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	// One extra candidate shows whether the k-th place is tied. While it is,
	// widen the search so the tie is resolved over every equal candidate.
	n := min(k+1, total)
	for {
		results, err := s.collection.QueryEmbedding(ctx, vector, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to query by similarity: %w", err)
		}
		sortResults(results)
		if len(results) <= k || n == total || results[k].Similarity < results[k-1].Similarity {
			return toRetrievalResult(results[:min(k, len(results))]), nil
		}
		n = min(n*2, total)
	}
}

func sortResults(results []chromem.Result) {
	slices.SortStableFunc(results, func(a, b chromem.Result) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(seqOf(a.ID), seqOf(b.ID))
	})
}

func seqOf(id string) int {
	return models.DocumentChunk{ID: id}.Seq()
}

func toRetrievalResult(results []chromem.Result) models.RetrievalResult {
	out := make(models.RetrievalResult, len(results))
	for i, r := range results {
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		out[i] = models.ScoredChunk{
			Chunk:      models.DocumentChunk{ID: r.ID, Text: r.Content, Metadata: meta},
			Similarity: r.Similarity,
		}
	}
	return out
}
