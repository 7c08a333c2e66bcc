package chromemdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"dialog-rag/internal/embedding"
	"dialog-rag/internal/helper"
	"dialog-rag/internal/models"
)

const backupManifestSuffix = ".manifest.yaml"

// Export writes the collection to a single file, gzip compressed when
// compress is set and AES-GCM encrypted when encryptionKey is non-empty.
// The manifest is written next to it.
func (s *Store) Export(filePath string, compress bool, encryptionKey string) error {
	if filePath == "" {
		return fmt.Errorf("%w: export path is required", models.ErrInvalidArgument)
	}
	if err := helper.CreateFolder(filepath.Dir(filePath)); err != nil {
		return err
	}

	log.Debug().
		Str("collection", s.collection.Name).
		Str("file", filePath).
		Bool("compress", compress).
		Bool("encrypted", encryptionKey != "").
		Msg("Exporting collection")
	if err := s.db.ExportToFile(filePath, compress, encryptionKey, s.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return writeManifest(filePath+backupManifestSuffix, s.manifest)
}

// Import replaces the index at opts.Path with the contents of an exported
// file and returns the opened store.
func Import(opts Options, embedder *embedding.Embedder, filePath, encryptionKey string) (*Store, error) {
	m, err := readManifest(filePath + backupManifestSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no manifest next to %s", models.ErrIndexNotFound, filePath)
		}
		return nil, fmt.Errorf("%w: %w", models.ErrIndexCorrupt, err)
	}
	if m.Embedding != embedder.Signature() {
		return nil, fmt.Errorf("%w: backup built with %+v, configured %+v",
			models.ErrEmbeddingMismatch, m.Embedding, embedder.Signature())
	}

	if opts.Collection != "" && m.Collection != opts.Collection {
		return nil, fmt.Errorf("%w: backup holds collection %s, want %s",
			models.ErrIndexMismatch, m.Collection, opts.Collection)
	}

	if err := helper.CreateFolder(opts.Path); err != nil {
		return nil, err
	}
	staging, err := os.MkdirTemp(opts.Path, ".import-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	db, err := chromem.NewPersistentDB(staging, opts.Compress)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	if err := db.ImportFromFile(filePath, encryptionKey, m.Collection); err != nil {
		return nil, fmt.Errorf("failed to import database: %w", err)
	}
	c := db.GetCollection(m.Collection, nil)
	if c == nil || c.Count() != m.Chunks {
		return nil, fmt.Errorf("%w: backup %s does not match its manifest", models.ErrIndexCorrupt, filePath)
	}

	// the old index stays intact until the backup has been read
	manifestPath := filepath.Join(opts.Path, manifestFile)
	vectorsPath := filepath.Join(opts.Path, vectorsDir)
	if err := os.Remove(manifestPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove %s: %w", manifestPath, err)
	}
	if err := os.RemoveAll(vectorsPath); err != nil {
		return nil, fmt.Errorf("failed to clear %s: %w", vectorsPath, err)
	}
	if err := os.Rename(staging, vectorsPath); err != nil {
		return nil, fmt.Errorf("failed to move imported vectors: %w", err)
	}

	m.Compress = opts.Compress
	m.Corpus = opts.Corpus
	m.BuiltAt = time.Now().UTC()
	if err := writeManifest(manifestPath, m); err != nil {
		return nil, err
	}
	return open(opts, embedder, m)
}
