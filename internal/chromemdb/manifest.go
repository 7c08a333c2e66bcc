package chromemdb

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"dialog-rag/internal/embedding"
)

const (
	manifestFile = "manifest.yaml"
	vectorsDir   = "vectors"
)

// Manifest describes a finished index build. It is written after every
// vector has been persisted, so its absence marks a partial build. Corpus is
// the directory the index serves, empty when none was given.
type Manifest struct {
	Embedding  embedding.Signature `yaml:"embedding"`
	Collection string              `yaml:"collection"`
	Corpus     string              `yaml:"corpus,omitempty"`
	Chunks     int                 `yaml:"chunks"`
	Compress   bool                `yaml:"compress"`
	BuiltAt    time.Time           `yaml:"built_at"`
}

func readManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Collection == "" || m.Chunks < 0 {
		return m, fmt.Errorf("manifest %s is incomplete", path)
	}
	return m, nil
}

// writeManifest replaces path atomically.
func writeManifest(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
