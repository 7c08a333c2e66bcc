package config

import (
	"fmt"
	"slices"

	"dialog-rag/internal/models"
)

// ModeConfig is one selectable assistant mode. Zero valued fields fall back
// to the global llm and rag sections.
type ModeConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	CorpusPath  string   `yaml:"corpus_path"`
	IndexPath   string   `yaml:"index_path"`
	Collection  string   `yaml:"collection"`
	Template    string   `yaml:"template"`
	Enabled     bool     `yaml:"enabled"`
	// UserAccess restricts the mode to the listed user ids; empty means everyone.
	UserAccess []int64 `yaml:"user_access"`
}

// Allowed reports whether userID may switch to the mode.
func (m ModeConfig) Allowed(userID int64) bool {
	return len(m.UserAccess) == 0 || slices.Contains(m.UserAccess, userID)
}

// Mode returns the named mode with global settings filled in.
func (c *Config) Mode(name string) (ModeConfig, error) {
	for _, m := range c.Modes {
		if m.Name != name {
			continue
		}
		if m.Model == "" {
			m.Model = c.LLM.Model
		}
		if m.Temperature == nil {
			m.Temperature = c.LLM.Temperature
		}
		if m.CorpusPath == "" {
			m.CorpusPath = c.RAG.CorpusPath
		}
		if m.IndexPath == "" {
			m.IndexPath = c.RAG.IndexPath
		}
		if m.Collection == "" {
			m.Collection = c.RAG.Collection
		}
		if m.Template == "" {
			m.Template = c.Prompt.Template
		}
		return m, nil
	}
	return ModeConfig{}, fmt.Errorf("%w: %s", models.ErrUnknownMode, name)
}

// ModeFor resolves the mode a user is in, falling back to the default mode
// when the stored one has been removed, disabled or withdrawn from the user.
func (c *Config) ModeFor(stored string, hasMode bool, userID int64) ModeConfig {
	if hasMode {
		if m, err := c.Mode(stored); err == nil && m.Enabled && m.Allowed(userID) {
			return m
		}
	}
	m, _ := c.Mode(c.DefaultMode)
	return m
}

// ModeLLM returns the generation config for a mode.
func (c *Config) ModeLLM(m ModeConfig) LLMConfig {
	llm := c.LLM
	llm.Model = m.Model
	llm.Temperature = m.Temperature
	return llm
}

// ModeRAG returns the retrieval config for a mode.
func (c *Config) ModeRAG(m ModeConfig) RAGConfig {
	rag := c.RAG
	rag.CorpusPath = m.CorpusPath
	rag.IndexPath = m.IndexPath
	rag.Collection = m.Collection
	return rag
}
