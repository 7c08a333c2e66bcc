package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"dialog-rag/internal/models"
)

type Config struct {
	Log         LogConfig      `yaml:"log"`
	Database    DatabaseConfig `yaml:"database"`
	EmbedLLM    LLMConfig      `yaml:"embed_llm"`
	LLM         LLMConfig      `yaml:"llm"`
	RAG         RAGConfig      `yaml:"rag"`
	Prompt      PromptConfig   `yaml:"prompt"`
	Modes       []ModeConfig   `yaml:"modes"`
	DefaultMode string         `yaml:"default_mode"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"`
}

type DatabaseConfig struct {
	// Driver is "memory", "pg" (bun pgdriver) or "postgres" (lib/pq).
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Debug  bool   `yaml:"debug"`
}

type LLMConfig struct {
	// Provider is "ollama" or "openai" (any OpenAI compatible endpoint).
	Provider    string   `yaml:"provider"`
	BaseURL     string   `yaml:"base_url"`
	Key         string   `yaml:"key"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	TimeoutSecs int      `yaml:"timeout_secs"`

	// embedding only
	QueryPrefix    string `yaml:"query_prefix"`
	DocumentPrefix string `yaml:"document_prefix"`
	BatchSize      int    `yaml:"batch_size"`
}

type RAGConfig struct {
	CorpusPath           string `yaml:"corpus_path"`
	IndexPath            string `yaml:"index_path"`
	Collection           string `yaml:"collection"`
	ChunkSize            int    `yaml:"chunk_size"`
	ChunkOverlap         int    `yaml:"chunk_overlap"`
	NumberRelevantChunks int    `yaml:"number_relevant_chunks"`
	Compress             bool   `yaml:"compress"`
	EncryptionKey        string `yaml:"encryption_key"`
	QueryCacheSize       int    `yaml:"query_cache_size"`
	QueryCacheTTLSecs    int    `yaml:"query_cache_ttl_secs"`
}

type PromptConfig struct {
	Template string `yaml:"template"`
	Apology  string `yaml:"apology"`
}

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
	defaultOllamaURL    = "http://localhost:11434"
	defaultModeName     = "default"
	defaultTemperature  = 0.5
)

// Float returns a pointer to v, for optional settings.
func Float(v float64) *float64 {
	return &v
}

// env variables that override the yaml file
const (
	envIndexDir       = "RAG_DB_DIR"
	envCorpusDir      = "CORPUS_DIR"
	envLogDir         = "LOG_DIR"
	envDSN            = "DB_DSN"
	envOllamaURL      = "OLLAMA_BASE_URL"
	envLLMModel       = "LLM_MODEL"
	envEmbeddingModel = "EMBEDDING_MODEL"
	envRelevantChunks = "NUMBER_RELEVANT_CHUNKS"
)

// LoadConfig reads the yaml file at path (a missing file yields defaults),
// applies .env and environment overrides, then defaults and validation.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(envIndexDir); v != "" {
		cfg.RAG.IndexPath = v
	}
	if v := os.Getenv(envCorpusDir); v != "" {
		cfg.RAG.CorpusPath = v
	}
	if v := os.Getenv(envLogDir); v != "" {
		cfg.Log.Dir = v
	}
	if v := os.Getenv(envDSN); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv(envOllamaURL); v != "" {
		cfg.LLM.BaseURL = v
		cfg.EmbedLLM.BaseURL = v
	}
	if v := os.Getenv(envLLMModel); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv(envEmbeddingModel); v != "" {
		cfg.EmbedLLM.Model = v
	}
	if v := os.Getenv(envRelevantChunks); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", envRelevantChunks, v, err)
		}
		cfg.RAG.NumberRelevantChunks = n
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.File == "" {
		cfg.Log.File = "chat.log"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 1
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Database.Driver == "" {
		if cfg.Database.DSN == "" {
			cfg.Database.Driver = "memory"
		} else {
			cfg.Database.Driver = "pg"
		}
	}

	for _, llm := range []*LLMConfig{&cfg.LLM, &cfg.EmbedLLM} {
		if llm.Provider == "" {
			llm.Provider = "ollama"
		}
		if llm.BaseURL == "" && llm.Provider == "ollama" {
			llm.BaseURL = defaultOllamaURL
		}
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "qwen2.5-coder:1.5b"
	}
	if cfg.LLM.Temperature == nil {
		cfg.LLM.Temperature = Float(defaultTemperature)
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = "nomic-embed-text"
	}

	if cfg.RAG.IndexPath == "" {
		cfg.RAG.IndexPath = "./rag_db/db_internal"
	}
	if cfg.RAG.Collection == "" {
		cfg.RAG.Collection = "documents"
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = defaultChunkSize
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = defaultChunkOverlap
	}
	if cfg.RAG.NumberRelevantChunks == 0 {
		cfg.RAG.NumberRelevantChunks = models.DefaultNumberRelevantChunks
	}
	if cfg.RAG.QueryCacheSize > 0 && cfg.RAG.QueryCacheTTLSecs == 0 {
		cfg.RAG.QueryCacheTTLSecs = 600
	}

	if cfg.Prompt.Template == "" {
		cfg.Prompt.Template = models.DefaultPromptTemplate
	}
	if cfg.Prompt.Apology == "" {
		cfg.Prompt.Apology = models.DefaultApology
	}

	if len(cfg.Modes) == 0 {
		cfg.Modes = []ModeConfig{{
			Name:        defaultModeName,
			Description: "Programmer assistant",
			Enabled:     true,
		}}
	}
	if cfg.DefaultMode == "" {
		for _, m := range cfg.Modes {
			if m.Enabled {
				cfg.DefaultMode = m.Name
				break
			}
		}
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "memory":
	case "pg", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver must be memory, pg or postgres")
	}
	for _, llm := range []LLMConfig{c.LLM, c.EmbedLLM} {
		if llm.Provider != "ollama" && llm.Provider != "openai" {
			return fmt.Errorf("unsupported llm provider: %s", llm.Provider)
		}
	}
	if c.RAG.NumberRelevantChunks < 0 {
		return fmt.Errorf("rag.number_relevant_chunks must be positive")
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be smaller than rag.chunk_size")
	}
	if k := c.RAG.EncryptionKey; k != "" && len(k) != 32 {
		return fmt.Errorf("rag.encryption_key must be 32 bytes")
	}
	if err := checkTemplate("prompt.template", c.Prompt.Template); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Modes))
	for _, m := range c.Modes {
		if m.Name == "" {
			return fmt.Errorf("modes: name is required")
		}
		if seen[m.Name] {
			return fmt.Errorf("modes: duplicate mode %s", m.Name)
		}
		seen[m.Name] = true
		if m.Template != "" {
			if err := checkTemplate("modes."+m.Name+".template", m.Template); err != nil {
				return err
			}
		}
	}
	if err := c.checkSharedIndexes(); err != nil {
		return err
	}
	if _, err := c.Mode(c.DefaultMode); err != nil {
		return fmt.Errorf("default_mode: %w", err)
	}
	return nil
}

func checkTemplate(field, template string) error {
	for _, slot := range []string{"{context}", "{history}", "{question}"} {
		if !strings.Contains(template, slot) {
			return fmt.Errorf("%s is missing the %s slot", field, slot)
		}
	}
	return nil
}

// checkSharedIndexes rejects enabled modes that would read one index
// directory while expecting different collections or corpora.
func (c *Config) checkSharedIndexes() error {
	owners := make(map[string]ModeConfig)
	for _, m := range c.Modes {
		if !m.Enabled {
			continue
		}
		resolved, err := c.Mode(m.Name)
		if err != nil {
			return err
		}
		path := filepath.Clean(resolved.IndexPath)
		other, ok := owners[path]
		if !ok {
			owners[path] = resolved
			continue
		}
		if other.Collection != resolved.Collection || filepath.Clean(other.CorpusPath) != filepath.Clean(resolved.CorpusPath) {
			return fmt.Errorf("modes %s and %s share index_path %s but differ in collection or corpus_path",
				other.Name, resolved.Name, path)
		}
	}
	return nil
}
