package parser

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"

	"dialog-rag/internal/config"
	"dialog-rag/internal/models"
)

// Section is a piece of a file before chunk splitting, e.g. one pdf page or
// one markdown heading.
type Section struct {
	Text     string
	Page     int
	Heading  string
	Language string
}

type Parser struct {
	splitter textsplitter.TextSplitter
}

func New(cfg config.RAGConfig) *Parser {
	return &Parser{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		),
	}
}

// ParseCorpus walks root in lexical order and returns the chunks of every
// supported file. Chunk ids are left empty; the index assigns them.
func (p *Parser) ParseCorpus(ctx context.Context, root string) ([]models.DocumentChunk, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if Supported(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk corpus %s: %w", root, err)
	}
	slices.Sort(files)

	var chunks []models.DocumentChunk
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		fileChunks, err := p.ParseFile(path, filepath.ToSlash(rel))
		if err != nil {
			log.Warn().Err(err).Str("file", rel).Msg("Skipping unreadable file")
			continue
		}
		log.Debug().Str("file", rel).Int("chunks", len(fileChunks)).Msg("Parsed file")
		chunks = append(chunks, fileChunks...)
	}
	log.Info().Int("files", len(files)).Int("chunks", len(chunks)).Msg("Parsed corpus")
	return chunks, nil
}

// ParseFile extracts and splits a single file. source is recorded in the
// chunk metadata.
func (p *Parser) ParseFile(path, source string) ([]models.DocumentChunk, error) {
	sections, err := extractSections(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var chunks []models.DocumentChunk
	n := 0
	for _, s := range sections {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		parts, err := p.splitter.SplitText(s.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to split %s: %w", path, err)
		}
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n++
			chunks = append(chunks, models.DocumentChunk{
				Text:     part,
				Metadata: s.metadata(source, n),
			})
		}
	}
	return chunks, nil
}

func (s Section) metadata(source string, n int) map[string]string {
	m := map[string]string{
		"source": source,
		"chunk":  strconv.Itoa(n),
	}
	if s.Page > 0 {
		m["page"] = strconv.Itoa(s.Page)
	}
	if s.Heading != "" {
		m["heading"] = s.Heading
	}
	if s.Language != "" {
		m["language"] = s.Language
	}
	return m
}

// Supported reports whether path has an extension the parser can read.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := codeLanguages[ext]; ok {
		return true
	}
	switch ext {
	case ".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".xltm", ".xltx", ".md", ".markdown", ".txt":
		return true
	}
	return false
}

func extractSections(path string) ([]Section, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return parsePDF(path)
	case ".docx":
		return parseDOCX(path)
	case ".pptx":
		return parsePPTX(path)
	case ".xlsx":
		return parseXLSX(path)
	case ".xlsm", ".xltm", ".xltx":
		return parseExcelize(path)
	case ".md", ".markdown":
		return parseMarkdown(path)
	case ".txt":
		return parseText(path, "")
	}
	if lang, ok := codeLanguages[ext]; ok {
		return parseText(path, lang)
	}
	return nil, fmt.Errorf("unsupported file format: %s", ext)
}

var codeLanguages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".java": "java",
	".kt":   "kotlin",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".cs":   "csharp",
	".rs":   "rust",
	".rb":   "ruby",
	".php":  "php",
	".sh":   "bash",
	".sql":  "sql",
	".html": "html",
	".css":  "css",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
}
