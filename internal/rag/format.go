package rag

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"dialog-rag/internal/models"
)

var newlineRuns = regexp.MustCompile(`\n{2,}`)

// FormatChunks renders retrieved chunks into the context block of the
// prompt. Every run of blank lines collapses to one space; the prompt
// template relies on that.
func FormatChunks(chunks []models.DocumentChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		blocks[i] = fmt.Sprintf(models.ChunkHeader, i+1) + formatMetadata(c.Metadata) + "\n" + c.Text + "\n"
	}
	return newlineRuns.ReplaceAllString(strings.Join(blocks, models.ChunkSeparator), " ")
}

// encoding/json writes map keys in sorted order.
func formatMetadata(meta map[string]string) string {
	if meta == nil {
		meta = map[string]string{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(b)
}
