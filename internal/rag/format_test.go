package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dialog-rag/internal/models"
)

func TestFormatChunksEmpty(t *testing.T) {
	assert.Equal(t, "", FormatChunks(nil))
	assert.Equal(t, "", FormatChunks([]models.DocumentChunk{}))
}

func TestFormatChunks(t *testing.T) {
	chunks := []models.DocumentChunk{
		{Text: "def add(a,b): return a+b", Metadata: map[string]string{"source": "math.py", "page": "1"}},
		{Text: "line one\n\n\nline two", Metadata: nil},
	}
	want := "\n#### 1 Relevant chunk ####\n" +
		`{"page":"1","source":"math.py"}` + "\n" +
		"def add(a,b): return a+b" +
		" " + " " +
		"\n#### 2 Relevant chunk ####\n" +
		"{}\n" +
		"line one line two\n"
	assert.Equal(t, want, FormatChunks(chunks))
}

func TestFormatChunksIdempotent(t *testing.T) {
	chunks := []models.DocumentChunk{
		{Text: "a\n\nb", Metadata: map[string]string{"z": "1", "a": "2", "m": "3"}},
		{Text: "c", Metadata: map[string]string{"file": "x.go"}},
	}
	first := FormatChunks(chunks)
	assert.Equal(t, first, FormatChunks(chunks))
	assert.NotContains(t, first, "\n\n")
	assert.Contains(t, first, `{"a":"2","m":"3","z":"1"}`)
}
