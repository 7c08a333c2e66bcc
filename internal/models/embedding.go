package models

import (
	"strconv"
)

// DocumentChunk is a slice of corpus text with its provenance metadata.
type DocumentChunk struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Seq returns the insertion sequence encoded in the chunk ID, or -1.
func (c DocumentChunk) Seq() int {
	n, err := strconv.Atoi(c.ID)
	if err != nil {
		return -1
	}
	return n
}

// ChunkID renders the insertion sequence used as a chunk ID.
func ChunkID(seq int) string {
	return strconv.FormatInt(int64(seq), 10)
}

// ScoredChunk is one entry of a retrieval result.
type ScoredChunk struct {
	Chunk      DocumentChunk
	Similarity float32
}

// RetrievalResult is ordered by non-increasing similarity.
type RetrievalResult []ScoredChunk

// Chunks drops the scores.
func (r RetrievalResult) Chunks() []DocumentChunk {
	out := make([]DocumentChunk, len(r))
	for i, sc := range r {
		out[i] = sc.Chunk
	}
	return out
}
