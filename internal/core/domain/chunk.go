package domain

import (
	"errors"
	"strings"
)

// ChunkMetadata carries provenance for a chunk. Page is 1-based; 0 means the
// source has no page structure.
type ChunkMetadata struct {
	Source string `json:"source"`
	Page   int    `json:"page,omitempty"`
}

// DocumentChunk is a bounded span of source text. Fields are unexported so a
// chunk cannot be changed after ingestion builds it.
type DocumentChunk struct {
	id       string
	content  string
	metadata ChunkMetadata
}

// NewDocumentChunk validates the ingestion boundary: content and source are
// required.
func NewDocumentChunk(id, content string, metadata ChunkMetadata) (DocumentChunk, error) {
	if strings.TrimSpace(id) == "" {
		return DocumentChunk{}, WrapError(ErrInvalidInput, "new chunk", errors.New("id is required"))
	}
	if strings.TrimSpace(content) == "" {
		return DocumentChunk{}, WrapError(ErrInvalidInput, "new chunk", errors.New("content is required"))
	}
	if strings.TrimSpace(metadata.Source) == "" {
		return DocumentChunk{}, WrapError(ErrInvalidInput, "new chunk", errors.New("metadata source is required"))
	}
	if metadata.Page < 0 {
		return DocumentChunk{}, WrapError(ErrInvalidInput, "new chunk", errors.New("page must not be negative"))
	}
	return DocumentChunk{id: id, content: content, metadata: metadata}, nil
}

func (c DocumentChunk) ID() string              { return c.id }
func (c DocumentChunk) Content() string         { return c.content }
func (c DocumentChunk) Metadata() ChunkMetadata { return c.metadata }

// ContentKey is the identity used for deduplication across retrievers.
func (c DocumentChunk) ContentKey() string { return c.content }

// IsZero reports whether the chunk was never constructed.
func (c DocumentChunk) IsZero() bool { return c.id == "" && c.content == "" }

// IndexedChunk is the ingestion record persisted for index builds. Seq is the
// insertion order used for tie-breaking.
type IndexedChunk struct {
	Chunk     DocumentChunk
	Seq       int
	Embedding []float32
}

// RankedHit is a chunk's 0-based position in one retriever's result list.
type RankedHit struct {
	Chunk DocumentChunk
	Rank  int
}

// FusedResult is a chunk after rank fusion. Score is non-negative and higher
// is better.
type FusedResult struct {
	Chunk DocumentChunk
	Score float64
}

// Chunks strips fusion scores.
func Chunks(results []FusedResult) []DocumentChunk {
	out := make([]DocumentChunk, 0, len(results))
	for _, r := range results {
		out = append(out, r.Chunk)
	}
	return out
}

type IngestReport struct {
	Files   int      `json:"files"`
	Chunks  int      `json:"chunks"`
	Skipped []string `json:"skipped,omitempty"`
}
