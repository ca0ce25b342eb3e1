package ports

import (
	"context"
	"time"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
)

// TextCompleter is the raw text-completion capability shared by every
// prompted stage.
type TextCompleter interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// IntentClassifier gates the pipeline on the raw user query.
type IntentClassifier interface {
	Classify(ctx context.Context, query string) (domain.Intent, error)
}

// QueryExpander proposes alternate search queries.
type QueryExpander interface {
	Expand(ctx context.Context, query string) ([]string, error)
}

// AnswerGenerator creates the user-facing answer from retrieved chunks.
type AnswerGenerator interface {
	Generate(ctx context.Context, question string, chunks []domain.DocumentChunk) (string, error)
}

// SupportChecker decides whether an answer is supported by the chunks.
type SupportChecker interface {
	Supports(ctx context.Context, chunks []domain.DocumentChunk, answer string) (bool, error)
}

// LexicalIndex performs keyword search. Results are ranked from 0.
type LexicalIndex interface {
	Search(ctx context.Context, query string, k int) ([]domain.RankedHit, error)
}

// VectorIndex performs nearest-neighbour search over chunk embeddings.
type VectorIndex interface {
	Search(ctx context.Context, queryEmbedding []float32, k int) ([]domain.RankedHit, error)
}

// AnswerStore is the durable key-value store behind the query cache. Keys
// arrive already normalized.
type AnswerStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, answer string) error
}

// ChunkSink receives a complete rebuilt corpus from ingestion.
type ChunkSink interface {
	ReplaceChunks(ctx context.Context, chunks []domain.IndexedChunk) error
}

// ChunkSource lists the persisted corpus in insertion order.
type ChunkSource interface {
	ListChunks(ctx context.Context) ([]domain.IndexedChunk, error)
}

// IndexEvents announces corpus rebuilds to serving processes.
type IndexEvents interface {
	PublishIndexRebuilt(ctx context.Context, chunks int) error
	SubscribeIndexRebuilt(ctx context.Context, handler func(context.Context) error) error
}

// TextExtractor turns a source file into page texts. Index i of the result
// is page i+1 for paged formats; non-paged formats return one element.
type TextExtractor interface {
	Extract(ctx context.Context, path string) ([]string, error)
	Paged() bool
}

// Chunker splits text into retrieval-sized chunks.
type Chunker interface {
	Split(text string) []string
}

// PipelineObserver receives per-stage timings and final outcomes.
type PipelineObserver interface {
	ObserveStage(stage domain.Stage, duration time.Duration, err error)
	ObserveOutcome(outcome domain.Outcome)
	ObserveCache(hit bool)
}

// SnapshotIndex is an in-process index rebuilt from the full corpus.
type SnapshotIndex interface {
	Load(chunks []domain.IndexedChunk) error
	Loaded() bool
}
