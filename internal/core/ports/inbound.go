package ports

import (
	"context"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
)

// QuestionAnswerer is the inbound contract for the grounded answer pipeline.
type QuestionAnswerer interface {
	Ask(ctx context.Context, question string) (*domain.PipelineResult, error)
}

// KnowledgeIngestor rebuilds the chunk corpus from a source directory.
type KnowledgeIngestor interface {
	Ingest(ctx context.Context, root string) (*domain.IngestReport, error)
}

// IndexReadiness reports whether the serving indexes hold a corpus.
type IndexReadiness interface {
	Loaded() bool
}
