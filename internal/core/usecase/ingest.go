package usecase

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
	"github.com/kirillkom/clinical-rag-assistant/internal/core/ports"
)

type IngestSettings struct {
	Workers   int
	BatchSize int
}

// IngestUseCase rebuilds the chunk corpus from a knowledge base directory and
// replaces it in every sink. Sinks are replaced in order and the first
// failure stops the rebuild without publishing an event, so the durable
// corpus store belongs last.
type IngestUseCase struct {
	extractors map[string]ports.TextExtractor
	chunker    ports.Chunker
	embedder   ports.Embedder
	sinks      []ports.ChunkSink
	events     ports.IndexEvents
	settings   IngestSettings
	logger     *slog.Logger
}

func NewIngestUseCase(
	extractors map[string]ports.TextExtractor,
	chunker ports.Chunker,
	embedder ports.Embedder,
	sinks []ports.ChunkSink,
	events ports.IndexEvents,
	settings IngestSettings,
	logger *slog.Logger,
) *IngestUseCase {
	if settings.Workers <= 0 {
		settings.Workers = 4
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = 32
	}
	if logger == nil {
		logger = slog.Default()
	}
	normalized := make(map[string]ports.TextExtractor, len(extractors))
	for ext, extractor := range extractors {
		normalized[strings.ToLower(ext)] = extractor
	}
	return &IngestUseCase{
		extractors: normalized,
		chunker:    chunker,
		embedder:   embedder,
		sinks:      sinks,
		events:     events,
		settings:   settings,
		logger:     logger,
	}
}

func (uc *IngestUseCase) Ingest(ctx context.Context, root string) (*domain.IngestReport, error) {
	report := &domain.IngestReport{}

	chunks, err := uc.collect(ctx, root, report)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest", fmt.Errorf("no chunks produced from %s", root))
	}

	indexed, err := uc.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}

	for i, sink := range uc.sinks {
		if err := sink.ReplaceChunks(ctx, indexed); err != nil {
			uc.logger.Error("ingest_sink_failed", "sink_index", i, "error", err)
			return nil, fmt.Errorf("replace chunks: %w", err)
		}
	}
	report.Chunks = len(indexed)

	if uc.events != nil {
		if err := uc.events.PublishIndexRebuilt(ctx, len(indexed)); err != nil {
			return nil, fmt.Errorf("publish index rebuilt: %w", err)
		}
	}

	uc.logger.Info("ingest_completed",
		"root", root,
		"files", report.Files,
		"chunks", report.Chunks,
		"skipped", len(report.Skipped),
	)
	return report, nil
}

func (uc *IngestUseCase) collect(ctx context.Context, root string, report *domain.IngestReport) ([]domain.DocumentChunk, error) {
	var chunks []domain.DocumentChunk
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		extractor, ok := uc.extractors[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return nil
		}

		source, err := filepath.Rel(root, path)
		if err != nil {
			source = filepath.Base(path)
		}
		source = filepath.ToSlash(source)

		fileChunks, err := uc.chunkFile(ctx, extractor, path, source)
		if err != nil {
			uc.logger.Warn("ingest_file_skipped", "source", source, "error", err)
			report.Skipped = append(report.Skipped, source)
			return nil
		}
		report.Files++
		chunks = append(chunks, fileChunks...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk knowledge base: %w", err)
	}
	return chunks, nil
}

func (uc *IngestUseCase) chunkFile(ctx context.Context, extractor ports.TextExtractor, path, source string) ([]domain.DocumentChunk, error) {
	pages, err := extractor.Extract(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}

	var out []domain.DocumentChunk
	for i, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		meta := domain.ChunkMetadata{Source: source}
		if extractor.Paged() {
			meta.Page = i + 1
		}
		for _, piece := range uc.chunker.Split(page) {
			chunk, err := domain.NewDocumentChunk(uuid.NewString(), piece, meta)
			if err != nil {
				continue
			}
			out = append(out, chunk)
		}
	}
	if len(out) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk file", errors.New("empty extracted text"))
	}
	return out, nil
}

// embed computes embeddings in fixed-size batches on a bounded worker pool.
// Output order and Seq follow the input order.
func (uc *IngestUseCase) embed(ctx context.Context, chunks []domain.DocumentChunk) ([]domain.IndexedChunk, error) {
	pool, err := ants.NewPool(uc.settings.Workers)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}
	defer pool.Release()

	indexed := make([]domain.IndexedChunk, len(chunks))
	for i, c := range chunks {
		indexed[i] = domain.IndexedChunk{Chunk: c, Seq: i}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for start := 0; start < len(chunks); start += uc.settings.BatchSize {
		end := min(start+uc.settings.BatchSize, len(chunks))
		batch := indexed[start:end]

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				setErr(err)
				return
			}
			texts := make([]string, len(batch))
			for i, item := range batch {
				texts[i] = item.Chunk.Content()
			}
			vectors, err := uc.embedder.Embed(ctx, texts)
			if err != nil {
				setErr(domain.WrapError(domain.ErrCapability, "embed chunks", err))
				return
			}
			if len(vectors) != len(batch) {
				setErr(domain.WrapError(
					domain.ErrCapability,
					"embed chunks",
					fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(batch)),
				))
				return
			}
			for i := range batch {
				batch[i].Embedding = vectors[i]
			}
		})
		if submitErr != nil {
			wg.Done()
			setErr(fmt.Errorf("submit embedding batch: %w", submitErr))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return indexed, nil
}

// IndexLoader fills in-process indexes from the persisted corpus.
type IndexLoader struct {
	source  ports.ChunkSource
	indexes []ports.SnapshotIndex
	logger  *slog.Logger

	corpus atomic.Int64
}

func NewIndexLoader(source ports.ChunkSource, logger *slog.Logger, indexes ...ports.SnapshotIndex) *IndexLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexLoader{source: source, indexes: indexes, logger: logger}
}

// Reload replaces every index snapshot and returns the corpus size.
func (l *IndexLoader) Reload(ctx context.Context) (int, error) {
	chunks, err := l.source.ListChunks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list chunks: %w", err)
	}
	if len(chunks) == 0 {
		return 0, domain.WrapError(domain.ErrIndexNotLoaded, "reload indexes", errors.New("corpus is empty"))
	}
	for _, index := range l.indexes {
		if err := index.Load(chunks); err != nil {
			return 0, fmt.Errorf("load index: %w", err)
		}
	}
	l.corpus.Store(int64(len(chunks)))
	l.logger.Info("indexes_reloaded", "chunks", len(chunks), "indexes", len(l.indexes))
	return len(chunks), nil
}

// Loaded reports whether a non-empty corpus has been reloaded and every
// in-process index holds a snapshot.
func (l *IndexLoader) Loaded() bool {
	if l.corpus.Load() == 0 {
		return false
	}
	for _, index := range l.indexes {
		if !index.Loaded() {
			return false
		}
	}
	return true
}
