package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
	"github.com/kirillkom/clinical-rag-assistant/internal/core/ports"
)

type fileExtractorFake struct {
	paged bool
	err   error
}

func (f *fileExtractorFake) Extract(_ context.Context, path string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if f.paged {
		return strings.Split(string(data), "\f"), nil
	}
	return []string{string(data)}, nil
}

func (f *fileExtractorFake) Paged() bool { return f.paged }

type paragraphChunkerFake struct{}

func (paragraphChunkerFake) Split(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type chunkSinkFake struct {
	chunks []domain.IndexedChunk
	err    error
}

func (f *chunkSinkFake) ReplaceChunks(_ context.Context, chunks []domain.IndexedChunk) error {
	if f.err != nil {
		return f.err
	}
	f.chunks = append([]domain.IndexedChunk(nil), chunks...)
	return nil
}

func (f *chunkSinkFake) ListChunks(context.Context) ([]domain.IndexedChunk, error) {
	return f.chunks, nil
}

type indexEventsFake struct {
	published []int
}

func (f *indexEventsFake) PublishIndexRebuilt(_ context.Context, chunks int) error {
	f.published = append(f.published, chunks)
	return nil
}

func (f *indexEventsFake) SubscribeIndexRebuilt(context.Context, func(context.Context) error) error {
	return nil
}

type batchEmbedderFake struct {
	embedderFake
	err error
}

func (f *batchEmbedderFake) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.embedderFake.Embed(ctx, texts)
}

type snapshotIndexFake struct {
	loaded []domain.IndexedChunk
}

func (f *snapshotIndexFake) Load(chunks []domain.IndexedChunk) error {
	f.loaded = chunks
	return nil
}

func (f *snapshotIndexFake) Loaded() bool { return f.loaded != nil }

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func testExtractors() map[string]ports.TextExtractor {
	return map[string]ports.TextExtractor{
		".txt": &fileExtractorFake{},
		".PDF": &fileExtractorFake{paged: true},
	}
}

func TestIngestUseCaseBuildsCorpus(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "anxiety.txt", "Anxiety is common.\n\nBreathing exercises help.")
	writeFile(t, root, "guides/sleep.pdf", "Page one text.\fPage two text.")
	writeFile(t, root, "notes.docx", "ignored")

	sink := &chunkSinkFake{}
	events := &indexEventsFake{}
	uc := NewIngestUseCase(
		testExtractors(),
		paragraphChunkerFake{},
		&batchEmbedderFake{},
		[]ports.ChunkSink{sink},
		events,
		IngestSettings{Workers: 2, BatchSize: 1},
		nil,
	)

	report, err := uc.Ingest(context.Background(), root)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if report.Files != 2 || report.Chunks != 4 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(sink.chunks) != 4 {
		t.Fatalf("expected 4 chunks in sink, got %d", len(sink.chunks))
	}
	for i, c := range sink.chunks {
		if c.Seq != i {
			t.Fatalf("expected seq %d, got %d", i, c.Seq)
		}
		if len(c.Embedding) == 0 {
			t.Fatalf("chunk %d has no embedding", i)
		}
	}
	first := sink.chunks[0].Chunk.Metadata()
	if first.Source != "anxiety.txt" || first.Page != 0 {
		t.Fatalf("unexpected metadata for text chunk: %+v", first)
	}
	last := sink.chunks[3].Chunk.Metadata()
	if last.Source != "guides/sleep.pdf" || last.Page != 2 {
		t.Fatalf("unexpected metadata for pdf chunk: %+v", last)
	}
	if len(events.published) != 1 || events.published[0] != 4 {
		t.Fatalf("expected one rebuilt event with 4 chunks, got %v", events.published)
	}
}

func TestIngestUseCaseSkipsUnreadableFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "good.txt", "Useful passage.")
	writeFile(t, root, "empty.txt", "   ")

	sink := &chunkSinkFake{}
	uc := NewIngestUseCase(testExtractors(), paragraphChunkerFake{}, &batchEmbedderFake{}, []ports.ChunkSink{sink}, nil, IngestSettings{}, nil)

	report, err := uc.Ingest(context.Background(), root)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if report.Files != 1 || len(report.Skipped) != 1 || report.Skipped[0] != "empty.txt" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestIngestUseCaseEmptyCorpusIsInvalid(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "readme.docx", "not supported")

	uc := NewIngestUseCase(testExtractors(), paragraphChunkerFake{}, &batchEmbedderFake{}, nil, nil, IngestSettings{}, nil)
	_, err := uc.Ingest(context.Background(), root)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestIngestUseCaseEmbeddingFailureLeavesSinksUntouched(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "Passage.")

	sink := &chunkSinkFake{}
	uc := NewIngestUseCase(
		testExtractors(),
		paragraphChunkerFake{},
		&batchEmbedderFake{err: errors.New("model missing")},
		[]ports.ChunkSink{sink},
		nil,
		IngestSettings{},
		nil,
	)
	_, err := uc.Ingest(context.Background(), root)
	if !domain.IsKind(err, domain.ErrCapability) {
		t.Fatalf("expected ErrCapability, got %v", err)
	}
	if sink.chunks != nil {
		t.Fatalf("expected sink to stay empty")
	}
}

func TestIndexLoaderReload(t *testing.T) {
	source := &chunkSinkFake{chunks: []domain.IndexedChunk{{Chunk: testChunk(t, "a", "alpha"), Seq: 0}}}
	lexical := &snapshotIndexFake{}
	vector := &snapshotIndexFake{}
	loader := NewIndexLoader(source, nil, lexical, vector)

	if loader.Loaded() {
		t.Fatalf("expected loader not ready before reload")
	}
	n, err := loader.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 chunk reloaded, got %d", n)
	}
	if !loader.Loaded() || len(lexical.loaded) != 1 || len(vector.loaded) != 1 {
		t.Fatalf("expected both indexes loaded")
	}

	empty := NewIndexLoader(&chunkSinkFake{}, nil, &snapshotIndexFake{})
	if _, err := empty.Reload(context.Background()); !domain.IsKind(err, domain.ErrIndexNotLoaded) {
		t.Fatalf("expected ErrIndexNotLoaded for empty corpus, got %v", err)
	}
}

func TestIndexLoaderWithoutSnapshotsTracksCorpus(t *testing.T) {
	source := &chunkSinkFake{}
	loader := NewIndexLoader(source, nil)

	if loader.Loaded() {
		t.Fatalf("expected engine-only loader not ready before any reload")
	}
	if _, err := loader.Reload(context.Background()); !domain.IsKind(err, domain.ErrIndexNotLoaded) {
		t.Fatalf("expected ErrIndexNotLoaded, got %v", err)
	}
	if loader.Loaded() {
		t.Fatalf("expected empty corpus to keep loader not ready")
	}

	source.chunks = []domain.IndexedChunk{{Chunk: testChunk(t, "a", "alpha")}}
	if _, err := loader.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if !loader.Loaded() {
		t.Fatalf("expected loader ready after non-empty reload")
	}
}

func TestIngestUseCaseSinkFailureStopsBeforeCorpusStore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "New corpus paragraph.")

	old := []domain.IndexedChunk{{Chunk: testChunk(t, "old", "old corpus paragraph")}}
	engine := &chunkSinkFake{err: errors.New("qdrant upsert 503 after drop")}
	corpus := &chunkSinkFake{chunks: old}
	events := &indexEventsFake{}
	uc := NewIngestUseCase(
		testExtractors(),
		paragraphChunkerFake{},
		&batchEmbedderFake{},
		[]ports.ChunkSink{engine, corpus},
		events,
		IngestSettings{},
		nil,
	)

	if _, err := uc.Ingest(context.Background(), root); err == nil {
		t.Fatalf("expected sink failure")
	}
	if len(corpus.chunks) != 1 || corpus.chunks[0].Chunk.Content() != "old corpus paragraph" {
		t.Fatalf("expected corpus store to keep the previous corpus, got %+v", corpus.chunks)
	}
	if len(events.published) != 0 {
		t.Fatalf("expected no rebuilt event, got %v", events.published)
	}
}
