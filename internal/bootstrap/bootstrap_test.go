package bootstrap

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/clinical-rag-assistant/internal/config"
	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), config.Config{}, Options{})
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" http://es-1:9200, ,http://es-2:9200 ")
	want := []string{"http://es-1:9200", "http://es-2:9200"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitList() = %v, want %v", got, want)
	}
	if splitList("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestExtractorsCoverKnowledgeBaseFormats(t *testing.T) {
	byExt := extractors()
	for _, ext := range []string{".txt", ".md", ".markdown", ".pdf"} {
		if _, ok := byExt[ext]; !ok {
			t.Fatalf("missing extractor for %s", ext)
		}
	}
	if !byExt[".pdf"].Paged() || byExt[".md"].Paged() {
		t.Fatalf("unexpected paging flags")
	}
}

func TestResilienceConfigFromSettings(t *testing.T) {
	cfg := config.Config{
		ResilienceRetryMaxAttempts:    5,
		ResilienceRetryInitialBackoff: 100 * time.Millisecond,
		ResilienceRetryMaxBackoff:     time.Second,
		ResilienceBreakerEnabled:      true,
		ResilienceBreakerMinRequests:  7,
		ResilienceBreakerFailureRatio: 0.5,
		ResilienceBreakerOpenTimeout:  10 * time.Second,
	}
	out := resilienceConfig(cfg)
	if out.RetryMaxAttempts != 5 || out.BreakerMinRequests != 7 || out.BreakerOpenTimeout != 10*time.Second {
		t.Fatalf("unexpected resilience config %+v", out)
	}
}

func TestNewAnswerStore(t *testing.T) {
	store, err := newAnswerStore(context.Background(), config.Config{CacheBackend: config.CacheNone})
	if err != nil || store != nil {
		t.Fatalf("expected disabled cache, got %v, %v", store, err)
	}

	store, err = newAnswerStore(context.Background(), config.Config{
		CacheBackend: config.CacheBadger,
		CachePath:    filepath.Join(t.TempDir(), "cache"),
		CacheTTL:     time.Hour,
	})
	if err != nil {
		t.Fatalf("badger cache: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Set(ctx, "q", "a"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
}

func TestOpenAnswerStoreWithSharedBadgerDirectory(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{
		CacheBackend: config.CacheBadger,
		CachePath:    filepath.Join(t.TempDir(), "cache"),
	}

	held, err := openAnswerStore(ctx, cfg, Options{})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	defer held.Close()

	skipped, err := openAnswerStore(ctx, cfg, Options{WithoutAnswerCache: true})
	if err != nil || skipped != nil {
		t.Fatalf("expected ingest-only process to skip the cache, got %v, %v", skipped, err)
	}

	_, err = openAnswerStore(ctx, cfg, Options{})
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for a locked cache directory, got %v", err)
	}
	if !strings.Contains(err.Error(), "CACHE_PATH") {
		t.Fatalf("expected error to name CACHE_PATH, got %v", err)
	}
}
