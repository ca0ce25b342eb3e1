package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
)

func indexedChunk(t *testing.T, id, content string, seq int, vector []float32) domain.IndexedChunk {
	t.Helper()
	chunk, err := domain.NewDocumentChunk(id, content, domain.ChunkMetadata{Source: "kb/" + id + ".pdf", Page: seq + 1})
	if err != nil {
		t.Fatalf("NewDocumentChunk() error = %v", err)
	}
	return domain.IndexedChunk{Chunk: chunk, Seq: seq, Embedding: vector}
}

func TestReplaceChunksDropsEnsuresAndUpserts(t *testing.T) {
	var (
		dropCalls   int32
		ensureCalls int32
		upserted    int32
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/collections/chunks":
			atomic.AddInt32(&dropCalls, 1)
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks":
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks/points":
			var body struct {
				Points []point `json:"points"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode upsert: %v", err)
			}
			atomic.AddInt32(&upserted, int32(len(body.Points)))
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	chunks := []domain.IndexedChunk{
		indexedChunk(t, "11111111-1111-1111-1111-111111111111", "a", 0, []float32{0.1, 0.2}),
		indexedChunk(t, "22222222-2222-2222-2222-222222222222", "b", 1, []float32{0.3, 0.4}),
		indexedChunk(t, "33333333-3333-3333-3333-333333333333", "c", 2, nil),
	}
	if err := client.ReplaceChunks(context.Background(), chunks); err != nil {
		t.Fatalf("ReplaceChunks() error = %v", err)
	}
	if dropCalls != 1 || ensureCalls != 1 {
		t.Fatalf("expected one drop and one ensure, got %d/%d", dropCalls, ensureCalls)
	}
	if upserted != 2 {
		t.Fatalf("expected 2 points with embeddings, got %d", upserted)
	}
}

func TestEnsureCollectionIncludesResponseBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/chunks" {
			http.Error(w, "boom", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	err := client.ReplaceChunks(context.Background(), []domain.IndexedChunk{
		indexedChunk(t, "11111111-1111-1111-1111-111111111111", "a", 0, []float32{0.1}),
	})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected error to include body, got %v", err)
	}
}

func TestSearchReturnsRankedChunksWithSeqTieBreak(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/chunks/points/search" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"result":[
			{"score":0.9,"payload":{"chunk_id":"b","text":"second","source":"b.txt","seq":5}},
			{"score":0.9,"payload":{"chunk_id":"a","text":"first","source":"a.pdf","page":2,"seq":1}},
			{"score":0.4,"payload":{"chunk_id":"c","text":"third","source":"c.txt","seq":0}}
		]}`))
	}))
	defer server.Close()

	hits, err := New(server.URL, "chunks").Search(context.Background(), []float32{0.1, 0.2}, 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].Chunk.Content() != "first" || hits[0].Chunk.Metadata().Page != 2 || hits[0].Rank != 0 {
		t.Fatalf("unexpected first hit %+v", hits[0])
	}
	if hits[2].Chunk.Content() != "third" || hits[2].Rank != 2 {
		t.Fatalf("unexpected last hit %+v", hits[2])
	}
}

func TestSearchMissingCollectionIsNotLoaded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Not found: Collection chunks doesn't exist!"}}`, http.StatusNotFound)
	}))
	defer server.Close()

	_, err := New(server.URL, "chunks").Search(context.Background(), []float32{0.1}, 3)
	if !domain.IsKind(err, domain.ErrIndexNotLoaded) {
		t.Fatalf("expected ErrIndexNotLoaded, got %v", err)
	}
}

func TestSearchServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, "chunks").Search(context.Background(), []float32{0.1}, 3)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestSearchEmptyVectorChecksCollectionExists(t *testing.T) {
	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Not found: Collection chunks doesn't exist!"}}`, http.StatusNotFound)
	}))
	defer missing.Close()

	_, err := New(missing.URL, "chunks").Search(context.Background(), nil, 3)
	if !domain.IsKind(err, domain.ErrIndexNotLoaded) {
		t.Fatalf("expected ErrIndexNotLoaded, got %v", err)
	}

	var searched atomic.Int32
	loaded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/collections/chunks" {
			_, _ = w.Write([]byte(`{"result":{"status":"green"}}`))
			return
		}
		searched.Add(1)
		http.Error(w, "unexpected", http.StatusBadRequest)
	}))
	defer loaded.Close()

	hits, err := New(loaded.URL, "chunks").Search(context.Background(), []float32{}, 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 || searched.Load() != 0 {
		t.Fatalf("expected no hits and no search call, got %d hits, %d calls", len(hits), searched.Load())
	}
}
