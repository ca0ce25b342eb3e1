package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/resilience"
)

func TestCompleteSendsSystemUserAndTemperature(t *testing.T) {
	var captured struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
		Stream   bool          `json:"stream"`
		Options  struct {
			Temperature float64 `json:"temperature"`
		} `json:"options"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"  YES \n"}}`))
	}))
	defer server.Close()

	client := New(server.URL, "llama3", "nomic-embed-text")
	out, err := client.Complete(context.Background(), "system rules", "is this relevant?", 0.3)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != "YES" {
		t.Fatalf("expected trimmed content, got %q", out)
	}
	if captured.Model != "llama3" || captured.Stream {
		t.Fatalf("unexpected request model=%s stream=%v", captured.Model, captured.Stream)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" || captured.Messages[1].Content != "is this relevant?" {
		t.Fatalf("unexpected messages: %+v", captured.Messages)
	}
	if captured.Options.Temperature != 0.3 {
		t.Fatalf("expected temperature 0.3, got %v", captured.Options.Temperature)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed"))
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrCapability) || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected capability+temporary kinds for 502, got %v", err)
	}
}

func TestEmbedQueryReturnsFirstVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer server.Close()

	vector, err := NewEmbedder(New(server.URL, "gen", "embed")).EmbedQuery(context.Background(), "q")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vector) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(vector))
	}
}

func TestCompleteRetriesTemporaryStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"message":{"content":"PASS"}}`))
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
	})
	client := NewWithOptions(server.URL, "gen", "embed", Options{ResilienceExecutor: executor})
	out, err := client.Complete(context.Background(), "", "check", 0)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != "PASS" || calls.Load() != 2 {
		t.Fatalf("expected retry then PASS, got %q after %d calls", out, calls.Load())
	}
}

func TestCompleteDoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 3, RetryInitialBackoff: time.Millisecond})
	client := NewWithOptions(server.URL, "gen", "embed", Options{ResilienceExecutor: executor})
	_, err := client.Complete(context.Background(), "", "check", 0)
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("did not expect temporary kind for 400")
	}
}
