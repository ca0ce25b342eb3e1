package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestLoadIncludesRetrievalDefaults(t *testing.T) {
	clearEnv(t, "APP_CONFIG_FILE", "RAG_TOP_K", "RAG_CANDIDATES", "RAG_FUSION_RRF_K",
		"RAG_SEMANTIC_WEIGHT", "RAG_LEXICAL_WEIGHT", "CAPABILITY_TIMEOUT", "CLASSIFY_ERROR_POLICY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RAGTopK != 6 || cfg.RAGCandidates != 20 || cfg.RAGFusionRRFK != 60 {
		t.Fatalf("unexpected retrieval defaults: %+v", cfg)
	}
	if cfg.RAGSemanticWeight != 0.6 || cfg.RAGLexicalWeight != 0.4 {
		t.Fatalf("unexpected fusion weights: %v/%v", cfg.RAGSemanticWeight, cfg.RAGLexicalWeight)
	}
	if cfg.CapabilityTimeout != 30*time.Second {
		t.Fatalf("expected 30s capability timeout, got %s", cfg.CapabilityTimeout)
	}
	if cfg.ClassifyErrorPolicy != "closed" {
		t.Fatalf("expected fail-closed default, got %q", cfg.ClassifyErrorPolicy)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	clearEnv(t, "APP_CONFIG_FILE")
	t.Setenv("RAG_TOP_K", "4")
	t.Setenv("RAG_SEMANTIC_WEIGHT", "0.7")
	t.Setenv("CAPABILITY_TIMEOUT", "45")
	t.Setenv("CACHE_TTL", "12h")
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("RESILIENCE_BREAKER_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RAGTopK != 4 || cfg.RAGSemanticWeight != 0.7 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.CapabilityTimeout != 45*time.Second || cfg.CacheTTL != 12*time.Hour {
		t.Fatalf("unexpected durations: %s %s", cfg.CapabilityTimeout, cfg.CacheTTL)
	}
	if cfg.LLMProvider != ProviderOpenAI || cfg.ResilienceBreakerEnabled {
		t.Fatalf("unexpected provider or breaker flag: %+v", cfg)
	}
}

func TestLoadWorkerSchedule(t *testing.T) {
	clearEnv(t, "APP_CONFIG_FILE", "INGEST_INTERVAL", "WORKER_METRICS_PORT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.IngestInterval != 0 || cfg.WorkerMetricsPort != "9090" {
		t.Fatalf("unexpected worker defaults: %s %q", cfg.IngestInterval, cfg.WorkerMetricsPort)
	}

	t.Setenv("INGEST_INTERVAL", "15m")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.IngestInterval != 15*time.Minute {
		t.Fatalf("expected 15m interval, got %s", cfg.IngestInterval)
	}
}

func TestLoadUsesFileAsFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "RAG_TOP_K: 9\nrag_candidates: 30\nKB_PATH: /srv/kb\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("RAG_TOP_K", "")
	t.Setenv("RAG_CANDIDATES", "")
	t.Setenv("KB_PATH", "/env/kb")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RAGTopK != 9 || cfg.RAGCandidates != 30 {
		t.Fatalf("expected file values, got top_k=%d candidates=%d", cfg.RAGTopK, cfg.RAGCandidates)
	}
	if cfg.KBPath != "/env/kb" {
		t.Fatalf("environment must win over file, got %q", cfg.KBPath)
	}
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("RAG_TOP_K: [unterminated"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("APP_CONFIG_FILE", path)

	if _, err := Load(); !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func validConfig(t *testing.T) Config {
	t.Helper()
	clearEnv(t, "APP_CONFIG_FILE", "LLM_PROVIDER", "CACHE_BACKEND", "LEXICAL_BACKEND", "VECTOR_BACKEND",
		"CLASSIFIER_MODE", "CHUNK_SIZE", "CHUNK_OVERLAP", "RAG_TOP_K", "RAG_CANDIDATES")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig(t).Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateReportsProblems(t *testing.T) {
	cfg := validConfig(t)
	cfg.LLMProvider = ProviderOpenAI
	cfg.OpenAIAPIKey = ""
	cfg.RAGCandidates = 2
	cfg.ChunkOverlap = cfg.ChunkSize
	cfg.CacheBackend = "memcached"

	err := cfg.Validate()
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	for _, want := range []string{"OPENAI_API_KEY", "RAG_CANDIDATES", "CHUNK_OVERLAP", "CACHE_BACKEND"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in error, got %v", want, err)
		}
	}
}
