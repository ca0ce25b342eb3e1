package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/clinical-rag-assistant/internal/config"
	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
	"github.com/kirillkom/clinical-rag-assistant/internal/core/ports"
	"github.com/kirillkom/clinical-rag-assistant/internal/core/usecase"
	badgercache "github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/cache/badger"
	rediscache "github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/cache/redis"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/chunking"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/extractor/markdown"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/index/elastic"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/index/memory"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/llm/capability"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/llm/openai"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/clinical-rag-assistant/internal/observability/metrics"
)

// Options tune process-specific wiring. A nil Registerer disables metrics.
// WithoutAnswerCache skips the answer cache for processes that only ingest;
// a BadgerDB cache directory can be held by one process at a time.
type Options struct {
	Service            string
	Registerer         prometheus.Registerer
	Logger             *slog.Logger
	WithoutAnswerCache bool
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Answerer *usecase.AnswerUseCase
	Ingestor *usecase.IngestUseCase
	Loader   *usecase.IndexLoader
	Events   ports.IndexEvents

	ingestMetrics *metrics.IngestMetrics
	closers       []func() error
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	service := opts.Service
	if service == "" {
		service = "clinical-rag"
	}

	app := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	var (
		observer ports.PipelineObserver
		execOpts []resilience.Option
	)
	if opts.Registerer != nil {
		pipelineMetrics := metrics.NewPipelineMetrics(service, opts.Registerer)
		observer = pipelineMetrics
		execOpts = append(execOpts, resilience.WithFailureObserver(pipelineMetrics.ObserveCapabilityFailure))
		app.ingestMetrics = metrics.NewIngestMetrics(service, opts.Registerer)
	}
	resilienceCfg := resilienceConfig(cfg)
	logger.Info("resilience_policy", "policy", resilienceCfg)
	executor := resilience.NewExecutor(resilienceCfg, execOpts...)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.closers = append(app.closers, db.Close)
	repo := postgres.NewChunkRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	completer, embedder, err := newCapabilities(cfg, executor)
	if err != nil {
		return nil, err
	}

	var classifier ports.IntentClassifier
	if cfg.ClassifierMode == config.ClassifierBinary {
		classifier = capability.NewRelevanceClassifier(completer)
	} else {
		classifier = capability.NewIntentAnalyzer(completer)
	}

	var engineSinks []ports.ChunkSink
	var snapshots []ports.SnapshotIndex

	var lexical ports.LexicalIndex
	switch cfg.LexicalBackend {
	case config.BackendElasticsearch:
		es, err := elastic.New(elastic.Config{
			Addresses: splitList(cfg.ElasticsearchURL),
			Username:  cfg.ElasticsearchUsername,
			Password:  cfg.ElasticsearchPassword,
			Index:     cfg.ElasticsearchIndex,
		}, executor)
		if err != nil {
			return nil, fmt.Errorf("init elasticsearch: %w", err)
		}
		lexical = es
		engineSinks = append(engineSinks, es)
	default:
		idx := memory.NewLexicalIndex()
		lexical = idx
		snapshots = append(snapshots, idx)
	}

	var vector ports.VectorIndex
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		client := qdrant.NewWithOptions(cfg.QdrantURL, cfg.QdrantCollection, qdrant.Options{
			Timeout:            cfg.CapabilityTimeout,
			ResilienceExecutor: executor,
		})
		vector = client
		engineSinks = append(engineSinks, client)
	default:
		idx := memory.NewVectorIndex()
		vector = idx
		snapshots = append(snapshots, idx)
	}

	store, err := openAnswerStore(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	if store != nil {
		app.closers = append(app.closers, store.Close)
	}

	if strings.TrimSpace(cfg.NATSURL) != "" {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init index events: %w", err)
		}
		app.Events = queue
		app.closers = append(app.closers, func() error { queue.Close(); return nil })
	}

	var cache *usecase.QueryCache
	if store != nil {
		cache = usecase.NewQueryCache(store)
	}

	app.Answerer = usecase.NewAnswerUseCase(usecase.AnswerDependencies{
		Classifier: classifier,
		Cache:      cache,
		Expander:   capability.NewExpander(completer),
		Retriever: usecase.NewHybridRetriever(lexical, vector, embedder, usecase.RetrievalSettings{
			TopK:           cfg.RAGTopK,
			Candidates:     cfg.RAGCandidates,
			RRFK:           cfg.RAGFusionRRFK,
			SemanticWeight: cfg.RAGSemanticWeight,
			LexicalWeight:  cfg.RAGLexicalWeight,
		}),
		Generator: capability.NewGenerator(completer),
		Gate:      usecase.NewValidationGate(capability.NewSupportChecker(completer), logger),
		Observer:  observer,
		Logger:    logger,
	}, usecase.PipelineSettings{
		CapabilityTimeout:   cfg.CapabilityTimeout,
		ClassifyErrorPolicy: usecase.ClassifyErrorPolicy(cfg.ClassifyErrorPolicy),
	})

	app.Ingestor = usecase.NewIngestUseCase(
		extractors(),
		chunking.NewRecursiveSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder,
		// Postgres commits last so a failed engine rebuild leaves the
		// persisted corpus and its rebuilt event untouched.
		append(engineSinks, repo),
		app.Events,
		usecase.IngestSettings{Workers: cfg.IngestWorkers, BatchSize: cfg.EmbedBatchSize},
		logger,
	)
	app.Loader = usecase.NewIndexLoader(repo, logger, snapshots...)

	ok = true
	return app, nil
}

// Ingest rebuilds the corpus from root, or from KB_PATH when root is empty.
func (a *App) Ingest(ctx context.Context, root string) error {
	if root == "" {
		root = a.Config.KBPath
	}
	started := time.Now()
	report, err := a.Ingestor.Ingest(ctx, root)
	if a.ingestMetrics != nil {
		a.ingestMetrics.RecordIngest(report, time.Since(started), err)
	}
	if err != nil {
		return err
	}
	if len(report.Skipped) > 0 {
		a.Logger.Warn("ingest_skipped_files", "files", report.Skipped)
	}
	return nil
}

// ReloadIndexes refreshes in-memory indexes from the persisted corpus.
func (a *App) ReloadIndexes(ctx context.Context) error {
	chunks, err := a.Loader.Reload(ctx)
	if a.ingestMetrics != nil {
		a.ingestMetrics.RecordReload(chunks, err)
	}
	return err
}

// WatchIndexEvents reloads indexes on every rebuild event until ctx is done.
// Without an event bus it returns immediately.
func (a *App) WatchIndexEvents(ctx context.Context) error {
	if a.Events == nil {
		return nil
	}
	return a.Events.SubscribeIndexRebuilt(ctx, a.ReloadIndexes)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close_failed", "error", err)
		}
	}
	a.closers = nil
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	out.RetryInitialBackoff = cfg.ResilienceRetryInitialBackoff
	out.RetryMaxBackoff = cfg.ResilienceRetryMaxBackoff
	out.BreakerEnabled = cfg.ResilienceBreakerEnabled
	if cfg.ResilienceBreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.ResilienceBreakerMinRequests)
	}
	out.BreakerFailureRatio = cfg.ResilienceBreakerFailureRatio
	out.BreakerOpenTimeout = cfg.ResilienceBreakerOpenTimeout
	return out
}

func newCapabilities(cfg config.Config, executor *resilience.Executor) (ports.TextCompleter, ports.Embedder, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		oaiCfg := openai.Config{
			BaseURL:        cfg.OpenAIBaseURL,
			APIKey:         cfg.OpenAIAPIKey,
			Model:          cfg.OpenAIModel,
			EmbeddingModel: cfg.OpenAIEmbedModel,
		}
		completer, err := openai.NewCompleter(oaiCfg, executor)
		if err != nil {
			return nil, nil, fmt.Errorf("init openai completer: %w", err)
		}
		embedder, err := openai.NewEmbedder(oaiCfg, executor)
		if err != nil {
			return nil, nil, fmt.Errorf("init openai embedder: %w", err)
		}
		return completer, embedder, nil
	default:
		client := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
			Timeout:            cfg.CapabilityTimeout,
			ResilienceExecutor: executor,
		})
		return client, ollama.NewEmbedder(client), nil
	}
}

type answerStore interface {
	ports.AnswerStore
	io.Closer
}

func openAnswerStore(ctx context.Context, cfg config.Config, opts Options) (answerStore, error) {
	if opts.WithoutAnswerCache {
		return nil, nil
	}
	return newAnswerStore(ctx, cfg)
}

func newAnswerStore(ctx context.Context, cfg config.Config) (answerStore, error) {
	switch cfg.CacheBackend {
	case config.CacheRedis:
		store, err := rediscache.New(ctx, rediscache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("init redis cache: %w", err)
		}
		return store, nil
	case config.CacheBadger:
		store, err := badgercache.Open(cfg.CachePath, false, cfg.CacheTTL)
		if errors.Is(err, badgercache.ErrLocked) {
			return nil, domain.WrapError(domain.ErrConfiguration, "init badger cache", fmt.Errorf(
				"CACHE_PATH %s is in use by another process; point CACHE_PATH at a separate directory, use CACHE_BACKEND=redis or CACHE_BACKEND=none: %w",
				cfg.CachePath, err,
			))
		}
		if err != nil {
			return nil, fmt.Errorf("init badger cache: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

func extractors() map[string]ports.TextExtractor {
	text := plaintext.NewExtractor()
	md := markdown.NewExtractor()
	return map[string]ports.TextExtractor{
		".txt":      text,
		".md":       md,
		".markdown": md,
		".pdf":      pdf.NewExtractor(),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
