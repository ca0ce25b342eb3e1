package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
}

func (c Config) token() string {
	// OpenAI-compatible local servers accept any token.
	if strings.TrimSpace(c.APIKey) == "" {
		return "none"
	}
	return c.APIKey
}

// Completer talks to any OpenAI-compatible chat endpoint (OpenAI, Groq,
// vLLM) through langchaingo.
type Completer struct {
	model    llms.Model
	executor *resilience.Executor
	logger   *slog.Logger
}

func NewCompleter(cfg Config, executor *resilience.Executor) (*Completer, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "openai completer", errors.New("model is required"))
	}
	opts := []openai.Option{
		openai.WithToken(cfg.token()),
		openai.WithModel(cfg.Model),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return newCompleter(client, executor), nil
}

func newCompleter(model llms.Model, executor *resilience.Executor) *Completer {
	return &Completer{
		model:    model,
		executor: executor,
		logger:   slog.Default().With("component", "openai-completer"),
	}
}

func (c *Completer) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	content := make([]llms.MessageContent, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		content = append(content, llms.MessageContent{
			Role:  schema.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		})
	}
	content = append(content, llms.MessageContent{
		Role:  schema.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(userPrompt)},
	})

	var text string
	call := func(callCtx context.Context) error {
		response, err := c.model.GenerateContent(callCtx, content, llms.WithTemperature(temperature))
		if err != nil {
			return err
		}
		if len(response.Choices) < 1 {
			return errors.New("no choices returned from model")
		}
		text = strings.TrimSpace(response.Choices[0].Content)
		return nil
	}

	if err := c.execute(ctx, "openai.chat", call); err != nil {
		c.logger.Error("failed to generate content", "err", err)
		return "", domain.WrapError(domain.ErrCapability, "openai chat", err)
	}
	return text, nil
}

func (c *Completer) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	var err error
	if c.executor == nil {
		err = call(ctx)
	} else {
		err = c.executor.Execute(ctx, operation, call, classifyOpenAIError)
	}
	return wrapTemporaryIfNeeded(operation, err)
}

// Embedder produces embeddings through an OpenAI-compatible endpoint.
type Embedder struct {
	embedder embeddings.Embedder
	executor *resilience.Executor
	logger   *slog.Logger
}

func NewEmbedder(cfg Config, executor *resilience.Executor) (*Embedder, error) {
	if strings.TrimSpace(cfg.EmbeddingModel) == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "openai embedder", errors.New("embedding model is required"))
	}
	opts := []openai.Option{
		openai.WithToken(cfg.token()),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &Embedder{
		embedder: embedder,
		executor: executor,
		logger:   slog.Default().With("component", "openai-embedder"),
	}, nil
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var vectors [][]float32
	call := func(callCtx context.Context) error {
		out, err := e.embedder.EmbedDocuments(callCtx, texts)
		if err != nil {
			return err
		}
		vectors = out
		return nil
	}

	var err error
	if e.executor == nil {
		err = call(ctx)
	} else {
		err = e.executor.Execute(ctx, "openai.embed", call, classifyOpenAIError)
	}
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, domain.WrapError(domain.ErrCapability, "openai embed", wrapTemporaryIfNeeded("openai.embed", err))
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, domain.WrapError(domain.ErrCapability, "openai embed", errors.New("empty embedding result"))
	}
	return vectors[0], nil
}
