package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
	"github.com/kirillkom/clinical-rag-assistant/internal/core/ports"
)

// ClassifyErrorPolicy decides the intent used when classification fails.
type ClassifyErrorPolicy string

const (
	ClassifyFailClosed ClassifyErrorPolicy = "closed"
	ClassifyFailOpen   ClassifyErrorPolicy = "open"
)

// Messages are the fixed user-facing texts returned instead of generated
// output.
type Messages struct {
	OutOfScope           string
	NoInformation        string
	GenerationFailed     string
	Blocked              string
	RetrievalUnavailable string
}

func DefaultMessages() Messages {
	return Messages{
		OutOfScope:           "I only answer questions related to mental health. How can I support your mental well-being today?",
		NoInformation:        "Based on my available sources I could not find specific information regarding your query.",
		GenerationFailed:     "Sorry, I am unable to answer this question at the moment.",
		Blocked:              "I'm sorry, I couldn't verify that information against the clinical sources. Please consult a qualified mental health professional.",
		RetrievalUnavailable: "The knowledge base is temporarily unavailable. Please try again in a moment.",
	}
}

func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	if m.OutOfScope == "" {
		m.OutOfScope = d.OutOfScope
	}
	if m.NoInformation == "" {
		m.NoInformation = d.NoInformation
	}
	if m.GenerationFailed == "" {
		m.GenerationFailed = d.GenerationFailed
	}
	if m.Blocked == "" {
		m.Blocked = d.Blocked
	}
	if m.RetrievalUnavailable == "" {
		m.RetrievalUnavailable = d.RetrievalUnavailable
	}
	return m
}

type PipelineSettings struct {
	CapabilityTimeout   time.Duration
	ClassifyErrorPolicy ClassifyErrorPolicy
	Messages            Messages
}

// AnswerDependencies groups the collaborators of AnswerUseCase. Expander,
// Cache, Observer and Logger are optional.
type AnswerDependencies struct {
	Classifier ports.IntentClassifier
	Cache      *QueryCache
	Expander   ports.QueryExpander
	Retriever  *HybridRetriever
	Generator  ports.AnswerGenerator
	Gate       *ValidationGate
	Observer   ports.PipelineObserver
	Logger     *slog.Logger
}

// AnswerUseCase sequences classification, cache lookup, expansion,
// retrieval, generation and validation for one question.
type AnswerUseCase struct {
	deps     AnswerDependencies
	settings PipelineSettings
}

func NewAnswerUseCase(deps AnswerDependencies, settings PipelineSettings) *AnswerUseCase {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gate == nil {
		deps.Gate = NewValidationGate(nil, deps.Logger)
	}
	if settings.CapabilityTimeout <= 0 {
		settings.CapabilityTimeout = 30 * time.Second
	}
	if settings.ClassifyErrorPolicy == "" {
		settings.ClassifyErrorPolicy = ClassifyFailClosed
	}
	settings.Messages = settings.Messages.withDefaults()
	return &AnswerUseCase{deps: deps, settings: settings}
}

// Ask returns an error only for invalid input and an unloaded index; every
// other failure resolves to a fixed message with its outcome.
func (uc *AnswerUseCase) Ask(ctx context.Context, question string) (*domain.PipelineResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ask", errors.New("question is required"))
	}

	started := time.Now()
	pc := &domain.PipelineContext{OriginalQuery: question}

	pc.Intent = uc.classify(ctx, question)
	if pc.Intent.Kind == domain.IntentOutOfScope {
		return uc.finish(pc, domain.OutcomeOutOfScope, uc.settings.Messages.OutOfScope, started), nil
	}

	if answer, hit := uc.lookupCache(ctx, question); hit {
		return uc.finish(pc, domain.OutcomeCacheHit, answer, started), nil
	}

	pc.SearchQueries = uc.expand(ctx, pc)

	if pc.Intent.IsRelevant() {
		chunks, err := uc.retrieve(ctx, pc.SearchQueries)
		if err != nil {
			if domain.IsKind(err, domain.ErrIndexNotLoaded) {
				uc.deps.Observer.ObserveOutcome(domain.OutcomeRetrievalUnavailable)
				return nil, err
			}
			uc.deps.Logger.Error("pipeline_retrieval_failed", "error", err)
			return uc.finish(pc, domain.OutcomeRetrievalUnavailable, uc.settings.Messages.RetrievalUnavailable, started), nil
		}
		pc.RetrievedChunks = chunks
	}

	if len(pc.RetrievedChunks) == 0 {
		return uc.finish(pc, domain.OutcomeNoContext, uc.settings.Messages.NoInformation, started), nil
	}

	answer, err := uc.generate(ctx, question, domain.Chunks(pc.RetrievedChunks))
	if err != nil {
		uc.deps.Logger.Error("pipeline_generation_failed", "error", err)
		return uc.finish(pc, domain.OutcomeGenerationFailed, uc.settings.Messages.GenerationFailed, started), nil
	}
	pc.RawAnswer = answer

	pc.Validated = uc.validate(ctx, pc)
	if !pc.Validated {
		uc.deps.Logger.Warn("pipeline_answer_blocked", "reason", domain.ErrValidationFailure.Error())
		return uc.finish(pc, domain.OutcomeBlocked, uc.settings.Messages.Blocked, started), nil
	}

	uc.storeAnswer(ctx, question, pc.RawAnswer)
	return uc.finish(pc, domain.OutcomeAnswered, pc.RawAnswer, started), nil
}

func (uc *AnswerUseCase) classify(ctx context.Context, question string) domain.Intent {
	var intent domain.Intent
	err := uc.observe(domain.StageClassify, func() error {
		capCtx, cancel := context.WithTimeout(ctx, uc.settings.CapabilityTimeout)
		defer cancel()
		var err error
		intent, err = uc.deps.Classifier.Classify(capCtx, question)
		return err
	})
	if err == nil {
		return intent
	}

	uc.deps.Logger.Warn("pipeline_classify_failed",
		"error", err,
		"policy", string(uc.settings.ClassifyErrorPolicy),
	)
	if uc.settings.ClassifyErrorPolicy == ClassifyFailOpen {
		return domain.Relevant("")
	}
	return domain.OutOfScope()
}

func (uc *AnswerUseCase) lookupCache(ctx context.Context, question string) (string, bool) {
	if uc.deps.Cache == nil {
		return "", false
	}
	var (
		answer string
		hit    bool
	)
	err := uc.observe(domain.StageCacheCheck, func() error {
		var err error
		answer, hit, err = uc.deps.Cache.Get(ctx, question)
		return err
	})
	if err != nil {
		uc.deps.Logger.Warn("pipeline_cache_get_failed", "error", err)
		hit = false
	}
	uc.deps.Observer.ObserveCache(hit)
	return answer, hit
}

func (uc *AnswerUseCase) expand(ctx context.Context, pc *domain.PipelineContext) []string {
	original := []string{pc.OriginalQuery}
	if !pc.Intent.IsRelevant() || uc.deps.Expander == nil {
		return original
	}

	input := pc.OriginalQuery
	if refined := strings.TrimSpace(pc.Intent.RefinedQuery); refined != "" {
		input = refined
	}

	var expansions []string
	err := uc.observe(domain.StageExpand, func() error {
		capCtx, cancel := context.WithTimeout(ctx, uc.settings.CapabilityTimeout)
		defer cancel()
		var err error
		expansions, err = uc.deps.Expander.Expand(capCtx, input)
		return err
	})
	if err != nil {
		uc.deps.Logger.Warn("pipeline_expand_failed", "error", err)
		return original
	}
	return buildSearchQueries(pc.OriginalQuery, expansions)
}

func (uc *AnswerUseCase) retrieve(ctx context.Context, queries []string) ([]domain.FusedResult, error) {
	if uc.deps.Retriever == nil {
		return nil, domain.WrapError(domain.ErrIndexNotLoaded, "retrieve", errors.New("retriever is not configured"))
	}
	var chunks []domain.FusedResult
	err := uc.observe(domain.StageRetrieve, func() error {
		capCtx, cancel := context.WithTimeout(ctx, uc.settings.CapabilityTimeout)
		defer cancel()
		var err error
		chunks, err = uc.deps.Retriever.Retrieve(capCtx, queries)
		return err
	})
	return chunks, err
}

func (uc *AnswerUseCase) generate(ctx context.Context, question string, chunks []domain.DocumentChunk) (string, error) {
	var answer string
	err := uc.observe(domain.StageGenerate, func() error {
		capCtx, cancel := context.WithTimeout(ctx, uc.settings.CapabilityTimeout)
		defer cancel()
		var err error
		answer, err = uc.deps.Generator.Generate(capCtx, question, chunks)
		if err == nil && strings.TrimSpace(answer) == "" {
			err = domain.WrapError(domain.ErrCapability, "generate", errors.New("empty answer"))
		}
		return err
	})
	return answer, err
}

func (uc *AnswerUseCase) validate(ctx context.Context, pc *domain.PipelineContext) bool {
	if !pc.Intent.IsRelevant() {
		return false
	}
	var passed bool
	_ = uc.observe(domain.StageValidate, func() error {
		capCtx, cancel := context.WithTimeout(ctx, uc.settings.CapabilityTimeout)
		defer cancel()
		var err error
		passed, err = uc.deps.Gate.check(capCtx, domain.Chunks(pc.RetrievedChunks), pc.RawAnswer)
		return err
	})
	return passed
}

func (uc *AnswerUseCase) storeAnswer(ctx context.Context, question, answer string) {
	if uc.deps.Cache == nil {
		return
	}
	err := uc.observe(domain.StageCacheWrite, func() error {
		return uc.deps.Cache.Set(ctx, question, answer)
	})
	if err != nil {
		uc.deps.Logger.Warn("pipeline_cache_set_failed", "error", err)
	}
}

func (uc *AnswerUseCase) observe(stage domain.Stage, fn func() error) error {
	started := time.Now()
	err := fn()
	uc.deps.Observer.ObserveStage(stage, time.Since(started), err)
	return err
}

func (uc *AnswerUseCase) finish(pc *domain.PipelineContext, outcome domain.Outcome, answer string, started time.Time) *domain.PipelineResult {
	uc.deps.Observer.ObserveOutcome(outcome)
	result := &domain.PipelineResult{
		Answer:        answer,
		Outcome:       outcome,
		Intent:        pc.Intent,
		SearchQueries: pc.SearchQueries,
		Duration:      time.Since(started),
	}
	if outcome == domain.OutcomeAnswered || outcome == domain.OutcomeBlocked {
		result.Sources = sourcesOf(pc.RetrievedChunks)
	}
	uc.deps.Logger.Info("pipeline_completed",
		"outcome", string(outcome),
		"intent", string(pc.Intent.Kind),
		"queries", len(pc.SearchQueries),
		"chunks", len(pc.RetrievedChunks),
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result
}

func sourcesOf(results []domain.FusedResult) []domain.Source {
	out := make([]domain.Source, 0, len(results))
	for _, r := range results {
		meta := r.Chunk.Metadata()
		out = append(out, domain.Source{Source: meta.Source, Page: meta.Page, Score: r.Score})
	}
	return out
}

type nopObserver struct{}

func (nopObserver) ObserveStage(domain.Stage, time.Duration, error) {}
func (nopObserver) ObserveOutcome(domain.Outcome)                   {}
func (nopObserver) ObserveCache(bool)                               {}
