package usecase

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
	"github.com/kirillkom/clinical-rag-assistant/internal/core/ports"
)

type RetrievalSettings struct {
	TopK           int
	Candidates     int
	RRFK           int
	SemanticWeight float64
	LexicalWeight  float64
}

func (s RetrievalSettings) withDefaults() RetrievalSettings {
	if s.TopK <= 0 {
		s.TopK = 6
	}
	if s.Candidates < s.TopK {
		s.Candidates = s.TopK
	}
	if s.RRFK <= 0 {
		s.RRFK = defaultRRFK
	}
	if s.SemanticWeight <= 0 && s.LexicalWeight <= 0 {
		s.SemanticWeight = 0.6
		s.LexicalWeight = 0.4
	}
	return s
}

// HybridRetriever runs lexical and vector search per query and fuses the
// two rankings.
type HybridRetriever struct {
	lexical  ports.LexicalIndex
	vector   ports.VectorIndex
	embedder ports.Embedder
	settings RetrievalSettings
}

func NewHybridRetriever(
	lexical ports.LexicalIndex,
	vector ports.VectorIndex,
	embedder ports.Embedder,
	settings RetrievalSettings,
) *HybridRetriever {
	return &HybridRetriever{
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		settings: settings.withDefaults(),
	}
}

// Retrieve fuses each query independently and concatenates the per-query
// lists in query order, keeping the first occurrence of each content.
func (r *HybridRetriever) Retrieve(ctx context.Context, queries []string) ([]domain.FusedResult, error) {
	perQuery := make([][]domain.FusedResult, 0, len(queries))
	for _, q := range queries {
		fused, err := r.retrieveOne(ctx, q)
		if err != nil {
			return nil, err
		}
		perQuery = append(perQuery, fused)
	}
	return concatUnique(perQuery), nil
}

func (r *HybridRetriever) retrieveOne(ctx context.Context, query string) ([]domain.FusedResult, error) {
	var semanticHits, lexicalHits []domain.RankedHit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		embedding, err := r.embedder.EmbedQuery(gctx, query)
		if err != nil {
			return domain.WrapError(domain.ErrCapability, "embed query", err)
		}
		hits, err := r.vector.Search(gctx, embedding, r.settings.Candidates)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		semanticHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := r.lexical.Search(gctx, query, r.settings.Candidates)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		lexicalHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return FuseWeightedRRF([]WeightedHits{
		{Hits: semanticHits, Weight: r.settings.SemanticWeight},
		{Hits: lexicalHits, Weight: r.settings.LexicalWeight},
	}, r.settings.RRFK, r.settings.TopK), nil
}
