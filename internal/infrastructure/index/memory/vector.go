package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
)

type vectorDoc struct {
	chunk  domain.DocumentChunk
	seq    int
	vector []float32
}

type vectorSnapshot struct {
	docs []vectorDoc
	dim  int
}

// VectorIndex ranks chunks by cosine similarity with a brute-force scan.
type VectorIndex struct {
	snapshot atomic.Pointer[vectorSnapshot]
}

func NewVectorIndex() *VectorIndex {
	return &VectorIndex{}
}

// Load keeps chunks that carry an embedding. All embeddings must share one
// dimension.
func (idx *VectorIndex) Load(chunks []domain.IndexedChunk) error {
	snap := &vectorSnapshot{docs: make([]vectorDoc, 0, len(chunks))}
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if snap.dim == 0 {
			snap.dim = len(c.Embedding)
		}
		if len(c.Embedding) != snap.dim {
			return domain.WrapError(domain.ErrInvalidInput, "load vector index",
				fmt.Errorf("chunk %s has dimension %d, expected %d", c.Chunk.ID(), len(c.Embedding), snap.dim))
		}
		unit, ok := normalize(c.Embedding)
		if !ok {
			continue
		}
		snap.docs = append(snap.docs, vectorDoc{chunk: c.Chunk, seq: c.Seq, vector: unit})
	}
	idx.snapshot.Store(snap)
	return nil
}

func (idx *VectorIndex) Loaded() bool {
	return idx.snapshot.Load() != nil
}

func (idx *VectorIndex) Search(ctx context.Context, queryEmbedding []float32, k int) ([]domain.RankedHit, error) {
	snap := idx.snapshot.Load()
	if snap == nil {
		return nil, domain.WrapError(domain.ErrIndexNotLoaded, "vector search", errors.New("no corpus loaded"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || len(snap.docs) == 0 {
		return nil, nil
	}
	if len(queryEmbedding) != snap.dim {
		return nil, domain.WrapError(domain.ErrInvalidInput, "vector search",
			fmt.Errorf("query dimension %d, index dimension %d", len(queryEmbedding), snap.dim))
	}
	query, ok := normalize(queryEmbedding)
	if !ok {
		return nil, nil
	}

	type scored struct {
		doc   int
		score float64
	}
	ranked := make([]scored, len(snap.docs))
	for i, doc := range snap.docs {
		ranked[i] = scored{doc: i, score: dot(query, doc.vector)}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return snap.docs[ranked[i].doc].seq < snap.docs[ranked[j].doc].seq
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	out := make([]domain.RankedHit, 0, len(ranked))
	for rank, r := range ranked {
		out = append(out, domain.RankedHit{Chunk: snap.docs[r.doc].chunk, Rank: rank})
	}
	return out, nil
}

func normalize(v []float32) ([]float32, bool) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, false
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, true
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
