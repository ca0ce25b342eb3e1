// Package memory holds in-process search indexes built from the persisted
// chunk corpus. Each index publishes an immutable snapshot; searches never
// lock and reloads swap the snapshot atomically.
package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync/atomic"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

type posting struct {
	doc int
	tf  int
}

type lexicalDoc struct {
	chunk  domain.DocumentChunk
	seq    int
	length int
}

type lexicalSnapshot struct {
	docs      []lexicalDoc
	postings  map[string][]posting
	avgLength float64
}

// LexicalIndex ranks chunks with Okapi BM25.
type LexicalIndex struct {
	snapshot atomic.Pointer[lexicalSnapshot]
}

func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{}
}

func (idx *LexicalIndex) Load(chunks []domain.IndexedChunk) error {
	snap := &lexicalSnapshot{
		docs:     make([]lexicalDoc, 0, len(chunks)),
		postings: make(map[string][]posting),
	}
	totalLength := 0
	for _, c := range chunks {
		tokens := tokenize(c.Chunk.Content())
		docID := len(snap.docs)
		snap.docs = append(snap.docs, lexicalDoc{chunk: c.Chunk, seq: c.Seq, length: len(tokens)})
		totalLength += len(tokens)

		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for term, freq := range tf {
			snap.postings[term] = append(snap.postings[term], posting{doc: docID, tf: freq})
		}
	}
	if len(snap.docs) > 0 {
		snap.avgLength = float64(totalLength) / float64(len(snap.docs))
	}
	idx.snapshot.Store(snap)
	return nil
}

func (idx *LexicalIndex) Loaded() bool {
	return idx.snapshot.Load() != nil
}

// Search returns up to k chunks with a positive BM25 score. Equal scores
// keep ingestion order.
func (idx *LexicalIndex) Search(ctx context.Context, query string, k int) ([]domain.RankedHit, error) {
	snap := idx.snapshot.Load()
	if snap == nil {
		return nil, domain.WrapError(domain.ErrIndexNotLoaded, "lexical search", errors.New("no corpus loaded"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || len(snap.docs) == 0 {
		return nil, nil
	}

	scores := make(map[int]float64)
	seen := make(map[string]struct{})
	n := float64(len(snap.docs))
	for _, term := range tokenize(query) {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		postings := snap.postings[term]
		if len(postings) == 0 {
			continue
		}
		df := float64(len(postings))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for _, p := range postings {
			doc := snap.docs[p.doc]
			tf := float64(p.tf)
			norm := 1 - bm25B
			if snap.avgLength > 0 {
				norm += bm25B * float64(doc.length) / snap.avgLength
			}
			scores[p.doc] += idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*norm)
		}
	}

	type scored struct {
		doc   int
		score float64
	}
	ranked := make([]scored, 0, len(scores))
	for doc, score := range scores {
		if score > 0 {
			ranked = append(ranked, scored{doc: doc, score: score})
		}
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
