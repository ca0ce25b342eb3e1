package usecase

import (
	"sort"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
)

const defaultRRFK = 60

// WeightedHits is one retriever's ranked list with its fusion weight.
type WeightedHits struct {
	Hits   []domain.RankedHit
	Weight float64
}

type fusedCandidate struct {
	chunk      domain.DocumentChunk
	score      float64
	firstSeen  int
	seenInList int
}

// FuseWeightedRRF merges ranked lists with weighted reciprocal rank fusion:
// score = sum(weight / (k + rank + 1)) with 0-based ranks. Chunks are
// identified by content. Ties keep the order of first appearance when lists
// are scanned by descending weight. limit <= 0 returns every candidate.
func FuseWeightedRRF(lists []WeightedHits, rrfK int, limit int) []domain.FusedResult {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}

	order := make([]int, len(lists))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return lists[order[a]].Weight > lists[order[b]].Weight
	})

	acc := make(map[string]*fusedCandidate)
	seq := 0
	for listPos, idx := range order {
		list := lists[idx]
		for _, hit := range list.Hits {
			key := hit.Chunk.ContentKey()
			candidate, ok := acc[key]
			if !ok {
				candidate = &fusedCandidate{chunk: hit.Chunk, firstSeen: seq, seenInList: -1}
				acc[key] = candidate
				seq++
			}
			// Repeated content inside one list counts once, at its first rank.
			if candidate.seenInList == listPos {
				continue
			}
			candidate.seenInList = listPos
			if list.Weight > 0 {
				candidate.score += list.Weight / float64(rrfK+hit.Rank+1)
			}
		}
	}

	candidates := make([]*fusedCandidate, 0, len(acc))
	for _, c := range acc {
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].firstSeen < candidates[j].firstSeen
	})

	out := make([]domain.FusedResult, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, domain.FusedResult{Chunk: c.chunk, Score: c.score})
	}
	return trimCandidates(out, limit)
}

func trimCandidates(results []domain.FusedResult, limit int) []domain.FusedResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

// concatUnique joins per-query fused lists in query order, keeping the first
// occurrence of each content.
func concatUnique(perQuery [][]domain.FusedResult) []domain.FusedResult {
	seen := make(map[string]struct{})
	out := make([]domain.FusedResult, 0)
	for _, list := range perQuery {
		for _, r := range list {
			key := r.Chunk.ContentKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
