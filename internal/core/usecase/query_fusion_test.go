package usecase

import (
	"math"
	"testing"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
)

func testChunk(t *testing.T, id, content string) domain.DocumentChunk {
	t.Helper()
	chunk, err := domain.NewDocumentChunk(id, content, domain.ChunkMetadata{Source: id + ".txt"})
	if err != nil {
		t.Fatalf("NewDocumentChunk() error = %v", err)
	}
	return chunk
}

func hits(chunks ...domain.DocumentChunk) []domain.RankedHit {
	out := make([]domain.RankedHit, 0, len(chunks))
	for i, c := range chunks {
		out = append(out, domain.RankedHit{Chunk: c, Rank: i})
	}
	return out
}

func TestFuseWeightedRRFOrdersByWeightedScore(t *testing.T) {
	d1 := testChunk(t, "d1", "one")
	d2 := testChunk(t, "d2", "two")
	d3 := testChunk(t, "d3", "three")
	d4 := testChunk(t, "d4", "four")

	fused := FuseWeightedRRF([]WeightedHits{
		{Hits: hits(d1, d2, d3), Weight: 0.6},
		{Hits: hits(d2, d4), Weight: 0.4},
	}, 60, 0)

	if len(fused) != 4 {
		t.Fatalf("expected 4 fused results, got %d", len(fused))
	}
	wantOrder := []string{"two", "one", "three", "four"}
	for i, want := range wantOrder {
		if got := fused[i].Chunk.Content(); got != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, got)
		}
	}

	wantD2 := 0.6/62 + 0.4/61
	if math.Abs(fused[0].Score-wantD2) > 1e-12 {
		t.Fatalf("expected d2 score %.6f, got %.6f", wantD2, fused[0].Score)
	}
	if math.Abs(fused[1].Score-0.6/61) > 1e-12 {
		t.Fatalf("expected d1 score %.6f, got %.6f", 0.6/61, fused[1].Score)
	}
}

func TestFuseWeightedRRFDeduplicatesByContent(t *testing.T) {
	semantic := testChunk(t, "vec-7", "shared passage")
	lexical := testChunk(t, "bm25-3", "shared passage")

	fused := FuseWeightedRRF([]WeightedHits{
		{Hits: hits(semantic), Weight: 0.6},
		{Hits: hits(lexical), Weight: 0.4},
	}, 60, 0)

	if len(fused) != 1 {
		t.Fatalf("expected one result for identical content, got %d", len(fused))
	}
	want := 0.6/61 + 0.4/61
	if math.Abs(fused[0].Score-want) > 1e-12 {
		t.Fatalf("expected combined score %.6f, got %.6f", want, fused[0].Score)
	}
}

func TestFuseWeightedRRFTieBreaksByHeavierListFirst(t *testing.T) {
	a := testChunk(t, "a", "alpha")
	b := testChunk(t, "b", "beta")

	// Equal contributions: 0.5/61 each. The heavier list is scanned first even
	// though it is passed second.
	fused := FuseWeightedRRF([]WeightedHits{
		{Hits: hits(b), Weight: 0.5},
		{Hits: hits(a), Weight: 0.5000000001},
	}, 60, 0)
	if fused[0].Chunk.Content() != "alpha" {
		t.Fatalf("expected heavier list chunk first, got %q", fused[0].Chunk.Content())
	}

	fused = FuseWeightedRRF([]WeightedHits{
		{Hits: hits(b), Weight: 0.5},
		{Hits: hits(a), Weight: 0.5},
	}, 60, 0)
	if fused[0].Chunk.Content() != "beta" {
		t.Fatalf("expected input order for equal weights, got %q", fused[0].Chunk.Content())
	}
}

func TestFuseWeightedRRFCountsRepeatedContentOncePerList(t *testing.T) {
	a := testChunk(t, "a", "alpha")
	aCopy := testChunk(t, "a2", "alpha")

	fused := FuseWeightedRRF([]WeightedHits{{Hits: hits(a, aCopy), Weight: 1}}, 60, 0)
	if len(fused) != 1 {
		t.Fatalf("expected 1 result, got %d", len(fused))
	}
	if math.Abs(fused[0].Score-1.0/61) > 1e-12 {
		t.Fatalf("expected single contribution, got %.6f", fused[0].Score)
	}
}

func TestFuseWeightedRRFLimitAndDefaultK(t *testing.T) {
	chunks := []domain.DocumentChunk{
		testChunk(t, "1", "c1"), testChunk(t, "2", "c2"), testChunk(t, "3", "c3"),
	}
	fused := FuseWeightedRRF([]WeightedHits{{Hits: hits(chunks...), Weight: 1}}, 0, 2)
	if len(fused) != 2 {
		t.Fatalf("expected limit 2, got %d", len(fused))
	}
	if math.Abs(fused[0].Score-1.0/61) > 1e-12 {
		t.Fatalf("expected default k=60, got score %.6f", fused[0].Score)
	}
}

func TestFuseWeightedRRFDeterministic(t *testing.T) {
	lists := []WeightedHits{
		{Hits: hits(testChunk(t, "x", "x"), testChunk(t, "y", "y")), Weight: 0.6},
		{Hits: hits(testChunk(t, "y", "y"), testChunk(t, "z", "z")), Weight: 0.4},
	}
	first := FuseWeightedRRF(lists, 60, 0)
	for i := 0; i < 20; i++ {
		again := FuseWeightedRRF(lists, 60, 0)
		for j := range first {
			if first[j].Chunk.Content() != again[j].Chunk.Content() || first[j].Score != again[j].Score {
				t.Fatalf("run %d differs at %d", i, j)
			}
		}
	}
}

func TestConcatUniqueKeepsFirstOccurrence(t *testing.T) {
	a := domain.FusedResult{Chunk: testChunk(t, "a", "alpha"), Score: 0.2}
	b := domain.FusedResult{Chunk: testChunk(t, "b", "beta"), Score: 0.1}
	aLater := domain.FusedResult{Chunk: testChunk(t, "a2", "alpha"), Score: 0.9}
	c := domain.FusedResult{Chunk: testChunk(t, "c", "gamma"), Score: 0.3}

	out := concatUnique([][]domain.FusedResult{{a, b}, {aLater, c}})
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out))
	}
	if out[0].Score != 0.2 || out[2].Chunk.Content() != "gamma" {
		t.Fatalf("unexpected concatenation order: %+v", out)
	}
}
