package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/resilience"
)

const upsertBatchSize = 256

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, collection string) *Client {
	return NewWithOptions(baseURL, collection, Options{})
}

func NewWithOptions(baseURL, collection string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// ReplaceChunks drops the collection and uploads the corpus. Chunks without
// an embedding are skipped.
func (c *Client) ReplaceChunks(ctx context.Context, chunks []domain.IndexedChunk) error {
	points := make([]point, 0, len(chunks))
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			continue
		}
		meta := ch.Chunk.Metadata()
		points = append(points, point{
			ID:     ch.Chunk.ID(),
			Vector: ch.Embedding,
			Payload: map[string]any{
				"chunk_id": ch.Chunk.ID(),
				"text":     ch.Chunk.Content(),
				"source":   meta.Source,
				"page":     meta.Page,
				"seq":      ch.Seq,
			},
		})
	}

	if err := c.dropCollection(ctx); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	if err := c.ensureCollection(ctx, len(points[0].Vector)); err != nil {
		return err
	}

	for start := 0; start < len(points); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(points))
		if err := c.upsert(ctx, points[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) upsert(ctx context.Context, points []point) error {
	body, err := json.Marshal(map[string]any{"points": points})
	if err != nil {
		return fmt.Errorf("marshal upsert body: %w", err)
	}
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	return c.execute(ctx, "qdrant.upsert", func(callCtx context.Context) error {
		resp, err := c.do(callCtx, http.MethodPut, url, body)
		if err != nil {
			return fmt.Errorf("qdrant upsert request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return newStatusError("upsert", resp)
		}
		return nil
	})
}

// Search returns nearest chunks by cosine similarity. A missing collection
// means nothing was ingested yet.
func (c *Client) Search(ctx context.Context, queryVector []float32, k int) ([]domain.RankedHit, error) {
	if k <= 0 || len(queryVector) == 0 {
		if err := c.requireCollection(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{
		"vector":       queryVector,
		"limit":        k,
		"with_payload": true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	var results []scoredPoint
	err = c.execute(ctx, "qdrant.search", func(callCtx context.Context) error {
		resp, err := c.do(callCtx, http.MethodPost, url, body)
		if err != nil {
			return fmt.Errorf("qdrant search request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return domain.WrapError(domain.ErrIndexNotLoaded, "vector search", fmt.Errorf("collection %s does not exist", c.collection))
		}
		if resp.StatusCode >= 300 {
			return newStatusError("search", resp)
		}

		var searchResp struct {
			Result []scoredPoint `json:"result"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
			return fmt.Errorf("decode search response: %w", err)
		}
		results = searchResp.Result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toRankedHits(results), nil
}

type scoredPoint struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func toRankedHits(results []scoredPoint) []domain.RankedHit {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return getIntPayload(results[i].Payload, "seq") < getIntPayload(results[j].Payload, "seq")
	})

	out := make([]domain.RankedHit, 0, len(results))
	for _, r := range results {
		chunk, err := domain.NewDocumentChunk(
			getStringPayload(r.Payload, "chunk_id"),
			getStringPayload(r.Payload, "text"),
			domain.ChunkMetadata{
				Source: getStringPayload(r.Payload, "source"),
				Page:   getIntPayload(r.Payload, "page"),
			},
		)
		if err != nil {
			continue
		}
		out = append(out, domain.RankedHit{Chunk: chunk, Rank: len(out)})
	}
	return out
}

// requireCollection reports ErrIndexNotLoaded when nothing has been ingested yet.
func (c *Client) requireCollection(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	return c.execute(ctx, "qdrant.get_collection", func(callCtx context.Context) error {
		resp, err := c.do(callCtx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("qdrant get collection request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return domain.WrapError(domain.ErrIndexNotLoaded, "vector search", fmt.Errorf("collection %s does not exist", c.collection))
		}
		if resp.StatusCode >= 300 {
			return newStatusError("get collection", resp)
		}
		return nil
	})
}

func (c *Client) dropCollection(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.execute(ctx, "qdrant.drop_collection", func(callCtx context.Context) error {
		resp, err := c.do(callCtx, http.MethodDelete, url, nil)
		if err != nil {
			return fmt.Errorf("qdrant drop collection request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
			return newStatusError("drop collection", resp)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.ensureMu.Lock()
	c.ensuredCollection = false
	c.ensuredVectorSize = 0
	c.ensureMu.Unlock()
	return nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	})
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err = c.execute(ctx, "qdrant.ensure_collection", func(callCtx context.Context) error {
		resp, err := c.do(callCtx, http.MethodPut, url, body)
		if err != nil {
			return fmt.Errorf("qdrant ensure collection request: %w", err)
		}
		defer resp.Body.Close()

		// 409 when the collection already exists on some versions.
		if resp.StatusCode == http.StatusConflict {
			return nil
		}
		if resp.StatusCode >= 300 {
			return newStatusError("ensure collection", resp)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func (c *Client) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	var err error
	if c.executor == nil {
		err = call(ctx)
	} else {
		err = c.executor.Execute(ctx, operation, call, classifyQdrantError)
	}
	return wrapTemporaryIfNeeded(operation, err)
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
