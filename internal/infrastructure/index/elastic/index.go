// Package elastic serves lexical search from an Elasticsearch index holding
// the chunk corpus.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
	"github.com/kirillkom/clinical-rag-assistant/internal/infrastructure/resilience"
)

const indexMapping = `{
	"settings": {
		"similarity": { "default": { "type": "BM25", "k1": 1.2, "b": 0.75 } }
	},
	"mappings": {
		"properties": {
			"chunk_id": { "type": "keyword" },
			"content":  { "type": "text" },
			"source":   { "type": "keyword" },
			"page":     { "type": "integer" },
			"seq":      { "type": "integer" }
		}
	}
}`

type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
}

type Index struct {
	es       *elasticsearch.Client
	index    string
	executor *resilience.Executor
	logger   *slog.Logger
}

func New(cfg Config, executor *resilience.Executor) (*Index, error) {
	if strings.TrimSpace(cfg.Index) == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "elasticsearch index", errors.New("index name is required"))
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Index{
		es:       client,
		index:    cfg.Index,
		executor: executor,
		logger:   slog.Default().With("component", "elasticsearch-index"),
	}, nil
}

type chunkDocument struct {
	ChunkID string `json:"chunk_id"`
	Content string `json:"content"`
	Source  string `json:"source"`
	Page    int    `json:"page,omitempty"`
	Seq     int    `json:"seq"`
}

// ReplaceChunks drops and recreates the index, then bulk loads the corpus.
func (x *Index) ReplaceChunks(ctx context.Context, chunks []domain.IndexedChunk) error {
	return x.execute(ctx, "elasticsearch.replace", func(callCtx context.Context) error {
		if err := x.recreateIndex(callCtx); err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return x.bulkIndex(callCtx, chunks)
	})
}

func (x *Index) recreateIndex(ctx context.Context) error {
	res, err := x.es.Indices.Delete([]string{x.index}, x.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	body := readBody(res)
	_ = res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return &StatusError{Operation: "delete index", StatusCode: res.StatusCode, Body: body}
	}

	res, err = x.es.Indices.Create(
		x.index,
		x.es.Indices.Create.WithContext(ctx),
		x.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return &StatusError{Operation: "create index", StatusCode: res.StatusCode, Body: readBody(res)}
	}
	return nil
}

func (x *Index) bulkIndex(ctx context.Context, chunks []domain.IndexedChunk) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range chunks {
		meta := map[string]any{"index": map[string]any{"_id": c.Chunk.ID()}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
		doc := chunkDocument{
			ChunkID: c.Chunk.ID(),
			Content: c.Chunk.Content(),
			Source:  c.Chunk.Metadata().Source,
			Page:    c.Chunk.Metadata().Page,
			Seq:     c.Seq,
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode bulk document: %w", err)
		}
	}

	req := esapi.BulkRequest{
		Index:   x.index,
		Body:    &buf,
		Refresh: "true",
	}
	res, err := req.Do(ctx, x.es)
	if err != nil {
		return fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return &StatusError{Operation: "bulk", StatusCode: res.StatusCode, Body: readBody(res)}
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		return errors.New("bulk response reported item errors")
	}
	x.logger.Info("elasticsearch_corpus_replaced", "index", x.index, "chunks", len(chunks))
	return nil
}

// Search runs a BM25 match query. Ties are broken by ingestion order.
func (x *Index) Search(ctx context.Context, query string, k int) ([]domain.RankedHit, error) {
	if k <= 0 || strings.TrimSpace(query) == "" {
		if err := x.requireIndex(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}

	body := map[string]any{
		"size":  k,
		"query": map[string]any{"match": map[string]any{"content": query}},
		"sort": []any{
			map[string]any{"_score": map[string]any{"order": "desc"}},
			map[string]any{"seq": map[string]any{"order": "asc"}},
		},
		"track_scores": true,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode search body: %w", err)
	}
	payload := buf.Bytes()

	var hits []domain.RankedHit
	err := x.execute(ctx, "elasticsearch.search", func(callCtx context.Context) error {
		res, err := x.es.Search(
			x.es.Search.WithContext(callCtx),
			x.es.Search.WithIndex(x.index),
			x.es.Search.WithBody(bytes.NewReader(payload)),
			x.es.Search.WithTrackTotalHits(false),
		)
		if err != nil {
			return fmt.Errorf("search request: %w", err)
		}
		defer res.Body.Close()

		if res.StatusCode == http.StatusNotFound {
			return domain.WrapError(domain.ErrIndexNotLoaded, "lexical search", fmt.Errorf("index %s does not exist", x.index))
		}
		if res.IsError() {
			return &StatusError{Operation: "search", StatusCode: res.StatusCode, Body: readBody(res)}
		}

		decoded, err := decodeHits(res.Body)
		if err != nil {
			return err
		}
		hits = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// requireIndex reports ErrIndexNotLoaded when nothing has been ingested yet.
func (x *Index) requireIndex(ctx context.Context) error {
	return x.execute(ctx, "elasticsearch.exists", func(callCtx context.Context) error {
		res, err := x.es.Indices.Exists([]string{x.index}, x.es.Indices.Exists.WithContext(callCtx))
		if err != nil {
			return fmt.Errorf("index exists request: %w", err)
		}
		defer res.Body.Close()
		if res.StatusCode == http.StatusNotFound {
			return domain.WrapError(domain.ErrIndexNotLoaded, "lexical search", fmt.Errorf("index %s does not exist", x.index))
		}
		if res.IsError() {
			return &StatusError{Operation: "index exists", StatusCode: res.StatusCode, Body: readBody(res)}
		}
		return nil
	})
}

func decodeHits(r io.Reader) ([]domain.RankedHit, error) {
	var esResponse struct {
		Hits struct {
			Hits []struct {
				Score  *float64      `json:"_score"`
				Source chunkDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(r).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.RankedHit, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		if hit.Score != nil && *hit.Score <= 0 {
			continue
		}
		chunk, err := domain.NewDocumentChunk(hit.Source.ChunkID, hit.Source.Content, domain.ChunkMetadata{
			Source: hit.Source.Source,
			Page:   hit.Source.Page,
		})
		if err != nil {
			continue
		}
		out = append(out, domain.RankedHit{Chunk: chunk, Rank: len(out)})
	}
	return out, nil
}

func (x *Index) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	var err error
	if x.executor == nil {
		err = call(ctx)
	} else {
		err = x.executor.Execute(ctx, operation, call, classifyElasticError)
	}
	return wrapTemporaryIfNeeded(operation, err)
}

func readBody(res *esapi.Response) string {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	return strings.TrimSpace(string(body))
}
