package usecase

import (
	"context"
	"strings"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/ports"
)

// NormalizeQuery is the cache key form: surrounding whitespace removed and
// lowercased.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// QueryCache maps normalized questions to validated answers.
type QueryCache struct {
	store ports.AnswerStore
}

func NewQueryCache(store ports.AnswerStore) *QueryCache {
	return &QueryCache{store: store}
}

func (c *QueryCache) Get(ctx context.Context, query string) (string, bool, error) {
	if c == nil || c.store == nil {
		return "", false, nil
	}
	key := NormalizeQuery(query)
	if key == "" {
		return "", false, nil
	}
	return c.store.Get(ctx, key)
}

func (c *QueryCache) Set(ctx context.Context, query, answer string) error {
	if c == nil || c.store == nil {
		return nil
	}
	key := NormalizeQuery(query)
	if key == "" {
		return nil
	}
	return c.store.Set(ctx, key, answer)
}
