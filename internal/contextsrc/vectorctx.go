package contextsrc

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/campusgraph/advisor/internal/cache"
	"github.com/campusgraph/advisor/internal/kv"
	"github.com/campusgraph/advisor/internal/store"
	"github.com/campusgraph/advisor/internal/vector"
)

type (
	// Embedder produces an embedding vector for a text.
	Embedder interface {
		Embed(ctx context.Context, text string) ([]float32, error)
	}

	// VectorContext finds courses similar to the message via the embedding
	// index. Embeddings and search results are cached independently.
	VectorContext struct {
		embedder Embedder
		index    vector.Index
		kv       *kv.Store
		cache    *cache.TagCache
		topK     int
	}
)

const (
	// embeddingTTL keeps message embeddings for a week.
	embeddingTTL = 7 * 24 * time.Hour
	// searchTTL keeps similarity results for a day.
	searchTTL = 24 * time.Hour
	// minSimilarity filters weak matches.
	minSimilarity = 0.7
)

// NewVectorContext builds the provider. topK <= 0 defaults to 5.
func NewVectorContext(embedder Embedder, index vector.Index, kvStore *kv.Store, tagCache *cache.TagCache, topK int) *VectorContext {
	if topK <= 0 {
		topK = 5
	}
	return &VectorContext{embedder: embedder, index: index, kv: kvStore, cache: tagCache, topK: topK}
}

// Kind implements Provider.
func (p *VectorContext) Kind() Kind { return KindVectorSearch }

// Fetch implements Provider.
func (p *VectorContext) Fetch(ctx context.Context, message string, _ *store.StudentProfile) (*Payload, error) {
	vec, err := p.embedding(ctx, message)
	if err != nil {
		return nil, err
	}
	raw, hit, err := p.cache.GetOrSet(ctx, "vector", map[string]any{"q": message, "k": p.topK}, searchTTL,
		func(ctx context.Context) (any, error) {
			hits, err := p.index.Search(ctx, vec, p.topK, minSimilarity)
			if err != nil {
				return nil, err
			}
			similar := make([]map[string]any, 0, len(hits))
			for _, h := range hits {
				similar = append(similar, map[string]any{
					"code":        h.Code,
					"title":       h.Title,
					"description": h.Description,
					"similarity":  h.Similarity,
				})
			}
			return map[string]any{"similar_courses": similar, "query": message}, nil
		})
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("contextsrc: vector decode: %w", err)
	}
	if courses, ok := data["similar_courses"].([]any); !ok || len(courses) == 0 {
		return nil, nil
	}
	return &Payload{
		Data:       data,
		Confidence: 0.8,
		CacheHit:   hit,
		Version:    p.cache.Version(ctx, "vector"),
		SourceTag:  "vector_search",
	}, nil
}

// embedding returns the cached or freshly computed embedding for message.
func (p *VectorContext) embedding(ctx context.Context, message string) ([]float32, error) {
	key := embeddingKey(message)
	if cached, err := p.kv.Get(ctx, key); err == nil {
		var vec []float32
		if json.Unmarshal([]byte(cached), &vec) == nil && len(vec) > 0 {
			return vec, nil
		}
	}
	vec, err := p.embedder.Embed(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("contextsrc: embed: %w", err)
	}
	if raw, err := json.Marshal(vec); err == nil {
		_ = p.kv.SetEX(ctx, key, string(raw), embeddingTTL)
	}
	return vec, nil
}

func embeddingKey(message string) string {
	sum := sha1.Sum([]byte(message))
	return "embedding:v1:" + hex.EncodeToString(sum[:])[:16]
}
