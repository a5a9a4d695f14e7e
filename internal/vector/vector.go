// Package vector abstracts the course similarity index. The production
// implementation fronts a qdrant collection; a deterministic in-process
// index backs demo mode and tests.
package vector

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

type (
	// Hit is one similarity match with its payload fields.
	Hit struct {
		Code        string  `json:"code"`
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Similarity  float64 `json:"similarity"`
	}

	// Index searches course embeddings.
	Index interface {
		// Search returns up to topK hits with score >= threshold, ordered by
		// descending similarity.
		Search(ctx context.Context, vector []float32, topK int, threshold float64) ([]Hit, error)
		// Ping verifies index availability.
		Ping(ctx context.Context) error
	}

	// QdrantIndex is the production index over a qdrant collection.
	QdrantIndex struct {
		client     *qdrant.Client
		collection string
	}
)

// DefaultCollection is the course embedding collection name.
const DefaultCollection = "cornell_courses"

// NewQdrant connects to qdrant and returns an index over collection.
func NewQdrant(host string, port int, collection string) (*QdrantIndex, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("vector: connect qdrant: %w", err)
	}
	return &QdrantIndex{client: client, collection: collection}, nil
}

// Search implements Index.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, topK int, threshold float64) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	limit := uint64(topK)
	scoreThreshold := float32(threshold)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		ScoreThreshold: &scoreThreshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vector: search %s: %w", q.collection, err)
	}
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		hits = append(hits, Hit{
			Code:        payload["code"].GetStringValue(),
			Title:       payload["title"].GetStringValue(),
			Description: payload["description"].GetStringValue(),
			Similarity:  float64(p.GetScore()),
		})
	}
	return hits, nil
}

// Ping implements Index.
func (q *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("vector: qdrant health: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (q *QdrantIndex) Close() error { return q.client.Close() }
