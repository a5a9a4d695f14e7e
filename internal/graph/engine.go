// Package graph orchestrates algorithm calls against the external
// labeled-property graph engine: a projection catalog plus centrality,
// community, and pathfinding services with bounded result caches. All queries
// are parameterized; identifiers are never interpolated into query text.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type (
	// Record is one row of an engine result.
	Record map[string]any

	// Engine abstracts the graph engine driver so services can be exercised
	// against a fake in tests and mock mode.
	Engine interface {
		// Run executes a parameterized query and returns all rows eagerly.
		Run(ctx context.Context, query string, params map[string]any) ([]Record, error)
	}

	// Neo4jEngine is the production Engine over the bolt driver.
	Neo4jEngine struct {
		driver neo4j.DriverWithContext
	}
)

// NewNeo4jEngine connects to the engine and verifies connectivity.
func NewNeo4jEngine(ctx context.Context, uri, username, password string) (*Neo4jEngine, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("graph: driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("graph: connectivity: %w", err)
	}
	return &Neo4jEngine{driver: driver}, nil
}

// Run implements Engine via a single managed transaction round trip.
func (e *Neo4jEngine) Run(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	result, err := neo4j.ExecuteQuery(ctx, e.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return nil, fmt.Errorf("graph: query: %w", err)
	}
	records := make([]Record, 0, len(result.Records))
	for _, rec := range result.Records {
		row := make(Record, len(rec.Keys))
		for _, key := range rec.Keys {
			if v, ok := rec.Get(key); ok {
				row[key] = v
			}
		}
		records = append(records, row)
	}
	return records, nil
}

// Close releases the driver.
func (e *Neo4jEngine) Close(ctx context.Context) error {
	return e.driver.Close(ctx)
}

// Ping verifies the engine answers trivially; used by the health endpoint.
func (e *Neo4jEngine) Ping(ctx context.Context) error {
	_, err := e.Run(ctx, "RETURN 1 AS ok", nil)
	return err
}

// Result value helpers. Engine drivers return int64/float64/string under any;
// these coerce defensively since GDS versions vary in numeric types.

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func asStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
