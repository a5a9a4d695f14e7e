package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goa.design/clue/log"
)

type (
	// Projection names a graph projection and the node/relationship specs
	// used to create it.
	Projection struct {
		Name     string
		NodeSpec []string
		RelSpec  map[string]map[string]any
	}

	// CatalogManager is the single owner of projection lifecycle. Existence
	// checks are memoized with a TTL so the hot path avoids a catalog round
	// trip per request.
	CatalogManager struct {
		engine  Engine
		memoTTL time.Duration

		mu      sync.Mutex
		checked map[string]time.Time
	}
)

// Projection names.
const (
	ProjPrerequisite           = "prerequisite_graph"
	ProjPrerequisiteUndirected = "prerequisite_graph_undirected"
	ProjSimilarity             = "similarity_graph"
)

// memoTTL bounds how long a positive existence check is trusted.
const defaultMemoTTL = 300 * time.Second

// projections is the fixed catalog this service manages.
var projections = map[string]Projection{
	ProjPrerequisite: {
		Name:     ProjPrerequisite,
		NodeSpec: []string{"Course"},
		RelSpec: map[string]map[string]any{
			"PREREQUISITE": {"orientation": "NATURAL", "properties": []string{"weight"}},
		},
	},
	ProjPrerequisiteUndirected: {
		Name:     ProjPrerequisiteUndirected,
		NodeSpec: []string{"Course"},
		RelSpec: map[string]map[string]any{
			"PREREQUISITE": {"orientation": "UNDIRECTED", "properties": []string{"weight"}},
		},
	},
	ProjSimilarity: {
		Name:     ProjSimilarity,
		NodeSpec: []string{"Course"},
		RelSpec: map[string]map[string]any{
			"SIMILAR": {"orientation": "UNDIRECTED", "properties": []string{"score"}},
		},
	},
}

// NewCatalogManager builds a catalog manager over the engine.
func NewCatalogManager(engine Engine) *CatalogManager {
	return &CatalogManager{
		engine:  engine,
		memoTTL: defaultMemoTTL,
		checked: make(map[string]time.Time),
	}
}

// Ensure guarantees the named projection exists, creating it when the engine
// reports it missing. Unknown names are an error: the catalog is closed.
func (m *CatalogManager) Ensure(ctx context.Context, name string) error {
	proj, ok := projections[name]
	if !ok {
		return fmt.Errorf("graph: unknown projection %q", name)
	}
	m.mu.Lock()
	if at, ok := m.checked[name]; ok && time.Since(at) < m.memoTTL {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	rows, err := m.engine.Run(ctx, "CALL gds.graph.exists($name) YIELD exists RETURN exists", map[string]any{"name": name})
	if err != nil {
		return fmt.Errorf("graph: exists %s: %w", name, err)
	}
	exists := len(rows) > 0 && rows[0]["exists"] == true
	if !exists {
		log.Infof(ctx, "creating graph projection %s", name)
		_, err := m.engine.Run(ctx,
			"CALL gds.graph.project($name, $nodes, $rels) YIELD graphName RETURN graphName",
			map[string]any{"name": proj.Name, "nodes": proj.NodeSpec, "rels": relSpecParam(proj.RelSpec)})
		if err != nil {
			return fmt.Errorf("graph: project %s: %w", name, err)
		}
	}
	m.mu.Lock()
	m.checked[name] = time.Now()
	m.mu.Unlock()
	return nil
}

// Drop removes a projection and forgets its memo. Used by admin tooling and
// tests; the hot path never drops.
func (m *CatalogManager) Drop(ctx context.Context, name string) error {
	_, err := m.engine.Run(ctx, "CALL gds.graph.drop($name, false) YIELD graphName RETURN graphName", map[string]any{"name": name})
	m.mu.Lock()
	delete(m.checked, name)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("graph: drop %s: %w", name, err)
	}
	return nil
}

func relSpecParam(spec map[string]map[string]any) map[string]any {
	out := make(map[string]any, len(spec))
	for k, v := range spec {
		out[k] = v
	}
	return out
}
