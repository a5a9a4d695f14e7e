package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type (
	// RankedCourse is one entry in a centrality ranking.
	RankedCourse struct {
		CourseCode string  `json:"course_code"`
		Title      string  `json:"title"`
		Subject    string  `json:"subject"`
		Level      int     `json:"level"`
		Score      float64 `json:"score"`
		Rank       int     `json:"rank"`
	}

	// CentralityResult merges the four batched sub-results.
	CentralityResult struct {
		PageRank    []RankedCourse   `json:"pagerank"`
		Betweenness []RankedCourse   `json:"betweenness"`
		Gateways    []RankedCourse   `json:"gateways"`
		Params      CentralityParams `json:"params"`
	}

	// CentralityService runs the batched centrality query with a bounded
	// TTL result cache.
	CentralityService struct {
		engine  Engine
		catalog *CatalogManager
		results *expirable.LRU[string, *CentralityResult]
	}
)

// centralityQuery fetches PageRank on the directed projection, betweenness
// on the undirected one, gateway in-degrees, and node metadata in four
// labeled sub-results of a single round trip.
const centralityQuery = `
CALL {
  CALL gds.pageRank.stream($graph, {dampingFactor: $damping, maxIterations: $maxIter})
  YIELD nodeId, score
  WITH gds.util.asNode(nodeId) AS n, score
  ORDER BY score DESC LIMIT $topN
  RETURN 'pagerank' AS part, n.code AS code, score
UNION ALL
  CALL gds.betweenness.stream($undirected)
  YIELD nodeId, score
  WITH gds.util.asNode(nodeId) AS n, score
  WHERE score >= $minBetweenness
  ORDER BY score DESC LIMIT $topN
  RETURN 'betweenness' AS part, n.code AS code, score
UNION ALL
  MATCH (n:Course)<-[:PREREQUISITE]-(dep:Course)
  WITH n, count(dep) AS indeg
  WHERE indeg >= $minInDegree
  ORDER BY indeg DESC LIMIT $topN
  RETURN 'gateway' AS part, n.code AS code, toFloat(indeg) AS score
UNION ALL
  MATCH (n:Course)
  RETURN 'meta' AS part, n.code AS code, 0.0 AS score
}
WITH part, code, score
MATCH (c:Course {code: code})
RETURN part, code, score, c.title AS title, c.subject AS subject, coalesce(c.level, 0) AS level
`

// NewCentralityService builds the service with a one-hour result cache.
func NewCentralityService(engine Engine, catalog *CatalogManager) *CentralityService {
	return &CentralityService{
		engine:  engine,
		catalog: catalog,
		results: expirable.NewLRU[string, *CentralityResult](256, nil, time.Hour),
	}
}

// Centrality runs the batched query under the clamped envelope.
func (s *CentralityService) Centrality(ctx context.Context, params CentralityParams) (*CentralityResult, error) {
	params = params.Clamp()
	digest := paramDigest(map[string]any{
		"top_n":           params.TopN,
		"damping":         params.Damping,
		"max_iter":        params.MaxIter,
		"min_betweenness": params.MinBetweenness,
		"min_in_degree":   params.MinInDegree,
	})
	if cached, ok := s.results.Get(digest); ok {
		return cached, nil
	}
	if err := s.catalog.Ensure(ctx, ProjPrerequisite); err != nil {
		return nil, err
	}
	if err := s.catalog.Ensure(ctx, ProjPrerequisiteUndirected); err != nil {
		return nil, err
	}
	rows, err := s.engine.Run(ctx, centralityQuery, map[string]any{
		"graph":          ProjPrerequisite,
		"undirected":     ProjPrerequisiteUndirected,
		"damping":        params.Damping,
		"maxIter":        params.MaxIter,
		"topN":           params.TopN,
		"minBetweenness": params.MinBetweenness,
		"minInDegree":    params.MinInDegree,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: centrality: %w", err)
	}
	result := mergeCentrality(rows, params)
	s.results.Add(digest, result)
	return result, nil
}

// mergeCentrality splits labeled rows into ranked lists and joins node
// metadata onto every entry.
func mergeCentrality(rows []Record, params CentralityParams) *CentralityResult {
	result := &CentralityResult{Params: params}
	for _, row := range rows {
		entry := RankedCourse{
			CourseCode: asString(row["code"]),
			Title:      asString(row["title"]),
			Subject:    asString(row["subject"]),
			Level:      asInt(row["level"]),
			Score:      asFloat(row["score"]),
		}
		switch asString(row["part"]) {
		case "pagerank":
			result.PageRank = append(result.PageRank, entry)
		case "betweenness":
			result.Betweenness = append(result.Betweenness, entry)
		case "gateway":
			result.Gateways = append(result.Gateways, entry)
		}
	}
	for _, list := range [][]RankedCourse{result.PageRank, result.Betweenness, result.Gateways} {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Score != list[j].Score {
				return list[i].Score > list[j].Score
			}
			return list[i].CourseCode < list[j].CourseCode
		})
		for i := range list {
			list[i].Rank = i + 1
		}
	}
	return result
}
