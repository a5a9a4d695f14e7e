package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type (
	// Cluster is one detected course community with its cohesion.
	Cluster struct {
		ID       int      `json:"id"`
		Courses  []string `json:"courses"`
		Size     int      `json:"size"`
		Cohesion float64  `json:"cohesion"`
	}

	// CommunityResult is the full community-detection output.
	CommunityResult struct {
		Clusters       []Cluster      `json:"clusters"`
		Modularity     float64        `json:"modularity"`
		NumCommunities int            `json:"num_communities"`
		Metadata       map[string]any `json:"metadata"`
	}

	// CommunityService runs Louvain, writes community ids back to course
	// nodes, and computes per-cluster cohesion from the similarity graph.
	CommunityService struct {
		engine  Engine
		catalog *CatalogManager
		results *expirable.LRU[string, *CommunityResult]
	}
)

const louvainWriteQuery = `
CALL gds.louvain.write($graph, {writeProperty: $writeProperty})
YIELD communityCount, modularity
RETURN communityCount, modularity
`

// cohesionQuery computes, for every community, the members and the ratio of
// intra-community similarity mass to total similarity mass touching the
// community, in one round trip.
const cohesionQuery = `
MATCH (c:Course) WHERE c.community IS NOT NULL
WITH c.community AS cid, collect(c.code) AS members
OPTIONAL MATCH (a:Course {community: cid})-[s:SIMILAR]-(b:Course)
WITH cid, members,
     sum(CASE WHEN b.community = cid THEN s.score ELSE 0 END) AS intra,
     sum(s.score) AS total
RETURN cid, members,
       CASE WHEN total > 0 THEN intra / total ELSE 0 END AS cohesion
ORDER BY size(members) DESC
`

// NewCommunityService builds the service with a two-hour result cache.
func NewCommunityService(engine Engine, catalog *CatalogManager) *CommunityService {
	return &CommunityService{
		engine:  engine,
		catalog: catalog,
		results: expirable.NewLRU[string, *CommunityResult](32, nil, 2*time.Hour),
	}
}

// Communities detects communities on the similarity projection. The write of
// community ids onto course nodes is part of the contract: cohesion and the
// subgraph API read them back.
func (s *CommunityService) Communities(ctx context.Context) (*CommunityResult, error) {
	digest := paramDigest(map[string]any{"graph": ProjSimilarity, "writeProperty": "community"})
	if cached, ok := s.results.Get(digest); ok {
		return cached, nil
	}
	if err := s.catalog.Ensure(ctx, ProjSimilarity); err != nil {
		return nil, err
	}
	rows, err := s.engine.Run(ctx, louvainWriteQuery, map[string]any{
		"graph": ProjSimilarity, "writeProperty": "community",
	})
	if err != nil {
		return nil, fmt.Errorf("graph: louvain: %w", err)
	}
	result := &CommunityResult{Metadata: map[string]any{"algorithm": "louvain", "projection": ProjSimilarity}}
	if len(rows) > 0 {
		result.NumCommunities = asInt(rows[0]["communityCount"])
		result.Modularity = asFloat(rows[0]["modularity"])
	}
	cohesionRows, err := s.engine.Run(ctx, cohesionQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("graph: cohesion: %w", err)
	}
	for _, row := range cohesionRows {
		members := asStrings(row["members"])
		result.Clusters = append(result.Clusters, Cluster{
			ID:       asInt(row["cid"]),
			Courses:  members,
			Size:     len(members),
			Cohesion: asFloat(row["cohesion"]),
		})
	}
	sort.SliceStable(result.Clusters, func(i, j int) bool {
		if result.Clusters[i].Size != result.Clusters[j].Size {
			return result.Clusters[i].Size > result.Clusters[j].Size
		}
		return result.Clusters[i].ID < result.Clusters[j].ID
	})
	s.results.Add(digest, result)
	return result, nil
}
