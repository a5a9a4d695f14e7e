package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/campusgraph/advisor/internal/course"
)

type (
	// Path is one prerequisite chain ending at the target course.
	Path struct {
		Courses []string `json:"courses"`
		Cost    float64  `json:"cost"`
	}

	// SemesterPlan is the greedy topological schedule for a target set.
	SemesterPlan struct {
		Semesters   [][]string     `json:"semester_plans"`
		Unscheduled []string       `json:"unscheduled"`
		Metadata    map[string]any `json:"metadata"`
	}

	// PathfindingService answers prerequisite path queries on the directed
	// projection with a bounded result cache.
	PathfindingService struct {
		engine  Engine
		catalog *CatalogManager
		results *expirable.LRU[string, []Path]
	}

	// prereqNode is one course in the to-schedule set with its credits.
	prereqNode struct {
		code    string
		credits int
	}
)

const dijkstraQuery = `
MATCH (source:Course {code: $source}), (target:Course {code: $target})
CALL gds.shortestPath.dijkstra.stream($graph, {
  sourceNode: source, targetNode: target,
  relationshipWeightProperty: 'weight'
})
YIELD totalCost, nodeIds
RETURN totalCost, [nodeId IN nodeIds | gds.util.asNode(nodeId).code] AS codes
`

const yensQuery = `
MATCH (source:Course {code: $source}), (target:Course {code: $target})
CALL gds.shortestPath.yens.stream($graph, {
  sourceNode: source, targetNode: target, k: $k,
  relationshipWeightProperty: 'weight'
})
YIELD index, totalCost, nodeIds
RETURN index, totalCost, [nodeId IN nodeIds | gds.util.asNode(nodeId).code] AS codes
ORDER BY index
`

// prereqTreeQuery returns up to $limit prerequisite chains into the target,
// bounded at depth 3.
const prereqTreeQuery = `
MATCH path = (p:Course)-[:PREREQUISITE*1..3]->(t:Course {code: $target})
WHERE NOT p.code IN $completed
RETURN [n IN nodes(path) | n.code] AS codes, length(path) AS hops
ORDER BY hops ASC
LIMIT $limit
`

const ancestorsQuery = `
MATCH (t:Course {code: $target})<-[:PREREQUISITE*]-(p:Course)
RETURN DISTINCT p.code AS code, coalesce(p.credits, $defaultCredits) AS credits
`

const edgesAmongQuery = `
MATCH (a:Course)-[:PREREQUISITE]->(b:Course)
WHERE a.code IN $codes AND b.code IN $codes
RETURN a.code AS from, b.code AS to
`

// NewPathfindingService builds the service with a one-hour result cache.
func NewPathfindingService(engine Engine, catalog *CatalogManager) *PathfindingService {
	return &PathfindingService{
		engine:  engine,
		catalog: catalog,
		results: expirable.NewLRU[string, []Path](512, nil, time.Hour),
	}
}

// ShortestPath returns the cheapest prerequisite chain from any completed
// course into target, or the cheapest chain overall when completed is empty.
func (s *PathfindingService) ShortestPath(ctx context.Context, target course.Code, completed []course.Code) ([]Path, error) {
	return s.paths(ctx, dijkstraQuery, target, completed, 1)
}

// AlternativePaths returns up to k distinct chains (Yen's algorithm).
// k <= 0 defaults to 3.
func (s *PathfindingService) AlternativePaths(ctx context.Context, target course.Code, completed []course.Code, k int) ([]Path, error) {
	if k <= 0 {
		k = 3
	}
	return s.paths(ctx, yensQuery, target, completed, k)
}

func (s *PathfindingService) paths(ctx context.Context, query string, target course.Code, completed []course.Code, k int) ([]Path, error) {
	sortedCompleted := course.CodeStrings(course.SortCodes(completed))
	digest := paramDigest(map[string]any{
		"q": query[:24], "target": string(target), "completed": sortedCompleted, "k": k,
	})
	if cached, ok := s.results.Get(digest); ok {
		return cached, nil
	}
	if err := s.catalog.Ensure(ctx, ProjPrerequisite); err != nil {
		return nil, err
	}
	sources := sortedCompleted
	if len(sources) == 0 {
		// No completed courses: anchor at the target's deepest ancestors by
		// walking the tree query instead of point-to-point search.
		tree, err := s.PrereqPaths(ctx, target, nil, k)
		if err != nil {
			return nil, err
		}
		s.results.Add(digest, tree)
		return tree, nil
	}
	var best []Path
	for _, src := range sources {
		rows, err := s.engine.Run(ctx, query, map[string]any{
			"graph": ProjPrerequisite, "source": src, "target": string(target), "k": k,
		})
		if err != nil {
			return nil, fmt.Errorf("graph: path %s->%s: %w", src, target, err)
		}
		for _, row := range rows {
			best = append(best, Path{Courses: asStrings(row["codes"]), Cost: asFloat(row["totalCost"])})
		}
	}
	sort.SliceStable(best, func(i, j int) bool { return best[i].Cost < best[j].Cost })
	if len(best) > k {
		best = best[:k]
	}
	s.results.Add(digest, best)
	return best, nil
}

// PrereqPaths returns up to limit prerequisite chains into target with depth
// at most 3, excluding chains rooted at completed courses.
func (s *PathfindingService) PrereqPaths(ctx context.Context, target course.Code, completed []course.Code, limit int) ([]Path, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.engine.Run(ctx, prereqTreeQuery, map[string]any{
		"target":    string(target),
		"completed": course.CodeStrings(completed),
		"limit":     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: prereq tree %s: %w", target, err)
	}
	paths := make([]Path, 0, len(rows))
	for _, row := range rows {
		paths = append(paths, Path{Courses: asStrings(row["codes"]), Cost: asFloat(row["hops"])})
	}
	return paths, nil
}

// OptimizeSemesterPlan schedules the prerequisites of every target across
// semesters: ancestors minus completed, topologically ordered (Kahn, ties by
// course code), greedily packed under the per-semester credit budget.
func (s *PathfindingService) OptimizeSemesterPlan(ctx context.Context, targets, completed []course.Code, semesters, maxCreditsPerSemester int) (*SemesterPlan, error) {
	if semesters <= 0 {
		semesters = 4
	}
	if maxCreditsPerSemester <= 0 {
		maxCreditsPerSemester = 15
	}
	plan := &SemesterPlan{Semesters: [][]string{}, Unscheduled: []string{}, Metadata: map[string]any{}}
	if len(targets) == 0 {
		plan.Metadata["scheduling_efficiency"] = 1.0
		return plan, nil
	}

	done := make(map[string]bool, len(completed))
	for _, c := range completed {
		done[string(c)] = true
	}
	credits := make(map[string]int)
	inSet := make(map[string]bool)
	for _, target := range targets {
		rows, err := s.engine.Run(ctx, ancestorsQuery, map[string]any{
			"target": string(target), "defaultCredits": 3,
		})
		if err != nil {
			return nil, fmt.Errorf("graph: ancestors %s: %w", target, err)
		}
		for _, row := range rows {
			code := asString(row["code"])
			if code == "" || done[code] {
				continue
			}
			inSet[code] = true
			credits[code] = asInt(row["credits"])
		}
		if !done[string(target)] {
			inSet[string(target)] = true
			if _, ok := credits[string(target)]; !ok {
				credits[string(target)] = 3
			}
		}
	}
	if len(inSet) == 0 {
		plan.Metadata["scheduling_efficiency"] = 1.0
		return plan, nil
	}

	codes := make([]string, 0, len(inSet))
	for c := range inSet {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	edgeRows, err := s.engine.Run(ctx, edgesAmongQuery, map[string]any{"codes": codes})
	if err != nil {
		return nil, fmt.Errorf("graph: edges: %w", err)
	}
	prereqsOf := make(map[string][]string)
	for _, row := range edgeRows {
		from, to := asString(row["from"]), asString(row["to"])
		if inSet[from] && inSet[to] {
			prereqsOf[to] = append(prereqsOf[to], from)
		}
	}

	order := topoOrder(codes, prereqsOf)
	plan.Semesters, plan.Unscheduled = packSemesters(order, prereqsOf, credits, semesters, maxCreditsPerSemester)
	plan.Metadata["scheduling_efficiency"] = 1 - float64(len(plan.Unscheduled))/float64(len(inSet))
	plan.Metadata["total_courses"] = len(inSet)
	return plan, nil
}

// topoOrder runs Kahn's algorithm with lexicographic tie-breaking. Nodes on
// cycles end up at the tail in code order.
func topoOrder(codes []string, prereqsOf map[string][]string) []string {
	indeg := make(map[string]int, len(codes))
	dependents := make(map[string][]string)
	for _, c := range codes {
		indeg[c] = len(prereqsOf[c])
		for _, p := range prereqsOf[c] {
			dependents[p] = append(dependents[p], c)
		}
	}
	var ready []string
	for _, c := range codes {
		if indeg[c] == 0 {
			ready = append(ready, c)
		}
	}
	sort.Strings(ready)
	var order []string
	for len(ready) > 0 {
		c := ready[0]
		ready = ready[1:]
		order = append(order, c)
		changed := false
		for _, d := range dependents[c] {
			indeg[d]--
			if indeg[d] == 0 {
				ready = append(ready, d)
				changed = true
			}
		}
		if changed {
			sort.Strings(ready)
		}
	}
	if len(order) < len(codes) {
		var cyclic []string
		seen := make(map[string]bool, len(order))
		for _, c := range order {
			seen[c] = true
		}
		for _, c := range codes {
			if !seen[c] {
				cyclic = append(cyclic, c)
			}
		}
		sort.Strings(cyclic)
		order = append(order, cyclic...)
	}
	return order
}

// packSemesters greedily fills semesters in topological order. A course is
// placed only when all its in-set prerequisites are already scheduled in an
// earlier semester and its credits fit the remaining budget.
func packSemesters(order []string, prereqsOf map[string][]string, credits map[string]int, semesters, maxCredits int) ([][]string, []string) {
	scheduledIn := make(map[string]int)
	plans := make([][]string, semesters)
	budgets := make([]int, semesters)
	for i := range budgets {
		budgets[i] = maxCredits
	}
	var unscheduled []string
	for _, c := range order {
		earliest := 0
		blocked := false
		for _, p := range prereqsOf[c] {
			sem, ok := scheduledIn[p]
			if !ok {
				blocked = true
				break
			}
			if sem+1 > earliest {
				earliest = sem + 1
			}
		}
		if blocked {
			unscheduled = append(unscheduled, c)
			continue
		}
		placed := false
		for sem := earliest; sem < semesters; sem++ {
			if budgets[sem] >= credits[c] {
				plans[sem] = append(plans[sem], c)
				budgets[sem] -= credits[c]
				scheduledIn[c] = sem
				placed = true
				break
			}
		}
		if !placed {
			unscheduled = append(unscheduled, c)
		}
	}
	if unscheduled == nil {
		unscheduled = []string{}
	}
	return plans, unscheduled
}
