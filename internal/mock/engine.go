package mock

import (
	"context"
	"sort"
	"strings"

	"github.com/campusgraph/advisor/internal/graph"
)

type (
	// Engine answers the graph queries the services issue, backed by the
	// embedded seed instead of a live engine. Query dispatch keys on stable
	// fragments of each parameterized query.
	Engine struct {
		seed *Seed
	}
)

// NewEngine builds an engine over the embedded seed.
func NewEngine() (*Engine, error) {
	seed, err := LoadSeed()
	if err != nil {
		return nil, err
	}
	return &Engine{seed: seed}, nil
}

// Ping implements the health contract.
func (e *Engine) Ping(context.Context) error { return nil }

// Run implements graph.Engine.
func (e *Engine) Run(_ context.Context, query string, params map[string]any) ([]graph.Record, error) {
	switch {
	case strings.Contains(query, "gds.graph.exists"):
		return []graph.Record{{"exists": true}}, nil
	case strings.Contains(query, "gds.graph.project"), strings.Contains(query, "gds.graph.drop"):
		return []graph.Record{{"graphName": params["name"]}}, nil
	case strings.Contains(query, "gds.louvain.write"):
		return e.louvain(), nil
	case strings.Contains(query, "c.community IS NOT NULL"):
		return e.cohesion(), nil
	case strings.Contains(query, "gds.pageRank.stream"):
		return e.centrality(params), nil
	case strings.Contains(query, "gds.shortestPath"):
		return e.shortestPath(params), nil
	case strings.Contains(query, "PREREQUISITE*1..3"):
		return e.prereqTree(params), nil
	case strings.Contains(query, "[:PREREQUISITE*]"):
		return e.ancestors(params), nil
	case strings.Contains(query, "a.code IN $codes AND b.code IN $codes"):
		return e.edgesAmong(params), nil
	case strings.Contains(query, ":Requirement"):
		return e.requirements(params), nil
	case strings.Contains(query, "WHERE c.code IN $codes"):
		return e.subgraph(params), nil
	case strings.Contains(query, "all(p IN prereqs"):
		return e.eligible(params), nil
	default:
		return nil, nil
	}
}

func (e *Engine) requirements(params map[string]any) []graph.Record {
	major, _ := params["major"].(string)
	var rows []graph.Record
	for _, r := range e.seed.Requirements {
		if r.Major != major {
			continue
		}
		satisfiers := make([]any, 0, len(r.Satisfiers))
		for _, code := range r.Satisfiers {
			credits := 0
			if c := e.seed.CourseByCode(code); c != nil {
				credits = c.Credits
			}
			satisfiers = append(satisfiers, map[string]any{"code": code, "credits": credits})
		}
		rows = append(rows, graph.Record{
			"id": r.ID, "summary": r.Summary, "kind": r.Kind,
			"min_count": int64(r.MinCount), "min_credits": int64(r.MinCredits),
			"satisfiers": satisfiers,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i]["id"].(string) < rows[j]["id"].(string)
	})
	return rows
}

// ancestors walks the strict prerequisite edges transitively.
func (e *Engine) ancestors(params map[string]any) []graph.Record {
	target, _ := params["target"].(string)
	seen := make(map[string]bool)
	var walk func(code string)
	walk = func(code string) {
		for _, p := range e.seed.PrereqsOf(code) {
			if !seen[p] {
				seen[p] = true
				walk(p)
			}
		}
	}
	walk(target)
	codes := make([]string, 0, len(seen))
	for c := range seen {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	rows := make([]graph.Record, 0, len(codes))
	for _, c := range codes {
		credits := 3
		if sc := e.seed.CourseByCode(c); sc != nil && sc.Credits > 0 {
			credits = sc.Credits
		}
		rows = append(rows, graph.Record{"code": c, "credits": int64(credits)})
	}
	return rows
}

func (e *Engine) edgesAmong(params map[string]any) []graph.Record {
	codes := toStringSet(params["codes"])
	var rows []graph.Record
	for _, edge := range e.seed.Edges {
		if edge.Kind == "PREREQUISITE" && codes[edge.From] && codes[edge.To] {
			rows = append(rows, graph.Record{"from": edge.From, "to": edge.To})
		}
	}
	return rows
}

// prereqTree enumerates chains of strict prerequisites ending at the target,
// depth at most 3, shortest first.
func (e *Engine) prereqTree(params map[string]any) []graph.Record {
	target, _ := params["target"].(string)
	completed := toStringSet(params["completed"])
	limit := asInt(params["limit"], 3)

	var rows []graph.Record
	var walk func(chain []string)
	walk = func(chain []string) {
		head := chain[0]
		for _, p := range e.seed.PrereqsOf(head) {
			if completed[p] || len(chain) > 3 {
				continue
			}
			next := append([]string{p}, chain...)
			rows = append(rows, graph.Record{
				"codes": toAnySlice(next), "hops": int64(len(next) - 1),
			})
			walk(next)
		}
	}
	walk([]string{target})
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i]["hops"].(int64) < rows[j]["hops"].(int64)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// shortestPath answers Dijkstra/Yen queries with unit weights over the
// prerequisite edges.
func (e *Engine) shortestPath(params map[string]any) []graph.Record {
	source, _ := params["source"].(string)
	target, _ := params["target"].(string)
	k := asInt(params["k"], 1)

	// BFS forward from source along prerequisite direction.
	type node struct {
		code string
		path []string
	}
	var found [][]string
	queue := []node{{code: source, path: []string{source}}}
	for len(queue) > 0 && len(found) < k {
		n := queue[0]
		queue = queue[1:]
		if n.code == target {
			found = append(found, n.path)
			continue
		}
		for _, edge := range e.seed.Edges {
			if edge.From != n.code || edge.Kind != "PREREQUISITE" {
				continue
			}
			queue = append(queue, node{code: edge.To, path: append(append([]string{}, n.path...), edge.To)})
		}
	}
	rows := make([]graph.Record, 0, len(found))
	for i, path := range found {
		rows = append(rows, graph.Record{
			"index": int64(i), "totalCost": float64(len(path) - 1), "codes": toAnySlice(path),
		})
	}
	return rows
}

func (e *Engine) subgraph(params map[string]any) []graph.Record {
	want := toStringSet(params["codes"])
	inSet := make(map[string]bool)
	for code := range want {
		inSet[code] = true
		for _, edge := range e.seed.Edges {
			if edge.From == code || edge.To == code {
				inSet[edge.From] = true
				inSet[edge.To] = true
			}
		}
	}
	var nodes []any
	codes := make([]string, 0, len(inSet))
	for c := range inSet {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	for _, c := range codes {
		sc := e.seed.CourseByCode(c)
		if sc == nil {
			continue
		}
		nodes = append(nodes, map[string]any{"code": sc.Code, "title": sc.Title, "subject": sc.Subject})
	}
	var edges []any
	for _, edge := range e.seed.Edges {
		if inSet[edge.From] && inSet[edge.To] {
			edges = append(edges, map[string]any{
				"from": edge.From, "to": edge.To, "kind": edge.Kind, "confidence": 1.0,
			})
		}
	}
	return []graph.Record{{"nodes": nodes, "edges": edges}}
}

func (e *Engine) eligible(params map[string]any) []graph.Record {
	completed := toStringSet(params["completed"])
	limit := asInt(params["limit"], 10)
	var rows []graph.Record
	for _, c := range e.seed.Courses {
		if completed[c.Code] {
			continue
		}
		ok := true
		for _, p := range e.seed.PrereqsOf(c.Code) {
			if !completed[p] {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		rows = append(rows, graph.Record{
			"code": c.Code, "title": c.Title, "subject": c.Subject,
			"pagerank": e.pagerank(c.Code),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i]["pagerank"].(float64), rows[j]["pagerank"].(float64)
		if a != b {
			return a > b
		}
		return rows[i]["code"].(string) < rows[j]["code"].(string)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func (e *Engine) centrality(params map[string]any) []graph.Record {
	topN := asInt(params["topN"], 20)
	minInDegree := asInt(params["minInDegree"], 2)
	var rows []graph.Record
	add := func(part, code string, score float64) {
		sc := e.seed.CourseByCode(code)
		if sc == nil {
			return
		}
		level := 0
		if n := len(code); n >= 4 {
			level = int(code[n-4]-'0') * 1000
		}
		rows = append(rows, graph.Record{
			"part": part, "code": code, "score": score,
			"title": sc.Title, "subject": sc.Subject, "level": int64(level),
		})
	}
	count := 0
	for _, c := range e.seed.Courses {
		if count == topN {
			break
		}
		add("pagerank", c.Code, e.pagerank(c.Code))
		add("betweenness", c.Code, float64(len(e.seed.PrereqsOf(c.Code)))*0.5)
		count++
	}
	for _, c := range e.seed.Courses {
		indeg := 0
		for _, edge := range e.seed.Edges {
			if edge.To == c.Code && edge.Kind == "PREREQUISITE" {
				indeg++
			}
		}
		if indeg >= minInDegree {
			add("gateway", c.Code, float64(indeg))
		}
	}
	return rows
}

// pagerank scores a course by its dependent count: a stable stand-in for the
// real algorithm.
func (e *Engine) pagerank(code string) float64 {
	deps := 0
	for _, edge := range e.seed.Edges {
		if edge.From == code && edge.Kind == "PREREQUISITE" {
			deps++
		}
	}
	return 0.15 + float64(deps)*0.2
}

// louvain assigns each subject its own community.
func (e *Engine) louvain() []graph.Record {
	subjects := make(map[string]bool)
	for _, c := range e.seed.Courses {
		subjects[c.Subject] = true
	}
	return []graph.Record{{"communityCount": int64(len(subjects)), "modularity": 0.42}}
}

func (e *Engine) cohesion() []graph.Record {
	bySubject := make(map[string][]string)
	for _, c := range e.seed.Courses {
		bySubject[c.Subject] = append(bySubject[c.Subject], c.Code)
	}
	subjects := make([]string, 0, len(bySubject))
	for s := range bySubject {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)
	rows := make([]graph.Record, 0, len(subjects))
	for i, s := range subjects {
		members := bySubject[s]
		sort.Strings(members)
		rows = append(rows, graph.Record{
			"cid": int64(i), "members": toAnySlice(members), "cohesion": 0.8,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return len(rows[i]["members"].([]any)) > len(rows[j]["members"].([]any))
	})
	return rows
}

func toStringSet(v any) map[string]bool {
	out := make(map[string]bool)
	switch vv := v.(type) {
	case []string:
		for _, s := range vv {
			out[s] = true
		}
	case []any:
		for _, s := range vv {
			if str, ok := s.(string); ok {
				out[str] = true
			}
		}
	}
	return out
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func asInt(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}
