package graph

import (
	"context"
	"fmt"

	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/degree"
)

type (
	// RequirementLoader loads typed requirement specs for a major from the
	// engine in a single round trip. Implements degree.SpecLoader.
	RequirementLoader struct {
		engine Engine
	}

	// SubgraphNode is one course node in an extracted subgraph.
	SubgraphNode struct {
		Code    string `json:"code"`
		Title   string `json:"title"`
		Subject string `json:"subject"`
	}

	// SubgraphEdge is one typed edge in an extracted subgraph.
	SubgraphEdge struct {
		From string  `json:"from"`
		To   string  `json:"to"`
		Kind string  `json:"kind"`
		Conf float64 `json:"confidence"`
	}

	// Subgraph is the neighborhood around a course set.
	Subgraph struct {
		Nodes []SubgraphNode `json:"nodes"`
		Edges []SubgraphEdge `json:"edges"`
	}

	// EligibleCourse is a course whose prerequisites the student satisfies.
	EligibleCourse struct {
		Code      string  `json:"course_code"`
		Title     string  `json:"title"`
		Subject   string  `json:"subject"`
		PageRank  float64 `json:"pagerank"`
		PrereqMet bool    `json:"prereqs_met"`
	}
)

// requirementSpecsQuery loads every requirement for a major with enriched
// satisfiers in one round trip.
const requirementSpecsQuery = `
MATCH (m:Major {id: $major})-[:REQUIRES]->(r:Requirement)
OPTIONAL MATCH (r)-[:SATISFIED_BY]->(c:Course)
WITH r, collect({code: c.code, credits: coalesce(c.credits, $defaultCredits)}) AS satisfiers
RETURN r.id AS id, r.summary AS summary, r.kind AS kind,
       coalesce(r.min_count, 0) AS min_count, coalesce(r.min_credits, 0) AS min_credits,
       satisfiers
ORDER BY r.id
`

const subgraphQuery = `
MATCH (c:Course) WHERE c.code IN $codes
OPTIONAL MATCH (c)-[e:PREREQUISITE|PREREQUISITE_OR|COREQUISITE|RECOMMENDED*1..2]-(n:Course)
WITH collect(DISTINCT c) + collect(DISTINCT n) AS nodes
UNWIND nodes AS node
WITH collect(DISTINCT node) AS nodes
UNWIND nodes AS a
OPTIONAL MATCH (a)-[e]->(b:Course) WHERE b IN nodes
RETURN [n IN nodes | {code: n.code, title: n.title, subject: n.subject}] AS nodes,
       collect(DISTINCT {from: a.code, to: b.code, kind: type(e), confidence: coalesce(e.confidence, 1.0)}) AS edges
`

// eligibleQuery finds courses whose every strict prerequisite is in the
// completed set, ranked by stored pagerank when present.
const eligibleQuery = `
MATCH (c:Course)
WHERE NOT c.code IN $completed
OPTIONAL MATCH (c)<-[:PREREQUISITE]-(p:Course)
WITH c, collect(p.code) AS prereqs
WHERE all(p IN prereqs WHERE p IN $completed)
RETURN c.code AS code, c.title AS title, c.subject AS subject,
       coalesce(c.pagerank, 0.0) AS pagerank
ORDER BY pagerank DESC, code ASC
LIMIT $limit
`

// NewRequirementLoader builds a degree.SpecLoader over the engine.
func NewRequirementLoader(engine Engine) *RequirementLoader {
	return &RequirementLoader{engine: engine}
}

// RequirementSpecs implements degree.SpecLoader.
func (l *RequirementLoader) RequirementSpecs(ctx context.Context, major string) ([]degree.RequirementSpec, error) {
	rows, err := l.engine.Run(ctx, requirementSpecsQuery, map[string]any{
		"major": major, "defaultCredits": degree.DefaultCourseCredits,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: requirement specs %s: %w", major, err)
	}
	specs := make([]degree.RequirementSpec, 0, len(rows))
	for _, row := range rows {
		spec := degree.RequirementSpec{
			ID:         asString(row["id"]),
			Summary:    asString(row["summary"]),
			Kind:       degree.Kind(asString(row["kind"])),
			MinCount:   asInt(row["min_count"]),
			MinCredits: asInt(row["min_credits"]),
		}
		if items, ok := row["satisfiers"].([]any); ok {
			for _, it := range items {
				m, ok := it.(map[string]any)
				if !ok {
					continue
				}
				code, err := course.Normalize(asString(m["code"]))
				if err != nil {
					continue
				}
				spec.Satisfiers = append(spec.Satisfiers, degree.Satisfier{
					Code: code, Credits: asInt(m["credits"]),
				})
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Subgraph extracts the neighborhood (depth 2) around the given courses.
func SubgraphAround(ctx context.Context, engine Engine, codes []course.Code) (*Subgraph, error) {
	rows, err := engine.Run(ctx, subgraphQuery, map[string]any{"codes": course.CodeStrings(codes)})
	if err != nil {
		return nil, fmt.Errorf("graph: subgraph: %w", err)
	}
	sub := &Subgraph{Nodes: []SubgraphNode{}, Edges: []SubgraphEdge{}}
	if len(rows) == 0 {
		return sub, nil
	}
	if nodes, ok := rows[0]["nodes"].([]any); ok {
		for _, n := range nodes {
			if m, ok := n.(map[string]any); ok {
				sub.Nodes = append(sub.Nodes, SubgraphNode{
					Code: asString(m["code"]), Title: asString(m["title"]), Subject: asString(m["subject"]),
				})
			}
		}
	}
	if edges, ok := rows[0]["edges"].([]any); ok {
		for _, e := range edges {
			m, ok := e.(map[string]any)
			if !ok || asString(m["from"]) == "" || asString(m["to"]) == "" {
				continue
			}
			sub.Edges = append(sub.Edges, SubgraphEdge{
				From: asString(m["from"]), To: asString(m["to"]),
				Kind: asString(m["kind"]), Conf: asFloat(m["confidence"]),
			})
		}
	}
	return sub, nil
}

// EligibleCourses returns up to limit courses the student can take now,
// every strict prerequisite satisfied by the completed set.
func EligibleCourses(ctx context.Context, engine Engine, completed []course.Code, limit int) ([]EligibleCourse, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := engine.Run(ctx, eligibleQuery, map[string]any{
		"completed": course.CodeStrings(completed), "limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: eligible courses: %w", err)
	}
	out := make([]EligibleCourse, 0, len(rows))
	for _, row := range rows {
		out = append(out, EligibleCourse{
			Code:      asString(row["code"]),
			Title:     asString(row["title"]),
			Subject:   asString(row["subject"]),
			PageRank:  asFloat(row["pagerank"]),
			PrereqMet: true,
		})
	}
	return out, nil
}
