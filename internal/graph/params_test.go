package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClampDefaults(t *testing.T) {
	p := CentralityParams{}.Clamp()
	require.Equal(t, 20, p.TopN)
	require.Equal(t, 0.85, p.Damping)
	require.Equal(t, 20, p.MaxIter)
	require.Equal(t, 2, p.MinInDegree)
	require.Zero(t, p.MinBetweenness)
}

func TestClampRanges(t *testing.T) {
	p := CentralityParams{
		TopN:           100000,
		Damping:        1.5,
		MaxIter:        -3,
		MinBetweenness: 7,
		MinInDegree:    -1,
	}.Clamp()
	require.Equal(t, 1000, p.TopN)
	require.Equal(t, 0.99, p.Damping)
	require.Equal(t, 1, p.MaxIter, "negative iterations clamp to the floor")
	require.Equal(t, 1.0, p.MinBetweenness)
	require.Equal(t, 2, p.MinInDegree)

	q := CentralityParams{TopN: 5, Damping: 0.5, MaxIter: 10, MinInDegree: 3}.Clamp()
	require.Equal(t, CentralityParams{TopN: 5, Damping: 0.5, MaxIter: 10, MinInDegree: 3}, q,
		"in-range values pass through")
}

func TestParamDigestStable(t *testing.T) {
	a := paramDigest(map[string]any{"damping": 0.85, "top_n": 20})
	b := paramDigest(map[string]any{"top_n": 20, "damping": 0.85})
	require.Equal(t, a, b, "digest is independent of map iteration order")
	require.Len(t, a, 64)

	c := paramDigest(map[string]any{"damping": 0.850000, "top_n": 20})
	require.Equal(t, a, c, "floats normalize before hashing")

	d := paramDigest(map[string]any{"damping": 0.86, "top_n": 20})
	require.NotEqual(t, a, d)

	e := paramDigest(map[string]any{"completed": []string{"CS 1110", "CS 2110"}})
	f := paramDigest(map[string]any{"completed": []string{"CS 2110", "CS 1110"}})
	require.NotEqual(t, e, f, "slice order is significant; callers sort before digesting")
}

func TestTopoOrder(t *testing.T) {
	codes := []string{"CS 4820", "CS 3110", "CS 2110", "CS 1110"}
	prereqsOf := map[string][]string{
		"CS 2110": {"CS 1110"},
		"CS 3110": {"CS 2110"},
		"CS 4820": {"CS 3110"},
	}
	require.Equal(t, []string{"CS 1110", "CS 2110", "CS 3110", "CS 4820"}, topoOrder(codes, prereqsOf))
}

func TestTopoOrderCycleTail(t *testing.T) {
	codes := []string{"A 1000", "B 1000", "C 1000"}
	prereqsOf := map[string][]string{
		"A 1000": {"B 1000"},
		"B 1000": {"A 1000"},
	}
	order := topoOrder(codes, prereqsOf)
	require.Equal(t, "C 1000", order[0], "acyclic nodes schedule first")
	require.Equal(t, []string{"A 1000", "B 1000"}, order[1:], "cyclic nodes land at the tail in code order")
}

func TestPackSemestersRespectsBudgetAndOrder(t *testing.T) {
	order := []string{"CS 1110", "CS 2110", "CS 3110"}
	prereqsOf := map[string][]string{
		"CS 2110": {"CS 1110"},
		"CS 3110": {"CS 2110"},
	}
	credits := map[string]int{"CS 1110": 4, "CS 2110": 4, "CS 3110": 4}

	plans, unscheduled := packSemesters(order, prereqsOf, credits, 3, 4)
	require.Equal(t, [][]string{{"CS 1110"}, {"CS 2110"}, {"CS 3110"}}, plans,
		"a course never shares a semester with its prerequisite")
	require.Empty(t, unscheduled)

	plans, unscheduled = packSemesters(order, prereqsOf, credits, 2, 4)
	require.Equal(t, []string{"CS 3110"}, unscheduled, "overflow past the last semester is reported")
	_ = plans
}
