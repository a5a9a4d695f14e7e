package degree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campusgraph/advisor/internal/course"
)

func testSpecs() []RequirementSpec {
	return []RequirementSpec{
		{
			ID: "core_programming", Summary: "Core programming sequence", Kind: KindAllOfSet,
			Satisfiers: []Satisfier{
				{Code: "CS 1110", Credits: 4},
				{Code: "CS 2110", Credits: 3},
				{Code: "CS 3110", Credits: 4},
			},
		},
		{
			ID: "math_requirements", Summary: "Math core", Kind: KindCountAtLeast, MinCount: 3,
			Satisfiers: []Satisfier{
				{Code: "MATH 1910", Credits: 4},
				{Code: "MATH 1920", Credits: 4},
				{Code: "MATH 2940", Credits: 4},
				{Code: "MATH 2930", Credits: 4},
			},
		},
		{
			ID: "tech_electives", Summary: "Technical electives", Kind: KindCreditsAtLeast, MinCredits: 12,
			Satisfiers: []Satisfier{
				{Code: "CS 4780", Credits: 4},
				{Code: "CS 4820", Credits: 4},
				{Code: "CS 4410"}, // no recorded credits, defaults to 3
				{Code: "CS 4160", Credits: 3},
			},
		},
	}
}

func TestEvaluateSpecsAllOfSet(t *testing.T) {
	unmet := EvaluateSpecs(testSpecs()[:1], []course.Code{"CS 1110"})
	require.Len(t, unmet, 1)
	u := unmet[0]
	require.Equal(t, KindAllOfSet, u.Kind)
	require.Equal(t, 2, u.CountGap)
	require.Zero(t, u.CreditGap)
	require.Equal(t, []course.Code{"CS 2110", "CS 3110"}, u.CoursesToSatisfy)

	require.Empty(t, EvaluateSpecs(testSpecs()[:1], []course.Code{"CS 1110", "CS 2110", "CS 3110"}))
}

func TestEvaluateSpecsCountAtLeast(t *testing.T) {
	unmet := EvaluateSpecs(testSpecs()[1:2], []course.Code{"MATH 1910"})
	require.Len(t, unmet, 1)
	u := unmet[0]
	require.Equal(t, 2, u.CountGap)
	// Suggestions capped at gap*2 missing satisfiers.
	require.Equal(t, []course.Code{"MATH 1920", "MATH 2940", "MATH 2930"}, u.CoursesToSatisfy)
}

func TestEvaluateSpecsCreditsAtLeast(t *testing.T) {
	unmet := EvaluateSpecs(testSpecs()[2:], []course.Code{"CS 4160"})
	require.Len(t, unmet, 1)
	u := unmet[0]
	require.Equal(t, 9, u.CreditGap, "12 required minus the 3-credit elective taken")
	// Highest-credit suggestions first, code tie-break.
	require.Equal(t, []course.Code{"CS 4780", "CS 4820", "CS 4410"}, u.CoursesToSatisfy)

	require.Empty(t, EvaluateSpecs(testSpecs()[2:], []course.Code{"CS 4780", "CS 4820", "CS 4410", "CS 4160"}))
}

func TestEvaluateSpecsOrdering(t *testing.T) {
	unmet := EvaluateSpecs(testSpecs(), nil)
	require.Len(t, unmet, 3)
	// Credit gaps sort first, then count gaps, then id.
	require.Equal(t, "tech_electives", unmet[0].ID)
	require.Equal(t, "core_programming", unmet[1].ID)
	require.Equal(t, "math_requirements", unmet[2].ID)
}

type stubLoader struct {
	specs []RequirementSpec
	calls int
}

func (l *stubLoader) RequirementSpecs(context.Context, string) ([]RequirementSpec, error) {
	l.calls++
	return l.specs, nil
}

func TestWhatIfUnionsPlanned(t *testing.T) {
	loader := &stubLoader{specs: testSpecs()[:1]}
	e := NewEvaluator(loader, nil)

	unmet, err := e.WhatIf(context.Background(), "CS_BA",
		[]course.Code{"CS 1110"}, []course.Code{"CS 2110", "CS 3110", "CS 1110"})
	require.NoError(t, err)
	require.Empty(t, unmet, "planned courses count toward the what-if evaluation")
}

func TestEvaluateWithoutCache(t *testing.T) {
	loader := &stubLoader{specs: testSpecs()}
	e := NewEvaluator(loader, nil)

	unmet, err := e.Evaluate(context.Background(), "stu-1", "CS_BA", []course.Code{"CS 1110"})
	require.NoError(t, err)
	require.Len(t, unmet, 3)
	require.Equal(t, 1, loader.calls)
}
