package contextsrc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/campusgraph/advisor/internal/degree"
	"github.com/campusgraph/advisor/internal/store"
)

type (
	// DegreeProgressContext summarizes the student's unmet degree
	// requirements into a short prompt section.
	DegreeProgressContext struct {
		eval *degree.Evaluator
	}
)

const (
	// degreeMaxUnmet bounds the requirements surfaced per turn.
	degreeMaxUnmet = 5
	// degreeSummaryBudget clamps the summary text (tokens).
	degreeSummaryBudget = 150
)

// NewDegreeProgressContext builds the provider.
func NewDegreeProgressContext(eval *degree.Evaluator) *DegreeProgressContext {
	return &DegreeProgressContext{eval: eval}
}

// Kind implements Provider.
func (p *DegreeProgressContext) Kind() Kind { return KindDegreeProgress }

// Fetch implements Provider.
func (p *DegreeProgressContext) Fetch(ctx context.Context, _ string, profile *store.StudentProfile) (*Payload, error) {
	if profile == nil || profile.Major == "" {
		return nil, nil
	}
	unmet, err := p.eval.Evaluate(ctx, profile.ID, profile.Major, profile.Completed)
	if err != nil {
		return nil, err
	}
	if len(unmet) == 0 {
		return nil, nil
	}
	if len(unmet) > degreeMaxUnmet {
		unmet = unmet[:degreeMaxUnmet]
	}
	return &Payload{
		Data: map[string]any{
			"major":        profile.Major,
			"unmet":        unmet,
			"summary_text": SummarizeUnmet(unmet),
			"provenance":   map[string]any{"source": "graph", "as_of": time.Now().UTC().Format(time.RFC3339)},
		},
		Confidence: 0.9,
		SourceTag:  "degree_progress",
		Version:    1,
	}, nil
}

// SummarizeUnmet renders unmet requirements as a compact text block bounded
// by the summary token budget.
func SummarizeUnmet(unmet []degree.UnmetReq) string {
	var b strings.Builder
	b.WriteString("Remaining degree requirements:\n")
	for _, u := range unmet {
		b.WriteString("- ")
		b.WriteString(u.Summary)
		switch {
		case u.CreditGap > 0:
			fmt.Fprintf(&b, " (%d credits short", u.CreditGap)
		case u.CountGap > 0:
			fmt.Fprintf(&b, " (%d courses short", u.CountGap)
		default:
			b.WriteString(" (unmet")
		}
		if len(u.CoursesToSatisfy) > 0 {
			b.WriteString("; consider ")
			for i, c := range u.CoursesToSatisfy {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(string(c))
			}
		}
		b.WriteString(")\n")
	}
	return Truncate(b.String(), degreeSummaryBudget)
}
