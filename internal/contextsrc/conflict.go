package contextsrc

import (
	"context"
	"fmt"
	"strings"

	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/schedule"
	"github.com/campusgraph/advisor/internal/store"
)

type (
	// CourseConflict records one pairwise time overlap between the primary
	// sections of two courses.
	CourseConflict struct {
		CourseA string `json:"course_a"`
		CourseB string `json:"course_b"`
		Detail  string `json:"detail"`
	}

	// ConflictDetectionContext checks a mentioned course set for pairwise
	// time overlaps and suggests conflict-free section swaps as backups.
	ConflictDetectionContext struct {
		roster schedule.RosterFetcher
		term   string
	}
)

// conflictSummaryBudget clamps the summary text (tokens).
const conflictSummaryBudget = 200

// NewConflictDetectionContext builds the provider.
func NewConflictDetectionContext(roster schedule.RosterFetcher, term string) *ConflictDetectionContext {
	if term == "" {
		term = "current"
	}
	return &ConflictDetectionContext{roster: roster, term: term}
}

// Kind implements Provider.
func (p *ConflictDetectionContext) Kind() Kind { return KindConflictDetection }

// Fetch implements Provider.
func (p *ConflictDetectionContext) Fetch(ctx context.Context, message string, profile *store.StudentProfile) (*Payload, error) {
	codes := candidateCodes(message, profile)
	if len(codes) < 2 {
		return nil, nil
	}
	primary := make(map[course.Code]course.SectionBundle, len(codes))
	alternates := make(map[course.Code]int, len(codes))
	for _, code := range codes {
		bundles, err := p.roster.SectionBundles(ctx, p.term, code)
		if err != nil || len(bundles) == 0 {
			continue
		}
		primary[code] = bundles[0]
		alternates[code] = len(bundles) - 1
	}
	if len(primary) < 2 {
		return nil, nil
	}

	var conflicts []CourseConflict
	var backups []string
	present := make([]course.Code, 0, len(primary))
	for _, code := range codes {
		if _, ok := primary[code]; ok {
			present = append(present, code)
		}
	}
	for i := 0; i < len(present); i++ {
		for j := i + 1; j < len(present); j++ {
			a, b := primary[present[i]], primary[present[j]]
			n := a.ConflictCount(b)
			if n == 0 {
				continue
			}
			conflicts = append(conflicts, CourseConflict{
				CourseA: string(present[i]),
				CourseB: string(present[j]),
				Detail:  fmt.Sprintf("%d overlapping meeting pair(s)", n),
			})
			for _, code := range []course.Code{present[i], present[j]} {
				if alternates[code] > 0 {
					backups = append(backups, fmt.Sprintf("switch %s to one of its %d other sections", code, alternates[code]))
				}
			}
		}
	}
	return &Payload{
		Data: map[string]any{
			"conflicts":    conflicts,
			"backup_plans": backups,
			"summary_text": summarizeConflicts(present, conflicts),
		},
		Confidence: 0.85,
		SourceTag:  "conflict_detection",
		Version:    1,
	}, nil
}

func summarizeConflicts(codes []course.Code, conflicts []CourseConflict) string {
	if len(conflicts) == 0 {
		return Truncate(fmt.Sprintf("No time conflicts among %s.", strings.Join(course.CodeStrings(codes), ", ")), conflictSummaryBudget)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d time conflict(s) detected:\n", len(conflicts))
	for _, c := range conflicts {
		fmt.Fprintf(&b, "- %s overlaps %s (%s)\n", c.CourseA, c.CourseB, c.Detail)
	}
	return Truncate(b.String(), conflictSummaryBudget)
}
