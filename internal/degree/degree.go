// Package degree evaluates typed requirement specs against a student's
// completed course set. Evaluation is pure and deterministically ordered so
// its output can be embedded in prompts reproducibly.
package degree

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/campusgraph/advisor/internal/cache"
	"github.com/campusgraph/advisor/internal/canon"
	"github.com/campusgraph/advisor/internal/course"
)

type (
	// Kind classifies a requirement.
	Kind string

	// Satisfier is one course that can satisfy a requirement, with its
	// credit value.
	Satisfier struct {
		Code    course.Code `json:"code"`
		Credits int         `json:"credits"`
	}

	// RequirementSpec is one typed degree requirement.
	RequirementSpec struct {
		ID         string      `json:"id"`
		Summary    string      `json:"summary"`
		Kind       Kind        `json:"kind"`
		MinCount   int         `json:"min_count,omitempty"`
		MinCredits int         `json:"min_credits,omitempty"`
		Satisfiers []Satisfier `json:"satisfiers"`
	}

	// UnmetReq describes the remaining gap for one requirement.
	UnmetReq struct {
		ID               string        `json:"id"`
		Summary          string        `json:"summary"`
		Kind             Kind          `json:"kind"`
		CountGap         int           `json:"count_gap"`
		CreditGap        int           `json:"credit_gap"`
		CoursesToSatisfy []course.Code `json:"courses_to_satisfy"`
	}

	// SpecLoader retrieves every requirement spec for a major in a single
	// round trip.
	SpecLoader interface {
		RequirementSpecs(ctx context.Context, major string) ([]RequirementSpec, error)
	}

	// Evaluator loads specs, evaluates them, and caches results per
	// (student, major, completed-set hash).
	Evaluator struct {
		loader SpecLoader
		cache  *cache.TagCache
	}
)

// Requirement kinds.
const (
	KindCountAtLeast   Kind = "COUNT_AT_LEAST"
	KindCreditsAtLeast Kind = "CREDITS_AT_LEAST"
	KindAllOfSet       Kind = "ALL_OF_SET"
)

// DefaultCourseCredits backfills satisfiers whose credit value the catalog
// does not record.
const DefaultCourseCredits = 3

// progressTTL caches evaluations for 12 hours (plus key jitter).
const progressTTL = 12 * time.Hour

// NewEvaluator builds an evaluator. tagCache may be nil to disable caching.
func NewEvaluator(loader SpecLoader, tagCache *cache.TagCache) *Evaluator {
	return &Evaluator{loader: loader, cache: tagCache}
}

// Evaluate returns the unmet requirements for (studentID, major) given the
// completed set, cached per the completed-set hash.
func (e *Evaluator) Evaluate(ctx context.Context, studentID, major string, completed []course.Code) ([]UnmetReq, error) {
	if e.cache == nil {
		return e.evaluate(ctx, major, completed)
	}
	haveHash, err := canon.SHA1Hex(course.CodeStrings(course.SortCodes(completed)))
	if err != nil {
		return nil, err
	}
	suffix := fmt.Sprintf("sid:%s:major:%s:h:%s", studentID, major, haveHash[:12])
	return cacheEval(ctx, e, suffix, major, completed)
}

func cacheEval(ctx context.Context, e *Evaluator, suffix, major string, completed []course.Code) ([]UnmetReq, error) {
	raw, _, err := e.cache.GetOrSetKeyed(ctx, "degree_reqs", "degree_reqs", suffix, progressTTL,
		func(ctx context.Context) (any, error) {
			unmet, err := e.evaluate(ctx, major, completed)
			if err != nil {
				return nil, err
			}
			// Marshal through the wrapper so an empty result round-trips as [].
			if unmet == nil {
				unmet = []UnmetReq{}
			}
			return unmet, nil
		})
	if err != nil {
		return nil, err
	}
	var out []UnmetReq
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WhatIf evaluates with the planned set unioned into completed, always
// bypassing the cache.
func (e *Evaluator) WhatIf(ctx context.Context, major string, completed, planned []course.Code) ([]UnmetReq, error) {
	union := make([]course.Code, 0, len(completed)+len(planned))
	seen := make(map[course.Code]bool)
	for _, c := range append(append([]course.Code{}, completed...), planned...) {
		if !seen[c] {
			seen[c] = true
			union = append(union, c)
		}
	}
	return e.evaluate(ctx, major, union)
}

func (e *Evaluator) evaluate(ctx context.Context, major string, completed []course.Code) ([]UnmetReq, error) {
	specs, err := e.loader.RequirementSpecs(ctx, major)
	if err != nil {
		return nil, fmt.Errorf("degree: load specs for %s: %w", major, err)
	}
	return EvaluateSpecs(specs, completed), nil
}

// EvaluateSpecs is the pure evaluator. Output ordering is
// (-credit_gap, -count_gap, id): biggest gaps first, ties by id.
func EvaluateSpecs(specs []RequirementSpec, completed []course.Code) []UnmetReq {
	have := make(map[course.Code]bool, len(completed))
	for _, c := range completed {
		have[c] = true
	}
	var unmet []UnmetReq
	for _, spec := range specs {
		if u := evaluateOne(spec, have); u != nil {
			unmet = append(unmet, *u)
		}
	}
	sort.SliceStable(unmet, func(i, j int) bool {
		a, b := unmet[i], unmet[j]
		if a.CreditGap != b.CreditGap {
			return a.CreditGap > b.CreditGap
		}
		if a.CountGap != b.CountGap {
			return a.CountGap > b.CountGap
		}
		return a.ID < b.ID
	})
	return unmet
}

func evaluateOne(spec RequirementSpec, have map[course.Code]bool) *UnmetReq {
	satisfied := 0
	var missing []Satisfier
	for _, s := range spec.Satisfiers {
		if have[s.Code] {
			satisfied++
		} else {
			missing = append(missing, s)
		}
	}
	u := &UnmetReq{ID: spec.ID, Summary: spec.Summary, Kind: spec.Kind}

	switch spec.Kind {
	case KindAllOfSet:
		if len(missing) == 0 {
			return nil
		}
		u.CountGap = len(missing)
		u.CoursesToSatisfy = codesOf(missing, 5)

	case KindCountAtLeast:
		gap := spec.MinCount - satisfied
		if gap <= 0 {
			return nil
		}
		u.CountGap = gap
		u.CoursesToSatisfy = codesOf(missing, max(1, gap*2))

	case KindCreditsAtLeast:
		haveCredits := 0
		for _, s := range spec.Satisfiers {
			if have[s.Code] {
				haveCredits += creditsOf(s)
			}
		}
		gap := spec.MinCredits - haveCredits
		if gap <= 0 {
			return nil
		}
		u.CreditGap = gap
		// Suggest highest-credit courses first to close the gap fastest.
		sort.SliceStable(missing, func(i, j int) bool {
			ci, cj := creditsOf(missing[i]), creditsOf(missing[j])
			if ci != cj {
				return ci > cj
			}
			return missing[i].Code < missing[j].Code
		})
		u.CoursesToSatisfy = codesOf(missing, 5)

	default:
		// Unknown kind: treat as COUNT_AT_LEAST 1 when nothing satisfies it.
		if satisfied > 0 {
			return nil
		}
		u.CountGap = 1
		u.CoursesToSatisfy = codesOf(missing, 2)
	}
	return u
}

func creditsOf(s Satisfier) int {
	if s.Credits > 0 {
		return s.Credits
	}
	return DefaultCourseCredits
}

func codesOf(satisfiers []Satisfier, limit int) []course.Code {
	out := make([]course.Code, 0, min(limit, len(satisfiers)))
	for _, s := range satisfiers {
		if len(out) == limit {
			break
		}
		out = append(out, s.Code)
	}
	return out
}
