package contextsrc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/campusgraph/advisor/internal/cache"
	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/store"
)

type (
	// DifficultyContext reports how hard mentioned courses are, preferring
	// real grade data and synthesizing a subject/level heuristic otherwise.
	DifficultyContext struct {
		grades *GradesContext
		cache  *cache.TagCache
	}
)

// difficultyTTL caches difficulty records for six hours.
const difficultyTTL = 6 * time.Hour

// hardSubjects lean difficult at every level.
var hardSubjects = map[string]float64{
	"MATH": 12, "PHYS": 10, "CS": 8, "ORIE": 8, "CHEM": 7, "ECE": 7,
}

// NewDifficultyContext builds the provider. grades may be nil to always use
// the heuristic.
func NewDifficultyContext(gradesCtx *GradesContext, tagCache *cache.TagCache) *DifficultyContext {
	return &DifficultyContext{grades: gradesCtx, cache: tagCache}
}

// Kind implements Provider.
func (p *DifficultyContext) Kind() Kind { return KindDifficultyData }

// Fetch implements Provider.
func (p *DifficultyContext) Fetch(ctx context.Context, message string, profile *store.StudentProfile) (*Payload, error) {
	codes := candidateCodes(message, profile)
	if len(codes) == 0 {
		return nil, nil
	}
	perCourse := make(map[string]any, len(codes))
	anyHit := false
	for _, code := range codes {
		raw, hit, err := p.cache.GetOrSet(ctx, "difficulty", map[string]any{"course": code}, difficultyTTL,
			func(ctx context.Context) (any, error) {
				return p.record(ctx, code), nil
			})
		if err != nil {
			continue
		}
		anyHit = anyHit || hit
		var rec map[string]any
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		perCourse[string(code)] = rec
	}
	if len(perCourse) == 0 {
		return nil, nil
	}
	return &Payload{
		Data:       map[string]any{"courses": perCourse},
		Confidence: 0.7,
		CacheHit:   anyHit,
		Version:    p.cache.Version(ctx, "difficulty"),
		SourceTag:  "difficulty_data",
	}, nil
}

func (p *DifficultyContext) record(ctx context.Context, code course.Code) map[string]any {
	if p.grades != nil {
		if stats, _, err := p.grades.Stats(ctx, code); err == nil && stats != nil {
			return map[string]any{
				"difficulty_percentile": stats.DifficultyPercentile,
				"mean_gpa":              stats.MeanGPA,
				"pass_rate":             stats.PassRate,
				"basis":                 "grade_data",
			}
		}
	}
	return heuristicDifficulty(code)
}

// heuristicDifficulty estimates a percentile from subject and course level
// when no grade data exists. Higher-level courses and quantitative subjects
// skew harder.
func heuristicDifficulty(code course.Code) map[string]any {
	pct := 35.0 + float64(code.Level())/1000*8
	pct += hardSubjects[code.Subject()]
	if pct > 95 {
		pct = 95
	}
	return map[string]any{
		"difficulty_percentile": pct,
		"basis":                 "heuristic",
	}
}
