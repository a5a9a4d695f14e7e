package contextsrc

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/campusgraph/advisor/internal/cache"
	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/store"
)

type (
	// EnrollmentContext estimates enrollment pressure for mentioned courses.
	// The estimate is a deterministic heuristic over subject and level; real
	// enrollment feeds can replace it behind the same cache tag.
	EnrollmentContext struct {
		cache *cache.TagCache
	}
)

// enrollmentTTL caches enrollment estimates for one hour.
const enrollmentTTL = time.Hour

// NewEnrollmentContext builds the provider.
func NewEnrollmentContext(tagCache *cache.TagCache) *EnrollmentContext {
	return &EnrollmentContext{cache: tagCache}
}

// Kind implements Provider.
func (p *EnrollmentContext) Kind() Kind { return KindEnrollmentData }

// Fetch implements Provider.
func (p *EnrollmentContext) Fetch(ctx context.Context, message string, profile *store.StudentProfile) (*Payload, error) {
	codes := candidateCodes(message, profile)
	if len(codes) == 0 {
		return nil, nil
	}
	perCourse := make(map[string]any, len(codes))
	anyHit := false
	for _, code := range codes {
		raw, hit, err := p.cache.GetOrSet(ctx, "enrollment", map[string]any{"course": code}, enrollmentTTL,
			func(context.Context) (any, error) {
				return estimateEnrollment(code), nil
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
		Confidence: 0.5,
		CacheHit:   anyHit,
		Version:    p.cache.Version(ctx, "enrollment"),
		SourceTag:  "enrollment_data",
	}, nil
}

// estimateEnrollment derives a stable record from the course code. Intro
// courses fill faster and carry higher waitlist risk.
func estimateEnrollment(code course.Code) map[string]any {
	sum := sha256.Sum256([]byte("enrollment:" + code))
	jitter := float64(binary.BigEndian.Uint32(sum[:4])%100) / 100

	level := code.Level()
	capacity := 60 + int(binary.BigEndian.Uint32(sum[4:8])%340)
	fillHours := 12.0 + float64(level)/1000*24 + jitter*24
	waitlistProb := 0.85 - float64(level)/1000*0.15 - jitter*0.2
	if waitlistProb < 0.05 {
		waitlistProb = 0.05
	}
	risk, advice := riskBand(waitlistProb)
	return map[string]any{
		"capacity":              capacity,
		"historical_fill_hours": fillHours,
		"waitlist_prob":         waitlistProb,
		"risk_level":            risk,
		"advice":                advice,
	}
}

func riskBand(waitlistProb float64) (string, string) {
	switch {
	case waitlistProb >= 0.75:
		return "very_high", "enroll the minute your window opens and line up a backup"
	case waitlistProb >= 0.5:
		return "high", "enroll early and watch the waitlist daily"
	case waitlistProb >= 0.25:
		return "moderate", "enroll during your first window"
	default:
		return "low", "no special action needed"
	}
}
