package contextsrc

import (
	"context"

	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/schedule"
	"github.com/campusgraph/advisor/internal/store"
)

type (
	// ScheduleFitContext ranks section combinations for the candidate course
	// set against the student's time preferences.
	ScheduleFitContext struct {
		svc   *schedule.Service
		limit int
	}
)

// NewScheduleFitContext builds the provider. limit <= 0 defaults to 3.
func NewScheduleFitContext(svc *schedule.Service, limit int) *ScheduleFitContext {
	if limit <= 0 {
		limit = 3
	}
	return &ScheduleFitContext{svc: svc, limit: limit}
}

// Kind implements Provider.
func (p *ScheduleFitContext) Kind() Kind { return KindScheduleFit }

// Fetch implements Provider.
func (p *ScheduleFitContext) Fetch(ctx context.Context, message string, profile *store.StudentProfile) (*Payload, error) {
	codes := course.ExtractMentions(message, maxMentionCodes)
	if len(codes) == 0 && profile != nil {
		codes = profile.Planned
		if len(codes) > maxMentionCodes {
			codes = codes[:maxMentionCodes]
		}
	}
	if len(codes) < 2 {
		// A single course always fits; nothing worth ranking.
		return nil, nil
	}
	ranked, err := p.svc.RankSchedules(ctx, codes, prefsFromProfile(profile), p.limit)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	return &Payload{
		Data: map[string]any{
			"courses":   course.CodeStrings(codes),
			"schedules": ranked,
		},
		Confidence: 0.85,
		SourceTag:  "schedule_fit",
		Version:    1,
	}, nil
}

// prefsFromProfile lifts schedule preferences out of the free-form profile
// preference map.
func prefsFromProfile(profile *store.StudentProfile) schedule.Prefs {
	var prefs schedule.Prefs
	if profile == nil || profile.Preferences == nil {
		return prefs
	}
	if v, ok := profile.Preferences["dislikes_morning"].(bool); ok {
		prefs.DislikesMorning = v
	}
	if v, ok := profile.Preferences["no_fri"].(bool); ok {
		prefs.NoFriday = v
	}
	return prefs
}
