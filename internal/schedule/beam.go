// Package schedule ranks section-bundle combinations for a set of courses
// under hard time and node budgets. The search is a beam over courses ordered
// by branching factor; scoring rewards compact, conflict-free weeks.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/campusgraph/advisor/internal/cache"
	"github.com/campusgraph/advisor/internal/course"
)

type (
	// Prefs are the student preferences the scorer honors.
	Prefs struct {
		DislikesMorning bool `json:"dislikes_morning,omitempty"`
		NoFriday        bool `json:"no_fri,omitempty"`
	}

	// RankedSchedule is one scored bundle selection, one bundle per course.
	RankedSchedule struct {
		BundleIDs      []string `json:"section_bundle_ids"`
		FitScore       int      `json:"fit_score"`
		ConflictReason string   `json:"conflict_reason,omitempty"`
		TotalGaps      int      `json:"total_gaps"`
		EarliestStart  int      `json:"earliest_start"`
	}

	// RosterFetcher sources the candidate section bundles for a course.
	RosterFetcher interface {
		SectionBundles(ctx context.Context, term string, code course.Code) ([]course.SectionBundle, error)
	}

	// Config bounds the beam search.
	Config struct {
		BeamWidth int
		NodeLimit int
		Timeout   time.Duration
		Term      string
	}

	// Service runs ranked schedule searches over cached rosters.
	Service struct {
		roster RosterFetcher
		cache  *cache.TagCache
		cfg    Config
	}

	// state is a partial selection during the search.
	state struct {
		bundles   []course.SectionBundle
		conflicts int
	}
)

// Scoring weights.
const (
	baseScore       = 100
	wConflict       = 15
	wGap            = 5
	wEarly          = 5
	wFriday         = 8
	bonusLightDay   = 5
	gapMinMinutes   = 120
	earlyStartMin   = 540 // 09:00
	lightDayMaxMins = 240 // 4.0 hours
)

// rosterTTL keeps section bundles for a term cached for 30 days.
const rosterTTL = 30 * 24 * time.Hour

// NewService builds a schedule-fit service. cache may be nil to fetch rosters
// directly on every call (tests, mock mode).
func NewService(roster RosterFetcher, tagCache *cache.TagCache, cfg Config) *Service {
	if cfg.BeamWidth <= 0 {
		cfg.BeamWidth = 1024
	}
	if cfg.NodeLimit <= 0 {
		cfg.NodeLimit = 50000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Millisecond
	}
	if cfg.Term == "" {
		cfg.Term = "current"
	}
	return &Service{roster: roster, cache: tagCache, cfg: cfg}
}

// RankSchedules returns up to limit ranked schedules for the course set. A
// course with zero candidate bundles makes the result empty. On timeout the
// best schedules found so far are returned.
func (s *Service) RankSchedules(ctx context.Context, codes []course.Code, prefs Prefs, limit int) ([]RankedSchedule, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}
	candidates := make([][]course.SectionBundle, 0, len(codes))
	for _, code := range codes {
		bundles, err := s.bundlesFor(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("schedule: roster for %s: %w", code, err)
		}
		if len(bundles) == 0 {
			return nil, nil
		}
		candidates = append(candidates, bundles)
	}
	// Least branching first keeps the beam tight where it matters.
	sort.SliceStable(candidates, func(i, j int) bool { return len(candidates[i]) < len(candidates[j]) })

	deadline := time.Now().Add(s.cfg.Timeout)
	beam := []state{{}}
	nodes := 0
	foundConflictFree := false
	for _, bundles := range candidates {
		var next []state
		for _, st := range beam {
			for _, b := range bundles {
				nodes++
				if nodes > s.cfg.NodeLimit || time.Now().After(deadline) {
					// Budget exhausted: complete the surviving partial
					// selections greedily so the best found so far still
					// covers every course.
					partial := append(next, beam...)
					for i := range partial {
						partial[i] = completeGreedy(partial[i], candidates)
					}
					return s.finish(partial, len(candidates), prefs, limit), nil
				}
				conflicts := st.conflicts
				for _, chosen := range st.bundles {
					conflicts += b.ConflictCount(chosen)
				}
				if foundConflictFree && conflicts > 0 {
					continue
				}
				ns := state{bundles: append(append([]course.SectionBundle{}, st.bundles...), b), conflicts: conflicts}
				next = append(next, ns)
				if len(ns.bundles) == len(candidates) && conflicts == 0 {
					foundConflictFree = true
				}
			}
		}
		sort.SliceStable(next, func(i, j int) bool { return next[i].conflicts < next[j].conflicts })
		if len(next) > s.cfg.BeamWidth {
			next = next[:s.cfg.BeamWidth]
		}
		beam = next
	}
	return s.finish(beam, len(candidates), prefs, limit), nil
}

// completeGreedy extends a partial selection to one bundle per course,
// taking the first non-conflicting candidate at each remaining level (or the
// least-conflicting one when every candidate collides).
func completeGreedy(st state, candidates [][]course.SectionBundle) state {
	for _, bundles := range candidates[len(st.bundles):] {
		best := bundles[0]
		bestAdded := math.MaxInt
		for _, b := range bundles {
			added := 0
			for _, chosen := range st.bundles {
				added += b.ConflictCount(chosen)
			}
			if added < bestAdded {
				best, bestAdded = b, added
			}
			if added == 0 {
				break
			}
		}
		st = state{
			bundles:   append(append([]course.SectionBundle{}, st.bundles...), best),
			conflicts: st.conflicts + bestAdded,
		}
	}
	return st
}

func (s *Service) bundlesFor(ctx context.Context, code course.Code) ([]course.SectionBundle, error) {
	if s.cache == nil {
		return s.roster.SectionBundles(ctx, s.cfg.Term, code)
	}
	raw, _, err := s.cache.GetOrSetKeyed(ctx, "roster", "section_bundles:"+s.cfg.Term, string(code), rosterTTL,
		func(ctx context.Context) (any, error) {
			return s.roster.SectionBundles(ctx, s.cfg.Term, code)
		})
	if err != nil {
		return nil, err
	}
	var bundles []course.SectionBundle
	if err := json.Unmarshal(raw, &bundles); err != nil {
		return nil, err
	}
	return bundles, nil
}

// finish scores complete states, dedupes by bundle-id tuple, and returns the
// stable top limit.
func (s *Service) finish(states []state, wantCourses int, prefs Prefs, limit int) []RankedSchedule {
	var ranked []RankedSchedule
	seen := make(map[string]bool)
	for _, st := range states {
		if len(st.bundles) != wantCourses {
			continue
		}
		r := Score(st.bundles, prefs)
		key := strings.Join(course.SortBundleIDs(r.BundleIDs), "|")
		if seen[key] {
			continue
		}
		seen[key] = true
		ranked = append(ranked, r)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.FitScore != b.FitScore {
			return a.FitScore > b.FitScore
		}
		if a.TotalGaps != b.TotalGaps {
			return a.TotalGaps < b.TotalGaps
		}
		if a.EarliestStart != b.EarliestStart {
			return a.EarliestStart < b.EarliestStart
		}
		return strings.Join(a.BundleIDs, "|") < strings.Join(b.BundleIDs, "|")
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Score evaluates a complete selection against the preference weights.
// Exported so conflict analysis can reuse the exact scoring rule.
func Score(bundles []course.SectionBundle, prefs Prefs) RankedSchedule {
	score := float64(baseScore)
	var reasons []string

	// Conflicts between bundle pairs.
	for i := 0; i < len(bundles); i++ {
		for j := i + 1; j < len(bundles); j++ {
			if n := bundles[i].ConflictCount(bundles[j]); n > 0 {
				score -= float64(n * wConflict)
				reasons = append(reasons, fmt.Sprintf("%s×%s", bundles[i].Course, bundles[j].Course))
			}
		}
	}

	// Per-day layout: gaps, light days, early starts, Fridays.
	type span struct{ start, end int }
	byDay := make(map[course.Day][]span)
	earliest := 24 * 60
	early := false
	friday := false
	for _, b := range bundles {
		for _, m := range b.Meetings {
			if m.StartMin < earliest {
				earliest = m.StartMin
			}
			if m.StartMin < earlyStartMin {
				early = true
			}
			for _, d := range m.Days {
				if d == course.Friday {
					friday = true
				}
				byDay[d] = append(byDay[d], span{m.StartMin, m.EndMin})
			}
		}
	}
	gaps := 0
	lightWeek := len(byDay) > 0
	for _, spans := range byDay {
		sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
		total := 0
		for i, sp := range spans {
			total += sp.end - sp.start
			if i > 0 && sp.start-spans[i-1].end >= gapMinMinutes {
				gaps++
			}
		}
		if total > lightDayMaxMins {
			lightWeek = false
		}
	}
	score -= float64(gaps * wGap)
	if early && prefs.DislikesMorning {
		score -= wEarly
	}
	if friday && prefs.NoFriday {
		score -= wFriday
	}
	if lightWeek {
		score += bonusLightDay
	}
	score = math.Max(0, math.Min(100, score))

	ids := make([]string, len(bundles))
	for i, b := range bundles {
		ids[i] = b.BundleID
	}
	sort.Strings(ids)
	return RankedSchedule{
		BundleIDs:      ids,
		FitScore:       int(math.Round(score)),
		ConflictReason: strings.Join(reasons, ", "),
		TotalGaps:      gaps,
		EarliestStart:  earliest,
	}
}
