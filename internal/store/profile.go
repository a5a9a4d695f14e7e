// Package store persists student profiles and conversation state in the KV
// store. Profiles are mutated exclusively through an atomic server-side merge
// script; conversations are last-writer-wins per id with a bounded message
// history.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/clue/log"

	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/kv"
)

type (
	// StudentProfile is the durable per-student planning state. Course code
	// slices are kept canonical by Normalize.
	StudentProfile struct {
		ID            string               `json:"id"`
		Major         string               `json:"major,omitempty"`
		Track         string               `json:"track,omitempty"`
		Minor         string               `json:"minor,omitempty"`
		Year          string               `json:"year,omitempty"`
		Completed     []course.Code        `json:"completed"`
		Current       []course.Code        `json:"current"`
		Planned       []course.Code        `json:"planned"`
		Interests     []string             `json:"interests"`
		GPA           *float64             `json:"gpa,omitempty"`
		GPAGoal       *float64             `json:"gpa_goal,omitempty"`
		RiskTolerance string               `json:"risk_tolerance,omitempty"`
		BlockedTimes  []course.TimeWindow  `json:"blocked_times,omitempty"`
		Preferences   map[string]any       `json:"preferences,omitempty"`
	}

	// ProfileStore owns student_profile:{id} keys. Merges run a single Lua
	// script so concurrent writers cannot interleave field updates.
	ProfileStore struct {
		kv  *kv.Store
		ttl time.Duration
	}
)

// mergeScript merges an incoming profile into the stored one atomically with
// prefer-incoming-non-empty semantics: scalars overwrite when non-empty,
// lists and the preferences map replace only when non-empty.
var mergeScript = kv.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[2])
local cur = redis.call('GET', key)
if not cur then
  redis.call('SET', key, ARGV[1], 'EX', ttl)
  return ARGV[1]
end
local existing = cjson.decode(cur)
local incoming = cjson.decode(ARGV[1])
for _, f in ipairs({'major','track','minor','year','risk_tolerance'}) do
  if incoming[f] ~= nil and incoming[f] ~= '' then existing[f] = incoming[f] end
end
for _, f in ipairs({'gpa','gpa_goal'}) do
  if incoming[f] ~= nil then existing[f] = incoming[f] end
end
for _, f in ipairs({'completed','current','planned','interests','blocked_times'}) do
  local v = incoming[f]
  if type(v) == 'table' and #v > 0 then existing[f] = v end
end
local prefs = incoming['preferences']
if type(prefs) == 'table' and next(prefs) ~= nil then existing['preferences'] = prefs end
local out = cjson.encode(existing)
redis.call('SET', key, out, 'EX', ttl)
return out
`)

// NewProfileStore builds a profile store with the given TTL (refreshed on
// read). The KV store should carry the tightened profile-path timeout.
func NewProfileStore(store *kv.Store, ttl time.Duration) *ProfileStore {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &ProfileStore{kv: store, ttl: ttl}
}

func profileKey(id string) string { return "student_profile:" + id }

// Normalize canonicalizes every course code in the profile, dropping codes
// that cannot be normalized. Idempotent.
func (p *StudentProfile) Normalize() {
	p.Completed = normalizeCodes(p.Completed)
	p.Current = normalizeCodes(p.Current)
	p.Planned = normalizeCodes(p.Planned)
}

func normalizeCodes(in []course.Code) []course.Code {
	out := make([]course.Code, 0, len(in))
	seen := make(map[course.Code]bool)
	for _, c := range in {
		n, err := course.Normalize(string(c))
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// CompletedSet returns the completed courses as a set.
func (p *StudentProfile) CompletedSet() map[course.Code]bool {
	set := make(map[course.Code]bool, len(p.Completed))
	for _, c := range p.Completed {
		set[c] = true
	}
	return set
}

// Get loads a profile and refreshes its TTL. Returns kv.ErrNotFound when the
// student has no stored profile.
func (s *ProfileStore) Get(ctx context.Context, id string) (*StudentProfile, error) {
	raw, err := s.kv.Get(ctx, profileKey(id))
	if err != nil {
		return nil, err
	}
	var p StudentProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("profile %s: decode: %w", id, err)
	}
	_ = s.kv.Expire(ctx, profileKey(id), s.ttl)
	return &p, nil
}

// Put replaces the stored profile. Permitted only for explicit PUT semantics
// and empty-shell creation; the chat path always merges.
func (s *ProfileStore) Put(ctx context.Context, p *StudentProfile) error {
	if p.ID == "" {
		return errors.New("profile id is required")
	}
	p.Normalize()
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("profile %s: encode: %w", p.ID, err)
	}
	return s.kv.SetEX(ctx, profileKey(p.ID), string(raw), s.ttl)
}

// MergeAtomic merges incoming into the stored profile server-side and
// returns the merged result. When script evaluation fails (restricted
// deployments), it falls back to a non-atomic read-merge-write with the same
// merge rule.
func (s *ProfileStore) MergeAtomic(ctx context.Context, incoming *StudentProfile) (*StudentProfile, error) {
	if incoming.ID == "" {
		return nil, errors.New("profile id is required")
	}
	incoming.Normalize()
	raw, err := json.Marshal(incoming)
	if err != nil {
		return nil, fmt.Errorf("profile %s: encode: %w", incoming.ID, err)
	}
	res, err := s.kv.Run(ctx, mergeScript, []string{profileKey(incoming.ID)}, string(raw), int64(s.ttl.Seconds()))
	if err != nil {
		log.Warnf(ctx, "profile merge script failed, falling back to read-merge-write: %v", err)
		return s.mergeFallback(ctx, incoming)
	}
	merged, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("profile %s: unexpected script reply %T", incoming.ID, res)
	}
	var out StudentProfile
	if err := json.Unmarshal([]byte(merged), &out); err != nil {
		return nil, fmt.Errorf("profile %s: decode merged: %w", incoming.ID, err)
	}
	return &out, nil
}

// mergeFallback is the non-atomic path. It applies Merge client-side; a
// concurrent writer can win between read and write, acceptable on this
// degraded path.
func (s *ProfileStore) mergeFallback(ctx context.Context, incoming *StudentProfile) (*StudentProfile, error) {
	existing, err := s.Get(ctx, incoming.ID)
	if errors.Is(err, kv.ErrNotFound) {
		if err := s.Put(ctx, incoming); err != nil {
			return nil, err
		}
		return incoming, nil
	}
	if err != nil {
		return nil, err
	}
	merged := Merge(existing, incoming)
	if err := s.Put(ctx, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Merge applies the prefer-incoming-non-empty rule field by field. It is the
// deterministic client-side mirror of the server-side script.
func Merge(existing, incoming *StudentProfile) *StudentProfile {
	out := *existing
	if incoming.Major != "" {
		out.Major = incoming.Major
	}
	if incoming.Track != "" {
		out.Track = incoming.Track
	}
	if incoming.Minor != "" {
		out.Minor = incoming.Minor
	}
	if incoming.Year != "" {
		out.Year = incoming.Year
	}
	if incoming.RiskTolerance != "" {
		out.RiskTolerance = incoming.RiskTolerance
	}
	if incoming.GPA != nil {
		out.GPA = incoming.GPA
	}
	if incoming.GPAGoal != nil {
		out.GPAGoal = incoming.GPAGoal
	}
	if len(incoming.Completed) > 0 {
		out.Completed = incoming.Completed
	}
	if len(incoming.Current) > 0 {
		out.Current = incoming.Current
	}
	if len(incoming.Planned) > 0 {
		out.Planned = incoming.Planned
	}
	if len(incoming.Interests) > 0 {
		out.Interests = incoming.Interests
	}
	if len(incoming.BlockedTimes) > 0 {
		out.BlockedTimes = incoming.BlockedTimes
	}
	if len(incoming.Preferences) > 0 {
		out.Preferences = incoming.Preferences
	}
	return &out
}
