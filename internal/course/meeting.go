package course

import (
	"fmt"
	"sort"
	"strings"
)

type (
	// Day is a single-letter weekday code. Thursday is R and Sunday is U,
	// following the registrar convention.
	Day string

	// SectionMeeting is one recurring meeting block of a section. Times are
	// minutes since midnight, half-open: [StartMin, EndMin).
	SectionMeeting struct {
		Days     []Day `json:"days"`
		StartMin int   `json:"start_min"`
		EndMin   int   `json:"end_min"`
	}

	// SectionBundle groups the meetings a student registers for together
	// (lecture plus its discussion or lab) for a single course.
	SectionBundle struct {
		BundleID string           `json:"bundle_id"`
		Course   Code             `json:"course_code"`
		Meetings []SectionMeeting `json:"meetings"`
	}

	// TimeWindow is a blocked-out span in a student profile (work, athletics).
	TimeWindow struct {
		Day      Day `json:"day"`
		StartMin int `json:"start_min"`
		EndMin   int `json:"end_min"`
	}
)

// Weekdays in registrar order.
const (
	Monday    Day = "M"
	Tuesday   Day = "T"
	Wednesday Day = "W"
	Thursday  Day = "R"
	Friday    Day = "F"
	Saturday  Day = "S"
	Sunday    Day = "U"
)

// Validate checks structural invariants: at least one day, known day codes,
// start within the day and end after start.
func (m SectionMeeting) Validate() error {
	if len(m.Days) == 0 {
		return fmt.Errorf("meeting has no days")
	}
	for _, d := range m.Days {
		switch d {
		case Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday:
		default:
			return fmt.Errorf("unknown day %q", d)
		}
	}
	if m.StartMin < 0 || m.StartMin >= 24*60 {
		return fmt.Errorf("start %d out of range", m.StartMin)
	}
	if m.EndMin <= m.StartMin {
		return fmt.Errorf("end %d not after start %d", m.EndMin, m.StartMin)
	}
	return nil
}

// OnDay reports whether the meeting occurs on d.
func (m SectionMeeting) OnDay(d Day) bool {
	for _, md := range m.Days {
		if md == d {
			return true
		}
	}
	return false
}

// Minutes returns the meeting duration in minutes.
func (m SectionMeeting) Minutes() int { return m.EndMin - m.StartMin }

// Overlaps reports whether two meetings collide: they share at least one day
// and their half-open time ranges intersect.
func (m SectionMeeting) Overlaps(o SectionMeeting) bool {
	shared := false
	for _, d := range m.Days {
		if o.OnDay(d) {
			shared = true
			break
		}
	}
	if !shared {
		return false
	}
	return m.StartMin < o.EndMin && o.StartMin < m.EndMin
}

// ConflictCount returns the number of overlapping meeting pairs between two
// bundles. Zero means the bundles can coexist on a schedule.
func (b SectionBundle) ConflictCount(o SectionBundle) int {
	n := 0
	for _, m := range b.Meetings {
		for _, om := range o.Meetings {
			if m.Overlaps(om) {
				n++
			}
		}
	}
	return n
}

// EarliestStart returns the earliest meeting start across the bundle, or
// 24*60 when the bundle has no meetings.
func (b SectionBundle) EarliestStart() int {
	earliest := 24 * 60
	for _, m := range b.Meetings {
		if m.StartMin < earliest {
			earliest = m.StartMin
		}
	}
	return earliest
}

// FormatMinutes renders minutes-since-midnight as "HH:MM".
func FormatMinutes(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

// DaysString joins day codes into a compact string ("MWF").
func DaysString(days []Day) string {
	var sb strings.Builder
	for _, d := range days {
		sb.WriteString(string(d))
	}
	return sb.String()
}

// ParseDays converts a compact day string ("MWF") into day codes. Unknown
// letters are dropped; duplicates are kept in input order once.
func ParseDays(s string) []Day {
	var out []Day
	seen := make(map[Day]bool)
	for _, r := range strings.ToUpper(s) {
		d := Day(r)
		switch d {
		case Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday:
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	return out
}

// SortBundleIDs returns a sorted copy of ids, the canonical ordering used in
// ranked-schedule tie-breaks and dedupe keys.
func SortBundleIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}
