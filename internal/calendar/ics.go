// Package calendar renders course section meetings as an iCalendar document
// with weekly recurrence, suitable for import into any calendar client.
package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/schedule"
)

type (
	// Exporter renders ICS documents from roster data.
	Exporter struct {
		roster schedule.RosterFetcher
		term   string
		now    func() time.Time
	}
)

// semesterWeeks bounds the weekly recurrence.
const semesterWeeks = 15

// dayToWeekday maps meeting day codes onto time.Weekday.
var dayToWeekday = map[course.Day]time.Weekday{
	course.Monday:    time.Monday,
	course.Tuesday:   time.Tuesday,
	course.Wednesday: time.Wednesday,
	course.Thursday:  time.Thursday,
	course.Friday:    time.Friday,
	course.Saturday:  time.Saturday,
	course.Sunday:    time.Sunday,
}

// icalDay maps meeting day codes onto RRULE BYDAY values.
var icalDay = map[course.Day]string{
	course.Monday:    "MO",
	course.Tuesday:   "TU",
	course.Wednesday: "WE",
	course.Thursday:  "TH",
	course.Friday:    "FR",
	course.Saturday:  "SA",
	course.Sunday:    "SU",
}

// NewExporter builds an exporter over the roster.
func NewExporter(roster schedule.RosterFetcher, term string) *Exporter {
	if term == "" {
		term = "current"
	}
	return &Exporter{roster: roster, term: term, now: time.Now}
}

// Export renders an ICS document containing one weekly recurring event per
// meeting of the primary section of each course. Courses with no roster data
// are skipped.
func (e *Exporter) Export(ctx context.Context, codes []course.Code, studentName string) (string, error) {
	var b strings.Builder
	writeLine(&b, "BEGIN:VCALENDAR")
	writeLine(&b, "VERSION:2.0")
	writeLine(&b, "PRODID:-//campusgraph//advisor//EN")
	writeLine(&b, "CALSCALE:GREGORIAN")
	if studentName != "" {
		writeLine(&b, "X-WR-CALNAME:"+escape(studentName+" class schedule"))
	}

	start := nextMonday(e.now())
	for _, code := range codes {
		bundles, err := e.roster.SectionBundles(ctx, e.term, code)
		if err != nil {
			return "", fmt.Errorf("calendar: roster for %s: %w", code, err)
		}
		if len(bundles) == 0 {
			continue
		}
		primary := bundles[0]
		for _, meeting := range primary.Meetings {
			e.writeEvent(&b, code, primary.BundleID, meeting, start)
		}
	}
	writeLine(&b, "END:VCALENDAR")
	return b.String(), nil
}

func (e *Exporter) writeEvent(b *strings.Builder, code course.Code, bundleID string, meeting course.SectionMeeting, weekStart time.Time) {
	if len(meeting.Days) == 0 {
		return
	}
	first := firstOccurrence(weekStart, meeting.Days[0])
	dtStart := first.Add(time.Duration(meeting.StartMin) * time.Minute)
	dtEnd := first.Add(time.Duration(meeting.EndMin) * time.Minute)

	byday := make([]string, 0, len(meeting.Days))
	for _, d := range meeting.Days {
		if v, ok := icalDay[d]; ok {
			byday = append(byday, v)
		}
	}

	writeLine(b, "BEGIN:VEVENT")
	writeLine(b, "UID:"+uuid.NewString()+"@campusgraph")
	writeLine(b, "DTSTAMP:"+e.now().UTC().Format("20060102T150405Z"))
	writeLine(b, "DTSTART:"+dtStart.Format("20060102T150405"))
	writeLine(b, "DTEND:"+dtEnd.Format("20060102T150405"))
	writeLine(b, fmt.Sprintf("RRULE:FREQ=WEEKLY;COUNT=%d;BYDAY=%s", semesterWeeks, strings.Join(byday, ",")))
	writeLine(b, "SUMMARY:"+escape(string(code)))
	writeLine(b, "DESCRIPTION:"+escape(fmt.Sprintf("Section %s, %s %s-%s", bundleID,
		course.DaysString(meeting.Days), course.FormatMinutes(meeting.StartMin), course.FormatMinutes(meeting.EndMin))))
	writeLine(b, "END:VEVENT")
}

// nextMonday returns midnight of the Monday on or after t.
func nextMonday(t time.Time) time.Time {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	for t.Weekday() != time.Monday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// firstOccurrence returns midnight of the first day-of-week occurrence on or
// after weekStart.
func firstOccurrence(weekStart time.Time, day course.Day) time.Time {
	want, ok := dayToWeekday[day]
	if !ok {
		return weekStart
	}
	t := weekStart
	for t.Weekday() != want {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// writeLine emits one content line with CRLF termination per RFC 5545.
func writeLine(b *strings.Builder, line string) {
	b.WriteString(line)
	b.WriteString("\r\n")
}

// escape applies ICS text escaping to commas, semicolons, and newlines.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, ";", `\;`)
	s = strings.ReplaceAll(s, ",", `\,`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}
