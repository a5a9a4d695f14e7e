package calendar

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusgraph/advisor/internal/course"
)

type stubRoster map[course.Code][]course.SectionBundle

func (r stubRoster) SectionBundles(_ context.Context, _ string, code course.Code) ([]course.SectionBundle, error) {
	return r[code], nil
}

func testExporter() *Exporter {
	e := NewExporter(stubRoster{
		"CS 3110": {{
			BundleID: "CS3110-LEC1",
			Course:   "CS 3110",
			Meetings: []course.SectionMeeting{
				{Days: []course.Day{course.Monday, course.Wednesday, course.Friday}, StartMin: 660, EndMin: 710},
			},
		}, {
			BundleID: "CS3110-LEC2",
			Course:   "CS 3110",
			Meetings: []course.SectionMeeting{
				{Days: []course.Day{course.Tuesday}, StartMin: 540, EndMin: 615},
			},
		}},
	}, "FA26")
	// Wednesday 2026-08-26, so the schedule anchors at Monday 2026-08-31.
	e.now = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestExportDocumentShape(t *testing.T) {
	ics, err := testExporter().Export(context.Background(), []course.Code{"CS 3110"}, "Ada")
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(ics, "BEGIN:VCALENDAR\r\n"))
	require.True(t, strings.HasSuffix(ics, "END:VCALENDAR\r\n"))
	require.Contains(t, ics, "VERSION:2.0\r\n")
	require.Contains(t, ics, "X-WR-CALNAME:Ada class schedule\r\n")
	for _, line := range strings.Split(strings.TrimRight(ics, "\r\n"), "\r\n") {
		require.NotContains(t, line, "\n", "every content line is CRLF-terminated")
	}

	require.Equal(t, 1, strings.Count(ics, "BEGIN:VEVENT"), "only the primary bundle is exported")
	require.Contains(t, ics, "SUMMARY:CS 3110\r\n")
	require.Contains(t, ics, "RRULE:FREQ=WEEKLY;COUNT=15;BYDAY=MO,WE,FR\r\n")
	require.Contains(t, ics, "DTSTART:20260831T110000\r\n", "11:00 on the anchor Monday")
	require.Contains(t, ics, "DTEND:20260831T115000\r\n")
	require.Contains(t, ics, "DESCRIPTION:Section CS3110-LEC1\\, MWF 11:00-11:50\r\n")
}

func TestExportSkipsUnknownCourses(t *testing.T) {
	ics, err := testExporter().Export(context.Background(), []course.Code{"NOPE 9999"}, "")
	require.NoError(t, err)
	require.NotContains(t, ics, "BEGIN:VEVENT")
	require.NotContains(t, ics, "X-WR-CALNAME")
}

func TestNextMonday(t *testing.T) {
	mon := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC) // a Monday
	got := nextMonday(mon)
	require.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), got, "a Monday maps to its own midnight")

	sat := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), nextMonday(sat))
}

func TestFirstOccurrence(t *testing.T) {
	monday := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	require.Equal(t, monday, firstOccurrence(monday, course.Monday))
	require.Equal(t, monday.AddDate(0, 0, 3), firstOccurrence(monday, course.Thursday))
	require.Equal(t, monday.AddDate(0, 0, 6), firstOccurrence(monday, course.Sunday))
}

func TestEscape(t *testing.T) {
	require.Equal(t, `a\,b\;c\nd\\e`, escape("a,b;c\nd\\e"))
}
