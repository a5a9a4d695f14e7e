package grades

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campusgraph/advisor/internal/course"
)

const sampleCSV = `course_id,term,mean_gpa,grade_a_pct,grade_b_pct,grade_c_pct,grade_d_pct,grade_f_pct,enrollment_count,difficulty_percentile
CS 3110,FA24,3.2,40,30,20,5,5,250,70
CS 3110,SP24,3.4,45,30,15,5,5,240,68
cs 2110,FA24,3.1,35,35,20,5,5,400,55
BAD ROW,FA24,3.0,30,30,30,5,5,100,50
CS 4820,FA24,not_a_number,30,30,30,5,5,120,90
`

func TestParse(t *testing.T) {
	ds, err := Parse([]byte(sampleCSV))
	require.NoError(t, err)

	require.Len(t, ds.ByCourse[course.Code("CS 3110")], 2)
	require.Len(t, ds.ByCourse[course.Code("CS 2110")], 1, "codes normalize during parse")
	require.NotContains(t, ds.ByCourse, course.Code("CS 4820"), "malformed numerics skip the row")
	require.Len(t, ds.FileHash, 64)

	row := ds.ByCourse[course.Code("CS 3110")][0]
	require.Equal(t, "FA24", row.Term)
	require.Equal(t, 250, row.Enrollment)
	require.Equal(t, 3.2, row.MeanGPA)
}

func TestParseMissingColumn(t *testing.T) {
	_, err := Parse([]byte("course_id,term\nCS 3110,FA24\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "mean_gpa")
}

func TestAggregate(t *testing.T) {
	ds, err := Parse([]byte(sampleCSV))
	require.NoError(t, err)

	stats, err := Aggregate("CS 3110", ds.ByCourse[course.Code("CS 3110")])
	require.NoError(t, err)

	require.Equal(t, []string{"FA24", "SP24"}, stats.Terms, "terms sorted")
	require.InDelta(t, 3.3, stats.MeanGPA, 1e-9)
	require.InDelta(t, 0.1, stats.StdevGPA, 1e-9, "population stdev of {3.2, 3.4}")
	require.InDelta(t, 42.5, stats.Histogram.A, 1e-9)
	require.InDelta(t, 30.0, stats.Histogram.B, 1e-9)
	require.InDelta(t, 0.95, stats.PassRate, 1e-9)
	require.Equal(t, 490, stats.Enrollment)
	require.InDelta(t, 69.0, stats.DifficultyPercentile, 1e-9)
}

func TestAggregateStableAcrossRowOrder(t *testing.T) {
	rows := []Row{
		{Course: "CS 3110", Term: "SP24", MeanGPA: 3.4, GradeA: 45, GradeB: 30, GradeC: 15, GradeD: 5, GradeF: 5},
		{Course: "CS 3110", Term: "FA24", MeanGPA: 3.2, GradeA: 40, GradeB: 30, GradeC: 20, GradeD: 5, GradeF: 5},
	}
	a, err := Aggregate("CS 3110", rows)
	require.NoError(t, err)
	b, err := Aggregate("CS 3110", []Row{rows[1], rows[0]})
	require.NoError(t, err)

	va, err := a.DataVersion()
	require.NoError(t, err)
	vb, err := b.DataVersion()
	require.NoError(t, err)
	require.Equal(t, va, vb, "data version independent of CSV row order")
}

func TestAggregateHistogramDrift(t *testing.T) {
	_, err := Aggregate("CS 9999", []Row{
		{Course: "CS 9999", Term: "FA24", MeanGPA: 3.0, GradeA: 50, GradeB: 30, GradeC: 10, GradeD: 0, GradeF: 0},
	})
	require.Error(t, err, "histogram summing to 90 exceeds the drift tolerance")
}

func TestAggregateNoRows(t *testing.T) {
	_, err := Aggregate("CS 1110", nil)
	require.Error(t, err)
}

func TestPstdev(t *testing.T) {
	require.InDelta(t, math.Sqrt(2.0/3.0), pstdev([]float64{1, 2, 3}), 1e-12)
	require.Zero(t, pstdev([]float64{5}))
}
