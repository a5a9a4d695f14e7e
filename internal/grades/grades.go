// Package grades loads historical grade distributions from CSV and
// aggregates them per course. Aggregation is a pure function over the sorted
// rows so that data versions are reproducible across processes.
package grades

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/campusgraph/advisor/internal/canon"
	"github.com/campusgraph/advisor/internal/course"
)

type (
	// Row is one (course, term) record from the CSV.
	Row struct {
		Course               course.Code `json:"course_id"`
		Term                 string      `json:"term"`
		MeanGPA              float64     `json:"mean_gpa"`
		GradeA               float64     `json:"grade_a_pct"`
		GradeB               float64     `json:"grade_b_pct"`
		GradeC               float64     `json:"grade_c_pct"`
		GradeD               float64     `json:"grade_d_pct"`
		GradeF               float64     `json:"grade_f_pct"`
		Enrollment           int         `json:"enrollment_count"`
		DifficultyPercentile float64     `json:"difficulty_percentile"`
	}

	// Histogram holds letter-grade percentages.
	Histogram struct {
		A float64 `json:"A"`
		B float64 `json:"B"`
		C float64 `json:"C"`
		D float64 `json:"D"`
		F float64 `json:"F"`
	}

	// Stats is the aggregate across all terms for one course.
	Stats struct {
		Course               course.Code `json:"course_code"`
		Terms                []string    `json:"terms"`
		MeanGPA              float64     `json:"mean_gpa"`
		StdevGPA             float64     `json:"stdev_gpa"`
		PassRate             float64     `json:"pass_rate"`
		Histogram            Histogram   `json:"histogram"`
		Enrollment           int         `json:"enrollment_count"`
		DifficultyPercentile float64     `json:"difficulty_percentile"`
	}

	// Dataset is the parsed CSV grouped by course, with the file hash used
	// for cache keys and provenance.
	Dataset struct {
		ByCourse map[course.Code][]Row
		FileHash string
	}
)

// histogramTolerance is the allowed drift of a histogram sum from 100.
const histogramTolerance = 5.0

// LoadFile reads and parses the grades CSV, recording SHA-256 of the bytes.
func LoadFile(path string) (*Dataset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("grades: read %s: %w", path, err)
	}
	ds, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("grades: parse %s: %w", path, err)
	}
	return ds, nil
}

// Parse decodes CSV bytes into a Dataset. The first row is a header; rows
// with malformed numerics are skipped rather than failing the whole file.
func Parse(b []byte) (*Dataset, error) {
	r := csv.NewReader(bytes.NewReader(b))
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	for _, required := range []string{"course_id", "term", "mean_gpa", "grade_a_pct", "grade_b_pct", "grade_c_pct", "grade_d_pct", "grade_f_pct", "enrollment_count", "difficulty_percentile"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	ds := &Dataset{ByCourse: make(map[course.Code][]Row), FileHash: canon.SHA256HexBytes(b)}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row: %w", err)
		}
		code, err := course.Normalize(rec[col["course_id"]])
		if err != nil {
			continue
		}
		row := Row{Course: code, Term: rec[col["term"]]}
		ok := true
		for _, f := range []struct {
			name string
			dst  *float64
		}{
			{"mean_gpa", &row.MeanGPA},
			{"grade_a_pct", &row.GradeA},
			{"grade_b_pct", &row.GradeB},
			{"grade_c_pct", &row.GradeC},
			{"grade_d_pct", &row.GradeD},
			{"grade_f_pct", &row.GradeF},
			{"difficulty_percentile", &row.DifficultyPercentile},
		} {
			v, err := strconv.ParseFloat(rec[col[f.name]], 64)
			if err != nil {
				ok = false
				break
			}
			*f.dst = v
		}
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(rec[col["enrollment_count"]]); err == nil {
			row.Enrollment = n
		}
		ds.ByCourse[code] = append(ds.ByCourse[code], row)
	}
	return ds, nil
}

// Aggregate folds all terms for one course into Stats. Rows are sorted by
// term first so the result is stable regardless of CSV order. Returns an
// error when there are no rows or the averaged histogram drifts more than
// the tolerance from 100.
func Aggregate(code course.Code, rows []Row) (*Stats, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("grades: no rows for %s", code)
	}
	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Term < sorted[j].Term })

	stats := &Stats{Course: code}
	var gpas []float64
	for _, row := range sorted {
		stats.Terms = append(stats.Terms, row.Term)
		gpas = append(gpas, row.MeanGPA)
		stats.Histogram.A += row.GradeA
		stats.Histogram.B += row.GradeB
		stats.Histogram.C += row.GradeC
		stats.Histogram.D += row.GradeD
		stats.Histogram.F += row.GradeF
		stats.Enrollment += row.Enrollment
		stats.DifficultyPercentile += row.DifficultyPercentile
	}
	n := float64(len(sorted))
	stats.MeanGPA = mean(gpas)
	stats.StdevGPA = pstdev(gpas)
	stats.Histogram.A /= n
	stats.Histogram.B /= n
	stats.Histogram.C /= n
	stats.Histogram.D /= n
	stats.Histogram.F /= n
	stats.DifficultyPercentile /= n

	sum := stats.Histogram.A + stats.Histogram.B + stats.Histogram.C + stats.Histogram.D + stats.Histogram.F
	if math.Abs(sum-100) > histogramTolerance {
		return nil, fmt.Errorf("grades: histogram for %s sums to %.1f", code, sum)
	}
	stats.PassRate = (stats.Histogram.A + stats.Histogram.B + stats.Histogram.C + stats.Histogram.D) / 100
	return stats, nil
}

// DataVersion returns SHA-256 of the canonical JSON of the aggregate.
func (s *Stats) DataVersion() (string, error) {
	return canon.SHA256Hex(s)
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// pstdev is the population standard deviation, matching the reference
// aggregation exactly (not the sample estimator).
func pstdev(xs []float64) float64 {
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
