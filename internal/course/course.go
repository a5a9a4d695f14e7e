// Package course holds the shared course-planning domain kernel: canonical
// course codes, meeting times, prerequisite edges, and grade statistics. Every
// other package keys its caches and results on the canonical forms defined
// here, so normalization must be deterministic and idempotent.
package course

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type (
	// Code is a canonical course code of the form "SUBJ NNNN" (for example
	// "CS 3110"). Construct codes through Normalize; a Code built any other
	// way may not satisfy the canonical pattern.
	Code string

	// EdgeKind classifies a prerequisite relationship between two courses.
	EdgeKind string

	// PrerequisiteEdge is a typed, weighted edge in the prerequisite graph.
	PrerequisiteEdge struct {
		From       Code     `json:"from"`
		To         Code     `json:"to"`
		Kind       EdgeKind `json:"kind"`
		Confidence float64  `json:"confidence"`
		Weight     float64  `json:"weight"`
	}
)

const (
	// EdgePrerequisite marks a strict prerequisite.
	EdgePrerequisite EdgeKind = "PREREQUISITE"
	// EdgePrerequisiteOr marks one alternative within an OR group.
	EdgePrerequisiteOr EdgeKind = "PREREQUISITE_OR"
	// EdgeCorequisite marks a corequisite taken in the same term.
	EdgeCorequisite EdgeKind = "COREQUISITE"
	// EdgeRecommended marks a soft recommendation.
	EdgeRecommended EdgeKind = "RECOMMENDED"
	// EdgeUnsure marks an edge the catalog ingest could not classify.
	EdgeUnsure EdgeKind = "UNSURE"
)

var (
	// canonicalRE is the shape every canonical Code must satisfy.
	canonicalRE = regexp.MustCompile(`^[A-Z]{2,4} [0-9]{3,4}[A-Z]?$`)

	// mentionRE finds course-code mentions in free text. It is deliberately
	// looser than canonicalRE: users write "cs3110", "CS 3110" or "CHEM 2090".
	mentionRE = regexp.MustCompile(`([A-Za-z]{2,6}) ?([0-9]{3,4}[A-Za-z]?)`)

	wsRE = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes a raw course code: whitespace collapsed, upper-cased,
// a single space between subject and number. It returns an error when the
// result does not match the canonical pattern. Normalize is idempotent:
// Normalize(Normalize(x)) == Normalize(x) for every accepted input.
func Normalize(raw string) (Code, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = wsRE.ReplaceAllString(s, " ")
	if !strings.Contains(s, " ") {
		// Accept compact forms like "CS3110" by splitting at the first digit.
		if i := strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' }); i > 0 {
			s = s[:i] + " " + s[i:]
		}
	}
	if !canonicalRE.MatchString(s) {
		return "", fmt.Errorf("invalid course code %q", raw)
	}
	return Code(s), nil
}

// MustNormalize is Normalize for trusted literals; it panics on invalid input.
// Intended for tests and static fixtures only.
func MustNormalize(raw string) Code {
	c, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// IsCanonical reports whether s already satisfies the canonical pattern.
func IsCanonical(s string) bool { return canonicalRE.MatchString(s) }

// Subject returns the subject prefix of the code ("CS" for "CS 3110").
func (c Code) Subject() string {
	if i := strings.IndexByte(string(c), ' '); i > 0 {
		return string(c)[:i]
	}
	return string(c)
}

// Number returns the numeric part of the code (3110 for "CS 3110"). The
// trailing letter suffix, when present, is ignored.
func (c Code) Number() int {
	i := strings.IndexByte(string(c), ' ')
	if i < 0 {
		return 0
	}
	n := 0
	for _, r := range string(c)[i+1:] {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// Level returns the thousands level of the course number (3000 for "CS 3110").
func (c Code) Level() int { return c.Number() / 1000 * 1000 }

// ExtractMentions scans free text for course-code mentions and returns the
// canonical codes in order of first appearance, deduplicated. At most max
// codes are returned; max <= 0 means no cap.
func ExtractMentions(text string, max int) []Code {
	var out []Code
	seen := make(map[Code]struct{})
	for _, m := range mentionRE.FindAllStringSubmatch(text, -1) {
		c, err := Normalize(m[1] + " " + m[2])
		if err != nil {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// SortCodes returns a sorted copy of codes. Used wherever a course set becomes
// part of a cache key and must hash deterministically.
func SortCodes(codes []Code) []Code {
	out := make([]Code, len(codes))
	copy(out, codes)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CodeStrings converts codes to their string forms, preserving order.
func CodeStrings(codes []Code) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}
