// Package schema defines the advisor response envelope and enforces it on
// model output. Enforcement is staged: extract a JSON candidate, apply a
// conservative idempotent repair, validate against the embedded JSON schema,
// then sanitize the validated value. The orchestrator drives the single
// re-ask on validation failure; this package only reports which stage failed.
package schema

import (
	"fmt"
	"regexp"
	"strings"
)

type (
	// NextActionKind enumerates the actions a recommendation can suggest.
	NextActionKind string

	// Recommendation is one ranked course suggestion in the envelope.
	Recommendation struct {
		CourseCode        string         `json:"course_code"`
		Title             string         `json:"title"`
		Rationale         string         `json:"rationale"`
		Priority          int            `json:"priority"`
		NextAction        NextActionKind `json:"next_action"`
		DifficultyWarning string         `json:"difficulty_warning,omitempty"`
		Source            string         `json:"source,omitempty"`
	}

	// NextAction is a standalone follow-up step outside any recommendation.
	NextAction struct {
		Type       string `json:"type"`
		CourseCode string `json:"course_code,omitempty"`
	}

	// AdvisorResponse is the enforced envelope for every assistant turn.
	AdvisorResponse struct {
		Recommendations []Recommendation `json:"recommendations"`
		Constraints     []string         `json:"constraints"`
		NextActions     []NextAction     `json:"next_actions"`
		Notes           string           `json:"notes,omitempty"`
		Provenance      []string         `json:"provenance"`
	}

	// Stage identifies which enforcement stage rejected the payload.
	Stage string

	// EnforceError reports an enforcement failure with its stage.
	EnforceError struct {
		Stage  Stage
		Detail string
	}
)

// Next-action kinds.
const (
	ActionAddToPlan           NextActionKind = "add_to_plan"
	ActionCheckPrereqs        NextActionKind = "check_prereqs"
	ActionConsiderAlternative NextActionKind = "consider_alternative"
	ActionWaitlistMonitor     NextActionKind = "waitlist_monitor"
)

// Enforcement stages.
const (
	StageJSONDecode     Stage = "json_decode"
	StageSchemaValidate Stage = "schema_validate"
)

const (
	// MaxRecommendations caps the sanitized recommendation list.
	MaxRecommendations = 5
	// MaxNotesLen caps the notes field after sanitization.
	MaxNotesLen = 1000
)

// sanitizeCodeRE is the post-normalization shape a recommendation course code
// must satisfy to survive sanitization.
var sanitizeCodeRE = regexp.MustCompile(`^([A-Z]{2,4}) ([0-9]{4}[A-Z]?)$`)

var wsRE = regexp.MustCompile(`\s+`)

// Error implements error.
func (e *EnforceError) Error() string {
	return fmt.Sprintf("schema enforce (%s): %s", e.Stage, e.Detail)
}

// Sanitize normalizes a validated envelope in place. It never fails: course
// codes are canonicalized and filtered, duplicates dropped (first wins), the
// list capped, priorities reassigned 1..n, and notes truncated.
func (r *AdvisorResponse) Sanitize() {
	var kept []Recommendation
	seen := make(map[string]bool)
	for _, rec := range r.Recommendations {
		code := strings.ToUpper(wsRE.ReplaceAllString(strings.TrimSpace(rec.CourseCode), " "))
		if !sanitizeCodeRE.MatchString(code) {
			continue
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		rec.CourseCode = code
		kept = append(kept, rec)
		if len(kept) == MaxRecommendations {
			break
		}
	}
	for i := range kept {
		kept[i].Priority = i + 1
	}
	r.Recommendations = kept
	if len(r.Notes) > MaxNotesLen {
		r.Notes = r.Notes[:MaxNotesLen]
	}
}
