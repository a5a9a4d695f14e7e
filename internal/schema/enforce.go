package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed advisor_response.json
var advisorSchemaJSON []byte

type (
	// Enforcer validates model output against the advisor response schema.
	// Safe for concurrent use; the compiled schema is immutable.
	Enforcer struct {
		schema  *jsonschema.Schema
		metrics *Metrics
	}

	// Metrics carries the enforcement instrumentation. Nil disables it.
	Metrics struct {
		Pass      prometheus.Counter
		RetryPass prometheus.Counter
		Fail      prometheus.Counter
		Fallback  prometheus.Counter
		Duration  prometheus.Histogram
	}
)

var (
	fencedRE = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

	// smartQuotes maps typographic quotes to their ASCII forms.
	smartQuotes = strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)

	trailingCommaRE = regexp.MustCompile(`,\s*([}\]])`)
)

// NewMetrics registers the enforcement collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Pass: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "json_pass_total", Help: "First-pass schema validations.",
		}),
		RetryPass: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "json_retry_pass_total", Help: "Validations that passed after the re-ask.",
		}),
		Fail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "json_fail_total", Help: "Validations that failed a pass.",
		}),
		Fallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "json_fallback_total", Help: "Regex fallback extractions after two strict failures.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "json_enforce_ms",
			Help:    "Schema enforcement latency in milliseconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50},
		}),
	}
	reg.MustRegister(m.Pass, m.RetryPass, m.Fail, m.Fallback, m.Duration)
	return m
}

// NewEnforcer compiles the embedded advisor response schema. metrics may be
// nil.
func NewEnforcer(metrics *Metrics) (*Enforcer, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(advisorSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("schema: decode embedded schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("advisor_response.json", doc); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	compiled, err := compiler.Compile("advisor_response.json")
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return &Enforcer{schema: compiled, metrics: metrics}, nil
}

// SchemaJSON returns the raw advisor response schema for re-ask prompts.
func SchemaJSON() string { return string(advisorSchemaJSON) }

// Extract pulls the most plausible JSON candidate out of model text. Order:
// fenced code block, balanced-brace scan from the first '{', raw text.
func Extract(text string) string {
	if m := fencedRE.FindStringSubmatch(text); m != nil {
		if candidate := strings.TrimSpace(m[1]); candidate != "" {
			return candidate
		}
	}
	if candidate := balancedBraces(text); candidate != "" {
		return candidate
	}
	return strings.TrimSpace(text)
}

// balancedBraces scans from the first '{' tracking string literals and escape
// sequences, returning the shortest balanced object, or "" when none closes.
func balancedBraces(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// Repair applies the conservative normalizations: smart quotes to ASCII,
// enclosing backticks stripped, trailing commas removed, and single quotes
// promoted to double quotes only when the text contains no double quote at
// all. Repair is idempotent.
func Repair(s string) string {
	s = smartQuotes.Replace(s)
	s = strings.TrimSpace(s)
	for strings.HasPrefix(s, "`") && strings.HasSuffix(s, "`") && len(s) > 1 {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = trailingCommaRE.ReplaceAllString(s, "$1")
	if !strings.Contains(s, `"`) && strings.Contains(s, "'") {
		s = strings.ReplaceAll(s, "'", `"`)
	}
	return s
}

// Enforce runs extract, repair, decode, validate, and sanitize over raw model
// text. retry marks the pass as the post-re-ask attempt for metrics.
func (e *Enforcer) Enforce(raw string, retry bool) (*AdvisorResponse, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Duration.Observe(float64(time.Since(start).Microseconds()) / 1000)
		}
	}()
	candidate := Repair(Extract(raw))

	var generic any
	if err := json.Unmarshal([]byte(candidate), &generic); err != nil {
		e.fail()
		return nil, &EnforceError{Stage: StageJSONDecode, Detail: err.Error()}
	}
	if err := e.schema.Validate(generic); err != nil {
		e.fail()
		return nil, &EnforceError{Stage: StageSchemaValidate, Detail: err.Error()}
	}
	var resp AdvisorResponse
	if err := json.Unmarshal([]byte(candidate), &resp); err != nil {
		e.fail()
		return nil, &EnforceError{Stage: StageJSONDecode, Detail: err.Error()}
	}
	resp.Sanitize()
	if len(resp.Recommendations) == 0 {
		e.fail()
		return nil, &EnforceError{Stage: StageSchemaValidate, Detail: "no valid recommendations after sanitize"}
	}
	if e.metrics != nil {
		if retry {
			e.metrics.RetryPass.Inc()
		} else {
			e.metrics.Pass.Inc()
		}
	}
	return &resp, nil
}

func (e *Enforcer) fail() {
	if e.metrics != nil {
		e.metrics.Fail.Inc()
	}
}

// ReaskPrompt builds the single repair re-ask sent through the structured
// JSON completion path.
func ReaskPrompt(originalPrompt string) string {
	return originalPrompt +
		"\n\nNow output ONLY a JSON object that conforms to this schema. No prose, no code fences.\nSCHEMA:\n" +
		SchemaJSON()
}

// fallbackCodeRE matches strict four-digit course codes in prose.
var fallbackCodeRE = regexp.MustCompile(`\b([A-Z]{2,4} [0-9]{4})\b`)

// FallbackExtract builds synthetic low-confidence recommendations from course
// codes found in raw text. It exists only to keep the client responsive after
// two strict-JSON failures; callers must stamp the result as unvalidated.
func (e *Enforcer) FallbackExtract(raw string) *AdvisorResponse {
	if e.metrics != nil {
		e.metrics.Fallback.Inc()
	}
	resp := &AdvisorResponse{
		Constraints: []string{},
		NextActions: []NextAction{},
		Provenance:  []string{"regex_fallback"},
	}
	seen := make(map[string]bool)
	for _, m := range fallbackCodeRE.FindAllStringSubmatch(raw, -1) {
		code := m[1]
		if seen[code] {
			continue
		}
		seen[code] = true
		resp.Recommendations = append(resp.Recommendations, Recommendation{
			CourseCode: code,
			Title:      code,
			Rationale:  "Mentioned in the advisor reply.",
			Priority:   len(resp.Recommendations) + 1,
			NextAction: ActionCheckPrereqs,
			Source:     "regex_fallback",
		})
		if len(resp.Recommendations) == 3 {
			break
		}
	}
	return resp
}
