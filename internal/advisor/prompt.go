package advisor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/campusgraph/advisor/internal/contextsrc"
	"github.com/campusgraph/advisor/internal/store"
)

// systemTemplate frames the model's role and output contract.
const systemTemplate = `You are an academic advisor for course planning. Ground every
recommendation in the context sections below and cite course codes in
"SUBJ NNNN" form. After your advice, output a JSON object with fields
recommendations, constraints, next_actions, notes, and provenance.`

// historyTail bounds the conversation tail included in the prompt.
const historyTail = 6

// BuildPrompt assembles the chat prompt from the system template, profile,
// conversation tail, provider sections, and the user message, under the
// budget manager's ceiling. The returned prompt is clamped as a safety net
// even when the per-section budgets already fit.
func BuildPrompt(budget *contextsrc.TokenBudgetManager, state *store.ConversationState, sources []contextsrc.Source, message string) string {
	sections := []contextsrc.BudgetSection{
		{Name: contextsrc.SectionTemplate, Text: systemTemplate},
		{Name: contextsrc.SectionProfile, Text: renderProfile(state.Profile)},
		{Name: contextsrc.SectionHistory, Text: renderHistory(state)},
	}
	for _, src := range sources {
		sections = append(sections, contextsrc.BudgetSection{
			Name: string(src.Kind),
			Text: renderSource(src),
		})
	}
	allocated := budget.Allocate(sections, len(state.Messages))

	var b strings.Builder
	for _, s := range allocated {
		if s.Text == "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", s.Name, s.Text)
	}
	if tags := sourceTags(sources); len(tags) > 0 {
		fmt.Fprintf(&b, "## sources\n%s\n\n", strings.Join(tags, ", "))
	}
	fmt.Fprintf(&b, "## user\n%s\n", message)
	return contextsrc.Truncate(b.String(), budget.Ceiling())
}

// sourceTags renders "source:v<version>" attribution for the prompt footer,
// deduplicated and sorted for reproducibility.
func sourceTags(sources []contextsrc.Source) []string {
	seen := make(map[string]bool, len(sources))
	tags := make([]string, 0, len(sources))
	for _, src := range sources {
		tag := fmt.Sprintf("%s:v%d", src.SourceTag, src.Version)
		if src.SourceTag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func renderProfile(p *store.StudentProfile) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	if p.Major != "" {
		fmt.Fprintf(&b, "Major: %s", p.Major)
		if p.Track != "" {
			fmt.Fprintf(&b, " (%s)", p.Track)
		}
		b.WriteString("\n")
	}
	if p.Year != "" {
		fmt.Fprintf(&b, "Year: %s\n", p.Year)
	}
	if len(p.Completed) > 0 {
		fmt.Fprintf(&b, "Completed: %s\n", joinCodes(p.Completed))
	}
	if len(p.Current) > 0 {
		fmt.Fprintf(&b, "Currently taking: %s\n", joinCodes(p.Current))
	}
	if len(p.Planned) > 0 {
		fmt.Fprintf(&b, "Planned: %s\n", joinCodes(p.Planned))
	}
	if len(p.Interests) > 0 {
		fmt.Fprintf(&b, "Interests: %s\n", strings.Join(p.Interests, ", "))
	}
	if p.GPA != nil {
		fmt.Fprintf(&b, "GPA: %.2f", *p.GPA)
		if p.GPAGoal != nil {
			fmt.Fprintf(&b, " (goal %.2f)", *p.GPAGoal)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderHistory keeps the last few turns, oldest first, so the model sees
// the immediate conversation shape without replaying the whole session.
func renderHistory(state *store.ConversationState) string {
	tail := state.Tail(historyTail)
	if len(tail) == 0 {
		return ""
	}
	var b strings.Builder
	for _, msg := range tail {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSource(src contextsrc.Source) string {
	// Prefer a provider-supplied summary when present; otherwise embed the
	// structured payload directly.
	if text, ok := src.Data["summary_text"].(string); ok && text != "" {
		return text
	}
	b, err := json.Marshal(src.Data)
	if err != nil {
		return ""
	}
	return string(b)
}

func joinCodes[T ~string](codes []T) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
