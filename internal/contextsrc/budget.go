package contextsrc

type (
	// BudgetSection is one named prompt section competing for tokens.
	BudgetSection struct {
		Name string
		Text string
	}

	// TokenBudgetManager allocates a bounded token budget across prompt
	// sections by priority, scaling budgets down as conversations grow.
	TokenBudgetManager struct {
		ceiling int
	}

	// allocation pairs a section with its adjusted token budget.
	allocation struct {
		name   string
		budget int
	}
)

// Section names recognized by the budget manager.
const (
	SectionProfile    = "student_profile"
	SectionVector     = "vector_search"
	SectionGraph      = "graph_analysis"
	SectionProfessor  = "professor_intel"
	SectionDifficulty = "difficulty_data"
	SectionEnrollment = "enrollment_data"
	SectionHistory    = "conversation_history"
	SectionTemplate   = "system_template"
)

// DefaultCeiling is the total prompt token ceiling.
const DefaultCeiling = 1200

// baseBudgets are the per-section token budgets before scaling.
var baseBudgets = map[string]int{
	SectionProfile:    200,
	SectionVector:     150,
	SectionGraph:      60,
	SectionProfessor:  120,
	SectionDifficulty: 80,
	SectionEnrollment: 80,
	SectionHistory:    300,
	SectionTemplate:   150,
}

// priorityWeights scale each section's budget by importance. Sections not
// listed keep weight 1.0.
var priorityWeights = map[string]float64{
	SectionProfile:    1.0,
	SectionVector:     0.8,
	SectionGraph:      0.9,
	SectionProfessor:  0.85,
	SectionDifficulty: 0.7,
	SectionEnrollment: 0.6,
}

// allocationOrder fixes the priority order in which sections claim budget.
var allocationOrder = []string{
	SectionTemplate,
	SectionProfile,
	SectionHistory,
	SectionVector,
	SectionGraph,
	SectionProfessor,
	SectionDifficulty,
	SectionEnrollment,
}

// NewBudgetManager builds a manager with the given total ceiling.
// ceiling <= 0 takes the default.
func NewBudgetManager(ceiling int) *TokenBudgetManager {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &TokenBudgetManager{ceiling: ceiling}
}

// Ceiling returns the configured total token ceiling.
func (m *TokenBudgetManager) Ceiling() int { return m.ceiling }

// SectionBudget returns the adjusted budget for a named section given the
// conversation length. Unknown sections get a conservative 80-token budget.
func (m *TokenBudgetManager) SectionBudget(name string, conversationLen int) int {
	base, ok := baseBudgets[name]
	if !ok {
		base = 80
	}
	weight := 1.0
	if w, ok := priorityWeights[name]; ok {
		weight = w
	}
	return int(float64(base) * weight * lengthFactor(conversationLen))
}

// Allocate distributes the ceiling across sections in priority order,
// truncating each section's text to its adjusted budget. Sections that find
// the budget exhausted are dropped. Sections absent from the fixed order are
// appended after it in input order.
func (m *TokenBudgetManager) Allocate(sections []BudgetSection, conversationLen int) []BudgetSection {
	byName := make(map[string]int, len(sections))
	for i, s := range sections {
		byName[s.Name] = i
	}

	var plan []allocation
	claimed := make(map[string]bool)
	for _, name := range allocationOrder {
		if _, present := byName[name]; present {
			plan = append(plan, allocation{name: name, budget: m.SectionBudget(name, conversationLen)})
			claimed[name] = true
		}
	}
	for _, s := range sections {
		if !claimed[s.Name] {
			plan = append(plan, allocation{name: s.Name, budget: m.SectionBudget(s.Name, conversationLen)})
		}
	}

	remaining := m.ceiling
	out := make([]BudgetSection, 0, len(sections))
	for _, a := range plan {
		if remaining <= 0 {
			break
		}
		budget := a.budget
		if budget > remaining {
			budget = remaining
		}
		text := Truncate(sections[byName[a.name]].Text, budget)
		if text == "" {
			continue
		}
		remaining -= EstimateTokens(text)
		out = append(out, BudgetSection{Name: a.name, Text: text})
	}
	// Preserve the caller's section order in the assembled prompt.
	ordered := make([]BudgetSection, 0, len(out))
	kept := make(map[string]BudgetSection, len(out))
	for _, s := range out {
		kept[s.Name] = s
	}
	for _, s := range sections {
		if k, ok := kept[s.Name]; ok {
			ordered = append(ordered, k)
		}
	}
	return ordered
}

// Truncate clamps text to a token budget by character count (4 chars per
// token), appending an ellipsis when it cut anything.
func Truncate(text string, tokenBudget int) string {
	if tokenBudget <= 0 {
		return ""
	}
	maxChars := tokenBudget * 4
	if len(text) <= maxChars {
		return text
	}
	if maxChars <= 3 {
		return text[:maxChars]
	}
	return text[:maxChars-3] + "..."
}

// lengthFactor shrinks budgets as conversations grow.
func lengthFactor(n int) float64 {
	switch {
	case n <= 5:
		return 1.0
	case n <= 10:
		return 0.85
	default:
		return 0.7
	}
}
