package advisor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campusgraph/advisor/internal/contextsrc"
	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/store"
)

func testState() *store.ConversationState {
	gpa := 3.4
	return &store.ConversationState{
		ID: "conv-1",
		Profile: &store.StudentProfile{
			ID:        "stu-1",
			Major:     "CS",
			Track:     "ML",
			Year:      "junior",
			Completed: []course.Code{"CS 1110", "CS 2110"},
			Interests: []string{"machine learning"},
			GPA:       &gpa,
		},
		Messages: []store.Message{
			{Role: store.RoleUser, Content: "what should I take next?"},
			{Role: store.RoleAssistant, Content: "tell me about your interests"},
		},
	}
}

func TestBuildPromptSections(t *testing.T) {
	budget := contextsrc.NewBudgetManager(4000)
	sources := []contextsrc.Source{
		{Kind: contextsrc.KindVectorSearch, Data: map[string]any{"summary_text": "CS 3110 is similar"},
			SourceTag: "vector", Version: 2},
		{Kind: contextsrc.KindGradesData, Data: map[string]any{"mean_gpa": 3.2},
			SourceTag: "grades", Version: 1},
	}

	prompt := BuildPrompt(budget, testState(), sources, "thinking about CS 3110")

	require.Contains(t, prompt, "## system_template")
	require.Contains(t, prompt, "academic advisor")
	require.Contains(t, prompt, "## student_profile")
	require.Contains(t, prompt, "Major: CS (ML)")
	require.Contains(t, prompt, "Completed: CS 1110, CS 2110")
	require.Contains(t, prompt, "GPA: 3.40")
	require.Contains(t, prompt, "## conversation_history")
	require.Contains(t, prompt, "user: what should I take next?")
	require.Contains(t, prompt, "## vector_search\nCS 3110 is similar",
		"summary_text wins over the structured payload")
	require.Contains(t, prompt, "## grades_data\n{\"mean_gpa\":3.2}")
	require.Contains(t, prompt, "## sources\ngrades:v1, vector:v2", "tags sorted for reproducibility")
	require.True(t, strings.HasSuffix(prompt, "## user\nthinking about CS 3110\n"))
}

func TestBuildPromptCeilingClamp(t *testing.T) {
	budget := contextsrc.NewBudgetManager(100)
	state := testState()
	state.Messages = nil
	prompt := BuildPrompt(budget, state, nil, strings.Repeat("long question ", 200))
	require.LessOrEqual(t, len(prompt), 100*4, "final prompt never exceeds the ceiling in chars")
}

func TestBuildPromptEmptyProfileAndHistory(t *testing.T) {
	budget := contextsrc.NewBudgetManager(2000)
	state := &store.ConversationState{ID: "conv-2"}
	prompt := BuildPrompt(budget, state, nil, "hello")

	require.NotContains(t, prompt, "## student_profile")
	require.NotContains(t, prompt, "## conversation_history")
	require.NotContains(t, prompt, "## sources")
	require.Contains(t, prompt, "## user\nhello")
}

func TestSourceTagsDedupe(t *testing.T) {
	tags := sourceTags([]contextsrc.Source{
		{SourceTag: "grades", Version: 2},
		{SourceTag: "grades", Version: 2},
		{SourceTag: "vector", Version: 1},
		{SourceTag: ""},
	})
	require.Equal(t, []string{"grades:v2", "vector:v1"}, tags)
}

func TestRenderHistoryBoundsTail(t *testing.T) {
	state := &store.ConversationState{}
	for i := 0; i < 10; i++ {
		state.Messages = append(state.Messages, store.Message{Role: store.RoleUser, Content: string(rune('a' + i))})
	}
	rendered := renderHistory(state)
	require.NotContains(t, rendered, "user: a", "older turns fall out of the tail")
	require.Contains(t, rendered, "user: e")
	require.Contains(t, rendered, "user: j")
}
