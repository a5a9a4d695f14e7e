package mock

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/schema"
)

func TestLoadSeed(t *testing.T) {
	seed, err := LoadSeed()
	require.NoError(t, err)
	require.Len(t, seed.Courses, 10)
	require.NotEmpty(t, seed.Edges)
	require.NotEmpty(t, seed.Requirements)
	require.NotEmpty(t, seed.Bundles)

	again, err := LoadSeed()
	require.NoError(t, err)
	require.Same(t, seed, again, "seed is parsed once and memoized")
}

func TestSeedLookups(t *testing.T) {
	seed, err := LoadSeed()
	require.NoError(t, err)

	c := seed.CourseByCode("CS 2110")
	require.NotNil(t, c)
	require.Equal(t, "CS", c.Subject)
	require.Equal(t, 4, c.Credits)
	require.Nil(t, seed.CourseByCode("CS 9999"))

	require.Equal(t, []string{"CS 1110"}, seed.PrereqsOf("CS 2110"))
	require.ElementsMatch(t, []string{"CS 2110"}, seed.PrereqsOf("CS 3110"))
	require.Empty(t, seed.PrereqsOf("CS 1110"))
	require.Empty(t, seed.PrereqsOf("CS 4780"), "RECOMMENDED edges are not prerequisites")
}

func TestRosterServesSeedBundles(t *testing.T) {
	roster, err := NewRoster()
	require.NoError(t, err)

	bundles, err := roster.SectionBundles(context.Background(), "FA26", "CS 1110")
	require.NoError(t, err)
	require.NotEmpty(t, bundles)
	for _, b := range bundles {
		require.Equal(t, course.Code("CS 1110"), b.Course)
		require.NotEmpty(t, b.Meetings)
		for _, m := range b.Meetings {
			require.NoError(t, m.Validate())
		}
	}

	bundles, err = roster.SectionBundles(context.Background(), "FA26", "NOPE 9999")
	require.NoError(t, err)
	require.Empty(t, bundles)
}

func TestEmbedderDeterministic(t *testing.T) {
	emb := NewEmbedder(0)

	a, err := emb.Embed(context.Background(), "functional programming in OCaml")
	require.NoError(t, err)
	require.Len(t, a, 64, "dims <= 0 defaults to 64")

	b, err := emb.Embed(context.Background(), "functional programming in OCaml")
	require.NoError(t, err)
	require.Equal(t, a, b, "same text always embeds to the same vector")

	c, err := emb.Embed(context.Background(), "multivariable calculus")
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	small, err := NewEmbedder(8).Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, small, 8)
}

func TestVectorIndexFindsVocabularyOverlap(t *testing.T) {
	emb := NewEmbedder(64)
	idx, err := VectorIndex(emb)
	require.NoError(t, err)

	query, err := emb.Embed(context.Background(),
		"CS 3110 Data Structures and Functional Programming")
	require.NoError(t, err)

	hits, err := idx.Search(context.Background(), query, 3, 0)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "CS 3110", hits[0].Code, "query sharing a course's vocabulary finds it first")
}

func TestBackendStreamTokenizesReply(t *testing.T) {
	b := NewBackend("primary")
	require.Equal(t, "primary", b.Name())

	stream, err := b.Stream(context.Background(), "Tell me about CS 3110", 0)
	require.NoError(t, err)
	defer stream.Close()

	var reply strings.Builder
	tokens := 0
	for stream.Next() {
		reply.WriteString(stream.Token())
		tokens++
	}
	require.NoError(t, stream.Err())
	require.Greater(t, tokens, 1, "reply streams as multiple tokens")
	require.Contains(t, reply.String(), "CS 3110")
	require.Contains(t, reply.String(), `"recommendations"`)
}

func TestBackendCompleteJSONMode(t *testing.T) {
	b := NewBackend("primary")

	out, err := b.Complete(context.Background(), "Should I take CS 3110 or CS 4820?", 0, true)
	require.NoError(t, err)

	enforcer, err := schema.NewEnforcer(nil)
	require.NoError(t, err)
	env, err := enforcer.Enforce(out, false)
	require.NoError(t, err, "scripted envelope passes schema enforcement")
	require.Len(t, env.Recommendations, 2)
	require.Equal(t, "CS 3110", env.Recommendations[0].CourseCode)
	require.Equal(t, "Data Structures and Functional Programming", env.Recommendations[0].Title)
	require.Equal(t, 1, env.Recommendations[0].Priority)
	require.Equal(t, "CS 4820", env.Recommendations[1].CourseCode)
	require.Equal(t, []string{"mock"}, env.Provenance)
}

func TestBackendCompleteNoMentionsDefaults(t *testing.T) {
	b := NewBackend("fallback")

	out, err := b.Complete(context.Background(), "what should I take first?", 0, false)
	require.NoError(t, err)
	require.Contains(t, out, "CS 1110", "no mentioned courses falls back to the intro course")
}
