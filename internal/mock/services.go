package mock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/campusgraph/advisor/internal/course"
	"github.com/campusgraph/advisor/internal/llm"
	"github.com/campusgraph/advisor/internal/vector"
)

type (
	// Roster serves section bundles from the embedded seed.
	Roster struct {
		seed *Seed
	}

	// Embedder derives a stable unit-free vector from the text hash. Texts
	// sharing seed-course vocabulary land near those courses in the mock
	// index.
	Embedder struct {
		dims int
	}

	// Backend is a scripted LLM backend: it emits a short advisory reply
	// mentioning the courses found in the prompt, followed by a JSON
	// envelope recommending them.
	Backend struct {
		name string
	}

	scriptStream struct {
		tokens []string
		pos    int
	}
)

// NewRoster builds a roster fetcher over the embedded seed.
func NewRoster() (*Roster, error) {
	seed, err := LoadSeed()
	if err != nil {
		return nil, err
	}
	return &Roster{seed: seed}, nil
}

// SectionBundles implements schedule.RosterFetcher.
func (r *Roster) SectionBundles(_ context.Context, _ string, code course.Code) ([]course.SectionBundle, error) {
	return r.seed.SectionBundlesFor(code), nil
}

// NewEmbedder builds an embedder with the given dimensionality.
// dims <= 0 defaults to 64.
func NewEmbedder(dims int) *Embedder {
	if dims <= 0 {
		dims = 64
	}
	return &Embedder{dims: dims}
}

// Embed implements the embedding contract deterministically: the vector is a
// bag of hashed word features, so overlapping vocabulary yields similar
// vectors.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(word))
		idx := int(binary.BigEndian.Uint32(sum[:4])) % e.dims
		if idx < 0 {
			idx += e.dims
		}
		vec[idx] += 1
	}
	return vec, nil
}

// VectorIndex builds the deterministic in-process index from the seed using
// the same embedder, so searches hit courses sharing the query vocabulary.
func VectorIndex(embedder *Embedder) (*vector.MockIndex, error) {
	seed, err := LoadSeed()
	if err != nil {
		return nil, err
	}
	docs := make([]vector.MockDoc, 0, len(seed.Courses))
	for _, c := range seed.Courses {
		vec, _ := embedder.Embed(context.Background(), c.Code+" "+c.Title+" "+c.Description)
		docs = append(docs, vector.MockDoc{
			Code:        c.Code,
			Title:       c.Title,
			Description: c.Description,
			Vector:      vec,
		})
	}
	return vector.NewMock(docs), nil
}

// NewBackend builds a scripted backend with the given name.
func NewBackend(name string) *Backend {
	return &Backend{name: name}
}

// Name implements llm.Backend.
func (b *Backend) Name() string { return b.name }

// Stream implements llm.Backend. The reply is tokenized on spaces so the
// router and channel see a realistic multi-token stream.
func (b *Backend) Stream(_ context.Context, prompt string, _ int) (llm.TokenStream, error) {
	reply := scriptedReply(prompt)
	words := strings.SplitAfter(reply, " ")
	return &scriptStream{tokens: words}, nil
}

// Complete implements llm.Backend.
func (b *Backend) Complete(_ context.Context, prompt string, _ int, jsonMode bool) (string, error) {
	if jsonMode {
		return envelopeFor(course.ExtractMentions(prompt, 3)), nil
	}
	return scriptedReply(prompt), nil
}

func (s *scriptStream) Next() bool {
	if s.pos >= len(s.tokens) {
		return false
	}
	s.pos++
	return true
}

func (s *scriptStream) Token() string { return s.tokens[s.pos-1] }
func (s *scriptStream) Err() error    { return nil }
func (s *scriptStream) Close() error  { return nil }

// scriptedReply builds a deterministic advisory answer mentioning the courses
// found in the prompt and ends with the JSON envelope.
func scriptedReply(prompt string) string {
	codes := course.ExtractMentions(prompt, 3)
	if len(codes) == 0 {
		codes = []course.Code{"CS 1110"}
	}
	var b strings.Builder
	b.WriteString("Based on your progress, ")
	for i, c := range codes {
		if i > 0 {
			b.WriteString(" and ")
		}
		fmt.Fprintf(&b, "%s", c)
	}
	b.WriteString(" would fit well next term. ")
	b.WriteString(envelopeFor(codes))
	return b.String()
}

func envelopeFor(codes []course.Code) string {
	if len(codes) == 0 {
		codes = []course.Code{"CS 1110"}
	}
	seed, _ := LoadSeed()
	var recs []string
	for i, c := range codes {
		title := string(c)
		if seed != nil {
			if sc := seed.CourseByCode(string(c)); sc != nil {
				title = sc.Title
			}
		}
		recs = append(recs, fmt.Sprintf(
			`{"course_code":%q,"title":%q,"rationale":"Fits your current plan.","priority":%d,"next_action":"add_to_plan"}`,
			c, title, i+1))
	}
	return fmt.Sprintf(
		`{"recommendations":[%s],"constraints":[],"next_actions":[{"type":"check_prereqs"}],"provenance":["mock"]}`,
		strings.Join(recs, ","))
}
