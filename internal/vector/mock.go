package vector

import (
	"context"
	"math"
	"sort"
)

type (
	// MockDoc seeds one course in the in-process index.
	MockDoc struct {
		Code        string
		Title       string
		Description string
		Vector      []float32
	}

	// MockIndex is a deterministic in-process index for demo mode and tests.
	MockIndex struct {
		docs []MockDoc
	}
)

// NewMock builds an index over the seed documents.
func NewMock(docs []MockDoc) *MockIndex {
	return &MockIndex{docs: docs}
}

// Search implements Index with exact cosine similarity over the seed set.
func (m *MockIndex) Search(_ context.Context, vector []float32, topK int, threshold float64) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	hits := make([]Hit, 0, len(m.docs))
	for _, d := range m.docs {
		sim := cosine(vector, d.Vector)
		if sim < threshold {
			continue
		}
		hits = append(hits, Hit{Code: d.Code, Title: d.Title, Description: d.Description, Similarity: sim})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Code < hits[j].Code
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Ping implements Index.
func (m *MockIndex) Ping(context.Context) error { return nil }

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
